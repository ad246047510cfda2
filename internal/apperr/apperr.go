// Package apperr defines the error taxonomy shared by the services, the
// asynchronous job pipeline and the HTTP layer.
//
// Every error produced by a component carries a Kind. Callers branch on the
// kind with errors.Is against the exported sentinels (ErrNotFound,
// ErrUpstream, ...) or with KindOf, and handlers translate kinds into HTTP
// statuses. Wrapping preserves the inner error so that, for example, an
// upstream failure caused by a missing city still matches ErrNotFound.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and transport decisions.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindUpstream
	KindProtocol
	KindNoData
)

// String returns the lower-case kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindUpstream:
		return "upstream"
	case KindProtocol:
		return "protocol"
	case KindNoData:
		return "no_data"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is matching. They compare by kind only.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrForbidden  = &Error{Kind: KindForbidden}
	ErrUpstream   = &Error{Kind: KindUpstream}
	ErrProtocol   = &Error{Kind: KindProtocol}
	ErrNoData     = &Error{Kind: KindNoData}
)

// Error is a classified application error.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "weather.Forecast"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error of the same kind. Only the
// kind is compared, so the package sentinels match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf classifies err with a formatted message.
func Wrapf(kind Kind, op string, err error, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Validation, NotFound, ... are shorthands for New with a fixed kind.
func Validation(op, msg string) error { return New(KindValidation, op, msg) }
func NotFound(op, msg string) error   { return New(KindNotFound, op, msg) }
func Forbidden(op, msg string) error  { return New(KindForbidden, op, msg) }
func Upstream(op, msg string) error   { return New(KindUpstream, op, msg) }
func Protocol(op, msg string) error   { return New(KindProtocol, op, msg) }
func NoData(op, msg string) error     { return New(KindNoData, op, msg) }

// KindOf returns the kind of the outermost classified error in err's chain,
// or KindInternal when none is classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
