package scheduler

import (
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// zerologAdapter implements gocron.Logger on zerolog.
type zerologAdapter struct {
	l zerolog.Logger
}

// NewLogger adapts l to gocron's key/value logger interface.
func NewLogger(l zerolog.Logger) gocron.Logger {
	return &zerologAdapter{l: l.With().Str("component", "scheduler").Logger()}
}

func (a *zerologAdapter) Debug(msg string, args ...any) { emit(a.l.Debug(), msg, args) }
func (a *zerologAdapter) Info(msg string, args ...any)  { emit(a.l.Info(), msg, args) }
func (a *zerologAdapter) Warn(msg string, args ...any)  { emit(a.l.Warn(), msg, args) }
func (a *zerologAdapter) Error(msg string, args ...any) { emit(a.l.Error(), msg, args) }

// emit turns gocron's alternating key/value args into fields. A trailing
// key without value is logged under "extra".
func emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			ev = ev.Interface("extra", args[i])
			break
		}
		key := fmt.Sprint(args[i])
		if err, ok := args[i+1].(error); ok && key == "error" {
			ev = ev.Err(err)
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
