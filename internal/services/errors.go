// Package services defines the business logic for chats and messages.
// This file centralizes the service-level error values. Each one carries an
// apperr kind, so handlers translate them into HTTP statuses by kind while
// callers can still compare against the exact value.
package services

import "github.com/unisoflta/chatbot-back/internal/apperr"

var (
	// ErrChatNotFound indicates that the requested chat does not exist or is
	// not owned by the current user.
	ErrChatNotFound = apperr.New(apperr.KindNotFound, "", "chat not found")

	// ErrMessageNotFound indicates that the requested message does not exist
	// or lives in a chat the current user does not own.
	ErrMessageNotFound = apperr.New(apperr.KindNotFound, "", "message not found")

	// ErrEmptyPrompt is returned when a message has no text after trimming.
	ErrEmptyPrompt = apperr.New(apperr.KindValidation, "", "message is empty")

	// ErrTooLong is returned when a message exceeds the configured rune limit.
	ErrTooLong = apperr.New(apperr.KindValidation, "", "message too long")

	// ErrChatClosed is returned when sending to a closed chat.
	ErrChatClosed = apperr.New(apperr.KindValidation, "", "chat is closed")

	// ErrMissingUser is returned when no caller identity is available.
	ErrMissingUser = apperr.New(apperr.KindValidation, "", "user id is required")

	// ErrInvalidStatus is returned for an unknown chat status filter.
	ErrInvalidStatus = apperr.New(apperr.KindValidation, "", "status must be active or closed")
)
