package notify

import (
	"fmt"
	"time"

	"github.com/unisoflta/chatbot-back/internal/domain"
)

// EventType names the two event shapes ever published.
type EventType string

const (
	EventResponseReady EventType = "response.ready"
	EventErrorOccurred EventType = "error.occurred"
)

// Event is the envelope delivered to subscribers and written to websockets.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data"`
}

// ResponseReady carries the persisted bot reply.
type ResponseReady struct {
	ChatID    string          `json:"chat_id"`
	Message   *domain.Message `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorOccurred carries a user-facing error text. Raw errors never go here.
type ErrorOccurred struct {
	ChatID    string    `json:"chat_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// NewResponseReady builds a response-ready event.
func NewResponseReady(chatID string, msg *domain.Message, at time.Time) Event {
	return Event{Type: EventResponseReady, Data: ResponseReady{ChatID: chatID, Message: msg, Timestamp: at.UTC()}}
}

// NewErrorOccurred builds an error event.
func NewErrorOccurred(chatID, text string, at time.Time) Event {
	return Event{Type: EventErrorOccurred, Data: ErrorOccurred{ChatID: chatID, Error: text, Timestamp: at.UTC()}}
}

// ChannelName is the private scope of a (user, chat) pair.
func ChannelName(userID, chatID string) string {
	return fmt.Sprintf("private-chat.%s.%s", userID, chatID)
}
