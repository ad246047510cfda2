// Package notify delivers job outcomes to real-time listeners.
//
// Every (user, chat) pair has a private channel. Publish fans an event out
// to the subscriptions currently attached to that channel and never blocks:
// a subscriber whose buffer is full misses the event. There is no replay
// log, so a listener that connects late must read the chat history instead.
package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/unisoflta/chatbot-back/internal/apperr"
)

// DefaultBuffer is the per-subscription event buffer.
const DefaultBuffer = 16

// Publisher is the write side used by the job pipeline.
type Publisher interface {
	Publish(userID, chatID string, ev Event) int
}

// Authorizer confirms that chatID exists and belongs to userID.
type Authorizer interface {
	AuthorizeChat(ctx context.Context, userID, chatID string) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, userID, chatID string) error

func (f AuthorizerFunc) AuthorizeChat(ctx context.Context, userID, chatID string) error {
	return f(ctx, userID, chatID)
}

// Hub keeps the subscriptions of every channel.
type Hub struct {
	auth   Authorizer
	buffer int

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub builds a hub. A nil auth allows any principal to subscribe to its
// own channels.
func NewHub(auth Authorizer, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{auth: auth, buffer: buffer, subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe attaches a listener to the (userID, chatID) channel. principal
// is the authenticated caller and must equal userID; the chat must exist
// and belong to userID. The subscription ends when ctx is done or Close is
// called.
func (h *Hub) Subscribe(ctx context.Context, principal, userID, chatID string) (*Subscription, error) {
	const op = "notify.Subscribe"
	if principal == "" || principal != userID {
		return nil, apperr.Forbidden(op, "principal may not listen on this channel")
	}
	if h.auth != nil {
		if err := h.auth.AuthorizeChat(ctx, userID, chatID); err != nil {
			return nil, err
		}
	}

	s := &Subscription{
		hub:     h,
		channel: ChannelName(userID, chatID),
		events:  make(chan Event, h.buffer),
	}

	h.mu.Lock()
	set, ok := h.subs[s.channel]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[s.channel] = set
	}
	set[s] = struct{}{}
	wsSubscribers.Inc()
	s.stop = context.AfterFunc(ctx, s.Close)
	h.mu.Unlock()

	return s, nil
}

// Publish delivers ev to the current subscribers of (userID, chatID) and
// returns how many received it.
func (h *Hub) Publish(userID, chatID string, ev Event) int {
	channel := ChannelName(userID, chatID)
	notificationsTotal.WithLabelValues(string(ev.Type)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.subs[channel] {
		select {
		case s.events <- ev:
			delivered++
		default:
			s.dropped.Add(1)
			log.Warn().Str("channel", channel).Str("event", string(ev.Type)).Msg("subscriber buffer full; event dropped")
		}
	}
	return delivered
}

// Subscribers returns the number of listeners on (userID, chatID).
func (h *Hub) Subscribers(userID, chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ChannelName(userID, chatID)])
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[s.channel]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.channel)
	}
	if s.stop != nil {
		s.stop()
	}
	close(s.events)
	wsSubscribers.Dec()
}

// Subscription is one listener on a channel.
type Subscription struct {
	hub     *Hub
	channel string
	events  chan Event
	dropped atomic.Int64
	once    sync.Once
	stop    func() bool
}

// Events yields published events until the subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.events }

// Channel returns the channel name.
func (s *Subscription) Channel() string { return s.channel }

// Dropped counts events lost to a full buffer.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close detaches the subscription and closes Events. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

var _ Publisher = (*Hub)(nil)
