package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unisoflta/chatbot-back/internal/apperr"
	"github.com/unisoflta/chatbot-back/internal/domain"
)

func allowAll() Authorizer {
	return AuthorizerFunc(func(context.Context, string, string) error { return nil })
}

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestHub_PublishReachesOnlyThatChannel(t *testing.T) {
	h := NewHub(allowAll(), 4)
	ctx := context.Background()

	a, err := h.Subscribe(ctx, "u1", "u1", "c1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer a.Close()
	b, _ := h.Subscribe(ctx, "u1", "u1", "c2")
	defer b.Close()

	msg := &domain.Message{ID: "m1", ChatID: "c1", Sender: domain.SenderBot, Content: "hola"}
	if n := h.Publish("u1", "c1", NewResponseReady("c1", msg, time.Now())); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}

	ev := recv(t, a)
	rr, ok := ev.Data.(ResponseReady)
	if ev.Type != EventResponseReady || !ok || rr.Message.ID != "m1" || rr.ChatID != "c1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	select {
	case ev := <-b.Events():
		t.Fatalf("other chat got %+v", ev)
	default:
	}
}

func TestHub_NoReplayForLateSubscribers(t *testing.T) {
	h := NewHub(allowAll(), 4)
	if n := h.Publish("u1", "c1", NewErrorOccurred("c1", "x", time.Now())); n != 0 {
		t.Fatalf("delivered = %d to nobody", n)
	}
	s, _ := h.Subscribe(context.Background(), "u1", "u1", "c1")
	defer s.Close()
	select {
	case ev := <-s.Events():
		t.Fatalf("late subscriber got %+v", ev)
	default:
	}
}

func TestHub_SubscribeAuthorization(t *testing.T) {
	notFound := apperr.NotFound("chats", "chat not found")
	h := NewHub(AuthorizerFunc(func(_ context.Context, userID, chatID string) error {
		if userID == "u1" && chatID == "c1" {
			return nil
		}
		return notFound
	}), 1)
	ctx := context.Background()

	if _, err := h.Subscribe(ctx, "u2", "u1", "c1"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("foreign principal: %v", err)
	}
	if _, err := h.Subscribe(ctx, "", "", "c1"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("anonymous principal: %v", err)
	}
	if _, err := h.Subscribe(ctx, "u1", "u1", "c9"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("foreign chat: %v", err)
	}
	if h.Subscribers("u1", "c9") != 0 {
		t.Fatal("refused subscription must not be registered")
	}
}

func TestHub_FullBufferDropsWithoutBlocking(t *testing.T) {
	h := NewHub(allowAll(), 1)
	s, _ := h.Subscribe(context.Background(), "u1", "u1", "c1")
	defer s.Close()

	done := make(chan struct{})
	go func() {
		h.Publish("u1", "c1", NewErrorOccurred("c1", "first", time.Now()))
		h.Publish("u1", "c1", NewErrorOccurred("c1", "second", time.Now()))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if s.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", s.Dropped())
	}
	if ev := recv(t, s); ev.Data.(ErrorOccurred).Error != "first" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestSubscription_ClosesWithContext(t *testing.T) {
	h := NewHub(allowAll(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := h.Subscribe(ctx, "u1", "u1", "c1")
	if h.Subscribers("u1", "c1") != 1 {
		t.Fatal("subscription not registered")
	}
	cancel()

	select {
	case _, ok := <-s.Events():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed on cancel")
	}
	if h.Subscribers("u1", "c1") != 0 {
		t.Fatal("subscription not removed")
	}
	s.Close() // idempotent
}

func TestChannelName(t *testing.T) {
	if got := ChannelName("u1", "c1"); got != "private-chat.u1.c1" {
		t.Fatalf("ChannelName = %q", got)
	}
}
