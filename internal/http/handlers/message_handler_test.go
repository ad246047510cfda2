package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/unisoflta/chatbot-back/internal/domain"
	"github.com/unisoflta/chatbot-back/internal/http/middleware"
	"github.com/unisoflta/chatbot-back/internal/repo"
)

func TestPostMessage_AcceptsAndSchedules(t *testing.T) {
	f := newFixture(t)
	c := f.newChat(t, "u1", "")

	w := f.do(http.MethodPost, "/chats/"+c.ID+"/messages", "u1", PostMessageRequest{Content: "  Hola\r\n\r\n\r\n\r\nmundo  "}, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	got := decode[PostMessageResponse](t, w)
	if got.Status != "processing" || got.UserMessage == nil {
		t.Fatalf("response = %+v", got)
	}
	if got.UserMessage.Content != "Hola\n\nmundo" || got.UserMessage.Sender != domain.SenderUser {
		t.Fatalf("stored = %+v", got.UserMessage)
	}
	if f.queue.count() != 1 {
		t.Fatalf("jobs enqueued = %d", f.queue.count())
	}
}

func TestPostMessage_Errors(t *testing.T) {
	f := newFixture(t)
	c := f.newChat(t, "u1", "")
	closed := f.newChat(t, "u1", "")
	if _, err := f.chats.Close(context.Background(), "u1", closed.ID); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		chatID string
		user   string
		body   any
		status int
		code   string
	}{
		{"no user", c.ID, "", PostMessageRequest{Content: "hi"}, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"bad chat id", "nope", "u1", PostMessageRequest{Content: "hi"}, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing content", c.ID, "u1", map[string]string{}, http.StatusBadRequest, ErrCodeBadRequest},
		{"blank content", c.ID, "u1", PostMessageRequest{Content: " \n "}, http.StatusBadRequest, ErrCodeBadRequest},
		{"too long", c.ID, "u1", PostMessageRequest{Content: strings.Repeat("é", 1001)}, http.StatusBadRequest, ErrCodeTooLong},
		{"foreign chat", c.ID, "u2", PostMessageRequest{Content: "hi"}, http.StatusNotFound, ErrCodeNotFound},
		{"unknown chat", uuid.NewString(), "u1", PostMessageRequest{Content: "hi"}, http.StatusNotFound, ErrCodeNotFound},
		{"closed chat", closed.ID, "u1", PostMessageRequest{Content: "hi"}, http.StatusConflict, ErrCodeChatClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wantError(t, f.do(http.MethodPost, "/chats/"+tc.chatID+"/messages", tc.user, tc.body, nil), tc.status, tc.code)
		})
	}
	if f.queue.count() != 0 {
		t.Fatalf("rejected sends enqueued %d jobs", f.queue.count())
	}
}

func TestPostMessage_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	c := f.newChat(t, "u1", "")
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "key-1"}

	first := f.do(http.MethodPost, "/chats/"+c.ID+"/messages", "u1", PostMessageRequest{Content: "once"}, hdr)
	second := f.do(http.MethodPost, "/chats/"+c.ID+"/messages", "u1", PostMessageRequest{Content: "once"}, hdr)
	if first.Code != http.StatusAccepted || second.Code != http.StatusAccepted {
		t.Fatalf("codes = %d, %d", first.Code, second.Code)
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatal("replay header missing")
	}
	a, b := decode[PostMessageResponse](t, first), decode[PostMessageResponse](t, second)
	if a.UserMessage.ID != b.UserMessage.ID {
		t.Fatalf("replay returned a different message: %s vs %s", a.UserMessage.ID, b.UserMessage.ID)
	}
	if f.queue.count() != 1 {
		t.Fatalf("jobs enqueued = %d, want 1", f.queue.count())
	}
}

func TestListMessages_HistoryAndETag(t *testing.T) {
	f := newFixture(t)
	c := f.newChat(t, "u1", "")
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		if _, err := repo.CreateMessage(ctx, f.db, c.ID, domain.SenderUser, text); err != nil {
			t.Fatal(err)
		}
	}

	w := f.do(http.MethodGet, "/chats/"+c.ID+"/messages?page_size=2", "u1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[ListMessagesResponse](t, w)
	if len(got.Messages) != 2 || got.Messages[0].Content != "one" || got.Pagination.Total != 3 {
		t.Fatalf("history = %+v", got)
	}

	etag := w.Header().Get("ETag")
	if w := f.do(http.MethodGet, "/chats/"+c.ID+"/messages?page_size=2", "u1", nil, map[string]string{"If-None-Match": etag}); w.Code != http.StatusNotModified {
		t.Fatalf("conditional GET = %d", w.Code)
	}

	foreign := f.do(http.MethodGet, "/chats/"+c.ID+"/messages", "u2", nil, nil)
	wantError(t, foreign, http.StatusNotFound, ErrCodeNotFound)
	if foreign.Header().Get("ETag") != "" {
		t.Fatal("ETag leaked for a foreign chat")
	}
}

func TestDeleteAndRestoreMessage(t *testing.T) {
	f := newFixture(t)
	c := f.newChat(t, "u1", "")
	m, err := repo.CreateMessage(context.Background(), f.db, c.ID, domain.SenderBot, "reply")
	if err != nil {
		t.Fatal(err)
	}

	wantError(t, f.do(http.MethodDelete, "/messages/"+m.ID, "u2", nil, nil), http.StatusNotFound, ErrCodeNotFound)
	if w := f.do(http.MethodDelete, "/messages/"+m.ID, "u1", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if got := decode[ListMessagesResponse](t, f.do(http.MethodGet, "/chats/"+c.ID+"/messages", "u1", nil, nil)); len(got.Messages) != 0 {
		t.Fatalf("deleted message still listed: %+v", got.Messages)
	}

	w := f.do(http.MethodPost, "/messages/"+m.ID+"/restore", "u1", nil, nil)
	if w.Code != http.StatusOK || decode[domain.Message](t, w).ID != m.ID {
		t.Fatalf("restore = %d %s", w.Code, w.Body.String())
	}
	wantError(t, f.do(http.MethodPost, "/messages/"+uuid.NewString()+"/restore", "u1", nil, nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestSearchMessages(t *testing.T) {
	f := newFixture(t)
	mine := f.newChat(t, "u1", "")
	theirs := f.newChat(t, "u2", "")
	ctx := context.Background()
	_, _ = repo.CreateMessage(ctx, f.db, mine.ID, domain.SenderUser, "Weather in MADRID?")
	_, _ = repo.CreateMessage(ctx, f.db, mine.ID, domain.SenderBot, "Madrid: sunny")
	_, _ = repo.CreateMessage(ctx, f.db, theirs.ID, domain.SenderUser, "madrid too")

	got := decode[ListMessagesResponse](t, f.do(http.MethodGet, "/messages/search?q=madrid", "u1", nil, nil))
	if got.Pagination.Total != 2 {
		t.Fatalf("total = %d, want 2", got.Pagination.Total)
	}
	got = decode[ListMessagesResponse](t, f.do(http.MethodGet, "/messages/search?q=madrid&sender=bot", "u1", nil, nil))
	if len(got.Messages) != 1 || got.Messages[0].Sender != domain.SenderBot {
		t.Fatalf("sender filter = %+v", got.Messages)
	}

	wantError(t, f.do(http.MethodGet, "/messages/search", "u1", nil, nil), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, f.do(http.MethodGet, "/messages/search?q=x&sender=robot", "u1", nil, nil), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestSanitizeContent(t *testing.T) {
	if got := sanitizeContent("\r\n a\r\rb \n"); got != "a\n\nb" {
		t.Fatalf("sanitize = %q", got)
	}
}
