package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/unisoflta/chatbot-back/internal/domain"
)

func TestCreateChat(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/chats", "u1", CreateChatRequest{Title: "  Trip  "}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	got := decode[domain.Chat](t, w)
	if got.UserID != "u1" || got.Title != "Trip" || got.Status != domain.ChatActive {
		t.Fatalf("chat = %+v", got)
	}

	// Empty body is accepted and yields the placeholder title.
	w = f.do(http.MethodPost, "/chats", "u1", nil, nil)
	if w.Code != http.StatusCreated || decode[domain.Chat](t, w).Title == "" {
		t.Fatalf("empty body: %d %s", w.Code, w.Body.String())
	}

	wantError(t, f.do(http.MethodPost, "/chats", "", nil, nil), http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestListChats_PaginationStatusAndETag(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.newChat(t, "u1", "")
	}
	closed := f.newChat(t, "u1", "old")
	f.newChat(t, "u2", "")
	if w := f.do(http.MethodPost, "/chats/"+closed.ID+"/close", "u1", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("close: %d", w.Code)
	}

	w := f.do(http.MethodGet, "/chats?page=1&page_size=2", "u1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	page := decode[ListChatsResponse](t, w)
	if len(page.Chats) != 2 || page.Pagination.Total != 4 || page.Pagination.TotalPages != 2 || !page.Pagination.HasNext {
		t.Fatalf("page = %+v", page.Pagination)
	}

	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}
	if w := f.do(http.MethodGet, "/chats?page=1&page_size=2", "u1", nil, map[string]string{"If-None-Match": etag}); w.Code != http.StatusNotModified {
		t.Fatalf("conditional GET = %d", w.Code)
	}

	w = f.do(http.MethodGet, "/chats?status=closed", "u1", nil, nil)
	if got := decode[ListChatsResponse](t, w); len(got.Chats) != 1 || got.Chats[0].ID != closed.ID {
		t.Fatalf("closed filter = %+v", got.Chats)
	}
	wantError(t, f.do(http.MethodGet, "/chats?status=archived", "u1", nil, nil), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestGetChat_OwnershipAndValidation(t *testing.T) {
	f := newFixture(t)
	c := f.newChat(t, "u1", "mine")

	if w := f.do(http.MethodGet, "/chats/"+c.ID, "u1", nil, nil); w.Code != http.StatusOK || decode[domain.Chat](t, w).ID != c.ID {
		t.Fatalf("get own chat: %d", w.Code)
	}
	wantError(t, f.do(http.MethodGet, "/chats/"+c.ID, "u2", nil, nil), http.StatusNotFound, ErrCodeNotFound)
	wantError(t, f.do(http.MethodGet, "/chats/not-a-uuid", "u1", nil, nil), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestUpdateChatTitle(t *testing.T) {
	f := newFixture(t)
	c := f.newChat(t, "u1", "")

	if w := f.do(http.MethodPut, "/chats/"+c.ID+"/title", "u1", UpdateChatTitleRequest{Title: "Renamed"}, nil); w.Code != http.StatusNoContent {
		t.Fatalf("rename: %d %s", w.Code, w.Body.String())
	}
	if got, _ := f.chats.Get(context.Background(), "u1", c.ID); got.Title != "Renamed" {
		t.Fatalf("title = %q", got.Title)
	}

	wantError(t, f.do(http.MethodPut, "/chats/"+c.ID+"/title", "u1", UpdateChatTitleRequest{Title: "   "}, nil), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, f.do(http.MethodPut, "/chats/"+uuid.NewString()+"/title", "u1", UpdateChatTitleRequest{Title: "x"}, nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestCloseAndDeleteChat(t *testing.T) {
	f := newFixture(t)
	c := f.newChat(t, "u1", "")

	w := f.do(http.MethodPost, "/chats/"+c.ID+"/close", "u1", nil, nil)
	if w.Code != http.StatusOK || decode[domain.Chat](t, w).Status != domain.ChatClosed {
		t.Fatalf("close: %d %s", w.Code, w.Body.String())
	}

	wantError(t, f.do(http.MethodDelete, "/chats/"+c.ID, "u2", nil, nil), http.StatusNotFound, ErrCodeNotFound)
	if w := f.do(http.MethodDelete, "/chats/"+c.ID, "u1", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	wantError(t, f.do(http.MethodGet, "/chats/"+c.ID, "u1", nil, nil), http.StatusNotFound, ErrCodeNotFound)
}
