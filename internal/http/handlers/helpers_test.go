package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/unisoflta/chatbot-back/internal/domain"
	"github.com/unisoflta/chatbot-back/internal/http/middleware"
	"github.com/unisoflta/chatbot-back/internal/notify"
	"github.com/unisoflta/chatbot-back/internal/repo"
	"github.com/unisoflta/chatbot-back/internal/services"
)

func init() { gin.SetMode(gin.TestMode) }

// ---------- test DB + repo shim ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// testChatRepo implements services.ChatRepo with the repo package, like the router.
type testChatRepo struct{}

func (testChatRepo) EnsureUser(ctx context.Context, db *gorm.DB, userID string) error {
	return repo.EnsureUser(ctx, db, userID)
}
func (testChatRepo) CreateChat(ctx context.Context, db *gorm.DB, userID, title string) (*domain.Chat, error) {
	return repo.CreateChat(ctx, db, userID, title)
}
func (testChatRepo) GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id, userID)
}
func (testChatRepo) UpdateChatTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateChatTitle(ctx, db, id, userID, title)
}
func (testChatRepo) CloseChat(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.CloseChat(ctx, db, id, userID)
}
func (testChatRepo) DeleteChat(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.DeleteChat(ctx, db, id, userID)
}
func (testChatRepo) CountChats(ctx context.Context, db *gorm.DB, userID string, status domain.ChatStatus) (int64, error) {
	return repo.CountChats(ctx, db, userID, status)
}
func (testChatRepo) ListChatsPage(ctx context.Context, db *gorm.DB, userID string, status domain.ChatStatus, offset, limit int) ([]domain.Chat, error) {
	return repo.ListChatsPage(ctx, db, userID, status, offset, limit)
}

// recordingQueue captures enqueued jobs.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []*domain.Job
}

func (q *recordingQueue) Enqueue(j *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, j)
	return nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// ---------- fixture ----------

type fixture struct {
	db     *gorm.DB
	chats  *services.ChatService
	msgs   *services.MessageService
	queue  *recordingQueue
	hub    *notify.Hub
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newHandlerDB(t)
	f := &fixture{db: db, queue: &recordingQueue{}}
	f.chats = services.NewChatService(db, testChatRepo{})
	f.msgs = &services.MessageService{DB: db, Queue: f.queue}
	f.hub = notify.NewHub(notify.AuthorizerFunc(f.chats.AuthorizeChat), 4)

	h := New(f.chats, f.msgs, f.hub)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Identity(middleware.IdentityOptions{}))
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	mount(r, h)
	f.router = r
	return f
}

func mount(r *gin.Engine, h *Handlers) {
	r.POST("/chats", h.CreateChat)
	r.GET("/chats", h.ListChats)
	r.GET("/chats/:id", h.GetChat)
	r.PUT("/chats/:id/title", h.UpdateChatTitle)
	r.POST("/chats/:id/close", h.CloseChat)
	r.DELETE("/chats/:id", h.DeleteChat)
	r.GET("/chats/:id/messages", h.ListMessages)
	r.POST("/chats/:id/messages", h.PostMessage)
	r.DELETE("/messages/:id", h.DeleteMessage)
	r.POST("/messages/:id/restore", h.RestoreMessage)
	r.GET("/messages/search", h.SearchMessages)
	r.GET("/ws/chats/:id", h.Subscribe(Upgrader(nil)))
}

func (f *fixture) do(method, target, user string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) newChat(t *testing.T, user, title string) *domain.Chat {
	t.Helper()
	c, err := f.chats.Create(context.Background(), user, title)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return c
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func wantError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (%s)", w.Code, status, w.Body.String())
	}
	if got := decode[ErrorResponse](t, w); got.Code != code {
		t.Fatalf("code = %q, want %q", got.Code, code)
	}
}

