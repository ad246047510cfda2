package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/unisoflta/chatbot-back/internal/domain"
	"github.com/unisoflta/chatbot-back/internal/llm"
	"github.com/unisoflta/chatbot-back/internal/notify"
	"github.com/unisoflta/chatbot-back/internal/repo"
)

func newJobsDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("jobs_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// seedJob persists user, chat, one earlier exchange, the user message and
// its job, the way a send does.
func seedJob(t *testing.T, db *gorm.DB, maxAttempts int) *domain.Job {
	t.Helper()
	ctx := context.Background()
	if err := repo.EnsureUser(ctx, db, "u1"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	chat, err := repo.CreateChat(ctx, db, "u1", "New chat")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if _, err := repo.CreateMessage(ctx, db, chat.ID, domain.SenderUser, "hola"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := repo.CreateMessage(ctx, db, chat.ID, domain.SenderBot, "¡hola!"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	um, err := repo.CreateMessage(ctx, db, chat.ID, domain.SenderUser, "What's the weather in Madrid tomorrow?")
	if err != nil {
		t.Fatal(err)
	}
	job := repo.NewJob("u1", chat.ID, um.Content, um.ID, maxAttempts, 5*time.Second)
	if err := repo.CreateJob(ctx, db, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}

type engineFunc func(ctx context.Context, userText string, history []llm.Turn) (string, error)

func (f engineFunc) Converse(ctx context.Context, userText string, history []llm.Turn) (string, error) {
	return f(ctx, userText, history)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingPublisher) Publish(_, _ string, ev notify.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return 1
}

func (r *recordingPublisher) snapshot() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

func (r *recordingPublisher) errorTexts() []string {
	var out []string
	for _, ev := range r.snapshot() {
		if e, ok := ev.Data.(notify.ErrorOccurred); ok {
			out = append(out, e.Error)
		}
	}
	return out
}

// noSleep records requested backoffs without waiting.
type noSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (n *noSleep) Sleep(ctx context.Context, d time.Duration) error {
	n.mu.Lock()
	n.waits = append(n.waits, d)
	n.mu.Unlock()
	return ctx.Err()
}
