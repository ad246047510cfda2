package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&User{}, &Chat{}, &Message{}, &Job{}, &Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(User{}).TableName():        "users",
		(Chat{}).TableName():        "chats",
		(Message{}).TableName():     "messages",
		(Job{}).TableName():         "jobs",
		(Idempotency{}).TableName(): "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestSender_Valid(t *testing.T) {
	if !SenderUser.Valid() || !SenderBot.Valid() {
		t.Fatalf("user and bot must be valid senders")
	}
	if Sender("assistant").Valid() || Sender("").Valid() {
		t.Fatalf("unexpected valid sender")
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	for _, s := range []JobStatus{JobPending, JobRunning, JobRetrying} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobSucceeded, JobFailed} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestJob_Timeout(t *testing.T) {
	j := Job{TimeoutMillis: 120000}
	if j.Timeout() != 120*time.Second {
		t.Fatalf("Timeout() = %v", j.Timeout())
	}
}

func TestMigrations_Indexes_Constraints_AndCascade(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	if !m.HasIndex(&Chat{}, "idx_user_chats") {
		t.Fatalf("expected index idx_user_chats on chats")
	}
	if !m.HasIndex(&Message{}, "idx_chat_msgs") {
		t.Fatalf("expected index idx_chat_msgs on messages")
	}
	if !m.HasIndex(&Idempotency{}, "ux_user_chat_key") {
		t.Fatalf("expected unique index ux_user_chat_key on idempotency")
	}

	now := time.Now().UTC()
	ch := &Chat{ID: "c1", UserID: "u1", Title: "T", Status: ChatActive, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(ch).Error; err != nil {
		t.Fatalf("insert chat: %v", err)
	}

	// Sender check constraint rejects unknown senders.
	bad := &Message{ID: "mx", ChatID: "c1", Sender: "assistant", Content: "x", CreatedAt: now}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected check constraint to reject sender=assistant")
	}

	m1 := &Message{ID: "m1", ChatID: "c1", Sender: SenderUser, Content: "hello", CreatedAt: now}
	m2 := &Message{ID: "m2", ChatID: "c1", Sender: SenderBot, Content: "world", CreatedAt: now.Add(time.Second)}
	for _, msg := range []*Message{m1, m2} {
		if err := db.Create(msg).Error; err != nil {
			t.Fatalf("insert %s: %v", msg.ID, err)
		}
	}

	// CASCADE: deleting the chat removes its messages at the DB level.
	if err := db.Unscoped().Delete(&Chat{}, "id = ?", "c1").Error; err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	var cnt int64
	if err := db.Unscoped().Model(&Message{}).Where("chat_id = ?", "c1").Count(&cnt).Error; err != nil {
		t.Fatalf("count messages after chat delete: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected messages to cascade-delete when chat deleted, got count=%d", cnt)
	}
}
