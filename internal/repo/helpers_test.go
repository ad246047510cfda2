package repo

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/unisoflta/chatbot-back/internal/domain"
)

// newRepoDB opens a file-backed SQLite DB under t.TempDir() with foreign
// keys on. With no models it stays empty (useful for error paths).
func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	db.Exec("PRAGMA foreign_keys=ON;")

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedChat(t *testing.T, db *gorm.DB, id, userID string, createdAt time.Time) *domain.Chat {
	t.Helper()
	c := &domain.Chat{ID: id, UserID: userID, Title: "t", Status: domain.ChatActive, CreatedAt: createdAt, UpdatedAt: createdAt}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed chat %s: %v", id, err)
	}
	return c
}

func seedMessage(t *testing.T, db *gorm.DB, id, chatID string, sender domain.Sender, content string, at time.Time) *domain.Message {
	t.Helper()
	m := &domain.Message{ID: id, ChatID: chatID, Sender: sender, Content: content, CreatedAt: at}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("seed message %s: %v", id, err)
	}
	return m
}
