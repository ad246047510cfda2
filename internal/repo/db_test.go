package repo

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm/logger"

	"github.com/unisoflta/chatbot-back/internal/domain"
)

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "does-not-exist", "app.db")

	db, err := OpenSQLite(bad, nil)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}
	lower := strings.ToLower(err.Error())
	if !(errors.Is(err, fs.ErrNotExist) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestOpenSQLite_SetsPragmas_AndAutoMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")

	db, err := OpenSQLite(path, logger.Default.LogMode(logger.Silent))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	var journalMode string
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journalMode)
	}
	var fkOn int
	if err := db.Raw("PRAGMA foreign_keys;").Row().Scan(&fkOn); err != nil || fkOn != 1 {
		t.Fatalf("expected foreign_keys=1, got %d (err=%v)", fkOn, err)
	}
	if stats := sqlDB.Stats(); stats.MaxOpenConnections != maxOpenConns {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range Models() {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}

	// Status defaults to active when omitted.
	now := time.Now().UTC()
	if err := db.Create(&domain.Chat{ID: "c1", UserID: "u1", Title: "t", CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		t.Fatalf("insert chat: %v", err)
	}
	var got domain.Chat
	if err := db.First(&got, "id = ?", "c1").Error; err != nil || got.Status != domain.ChatActive {
		t.Fatalf("readback chat failed: err=%v got=%+v", err, got)
	}
}

func TestModels_ParentsFirst(t *testing.T) {
	ms := Models()
	if _, ok := ms[0].(*domain.User); !ok {
		t.Fatalf("users must migrate first, got %T", ms[0])
	}
	if _, ok := ms[len(ms)-1].(*domain.Idempotency); !ok {
		t.Fatalf("idempotency must migrate last, got %T", ms[len(ms)-1])
	}
}
