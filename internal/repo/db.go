// Package repo is the GORM persistence layer: users, chats, messages, the
// durable job table and idempotency keys, all on a pure-Go SQLite driver.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/unisoflta/chatbot-back/internal/domain"
)

// pragmas run on every new database handle. WAL lets the websocket readers
// and the job workers query while a reply is being written.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

const maxOpenConns = 10

// Models lists every table the service owns, parents first.
func Models() []any {
	return []any{&domain.User{}, &domain.Chat{}, &domain.Message{}, &domain.Job{}, &domain.Idempotency{}}
}

// OpenSQLite opens or creates the database at path. The parent directory
// must already exist. A nil gl keeps GORM's default logger.
func OpenSQLite(path string, gl logger.Interface) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("database dir: %w", err)
		}
	}

	cfg := &gorm.Config{}
	if gl != nil {
		cfg.Logger = gl
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxOpenConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// AutoMigrate creates or updates every table in Models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
