// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a chat is not found (or is not owned by the given user),
//     functions return gorm.ErrRecordNotFound (exported here as ErrNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/unisoflta/chatbot-back/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateChat inserts a new active Chat row owned by userID with the given title.
func CreateChat(ctx context.Context, db *gorm.DB, userID, title string) (*domain.Chat, error) {
	now := time.Now().UTC()
	c := &domain.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Status:    domain.ChatActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// CountChats returns the total number of chats owned by userID, optionally
// restricted to one status (empty status means all).
func CountChats(ctx context.Context, db *gorm.DB, userID string, status domain.ChatStatus) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Chat{}).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListChatsPage returns a page of userID's chats, most recently active
// first (chats without messages sort by creation time).
func ListChatsPage(ctx context.Context, db *gorm.DB, userID string, status domain.ChatStatus, offset, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.
		Order("COALESCE(last_message_at, created_at) DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetChat fetches a single chat by its ID and owner (userID). If the record
// does not exist, it returns ErrNotFound.
func GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	var c domain.Chat
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateChatTitle updates the title of a chat owned by userID.
func UpdateChatTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return updateOwnedChat(ctx, db, id, userID, map[string]any{"title": title})
}

// CloseChat moves a chat owned by userID to the closed state. Closing an
// already closed chat is a no-op.
func CloseChat(ctx context.Context, db *gorm.DB, id, userID string) error {
	return updateOwnedChat(ctx, db, id, userID, map[string]any{"status": domain.ChatClosed})
}

// TouchChat records at as the chat's last-message time.
func TouchChat(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", id).
		Update("last_message_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ErrChatInactive reports a chat that exists but no longer accepts messages.
var ErrChatInactive = errors.New("chat is not active")

// TouchActiveChat is TouchChat restricted to active chats. Run inside the
// transaction that inserts a user message, it makes a concurrent close
// either land first (ErrChatInactive, the insert rolls back) or wait for
// the commit.
func TouchActiveChat(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ? AND status = ?", id, domain.ChatActive).
		Update("last_message_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := db.WithContext(ctx).Model(&domain.Chat{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrChatInactive
}

// DeleteChat hard-deletes a chat owned by userID together with all of its
// messages (soft-deleted ones included) and its job records, in a single
// transaction. The messages FK also cascades; the explicit delete keeps the
// guarantee when foreign keys are disabled on the connection.
func DeleteChat(ctx context.Context, db *gorm.DB, id, userID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.Chat{}).Where("id = ? AND user_id = ?", id, userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		if err := tx.Unscoped().Where("chat_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", id).Delete(&domain.Job{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", id).Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.Chat{}).Error
	})
}

func updateOwnedChat(ctx context.Context, db *gorm.DB, id, userID string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
