// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (weak ETags) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/unisoflta/chatbot-back/internal/domain"
)

// ChatsStats returns the number of chats owned by userID and the greatest
// UpdatedAt among them (nil when the user has none).
func ChatsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return latest(db.WithContext(ctx).Model(&domain.Chat{}).Where("user_id = ?", userID), "updated_at")
}

// MessagesStats returns the number of live messages in chatID and the
// newest CreatedAt among them (nil when the chat is empty).
func MessagesStats(ctx context.Context, db *gorm.DB, chatID string) (count int64, maxCreatedAt *time.Time, err error) {
	return latest(db.WithContext(ctx).Model(&domain.Message{}).Where("chat_id = ?", chatID), "created_at")
}

func latest(q *gorm.DB, column string) (int64, *time.Time, error) {
	var count int64
	if err := q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Ordered single-row read (avoid MAX() -> TEXT in SQLite).
	var ts []time.Time
	if err := q.Session(&gorm.Session{}).Order(column+" DESC").Limit(1).Pluck(column, &ts).Error; err != nil {
		return 0, nil, err
	}
	if len(ts) == 0 {
		return count, nil, nil
	}
	return count, &ts[0], nil
}
