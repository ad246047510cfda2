package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/unisoflta/chatbot-back/internal/domain"
)

// ErrDuplicate reports a live idempotency key already bound to a message.
var ErrDuplicate = errors.New("duplicate")

// idemKey narrows q to one (user, chat, key) tuple.
func idemKey(q *gorm.DB, userID, chatID, key string) *gorm.DB {
	return q.Where("user_id = ? AND chat_id = ? AND key = ?", userID, chatID, key)
}

// GetIdempotency returns the record for the tuple if it is still live at
// now, or ErrNotFound. Sends without a chat never match.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, chatID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := idemKey(db.WithContext(ctx), userID, chatID, key).
		Where("expires_at > ?", now).
		First(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency binds key to messageID for ttl. An expired record for
// the same tuple is replaced; a live one yields ErrDuplicate. Callers run
// it inside the transaction that persists the message.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, chatID, key, messageID string, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	q := db.WithContext(ctx)
	if err := idemKey(q, userID, chatID, key).
		Where("expires_at <= ?", now).
		Delete(&domain.Idempotency{}).Error; err != nil {
		return nil, err
	}

	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChatID:    chatID,
		Key:       key,
		MessageID: messageID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := q.Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes every record expired at now.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation also matches the plain-text errors the pure-Go SQLite
// driver returns instead of gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
