// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
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

// MessageFilter narrows message listings and searches.
type MessageFilter struct {
	ChatID string        // restrict to one chat (optional for searches)
	Sender domain.Sender // restrict to one sender (optional)
	Query  string        // case-insensitive substring of content (optional)
}

// CreateMessage inserts a new message row stamped with the current UTC time.
func CreateMessage(ctx context.Context, db *gorm.DB, chatID string, sender domain.Sender, content string) (*domain.Message, error) {
	m := &domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	return m, db.WithContext(ctx).Create(m).Error
}

// GetMessage fetches a live (not soft-deleted) message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages counts live messages of a chat.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Message{}).Where("chat_id = ?", chatID).Count(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RecentMessages returns up to n live messages of a chat, oldest first.
// With a non-empty beforeID the window ends strictly before that message
// in (created_at, id) order, so later sends never leak into the context of
// an earlier one. A beforeID that no longer exists only excludes itself.
func RecentMessages(ctx context.Context, db *gorm.DB, chatID string, n int, beforeID string) ([]domain.Message, error) {
	if n <= 0 {
		return []domain.Message{}, nil
	}
	q := db.WithContext(ctx).Where("chat_id = ?", chatID)
	if beforeID != "" {
		var anchor domain.Message
		err := db.WithContext(ctx).Unscoped().
			Where("id = ? AND chat_id = ?", beforeID, chatID).
			First(&anchor).Error
		switch {
		case err == nil:
			q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))",
				anchor.CreatedAt, anchor.CreatedAt, anchor.ID)
		case errors.Is(err, gorm.ErrRecordNotFound):
			q = q.Where("id <> ?", beforeID)
		default:
			return nil, err
		}
	}
	var out []domain.Message
	if err := q.Order("created_at DESC, id DESC").Limit(n).Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetOwnedMessage fetches a message whose chat belongs to userID. With
// withDeleted, soft-deleted messages are visible too (used by restore).
func GetOwnedMessage(ctx context.Context, db *gorm.DB, id, userID string, withDeleted bool) (*domain.Message, error) {
	q := db.WithContext(ctx)
	if withDeleted {
		q = q.Unscoped()
	}
	var m domain.Message
	err := q.
		Joins("JOIN chats ON chats.id = messages.chat_id").
		Where("messages.id = ? AND chats.user_id = ?", id, userID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SoftDeleteMessage marks a message deleted. It stays recoverable with
// RestoreMessage until purged.
func SoftDeleteMessage(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RestoreMessage clears the soft-delete marker of a message.
func RestoreMessage(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Unscoped().
		Model(&domain.Message{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		Update("deleted_at", nil)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeDeletedMessages hard-deletes messages soft-deleted before cutoff and
// returns how many rows were removed.
func PurgeDeletedMessages(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Delete(&domain.Message{})
	return res.RowsAffected, res.Error
}

// SearchMessages returns a page of live messages across userID's chats that
// match f, newest first, plus the total number of matches.
func SearchMessages(ctx context.Context, db *gorm.DB, userID string, f MessageFilter, offset, limit int) ([]domain.Message, int64, error) {
	base := func() *gorm.DB {
		q := db.WithContext(ctx).
			Model(&domain.Message{}).
			Joins("JOIN chats ON chats.id = messages.chat_id").
			Where("chats.user_id = ?", userID)
		if f.ChatID != "" {
			q = q.Where("messages.chat_id = ?", f.ChatID)
		}
		if f.Sender != "" {
			q = q.Where("messages.sender = ?", f.Sender)
		}
		if s := strings.TrimSpace(f.Query); s != "" {
			q = q.Where(`LOWER(messages.content) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(s))+"%")
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	var out []domain.Message
	err := base().
		Order("messages.created_at DESC, messages.id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
