// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file persists the lifecycle of asynchronous reply
// jobs so that the in-process queue can be rebuilt after a restart.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/unisoflta/chatbot-back/internal/domain"
)

// NewJob builds a pending job answering the user message correlationID.
// It is not persisted; pass it to CreateJob inside the send transaction.
func NewJob(userID, chatID, message, correlationID string, maxAttempts int, timeout time.Duration) *domain.Job {
	now := time.Now().UTC()
	return &domain.Job{
		ID:            uuid.NewString(),
		UserID:        userID,
		ChatID:        chatID,
		Message:       message,
		CorrelationID: correlationID,
		Status:        domain.JobPending,
		MaxAttempts:   maxAttempts,
		TimeoutMillis: timeout.Milliseconds(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// CreateJob inserts j.
func CreateJob(ctx context.Context, db *gorm.DB, j *domain.Job) error {
	return db.WithContext(ctx).Create(j).Error
}

// GetJob fetches a job by ID.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	var j domain.Job
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// MarkJobRunning records the start of a new attempt.
func MarkJobRunning(ctx context.Context, db *gorm.DB, id string, attempt int) error {
	return updateJob(ctx, db, id, map[string]any{
		"status":   domain.JobRunning,
		"attempts": attempt,
	})
}

// MarkJobRetrying records a failed, non-final attempt.
func MarkJobRetrying(ctx context.Context, db *gorm.DB, id, lastErr string) error {
	return updateJob(ctx, db, id, map[string]any{
		"status":     domain.JobRetrying,
		"last_error": lastErr,
	})
}

// MarkJobFailed records terminal failure.
func MarkJobFailed(ctx context.Context, db *gorm.DB, id, lastErr string) error {
	return updateJob(ctx, db, id, map[string]any{
		"status":     domain.JobFailed,
		"last_error": lastErr,
	})
}

// MarkJobSucceeded records the bot message that answered the job.
func MarkJobSucceeded(ctx context.Context, db *gorm.DB, id, replyMessageID string) error {
	return updateJob(ctx, db, id, map[string]any{
		"status":           domain.JobSucceeded,
		"reply_message_id": replyMessageID,
		"last_error":       "",
	})
}

// ListUnfinishedJobs returns jobs that have not reached a terminal state,
// oldest first.
func ListUnfinishedJobs(ctx context.Context, db *gorm.DB) ([]domain.Job, error) {
	var out []domain.Job
	err := db.WithContext(ctx).
		Where("status IN ?", []domain.JobStatus{domain.JobPending, domain.JobRunning, domain.JobRetrying}).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// PurgeFinishedJobs deletes terminal jobs last updated before cutoff.
func PurgeFinishedJobs(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []domain.JobStatus{domain.JobSucceeded, domain.JobFailed}, cutoff).
		Delete(&domain.Job{})
	return res.RowsAffected, res.Error
}

func updateJob(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
