package domain

import "time"

// JobStatus is the state of an asynchronous reply job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobRetrying  JobStatus = "retrying"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further attempt will run.
func (s JobStatus) Terminal() bool { return s == JobSucceeded || s == JobFailed }

// Job is the durable record of one deferred bot-reply generation. It is
// written in the same transaction as the user message it answers
// (CorrelationID), so a crash between commit and enqueue is recovered at
// startup.
type Job struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	UserID         string    `json:"user_id"          gorm:"type:varchar(64);not null;index"`
	ChatID         string    `json:"chat_id"          gorm:"type:char(36);not null;index"`
	Message        string    `json:"message"          gorm:"type:text;not null"`
	CorrelationID  string    `json:"correlation_id"   gorm:"type:char(36);not null;uniqueIndex"`
	Status         JobStatus `json:"status"           gorm:"type:varchar(16);not null;index"`
	Attempts       int       `json:"attempts"         gorm:"not null;default:0"`
	MaxAttempts    int       `json:"max_attempts"     gorm:"not null"`
	TimeoutMillis  int64     `json:"timeout_ms"       gorm:"not null"`
	LastError      string    `json:"-"                gorm:"type:text"`
	ReplyMessageID *string   `json:"reply_message_id" gorm:"type:char(36)"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string { return "jobs" }

// Timeout returns the wall-clock budget of one attempt.
func (j *Job) Timeout() time.Duration { return time.Duration(j.TimeoutMillis) * time.Millisecond }
