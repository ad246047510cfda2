// Package domain defines the persistence models for users, chats, messages
// and processing jobs. These types are mapped with GORM and form the core
// data layer of the chatbot relay.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// MaxMessageRunes bounds the length of a stored message.
const MaxMessageRunes = 1000

// Sender identifies who authored a message. It is a closed set: only
// SenderUser and SenderBot are valid, and the DB enforces the same check.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool { return s == SenderUser || s == SenderBot }

// ChatStatus is the lifecycle state of a chat.
type ChatStatus string

const (
	ChatActive ChatStatus = "active"
	// ChatClosed is terminal for new messages; the chat stays readable and
	// deletable.
	ChatClosed ChatStatus = "closed"
)

// User is the owner of chats. Identity and credentials live in the
// external auth provider; this row only anchors ownership.
type User struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Chat represents a conversation owned by a single user.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the chat owner; indexed for efficient retrieval.
//   - Title: human-readable chat title (auto-generated from the first prompt).
//   - Status: active or closed.
//   - LastMessageAt: time of the latest persisted message, nil until the
//     first one.
type Chat struct {
	ID            string     `json:"id"              gorm:"type:char(36);primaryKey"`
	UserID        string     `json:"user_id"         gorm:"type:varchar(64);not null;index:idx_user_chats"`
	Title         string     `json:"title"           gorm:"type:varchar(255);not null;default:'New chat'"`
	Status        ChatStatus `json:"status"          gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','closed')"`
	LastMessageAt *time.Time `json:"last_message_at" gorm:"index"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// IsClosed reports whether the chat no longer accepts messages.
func (c *Chat) IsClosed() bool { return c.Status == ChatClosed }

// Message is a single utterance within a chat, authored by the user or by
// the bot. Messages can be soft-deleted in isolation and are hard-deleted
// together with their chat.
type Message struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	ChatID    string         `json:"chat_id"    gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	Sender    Sender         `json:"sender"     gorm:"type:varchar(8);not null;check:sender IN ('user','bot')"`
	Content   string         `json:"content"    gorm:"type:text;not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"index:idx_chat_msgs,priority:2"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
