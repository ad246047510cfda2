// Package services – ChatService
//
// This file implements the ChatService, which manages the lifecycle of chats:
// creation (with implicit user registration), paginated listing, lookup,
// renaming, closing and cascading deletion. Ownership is enforced on every
// call: a chat owned by someone else is reported exactly like a missing one.
//
// Service-level errors (e.g., ErrChatNotFound) are returned for predictable
// cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/unisoflta/chatbot-back/internal/apperr"
	"github.com/unisoflta/chatbot-back/internal/domain"
)

// ChatRepo defines the repository contract required by ChatService.
// Implementations are responsible for persistence of chat aggregates.
type ChatRepo interface {
	// EnsureUser registers userID if it is not known yet.
	EnsureUser(ctx context.Context, db *gorm.DB, userID string) error

	// CreateChat inserts a new active chat row for the given user.
	CreateChat(ctx context.Context, db *gorm.DB, userID, title string) (*domain.Chat, error)

	// GetChat fetches a chat by ID ensuring it belongs to the user.
	GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error)

	// UpdateChatTitle updates a chat’s title (only if it belongs to the user).
	UpdateChatTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error

	// CloseChat moves a chat to the closed state.
	CloseChat(ctx context.Context, db *gorm.DB, id, userID string) error

	// DeleteChat removes a chat and all of its messages.
	DeleteChat(ctx context.Context, db *gorm.DB, id, userID string) error

	// CountChats returns the total number of chats for pagination.
	CountChats(ctx context.Context, db *gorm.DB, userID string, status domain.ChatStatus) (int64, error)

	// ListChatsPage returns a page of chats belonging to the user.
	ListChatsPage(ctx context.Context, db *gorm.DB, userID string, status domain.ChatStatus, offset, limit int) ([]domain.Chat, error)
}

// ChatService provides chat-level operations. It enforces title rules and
// ownership constraints.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the chat repository used by this service.
	Repo ChatRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// TitleLocale is used for casing; auto-titling is handled in MessageService.
	TitleLocale language.Tag
}

// NewChatService constructs a ChatService with sane defaults for title handling.
func NewChatService(db *gorm.DB, r ChatRepo) *ChatService {
	return &ChatService{
		DB:          db,
		Repo:        r,
		TitleMaxLen: defaultTitleMaxLen,
		TitleLocale: language.Und,
	}
}

func (s *ChatService) tracer() trace.Tracer { return otel.Tracer("services/ChatService") }

// Create inserts a new chat owned by userID with the provided title.
// Titles are normalized, trimmed, clipped, and a default fallback is applied.
// The user is registered on first use.
func (s *ChatService) Create(ctx context.Context, userID, title string) (*domain.Chat, error) {
	ctx, span := s.tracer().Start(ctx, "Create", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingUser
	}
	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitleNew
	}
	if err := s.Repo.EnsureUser(ctx, s.DB, userID); err != nil {
		return nil, err
	}
	return s.Repo.CreateChat(ctx, s.DB, userID, s.clip(title))
}

// ListPage returns a page of chats for a user, most recently active first.
// It applies defaults for invalid page/pageSize and returns total count. An
// empty status lists every chat.
func (s *ChatService) ListPage(ctx context.Context, userID string, status domain.ChatStatus, page, pageSize int) ([]domain.Chat, int64, error) {
	ctx, span := s.tracer().Start(ctx, "ListPage", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	))
	defer span.End()

	if status != "" && status != domain.ChatActive && status != domain.ChatClosed {
		return nil, 0, ErrInvalidStatus
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountChats(ctx, s.DB, userID, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Chat{}, 0, nil
	}

	items, err := s.Repo.ListChatsPage(ctx, s.DB, userID, status, offset, pageSize)
	return items, total, err
}

// Get returns one chat owned by userID.
func (s *ChatService) Get(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	c, err := s.Repo.GetChat(ctx, s.DB, chatID, userID)
	if err != nil {
		return nil, mapChatErr(err)
	}
	return c, nil
}

// UpdateTitle updates a chat’s title, ensuring the chat exists and
// belongs to the given user. Falls back to "Untitled" if title is blank.
func (s *ChatService) UpdateTitle(ctx context.Context, userID, chatID, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitleUntitled
	}
	// Ensure the chat exists and belongs to the user.
	if _, err := s.Repo.GetChat(ctx, s.DB, chatID, userID); err != nil {
		return mapChatErr(err)
	}
	return mapChatErr(s.Repo.UpdateChatTitle(ctx, s.DB, chatID, userID, s.clip(title)))
}

// Close moves a chat to the closed state. Closed chats stay readable and
// deletable but accept no new messages. Closing twice is not an error.
func (s *ChatService) Close(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	ctx, span := s.tracer().Start(ctx, "Close", trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()

	if err := s.Repo.CloseChat(ctx, s.DB, chatID, userID); err != nil {
		return nil, mapChatErr(err)
	}
	return s.Get(ctx, userID, chatID)
}

// Delete removes a chat with all of its messages in one transaction.
func (s *ChatService) Delete(ctx context.Context, userID, chatID string) error {
	ctx, span := s.tracer().Start(ctx, "Delete", trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()

	return mapChatErr(s.Repo.DeleteChat(ctx, s.DB, chatID, userID))
}

// AuthorizeChat reports ErrChatNotFound unless chatID exists and belongs to
// userID. It backs real-time subscriptions.
func (s *ChatService) AuthorizeChat(ctx context.Context, userID, chatID string) error {
	_, err := s.Get(ctx, userID, chatID)
	return err
}

// clip truncates a chat title to the configured maximum rune length.
func (s *ChatService) clip(title string) string {
	return titler{Locale: s.TitleLocale, MaxLen: s.TitleMaxLen}.clip(title)
}

func mapChatErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrChatNotFound
	case apperr.KindOf(err) != apperr.KindInternal:
		return err
	default:
		return apperr.Wrap(apperr.KindInternal, "services.chat", err)
	}
}
