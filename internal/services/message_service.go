// Package services – MessageService
//
// This file implements MessageService, the request-time entry point of the
// reply pipeline. Send validates the text, checks chat ownership and, in one
// short transaction, persists the user message, bumps the chat's activity
// timestamp, auto-titles placeholder chats and records the reply job. The
// job is handed to the queue only after commit and the call returns without
// waiting for the bot: the reply arrives later on the chat channel.
//
// The service also serves paginated history, search, and soft deletion and
// restoration of single messages.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include chat/user identifiers and pagination parameters where applicable.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/unisoflta/chatbot-back/internal/apperr"
	"github.com/unisoflta/chatbot-back/internal/domain"
	"github.com/unisoflta/chatbot-back/internal/repo"
)

// StatusProcessing is the only status a send reports: the reply is pending.
const StatusProcessing = "processing"

const defaultIdempotencyTTL = 24 * time.Hour

// Enqueuer accepts persisted jobs for asynchronous execution.
type Enqueuer interface {
	Enqueue(job *domain.Job) error
}

// SendResult acknowledges a send.
type SendResult struct {
	UserMessage *domain.Message `json:"user_message"`
	Status      string          `json:"status"`
	// Replayed is set when an idempotency key matched an earlier send.
	Replayed bool `json:"-"`
}

// MessageService coordinates message persistence and reply dispatch.
type MessageService struct {
	DB    *gorm.DB
	Queue Enqueuer

	// Optional guards
	MaxPromptRunes int

	// Job parameters
	MaxAttempts int
	JobTimeout  time.Duration

	IdempotencyTTL time.Duration

	// Title generation config
	TitleLocale language.Tag
	TitleMaxLen int
}

func (s *MessageService) tracer() trace.Tracer { return otel.Tracer("services/MessageService") }

// Send persists text as a user message of chatID and schedules the bot
// reply. With a non-empty idemKey, a repeated send returns the original
// user message and schedules nothing.
func (s *MessageService) Send(ctx context.Context, userID, chatID, text, idemKey string) (*SendResult, error) {
	ctx, span := s.tracer().Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	// Normalize & validate prompt
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyPrompt
	}
	if utf8.RuneCountInString(text) > s.maxPromptRunes() {
		return nil, ErrTooLong
	}

	idemKey = strings.TrimSpace(idemKey)
	if idemKey != "" {
		if res, ok := s.replay(ctx, userID, chatID, idemKey); ok {
			span.SetAttributes(attribute.Bool("idempotent.replay", true))
			return res, nil
		}
	}

	// Ensure the chat exists, belongs to the user and is open
	chat, err := repo.GetChat(ctx, s.DB, chatID, userID)
	if err != nil {
		return nil, mapChatErr(err)
	}
	if chat.IsClosed() {
		return nil, ErrChatClosed
	}

	var (
		userMsg *domain.Message
		job     *domain.Job
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.CreateMessage(ctx, tx, chatID, domain.SenderUser, text)
		if err != nil {
			return err
		}
		// Re-checked under the write lock: a close may have landed since
		// the read above.
		if err := repo.TouchActiveChat(ctx, tx, chatID, m.CreatedAt); err != nil {
			return err
		}

		// Auto-title if placeholder
		if isPlaceholderTitle(chat.Title) {
			if gen := s.titler().fromPrompt(text); gen != "" {
				if err := repo.UpdateChatTitle(ctx, tx, chatID, userID, gen); err != nil {
					return err
				}
			}
		}

		j := repo.NewJob(userID, chatID, text, m.ID, s.maxAttempts(), s.jobTimeout())
		if err := repo.CreateJob(ctx, tx, j); err != nil {
			return err
		}
		if idemKey != "" {
			if _, err := repo.CreateIdempotency(ctx, tx, userID, chatID, idemKey, m.ID, s.idempotencyTTL()); err != nil {
				return err
			}
		}
		userMsg, job = m, j
		return nil
	})
	if err != nil {
		// A concurrent send with the same key won the race.
		if errors.Is(err, repo.ErrDuplicate) {
			if res, ok := s.replay(ctx, userID, chatID, idemKey); ok {
				return res, nil
			}
		}
		if errors.Is(err, repo.ErrChatInactive) {
			return nil, ErrChatClosed
		}
		span.RecordError(err)
		return nil, mapChatErr(err)
	}

	if s.Queue == nil {
		log.Ctx(ctx).Warn().Str("job_id", job.ID).Msg("no job queue configured")
	} else if err := s.Queue.Enqueue(job); err != nil {
		// The job row is pending; the maintenance sweep will enqueue it.
		log.Ctx(ctx).Warn().Err(err).Str("job_id", job.ID).Msg("enqueue deferred")
	}

	return &SendResult{UserMessage: userMsg, Status: StatusProcessing}, nil
}

func (s *MessageService) replay(ctx context.Context, userID, chatID, key string) (*SendResult, bool) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, chatID, key, time.Now().UTC())
	if err != nil {
		return nil, false
	}
	m, err := repo.GetMessage(ctx, s.DB, rec.MessageID)
	if err != nil {
		return nil, false
	}
	return &SendResult{UserMessage: m, Status: StatusProcessing, Replayed: true}, true
}

// History returns paginated live messages of a chat owned by userID,
// oldest first.
func (s *MessageService) History(ctx context.Context, userID, chatID string, page, pageSize int) ([]domain.Message, int64, error) {
	ctx, span := s.tracer().Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	_, pageSize, offset := paginate(page, pageSize)

	if _, err := repo.GetChat(ctx, s.DB, chatID, userID); err != nil {
		return nil, 0, mapChatErr(err)
	}

	total, err := repo.CountMessages(ctx, s.DB, chatID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(ctx, s.DB, chatID, offset, pageSize)
	return items, total, err
}

// Search returns messages across userID's chats matching f, newest first.
func (s *MessageService) Search(ctx context.Context, userID string, f repo.MessageFilter, page, pageSize int) ([]domain.Message, int64, error) {
	ctx, span := s.tracer().Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("chat.id", f.ChatID),
		),
	)
	defer span.End()

	if f.Sender != "" && !f.Sender.Valid() {
		return nil, 0, apperr.Validation("", "sender must be user or bot")
	}
	_, pageSize, offset := paginate(page, pageSize)
	return repo.SearchMessages(ctx, s.DB, userID, f, offset, pageSize)
}

// DeleteMessage soft-deletes one message of a chat owned by userID.
func (s *MessageService) DeleteMessage(ctx context.Context, userID, messageID string) error {
	ctx, span := s.tracer().Start(ctx, "DeleteMessage", trace.WithAttributes(attribute.String("message.id", messageID)))
	defer span.End()

	if _, err := repo.GetOwnedMessage(ctx, s.DB, messageID, userID, false); err != nil {
		return mapMessageErr(err)
	}
	return mapMessageErr(repo.SoftDeleteMessage(ctx, s.DB, messageID))
}

// RestoreMessage undoes DeleteMessage and returns the restored message.
func (s *MessageService) RestoreMessage(ctx context.Context, userID, messageID string) (*domain.Message, error) {
	ctx, span := s.tracer().Start(ctx, "RestoreMessage", trace.WithAttributes(attribute.String("message.id", messageID)))
	defer span.End()

	m, err := repo.GetOwnedMessage(ctx, s.DB, messageID, userID, true)
	if err != nil {
		return nil, mapMessageErr(err)
	}
	if !m.DeletedAt.Valid {
		return m, nil
	}
	if err := repo.RestoreMessage(ctx, s.DB, messageID); err != nil {
		return nil, mapMessageErr(err)
	}
	m.DeletedAt = gorm.DeletedAt{}
	return m, nil
}

func (s *MessageService) titler() titler {
	return titler{Locale: s.TitleLocale, MaxLen: s.TitleMaxLen}
}

func (s *MessageService) maxPromptRunes() int {
	if s.MaxPromptRunes > 0 {
		return s.MaxPromptRunes
	}
	return domain.MaxMessageRunes
}

func (s *MessageService) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return 3
}

func (s *MessageService) jobTimeout() time.Duration {
	if s.JobTimeout > 0 {
		return s.JobTimeout
	}
	return 120 * time.Second
}

func (s *MessageService) idempotencyTTL() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return defaultIdempotencyTTL
}

func paginate(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return page, pageSize, (page - 1) * pageSize
}

func mapMessageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrMessageNotFound
	default:
		return apperr.Wrap(apperr.KindInternal, "services.message", err)
	}
}
