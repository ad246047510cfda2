// Package jobs runs bot-reply generation off the request path.
//
// A Job row is written in the same transaction as the user message it
// answers. The Queue feeds jobs to a fixed worker pool and guarantees that
// jobs of one chat run one at a time, in arrival order. The Processor
// executes a job with retries: every failed attempt is announced on the
// chat channel, and exhausting the attempts publishes one generic error.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/unisoflta/chatbot-back/internal/apperr"
	"github.com/unisoflta/chatbot-back/internal/domain"
	"github.com/unisoflta/chatbot-back/internal/llm"
	"github.com/unisoflta/chatbot-back/internal/notify"
	"github.com/unisoflta/chatbot-back/internal/repo"
	"github.com/unisoflta/chatbot-back/internal/utils"
)

// Texts sent to clients. Raw errors stay in the server logs.
const (
	GenericFailureText = "Sorry, we couldn't generate a response. Please try again later."
	attemptFailedText  = "We couldn't generate a response (attempt %d of %d)."
)

const (
	DefaultMaxAttempts   = 3
	DefaultTimeout       = 120 * time.Second
	DefaultHistoryWindow = 15
	DefaultBackoff       = 2 * time.Second
	MaxBackoff           = 30 * time.Second
)

// Conversation is the engine port used by the processor.
type Conversation interface {
	Converse(ctx context.Context, userText string, history []llm.Turn) (string, error)
}

// Processor executes jobs.
type Processor struct {
	DB       *gorm.DB
	Engine   Conversation
	Notifier notify.Publisher

	HistoryWindow int
	MaxReplyRunes int
	Backoff       time.Duration // first retry delay, doubled per attempt

	// Now and Sleep are replaceable clocks; zero values use real time.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Execute runs job until it succeeds or its attempts are exhausted.
//
// Attempts already recorded on the job (after a restart) count toward the
// budget. When ctx is cancelled between or during attempts the job is left
// unfinished so that it can be recovered, and ctx's error is returned.
func (p *Processor) Execute(ctx context.Context, job *domain.Job) error {
	tr := otel.Tracer("jobs/Processor")
	ctx, span := tr.Start(ctx, "Execute", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("chat.id", job.ChatID),
		attribute.String("user.id", job.UserID),
	))
	defer span.End()

	logger := log.With().
		Str("job_id", job.ID).
		Str("chat_id", job.ChatID).
		Str("user_id", job.UserID).
		Logger()
	ctx = logger.WithContext(ctx)

	if job.Status.Terminal() {
		return nil
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	start := time.Now()
	var lastErr error
	for attempt := job.Attempts + 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := repo.MarkJobRunning(ctx, p.DB, job.ID, attempt); err != nil {
			return fmt.Errorf("mark job running: %w", err)
		}
		job.Attempts, job.Status = attempt, domain.JobRunning

		reply, err := p.attempt(ctx, job)
		if err == nil {
			if err := repo.MarkJobSucceeded(ctx, p.DB, job.ID, reply.ID); err != nil {
				logger.Error().Err(err).Msg("mark job succeeded")
			}
			job.Status = domain.JobSucceeded
			p.publish(logger, job, notify.NewResponseReady(job.ChatID, reply, p.now()))
			observeJob(outcomeSucceeded, start)
			logger.Info().Int("attempt", attempt).Str("reply_id", reply.ID).Msg("job succeeded")
			return nil
		}

		// Shutdown, not a failure of the job.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		span.RecordError(err)
		logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", maxAttempts).
			Str("kind", apperr.KindOf(err).String()).Msg("job attempt failed")
		p.publish(logger, job, notify.NewErrorOccurred(job.ChatID, fmt.Sprintf(attemptFailedText, attempt, maxAttempts), p.now()))

		if attempt == maxAttempts {
			break
		}
		if err := repo.MarkJobRetrying(ctx, p.DB, job.ID, err.Error()); err != nil {
			logger.Error().Err(err).Msg("mark job retrying")
		}
		job.Status = domain.JobRetrying
		jobsTotal.WithLabelValues(outcomeRetried).Inc()

		if err := p.sleep(ctx, p.backoff(attempt)); err != nil {
			return err
		}
	}

	if lastErr == nil {
		lastErr = errors.New("attempts exhausted")
	}
	if err := repo.MarkJobFailed(ctx, p.DB, job.ID, lastErr.Error()); err != nil {
		logger.Error().Err(err).Msg("mark job failed")
	}
	job.Status = domain.JobFailed
	p.publish(logger, job, notify.NewErrorOccurred(job.ChatID, GenericFailureText, p.now()))
	observeJob(outcomeFailed, start)
	logger.Error().Err(lastErr).Int("attempts", job.Attempts).Msg("job failed terminally")
	return lastErr
}

// attempt is one independent try: history is rebuilt from the store.
func (p *Processor) attempt(ctx context.Context, job *domain.Job) (*domain.Message, error) {
	const op = "jobs.attempt"

	timeout := job.Timeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := repo.GetUser(ctx, p.DB, job.UserID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.NotFound(op, "user not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if _, err := repo.GetChat(ctx, p.DB, job.ChatID, job.UserID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.NotFound(op, "chat not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	window := p.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	recent, err := repo.RecentMessages(ctx, p.DB, job.ChatID, window, job.CorrelationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	text, err := p.Engine.Converse(ctx, job.Message, llm.TurnsFromMessages(recent))
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Upstream(op, "empty reply")
	}
	limit := p.MaxReplyRunes
	if limit <= 0 {
		limit = domain.MaxMessageRunes
	}
	text = utils.TruncateRunes(text, limit)

	var reply *domain.Message
	err = p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.CreateMessage(ctx, tx, job.ChatID, domain.SenderBot, text)
		if err != nil {
			return err
		}
		if err := repo.TouchChat(ctx, tx, job.ChatID, m.CreatedAt); err != nil {
			return err
		}
		reply = m
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.NotFound(op, "chat deleted while answering")
		}
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	return reply, nil
}

// publish never fails the job: a notification problem is only logged.
func (p *Processor) publish(logger zerolog.Logger, job *domain.Job, ev notify.Event) {
	if p.Notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("event", string(ev.Type)).Msg("notification failed")
		}
	}()
	n := p.Notifier.Publish(job.UserID, job.ChatID, ev)
	logger.Debug().Str("event", string(ev.Type)).Int("delivered", n).Msg("notification published")
}

func (p *Processor) backoff(attempt int) time.Duration {
	d := p.Backoff
	if d <= 0 {
		d = DefaultBackoff
	}
	for i := 1; i < attempt && d < MaxBackoff; i++ {
		d *= 2
	}
	if d > MaxBackoff {
		d = MaxBackoff
	}
	return d
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *Processor) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
