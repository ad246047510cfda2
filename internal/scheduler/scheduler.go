// Package scheduler runs the periodic maintenance of the service on gocron:
// expiring idempotency keys, purging soft-deleted messages and finished
// jobs past their retention, and re-enqueueing jobs that did not fit the
// queue when they were submitted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/unisoflta/chatbot-back/internal/config"
	"github.com/unisoflta/chatbot-back/internal/repo"
)

// Recoverer re-enqueues unfinished jobs.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// Report counts what one maintenance pass did.
type Report struct {
	IdempotencyExpired int64
	MessagesPurged     int64
	JobsPurged         int64
	JobsRecovered      int
}

// Maintenance holds the cleanup tasks. Zero retentions disable the
// matching purge.
type Maintenance struct {
	DB     *gorm.DB
	Queue  Recoverer // optional
	Config config.MaintenanceConfig
	Logger zerolog.Logger

	now func() time.Time
}

// RunOnce performs a full maintenance pass. Every task runs even when an
// earlier one fails; the failures are joined.
func (m *Maintenance) RunOnce(ctx context.Context) (Report, error) {
	ctx, span := otel.Tracer("scheduler/Maintenance").Start(ctx, "Maintenance.RunOnce")
	defer span.End()

	var (
		rep  Report
		errs []error
		err  error
	)
	now := m.clock()

	if rep.IdempotencyExpired, err = repo.PurgeExpiredIdempotency(ctx, m.DB, now); err != nil {
		errs = append(errs, fmt.Errorf("purge idempotency: %w", err))
	}
	if r := m.Config.SoftDeleteRetention; r > 0 {
		if rep.MessagesPurged, err = repo.PurgeDeletedMessages(ctx, m.DB, now.Add(-r)); err != nil {
			errs = append(errs, fmt.Errorf("purge messages: %w", err))
		}
	}
	if r := m.Config.JobRetention; r > 0 {
		if rep.JobsPurged, err = repo.PurgeFinishedJobs(ctx, m.DB, now.Add(-r)); err != nil {
			errs = append(errs, fmt.Errorf("purge jobs: %w", err))
		}
	}
	if m.Queue != nil {
		if rep.JobsRecovered, err = m.Queue.Recover(ctx); err != nil {
			errs = append(errs, fmt.Errorf("recover jobs: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		return rep, err
	}
	return rep, nil
}

func (m *Maintenance) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now().UTC()
}

func (m *Maintenance) run(ctx context.Context) {
	start := time.Now()
	rep, err := m.RunOnce(ctx)
	ev := m.Logger.Info()
	if err != nil {
		ev = m.Logger.Error().Err(err)
	}
	ev.Int64("idempotency_expired", rep.IdempotencyExpired).
		Int64("messages_purged", rep.MessagesPurged).
		Int64("jobs_purged", rep.JobsPurged).
		Int("jobs_recovered", rep.JobsRecovered).
		Dur("elapsed", time.Since(start)).
		Msg("maintenance pass")
}

// Scheduler wraps the gocron scheduler running Maintenance.
type Scheduler struct {
	s      gocron.Scheduler
	cancel context.CancelFunc
}

// Start schedules m every m.Config.Interval and starts the scheduler. A
// zero interval returns a nil *Scheduler (whose Stop is a no-op). Passes
// never overlap; a pass still running when the next is due pushes it back.
func Start(ctx context.Context, m *Maintenance) (*Scheduler, error) {
	interval := m.Config.Interval
	if interval <= 0 {
		m.Logger.Info().Msg("maintenance disabled")
		return nil, nil
	}

	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(NewLogger(m.Logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { m.run(runCtx) }),
		gocron.WithName("maintenance"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule maintenance: %w", err)
	}

	s.Start()
	m.Logger.Info().Dur("interval", interval).Msg("maintenance scheduled")
	return &Scheduler{s: s, cancel: cancel}, nil
}

// Stop cancels a running pass and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	if s == nil {
		return nil
	}
	s.cancel()
	if err := s.s.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}
