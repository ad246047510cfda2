package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/unisoflta/chatbot-back/internal/domain"
	"github.com/unisoflta/chatbot-back/internal/repo"
)

var (
	// ErrQueueClosed is returned by Enqueue after Shutdown.
	ErrQueueClosed = errors.New("job queue closed")
	// ErrQueueFull is returned when the intake buffer is full. The job row
	// stays pending and is picked up by the next Recover.
	ErrQueueFull = errors.New("job queue full")
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Executor runs one job to a terminal state.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job *domain.Job) error

func (f ExecutorFunc) Execute(ctx context.Context, job *domain.Job) error { return f(ctx, job) }

// Queue is an in-process job queue backed by the jobs table.
type Queue struct {
	db      *gorm.DB
	exec    Executor
	workers int

	intake chan *domain.Job
	lanes  *chatLanes

	mu      sync.Mutex
	closed  bool
	tracked map[string]struct{} // queued or running job ids

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewQueue builds a queue. Call Start before Enqueue.
func NewQueue(db *gorm.DB, exec Executor, workers, size int) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		db:      db,
		exec:    exec,
		workers: workers,
		intake:  make(chan *domain.Job, size),
		lanes:   newChatLanes(),
		tracked: make(map[string]struct{}),
	}
}

// Start launches the worker pool. Workers stop when ctx is cancelled or
// after Shutdown has drained the intake.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			q.work(gctx)
			return nil
		})
	}
	q.group = g
	log.Info().Int("workers", q.workers).Int("buffer", cap(q.intake)).Msg("job queue started")
}

// Enqueue hands job to the pool without blocking. A job already queued or
// running is ignored.
func (q *Queue) Enqueue(job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if _, dup := q.tracked[job.ID]; dup {
		return nil
	}
	select {
	case q.intake <- job:
		q.tracked[job.ID] = struct{}{}
		queueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Recover enqueues every unfinished job of the store, oldest first, and
// returns how many were accepted. It runs at startup and periodically to
// pick up jobs that did not fit the intake.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	pending, err := repo.ListUnfinishedJobs(ctx, q.db)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range pending {
		job := pending[i]
		if q.isTracked(job.ID) {
			continue
		}
		if err := q.Enqueue(&job); err != nil {
			if errors.Is(err, ErrQueueFull) {
				log.Warn().Int("accepted", n).Int("unfinished", len(pending)).Msg("job queue full during recovery")
				return n, nil
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// Shutdown stops intake and waits for queued jobs to finish. When ctx
// expires first, running jobs are cancelled (they stay unfinished in the
// store) and ctx's error is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.intake)
	}
	q.mu.Unlock()

	if q.group == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		_ = q.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.intake:
			if !ok {
				return
			}
			if !q.lanes.acquire(job) {
				// Another worker owns the chat and will run it in order.
				continue
			}
			for j := job; j != nil; j = q.lanes.next(j.ChatID) {
				q.run(ctx, j)
			}
		}
	}
}

func (q *Queue) run(ctx context.Context, job *domain.Job) {
	defer q.untrack(job.ID)
	if err := q.exec.Execute(ctx, job); err != nil && ctx.Err() == nil {
		log.Debug().Err(err).Str("job_id", job.ID).Msg("job ended with error")
	}
}

func (q *Queue) isTracked(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tracked[id]
	return ok
}

func (q *Queue) untrack(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tracked[id]; ok {
		delete(q.tracked, id)
		queueDepth.Dec()
	}
}

// chatLanes serializes jobs per chat. The worker that acquires a chat's
// lane runs that chat's backlog in FIFO order before releasing it.
type chatLanes struct {
	mu   sync.Mutex
	busy map[string][]*domain.Job
}

func newChatLanes() *chatLanes {
	return &chatLanes{busy: make(map[string][]*domain.Job)}
}

// acquire reports whether the caller now owns job's chat. Otherwise job is
// appended to the chat's backlog.
func (l *chatLanes) acquire(job *domain.Job) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if backlog, busy := l.busy[job.ChatID]; busy {
		l.busy[job.ChatID] = append(backlog, job)
		return false
	}
	l.busy[job.ChatID] = nil
	return true
}

// next pops the chat's next job, or releases the lane and returns nil.
func (l *chatLanes) next(chatID string) *domain.Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	backlog := l.busy[chatID]
	if len(backlog) == 0 {
		delete(l.busy, chatID)
		return nil
	}
	l.busy[chatID] = backlog[1:]
	return backlog[0]
}
