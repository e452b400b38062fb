// Package scheduler runs claimed heavy tasks through a bounded worker pool.
//
// Tasks wait in an unbounded FIFO queue and move into a fixed-size active
// set (5 slots by default). The manager loop reaps finished workers,
// enforces a hard per-task timeout, throttles dispatch after each terminal
// outcome, and pauses entirely while a platform flood-wait is in effect.
// A task that fails on a flood wait is put back at the queue head for one
// retry after the pause. No failure inside a worker may crash the loop or
// leak a processing-set entry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blockedby/videorelay/internal/claim"
	"github.com/blockedby/videorelay/internal/logger"
	"github.com/blockedby/videorelay/internal/stats"
	"github.com/blockedby/videorelay/internal/telegram"
)

// Sentinel outcomes workers can return besides success and plain failure.
var (
	// ErrRejected marks a user-visible validation rejection (duration over
	// the ceiling, no video content). Counted as neither success nor error.
	ErrRejected = errors.New("task rejected")
	// ErrOwnershipLost marks a silently dropped task: another instance
	// claimed the link first. Counted as neither success nor error.
	ErrOwnershipLost = errors.New("task ownership lost")
)

// Task is a claimed unit of heavy work.
type Task struct {
	ChatID    int64
	MessageID int
	// LinkText is the raw message text the claim was recorded under.
	LinkText  string
	Platform  string
	URL       string
	SenderID  int64
	Forwarded bool
	Enqueued  time.Time
	// Requeued is set once the task has used its single flood-wait retry.
	Requeued bool
}

// Runner executes one task to a terminal outcome.
type Runner interface {
	Run(ctx context.Context, task Task) error
}

// Releaser frees a claimed link on task completion.
type Releaser interface {
	Release(link string)
}

var _ Releaser = (*claim.Arbiter)(nil)

// OutcomeFunc observes terminal task outcomes (for event publishing).
type OutcomeFunc func(task Task, err error)

// Config holds the scheduler tunables.
type Config struct {
	MaxActive        int
	TaskTimeout      time.Duration
	DispatchCooldown time.Duration
	Tick             time.Duration
	QueueWarnDepth   int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxActive:        5,
		TaskTimeout:      300 * time.Second,
		DispatchCooldown: 3 * time.Second,
		Tick:             250 * time.Millisecond,
		QueueWarnDepth:   50,
	}
}

type worker struct {
	id     int64
	task   Task
	cancel context.CancelFunc
}

// Scheduler owns the task queue and the bounded active set.
type Scheduler struct {
	cfg      Config
	runner   Runner
	releaser Releaser
	ledger   *stats.Ledger
	outcome  OutcomeFunc
	log      *logger.Logger

	mu            sync.Mutex
	queue         []Task
	active        map[int64]*worker
	nextID        int64
	cooldownUntil time.Time
	pauseUntil    time.Time
	depthWarned   bool
	stopped       bool

	wg sync.WaitGroup
}

// New creates a scheduler. outcome may be nil.
func New(cfg Config, runner Runner, releaser Releaser, ledger *stats.Ledger, outcome OutcomeFunc, log *logger.Logger) *Scheduler {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 5
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 250 * time.Millisecond
	}
	return &Scheduler{
		cfg:      cfg,
		runner:   runner,
		releaser: releaser,
		ledger:   ledger,
		outcome:  outcome,
		log:      log,
		active:   make(map[int64]*worker),
	}
}

// Enqueue appends a task to the FIFO queue. Tasks are never dropped; the
// queue only warns when it grows past the soft depth threshold.
func (s *Scheduler) Enqueue(task Task) {
	task.Enqueued = time.Now()

	s.mu.Lock()
	s.queue = append(s.queue, task)
	depth := len(s.queue)
	warn := false
	if s.cfg.QueueWarnDepth > 0 {
		if depth > s.cfg.QueueWarnDepth && !s.depthWarned {
			s.depthWarned = true
			warn = true
		} else if depth <= s.cfg.QueueWarnDepth {
			s.depthWarned = false
		}
	}
	s.mu.Unlock()

	if warn {
		s.log.Warn().Int("depth", depth).Msg("scheduler: queue depth over soft threshold")
	}
}

// Run is the manager loop. It dispatches queued tasks into free slots until
// ctx is cancelled, then cancels every active worker, drains the queue and
// returns. Draining releases the claim of every discarded task.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// dispatch moves queued tasks into free active slots.
func (s *Scheduler) dispatch(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) > 0 &&
		len(s.active) < s.cfg.MaxActive &&
		now.After(s.cooldownUntil) &&
		now.After(s.pauseUntil) {

		task := s.queue[0]
		s.queue = s.queue[1:]

		s.nextID++
		wctx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
		w := &worker{id: s.nextID, task: task, cancel: cancel}
		s.active[w.id] = w

		s.wg.Add(1)
		go s.runWorker(wctx, w)

		s.log.Debug().
			Str("platform", task.Platform).
			Str("url", task.URL).
			Int("active", len(s.active)).
			Int("queued", len(s.queue)).
			Msg("scheduler: task dispatched")
	}
}

// runWorker executes one task and finalizes its outcome. The deferred
// finalize guarantees claim release on every path, panics included.
func (s *Scheduler) runWorker(ctx context.Context, w *worker) {
	defer s.wg.Done()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker panic: %v", r)
			}
		}()
		err = s.runner.Run(ctx, w.task)
	}()

	// a runner that swallows the deadline still counts as timed out
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	s.finalize(w, err)
}

// finalize retires a worker: frees its slot, classifies the outcome,
// updates the ledger, releases the claim and arms the dispatch cooldown.
func (s *Scheduler) finalize(w *worker, err error) {
	now := time.Now()

	s.mu.Lock()
	delete(s.active, w.id)
	s.cooldownUntil = now.Add(s.cfg.DispatchCooldown)
	if secs, ok := telegram.AsFloodWait(err); ok {
		s.pauseUntil = now.Add(time.Duration(secs) * time.Second)
	}
	s.mu.Unlock()

	w.cancel()

	task := w.task
	switch {
	case err == nil:
		s.ledger.AddProcessed(task.ChatID)
		s.log.Info().Str("url", task.URL).Int64("chat_id", task.ChatID).Msg("scheduler: task completed")
	case errors.Is(err, ErrOwnershipLost):
		s.log.Info().Str("url", task.URL).Msg("scheduler: task dropped, another instance finished first")
	case errors.Is(err, ErrRejected):
		s.log.Info().Str("url", task.URL).Msg("scheduler: task rejected")
	case errors.Is(err, context.Canceled):
		s.log.Info().Str("url", task.URL).Msg("scheduler: task cancelled")
	default:
		if _, flood := telegram.AsFloodWait(err); flood && s.requeue(task) {
			// claim stays held; the retry still owns the link
			s.log.Warn().Err(err).Str("url", task.URL).Msg("scheduler: flood wait, task requeued for one retry")
			return
		}
		s.ledger.AddError(task.ChatID)
		s.log.Error().Err(err).
			Str("url", task.URL).
			Int64("chat_id", task.ChatID).
			Int64("sender_id", task.SenderID).
			Msg("scheduler: task failed")
	}

	if s.releaser != nil {
		s.releaser.Release(task.LinkText)
	}
	if s.outcome != nil {
		s.outcome(task, err)
	}
}

// requeue puts a flood-interrupted task back at the queue head for a single
// retry. Returns false when the task already had its retry or the loop has
// stopped; those fall through to the plain-failure path.
func (s *Scheduler) requeue(task Task) bool {
	if task.Requeued {
		return false
	}
	task.Requeued = true

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.queue = append([]Task{task}, s.queue...)
	return true
}

// shutdown cancels active workers, waits for them to retire and discards the
// pending queue, releasing every queued claim.
func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.stopped = true
	for _, w := range s.active {
		w.cancel()
	}
	drained := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, task := range drained {
		if s.releaser != nil {
			s.releaser.Release(task.LinkText)
		}
	}
	if len(drained) > 0 {
		s.log.Info().Int("discarded", len(drained)).Msg("scheduler: queue drained")
	}

	s.wg.Wait()
}

// QueueDepth returns the number of tasks waiting for a slot.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ActiveCount returns the number of in-flight workers.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// PlatformCounts holds live per-platform queue statistics for the UI.
type PlatformCounts struct {
	Active int `json:"active"`
	Queued int `json:"queued"`
}

// CountsByPlatform returns active/queued counts keyed by platform tag.
func (s *Scheduler) CountsByPlatform() map[string]PlatformCounts {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]PlatformCounts)
	for _, w := range s.active {
		c := out[w.task.Platform]
		c.Active++
		out[w.task.Platform] = c
	}
	for _, t := range s.queue {
		c := out[t.Platform]
		c.Queued++
		out[t.Platform] = c
	}
	return out
}
