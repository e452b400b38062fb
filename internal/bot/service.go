// Package bot is the intake service: it receives message events, filters
// them against the watched-chat and platform settings, runs claim
// arbitration and hands claimed links to the heavy scheduler or the light
// handler.
package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blockedby/videorelay/internal/claim"
	"github.com/blockedby/videorelay/internal/logger"
	"github.com/blockedby/videorelay/internal/matcher"
	"github.com/blockedby/videorelay/internal/scheduler"
	"github.com/blockedby/videorelay/internal/stats"
	"github.com/blockedby/videorelay/internal/telegram"
)

// Settings is the repository surface the intake path reads.
type Settings interface {
	IsSelected(chatID int64) (bool, error)
	PlatformFlags() (map[matcher.Platform]bool, error)
	OnlySelf() (bool, error)
}

// Arbiter decides link ownership.
type Arbiter interface {
	Evaluate(ctx context.Context, cand claim.Candidate) (claim.Verdict, error)
	Release(link string)
}

// TaskQueue is the heavy-path scheduler surface.
type TaskQueue interface {
	Enqueue(task scheduler.Task)
	Run(ctx context.Context)
}

// LightRunner executes light-path tasks inline.
type LightRunner interface {
	RunLight(ctx context.Context, task scheduler.Task) error
}

// EventSink receives lifecycle events for external UIs.
type EventSink interface {
	TaskFinished(task scheduler.Task, err error)
	ProcessingToggled(running bool)
}

// Config holds the intake tunables.
type Config struct {
	TranscodeEnabled  bool
	TempDir           string
	TempMaxAge        time.Duration
	TempSweepInterval time.Duration
}

// Service wires intake, arbitration and dispatch, and owns the processing
// toggle.
type Service struct {
	settings Settings
	arbiter  Arbiter
	queue    TaskQueue
	light    LightRunner
	ledger   *stats.Ledger
	events   EventSink
	selfID   func() int64
	cfg      Config
	log      *logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates the intake service. events may be nil.
func New(settings Settings, arbiter Arbiter, queue TaskQueue, light LightRunner,
	ledger *stats.Ledger, events EventSink, selfID func() int64, cfg Config, log *logger.Logger) *Service {
	return &Service{
		settings: settings,
		arbiter:  arbiter,
		queue:    queue,
		light:    light,
		ledger:   ledger,
		events:   events,
		selfID:   selfID,
		cfg:      cfg,
		log:      log,
	}
}

// Start turns processing on: counters reset, the scheduler loop and the
// temp sweeper launch. Idempotent while running.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	// counters describe the current run only
	s.ledger.Reset()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.queue.Run(ctx)
	}()
	if s.cfg.TempSweepInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sweepTemp(ctx)
		}()
	}
	s.mu.Unlock()

	s.log.Info().Msg("bot: processing started")
	if s.events != nil {
		s.events.ProcessingToggled(true)
	}
}

// Stop turns processing off: active tasks are cancelled and the pending
// queue is drained. Idempotent while stopped.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.log.Info().Msg("bot: processing stopped")
	if s.events != nil {
		s.events.ProcessingToggled(false)
	}
}

// Running reports whether processing is on.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// HandleMessage is the intake path for one inbound message event.
func (s *Service) HandleMessage(ctx context.Context, msg telegram.Message) {
	if !s.Running() || msg.Text == "" || !matcher.ContainsLink(msg.Text) {
		return
	}

	selected, err := s.settings.IsSelected(msg.ChatID)
	if err != nil {
		s.log.Error().Err(err).Int64("chat_id", msg.ChatID).Msg("bot: selected-chat lookup failed")
		return
	}
	if !selected {
		return
	}

	if only, err := s.settings.OnlySelf(); err != nil {
		s.log.Error().Err(err).Msg("bot: only-self lookup failed")
		return
	} else if only && msg.SenderID != s.selfID() {
		return
	}

	flags, err := s.settings.PlatformFlags()
	if err != nil {
		s.log.Error().Err(err).Msg("bot: platform flags lookup failed")
		return
	}
	match := matcher.Find(msg.Text, flags)
	if match == nil {
		return
	}

	verdict, err := s.arbiter.Evaluate(ctx, claim.Candidate{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		Text:      msg.Text,
		SenderID:  msg.SenderID,
		Forwarded: msg.Forwarded,
		Date:      msg.Date,
	})
	if err != nil {
		s.log.Warn().Err(err).Int64("chat_id", msg.ChatID).Msg("bot: arbitration aborted")
		return
	}
	if verdict != claim.VerdictClaimed {
		s.log.Debug().
			Stringer("verdict", verdict).
			Int64("chat_id", msg.ChatID).
			Str("url", match.URL).
			Msg("bot: link not claimed")
		return
	}

	// arbitration takes seconds; a toggle-off in that window must not feed
	// the stopped scheduler, where the task and its claim would survive
	// until the next start
	if !s.Running() {
		s.arbiter.Release(msg.Text)
		s.log.Info().Str("url", match.URL).Msg("bot: processing stopped during arbitration, claim released")
		return
	}

	task := scheduler.Task{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		LinkText:  msg.Text,
		Platform:  string(match.Platform),
		URL:       match.URL,
		SenderID:  msg.SenderID,
		Forwarded: msg.Forwarded,
	}

	if s.routeHeavy(match.Platform) {
		// the scheduler releases the claim when the task retires
		s.queue.Enqueue(task)
		return
	}
	s.runLight(ctx, task)
}

// routeHeavy decides the processing path. YouTube always needs the full
// download. Twitter gets it only while transcoding is on; with transcoding
// off its links are cheap enough to rewrite instead.
func (s *Service) routeHeavy(platform matcher.Platform) bool {
	switch platform {
	case matcher.PlatformYouTube:
		return true
	case matcher.PlatformTwitter:
		return s.cfg.TranscodeEnabled
	}
	return false
}

// runLight executes a light task inline and settles its claim and counters.
func (s *Service) runLight(ctx context.Context, task scheduler.Task) {
	defer s.arbiter.Release(task.LinkText)

	err := s.light.RunLight(ctx, task)
	switch {
	case err == nil:
		s.ledger.AddProcessed(task.ChatID)
	case errors.Is(err, scheduler.ErrRejected), errors.Is(err, context.Canceled):
		// rejections are user-visible but not failures
	default:
		s.ledger.AddError(task.ChatID)
		s.log.Error().Err(err).Str("url", task.URL).Msg("bot: light task failed")
	}
	if s.events != nil {
		s.events.TaskFinished(task, err)
	}
}
