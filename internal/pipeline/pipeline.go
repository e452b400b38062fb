// Package pipeline turns claimed links into reposted videos or rewritten
// embed links. The heavy path downloads and re-encodes; the light path only
// rewrites the URL to an embed-friendly mirror host.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/videorelay/internal/claim"
	"github.com/blockedby/videorelay/internal/extractor"
	"github.com/blockedby/videorelay/internal/logger"
	"github.com/blockedby/videorelay/internal/matcher"
	"github.com/blockedby/videorelay/internal/scheduler"
	"github.com/blockedby/videorelay/internal/telegram"
	"github.com/blockedby/videorelay/internal/transcoder"
)

// Messenger is the slice of the chat client the pipeline needs.
type Messenger interface {
	SendReply(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
	EditText(ctx context.Context, chatID int64, msgID int, text string) error
	EditVideo(ctx context.Context, chatID int64, msgID int, text, path string, attrs telegram.VideoAttributes) error
	DeleteMessages(ctx context.Context, chatID int64, msgIDs []int) error
	GetMessage(ctx context.Context, chatID int64, msgID int) (*telegram.Message, error)
	MessagesAfter(ctx context.Context, chatID int64, afterID int, limit int) ([]telegram.Message, error)
	CoolingDown() bool
}

var _ Messenger = (*telegram.Client)(nil)

// Downloader is the extractor surface used by the heavy path.
type Downloader interface {
	Probe(ctx context.Context, url string, extractors []string) (*extractor.Info, error)
	Download(ctx context.Context, url, dest string, extractors []string, progress chan<- extractor.Progress) error
}

// Encoder is the transcoder surface used by the heavy path.
type Encoder interface {
	Normalize(ctx context.Context, src, dst string, enc transcoder.Encoder) error
}

// Config holds the pipeline tunables.
type Config struct {
	TempDir              string
	MaxDuration          time.Duration
	ProgressMinInterval  time.Duration
	ProgressMinDeltaPct  float64
	PreferGPU            bool
	CleanupRetries       int
	CleanupRetryInterval time.Duration
	SuccessorFetchLimit  int
}

// DefaultConfig returns the production defaults.
func DefaultConfig(tempDir string) Config {
	return Config{
		TempDir:              tempDir,
		MaxDuration:          180 * time.Second,
		ProgressMinInterval:  5 * time.Second,
		ProgressMinDeltaPct:  5,
		CleanupRetries:       3,
		CleanupRetryInterval: time.Second,
		SuccessorFetchLimit:  3,
	}
}

// Pipeline executes heavy and light platform handling for one instance.
type Pipeline struct {
	msg Messenger
	ext Downloader
	enc Encoder
	tag claim.Tag
	cfg Config
	log *logger.Logger

	selfID func() int64
}

var _ scheduler.Runner = (*Pipeline)(nil)

// New creates a pipeline. selfID is resolved lazily because the account id
// is only known after authentication.
func New(msg Messenger, ext Downloader, enc Encoder, tag claim.Tag, selfID func() int64, cfg Config, log *logger.Logger) *Pipeline {
	if cfg.SuccessorFetchLimit <= 0 {
		cfg.SuccessorFetchLimit = 3
	}
	if cfg.CleanupRetries <= 0 {
		cfg.CleanupRetries = 3
	}
	return &Pipeline{
		msg:    msg,
		ext:    ext,
		enc:    enc,
		tag:    tag,
		cfg:    cfg,
		log:    log,
		selfID: selfID,
	}
}

// canEdit reports whether the original message may be edited in place: only
// our own, non-forwarded messages qualify. Everything else gets a reply.
func (p *Pipeline) canEdit(task scheduler.Task) bool {
	return task.SenderID == p.selfID() && !task.Forwarded
}

// extractorsFor restricts yt-dlp to the extractors a platform needs.
func extractorsFor(platform string) []string {
	switch matcher.Platform(platform) {
	case matcher.PlatformYouTube:
		return []string{"youtube"}
	case matcher.PlatformTwitter:
		return []string{"twitter"}
	case matcher.PlatformTikTok:
		return []string{"tiktok"}
	}
	return nil
}

// Run executes the heavy path: placeholder, duration gate, download with
// progress edits, transcode, ownership re-check, final video edit.
// Implements the scheduler worker contract; rejections return ErrRejected
// and lost claims return ErrOwnershipLost.
func (p *Pipeline) Run(ctx context.Context, task scheduler.Task) error {
	edit := p.canEdit(task)

	placeholder := p.tag.Stamp(renderProgress(task.URL, task.Platform, 0))
	progressID := task.MessageID
	if edit {
		if err := p.msg.EditText(ctx, task.ChatID, task.MessageID, placeholder); err != nil {
			return fmt.Errorf("placeholder edit: %w", err)
		}
	} else {
		id, err := p.msg.SendReply(ctx, task.ChatID, task.MessageID, placeholder)
		if err != nil {
			return fmt.Errorf("placeholder reply: %w", err)
		}
		progressID = id
	}

	info, err := p.ext.Probe(ctx, task.URL, extractorsFor(task.Platform))
	if err != nil {
		return p.fail(ctx, task, progressID, fmt.Errorf("probe: %w", err))
	}
	if p.cfg.MaxDuration > 0 && info.Duration > p.cfg.MaxDuration {
		notice := p.tag.Stamp(fmt.Sprintf("Video %s rejected: duration %ds exceeds the %ds limit",
			task.URL, int(info.Duration.Seconds()), int(p.cfg.MaxDuration.Seconds())))
		if err := p.msg.EditText(ctx, task.ChatID, progressID, notice); err != nil {
			p.log.Warn().Err(err).Int64("chat_id", task.ChatID).Msg("pipeline: rejection notice failed")
		}
		return fmt.Errorf("%w: duration %s over cap", scheduler.ErrRejected, info.Duration)
	}

	base := filepath.Join(p.cfg.TempDir, uuid.NewString())
	rawFile := base + ".mp4"
	finalFile := base + "_out.mp4"
	defer p.cleanup(rawFile, finalFile)

	if err := p.download(ctx, task, progressID, rawFile); err != nil {
		return p.fail(ctx, task, progressID, fmt.Errorf("download: %w", err))
	}
	if err := p.transcode(ctx, rawFile, finalFile); err != nil {
		return p.fail(ctx, task, progressID, fmt.Errorf("transcode: %w", err))
	}

	// another instance may have finished while we were encoding; a foreign
	// stamp below the original means our result would be a duplicate
	foreign, err := claim.ScanForeign(ctx, p.msg, p.tag, task.ChatID, task.MessageID, p.cfg.SuccessorFetchLimit)
	if err != nil {
		p.log.Warn().Err(err).Str("url", task.URL).Msg("pipeline: pre-post ownership check failed")
	} else if foreign {
		if !edit {
			if err := p.msg.DeleteMessages(ctx, task.ChatID, []int{progressID}); err != nil {
				p.log.Warn().Err(err).Msg("pipeline: stale placeholder delete failed")
			}
		}
		return scheduler.ErrOwnershipLost
	}

	attrs := telegram.VideoAttributes{
		Duration: info.Duration,
		Width:    info.Width,
		Height:   info.Height,
	}
	if attrs.Width == 0 {
		attrs.Width = 480
	}
	if attrs.Height == 0 {
		attrs.Height = 854
	}

	final := p.tag.Stamp(fmt.Sprintf("%s\nSource: %s", task.Platform, task.URL))
	if err := p.postVideo(ctx, task.ChatID, progressID, final, finalFile, attrs); err != nil {
		return p.fail(ctx, task, progressID, fmt.Errorf("post video: %w", err))
	}

	p.log.Info().
		Str("url", task.URL).
		Str("platform", task.Platform).
		Int64("chat_id", task.ChatID).
		Msg("pipeline: video posted")
	return nil
}

// download runs the extractor and feeds throttled progress edits from the
// sample channel. Edit failures stop further edits but never the download.
func (p *Pipeline) download(ctx context.Context, task scheduler.Task, progressID int, dest string) error {
	progress := make(chan extractor.Progress, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		lastPct := 0.0
		var lastAt time.Time
		editable := true
		for sample := range progress {
			if !editable ||
				sample.Percent < lastPct+p.cfg.ProgressMinDeltaPct ||
				time.Since(lastAt) < p.cfg.ProgressMinInterval {
				continue
			}
			// skip progress edits while the flood-wait cooldown is active
			if p.msg.CoolingDown() {
				continue
			}
			text := p.tag.Stamp(renderProgress(task.URL, task.Platform, sample.Percent))
			if err := p.msg.EditText(ctx, task.ChatID, progressID, text); err != nil {
				p.log.Debug().Err(err).Str("url", task.URL).Msg("pipeline: progress edit failed, stopping updates")
				editable = false
				continue
			}
			lastPct, lastAt = sample.Percent, time.Now()
		}
	}()

	err := p.ext.Download(ctx, task.URL, dest, extractorsFor(task.Platform), progress)
	<-done
	return err
}

// transcode normalizes the download, trying the GPU encoder first when
// configured and falling back to CPU once.
func (p *Pipeline) transcode(ctx context.Context, src, dst string) error {
	if p.cfg.PreferGPU {
		err := p.enc.Normalize(ctx, src, dst, transcoder.EncoderGPU)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		p.log.Warn().Err(err).Msg("pipeline: gpu encode failed, falling back to cpu")
	}
	return p.enc.Normalize(ctx, src, dst, transcoder.EncoderCPU)
}

// postVideo performs the final edit. Unlike progress edits it is attempted
// during cooldown too, and retried once after a flood wait.
func (p *Pipeline) postVideo(ctx context.Context, chatID int64, msgID int, text, path string, attrs telegram.VideoAttributes) error {
	err := p.msg.EditVideo(ctx, chatID, msgID, text, path, attrs)
	secs, flood := telegram.AsFloodWait(err)
	if !flood {
		return err
	}

	timer := time.NewTimer(time.Duration(secs) * time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return err
	}
	return p.msg.EditVideo(ctx, chatID, msgID, text, path, attrs)
}

// fail posts a best-effort error notice and passes the error through.
func (p *Pipeline) fail(ctx context.Context, task scheduler.Task, progressID int, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	notice := p.tag.Stamp(fmt.Sprintf("Failed to process %s (%s): %v", task.URL, task.Platform, err))
	if editErr := p.msg.EditText(ctx, task.ChatID, progressID, notice); editErr != nil {
		p.log.Warn().Err(editErr).Int64("chat_id", task.ChatID).Msg("pipeline: error notice failed")
	}
	return err
}

// cleanup removes temp files, retrying on transient locks (Windows keeps the
// file busy briefly after ffmpeg exits).
func (p *Pipeline) cleanup(paths ...string) {
	for _, path := range paths {
		for attempt := 0; attempt < p.cfg.CleanupRetries; attempt++ {
			err := os.Remove(path)
			if err == nil || os.IsNotExist(err) {
				break
			}
			if attempt == p.cfg.CleanupRetries-1 {
				p.log.Error().Err(err).Str("path", path).Msg("pipeline: temp file not removed")
				break
			}
			p.log.Warn().Str("path", path).Int("attempt", attempt+1).Msg("pipeline: temp file busy, retrying")
			time.Sleep(p.cfg.CleanupRetryInterval)
		}
	}
}
