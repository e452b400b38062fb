package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/videorelay/internal/claim"
	"github.com/blockedby/videorelay/internal/extractor"
	"github.com/blockedby/videorelay/internal/logger"
	"github.com/blockedby/videorelay/internal/scheduler"
	"github.com/blockedby/videorelay/internal/telegram"
	"github.com/blockedby/videorelay/internal/transcoder"
)

const testSelfID int64 = 42

type editCall struct {
	chatID int64
	msgID  int
	text   string
}

type videoCall struct {
	chatID int64
	msgID  int
	text   string
	path   string
	attrs  telegram.VideoAttributes
}

// fakeMessenger records every outgoing call and serves canned errors.
type fakeMessenger struct {
	mu          sync.Mutex
	edits       []editCall
	replies     []editCall
	videos      []videoCall
	deleted     []int
	nextReplyID int
	editErr     error
	videoErrs   []error
	successors  []telegram.Message
	cooling     bool
}

func (f *fakeMessenger) SendReply(_ context.Context, chatID int64, replyTo int, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextReplyID++
	f.replies = append(f.replies, editCall{chatID, replyTo, text})
	return 1000 + f.nextReplyID, nil
}

func (f *fakeMessenger) EditText(_ context.Context, chatID int64, msgID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, editCall{chatID, msgID, text})
	return nil
}

func (f *fakeMessenger) EditVideo(_ context.Context, chatID int64, msgID int, text, path string, attrs telegram.VideoAttributes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videos = append(f.videos, videoCall{chatID, msgID, text, path, attrs})
	if len(f.videoErrs) > 0 {
		err := f.videoErrs[0]
		f.videoErrs = f.videoErrs[1:]
		return err
	}
	return nil
}

func (f *fakeMessenger) DeleteMessages(_ context.Context, _ int64, msgIDs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, msgIDs...)
	return nil
}

func (f *fakeMessenger) GetMessage(_ context.Context, chatID int64, msgID int) (*telegram.Message, error) {
	return &telegram.Message{ID: msgID, ChatID: chatID}, nil
}

func (f *fakeMessenger) MessagesAfter(_ context.Context, _ int64, _ int, _ int) ([]telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.successors, nil
}

func (f *fakeMessenger) CoolingDown() bool { return f.cooling }

func (f *fakeMessenger) lastEdit() editCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return editCall{}
	}
	return f.edits[len(f.edits)-1]
}

// fakeExtractor serves a canned probe result and fixed progress samples.
type fakeExtractor struct {
	info        *extractor.Info
	probeErr    error
	downloadErr error
	samples     []float64

	mu        sync.Mutex
	downloads int
}

func (f *fakeExtractor) Probe(_ context.Context, _ string, _ []string) (*extractor.Info, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	if f.info != nil {
		return f.info, nil
	}
	return &extractor.Info{Duration: 30 * time.Second, Width: 1080, Height: 1920, HasVideo: true}, nil
}

func (f *fakeExtractor) Download(_ context.Context, _, _ string, _ []string, progress chan<- extractor.Progress) error {
	f.mu.Lock()
	f.downloads++
	f.mu.Unlock()
	if progress != nil {
		for _, pct := range f.samples {
			progress <- extractor.Progress{Percent: pct}
		}
		close(progress)
	}
	return f.downloadErr
}

func (f *fakeExtractor) downloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads
}

type fakeEncoder struct {
	mu   sync.Mutex
	used []transcoder.Encoder
	errs map[transcoder.Encoder]error
}

func (f *fakeEncoder) Normalize(_ context.Context, _, _ string, enc transcoder.Encoder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used = append(f.used, enc)
	return f.errs[enc]
}

func fastPipelineConfig(t *testing.T) Config {
	cfg := DefaultConfig(t.TempDir())
	cfg.ProgressMinInterval = 0
	cfg.CleanupRetryInterval = time.Millisecond
	return cfg
}

func newTestPipeline(t *testing.T, msg *fakeMessenger, ext *fakeExtractor, enc *fakeEncoder, cfg Config) (*Pipeline, claim.Tag) {
	tag := claim.NewTag()
	p := New(msg, ext, enc, tag, func() int64 { return testSelfID }, cfg, logger.Get())
	return p, tag
}

func heavyTask(senderID int64) scheduler.Task {
	return scheduler.Task{
		ChatID:    10,
		MessageID: 5,
		LinkText:  "https://youtube.com/shorts/abcdefghijk",
		Platform:  "youtube",
		URL:       "https://youtube.com/shorts/abcdefghijk",
		SenderID:  senderID,
	}
}

func TestRun_RepliesForForeignSender(t *testing.T) {
	msg := &fakeMessenger{}
	ext := &fakeExtractor{}
	enc := &fakeEncoder{}
	p, tag := newTestPipeline(t, msg, ext, enc, fastPipelineConfig(t))

	require.NoError(t, p.Run(context.Background(), heavyTask(7)))

	require.Len(t, msg.replies, 1, "placeholder posted as reply")
	assert.Equal(t, 5, msg.replies[0].msgID, "reply targets the original message")
	require.Len(t, msg.videos, 1)
	assert.Equal(t, 1001, msg.videos[0].msgID, "final video replaces the reply, not the original")
	assert.Contains(t, msg.videos[0].text, "Source: https://youtube.com/shorts/abcdefghijk")
	assert.True(t, claim.HasForeignTag(msg.videos[0].text, claim.NewTag()), "final text is stamped")
	assert.False(t, claim.HasForeignTag(msg.videos[0].text, tag), "stamped with our own tag")
}

func TestRun_EditsOwnMessageInPlace(t *testing.T) {
	msg := &fakeMessenger{}
	p, _ := newTestPipeline(t, msg, &fakeExtractor{}, &fakeEncoder{}, fastPipelineConfig(t))

	require.NoError(t, p.Run(context.Background(), heavyTask(testSelfID)))

	assert.Empty(t, msg.replies, "own message is edited, not replied to")
	require.Len(t, msg.videos, 1)
	assert.Equal(t, 5, msg.videos[0].msgID)
}

func TestRun_ForwardedOwnMessageGetsReply(t *testing.T) {
	msg := &fakeMessenger{}
	p, _ := newTestPipeline(t, msg, &fakeExtractor{}, &fakeEncoder{}, fastPipelineConfig(t))

	task := heavyTask(testSelfID)
	task.Forwarded = true
	require.NoError(t, p.Run(context.Background(), task))

	assert.Len(t, msg.replies, 1, "forwarded messages are never edited in place")
}

func TestRun_DurationOverCapIsRejected(t *testing.T) {
	msg := &fakeMessenger{}
	ext := &fakeExtractor{info: &extractor.Info{Duration: 200 * time.Second, HasVideo: true}}
	p, _ := newTestPipeline(t, msg, ext, &fakeEncoder{}, fastPipelineConfig(t))

	err := p.Run(context.Background(), heavyTask(7))
	assert.ErrorIs(t, err, scheduler.ErrRejected)
	assert.Equal(t, 0, ext.downloadCount(), "rejected before download")
	assert.Contains(t, msg.lastEdit().text, "rejected")
	assert.Empty(t, msg.videos)
}

func TestRun_OwnershipLostBeforePost(t *testing.T) {
	foreign := claim.NewTag()
	msg := &fakeMessenger{
		successors: []telegram.Message{
			{ID: 6, ChatID: 10, ReplyToID: 5, Text: foreign.Stamp("done first")},
		},
	}
	p, _ := newTestPipeline(t, msg, &fakeExtractor{}, &fakeEncoder{}, fastPipelineConfig(t))

	err := p.Run(context.Background(), heavyTask(7))
	assert.ErrorIs(t, err, scheduler.ErrOwnershipLost)
	assert.Empty(t, msg.videos, "no duplicate post")
	assert.Equal(t, []int{1001}, msg.deleted, "stale placeholder removed")
}

func TestRun_GPUFallsBackToCPU(t *testing.T) {
	msg := &fakeMessenger{}
	enc := &fakeEncoder{errs: map[transcoder.Encoder]error{
		transcoder.EncoderGPU: errors.New("no nvenc device"),
	}}
	cfg := fastPipelineConfig(t)
	cfg.PreferGPU = true
	p, _ := newTestPipeline(t, msg, &fakeExtractor{}, enc, cfg)

	require.NoError(t, p.Run(context.Background(), heavyTask(7)))
	assert.Equal(t, []transcoder.Encoder{transcoder.EncoderGPU, transcoder.EncoderCPU}, enc.used)
	assert.Len(t, msg.videos, 1)
}

func TestRun_DownloadFailurePostsErrorNotice(t *testing.T) {
	msg := &fakeMessenger{}
	ext := &fakeExtractor{downloadErr: errors.New("extractor exploded")}
	p, _ := newTestPipeline(t, msg, ext, &fakeEncoder{}, fastPipelineConfig(t))

	err := p.Run(context.Background(), heavyTask(7))
	require.Error(t, err)
	assert.NotErrorIs(t, err, scheduler.ErrRejected)
	assert.Contains(t, msg.lastEdit().text, "Failed to process")
}

func TestRun_ProgressEditsAreThrottledByDelta(t *testing.T) {
	msg := &fakeMessenger{}
	ext := &fakeExtractor{samples: []float64{2, 4, 7, 9, 13, 50}}
	p, _ := newTestPipeline(t, msg, ext, &fakeEncoder{}, fastPipelineConfig(t))

	require.NoError(t, p.Run(context.Background(), heavyTask(testSelfID)))

	// placeholder at 0%, then only samples at least 5pp above the last
	// edited value: 7, 13, 50
	var progressEdits int
	for _, e := range msg.edits {
		if e.text != "" && e.msgID == 5 && containsBar(e.text) {
			progressEdits++
		}
	}
	assert.Equal(t, 4, progressEdits)
}

func TestRun_ProgressSkippedDuringCooldown(t *testing.T) {
	msg := &fakeMessenger{cooling: true}
	ext := &fakeExtractor{samples: []float64{25, 50, 75}}
	p, _ := newTestPipeline(t, msg, ext, &fakeEncoder{}, fastPipelineConfig(t))

	require.NoError(t, p.Run(context.Background(), heavyTask(testSelfID)))

	var progressEdits int
	for _, e := range msg.edits {
		if containsBar(e.text) {
			progressEdits++
		}
	}
	// only the initial placeholder; the final video edit still happened
	assert.Equal(t, 1, progressEdits)
	assert.Len(t, msg.videos, 1)
}

func TestPostVideo_RetriesOnceAfterFloodWait(t *testing.T) {
	msg := &fakeMessenger{videoErrs: []error{&telegram.FloodWaitError{Seconds: 0}}}
	p, _ := newTestPipeline(t, msg, &fakeExtractor{}, &fakeEncoder{}, fastPipelineConfig(t))

	require.NoError(t, p.Run(context.Background(), heavyTask(7)))
	assert.Len(t, msg.videos, 2, "final edit retried after the flood wait")
}

func TestRun_DefaultVideoAttributes(t *testing.T) {
	msg := &fakeMessenger{}
	ext := &fakeExtractor{info: &extractor.Info{Duration: 30 * time.Second, HasVideo: true}}
	p, _ := newTestPipeline(t, msg, ext, &fakeEncoder{}, fastPipelineConfig(t))

	require.NoError(t, p.Run(context.Background(), heavyTask(7)))
	require.Len(t, msg.videos, 1)
	assert.Equal(t, 480, msg.videos[0].attrs.Width)
	assert.Equal(t, 854, msg.videos[0].attrs.Height)
}

func containsBar(text string) bool {
	for _, r := range text {
		if r == '█' || r == '░' {
			return true
		}
	}
	return false
}
