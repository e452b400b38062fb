package claim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/videorelay/internal/logger"
	"github.com/blockedby/videorelay/internal/telegram"
)

// fakeReader serves canned successor messages and original-message lookups.
type fakeReader struct {
	mu         sync.Mutex
	successors []telegram.Message
	original   *telegram.Message
	afterCalls int
	getCalls   int
}

func (f *fakeReader) GetMessage(_ context.Context, chatID int64, msgID int) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.original != nil {
		return f.original, nil
	}
	return &telegram.Message{ID: msgID, ChatID: chatID}, nil
}

func (f *fakeReader) MessagesAfter(_ context.Context, _ int64, _ int, _ int) ([]telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterCalls++
	return f.successors, nil
}

// fastConfig keeps arbitration delays negligible in tests.
func fastConfig() Config {
	return Config{
		JitterMax:           time.Millisecond,
		PollInterval:        time.Millisecond,
		PollWindow:          5 * time.Millisecond,
		SuccessorFetchLimit: 3,
	}
}

func newTestArbiter(reader MessageReader, selfID int64) (*Arbiter, *ProcessingSet) {
	set := NewProcessingSet()
	a := NewArbiter(NewTag(), selfID, reader, set, fastConfig(), logger.Get())
	return a, set
}

func TestEvaluate_SelfTagDropsWithoutSideEffects(t *testing.T) {
	reader := &fakeReader{}
	a, set := newTestArbiter(reader, 1)

	cand := Candidate{ChatID: 10, MessageID: 5, SenderID: 2,
		Text: a.Tag().Stamp("https://youtube.com/shorts/abcdefghijk")}

	v, err := a.Evaluate(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, VerdictOwnOutput, v)
	assert.Equal(t, 0, set.Len(), "no claim recorded")
	assert.Equal(t, 0, reader.afterCalls, "no network traffic")
}

func TestEvaluate_ForeignTagDropsWithoutSideEffects(t *testing.T) {
	reader := &fakeReader{}
	a, set := newTestArbiter(reader, 1)

	cand := Candidate{ChatID: 10, MessageID: 5, SenderID: 2,
		Text: NewTag().Stamp("https://youtube.com/shorts/abcdefghijk")}

	v, err := a.Evaluate(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, VerdictForeignClaim, v)
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, 0, reader.afterCalls)
}

func TestEvaluate_OwnMessageSkipsArbitrationDelay(t *testing.T) {
	reader := &fakeReader{}
	a, set := newTestArbiter(reader, 42)

	cand := Candidate{ChatID: 10, MessageID: 5, SenderID: 42,
		Text: "https://youtube.com/shorts/abcdefghijk"}

	v, err := a.Evaluate(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, VerdictClaimed, v)
	assert.True(t, set.Contains(cand.Text))
	assert.Equal(t, 0, reader.afterCalls, "no polling for own messages")
}

func TestEvaluate_OwnMessageStillChecksProcessingSet(t *testing.T) {
	reader := &fakeReader{}
	a, set := newTestArbiter(reader, 42)

	link := "https://youtube.com/shorts/abcdefghijk"
	set.Add(link)

	v, err := a.Evaluate(context.Background(), Candidate{
		ChatID: 10, MessageID: 5, SenderID: 42, Text: link,
	})
	require.NoError(t, err)
	assert.Equal(t, VerdictAlreadyProcessing, v)
}

func TestEvaluate_ForeignMessageClaimsAfterQuietWindow(t *testing.T) {
	reader := &fakeReader{}
	a, set := newTestArbiter(reader, 1)

	cand := Candidate{ChatID: 10, MessageID: 5, SenderID: 2,
		Text: "https://youtube.com/shorts/abcdefghijk"}

	v, err := a.Evaluate(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, VerdictClaimed, v)
	assert.True(t, set.Contains(cand.Text))
	assert.Greater(t, reader.afterCalls, 0, "successor poll happened")
	assert.Greater(t, reader.getCalls, 0, "original message re-checked")
}

func TestEvaluate_ForeignClaimInSuccessorReply(t *testing.T) {
	foreign := NewTag()
	reader := &fakeReader{
		successors: []telegram.Message{
			{ID: 6, ChatID: 10, ReplyToID: 5, Text: foreign.Stamp("processing...")},
		},
	}
	a, set := newTestArbiter(reader, 1)

	v, err := a.Evaluate(context.Background(), Candidate{
		ChatID: 10, MessageID: 5, SenderID: 2,
		Text: "https://youtube.com/shorts/abcdefghijk",
	})
	require.NoError(t, err)
	assert.Equal(t, VerdictForeignClaim, v)
	assert.Equal(t, 0, set.Len())
}

func TestEvaluate_SuccessorReplyToOtherMessageIgnored(t *testing.T) {
	foreign := NewTag()
	reader := &fakeReader{
		successors: []telegram.Message{
			{ID: 6, ChatID: 10, ReplyToID: 99, Text: foreign.Stamp("unrelated")},
		},
	}
	a, _ := newTestArbiter(reader, 1)

	v, err := a.Evaluate(context.Background(), Candidate{
		ChatID: 10, MessageID: 5, SenderID: 2,
		Text: "https://youtube.com/shorts/abcdefghijk",
	})
	require.NoError(t, err)
	assert.Equal(t, VerdictClaimed, v)
}

func TestEvaluate_ForeignStampOnEditedOriginal(t *testing.T) {
	foreign := NewTag()
	reader := &fakeReader{
		original: &telegram.Message{ID: 5, ChatID: 10,
			Text: foreign.Stamp("https://youtube.com/shorts/abcdefghijk")},
	}
	a, set := newTestArbiter(reader, 1)

	v, err := a.Evaluate(context.Background(), Candidate{
		ChatID: 10, MessageID: 5, SenderID: 2,
		Text: "https://youtube.com/shorts/abcdefghijk",
	})
	require.NoError(t, err)
	assert.Equal(t, VerdictForeignClaim, v)
	assert.Equal(t, 0, set.Len())
}

func TestEvaluate_ContextCanceledDuringJitter(t *testing.T) {
	reader := &fakeReader{}
	set := NewProcessingSet()
	cfg := fastConfig()
	cfg.JitterMax = time.Second
	a := NewArbiter(NewTag(), 1, reader, set, cfg, logger.Get())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Evaluate(ctx, Candidate{
		ChatID: 10, MessageID: 5, SenderID: 2,
		Text: "https://youtube.com/shorts/abcdefghijk",
	})
	assert.Error(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestReleaseIsIdempotent(t *testing.T) {
	reader := &fakeReader{}
	a, set := newTestArbiter(reader, 42)

	link := "https://youtube.com/shorts/abcdefghijk"
	v, err := a.Evaluate(context.Background(), Candidate{
		ChatID: 10, MessageID: 5, SenderID: 42, Text: link,
	})
	require.NoError(t, err)
	require.Equal(t, VerdictClaimed, v)

	a.Release(link)
	a.Release(link)
	assert.Equal(t, 0, set.Len())

	// link can be claimed again after release
	v, err = a.Evaluate(context.Background(), Candidate{
		ChatID: 10, MessageID: 7, SenderID: 42, Text: link,
	})
	require.NoError(t, err)
	assert.Equal(t, VerdictClaimed, v)
}

func TestScanForeign(t *testing.T) {
	own := NewTag()
	foreign := NewTag()

	reader := &fakeReader{
		successors: []telegram.Message{
			{ID: 6, ReplyToID: 5, Text: "plain reply"},
			{ID: 7, ReplyToID: 5, Text: foreign.Stamp("got it")},
		},
	}

	found, err := ScanForeign(context.Background(), reader, own, 10, 5, 3)
	require.NoError(t, err)
	assert.True(t, found)

	// own stamp does not count as foreign
	reader.successors = []telegram.Message{
		{ID: 6, ReplyToID: 5, Text: own.Stamp("mine")},
	}
	found, err = ScanForeign(context.Background(), reader, own, 10, 5, 3)
	require.NoError(t, err)
	assert.False(t, found)
}
