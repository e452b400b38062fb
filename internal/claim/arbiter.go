package claim

import (
	"context"
	"math/rand"
	"time"

	"github.com/blockedby/videorelay/internal/logger"
	"github.com/blockedby/videorelay/internal/telegram"
)

// Candidate is an inbound message being evaluated for processing.
type Candidate struct {
	ChatID    int64
	MessageID int
	Text      string
	SenderID  int64
	Forwarded bool
	Date      time.Time
}

// Verdict is the terminal result of arbitration for one candidate.
type Verdict int

const (
	// VerdictClaimed means this instance owns the link until release.
	VerdictClaimed Verdict = iota
	// VerdictOwnOutput means the message carries our own tag (our prior output).
	VerdictOwnOutput
	// VerdictForeignClaim means another instance claimed or finished the link.
	VerdictForeignClaim
	// VerdictAlreadyProcessing means this instance already has the link in flight.
	VerdictAlreadyProcessing
)

func (v Verdict) String() string {
	switch v {
	case VerdictClaimed:
		return "claimed"
	case VerdictOwnOutput:
		return "own-output"
	case VerdictForeignClaim:
		return "foreign-claim"
	case VerdictAlreadyProcessing:
		return "already-processing"
	}
	return "unknown"
}

// MessageReader is the slice of the chat client the arbiter needs.
type MessageReader interface {
	GetMessage(ctx context.Context, chatID int64, msgID int) (*telegram.Message, error)
	MessagesAfter(ctx context.Context, chatID int64, afterID int, limit int) ([]telegram.Message, error)
}

// Config holds the arbitration window tunables. The jitter and poll window
// trade collision probability against latency; there is no value that closes
// the race entirely.
type Config struct {
	JitterMax    time.Duration
	PollInterval time.Duration
	PollWindow   time.Duration
	// SuccessorFetchLimit bounds how many recent messages each poll inspects.
	SuccessorFetchLimit int
}

// DefaultConfig returns the hardened-generation protocol values.
func DefaultConfig() Config {
	return Config{
		JitterMax:           5 * time.Second,
		PollInterval:        500 * time.Millisecond,
		PollWindow:          2 * time.Second,
		SuccessorFetchLimit: 3,
	}
}

// Arbiter decides whether this instance may claim an incoming candidate.
type Arbiter struct {
	tag    Tag
	selfID int64
	reader MessageReader
	set    *ProcessingSet
	cfg    Config
	log    *logger.Logger
	// sleep is swappable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewArbiter creates an arbiter for one instance-session.
func NewArbiter(tag Tag, selfID int64, reader MessageReader, set *ProcessingSet, cfg Config, log *logger.Logger) *Arbiter {
	if cfg.SuccessorFetchLimit <= 0 {
		cfg.SuccessorFetchLimit = 3
	}
	return &Arbiter{
		tag:    tag,
		selfID: selfID,
		reader: reader,
		set:    set,
		cfg:    cfg,
		log:    log,
		sleep:  sleepCtx,
	}
}

// Tag returns the session claim tag.
func (a *Arbiter) Tag() Tag {
	return a.tag
}

// Evaluate runs the arbitration state machine for one candidate.
//
// Terminal verdicts other than VerdictClaimed have zero side effects. On
// VerdictClaimed the link text has been added to the ProcessingSet and the
// caller owns it until Release.
func (a *Arbiter) Evaluate(ctx context.Context, cand Candidate) (Verdict, error) {
	// SelfCheck: our own prior output must never be reprocessed.
	if tag, ok := ExtractTag(cand.Text); ok {
		if tag == a.tag {
			return VerdictOwnOutput, nil
		}
		// ForeignTagCheck: another instance already finished and stamped it.
		return VerdictForeignClaim, nil
	}

	// OwnerCheck: when the local operator posted the link themselves no
	// cross-instance race on a fresh message is possible, so the delay is
	// skipped. Instances sharing one account still collide on the
	// ProcessingSet below.
	if cand.SenderID != a.selfID {
		if verdict, done, err := a.arbitrate(ctx, cand); done {
			return verdict, err
		}
	}

	// Claim: commit point.
	if !a.set.Add(cand.Text) {
		return VerdictAlreadyProcessing, nil
	}

	a.log.Info().
		Int64("chat_id", cand.ChatID).
		Int("message_id", cand.MessageID).
		Msg("claim: link claimed")
	return VerdictClaimed, nil
}

// Release removes a link text from the processing set. Safe to call more
// than once; it must run for every claimed link on any terminal outcome.
func (a *Arbiter) Release(link string) {
	a.set.Remove(link)
}

// arbitrate performs the jitter delay and the foreign-claim polling window.
// done is true when a terminal verdict was reached.
func (a *Arbiter) arbitrate(ctx context.Context, cand Candidate) (Verdict, bool, error) {
	if a.cfg.JitterMax > 0 {
		jitter := time.Duration(rand.Int63n(int64(a.cfg.JitterMax)))
		if err := a.sleep(ctx, jitter); err != nil {
			return 0, true, err
		}
	}

	deadline := time.Now().Add(a.cfg.PollWindow)
	for {
		// a concurrent claim inside this process settles it too
		if a.set.Contains(cand.Text) {
			return VerdictAlreadyProcessing, true, nil
		}

		foreign, err := a.scanSuccessors(ctx, cand)
		if err != nil {
			// polling is best-effort: a failed fetch must not block the claim
			a.log.Warn().Err(err).Int64("chat_id", cand.ChatID).Msg("claim: successor scan failed")
		} else if foreign {
			return VerdictForeignClaim, true, nil
		}

		if time.Now().After(deadline) {
			break
		}
		if err := a.sleep(ctx, a.cfg.PollInterval); err != nil {
			return 0, true, err
		}
	}

	// the original message may have been edited in place with a stamp
	updated, err := a.reader.GetMessage(ctx, cand.ChatID, cand.MessageID)
	if err == nil && updated != nil && HasForeignTag(updated.Text, a.tag) {
		return VerdictForeignClaim, true, nil
	}

	return 0, false, nil
}

// scanSuccessors looks for a foreign claim stamp in messages posted after
// the candidate, replying to it.
func (a *Arbiter) scanSuccessors(ctx context.Context, cand Candidate) (bool, error) {
	return ScanForeign(ctx, a.reader, a.tag, cand.ChatID, cand.MessageID, a.cfg.SuccessorFetchLimit)
}

// ScanForeign is the shared successor-scan used both during arbitration and
// by workers re-checking ownership right before posting a final result.
func ScanForeign(ctx context.Context, reader MessageReader, own Tag, chatID int64, msgID, limit int) (bool, error) {
	msgs, err := reader.MessagesAfter(ctx, chatID, msgID, limit)
	if err != nil {
		return false, err
	}
	for _, m := range msgs {
		if m.ReplyToID != 0 && m.ReplyToID != msgID {
			continue
		}
		if HasForeignTag(m.Text, own) {
			return true, nil
		}
	}
	return false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
