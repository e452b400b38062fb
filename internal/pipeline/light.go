package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/blockedby/videorelay/internal/matcher"
	"github.com/blockedby/videorelay/internal/scheduler"
)

// RunLight executes the light path: no download, just a rewrite of the link
// onto an embed-friendly mirror host. TikTok additionally probes the link
// for video content first and rejects link-only posts.
func (p *Pipeline) RunLight(ctx context.Context, task scheduler.Task) error {
	switch matcher.Platform(task.Platform) {
	case matcher.PlatformTikTok:
		return p.lightTikTok(ctx, task)
	case matcher.PlatformTwitter, matcher.PlatformInstagram:
		return p.lightRewrite(ctx, task)
	}
	return fmt.Errorf("no light handler for platform %q", task.Platform)
}

func (p *Pipeline) lightTikTok(ctx context.Context, task scheduler.Task) error {
	edit := p.canEdit(task)

	placeholder := p.tag.Stamp("Processing TikTok...")
	noticeID := task.MessageID
	if edit {
		if err := p.msg.EditText(ctx, task.ChatID, task.MessageID, placeholder); err != nil {
			return fmt.Errorf("placeholder edit: %w", err)
		}
	} else {
		id, err := p.msg.SendReply(ctx, task.ChatID, task.MessageID, placeholder)
		if err != nil {
			return fmt.Errorf("placeholder reply: %w", err)
		}
		noticeID = id
	}

	rewritten := rewriteLight(task.Platform, task.URL)

	info, err := p.ext.Probe(ctx, task.URL, extractorsFor(task.Platform))
	if err != nil {
		return p.fail(ctx, task, noticeID, fmt.Errorf("tiktok probe: %w", err))
	}
	if !info.HasVideo {
		notice := p.tag.Stamp(fmt.Sprintf("TikTok link rejected: %s (no video content)", rewritten))
		if err := p.msg.EditText(ctx, task.ChatID, noticeID, notice); err != nil {
			p.log.Warn().Err(err).Int64("chat_id", task.ChatID).Msg("pipeline: rejection notice failed")
		}
		return fmt.Errorf("%w: no video content", scheduler.ErrRejected)
	}

	text := p.tag.Stamp(fmt.Sprintf("%s\nTikTok", rewritten))
	if err := p.msg.EditText(ctx, task.ChatID, noticeID, text); err != nil {
		return p.fail(ctx, task, noticeID, fmt.Errorf("post link: %w", err))
	}

	p.log.Info().Str("url", rewritten).Int64("chat_id", task.ChatID).Msg("pipeline: tiktok link posted")
	return nil
}

// lightRewrite posts the mirrored link directly, no probe and no placeholder.
func (p *Pipeline) lightRewrite(ctx context.Context, task scheduler.Task) error {
	rewritten := rewriteLight(task.Platform, task.URL)
	text := p.tag.Stamp(rewritten)

	var err error
	if p.canEdit(task) {
		err = p.msg.EditText(ctx, task.ChatID, task.MessageID, text)
	} else {
		_, err = p.msg.SendReply(ctx, task.ChatID, task.MessageID, text)
	}
	if err != nil {
		return fmt.Errorf("post link: %w", err)
	}

	p.log.Info().Str("url", rewritten).Int64("chat_id", task.ChatID).Msg("pipeline: link posted")
	return nil
}

// rewriteLight maps a canonical link onto its embed mirror host.
func rewriteLight(platform, url string) string {
	switch matcher.Platform(platform) {
	case matcher.PlatformTikTok:
		return strings.Replace(url, "vm.tiktok.com", "vm.vxtiktok.com", 1)
	case matcher.PlatformTwitter:
		return strings.Replace(url, "x.com", "fxtwitter.com", 1)
	case matcher.PlatformInstagram:
		return strings.Replace(url, "instagram.com", "ddinstagram.com", 1)
	}
	return url
}
