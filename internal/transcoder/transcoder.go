// Package transcoder wraps ffmpeg to normalize downloaded videos for
// in-chat streaming playback.
package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/blockedby/videorelay/internal/logger"
)

// Encoder selects the h264 implementation ffmpeg uses.
type Encoder string

const (
	EncoderCPU Encoder = "libx264"
	EncoderGPU Encoder = "h264_nvenc"
)

// Transcoder shells out to ffmpeg.
type Transcoder struct {
	path string
	log  *logger.Logger
}

// New locates ffmpeg in PATH.
func New(log *logger.Logger) (*Transcoder, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return &Transcoder{path: path, log: log}, nil
}

// Normalize re-encodes src into a chat-friendly mp4 at dst: 480p wide,
// 1 Mbit/s h264 with aac audio and streaming-ready moov placement.
func (t *Transcoder) Normalize(ctx context.Context, src, dst string, enc Encoder) error {
	cmd := exec.CommandContext(ctx, t.path, normalizeArgs(src, dst, enc)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg %s: %w: %s", enc, err, stderrTail(stderr.String()))
	}
	return nil
}

func normalizeArgs(src, dst string, enc Encoder) []string {
	args := []string{"-i", src, "-c:v", string(enc)}
	// baseline profile keeps old mobile clients decoding; nvenc names its
	// profiles differently and rejects the level flag
	if enc == EncoderCPU {
		args = append(args, "-profile:v", "baseline", "-level", "3.0")
	}
	args = append(args,
		"-b:v", "1M",
		"-c:a", "aac", "-ar", "44100", "-b:a", "96k",
		"-vf", "scale=480:-2,format=yuv420p",
		"-preset", "fast",
		"-movflags", "frag_keyframe+empty_moov+faststart",
		"-y", dst,
	)
	return args
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}
