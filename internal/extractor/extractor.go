// Package extractor wraps the yt-dlp binary for metadata probes and
// video downloads.
package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/blockedby/videorelay/internal/logger"
)

// Info is the subset of yt-dlp metadata the pipeline cares about.
type Info struct {
	Duration time.Duration
	Width    int
	Height   int
	HasVideo bool
	Live     bool
}

// Progress is one download progress sample.
type Progress struct {
	Percent float64
}

// Extractor shells out to yt-dlp. Extractor restriction lists keep each call
// from probing every site yt-dlp knows about.
type Extractor struct {
	path  string
	proxy string
	log   *logger.Logger
}

// New locates yt-dlp in PATH. proxy may be empty.
func New(proxy string, log *logger.Logger) (*Extractor, error) {
	path, err := exec.LookPath("yt-dlp")
	if err != nil {
		return nil, fmt.Errorf("yt-dlp not found in PATH: %w", err)
	}
	return &Extractor{path: path, proxy: proxy, log: log}, nil
}

func (e *Extractor) baseArgs(extractors []string) []string {
	args := []string{"--no-warnings"}
	if len(extractors) > 0 {
		args = append(args, "--use-extractors", strings.Join(extractors, ","))
	}
	if e.proxy != "" {
		args = append(args, "--proxy", e.proxy)
	}
	return args
}

// Probe fetches metadata without downloading anything.
func (e *Extractor) Probe(ctx context.Context, url string, extractors []string) (*Info, error) {
	args := append(e.baseArgs(extractors), "--dump-single-json", "--skip-download", url)

	cmd := exec.CommandContext(ctx, e.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp probe: %w: %s", err, tail(stderr.String()))
	}
	return parseInfo(out)
}

// Download fetches the best muxed video into dest (mp4). Progress samples
// are pushed to progress when the channel has room; a slow consumer only
// loses samples, never stalls the download. The channel is closed when the
// subprocess exits.
func (e *Extractor) Download(ctx context.Context, url, dest string, extractors []string, progress chan<- Progress) error {
	if progress != nil {
		defer close(progress)
	}

	args := append(e.baseArgs(extractors),
		"--format", "bestvideo+bestaudio/best",
		"--merge-output-format", "mp4",
		"--output", dest,
		"--newline",
		"--progress-template", "download:%(progress._percent_str)s",
		url,
	)

	cmd := exec.CommandContext(ctx, e.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("yt-dlp stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("yt-dlp start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		pct, ok := parseProgressLine(scanner.Text())
		if !ok || progress == nil {
			continue
		}
		select {
		case progress <- Progress{Percent: pct}:
		default:
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("yt-dlp download: %w: %s", err, tail(stderr.String()))
	}
	return nil
}

// parseProgressLine extracts the percentage out of a progress-template line
// of the form "  42.3%".
func parseProgressLine(line string) (float64, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasSuffix(line, "%") {
		return 0, false
	}
	pct, err := strconv.ParseFloat(strings.TrimSuffix(line, "%"), 64)
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

// parseInfo decodes the --dump-single-json output.
func parseInfo(data []byte) (*Info, error) {
	var raw struct {
		Duration float64 `json:"duration"`
		Width    int     `json:"width"`
		Height   int     `json:"height"`
		IsLive   bool    `json:"is_live"`
		Formats  []struct {
			VCodec string `json:"vcodec"`
			ACodec string `json:"acodec"`
		} `json:"formats"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}

	info := &Info{
		Duration: time.Duration(raw.Duration * float64(time.Second)),
		Width:    raw.Width,
		Height:   raw.Height,
		Live:     raw.IsLive,
	}
	for _, f := range raw.Formats {
		if f.VCodec != "" && f.VCodec != "none" && f.ACodec != "" && f.ACodec != "none" {
			info.HasVideo = true
			break
		}
	}
	if raw.IsLive {
		info.HasVideo = true
	}
	return info, nil
}

// tail returns the last line of subprocess stderr, which is where yt-dlp
// puts the actual failure reason.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}
