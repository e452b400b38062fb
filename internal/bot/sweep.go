package bot

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// sweepTemp periodically removes stale files from the temp directory.
// Crashed or timed-out workers can leave partial downloads behind; the
// sweeper keeps the directory from growing without bound.
func (s *Service) sweepTemp(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TempSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepTempOnce()
		}
	}
}

func (s *Service) sweepTempOnce() {
	entries, err := os.ReadDir(s.cfg.TempDir)
	if err != nil {
		s.log.Warn().Err(err).Str("dir", s.cfg.TempDir).Msg("bot: temp sweep failed")
		return
	}

	cutoff := time.Now().Add(-s.cfg.TempMaxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.cfg.TempDir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("bot: stale temp file not removed")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("bot: stale temp files swept")
	}
}
