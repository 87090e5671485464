package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/photos_relay/internal/logctx"
	"github.com/italolelis/photos_relay/internal/progress"
	"github.com/italolelis/photos_relay/internal/telemetry"
)

// SessionRemover aborts and removes a session.
type SessionRemover interface {
	Cleanup(ctx context.Context, sessionID string) error
}

// ReapExpiredSessions cleans every session not updated within ttl and
// returns how many were removed. A running session keeps updating, so only
// stalled or abandoned ones expire.
func ReapExpiredSessions(
	ctx context.Context,
	sessions []progress.SessionInfo,
	ttl time.Duration,
	now time.Time,
	remover SessionRemover,
) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	reaped := 0

	var errs []error

	for _, s := range sessions {
		if now.Sub(s.UpdatedAt) <= ttl {
			continue
		}

		if err := remover.Cleanup(ctx, s.ID); err != nil {
			logger.Error("failed to reap expired session", "session_id", s.ID, "err", err)

			errs = append(errs, err)

			continue
		}

		logger.Info("reaped expired session",
			"session_id", s.ID,
			"complete", s.Complete,
			"idle", now.Sub(s.UpdatedAt).Round(time.Second).String(),
		)

		reaped++
	}

	return reaped, errors.Join(errs...)
}

// DeleteOrphanedStagingDirs removes staging directories under root that
// match pattern, belong to no known session and were last modified more than
// ttl ago. They are left behind when the process stops without cleanup.
func DeleteOrphanedStagingDirs(ctx context.Context, root, pattern string, known []progress.SessionInfo, ttl time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	owned := make(map[string]struct{}, len(known))
	for _, s := range known {
		owned[filepath.Clean(s.StagingDir)] = struct{}{}
	}

	matches, err := filepath.Glob(filepath.Join(root, pattern))
	if err != nil {
		return err
	}

	for _, dir := range matches {
		if _, ok := owned[filepath.Clean(dir)]; ok {
			continue
		}

		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("failed to stat staging directory", "dir", dir, "err", err)

			return err
		}

		if !info.IsDir() || now.Sub(info.ModTime()) <= ttl {
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			logger.Error("failed to delete orphaned staging directory", "dir", dir, "err", err)

			return err
		}

		logger.Info("deleted orphaned staging directory", "dir", dir)
	}

	return nil
}

// Reaper periodically removes expired sessions and orphaned staging areas.
type Reaper struct {
	store       progress.Store
	remover     SessionRemover
	telemetry   *telemetry.Telemetry
	stagingRoot string
	pattern     string
	ttl         time.Duration
	interval    time.Duration
}

func NewReaper(
	store progress.Store,
	remover SessionRemover,
	tel *telemetry.Telemetry,
	stagingRoot, pattern string,
	ttl, interval time.Duration,
) *Reaper {
	return &Reaper{
		store:       store,
		remover:     remover,
		telemetry:   tel,
		stagingRoot: stagingRoot,
		pattern:     pattern,
		ttl:         ttl,
		interval:    interval,
	}
}

// Run sweeps once immediately and then on every tick until ctx ends.
func (r *Reaper) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("session reaper started", "ttl", r.ttl.String(), "interval", r.interval.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Sweep(ctx)

		select {
		case <-ctx.Done():
			logger.Info("shutting down session reaper")

			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs one reaping pass.
func (r *Reaper) Sweep(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	reaped, err := ReapExpiredSessions(ctx, r.store.Sessions(), r.ttl, time.Now(), r.remover)
	if err != nil {
		r.telemetry.RecordSystemError(ctx, "reaper", "cleanup")
	}

	for range reaped {
		r.telemetry.RecordSession(ctx, "reaped")
	}

	if err := DeleteOrphanedStagingDirs(ctx, r.stagingRoot, r.pattern, r.store.Sessions(), r.ttl); err != nil {
		logger.Error("failed to delete orphaned staging directories", "err", err)
		r.telemetry.RecordSystemError(ctx, "reaper", "orphans")
	}
}
