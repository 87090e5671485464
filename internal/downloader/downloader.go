package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/italolelis/photos_relay/internal/logctx"
	"github.com/italolelis/photos_relay/internal/media"
	"github.com/italolelis/photos_relay/internal/progress"
	"github.com/italolelis/photos_relay/internal/storage"
	"github.com/italolelis/photos_relay/internal/telemetry"
	"github.com/italolelis/photos_relay/internal/transfer"
)

const (
	filePerm = 0o644

	// StagingPattern names session staging directories. It doubles as a glob.
	StagingPattern = "photos-relay-*"

	finishedBufferSize = 16
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrNoItems           = errors.New("no items to download")
	ErrClosed            = errors.New("orchestrator is closed")
)

// Batch is one submitted download request. It is not modified after Start.
type Batch struct {
	Credential string
	Items      []media.Reference
	Options    *media.Options
}

// Summary describes a session whose loop has finished.
type Summary struct {
	SessionID  string
	Total      int
	Downloaded int
	Failed     int
	Errors     []string
	StartedAt  time.Time
	FinishedAt time.Time
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator runs one sequential background task per session.
type Orchestrator struct {
	store       progress.Store
	fetcher     transfer.Fetcher
	history     storage.SessionHistoryWriter
	telemetry   *telemetry.Telemetry
	stagingRoot string
	politeDelay time.Duration

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool

	OnSessionFinished chan Summary
}

// NewOrchestrator creates an orchestrator. history and tel may be nil.
func NewOrchestrator(
	store progress.Store,
	fetcher transfer.Fetcher,
	history storage.SessionHistoryWriter,
	tel *telemetry.Telemetry,
	stagingRoot string,
	politeDelay time.Duration,
) *Orchestrator {
	return &Orchestrator{
		store:             store,
		fetcher:           fetcher,
		history:           history,
		telemetry:         tel,
		stagingRoot:       stagingRoot,
		politeDelay:       politeDelay,
		tasks:             make(map[string]*task),
		OnSessionFinished: make(chan Summary, finishedBufferSize),
	}
}

// Start validates the batch, registers a session with its staging area and
// launches the background task. It returns without waiting for any fetch.
func (o *Orchestrator) Start(ctx context.Context, batch Batch) (string, error) {
	if batch.Credential == "" {
		return "", ErrMissingCredential
	}

	if len(batch.Items) == 0 {
		return "", ErrNoItems
	}

	items := batch.Options.Filter(batch.Items)

	o.mu.Lock()

	if o.closed {
		o.mu.Unlock()

		return "", ErrClosed
	}

	sessionID, stagingDir, err := o.register(len(items))
	if err != nil {
		o.mu.Unlock()

		return "", err
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	taskCtx, logger := logctx.With(taskCtx, "session_id", sessionID)

	t := &task{cancel: cancel, done: make(chan struct{})}
	o.tasks[sessionID] = t
	o.mu.Unlock()

	logger.Info("download session started",
		"total", len(items),
		"submitted", len(batch.Items),
		"staging_dir", stagingDir,
	)

	o.recordStarted(taskCtx, sessionID, len(items))

	go o.run(taskCtx, sessionID, stagingDir, batch.Credential, items, batch.Options, t)

	return sessionID, nil
}

// register creates the session id, staging area and progress record.
func (o *Orchestrator) register(total int) (string, string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate session id: %w", err)
	}

	sessionID := id.String()

	stagingDir, err := os.MkdirTemp(o.stagingRoot, StagingPattern)
	if err != nil {
		return "", "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	if err := o.store.Create(sessionID, stagingDir, total); err != nil {
		_ = os.RemoveAll(stagingDir)

		return "", "", fmt.Errorf("failed to register session: %w", err)
	}

	return sessionID, stagingDir, nil
}

func (o *Orchestrator) run(
	ctx context.Context,
	sessionID, stagingDir, credential string,
	items []media.Reference,
	opts *media.Options,
	t *task,
) {
	logger := logctx.LoggerFromContext(ctx)
	next := 0

	defer func() {
		o.mu.Lock()
		delete(o.tasks, sessionID)
		o.mu.Unlock()

		close(t.done)
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in download session", "panic", r, "stack", string(debug.Stack()))
			o.telemetry.RecordSystemError(ctx, "orchestrator", "panic")

			o.failRemaining(ctx, sessionID, items, next, fmt.Errorf("internal error: %v", r))
			o.finish(ctx, sessionID)
		}
	}()

	for next = range items {
		if next > 0 && !o.pause(ctx) {
			break
		}

		if ctx.Err() != nil {
			break
		}

		o.processItem(ctx, sessionID, stagingDir, credential, next, items[next], opts)
	}

	if ctx.Err() != nil {
		logger.Info("download session cancelled")
		o.telemetry.RecordSession(ctx, "cancelled")

		return
	}

	o.finish(ctx, sessionID)
}

// pause waits the politeness delay and reports false if ctx ended first.
func (o *Orchestrator) pause(ctx context.Context) bool {
	if o.politeDelay <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(o.politeDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// processItem handles one item and records its outcome with a single store
// update.
func (o *Orchestrator) processItem(
	ctx context.Context,
	sessionID, stagingDir, credential string,
	index int,
	item media.Reference,
	opts *media.Options,
) {
	logger := logctx.LoggerFromContext(ctx)

	_ = o.store.Update(sessionID, func(r *progress.Record) {
		r.CurrentFile = item.Filename
	})

	var size int64

	err := o.telemetry.InstrumentItem(ctx, func(ctx context.Context) error {
		var err error

		size, err = o.stageItem(ctx, stagingDir, credential, index, item, opts)

		return err
	})

	// A cancelled session is being removed; its outcome is not recorded.
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		logger.Warn("item failed", "index", index, "filename", item.Filename, "err", err)

		_ = o.store.Update(sessionID, func(r *progress.Record) {
			r.RecordFailure(err.Error())
		})

		return
	}

	logger.Info("item staged", "index", index, "filename", item.Filename, "size", humanize.Bytes(uint64(size)))

	_ = o.store.Update(sessionID, func(r *progress.Record) {
		r.RecordSuccess(item.Filename, size)
	})
}

func (o *Orchestrator) stageItem(
	ctx context.Context,
	stagingDir, credential string,
	index int,
	item media.Reference,
	opts *media.Options,
) (int64, error) {
	if !item.IsDownloadable() {
		return 0, &transfer.ItemError{Kind: transfer.KindInvalidItem, Index: index, Filename: item.Filename, Err: transfer.ErrMissingData}
	}

	if !isPlainFilename(item.Filename) {
		return 0, &transfer.ItemError{Kind: transfer.KindInvalidItem, Index: index, Filename: item.Filename, Err: transfer.ErrUnsafeFilename}
	}

	locator := media.DeriveLocator(item, opts)

	data, err := o.fetcher.Fetch(ctx, locator, credential)
	if err != nil {
		return 0, &transfer.ItemError{Kind: transfer.KindTransfer, Index: index, Filename: item.Filename, Err: err}
	}

	if err := os.WriteFile(filepath.Join(stagingDir, item.Filename), data, filePerm); err != nil {
		return 0, &transfer.ItemError{Kind: transfer.KindStorage, Index: index, Filename: item.Filename, Err: err}
	}

	return int64(len(data)), nil
}

// failRemaining records every item from index onwards as failed, so a
// session aborted by a panic still accounts for all of its items.
func (o *Orchestrator) failRemaining(ctx context.Context, sessionID string, items []media.Reference, index int, cause error) {
	err := o.store.Update(sessionID, func(r *progress.Record) {
		for i := index; i < len(items) && r.Processed() < r.Total; i++ {
			itemErr := &transfer.ItemError{Kind: transfer.KindInvalidItem, Index: i, Err: cause}
			r.RecordFailure(itemErr.Error())
		}
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to record aborted items", "err", err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, sessionID string) {
	logger := logctx.LoggerFromContext(ctx)
	finishedAt := time.Now()

	if err := o.store.Update(sessionID, func(r *progress.Record) { r.Finish(finishedAt) }); err != nil {
		logger.Error("failed to mark session complete", "err", err)

		return
	}

	rec, err := o.store.Get(sessionID)
	if err != nil {
		logger.Error("failed to read finished session", "err", err)

		return
	}

	summary := Summary{
		SessionID:  sessionID,
		Total:      rec.Total,
		Downloaded: rec.DownloadedCount,
		Failed:     rec.FailedCount,
		Errors:     rec.Errors,
		StartedAt:  rec.StartedAt,
		FinishedAt: finishedAt,
	}

	logger.Info("download session finished",
		"total", summary.Total,
		"downloaded", summary.Downloaded,
		"failed", summary.Failed,
		"duration", finishedAt.Sub(summary.StartedAt).Round(time.Millisecond).String(),
	)

	o.recordFinished(ctx, summary)
	o.telemetry.RecordSession(ctx, "finished")

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}

	select {
	case o.OnSessionFinished <- summary:
	default:
		logger.Warn("session finished event dropped, no listener keeping up")
	}
}

// Wait blocks until the session's task has exited. Unknown or already
// finished sessions return immediately.
func (o *Orchestrator) Wait(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	t, ok := o.tasks[sessionID]
	o.mu.Unlock()

	if !ok {
		return nil
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cleanup aborts the session's task if it is still running, waits for it to
// exit and removes the record and staging area. When ctx ends before the
// task exits the session is removed anyway; the cancelled task can no longer
// record outcomes for it. Unknown ids are a no-op.
func (o *Orchestrator) Cleanup(ctx context.Context, sessionID string) error {
	logger := logctx.LoggerFromContext(ctx).With("session_id", sessionID)

	o.mu.Lock()
	t, running := o.tasks[sessionID]
	o.mu.Unlock()

	if running {
		t.cancel()

		select {
		case <-t.done:
		case <-ctx.Done():
			logger.Warn("download session still stopping, removing it anyway", "err", ctx.Err())
		}
	}

	ctx = context.WithoutCancel(ctx)

	if _, err := o.store.Get(sessionID); errors.Is(err, progress.ErrSessionNotFound) {
		logger.Debug("cleanup of unknown session ignored")

		return nil
	}

	if err := o.store.Remove(sessionID); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}

	logger.Info("download session cleaned up", "aborted", running)

	o.recordCleaned(ctx, sessionID)
	o.telemetry.RecordSession(ctx, "cleaned")

	return nil
}

// Close stops accepting batches, cleans every session and closes
// OnSessionFinished. Sends are guarded by the closed flag, so a task still
// stopping after Close returns never sends on the closed channel.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()

		return nil
	}

	o.closed = true
	o.mu.Unlock()

	var errs []error

	for _, s := range o.store.Sessions() {
		if err := o.Cleanup(ctx, s.ID); err != nil {
			errs = append(errs, err)
		}
	}

	o.mu.Lock()
	close(o.OnSessionFinished)
	o.mu.Unlock()

	return errors.Join(errs...)
}

func (o *Orchestrator) recordStarted(ctx context.Context, sessionID string, total int) {
	o.telemetry.RecordSession(ctx, "started")

	if o.history == nil {
		return
	}

	if err := o.history.RecordStarted(ctx, sessionID, total, time.Now()); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to record session start", "err", err)
	}
}

func (o *Orchestrator) recordFinished(ctx context.Context, s Summary) {
	if o.history == nil {
		return
	}

	if err := o.history.RecordFinished(ctx, s.SessionID, s.Downloaded, s.Failed, s.FinishedAt); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to record session finish", "err", err)
	}
}

func (o *Orchestrator) recordCleaned(ctx context.Context, sessionID string) {
	if o.history == nil {
		return
	}

	if err := o.history.RecordCleaned(ctx, sessionID, time.Now()); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to record session cleanup", "err", err)
	}
}
