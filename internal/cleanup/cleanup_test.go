package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/photos_relay/internal/progress"
)

type removerFunc func(ctx context.Context, id string) error

func (f removerFunc) Cleanup(ctx context.Context, id string) error { return f(ctx, id) }

func TestReapExpiredSessions(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ttl := time.Hour

	sessions := []progress.SessionInfo{
		{ID: "fresh", UpdatedAt: now.Add(-10 * time.Minute)},
		{ID: "expired", UpdatedAt: now.Add(-2 * time.Hour), Complete: true},
		{ID: "boundary", UpdatedAt: now.Add(-time.Hour)},
		{ID: "stalled", UpdatedAt: now.Add(-3 * time.Hour)},
	}

	var removed []string

	reaped, err := ReapExpiredSessions(context.Background(), sessions, ttl, now, removerFunc(func(_ context.Context, id string) error {
		removed = append(removed, id)

		return nil
	}))
	require.NoError(t, err)

	assert.Equal(t, 2, reaped)
	assert.Equal(t, []string{"expired", "stalled"}, removed)
}

func TestReapExpiredSessionsContinuesAfterFailure(t *testing.T) {
	now := time.Now()
	sessions := []progress.SessionInfo{
		{ID: "a", UpdatedAt: now.Add(-2 * time.Hour)},
		{ID: "b", UpdatedAt: now.Add(-2 * time.Hour)},
	}

	reaped, err := ReapExpiredSessions(context.Background(), sessions, time.Hour, now, removerFunc(func(_ context.Context, id string) error {
		if id == "a" {
			return errors.New("permission denied")
		}

		return nil
	}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, 1, reaped)
}

func TestDeleteOrphanedStagingDirs(t *testing.T) {
	root := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)

	mkdir := func(name string, modTime time.Time) string {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("x"), 0o600))
		require.NoError(t, os.Chtimes(dir, modTime, modTime))

		return dir
	}

	orphan := mkdir("photos-relay-orphan", old)
	owned := mkdir("photos-relay-owned", old)
	recent := mkdir("photos-relay-recent", time.Now())
	unrelated := mkdir("something-else", old)

	known := []progress.SessionInfo{{ID: "s1", StagingDir: owned}}

	require.NoError(t, DeleteOrphanedStagingDirs(context.Background(), root, "photos-relay-*", known, 24*time.Hour))

	assert.NoDirExists(t, orphan)
	assert.DirExists(t, owned)
	assert.DirExists(t, recent)
	assert.DirExists(t, unrelated)
}

func TestReaperSweep(t *testing.T) {
	store := progress.NewMemoryStore()
	root := t.TempDir()

	dir := filepath.Join(root, "photos-relay-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, store.Create("s1", dir, 1))

	var removed []string

	remover := removerFunc(func(_ context.Context, id string) error {
		removed = append(removed, id)

		return store.Remove(id)
	})

	// A zero ttl expires anything not updated in this instant.
	time.Sleep(5 * time.Millisecond)

	reaper := NewReaper(store, remover, nil, root, "photos-relay-*", 0, time.Minute)
	reaper.Sweep(context.Background())

	assert.Equal(t, []string{"s1"}, removed)
	assert.Empty(t, store.Sessions())
	assert.NoDirExists(t, dir)
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	store := progress.NewMemoryStore()
	reaper := NewReaper(store, removerFunc(func(context.Context, string) error { return nil }), nil, t.TempDir(), "photos-relay-*", time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- reaper.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
