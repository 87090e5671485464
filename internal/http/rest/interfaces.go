package rest

import (
	"context"

	"github.com/italolelis/photos_relay/internal/downloader"
	"github.com/italolelis/photos_relay/internal/storage"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

// Downloads starts and removes download sessions.
type Downloads interface {
	Start(ctx context.Context, batch downloader.Batch) (string, error)
	Cleanup(ctx context.Context, sessionID string) error
}

// SessionHistory reads past sessions.
type SessionHistory interface {
	ListSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error)
	GetSession(ctx context.Context, sessionID string) (storage.SessionRecord, error)
}
