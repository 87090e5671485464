package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/photos_relay/internal/storage"
	"github.com/italolelis/photos_relay/internal/telemetry"
)

// InstrumentedSessionRepository implements storage.SessionHistory on SQLite
// with telemetry around every query.
type InstrumentedSessionRepository struct {
	reader    *SessionReadRepository
	writer    *SessionWriteRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedSessionRepository creates a new instrumented session repository.
func NewInstrumentedSessionRepository(dbConn *sql.DB, instanceID string, tel *telemetry.Telemetry) *InstrumentedSessionRepository {
	return &InstrumentedSessionRepository{
		reader:    NewSessionReadRepository(dbConn),
		writer:    NewSessionWriteRepository(dbConn, instanceID),
		telemetry: tel,
	}
}

func (r *InstrumentedSessionRepository) ListSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error) {
	var result []storage.SessionRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_sessions", func(ctx context.Context) error {
		var err error

		result, err = r.reader.ListSessions(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedSessionRepository) GetSession(ctx context.Context, sessionID string) (storage.SessionRecord, error) {
	var result storage.SessionRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_session", func(ctx context.Context) error {
		var err error

		result, err = r.reader.GetSession(ctx, sessionID)

		return err
	})

	return result, err
}

func (r *InstrumentedSessionRepository) RecordStarted(ctx context.Context, sessionID string, total int, at time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_started", func(ctx context.Context) error {
		return r.writer.RecordStarted(ctx, sessionID, total, at)
	})
}

func (r *InstrumentedSessionRepository) RecordFinished(ctx context.Context, sessionID string, downloaded, failed int, at time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_finished", func(ctx context.Context) error {
		return r.writer.RecordFinished(ctx, sessionID, downloaded, failed, at)
	})
}

func (r *InstrumentedSessionRepository) RecordCleaned(ctx context.Context, sessionID string, at time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_cleaned", func(ctx context.Context) error {
		return r.writer.RecordCleaned(ctx, sessionID, at)
	})
}
