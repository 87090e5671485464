package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/photos_relay/internal/storage"
)

// SessionWriteRepository implements storage.SessionHistoryWriter
// and stores session transitions in SQLite.
type SessionWriteRepository struct {
	db         *sql.DB
	instanceID string
}

func NewSessionWriteRepository(db *sql.DB, instanceID string) *SessionWriteRepository {
	return &SessionWriteRepository{db: db, instanceID: instanceID}
}

func (r *SessionWriteRepository) RecordStarted(ctx context.Context, sessionID string, total int, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, instance_id, total, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, r.instanceID, total, storage.StatusRunning, formatTime(at),
	)

	return err
}

// RecordFinished stores the final counts. A session cleaned before it
// finished keeps its cleaned status.
func (r *SessionWriteRepository) RecordFinished(ctx context.Context, sessionID string, downloaded, failed int, at time.Time) error {
	return r.update(ctx,
		`UPDATE sessions SET downloaded = ?, failed = ?, finished_at = ?,
			status = CASE WHEN status = 'cleaned' THEN status ELSE ? END
		WHERE session_id = ?`,
		downloaded, failed, formatTime(at), storage.StatusFinished, sessionID,
	)
}

func (r *SessionWriteRepository) RecordCleaned(ctx context.Context, sessionID string, at time.Time) error {
	return r.update(ctx,
		`UPDATE sessions SET status = ?, cleaned_at = ? WHERE session_id = ?`,
		storage.StatusCleaned, formatTime(at), sessionID,
	)
}

func (r *SessionWriteRepository) update(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrSessionNotFound
	}

	return nil
}

// timeFormat has a fixed width so stored times sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}
