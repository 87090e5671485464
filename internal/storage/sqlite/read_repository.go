package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/photos_relay/internal/storage"
)

const sessionColumns = `session_id, instance_id, total, downloaded, failed, status, started_at, finished_at, cleaned_at`

type SessionReadRepository struct {
	db *sql.DB
}

func NewSessionReadRepository(dbConn *sql.DB) *SessionReadRepository {
	return &SessionReadRepository{db: dbConn}
}

// ListSessions returns the most recently started sessions first.
func (r *SessionReadRepository) ListSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	sessions := []storage.SessionRecord{}

	for rows.Next() {
		record, err := scanSession(rows)
		if err != nil {
			return nil, err
		}

		sessions = append(sessions, record)
	}

	return sessions, rows.Err()
}

func (r *SessionReadRepository) GetSession(ctx context.Context, sessionID string) (storage.SessionRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)

	record, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SessionRecord{}, storage.ErrSessionNotFound
	}

	return record, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (storage.SessionRecord, error) {
	var (
		record     storage.SessionRecord
		startedAt  string
		finishedAt sql.NullString
		cleanedAt  sql.NullString
	)

	err := s.Scan(
		&record.SessionID,
		&record.InstanceID,
		&record.Total,
		&record.Downloaded,
		&record.Failed,
		&record.Status,
		&startedAt,
		&finishedAt,
		&cleanedAt,
	)
	if err != nil {
		return storage.SessionRecord{}, err
	}

	if record.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
		return storage.SessionRecord{}, fmt.Errorf("failed to parse started_at: %w", err)
	}

	if record.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return storage.SessionRecord{}, fmt.Errorf("failed to parse finished_at: %w", err)
	}

	if record.CleanedAt, err = parseNullTime(cleanedAt); err != nil {
		return storage.SessionRecord{}, fmt.Errorf("failed to parse cleaned_at: %w", err)
	}

	return record, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}

	t, err := time.Parse(timeFormat, v.String)
	if err != nil {
		return nil, err
	}

	return &t, nil
}
