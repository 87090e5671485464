package storage

import (
	"context"
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found in history")

// SessionStatus is the lifecycle state recorded in the session history.
type SessionStatus string

const (
	StatusRunning  SessionStatus = "running"
	StatusFinished SessionStatus = "finished"
	StatusCleaned  SessionStatus = "cleaned"
)

// SessionRecord is one row of the session history. It is an audit trail
// and is never used to resume work.
type SessionRecord struct {
	SessionID  string        `json:"sessionId"`
	InstanceID string        `json:"instanceId"`
	Total      int           `json:"total"`
	Downloaded int           `json:"downloaded"`
	Failed     int           `json:"failed"`
	Status     SessionStatus `json:"status"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
	CleanedAt  *time.Time    `json:"cleanedAt,omitempty"`
}

// SessionHistoryReader lists recorded sessions.
type SessionHistoryReader interface {
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	GetSession(ctx context.Context, sessionID string) (SessionRecord, error)
}

// SessionHistoryWriter records session lifecycle transitions.
type SessionHistoryWriter interface {
	RecordStarted(ctx context.Context, sessionID string, total int, at time.Time) error
	RecordFinished(ctx context.Context, sessionID string, downloaded, failed int, at time.Time) error
	RecordCleaned(ctx context.Context, sessionID string, at time.Time) error
}

type SessionHistory interface {
	SessionHistoryReader
	SessionHistoryWriter
}
