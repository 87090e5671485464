package progress

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// Reader is the read side of the store used by the HTTP surface.
type Reader interface {
	Get(id string) (Record, error)
	StagingDir(id string) (string, error)
}

// Store holds progress records and staging directories by session id.
type Store interface {
	Reader
	Create(id, stagingDir string, total int) error
	// Update applies fn to the record under the store lock, so readers see
	// either all of one item's changes or none.
	Update(id string, fn func(*Record)) error
	// Remove deletes the record and staging directory. Unknown ids are a no-op.
	Remove(id string) error
	Sessions() []SessionInfo
}

// SessionInfo summarises a session for housekeeping.
type SessionInfo struct {
	ID         string
	StagingDir string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Complete   bool
}

type entry struct {
	record     Record
	stagingDir string
	updatedAt  time.Time
}

// MemoryStore is a Store backed by process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(id, stagingDir string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	now := s.now()
	s.sessions[id] = &entry{
		record: Record{
			SessionID:      id,
			Total:          total,
			Errors:         []string{},
			CompletedFiles: []CompletedFile{},
			StartedAt:      now,
		},
		stagingDir: stagingDir,
		updatedAt:  now,
	}

	return nil
}

// Get returns a copy of the record; later updates never show through it.
func (s *MemoryStore) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	if !ok {
		return Record{}, ErrSessionNotFound
	}

	return e.record.clone(), nil
}

func (s *MemoryStore) Update(id string, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	fn(&e.record)
	e.updatedAt = s.now()

	return nil
}

func (s *MemoryStore) StagingDir(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	if !ok {
		return "", ErrSessionNotFound
	}

	return e.stagingDir, nil
}

func (s *MemoryStore) Remove(id string) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok || e.stagingDir == "" {
		return nil
	}

	if err := os.RemoveAll(e.stagingDir); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}

	return nil
}

// Sessions lists all sessions, oldest first.
func (s *MemoryStore) Sessions() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for id, e := range s.sessions {
		infos = append(infos, SessionInfo{
			ID:         id,
			StagingDir: e.stagingDir,
			CreatedAt:  e.record.StartedAt,
			UpdatedAt:  e.updatedAt,
			Complete:   e.record.IsComplete,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})

	return infos
}
