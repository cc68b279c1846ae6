package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ollama/replagent/session"
)

type entry struct {
	session  *session.Session
	created  time.Time
	modified time.Time
}

// Memory is a Store that lives as long as the process.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]entry
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]entry)}
}

func (m *Memory) Create(_ context.Context, s *session.Session) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	now := time.Now()
	m.sessions[id] = entry{session: s.Clone(), created: now, modified: now}
	return id, nil
}

func (m *Memory) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.session.Clone(), nil
}

func (m *Memory) Put(_ context.Context, id string, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}

	e.session, e.modified = s.Clone(), time.Now()
	m.sessions[id] = e
	return nil
}

func (m *Memory) List(context.Context) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.sessions))
	for id, e := range m.sessions {
		infos = append(infos, Info{
			ID:         id,
			Events:     len(e.session.Events),
			CreatedAt:  e.created,
			ModifiedAt: e.modified,
		})
	}

	slices.SortFunc(infos, func(a, b Info) int {
		if c := b.ModifiedAt.Compare(a.ModifiedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return infos, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
