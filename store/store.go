// Package store keeps sessions by id.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ollama/replagent/session"
)

var ErrNotFound = errors.New("store: session not found")

// Info describes a stored session without its events.
type Info struct {
	ID         string
	Events     int
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Store persists sessions. Implementations are safe for concurrent use and
// never share a session with the caller: Get returns a copy and Create and
// Put store one.
type Store interface {
	// Create stores s under a new id and returns it.
	Create(ctx context.Context, s *session.Session) (string, error)

	// Get returns the session stored under id or ErrNotFound.
	Get(ctx context.Context, id string) (*session.Session, error)

	// Put replaces the session stored under id or returns ErrNotFound.
	Put(ctx context.Context, id string, s *session.Session) error

	// List describes every session, most recently modified first.
	List(ctx context.Context) ([]Info, error)

	// Delete removes the session stored under id or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	Close() error
}
