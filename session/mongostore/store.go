package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/agentrun/agentrun/session"
)

// Store adapts a Client to session.Store.
type Store struct {
	client Client
}

// NewStore wraps a Client as a session.Store.
func NewStore(c Client) (*Store, error) {
	if c == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: c}, nil
}

// GetOrCreate implements session.Store.
func (s *Store) GetOrCreate(ctx context.Context, sessionID, owner, name string) (session.Session, error) {
	return s.client.GetOrCreate(ctx, sessionID, owner, name)
}

// EndSession implements session.Store.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (session.Session, error) {
	return s.client.EndSession(ctx, sessionID, endedAt)
}

// AppendRun implements session.Store.
func (s *Store) AppendRun(ctx context.Context, sessionID string, record session.RunRecord) error {
	return s.client.AppendRun(ctx, sessionID, record)
}

// ListRuns implements session.Store.
func (s *Store) ListRuns(ctx context.Context, sessionID string, statuses []session.RunStatus) ([]session.RunRecord, error) {
	return s.client.ListRuns(ctx, sessionID, statuses)
}

// GetState implements session.Store.
func (s *Store) GetState(ctx context.Context, sessionID string) (map[string]any, error) {
	return s.client.GetState(ctx, sessionID)
}

// SetState implements session.Store.
func (s *Store) SetState(ctx context.Context, sessionID string, state map[string]any) error {
	return s.client.SetState(ctx, sessionID, state)
}
