// Package redisstore implements session.Store on top of Redis, for
// deployments that already run Redis for caching/streaming and want
// session state without standing up MongoDB. Session lifecycle lives in a
// hash, state in a JSON string, and run history in an append-only list —
// matching the immutable-once-appended contract of session.Store.AppendRun.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentrun/agentrun/session"
)

// Store implements session.Store backed by a Redis client.
type Store struct {
	rdb *redis.Client
}

// New returns a Store backed by the provided Redis client.
func New(rdb *redis.Client) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	return &Store{rdb: rdb}, nil
}

func sessionKey(sessionID string) string { return fmt.Sprintf("session:%s", sessionID) }
func stateKey(sessionID string) string   { return fmt.Sprintf("session:%s:state", sessionID) }
func runsKey(sessionID string) string    { return fmt.Sprintf("session:%s:runs", sessionID) }

const timeLayout = time.RFC3339Nano

// GetOrCreate implements session.Store. Creation races are resolved with
// HSetNX on the created_at field: whichever caller wins the field-level
// SETNX performs the remaining field writes, so concurrent callers never
// clobber an already-active session's owner/name.
func (s *Store) GetOrCreate(ctx context.Context, sessionID, owner, name string) (session.Session, error) {
	if sessionID == "" {
		return session.Session{}, errors.New("session id is required")
	}
	key := sessionKey(sessionID)
	now := time.Now().UTC()

	created, err := s.rdb.HSetNX(ctx, key, "created_at", now.Format(timeLayout)).Result()
	if err != nil {
		return session.Session{}, err
	}
	if created {
		if err := s.rdb.HSet(ctx, key, map[string]any{
			"session_id": sessionID,
			"owner":      owner,
			"name":       name,
			"status":     string(session.StatusActive),
		}).Err(); err != nil {
			return session.Session{}, err
		}
	}

	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if sess.Status == session.StatusEnded {
		return session.Session{}, session.ErrSessionEnded
	}
	return sess, nil
}

func (s *Store) loadSession(ctx context.Context, sessionID string) (session.Session, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return session.Session{}, err
	}
	if len(fields) == 0 {
		return session.Session{}, session.ErrSessionNotFound
	}
	sess := session.Session{
		ID:     sessionID,
		Owner:  fields["owner"],
		Name:   fields["name"],
		Status: session.Status(fields["status"]),
	}
	if raw := fields["created_at"]; raw != "" {
		if t, err := time.Parse(timeLayout, raw); err == nil {
			sess.CreatedAt = t
		}
	}
	if raw := fields["ended_at"]; raw != "" {
		if t, err := time.Parse(timeLayout, raw); err == nil {
			sess.EndedAt = &t
		}
	}
	return sess, nil
}

// EndSession implements session.Store.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (session.Session, error) {
	if sessionID == "" {
		return session.Session{}, errors.New("session id is required")
	}
	if endedAt.IsZero() {
		return session.Session{}, errors.New("ended_at is required")
	}
	existing, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if existing.Status == session.StatusEnded {
		return existing, nil
	}
	at := endedAt.UTC()
	if err := s.rdb.HSet(ctx, sessionKey(sessionID), map[string]any{
		"status":   string(session.StatusEnded),
		"ended_at": at.Format(timeLayout),
	}).Err(); err != nil {
		return session.Session{}, err
	}
	return s.loadSession(ctx, sessionID)
}

// AppendRun implements session.Store. The record is pushed onto an
// append-only list, so once written it can never be overwritten in place.
func (s *Store) AppendRun(ctx context.Context, sessionID string, record session.RunRecord) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	if record.RunID == "" {
		return errors.New("run id is required")
	}
	existing, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if existing.Status == session.StatusEnded {
		return session.ErrSessionEnded
	}
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, runsKey(sessionID), b).Err()
}

// ListRuns implements session.Store. Runs are returned in append order.
func (s *Store) ListRuns(ctx context.Context, sessionID string, statuses []session.RunStatus) ([]session.RunRecord, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	raw, err := s.rdb.LRange(ctx, runsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var allowed map[session.RunStatus]struct{}
	if len(statuses) > 0 {
		allowed = make(map[session.RunStatus]struct{}, len(statuses))
		for _, st := range statuses {
			allowed[st] = struct{}{}
		}
	}
	out := make([]session.RunRecord, 0, len(raw))
	for _, item := range raw {
		var rec session.RunRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, err
		}
		if allowed != nil {
			if _, ok := allowed[rec.Status]; !ok {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetState implements session.Store.
func (s *Store) GetState(ctx context.Context, sessionID string) (map[string]any, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	raw, err := s.rdb.Get(ctx, stateKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	var state map[string]any
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, err
	}
	return state, nil
}

// SetState implements session.Store.
func (s *Store) SetState(ctx context.Context, sessionID string, state map[string]any) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, stateKey(sessionID), b, 0).Err()
}
