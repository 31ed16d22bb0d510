// Package jsonlstore implements session.Store as one append-only JSONL file
// per session: the default, no-external-dependency backend. Every mutation
// (creation, a run appended, a state replacement, ending the session) is
// recorded as one more line; the current Session/run history/state is
// reconstructed by replaying the file in order. This follows
// runlog/jsonlstore's per-run file layout, keyed by session ID instead of
// run ID and replaying a small state machine instead of returning a flat
// event log. Each append is flushed to the file but, unlike the runlog
// store, not fsynced.
//
// Like its runlog sibling, this is the one session backend built directly
// on the standard library: a line-delimited file has no natural
// third-party client in the pack (mongostore and redisstore cover the
// networked cases), and os.OpenFile/bufio is the idiomatic way to own an
// append-only file's lifecycle in Go.
package jsonlstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentrun/agentrun/session"
)

type (
	// Store writes one JSONL file per session under Dir, named
	// "<session_id>.jsonl".
	Store struct {
		dir string

		mu    sync.Mutex
		files map[string]*sessionFile
	}

	sessionFile struct {
		mu sync.Mutex
		f  *os.File
		w  *bufio.Writer
	}

	// line is the on-disk envelope. Type discriminates which other field
	// is populated: "created", "run", "state", or "ended".
	line struct {
		Type  string          `json:"type"`
		Owner string          `json:"owner,omitempty"`
		Name  string          `json:"name,omitempty"`
		At    string          `json:"at,omitempty"`
		Run   *runLine        `json:"run,omitempty"`
		State json.RawMessage `json:"state,omitempty"`
	}

	runLine struct {
		RunID         string            `json:"run_id"`
		ParentRunID   string            `json:"parent_run_id,omitempty"`
		AgentID       string            `json:"agent_id,omitempty"`
		Task          string            `json:"task,omitempty"`
		FinalResponse string            `json:"final_response,omitempty"`
		Status        string            `json:"status,omitempty"`
		StartedAt     string            `json:"started_at,omitempty"`
		EndedAt       string            `json:"ended_at,omitempty"`
		Labels        map[string]string `json:"labels,omitempty"`
		Metadata      map[string]any    `json:"metadata,omitempty"`
	}
)

const (
	lineCreated = "created"
	lineRun     = "run"
	lineState   = "state"
	lineEnded   = "ended"

	timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// New returns a Store that writes one JSONL file per session under dir,
// creating dir if it does not already exist.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("jsonlstore: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonlstore: create dir: %w", err)
	}
	return &Store{dir: dir, files: make(map[string]*sessionFile)}, nil
}

// GetOrCreate implements session.Store.
func (s *Store) GetOrCreate(_ context.Context, sessionID, owner, name string) (session.Session, error) {
	if sessionID == "" {
		return session.Session{}, errors.New("jsonlstore: session id is required")
	}

	snap, ok, err := s.replay(sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if ok {
		if snap.sess.Status == session.StatusEnded {
			return session.Session{}, session.ErrSessionEnded
		}
		return snap.sess, nil
	}

	out := session.Session{
		ID:        sessionID,
		Owner:     owner,
		Name:      name,
		Status:    session.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.append(sessionID, line{
		Type:  lineCreated,
		Owner: owner,
		Name:  name,
		At:    out.CreatedAt.Format(timestampFormat),
	}); err != nil {
		return session.Session{}, err
	}
	return out, nil
}

// EndSession implements session.Store.
func (s *Store) EndSession(_ context.Context, sessionID string, endedAt time.Time) (session.Session, error) {
	if sessionID == "" {
		return session.Session{}, errors.New("jsonlstore: session id is required")
	}
	if endedAt.IsZero() {
		return session.Session{}, errors.New("jsonlstore: ended_at is required")
	}

	snap, ok, err := s.replay(sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if !ok {
		return session.Session{}, session.ErrSessionNotFound
	}
	if snap.sess.Status == session.StatusEnded {
		return snap.sess, nil
	}

	at := endedAt.UTC()
	if err := s.append(sessionID, line{Type: lineEnded, At: at.Format(timestampFormat)}); err != nil {
		return session.Session{}, err
	}
	snap.sess.Status = session.StatusEnded
	snap.sess.EndedAt = &at
	return snap.sess, nil
}

// AppendRun implements session.Store.
func (s *Store) AppendRun(_ context.Context, sessionID string, record session.RunRecord) error {
	if sessionID == "" {
		return errors.New("jsonlstore: session id is required")
	}
	if record.RunID == "" {
		return errors.New("jsonlstore: run id is required")
	}

	snap, ok, err := s.replay(sessionID)
	if err != nil {
		return err
	}
	if ok && snap.sess.Status == session.StatusEnded {
		return session.ErrSessionEnded
	}

	rl := &runLine{
		RunID:         record.RunID,
		ParentRunID:   record.ParentRunID,
		AgentID:       record.AgentID,
		Task:          record.Task,
		FinalResponse: record.FinalResponse,
		Status:        string(record.Status),
		Labels:        record.Labels,
		Metadata:      record.Metadata,
	}
	if !record.StartedAt.IsZero() {
		rl.StartedAt = record.StartedAt.UTC().Format(timestampFormat)
	}
	if !record.EndedAt.IsZero() {
		rl.EndedAt = record.EndedAt.UTC().Format(timestampFormat)
	}
	return s.append(sessionID, line{Type: lineRun, Run: rl})
}

// ListRuns implements session.Store. Runs are returned in append order.
func (s *Store) ListRuns(_ context.Context, sessionID string, statuses []session.RunStatus) ([]session.RunRecord, error) {
	if sessionID == "" {
		return nil, errors.New("jsonlstore: session id is required")
	}
	snap, _, err := s.replay(sessionID)
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

	out := make([]session.RunRecord, 0, len(snap.runs))
	for _, r := range snap.runs {
		if allowed != nil {
			if _, ok := allowed[r.Status]; !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// GetState implements session.Store.
func (s *Store) GetState(_ context.Context, sessionID string) (map[string]any, error) {
	if sessionID == "" {
		return nil, errors.New("jsonlstore: session id is required")
	}
	snap, _, err := s.replay(sessionID)
	if err != nil {
		return nil, err
	}
	if snap.state == nil {
		return map[string]any{}, nil
	}
	return snap.state, nil
}

// SetState implements session.Store.
func (s *Store) SetState(_ context.Context, sessionID string, state map[string]any) error {
	if sessionID == "" {
		return errors.New("jsonlstore: session id is required")
	}
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("jsonlstore: marshal state: %w", err)
	}
	return s.append(sessionID, line{Type: lineState, State: b})
}

// Close flushes and closes every open session file. Safe to call once at
// process shutdown.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, sf := range s.files {
		sf.mu.Lock()
		if err := sf.w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := sf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		sf.mu.Unlock()
		delete(s.files, id)
	}
	return firstErr
}

type snapshot struct {
	sess session.Session
	runs []session.RunRecord
	state map[string]any
}

// replay reconstructs a session's current state by reading its file from
// the start. ok is false when the session has no file yet.
func (s *Store) replay(sessionID string) (snapshot, bool, error) {
	path := s.pathFor(sessionID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot{}, false, nil
		}
		return snapshot{}, false, fmt.Errorf("jsonlstore: open session file: %w", err)
	}
	defer f.Close()

	var snap snapshot
	var seenCreate bool
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var l line
		if err := json.Unmarshal([]byte(text), &l); err != nil {
			return snapshot{}, false, fmt.Errorf("jsonlstore: decode line: %w", err)
		}
		switch l.Type {
		case lineCreated:
			seenCreate = true
			at, err := time.Parse(timestampFormat, l.At)
			if err != nil {
				return snapshot{}, false, fmt.Errorf("jsonlstore: parse created_at: %w", err)
			}
			snap.sess = session.Session{
				ID:        sessionID,
				Owner:     l.Owner,
				Name:      l.Name,
				Status:    session.StatusActive,
				CreatedAt: at,
			}
		case lineRun:
			snap.runs = append(snap.runs, runRecordFrom(l.Run))
		case lineState:
			var st map[string]any
			if len(l.State) > 0 {
				if err := json.Unmarshal(l.State, &st); err != nil {
					return snapshot{}, false, fmt.Errorf("jsonlstore: decode state: %w", err)
				}
			}
			snap.state = st
		case lineEnded:
			at, err := time.Parse(timestampFormat, l.At)
			if err != nil {
				return snapshot{}, false, fmt.Errorf("jsonlstore: parse ended_at: %w", err)
			}
			snap.sess.Status = session.StatusEnded
			snap.sess.EndedAt = &at
		}
	}
	if err := scanner.Err(); err != nil {
		return snapshot{}, false, fmt.Errorf("jsonlstore: scan session file: %w", err)
	}
	return snap, seenCreate, nil
}

func runRecordFrom(rl *runLine) session.RunRecord {
	rec := session.RunRecord{
		RunID:         rl.RunID,
		ParentRunID:   rl.ParentRunID,
		AgentID:       rl.AgentID,
		Task:          rl.Task,
		FinalResponse: rl.FinalResponse,
		Status:        session.RunStatus(rl.Status),
		Labels:        rl.Labels,
		Metadata:      rl.Metadata,
	}
	if rl.StartedAt != "" {
		if t, err := time.Parse(timestampFormat, rl.StartedAt); err == nil {
			rec.StartedAt = t
		}
	}
	if rl.EndedAt != "" {
		if t, err := time.Parse(timestampFormat, rl.EndedAt); err == nil {
			rec.EndedAt = t
		}
	}
	return rec
}

func (s *Store) append(sessionID string, l line) error {
	sf, err := s.fileFor(sessionID)
	if err != nil {
		return err
	}

	sf.mu.Lock()
	defer sf.mu.Unlock()

	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("jsonlstore: marshal line: %w", err)
	}
	if _, err := sf.w.Write(b); err != nil {
		return fmt.Errorf("jsonlstore: write line: %w", err)
	}
	if err := sf.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("jsonlstore: write newline: %w", err)
	}
	return sf.w.Flush()
}

func (s *Store) fileFor(sessionID string) (*sessionFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sf, ok := s.files[sessionID]; ok {
		return sf, nil
	}

	f, err := os.OpenFile(s.pathFor(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonlstore: open session file: %w", err)
	}
	sf := &sessionFile{f: f, w: bufio.NewWriter(f)}
	s.files[sessionID] = sf
	return sf, nil
}

func (s *Store) pathFor(sessionID string) string {
	return filepath.Join(s.dir, sanitize(sessionID)+".jsonl")
}

// sanitize strips path separators from a session ID so it can't escape dir.
func sanitize(sessionID string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(sessionID)
}
