// Package jsonlstore implements runlog.Store as one append-only JSONL file
// per run: the AgentLogger's default, no-external-dependency sink. Each line
// is a JSON object {"seq", "id", "run_id", "session_id", "type", "ts",
// "payload"}, written in append mode so a crashed process leaves a valid
// prefix of well-formed lines behind.
//
// This is the one durable runlog backend built directly on the standard library: a
// line-delimited file format has no natural third-party client in the
// pack (the Mongo and gRPC backends cover the networked cases), and
// os.OpenFile/bufio is the idiomatic way to own an append-only file's
// lifecycle in Go.
package jsonlstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentrun/agentrun/runlog"
)

type (
	// Store writes one JSONL file per run under Dir, named "<run_id>.jsonl".
	Store struct {
		dir string

		mu    sync.Mutex
		files map[string]*runFile
	}

	runFile struct {
		mu      sync.Mutex
		f       *os.File
		w       *bufio.Writer
		nextSeq int64
	}

	line struct {
		Seq       int64           `json:"seq"`
		ID        string          `json:"id"`
		RunID     string          `json:"run_id"`
		SessionID string          `json:"session_id,omitempty"`
		Type      string          `json:"type"`
		Timestamp string          `json:"ts"`
		Payload   json.RawMessage `json:"payload,omitempty"`
	}
)

const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// New returns a Store that writes one JSONL file per run under dir,
// creating dir if it does not already exist.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("jsonlstore: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonlstore: create dir: %w", err)
	}
	return &Store{dir: dir, files: make(map[string]*runFile)}, nil
}

// Append implements runlog.Store. Appends are serialized per run and
// flushed synchronously so a caller that observes a successful Append can
// trust the line is durable on disk.
func (s *Store) Append(_ context.Context, e *runlog.Event) error {
	if e == nil {
		return errors.New("jsonlstore: event is required")
	}
	if e.RunID == "" {
		return errors.New("jsonlstore: run_id is required")
	}
	if e.Type == "" {
		return errors.New("jsonlstore: type is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("jsonlstore: timestamp is required")
	}

	rf, err := s.runFileFor(e.RunID)
	if err != nil {
		return err
	}

	rf.mu.Lock()
	defer rf.mu.Unlock()

	rf.nextSeq++
	e.ID = strconv.FormatInt(rf.nextSeq, 10)

	l := line{
		Seq:       rf.nextSeq,
		ID:        e.ID,
		RunID:     e.RunID,
		SessionID: e.SessionID,
		Type:      e.Type,
		Timestamp: e.Timestamp.UTC().Format(timestampFormat),
		Payload:   e.Payload,
	}
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("jsonlstore: marshal event: %w", err)
	}
	if _, err := rf.w.Write(b); err != nil {
		return fmt.Errorf("jsonlstore: write event: %w", err)
	}
	if err := rf.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("jsonlstore: write newline: %w", err)
	}
	if err := rf.w.Flush(); err != nil {
		return err
	}
	return rf.f.Sync()
}

// List implements runlog.Store by scanning the run's JSONL file. Cursor is
// the sequence number of the last event already seen by the caller.
func (s *Store) List(_ context.Context, runID string, cursor string, limit int) (runlog.Page, error) {
	if runID == "" {
		return runlog.Page{}, errors.New("jsonlstore: run_id is required")
	}
	if limit <= 0 {
		return runlog.Page{}, errors.New("jsonlstore: limit must be > 0")
	}

	var after int64
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return runlog.Page{}, fmt.Errorf("jsonlstore: invalid cursor %q: %w", cursor, err)
		}
		after = n
	}

	path := s.pathFor(runID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return runlog.Page{}, nil
		}
		return runlog.Page{}, fmt.Errorf("jsonlstore: open run file: %w", err)
	}
	defer f.Close()

	var events []*runlog.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var l line
		if err := json.Unmarshal([]byte(text), &l); err != nil {
			return runlog.Page{}, fmt.Errorf("jsonlstore: decode line: %w", err)
		}
		if l.Seq <= after {
			continue
		}
		ts, err := time.Parse(timestampFormat, l.Timestamp)
		if err != nil {
			return runlog.Page{}, fmt.Errorf("jsonlstore: parse timestamp: %w", err)
		}
		events = append(events, &runlog.Event{
			ID:        l.ID,
			RunID:     l.RunID,
			SessionID: l.SessionID,
			Type:      l.Type,
			Payload:   l.Payload,
			Timestamp: ts,
		})
		if len(events) >= limit+1 {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return runlog.Page{}, fmt.Errorf("jsonlstore: scan run file: %w", err)
	}

	var next string
	if len(events) > limit {
		next = events[limit-1].ID
		events = events[:limit]
	}
	return runlog.Page{Events: events, NextCursor: next}, nil
}

func (s *Store) runFileFor(runID string) (*runFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rf, ok := s.files[runID]; ok {
		return rf, nil
	}

	f, err := os.OpenFile(s.pathFor(runID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonlstore: open run file: %w", err)
	}
	rf := &runFile{f: f, w: bufio.NewWriter(f)}
	s.files[runID] = rf
	return rf, nil
}

func (s *Store) pathFor(runID string) string {
	return filepath.Join(s.dir, sanitize(runID)+".jsonl")
}

// sanitize strips path separators from a run ID so it can't escape dir.
func sanitize(runID string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(runID)
}

// Close flushes and closes every open run file. Safe to call once at
// process shutdown.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, rf := range s.files {
		rf.mu.Lock()
		if err := rf.w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := rf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		rf.mu.Unlock()
		delete(s.files, id)
	}
	return firstErr
}
