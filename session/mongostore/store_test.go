package mongostore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/session"
)

type fakeClient struct {
	sess    session.Session
	getErr  error
	runs    []session.RunRecord
	listErr error
	state   map[string]any
}

func (f *fakeClient) Name() string                   { return "fake-session-mongo" }
func (f *fakeClient) Ping(ctx context.Context) error { return nil }

func (f *fakeClient) GetOrCreate(ctx context.Context, sessionID, owner, name string) (session.Session, error) {
	return f.sess, f.getErr
}

func (f *fakeClient) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (session.Session, error) {
	f.sess.Status = session.StatusEnded
	return f.sess, nil
}

func (f *fakeClient) AppendRun(ctx context.Context, sessionID string, record session.RunRecord) error {
	f.runs = append(f.runs, record)
	return nil
}

func (f *fakeClient) ListRuns(ctx context.Context, sessionID string, statuses []session.RunStatus) ([]session.RunRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.runs, nil
}

func (f *fakeClient) GetState(ctx context.Context, sessionID string) (map[string]any, error) {
	return f.state, nil
}

func (f *fakeClient) SetState(ctx context.Context, sessionID string, state map[string]any) error {
	f.state = state
	return nil
}

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(nil)
	assert.Error(t, err)
}

func TestStoreGetOrCreateDelegatesToClient(t *testing.T) {
	fc := &fakeClient{sess: session.Session{ID: "sess-1", Status: session.StatusActive}}
	s, err := NewStore(fc)
	require.NoError(t, err)

	got, err := s.GetOrCreate(context.Background(), "sess-1", "alice", "chat")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ID)
}

func TestStoreAppendAndListRunsDelegatesToClient(t *testing.T) {
	fc := &fakeClient{}
	s, err := NewStore(fc)
	require.NoError(t, err)

	require.NoError(t, s.AppendRun(context.Background(), "sess-1", session.RunRecord{RunID: "r1"}))
	runs, err := s.ListRuns(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].RunID)
}

func TestStoreStateDelegatesToClient(t *testing.T) {
	fc := &fakeClient{}
	s, err := NewStore(fc)
	require.NoError(t, err)

	require.NoError(t, s.SetState(context.Background(), "sess-1", map[string]any{"k": "v"}))
	got, err := s.GetState(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "v", got["k"])
}
