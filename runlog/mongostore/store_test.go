package mongostore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrun/agentrun/runlog"
)

type fakeClient struct {
	appended []*runlog.Event
	appendErr error
	page      runlog.Page
	listErr   error
}

func (f *fakeClient) Name() string                { return "fake-runlog-mongo" }
func (f *fakeClient) Ping(ctx context.Context) error { return nil }

func (f *fakeClient) Append(ctx context.Context, e *runlog.Event) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	e.ID = "generated-id"
	f.appended = append(f.appended, e)
	return nil
}

func (f *fakeClient) List(ctx context.Context, runID string, cursor string, limit int) (runlog.Page, error) {
	if f.listErr != nil {
		return runlog.Page{}, f.listErr
	}
	return f.page, nil
}

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(nil)
	assert.Error(t, err)
}

func TestStoreAppendDelegatesToClient(t *testing.T) {
	fc := &fakeClient{}
	s, err := NewStore(fc)
	require.NoError(t, err)

	e := &runlog.Event{RunID: "run-1", Type: runlog.TypeStep, Payload: json.RawMessage(`{}`), Timestamp: time.Now()}
	require.NoError(t, s.Append(context.Background(), e))
	assert.Equal(t, "generated-id", e.ID)
	require.Len(t, fc.appended, 1)
}

func TestStoreListDelegatesToClient(t *testing.T) {
	fc := &fakeClient{page: runlog.Page{Events: []*runlog.Event{{ID: "1", RunID: "run-1"}}, NextCursor: "1"}}
	s, err := NewStore(fc)
	require.NoError(t, err)

	page, err := s.List(context.Background(), "run-1", "", 10)
	require.NoError(t, err)
	assert.Equal(t, "1", page.NextCursor)
	require.Len(t, page.Events, 1)
}
