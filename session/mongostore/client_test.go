package mongostore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentrun/agentrun/session"
)

func TestEnsureIndexes(t *testing.T) {
	sessions := newFakeSessionsCollection()
	runs := newFakeRunsCollection()
	err := ensureIndexes(context.Background(), sessions, runs)
	require.NoError(t, err)
	require.Equal(t, 1, sessions.indexCreated)
	require.Equal(t, 3, runs.indexCreated)
}

func TestGetOrCreateLoadEndSession(t *testing.T) {
	client := mustNewTestClient()
	sess, err := client.GetOrCreate(context.Background(), "sess-1", "alice", "support chat")
	require.NoError(t, err)
	require.Equal(t, "sess-1", sess.ID)
	require.Equal(t, "alice", sess.Owner)
	require.Equal(t, session.StatusActive, sess.Status)

	end := time.Now().UTC()
	ended, err := client.EndSession(context.Background(), "sess-1", end)
	require.NoError(t, err)
	require.Equal(t, session.StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	client := mustNewTestClient()
	first, err := client.GetOrCreate(context.Background(), "sess-1", "alice", "chat")
	require.NoError(t, err)

	again, err := client.GetOrCreate(context.Background(), "sess-1", "bob", "ignored")
	require.NoError(t, err)
	require.Equal(t, first.Owner, again.Owner)
}

func TestGetOrCreateRejectsEndedSession(t *testing.T) {
	client := mustNewTestClient()
	_, err := client.GetOrCreate(context.Background(), "sess-1", "alice", "chat")
	require.NoError(t, err)
	_, err = client.EndSession(context.Background(), "sess-1", time.Now().UTC())
	require.NoError(t, err)

	_, err = client.GetOrCreate(context.Background(), "sess-1", "alice", "chat")
	require.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestAppendRunAndListRuns(t *testing.T) {
	client := mustNewTestClient()
	_, err := client.GetOrCreate(context.Background(), "sess-1", "alice", "chat")
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, client.AppendRun(context.Background(), "sess-1", session.RunRecord{
		RunID: "run-1", Task: "t1", FinalResponse: "a1", Status: session.RunStatusCompleted, StartedAt: now,
	}))
	require.NoError(t, client.AppendRun(context.Background(), "sess-1", session.RunRecord{
		RunID: "run-2", Task: "t2", FinalResponse: "a2", Status: session.RunStatusFailed, StartedAt: now,
	}))

	out, err := client.ListRuns(context.Background(), "sess-1", []session.RunStatus{session.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "run-2", out[0].RunID)
}

func TestAppendRunRejectsEndedSession(t *testing.T) {
	client := mustNewTestClient()
	_, err := client.GetOrCreate(context.Background(), "sess-1", "alice", "chat")
	require.NoError(t, err)
	_, err = client.EndSession(context.Background(), "sess-1", time.Now().UTC())
	require.NoError(t, err)

	err = client.AppendRun(context.Background(), "sess-1", session.RunRecord{RunID: "run-1"})
	require.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestGetSetState(t *testing.T) {
	client := mustNewTestClient()
	_, err := client.GetOrCreate(context.Background(), "sess-1", "alice", "chat")
	require.NoError(t, err)

	require.NoError(t, client.SetState(context.Background(), "sess-1", map[string]any{"budget_used": 3}))
	got, err := client.GetState(context.Background(), "sess-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, got["budget_used"])
}

func mustNewTestClient() *client {
	sessions := newFakeSessionsCollection()
	runs := newFakeRunsCollection()
	cl, err := newClientWithCollections(nil, sessions, runs, time.Second)
	if err != nil {
		panic(err)
	}
	return cl
}

type fakeRunsCollection struct {
	mu           sync.Mutex
	indexCreated int
	docs         []runDocument
}

func newFakeRunsCollection() *fakeRunsCollection {
	return &fakeRunsCollection{}
}

func (c *fakeRunsCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return fakeSingleResult{err: mongodriver.ErrNoDocuments}
}

func (c *fakeRunsCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := filter.(bson.M)
	sessionID, _ := f["session_id"].(string)
	var allowed map[session.RunStatus]struct{}
	if raw, ok := f["status"].(bson.M); ok {
		if in, ok := raw["$in"].([]session.RunStatus); ok {
			allowed = make(map[session.RunStatus]struct{}, len(in))
			for _, st := range in {
				allowed[st] = struct{}{}
			}
		}
	}
	var docs []any
	for _, doc := range c.docs {
		if doc.SessionID != sessionID {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[doc.Status]; !ok {
				continue
			}
		}
		d := doc
		docs = append(docs, &d)
	}
	return newFakeCursor(docs), nil
}

func (c *fakeRunsCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := document.(runDocument)
	if !ok {
		return nil, errors.New("unsupported document type")
	}
	c.docs = append(c.docs, doc)
	return &mongodriver.InsertOneResult{}, nil
}

func (c *fakeRunsCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return nil, errors.New("not supported")
}

func (c *fakeRunsCollection) Indexes() indexView {
	return fakeIndexView{parent: &c.indexCreated}
}

type fakeIndexView struct {
	parent *int
}

func (v fakeIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	if len(model.Keys.(bson.D)) == 0 {
		return "", errors.New("missing keys")
	}
	*v.parent++
	return "idx", nil
}

type fakeSingleResult struct {
	doc any
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	switch typed := val.(type) {
	case *runDocument:
		*typed = *(r.doc.(*runDocument))
	case *sessionDocument:
		*typed = *(r.doc.(*sessionDocument))
	default:
		return errors.New("unsupported target")
	}
	return nil
}

type fakeSessionsCollection struct {
	mu           sync.Mutex
	indexCreated int
	docs         map[string]sessionDocument
}

func newFakeSessionsCollection() *fakeSessionsCollection {
	return &fakeSessionsCollection{docs: make(map[string]sessionDocument)}
}

func (c *fakeSessionsCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	sessionID := filter.(bson.M)["session_id"].(string)
	doc, ok := c.docs[sessionID]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	copyDoc := doc
	return fakeSingleResult{doc: &copyDoc}
}

func (c *fakeSessionsCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return newFakeCursor(nil), nil
}

func (c *fakeSessionsCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return nil, errors.New("not supported")
}

func (c *fakeSessionsCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessionID := filter.(bson.M)["session_id"].(string)
	doc, existed := c.docs[sessionID]

	up := update.(bson.M)
	if soi, ok := up["$setOnInsert"].(bson.M); ok && !existed {
		if v, ok := soi["session_id"].(string); ok {
			doc.SessionID = v
		}
		if v, ok := soi["owner"].(string); ok {
			doc.Owner = v
		}
		if v, ok := soi["name"].(string); ok {
			doc.Name = v
		}
		if v, ok := soi["status"].(session.Status); ok {
			doc.Status = v
		}
		if v, ok := soi["created_at"].(time.Time); ok {
			doc.CreatedAt = v
		}
		if v, ok := soi["updated_at"].(time.Time); ok {
			doc.UpdatedAt = v
		}
	}

	if set, ok := up["$set"].(bson.M); ok {
		if v, ok := set["status"].(session.Status); ok {
			doc.Status = v
		}
		if v, ok := set["ended_at"].(time.Time); ok {
			doc.EndedAt = &v
		}
		if v, ok := set["updated_at"].(time.Time); ok {
			doc.UpdatedAt = v
		}
		if v, ok := set["state"]; ok {
			m, _ := v.(map[string]any)
			doc.State = bson.M(m)
		}
	}

	c.docs[sessionID] = doc
	matched := int64(0)
	if existed {
		matched = 1
	}
	return &mongodriver.UpdateResult{MatchedCount: matched}, nil
}

func (c *fakeSessionsCollection) Indexes() indexView {
	return fakeIndexView{parent: &c.indexCreated}
}

type fakeCursor struct {
	docs []any
	idx  int
}

func newFakeCursor(docs []any) *fakeCursor {
	return &fakeCursor{docs: docs, idx: -1}
}

func (c *fakeCursor) Close(ctx context.Context) error { return nil }

func (c *fakeCursor) Decode(val any) error {
	if c.idx < 0 || c.idx >= len(c.docs) {
		return errors.New("no document")
	}
	switch typed := val.(type) {
	case *runDocument:
		*typed = *(c.docs[c.idx].(*runDocument))
	case *sessionDocument:
		*typed = *(c.docs[c.idx].(*sessionDocument))
	default:
		return errors.New("unsupported target")
	}
	return nil
}

func (c *fakeCursor) Err() error { return nil }

func (c *fakeCursor) Next(ctx context.Context) bool {
	next := c.idx + 1
	if next >= len(c.docs) {
		return false
	}
	c.idx = next
	return true
}
