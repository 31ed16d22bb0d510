package grpcsink

import (
	"context"
	"time"

	"github.com/agentrun/agentrun/runlog"
)

// StoreSink adapts a runlog.Store to the Sink server interface, so an
// existing Store (inmem, mongostore, jsonlstore) can be exposed to remote
// workflow processes over gRPC.
type StoreSink struct {
	Store runlog.Store
}

// NewStoreSink wraps store as a Sink.
func NewStoreSink(store runlog.Store) *StoreSink {
	return &StoreSink{Store: store}
}

func (s *StoreSink) Append(ctx context.Context, req *AppendRequest) (*AppendResponse, error) {
	e := &runlog.Event{
		RunID:     req.RunID,
		SessionID: req.SessionID,
		Type:      req.Type,
		Payload:   req.Payload,
		Timestamp: time.Unix(0, req.Timestamp).UTC(),
	}
	if err := s.Store.Append(ctx, e); err != nil {
		return nil, err
	}
	return &AppendResponse{ID: e.ID}, nil
}

func (s *StoreSink) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	page, err := s.Store.List(ctx, req.RunID, req.Cursor, int(req.Limit))
	if err != nil {
		return nil, err
	}
	events := make([]*EventWire, 0, len(page.Events))
	for _, e := range page.Events {
		events = append(events, &EventWire{
			ID:        e.ID,
			RunID:     e.RunID,
			SessionID: e.SessionID,
			Type:      e.Type,
			Payload:   e.Payload,
			Timestamp: e.Timestamp.UnixNano(),
		})
	}
	return &ListResponse{Events: events, NextCursor: page.NextCursor}, nil
}
