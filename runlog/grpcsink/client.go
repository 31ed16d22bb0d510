// Package grpcsink forwards runlog.Store calls to a remote RunLogSink
// service over gRPC, for deployments where the workflow process and the
// durable run log collector are separate services.
package grpcsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"

	"github.com/agentrun/agentrun/runlog"
)

// Client adapts a gRPC RunLogSink connection to runlog.Store.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an established *grpc.ClientConn. Callers own the
// connection's lifecycle (dial options, TLS, retries) and must Close it.
func NewClient(conn *grpc.ClientConn) (*Client, error) {
	if conn == nil {
		return nil, errors.New("grpcsink: conn is required")
	}
	return &Client{conn: conn}, nil
}

// Append implements runlog.Store by forwarding the event over gRPC.
func (c *Client) Append(ctx context.Context, e *runlog.Event) error {
	if e == nil {
		return errors.New("grpcsink: event is required")
	}
	if e.RunID == "" {
		return errors.New("grpcsink: run_id is required")
	}

	req := &AppendRequest{
		RunID:     e.RunID,
		SessionID: e.SessionID,
		Type:      e.Type,
		Payload:   append(json.RawMessage(nil), e.Payload...),
		Timestamp: e.Timestamp.UnixNano(),
	}
	resp := new(AppendResponse)
	if err := c.conn.Invoke(ctx, fullMethod(methodAppend), req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return fmt.Errorf("grpcsink: append: %w", err)
	}
	e.ID = resp.ID
	return nil
}

// List implements runlog.Store by forwarding the query over gRPC.
func (c *Client) List(ctx context.Context, runID string, cursor string, limit int) (runlog.Page, error) {
	if runID == "" {
		return runlog.Page{}, errors.New("grpcsink: run_id is required")
	}
	if limit <= 0 {
		return runlog.Page{}, errors.New("grpcsink: limit must be > 0")
	}

	req := &ListRequest{RunID: runID, Cursor: cursor, Limit: int32(limit)}
	resp := new(ListResponse)
	if err := c.conn.Invoke(ctx, fullMethod(methodList), req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return runlog.Page{}, fmt.Errorf("grpcsink: list: %w", err)
	}

	events := make([]*runlog.Event, 0, len(resp.Events))
	for _, w := range resp.Events {
		events = append(events, &runlog.Event{
			ID:        w.ID,
			RunID:     w.RunID,
			SessionID: w.SessionID,
			Type:      w.Type,
			Payload:   w.Payload,
			Timestamp: time.Unix(0, w.Timestamp).UTC(),
		})
	}
	return runlog.Page{Events: events, NextCursor: resp.NextCursor}, nil
}
