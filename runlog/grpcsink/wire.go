package grpcsink

import "encoding/json"

// AppendRequest/AppendResponse and ListRequest/ListResponse are the wire
// messages exchanged over the RunLogSink service. They travel as plain JSON
// under the runlogjson codec (see codec.go) rather than generated protobuf
// types.
type (
	AppendRequest struct {
		RunID     string          `json:"run_id"`
		SessionID string          `json:"session_id,omitempty"`
		Type      string          `json:"type"`
		Payload   json.RawMessage `json:"payload,omitempty"`
		Timestamp int64           `json:"timestamp_unix_nano"`
	}

	AppendResponse struct {
		ID string `json:"id"`
	}

	ListRequest struct {
		RunID  string `json:"run_id"`
		Cursor string `json:"cursor,omitempty"`
		Limit  int32  `json:"limit"`
	}

	ListResponse struct {
		Events     []*EventWire `json:"events,omitempty"`
		NextCursor string       `json:"next_cursor,omitempty"`
	}

	EventWire struct {
		ID        string          `json:"id"`
		RunID     string          `json:"run_id"`
		SessionID string          `json:"session_id,omitempty"`
		Type      string          `json:"type"`
		Payload   json.RawMessage `json:"payload,omitempty"`
		Timestamp int64           `json:"timestamp_unix_nano"`
	}
)
