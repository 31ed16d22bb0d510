package toolregistry

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type (
	// SandboxClient is the narrow contract to the external sandbox daemon:
	// it executes a named tool call inside the isolated environment for a
	// session. The daemon itself is out of scope here.
	SandboxClient interface {
		Invoke(ctx context.Context, sessionID, toolName string, args json.RawMessage) (ToolResult, error)
	}

	// Sandbox is a Tool that forwards execution to a session-scoped
	// SandboxClient instance instead of running in-process. It is the
	// sandbox-substituted replacement for a native tool with the same name.
	Sandbox struct {
		Name        string
		Description string
		Parameters  json.RawMessage
		SessionID   string
		Client      SandboxClient
	}

	// Pool keys sandbox instances by session_id, creating one on first use
	// and tearing it down on TTL expiry. Concurrent requests for the same
	// session share the same instance.
	Pool struct {
		mu      sync.Mutex
		ttl     time.Duration
		entries map[string]*poolEntry
		newFn   func(sessionID string) SandboxClient
	}

	poolEntry struct {
		client SandboxClient
		timer  *time.Timer
	}
)

// NewPool returns a Pool that creates sandbox clients via newFn and expires
// idle sessions after ttl (default 3600s per spec §6 when ttl<=0).
func NewPool(ttl time.Duration, newFn func(sessionID string) SandboxClient) *Pool {
	if ttl <= 0 {
		ttl = 3600 * time.Second
	}
	return &Pool{ttl: ttl, entries: make(map[string]*poolEntry), newFn: newFn}
}

// Get returns the shared SandboxClient for sessionID, creating it on first
// use and resetting its expiry timer on every call.
func (p *Pool) Get(sessionID string) SandboxClient {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[sessionID]; ok {
		e.timer.Reset(p.ttl)
		return e.client
	}

	client := p.newFn(sessionID)
	e := &poolEntry{client: client}
	e.timer = time.AfterFunc(p.ttl, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if cur, ok := p.entries[sessionID]; ok && cur == e {
			delete(p.entries, sessionID)
		}
	})
	p.entries[sessionID] = e
	return client
}

// Descriptor implements Tool.
func (s *Sandbox) Descriptor() Descriptor {
	return Descriptor{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  s.Parameters,
		Source:      SourceSandbox,
	}
}

// Invoke implements Tool by forwarding to the session-scoped SandboxClient.
func (s *Sandbox) Invoke(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	return s.Client.Invoke(ctx, s.SessionID, s.Name, args)
}
