package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentrun/agentrun/agentloop"
	"github.com/agentrun/agentrun/config"
	"github.com/agentrun/agentrun/humaninput"
	"github.com/agentrun/agentrun/promptasm"
	"github.com/agentrun/agentrun/runlog"
	"github.com/agentrun/agentrun/runtime/agent/model"
	"github.com/agentrun/agentrun/session"
	"github.com/agentrun/agentrun/toolregistry"
)

// serverDeps are the already-constructed collaborators a server needs. Every
// field is an interface or a concrete type constructed once at startup in
// main, never recreated per request.
type serverDeps struct {
	Config    config.Config
	Model     model.Client
	Tools     *toolregistry.Registry
	RunLog    runlog.Store
	RunLogDir string
	Sessions  session.Store
}

// runTracker owns the single consumption of one agentloop.RunHandle's
// Events channel and its one legal Wait call, for the handle's entire
// lifetime — which may span several HTTP requests when the run suspends at
// PAUSED_FOR_INPUT and waits for a follow-up message. RunHandle.Wait must
// be called exactly once (a second call after the events channel is
// already closed double-closes it), and Events() has no fan-out of its
// own, so neither can be touched directly per-request; every HTTP handler
// goes through the tracker's milestone/subscribe API instead.
type runTracker struct {
	handle *agentloop.RunHandle

	mu        sync.Mutex
	lastPause *agentloop.Event
	listeners map[int]chan agentloop.Event
	nextID    int

	pauseCh chan struct{}
	doneCh  chan struct{}
	result  *agentloop.RunResult
	waitErr error
}

func newRunTracker(handle *agentloop.RunHandle) *runTracker {
	t := &runTracker{
		handle:    handle,
		listeners: make(map[int]chan agentloop.Event),
		pauseCh:   make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
	}
	go t.drainEvents()
	go t.awaitResult()
	return t
}

func (t *runTracker) drainEvents() {
	for e := range t.handle.Events() {
		t.mu.Lock()
		for _, ch := range t.listeners {
			select {
			case ch <- e:
			default:
			}
		}
		if e.Type == agentloop.EventInputRequested {
			ev := e
			t.lastPause = &ev
		}
		t.mu.Unlock()
		if e.Type == agentloop.EventInputRequested {
			select {
			case t.pauseCh <- struct{}{}:
			default:
			}
		}
	}
}

// awaitResult makes the handle's one legal Wait call, detached from any
// particular HTTP request's context: the workflow runs independently of
// whichever request happened to be attached when it paused, so waiting on
// a request-scoped context here would falsely report the run as errored
// (and close its events channel) the moment that request's connection
// closed.
func (t *runTracker) awaitResult() {
	result, err := t.handle.Wait(context.Background())
	t.mu.Lock()
	t.result, t.waitErr = result, err
	t.mu.Unlock()
	close(t.doneCh)
}

// subscribe registers ch to receive every event observed from now on,
// until unsubscribe is called. Used by the streaming handler only; the
// blocking handler never subscribes.
func (t *runTracker) subscribe(ch chan agentloop.Event) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = ch
	return id
}

func (t *runTracker) unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.listeners, id)
}

// awaitMilestone blocks until the run's next pause-for-input or its
// terminal result, whichever comes first. A pause already observed before
// this call (and not yet consumed via takePause) is reported immediately.
func (t *runTracker) awaitMilestone(ctx context.Context) (paused bool, err error) {
	t.mu.Lock()
	hasPause := t.lastPause != nil
	t.mu.Unlock()
	if hasPause {
		return true, nil
	}
	select {
	case <-t.pauseCh:
		return true, nil
	case <-t.doneCh:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// takePause returns and clears the last observed pause, if any.
func (t *runTracker) takePause() *agentloop.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lastPause
	t.lastPause = nil
	return e
}

// server implements the run/run-stream HTTP surface spec.md §6 describes.
// HTTP routing and SSE framing are this command's concern, not the core
// packages': the server type exists entirely to translate between
// net/http and agentloop.
type server struct {
	deps serverDeps

	mu   sync.Mutex
	runs map[string]*runTracker
}

func newServer(deps serverDeps) *server {
	return &server{deps: deps, runs: make(map[string]*runTracker)}
}

func (s *server) mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", s.handleRun)
	mux.HandleFunc("GET /run/stream", s.handleRunStream)
	return mux
}

type runRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type runResponse struct {
	Success       bool                 `json:"success"`
	Message       string               `json:"message,omitempty"`
	Steps         int                  `json:"steps,omitempty"`
	Logs          []string             `json:"logs,omitempty"`
	RunID         string               `json:"run_id"`
	SessionID     string               `json:"session_id"`
	RequiresInput bool                 `json:"requires_input,omitempty"`
	InputRequest  *inputRequestPayload `json:"input_request,omitempty"`
}

type inputRequestPayload struct {
	ToolCallID string              `json:"tool_call_id"`
	Fields     []inputFieldPayload `json:"fields"`
	Context    string              `json:"context,omitempty"`
}

type inputFieldPayload struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// handleRun implements the blocking `run` endpoint: it either starts a new
// run or, when sessionID names a run already suspended at PAUSED_FOR_INPUT,
// delivers message as that run's answer. Either way it blocks until the run
// reaches a terminal state or suspends again.
func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if req.SessionID == "" {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("session_id is required"))
		return
	}

	resp, err := s.runOrResume(r.Context(), req)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// runOrResume is the shared orchestration logic behind both the blocking
// and streaming endpoints. onEvent, when non-nil, is invoked for every
// internal event observed while waiting (the streaming handler uses this to
// forward SSE frames as they happen; the blocking handler leaves it nil and
// only inspects the terminal outcome).
func (s *server) runOrResume(ctx context.Context, req runRequest) (runResponse, error) {
	return s.runOrResumeWithEvents(ctx, req, nil)
}

func (s *server) runOrResumeWithEvents(ctx context.Context, req runRequest, onEvent func(agentloop.Event)) (runResponse, error) {
	s.mu.Lock()
	tracker, resuming := s.runs[req.SessionID]
	s.mu.Unlock()

	if resuming {
		pause := tracker.takePause()
		if pause == nil {
			return runResponse{}, fmt.Errorf("session %s has no run awaiting input", req.SessionID)
		}
		ans := humaninput.Answer{ToolCallID: pause.ToolCallID, Values: parseUserInputAnswer(req.Message)}
		if err := humaninput.Deliver(ctx, tracker.handle, ans); err != nil {
			return runResponse{}, fmt.Errorf("deliver user input answer: %w", err)
		}
	} else {
		handle, err := s.startRun(ctx, req)
		if err != nil {
			return runResponse{}, err
		}
		tracker = newRunTracker(handle)
		s.mu.Lock()
		s.runs[req.SessionID] = tracker
		s.mu.Unlock()
	}

	return s.awaitOutcome(ctx, req.SessionID, tracker, onEvent)
}

func (s *server) startRun(ctx context.Context, req runRequest) (*agentloop.RunHandle, error) {
	sess, err := s.deps.Sessions.GetOrCreate(ctx, req.SessionID, "", "")
	if err != nil {
		return nil, fmt.Errorf("get or create session: %w", err)
	}

	history, err := session.HistoryContext(ctx, s.deps.Sessions, sess.ID, "history", 10)
	if err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}

	system := promptasm.Build(promptasm.PromptConfig{
		Name:              "agentrun",
		Role:              "a capable assistant that uses the tools available to it to complete tasks",
		AddDatetime:       true,
		AdditionalContext: history,
	}, toolUsageNotes(s.deps.Tools), nil, promptasm.Env{Now: time.Now})

	loop := agentloop.New()
	handle, err := loop.Start(ctx, req.Message, agentloop.RunConfig{
		SessionID: req.SessionID,
		Model:     s.deps.Model,
		ModelID:   s.deps.Config.LLMModel,
		System:    system,
		Tools:     s.deps.Tools,
		MaxSteps:  s.deps.Config.AgentMaxSteps,
		Log:       s.deps.RunLog,
	})
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return handle, nil
}

// awaitOutcome blocks until tracker's run either suspends at
// PAUSED_FOR_INPUT again (kept registered in s.runs, returned with
// RequiresInput set) or reaches a terminal state (removed from s.runs and
// recorded in the session's run history). When onEvent is non-nil, every
// event observed while waiting is also forwarded to it as it happens —
// the streaming handler uses this; the blocking handler passes nil and
// only inspects the terminal outcome.
func (s *server) awaitOutcome(ctx context.Context, sessionID string, tracker *runTracker, onEvent func(agentloop.Event)) (runResponse, error) {
	if onEvent != nil {
		ch := make(chan agentloop.Event, 64)
		id := tracker.subscribe(ch)
		defer tracker.unsubscribe(id)
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			for {
				select {
				case e := <-ch:
					onEvent(e)
				case <-stop:
					return
				}
			}
		}()
	}

	paused, err := tracker.awaitMilestone(ctx)
	if err != nil {
		return runResponse{}, err
	}

	if paused {
		// Peek rather than take: the pause stays registered on tracker
		// until the session's next request actually delivers an answer
		// (runOrResumeWithEvents's resuming branch clears it then), so a
		// retried or duplicate poll still finds it.
		tracker.mu.Lock()
		pause := tracker.lastPause
		tracker.mu.Unlock()
		if pause == nil {
			return runResponse{}, fmt.Errorf("session %s: pause observed but not retrievable", sessionID)
		}
		return runResponse{
			Success:       true,
			RunID:         pause.RunID,
			SessionID:     sessionID,
			RequiresInput: true,
			InputRequest:  toInputRequestPayload(pause.ToolCallID, pause.InputRequest),
		}, nil
	}

	tracker.mu.Lock()
	result, waitErr := tracker.result, tracker.waitErr
	tracker.mu.Unlock()
	if waitErr != nil && result == nil {
		return runResponse{}, waitErr
	}

	s.mu.Lock()
	delete(s.runs, sessionID)
	s.mu.Unlock()
	s.recordRun(ctx, sessionID, result)
	return runResponse{
		Success:   result.Err == nil,
		Message:   result.FinalText,
		Steps:     countThinkingSteps(result.Messages),
		RunID:     result.RunID,
		SessionID: sessionID,
	}, nil
}

func (s *server) recordRun(ctx context.Context, sessionID string, result *agentloop.RunResult) {
	status := session.RunStatusCompleted
	if result.Err != nil {
		status = session.RunStatusFailed
	} else if result.State == agentloop.StateDoneMaxSteps {
		status = session.RunStatusFailed
	}
	_ = s.deps.Sessions.AppendRun(ctx, sessionID, session.RunRecord{
		RunID:         result.RunID,
		FinalResponse: result.FinalText,
		Status:        status,
		EndedAt:       time.Now().UTC(),
	})
}

func toInputRequestPayload(toolCallID string, req *toolregistry.InputRequest) *inputRequestPayload {
	if req == nil {
		return nil
	}
	fields := make([]inputFieldPayload, 0, len(req.Fields))
	for _, f := range req.Fields {
		fields = append(fields, inputFieldPayload{Name: f.Name, Type: string(f.Type), Description: f.Description})
	}
	return &inputRequestPayload{ToolCallID: toolCallID, Fields: fields, Context: req.Context}
}

// parseUserInputAnswer decodes the "[user_input] city: Paris, nights: 3"
// convention spec.md's example resumption message uses into field values.
// A message without the convention's fields is treated as one free-text
// answer to a single-field request under the key "answer".
func parseUserInputAnswer(message string) map[string]any {
	text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(message), "[user_input]"))
	values := make(map[string]any)
	pairs := strings.Split(text, ",")
	sawPair := false
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" {
			continue
		}
		values[k] = coerceAnswerValue(v)
		sawPair = true
	}
	if !sawPair {
		values["answer"] = text
	}
	return values
}

func coerceAnswerValue(v string) any {
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

// countThinkingSteps approximates spec.md's `steps` field as the number of
// assistant turns in the final transcript.
func countThinkingSteps(messages []*model.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == model.ConversationRoleAssistant {
			n++
		}
	}
	return n
}

func toolUsageNotes(tools *toolregistry.Registry) []promptasm.ToolUsageNote {
	if tools == nil {
		return nil
	}
	descs := tools.Descriptors()
	notes := make([]promptasm.ToolUsageNote, 0, len(descs))
	for _, d := range descs {
		notes = append(notes, promptasm.ToolUsageNote{
			ToolName:                d.Name,
			Instructions:            d.Instructions,
			AddInstructionsToPrompt: d.AddInstructionsToPrompt,
		})
	}
	return notes
}

// sseEnvelope is one `data: ...` frame's payload. Types follow spec.md's
// literal SSE vocabulary (log_file, step, thinking, content, tool_call,
// tool_result, user_input_required, done, error) rather than the richer
// internal agentloop.Event/runtime/agent/stream.Event projections: this
// handler translates directly from agentloop.Event since the client-facing
// wire names diverge from both of those internal vocabularies.
type sseEnvelope struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	LogFile      string               `json:"log_file,omitempty"`
	State        string               `json:"state,omitempty"`
	Text         string               `json:"text,omitempty"`
	ToolCallID   string               `json:"tool_call_id,omitempty"`
	ToolName     string               `json:"tool_name,omitempty"`
	Success      *bool                `json:"success,omitempty"`
	Result       string               `json:"result,omitempty"`
	InputRequest *inputRequestPayload `json:"input_request,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// handleRunStream implements the `run/stream` endpoint: the same
// start-or-resume orchestration as handleRun, but every internal event is
// translated into an SSE frame and flushed as it happens rather than only
// returning the terminal outcome.
func (s *server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	req := runRequest{SessionID: r.URL.Query().Get("session_id"), Message: r.URL.Query().Get("message")}
	if req.SessionID == "" {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("session_id is required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(env sseEnvelope) {
		b, err := json.Marshal(env)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, b)
		flusher.Flush()
	}

	send(sseEnvelope{Type: "log_file", SessionID: req.SessionID, LogFile: s.runLogPath(req.SessionID)})

	resp, err := s.runOrResumeWithEvents(r.Context(), req, func(e agentloop.Event) {
		// EventInputRequested and EventDone are emitted deterministically
		// below from awaitOutcome's return value instead of from here: this
		// callback runs on a forwarding goroutine that races the handler's
		// own return, so it is the wrong place to emit a frame the caller
		// must not miss.
		if e.Type == agentloop.EventInputRequested || e.Type == agentloop.EventDone {
			return
		}
		// No analog in the SSE vocabulary; see translateEvent.
		if e.Type == agentloop.EventPaused || e.Type == agentloop.EventUsage {
			return
		}
		send(translateEvent(e))
	})
	if err != nil {
		send(sseEnvelope{Type: "error", SessionID: req.SessionID, Error: err.Error()})
		return
	}
	if resp.RequiresInput {
		send(sseEnvelope{Type: "user_input_required", RunID: resp.RunID, SessionID: resp.SessionID, InputRequest: resp.InputRequest})
		return
	}
	send(sseEnvelope{Type: "done", RunID: resp.RunID, SessionID: resp.SessionID, Text: resp.Message, Success: &resp.Success})
}

// runLogPath reports the directory runlog/jsonlstore writes this run's
// events under. The concrete file is named by run ID, one file per run,
// which is not assigned until the run starts — this event fires before
// that, so it points at the directory rather than guessing a run ID.
func (s *server) runLogPath(sessionID string) string {
	return s.deps.RunLogDir
}

// translateEvent maps one internal agentloop.Event onto spec.md's SSE wire
// vocabulary. EventPaused and EventUsage have no direct analog in that
// vocabulary and are dropped by handleRunStream before reaching here;
// EventStateChanged becomes "thinking" only for
// StateThinking, and a generic "step" otherwise.
func translateEvent(e agentloop.Event) sseEnvelope {
	base := sseEnvelope{RunID: e.RunID, SessionID: e.SessionID, State: string(e.State)}
	switch e.Type {
	case agentloop.EventStateChanged:
		if e.State == agentloop.StateThinking {
			base.Type = "thinking"
		} else {
			base.Type = "step"
		}
	case agentloop.EventAssistantChunk:
		base.Type = "content"
		base.Text = e.Text
	case agentloop.EventToolStart:
		base.Type = "tool_call"
		base.ToolCallID = e.ToolCallID
		base.ToolName = e.ToolName
	case agentloop.EventToolEnd:
		base.Type = "tool_result"
		base.ToolCallID = e.ToolCallID
		base.ToolName = e.ToolName
		success := e.Result.Success
		base.Success = &success
		if success {
			base.Result = e.Result.Content
		} else {
			base.Result = e.Result.Error
		}
	case agentloop.EventInputRequested:
		base.Type = "user_input_required"
		base.ToolCallID = e.ToolCallID
		base.InputRequest = toInputRequestPayload(e.ToolCallID, e.InputRequest)
	case agentloop.EventDone:
		if e.Err != nil {
			base.Type = "error"
			base.Error = e.Err.Error()
		} else {
			base.Type = "done"
		}
	default:
		base.Type = "step"
	}
	return base
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
