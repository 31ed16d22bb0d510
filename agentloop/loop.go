// Package agentloop drives one agent's think/act cycle to completion. It
// owns the state machine that alternates between asking a model for the
// next step and executing the tool calls the model requests, and it
// streams every transition out as an Event so callers can project it into
// client-facing updates (see ToStreamEvents) or a durable run log.
package agentloop

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentrun/agentrun/runlog"
	"github.com/agentrun/agentrun/runtime/agent/engine"
	"github.com/agentrun/agentrun/runtime/agent/engine/inmem"
	"github.com/agentrun/agentrun/runtime/agent/interrupt"
	"github.com/agentrun/agentrun/runtime/agent/model"
	"github.com/agentrun/agentrun/toolregistry"
)

// State is one position in the agent loop's state machine.
type State string

const (
	StateIdle           State = "IDLE"
	StateThinking       State = "THINKING"
	StateTools          State = "TOOLS"
	StatePausedForInput State = "PAUSED_FOR_INPUT"
	StateDoneOK         State = "DONE_OK"
	StateDoneMaxSteps   State = "DONE_MAX_STEPS"
	StateDoneError      State = "DONE_ERROR"
)

// workflowNamePrefix names the agentloop run workflow registered with the
// engine for a single Run call. Names are suffixed with the run ID since
// RunConfig (model client, tool registry) differs per call and the
// in-memory engine dedups workflow registrations by name.
const workflowNamePrefix = "agentloop.Run."

type (
	// RunConfig configures a single Loop.Run invocation.
	RunConfig struct {
		// RunID uniquely identifies this execution. Generated when empty.
		RunID string
		// SessionID groups this run with prior/future runs in the same
		// conversation, per runtime/agent/run's Context.SessionID contract.
		SessionID string

		// Model is the provider-agnostic client used for THINKING steps.
		Model model.Client
		// ModelID selects a concrete model when Model routes by name
		// (providers.Canonicalize already resolved this upstream).
		ModelID string
		// ModelClass optionally selects a model family instead of ModelID.
		ModelClass model.ModelClass
		// Temperature is forwarded to every model.Request.
		Temperature float32
		// MaxTokens caps output tokens per model call. Zero uses the
		// provider's own default (the providers package clamp still applies).
		MaxTokens int

		// System is the rendered system prompt (promptasm.Build's output),
		// inserted as the first message when non-empty.
		System string
		// History carries prior-turn messages rendered by session.HistoryContext.
		// Appended before the new user message.
		History []*model.Message

		// Tools dispatches tool calls the model requests. May be nil, in
		// which case the model is never offered tools.
		Tools *toolregistry.Registry

		// MaxSteps bounds the number of THINKING→TOOLS round trips before
		// the run terminates with StateDoneMaxSteps. Zero means 25, the
		// same default spec.md uses for MaxToolCalls.
		MaxSteps int

		// Engine drives workflow/activity execution. Defaults to a fresh
		// engine/inmem.New() when nil, which is sufficient for a single
		// Run call since the in-memory engine needs no prior registration.
		Engine engine.Engine

		// Log receives the AgentLogger's step/request/response/
		// tool_execution/completion records for this run. Nil disables
		// run logging entirely; pass runlog.NewExporterSink(exporter) to
		// forward records to an external observability backend instead of
		// a durable Store (the Langfuse suppression rule).
		Log runlog.Store
	}

	// RunResult is the terminal outcome of a Run call.
	RunResult struct {
		RunID     string
		State     State
		Messages  []*model.Message
		FinalText string
		Usage     model.TokenUsage
		Err       error
	}

	// Loop executes RunConfig.Tools-bearing agent runs. It carries no
	// per-run state; one Loop value can drive any number of concurrent Run
	// calls.
	Loop struct{}

	runInput struct {
		cfg     RunConfig
		userMsg string
		events  chan<- Event
	}
)

// New returns a ready-to-use Loop.
func New() *Loop { return &Loop{} }

// RunHandle is a started, not-yet-complete agent run. It exposes the
// underlying engine.WorkflowHandle's Signal so a human-input bridge can
// deliver pause/resume/clarification/tool-result signals (see
// runtime/agent/interrupt's signal names) while the run is in flight,
// something a purely synchronous Run call could never support.
type RunHandle struct {
	cfg    RunConfig
	wh     engine.WorkflowHandle
	events chan Event
}

// Signal delivers an out-of-band signal to the run, keyed by one of the
// runtime/agent/interrupt Signal* constants.
func (h *RunHandle) Signal(ctx context.Context, name string, payload any) error {
	return h.wh.Signal(ctx, name, payload)
}

// Events returns the channel of internal Events for this run. It is closed
// once Wait returns.
func (h *RunHandle) Events() <-chan Event { return h.events }

// Wait blocks until the run reaches a terminal state.
func (h *RunHandle) Wait(ctx context.Context) (*RunResult, error) {
	var result RunResult
	err := h.wh.Wait(ctx, &result)
	close(h.events)
	if err != nil && result.Err == nil {
		result.Err = err
	}
	return &result, err
}

// Start registers and launches cfg's agent loop without waiting for it to
// complete, seeding the conversation with initialUserMsg. Defaults (RunID,
// MaxSteps, Engine) are applied in place on cfg before the workflow is
// constructed.
func (l *Loop) Start(ctx context.Context, initialUserMsg string, cfg RunConfig) (*RunHandle, error) {
	if cfg.Model == nil {
		return nil, ErrNoModel
	}
	if cfg.RunID == "" {
		cfg.RunID = newRunID()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 25
	}
	if cfg.Engine == nil {
		cfg.Engine = inmem.New()
	}

	events := make(chan Event, 64)
	name := workflowNamePrefix + cfg.RunID

	if err := registerRunActivities(ctx, cfg); err != nil {
		close(events)
		return nil, err
	}

	if err := cfg.Engine.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      name,
		TaskQueue: "agentloop",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			in := input.(*runInput)
			return runWorkflow(wfCtx, in)
		},
	}); err != nil {
		close(events)
		return nil, fmt.Errorf("agentloop: register workflow: %w", err)
	}

	wh, err := cfg.Engine.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       cfg.RunID,
		Workflow: name,
		Input:    &runInput{cfg: cfg, userMsg: initialUserMsg, events: events},
	})
	if err != nil {
		close(events)
		return nil, fmt.Errorf("agentloop: start workflow: %w", err)
	}

	return &RunHandle{cfg: cfg, wh: wh, events: events}, nil
}

// Run drives cfg's agent loop to completion, seeding the conversation with
// initialUserMsg. It returns the terminal RunResult alongside an already
// closed channel holding every Event the run emitted, in order: events are
// collected while Run blocks on completion, so the workflow never stalls on
// an undrained channel. Callers that need to observe events live or
// pause/resume a run in flight should use Start instead.
func (l *Loop) Run(ctx context.Context, initialUserMsg string, cfg RunConfig) (*RunResult, <-chan Event, error) {
	handle, err := l.Start(ctx, initialUserMsg, cfg)
	if err != nil {
		ch := make(chan Event)
		close(ch)
		return nil, ch, err
	}
	var collected []Event
	collectDone := make(chan struct{})
	go func() {
		for e := range handle.events {
			collected = append(collected, e)
		}
		close(collectDone)
	}()
	result, err := handle.Wait(ctx)
	<-collectDone
	events := make(chan Event, len(collected))
	for _, e := range collected {
		events <- e
	}
	close(events)
	return result, events, err
}

// runToCompletion backs ChildRunner.RunToCompletion (toolregistry.Runner):
// it runs an inherited copy of base to completion and returns its final
// assistant text. It is not exposed directly: see NewChildRunner.
func (l *Loop) runToCompletion(ctx context.Context, base RunConfig, task string, allowedTools []string) (string, error) {
	child := base
	child.RunID = base.RunID + "/spawn/" + newRunID()
	if len(allowedTools) > 0 && base.Tools != nil {
		child.Tools = base.Tools.Subset(allowedTools)
	}
	result, events, err := l.Run(ctx, task, child)
	go drain(events)
	if err != nil {
		return "", err
	}
	if result.Err != nil {
		return "", result.Err
	}
	return result.FinalText, nil
}

func drain(events <-chan Event) {
	for range events {
	}
}

func runWorkflow(wfCtx engine.WorkflowContext, in *runInput) (*RunResult, error) {
	ctx := wfCtx.Context()
	cfg := in.cfg
	emit := func(evt Event) {
		evt.RunID = cfg.RunID
		evt.SessionID = cfg.SessionID
		select {
		case in.events <- evt:
		case <-ctx.Done():
		}
	}

	messages := buildInitialMessages(cfg, in.userMsg)
	ctl := interrupt.NewController(wfCtx)
	logRun := func(typ string, payload any) { appendRunLog(ctx, wfCtx, cfg, typ, payload) }

	state := StateThinking
	steps := 0
	thinkStep := 0
	var usage model.TokenUsage
	var finalText string
	var runErr error

loop:
	for {
		if pause, ok := ctl.PollPause(); ok {
			emit(Event{Type: EventPaused, State: StatePausedForInput, Text: pause.Reason})
			state = StatePausedForInput
			resume, err := ctl.WaitResume(ctx)
			if err != nil {
				state, runErr = StateDoneError, err
				break loop
			}
			messages = append(messages, resume.Messages...)
			state = StateThinking
		}

		emit(Event{Type: EventStateChanged, State: state})

		switch state {
		case StateThinking:
			thinkStep++
			logRun(runlog.TypeStep, map[string]any{"step": thinkStep})

			req := &model.Request{
				RunID:       cfg.RunID,
				Model:       cfg.ModelID,
				ModelClass:  cfg.ModelClass,
				Messages:    messages,
				Temperature: cfg.Temperature,
				MaxTokens:   cfg.MaxTokens,
				Tools:       toolDefinitions(cfg.Tools),
			}
			logRun(runlog.TypeRequest, map[string]any{
				"model": cfg.ModelID, "model_class": cfg.ModelClass,
				"message_count": len(req.Messages), "tool_count": len(req.Tools),
			})

			start := wfCtx.Now()
			var out modelActivityOutput
			if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
				Name:  completeActivityName(cfg.RunID),
				Input: modelActivityInput{Request: req},
			}, &out); err != nil {
				state, runErr = StateDoneError, err
				break loop
			}
			logRun(runlog.TypeResponse, map[string]any{
				"stop_reason": out.Response.StopReason, "usage": out.Response.Usage,
				"duration_ms": wfCtx.Now().Sub(start).Milliseconds(),
			})

			usage = sumUsage(usage, out.Response.Usage)
			emit(Event{Type: EventUsage, State: state, Usage: out.Response.Usage})

			assistant := &model.Message{Role: model.ConversationRoleAssistant}
			for _, c := range out.Response.Content {
				assistant.Parts = append(assistant.Parts, c.Parts...)
				if text := textOf(c); text != "" {
					emit(Event{Type: EventAssistantChunk, State: state, Text: text})
					finalText += text
				}
			}
			for i, tc := range out.Response.ToolCalls {
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("call_%d_%d", len(messages), i)
				}
				assistant.Parts = append(assistant.Parts, model.ToolUsePart{ID: id, Name: string(tc.Name), Input: json.RawMessage(tc.Payload)})
			}
			messages = append(messages, assistant)

			if len(out.Response.ToolCalls) == 0 {
				state = StateDoneOK
				break loop
			}
			state = StateTools

		case StateTools:
			steps++
			if steps > cfg.MaxSteps {
				state = StateDoneMaxSteps
				break loop
			}

			last := messages[len(messages)-1]
			var toolCalls []model.ToolUsePart
			for _, p := range last.Parts {
				if tu, ok := p.(model.ToolUsePart); ok {
					toolCalls = append(toolCalls, tu)
				}
			}

			resultMsg := &model.Message{Role: model.ConversationRoleUser}
			paused := false
			for _, tc := range toolCalls {
				payload, _ := json.Marshal(tc.Input)
				emit(Event{Type: EventToolStart, State: state, ToolCallID: tc.ID, ToolName: tc.Name, Payload: payload})

				toolStart := wfCtx.Now()
				var out toolActivityOutput
				if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
					Name:  invokeActivityName(cfg.RunID),
					Input: toolActivityInput{Name: tc.Name, Args: payload},
				}, &out); err != nil {
					out.Result = toolregistry.ToolResult{Success: false, Error: err.Error()}
				}
				logRun(runlog.TypeToolExecution, map[string]any{
					"tool_call_id": tc.ID, "tool_name": tc.Name, "success": out.Result.Success,
					"duration_ms": wfCtx.Now().Sub(toolStart).Milliseconds(),
				})

				if out.Result.InputRequest != nil {
					// The originating tool_call is left unanswered here — it is
					// answered by the synthetic tool message WaitResume returns,
					// once the caller supplies it. Any tool calls after this one
					// in the same batch are not executed: models are expected to
					// call get_user_input alone, not alongside other tools.
					if len(resultMsg.Parts) > 0 {
						messages = append(messages, resultMsg)
					}
					emit(Event{Type: EventInputRequested, State: StatePausedForInput, ToolCallID: tc.ID, ToolName: tc.Name, InputRequest: out.Result.InputRequest})
					state = StatePausedForInput
					resume, err := ctl.WaitResume(ctx)
					if err != nil {
						state, runErr = StateDoneError, err
						break loop
					}
					messages = append(messages, resume.Messages...)
					state = StateThinking
					paused = true
					break
				}

				emit(Event{Type: EventToolEnd, State: state, ToolCallID: tc.ID, ToolName: tc.Name, Result: out.Result})
				resultMsg.Parts = append(resultMsg.Parts, model.ToolResultPart{
					ToolUseID: tc.ID,
					Content:   toolResultContent(out.Result),
					IsError:   !out.Result.Success,
				})
			}
			if !paused {
				messages = append(messages, resultMsg)
				state = StateThinking
			}
		}
	}

	emit(Event{Type: EventDone, State: state, Err: runErr})

	completion := map[string]any{"state": state, "steps": thinkStep}
	if runErr != nil {
		completion["error"] = runErr.Error()
	}
	logRun(runlog.TypeCompletion, completion)

	return &RunResult{
		RunID:     cfg.RunID,
		State:     state,
		Messages:  messages,
		FinalText: finalText,
		Usage:     usage,
		Err:       runErr,
	}, runErr
}

// appendRunLog writes one AgentLogger record if cfg.Log is configured. A
// logging failure is reported to the workflow's logger and otherwise
// swallowed: the run logger is an observability concern, and a broken sink
// must never fail an otherwise-healthy run.
func appendRunLog(ctx context.Context, wfCtx engine.WorkflowContext, cfg RunConfig, typ string, payload any) {
	if cfg.Log == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		wfCtx.Logger().Error(ctx, "agentloop: marshal run log payload", "type", typ, "err", err)
		return
	}
	e := &runlog.Event{
		RunID:     cfg.RunID,
		SessionID: cfg.SessionID,
		Type:      typ,
		Payload:   b,
		Timestamp: wfCtx.Now(),
	}
	if err := cfg.Log.Append(ctx, e); err != nil {
		wfCtx.Logger().Error(ctx, "agentloop: append run log event", "type", typ, "err", err)
	}
}

func buildInitialMessages(cfg RunConfig, userMsg string) []*model.Message {
	var messages []*model.Message
	if cfg.System != "" {
		messages = append(messages, &model.Message{
			Role:  model.ConversationRoleSystem,
			Parts: []model.Part{model.TextPart{Text: cfg.System}},
		})
	}
	messages = append(messages, cfg.History...)
	messages = append(messages, &model.Message{
		Role:  model.ConversationRoleUser,
		Parts: []model.Part{model.TextPart{Text: userMsg}},
	})
	return messages
}

func toolDefinitions(reg *toolregistry.Registry) []*model.ToolDefinition {
	if reg == nil {
		return nil
	}
	descs := reg.Descriptors()
	defs := make([]*model.ToolDefinition, 0, len(descs))
	for _, d := range descs {
		defs = append(defs, &model.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Parameters,
		})
	}
	return defs
}

func textOf(msg model.Message) string {
	var text string
	for _, p := range msg.Parts {
		if tp, ok := p.(model.TextPart); ok {
			text += tp.Text
		}
	}
	return text
}

func toolResultContent(r toolregistry.ToolResult) any {
	if !r.Success {
		return r.Error
	}
	return r.Content
}

func sumUsage(a, b model.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:      a.InputTokens + b.InputTokens,
		OutputTokens:     a.OutputTokens + b.OutputTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
		CacheReadTokens:  a.CacheReadTokens + b.CacheReadTokens,
		CacheWriteTokens: a.CacheWriteTokens + b.CacheWriteTokens,
	}
}

func newRunID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// ErrNoModel is returned by Run when cfg.Model is nil.
var ErrNoModel = errors.New("agentloop: RunConfig.Model is required")
