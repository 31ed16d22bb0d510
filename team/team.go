// Package team implements the leader/member multi-agent coordination
// pattern: one leader agent instructed to decompose a task, delegating
// sub-tasks to named member agents through two synthetic tools. It is the
// spec's formalization of the agent-as-tool pattern toolregistry.Spawn
// already models for ad hoc nested runs, specialized to a fixed,
// named roster and shared session history.
package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentrun/agentrun/agentloop"
	"github.com/agentrun/agentrun/promptasm"
	"github.com/agentrun/agentrun/session"
	"github.com/agentrun/agentrun/toolregistry"
	"github.com/agentrun/agentrun/trace"
)

type (
	// MemberConfig describes one team member agent.
	MemberConfig struct {
		// Name identifies the member in delegate_task_to_member calls and
		// in the Team's response labelling.
		Name string
		// Role and Instructions render the member's system prompt.
		Role         string
		Instructions []string
		// ToolNames restricts the member to this subset of the shared tool
		// catalog. Empty means the member gets no tools.
		ToolNames []string
		// MaxSteps bounds the member's own agent loop. Zero uses agentloop's
		// default (25).
		MaxSteps int
	}

	// Config configures a Team's leader and its member roster.
	Config struct {
		// LeaderRole and LeaderInstructions render the leader's system
		// prompt, in addition to the delegation tool usage guidance.
		LeaderRole         string
		LeaderInstructions []string
		// LeaderMaxSteps bounds the leader's own agent loop.
		LeaderMaxSteps int
		// Members is the ordered, fixed member roster.
		Members []MemberConfig
		// AllowDelegateToAll registers delegate_task_to_all_members
		// alongside delegate_task_to_member.
		AllowDelegateToAll bool
		// HistoryRuns bounds how many prior top-level runs HistoryContext
		// renders into the leader's prompt. Zero disables history.
		HistoryRuns int
	}

	// Team coordinates one leader agent and its members.
	Team struct {
		loop    *agentloop.Loop
		base    agentloop.RunConfig
		catalog *toolregistry.Registry
		cfg     Config
		session session.Store
		tracer  *trace.Tracer
	}
)

// New returns a Team. base supplies the model client and every other
// RunConfig field shared by the leader and every member (Model, ModelID/
// Class, Temperature, MaxTokens, Engine, Log); its Tools and MaxSteps are
// ignored — Run constructs the leader's tools from the delegation pair and
// each member's tools from catalog.Subset(member.ToolNames). sessionStore
// and tracer may both be nil to disable history/state and trace emission
// respectively.
func New(loop *agentloop.Loop, base agentloop.RunConfig, catalog *toolregistry.Registry, cfg Config, sessionStore session.Store, tracer *trace.Tracer) (*Team, error) {
	if loop == nil {
		return nil, errors.New("team: loop is required")
	}
	if base.Model == nil {
		return nil, errors.New("team: base model is required")
	}
	if len(cfg.Members) == 0 {
		return nil, errors.New("team: at least one member is required")
	}
	members := make(map[string]struct{}, len(cfg.Members))
	for _, m := range cfg.Members {
		if m.Name == "" {
			return nil, errors.New("team: member name is required")
		}
		if _, dup := members[m.Name]; dup {
			return nil, fmt.Errorf("team: duplicate member name %q", m.Name)
		}
		members[m.Name] = struct{}{}
	}
	return &Team{loop: loop, base: base, catalog: catalog, cfg: cfg, session: sessionStore, tracer: tracer}, nil
}

// Run drives the leader's agent loop to completion for sessionID, returning
// its terminal result and the leader's own event stream (member runs are
// driven to completion internally and do not surface their events; their
// delegation is instead observable through the configured trace.Tracer and
// the session's run history). The leader terminates normally — no further
// tool_calls — when it considers the composite task done; its final text is
// the Team's answer.
func (t *Team) Run(ctx context.Context, sessionID, owner, name, task string) (*agentloop.RunResult, <-chan agentloop.Event, error) {
	leaderRunID := uuid.New().String()

	if t.session != nil {
		if _, err := t.session.GetOrCreate(ctx, sessionID, owner, name); err != nil {
			return nil, nil, fmt.Errorf("team: get or create session: %w", err)
		}
	}

	_ = t.tracer.WorkflowStart(ctx, leaderRunID, map[string]string{"session_id": sessionID})

	history, err := t.historyContext(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("team: render history context: %w", err)
	}

	tools := toolregistry.New(slog.Default())
	if err := tools.Register(&delegateToMemberTool{team: t, sessionID: sessionID, leaderRunID: leaderRunID}); err != nil {
		return nil, nil, err
	}
	if t.cfg.AllowDelegateToAll {
		if err := tools.Register(&delegateToAllMembersTool{team: t, sessionID: sessionID, leaderRunID: leaderRunID}); err != nil {
			return nil, nil, err
		}
	}

	leaderCfg := t.base
	leaderCfg.RunID = leaderRunID
	leaderCfg.SessionID = sessionID
	leaderCfg.Tools = tools
	leaderCfg.MaxSteps = t.cfg.LeaderMaxSteps
	leaderCfg.System = promptasm.Build(promptasm.PromptConfig{
		Role:              t.cfg.LeaderRole,
		Instructions:      t.cfg.LeaderInstructions,
		AdditionalContext: history,
	}, nil, nil, promptasm.Env{})

	result, events, err := t.loop.Run(ctx, task, leaderCfg)

	if t.session != nil && result != nil {
		status := session.RunStatusCompleted
		finalText := result.FinalText
		if err != nil || result.Err != nil {
			status = session.RunStatusFailed
			if result.Err != nil {
				finalText = result.Err.Error()
			}
		}
		_ = t.session.AppendRun(ctx, sessionID, session.RunRecord{
			RunID:         leaderRunID,
			AgentID:       "leader",
			Task:          task,
			FinalResponse: finalText,
			Status:        status,
		})
	}
	_ = t.tracer.WorkflowEnd(ctx, leaderRunID, nil)

	return result, events, err
}

func (t *Team) historyContext(ctx context.Context, sessionID string) (string, error) {
	if t.session == nil || t.cfg.HistoryRuns <= 0 {
		return "", nil
	}
	return session.HistoryContext(ctx, t.session, sessionID, "team_history", t.cfg.HistoryRuns)
}

func (t *Team) member(name string) (MemberConfig, bool) {
	for _, m := range t.cfg.Members {
		if m.Name == name {
			return m, true
		}
	}
	return MemberConfig{}, false
}

// runMember runs member to completion as a nested agent loop, recording its
// delegation and appending it to the shared session's run history with
// parentRunID set to the leader's run ID. It returns the member's final text
// (or, on failure, its error's string — per the delegation contract, a
// member's failure surfaces to the leader as tool content, not a Go error).
func (t *Team) runMember(ctx context.Context, member MemberConfig, sessionID, parentRunID, task string) string {
	memberRunID := parentRunID + "/member/" + member.Name + "/" + uuid.New().String()

	_ = t.tracer.Delegation(ctx, parentRunID, memberRunID, map[string]string{"member": member.Name})
	_ = t.tracer.AgentStart(ctx, memberRunID, parentRunID, map[string]string{"member": member.Name})

	cfg := t.base
	cfg.RunID = memberRunID
	cfg.SessionID = sessionID
	cfg.MaxSteps = member.MaxSteps
	if t.catalog != nil {
		cfg.Tools = t.catalog.Subset(member.ToolNames)
	} else {
		cfg.Tools = nil
	}
	cfg.System = promptasm.Build(promptasm.PromptConfig{
		Role:         member.Role,
		Instructions: member.Instructions,
	}, nil, nil, promptasm.Env{})

	result, events, err := t.loop.Run(ctx, task, cfg)
	go drainEvents(events)

	status := session.RunStatusCompleted
	finalText := ""
	switch {
	case err != nil:
		status = session.RunStatusFailed
		finalText = err.Error()
	case result.Err != nil:
		status = session.RunStatusFailed
		finalText = result.Err.Error()
	default:
		finalText = result.FinalText
	}

	if t.session != nil {
		_ = t.session.AppendRun(ctx, sessionID, session.RunRecord{
			RunID:         memberRunID,
			ParentRunID:   parentRunID,
			AgentID:       member.Name,
			Task:          task,
			FinalResponse: finalText,
			Status:        status,
		})
	}
	_ = t.tracer.AgentEnd(ctx, memberRunID, parentRunID, map[string]string{"member": member.Name})

	return finalText
}

// runAllMembers fans delegate_task_to_all_members out to every configured
// member concurrently and returns their responses concatenated and labelled
// by name, in roster order.
func (t *Team) runAllMembers(ctx context.Context, sessionID, parentRunID, task string) string {
	responses := make([]string, len(t.cfg.Members))
	var wg sync.WaitGroup
	for i, member := range t.cfg.Members {
		wg.Add(1)
		go func(i int, member MemberConfig) {
			defer wg.Done()
			responses[i] = t.runMember(ctx, member, sessionID, parentRunID, task)
		}(i, member)
	}
	wg.Wait()

	var b strings.Builder
	for i, member := range t.cfg.Members {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s: %s", member.Name, responses[i])
	}
	return b.String()
}

func drainEvents(events <-chan agentloop.Event) {
	for range events {
	}
}
