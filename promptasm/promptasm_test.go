package promptasm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedEnv() Env {
	return Env{
		Now:     func() time.Time { return time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC) },
		Workdir: "/work/agent",
	}
}

func TestBuildIsPureForIdenticalInputs(t *testing.T) {
	cfg := PromptConfig{
		Name:         "Researcher",
		Role:         "You research topics thoroughly.",
		Instructions: []string{"Be concise.", "Cite sources."},
		Markdown:     true,
	}
	notes := []ToolUsageNote{{ToolName: "search", Instructions: "Use search sparingly.", AddInstructionsToPrompt: true}}
	skills := []SkillSummary{{Name: "sql", Description: "Write SQL queries."}}

	first := Build(cfg, notes, skills, fixedEnv())
	second := Build(cfg, notes, skills, fixedEnv())
	assert.Equal(t, first, second)
}

func TestBuildSectionOrder(t *testing.T) {
	cfg := PromptConfig{
		Name:                  "Agent",
		Description:           "An agent.",
		Role:                  "Be helpful.",
		Instructions:          []string{"Do good work."},
		Markdown:              true,
		ExpectedOutput:        "A short answer.",
		AddWorkspaceInfo:      true,
		AddDatetime:           true,
		Timezone:              "UTC",
		AdditionalInformation: []string{"fact one"},
		CustomSections:        []CustomSection{{Header: "Extra", Body: "body text"}},
		AdditionalContext:     "trailing context",
	}
	notes := []ToolUsageNote{{ToolName: "search", Instructions: "Search guidance.", AddInstructionsToPrompt: true}}
	skills := []SkillSummary{{Name: "sql", Description: "Write SQL."}}

	out := Build(cfg, notes, skills, fixedEnv())

	order := []string{
		"# Agent",
		"An agent.",
		"<your_role>",
		"<instructions>",
		"<output_format>",
		"<tool_usage_guidelines>",
		"## Available Skills",
		"<expected_output>",
		"<workspace_info>",
		"<current_datetime>",
		"<additional_information>",
		"## Extra",
		"trailing context",
	}
	last := -1
	for _, marker := range order {
		idx := strings.Index(out, marker)
		require.GreaterOrEqualf(t, idx, 0, "expected marker %q in output", marker)
		require.Greaterf(t, idx, last, "marker %q out of order", marker)
		last = idx
	}
}

func TestBuildOmitsEmptySections(t *testing.T) {
	out := Build(PromptConfig{}, nil, nil, fixedEnv())
	assert.Empty(t, out)
}

func TestBuildToolUsageGuidelinesSkipsOptedOutTools(t *testing.T) {
	notes := []ToolUsageNote{
		{ToolName: "a", Instructions: "included", AddInstructionsToPrompt: true},
		{ToolName: "b", Instructions: "excluded", AddInstructionsToPrompt: false},
	}
	out := Build(PromptConfig{}, notes, nil, fixedEnv())
	assert.Contains(t, out, "included")
	assert.NotContains(t, out, "excluded")
}

func TestBuildDatetimeUsesEnvClock(t *testing.T) {
	cfg := PromptConfig{AddDatetime: true, Timezone: "UTC"}
	out := Build(cfg, nil, nil, fixedEnv())
	assert.Contains(t, out, "2026-07-30T12:00:00Z")
}
