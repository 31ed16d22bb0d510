// Package promptasm builds the system message from a typed prompt
// configuration. Build is a pure function of its inputs (no hidden state,
// no I/O beyond reading the clock when a datetime section is requested).
package promptasm

import (
	"fmt"
	"strings"
	"time"
)

type (
	// PromptConfig configures the sections assembled into a system message.
	PromptConfig struct {
		Name                  string
		Description           string
		Role                  string
		Instructions          []string
		ExpectedOutput        string
		Markdown              bool
		AddDatetime           bool
		AddWorkspaceInfo      bool
		Timezone              string
		AdditionalContext     string
		AdditionalInformation []string
		CustomSections        []CustomSection
	}

	// CustomSection is one insertion-ordered custom_sections entry.
	CustomSection struct {
		Header string
		Body   string
	}

	// ToolUsageNote carries one tool's `instructions` text for the
	// `<tool_usage_guidelines>` section. Only tools with
	// AddInstructionsToPrompt=true contribute a note.
	ToolUsageNote struct {
		ToolName                string
		Instructions            string
		AddInstructionsToPrompt bool
	}

	// SkillSummary is one entry in the `## Available Skills` listing.
	SkillSummary struct {
		Name        string
		Description string
	}

	// Env supplies the ambient facts (clock, working directory) the
	// assembler reads when a section requests them. Production callers use
	// a real clock; tests inject a fixed one so output stays byte-
	// comparable except for the datetime section itself.
	Env struct {
		Now     func() time.Time
		Workdir string
	}
)

// Build composes the system message from cfg, toolInstructions, skills, and
// env in the fixed section order defined by the spec. Build never mutates
// its arguments and performs no I/O beyond optionally calling env.Now.
func Build(cfg PromptConfig, toolInstructions []ToolUsageNote, skills []SkillSummary, env Env) string {
	var sections []string

	if cfg.Name != "" {
		sections = append(sections, "# "+cfg.Name)
	}
	if cfg.Description != "" {
		sections = append(sections, cfg.Description)
	}
	if cfg.Role != "" {
		sections = append(sections, wrapXML("your_role", cfg.Role))
	}
	if len(cfg.Instructions) > 0 {
		sections = append(sections, wrapXML("instructions", bulletList(cfg.Instructions)))
	}
	if cfg.Markdown {
		sections = append(sections, wrapXML("output_format", "Format your response using Markdown."))
	}
	if notes := toolUsageGuidelines(toolInstructions); notes != "" {
		sections = append(sections, wrapXML("tool_usage_guidelines", notes))
	}
	if len(skills) > 0 {
		sections = append(sections, skillsSection(skills))
	}
	if cfg.ExpectedOutput != "" {
		sections = append(sections, wrapXML("expected_output", cfg.ExpectedOutput))
	}
	if cfg.AddWorkspaceInfo {
		sections = append(sections, wrapXML("workspace_info", "Current working directory: "+env.Workdir))
	}
	if cfg.AddDatetime {
		now := time.Now
		if env.Now != nil {
			now = env.Now
		}
		loc := time.UTC
		if cfg.Timezone != "" {
			if l, err := time.LoadLocation(cfg.Timezone); err == nil {
				loc = l
			}
		}
		sections = append(sections, wrapXML("current_datetime", now().In(loc).Format(time.RFC3339)))
	}
	if len(cfg.AdditionalInformation) > 0 {
		sections = append(sections, wrapXML("additional_information", bulletList(cfg.AdditionalInformation)))
	}
	for _, cs := range cfg.CustomSections {
		sections = append(sections, "## "+cs.Header+"\n\n"+cs.Body)
	}
	if cfg.AdditionalContext != "" {
		sections = append(sections, cfg.AdditionalContext)
	}

	return strings.Join(sections, "\n\n")
}

func wrapXML(tag, body string) string {
	return fmt.Sprintf("<%s>\n%s\n</%s>", tag, body, tag)
}

func bulletList(items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "- "+item)
	}
	return strings.Join(lines, "\n")
}

func toolUsageGuidelines(notes []ToolUsageNote) string {
	var lines []string
	for _, n := range notes {
		if !n.AddInstructionsToPrompt || n.Instructions == "" {
			continue
		}
		lines = append(lines, n.Instructions)
	}
	return strings.Join(lines, "\n\n")
}

func skillsSection(skills []SkillSummary) string {
	var b strings.Builder
	b.WriteString("## Available Skills\n\n")
	for _, s := range skills {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	b.WriteString("\nCall get_skill with a skill's name to load its full content before using it.")
	return b.String()
}
