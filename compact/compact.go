// Package compact implements the Message Compactor: when a transcript
// exceeds its token budget, closed segments are summarized via an LLM call
// and replaced by a compact [system, user, assistant(summary)] triple. The
// most recent segment is never summarized so the model always sees the
// current turn in full.
package compact

import (
	"context"
	"fmt"

	"github.com/agentrun/agentrun/errkind"
	"github.com/agentrun/agentrun/runtime/agent/model"
	"github.com/agentrun/agentrun/tokenaccount"
)

// summaryBudgetTokens bounds the requested length of a segment summary.
const summaryBudgetTokens = 400

// defaultSummarizePrompt states the contract a summarization call must
// honor. The exact wording is not normative, only the contract it states;
// callers may override it via Compactor.SummarizePrompt.
const defaultSummarizePrompt = "Summarize the following conversation segment in no more than " +
	"400 tokens. Preserve: the user's stated goals, every tool call that was " +
	"made and its effect, and any decisions reached. Do not editorialize or " +
	"add information that isn't present in the segment."

// Compactor summarizes old transcript segments via an LLM call so the
// transcript fits within a token budget.
type Compactor struct {
	// Client issues the summarization call. Required.
	Client model.Client

	// Counter counts tokens for the transcript. Required.
	Counter tokenaccount.Counter

	// SummarizePrompt overrides the instruction sent with each
	// summarization call. Defaults to defaultSummarizePrompt when empty.
	SummarizePrompt string
}

// segment is a contiguous run of messages opened by a genuine user message
// and closed by the assistant/tool-result messages that follow it.
type segment struct {
	messages []*model.Message
}

// MaybeCompact returns messages unchanged if they already fit within limit.
// Otherwise it summarizes closed segments (oldest first), then, if still
// over budget, re-summarizes the oldest summaries together and drops the
// oldest user+summary pairs until the transcript fits. The leading system
// message is never dropped or summarized. Returns *errkind.CompactionError
// if the transcript cannot be made to fit.
func (c *Compactor) MaybeCompact(ctx context.Context, messages []*model.Message, limit int) ([]*model.Message, error) {
	if c.Counter.Count(messages) <= limit {
		return messages, nil
	}

	sys, segments := partition(messages)

	if err := c.summarizeClosedSegments(ctx, segments); err != nil {
		return nil, err
	}
	out := flatten(sys, segments)
	if c.Counter.Count(out) <= limit {
		return out, nil
	}

	// Bottom-up: re-summarize the oldest summaries together, then drop
	// oldest pairs until the transcript fits or only the final segment
	// (and system message) remain.
	for len(segments) > 1 && c.Counter.Count(flatten(sys, segments)) > limit {
		if err := c.resummarizeOldest(ctx, &segments); err != nil {
			return nil, err
		}
		if c.Counter.Count(flatten(sys, segments)) <= limit {
			break
		}
		dropOldestPairs(&segments)
	}

	out = flatten(sys, segments)
	count := c.Counter.Count(out)
	if count > limit {
		return nil, &errkind.CompactionError{Limit: limit, Reached: count}
	}
	return out, nil
}

// partition splits messages into an optional leading system message and
// the ordered segments that follow it.
func partition(messages []*model.Message) (*model.Message, []segment) {
	var sys *model.Message
	rest := messages
	if len(messages) > 0 && messages[0] != nil && messages[0].Role == model.ConversationRoleSystem {
		sys = messages[0]
		rest = messages[1:]
	}

	var segments []segment
	for _, m := range rest {
		if m == nil {
			continue
		}
		if isSegmentOpener(m) {
			segments = append(segments, segment{messages: []*model.Message{m}})
			continue
		}
		if len(segments) == 0 {
			segments = append(segments, segment{})
		}
		last := &segments[len(segments)-1]
		last.messages = append(last.messages, m)
	}
	return sys, segments
}

// isSegmentOpener reports whether m is a genuine user turn (as opposed to a
// user message carrying only tool results, which closes the prior segment
// the same way an assistant/tool turn does).
func isSegmentOpener(m *model.Message) bool {
	if m.Role != model.ConversationRoleUser {
		return false
	}
	for _, p := range m.Parts {
		if _, ok := p.(model.ToolResultPart); !ok {
			return true
		}
	}
	return len(m.Parts) == 0
}

// summarizeClosedSegments summarizes every segment except the most recent
// one, replacing each with [user, assistant(summary)].
func (c *Compactor) summarizeClosedSegments(ctx context.Context, segments []segment) error {
	for i := 0; i < len(segments)-1; i++ {
		if len(segments[i].messages) <= 2 {
			// Already compacted to [user, summary] or smaller; nothing to do.
			continue
		}
		summary, err := c.summarize(ctx, segments[i].messages)
		if err != nil {
			return err
		}
		opener := segments[i].messages[0]
		segments[i].messages = []*model.Message{opener, summaryMessage(summary)}
	}
	return nil
}

// resummarizeOldest merges the two oldest segments' summaries into one
// combined summary, collapsing them into a single segment.
func (c *Compactor) resummarizeOldest(ctx context.Context, segments *[]segment) error {
	s := *segments
	if len(s) < 3 {
		return nil
	}
	combined := append(append([]*model.Message{}, s[0].messages...), s[1].messages...)
	summary, err := c.summarize(ctx, combined)
	if err != nil {
		return err
	}
	opener := s[0].messages[0]
	merged := segment{messages: []*model.Message{opener, summaryMessage(summary)}}
	*segments = append([]segment{merged}, s[2:]...)
	return nil
}

// dropOldestPairs removes the oldest segment (a user+summary pair) as long
// as more than one segment remains, so the most recent segment survives.
func dropOldestPairs(segments *[]segment) {
	s := *segments
	if len(s) <= 1 {
		return
	}
	*segments = s[1:]
}

func (c *Compactor) summarize(ctx context.Context, messages []*model.Message) (string, error) {
	prompt := c.SummarizePrompt
	if prompt == "" {
		prompt = defaultSummarizePrompt
	}
	req := &model.Request{
		Messages: append([]*model.Message{
			{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: prompt}}},
		}, messages...),
		MaxTokens: summaryBudgetTokens,
	}
	resp, err := c.Client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("compact: summarize segment: %w", err)
	}
	var text string
	for _, m := range resp.Content {
		for _, p := range m.Parts {
			if tp, ok := p.(model.TextPart); ok {
				text += tp.Text
			}
		}
	}
	return text, nil
}

func summaryMessage(text string) *model.Message {
	return &model.Message{
		Role:  model.ConversationRoleAssistant,
		Parts: []model.Part{model.TextPart{Text: text}},
	}
}

func flatten(sys *model.Message, segments []segment) []*model.Message {
	var out []*model.Message
	if sys != nil {
		out = append(out, sys)
	}
	for _, s := range segments {
		out = append(out, s.messages...)
	}
	return out
}
