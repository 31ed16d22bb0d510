// Package tokenaccount counts tokens for a message list so the Agent Loop and
// Compactor can enforce a provider's context budget before every model call.
package tokenaccount

import (
	"encoding/json"
	"math"

	"github.com/agentrun/agentrun/runtime/agent/model"
)

// perMessageOverhead approximates the fixed token cost of role framing that
// providers add around every message when encoding a chat transcript.
const perMessageOverhead = 4

type (
	// Counter counts tokens for a transcript. Implementations must be
	// deterministic for identical input and must not perform I/O.
	Counter interface {
		// Count returns the token count for messages, including content,
		// thinking, and tool-call argument serializations, plus the
		// per-message overhead.
		Count(messages []*model.Message) int
	}

	// BPECounter counts tokens using a cached byte-pair-encoding merge table
	// for a specific model family.
	BPECounter struct {
		table *mergeTable
	}

	// HeuristicCounter approximates token count as ceil(chars/2.5) when no
	// BPE table is available for the model family.
	HeuristicCounter struct{}
)

// Count implements Counter using the heuristic character-based estimate.
func (HeuristicCounter) Count(messages []*model.Message) int {
	total := 0
	for _, m := range messages {
		if m == nil {
			continue
		}
		total += perMessageOverhead
		total += int(math.Ceil(float64(countChars(m)) / 2.5))
	}
	return total
}

// Count implements Counter using the BPE merge table. A nil counter or one
// without a table returns the heuristic estimate for all messages; there is
// no per-part fallback to the heuristic.
func (c *BPECounter) Count(messages []*model.Message) int {
	if c == nil || c.table == nil {
		return HeuristicCounter{}.Count(messages)
	}
	total := 0
	for _, m := range messages {
		if m == nil {
			continue
		}
		total += perMessageOverhead
		total += c.table.countParts(m.Parts)
	}
	return total
}

// ForModel returns the Counter appropriate for the canonicalized model
// family. Canonicalization follows the same provider-prefix table used by
// the LLM Client Adapter (see providers.Canonicalize) so both components
// agree on which family a model id belongs to.
func ForModel(canonicalModelID string) Counter {
	if t, ok := bpeTables[family(canonicalModelID)]; ok {
		return &BPECounter{table: t}
	}
	return HeuristicCounter{}
}

// family extracts the "provider/" prefix of a canonicalized model id.
func family(canonicalModelID string) string {
	for i, r := range canonicalModelID {
		if r == '/' {
			return canonicalModelID[:i]
		}
	}
	return canonicalModelID
}

func countChars(m *model.Message) int {
	n := 0
	for _, p := range m.Parts {
		switch v := p.(type) {
		case model.TextPart:
			n += len(v.Text)
		case model.ThinkingPart:
			n += len(v.Text) + len(v.Redacted)
		case model.ToolUsePart:
			n += len(v.Name) + serializedLen(v.Input)
		case model.ToolResultPart:
			n += serializedLen(v.Content)
		case model.CitationsPart:
			n += len(v.Text)
		case model.DocumentPart:
			n += len(v.Text)
		}
	}
	return n
}

func serializedLen(v any) int {
	if v == nil {
		return 0
	}
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}
