package tokenaccount

import (
	"encoding/json"

	"github.com/agentrun/agentrun/runtime/agent/model"
)

// mergeTable is a minimal byte-pair-encoding merge table: pairs of byte
// sequences are merged in rank order until no further merge applies. This
// mirrors the structure of the merge tables shipped with tiktoken-style
// tokenizers without depending on one; ranks are loaded once at process
// start via RegisterTable and cached for the lifetime of the process.
type mergeTable struct {
	ranks map[[2]string]int
}

// bpeTables maps a canonicalized provider family (e.g. "anthropic",
// "openai") to its merge table. Populated by RegisterTable; families with no
// registered table fall back to HeuristicCounter.
var bpeTables = map[string]*mergeTable{}

// RegisterTable installs a merge table for the given provider family. ranks
// maps a byte-pair (as a 2-element array of single-rune strings or larger
// merged tokens) to its merge priority, lower ranks merging first. Intended
// to be called once at startup from an embedded or loaded encoding file;
// registering the same family twice replaces the previous table.
func RegisterTable(family string, ranks map[[2]string]int) {
	bpeTables[family] = &mergeTable{ranks: cloneRanks(ranks)}
}

func cloneRanks(ranks map[[2]string]int) map[[2]string]int {
	out := make(map[[2]string]int, len(ranks))
	for k, v := range ranks {
		out[k] = v
	}
	return out
}

func (t *mergeTable) countParts(parts []model.Part) int {
	n := 0
	for _, p := range parts {
		switch v := p.(type) {
		case model.TextPart:
			n += t.countString(v.Text)
		case model.ThinkingPart:
			n += t.countString(v.Text)
			if len(v.Redacted) > 0 {
				n += len(v.Redacted) / 4
			}
		case model.ToolUsePart:
			n += t.countString(v.Name)
			n += t.countString(serializedString(v.Input))
		case model.ToolResultPart:
			n += t.countString(serializedString(v.Content))
		case model.CitationsPart:
			n += t.countString(v.Text)
		case model.DocumentPart:
			n += t.countString(v.Text)
		}
	}
	return n
}

// countString merges adjacent symbols per the rank table until no merge in
// the table applies, returning the resulting symbol count (the token count
// for that string). Symbols start as single runes.
func (t *mergeTable) countString(s string) int {
	if s == "" {
		return 0
	}
	symbols := make([]string, 0, len(s))
	for _, r := range s {
		symbols = append(symbols, string(r))
	}
	for {
		bestRank := -1
		bestIdx := -1
		for i := 0; i < len(symbols)-1; i++ {
			rank, ok := t.ranks[[2]string{symbols[i], symbols[i+1]}]
			if !ok {
				continue
			}
			if bestRank == -1 || rank < bestRank {
				bestRank = rank
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		merged := symbols[bestIdx] + symbols[bestIdx+1]
		symbols = append(symbols[:bestIdx], append([]string{merged}, symbols[bestIdx+2:]...)...)
	}
	return len(symbols)
}

func serializedString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
