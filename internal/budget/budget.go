// Package budget estimates prompt size and trims cluster members so a
// summarisation prompt fits the model's context window. Backends use
// different tokenizers, so estimation uses a conservative character
// heuristic of 1 token per 4 characters.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/triage-go/internal/feedback"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input budget for a summary
	// prompt. It fits 8k-context models with room for the reply.
	DefaultMaxContextTokens = 6000

	// DefaultMaxItemTokens caps a single member's share of the prompt so one
	// long ticket cannot crowd out the rest of the cluster.
	DefaultMaxItemTokens = 300

	// itemOverhead approximates the per-item framing (bullet, id, source).
	itemOverhead = 8
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs, summing
// role and content plus a fixed per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Truncate shortens s to at most maxTokens estimated tokens, cutting on a
// rune boundary and appending "…" when anything was removed.
func Truncate(s string, maxTokens int) string {
	limit := maxTokens * charsPerToken
	if maxTokens <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// TrimItems fits items into maxTokens after reserving fixedTokens for the
// prompt scaffolding. Each item's text is first truncated to maxItemTokens;
// items are then kept in order until the budget is exhausted. At least one
// item is always kept when items is non-empty. The second return value is
// the number of items dropped.
func TrimItems(items []feedback.Item, fixedTokens, maxTokens, maxItemTokens int) ([]feedback.Item, int) {
	if len(items) == 0 {
		return items, 0
	}

	used := fixedTokens
	kept := make([]feedback.Item, 0, len(items))
	for _, it := range items {
		it.Text = Truncate(it.Text, maxItemTokens)
		cost := itemOverhead + Estimate(it.Text)
		if len(kept) > 0 && used+cost > maxTokens {
			break
		}
		used += cost
		kept = append(kept, it)
	}
	return kept, len(items) - len(kept)
}
