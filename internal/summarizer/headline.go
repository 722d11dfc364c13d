// Package summarizer condenses a cluster's full membership into a title and
// summary. LLM asks a chat model for a JSON object; Headline is the
// deterministic fallback used when no model is configured or a model call
// fails on a brand-new cluster.
package summarizer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/triage-go/internal/feedback"
)

// maxTitleRunes bounds generated titles.
const maxTitleRunes = 80

// Headline summarizes a cluster without a model: the oldest member's first
// line becomes the title and the summary reports the member count by source.
type Headline struct{}

// Summarize implements feedback.Summarizer. It never fails for a non-empty
// input.
func (Headline) Summarize(_ context.Context, items []feedback.Item) (feedback.Summary, error) {
	if len(items) == 0 {
		return feedback.Summary{}, &feedback.ValidationError{Field: "items", Reason: "must not be empty"}
	}

	sorted := append([]feedback.Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	title := clampTitle(firstLine(sorted[0].Text))
	if title == "" {
		title = "Untitled cluster"
	}

	bySource := map[feedback.Source]int{}
	for _, it := range items {
		bySource[it.Source]++
	}
	sources := make([]string, 0, len(bySource))
	for src, n := range bySource {
		name := string(src)
		if name == "" {
			name = string(feedback.SourceOther)
		}
		sources = append(sources, fmt.Sprintf("%d %s", n, name))
	}
	sort.Strings(sources)

	noun := "reports"
	if len(items) == 1 {
		noun = "report"
	}
	return feedback.Summary{
		Title:   title,
		Summary: fmt.Sprintf("%d related %s (%s).", len(items), noun, strings.Join(sources, ", ")),
	}, nil
}

// firstLine returns the first non-blank line of s, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			return l
		}
	}
	return ""
}

// clampTitle shortens s to maxTitleRunes, appending "…" when cut.
func clampTitle(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxTitleRunes {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:maxTitleRunes-1])) + "…"
}

var _ feedback.Summarizer = Headline{}
