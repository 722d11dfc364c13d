package ingestion

import (
	"strings"

	"github.com/54b3r/triage-go/internal/feedback"
)

// sourceMarkers are phrases that identify a source when the record does not
// name one. Checked in order; the first match wins.
var sourceMarkers = []struct {
	source  feedback.Source
	phrases []string
}{
	{feedback.SourceBugReport, []string{"steps to reproduce", "stack trace", "expected behavior", "expected behaviour", "actual behavior", "actual behaviour", "traceback", "panic:"}},
	{feedback.SourceSupportTicket, []string{"ticket #", "case #", "support request", "customer id"}},
	{feedback.SourceSurvey, []string{"how likely are you", "nps", "on a scale of", "survey"}},
}

// InferSource returns the source of an item. An explicit, known source
// always wins; an unknown explicit value maps to "other". Without one the
// text is inspected for well-known markers, falling back to "feedback".
func InferSource(explicit, text string) feedback.Source {
	if explicit != "" {
		return feedback.ParseSource(strings.ToLower(strings.TrimSpace(explicit)))
	}

	lower := strings.ToLower(text)
	for _, m := range sourceMarkers {
		for _, p := range m.phrases {
			if containsWord(lower, p) {
				return m.source
			}
		}
	}
	return feedback.SourceFeedback
}

// containsWord reports whether phrase occurs in s on word boundaries, so
// "nps" does not match "snapshot".
func containsWord(s, phrase string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], phrase)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(phrase)
		leftOK := start == 0 || !isWordByte(phrase[0]) || !isWordByte(s[start-1])
		rightOK := end == len(s) || !isWordByte(phrase[len(phrase)-1]) || !isWordByte(s[end])
		if leftOK && rightOK {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('0' <= b && b <= '9')
}
