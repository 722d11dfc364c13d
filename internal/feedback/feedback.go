// Package feedback defines the domain types shared by the clustering core:
// items, clusters, the collaborator interfaces for embedding and
// summarisation, and the error taxonomy used to classify failures.
// Concrete implementations (HTTP embedders, LLM summarizers, stores) live in
// their own packages and satisfy these interfaces so the engine and
// orchestrator never depend on a specific backend.
package feedback

import (
	"context"
	"fmt"
	"time"
)

// Source identifies where an item was ingested from.
type Source string

const (
	// SourceFeedback is free-form user feedback.
	SourceFeedback Source = "feedback"
	// SourceBugReport is a structured bug report.
	SourceBugReport Source = "bug_report"
	// SourceSupportTicket is a support desk ticket.
	SourceSupportTicket Source = "support_ticket"
	// SourceSurvey is a survey response.
	SourceSurvey Source = "survey"
	// SourceOther is anything else.
	SourceOther Source = "other"
)

// ParseSource converts s into a Source. Unknown values map to SourceOther.
func ParseSource(s string) Source {
	switch Source(s) {
	case SourceFeedback, SourceBugReport, SourceSupportTicket, SourceSurvey:
		return Source(s)
	default:
		return SourceOther
	}
}

// Item is a single text-bearing unit of feedback. Items are immutable once
// created; the clustering core reads them by ID and never deletes them.
type Item struct {
	// ID is the stable identifier assigned at ingestion time.
	ID string
	// Text is the body used for embedding and summarisation.
	Text string
	// Source is the channel the item arrived through.
	Source Source
	// CreatedAt is the ingestion timestamp.
	CreatedAt time.Time
}

// Status is the workflow state of a cluster.
type Status string

const (
	// StatusNew is the state of every freshly created cluster.
	StatusNew Status = "new"
	// StatusFixing means someone is working on the underlying issue.
	StatusFixing Status = "fixing"
	// StatusResolved means the underlying issue is fixed.
	StatusResolved Status = "resolved"
	// StatusFailed means the fix attempt failed.
	StatusFailed Status = "failed"
)

// ParseStatus validates s as a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusNew, StatusFixing, StatusResolved, StatusFailed:
		return Status(s), nil
	default:
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
	}
}

// Cluster is a named group of items considered semantically equivalent.
type Cluster struct {
	ID        string
	Title     string
	Summary   string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is the generated title and description for a cluster.
type Summary struct {
	// Title is a short headline for the cluster.
	Title string
	// Summary is a one-paragraph description of the shared problem.
	Summary string
	// Extra holds optional additional fields produced by the summarizer
	// (e.g. "severity", "component"). Persisted alongside the cluster record.
	Extra map[string]string
}

// Embedder converts item text into a fixed-length vector.
// Implementations must be safe to call from multiple goroutines and must
// return a *ProviderError when the upstream service fails.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer produces a title and summary for the full membership of a
// cluster. Implementations must be safe to call from multiple goroutines and
// must return a *ProviderError when the upstream service fails.
type Summarizer interface {
	Summarize(ctx context.Context, items []Item) (Summary, error)
}

// ItemReader loads item bodies by ID. IDs with no stored item are absent
// from the returned map; that is not an error.
type ItemReader interface {
	Get(ctx context.Context, ids []string) (map[string]Item, error)
}
