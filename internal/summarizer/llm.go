package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/triage-go/internal/budget"
	"github.com/54b3r/triage-go/internal/feedback"
	"github.com/54b3r/triage-go/internal/logging"
)

// systemPrompt instructs the model to return one JSON object.
const systemPrompt = `You group user feedback for a product team.
You are given every report in one cluster of semantically similar reports.
Reply with a single JSON object and nothing else:
{"title": "<at most 10 words naming the shared issue>",
 "summary": "<2-3 sentences describing the issue and its impact>",
 "category": "<bug | feature_request | ux | performance | other>",
 "severity": "<low | medium | high>"}`

// LLMConfig tunes prompt sizing.
type LLMConfig struct {
	// Name identifies the backend in ProviderError values (e.g. "openai").
	Name string
	// MaxContextTokens is the prompt budget (default: budget.DefaultMaxContextTokens).
	MaxContextTokens int
	// MaxItemTokens caps each member's text (default: budget.DefaultMaxItemTokens).
	MaxItemTokens int
}

// LLM summarizes clusters with a chat model. It is safe for concurrent use
// when the model is.
type LLM struct {
	// model generates the JSON reply.
	model model.BaseChatModel
	// cfg holds prompt sizing and the provider name.
	cfg LLMConfig
}

// NewLLM constructs an LLM summarizer.
func NewLLM(m model.BaseChatModel, cfg LLMConfig) (*LLM, error) {
	if m == nil {
		return nil, fmt.Errorf("summarizer: model must not be nil")
	}
	if cfg.Name == "" {
		cfg.Name = "llm"
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	if cfg.MaxItemTokens <= 0 {
		cfg.MaxItemTokens = budget.DefaultMaxItemTokens
	}
	return &LLM{model: m, cfg: cfg}, nil
}

// Summarize implements feedback.Summarizer.
func (s *LLM) Summarize(ctx context.Context, items []feedback.Item) (feedback.Summary, error) {
	if len(items) == 0 {
		return feedback.Summary{}, &feedback.ValidationError{Field: "items", Reason: "must not be empty"}
	}

	system := schema.SystemMessage(systemPrompt)
	kept, dropped := budget.TrimItems(items, budget.EstimateMessages([]*schema.Message{system}), s.cfg.MaxContextTokens, s.cfg.MaxItemTokens)
	if dropped > 0 {
		logging.FromContext(ctx).Debug("summarizer: trimmed cluster members to fit prompt budget",
			slog.Int("kept", len(kept)),
			slog.Int("dropped", dropped),
		)
	}

	msgs := []*schema.Message{system, schema.UserMessage(renderItems(kept, len(items)))}
	reply, err := s.model.Generate(ctx, msgs)
	if err != nil {
		return feedback.Summary{}, s.providerErr(err)
	}
	if reply == nil {
		return feedback.Summary{}, s.providerErr(fmt.Errorf("empty reply"))
	}

	sum, err := parseReply(reply.Content)
	if err != nil {
		return feedback.Summary{}, s.providerErr(err)
	}
	return sum, nil
}

func (s *LLM) providerErr(err error) error {
	return &feedback.ProviderError{Provider: s.cfg.Name, Op: "summarize", Err: err}
}

// renderItems formats members as a bulleted list. total is the member count
// before trimming so the model knows the cluster's real size.
func renderItems(items []feedback.Item, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cluster with %d reports", total)
	if total > len(items) {
		fmt.Fprintf(&b, " (showing %d)", len(items))
	}
	b.WriteString(":\n")
	for _, it := range items {
		text := strings.Join(strings.Fields(it.Text), " ")
		fmt.Fprintf(&b, "- [%s] %s\n", it.Source, text)
	}
	return b.String()
}

// parseReply extracts the JSON object from a model reply. Code fences and
// surrounding prose are tolerated. String fields other than title and
// summary are returned as Extra.
func parseReply(content string) (feedback.Summary, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return feedback.Summary{}, fmt.Errorf("reply contains no JSON object")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return feedback.Summary{}, fmt.Errorf("decode reply: %w", err)
	}

	title, _ := raw["title"].(string)
	title = clampTitle(title)
	if title == "" {
		return feedback.Summary{}, fmt.Errorf("reply has no title")
	}
	summary, _ := raw["summary"].(string)

	sum := feedback.Summary{Title: title, Summary: strings.TrimSpace(summary)}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "title" || k == "summary" {
			continue
		}
		if v, ok := raw[k].(string); ok && v != "" {
			if sum.Extra == nil {
				sum.Extra = make(map[string]string)
			}
			sum.Extra[k] = v
		}
	}
	return sum, nil
}

var _ feedback.Summarizer = (*LLM)(nil)
