package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/triage-go/internal/feedback"
)

// fakeModel is a model.BaseChatModel returning a canned reply.
type fakeModel struct {
	reply string
	err   error
	got   []*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func sampleItems() []feedback.Item {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []feedback.Item{
		{ID: "b", Text: "Checkout button greyed out\nsince Tuesday", Source: feedback.SourceBugReport, CreatedAt: t0.Add(time.Hour)},
		{ID: "a", Text: "\n  Cannot check out on mobile  \nplease fix", Source: feedback.SourceFeedback, CreatedAt: t0},
		{ID: "c", Text: "checkout fails", Source: feedback.SourceBugReport, CreatedAt: t0.Add(2 * time.Hour)},
	}
}

func TestHeadline_UsesOldestFirstLine(t *testing.T) {
	t.Parallel()
	sum, err := Headline{}.Summarize(context.Background(), sampleItems())
	require.NoError(t, err)
	assert.Equal(t, "Cannot check out on mobile", sum.Title)
	assert.Equal(t, "3 related reports (1 feedback, 2 bug_report).", sum.Summary)
}

func TestHeadline_SingleAndLong(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("word ", 40)
	sum, err := Headline{}.Summarize(context.Background(), []feedback.Item{{ID: "x", Text: long}})
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(sum.Title)), maxTitleRunes)
	assert.True(t, strings.HasSuffix(sum.Title, "…"))
	assert.Equal(t, "1 related report (1 other).", sum.Summary)
}

func TestHeadline_Empty(t *testing.T) {
	t.Parallel()
	_, err := Headline{}.Summarize(context.Background(), nil)
	assert.True(t, feedback.IsValidation(err))
}

func TestLLM_ParsesFencedJSON(t *testing.T) {
	t.Parallel()
	m := &fakeModel{reply: "Here you go:\n```json\n{\"title\":\"Checkout broken on mobile\",\"summary\":\"Users cannot pay.\",\"severity\":\"high\",\"count\":3}\n```"}
	s, err := NewLLM(m, LLMConfig{Name: "fake"})
	require.NoError(t, err)

	sum, err := s.Summarize(context.Background(), sampleItems())
	require.NoError(t, err)
	assert.Equal(t, "Checkout broken on mobile", sum.Title)
	assert.Equal(t, "Users cannot pay.", sum.Summary)
	assert.Equal(t, map[string]string{"severity": "high"}, sum.Extra)

	require.Len(t, m.got, 2)
	assert.Equal(t, schema.System, m.got[0].Role)
	assert.Contains(t, m.got[1].Content, "Cluster with 3 reports:")
	assert.Contains(t, m.got[1].Content, "[bug_report] Checkout button greyed out since Tuesday")
}

func TestLLM_Failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		model *fakeModel
	}{
		{name: "model error", model: &fakeModel{err: errors.New("503")}},
		{name: "no json", model: &fakeModel{reply: "I cannot help with that."}},
		{name: "bad json", model: &fakeModel{reply: "{title: nope}"}},
		{name: "missing title", model: &fakeModel{reply: `{"summary":"x"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := NewLLM(tt.model, LLMConfig{Name: "fake"})
			require.NoError(t, err)
			_, err = s.Summarize(context.Background(), sampleItems())
			require.Error(t, err)
			assert.True(t, feedback.IsProviderError(err))
			assert.Contains(t, err.Error(), "fake")
		})
	}
}

func TestLLM_TrimsToBudget(t *testing.T) {
	t.Parallel()
	m := &fakeModel{reply: `{"title":"t","summary":"s"}`}
	s, err := NewLLM(m, LLMConfig{MaxContextTokens: 200, MaxItemTokens: 50})
	require.NoError(t, err)

	items := make([]feedback.Item, 20)
	for i := range items {
		items[i] = feedback.Item{ID: string(rune('a' + i)), Text: strings.Repeat("x", 400)}
	}
	_, err = s.Summarize(context.Background(), items)
	require.NoError(t, err)
	assert.Contains(t, m.got[1].Content, "Cluster with 20 reports (showing ")
}

func TestNewLLM_NilModel(t *testing.T) {
	t.Parallel()
	_, err := NewLLM(nil, LLMConfig{})
	assert.Error(t, err)
}
