package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/triage-go/internal/feedback"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // under 4 chars: 1
		{"abcd", 1},     // exactly 4 chars: 1
		{"abcde", 1},    // 5 chars: 1
		{"abcdefgh", 2}, // 8 chars: 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.UserMessage("hello world"),
	}
	// Each message: 4 overhead + Estimate("user")=1 + Estimate("hello world")=2 = 7
	if got := EstimateMessages(msgs); got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
}

func Test_Truncate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		input     string
		maxTokens int
		want      string
	}{
		{name: "short", input: "hello", maxTokens: 10, want: "hello"},
		{name: "no limit", input: "hello", maxTokens: 0, want: "hello"},
		{name: "cut", input: "abcdefghij", maxTokens: 2, want: "abcdefgh…"},
		// "é" is two bytes; a cut at byte 4 would split it.
		{name: "rune boundary", input: "abcé" + "xyz", maxTokens: 1, want: "abc…"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Truncate(tc.input, tc.maxTokens); got != tc.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tc.input, tc.maxTokens, got, tc.want)
			}
		})
	}
}

func Test_TrimItems_NoTrimNeeded(t *testing.T) {
	t.Parallel()
	items := []feedback.Item{{ID: "a", Text: "hi"}, {ID: "b", Text: "there"}}
	got, dropped := TrimItems(items, 100, DefaultMaxContextTokens, DefaultMaxItemTokens)
	if len(got) != 2 || dropped != 0 {
		t.Errorf("want 2 kept 0 dropped, got %d kept %d dropped", len(got), dropped)
	}
}

func Test_TrimItems_DropsTail(t *testing.T) {
	t.Parallel()
	items := []feedback.Item{
		{ID: "first", Text: strings.Repeat("x", 40)},  // 8 + 10 = 18
		{ID: "second", Text: strings.Repeat("y", 40)}, // 18
		{ID: "third", Text: strings.Repeat("z", 40)},  // 18
	}
	got, dropped := TrimItems(items, 0, 40, 0)
	if len(got) != 2 || dropped != 1 {
		t.Fatalf("want 2 kept 1 dropped, got %d kept %d dropped", len(got), dropped)
	}
	if got[0].ID != "first" || got[1].ID != "second" {
		t.Errorf("want order preserved, got %s, %s", got[0].ID, got[1].ID)
	}
}

func Test_TrimItems_AlwaysKeepsOne(t *testing.T) {
	t.Parallel()
	items := []feedback.Item{{ID: "huge", Text: strings.Repeat("x", 4000)}}
	got, dropped := TrimItems(items, 5000, 100, 50)
	if len(got) != 1 || dropped != 0 {
		t.Fatalf("want the single item kept, got %d kept %d dropped", len(got), dropped)
	}
	if Estimate(got[0].Text) > 51 {
		t.Errorf("want text truncated to ~50 tokens, got %d", Estimate(got[0].Text))
	}
	if items[0].Text != strings.Repeat("x", 4000) {
		t.Error("input slice must not be modified")
	}
}

func Test_TrimItems_Empty(t *testing.T) {
	t.Parallel()
	got, dropped := TrimItems(nil, 0, 10, 10)
	if len(got) != 0 || dropped != 0 {
		t.Errorf("want empty result, got %d kept %d dropped", len(got), dropped)
	}
}
