//go:build integration

package embedder

import (
	"context"
	"math"
	"os"
	"testing"
	"time"
)

// Integration tests against a locally running Ollama.
//
// Prerequisites:
//
//	ollama pull nomic-embed-text
//	ollama serve
//
// Run with:
//
//	go test -tags=integration ./internal/embedder/
//
// Set OLLAMA_HOST and EMBEDDING_MODEL to point elsewhere.

func ollamaFromEnv(t *testing.T) (*Adapter, string) {
	t.Helper()
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}
	a, err := NewAdapter(NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}), 0)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a, model
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// TestOllama_ParaphrasedComplaintsScoreCloser checks the property clustering
// depends on: two users reporting the same problem in different words must
// be nearer to each other than to an unrelated request.
func TestOllama_ParaphrasedComplaintsScoreCloser(t *testing.T) {
	emb, model := ollamaFromEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cases := []struct {
		name      string
		report    string
		rephrased string
		unrelated string
	}{
		{
			name:      "checkout",
			report:    "The pay button at checkout does nothing when I click it.",
			rephrased: "Clicking pay on the checkout page has no effect, I can't buy anything.",
			unrelated: "Please add a dark mode to the settings page.",
		},
		{
			name:      "login",
			report:    "App logs me out every few minutes since the last update.",
			rephrased: "After updating I keep getting signed out constantly.",
			unrelated: "The export to CSV option would be great for invoices.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vecs := make([][]float32, 0, 3)
			for _, text := range []string{tc.report, tc.rephrased, tc.unrelated} {
				v, err := emb.Embed(ctx, text)
				if err != nil {
					t.Fatalf("Embed: %v\n\nEnsure Ollama is running and %q is pulled:\n  ollama pull %s", err, model, model)
				}
				vecs = append(vecs, v)
			}
			if len(vecs[0]) != len(vecs[1]) || len(vecs[0]) != len(vecs[2]) {
				t.Fatalf("dimensions differ: %d, %d, %d", len(vecs[0]), len(vecs[1]), len(vecs[2]))
			}

			same := cosine(vecs[0], vecs[1])
			other := cosine(vecs[0], vecs[2])
			t.Logf("model=%s dim=%d same=%.3f unrelated=%.3f", model, len(vecs[0]), same, other)
			if same <= other {
				t.Errorf("paraphrase similarity %.3f should exceed unrelated %.3f", same, other)
			}
		})
	}
}
