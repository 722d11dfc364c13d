package embedder

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/time/rate"

	"github.com/54b3r/triage-go/internal/feedback"
)

// BatchEmbedder is implemented by every backend client in this package.
type BatchEmbedder interface {
	// EmbedBatch returns one embedding per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Name identifies the backend in errors.
	Name() string
}

// Adapter narrows a BatchEmbedder to feedback.Embedder. Every failure is
// returned as a *feedback.ProviderError.
type Adapter struct {
	// backend performs the actual embedding call.
	backend BatchEmbedder
	// limiter throttles outgoing calls; nil means unlimited.
	limiter *rate.Limiter
}

// NewAdapter wraps backend. rps > 0 enables a client-side token bucket with a
// burst of max(1, ceil(rps)).
func NewAdapter(backend BatchEmbedder, rps float64) (*Adapter, error) {
	if backend == nil {
		return nil, fmt.Errorf("embedder: backend must not be nil")
	}
	a := &Adapter{backend: backend}
	if rps > 0 {
		burst := int(math.Ceil(rps))
		a.limiter = rate.NewLimiter(rate.Limit(rps), max(1, burst))
	}
	return a, nil
}

// Name returns the wrapped backend's name.
func (a *Adapter) Name() string { return a.backend.Name() }

// Embed returns the embedding of text.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, a.providerErr(err)
		}
	}
	vecs, err := a.backend.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, a.providerErr(err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, a.providerErr(fmt.Errorf("empty embedding returned"))
	}
	return vecs[0], nil
}

func (a *Adapter) providerErr(err error) error {
	return &feedback.ProviderError{Provider: a.backend.Name(), Op: "embed", Err: err}
}

var _ feedback.Embedder = (*Adapter)(nil)
