package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/triage-go/internal/config"
	"github.com/54b3r/triage-go/internal/embedder"
	"github.com/54b3r/triage-go/internal/feedback"
	"github.com/54b3r/triage-go/internal/items"
	"github.com/54b3r/triage-go/internal/metastore"
	"github.com/54b3r/triage-go/internal/metrics"
	"github.com/54b3r/triage-go/internal/orchestrator"
	"github.com/54b3r/triage-go/internal/provider"
	"github.com/54b3r/triage-go/internal/server"
	"github.com/54b3r/triage-go/internal/summarizer"
	"github.com/54b3r/triage-go/internal/tracing"
	"github.com/54b3r/triage-go/internal/vector"
	"github.com/54b3r/triage-go/internal/vectorstore"
	"github.com/54b3r/triage-go/internal/version"
)

// stackOptions selects the optional parts of a stack.
type stackOptions struct {
	// summarize builds the chat-model summarizer and Langfuse tracing.
	summarize bool
	// registerer receives pass metrics; nil disables them.
	registerer prometheus.Registerer
	// batchSize overrides CLUSTER_BATCH_SIZE when positive.
	batchSize int
}

// stack is every store and client a command needs, opened from the resolved
// runtime configuration. close releases them in reverse order.
type stack struct {
	rt       *config.Runtime
	items    *items.SQLiteStore
	meta     metastore.Store
	index    vector.Index
	vectors  *vectorstore.Adapter
	embedder *embedder.Adapter
	orch     *orchestrator.Orchestrator

	closers []func()
}

// openStack resolves the runtime configuration and opens every backend. On
// error everything opened so far is closed.
func openStack(ctx context.Context, log *slog.Logger, opts stackOptions) (_ *stack, err error) {
	rt, err := config.RuntimeFromEnv()
	if err != nil {
		return nil, err
	}
	if opts.batchSize > 0 {
		rt.BatchSize = opts.batchSize
	}
	st := &stack{rt: rt}
	defer func() {
		if err != nil {
			st.close()
		}
	}()

	st.items, err = items.Open(rt.ItemsDBPath)
	if err != nil {
		return nil, err
	}
	st.onClose(func() { _ = st.items.Close() })

	st.meta, err = openMetastore(rt)
	if err != nil {
		return nil, err
	}
	st.onClose(func() { _ = st.meta.Close() })

	st.index, err = openIndex(ctx, rt)
	if err != nil {
		return nil, err
	}
	st.onClose(func() { _ = st.index.Close() })

	st.vectors, err = vectorstore.New(st.index)
	if err != nil {
		return nil, err
	}

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	st.embedder, err = embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	var sum feedback.Summarizer
	if opts.summarize {
		sum, err = st.openSummarizer(ctx, log)
		if err != nil {
			return nil, err
		}
	}

	var passMetrics *metrics.Pass
	if opts.registerer != nil {
		passMetrics = metrics.NewPass(opts.registerer)
	}

	st.orch, err = orchestrator.New(orchestrator.Deps{
		Items:      st.items,
		Embedder:   st.embedder,
		Summarizer: sum,
		Vectors:    st.vectors,
		Meta:       st.meta,
		Metrics:    passMetrics,
	}, orchestrator.Config{
		BatchSize:     rt.BatchSize,
		TopK:          rt.TopK,
		CallTimeout:   rt.CallTimeout,
		CommitTimeout: rt.CommitTimeout,
		Keys:          st.keys(),
	})
	if err != nil {
		return nil, err
	}

	log.Debug("stack ready",
		slog.String("vector_backend", st.index.Name()),
		slog.String("metadata_backend", st.meta.Name()),
		slog.String("embedder", st.embedder.Name()),
		slog.String("items_db", rt.ItemsDBPath),
	)
	return st, nil
}

// openSummarizer builds the chat-model summarizer. MODEL_PROVIDER=none keeps
// the headline summarizer, which needs no model.
func (st *stack) openSummarizer(ctx context.Context, log *slog.Logger) (feedback.Summarizer, error) {
	cfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	if chatModel == nil {
		log.Info("summaries use the oldest member's headline", slog.String("reason", "MODEL_PROVIDER=none"))
		return summarizer.Headline{}, nil
	}

	flush, ok := tracing.Setup(tracing.ConfigFromEnv(version.String()))
	if ok {
		st.onClose(flush)
		log.Info("langfuse tracing enabled")
	} else {
		log.Debug("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
	}

	llm, err := summarizer.NewLLM(chatModel, summarizer.LLMConfig{Name: string(cfg.Backend)})
	if err != nil {
		return nil, err
	}
	log.Info("provider initialised",
		slog.String("provider", string(cfg.Backend)),
		slog.String("model", cfg.ModelName()),
	)
	return llm, nil
}

func openMetastore(rt *config.Runtime) (metastore.Store, error) {
	switch rt.MetadataBackend {
	case "redis":
		return metastore.NewRedisStore(&metastore.RedisConfig{URL: rt.RedisURL})
	default:
		if err := ensureParent(rt.MetadataSQLitePath); err != nil {
			return nil, err
		}
		return metastore.OpenSQLite(rt.MetadataSQLitePath)
	}
}

func openIndex(ctx context.Context, rt *config.Runtime) (vector.Index, error) {
	switch rt.VectorBackend {
	case "qdrant":
		size := uint64(embedder.DefaultDimensions(embedder.Backend())) //nolint:gosec // dimensions are bounded
		idx, err := vector.NewQdrantIndex(ctx, &vector.QdrantConfig{
			Host:       rt.QdrantHost,
			Port:       rt.QdrantPort,
			Collection: rt.QdrantCollection,
			VectorSize: size,
			APIKey:     rt.QdrantAPIKey,
			UseTLS:     rt.QdrantTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", rt.QdrantHost, rt.QdrantPort, err)
		}
		return idx, nil
	default:
		if err := ensureParent(rt.BoltPath); err != nil {
			return nil, err
		}
		// Dimension 0 adopts the length of the first stored vector.
		return vector.OpenBoltIndex(rt.BoltPath, 0)
	}
}

// pingers lists the readiness probes for `triage serve`.
func (st *stack) pingers() []server.Pinger {
	return []server.Pinger{
		server.NewPinger("items", st.items.Ping),
		server.NewPinger(st.meta.Name(), st.meta.Ping),
		server.NewPinger(st.index.Name(), st.index.Ping),
	}
}

func (st *stack) keys() metastore.Keys {
	return metastore.Keys{Prefix: st.rt.KeyPrefix}
}

func (st *stack) onClose(fn func()) { st.closers = append(st.closers, fn) }

func (st *stack) close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		st.closers[i]()
	}
	st.closers = nil
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
