// Package ingestion implements the item ingestion pipeline. It reads
// feedback records, stores each one in the item store and queues it in the
// unclustered set so the next clustering pass picks it up. Optionally each
// item is embedded at ingestion time; those vectors are stored without a
// cluster so a later pass can absorb them into new clusters.
// This pipeline is invoked by the `triage ingest` CLI command.
package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/triage-go/internal/feedback"
	"github.com/54b3r/triage-go/internal/logging"
	"github.com/54b3r/triage-go/internal/metastore"
	"github.com/54b3r/triage-go/internal/vectorstore"
)

// ItemWriter persists item bodies.
type ItemWriter interface {
	Put(ctx context.Context, it feedback.Item) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Keys lays out the metadata store.
	Keys metastore.Keys

	// BatchSize is the number of IDs queued per SADD. Defaults to 100 if zero.
	BatchSize int

	// CallTimeout bounds each store or embedding call. Defaults to 30s if zero.
	CallTimeout time.Duration

	// Embed pre-embeds each item. Requires Embedder and Vectors.
	Embed bool

	// Now stamps records without a timestamp (default: time.Now).
	Now func() time.Time
}

// Result reports what one Ingest call did.
type Result struct {
	// Stored is the number of items written and queued.
	Stored int `json:"stored"`
	// Skipped is the number of records rejected as invalid.
	Skipped int `json:"skipped"`
	// Embedded is the number of items whose vector was stored.
	Embedded int `json:"embedded"`
	// EmbedFailures is the number of items left for the pass to embed.
	EmbedFailures int `json:"embedFailures"`
	// AlreadyClustered is the number of records whose item is already in a
	// cluster. They are left untouched.
	AlreadyClustered int `json:"alreadyClustered"`
}

// Pipeline orchestrates the store, queue and optional embed steps for a set of
// records.
type Pipeline struct {
	// items persists item bodies.
	items ItemWriter

	// meta holds the unclustered set and item flags.
	meta metastore.Store

	// embedder and vectors are only used when cfg.Embed is set.
	embedder feedback.Embedder
	vectors  *vectorstore.Adapter

	// cfg holds the resolved pipeline configuration.
	cfg Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
// embedder and vectors may be nil unless cfg.Embed is set.
func NewPipeline(items ItemWriter, meta metastore.Store, embedder feedback.Embedder, vectors *vectorstore.Adapter, cfg Config) (*Pipeline, error) {
	if items == nil {
		return nil, fmt.Errorf("ingestion: item store must not be nil")
	}
	if meta == nil {
		return nil, fmt.Errorf("ingestion: metadata store must not be nil")
	}
	if cfg.Embed && (embedder == nil || vectors == nil) {
		return nil, fmt.Errorf("ingestion: embedding requires an embedder and a vector store")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Pipeline{
		items:    items,
		meta:     meta,
		embedder: embedder,
		vectors:  vectors,
		cfg:      cfg,
	}, nil
}

// Ingest stores, queues and optionally embeds every record. Invalid records
// are skipped and counted; store failures abort. An item is queued only
// after its body is stored, so a pass never sees an ID it cannot load.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, records []Record, progress func(msg string)) (Result, error) {
	if progress == nil {
		progress = func(string) {}
	}
	log := logging.FromContext(ctx)
	var res Result

	for start := 0; start < len(records); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(records))

		var queued []feedback.Item
		for i, rec := range records[start:end] {
			it, err := p.toItem(rec)
			if err != nil {
				res.Skipped++
				log.Warn("ingestion: skipping record",
					slog.Int("record", start+i+1),
					slog.String("error", err.Error()),
				)
				continue
			}
			clustered, err := p.clustered(ctx, it.ID)
			if err != nil {
				return res, fmt.Errorf("ingestion: check item %s: %w", it.ID, err)
			}
			if clustered {
				res.AlreadyClustered++
				continue
			}
			if err := p.call(ctx, func(c context.Context) error { return p.items.Put(c, it) }); err != nil {
				return res, fmt.Errorf("ingestion: store item %s: %w", it.ID, err)
			}
			queued = append(queued, it)
		}
		if len(queued) == 0 {
			continue
		}

		if p.cfg.Embed {
			p.embed(ctx, queued, &res)
		}

		ids := make([]string, len(queued))
		for i, it := range queued {
			ids[i] = it.ID
		}
		err := p.call(ctx, func(c context.Context) error {
			return p.meta.SetAdd(c, p.cfg.Keys.Unclustered(), ids...)
		})
		if err != nil {
			return res, fmt.Errorf("ingestion: queue items: %w", err)
		}
		res.Stored += len(queued)
		progress(fmt.Sprintf("queued %d of %d records", end, len(records)))
	}

	log.Info("ingestion: complete",
		slog.Int("stored", res.Stored),
		slog.Int("skipped", res.Skipped),
		slog.Int("embedded", res.Embedded),
		slog.Int("embed_failures", res.EmbedFailures),
		slog.Int("already_clustered", res.AlreadyClustered),
	)
	return res, nil
}

// embed stores an unclustered vector for each item. Failures are counted
// and logged; the pass embeds those items itself.
func (p *Pipeline) embed(ctx context.Context, items []feedback.Item, res *Result) {
	log := logging.FromContext(ctx)
	entries := make([]vectorstore.Entry, 0, len(items))
	for _, it := range items {
		var vec []float32
		err := p.call(ctx, func(c context.Context) error {
			var err error
			vec, err = p.embedder.Embed(c, it.Text)
			return err
		})
		if err != nil {
			res.EmbedFailures++
			log.Warn("ingestion: embedding failed", slog.String("item_id", it.ID), slog.String("error", err.Error()))
			continue
		}
		entries = append(entries, vectorstore.Entry{
			ItemID:   it.ID,
			Vector:   vec,
			Metadata: vectorstore.Metadata{Source: it.Source, CreatedAt: it.CreatedAt},
		})
	}
	if len(entries) == 0 {
		return
	}

	err := p.call(ctx, func(c context.Context) error { return p.vectors.UpsertBatch(c, entries) })
	if err != nil {
		res.EmbedFailures += len(entries)
		log.Warn("ingestion: vector upsert failed", slog.Int("items", len(entries)), slog.String("error", err.Error()))
		return
	}
	res.Embedded += len(entries)

	ops := make([]metastore.Op, 0, len(entries))
	for _, e := range entries {
		ops = append(ops, metastore.HashSetOp(p.cfg.Keys.Item(e.ItemID), map[string]string{metastore.FieldEmbedded: "1"}))
	}
	if err := p.call(ctx, func(c context.Context) error { return p.meta.Pipeline(c, ops) }); err != nil {
		log.Warn("ingestion: marking items embedded failed", slog.String("error", err.Error()))
	}
}

// clustered reports whether id is already a cluster member. Re-queueing it
// would let a pass assign it twice.
func (p *Pipeline) clustered(ctx context.Context, id string) (bool, error) {
	var fields map[string]string
	err := p.call(ctx, func(c context.Context) error {
		var err error
		fields, err = p.meta.HashGet(c, p.cfg.Keys.Item(id))
		return err
	})
	if err != nil {
		return false, err
	}
	return fields[metastore.FieldClustered] == "1", nil
}

// toItem validates rec and fills in the ID, source and timestamp.
func (p *Pipeline) toItem(rec Record) (feedback.Item, error) {
	text := strings.TrimSpace(rec.Text)
	if text == "" {
		return feedback.Item{}, &feedback.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	it := feedback.Item{
		ID:        strings.TrimSpace(rec.ID),
		Text:      text,
		Source:    InferSource(rec.Source, text),
		CreatedAt: rec.CreatedAt,
	}
	if it.ID == "" {
		it.ID = itemID(it.Source, text)
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = p.cfg.Now()
	}
	return it, nil
}

// call runs fn under the per-call timeout.
func (p *Pipeline) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return fn(cctx)
}

// itemID derives a deterministic ID from an item's source and text, so
// re-ingesting the same file does not create duplicates.
func itemID(src feedback.Source, text string) string {
	h := sha256.Sum256([]byte(string(src) + "\x00" + text))
	return fmt.Sprintf("%x", h[:16])
}
