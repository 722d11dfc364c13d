package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadItemID is the payload key holding the caller's original point ID.
// Qdrant only accepts UUIDs or integers as point IDs, so item IDs are mapped
// to a deterministic UUIDv5 and the original is kept alongside.
const payloadItemID = "item_id"

// scrollPageSize is the number of points fetched per Scroll round trip.
const scrollPageSize = 256

// pointNamespace seeds the UUIDv5 mapping from item ID to Qdrant point ID.
var pointNamespace = uuid.MustParse("6f1c1d3e-3c1a-4b8e-9a52-2f0c8e5d7a10")

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements Index backed by a Qdrant collection.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex creates a new QdrantIndex, ensuring the target collection
// exists (creating it with cosine distance if necessary).
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name must not be empty")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", q.cfg.Collection, err)
	}
	return nil
}

// Client exposes the underlying gRPC client for readiness probes.
func (q *QdrantIndex) Client() *qdrant.Client { return q.client }

// Name returns "qdrant".
func (q *QdrantIndex) Name() string { return "qdrant" }

// Upsert stores or overwrites points. The wait flag is set so a subsequent
// query in the same pass observes the write.
func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload[payloadItemID] = p.ID

		structs = append(structs, &qdrant.PointStruct{
			Id:      pointID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Get fetches points with their vectors and payloads.
func (q *QdrantIndex) Get(ctx context.Context, ids []string) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, pointID(id))
	}

	retrieved, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.cfg.Collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: get failed: %w", err)
	}

	out := make([]Point, 0, len(retrieved))
	for _, r := range retrieved {
		id, payload := decodePayload(r.GetPayload())
		p := Point{ID: id, Payload: payload}
		if v := r.GetVectors().GetVector(); v != nil {
			p.Vector = v.GetData()
		}
		out = append(out, p)
	}
	return out, nil
}

// Query performs a cosine similarity search and returns up to limit matches.
func (q *QdrantIndex) Query(ctx context.Context, vec []float32, limit int, filter *Filter) ([]Match, error) {
	lim := uint64(limit) //nolint:gosec // limit is a small positive top-K
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &lim,
		Filter:         toQdrantFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		id, payload := decodePayload(r.GetPayload())
		matches = append(matches, Match{ID: id, Score: r.GetScore(), Payload: payload})
	}
	return matches, nil
}

// Scroll pages through every point matching filter.
func (q *QdrantIndex) Scroll(ctx context.Context, filter *Filter) ([]Point, error) {
	var (
		out    []Point
		offset *qdrant.PointId
	)
	limit := uint32(scrollPageSize)

	for {
		page, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.cfg.Collection,
			Filter:         toQdrantFilter(filter),
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: scroll failed: %w", err)
		}

		// The offset point is returned again at the head of the next page.
		start := 0
		if offset != nil && len(page) > 0 {
			start = 1
		}
		for _, r := range page[start:] {
			id, payload := decodePayload(r.GetPayload())
			out = append(out, Point{ID: id, Payload: payload})
		}

		if len(page) < scrollPageSize {
			return out, nil
		}
		offset = page[len(page)-1].GetId()
	}
}

// Delete removes points from the collection by their IDs.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, pointID(id))
	}

	wait := true
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}
	return nil
}

// Ping calls the Qdrant HealthCheck RPC.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// pointID maps an item ID to its deterministic Qdrant point ID.
func pointID(id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(id)).String())
}

// toQdrantFilter converts a Filter into a Qdrant must-match filter.
func toQdrantFilter(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(f.Field, f.Value)},
	}
}

// decodePayload splits a Qdrant payload into the original item ID and the
// remaining string fields.
func decodePayload(p map[string]*qdrant.Value) (string, map[string]string) {
	payload := make(map[string]string, len(p))
	var id string
	for k, v := range p {
		if k == payloadItemID {
			id = v.GetStringValue()
			continue
		}
		payload[k] = v.GetStringValue()
	}
	return id, payload
}
