package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults for the runtime settings resolved by [RuntimeFromEnv].
const (
	DefaultThreshold     = 0.80
	DefaultBatchSize     = 50
	DefaultTopK          = 10
	DefaultCallTimeout   = 30 * time.Second
	DefaultCommitTimeout = 60 * time.Second
	DefaultServerHost    = "127.0.0.1"
	DefaultServerPort    = 8080
	DefaultCollection    = "triage_items"
)

// Runtime is the resolved store, clustering and server configuration. Model,
// embedding and tracing settings are resolved by their own packages.
type Runtime struct {
	// VectorBackend is qdrant or bolt (default: bolt).
	VectorBackend    string
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	QdrantAPIKey     string
	QdrantTLS        bool
	BoltPath         string

	// MetadataBackend is redis or sqlite (default: sqlite).
	MetadataBackend    string
	RedisURL           string
	MetadataSQLitePath string
	KeyPrefix          string

	ItemsDBPath string

	Threshold     float64
	BatchSize     int
	TopK          int
	CallTimeout   time.Duration
	CommitTimeout time.Duration

	ServerHost   string
	ServerPort   int
	APIKey       string
	PassInterval time.Duration
}

// RuntimeFromEnv resolves a Runtime from environment variables, after [Load]
// has projected any YAML file onto them.
//
//	VECTOR_BACKEND     = qdrant | bolt (default: bolt)
//	QDRANT_HOST, QDRANT_PORT, QDRANT_COLLECTION, QDRANT_API_KEY, QDRANT_TLS
//	BOLT_PATH          (default: ~/.triage/vectors.db)
//	METADATA_BACKEND   = redis | sqlite (default: sqlite)
//	REDIS_URL, METADATA_SQLITE_PATH (default: ~/.triage/metadata.db), METADATA_KEY_PREFIX
//	ITEMS_DB           (default: ~/.triage/items.db)
//	CLUSTER_THRESHOLD, CLUSTER_BATCH_SIZE, CLUSTER_TOP_K,
//	CLUSTER_CALL_TIMEOUT, CLUSTER_COMMIT_TIMEOUT
//	SERVER_HOST, SERVER_PORT, TRIAGE_API_KEY, SERVER_PASS_INTERVAL
func RuntimeFromEnv() (*Runtime, error) {
	dir, err := StateDir()
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		VectorBackend:    envOr("VECTOR_BACKEND", "bolt"),
		QdrantHost:       envOr("QDRANT_HOST", "localhost"),
		QdrantPort:       envInt("QDRANT_PORT", 6334),
		QdrantCollection: envOr("QDRANT_COLLECTION", DefaultCollection),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:        os.Getenv("QDRANT_TLS") == "true",
		BoltPath:         envOr("BOLT_PATH", filepath.Join(dir, "vectors.db")),

		MetadataBackend:    envOr("METADATA_BACKEND", "sqlite"),
		RedisURL:           os.Getenv("REDIS_URL"),
		MetadataSQLitePath: envOr("METADATA_SQLITE_PATH", filepath.Join(dir, "metadata.db")),
		KeyPrefix:          os.Getenv("METADATA_KEY_PREFIX"),

		ItemsDBPath: envOr("ITEMS_DB", filepath.Join(dir, "items.db")),

		Threshold:     envFloat("CLUSTER_THRESHOLD", DefaultThreshold),
		BatchSize:     envInt("CLUSTER_BATCH_SIZE", DefaultBatchSize),
		TopK:          envInt("CLUSTER_TOP_K", DefaultTopK),
		CallTimeout:   Duration(os.Getenv("CLUSTER_CALL_TIMEOUT"), DefaultCallTimeout),
		CommitTimeout: Duration(os.Getenv("CLUSTER_COMMIT_TIMEOUT"), DefaultCommitTimeout),

		ServerHost:   envOr("SERVER_HOST", DefaultServerHost),
		ServerPort:   envInt("SERVER_PORT", DefaultServerPort),
		APIKey:       os.Getenv("TRIAGE_API_KEY"),
		PassInterval: Duration(os.Getenv("SERVER_PASS_INTERVAL"), 0),
	}
	return rt, rt.Validate()
}

// Validate rejects backend names and values that cannot work.
func (r *Runtime) Validate() error {
	switch r.VectorBackend {
	case "bolt", "qdrant":
	default:
		return fmt.Errorf("config: VECTOR_BACKEND %q is not one of qdrant, bolt", r.VectorBackend)
	}
	switch r.MetadataBackend {
	case "sqlite":
	case "redis":
		if r.RedisURL == "" {
			return fmt.Errorf("config: METADATA_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("config: METADATA_BACKEND %q is not one of redis, sqlite", r.MetadataBackend)
	}
	if r.BatchSize <= 0 {
		return fmt.Errorf("config: CLUSTER_BATCH_SIZE must be positive, got %d", r.BatchSize)
	}
	if r.TopK <= 0 {
		return fmt.Errorf("config: CLUSTER_TOP_K must be positive, got %d", r.TopK)
	}
	return nil
}

// Addr is the server listen address.
func (r *Runtime) Addr() string {
	return fmt.Sprintf("%s:%d", r.ServerHost, r.ServerPort)
}

// envOr returns the named variable, or fallback if unset or empty.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
