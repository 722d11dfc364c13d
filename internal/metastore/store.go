// Package metastore provides the key/value and set store that holds cluster
// records, item-to-cluster membership and the unclustered work queue.
// Two backends satisfy Store: Redis (MULTI/EXEC pipelines) for shared
// deployments and SQLite (one transaction per pipeline) for a single host.
package metastore

import (
	"context"
	"errors"
)

// ErrConflict is returned (wrapped in a *feedback.StoreError) when a
// pipeline guard no longer holds.
var ErrConflict = errors.New("metastore: guarded field changed")

// OpKind enumerates the mutations a pipeline can carry.
type OpKind int

const (
	// OpHashSet sets Fields on the hash at Key.
	OpHashSet OpKind = iota + 1
	// OpHashDelete removes the field names in Members from the hash at Key.
	OpHashDelete
	// OpSetAdd adds Members to the set at Key.
	OpSetAdd
	// OpSetRemove removes Members from the set at Key.
	OpSetRemove
	// OpDelete deletes Key (hash or set) entirely.
	OpDelete
	// OpHashExpect aborts the pipeline with ErrConflict unless every entry
	// of Fields matches the hash at Key. An empty value matches an absent
	// field. Guards write nothing.
	OpHashExpect
)

// String returns the Redis command name for the op kind, or EXPECT for a
// guard.
func (k OpKind) String() string {
	switch k {
	case OpHashSet:
		return "HSET"
	case OpHashDelete:
		return "HDEL"
	case OpSetAdd:
		return "SADD"
	case OpSetRemove:
		return "SREM"
	case OpDelete:
		return "DEL"
	case OpHashExpect:
		return "EXPECT"
	default:
		return "UNKNOWN"
	}
}

// Op is one queued mutation.
type Op struct {
	Kind    OpKind
	Key     string
	Fields  map[string]string
	Members []string
}

// HashSetOp queues HSET key fields.
func HashSetOp(key string, fields map[string]string) Op {
	return Op{Kind: OpHashSet, Key: key, Fields: fields}
}

// HashDeleteOp queues HDEL key fields...
func HashDeleteOp(key string, fields ...string) Op {
	return Op{Kind: OpHashDelete, Key: key, Members: fields}
}

// SetAddOp queues SADD key members...
func SetAddOp(key string, members ...string) Op {
	return Op{Kind: OpSetAdd, Key: key, Members: members}
}

// SetRemoveOp queues SREM key members...
func SetRemoveOp(key string, members ...string) Op {
	return Op{Kind: OpSetRemove, Key: key, Members: members}
}

// HashExpectOp guards the pipeline on the current values of fields at key.
func HashExpectOp(key string, fields map[string]string) Op {
	return Op{Kind: OpHashExpect, Key: key, Fields: fields}
}

// DeleteOp queues DEL key.
func DeleteOp(key string) Op {
	return Op{Kind: OpDelete, Key: key}
}

// empty reports whether op would be a no-op (and invalid for Redis).
func (o Op) empty() bool {
	switch o.Kind {
	case OpHashSet, OpHashExpect:
		return len(o.Fields) == 0
	case OpHashDelete, OpSetAdd, OpSetRemove:
		return len(o.Members) == 0
	default:
		return false
	}
}

// Store is the narrow metadata-store surface used by the clustering core.
// Implementations must be safe to call from multiple goroutines. Failures
// are returned as *feedback.StoreError.
type Store interface {
	// HashGet returns every field of the hash at key (empty map if absent).
	HashGet(ctx context.Context, key string) (map[string]string, error)
	// HashSet sets fields on the hash at key.
	HashSet(ctx context.Context, key string, fields map[string]string) error
	// SetAdd adds members to the set at key.
	SetAdd(ctx context.Context, key string, members ...string) error
	// SetRemove removes members from the set at key.
	SetRemove(ctx context.Context, key string, members ...string) error
	// SetMembers returns the members of the set at key (empty if absent).
	SetMembers(ctx context.Context, key string) ([]string, error)
	// Delete removes keys.
	Delete(ctx context.Context, keys ...string) error
	// Pipeline applies ops atomically in one round trip. If any op fails the
	// whole call fails. Guard ops are checked before anything is written;
	// a guard that fails, or that changes before the commit, makes the call
	// fail with ErrConflict.
	Pipeline(ctx context.Context, ops []Op) error
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// Name identifies the backend in errors and readiness responses.
	Name() string
	// Close releases any resources held by the store.
	Close() error
}
