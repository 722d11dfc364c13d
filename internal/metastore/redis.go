package metastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/54b3r/triage-go/internal/feedback"
)

// RedisConfig holds connection parameters for a Redis-backed Store.
type RedisConfig struct {
	// URL is the redis:// or rediss:// connection URL.
	URL string
	// MaxIdle is the maximum number of idle pooled connections (default: 8).
	MaxIdle int
	// MaxActive caps the number of open connections; 0 means unlimited.
	MaxActive int
	// IdleTimeout closes pooled connections idle for longer than this (default: 5m).
	IdleTimeout time.Duration
}

// RedisStore implements Store on Redis using a redigo connection pool.
type RedisStore struct {
	// pool hands out connections; one connection is used per call.
	pool *redis.Pool
}

// NewRedisStore constructs a RedisStore. The pool dials lazily, so call Ping
// to verify connectivity at startup.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("metastore: redis URL must not be empty")
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 8
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}

	url := cfg.URL
	pool := &redis.Pool{
		MaxIdle:     cfg.MaxIdle,
		MaxActive:   cfg.MaxActive,
		IdleTimeout: cfg.IdleTimeout,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialURLContext(ctx, url)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return &RedisStore{pool: pool}, nil
}

// Name returns "redis".
func (s *RedisStore) Name() string { return "redis" }

// do runs a single command on a pooled connection.
func (s *RedisStore) do(ctx context.Context, op, cmd string, args ...any) (any, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, s.storeErr(op, err)
	}
	defer conn.Close()

	reply, err := redis.DoContext(conn, ctx, cmd, args...)
	if err != nil {
		return nil, s.storeErr(op, err)
	}
	return reply, nil
}

// HashGet returns all fields of the hash at key.
func (s *RedisStore) HashGet(ctx context.Context, key string) (map[string]string, error) {
	m, err := redis.StringMap(s.do(ctx, "hgetall", "HGETALL", key))
	if err != nil {
		return nil, s.asStoreErr("hgetall", err)
	}
	return m, nil
}

// HashSet sets fields on the hash at key.
func (s *RedisStore) HashSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	_, err := s.do(ctx, "hset", "HSET", redis.Args{}.Add(key).AddFlat(fields)...)
	return err
}

// SetAdd adds members to the set at key.
func (s *RedisStore) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	_, err := s.do(ctx, "sadd", "SADD", redis.Args{}.Add(key).AddFlat(members)...)
	return err
}

// SetRemove removes members from the set at key.
func (s *RedisStore) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	_, err := s.do(ctx, "srem", "SREM", redis.Args{}.Add(key).AddFlat(members)...)
	return err
}

// SetMembers returns the members of the set at key.
func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := redis.Strings(s.do(ctx, "smembers", "SMEMBERS", key))
	if err != nil {
		return nil, s.asStoreErr("smembers", err)
	}
	return members, nil
}

// Delete removes keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.do(ctx, "del", "DEL", redis.Args{}.AddFlat(keys)...)
	return err
}

// Pipeline queues every op inside MULTI and runs them with a single EXEC.
// A queued command that fails at execution time makes the whole call fail,
// so the caller never mistakes a partial commit for success. Guard keys are
// WATCHed and checked first, so a write by another client between the check
// and EXEC aborts the transaction.
func (s *RedisStore) Pipeline(ctx context.Context, ops []Op) error {
	guards, ops := splitGuards(compact(ops))
	if len(ops) == 0 && len(guards) == 0 {
		return nil
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return s.storeErr("pipeline", err)
	}
	defer conn.Close()

	if err := s.watch(ctx, conn, guards); err != nil {
		return err
	}
	if len(ops) == 0 {
		_, _ = conn.Do("UNWATCH")
		return nil
	}

	if err := conn.Send("MULTI"); err != nil {
		return s.storeErr("pipeline", err)
	}
	for _, op := range ops {
		cmd, args, err := commandFor(op)
		if err != nil {
			_, _ = conn.Do("DISCARD")
			return s.storeErr("pipeline", err)
		}
		if err := conn.Send(cmd, args...); err != nil {
			return s.storeErr("pipeline", err)
		}
	}

	replies, err := redis.Values(redis.DoContext(conn, ctx, "EXEC"))
	if err != nil {
		if errors.Is(err, redis.ErrNil) {
			if len(guards) > 0 {
				return s.storeErr("pipeline", ErrConflict)
			}
			return s.storeErr("pipeline", errors.New("transaction aborted"))
		}
		return s.storeErr("pipeline", err)
	}
	for i, r := range replies {
		if rerr, ok := r.(redis.Error); ok {
			return s.storeErr("pipeline", fmt.Errorf("op %d (%s %s): %w", i, ops[i].Kind, ops[i].Key, rerr))
		}
	}
	return nil
}

// watch WATCHes every guarded key on conn, then checks the guards.
func (s *RedisStore) watch(ctx context.Context, conn redis.Conn, guards []Op) error {
	if len(guards) == 0 {
		return nil
	}
	keys := make([]string, 0, len(guards))
	for _, g := range guards {
		keys = append(keys, g.Key)
	}
	if _, err := redis.DoContext(conn, ctx, "WATCH", redis.Args{}.AddFlat(keys)...); err != nil {
		return s.storeErr("pipeline", err)
	}

	for _, g := range guards {
		fields := make([]string, 0, len(g.Fields))
		for f := range g.Fields {
			fields = append(fields, f)
		}
		got, err := redis.Values(redis.DoContext(conn, ctx, "HMGET", redis.Args{}.Add(g.Key).AddFlat(fields)...))
		if err != nil {
			_, _ = conn.Do("UNWATCH")
			return s.storeErr("pipeline", err)
		}
		for i, f := range fields {
			v, _ := redis.String(got[i], nil)
			if v != g.Fields[f] {
				_, _ = conn.Do("UNWATCH")
				return s.storeErr("pipeline", fmt.Errorf("%s %s: %w", g.Key, f, ErrConflict))
			}
		}
	}
	return nil
}

// Ping sends PING.
func (s *RedisStore) Ping(ctx context.Context) error {
	_, err := s.do(ctx, "ping", "PING")
	return err
}

// Close closes the connection pool.
func (s *RedisStore) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("metastore: redis close: %w", err)
	}
	return nil
}

// commandFor translates an Op into a Redis command and arguments.
func commandFor(op Op) (string, []any, error) {
	switch op.Kind {
	case OpHashSet:
		return "HSET", redis.Args{}.Add(op.Key).AddFlat(op.Fields), nil
	case OpHashDelete:
		return "HDEL", redis.Args{}.Add(op.Key).AddFlat(op.Members), nil
	case OpSetAdd:
		return "SADD", redis.Args{}.Add(op.Key).AddFlat(op.Members), nil
	case OpSetRemove:
		return "SREM", redis.Args{}.Add(op.Key).AddFlat(op.Members), nil
	case OpDelete:
		return "DEL", redis.Args{}.Add(op.Key), nil
	default:
		return "", nil, fmt.Errorf("unknown op kind %d for key %q", op.Kind, op.Key)
	}
}

// splitGuards separates guard ops from writes, keeping write order.
func splitGuards(ops []Op) (guards, writes []Op) {
	for _, op := range ops {
		if op.Kind == OpHashExpect {
			guards = append(guards, op)
		} else {
			writes = append(writes, op)
		}
	}
	return guards, writes
}

// compact drops no-op entries that Redis would reject as malformed.
func compact(ops []Op) []Op {
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		if !op.empty() {
			out = append(out, op)
		}
	}
	return out
}

// storeErr wraps err as a StoreError attributed to Redis.
func (s *RedisStore) storeErr(op string, err error) error {
	return &feedback.StoreError{Store: s.Name(), Op: op, Err: err}
}

// asStoreErr wraps err unless it already is a StoreError.
func (s *RedisStore) asStoreErr(op string, err error) error {
	if feedback.IsStoreError(err) {
		return err
	}
	return s.storeErr(op, err)
}
