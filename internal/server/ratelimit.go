package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/triage-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained per-client rate on mutating routes.
	// A pass trigger can run for minutes, so the default is low.
	defaultRateLimit = 1
	// defaultRateBurst is the per-client burst on mutating routes.
	defaultRateBurst = 5

	// idleTTL is how long a client's buckets survive without traffic.
	idleTTL = 5 * time.Minute
	// sweepEvery is the eviction interval.
	sweepEvery = time.Minute
)

// bucketKey separates clients and routes: exhausting the pass trigger
// budget does not block status updates from the same client.
type bucketKey struct {
	client string
	route  string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces per-client, per-route token buckets on the mutating
// routes. Idle buckets are evicted by a background sweep.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	rps     rate.Limit
	burst   int
	now     func() time.Time
	log     *slog.Logger
}

// newRateLimiter starts the eviction sweep; call the returned stop function
// to end it.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets: make(map[bucketKey]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		log:     log,
	}

	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				if n := rl.evict(); n > 0 {
					rl.log.Debug("server: evicted idle rate limit buckets", slog.Int("count", n))
				}
			}
		}
	}()

	return rl, func() { close(stopCh) }
}

func (rl *rateLimiter) limiter(k bucketKey) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[k]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[k] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

// evict drops buckets idle for longer than idleTTL and reports how many.
func (rl *rateLimiter) evict() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idleTTL)
	n := 0
	for k, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, k)
			n++
		}
	}
	return n
}

// limit wraps next with the route's bucket. A rejected request gets 429
// with a Retry-After header set to the seconds until the next token.
func (rl *rateLimiter) limit(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		res := rl.limiter(bucketKey{client: client, route: route}).ReserveN(rl.now(), 1)

		if delay := res.DelayFrom(rl.now()); !res.OK() || delay > 0 {
			res.Cancel()
			retry := 1
			if res.OK() {
				retry = max(1, int(math.Ceil(delay.Seconds())))
			}
			logging.FromContext(r.Context()).Warn("server: rate limit exceeded",
				slog.String("client", client),
				slog.String("route", route),
				slog.Int("retry_after_s", retry),
			)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(r.Context(), w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
