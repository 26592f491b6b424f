package client

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devrev/promptsource/internal/errors"
	"golang.org/x/time/rate"
)

const (
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
	headerRetryAfter    = "Retry-After"

	defaultRateLimitWait = time.Minute
)

type repoLimiter struct {
	limiter      *rate.Limiter
	blockedUntil time.Time
}

// RateLimiterRegistry keeps one token bucket per repository and narrows it
// using the rate-limit headers the remote returns.
type RateLimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*repoLimiter
	limit    rate.Limit
	burst    int
	maxWait  time.Duration
	now      func() time.Time
}

// NewRateLimiterRegistry creates a registry handing out buckets of the given rate
func NewRateLimiterRegistry(requestsPerSecond float64, burst int, maxWait time.Duration) *RateLimiterRegistry {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiterRegistry{
		limiters: make(map[string]*repoLimiter),
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		maxWait:  maxWait,
		now:      time.Now,
	}
}

func (r *RateLimiterRegistry) get(repo string) *repoLimiter {
	key := strings.ToLower(repo)
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[key]
	if !ok {
		l = &repoLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = l
	}
	return l
}

// Wait blocks until a request to repo may be sent. It fails fast with a
// rate-limited error when the remote has told us to back off for longer than
// the caller can wait.
func (r *RateLimiterRegistry) Wait(ctx context.Context, repo string) error {
	l := r.get(repo)

	r.mu.Lock()
	blockedUntil := l.blockedUntil
	r.mu.Unlock()

	if wait := blockedUntil.Sub(r.now()); wait > 0 {
		if wait > r.maxWait {
			return errors.RateLimited(0, wait)
		}
		if deadline, ok := ctx.Deadline(); ok && r.now().Add(wait).After(deadline) {
			return errors.RateLimited(0, wait)
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return errors.Timeout(ctx.Err())
		case <-timer.C:
		}
	}

	if err := l.limiter.Wait(ctx); err != nil {
		e := errors.RateLimited(0, time.Duration(float64(time.Second)/float64(l.limiter.Limit()+1)))
		e.Cause = err
		return e
	}
	return nil
}

// Observe updates the bucket for repo from response headers.
func (r *RateLimiterRegistry) Observe(repo string, h http.Header) {
	remaining, err := strconv.Atoi(h.Get(headerRateRemaining))
	if err != nil {
		return
	}
	reset, ok := parseUnix(h.Get(headerRateReset))
	if !ok {
		return
	}

	l := r.get(repo)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if remaining <= 0 {
		l.blockedUntil = reset
		return
	}
	l.blockedUntil = time.Time{}

	window := reset.Sub(now)
	if window <= 0 {
		l.limiter.SetLimit(r.limit)
		return
	}
	allowed := rate.Limit(float64(remaining) / window.Seconds())
	if allowed < r.limit {
		l.limiter.SetLimit(allowed)
	} else {
		l.limiter.SetLimit(r.limit)
	}
}

// BlockedUntil returns the time before which repo must not be contacted
func (r *RateLimiterRegistry) BlockedUntil(repo string) time.Time {
	l := r.get(repo)
	r.mu.Lock()
	defer r.mu.Unlock()
	return l.blockedUntil
}

// retryAfter derives the server-requested wait from response headers.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get(headerRetryAfter); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if reset, ok := parseUnix(h.Get(headerRateReset)); ok {
		if d := reset.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRateLimitWait
}

func parseUnix(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}
