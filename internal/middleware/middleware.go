// Package middleware provides HTTP middleware for the prompt service.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/devrev/promptsource/internal/metrics"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

const healthPrefix = "/health/"

type contextKey struct{}

// RequestIDFrom returns the request ID stored by RequestID, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// RequestID assigns an ID to requests that arrive without one. Handlers read
// it back from the request header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, id)))
	})
}

// Logging writes one line per request and records request metrics under the
// route template, so tenant IDs never become label values.
func Logging(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			route := routeTemplate(r)
			m.RecordRequest(r.Method, route, strconv.Itoa(rec.status), elapsed.Seconds())

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", rec.status),
				zap.Int64("bytes", rec.bytes),
				zap.Duration("duration", elapsed),
				zap.String("request_id", r.Header.Get(RequestIDHeader)),
			}
			if tenantID := mux.Vars(r)["tenant_id"]; tenantID != "" {
				fields = append(fields, zap.String("tenant_id", tenantID))
			}

			switch {
			case rec.status >= http.StatusInternalServerError:
				logger.Warn("HTTP request failed", fields...)
			case strings.HasPrefix(r.URL.Path, healthPrefix):
				logger.Debug("HTTP request", fields...)
			default:
				logger.Info("HTTP request", fields...)
			}
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Recovery turns a handler panic into a 500 response.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("Handler panic recovered",
						zap.Any("panic", p),
						zap.String("route", routeTemplate(r)),
						zap.String("request_id", r.Header.Get(RequestIDHeader)))
					writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter keeps one token bucket per tenant so a single noisy tenant
// cannot starve the others. Requests outside a tenant route share one
// bucket; health checks are never limited.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// maxTrackedTenants bounds the bucket map; past it the map is reset.
const maxTrackedTenants = 10000

// NewRateLimiter creates a per-tenant inbound limiter.
func NewRateLimiter(requestsPerSecond float64, burst int, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

// SetLimit changes the rate for existing and future buckets.
func (rl *RateLimiter) SetLimit(requestsPerSecond float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limit, rl.burst = rate.Limit(requestsPerSecond), burst
	for _, l := range rl.limiters {
		l.SetLimit(rl.limit)
		l.SetBurst(burst)
	}
}

func (rl *RateLimiter) allow(tenantID string) bool {
	rl.mu.Lock()
	l, ok := rl.limiters[tenantID]
	if !ok {
		if len(rl.limiters) >= maxTrackedTenants {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[tenantID] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

// Limit rejects requests over the caller's tenant budget with 429.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, healthPrefix) {
			next.ServeHTTP(w, r)
			return
		}
		tenantID := mux.Vars(r)["tenant_id"]
		if !rl.allow(tenantID) {
			rl.logger.Warn("Inbound rate limit exceeded",
				zap.String("tenant_id", tenantID),
				zap.String("route", routeTemplate(r)),
				zap.String("request_id", r.Header.Get(RequestIDHeader)))
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Timeout bounds the request context. Resolution still answers after the
// deadline through its fallback chain.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Chain composes middleware; the first argument runs outermost.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

type errorBody struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{
		Status:    "error",
		ErrorCode: code,
		Message:   message,
		RequestID: r.Header.Get(RequestIDHeader),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}
