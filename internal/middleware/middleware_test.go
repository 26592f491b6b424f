package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/promptsource/internal/metrics"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

// tenantRouter mounts h behind mw on a tenant route and the health routes.
func tenantRouter(mw func(http.Handler) http.Handler, h http.HandlerFunc) *mux.Router {
	r := mux.NewRouter()
	r.Use(mw)
	r.HandleFunc("/v1/tenants/{tenant_id}/prompt", h)
	r.HandleFunc("/health/live", h)
	r.HandleFunc("/v1/admin/cache/stats", h)
	return r
}

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestRequestID(t *testing.T) {
	t.Run("assigns an ID when missing", func(t *testing.T) {
		var fromCtx, fromHeader string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fromCtx = RequestIDFrom(r.Context())
			fromHeader = r.Header.Get(RequestIDHeader)
		}))

		w := serve(h, "/v1/tenants/acme/prompt")

		require.NotEmpty(t, fromCtx)
		assert.Equal(t, fromCtx, fromHeader)
		assert.Equal(t, fromCtx, w.Header().Get(RequestIDHeader))
	})

	t.Run("keeps the caller's ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "trace-7")
		w := httptest.NewRecorder()

		RequestID(http.HandlerFunc(okHandler)).ServeHTTP(w, req)

		assert.Equal(t, "trace-7", w.Header().Get(RequestIDHeader))
	})
}

func TestLogging_LabelsByRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	r := tenantRouter(Logging(zap.NewNop(), m), okHandler)

	serve(r, "/v1/tenants/acme/prompt")
	serve(r, "/v1/tenants/globex/prompt")

	count, err := testutil.GatherAndCount(reg, "promptsource_http_requests_total")
	require.NoError(t, err)
	// Two tenants, one series.
	assert.Equal(t, 1, count)
}

func TestLogging_NilMetrics(t *testing.T) {
	w := serve(Logging(zap.NewNop(), nil)(http.HandlerFunc(okHandler)), "/anything")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestRecovery(t *testing.T) {
	h := Chain(RequestID, Recovery(zap.NewNop()))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := serve(h, "/v1/tenants/acme/prompt")

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body.ErrorCode)
	assert.Equal(t, w.Header().Get(RequestIDHeader), body.RequestID)
}

func TestRateLimiter_PerTenant(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, zap.NewNop())
	r := tenantRouter(rl.Limit, okHandler)

	assert.Equal(t, http.StatusOK, serve(r, "/v1/tenants/acme/prompt").Code)
	limited := serve(r, "/v1/tenants/acme/prompt")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))

	// Another tenant has its own bucket.
	assert.Equal(t, http.StatusOK, serve(r, "/v1/tenants/globex/prompt").Code)

	// Non-tenant routes share a bucket.
	assert.Equal(t, http.StatusOK, serve(r, "/v1/admin/cache/stats").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "/v1/admin/cache/stats").Code)
}

func TestRateLimiter_HealthExempt(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, zap.NewNop())
	r := tenantRouter(rl.Limit, okHandler)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(r, "/health/live").Code)
	}
}

func TestRateLimiter_SetLimit(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, zap.NewNop())
	r := tenantRouter(rl.Limit, okHandler)

	serve(r, "/v1/tenants/acme/prompt")
	require.Equal(t, http.StatusTooManyRequests, serve(r, "/v1/tenants/acme/prompt").Code)

	rl.SetLimit(1000, 10)

	assert.Eventually(t, func() bool {
		return serve(r, "/v1/tenants/acme/prompt").Code == http.StatusOK
	}, time.Second, 5*time.Millisecond)
}

func TestTimeout(t *testing.T) {
	var deadline time.Time
	h := Timeout(time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, _ = r.Context().Deadline()
	}))

	serve(h, "/")

	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

func TestChain_FirstIsOutermost(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	serve(Chain(mark("outer"), mark("inner"))(http.HandlerFunc(okHandler)), "/")

	assert.Equal(t, []string{"outer", "inner"}, order)
}
