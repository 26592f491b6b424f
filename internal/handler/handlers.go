// Package handler provides the HTTP handlers of the prompt service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/devrev/promptsource/internal/cache"
	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/store"
)

const maxBodyBytes = 64 << 10

// PromptResolver resolves prompts. It never fails.
type PromptResolver interface {
	Resolve(ctx context.Context, rc model.RequestContext) *model.ResolvedPrompt
}

// TenantAdmin manages tenant repository configuration
type TenantAdmin interface {
	GetRepositoryConfig(ctx context.Context, tenantID string) (*model.TenantRepositoryConfig, error)
	PutRepositoryConfig(ctx context.Context, cfg *model.TenantRepositoryConfig) (*model.TenantRepositoryConfig, error)
	DeleteRepositoryConfig(ctx context.Context, tenantID string) error
	InvalidateTenant(ctx context.Context, tenantID string) (int64, error)
}

// CacheAdmin exposes cache maintenance
type CacheAdmin interface {
	EvictToBudget(ctx context.Context, maxBytes int64) (store.EvictionResult, error)
	Stats(ctx context.Context) []cache.TierStats
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	resolver     PromptResolver
	tenants      TenantAdmin
	cache        CacheAdmin
	errorWriter  *ErrorWriter
	maxBytes     atomic.Int64
	adminTimeout time.Duration
	logger       *zap.Logger
}

// NewHandlers creates a new Handlers instance. maxBytes is the durable
// byte budget used when an eviction request names none.
func NewHandlers(
	resolver PromptResolver,
	tenants TenantAdmin,
	cacheAdmin CacheAdmin,
	errorWriter *ErrorWriter,
	maxBytes int64,
	adminTimeout time.Duration,
	logger *zap.Logger,
) *Handlers {
	if adminTimeout <= 0 {
		adminTimeout = 10 * time.Second
	}
	h := &Handlers{
		resolver:     resolver,
		tenants:      tenants,
		cache:        cacheAdmin,
		errorWriter:  errorWriter,
		adminTimeout: adminTimeout,
		logger:       logger,
	}
	h.maxBytes.Store(maxBytes)
	return h
}

// SetMaxBytes updates the default eviction budget
func (h *Handlers) SetMaxBytes(n int64) {
	h.maxBytes.Store(n)
}

// ResolvePrompt handles GET /v1/tenants/{tenant_id}/prompt. Any well-formed
// request gets content back.
func (h *Handlers) ResolvePrompt(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	tenantID := mux.Vars(r)["tenant_id"]

	query := r.URL.Query()
	role := model.PromptRole(strings.ToLower(query.Get("prompt_role")))
	if role == "" {
		role = model.PromptRoleSystem
	}
	if err := validation.Validate(string(role),
		validation.In(string(model.PromptRoleSystem), string(model.PromptRoleUser)),
	); err != nil {
		h.errorWriter.WriteValidationError(w, "prompt_role: "+err.Error(), requestID)
		return
	}

	values := make(map[string]string, len(model.Dimensions))
	for _, d := range model.Dimensions {
		if v := query.Get(string(d)); v != "" {
			values[string(d)] = v
		}
	}

	res := h.resolver.Resolve(r.Context(), model.NewRequestContext(tenantID, role, values))
	writeJSON(w, http.StatusOK, res)
}

// GetRepositoryConfig handles GET /v1/tenants/{tenant_id}/repository
func (h *Handlers) GetRepositoryConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.adminTimeout)
	defer cancel()

	cfg, err := h.tenants.GetRepositoryConfig(ctx, mux.Vars(r)["tenant_id"])
	if err != nil {
		h.errorWriter.HandleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRepositoryConfigResponse(cfg))
}

// PutRepositoryConfig handles PUT /v1/tenants/{tenant_id}/repository
func (h *Handlers) PutRepositoryConfig(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	tenantID := mux.Vars(r)["tenant_id"]

	var req RepositoryConfigRequest
	if err := decodeBody(r, &req); err != nil {
		h.errorWriter.WriteValidationError(w, "invalid request body: "+err.Error(), requestID)
		return
	}
	if err := req.Validate(); err != nil {
		h.errorWriter.WriteValidationError(w, err.Error(), requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.adminTimeout)
	defer cancel()

	cfg, err := h.tenants.PutRepositoryConfig(ctx, req.toModel(tenantID))
	if err != nil {
		h.errorWriter.HandleError(w, r, err)
		return
	}

	status := http.StatusOK
	if cfg.Version == 1 {
		status = http.StatusCreated
	}
	writeJSON(w, status, newRepositoryConfigResponse(cfg))
}

// DeleteRepositoryConfig handles DELETE /v1/tenants/{tenant_id}/repository
func (h *Handlers) DeleteRepositoryConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.adminTimeout)
	defer cancel()

	if err := h.tenants.DeleteRepositoryConfig(ctx, mux.Vars(r)["tenant_id"]); err != nil {
		h.errorWriter.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InvalidateTenant handles POST /v1/tenants/{tenant_id}/invalidate
func (h *Handlers) InvalidateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]

	ctx, cancel := context.WithTimeout(r.Context(), h.adminTimeout)
	defer cancel()

	n, err := h.tenants.InvalidateTenant(ctx, tenantID)
	if err != nil {
		// Tiers that did answer have already dropped their entries.
		h.logger.Warn("Tenant invalidation incomplete",
			zap.String("tenant_id", tenantID),
			zap.Int64("invalidated", n),
			zap.Error(err))
		h.errorWriter.HandleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, InvalidateResponse{TenantID: tenantID, Invalidated: n})
}

// EvictCache handles POST /v1/admin/cache/evict
func (h *Handlers) EvictCache(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req EvictRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.errorWriter.WriteValidationError(w, "invalid request body: "+err.Error(), requestID)
		return
	}

	maxBytes := req.MaxBytes
	if maxBytes == 0 {
		maxBytes = h.maxBytes.Load()
	}
	if maxBytes <= 0 {
		h.errorWriter.WriteValidationError(w, "max_bytes must be positive", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.adminTimeout)
	defer cancel()

	res, err := h.cache.EvictToBudget(ctx, maxBytes)
	if err != nil {
		h.errorWriter.HandleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EvictResponse{
		MaxBytes:       maxBytes,
		EvictedEntries: res.Entries,
		EvictedBytes:   res.Bytes,
	})
}

// CacheStats handles GET /v1/admin/cache/stats
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.adminTimeout)
	defer cancel()

	writeJSON(w, http.StatusOK, CacheStatsResponse{Tiers: h.cache.Stats(ctx)})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
