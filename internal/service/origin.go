package service

import (
	"context"
	stderrors "errors"

	"github.com/devrev/promptsource/internal/errors"
	"github.com/devrev/promptsource/internal/metrics"
	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/routing"
	"github.com/devrev/promptsource/internal/validation"
	"go.uber.org/zap"
)

// Fetcher retrieves one file from a remote repository
type Fetcher interface {
	Fetch(ctx context.Context, req model.FetchRequest) (*model.FetchedFile, error)
}

// CredentialSource resolves the access credential for a tenant
type CredentialSource interface {
	ResolveCredential(ctx context.Context, cfg *model.TenantRepositoryConfig) (string, error)
}

// FetchedPrompt is accepted content fresh from a repository
type FetchedPrompt struct {
	Content  string
	FilePath string
	Warnings []string
}

// OriginFetcher routes a context to a file, fetches it and validates it.
// It never caches.
type OriginFetcher struct {
	fetcher     Fetcher
	credentials CredentialSource
	router      *routing.Router
	validator   *validation.Validator
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewOriginFetcher creates a new origin fetcher
func NewOriginFetcher(
	fetcher Fetcher,
	credentials CredentialSource,
	router *routing.Router,
	validator *validation.Validator,
	m *metrics.Metrics,
	logger *zap.Logger,
) *OriginFetcher {
	return &OriginFetcher{
		fetcher:     fetcher,
		credentials: credentials,
		router:      router,
		validator:   validator,
		metrics:     m,
		logger:      logger,
	}
}

// FetchPrompt resolves rc against the tenant's repository
func (o *OriginFetcher) FetchPrompt(ctx context.Context, cfg *model.TenantRepositoryConfig, rc model.RequestContext) (*FetchedPrompt, error) {
	cred, err := o.credentials.ResolveCredential(ctx, cfg)
	if err != nil {
		return nil, err
	}

	path, err := o.resolvePath(ctx, cfg, rc, cred)
	if err != nil {
		return nil, err
	}

	return o.fetchValidated(ctx, cfg, path, cred)
}

// FetchLegacy fetches rc from the layout of the minimum supported schema
func (o *OriginFetcher) FetchLegacy(ctx context.Context, cfg *model.TenantRepositoryConfig, rc model.RequestContext) (*FetchedPrompt, error) {
	cred, err := o.credentials.ResolveCredential(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return o.fetchValidated(ctx, cfg, routing.LegacyPath(rc), cred)
}

// resolvePath picks the file to fetch. Repositories on the minimum schema have
// no routing document. A missing document or no matching pattern selects the
// conventional default path.
func (o *OriginFetcher) resolvePath(ctx context.Context, cfg *model.TenantRepositoryConfig, rc model.RequestContext, cred string) (string, error) {
	if cfg.SchemaVersion <= model.MinSupportedSchemaVersion {
		return routing.LegacyPath(rc), nil
	}

	doc, err := o.fetcher.Fetch(ctx, model.FetchRequest{
		Repository: cfg.Repository,
		Ref:        cfg.Ref,
		Path:       routing.DocumentPath,
		Credential: cred,
	})
	if errors.KindOf(err) == errors.KindNotFound {
		o.logger.Debug("No routing document, using default path",
			zap.String("tenant_id", cfg.TenantID),
			zap.String("repository", cfg.Repository))
		return routing.DefaultPath(rc), nil
	}
	if err != nil {
		return "", err
	}

	path, err := o.router.Route(doc.Content, rc)
	if stderrors.Is(err, routing.ErrNoMatch) {
		return routing.DefaultPath(rc), nil
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

func (o *OriginFetcher) fetchValidated(ctx context.Context, cfg *model.TenantRepositoryConfig, path, cred string) (*FetchedPrompt, error) {
	file, err := o.fetcher.Fetch(ctx, model.FetchRequest{
		Repository: cfg.Repository,
		Ref:        cfg.Ref,
		Path:       path,
		Credential: cred,
	})
	if err != nil {
		return nil, err
	}

	result := o.validator.Validate(file.Content, path)
	if !result.Accepted {
		o.metrics.RecordValidationRejection(result.Code)
		o.logger.Warn("Rejected repository content",
			zap.String("tenant_id", cfg.TenantID),
			zap.String("repository", cfg.Repository),
			zap.String("file_path", path),
			zap.String("reason", result.Reason))
		fe, _ := errors.AsFetchError(result.Err(path))
		return nil, fe.WithLocation(cfg.Repository, path)
	}

	for _, w := range result.Warnings {
		o.logger.Info("Repository content warning",
			zap.String("tenant_id", cfg.TenantID),
			zap.String("file_path", path),
			zap.String("warning", w))
	}

	return &FetchedPrompt{
		Content:  file.Content,
		FilePath: path,
		Warnings: result.Warnings,
	}, nil
}
