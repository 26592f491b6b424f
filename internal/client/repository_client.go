package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/avast/retry-go/v4"
	"github.com/devrev/promptsource/internal/errors"
	"github.com/devrev/promptsource/internal/model"
	"go.uber.org/zap"
)

const (
	maxResponseBytes = 1 << 20
	apiVersion       = "2022-11-28"
)

// RepositoryClientConfig configures the remote repository client
type RepositoryClientConfig struct {
	BaseURL           string
	Timeout           time.Duration // per attempt
	MaxAttempts       uint
	BaseBackoff       time.Duration
	MaxRateLimitWait  time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// FetchObserver is notified after every fetch; err is nil on success.
type FetchObserver func(repository string, err error, attempts uint, duration time.Duration)

// RepositoryClient fetches files through a repository contents API
type RepositoryClient struct {
	cfg        RepositoryClientConfig
	httpClient *http.Client
	limiters   *RateLimiterRegistry
	observer   FetchObserver
	logger     *zap.Logger
}

type contentResponse struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Size     int64  `json:"size"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
}

// NewRepositoryClient creates a new repository client
func NewRepositoryClient(cfg RepositoryClientConfig, logger *zap.Logger) *RepositoryClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxRateLimitWait <= 0 {
		cfg.MaxRateLimitWait = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "promptsource"
	}

	return &RepositoryClient{
		cfg:        cfg,
		httpClient: &http.Client{},
		limiters:   NewRateLimiterRegistry(cfg.RequestsPerSecond, cfg.Burst, cfg.MaxRateLimitWait),
		logger:     logger,
	}
}

// SetObserver registers a callback invoked once per Fetch
func (c *RepositoryClient) SetObserver(fn FetchObserver) {
	c.observer = fn
}

// Limiters exposes the per-repository rate limiter state
func (c *RepositoryClient) Limiters() *RateLimiterRegistry {
	return c.limiters
}

// Fetch retrieves one file, retrying transient failures with exponential backoff.
// Failures are always *errors.FetchError.
func (c *RepositoryClient) Fetch(ctx context.Context, req model.FetchRequest) (*model.FetchedFile, error) {
	start := time.Now()
	var attempts uint
	var file *model.FetchedFile

	if !validLocator(req.Repository) {
		err := errors.NotFound("invalid repository locator").WithLocation(req.Repository, req.Path)
		c.observe(req.Repository, err, 0, start)
		return nil, err
	}

	err := retry.Do(
		func() error {
			attempts++
			f, err := c.fetchOnce(ctx, req)
			if err != nil {
				return err
			}
			file = f
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.MaxAttempts),
		retry.Delay(c.cfg.BaseBackoff),
		retry.DelayType(c.delayFor),
		retry.RetryIf(c.shouldRetry),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("Retrying repository fetch",
				zap.String("repository", req.Repository),
				zap.String("file_path", req.Path),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)

	if err != nil {
		fe, ok := errors.AsFetchError(err)
		if !ok {
			if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
				fe = errors.Timeout(err)
			} else {
				fe = errors.Transport("fetch failed", err)
			}
		}
		fe.WithLocation(req.Repository, req.Path)
		c.observe(req.Repository, fe, attempts, start)
		return nil, fe
	}

	c.observe(req.Repository, nil, attempts, start)
	return file, nil
}

func (c *RepositoryClient) observe(repo string, err *errors.FetchError, attempts uint, start time.Time) {
	if err == nil {
		c.notify(repo, nil, attempts, start)
		return
	}
	c.notify(repo, err, attempts, start)
}

func (c *RepositoryClient) notify(repo string, err error, attempts uint, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer(repo, err, attempts, time.Since(start))
}

func (c *RepositoryClient) shouldRetry(err error) bool {
	fe, ok := errors.AsFetchError(err)
	if !ok {
		return false
	}
	if fe.Kind == errors.KindRateLimited && fe.RetryAfter > c.cfg.MaxRateLimitWait {
		return false
	}
	return fe.Retryable()
}

// delayFor honors a server-provided reset time, otherwise doubles the base delay.
func (c *RepositoryClient) delayFor(n uint, err error, config *retry.Config) time.Duration {
	if fe, ok := errors.AsFetchError(err); ok && fe.Kind == errors.KindRateLimited && fe.RetryAfter > 0 {
		return fe.RetryAfter
	}
	return retry.BackOffDelay(n, err, config)
}

func (c *RepositoryClient) fetchOnce(ctx context.Context, req model.FetchRequest) (*model.FetchedFile, error) {
	if err := c.limiters.Wait(ctx, req.Repository); err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, c.contentsURL(req), nil)
	if err != nil {
		return nil, retry.Unrecoverable(errors.Transport("failed to build request", err))
	}
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	httpReq.Header.Set("X-GitHub-Api-Version", apiVersion)
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	if req.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if attemptCtx.Err() != nil || stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Timeout(err)
		}
		return nil, errors.Transport("request failed", err)
	}
	defer resp.Body.Close()

	c.limiters.Observe(req.Repository, resp.Header)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if attemptCtx.Err() != nil {
			return nil, errors.Timeout(err)
		}
		return nil, errors.Transport("failed to read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return decodeContent(req, body)
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NotFound("file not found")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if isRateLimitResponse(resp.Header, body) {
			return nil, errors.RateLimited(resp.StatusCode, retryAfter(resp.Header, time.Now()))
		}
		return nil, errors.Forbidden(resp.StatusCode, "access denied")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.RateLimited(resp.StatusCode, retryAfter(resp.Header, time.Now()))
	case resp.StatusCode >= 500:
		return nil, errors.ServerError(resp.StatusCode)
	default:
		return nil, errors.Transport(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
}

func (c *RepositoryClient) contentsURL(req model.FetchRequest) string {
	segments := strings.Split(req.Path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	owner, name, _ := strings.Cut(req.Repository, "/")

	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		strings.TrimRight(c.cfg.BaseURL, "/"),
		url.PathEscape(owner), url.PathEscape(name),
		strings.Join(segments, "/"))
	if req.Ref != "" {
		u += "?ref=" + url.QueryEscape(req.Ref)
	}
	return u
}

// isRateLimitResponse detects rate limits the remote reports as 401/403.
func isRateLimitResponse(h http.Header, body []byte) bool {
	if h.Get(headerRateRemaining) == "0" {
		return true
	}
	return strings.Contains(strings.ToLower(string(body)), "rate limit")
}

func decodeContent(req model.FetchRequest, body []byte) (*model.FetchedFile, error) {
	var cr contentResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, errors.Transport("malformed contents response", err)
	}
	if cr.Type != "" && cr.Type != "file" {
		return nil, errors.NotFound(fmt.Sprintf("path is a %s, not a file", cr.Type))
	}

	var raw []byte
	switch cr.Encoding {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(strings.NewReplacer("\n", "", "\r", "").Replace(cr.Content))
		if err != nil {
			return nil, errors.ValidationFailed("content is not valid base64")
		}
		raw = decoded
	case "", "utf-8":
		raw = []byte(cr.Content)
	default:
		// "none" is returned for files too large for the contents API.
		return nil, errors.ValidationFailed(fmt.Sprintf("unsupported content encoding %q", cr.Encoding))
	}

	if !utf8.Valid(raw) {
		return nil, errors.ValidationFailed("content is not valid UTF-8")
	}

	path := cr.Path
	if path == "" {
		path = req.Path
	}
	return &model.FetchedFile{
		Repository: req.Repository,
		Ref:        req.Ref,
		Path:       path,
		SHA:        cr.SHA,
		Content:    string(raw),
		SizeBytes:  int64(len(raw)),
	}, nil
}

func validLocator(repo string) bool {
	owner, name, ok := strings.Cut(repo, "/")
	return ok && owner != "" && name != "" && !strings.Contains(name, "/") &&
		!strings.Contains(repo, "..")
}
