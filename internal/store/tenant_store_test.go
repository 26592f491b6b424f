package store

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/promptsource/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *model.TenantRepositoryConfig {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.TenantRepositoryConfig{
		TenantID:      "t1",
		Repository:    "acme/prompts",
		Ref:           "main",
		Enabled:       true,
		SchemaVersion: model.CurrentSchemaVersion,
		CredentialRef: "ACME",
		CacheTTL:      30 * time.Minute,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
}

func TestPostgresTenantConfigStore_GetConfig(t *testing.T) {
	mock := newMockPool(t)
	s := NewPostgresTenantConfigStore(mock, zap.NewNop())
	cfg := testConfig()

	mock.ExpectQuery("FROM tenant_repository_configs").
		WithArgs("t1").
		WillReturnRows(mock.NewRows([]string{
			"tenant_id", "repository", "ref", "enabled", "schema_version", "credential_ref",
			"cache_ttl_seconds", "created_at", "updated_at", "version",
		}).AddRow("t1", "acme/prompts", "main", true, 2, "ACME", int64(1800), cfg.CreatedAt, cfg.UpdatedAt, int64(1)))

	got, err := s.GetConfig(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestPostgresTenantConfigStore_GetConfigNotFound(t *testing.T) {
	mock := newMockPool(t)
	s := NewPostgresTenantConfigStore(mock, zap.NewNop())

	mock.ExpectQuery("FROM tenant_repository_configs").
		WithArgs("t1").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetConfig(context.Background(), "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresTenantConfigStore_CreateDuplicate(t *testing.T) {
	mock := newMockPool(t)
	s := NewPostgresTenantConfigStore(mock, zap.NewNop())

	mock.ExpectExec("INSERT INTO tenant_repository_configs").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateConfig(context.Background(), testConfig())
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestPostgresTenantConfigStore_UpdateOptimisticLock(t *testing.T) {
	mock := newMockPool(t)
	s := NewPostgresTenantConfigStore(mock, zap.NewNop())
	cfg := testConfig()
	cfg.Version = 3

	mock.ExpectExec("UPDATE tenant_repository_configs").
		WithArgs(cfg.TenantID, cfg.Repository, cfg.Ref, cfg.Enabled, cfg.SchemaVersion,
			cfg.CredentialRef, int64(1800), cfg.UpdatedAt, int64(3), int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateConfig(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTenantConfigStore_Delete(t *testing.T) {
	mock := newMockPool(t)
	s := NewPostgresTenantConfigStore(mock, zap.NewNop())

	mock.ExpectExec("DELETE FROM tenant_repository_configs").
		WithArgs("t1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM tenant_repository_configs").
		WithArgs("t2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.NoError(t, s.DeleteConfig(context.Background(), "t1"))
	assert.ErrorIs(t, s.DeleteConfig(context.Background(), "t2"), ErrNotFound)
}

func TestMemoryTenantConfigStore(t *testing.T) {
	s := NewMemoryTenantConfigStore()
	ctx := context.Background()
	cfg := testConfig()

	_, err := s.GetConfig(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateConfig(ctx, cfg))
	assert.ErrorIs(t, s.CreateConfig(ctx, cfg), ErrVersionConflict)

	updated := *cfg
	updated.Ref = "release"
	updated.Version = 2
	require.NoError(t, s.UpdateConfig(ctx, &updated))
	assert.ErrorIs(t, s.UpdateConfig(ctx, &updated), ErrVersionConflict)

	got, err := s.GetConfig(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "release", got.Ref)

	require.NoError(t, s.DeleteConfig(ctx, "t1"))
	assert.ErrorIs(t, s.DeleteConfig(ctx, "t1"), ErrNotFound)
}

func TestConfigCache(t *testing.T) {
	c := NewConfigCache(time.Minute)
	defer c.Close()
	now := time.Now()
	c.now = func() time.Time { return now }

	_, ok := c.Get("t1")
	assert.False(t, ok)

	c.Set("t1", testConfig())
	got, ok := c.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "acme/prompts", got.Repository)
	assert.Equal(t, 1, c.Size())

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("t1")
	assert.False(t, ok)

	c.Delete("t1")
	assert.Equal(t, 0, c.Size())
}

func TestEnvCredentialResolver(t *testing.T) {
	r := &EnvCredentialResolver{lookup: func(k string) (string, bool) {
		if k == "PROMPTSOURCE_CREDENTIAL_ACME" {
			return "ghp_secret", true
		}
		return "", false
	}}
	ctx := context.Background()

	v, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", v)

	v, err = r.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, v)

	_, err = r.Resolve(ctx, "other")
	assert.ErrorIs(t, err, ErrNotFound)
}
