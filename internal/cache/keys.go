package cache

import (
	"fmt"

	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/util"
)

const keyHashLength = 24

// BuildKey derives the cache key for a resolution. The key changes whenever
// the repository, ref, schema version, prompt role or any dimension value
// changes, and always carries the tenant id so keys never collide across tenants.
func BuildKey(cfg *model.TenantRepositoryConfig, ctx model.RequestContext) string {
	material := fmt.Sprintf("%s@%s|v%d|%s", cfg.Repository, cfg.Ref, cfg.SchemaVersion, ctx.CanonicalString())
	return fmt.Sprintf("prompt:%s:%s", cfg.TenantID, util.ShortHash(material, keyHashLength))
}
