package routing

import (
	"testing"

	"github.com/devrev/promptsource/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ctxWith(values map[string]string) model.RequestContext {
	return model.NewRequestContext("tenant-1", model.PromptRoleSystem, values)
}

func templates(patterns []Pattern) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.Template
	}
	return out
}

func TestPriority(t *testing.T) {
	assert.Equal(t, 70, Priority(1, 1, 1))
	assert.Equal(t, 160, Priority(2, 2, 1))
	assert.Equal(t, FallbackPriority, Priority(0, 0, 1))
	assert.Equal(t, -30, Priority(0, 1, 2))
}

func TestParse_SkipsCommentsAndBlankLines(t *testing.T) {
	doc, problems := Parse(`
# routing for acme

system/{type}.md   # per variant
   
# system/old.md
`)
	assert.Empty(t, problems)
	require.Len(t, doc.Patterns, 1)
	assert.Equal(t, "system/{type}.md", doc.Patterns[0].Template)
	assert.Equal(t, 4, doc.Patterns[0].Line)
	assert.Equal(t, []model.Dimension{model.DimensionType}, doc.Patterns[0].Placeholders)
}

func TestParse_InvalidLinesAreSkipped(t *testing.T) {
	doc, problems := Parse(`system/{type}.md
system/{colour}.md
../secrets/{type}.md
/etc/{type}.md
C:\prompts\{type}.md
system/{type.md
system/type}.md
system/{}.md
channels/{channel}/{type}.md
`)
	require.Len(t, problems, 7)
	assert.Contains(t, problems[0].Reason, "unknown placeholder")
	assert.Contains(t, problems[1].Reason, "traversal")
	assert.Contains(t, problems[2].Reason, "absolute")
	assert.Contains(t, problems[3].Reason, "absolute")
	assert.Contains(t, problems[4].Reason, "unbalanced")
	assert.Contains(t, problems[5].Reason, "unbalanced")
	assert.Contains(t, problems[6].Reason, "empty placeholder")
	assert.Equal(t, 2, problems[0].Line)

	assert.ElementsMatch(t, []string{"system/{type}.md", "channels/{channel}/{type}.md"}, templates(doc.Patterns))
}

func TestParse_SortsByPriorityWithStableTies(t *testing.T) {
	doc, problems := Parse(`fallback.md
channels/{channel}/{type}.md
a/{type}.md
b/{type}.md
{type}.md
`)
	require.Empty(t, problems)
	// a/{type}.md and b/{type}.md tie at 70 and keep document order.
	assert.Equal(t, []string{
		"a/{type}.md",
		"b/{type}.md",
		"{type}.md",
		"channels/{channel}/{type}.md",
		"fallback.md",
	}, templates(doc.Patterns))
}

func TestParse_BareFileAlwaysLast(t *testing.T) {
	doc, _ := Parse(`default.md
x/y/z/w/v/u/t/s/r/q/static.md
{type}/{channel}/{category}/{guild}/{role}.md
`)
	require.Len(t, doc.Patterns, 3)
	assert.Equal(t, "default.md", doc.Patterns[2].Template)
	assert.Equal(t, FallbackPriority, doc.Patterns[2].Priority)
}

func TestParse_FrontMatter(t *testing.T) {
	doc, problems := Parse(`---
version: 2
default: shared/{type}.md
---
channels/{channel}/{type}.md
`)
	require.Empty(t, problems)
	assert.Equal(t, 2, doc.Version)
	require.NotNil(t, doc.DefaultPath)
	assert.Equal(t, "shared/{type}.md", doc.DefaultPath.Template)
	require.Len(t, doc.Patterns, 1)

	_, problems = Parse("---\nversion: [\n---\nsystem/{type}.md\n")
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0].Reason, "front-matter")
}

func TestResolve_FirstSatisfiedPatternWins(t *testing.T) {
	doc, _ := Parse(`channels/{channel}/{type}.md
system/{type}.md
default.md
`)

	path, err := Resolve(doc.Patterns, ctxWith(map[string]string{"type": "brief"}))
	require.NoError(t, err)
	assert.Equal(t, "system/brief.md", path)

	// system/{type}.md has the lower score, so it still wins when channel is present.
	path, err = Resolve(doc.Patterns, ctxWith(map[string]string{"type": "brief", "channel": "general"}))
	require.NoError(t, err)
	assert.Equal(t, "system/brief.md", path)

	path, err = Resolve(doc.Patterns, ctxWith(nil))
	require.NoError(t, err)
	assert.Equal(t, "default.md", path)
}

func TestResolve_NoMatch(t *testing.T) {
	doc, _ := Parse("channels/{channel}/{type}.md\n")
	_, err := Resolve(doc.Patterns, ctxWith(map[string]string{"type": "brief"}))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestResolve_SanitizesValues(t *testing.T) {
	doc, _ := Parse("channels/{channel}.md\n")

	path, err := Resolve(doc.Patterns, ctxWith(map[string]string{"channel": "../../etc/pass wd"}))
	require.NoError(t, err)
	assert.Equal(t, "channels/etcpasswd.md", path)

	// A value that sanitizes to nothing does not satisfy the placeholder.
	_, err = Resolve(doc.Patterns, ctxWith(map[string]string{"channel": "../.."}))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestSanitizeValue(t *testing.T) {
	assert.Equal(t, "brief-v2_x", SanitizeValue("brief-v2_x"))
	assert.Equal(t, "ab", SanitizeValue("a/b"))
	assert.Equal(t, "ab", SanitizeValue(`a\b`))
	assert.Equal(t, "caf", SanitizeValue("café"))
}

func TestDefaultAndLegacyPaths(t *testing.T) {
	ctx := model.NewRequestContext("t", model.PromptRoleUser, map[string]string{"type": "detailed"})
	assert.Equal(t, "user/detailed.md", DefaultPath(ctx))
	assert.Equal(t, "prompts/user/detailed.md", LegacyPath(ctx))

	assert.Equal(t, "system/default.md", DefaultPath(ctxWith(nil)))
}

func TestRouter_RouteUsesDocumentDefault(t *testing.T) {
	r := NewRouter(zap.NewNop())
	document := "---\ndefault: shared/{type}.md\n---\nchannels/{channel}/{type}.md\nbad/{nope}.md\n"

	path, err := r.Route(document, ctxWith(map[string]string{"type": "brief"}))
	require.NoError(t, err)
	assert.Equal(t, "shared/brief.md", path)

	_, err = r.Route(document, ctxWith(nil))
	assert.ErrorIs(t, err, ErrNoMatch)
}
