package routing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/devrev/promptsource/internal/model"
	"go.uber.org/zap"
)

// ErrNoMatch is returned when no pattern can be satisfied by the context
var ErrNoMatch = errors.New("no routing pattern matched")

// DocumentPath is where the routing document lives in a current-schema repository.
const DocumentPath = "prompts.routes"

// sortPatterns orders by priority; equal priorities keep document order.
func sortPatterns(patterns []Pattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Priority < patterns[j].Priority
	})
}

// Resolve returns the file path of the first pattern whose placeholders are
// all satisfied by ctx.
func Resolve(patterns []Pattern, ctx model.RequestContext) (string, error) {
	for i := range patterns {
		if path, ok := patterns[i].Expand(ctx); ok {
			return path, nil
		}
	}
	return "", ErrNoMatch
}

// Expand substitutes sanitized context values into the pattern. It reports
// false when a placeholder has no usable value.
func (p *Pattern) Expand(ctx model.RequestContext) (string, bool) {
	var b strings.Builder
	for _, pt := range p.parts {
		if !pt.isPlaceholder() {
			b.WriteString(pt.literal)
			continue
		}
		v := SanitizeValue(ctx.Value(pt.placeholder))
		if v == "" {
			return "", false
		}
		b.WriteString(v)
	}
	return b.String(), true
}

// SanitizeValue keeps ASCII letters, digits, hyphen and underscore.
func SanitizeValue(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, v)
}

// DefaultPath is the conventional file for a context when routing yields nothing.
func DefaultPath(ctx model.RequestContext) string {
	variant := SanitizeValue(ctx.Variant())
	if variant == "" {
		variant = model.DefaultVariant
	}
	return fmt.Sprintf("%s/%s.md", ctx.PromptRole(), variant)
}

// LegacyPath is the fixed layout used by repositories on the minimum schema,
// which have no routing document.
func LegacyPath(ctx model.RequestContext) string {
	return "prompts/" + DefaultPath(ctx)
}

// Router parses routing documents and logs skipped lines
type Router struct {
	logger *zap.Logger
}

// NewRouter creates a new router
func NewRouter(logger *zap.Logger) *Router {
	return &Router{logger: logger}
}

// Route parses document and resolves ctx against it. A document default
// is tried after the patterns; ErrNoMatch means use DefaultPath.
func (r *Router) Route(document string, ctx model.RequestContext) (string, error) {
	doc, problems := Parse(document)
	for _, p := range problems {
		r.logger.Warn("Skipping malformed routing line",
			zap.String("tenant_id", ctx.TenantID()),
			zap.Int("line", p.Line),
			zap.String("text", p.Text),
			zap.String("reason", p.Reason))
	}

	path, err := Resolve(doc.Patterns, ctx)
	if err == nil {
		return path, nil
	}
	if doc.DefaultPath != nil {
		if path, ok := doc.DefaultPath.Expand(ctx); ok {
			return path, nil
		}
	}
	return "", err
}
