package model

import (
	"sort"
	"strings"
)

// Dimension is a named axis of request context. The set is fixed.
type Dimension string

const (
	DimensionType     Dimension = "type"
	DimensionChannel  Dimension = "channel"
	DimensionCategory Dimension = "category"
	DimensionGuild    Dimension = "guild"
	DimensionRole     Dimension = "role"
)

// Dimensions lists every known dimension in canonical order.
var Dimensions = []Dimension{
	DimensionType,
	DimensionChannel,
	DimensionCategory,
	DimensionGuild,
	DimensionRole,
}

// IsDimension reports whether name is one of the fixed dimensions.
func IsDimension(name string) bool {
	for _, d := range Dimensions {
		if string(d) == name {
			return true
		}
	}
	return false
}

// PromptRole selects which half of a prompt pair is being resolved
type PromptRole string

const (
	PromptRoleSystem PromptRole = "system"
	PromptRoleUser   PromptRole = "user"
)

// DefaultVariant is used when a request carries no type dimension.
const DefaultVariant = "default"

// RequestContext is the immutable input of a single resolution call.
type RequestContext struct {
	tenantID   string
	promptRole PromptRole
	values     map[Dimension]string
}

// NewRequestContext builds a RequestContext. Unknown dimension names and
// empty values are dropped; an empty role means system.
func NewRequestContext(tenantID string, role PromptRole, values map[string]string) RequestContext {
	if role == "" {
		role = PromptRoleSystem
	}
	dims := make(map[Dimension]string, len(values))
	for k, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || !IsDimension(k) {
			continue
		}
		dims[Dimension(k)] = v
	}
	return RequestContext{
		tenantID:   strings.TrimSpace(tenantID),
		promptRole: role,
		values:     dims,
	}
}

// TenantID returns the tenant identifier
func (r RequestContext) TenantID() string { return r.tenantID }

// PromptRole returns the prompt role (system/user)
func (r RequestContext) PromptRole() PromptRole { return r.promptRole }

// Value returns the value for a dimension, or "" when unset.
func (r RequestContext) Value(d Dimension) string { return r.values[d] }

// Variant returns the primary dimension value, falling back to DefaultVariant.
func (r RequestContext) Variant() string {
	if v := r.values[DimensionType]; v != "" {
		return v
	}
	return DefaultVariant
}

// Values returns a copy of the populated dimension values.
func (r RequestContext) Values() map[Dimension]string {
	out := make(map[Dimension]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// CanonicalString renders the context deterministically, for cache key derivation.
func (r RequestContext) CanonicalString() string {
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("role=")
	b.WriteString(string(r.promptRole))
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.values[Dimension(k)])
	}
	return b.String()
}
