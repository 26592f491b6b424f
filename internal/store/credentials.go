package store

import (
	"context"
	"os"
	"strings"
)

// CredentialEnvPrefix prefixes environment variables holding repository credentials
const CredentialEnvPrefix = "PROMPTSOURCE_CREDENTIAL_"

// CredentialResolver turns a credential reference into the secret it names
type CredentialResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// EnvCredentialResolver reads credentials from PROMPTSOURCE_CREDENTIAL_<REF>
type EnvCredentialResolver struct {
	lookup func(string) (string, bool)
}

// NewEnvCredentialResolver creates a resolver over the process environment
func NewEnvCredentialResolver() *EnvCredentialResolver {
	return &EnvCredentialResolver{lookup: os.LookupEnv}
}

// Resolve returns the credential for ref. An empty ref resolves to no credential.
func (r *EnvCredentialResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	v, ok := r.lookup(CredentialEnvPrefix + strings.ToUpper(ref))
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// StaticCredentialResolver serves credentials from a fixed map
type StaticCredentialResolver map[string]string

// Resolve returns the credential for ref
func (r StaticCredentialResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	v, ok := r[ref]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}
