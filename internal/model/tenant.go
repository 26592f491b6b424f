package model

import (
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// MinSupportedSchemaVersion is the oldest repository layout still understood.
const MinSupportedSchemaVersion = 1

// CurrentSchemaVersion is the layout that uses a routing document.
const CurrentSchemaVersion = 2

var (
	repositoryLocator = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*/[A-Za-z0-9._-]+$`)
	credentialRefExpr = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// TenantRepositoryConfig describes where a tenant keeps its prompts
type TenantRepositoryConfig struct {
	TenantID      string
	Repository    string // owner/repository locator
	Ref           string // branch or tag
	Enabled       bool
	SchemaVersion int
	CredentialRef string // optional; resolved through a CredentialResolver
	CacheTTL      time.Duration
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64 // For optimistic locking
}

// Owner returns the owner half of the repository locator.
func (c *TenantRepositoryConfig) Owner() string {
	owner, _, _ := strings.Cut(c.Repository, "/")
	return owner
}

// Name returns the repository half of the repository locator.
func (c *TenantRepositoryConfig) Name() string {
	_, name, _ := strings.Cut(c.Repository, "/")
	return name
}

// Validate checks the fields a tenant may set.
func (c *TenantRepositoryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TenantID, validation.Required, validation.Length(1, 128)),
		validation.Field(&c.Repository,
			validation.Required,
			validation.Match(repositoryLocator).Error("must be an owner/repository locator"),
			validation.By(func(interface{}) error {
				if strings.Contains(c.Repository, "..") {
					return validation.NewError("validation_locator_traversal", "must not contain '..'")
				}
				return nil
			}),
		),
		validation.Field(&c.Ref, validation.Required, validation.Length(1, 255)),
		validation.Field(&c.SchemaVersion,
			validation.Required,
			validation.Min(MinSupportedSchemaVersion),
			validation.Max(CurrentSchemaVersion),
		),
		validation.Field(&c.CredentialRef, validation.Match(credentialRefExpr)),
		validation.Field(&c.CacheTTL, validation.Min(time.Duration(0))),
	)
}
