// Package prompts holds the built-in prompts served when a tenant's
// repository cannot provide one.
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/util"
)

//go:embed defaults
var defaultFiles embed.FS

// EmergencyPrompt is served when nothing else can be. It must stay a constant.
const EmergencyPrompt = "You are a helpful assistant. Summarize the conversation accurately and concisely."

// EmbeddedPrompt is one built-in default
type EmbeddedPrompt struct {
	Role    model.PromptRole
	Variant string
	Text    string
	Hash    string
}

// Defaults indexes the embedded prompts by role and variant
type Defaults struct {
	prompts map[model.PromptRole]map[string]EmbeddedPrompt
}

// LoadDefaults reads every embedded default
func LoadDefaults() (*Defaults, error) {
	return loadDefaults(defaultFiles, "defaults")
}

// MustLoadDefaults is LoadDefaults for process start-up
func MustLoadDefaults() *Defaults {
	d, err := LoadDefaults()
	if err != nil {
		panic(err)
	}
	return d
}

func loadDefaults(fsys fs.FS, root string) (*Defaults, error) {
	d := &Defaults{prompts: make(map[model.PromptRole]map[string]EmbeddedPrompt)}

	err := fs.WalkDir(fsys, root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || path.Ext(p) != ".md" {
			return nil
		}

		rel := strings.TrimPrefix(p, root+"/")
		role, file, ok := strings.Cut(rel, "/")
		if !ok || strings.Contains(file, "/") {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read default prompt %s: %w", p, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return fmt.Errorf("default prompt %s is empty", p)
		}

		r := model.PromptRole(role)
		if d.prompts[r] == nil {
			d.prompts[r] = make(map[string]EmbeddedPrompt)
		}
		variant := strings.TrimSuffix(file, ".md")
		d.prompts[r][variant] = EmbeddedPrompt{
			Role:    r,
			Variant: variant,
			Text:    text,
			Hash:    util.ContentHash(text),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for role, variants := range d.prompts {
		if _, ok := variants[model.DefaultVariant]; !ok {
			return nil, fmt.Errorf("role %s has no %s prompt", role, model.DefaultVariant)
		}
	}
	return d, nil
}

// For returns the default for the context's role and variant, falling back
// to the role's default variant.
func (d *Defaults) For(ctx model.RequestContext) (EmbeddedPrompt, error) {
	variants, ok := d.prompts[ctx.PromptRole()]
	if !ok {
		return EmbeddedPrompt{}, fmt.Errorf("no default prompts for role %q", ctx.PromptRole())
	}
	if p, ok := variants[ctx.Variant()]; ok {
		return p, nil
	}
	return variants[model.DefaultVariant], nil
}

// Variants lists the variants available for a role
func (d *Defaults) Variants(role model.PromptRole) []string {
	out := make([]string, 0, len(d.prompts[role]))
	for v := range d.prompts[role] {
		out = append(out, v)
	}
	return out
}
