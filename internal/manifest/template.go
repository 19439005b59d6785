// Package manifest generates, caches, and invalidates versioned add-in
// manifest documents per environment and A/B variant.
package manifest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Environment is the deployment environment a manifest is generated for
type Environment string

// Closed set of environments, fixed at compile time
const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Environments lists every environment in a stable order
func Environments() []Environment {
	return []Environment{EnvDevelopment, EnvTesting, EnvStaging, EnvProduction}
}

// ParseEnvironment validates an environment string. ok is false for values
// outside the closed set.
func ParseEnvironment(s string) (Environment, bool) {
	switch Environment(strings.ToLower(s)) {
	case EnvDevelopment:
		return EnvDevelopment, true
	case EnvTesting:
		return EnvTesting, true
	case EnvStaging:
		return EnvStaging, true
	case EnvProduction:
		return EnvProduction, true
	default:
		return EnvProduction, false
	}
}

// Variant is the A/B bucket a manifest is generated for
type Variant string

// Closed set of variants, fixed at compile time
const (
	VariantDefault Variant = "default"
	VariantA       Variant = "variantA"
	VariantB       Variant = "variantB"
	VariantBeta    Variant = "beta"
)

// Variants lists every variant in a stable order
func Variants() []Variant {
	return []Variant{VariantDefault, VariantA, VariantB, VariantBeta}
}

// ParseVariant validates a variant string. ok is false for values outside
// the closed set.
func ParseVariant(s string) (Variant, bool) {
	switch Variant(s) {
	case VariantDefault:
		return VariantDefault, true
	case VariantA:
		return VariantA, true
	case VariantB:
		return VariantB, true
	case VariantBeta:
		return VariantBeta, true
	default:
		return VariantDefault, false
	}
}

// Template holds everything needed to render a manifest for one
// (environment, variant) pair. Templates live in memory and change only
// through Registry.Update, which also invalidates the pair's cache entries.
type Template struct {
	BaseURL        string   `json:"base_url"`
	Version        string   `json:"version"`
	DisplayName    string   `json:"display_name"`
	Description    string   `json:"description"`
	ProviderName   string   `json:"provider_name"`
	SupportURL     string   `json:"support_url"`
	AppDomains     []string `json:"app_domains"`
	IconURL        string   `json:"icon_url"`
	HighResIconURL string   `json:"high_res_icon_url"`
	Permissions    string   `json:"permissions"`
	Requirements   string   `json:"requirements"`
}

// TemplateUpdate carries the mutable template fields for an update request.
// Only non-nil fields are applied.
type TemplateUpdate struct {
	BaseURL        *string   `mapstructure:"base_url"`
	Version        *string   `mapstructure:"version"`
	DisplayName    *string   `mapstructure:"display_name"`
	Description    *string   `mapstructure:"description"`
	ProviderName   *string   `mapstructure:"provider_name"`
	SupportURL     *string   `mapstructure:"support_url"`
	AppDomains     *[]string `mapstructure:"app_domains"`
	IconURL        *string   `mapstructure:"icon_url"`
	HighResIconURL *string   `mapstructure:"high_res_icon_url"`
	Permissions    *string   `mapstructure:"permissions"`
	Requirements   *string   `mapstructure:"requirements"`
}

// DecodeTemplateUpdate converts a raw field map into a typed update. Unknown
// fields are rejected so typos surface at the boundary instead of silently
// doing nothing.
func DecodeTemplateUpdate(fields map[string]interface{}) (*TemplateUpdate, error) {
	var update TemplateUpdate
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &update,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build template decoder: %w", err)
	}
	if err := decoder.Decode(fields); err != nil {
		return nil, fmt.Errorf("invalid template fields: %w", err)
	}
	return &update, nil
}

// templateKey identifies one (environment, variant) template
type templateKey struct {
	env     Environment
	variant Variant
}

// Registry holds the in-memory template set, guarded for concurrent access
type Registry struct {
	mu        sync.RWMutex
	templates map[templateKey]Template
}

// NewRegistry creates a registry pre-seeded with a template for every
// (environment, variant) combination.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[templateKey]Template)}

	bases := map[Environment]string{
		EnvDevelopment: "https://localhost:3000",
		EnvTesting:     "https://addin-test.wellintake.io",
		EnvStaging:     "https://addin-staging.wellintake.io",
		EnvProduction:  "https://addin.wellintake.io",
	}

	for env, base := range bases {
		for _, variant := range Variants() {
			r.templates[templateKey{env, variant}] = seedTemplate(env, variant, base)
		}
	}
	return r
}

// seedTemplate builds the default template for one pair
func seedTemplate(env Environment, variant Variant, baseURL string) Template {
	name := "Well Intake"
	switch variant {
	case VariantA:
		name = "Well Intake (A)"
	case VariantB:
		name = "Well Intake (B)"
	case VariantBeta:
		name = "Well Intake Beta"
	case VariantDefault:
	}
	if env != EnvProduction {
		name = fmt.Sprintf("%s [%s]", name, env)
	}

	return Template{
		BaseURL:        baseURL,
		Version:        "1.3.0",
		DisplayName:    name,
		Description:    "Creates CRM deals from candidate emails directly in Outlook.",
		ProviderName:   "Well Intake",
		SupportURL:     baseURL + "/support",
		AppDomains:     []string{baseURL},
		IconURL:        baseURL + "/assets/icon-64.png",
		HighResIconURL: baseURL + "/assets/icon-128.png",
		Permissions:    "ReadWriteItem",
		Requirements:   "1.1",
	}
}

// Get returns a copy of the template for the pair
func (r *Registry) Get(env Environment, variant Variant) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[templateKey{env, variant}]
	return tpl, ok
}

// Update applies the non-nil fields of the update to the pair's template and
// returns the resulting template. A missing pair starts from the default
// variant's template.
func (r *Registry) Update(env Environment, variant Variant, update *TemplateUpdate) Template {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := templateKey{env, variant}
	tpl, ok := r.templates[key]
	if !ok {
		tpl = r.templates[templateKey{env, VariantDefault}]
	}

	if update.BaseURL != nil {
		tpl.BaseURL = *update.BaseURL
	}
	if update.Version != nil {
		tpl.Version = *update.Version
	}
	if update.DisplayName != nil {
		tpl.DisplayName = *update.DisplayName
	}
	if update.Description != nil {
		tpl.Description = *update.Description
	}
	if update.ProviderName != nil {
		tpl.ProviderName = *update.ProviderName
	}
	if update.SupportURL != nil {
		tpl.SupportURL = *update.SupportURL
	}
	if update.AppDomains != nil {
		tpl.AppDomains = *update.AppDomains
	}
	if update.IconURL != nil {
		tpl.IconURL = *update.IconURL
	}
	if update.HighResIconURL != nil {
		tpl.HighResIconURL = *update.HighResIconURL
	}
	if update.Permissions != nil {
		tpl.Permissions = *update.Permissions
	}
	if update.Requirements != nil {
		tpl.Requirements = *update.Requirements
	}

	r.templates[key] = tpl
	return tpl
}

// Count returns the number of configured templates
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}
