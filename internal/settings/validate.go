package settings

import (
	"strings"

	"github.com/inkmd/inkmd/internal/domain"
)

// Placeholder credentials that must not count as a configured key,
// matching the ${ENV_VAR} convention in shipped default configs.
func isPlaceholderKey(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}
	return strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}")
}

func isHostedType(providerType string) bool {
	switch providerType {
	case domain.ProviderTypeAnthropic, domain.ProviderTypeOpenAI:
		return true
	}
	return false
}

// Validate checks every provider configuration and the active-service
// references. The issues are advisory: they block an explicit save
// unless the user overrides, and a dangling reference is surfaced as
// a configuration error rather than a crash.
func Validate(cfg *domain.Configuration) []domain.ValidationIssue {
	var issues []domain.ValidationIssue

	for id, p := range cfg.Providers {
		if strings.TrimSpace(p.DisplayName) == "" {
			issues = append(issues, domain.ValidationIssue{
				ProviderID: id, Field: "display_name", Message: "display name is required",
			})
		}
		if strings.TrimSpace(p.Type) == "" {
			issues = append(issues, domain.ValidationIssue{
				ProviderID: id, Field: "type", Message: "provider type is required",
			})
		}
		if strings.TrimSpace(p.Model) == "" {
			issues = append(issues, domain.ValidationIssue{
				ProviderID: id, Field: "model", Message: "model is required",
			})
		}
		if isHostedType(p.Type) && isPlaceholderKey(p.APIKey) {
			issues = append(issues, domain.ValidationIssue{
				ProviderID: id, Field: "api_key", Message: "hosted provider needs an API key",
			})
		}
		if p.Type == domain.ProviderTypeOllama && strings.TrimSpace(p.APIBaseURL) == "" {
			issues = append(issues, domain.ValidationIssue{
				ProviderID: id, Field: "api_base_url", Message: "locally hosted provider needs a base URL",
			})
		}
		if !p.IsHTRCapable && !p.IsFormattingCapable && !p.IsVLMCapable {
			issues = append(issues, domain.ValidationIssue{
				ProviderID: id, Message: "provider declares no capabilities",
			})
		}
	}

	issues = append(issues, checkActiveService(cfg,
		cfg.ActiveServices.HTRProviderID, "htr_provider_id", domain.CapabilityHTR)...)
	issues = append(issues, checkActiveService(cfg,
		cfg.ActiveServices.FormattingProviderID, "formatting_provider_id", domain.CapabilityFormatting)...)

	return issues
}

func checkActiveService(cfg *domain.Configuration, providerID, field, capability string) []domain.ValidationIssue {
	if providerID == "" {
		return nil
	}
	p, ok := cfg.Providers[providerID]
	if !ok {
		return []domain.ValidationIssue{{
			Field:   field,
			Message: "active service references unknown provider " + providerID,
		}}
	}
	if !p.Enabled {
		return []domain.ValidationIssue{{
			ProviderID: providerID,
			Field:      field,
			Message:    "active service references a disabled provider",
		}}
	}
	if !p.HasCapability(capability) {
		return []domain.ValidationIssue{{
			ProviderID: providerID,
			Field:      field,
			Message:    "active service references a provider without the " + capability + " capability",
		}}
	}
	return nil
}
