package settings

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/inkmd/inkmd/internal/domain"
)

// Dotted-path subtree prefixes in the configuration document
const (
	pathAppSettings    = "app_settings"
	pathActiveServices = "active_services"
	pathProviders      = "ai_provider_configs"
)

// Apply sets one field of the configuration addressed by a dotted
// path. The path must resolve to a known field of the schema and the
// value must coerce to that field's type; anything else is an error
// and the configuration is left untouched. Provider entries are
// created on first reference.
func Apply(cfg *domain.Configuration, path string, value any) error {
	parts := strings.Split(path, ".")

	switch parts[0] {
	case pathAppSettings:
		if len(parts) != 2 {
			return fmt.Errorf("invalid settings path %q", path)
		}
		return applyAppSetting(&cfg.AppSettings, parts[1], value)

	case pathActiveServices:
		if len(parts) != 2 {
			return fmt.Errorf("invalid settings path %q", path)
		}
		return applyActiveService(&cfg.ActiveServices, parts[1], value)

	case pathProviders:
		if len(parts) != 3 {
			return fmt.Errorf("invalid settings path %q", path)
		}
		providerID, field := parts[1], parts[2]
		if providerID == "" {
			return fmt.Errorf("invalid settings path %q: empty provider id", path)
		}
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]*domain.ProviderConfig)
		}
		p, ok := cfg.Providers[providerID]
		if !ok {
			p = &domain.ProviderConfig{}
		}
		if err := applyProviderField(p, field, value); err != nil {
			return err
		}
		cfg.Providers[providerID] = p
		return nil

	default:
		return fmt.Errorf("unknown settings path %q", path)
	}
}

func applyAppSetting(s *domain.AppSettings, field string, value any) error {
	switch field {
	case "monitored_input_dir":
		return setString(&s.MonitoredInputDir, field, value)
	case "processed_output_dir":
		return setString(&s.ProcessedOutputDir, field, value)
	case "default_output_pattern":
		return setString(&s.DefaultOutputPattern, field, value)
	case "custom_output_pattern":
		return setString(&s.CustomOutputPattern, field, value)
	case "global_retry_attempts":
		return setInt(&s.GlobalRetryAttempts, field, value)
	case "enable_directory_monitoring":
		return setBool(&s.EnableDirectoryMonitoring, field, value)
	default:
		return fmt.Errorf("unknown app setting %q", field)
	}
}

func applyActiveService(s *domain.ActiveServices, field string, value any) error {
	switch field {
	case "htr_provider_id":
		return setString(&s.HTRProviderID, field, value)
	case "formatting_provider_id":
		return setString(&s.FormattingProviderID, field, value)
	default:
		return fmt.Errorf("unknown active service %q", field)
	}
}

func applyProviderField(p *domain.ProviderConfig, field string, value any) error {
	switch field {
	case "display_name":
		return setString(&p.DisplayName, field, value)
	case "type":
		return setString(&p.Type, field, value)
	case "api_key":
		return setString(&p.APIKey, field, value)
	case "api_base_url":
		return setString(&p.APIBaseURL, field, value)
	case "model":
		return setString(&p.Model, field, value)
	case "is_htr_capable":
		return setBool(&p.IsHTRCapable, field, value)
	case "is_formatting_capable":
		return setBool(&p.IsFormattingCapable, field, value)
	case "is_vlm_capable":
		return setBool(&p.IsVLMCapable, field, value)
	case "enabled":
		return setBool(&p.Enabled, field, value)
	default:
		return fmt.Errorf("unknown provider field %q", field)
	}
}

// ApplyOverride applies one persisted user setting, parsing its value
// according to the declared wire type.
func ApplyOverride(cfg *domain.Configuration, setting domain.UserSetting) error {
	value, err := parseSettingValue(setting)
	if err != nil {
		return fmt.Errorf("override %q: %w", setting.Key, err)
	}
	return Apply(cfg, setting.Key, value)
}

// The backend serves override values already parsed into their
// declared type, but older rows written before a type was recorded
// come back as strings. Accept both.
func parseSettingValue(setting domain.UserSetting) (any, error) {
	switch setting.Type {
	case domain.SettingTypeBoolean:
		switch v := setting.Value.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		}
	case domain.SettingTypeNumber:
		switch v := setting.Value.(type) {
		case float64:
			return v, nil
		case int:
			return v, nil
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case domain.SettingTypeJSON:
		if raw, ok := setting.Value.(string); ok {
			var v any
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, err
			}
			return v, nil
		}
		return setting.Value, nil
	default:
		return setting.Value, nil
	}
	return nil, fmt.Errorf("value %v does not match declared type %q", setting.Value, setting.Type)
}

// SettingFor builds the wire override for one field edit. The value
// crosses the wire as native JSON; the backend detects the stored
// type from the JSON type it receives, so the declared type has to
// match what marshalling will produce.
func SettingFor(path string, value any) (domain.UserSetting, error) {
	switch v := value.(type) {
	case string:
		return domain.UserSetting{Key: path, Value: v, Type: domain.SettingTypeString}, nil
	case bool:
		return domain.UserSetting{Key: path, Value: v, Type: domain.SettingTypeBoolean}, nil
	case int, float64:
		return domain.UserSetting{Key: path, Value: v, Type: domain.SettingTypeNumber}, nil
	default:
		if _, err := json.Marshal(value); err != nil {
			return domain.UserSetting{}, err
		}
		return domain.UserSetting{Key: path, Value: value, Type: domain.SettingTypeJSON}, nil
	}
}

// Flatten expands the configuration into dotted-path keys for the
// backend's config endpoint.
func Flatten(cfg *domain.Configuration) map[string]any {
	flat := map[string]any{
		"app_settings.monitored_input_dir":         cfg.AppSettings.MonitoredInputDir,
		"app_settings.processed_output_dir":        cfg.AppSettings.ProcessedOutputDir,
		"app_settings.default_output_pattern":      cfg.AppSettings.DefaultOutputPattern,
		"app_settings.custom_output_pattern":       cfg.AppSettings.CustomOutputPattern,
		"app_settings.global_retry_attempts":       cfg.AppSettings.GlobalRetryAttempts,
		"app_settings.enable_directory_monitoring": cfg.AppSettings.EnableDirectoryMonitoring,
		"active_services.htr_provider_id":          cfg.ActiveServices.HTRProviderID,
		"active_services.formatting_provider_id":   cfg.ActiveServices.FormattingProviderID,
	}

	for id, p := range cfg.Providers {
		prefix := pathProviders + "." + id + "."
		flat[prefix+"display_name"] = p.DisplayName
		flat[prefix+"type"] = p.Type
		flat[prefix+"api_key"] = p.APIKey
		flat[prefix+"api_base_url"] = p.APIBaseURL
		flat[prefix+"model"] = p.Model
		flat[prefix+"is_htr_capable"] = p.IsHTRCapable
		flat[prefix+"is_formatting_capable"] = p.IsFormattingCapable
		flat[prefix+"is_vlm_capable"] = p.IsVLMCapable
		flat[prefix+"enabled"] = p.Enabled
	}

	return flat
}

// IsProviderPath reports whether a dotted path lies under the
// provider-configuration subtree. Only those edits are persisted as
// backend overrides.
func IsProviderPath(path string) bool {
	return strings.HasPrefix(path, pathProviders+".")
}

func setString(dst *string, field string, value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("field %q wants a string, got %T", field, value)
	}
	*dst = s
	return nil
}

func setInt(dst *int, field string, value any) error {
	switch v := value.(type) {
	case int:
		*dst = v
	case float64:
		// JSON numbers decode as float64.
		if v != float64(int(v)) {
			return fmt.Errorf("field %q wants an integer, got %v", field, v)
		}
		*dst = int(v)
	default:
		return fmt.Errorf("field %q wants an integer, got %T", field, value)
	}
	return nil
}

func setBool(dst *bool, field string, value any) error {
	b, ok := value.(bool)
	if !ok {
		return fmt.Errorf("field %q wants a boolean, got %T", field, value)
	}
	*dst = b
	return nil
}
