package domain

// Provider type constants. Anthropic and OpenAI are hosted services
// that need an API key; Ollama is locally hosted and needs a base URL.
const (
	ProviderTypeAnthropic = "anthropic"
	ProviderTypeOpenAI    = "openai"
	ProviderTypeOllama    = "ollama"
)

// Capability constants for provider task routing
const (
	CapabilityHTR        = "htr"
	CapabilityFormatting = "formatting"
	CapabilityVLM        = "vlm"
)

// AppSettings holds application-wide converter settings
type AppSettings struct {
	MonitoredInputDir         string `json:"monitored_input_dir"`
	ProcessedOutputDir        string `json:"processed_output_dir"`
	DefaultOutputPattern      string `json:"default_output_pattern"`
	CustomOutputPattern       string `json:"custom_output_pattern,omitempty"`
	GlobalRetryAttempts       int    `json:"global_retry_attempts"`
	EnableDirectoryMonitoring bool   `json:"enable_directory_monitoring"`
}

// ActiveServices selects which provider handles each AI task
type ActiveServices struct {
	HTRProviderID        string `json:"htr_provider_id"`
	FormattingProviderID string `json:"formatting_provider_id"`
}

// ProviderConfig describes one configured AI backend
type ProviderConfig struct {
	DisplayName         string `json:"display_name"`
	Type                string `json:"type"`
	APIKey              string `json:"api_key,omitempty"`
	APIBaseURL          string `json:"api_base_url,omitempty"`
	Model               string `json:"model"`
	IsHTRCapable        bool   `json:"is_htr_capable"`
	IsFormattingCapable bool   `json:"is_formatting_capable"`
	IsVLMCapable        bool   `json:"is_vlm_capable"`
	Enabled             bool   `json:"enabled"`
}

// HasCapability reports whether the provider declares the given capability
func (p *ProviderConfig) HasCapability(capability string) bool {
	switch capability {
	case CapabilityHTR:
		return p.IsHTRCapable
	case CapabilityFormatting:
		return p.IsFormattingCapable
	case CapabilityVLM:
		return p.IsVLMCapable
	}
	return false
}

// Configuration is the converter backend's settings document: one
// coherent object merged from the backend's canonical config and any
// per-field user overrides.
type Configuration struct {
	AppSettings    AppSettings                `json:"app_settings"`
	ActiveServices ActiveServices             `json:"active_services"`
	Providers      map[string]*ProviderConfig `json:"ai_provider_configs"`
}

// Clone returns a deep copy of the configuration
func (c *Configuration) Clone() *Configuration {
	out := &Configuration{
		AppSettings:    c.AppSettings,
		ActiveServices: c.ActiveServices,
		Providers:      make(map[string]*ProviderConfig, len(c.Providers)),
	}
	for id, p := range c.Providers {
		cp := *p
		out.Providers[id] = &cp
	}
	return out
}

// UserSetting value type constants, matching the backend's
// /api/user-settings wire format.
const (
	SettingTypeString  = "string"
	SettingTypeBoolean = "boolean"
	SettingTypeNumber  = "number"
	SettingTypeJSON    = "json"
)

// UserSetting is one persisted per-field override, addressed by a
// dotted path into the configuration object. The backend stores
// values as typed strings but serves them parsed, so Value holds
// whatever JSON type the declared Type implies.
type UserSetting struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	Type  string `json:"type"`
}

// ValidationIssue is one advisory problem found in a provider
// configuration before an explicit save.
type ValidationIssue struct {
	ProviderID string `json:"provider_id,omitempty"`
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
}

// ProviderTestResult is the backend's verdict for one provider. A
// failed test may carry its reason under "error" instead of "message".
type ProviderTestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
