// Package backend is the HTTP client for the external conversion
// service: submitting PDFs, polling progress, and reading/writing the
// converter's configuration and per-field user settings.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inkmd/inkmd/internal/domain"
)

// Client talks to the converter backend
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a converter client for the given base URL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type submitResponse struct {
	Success      bool   `json:"success"`
	ConversionID string `json:"conversion_id"`
	Error        string `json:"error,omitempty"`
}

// Submit uploads one PDF and returns the conversion id used for
// progress polling.
func (c *Client) Submit(ctx context.Context, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("pdf", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp submitResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.ConversionID == "" {
		if resp.Error != "" {
			return "", fmt.Errorf("conversion rejected: %s", resp.Error)
		}
		return "", fmt.Errorf("conversion rejected by backend")
	}

	return resp.ConversionID, nil
}

// Progress fetches the current state of one in-flight conversion
func (c *Client) Progress(ctx context.Context, conversionID string) (*domain.ProgressReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/progress/"+url.PathEscape(conversionID), nil)
	if err != nil {
		return nil, err
	}

	var report domain.ProgressReport
	if err := c.do(req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// FetchConfig retrieves the backend's canonical configuration
func (c *Client) FetchConfig(ctx context.Context) (*domain.Configuration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/config", nil)
	if err != nil {
		return nil, err
	}

	var cfg domain.Configuration
	if err := c.do(req, &cfg); err != nil {
		return nil, err
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*domain.ProviderConfig)
	}
	return &cfg, nil
}

// SaveConfig submits the flattened configuration and returns the
// backend's authoritative echo. The endpoint takes the dotted paths
// as the top-level keys of the request body and echoes the resulting
// document under "new_config".
func (c *Client) SaveConfig(ctx context.Context, flat map[string]any) (*domain.Configuration, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/api/config", flat)
	if err != nil {
		return nil, err
	}

	var resp struct {
		NewConfig *domain.Configuration `json:"new_config"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.NewConfig == nil {
		return nil, fmt.Errorf("backend returned no configuration echo")
	}
	if resp.NewConfig.Providers == nil {
		resp.NewConfig.Providers = make(map[string]*domain.ProviderConfig)
	}
	return resp.NewConfig, nil
}

// ReloadProviders asks the backend to re-instantiate its AI services.
// Best effort; callers treat failure as a downgrade, not an error state.
func (c *Client) ReloadProviders(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/providers/reload", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// TestProviders checks provider connectivity. An empty providerID
// tests every configured provider.
func (c *Client) TestProviders(ctx context.Context, providerID string) (map[string]domain.ProviderTestResult, error) {
	payload := map[string]any{}
	if providerID != "" {
		payload["provider_id"] = providerID
	}
	req, err := c.jsonRequest(ctx, http.MethodPost, "/api/providers/test", payload)
	if err != nil {
		return nil, err
	}

	// The response body is the provider-id keyed result map itself.
	var results map[string]domain.ProviderTestResult
	if err := c.do(req, &results); err != nil {
		return nil, err
	}
	return results, nil
}

type userSettingsPayload struct {
	Settings map[string]userSettingValue `json:"settings"`
}

// The GET side serves values parsed into their declared type, so
// booleans and numbers arrive as JSON booleans and numbers.
type userSettingValue struct {
	Value any    `json:"value"`
	Type  string `json:"type"`
}

// UserSettings fetches all persisted per-field overrides
func (c *Client) UserSettings(ctx context.Context) ([]domain.UserSetting, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/user-settings", nil)
	if err != nil {
		return nil, err
	}

	var payload userSettingsPayload
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}

	settings := make([]domain.UserSetting, 0, len(payload.Settings))
	for key, v := range payload.Settings {
		settings = append(settings, domain.UserSetting{Key: key, Value: v.Value, Type: v.Type})
	}
	return settings, nil
}

// SaveUserSetting upserts one dotted-path override
func (c *Client) SaveUserSetting(ctx context.Context, setting domain.UserSetting) error {
	payload := userSettingsPayload{
		Settings: map[string]userSettingValue{
			setting.Key: {Value: setting.Value, Type: setting.Type},
		},
	}
	req, err := c.jsonRequest(ctx, http.MethodPost, "/api/user-settings", payload)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// DeleteUserSetting removes one persisted override so the canonical
// configuration value shows through again.
func (c *Client) DeleteUserSetting(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/user-settings/"+url.PathEscape(key), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// ExportWord converts markdown to a Word document and returns the
// docx bytes.
func (c *Client) ExportWord(ctx context.Context, markdown, filename string) ([]byte, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/convert-markdown-to-word",
		map[string]string{"markdown": markdown, "filename": filename})
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("converter request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromBody(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do executes the request and decodes a JSON response into out when
// out is non-nil. Non-2xx responses become errors carrying the
// backend's error message when one is present.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("converter request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromBody(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode converter response: %w", err)
	}
	return nil
}

func (c *Client) errorFromBody(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("converter error (%d): %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("converter returned status %d", resp.StatusCode)
}
