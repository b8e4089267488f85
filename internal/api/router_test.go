package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inkmd/inkmd/internal/convert"
	"github.com/inkmd/inkmd/internal/domain"
	"github.com/inkmd/inkmd/internal/history"
	"github.com/inkmd/inkmd/internal/settings"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// instantConverter completes every conversion on the first poll
type instantConverter struct{}

func (instantConverter) Submit(context.Context, string, []byte) (string, error) {
	return "conv-1", nil
}

func (instantConverter) Progress(context.Context, string) (*domain.ProgressReport, error) {
	return &domain.ProgressReport{
		Status:   domain.ConversionStatusCompleted,
		Progress: 100,
		Result:   &domain.ConversionResult{Markdown: "# Hi", PageCount: 5},
	}, nil
}

// stubSettingsBackend serves a fixed configuration
type stubSettingsBackend struct {
	config  *domain.Configuration
	deleted []string
}

func (b *stubSettingsBackend) FetchConfig(context.Context) (*domain.Configuration, error) {
	return b.config.Clone(), nil
}

func (b *stubSettingsBackend) SaveConfig(_ context.Context, flat map[string]any) (*domain.Configuration, error) {
	echo := &domain.Configuration{Providers: map[string]*domain.ProviderConfig{}}
	for path, value := range flat {
		if err := settings.Apply(echo, path, value); err != nil {
			return nil, err
		}
	}
	return echo, nil
}

func (b *stubSettingsBackend) ReloadProviders(context.Context) error { return nil }

func (b *stubSettingsBackend) UserSettings(context.Context) ([]domain.UserSetting, error) {
	return nil, nil
}

func (b *stubSettingsBackend) SaveUserSetting(context.Context, domain.UserSetting) error {
	return nil
}

func (b *stubSettingsBackend) DeleteUserSetting(_ context.Context, key string) error {
	b.deleted = append(b.deleted, key)
	return nil
}

func (b *stubSettingsBackend) TestProviders(context.Context, string) (map[string]domain.ProviderTestResult, error) {
	return map[string]domain.ProviderTestResult{"claude": {Success: true, Message: "ok"}}, nil
}

type stubExporter struct {
	err error
}

func (e *stubExporter) ExportWord(_ context.Context, markdown, _ string) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []byte("docx:" + markdown), nil
}

type testServer struct {
	router  *gin.Engine
	store   *history.Store
	backend *stubSettingsBackend
	hub     *Hub
	apiKey  string
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	logger := zap.NewNop()

	store, err := history.NewStore(nil, 50, logger)
	require.NoError(t, err)

	controller := convert.NewController(instantConverter{}, store, 5*time.Second, logger,
		convert.WithPollInterval(2*time.Millisecond))
	t.Cleanup(controller.Close)

	backend := &stubSettingsBackend{config: &domain.Configuration{
		ActiveServices: domain.ActiveServices{HTRProviderID: "claude", FormattingProviderID: "claude"},
		Providers: map[string]*domain.ProviderConfig{
			"claude": {
				DisplayName:         "Claude",
				Type:                domain.ProviderTypeAnthropic,
				APIKey:              "sk-test",
				Model:               "claude-sonnet-4-5",
				IsHTRCapable:        true,
				IsFormattingCapable: true,
				Enabled:             true,
			},
		},
	}}
	synchronizer := settings.NewSynchronizer(backend, nil, time.Minute, logger)

	hub := NewHub(logger)
	hub.Start()
	t.Cleanup(hub.Stop)

	router := SetupRouter(
		NewQueueHandler(controller),
		NewHistoryHandler(store),
		NewSettingsHandler(synchronizer),
		NewExportHandler(&stubExporter{}),
		hub,
		RouterConfig{APIKey: apiKey},
	)
	return &testServer{router: router, store: store, backend: backend, hub: hub, apiKey: apiKey}
}

func (s *testServer) request(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) json(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	return s.request(t, method, path, &body, "application/json")
}

func uploadBody(t *testing.T, names ...string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, name := range names {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4 test"))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.request(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueueUploadAndConversion(t *testing.T) {
	s := newTestServer(t, "")

	body, contentType := uploadBody(t, "a.pdf")
	rec := s.request(t, http.MethodPost, "/api/queue/files", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		rec := s.request(t, http.MethodGet, "/api/queue", nil, "")
		return strings.Contains(rec.Body.String(), `"status":"completed"`)
	}, 2*time.Second, 5*time.Millisecond)

	rec = s.request(t, http.MethodGet, "/api/markdown/current", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"filename":"a.pdf"`)
	assert.Contains(t, rec.Body.String(), `# Hi`)

	rec = s.request(t, http.MethodGet, "/api/history", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = s.request(t, http.MethodGet, "/api/statistics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_conversions":1`)
}

func TestQueueUploadRejectsNonPDFBatch(t *testing.T) {
	s := newTestServer(t, "")

	body, contentType := uploadBody(t, "notes.txt")
	rec := s.request(t, http.MethodPost, "/api/queue/files", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "please upload PDF files")
}

func TestQueueUploadRequiresFiles(t *testing.T) {
	s := newTestServer(t, "")

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("replace", "true"))
	require.NoError(t, writer.Close())

	rec := s.request(t, http.MethodPost, "/api/queue/files", body, writer.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no files uploaded")
}

func TestQueueRemoveAndClear(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.request(t, http.MethodDelete, "/api/queue/files/missing.pdf", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body, contentType := uploadBody(t, "a.pdf")
	s.request(t, http.MethodPost, "/api/queue/files", body, contentType)

	rec = s.request(t, http.MethodDelete, "/api/queue", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"files":[]`)
}

func TestQueueRetryStatusCodes(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.request(t, http.MethodPost, "/api/queue/files/missing.pdf/retry", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body, contentType := uploadBody(t, "a.pdf")
	s.request(t, http.MethodPost, "/api/queue/files", body, contentType)
	require.Eventually(t, func() bool {
		rec := s.request(t, http.MethodGet, "/api/queue", nil, "")
		return strings.Contains(rec.Body.String(), `"status":"completed"`)
	}, 2*time.Second, 5*time.Millisecond)

	rec = s.request(t, http.MethodPost, "/api/queue/files/a.pdf/retry", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMarkdownCurrentWhenEmpty(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.request(t, http.MethodGet, "/api/markdown/current", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryEndpoints(t *testing.T) {
	s := newTestServer(t, "")
	item := s.store.Add("report.pdf", "# Report", 1024, 2)

	rec := s.json(t, http.MethodPost, fmt.Sprintf("/api/history/%d/favorite", item.ID),
		map[string]bool{"favorite": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.json(t, http.MethodPut, fmt.Sprintf("/api/history/%d/tags", item.ID),
		map[string][]string{"tags": {"work"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.request(t, http.MethodGet, "/api/history?filter=favorites", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "report.pdf")
	assert.Contains(t, rec.Body.String(), `"work"`)

	rec = s.request(t, http.MethodGet, "/api/history?q=nothing-matches", nil, "")
	assert.Contains(t, rec.Body.String(), `"total":0`)

	rec = s.json(t, http.MethodPost, "/api/history/999999/favorite", map[string]bool{"favorite": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.request(t, http.MethodDelete, fmt.Sprintf("/api/history/%d", item.ID), nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.request(t, http.MethodDelete, "/api/history/not-a-number", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.request(t, http.MethodDelete, "/api/history", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, s.store.Len())
}

func TestSettingsEndpoints(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.request(t, http.MethodGet, "/api/settings", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"claude"`)

	rec = s.json(t, http.MethodPatch, "/api/settings", map[string]any{
		"path":  "ai_provider_configs.claude.model",
		"value": "claude-opus-4-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "claude-opus-4-1")

	rec = s.json(t, http.MethodPatch, "/api/settings", map[string]any{
		"path":  "app_settings.not_a_field",
		"value": "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.json(t, http.MethodPatch, "/api/settings", map[string]any{"value": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "path is required")

	rec = s.request(t, http.MethodPost, "/api/settings/validate", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":true`)

	rec = s.request(t, http.MethodPost, "/api/settings/save", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"saved":true`)
}

func TestSettingsRemoveOverride(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.request(t, http.MethodDelete,
		"/api/settings/overrides/ai_provider_configs.claude.model", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ai_provider_configs.claude.model"}, s.backend.deleted)
	// The response is the refetched configuration.
	assert.Contains(t, rec.Body.String(), `"claude-sonnet-4-5"`)

	rec = s.request(t, http.MethodDelete,
		"/api/settings/overrides/app_settings.monitored_input_dir", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveWithValidationIssues(t *testing.T) {
	s := newTestServer(t, "")

	// Break the configuration, then try to save it.
	rec := s.json(t, http.MethodPatch, "/api/settings", map[string]any{
		"path":  "ai_provider_configs.claude.api_key",
		"value": "",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.request(t, http.MethodPost, "/api/settings/save", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation issues")

	rec = s.request(t, http.MethodPost, "/api/settings/save?force=true", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProvidersTest(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.request(t, http.MethodPost, "/api/providers/test", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	rec = s.json(t, http.MethodPost, "/api/providers/test", map[string]string{"provider_id": "claude"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExportWord(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.json(t, http.MethodPost, "/api/export/word", map[string]string{
		"markdown": "# Hi", "filename": "report",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "docx:# Hi", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "report_")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".docx")

	rec = s.json(t, http.MethodPost, "/api/export/word", map[string]string{"markdown": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebsocketClientsDisconnectOnStop(t *testing.T) {
	s := newTestServer(t, "")
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	s.hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
