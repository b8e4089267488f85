// Package settings merges the converter backend's canonical
// configuration, persisted per-field overrides, and in-flight edits
// into one coherent Configuration, with a two-tier read-through cache
// (memory, then the local database, then the backend).
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/inkmd/inkmd/internal/domain"
	"go.uber.org/zap"
)

// Backend is the converter surface the synchronizer needs
type Backend interface {
	FetchConfig(ctx context.Context) (*domain.Configuration, error)
	SaveConfig(ctx context.Context, flat map[string]any) (*domain.Configuration, error)
	ReloadProviders(ctx context.Context) error
	UserSettings(ctx context.Context) ([]domain.UserSetting, error)
	SaveUserSetting(ctx context.Context, setting domain.UserSetting) error
	DeleteUserSetting(ctx context.Context, key string) error
	TestProviders(ctx context.Context, providerID string) (map[string]domain.ProviderTestResult, error)
}

// CacheRepository is the durable cache tier
type CacheRepository interface {
	GetCache() (raw string, fetchedAt time.Time, ok bool, err error)
	PutCache(raw string, fetchedAt time.Time) error
}

// Synchronizer owns the merged configuration for one session
type Synchronizer struct {
	mu      sync.Mutex
	current *domain.Configuration

	backend Backend
	repo    CacheRepository
	ttl     time.Duration
	logger  *zap.Logger
}

// NewSynchronizer creates a settings synchronizer
func NewSynchronizer(backend Backend, repo CacheRepository, ttl time.Duration, logger *zap.Logger) *Synchronizer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Synchronizer{backend: backend, repo: repo, ttl: ttl, logger: logger}
}

// Merge applies every override to a copy of the base configuration.
// Overrides win over the canonical backend value for the same path.
// Unknown paths are skipped with a warning rather than failing the
// whole merge. Merging the same override set twice is idempotent.
func Merge(base *domain.Configuration, overrides []domain.UserSetting, logger *zap.Logger) *domain.Configuration {
	merged := base.Clone()
	for _, setting := range overrides {
		if err := ApplyOverride(merged, setting); err != nil {
			logger.Warn("skipping invalid settings override",
				zap.String("key", setting.Key), zap.Error(err))
		}
	}
	return merged
}

// Load returns the current configuration. A still-fresh cached copy
// is returned immediately and reconciled against the backend in the
// background; a stale or missing cache blocks on the backend fetch.
func (s *Synchronizer) Load(ctx context.Context) (*domain.Configuration, error) {
	s.mu.Lock()
	if s.current != nil {
		cfg := s.current.Clone()
		s.mu.Unlock()
		return cfg, nil
	}
	s.mu.Unlock()

	if cached, ok := s.loadCache(); ok {
		s.mu.Lock()
		s.current = cached
		cfg := cached.Clone()
		s.mu.Unlock()

		go s.backgroundRefresh()
		return cfg, nil
	}

	return s.refresh(ctx)
}

// Refresh forces a backend fetch and replaces the current state
func (s *Synchronizer) Refresh(ctx context.Context) (*domain.Configuration, error) {
	return s.refresh(ctx)
}

// UpdateField applies one edit: memory update, synchronous cache
// write, and (for provider fields) an async override upsert to the
// backend that never blocks the caller.
func (s *Synchronizer) UpdateField(ctx context.Context, path string, value any) (*domain.Configuration, error) {
	if _, err := s.Load(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := Apply(s.current, path, value); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	cfg := s.current.Clone()
	s.mu.Unlock()

	s.writeCache(cfg)

	if IsProviderPath(path) {
		setting, err := SettingFor(path, value)
		if err != nil {
			s.logger.Warn("cannot persist override", zap.String("path", path), zap.Error(err))
			return cfg, nil
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.backend.SaveUserSetting(ctx, setting); err != nil {
				s.logger.Warn("failed to persist override to backend",
					zap.String("path", path), zap.Error(err))
			}
		}()
	}

	return cfg, nil
}

// RemoveOverride deletes one persisted provider override and refetches
// the configuration so the canonical backend value shows through
// again. Only provider paths are ever persisted as overrides.
func (s *Synchronizer) RemoveOverride(ctx context.Context, path string) (*domain.Configuration, error) {
	if !IsProviderPath(path) {
		return nil, fmt.Errorf("%w: no persisted override for path %q", domain.ErrInvalidRequest, path)
	}
	if err := s.backend.DeleteUserSetting(ctx, path); err != nil {
		return nil, fmt.Errorf("failed to delete override: %w", err)
	}
	return s.refresh(ctx)
}

// SaveResult reports the outcome of an explicit save
type SaveResult struct {
	Message string                   `json:"message"`
	Issues  []domain.ValidationIssue `json:"issues,omitempty"`
	Saved   bool                     `json:"saved"`
}

// Save validates, flattens and submits the whole configuration, then
// replaces local state with the backend's authoritative echo and asks
// the backend to reload its providers. Validation issues block the
// save unless force is set; a failed reload only downgrades the
// message.
func (s *Synchronizer) Save(ctx context.Context, force bool) (*SaveResult, error) {
	cfg, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	if issues := Validate(cfg); len(issues) > 0 && !force {
		return &SaveResult{
			Message: "configuration has validation issues",
			Issues:  issues,
		}, nil
	}

	echo, err := s.backend.SaveConfig(ctx, Flatten(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to save configuration: %w", err)
	}

	s.mu.Lock()
	s.current = echo.Clone()
	s.mu.Unlock()
	s.writeCache(echo)

	result := &SaveResult{Message: "configuration saved and providers reloaded", Saved: true}
	if err := s.backend.ReloadProviders(ctx); err != nil {
		s.logger.Warn("provider reload failed after save", zap.Error(err))
		result.Message = "configuration saved, but provider reload failed"
	}
	return result, nil
}

// Validate returns the advisory issues for the current configuration
func (s *Synchronizer) Validate(ctx context.Context) ([]domain.ValidationIssue, error) {
	cfg, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return Validate(cfg), nil
}

// TestProviders proxies a connectivity test to the backend
func (s *Synchronizer) TestProviders(ctx context.Context, providerID string) (map[string]domain.ProviderTestResult, error) {
	return s.backend.TestProviders(ctx, providerID)
}

func (s *Synchronizer) refresh(ctx context.Context) (*domain.Configuration, error) {
	base, err := s.backend.FetchConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch configuration: %w", err)
	}

	overrides, err := s.backend.UserSettings(ctx)
	if err != nil {
		// Overrides are an enhancement over the canonical config;
		// the canonical fetch alone is still a usable result.
		s.logger.Warn("failed to fetch user settings", zap.Error(err))
	}

	merged := Merge(base, overrides, s.logger)

	s.mu.Lock()
	s.current = merged
	cfg := merged.Clone()
	s.mu.Unlock()

	s.writeCache(merged)
	return cfg, nil
}

func (s *Synchronizer) backgroundRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.refresh(ctx); err != nil {
		s.logger.Warn("background settings refresh failed", zap.Error(err))
	}
}

func (s *Synchronizer) loadCache() (*domain.Configuration, bool) {
	if s.repo == nil {
		return nil, false
	}
	raw, fetchedAt, ok, err := s.repo.GetCache()
	if err != nil {
		s.logger.Warn("failed to read settings cache", zap.Error(err))
		return nil, false
	}
	if !ok || time.Since(fetchedAt) > s.ttl {
		return nil, false
	}

	var cfg domain.Configuration
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		s.logger.Warn("discarding corrupt settings cache", zap.Error(err))
		return nil, false
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*domain.ProviderConfig)
	}
	return &cfg, true
}

func (s *Synchronizer) writeCache(cfg *domain.Configuration) {
	if s.repo == nil {
		return
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		s.logger.Warn("failed to encode settings cache", zap.Error(err))
		return
	}
	if err := s.repo.PutCache(string(raw), time.Now()); err != nil {
		s.logger.Warn("failed to write settings cache", zap.Error(err))
	}
}
