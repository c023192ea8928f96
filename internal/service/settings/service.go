package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
)

const cacheKey = "channel_settings"

// Resolver returns the shared channel configuration.
type Resolver interface {
	Resolve(ctx context.Context) (*model.ChannelSettings, error)
}

// Service caches the settings row for a short TTL so one dispatch cycle and
// a burst of fan-outs do not each hit the database.
type Service struct {
	repo  repository.SettingsRepository
	cache *cache.Cache
}

func NewService(repo repository.SettingsRepository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{
		repo:  repo,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Resolve returns a configuration error when the row is missing or incomplete.
func (s *Service) Resolve(ctx context.Context) (*model.ChannelSettings, error) {
	if v, ok := s.cache.Get(cacheKey); ok {
		return v.(*model.ChannelSettings), nil
	}

	cfg, err := s.repo.GetChannelSettings(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, apperrors.Configuration("whatsapp channel settings are not configured", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to load channel settings: %w", err))
	}
	if !cfg.Complete() {
		return nil, apperrors.Configuration("whatsapp channel settings are incomplete", nil)
	}

	s.cache.Set(cacheKey, cfg, cache.DefaultExpiration)
	return cfg, nil
}

// Invalidate drops the cached row, e.g. after an admin edits it.
func (s *Service) Invalidate() {
	s.cache.Delete(cacheKey)
}

// Static serves fixed settings. Used by the CLI and tests.
type Static struct {
	Settings *model.ChannelSettings
}

func (s Static) Resolve(_ context.Context) (*model.ChannelSettings, error) {
	if !s.Settings.Complete() {
		return nil, apperrors.Configuration("whatsapp channel settings are incomplete", nil)
	}
	return s.Settings, nil
}
