package service

import (
	"context"
	"fmt"
	"time"

	"canteen-service/internal/models"
	"canteen-service/internal/repository"
	"canteen-service/internal/util"

	"go.uber.org/zap"
)

// EffectiveSettings substitutes the default threshold for a missing record
func EffectiveSettings(settings *models.Settings, defaultThreshold int) *models.Settings {
	if settings != nil {
		return settings
	}
	return &models.Settings{CancelThreshold: defaultThreshold}
}

// SettingsService manages the single settings record
type SettingsService struct {
	repo             repository.SettingsRepository
	publisher        EventPublisher
	defaultThreshold int
	logger           *zap.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(repo repository.SettingsRepository, publisher EventPublisher, defaultThreshold int) *SettingsService {
	if defaultThreshold < 0 {
		defaultThreshold = models.DefaultCancelThreshold
	}
	return &SettingsService{
		repo:             repo,
		publisher:        publisher,
		defaultThreshold: defaultThreshold,
		logger:           util.GetLogger(),
	}
}

// Get returns the settings in effect. Read failures are returned, never
// replaced by the default.
func (s *SettingsService) Get(ctx context.Context) (*models.Settings, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return EffectiveSettings(settings, s.defaultThreshold), nil
}

// EnsureDefault creates the settings record if it is missing
func (s *SettingsService) EnsureDefault(ctx context.Context) error {
	if err := s.repo.EnsureDefaultSettings(ctx, s.defaultThreshold); err != nil {
		return fmt.Errorf("failed to ensure default settings: %w", err)
	}
	return nil
}

// SetThreshold stores a new cancellation threshold
func (s *SettingsService) SetThreshold(ctx context.Context, threshold int) (*models.Settings, error) {
	ctx, span := util.StartSpan(ctx, "SettingsService.SetThreshold")
	defer span.End()

	if threshold < 0 {
		return nil, fmt.Errorf("%w: cancel threshold must be >= 0", models.ErrValidation)
	}

	if err := s.repo.SetCancelThreshold(ctx, threshold); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}

	s.logger.Info("Cancel threshold updated", zap.Int("threshold", threshold))

	event := &models.SettingsEvent{
		BaseEvent:       newBaseEvent(models.EventTypeSettingsUpdated, time.Now()),
		CancelThreshold: threshold,
	}
	if err := s.publisher.PublishSettingsEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish settings event", zap.Error(err))
	}

	return s.Get(ctx)
}

// AdjustThreshold moves the threshold by delta, never below zero
func (s *SettingsService) AdjustThreshold(ctx context.Context, delta int) (*models.Settings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	next := current.CancelThreshold + delta
	if next < 0 {
		next = 0
	}
	return s.SetThreshold(ctx, next)
}
