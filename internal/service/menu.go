package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"canteen-service/internal/models"
	"canteen-service/internal/repository"
	"canteen-service/internal/util"

	"go.uber.org/zap"
)

// Menu change actions carried on MenuEvent
const (
	MenuActionCreated = "created"
	MenuActionUpdated = "updated"
	MenuActionDeleted = "deleted"
	MenuActionReset   = "reset"
)

// MenuService manages menu items
type MenuService struct {
	repo      repository.MenuRepository
	publisher EventPublisher
	logger    *zap.Logger
}

// NewMenuService creates a new menu service
func NewMenuService(repo repository.MenuRepository, publisher EventPublisher) *MenuService {
	return &MenuService{
		repo:      repo,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// MenuItemRequest is the editable part of a menu item
type MenuItemRequest struct {
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Image     string `json:"image"`
	Available *bool  `json:"available"`
}

func (r *MenuItemRequest) validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Image = strings.TrimSpace(r.Image)
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	if r.Price < 0 {
		return fmt.Errorf("%w: price must be >= 0", models.ErrValidation)
	}
	return nil
}

func (r *MenuItemRequest) available() bool {
	return r.Available == nil || *r.Available
}

// List returns the menu sorted by name, hiding unavailable items unless asked
func (s *MenuService) List(ctx context.Context, includeUnavailable bool) ([]models.MenuItem, error) {
	return s.repo.ListMenuItems(ctx, includeUnavailable)
}

// Create adds a menu item
func (s *MenuService) Create(ctx context.Context, req *MenuItemRequest) (*models.MenuItem, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	item := &models.MenuItem{
		Name:      req.Name,
		Price:     req.Price,
		Image:     req.Image,
		Available: req.available(),
	}
	if err := s.repo.CreateMenuItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create menu item: %w", err)
	}

	s.logger.Info("Menu item created", zap.String("item_id", item.ID), zap.String("name", item.Name))
	s.publish(ctx, item.ID, MenuActionCreated)
	return item, nil
}

// Update replaces a menu item's fields
func (s *MenuService) Update(ctx context.Context, id string, req *MenuItemRequest) (*models.MenuItem, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	item := &models.MenuItem{
		ID:        id,
		Name:      req.Name,
		Price:     req.Price,
		Image:     req.Image,
		Available: req.available(),
	}
	if err := s.repo.UpdateMenuItem(ctx, item); err != nil {
		return nil, err
	}

	s.publish(ctx, id, MenuActionUpdated)
	return s.repo.GetMenuItem(ctx, id)
}

// SetAvailable toggles whether an item can be ordered
func (s *MenuService) SetAvailable(ctx context.Context, id string, available bool) (*models.MenuItem, error) {
	item, err := s.repo.GetMenuItem(ctx, id)
	if err != nil {
		return nil, err
	}

	item.Available = available
	if err := s.repo.UpdateMenuItem(ctx, item); err != nil {
		return nil, err
	}

	s.publish(ctx, id, MenuActionUpdated)
	return s.repo.GetMenuItem(ctx, id)
}

// Delete removes a menu item
func (s *MenuService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteMenuItem(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Menu item deleted", zap.String("item_id", id))
	s.publish(ctx, id, MenuActionDeleted)
	return nil
}

func (s *MenuService) publish(ctx context.Context, itemID, action string) {
	event := &models.MenuEvent{
		BaseEvent: newBaseEvent(models.EventTypeMenuChanged, time.Now()),
		ItemID:    itemID,
		Action:    action,
	}
	if err := s.publisher.PublishMenuEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish menu event", zap.Error(err))
	}
}
