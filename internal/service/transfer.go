package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"canteen-service/internal/models"
	"canteen-service/internal/paycode"
	"canteen-service/internal/repository"
	"canteen-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TransferService exports, imports and resets canteen data
type TransferService struct {
	repo      repository.Repository
	publisher EventPublisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewTransferService creates a new transfer service
func NewTransferService(repo repository.Repository, publisher EventPublisher) *TransferService {
	return &TransferService{
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// Export reads settings, the full menu and every order concurrently
func (s *TransferService) Export(ctx context.Context) (*models.DataExport, error) {
	ctx, span := util.StartSpan(ctx, "TransferService.Export")
	defer span.End()

	var (
		settings *models.Settings
		menu     []models.MenuItem
		orders   []models.Order
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		settings, err = s.repo.GetSettings(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		menu, err = s.repo.ListMenuItems(gctx, true)
		return err
	})
	g.Go(func() error {
		var err error
		orders, err = s.repo.ListOrders(gctx, models.OrderFilter{})
		return err
	})

	if err := g.Wait(); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to export data: %w", err)
	}

	s.logger.Info("Data exported",
		zap.Int("menu_items", len(menu)),
		zap.Int("orders", len(orders)))

	return &models.DataExport{
		Settings:   settings,
		Menu:       menu,
		Orders:     orders,
		ExportedAt: s.now(),
	}, nil
}

// Import merges settings, upserts menu items by id and re-inserts orders
// under new ids. Menu items without an id are skipped, as are orders whose
// payment code is held by an active order and unfinished orders whose code
// could never be looked up by VerifyByCode.
func (s *TransferService) Import(ctx context.Context, doc *models.DataExport) (*models.ImportResult, error) {
	ctx, span := util.StartSpan(ctx, "TransferService.Import")
	defer span.End()

	if doc == nil {
		return nil, fmt.Errorf("%w: empty import document", models.ErrValidation)
	}
	if err := validateImport(doc); err != nil {
		return nil, err
	}

	result := &models.ImportResult{}
	now := s.now()

	if doc.Settings != nil {
		if err := s.repo.SetCancelThreshold(ctx, doc.Settings.CancelThreshold); err != nil {
			util.RecordError(span, err)
			return result, fmt.Errorf("failed to import settings: %w", err)
		}
		result.SettingsApplied = true
		s.publishSettings(ctx, doc.Settings.CancelThreshold, now)
	}

	for i := range doc.Menu {
		item := doc.Menu[i]
		if item.ID == "" {
			result.MenuSkipped++
			continue
		}
		if err := s.repo.UpsertMenuItem(ctx, &item); err != nil {
			util.RecordError(span, err)
			return result, fmt.Errorf("failed to import menu item %s: %w", item.ID, err)
		}
		result.MenuApplied++
	}
	if result.MenuApplied > 0 {
		s.publishMenu(ctx, MenuActionUpdated, now)
	}

	for i := range doc.Orders {
		order := doc.Orders[i]
		order.PID = models.NormalizePID(order.PID)
		order.PaymentCode = paycode.Normalize(order.PaymentCode)
		if !models.IsTerminal(order.Status) && !paycode.WellFormed(order.PaymentCode) {
			s.logger.Warn("Skipping imported order with malformed payment code",
				zap.String("pid", order.PID),
				zap.String("payment_code", order.PaymentCode))
			result.OrdersSkipped++
			continue
		}
		err := s.repo.ImportOrder(ctx, &order)
		if errors.Is(err, models.ErrConflict) {
			s.logger.Warn("Skipping imported order with active payment code",
				zap.String("payment_code", order.PaymentCode))
			result.OrdersSkipped++
			continue
		}
		if err != nil {
			util.RecordError(span, err)
			return result, fmt.Errorf("failed to import order: %w", err)
		}
		result.OrdersInserted++
	}
	if result.OrdersInserted > 0 {
		publishOrder(ctx, s.publisher, s.logger, &models.OrderEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderPlaced, now),
		})
	}

	s.logger.Info("Data imported",
		zap.Bool("settings", result.SettingsApplied),
		zap.Int("menu_applied", result.MenuApplied),
		zap.Int("menu_skipped", result.MenuSkipped),
		zap.Int("orders_inserted", result.OrdersInserted),
		zap.Int("orders_skipped", result.OrdersSkipped))
	return result, nil
}

func validateImport(doc *models.DataExport) error {
	if doc.Settings != nil && doc.Settings.CancelThreshold < 0 {
		return fmt.Errorf("%w: cancel threshold must be >= 0", models.ErrValidation)
	}
	for i, order := range doc.Orders {
		if !models.ValidOrderStatus(order.Status) {
			return fmt.Errorf("%w: order %d has unknown status %q", models.ErrValidation, i, order.Status)
		}
		if models.NormalizePID(order.PID) == "" {
			return fmt.Errorf("%w: order %d has no pid", models.ErrValidation, i)
		}
	}
	return nil
}

// Reset deletes every menu item and order. Students, cancellation history
// and settings are kept.
func (s *TransferService) Reset(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "TransferService.Reset")
	defer span.End()

	if err := s.repo.DeleteAllMenuItems(ctx); err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to delete menu: %w", err)
	}
	if err := s.repo.DeleteAllOrders(ctx); err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to delete orders: %w", err)
	}

	s.logger.Warn("Menu and orders reset")

	now := s.now()
	s.publishMenu(ctx, MenuActionReset, now)
	publishOrder(ctx, s.publisher, s.logger, &models.OrderEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderDeleted, now),
	})
	return nil
}

func (s *TransferService) publishSettings(ctx context.Context, threshold int, at time.Time) {
	event := &models.SettingsEvent{
		BaseEvent:       newBaseEvent(models.EventTypeSettingsUpdated, at),
		CancelThreshold: threshold,
	}
	if err := s.publisher.PublishSettingsEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish settings event", zap.Error(err))
	}
}

func (s *TransferService) publishMenu(ctx context.Context, action string, at time.Time) {
	event := &models.MenuEvent{
		BaseEvent: newBaseEvent(models.EventTypeMenuChanged, at),
		Action:    action,
	}
	if err := s.publisher.PublishMenuEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish menu event", zap.Error(err))
	}
}
