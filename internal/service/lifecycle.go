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
)

// LifecycleConfig holds the tunables of OrderLifecycle
type LifecycleConfig struct {
	DefaultThreshold int
	HistoryLimit     int
	CodeAttempts     int
}

// DefaultLifecycleConfig returns production defaults
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		DefaultThreshold: models.DefaultCancelThreshold,
		HistoryLimit:     25,
		CodeAttempts:     5,
	}
}

// OrderLifecycle owns every order state transition
type OrderLifecycle struct {
	repo      repository.Repository
	tracker   *MisuseTracker
	codes     *paycode.Generator
	publisher EventPublisher
	cfg       LifecycleConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewOrderLifecycle creates a new order lifecycle
func NewOrderLifecycle(
	repo repository.Repository,
	tracker *MisuseTracker,
	codes *paycode.Generator,
	publisher EventPublisher,
	cfg LifecycleConfig,
) *OrderLifecycle {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultLifecycleConfig().HistoryLimit
	}
	if cfg.CodeAttempts <= 0 {
		cfg.CodeAttempts = DefaultLifecycleConfig().CodeAttempts
	}
	if cfg.DefaultThreshold < 0 {
		cfg.DefaultThreshold = models.DefaultCancelThreshold
	}
	return &OrderLifecycle{
		repo:      repo,
		tracker:   tracker,
		codes:     codes,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// WithClock replaces the time source
func (l *OrderLifecycle) WithClock(now func() time.Time) *OrderLifecycle {
	l.now = now
	return l
}

// CartLine is one row of a checkout request
type CartLine struct {
	ItemID   string `json:"item_id" binding:"required"`
	Quantity int    `json:"quantity"`
}

// CreateOrderRequest represents a checkout. Prices always come from the menu;
// any client subtotal is ignored.
type CreateOrderRequest struct {
	PID            string     `json:"pid" binding:"required"`
	Items          []CartLine `json:"items"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

// Create places a new order in PAID_UNVERIFIED with a fresh payment code
func (l *OrderLifecycle) Create(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.Create")
	defer span.End()

	pid := models.NormalizePID(req.PID)
	if pid == "" {
		util.OrdersRejectedTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: pid is required", models.ErrValidation)
	}
	if len(req.Items) == 0 {
		util.OrdersRejectedTotal.WithLabelValues("empty_cart").Inc()
		return nil, fmt.Errorf("%w: cart is empty", models.ErrValidation)
	}
	for _, line := range req.Items {
		if line.ItemID == "" || line.Quantity < 1 {
			util.OrdersRejectedTotal.WithLabelValues("invalid").Inc()
			return nil, fmt.Errorf("%w: every line needs an item and a quantity of at least 1", models.ErrValidation)
		}
	}

	var idempotencyKey *string
	if req.IdempotencyKey != "" {
		existing, err := l.repo.GetOrderByIdempotencyKey(ctx, pid, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			l.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", existing.ID))
			return existing, nil
		}
		key := req.IdempotencyKey
		idempotencyKey = &key
	}

	student, err := l.repo.GetStudent(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to load student: %w", err)
	}
	if student.Blocked {
		util.OrdersRejectedTotal.WithLabelValues("blocked").Inc()
		return nil, fmt.Errorf("%w: %s", models.ErrBlocked, student.BlockReason)
	}

	items, err := l.priceLines(ctx, req.Items)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	order := &models.Order{
		PID:            pid,
		Items:          items,
		Subtotal:       items.Subtotal(),
		Status:         models.OrderStatusPaidUnverified,
		IdempotencyKey: idempotencyKey,
	}

	if err := l.insertWithFreshCode(ctx, order); err != nil {
		if errors.Is(err, models.ErrConflict) && idempotencyKey != nil {
			// lost a race with a retry of the same request
			if existing, getErr := l.repo.GetOrderByIdempotencyKey(ctx, pid, *idempotencyKey); getErr == nil && existing != nil {
				return existing, nil
			}
		}
		util.RecordError(span, err)
		util.OrdersRejectedTotal.WithLabelValues("db_error").Inc()
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	l.logger.Info("Order placed",
		zap.String("order_id", order.ID),
		zap.String("pid", pid),
		zap.Int64("subtotal", order.Subtotal))

	publishOrder(ctx, l.publisher, l.logger, newOrderEvent(models.EventTypeOrderPlaced, order, l.now()))
	return order, nil
}

// priceLines resolves every cart line against the menu
func (l *OrderLifecycle) priceLines(ctx context.Context, lines []CartLine) (models.LineItems, error) {
	ids := make([]string, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		if !seen[line.ItemID] {
			seen[line.ItemID] = true
			ids = append(ids, line.ItemID)
		}
	}

	menu, err := l.repo.GetMenuItemsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load menu items: %w", err)
	}

	byID := make(map[string]*models.MenuItem, len(menu))
	for i := range menu {
		byID[menu[i].ID] = &menu[i]
	}

	items := make(models.LineItems, 0, len(lines))
	for _, line := range lines {
		item, ok := byID[line.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: menu item %s not found", models.ErrValidation, line.ItemID)
		}
		if !item.Available {
			return nil, fmt.Errorf("%w: %s is not available", models.ErrValidation, item.Name)
		}
		items = append(items, models.LineItem{
			ItemID:    item.ID,
			Name:      item.Name,
			UnitPrice: item.Price,
			Quantity:  line.Quantity,
			LineTotal: item.Price * int64(line.Quantity),
		})
	}
	return items, nil
}

// insertWithFreshCode generates payment codes until one is free, then inserts
func (l *OrderLifecycle) insertWithFreshCode(ctx context.Context, order *models.Order) error {
	for attempt := 1; attempt <= l.cfg.CodeAttempts; attempt++ {
		seed := fmt.Sprintf("%s:%d:%d", order.PID, order.Subtotal, l.now().UnixMilli())
		code, err := l.codes.Generate(seed)
		if err != nil {
			return fmt.Errorf("failed to generate payment code: %w", err)
		}

		inUse, err := l.repo.PaymentCodeInUse(ctx, code)
		if err != nil {
			return fmt.Errorf("failed to check payment code: %w", err)
		}
		if inUse {
			util.PaymentCodeCollisionsTotal.Inc()
			l.logger.Warn("Payment code collision", zap.Int("attempt", attempt))
			continue
		}

		order.PaymentCode = code
		err = l.repo.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return fmt.Errorf("failed to create order: %w", err)
		}
		if order.IdempotencyKey != nil {
			if existing, getErr := l.repo.GetOrderByIdempotencyKey(ctx, order.PID, *order.IdempotencyKey); getErr == nil && existing != nil {
				return err
			}
		}
		util.PaymentCodeCollisionsTotal.Inc()
	}

	return fmt.Errorf("failed to allocate a unique payment code after %d attempts", l.cfg.CodeAttempts)
}

// VerifyResult reports the outcome of a payment-code verification
type VerifyResult struct {
	Order *models.Order `json:"order"`
	// Verified is true when this call moved the order to VERIFIED
	Verified bool `json:"verified"`
	// PreviousStatus is the status the order had when it was found
	PreviousStatus string `json:"previous_status"`
}

// VerifyByCode verifies the order holding code. Orders that are already past
// PAID_UNVERIFIED are reported unchanged.
func (l *OrderLifecycle) VerifyByCode(ctx context.Context, code string) (*VerifyResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.VerifyByCode")
	defer span.End()

	code = paycode.Normalize(code)
	if !paycode.WellFormed(code) {
		util.PaymentCodeLookupsTotal.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: %q is not a payment code", models.ErrValidation, code)
	}

	order, err := l.repo.GetOrderByPaymentCode(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			util.PaymentCodeLookupsTotal.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}

	if order.Status != models.OrderStatusPaidUnverified {
		util.PaymentCodeLookupsTotal.WithLabelValues("already_processed").Inc()
		return &VerifyResult{Order: order, PreviousStatus: order.Status}, nil
	}

	verified, err := l.transition(ctx, order.ID, models.OrderStatusVerified, models.OrderStatusPaidUnverified)
	if errors.Is(err, models.ErrInvalidState) && verified != nil {
		// verified concurrently by another operator
		util.PaymentCodeLookupsTotal.WithLabelValues("already_processed").Inc()
		return &VerifyResult{Order: verified, PreviousStatus: verified.Status}, nil
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.PaymentCodeLookupsTotal.WithLabelValues("verified").Inc()
	util.OrdersVerifiedTotal.WithLabelValues("code").Inc()
	return &VerifyResult{Order: verified, Verified: true, PreviousStatus: models.OrderStatusPaidUnverified}, nil
}

// MarkVerified verifies an order by id without its payment code
func (l *OrderLifecycle) MarkVerified(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.MarkVerified")
	defer span.End()

	order, err := l.transition(ctx, orderID, models.OrderStatusVerified, models.OrderStatusPaidUnverified)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.OrdersVerifiedTotal.WithLabelValues("manual").Inc()
	return order, nil
}

// Fulfill hands a verified order over
func (l *OrderLifecycle) Fulfill(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.Fulfill")
	defer span.End()

	order, err := l.transition(ctx, orderID, models.OrderStatusFulfilled, models.OrderStatusVerified)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.OrdersFulfilledTotal.Inc()
	return order, nil
}

// CancelResult carries the cancelled order and the auto-block decision
type CancelResult struct {
	Order *models.Order `json:"order"`
	models.BlockDecision
}

// Cancel cancels pid's own order, records the cancellation and evaluates the
// auto-block policy. All three happen in one transaction locked on pid.
func (l *OrderLifecycle) Cancel(ctx context.Context, orderID, pid string) (*CancelResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.Cancel")
	defer span.End()

	pid = models.NormalizePID(pid)
	if pid == "" {
		return nil, fmt.Errorf("%w: pid is required", models.ErrValidation)
	}

	start := time.Now()
	defer func() {
		util.CancellationEvaluationLatency.Observe(time.Since(start).Seconds())
	}()

	var result CancelResult
	err := l.repo.InStudentTx(ctx, pid, func(tx repository.Repository) error {
		order, err := tx.GetOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PID != pid {
			return fmt.Errorf("%w: order %s", models.ErrNotFound, orderID)
		}

		cancelled, err := tx.TransitionOrder(ctx, orderID,
			[]string{models.OrderStatusPendingPayment, models.OrderStatusPaidUnverified},
			models.OrderStatusCancelled)
		if err != nil {
			return err
		}

		tracker := l.tracker.bind(tx)
		if err := tracker.RecordCancellation(ctx, pid, orderID); err != nil {
			return err
		}

		settings, err := tx.GetSettings(ctx)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}

		decision, err := tracker.EvaluateAutoBlock(ctx, pid, EffectiveSettings(settings, l.cfg.DefaultThreshold))
		if err != nil {
			return err
		}

		result = CancelResult{Order: cancelled, BlockDecision: *decision}
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.OrdersCancelledTotal.Inc()
	l.logger.Info("Order cancelled",
		zap.String("order_id", orderID),
		zap.String("pid", pid),
		zap.Int("recent_cancellations", result.Count))

	now := l.now()
	publishOrder(ctx, l.publisher, l.logger, newOrderEvent(models.EventTypeOrderCancelled, result.Order, now))
	if result.Blocked {
		util.StudentsAutoBlockedTotal.Inc()
		publishStudent(ctx, l.publisher, l.logger, &models.StudentEvent{
			BaseEvent: newBaseEvent(models.EventTypeStudentBlocked, now),
			PID:       pid,
			Blocked:   true,
			Reason:    AutoBlockReason(result.Count, result.Threshold, l.tracker.Window()),
			Automatic: true,
			Count:     result.Count,
			Threshold: result.Threshold,
		})
	}

	return &result, nil
}

// Delete removes an order outright
func (l *OrderLifecycle) Delete(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.Delete")
	defer span.End()

	order, err := l.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if err := l.repo.DeleteOrder(ctx, orderID); err != nil {
		util.RecordError(span, err)
		return err
	}

	l.logger.Info("Order deleted", zap.String("order_id", orderID))
	publishOrder(ctx, l.publisher, l.logger, newOrderEvent(models.EventTypeOrderDeleted, order, l.now()))
	return nil
}

// Get retrieves an order by id
func (l *OrderLifecycle) Get(ctx context.Context, orderID string) (*models.Order, error) {
	return l.repo.GetOrderByID(ctx, orderID)
}

// ListByIdentity returns pid's most recent orders, newest first
func (l *OrderLifecycle) ListByIdentity(ctx context.Context, pid string) ([]models.Order, error) {
	pid = models.NormalizePID(pid)
	if pid == "" {
		return nil, fmt.Errorf("%w: pid is required", models.ErrValidation)
	}
	return l.repo.ListOrders(ctx, models.OrderFilter{PID: pid, Limit: l.cfg.HistoryLimit})
}

// List returns orders for the operator view, newest first
func (l *OrderLifecycle) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	if filter.Status != "" && !models.ValidOrderStatus(filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %s", models.ErrValidation, filter.Status)
	}
	return l.repo.ListOrders(ctx, filter)
}

// transition applies a guarded status change and publishes it
func (l *OrderLifecycle) transition(ctx context.Context, orderID, to string, from ...string) (*models.Order, error) {
	order, err := l.repo.TransitionOrder(ctx, orderID, from, to)
	if err != nil {
		return order, err
	}

	eventType := models.EventTypeOrderVerified
	if to == models.OrderStatusFulfilled {
		eventType = models.EventTypeOrderFulfilled
	}

	l.logger.Info("Order transitioned",
		zap.String("order_id", orderID),
		zap.String("status", to))
	publishOrder(ctx, l.publisher, l.logger, newOrderEvent(eventType, order, l.now()))
	return order, nil
}
