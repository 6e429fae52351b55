// Package testutil provides in-memory collaborators for service and handler tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"canteen-service/internal/models"
	"canteen-service/internal/repository"

	"github.com/google/uuid"
)

var (
	_ repository.Repository           = (*MemoryRepository)(nil)
	_ repository.CredentialRepository = (*MemoryRepository)(nil)
)

// MemoryRepository is a map-backed Repository. InStudentTx serialises callers
// per pid and, when fn fails, restores the rows owned by that pid: its
// student record, its cancellation events and its orders. Writes for other
// pids made in the meantime survive, as they would under row locks.
type MemoryRepository struct {
	mu sync.Mutex

	orders   map[string]*models.Order
	orderSeq map[string]int64
	seq      int64
	students map[string]*models.Student
	events   []models.CancellationEvent
	eventSeq int64
	settings *models.Settings
	menu     map[string]*models.MenuItem
	cred     *models.AdminCredential
	failures map[string]error

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	now func() time.Time
}

// NewMemoryRepository creates an empty repository stamping records with now
func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{
		orders:   make(map[string]*models.Order),
		orderSeq: make(map[string]int64),
		students: make(map[string]*models.Student),
		menu:     make(map[string]*models.MenuItem),
		failures: make(map[string]error),
		locks:    make(map[string]*sync.Mutex),
		now:      now,
	}
}

// FailOn makes the named method return err until cleared with a nil err
func (r *MemoryRepository) FailOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, method)
		return
	}
	r.failures[method] = err
}

func (r *MemoryRepository) fail(method string) error {
	return r.failures[method]
}

// CancellationEvents returns a copy of every recorded event
func (r *MemoryRepository) CancellationEvents() []models.CancellationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.CancellationEvent(nil), r.events...)
}

// AddCancellationEventAt records an event with an explicit timestamp
func (r *MemoryRepository) AddCancellationEventAt(pid, orderID string, at time.Time) {
	_ = r.AddCancellationEvent(context.Background(), pid, orderID, at)
}

// InStudentTx implements repository.Repository
func (r *MemoryRepository) InStudentTx(ctx context.Context, pid string, fn func(tx repository.Repository) error) error {
	lock := r.studentLock(pid)
	lock.Lock()
	defer lock.Unlock()

	snap := r.snapshot(pid)
	if err := fn(r); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *MemoryRepository) studentLock(pid string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	lock, ok := r.locks[pid]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[pid] = lock
	}
	return lock
}

type memorySnapshot struct {
	pid      string
	student  *models.Student
	events   []models.CancellationEvent
	orders   map[string]*models.Order
	orderSeq map[string]int64
}

func (r *MemoryRepository) snapshot(pid string) memorySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := memorySnapshot{
		pid:      pid,
		orders:   make(map[string]*models.Order),
		orderSeq: make(map[string]int64),
	}
	if s, ok := r.students[pid]; ok {
		c := *s
		snap.student = &c
	}
	for _, e := range r.events {
		if e.PID == pid {
			snap.events = append(snap.events, e)
		}
	}
	for id, o := range r.orders {
		if o.PID == pid {
			snap.orders[id] = copyOrder(o)
			snap.orderSeq[id] = r.orderSeq[id]
		}
	}
	return snap
}

func (r *MemoryRepository) restore(snap memorySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.student != nil {
		r.students[snap.pid] = snap.student
	} else {
		delete(r.students, snap.pid)
	}

	events := r.events[:0:0]
	for _, e := range r.events {
		if e.PID != snap.pid {
			events = append(events, e)
		}
	}
	events = append(events, snap.events...)
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	r.events = events

	for id, o := range r.orders {
		if o.PID == snap.pid {
			delete(r.orders, id)
			delete(r.orderSeq, id)
		}
	}
	for id, o := range snap.orders {
		r.orders[id] = o
		r.orderSeq[id] = snap.orderSeq[id]
	}
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append(models.LineItems(nil), o.Items...)
	if o.IdempotencyKey != nil {
		k := *o.IdempotencyKey
		c.IdempotencyKey = &k
	}
	if o.PaymentVerifiedAt != nil {
		t := *o.PaymentVerifiedAt
		c.PaymentVerifiedAt = &t
	}
	return &c
}

// Orders

func (r *MemoryRepository) activeCodeTaken(code string) bool {
	if code == "" {
		return false
	}
	for _, o := range r.orders {
		if o.PaymentCode == code && !models.IsTerminal(o.Status) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) insertOrder(order *models.Order) {
	r.seq++
	order.ID = uuid.New().String()
	r.orders[order.ID] = copyOrder(order)
	r.orderSeq[order.ID] = r.seq
}

func (r *MemoryRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("CreateOrder"); err != nil {
		return err
	}

	if r.activeCodeTaken(order.PaymentCode) {
		return fmt.Errorf("%w: payment code %s in use", models.ErrConflict, order.PaymentCode)
	}
	if order.IdempotencyKey != nil {
		for _, o := range r.orders {
			if o.PID == order.PID && o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return fmt.Errorf("%w: idempotency key in use", models.ErrConflict)
			}
		}
	}

	now := r.now()
	order.CreatedAt = now
	order.UpdatedAt = now
	r.insertOrder(order)
	return nil
}

func (r *MemoryRepository) ImportOrder(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("ImportOrder"); err != nil {
		return err
	}

	if !models.IsTerminal(order.Status) && r.activeCodeTaken(order.PaymentCode) {
		return fmt.Errorf("%w: payment code %s in use", models.ErrConflict, order.PaymentCode)
	}

	now := r.now()
	order.IdempotencyKey = nil
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}
	r.insertOrder(order)
	return nil
}

func (r *MemoryRepository) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetOrderByID"); err != nil {
		return nil, err
	}

	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", models.ErrNotFound, id)
	}
	return copyOrder(o), nil
}

func (r *MemoryRepository) GetOrderByPaymentCode(ctx context.Context, code string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetOrderByPaymentCode"); err != nil {
		return nil, err
	}

	var best *models.Order
	for _, o := range r.orders {
		if o.PaymentCode != code {
			continue
		}
		if best == nil || (models.IsTerminal(best.Status) && !models.IsTerminal(o.Status)) ||
			(models.IsTerminal(best.Status) == models.IsTerminal(o.Status) && r.orderSeq[o.ID] > r.orderSeq[best.ID]) {
			best = o
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no order for payment code %s", models.ErrNotFound, code)
	}
	return copyOrder(best), nil
}

func (r *MemoryRepository) GetOrderByIdempotencyKey(ctx context.Context, pid, key string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.orders {
		if o.PID == pid && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return copyOrder(o), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) PaymentCodeInUse(ctx context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeCodeTaken(code), nil
}

func (r *MemoryRepository) TransitionOrder(ctx context.Context, id string, from []string, to string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("TransitionOrder"); err != nil {
		return nil, err
	}

	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", models.ErrNotFound, id)
	}

	allowed := false
	for _, s := range from {
		if o.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return copyOrder(o), fmt.Errorf("%w: order %s is %s", models.ErrInvalidState, id, o.Status)
	}

	now := r.now()
	o.Status = to
	o.UpdatedAt = now
	if to == models.OrderStatusVerified {
		o.PaymentVerifiedAt = &now
	}
	return copyOrder(o), nil
}

func (r *MemoryRepository) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("ListOrders"); err != nil {
		return nil, err
	}

	search := strings.ToLower(filter.Search)
	orders := []models.Order{}
	for _, o := range r.orders {
		if filter.PID != "" && o.PID != filter.PID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(o.PID), search) &&
			!strings.Contains(strings.ToLower(o.PaymentCode), search) &&
			!strings.Contains(strings.ToLower(o.Status), search) {
			continue
		}
		orders = append(orders, *copyOrder(o))
	}

	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return r.orderSeq[orders[i].ID] > r.orderSeq[orders[j].ID]
	})

	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (r *MemoryRepository) DeleteOrder(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[id]; !ok {
		return fmt.Errorf("%w: order %s", models.ErrNotFound, id)
	}
	delete(r.orders, id)
	delete(r.orderSeq, id)
	return nil
}

func (r *MemoryRepository) DeleteAllOrders(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = make(map[string]*models.Order)
	r.orderSeq = make(map[string]int64)
	return nil
}

// Students

func (r *MemoryRepository) GetStudent(ctx context.Context, pid string) (*models.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetStudent"); err != nil {
		return nil, err
	}

	s, ok := r.students[pid]
	if !ok {
		return &models.Student{PID: pid}, nil
	}
	c := *s
	return &c, nil
}

func (r *MemoryRepository) SetStudentBlocked(ctx context.Context, pid string, blocked bool, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("SetStudentBlocked"); err != nil {
		return err
	}

	if !blocked {
		reason = ""
	}
	r.students[pid] = &models.Student{PID: pid, Blocked: blocked, BlockReason: reason, UpdatedAt: r.now()}
	return nil
}

func (r *MemoryRepository) AddCancellationEvent(ctx context.Context, pid, orderID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("AddCancellationEvent"); err != nil {
		return err
	}

	if _, ok := r.students[pid]; !ok {
		r.students[pid] = &models.Student{PID: pid, UpdatedAt: r.now()}
	}
	r.eventSeq++
	r.events = append(r.events, models.CancellationEvent{
		ID:        r.eventSeq,
		PID:       pid,
		OrderID:   orderID,
		CreatedAt: at,
	})
	return nil
}

func (r *MemoryRepository) CountCancellationsSince(ctx context.Context, pid string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("CountCancellationsSince"); err != nil {
		return 0, err
	}

	count := 0
	for _, e := range r.events {
		if e.PID == pid && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// Settings

func (r *MemoryRepository) GetSettings(ctx context.Context) (*models.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetSettings"); err != nil {
		return nil, err
	}

	if r.settings == nil {
		return nil, nil
	}
	c := *r.settings
	return &c, nil
}

func (r *MemoryRepository) EnsureDefaultSettings(ctx context.Context, threshold int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settings == nil {
		now := r.now()
		r.settings = &models.Settings{CancelThreshold: threshold, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

func (r *MemoryRepository) SetCancelThreshold(ctx context.Context, threshold int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("SetCancelThreshold"); err != nil {
		return err
	}

	now := r.now()
	if r.settings == nil {
		r.settings = &models.Settings{CreatedAt: now}
	}
	r.settings.CancelThreshold = threshold
	r.settings.UpdatedAt = now
	return nil
}

// Menu

func (r *MemoryRepository) CreateMenuItem(ctx context.Context, item *models.MenuItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	item.ID = uuid.New().String()
	item.CreatedAt = now
	item.UpdatedAt = now
	c := *item
	r.menu[item.ID] = &c
	return nil
}

func (r *MemoryRepository) UpsertMenuItem(ctx context.Context, item *models.MenuItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.menu[item.ID]; ok {
		item.CreatedAt = existing.CreatedAt
	} else if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	c := *item
	r.menu[item.ID] = &c
	return nil
}

func (r *MemoryRepository) UpdateMenuItem(ctx context.Context, item *models.MenuItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.menu[item.ID]
	if !ok {
		return fmt.Errorf("%w: menu item %s", models.ErrNotFound, item.ID)
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = r.now()
	c := *item
	r.menu[item.ID] = &c
	return nil
}

func (r *MemoryRepository) DeleteMenuItem(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.menu[id]; !ok {
		return fmt.Errorf("%w: menu item %s", models.ErrNotFound, id)
	}
	delete(r.menu, id)
	return nil
}

func (r *MemoryRepository) GetMenuItem(ctx context.Context, id string) (*models.MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.menu[id]
	if !ok {
		return nil, fmt.Errorf("%w: menu item %s", models.ErrNotFound, id)
	}
	c := *item
	return &c, nil
}

func (r *MemoryRepository) GetMenuItemsByIDs(ctx context.Context, ids []string) ([]models.MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetMenuItemsByIDs"); err != nil {
		return nil, err
	}

	items := []models.MenuItem{}
	for _, id := range ids {
		if item, ok := r.menu[id]; ok {
			items = append(items, *item)
		}
	}
	return items, nil
}

func (r *MemoryRepository) ListMenuItems(ctx context.Context, includeUnavailable bool) ([]models.MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("ListMenuItems"); err != nil {
		return nil, err
	}

	items := []models.MenuItem{}
	for _, item := range r.menu {
		if includeUnavailable || item.Available {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (r *MemoryRepository) DeleteAllMenuItems(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.menu = make(map[string]*models.MenuItem)
	return nil
}

// Credentials

func (r *MemoryRepository) GetAdminCredential(ctx context.Context) (*models.AdminCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cred == nil {
		return nil, nil
	}
	c := *r.cred
	return &c, nil
}

func (r *MemoryRepository) SaveAdminCredential(ctx context.Context, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cred = &models.AdminCredential{PasswordHash: passwordHash, UpdatedAt: r.now()}
	return nil
}
