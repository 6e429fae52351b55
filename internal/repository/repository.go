// Package repository declares the persistence contracts the services depend on.
// The Postgres store and the in-memory test repository both satisfy them.
package repository

import (
	"context"
	"time"

	"canteen-service/internal/models"
)

// OrderRepository persists orders
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	ImportOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByPaymentCode(ctx context.Context, code string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, pid, key string) (*models.Order, error)
	PaymentCodeInUse(ctx context.Context, code string) (bool, error)
	// TransitionOrder moves an order to `to` only if its current status is one
	// of `from`. It returns ErrNotFound or ErrInvalidState otherwise.
	TransitionOrder(ctx context.Context, id string, from []string, to string) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	DeleteOrder(ctx context.Context, id string) error
	DeleteAllOrders(ctx context.Context) error
}

// StudentRepository persists identity records and their cancellation events
type StudentRepository interface {
	GetStudent(ctx context.Context, pid string) (*models.Student, error)
	SetStudentBlocked(ctx context.Context, pid string, blocked bool, reason string) error
	AddCancellationEvent(ctx context.Context, pid, orderID string, at time.Time) error
	CountCancellationsSince(ctx context.Context, pid string, since time.Time) (int, error)
}

// SettingsRepository persists the single settings record
type SettingsRepository interface {
	// GetSettings returns nil, nil when no record exists yet.
	GetSettings(ctx context.Context) (*models.Settings, error)
	EnsureDefaultSettings(ctx context.Context, threshold int) error
	SetCancelThreshold(ctx context.Context, threshold int) error
}

// MenuRepository persists menu items
type MenuRepository interface {
	CreateMenuItem(ctx context.Context, item *models.MenuItem) error
	UpsertMenuItem(ctx context.Context, item *models.MenuItem) error
	UpdateMenuItem(ctx context.Context, item *models.MenuItem) error
	DeleteMenuItem(ctx context.Context, id string) error
	GetMenuItem(ctx context.Context, id string) (*models.MenuItem, error)
	GetMenuItemsByIDs(ctx context.Context, ids []string) ([]models.MenuItem, error)
	ListMenuItems(ctx context.Context, includeUnavailable bool) ([]models.MenuItem, error)
	DeleteAllMenuItems(ctx context.Context) error
}

// CredentialRepository persists the admin secret hash
type CredentialRepository interface {
	// GetAdminCredential returns nil, nil when no credential exists yet.
	GetAdminCredential(ctx context.Context) (*models.AdminCredential, error)
	SaveAdminCredential(ctx context.Context, passwordHash string) error
}

// Repository is the full backend collaborator
type Repository interface {
	OrderRepository
	StudentRepository
	SettingsRepository
	MenuRepository

	// InStudentTx runs fn in a single transaction that holds an exclusive
	// lock on the student record for pid. Writes made through the
	// Repository passed to fn commit or roll back together.
	InStudentTx(ctx context.Context, pid string, fn func(tx Repository) error) error
}
