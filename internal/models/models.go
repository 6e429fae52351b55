package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// MenuItem represents a dish offered by the canteen
type MenuItem struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	Image     string    `db:"image" json:"image"`
	Available bool      `db:"available" json:"available"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LineItem is one cart row frozen into an order
type LineItem struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

// LineItems is stored as a JSONB column
type LineItems []LineItem

// Value implements driver.Valuer
func (li LineItems) Value() (driver.Value, error) {
	if li == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(li)
}

// Scan implements sql.Scanner
func (li *LineItems) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*li = LineItems{}
		return nil
	case []byte:
		return json.Unmarshal(v, li)
	case string:
		return json.Unmarshal([]byte(v), li)
	default:
		return errors.New("line items: unsupported column type")
	}
}

// Subtotal sums unit price times quantity over all rows
func (li LineItems) Subtotal() int64 {
	var total int64
	for _, it := range li {
		total += it.UnitPrice * int64(it.Quantity)
	}
	return total
}

// Order represents a student's canteen order
type Order struct {
	ID                string     `db:"id" json:"id"`
	PID               string     `db:"pid" json:"pid"`
	Items             LineItems  `db:"items" json:"items"`
	Subtotal          int64      `db:"subtotal" json:"subtotal"`
	Status            string     `db:"status" json:"status"`
	PaymentCode       string     `db:"payment_code" json:"payment_code"`
	IdempotencyKey    *string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
	PaymentVerifiedAt *time.Time `db:"payment_verified_at" json:"payment_verified_at,omitempty"`
}

// Order statuses
const (
	OrderStatusPendingPayment = "PENDING_PAYMENT"
	OrderStatusPaidUnverified = "PAID_UNVERIFIED"
	OrderStatusVerified       = "VERIFIED"
	OrderStatusFulfilled      = "FULFILLED"
	OrderStatusCancelled      = "CANCELLED"
)

// ValidOrderStatus reports whether s names a lifecycle state
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusPaidUnverified, OrderStatusVerified,
		OrderStatusFulfilled, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition leaves the status
func IsTerminal(status string) bool {
	return status == OrderStatusFulfilled || status == OrderStatusCancelled
}

// OrderFilter narrows order listings
type OrderFilter struct {
	PID    string
	Status string
	Search string
	Limit  int
}

// Student is the per-identity misuse record
type Student struct {
	PID         string    `db:"pid" json:"pid"`
	Blocked     bool      `db:"blocked" json:"blocked"`
	BlockReason string    `db:"block_reason" json:"block_reason"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CancellationEvent is appended whenever a student cancels an order
type CancellationEvent struct {
	ID        int64     `db:"id" json:"id"`
	PID       string    `db:"pid" json:"pid"`
	OrderID   string    `db:"order_id" json:"order_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Settings is the process-wide configuration record
type Settings struct {
	CancelThreshold int       `db:"cancel_threshold" json:"cancel_threshold"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultCancelThreshold applies when no settings record exists
const DefaultCancelThreshold = 2

// BlockDecision is the outcome of an auto-block evaluation
type BlockDecision struct {
	Blocked   bool `json:"blocked"`
	Count     int  `json:"count"`
	Threshold int  `json:"threshold"`
}

// AdminCredential holds the single operator secret
type AdminCredential struct {
	PasswordHash string    `db:"password_hash"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// NormalizePID trims and upper-cases an identity
func NormalizePID(pid string) string {
	return strings.ToUpper(strings.TrimSpace(pid))
}
