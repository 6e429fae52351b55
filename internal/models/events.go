package models

import "time"

// Event types
const (
	EventTypeOrderPlaced      = "ORDER_PLACED"
	EventTypeOrderVerified    = "ORDER_VERIFIED"
	EventTypeOrderFulfilled   = "ORDER_FULFILLED"
	EventTypeOrderCancelled   = "ORDER_CANCELLED"
	EventTypeOrderDeleted     = "ORDER_DELETED"
	EventTypeStudentBlocked   = "STUDENT_BLOCKED"
	EventTypeStudentUnblocked = "STUDENT_UNBLOCKED"
	EventTypeSettingsUpdated  = "SETTINGS_UPDATED"
	EventTypeMenuChanged      = "MENU_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is published on every order transition
type OrderEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	PID         string `json:"pid"`
	Status      string `json:"status"`
	PaymentCode string `json:"payment_code,omitempty"`
	Subtotal    int64  `json:"subtotal"`
}

// StudentEvent is published when a student is blocked or unblocked
type StudentEvent struct {
	BaseEvent
	PID       string `json:"pid"`
	Blocked   bool   `json:"blocked"`
	Reason    string `json:"reason,omitempty"`
	Automatic bool   `json:"automatic"`
	Count     int    `json:"count,omitempty"`
	Threshold int    `json:"threshold,omitempty"`
}

// SettingsEvent is published when the operator changes settings
type SettingsEvent struct {
	BaseEvent
	CancelThreshold int `json:"cancel_threshold"`
}

// MenuEvent is published when the menu changes
type MenuEvent struct {
	BaseEvent
	ItemID string `json:"item_id,omitempty"`
	Action string `json:"action"`
}

// DataExport is the bulk interchange document
type DataExport struct {
	Settings   *Settings  `json:"settings"`
	Menu       []MenuItem `json:"menu"`
	Orders     []Order    `json:"orders"`
	ExportedAt time.Time  `json:"exportedAt"`
}

// ImportResult summarises an import run
type ImportResult struct {
	SettingsApplied bool `json:"settings_applied"`
	MenuApplied     int  `json:"menu_applied"`
	MenuSkipped     int  `json:"menu_skipped"`
	OrdersInserted  int  `json:"orders_inserted"`
	OrdersSkipped   int  `json:"orders_skipped"`
}
