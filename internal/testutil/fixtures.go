package testutil

import (
	"context"
	"testing"
	"time"

	"canteen-service/internal/models"
)

// Epoch is the fixed instant fake clocks start from
var Epoch = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

// SeedMenuItem stores an available menu item and returns it
func SeedMenuItem(t *testing.T, repo *MemoryRepository, name string, price int64) models.MenuItem {
	t.Helper()
	item := &models.MenuItem{Name: name, Price: price, Available: true}
	if err := repo.CreateMenuItem(context.Background(), item); err != nil {
		t.Fatalf("Failed to seed menu item: %v", err)
	}
	return *item
}

// SeedOrder stores an order directly, bypassing the lifecycle
func SeedOrder(t *testing.T, repo *MemoryRepository, pid, status, code string) models.Order {
	t.Helper()
	order := &models.Order{
		PID:         pid,
		Items:       models.LineItems{{ItemID: "seed", Name: "Seed", UnitPrice: 100, Quantity: 1, LineTotal: 100}},
		Subtotal:    100,
		Status:      status,
		PaymentCode: code,
	}
	if err := repo.CreateOrder(context.Background(), order); err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}
	return *order
}
