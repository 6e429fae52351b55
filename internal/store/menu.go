package store

import (
	"context"
	"database/sql"
	"fmt"

	"canteen-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateMenuItem inserts a menu item under a new id
func (s *Store) CreateMenuItem(ctx context.Context, item *models.MenuItem) error {
	item.ID = uuid.New().String()

	query := `
		INSERT INTO menu_items (id, name, price, image, available)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	return s.q.GetContext(ctx, item, query,
		item.ID, item.Name, item.Price, item.Image, item.Available)
}

// UpsertMenuItem writes a menu item under its existing id
func (s *Store) UpsertMenuItem(ctx context.Context, item *models.MenuItem) error {
	query := `
		INSERT INTO menu_items (id, name, price, image, available, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			price = EXCLUDED.price,
			image = EXCLUDED.image,
			available = EXCLUDED.available,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	return s.q.GetContext(ctx, item, query,
		item.ID, item.Name, item.Price, item.Image, item.Available, nullTime(item.CreatedAt))
}

// UpdateMenuItem updates an existing menu item
func (s *Store) UpdateMenuItem(ctx context.Context, item *models.MenuItem) error {
	query := `
		UPDATE menu_items
		SET name = $1, price = $2, image = $3, available = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING created_at, updated_at`

	err := s.q.GetContext(ctx, item, query,
		item.Name, item.Price, item.Image, item.Available, item.ID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: menu item %s", models.ErrNotFound, item.ID)
	}
	return err
}

// DeleteMenuItem removes a menu item
func (s *Store) DeleteMenuItem(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM menu_items WHERE id = $1", id)
	if err != nil {
		return err
	}
	return expectAffected(res, "menu item", id)
}

// GetMenuItem retrieves a menu item by ID
func (s *Store) GetMenuItem(ctx context.Context, id string) (*models.MenuItem, error) {
	var item models.MenuItem
	err := s.q.GetContext(ctx, &item, "SELECT * FROM menu_items WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: menu item %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetMenuItemsByIDs retrieves multiple menu items by IDs
func (s *Store) GetMenuItemsByIDs(ctx context.Context, ids []string) ([]models.MenuItem, error) {
	if len(ids) == 0 {
		return []models.MenuItem{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM menu_items WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.q.Rebind(query)

	var items []models.MenuItem
	err = s.q.SelectContext(ctx, &items, query, args...)
	return items, err
}

// ListMenuItems retrieves the menu sorted by name
func (s *Store) ListMenuItems(ctx context.Context, includeUnavailable bool) ([]models.MenuItem, error) {
	query := "SELECT * FROM menu_items WHERE available = TRUE ORDER BY name"
	if includeUnavailable {
		query = "SELECT * FROM menu_items ORDER BY name"
	}

	items := []models.MenuItem{}
	err := s.q.SelectContext(ctx, &items, query)
	return items, err
}

// DeleteAllMenuItems removes every menu item
func (s *Store) DeleteAllMenuItems(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, "DELETE FROM menu_items")
	return err
}
