package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"canteen-service/internal/models"
	"canteen-service/internal/repository"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// querier is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx
type querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

type Store struct {
	db *sqlx.DB
	q  querier
	tx *sqlx.Tx
}

var _ repository.Repository = (*Store)(nil)
var _ repository.CredentialRepository = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, q: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InStudentTx runs fn inside a transaction holding a FOR UPDATE lock on the
// student row, creating the row first if needed.
func (s *Store) InStudentTx(ctx context.Context, pid string, fn func(tx repository.Repository) error) error {
	if s.tx != nil {
		return errors.New("nested student transaction")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO students (pid) VALUES ($1) ON CONFLICT (pid) DO NOTHING", pid); err != nil {
		return fmt.Errorf("failed to ensure student: %w", err)
	}

	var locked string
	if err := tx.GetContext(ctx, &locked,
		"SELECT pid FROM students WHERE pid = $1 FOR UPDATE", pid); err != nil {
		return fmt.Errorf("failed to lock student: %w", err)
	}

	if err := fn(&Store{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

// GetSettings retrieves the settings record, nil if absent
func (s *Store) GetSettings(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	err := s.q.GetContext(ctx, &settings,
		"SELECT cancel_threshold, created_at, updated_at FROM settings WHERE id = 1")
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// EnsureDefaultSettings creates the settings record if it does not exist
func (s *Store) EnsureDefaultSettings(ctx context.Context, threshold int) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO settings (id, cancel_threshold) VALUES (1, $1) ON CONFLICT (id) DO NOTHING",
		threshold)
	return err
}

// SetCancelThreshold updates the cancellation threshold
func (s *Store) SetCancelThreshold(ctx context.Context, threshold int) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO settings (id, cancel_threshold) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET cancel_threshold = EXCLUDED.cancel_threshold, updated_at = NOW()`,
		threshold)
	return err
}

// GetAdminCredential retrieves the operator credential, nil if absent
func (s *Store) GetAdminCredential(ctx context.Context) (*models.AdminCredential, error) {
	var cred models.AdminCredential
	err := s.q.GetContext(ctx, &cred,
		"SELECT password_hash, updated_at FROM admin_credentials WHERE id = 1")
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// SaveAdminCredential stores the operator password hash
func (s *Store) SaveAdminCredential(ctx context.Context, passwordHash string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO admin_credentials (id, password_hash) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET password_hash = EXCLUDED.password_hash, updated_at = NOW()`,
		passwordHash)
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
