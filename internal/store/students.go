package store

import (
	"context"
	"database/sql"
	"time"

	"canteen-service/internal/models"
)

// GetStudent retrieves a student record; an unknown pid is reported unblocked
func (s *Store) GetStudent(ctx context.Context, pid string) (*models.Student, error) {
	var student models.Student
	err := s.q.GetContext(ctx, &student, "SELECT * FROM students WHERE pid = $1", pid)
	if err == sql.ErrNoRows {
		return &models.Student{PID: pid}, nil
	}
	if err != nil {
		return nil, err
	}
	return &student, nil
}

// SetStudentBlocked upserts the block flag; unblocking clears the reason
func (s *Store) SetStudentBlocked(ctx context.Context, pid string, blocked bool, reason string) error {
	if !blocked {
		reason = ""
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO students (pid, blocked, block_reason, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (pid) DO UPDATE
		SET blocked = EXCLUDED.blocked, block_reason = EXCLUDED.block_reason, updated_at = NOW()`,
		pid, blocked, reason)
	return err
}

// AddCancellationEvent appends a cancellation event for a student
func (s *Store) AddCancellationEvent(ctx context.Context, pid, orderID string, at time.Time) error {
	if _, err := s.q.ExecContext(ctx,
		"INSERT INTO students (pid) VALUES ($1) ON CONFLICT (pid) DO NOTHING", pid); err != nil {
		return err
	}

	_, err := s.q.ExecContext(ctx,
		"INSERT INTO cancellation_events (pid, order_id, created_at) VALUES ($1, $2, $3)",
		pid, orderID, at)
	return err
}

// CountCancellationsSince counts a student's cancellations at or after since
func (s *Store) CountCancellationsSince(ctx context.Context, pid string, since time.Time) (int, error) {
	var count int
	err := s.q.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM cancellation_events WHERE pid = $1 AND created_at >= $2",
		pid, since)
	return count, err
}
