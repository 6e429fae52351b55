package service

import (
	"context"
	"fmt"
	"time"

	"canteen-service/internal/models"
	"canteen-service/internal/repository"
	"canteen-service/internal/util"

	"go.uber.org/zap"
)

// DefaultCancelWindow is the rolling window cancellations are counted over
const DefaultCancelWindow = 24 * time.Hour

// AdminBlockReason is recorded when the operator blocks without a reason
const AdminBlockReason = "Blocked by admin"

// MisuseTracker records cancellations per student and decides auto-blocks
type MisuseTracker struct {
	students  repository.StudentRepository
	publisher EventPublisher
	window    time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewMisuseTracker creates a tracker counting over window
func NewMisuseTracker(students repository.StudentRepository, publisher EventPublisher, window time.Duration) *MisuseTracker {
	if window <= 0 {
		window = DefaultCancelWindow
	}
	return &MisuseTracker{
		students:  students,
		publisher: publisher,
		window:    window,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// WithClock replaces the time source
func (m *MisuseTracker) WithClock(now func() time.Time) *MisuseTracker {
	m.now = now
	return m
}

// Window returns the rolling window length
func (m *MisuseTracker) Window() time.Duration {
	return m.window
}

// bind returns a copy that reads and writes through students, typically a
// transaction-scoped repository
func (m *MisuseTracker) bind(students repository.StudentRepository) *MisuseTracker {
	bound := *m
	bound.students = students
	return &bound
}

// RecordCancellation appends a cancellation event stamped now
func (m *MisuseTracker) RecordCancellation(ctx context.Context, pid, orderID string) error {
	pid = models.NormalizePID(pid)
	if err := m.students.AddCancellationEvent(ctx, pid, orderID, m.now()); err != nil {
		return fmt.Errorf("failed to record cancellation: %w", err)
	}
	return nil
}

// CountRecent counts the student's cancellations within window of now
func (m *MisuseTracker) CountRecent(ctx context.Context, pid string, window time.Duration) (int, error) {
	pid = models.NormalizePID(pid)
	count, err := m.students.CountCancellationsSince(ctx, pid, m.now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("failed to count cancellations: %w", err)
	}
	return count, nil
}

// EvaluateAutoBlock blocks the student once recent cancellations strictly
// exceed the threshold in settings. A nil settings record means the default
// threshold. Below the threshold nothing is written.
func (m *MisuseTracker) EvaluateAutoBlock(ctx context.Context, pid string, settings *models.Settings) (*models.BlockDecision, error) {
	ctx, span := util.StartSpan(ctx, "MisuseTracker.EvaluateAutoBlock")
	defer span.End()

	pid = models.NormalizePID(pid)
	threshold := EffectiveSettings(settings, models.DefaultCancelThreshold).CancelThreshold

	count, err := m.CountRecent(ctx, pid, m.window)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	decision := &models.BlockDecision{Count: count, Threshold: threshold}
	if count <= threshold {
		return decision, nil
	}

	if err := m.students.SetStudentBlocked(ctx, pid, true, AutoBlockReason(count, threshold, m.window)); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to block student: %w", err)
	}
	decision.Blocked = true

	m.logger.Warn("Student auto-blocked",
		zap.String("pid", pid),
		zap.Int("count", count),
		zap.Int("threshold", threshold))
	return decision, nil
}

// SetBlocked is the operator override. Unblocking clears the reason and does
// not re-evaluate recent cancellations.
func (m *MisuseTracker) SetBlocked(ctx context.Context, pid string, blocked bool, reason string) (*models.Student, error) {
	ctx, span := util.StartSpan(ctx, "MisuseTracker.SetBlocked")
	defer span.End()

	pid = models.NormalizePID(pid)
	if pid == "" {
		return nil, fmt.Errorf("%w: pid is required", models.ErrValidation)
	}

	eventType := models.EventTypeStudentUnblocked
	if blocked {
		eventType = models.EventTypeStudentBlocked
		if reason == "" {
			reason = AdminBlockReason
		}
	} else {
		reason = ""
	}

	if err := m.students.SetStudentBlocked(ctx, pid, blocked, reason); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to update student: %w", err)
	}

	m.logger.Info("Student block status changed by operator",
		zap.String("pid", pid),
		zap.Bool("blocked", blocked))

	publishStudent(ctx, m.publisher, m.logger, &models.StudentEvent{
		BaseEvent: newBaseEvent(eventType, m.now()),
		PID:       pid,
		Blocked:   blocked,
		Reason:    reason,
	})

	return m.students.GetStudent(ctx, pid)
}

// GetStudent returns the student record; unknown students are unblocked
func (m *MisuseTracker) GetStudent(ctx context.Context, pid string) (*models.Student, error) {
	pid = models.NormalizePID(pid)
	if pid == "" {
		return nil, fmt.Errorf("%w: pid is required", models.ErrValidation)
	}
	return m.students.GetStudent(ctx, pid)
}

// StudentStatus is the operator's view of one student
type StudentStatus struct {
	Student             *models.Student `json:"student"`
	RecentCancellations int             `json:"recent_cancellations"`
	Window              string          `json:"window"`
}

// Status returns the student record with its recent cancellation count
func (m *MisuseTracker) Status(ctx context.Context, pid string) (*StudentStatus, error) {
	student, err := m.GetStudent(ctx, pid)
	if err != nil {
		return nil, err
	}

	count, err := m.CountRecent(ctx, student.PID, m.window)
	if err != nil {
		return nil, err
	}

	return &StudentStatus{
		Student:             student,
		RecentCancellations: count,
		Window:              formatWindow(m.window),
	}, nil
}

// AutoBlockReason renders the block reason stored on automatic blocks
func AutoBlockReason(count, threshold int, window time.Duration) string {
	return fmt.Sprintf("Auto-block: %d cancellations in last %s (threshold %d)", count, formatWindow(window), threshold)
}

func formatWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	return d.String()
}
