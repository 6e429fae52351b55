package testutil

import (
	"context"
	"sync"
	"time"

	"canteen-service/internal/models"

	"github.com/stretchr/testify/mock"
)

// Clock is a settable time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at t
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MemorySessions is an in-memory session store with expiry
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]time.Time
	now      func() time.Time
}

// NewMemorySessions creates an empty session store
func NewMemorySessions(now func() time.Time) *MemorySessions {
	if now == nil {
		now = time.Now
	}
	return &MemorySessions{sessions: make(map[string]time.Time), now: now}
}

func (s *MemorySessions) CreateSession(ctx context.Context, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = s.now().Add(ttl)
	return nil
}

func (s *MemorySessions) TouchSession(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.sessions[token]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expires) {
		delete(s.sessions, token)
		return false, nil
	}
	s.sessions[token] = s.now().Add(ttl)
	return true, nil
}

func (s *MemorySessions) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *MemorySessions) RevokeAllSessions(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]time.Time)
	return nil
}

// Len returns the number of stored sessions
func (s *MemorySessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RecordingPublisher keeps every published event in memory
type RecordingPublisher struct {
	mu       sync.Mutex
	Orders   []models.OrderEvent
	Students []models.StudentEvent
	Settings []models.SettingsEvent
	Menu     []models.MenuEvent
}

func (p *RecordingPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Orders = append(p.Orders, *event)
	return nil
}

func (p *RecordingPublisher) PublishStudentEvent(ctx context.Context, event *models.StudentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Students = append(p.Students, *event)
	return nil
}

func (p *RecordingPublisher) PublishSettingsEvent(ctx context.Context, event *models.SettingsEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Settings = append(p.Settings, *event)
	return nil
}

func (p *RecordingPublisher) PublishMenuEvent(ctx context.Context, event *models.MenuEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Menu = append(p.Menu, *event)
	return nil
}

// OrderEventTypes lists published order event types in order
func (p *RecordingPublisher) OrderEventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.Orders))
	for i, e := range p.Orders {
		types[i] = e.EventType
	}
	return types
}

// MockPublisher is a testify mock of the event publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) PublishStudentEvent(ctx context.Context, event *models.StudentEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) PublishSettingsEvent(ctx context.Context, event *models.SettingsEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) PublishMenuEvent(ctx context.Context, event *models.MenuEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
