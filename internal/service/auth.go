package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"canteen-service/internal/models"
	"canteen-service/internal/repository"
	"canteen-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MinSecretLength is the shortest accepted operator secret
const MinSecretLength = 6

// SessionStore keeps operator sessions with a sliding expiry
type SessionStore interface {
	CreateSession(ctx context.Context, token string, ttl time.Duration) error
	TouchSession(ctx context.Context, token string, ttl time.Duration) (bool, error)
	DeleteSession(ctx context.Context, token string) error
	RevokeAllSessions(ctx context.Context) error
}

// AuthChangeFunc is called when the operator signs in or out
type AuthChangeFunc func(ctx context.Context, signedIn bool)

// AuthService authenticates the single operator principal
type AuthService struct {
	creds         repository.CredentialRepository
	sessions      SessionStore
	ttl           time.Duration
	initialSecret string
	hashCost      int

	mu        sync.RWMutex
	listeners []AuthChangeFunc

	logger *zap.Logger
}

// NewAuthService creates a new auth service. initialSecret seeds the
// credential the first time EnsurePrincipal runs against an empty store.
func NewAuthService(creds repository.CredentialRepository, sessions SessionStore, ttl time.Duration, initialSecret string) *AuthService {
	return &AuthService{
		creds:         creds,
		sessions:      sessions,
		ttl:           ttl,
		initialSecret: initialSecret,
		hashCost:      bcrypt.DefaultCost,
		logger:        util.GetLogger(),
	}
}

// WithHashCost overrides the bcrypt cost
func (a *AuthService) WithHashCost(cost int) *AuthService {
	a.hashCost = cost
	return a
}

// OnAuthChange registers a sign-in/sign-out listener
func (a *AuthService) OnAuthChange(fn AuthChangeFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

func (a *AuthService) notify(ctx context.Context, signedIn bool) {
	a.mu.RLock()
	listeners := append([]AuthChangeFunc(nil), a.listeners...)
	a.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, signedIn)
	}
}

// EnsurePrincipal stores the initial secret if no credential exists
func (a *AuthService) EnsurePrincipal(ctx context.Context) error {
	cred, err := a.creds.GetAdminCredential(ctx)
	if err != nil {
		return fmt.Errorf("failed to load admin credential: %w", err)
	}
	if cred != nil {
		return nil
	}

	if a.initialSecret == "" {
		a.logger.Warn("No admin credential stored and no initial secret configured")
		return nil
	}

	if err := a.saveSecret(ctx, a.initialSecret); err != nil {
		return err
	}
	a.logger.Info("Admin credential initialised")
	return nil
}

// Login checks secret and opens a session
func (a *AuthService) Login(ctx context.Context, secret string) (string, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Login")
	defer span.End()

	cred, err := a.creds.GetAdminCredential(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load admin credential: %w", err)
	}
	if cred == nil {
		return "", fmt.Errorf("%w: no admin credential configured", models.ErrUnauthenticated)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			a.logger.Warn("Admin login rejected")
			return "", fmt.Errorf("%w: wrong secret", models.ErrUnauthenticated)
		}
		return "", fmt.Errorf("failed to compare secret: %w", err)
	}

	token, err := a.openSession(ctx)
	if err != nil {
		return "", err
	}

	a.logger.Info("Admin signed in")
	a.notify(ctx, true)
	return token, nil
}

// Logout closes a session
func (a *AuthService) Logout(ctx context.Context, token string) error {
	if err := a.sessions.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	a.logger.Info("Admin signed out")
	a.notify(ctx, false)
	return nil
}

// Authenticate checks a session token and extends its expiry
func (a *AuthService) Authenticate(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: missing session token", models.ErrUnauthenticated)
	}

	ok, err := a.sessions.TouchSession(ctx, token, a.ttl)
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: session expired", models.ErrUnauthenticated)
	}
	return nil
}

// ChangeSecret replaces the operator secret, revokes every session and
// returns a fresh token for the caller
func (a *AuthService) ChangeSecret(ctx context.Context, token, newSecret string) (string, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.ChangeSecret")
	defer span.End()

	if err := a.Authenticate(ctx, token); err != nil {
		return "", err
	}

	if err := a.saveSecret(ctx, newSecret); err != nil {
		return "", err
	}

	if err := a.sessions.RevokeAllSessions(ctx); err != nil {
		return "", fmt.Errorf("failed to revoke sessions: %w", err)
	}

	a.logger.Info("Admin secret changed")
	return a.openSession(ctx)
}

func (a *AuthService) saveSecret(ctx context.Context, secret string) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("%w: secret must be at least %d characters", models.ErrValidation, MinSecretLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), a.hashCost)
	if err != nil {
		return fmt.Errorf("failed to hash secret: %w", err)
	}

	if err := a.creds.SaveAdminCredential(ctx, string(hash)); err != nil {
		return fmt.Errorf("failed to save admin credential: %w", err)
	}
	return nil
}

func (a *AuthService) openSession(ctx context.Context) (string, error) {
	token := uuid.New().String()
	if err := a.sessions.CreateSession(ctx, token, a.ttl); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return token, nil
}
