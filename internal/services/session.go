package services

import (
	"context"
	"fmt"
	"sync"

	"joy-journal/internal/apperrors"
	"joy-journal/internal/models"

	"github.com/rs/zerolog/log"
)

// AuthStatus is the externally visible state of the session manager
type AuthStatus string

const (
	StatusLoading         AuthStatus = "loading"
	StatusUnauthenticated AuthStatus = "unauthenticated"
	StatusAuthenticated   AuthStatus = "authenticated"
)

// SessionManager owns the current identity and relays identity provider
// events to subscribers
type SessionManager struct {
	provider    IdentityProvider
	unsubscribe func()

	mu          sync.RWMutex
	identity    *models.Identity
	initialized bool
	pending     int
	listeners   map[int]func(models.AuthEvent)
	nextID      int
}

// NewSessionManager creates a session manager. A nil provider puts the manager
// in not-configured mode where it stays unauthenticated for good.
func NewSessionManager(provider IdentityProvider) *SessionManager {
	m := &SessionManager{
		provider:  provider,
		listeners: make(map[int]func(models.AuthEvent)),
	}
	if provider != nil {
		m.unsubscribe = provider.OnAuthStateChange(m.handleProviderEvent)
	}
	return m
}

// Init performs the initial identity check. A failed check is logged and
// leaves the manager unauthenticated.
func (m *SessionManager) Init(ctx context.Context) {
	if m.provider == nil {
		log.Info().Msg("Identity provider not configured, running in local mode")
		m.mu.Lock()
		m.initialized = true
		m.mu.Unlock()
		m.notify(models.AuthEvent{Type: models.AuthInitialSession})
		return
	}

	session, err := m.provider.Restore(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Initial session check failed")
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()

	if session != nil {
		log.Info().Str("user_id", session.User.ID).Msg("Session restored")
	}
}

// Run keeps the provider session fresh until ctx is done
func (m *SessionManager) Run(ctx context.Context) {
	if m.provider == nil {
		<-ctx.Done()
		return
	}
	m.provider.Run(ctx)
}

// Close detaches the manager from the provider
func (m *SessionManager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Configured reports whether an identity provider is available
func (m *SessionManager) Configured() bool {
	return m.provider != nil
}

// Current returns a copy of the signed-in identity or nil
func (m *SessionManager) Current() *models.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return nil
	}
	id := *m.identity
	return &id
}

// Status reports loading while the initial check or a sign-in call is running
func (m *SessionManager) Status() AuthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case !m.initialized || m.pending > 0:
		return StatusLoading
	case m.identity != nil:
		return StatusAuthenticated
	default:
		return StatusUnauthenticated
	}
}

// Subscribe registers fn for every identity change and returns a func that
// removes it
func (m *SessionManager) Subscribe(fn func(models.AuthEvent)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SignUp registers an account and reports whether email verification is
// still pending
func (m *SessionManager) SignUp(ctx context.Context, email, password string) (bool, error) {
	if m.provider == nil {
		return false, apperrors.ErrNotConfigured
	}
	done := m.begin()
	defer done()

	session, err := m.provider.SignUp(ctx, email, password)
	if err != nil {
		return false, fmt.Errorf("failed to sign up: %w", err)
	}
	return session == nil, nil
}

// SignIn signs in with email and password
func (m *SessionManager) SignIn(ctx context.Context, email, password string) error {
	if m.provider == nil {
		return apperrors.ErrNotConfigured
	}
	done := m.begin()
	defer done()

	if _, err := m.provider.SignInWithPassword(ctx, email, password); err != nil {
		return fmt.Errorf("failed to sign in: %w", err)
	}
	return nil
}

// SignInWithProvider starts an OAuth sign-in and returns the URL to send the
// user to. The session is delivered later through CompleteRedirect.
func (m *SessionManager) SignInWithProvider(ctx context.Context, provider string) (string, error) {
	if m.provider == nil {
		return "", apperrors.ErrNotConfigured
	}
	redirect, err := m.provider.AuthorizeURL(provider)
	if err != nil {
		return "", fmt.Errorf("failed to start %s sign in: %w", provider, err)
	}
	return redirect, nil
}

// CompleteRedirect adopts the tokens handed back by an OAuth or magic link redirect
func (m *SessionManager) CompleteRedirect(ctx context.Context, accessToken, refreshToken string) error {
	if m.provider == nil {
		return apperrors.ErrNotConfigured
	}
	done := m.begin()
	defer done()

	if _, err := m.provider.SetSession(ctx, accessToken, refreshToken); err != nil {
		return fmt.Errorf("failed to complete sign in: %w", err)
	}
	return nil
}

// SignInWithMagicLink sends a passwordless login link
func (m *SessionManager) SignInWithMagicLink(ctx context.Context, email string) error {
	if m.provider == nil {
		return apperrors.ErrNotConfigured
	}
	done := m.begin()
	defer done()

	if err := m.provider.SignInWithOTP(ctx, email); err != nil {
		return fmt.Errorf("failed to send magic link: %w", err)
	}
	return nil
}

// ResetPassword sends a password reset email
func (m *SessionManager) ResetPassword(ctx context.Context, email string) error {
	if m.provider == nil {
		return apperrors.ErrNotConfigured
	}
	done := m.begin()
	defer done()

	if err := m.provider.ResetPasswordForEmail(ctx, email); err != nil {
		return fmt.Errorf("failed to send reset email: %w", err)
	}
	return nil
}

// SignOut clears the identity. The local state is dropped even when the
// provider call fails; the provider error is still returned.
func (m *SessionManager) SignOut(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}

	err := m.provider.SignOut(ctx)

	m.mu.Lock()
	had := m.identity != nil
	m.identity = nil
	m.mu.Unlock()
	if had {
		m.notify(models.AuthEvent{Type: models.AuthSignedOut})
	}

	if err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// handleProviderEvent keeps the identity in step with the provider
func (m *SessionManager) handleProviderEvent(event models.AuthEvent) {
	m.mu.Lock()
	if event.Type == models.AuthSignedOut || event.Session == nil {
		m.identity = nil
	} else {
		user := event.Session.User
		m.identity = &user
	}
	if event.Type == models.AuthInitialSession {
		m.initialized = true
	}
	m.mu.Unlock()

	log.Debug().Str("event", string(event.Type)).Msg("Auth state changed")
	m.notify(event)
}

func (m *SessionManager) begin() func() {
	m.mu.Lock()
	m.pending++
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.pending--
		m.mu.Unlock()
	}
}

func (m *SessionManager) notify(event models.AuthEvent) {
	m.mu.RLock()
	listeners := make([]func(models.AuthEvent), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn(event)
	}
}
