package services

import (
	"context"
	"errors"
	"testing"

	"joy-journal/internal/apperrors"
	"joy-journal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordEvents(m *SessionManager) *[]models.AuthEventType {
	var events []models.AuthEventType
	m.Subscribe(func(e models.AuthEvent) {
		events = append(events, e.Type)
	})
	return &events
}

func TestSessionManager_NotConfigured(t *testing.T) {
	m := NewSessionManager(nil)
	ctx := context.Background()
	events := recordEvents(m)

	assert.Equal(t, StatusLoading, m.Status())
	m.Init(ctx)
	assert.Equal(t, StatusUnauthenticated, m.Status())
	assert.False(t, m.Configured())
	assert.Equal(t, []models.AuthEventType{models.AuthInitialSession}, *events)

	_, err := m.SignUp(ctx, "a@example.com", "secret")
	assert.ErrorIs(t, err, apperrors.ErrNotConfigured)
	assert.ErrorIs(t, m.SignIn(ctx, "a@example.com", "secret"), apperrors.ErrNotConfigured)
	assert.ErrorIs(t, m.SignInWithMagicLink(ctx, "a@example.com"), apperrors.ErrNotConfigured)
	assert.ErrorIs(t, m.ResetPassword(ctx, "a@example.com"), apperrors.ErrNotConfigured)
	_, err = m.SignInWithProvider(ctx, "google")
	assert.ErrorIs(t, err, apperrors.ErrNotConfigured)
	assert.NoError(t, m.SignOut(ctx))
	assert.Nil(t, m.Current())
}

func TestSessionManager_InitRestoresSession(t *testing.T) {
	p := newFakeProvider()
	p.session = testSession("user-1")
	m := NewSessionManager(p)
	events := recordEvents(m)

	m.Init(context.Background())

	assert.Equal(t, StatusAuthenticated, m.Status())
	require.NotNil(t, m.Current())
	assert.Equal(t, "user-1", m.Current().ID)
	assert.Equal(t, []models.AuthEventType{models.AuthInitialSession}, *events)
}

func TestSessionManager_InitFailureIsUnauthenticated(t *testing.T) {
	p := newFakeProvider()
	p.restoreErr = &apperrors.ProviderError{Op: "get user", Status: 401, Message: "invalid JWT"}
	m := NewSessionManager(p)

	m.Init(context.Background())

	assert.Equal(t, StatusUnauthenticated, m.Status())
	assert.Nil(t, m.Current())
}

func TestSessionManager_SignUp(t *testing.T) {
	p := newFakeProvider()
	m := NewSessionManager(p)
	m.Init(context.Background())

	pending, err := m.SignUp(context.Background(), "new@example.com", "secret")
	require.NoError(t, err)
	assert.True(t, pending)
	assert.Nil(t, m.Current())

	p.signUpSession = testSession("auto")
	pending, err = m.SignUp(context.Background(), "auto@example.com", "secret")
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, "auto", m.Current().ID)
}

func TestSessionManager_SignInIsLoadingWhileInFlight(t *testing.T) {
	p := newFakeProvider()
	m := NewSessionManager(p)
	m.Init(context.Background())

	var during AuthStatus
	p.duringCall = func() { during = m.Status() }

	require.NoError(t, m.SignIn(context.Background(), "user-1", "secret"))
	assert.Equal(t, StatusLoading, during)
	assert.Equal(t, StatusAuthenticated, m.Status())
	assert.Equal(t, "user-1", m.Current().ID)
}

func TestSessionManager_SignInFailure(t *testing.T) {
	p := newFakeProvider()
	p.signInErr = &apperrors.ProviderError{Op: "sign in", Status: 400, Message: "Invalid login credentials"}
	m := NewSessionManager(p)
	m.Init(context.Background())

	err := m.SignIn(context.Background(), "user-1", "wrong")
	var perr *apperrors.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "Invalid login credentials", perr.Message)
	assert.Equal(t, StatusUnauthenticated, m.Status())
}

func TestSessionManager_SignOutClearsEvenOnFailure(t *testing.T) {
	p := newFakeProvider()
	p.session = testSession("user-1")
	p.signOutErr = &apperrors.ProviderError{Op: "sign out", Message: "connection refused"}
	m := NewSessionManager(p)
	m.Init(context.Background())
	events := recordEvents(m)

	err := m.SignOut(context.Background())
	require.Error(t, err)
	assert.Nil(t, m.Current())
	assert.Equal(t, StatusUnauthenticated, m.Status())
	assert.Equal(t, []models.AuthEventType{models.AuthSignedOut}, *events)
}

func TestSessionManager_ProviderPushedEvents(t *testing.T) {
	p := newFakeProvider()
	m := NewSessionManager(p)
	m.Init(context.Background())
	events := recordEvents(m)

	session := testSession("user-1")
	p.emit(models.AuthEvent{Type: models.AuthSignedIn, Session: session})
	assert.Equal(t, "user-1", m.Current().ID)

	p.emit(models.AuthEvent{Type: models.AuthTokenRefreshed, Session: session})
	assert.Equal(t, "user-1", m.Current().ID)

	p.emit(models.AuthEvent{Type: models.AuthSignedOut})
	assert.Nil(t, m.Current())

	assert.Equal(t, []models.AuthEventType{
		models.AuthSignedIn,
		models.AuthTokenRefreshed,
		models.AuthSignedOut,
	}, *events)
}

func TestSessionManager_RedirectFlow(t *testing.T) {
	p := newFakeProvider()
	m := NewSessionManager(p)
	m.Init(context.Background())

	redirect, err := m.SignInWithProvider(context.Background(), "google")
	require.NoError(t, err)
	assert.Contains(t, redirect, "provider=google")
	assert.Nil(t, m.Current())

	require.NoError(t, m.CompleteRedirect(context.Background(), "access", "refresh"))
	assert.Equal(t, "redirect-user", m.Current().ID)
}

func TestSessionManager_UnsubscribeAndClose(t *testing.T) {
	p := newFakeProvider()
	m := NewSessionManager(p)
	m.Init(context.Background())

	calls := 0
	unsubscribe := m.Subscribe(func(models.AuthEvent) { calls++ })
	p.emit(models.AuthEvent{Type: models.AuthSignedIn, Session: testSession("a")})
	unsubscribe()
	p.emit(models.AuthEvent{Type: models.AuthSignedOut})
	assert.Equal(t, 1, calls)

	m.Close()
	p.emit(models.AuthEvent{Type: models.AuthSignedIn, Session: testSession("b")})
	assert.Nil(t, m.Current())
}

func TestSessionManager_DrivesMomentReloads(t *testing.T) {
	p := newFakeProvider()
	sessions := NewSessionManager(p)
	records := &fakeRecords{}
	_, err := records.Create(context.Background(), &models.MomentRecord{UserID: "user-1", Content: "cloud", Date: "2024-05-01", Color: models.ColorMint})
	require.NoError(t, err)

	moments := NewMomentService(sessions, newMemoryKV(), records, &fakeImages{})
	sessions.Subscribe(moments.HandleAuthEvent)

	sessions.Init(context.Background())
	assert.Len(t, moments.Moments(), 3)

	require.NoError(t, sessions.SignIn(context.Background(), "user-1", "secret"))
	assert.Equal(t, []string{"cloud"}, contents(moments.Moments()))

	require.NoError(t, sessions.SignOut(context.Background()))
	assert.Len(t, moments.Moments(), 3)
}
