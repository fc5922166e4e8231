// Package identity is a client for a GoTrue-compatible identity provider.
// It owns the current session, persists it, refreshes it in the background and
// pushes every change to subscribers.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"joy-journal/internal/apperrors"
	"joy-journal/internal/config"
	"joy-journal/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	sessionKey     = "auth_session"
	refreshMargin  = time.Minute
	refreshRetry   = 30 * time.Second
	idleWait       = time.Hour
	requestTimeout = 30 * time.Second
)

// ErrSessionChanged is returned by a refresh whose starting session was
// replaced or signed out before the provider answered
var ErrSessionChanged = errors.New("session changed during refresh")

// SessionStore persists the session between process restarts
type SessionStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Client talks to the identity provider REST API
type Client struct {
	http        *resty.Client
	baseURL     string
	redirectURL string
	tokens      *tokenInspector
	store       SessionStore
	now         func() time.Time

	// writeMu orders session changes together with their persistence
	writeMu   sync.Mutex
	mu        sync.RWMutex
	session   *models.Session
	gen       uint64
	listeners map[int]func(models.AuthEvent)
	nextID    int
	wake      chan struct{}
}

// New creates a client for the provider described by cfg
func New(cfg config.AuthConfig, store SessionStore) *Client {
	base := strings.TrimRight(cfg.URL, "/")
	httpClient := resty.New().
		SetBaseURL(base+"/auth/v1").
		SetHeader("apikey", cfg.AnonKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(requestTimeout)

	return &Client{
		http:        httpClient,
		baseURL:     base,
		redirectURL: cfg.RedirectURL,
		tokens:      newTokenInspector(cfg.JWTSecret),
		store:       store,
		now:         time.Now,
		listeners:   make(map[int]func(models.AuthEvent)),
		wake:        make(chan struct{}, 1),
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type otpRequest struct {
	Email      string `json:"email"`
	CreateUser bool   `json:"create_user"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// tokenResponse covers both the token grant and the sign-up reply. Sign-up
// without auto-confirm returns only the user fields at the top level.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	User         *userResponse `json:"user"`
	ID           string        `json:"id"`
	Email        string        `json:"email"`
}

type errorResponse struct {
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e *errorResponse) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// SignUp registers an account. The returned session is nil when the provider
// requires email confirmation first.
func (c *Client) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	var out tokenResponse
	req := c.http.R().
		SetContext(ctx).
		SetBody(&credentialsRequest{Email: email, Password: password}).
		SetResult(&out)
	if c.redirectURL != "" {
		req.SetQueryParam("redirect_to", c.redirectURL)
	}

	resp, err := req.Post("/signup")
	if err := checkResponse("sign up", resp, err); err != nil {
		return nil, err
	}

	if out.AccessToken == "" {
		log.Info().Str("email", email).Msg("Sign up pending email confirmation")
		return nil, nil
	}

	session, err := c.sessionFromToken(&out)
	if err != nil {
		return nil, err
	}
	c.setSession(ctx, session, models.AuthSignedIn)
	return session, nil
}

// SignInWithPassword exchanges email and password for a session
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(&credentialsRequest{Email: email, Password: password}).
		SetResult(&out).
		Post("/token")
	if err := checkResponse("sign in", resp, err); err != nil {
		return nil, err
	}

	session, err := c.sessionFromToken(&out)
	if err != nil {
		return nil, err
	}
	c.setSession(ctx, session, models.AuthSignedIn)
	return session, nil
}

// AuthorizeURL returns the URL that starts a redirect-based OAuth sign-in.
// The session arrives later through SetSession.
func (c *Client) AuthorizeURL(provider string) (string, error) {
	if provider == "" {
		return "", &apperrors.ProviderError{Op: "oauth sign in", Message: "provider is required"}
	}
	q := url.Values{}
	q.Set("provider", provider)
	if c.redirectURL != "" {
		q.Set("redirect_to", c.redirectURL)
	}
	return c.baseURL + "/auth/v1/authorize?" + q.Encode(), nil
}

// SignInWithOTP sends a passwordless login link to email
func (c *Client) SignInWithOTP(ctx context.Context, email string) error {
	req := c.http.R().
		SetContext(ctx).
		SetBody(&otpRequest{Email: email, CreateUser: true})
	if c.redirectURL != "" {
		req.SetQueryParam("redirect_to", c.redirectURL)
	}
	resp, err := req.Post("/otp")
	return checkResponse("magic link", resp, err)
}

// ResetPasswordForEmail sends a password reset email
func (c *Client) ResetPasswordForEmail(ctx context.Context, email string) error {
	req := c.http.R().
		SetContext(ctx).
		SetBody(&emailRequest{Email: email})
	if c.redirectURL != "" {
		req.SetQueryParam("redirect_to", strings.TrimRight(c.redirectURL, "/")+"/reset-password")
	}
	resp, err := req.Post("/recover")
	return checkResponse("reset password", resp, err)
}

// SignOut revokes the session at the provider. The local session is dropped
// whether or not the provider call succeeds.
func (c *Client) SignOut(ctx context.Context) error {
	session := c.Session()
	if session == nil {
		return nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(session.AccessToken).
		Post("/logout")

	c.clearSession(ctx)
	return checkResponse("sign out", resp, err)
}

// GetUser fetches the identity behind accessToken
func (c *Client) GetUser(ctx context.Context, accessToken string) (*models.Identity, error) {
	var out userResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&out).
		Get("/user")
	if err := checkResponse("get user", resp, err); err != nil {
		return nil, err
	}
	return &models.Identity{ID: out.ID, Email: out.Email}, nil
}

// SetSession adopts tokens delivered by a redirect flow (OAuth or magic link)
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*models.Session, error) {
	user, err := c.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	expiresAt, err := c.tokens.expiry(accessToken, user.ID)
	if err != nil {
		return nil, &apperrors.ProviderError{Op: "set session", Message: err.Error()}
	}

	session := &models.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		User:         *user,
	}
	c.setSession(ctx, session, models.AuthSignedIn)
	return session, nil
}

// RefreshSession trades the refresh token for a new session. The result is
// dropped with ErrSessionChanged if the session changed while the request was
// in flight.
func (c *Client) RefreshSession(ctx context.Context) (*models.Session, error) {
	current, gen := c.snapshot()
	if current == nil {
		return nil, apperrors.ErrUnauthorized
	}
	return c.refreshFrom(ctx, current, gen)
}

func (c *Client) refreshFrom(ctx context.Context, current *models.Session, gen uint64) (*models.Session, error) {
	session, err := c.refresh(ctx, current.RefreshToken)
	if err != nil {
		return nil, err
	}
	if _, ok := c.replaceSession(ctx, session, &gen); !ok {
		log.Debug().Str("user_id", current.User.ID).Msg("Discarding refresh for a replaced session")
		return nil, ErrSessionChanged
	}
	c.signalWake()
	c.emit(models.AuthEvent{Type: models.AuthTokenRefreshed, Session: session})
	return session, nil
}

// Restore loads the persisted session and checks it with the provider,
// refreshing it once if the access token has expired. It always emits
// INITIAL_SESSION, with a nil session when nothing usable was found.
func (c *Client) Restore(ctx context.Context) (*models.Session, error) {
	session, err := c.restore(ctx)
	if err != nil {
		c.clearStored(ctx)
		c.emit(models.AuthEvent{Type: models.AuthInitialSession})
		return nil, err
	}

	if session != nil {
		c.replaceSession(ctx, session, nil)
		c.signalWake()
	}

	c.emit(models.AuthEvent{Type: models.AuthInitialSession, Session: session})
	return session, nil
}

func (c *Client) restore(ctx context.Context) (*models.Session, error) {
	if c.store == nil {
		return nil, nil
	}
	raw, ok, err := c.store.Get(ctx, sessionKey)
	if err != nil || !ok {
		return nil, err
	}

	var saved models.Session
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		return nil, fmt.Errorf("failed to decode saved session: %w", err)
	}

	if saved.Expired(c.now()) {
		return c.refresh(ctx, saved.RefreshToken)
	}

	user, err := c.GetUser(ctx, saved.AccessToken)
	if err != nil {
		return nil, err
	}
	saved.User = *user
	return &saved, nil
}

// Session returns a copy of the current session or nil
func (c *Client) Session() *models.Session {
	session, _ := c.snapshot()
	return session
}

// snapshot returns a copy of the current session and its generation
func (c *Client) snapshot() (*models.Session, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, c.gen
	}
	s := *c.session
	return &s, c.gen
}

// OnAuthStateChange registers fn for every session change and returns a func
// that removes it
func (c *Client) OnAuthStateChange(fn func(models.AuthEvent)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Run keeps the session fresh until ctx is done. A refresh the provider
// rejects is treated as a sign-out that happened elsewhere.
func (c *Client) Run(ctx context.Context) {
	for {
		timer := time.NewTimer(c.nextRefreshIn())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}

		current, gen := c.snapshot()
		if current == nil {
			continue
		}

		if _, err := c.refreshFrom(ctx, current, gen); err != nil {
			if errors.Is(err, ErrSessionChanged) {
				continue
			}
			var perr *apperrors.ProviderError
			if errors.As(err, &perr) && perr.Rejected() {
				log.Warn().Err(err).Msg("Session refresh rejected, signing out")
				c.clearSessionFrom(ctx, &gen)
				continue
			}
			log.Warn().Err(err).Dur("retry_in", refreshRetry).Msg("Session refresh failed")
			c.waitRetry(ctx)
		}
	}
}

func (c *Client) waitRetry(ctx context.Context) {
	timer := time.NewTimer(refreshRetry)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-c.wake:
	case <-timer.C:
	}
}

func (c *Client) nextRefreshIn() time.Duration {
	session := c.Session()
	if session == nil || session.ExpiresAt.IsZero() {
		return idleWait
	}
	wait := session.ExpiresAt.Add(-refreshMargin).Sub(c.now())
	if wait < 0 {
		return 0
	}
	return wait
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "refresh_token").
		SetBody(&refreshRequest{RefreshToken: refreshToken}).
		SetResult(&out).
		Post("/token")
	if err := checkResponse("refresh session", resp, err); err != nil {
		return nil, err
	}
	return c.sessionFromToken(&out)
}

func (c *Client) sessionFromToken(out *tokenResponse) (*models.Session, error) {
	if out.User == nil {
		return nil, &apperrors.ProviderError{Op: "decode session", Message: "response carries no user"}
	}

	var expiresAt time.Time
	switch {
	case out.ExpiresAt > 0:
		expiresAt = time.Unix(out.ExpiresAt, 0)
	case out.ExpiresIn > 0:
		expiresAt = c.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}

	tokenExpiry, err := c.tokens.expiry(out.AccessToken, out.User.ID)
	if err != nil {
		return nil, &apperrors.ProviderError{Op: "decode session", Message: err.Error()}
	}
	if expiresAt.IsZero() {
		expiresAt = tokenExpiry
	}

	return &models.Session{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         models.Identity{ID: out.User.ID, Email: out.User.Email},
	}, nil
}

func (c *Client) setSession(ctx context.Context, session *models.Session, event models.AuthEventType) {
	c.replaceSession(ctx, session, nil)
	c.signalWake()
	c.emit(models.AuthEvent{Type: event, Session: session})
}

func (c *Client) clearSession(ctx context.Context) {
	c.clearSessionFrom(ctx, nil)
}

// clearSessionFrom drops the session. With from set it only does so while
// the session generation still matches.
func (c *Client) clearSessionFrom(ctx context.Context, from *uint64) {
	had, ok := c.replaceSession(ctx, nil, from)
	if !ok {
		return
	}
	c.signalWake()
	if had {
		c.emit(models.AuthEvent{Type: models.AuthSignedOut})
	}
}

// replaceSession installs session, or clears it when nil, and mirrors the
// change to the store. With from set the change is skipped unless the current
// generation equals *from.
func (c *Client) replaceSession(ctx context.Context, session *models.Session, from *uint64) (had, ok bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if from != nil && *from != c.gen {
		c.mu.Unlock()
		return false, false
	}
	had = c.session != nil
	if session == nil {
		c.session = nil
	} else {
		s := *session
		c.session = &s
	}
	c.gen++
	c.mu.Unlock()

	if session == nil {
		c.clearStored(ctx)
	} else {
		c.persist(ctx, session)
	}
	return had, true
}

func (c *Client) persist(ctx context.Context, session *models.Session) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode session")
		return
	}
	if err := c.store.Set(ctx, sessionKey, string(data)); err != nil {
		log.Error().Err(err).Str("user_id", session.User.ID).Msg("Failed to persist session")
	}
}

func (c *Client) clearStored(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, sessionKey); err != nil {
		log.Error().Err(err).Msg("Failed to remove persisted session")
	}
}

func (c *Client) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) emit(event models.AuthEvent) {
	c.mu.RLock()
	listeners := make([]func(models.AuthEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(event)
	}
}

// checkResponse turns a transport error or non-2xx reply into a ProviderError
func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &apperrors.ProviderError{Op: op, Message: err.Error()}
	}
	if !resp.IsError() {
		return nil
	}

	var body errorResponse
	msg := ""
	if jsonErr := json.Unmarshal(resp.Body(), &body); jsonErr == nil {
		msg = body.text()
	}
	if msg == "" {
		msg = resp.Status()
	}
	return &apperrors.ProviderError{Op: op, Status: resp.StatusCode(), Message: msg}
}
