package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"joy-journal/internal/models"
	"joy-journal/internal/repository"
)

var errBackend = errors.New("backend unavailable")

type memoryKV struct {
	mu     sync.Mutex
	data   map[string]string
	setErr error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: make(map[string]string)}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryKV) value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// switchableIdentity lets a test flip between anonymous and signed in
type switchableIdentity struct {
	mu sync.Mutex
	id *models.Identity
}

func (s *switchableIdentity) Current() *models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == nil {
		return nil
	}
	id := *s.id
	return &id
}

func (s *switchableIdentity) set(id *models.Identity) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

type fakeRecords struct {
	mu        sync.Mutex
	rows      []*models.MomentRecord
	seq       int
	deletes   []string
	listCalls int
	listHook  func(call int)
	err       error
}

func (f *fakeRecords) ListByOwner(_ context.Context, userID string) ([]*models.MomentRecord, error) {
	f.mu.Lock()
	f.listCalls++
	call := f.listCalls
	hook := f.listHook
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.MomentRecord
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].UserID == userID {
			rec := *f.rows[i]
			out = append(out, &rec)
		}
	}
	return out, nil
}

func (f *fakeRecords) Create(_ context.Context, rec *models.MomentRecord) (*models.MomentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.seq++
	row := *rec
	row.ID = fmt.Sprintf("00000000-0000-0000-0000-%012d", f.seq)
	row.CreatedAt = time.Now()
	f.rows = append(f.rows, &row)
	out := row
	return &out, nil
}

func (f *fakeRecords) Delete(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deletes = append(f.deletes, id)
	kept := f.rows[:0]
	for _, r := range f.rows {
		if !(r.ID == id && r.UserID == userID) {
			kept = append(kept, r)
		}
	}
	f.rows = kept
	return nil
}

func (f *fakeRecords) DeleteByOwner(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	kept := f.rows[:0]
	for _, r := range f.rows {
		if r.UserID != userID {
			kept = append(kept, r)
		}
	}
	f.rows = kept
	return nil
}

type fakeImages struct {
	mu        sync.Mutex
	uploads   []string
	deleted   []string
	uploadErr error
}

func (f *fakeImages) UploadDataURI(_ context.Context, kind models.ImageKind, uri string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads = append(f.uploads, uri)
	return fmt.Sprintf("https://cdn.example.co/%s/%d.png", kind, len(f.uploads)), nil
}

func (f *fakeImages) Delete(_ context.Context, publicURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, publicURL)
}

type fakeProfiles struct {
	mu      sync.Mutex
	rows    map[string]*models.Profile
	gets    int
	upserts int
	getErr  error
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{rows: make(map[string]*models.Profile)}
}

func (f *fakeProfiles) GetByID(_ context.Context, id string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrProfileNotFound
	}
	out := *p
	return &out, nil
}

func (f *fakeProfiles) Upsert(_ context.Context, id string, update models.ProfileUpdate, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	p, ok := f.rows[id]
	if !ok {
		p = &models.Profile{ID: id}
		f.rows[id] = p
	}
	if update.FullName != nil {
		p.FullName = update.FullName
	}
	if update.AvatarURL != nil {
		p.AvatarURL = update.AvatarURL
	}
	p.UpdatedAt = updatedAt
	return nil
}

// fakeProvider stands in for the identity provider client
type fakeProvider struct {
	mu        sync.Mutex
	listeners map[int]func(models.AuthEvent)
	nextID    int
	session   *models.Session

	signUpSession *models.Session
	restoreErr    error
	signOutErr    error
	signInErr     error
	duringCall    func()
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{listeners: make(map[int]func(models.AuthEvent))}
}

func testSession(id string) *models.Session {
	return &models.Session{
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         models.Identity{ID: id, Email: id + "@example.com"},
	}
}

func (f *fakeProvider) emit(event models.AuthEvent) {
	f.mu.Lock()
	var fns []func(models.AuthEvent)
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}

func (f *fakeProvider) call() {
	if f.duringCall != nil {
		f.duringCall()
	}
}

func (f *fakeProvider) SignUp(_ context.Context, email, _ string) (*models.Session, error) {
	f.call()
	if f.signUpSession != nil {
		f.session = f.signUpSession
		f.emit(models.AuthEvent{Type: models.AuthSignedIn, Session: f.signUpSession})
	}
	return f.signUpSession, nil
}

func (f *fakeProvider) SignInWithPassword(_ context.Context, email, _ string) (*models.Session, error) {
	f.call()
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	s := testSession(email)
	f.session = s
	f.emit(models.AuthEvent{Type: models.AuthSignedIn, Session: s})
	return s, nil
}

func (f *fakeProvider) AuthorizeURL(provider string) (string, error) {
	return "https://auth.example.co/auth/v1/authorize?provider=" + provider, nil
}

func (f *fakeProvider) SignInWithOTP(context.Context, string) error {
	f.call()
	return nil
}

func (f *fakeProvider) ResetPasswordForEmail(context.Context, string) error {
	f.call()
	return nil
}

func (f *fakeProvider) SetSession(_ context.Context, accessToken, _ string) (*models.Session, error) {
	s := testSession("redirect-user")
	s.AccessToken = accessToken
	f.session = s
	f.emit(models.AuthEvent{Type: models.AuthSignedIn, Session: s})
	return s, nil
}

func (f *fakeProvider) SignOut(context.Context) error {
	had := f.session != nil
	f.session = nil
	if had {
		f.emit(models.AuthEvent{Type: models.AuthSignedOut})
	}
	return f.signOutErr
}

func (f *fakeProvider) Restore(context.Context) (*models.Session, error) {
	if f.restoreErr != nil {
		f.emit(models.AuthEvent{Type: models.AuthInitialSession})
		return nil, f.restoreErr
	}
	f.emit(models.AuthEvent{Type: models.AuthInitialSession, Session: f.session})
	return f.session, nil
}

func (f *fakeProvider) OnAuthStateChange(fn func(models.AuthEvent)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeProvider) Run(ctx context.Context) {
	<-ctx.Done()
}
