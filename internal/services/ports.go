package services

import (
	"context"
	"time"

	"joy-journal/internal/models"
)

// RemoteMomentStore is the owner-scoped record store used while signed in
type RemoteMomentStore interface {
	ListByOwner(ctx context.Context, userID string) ([]*models.MomentRecord, error)
	Create(ctx context.Context, rec *models.MomentRecord) (*models.MomentRecord, error)
	Delete(ctx context.Context, userID, id string) error
	DeleteByOwner(ctx context.Context, userID string) error
}

// KeyValueStore is the local persistence used while anonymous
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// ImageStore turns data URIs into hosted URLs and removes them again
type ImageStore interface {
	UploadDataURI(ctx context.Context, kind models.ImageKind, uri string) (string, error)
	Delete(ctx context.Context, publicURL string)
}

// ProfileStore reads and upserts profile rows
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	Upsert(ctx context.Context, id string, update models.ProfileUpdate, updatedAt time.Time) error
}

// IdentitySource reports the signed-in identity, if any
type IdentitySource interface {
	Current() *models.Identity
}

// IdentityProvider is the identity provider client the session manager drives
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password string) (*models.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	AuthorizeURL(provider string) (string, error)
	SignInWithOTP(ctx context.Context, email string) error
	ResetPasswordForEmail(ctx context.Context, email string) error
	SetSession(ctx context.Context, accessToken, refreshToken string) (*models.Session, error)
	SignOut(ctx context.Context) error
	Restore(ctx context.Context) (*models.Session, error)
	OnAuthStateChange(fn func(models.AuthEvent)) func()
	Run(ctx context.Context)
}
