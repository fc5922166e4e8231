package models

import "time"

// Color is the cosmetic tag assigned to a moment at creation
type Color string

const (
	ColorYellow  Color = "yellow"
	ColorMint    Color = "mint"
	ColorPrimary Color = "primary"
	ColorBlue    Color = "blue"
)

// Colors lists every color a moment may carry, in display order
var Colors = []Color{ColorYellow, ColorMint, ColorPrimary, ColorBlue}

// Valid reports whether c is one of the known colors
func (c Color) Valid() bool {
	for _, known := range Colors {
		if c == known {
			return true
		}
	}
	return false
}

// Moment represents a single recorded joy moment
type Moment struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Date     string `json:"date"`
	Color    Color  `json:"color"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// MomentRecord is a moment row as held by the remote record store
type MomentRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Date      string    `json:"date"`
	Color     Color     `json:"color"`
	ImageURL  *string   `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Moment converts a stored row into the domain moment
func (r *MomentRecord) Moment() Moment {
	m := Moment{
		ID:      r.ID,
		Content: r.Content,
		Date:    r.Date,
		Color:   r.Color,
	}
	if r.ImageURL != nil {
		m.ImageURL = *r.ImageURL
	}
	return m
}

// Profile represents the per-identity profile row
type Profile struct {
	ID        string    `json:"id"`
	FullName  *string   `json:"full_name"`
	AvatarURL *string   `json:"avatar_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileUpdate carries the fields to upsert; nil fields are left untouched
type ProfileUpdate struct {
	FullName  *string `json:"full_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Identity represents an authenticated user as issued by the identity provider
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session holds the provider tokens for an identity
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Identity  `json:"user"`
}

// Expired reports whether the access token is past its expiry at t
func (s *Session) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && !t.Before(s.ExpiresAt)
}

// AuthEventType names an identity change pushed by the provider client
type AuthEventType string

const (
	AuthInitialSession AuthEventType = "INITIAL_SESSION"
	AuthSignedIn       AuthEventType = "SIGNED_IN"
	AuthSignedOut      AuthEventType = "SIGNED_OUT"
	AuthTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
	AuthUserUpdated    AuthEventType = "USER_UPDATED"
)

// AuthEvent is delivered to session subscribers on every identity change
type AuthEvent struct {
	Type    AuthEventType `json:"type"`
	Session *Session      `json:"session,omitempty"`
}

// ImageKind selects the object store namespace for an upload
type ImageKind string

const (
	ImageKindImage  ImageKind = "image"
	ImageKindAvatar ImageKind = "avatar"
)

// Stats summarizes the color distribution of a collection
type Stats struct {
	Total  int         `json:"total"`
	Colors []ColorStat `json:"colors"`
}

// ColorStat is the count and share of one color
type ColorStat struct {
	Color   Color   `json:"color"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}
