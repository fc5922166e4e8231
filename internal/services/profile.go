package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"joy-journal/internal/apperrors"
	"joy-journal/internal/models"
	"joy-journal/internal/repository"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

const (
	displayNameKey     = "user_config"
	defaultDisplayName = "Happy User"
	profileCacheTTL    = 5 * time.Minute
)

// ProfileService handles profile lookups, updates and the display name
type ProfileService struct {
	profiles ProfileStore
	local    KeyValueStore
	sessions IdentitySource
	images   ImageStore
	cache    *cache.Cache
	now      func() time.Time
}

// NewProfileService creates a profile service. profiles and images may be nil
// when no remote backend is configured.
func NewProfileService(profiles ProfileStore, local KeyValueStore, sessions IdentitySource, images ImageStore) *ProfileService {
	return &ProfileService{
		profiles: profiles,
		local:    local,
		sessions: sessions,
		images:   images,
		cache:    cache.New(profileCacheTTL, 2*profileCacheTTL),
		now:      time.Now,
	}
}

// Get returns the profile for id, or nil when there is none or the lookup failed
func (s *ProfileService) Get(ctx context.Context, id string) *models.Profile {
	if s.profiles == nil || id == "" {
		return nil
	}

	if cached, ok := s.cache.Get(id); ok {
		p := *cached.(*models.Profile)
		return &p
	}

	profile, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrProfileNotFound) {
			log.Error().Err(err).Str("user_id", id).Msg("Failed to fetch profile")
		}
		return nil
	}

	s.cache.Set(id, profile, cache.DefaultExpiration)
	p := *profile
	return &p
}

// Update upserts the non-nil fields of update
func (s *ProfileService) Update(ctx context.Context, id string, update models.ProfileUpdate) error {
	if s.profiles == nil {
		return apperrors.ErrNotConfigured
	}

	if err := s.profiles.Upsert(ctx, id, update, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	s.cache.Delete(id)

	log.Info().Str("user_id", id).Msg("Profile updated")
	return nil
}

// DisplayName prefers the signed-in profile's name, then the locally saved
// name, then a default
func (s *ProfileService) DisplayName(ctx context.Context) string {
	if user := s.sessions.Current(); user != nil {
		if p := s.Get(ctx, user.ID); p != nil && p.FullName != nil && *p.FullName != "" {
			return *p.FullName
		}
	}

	name, ok, err := s.local.Get(ctx, displayNameKey)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read display name")
		return defaultDisplayName
	}
	if !ok || strings.TrimSpace(name) == "" {
		return defaultDisplayName
	}
	return name
}

// SetDisplayName saves the name locally and, when signed in, on the profile
func (s *ProfileService) SetDisplayName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := s.local.Set(ctx, displayNameKey, name); err != nil {
		return fmt.Errorf("failed to save display name: %w", err)
	}

	user := s.sessions.Current()
	if user == nil || s.profiles == nil {
		return nil
	}
	return s.Update(ctx, user.ID, models.ProfileUpdate{FullName: &name})
}

// SetAvatar uploads a data URI as the signed-in user's avatar and returns its URL
func (s *ProfileService) SetAvatar(ctx context.Context, dataURI string) (string, error) {
	user := s.sessions.Current()
	if user == nil {
		return "", apperrors.ErrUnauthorized
	}
	if s.images == nil {
		return "", fmt.Errorf("failed to upload avatar: %w", apperrors.ErrNotConfigured)
	}

	url, err := s.images.UploadDataURI(ctx, models.ImageKindAvatar, dataURI)
	if err != nil {
		return "", err
	}
	if err := s.Update(ctx, user.ID, models.ProfileUpdate{AvatarURL: &url}); err != nil {
		return "", err
	}
	return url, nil
}
