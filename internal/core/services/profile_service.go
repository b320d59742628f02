package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
	"cinewave/pkg/cache"
)

// CachedUserDirectory fronts a UserDirectory with a TTL cache. Rosters and
// chat need the profile on every join, and profiles change rarely.
type CachedUserDirectory struct {
	next   ports.UserDirectory
	cache  *cache.Cache[domain.UserID, *domain.UserProfile]
	logger *zap.SugaredLogger
}

var _ ports.UserDirectory = (*CachedUserDirectory)(nil)

func NewCachedUserDirectory(next ports.UserDirectory, ttl time.Duration, logger *zap.SugaredLogger) *CachedUserDirectory {
	return &CachedUserDirectory{
		next:   next,
		cache:  cache.New[domain.UserID, *domain.UserProfile](ttl),
		logger: logger,
	}
}

func (d *CachedUserDirectory) GetProfile(ctx context.Context, id domain.UserID) (*domain.UserProfile, error) {
	profile, err := d.cache.GetOrLoad(ctx, id, func(ctx context.Context) (*domain.UserProfile, error) {
		return d.next.GetProfile(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	cp := *profile
	return &cp, nil
}

// UpsertProfile writes through and invalidates.
func (d *CachedUserDirectory) UpsertProfile(ctx context.Context, profile *domain.UserProfile) error {
	if err := d.next.UpsertProfile(ctx, profile); err != nil {
		return err
	}
	d.cache.Delete(profile.ID)
	return nil
}

func (d *CachedUserDirectory) Close() {
	d.cache.Stop()
}

// ProfileService turns an authenticated identity into the roster entry other
// members see, recording token-supplied profile fields in the directory.
type ProfileService struct {
	users  ports.UserDirectory
	logger *zap.SugaredLogger
}

func NewProfileService(users ports.UserDirectory, logger *zap.SugaredLogger) *ProfileService {
	return &ProfileService{users: users, logger: logger}
}

func (s *ProfileService) Member(ctx context.Context, claims *Claims) domain.Member {
	fromToken := claims.Profile()

	stored, err := s.users.GetProfile(ctx, claims.UserID)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		stored = &domain.UserProfile{ID: claims.UserID}
	case err != nil:
		s.logger.Warnw("Profile lookup failed, using token claims", "user_id", claims.UserID, "error", err)
		return fromToken.AsMember()
	}

	if merged, changed := mergeProfile(stored, fromToken); changed {
		if err := s.users.UpsertProfile(ctx, merged); err != nil {
			s.logger.Warnw("Failed to record profile", "user_id", claims.UserID, "error", err)
		}
		return merged.AsMember()
	}
	return stored.AsMember()
}

// mergeProfile copies the non-empty token fields over the stored ones.
func mergeProfile(stored, fromToken *domain.UserProfile) (*domain.UserProfile, bool) {
	merged := *stored
	changed := stored.CreatedAt.IsZero()
	if fromToken.DisplayName != "" && fromToken.DisplayName != stored.DisplayName {
		merged.DisplayName = fromToken.DisplayName
		changed = true
	}
	if fromToken.Email != "" && fromToken.Email != stored.Email {
		merged.Email = fromToken.Email
		changed = true
	}
	if fromToken.AvatarURL != "" && fromToken.AvatarURL != stored.AvatarURL {
		merged.AvatarURL = fromToken.AvatarURL
		changed = true
	}
	return &merged, changed
}
