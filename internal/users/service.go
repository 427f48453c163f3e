// Package users resolves session claims into the owner ids stamped on cases.
package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GautamJagannath/entrada/internal/auth"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUnknownOwner indicates no identity has been recorded for the owner id.
	ErrUnknownOwner = errors.New("users: unknown owner")
)

// ServiceConfig describes the dependencies required for owner resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages owner ids and the provider identities behind them.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// ResolveOwner returns the owner id for the session, recording the identity the
// first time a provider+subject pair is seen. Owner ids keep the provider
// ("google:1234"), so equal subjects from different providers stay apart.
func (s *Service) ResolveOwner(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := claims.Identity()
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := OwnerIDFor(provider, subject)
	if cached, ok := s.cache.Load(cacheKey); ok {
		if ownerID, ok := cached.(string); ok {
			return ownerID, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.Where("provider = ? AND subject = ?", provider, subject).First(&identity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			OwnerID:     OwnerIDFor(provider, subject),
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			Roles:       joinRoles(claims.UserRoles),
			LastSeenAt:  s.now().UTC(),
		}
		if err := db.Create(&identity).Error; err != nil {
			return "", fmt.Errorf("users: record identity: %w", err)
		}
		s.logger.Info("owner identity recorded",
			zap.String("provider", provider),
			zap.String("owner_id", identity.OwnerID),
		)
	case err != nil:
		return "", fmt.Errorf("users: lookup identity: %w", err)
	default:
		s.touch(ctx, identity, claims)
	}

	s.cache.Store(cacheKey, identity.OwnerID)
	return identity.OwnerID, nil
}

// OwnerIDFor builds the provider-qualified owner id of an identity.
func OwnerIDFor(provider, subject string) string {
	return provider + ":" + subject
}

// Profile returns the most recently recorded identity for the owner.
func (s *Service) Profile(ctx context.Context, ownerID string) (Profile, error) {
	ownerID = normalize(ownerID)
	if ownerID == "" {
		return Profile{}, ErrUnknownOwner
	}
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("last_seen_at DESC").
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrUnknownOwner
	}
	if err != nil {
		return Profile{}, fmt.Errorf("users: load profile: %w", err)
	}
	return identity.Profile(), nil
}

func (s *Service) touch(ctx context.Context, identity Identity, claims auth.SessionClaims) {
	updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
	if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
		updates["email"] = email
	}
	if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
		updates["display_name"] = display
	}
	if roles := joinRoles(claims.UserRoles); roles != "" && roles != identity.Roles {
		updates["roles"] = roles
	}
	err := s.db.WithContext(ctx).
		Model(&Identity{}).
		Where("provider = ? AND subject = ?", identity.Provider, identity.Subject).
		Updates(updates).
		Error
	if err != nil {
		s.logger.Warn("failed to refresh owner identity",
			zap.String("owner_id", identity.OwnerID),
			zap.Error(err),
		)
	}
}
