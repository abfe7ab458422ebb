package users

import (
	"context"
	"errors"
	"fmt"

	"gonggate/internal/models"
	"gonggate/internal/security"
	"gonggate/internal/tier"

	"gorm.io/gorm"
)

// Service reads identity, group, and permission rows. It never writes;
// user management lives upstream.
type Service struct {
	db       *gorm.DB
	resolver *tier.Resolver
}

// NewService constructs a Service.
func NewService(db *gorm.DB, resolver *tier.Resolver) *Service {
	if resolver == nil {
		resolver = tier.NewResolver(nil, "")
	}
	return &Service{db: db, resolver: resolver}
}

// ValidatePassword reports whether the email/password pair matches a
// stored user. A missing user and a wrong password are indistinguishable
// to the caller.
func (s *Service) ValidatePassword(ctx context.Context, email, password string) bool {
	var user models.User
	if errFind := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; errFind != nil {
		return false
	}
	return security.CheckPassword(user.Password, password)
}

// HasGateAccess reports whether the user is active and holds the gate
// permission.
func (s *Service) HasGateAccess(ctx context.Context, email string) (bool, error) {
	var count int64
	errCount := s.db.WithContext(ctx).
		Model(&models.UserPermission{}).
		Joins("JOIN users ON users.id = user_permissions.user_id").
		Joins("JOIN permissions ON permissions.id = user_permissions.permission_id").
		Where("users.email = ? AND users.is_active = ? AND permissions.codename = ?",
			email, true, models.GatePermission).
		Count(&count).Error
	if errCount != nil {
		return false, fmt.Errorf("users: check gate access: %w", errCount)
	}
	return count > 0, nil
}

// ResolveTier returns the tier for the user's group memberships. An
// unknown user or a user with no mapped group gets the resolver's
// default tier.
func (s *Service) ResolveTier(ctx context.Context, email string) tier.Tier {
	var names []string
	errFind := s.db.WithContext(ctx).
		Model(&models.Group{}).
		Joins("JOIN user_groups ON user_groups.group_id = groups.id").
		Joins("JOIN users ON users.id = user_groups.user_id").
		Where("users.email = ?", email).
		Pluck("groups.name", &names).Error
	if errFind != nil {
		return s.resolver.Default
	}
	return s.resolver.Resolve(names)
}

// FindByAPIKey returns the user owning the given API key token, or nil
// when the key is unknown.
func (s *Service) FindByAPIKey(ctx context.Context, apiKey string) (*models.User, error) {
	var row models.APIKey
	errFind := s.db.WithContext(ctx).
		Preload("User").
		Where("token = ?", apiKey).
		First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, fmt.Errorf("users: find api key: %w", errFind)
	}
	return row.User, nil
}
