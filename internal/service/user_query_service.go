package service

import (
	"context"

	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/repository"
	apperrors "github.com/spec-kit/account-service/pkg/util"
)

// UserQueryService serves side-effect-free reads over the credential store.
type UserQueryService struct {
	users repository.UserRepository
	roles repository.RoleRepository
}

// NewUserQueryService constructs the service.
func NewUserQueryService(users repository.UserRepository, roles repository.RoleRepository) *UserQueryService {
	return &UserQueryService{users: users, roles: roles}
}

// HasUser reports whether a user with exactly this email exists.
func (s *UserQueryService) HasUser(ctx context.Context, email string) (bool, error) {
	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return false, apperrors.NewStoreUnavailable(err)
	}
	return exists, nil
}

// FindUser returns the user with this email or a NotFound error.
func (s *UserQueryService) FindUser(ctx context.Context, email string) (*domain.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, storeError(err, "user", map[string]any{"email": email})
	}
	return user, nil
}

// FindUserByID returns the user with this identity or a NotFound error.
func (s *UserQueryService) FindUserByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "user", map[string]any{"user_id": id})
	}
	return user, nil
}

// RolesOf lists the role codes held by the user.
func (s *UserQueryService) RolesOf(ctx context.Context, userID int64) ([]domain.RoleType, error) {
	roles, err := s.roles.ListByUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, "user roles", map[string]any{"user_id": userID})
	}
	return roles, nil
}
