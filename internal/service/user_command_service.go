package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/repository"
	apperrors "github.com/spec-kit/account-service/pkg/util"
)

// UserCommandService owns every mutation of user records. Each method is a
// single unit of work at the store and touches exactly one user.
type UserCommandService struct {
	users        repository.UserRepository
	query        *UserQueryService
	dispatcher   events.Dispatcher
	logger       *zap.Logger
	defaultRoles []domain.RoleType
}

// UserCommandDependencies bundles collaborators for the command service.
type UserCommandDependencies struct {
	UserRepo   repository.UserRepository
	Query      *UserQueryService
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewUserCommandService builds the service. New users receive the USER role.
func NewUserCommandService(deps UserCommandDependencies) *UserCommandService {
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = events.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserCommandService{
		users:        deps.UserRepo,
		query:        deps.Query,
		dispatcher:   dispatcher,
		logger:       logger,
		defaultRoles: []domain.RoleType{domain.RoleUser},
	}
}

// RegisterUser persists candidate when no user holds its email yet.
//
// HasUser is only a fast pre-check. Two concurrent registrations can both
// pass it; the store's insert-if-absent against the unique email index
// decides the winner and the loser gets AlreadyExists as well.
func (s *UserCommandService) RegisterUser(ctx context.Context, candidate *domain.User) error {
	exists, err := s.query.HasUser(ctx, candidate.Email)
	if err != nil {
		return err
	}
	if exists {
		return apperrors.NewAlreadyExists("user", map[string]any{"email": candidate.Email})
	}

	if err := s.users.CreateIfAbsent(ctx, candidate, s.defaultRoles); err != nil {
		return storeError(err, "user", map[string]any{"email": candidate.Email})
	}

	s.logger.Info("user registered", zap.Int64("user_id", candidate.ID))
	s.publish(ctx, events.Event{
		Type:    events.EventUserRegistered,
		UserID:  candidate.ID,
		Payload: events.UserRegisteredPayload{Email: candidate.Email},
	})
	return nil
}

// UpdateUser applies a partial profile edit to the user with this email.
func (s *UserCommandService) UpdateUser(ctx context.Context, email string, update domain.UserProfileUpdate) (*domain.User, error) {
	user, err := s.query.FindUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if update.IsEmpty() {
		return user, nil
	}
	if update.Name.Present && update.Name.Value == nil {
		return nil, apperrors.NewValidationError("name cannot be cleared", map[string]any{"field": "name"})
	}

	update.ApplyTo(user)
	if err := s.saveUser(ctx, user); err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:    events.EventUserUpdated,
		UserID:  user.ID,
		Payload: events.UserUpdatedPayload{Fields: updatedFields(update)},
	})
	return user, nil
}

// DeleteUser removes an already resolved user. Its role rows go with it and
// its tokens are revoked, not deleted.
func (s *UserCommandService) DeleteUser(ctx context.Context, user *domain.User) error {
	if err := s.users.Delete(ctx, user); err != nil {
		return storeError(err, "user", map[string]any{"user_id": user.ID})
	}

	s.logger.Info("user deleted", zap.Int64("user_id", user.ID))
	s.publish(ctx, events.Event{
		Type:    events.EventUserDeleted,
		UserID:  user.ID,
		Payload: events.UserDeletedPayload{Email: user.Email},
	})
	return nil
}

// saveUser persists an edited user in place. A user deleted since it was
// read yields NotFound instead of being written back.
func (s *UserCommandService) saveUser(ctx context.Context, user *domain.User) error {
	if err := s.users.Save(ctx, user); err != nil {
		return storeError(err, "user", map[string]any{"user_id": user.ID})
	}
	return nil
}

func (s *UserCommandService) publish(ctx context.Context, event events.Event) {
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event", string(event.Type)), zap.Error(err))
	}
}

func updatedFields(update domain.UserProfileUpdate) []string {
	var fields []string
	if update.Name.Present {
		fields = append(fields, "name")
	}
	if update.NationalID.Present {
		fields = append(fields, "national_id")
	}
	if update.PhoneNumber.Present {
		fields = append(fields, "phone_number")
	}
	if update.Address.Present {
		fields = append(fields, "address")
	}
	return fields
}
