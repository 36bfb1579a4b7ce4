package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/repository"
	apperrors "github.com/spec-kit/account-service/pkg/util"
)

func TestRegisterUserThenHasUser(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	exists, err := h.query.HasUser(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, exists)

	user := h.mustRegister(t, "a@x.com")
	assert.NotZero(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())

	exists, err = h.query.HasUser(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, exists)

	roles, err := h.query.RolesOf(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.RoleType{domain.RoleUser}, roles)

	assert.Len(t, h.events.ofType(events.EventUserRegistered), 1)
}

func TestRegisterDuplicateLeavesStoreUnchanged(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	original := h.mustRegister(t, "a@x.com")

	dup := &domain.User{Email: "a@x.com", Name: "Impostor", PasswordHash: "other"}
	err := h.commands.RegisterUser(ctx, dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.Zero(t, dup.ID)

	assert.Equal(t, 1, h.store.UserCount())
	stored, err := h.query.FindUser(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, original.ID, stored.ID)
	assert.Equal(t, original.Name, stored.Name)
	assert.Equal(t, "hash", stored.PasswordHash)
	assert.Len(t, h.events.ofType(events.EventUserRegistered), 1)
}

// racingUsers hides existing users from ExistsByEmail so both callers pass
// the pre-check, the way two concurrent requests can.
type racingUsers struct {
	repository.UserRepository
}

func (racingUsers) ExistsByEmail(context.Context, string) (bool, error) { return false, nil }

func TestRegisterUserStoreBackstopRejectsRace(t *testing.T) {
	store := repository.NewMemoryStore()
	h := newHarnessWith(t, store, racingUsers{store.Users}, store.Tokens, store.Roles, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.commands.RegisterUser(ctx, &domain.User{Email: "race@x.com", Name: "R", PasswordHash: "h"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, store.UserCount())
}

func TestFindUserNotFound(t *testing.T) {
	h := newHarness(t, nil)

	user, err := h.query.FindUser(context.Background(), "nobody@x.com")
	assert.Nil(t, user)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestHasUserIsExactAndSideEffectFree(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.mustRegister(t, "a@x.com")

	for i := 0; i < 3; i++ {
		exists, err := h.query.HasUser(ctx, "a@x.com")
		require.NoError(t, err)
		assert.True(t, exists)
	}
	exists, err := h.query.HasUser(ctx, "b@x.com")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 1, h.store.UserCount())
}

func TestDeleteUserWithoutTokens(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.mustRegister(t, "a@x.com")
	b := h.mustRegister(t, "b@x.com")

	bToken, err := h.tokens.IssueToken(ctx, b)
	require.NoError(t, err)

	require.NoError(t, h.commands.DeleteUser(ctx, a))

	exists, err := h.query.HasUser(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, exists)

	active, err := h.tokens.FindActive(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, bToken.ID, active.ID)
	assert.False(t, active.Revoked)

	roles, err := h.query.RolesOf(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestDeleteUserRevokesButKeepsTokens(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.mustRegister(t, "a@x.com")

	_, err := h.tokens.IssueToken(ctx, a)
	require.NoError(t, err)
	require.NoError(t, h.commands.DeleteUser(ctx, a))

	all := h.store.TokensForUser(a.ID)
	require.Len(t, all, 1)
	assert.True(t, all[0].Revoked)
}

func TestDeleteUserAlreadyGone(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.mustRegister(t, "a@x.com")

	require.NoError(t, h.commands.DeleteUser(ctx, a))
	err := h.commands.DeleteUser(ctx, a)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Len(t, h.events.ofType(events.EventUserDeleted), 1)
}

func TestUpdateUserPartialMerge(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	user := &domain.User{
		Email:        "a@x.com",
		Name:         "Alice",
		PhoneNumber:  strPtr("+821012345678"),
		Address:      strPtr("Seoul"),
		PasswordHash: "hash",
	}
	require.NoError(t, h.commands.RegisterUser(ctx, user))

	updated, err := h.commands.UpdateUser(ctx, "a@x.com", domain.UserProfileUpdate{
		Name:    domain.Some("Alicia"),
		Address: domain.Null[string](),
	})
	require.NoError(t, err)
	assert.Equal(t, "Alicia", updated.Name)
	assert.Nil(t, updated.Address)
	require.NotNil(t, updated.PhoneNumber)
	assert.Equal(t, "+821012345678", *updated.PhoneNumber)

	stored, err := h.query.FindUser(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)
	assert.Equal(t, "Alicia", stored.Name)
	assert.Nil(t, stored.Address)
	assert.Equal(t, "hash", stored.PasswordHash)

	evs := h.events.ofType(events.EventUserUpdated)
	require.Len(t, evs, 1)
	assert.Equal(t, []string{"name", "address"}, evs[0].Payload.(events.UserUpdatedPayload).Fields)
}

func TestUpdateUserRejectsClearingName(t *testing.T) {
	h := newHarness(t, nil)
	h.mustRegister(t, "a@x.com")

	_, err := h.commands.UpdateUser(context.Background(), "a@x.com", domain.UserProfileUpdate{Name: domain.Null[string]()})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestUpdateUserEmptyIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.mustRegister(t, "a@x.com")

	_, err := h.commands.UpdateUser(context.Background(), "a@x.com", domain.UserProfileUpdate{})
	require.NoError(t, err)
	assert.Empty(t, h.events.ofType(events.EventUserUpdated))
}

func TestUpdateUnknownUser(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.commands.UpdateUser(context.Background(), "ghost@x.com", domain.UserProfileUpdate{Name: domain.Some("G")})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

type failingUsers struct {
	repository.UserRepository
}

var errDown = errors.New("connection refused")

func (failingUsers) ExistsByEmail(context.Context, string) (bool, error) { return false, errDown }
func (failingUsers) GetByEmail(context.Context, string) (*domain.User, error) {
	return nil, errDown
}
func (failingUsers) Delete(context.Context, *domain.User) error { return errDown }

func TestStoreFailuresSurfaceAsStoreUnavailable(t *testing.T) {
	store := repository.NewMemoryStore()
	h := newHarnessWith(t, store, failingUsers{store.Users}, store.Tokens, store.Roles, nil)
	ctx := context.Background()

	_, err := h.query.HasUser(ctx, "a@x.com")
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errDown)

	err = h.commands.RegisterUser(ctx, &domain.User{Email: "a@x.com", Name: "A"})
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)

	_, err = h.query.FindUser(ctx, "a@x.com")
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)

	err = h.commands.DeleteUser(ctx, &domain.User{ID: 1})
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.Zero(t, store.UserCount())
}

// vanishingUsers deletes the user right after it has been read, the way a
// concurrent delete request can.
type vanishingUsers struct {
	repository.UserRepository
}

func (v vanishingUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := v.UserRepository.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := v.UserRepository.Delete(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func TestUpdateUserDeletedConcurrentlyIsNotRecreated(t *testing.T) {
	store := repository.NewMemoryStore()
	h := newHarnessWith(t, store, vanishingUsers{store.Users}, store.Tokens, store.Roles, nil)
	ctx := context.Background()
	require.NoError(t, store.Users.CreateIfAbsent(ctx, &domain.User{Email: "a@x.com", Name: "A", PasswordHash: "h"}, []domain.RoleType{domain.RoleUser}))

	_, err := h.commands.UpdateUser(ctx, "a@x.com", domain.UserProfileUpdate{Name: domain.Some("B")})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Zero(t, store.UserCount())
	assert.Empty(t, h.events.ofType(events.EventUserUpdated))
}

func TestSaveIgnoresEmailChanges(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	user := h.mustRegister(t, "a@x.com")

	edited := *user
	edited.Email = "b@x.com"
	edited.Name = "Renamed"
	require.NoError(t, h.store.Users.Save(ctx, &edited))
	assert.Equal(t, "a@x.com", edited.Email)

	stored, err := h.query.FindUser(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
	found, err := h.query.HasUser(ctx, "b@x.com")
	require.NoError(t, err)
	assert.False(t, found)
}
