package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/account-service/internal/cache"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/repository"
	apperrors "github.com/spec-kit/account-service/pkg/util"
)

func TestIssueTokenTwiceKeepsSingleActive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	user := h.mustRegister(t, "a@x.com")

	first, err := h.tokens.IssueToken(ctx, user)
	require.NoError(t, err)
	second, err := h.tokens.IssueToken(ctx, user)
	require.NoError(t, err)

	assert.NotEqual(t, first.Value, second.Value)
	assert.NotEqual(t, first.ID, second.ID)

	active := h.activeTokens(user.ID)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	all := h.store.TokensForUser(user.ID)
	require.Len(t, all, 2)
	assert.True(t, all[0].Revoked)
	assert.Equal(t, domain.TokenStateRevoked, all[0].State())
	assert.Equal(t, domain.TokenStateActive, all[1].State())

	issued := h.events.ofType(events.EventTokenIssued)
	require.Len(t, issued, 2)
	payload := issued[1].Payload.(events.TokenIssuedPayload)
	require.NotNil(t, payload.ReplacedTokenID)
	assert.Equal(t, first.ID, *payload.ReplacedTokenID)
}

func TestIssueTokenWithoutPriorToken(t *testing.T) {
	h := newHarness(t, nil)
	user := h.mustRegister(t, "a@x.com")

	token, err := h.tokens.IssueToken(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, token.Revoked)
	assert.Equal(t, user.ID, token.UserID)

	payload := h.events.ofType(events.EventTokenIssued)[0].Payload.(events.TokenIssuedPayload)
	assert.Nil(t, payload.ReplacedTokenID)
}

func TestFindActiveFollowsIssueAndRevoke(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	user := h.mustRegister(t, "a@x.com")

	_, err := h.tokens.FindActive(ctx, user)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	issued, err := h.tokens.IssueToken(ctx, user)
	require.NoError(t, err)

	active, err := h.tokens.FindActive(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, active.ID)
	assert.Equal(t, issued.Value, active.Value)

	require.NoError(t, h.tokens.Revoke(ctx, active))

	_, err = h.tokens.FindActive(ctx, user)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRevokeIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	user := h.mustRegister(t, "a@x.com")
	token, err := h.tokens.IssueToken(ctx, user)
	require.NoError(t, err)

	require.NoError(t, h.tokens.Revoke(ctx, token))
	require.NoError(t, h.tokens.Revoke(ctx, token))
	assert.True(t, token.Revoked)

	stale := *token
	stale.Revoked = false
	require.NoError(t, h.tokens.Revoke(ctx, &stale))
	assert.True(t, stale.Revoked)

	all := h.store.TokensForUser(user.ID)
	require.Len(t, all, 1)
	assert.True(t, all[0].Revoked)
	assert.Len(t, h.events.ofType(events.EventTokenRevoked), 1)
}

func TestRevokeUnknownToken(t *testing.T) {
	h := newHarness(t, nil)

	err := h.tokens.Revoke(context.Background(), &domain.Token{ID: 99, UserID: 1, Value: "nope"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRevokedTokenIsNeverResurrected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	user := h.mustRegister(t, "a@x.com")
	token, err := h.tokens.IssueToken(ctx, user)
	require.NoError(t, err)
	require.NoError(t, h.tokens.Revoke(ctx, token))

	token.Revoked = false
	require.NoError(t, h.store.Tokens.Save(ctx, token))
	assert.True(t, token.Revoked)

	_, err = h.tokens.FindActive(ctx, user)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestValidateRelationalRules(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.mustRegister(t, "a@x.com")
	bob := h.mustRegister(t, "b@x.com")

	t1, err := h.tokens.IssueToken(ctx, alice)
	require.NoError(t, err)

	got, err := h.tokens.Validate(ctx, alice.ID, t1.Value)
	require.NoError(t, err)
	assert.Equal(t, t1.ID, got.ID)

	_, err = h.tokens.Validate(ctx, bob.ID, t1.Value)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = h.tokens.Validate(ctx, alice.ID, "unknown")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	t2, err := h.tokens.IssueToken(ctx, alice)
	require.NoError(t, err)
	_, err = h.tokens.Validate(ctx, alice.ID, t1.Value)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	require.NoError(t, h.tokens.Revoke(ctx, t2))
	_, err = h.tokens.Validate(ctx, alice.ID, t2.Value)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

// Mirrors the end-to-end scenario: register, duplicate, two issues, inspect.
func TestRegisterAndRotateScenario(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	a := h.mustRegister(t, "a@x.com")
	exists, err := h.query.HasUser(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, exists)

	err = h.commands.RegisterUser(ctx, &domain.User{Email: "a@x.com", Name: "again"})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	t1, err := h.tokens.IssueToken(ctx, a)
	require.NoError(t, err)
	t2, err := h.tokens.IssueToken(ctx, a)
	require.NoError(t, err)

	stored1, err := h.store.Tokens.GetByValue(ctx, t1.Value)
	require.NoError(t, err)
	assert.True(t, stored1.Revoked)

	stored2, err := h.store.Tokens.GetByValue(ctx, t2.Value)
	require.NoError(t, err)
	assert.False(t, stored2.Revoked)

	active, err := h.tokens.FindActive(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, t2.ID, active.ID)
}

func TestConcurrentIssueLeavesOneActive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	user := h.mustRegister(t, "a@x.com")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.tokens.IssueToken(ctx, user)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, h.activeTokens(user.ID), 1)
	assert.Len(t, h.store.TokensForUser(user.ID), 16)
}

// conflictingTokens fails the first n rotations the way the partial unique
// index does when a concurrent issuance commits first.
type conflictingTokens struct {
	repository.TokenRepository
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (c *conflictingTokens) Rotate(ctx context.Context, userID, expectedID int64, value string) (*domain.Token, *domain.Token, error) {
	c.mu.Lock()
	c.calls++
	fail := c.calls <= c.conflicts
	c.mu.Unlock()
	if fail {
		return nil, nil, repository.ErrDuplicate
	}
	return c.TokenRepository.Rotate(ctx, userID, expectedID, value)
}

func TestIssueTokenRetriesOnConflict(t *testing.T) {
	store := repository.NewMemoryStore()
	tokens := &conflictingTokens{TokenRepository: store.Tokens, conflicts: 2}
	h := newHarnessWith(t, store, store.Users, tokens, store.Roles, nil)
	user := h.mustRegister(t, "a@x.com")

	token, err := h.tokens.IssueToken(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, token.Revoked)
	assert.Equal(t, 3, tokens.calls)
}

func TestIssueTokenGivesUpAfterRepeatedConflicts(t *testing.T) {
	store := repository.NewMemoryStore()
	tokens := &conflictingTokens{TokenRepository: store.Tokens, conflicts: 10}
	h := newHarnessWith(t, store, store.Users, tokens, store.Roles, nil)
	user := h.mustRegister(t, "a@x.com")

	_, err := h.tokens.IssueToken(context.Background(), user)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.Equal(t, maxIssueAttempts, tokens.calls)
	assert.Empty(t, h.activeTokens(user.ID))
}

// countingTokens records store lookups by value.
type countingTokens struct {
	repository.TokenRepository
	lookups int
}

func (c *countingTokens) GetByValue(ctx context.Context, value string) (*domain.Token, error) {
	c.lookups++
	return c.TokenRepository.GetByValue(ctx, value)
}

func TestValidateConsultsRevokedCacheFirst(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	store := repository.NewMemoryStore()
	tokens := &countingTokens{TokenRepository: store.Tokens}
	revoked := cache.NewRedisRevokedTokenCache(rdb, "test", time.Hour)
	h := newHarnessWith(t, store, store.Users, tokens, store.Roles, revoked)
	ctx := context.Background()
	user := h.mustRegister(t, "a@x.com")

	t1, err := h.tokens.IssueToken(ctx, user)
	require.NoError(t, err)
	_, err = h.tokens.IssueToken(ctx, user)
	require.NoError(t, err)

	known, err := revoked.IsRevoked(ctx, t1.Value)
	require.NoError(t, err)
	assert.True(t, known)

	_, err = h.tokens.Validate(ctx, user.ID, t1.Value)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.Zero(t, tokens.lookups)
}

func TestValidateFallsBackToStoreWhenCacheDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t, cache.NewRedisRevokedTokenCache(rdb, "test", time.Hour))
	ctx := context.Background()
	user := h.mustRegister(t, "a@x.com")
	token, err := h.tokens.IssueToken(ctx, user)
	require.NoError(t, err)

	mr.Close()

	got, err := h.tokens.Validate(ctx, user.ID, token.Value)
	require.NoError(t, err)
	assert.Equal(t, token.ID, got.ID)
}

func TestRedeemRequiresPresentedTokenStillActive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	user := h.mustRegister(t, "a@x.com")
	t1, err := h.tokens.IssueToken(ctx, user)
	require.NoError(t, err)

	t2, err := h.tokens.Redeem(ctx, user, t1)
	require.NoError(t, err)
	assert.NotEqual(t, t1.Value, t2.Value)

	_, err = h.tokens.Redeem(ctx, user, t1)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	other := h.mustRegister(t, "b@x.com")
	_, err = h.tokens.Redeem(ctx, other, t2)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	active, err := h.tokens.FindActive(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, t2.ID, active.ID)
	assert.Len(t, h.activeTokens(user.ID), 1)
}
