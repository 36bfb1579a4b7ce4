package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/cache"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/observability"
	"github.com/spec-kit/account-service/internal/repository"
	apperrors "github.com/spec-kit/account-service/pkg/util"
)

// maxIssueAttempts bounds retries when a concurrent issuance for the same
// user wins the one-active-token constraint.
const maxIssueAttempts = 3

// RefreshTokenGenerator produces new opaque refresh token values.
type RefreshTokenGenerator interface {
	GenerateRefreshToken(userID int64) (string, time.Time, error)
}

// TokenService is the source of truth for refresh token validity. It keeps
// at most one non-revoked token per user.
type TokenService struct {
	tokens     repository.TokenRepository
	generator  RefreshTokenGenerator
	revoked    cache.RevokedTokenCache
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// TokenDependencies bundles collaborators for the token service.
type TokenDependencies struct {
	TokenRepo    repository.TokenRepository
	Generator    RefreshTokenGenerator
	RevokedCache cache.RevokedTokenCache
	Dispatcher   events.Dispatcher
	Metrics      *observability.Metrics
	Logger       *zap.Logger
}

// NewTokenService builds the service.
func NewTokenService(deps TokenDependencies) *TokenService {
	s := &TokenService{
		tokens:     deps.TokenRepo,
		generator:  deps.Generator,
		revoked:    deps.RevokedCache,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
	if s.revoked == nil {
		s.revoked = cache.NewNoopRevokedTokenCache()
	}
	if s.dispatcher == nil {
		s.dispatcher = events.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// IssueToken revokes the user's active token, if any, and persists a fresh
// active one in the same transaction. After it returns the user has exactly
// one non-revoked token, whether zero or several existed before.
func (s *TokenService) IssueToken(ctx context.Context, user *domain.User) (*domain.Token, error) {
	return s.rotate(ctx, user, 0)
}

// Redeem replaces presented with a fresh token, provided presented is still
// the user's active token when the store commits. Of several concurrent
// redemptions of the same token exactly one succeeds; the others get
// Unauthorized.
func (s *TokenService) Redeem(ctx context.Context, user *domain.User, presented *domain.Token) (*domain.Token, error) {
	return s.rotate(ctx, user, presented.ID)
}

func (s *TokenService) rotate(ctx context.Context, user *domain.User, expectedID int64) (*domain.Token, error) {
	for attempt := 1; ; attempt++ {
		value, _, err := s.generator.GenerateRefreshToken(user.ID)
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}

		issued, previous, err := s.tokens.Rotate(ctx, user.ID, expectedID, value)
		if errors.Is(err, repository.ErrDuplicate) && attempt < maxIssueAttempts {
			s.metrics.RecordIssueConflict()
			s.logger.Debug("concurrent token issuance, retrying",
				zap.Int64("user_id", user.ID), zap.Int("attempt", attempt))
			continue
		}
		if errors.Is(err, repository.ErrStale) {
			s.metrics.RecordIssueConflict()
			return nil, apperrors.NewUnauthorized("refresh token already used")
		}
		if err != nil {
			return nil, storeError(err, "token", map[string]any{"user_id": user.ID})
		}

		payload := events.TokenIssuedPayload{TokenID: issued.ID}
		if previous != nil {
			s.rememberRevoked(ctx, previous)
			s.metrics.RecordTokenEvent("revoked")
			payload.ReplacedTokenID = &previous.ID
		}
		s.metrics.RecordTokenEvent("issued")
		s.publish(ctx, events.Event{Type: events.EventTokenIssued, UserID: user.ID, Payload: payload})
		return issued, nil
	}
}

// FindActive returns the user's current non-revoked token or NotFound.
func (s *TokenService) FindActive(ctx context.Context, user *domain.User) (*domain.Token, error) {
	token, err := s.tokens.FindActiveByUser(ctx, user.ID)
	if err != nil {
		return nil, storeError(err, "active token", map[string]any{"user_id": user.ID})
	}
	return token, nil
}

// Revoke marks token revoked. Revoking an already revoked token succeeds.
// The event is published only by the call that performed the transition,
// whatever the caller's copy of the token says.
func (s *TokenService) Revoke(ctx context.Context, token *domain.Token) error {
	changed, err := s.tokens.MarkRevoked(ctx, token.ID)
	if err != nil {
		return storeError(err, "token", map[string]any{"token_id": token.ID})
	}
	token.Revoked = true

	s.rememberRevoked(ctx, token)
	if changed {
		s.metrics.RecordTokenEvent("revoked")
		s.publish(ctx, events.Event{
			Type:    events.EventTokenRevoked,
			UserID:  token.UserID,
			Payload: events.TokenRevokedPayload{TokenID: token.ID, Reason: "explicit"},
		})
	}
	return nil
}

// Validate accepts value only when a token record with that value exists,
// belongs to userID, is not revoked and is the user's current active token.
// Any other outcome is Unauthorized; store failures stay StoreUnavailable.
func (s *TokenService) Validate(ctx context.Context, userID int64, value string) (*domain.Token, error) {
	if known, err := s.revoked.IsRevoked(ctx, value); err != nil {
		s.logger.Warn("revoked token cache lookup failed", zap.Error(err))
	} else if known {
		return nil, apperrors.NewUnauthorized("refresh token revoked")
	}

	token, err := s.tokens.GetByValue(ctx, value)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewUnauthorized("unknown refresh token")
	}
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	if token.UserID != userID {
		return nil, apperrors.NewUnauthorized("refresh token subject mismatch")
	}
	if token.Revoked {
		s.rememberRevoked(ctx, token)
		return nil, apperrors.NewUnauthorized("refresh token revoked")
	}

	active, err := s.tokens.FindActiveByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewUnauthorized("refresh token superseded")
	}
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	if active.ID != token.ID {
		return nil, apperrors.NewUnauthorized("refresh token superseded")
	}
	return token, nil
}

func (s *TokenService) rememberRevoked(ctx context.Context, token *domain.Token) {
	if err := s.revoked.MarkRevoked(ctx, token.Value); err != nil {
		s.logger.Warn("revoked token cache write failed", zap.Int64("token_id", token.ID), zap.Error(err))
	}
}

func (s *TokenService) publish(ctx context.Context, event events.Event) {
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event", string(event.Type)), zap.Error(err))
	}
}
