package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/domain"
	apperrors "github.com/spec-kit/account-service/pkg/util"
)

// RegisterInput is a validated registration request. Password is plaintext
// and never leaves this service unhashed.
type RegisterInput struct {
	Name        string
	Email       string
	Password    string
	NationalID  *string
	PhoneNumber *string
	Address     *string
}

// AuthService coordinates registration, login, refresh and logout on top of
// the user command/query services and the token lifecycle.
type AuthService struct {
	query    *UserQueryService
	commands *UserCommandService
	tokens   *TokenService
	tokenMgr *auth.TokenManager
	hasher   auth.Hasher
	logger   *zap.Logger
}

// AuthDependencies encapsulates requirements for auth service.
type AuthDependencies struct {
	Query        *UserQueryService
	Commands     *UserCommandService
	Tokens       *TokenService
	TokenManager *auth.TokenManager
	Hasher       auth.Hasher
	Logger       *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		query:    deps.Query,
		commands: deps.Commands,
		tokens:   deps.Tokens,
		tokenMgr: deps.TokenManager,
		hasher:   deps.Hasher,
		logger:   logger,
	}
}

// Register creates the account and signs the user in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, *domain.TokenPair, error) {
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Email:        in.Email,
		Name:         in.Name,
		NationalID:   in.NationalID,
		PhoneNumber:  in.PhoneNumber,
		Address:      in.Address,
		PasswordHash: hash,
	}
	if err := s.commands.RegisterUser(ctx, user); err != nil {
		return nil, nil, err
	}

	pair, err := s.signIn(ctx, user, nil)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Login verifies credentials and issues a new token pair. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, *domain.TokenPair, error) {
	user, err := s.query.FindUser(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, nil, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, nil, apperrors.NewUnauthorized("invalid credentials")
	}

	pair, err := s.signIn(ctx, user, nil)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh exchanges a live refresh token for a new pair. The presented token
// is revoked by a conditional rotation, so it can be redeemed only once even
// under concurrent requests.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.User, *domain.TokenPair, error) {
	claims, err := s.tokenMgr.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, nil, apperrors.NewUnauthorized("invalid refresh token")
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, nil, apperrors.NewUnauthorized("invalid refresh token")
	}

	presented, err := s.tokens.Validate(ctx, userID, refreshToken)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.query.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.NewUnauthorized("user no longer exists")
		}
		return nil, nil, err
	}

	pair, err := s.signIn(ctx, user, presented)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Logout revokes the user's active refresh token. Logging out without an
// active token is a no-op.
func (s *AuthService) Logout(ctx context.Context, user *domain.User) error {
	token, err := s.tokens.FindActive(ctx, user)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.tokens.Revoke(ctx, token)
}

// signIn rotates the user's refresh token and mints an access token. With a
// presented token the rotation is conditional on it still being active.
func (s *AuthService) signIn(ctx context.Context, user *domain.User, presented *domain.Token) (*domain.TokenPair, error) {
	var (
		refresh *domain.Token
		err     error
	)
	if presented != nil {
		refresh, err = s.tokens.Redeem(ctx, user, presented)
	} else {
		refresh, err = s.tokens.IssueToken(ctx, user)
	}
	if err != nil {
		return nil, err
	}
	refreshClaims, err := s.tokenMgr.ParseRefreshToken(refresh.Value)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	roles, err := s.query.RolesOf(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	access, accessExp, err := s.tokenMgr.GenerateAccessToken(user, roles)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	return &domain.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh.Value,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
