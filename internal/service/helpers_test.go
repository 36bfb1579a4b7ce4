package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/cache"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/events"
	"github.com/spec-kit/account-service/internal/observability"
	"github.com/spec-kit/account-service/internal/repository"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) handler(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	store    *repository.MemoryStore
	query    *UserQueryService
	commands *UserCommandService
	tokens   *TokenService
	auth     *AuthService
	tokenMgr *auth.TokenManager
	events   *recordedEvents
}

func newHarness(t *testing.T, revoked cache.RevokedTokenCache) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	return newHarnessWith(t, store, store.Users, store.Tokens, store.Roles, revoked)
}

func newHarnessWith(t *testing.T, store *repository.MemoryStore, users repository.UserRepository, tokens repository.TokenRepository, roles repository.RoleRepository, revoked cache.RevokedTokenCache) *harness {
	t.Helper()

	dispatcher := events.NewInMemoryDispatcher()
	rec := &recordedEvents{}
	for _, et := range []events.EventType{
		events.EventUserRegistered,
		events.EventUserUpdated,
		events.EventUserDeleted,
		events.EventTokenIssued,
		events.EventTokenRevoked,
	} {
		dispatcher.Subscribe(et, rec.handler)
	}

	logger := zap.NewNop()
	tokenMgr := auth.NewTokenManager("test-secret", time.Minute, time.Hour)
	query := NewUserQueryService(users, roles)
	commands := NewUserCommandService(UserCommandDependencies{
		UserRepo:   users,
		Query:      query,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	tokenSvc := NewTokenService(TokenDependencies{
		TokenRepo:    tokens,
		Generator:    tokenMgr,
		RevokedCache: revoked,
		Dispatcher:   dispatcher,
		Metrics:      observability.NewMetrics(),
		Logger:       logger,
	})
	authSvc := NewAuthService(AuthDependencies{
		Query:        query,
		Commands:     commands,
		Tokens:       tokenSvc,
		TokenManager: tokenMgr,
		Hasher:       auth.NewBcryptHasher(bcrypt.MinCost),
		Logger:       logger,
	})

	return &harness{
		store:    store,
		query:    query,
		commands: commands,
		tokens:   tokenSvc,
		auth:     authSvc,
		tokenMgr: tokenMgr,
		events:   rec,
	}
}

func (h *harness) mustRegister(t *testing.T, email string) *domain.User {
	t.Helper()
	user := &domain.User{Email: email, Name: "User " + email, PasswordHash: "hash"}
	require.NoError(t, h.commands.RegisterUser(context.Background(), user))
	return user
}

func (h *harness) activeTokens(userID int64) []domain.Token {
	var active []domain.Token
	for _, tok := range h.store.TokensForUser(userID) {
		if !tok.Revoked {
			active = append(active, tok)
		}
	}
	return active
}

func strPtr(s string) *string { return &s }
