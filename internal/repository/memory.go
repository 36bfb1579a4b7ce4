package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/account-service/internal/domain"
)

// MemoryStore keeps users, roles and tokens in process memory. Each method
// holds a single lock for its whole unit of work, which gives the same
// all-or-nothing behaviour as the Postgres transactions. It backs local runs
// without POSTGRES_DSN and the service tests.
type MemoryStore struct {
	Users  UserRepository
	Tokens TokenRepository
	Roles  RoleRepository

	state *memoryState
}

type memoryState struct {
	mu sync.Mutex

	nextUserID  int64
	nextTokenID int64
	nextRoleID  int64

	users      map[int64]*domain.User
	emailIndex map[string]int64
	tokens     map[int64]*domain.Token
	valueIndex map[string]int64
	roles      map[int64][]domain.UserRole
	roleTypes  map[domain.RoleType]struct{}

	now func() time.Time
}

// NewMemoryStore builds an empty store that knows the built-in role codes.
func NewMemoryStore() *MemoryStore {
	state := &memoryState{
		users:      make(map[int64]*domain.User),
		emailIndex: make(map[string]int64),
		tokens:     make(map[int64]*domain.Token),
		valueIndex: make(map[string]int64),
		roles:      make(map[int64][]domain.UserRole),
		roleTypes: map[domain.RoleType]struct{}{
			domain.RoleUser:  {},
			domain.RoleAdmin: {},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	return &MemoryStore{
		Users:  &memoryUsers{state},
		Tokens: &memoryTokens{state},
		Roles:  &memoryRoles{state},
		state:  state,
	}
}

// TokensForUser returns copies of every token ever stored for the user,
// revoked ones included, oldest first.
func (m *MemoryStore) TokensForUser(userID int64) []domain.Token {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	var result []domain.Token
	for _, token := range m.state.tokens {
		if token.UserID == userID {
			result = append(result, *token)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// UserCount returns the number of stored users.
func (m *MemoryStore) UserCount() int {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return len(m.state.users)
}

func copyUser(u *domain.User) *domain.User {
	c := *u
	return &c
}

func copyToken(t *domain.Token) *domain.Token {
	c := *t
	return &c
}

type memoryUsers struct{ s *memoryState }

func (r *memoryUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.emailIndex[email]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(r.s.users[id]), nil
}

func (r *memoryUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(user), nil
}

func (r *memoryUsers) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.emailIndex[email]
	return ok, nil
}

func (r *memoryUsers) CreateIfAbsent(_ context.Context, user *domain.User, roles []domain.RoleType) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.emailIndex[user.Email]; exists {
		return ErrDuplicate
	}
	for _, role := range roles {
		if _, known := r.s.roleTypes[role]; !known {
			return ErrNotFound
		}
	}

	r.s.nextUserID++
	now := r.s.now()
	user.ID = r.s.nextUserID
	user.CreatedAt = now
	user.UpdatedAt = now
	r.s.users[user.ID] = copyUser(user)
	r.s.emailIndex[user.Email] = user.ID

	for _, role := range roles {
		r.s.assignLocked(user.ID, role)
	}
	return nil
}

func (r *memoryUsers) Save(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	user.Email = stored.Email
	user.CreatedAt = stored.CreatedAt
	user.UpdatedAt = r.s.now()
	r.s.users[user.ID] = copyUser(user)
	return nil
}

func (r *memoryUsers) Delete(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.users[user.ID]
	if !ok {
		return ErrNotFound
	}

	now := r.s.now()
	for _, token := range r.s.tokens {
		if token.UserID == user.ID && !token.Revoked {
			token.Revoked = true
			token.UpdatedAt = now
		}
	}
	delete(r.s.roles, user.ID)
	delete(r.s.emailIndex, stored.Email)
	delete(r.s.users, user.ID)
	return nil
}

type memoryTokens struct{ s *memoryState }

func (r *memoryTokens) activeLocked(userID int64) *domain.Token {
	for _, token := range r.s.tokens {
		if token.UserID == userID && !token.Revoked {
			return token
		}
	}
	return nil
}

func (r *memoryTokens) FindActiveByUser(_ context.Context, userID int64) (*domain.Token, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	token := r.activeLocked(userID)
	if token == nil {
		return nil, ErrNotFound
	}
	return copyToken(token), nil
}

func (r *memoryTokens) GetByValue(_ context.Context, value string) (*domain.Token, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.valueIndex[value]
	if !ok {
		return nil, ErrNotFound
	}
	return copyToken(r.s.tokens[id]), nil
}

func (r *memoryTokens) Save(_ context.Context, token *domain.Token) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	if token.ID == 0 {
		if _, taken := r.s.valueIndex[token.Value]; taken {
			return ErrDuplicate
		}
		if !token.Revoked && r.activeLocked(token.UserID) != nil {
			return ErrDuplicate
		}
		r.s.insertTokenLocked(token, now)
		return nil
	}

	stored, ok := r.s.tokens[token.ID]
	if !ok {
		return ErrNotFound
	}
	if token.Revoked && !stored.Revoked {
		stored.Revoked = true
		stored.UpdatedAt = now
	}
	token.Revoked = stored.Revoked
	token.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *memoryTokens) MarkRevoked(_ context.Context, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.tokens[id]
	if !ok {
		return false, ErrNotFound
	}
	if stored.Revoked {
		return false, nil
	}
	stored.Revoked = true
	stored.UpdatedAt = r.s.now()
	return true, nil
}

func (r *memoryTokens) Rotate(_ context.Context, userID, expectedID int64, value string) (*domain.Token, *domain.Token, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var current *domain.Token
	if expectedID == 0 {
		current = r.activeLocked(userID)
	} else {
		expected, ok := r.s.tokens[expectedID]
		if !ok || expected.UserID != userID || expected.Revoked {
			return nil, nil, ErrStale
		}
		current = expected
	}
	if _, taken := r.s.valueIndex[value]; taken {
		return nil, nil, ErrDuplicate
	}

	now := r.s.now()
	var previous *domain.Token
	if current != nil {
		current.Revoked = true
		current.UpdatedAt = now
		previous = copyToken(current)
	}

	issued := &domain.Token{UserID: userID, Value: value}
	r.s.insertTokenLocked(issued, now)
	return issued, previous, nil
}

func (s *memoryState) insertTokenLocked(token *domain.Token, now time.Time) {
	s.nextTokenID++
	token.ID = s.nextTokenID
	token.CreatedAt = now
	token.UpdatedAt = now
	s.tokens[token.ID] = copyToken(token)
	s.valueIndex[token.Value] = token.ID
}

type memoryRoles struct{ s *memoryState }

func (r *memoryRoles) ListByUser(_ context.Context, userID int64) ([]domain.RoleType, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []domain.RoleType
	for _, ur := range r.s.roles[userID] {
		result = append(result, ur.Role)
	}
	return result, nil
}

func (r *memoryRoles) Assign(_ context.Context, userID int64, role domain.RoleType) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[userID]; !ok {
		return ErrNotFound
	}
	if _, known := r.s.roleTypes[role]; !known {
		return ErrNotFound
	}
	r.s.assignLocked(userID, role)
	return nil
}

func (s *memoryState) assignLocked(userID int64, role domain.RoleType) {
	for _, ur := range s.roles[userID] {
		if ur.Role == role {
			return
		}
	}
	s.nextRoleID++
	s.roles[userID] = append(s.roles[userID], domain.UserRole{
		ID:        s.nextRoleID,
		UserID:    userID,
		Role:      role,
		CreatedAt: s.now(),
	})
}
