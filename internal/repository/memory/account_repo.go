// Package memory holds process-local store implementations for development
// and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/authd/internal/domain/account"
	"github.com/google/uuid"
)

var _ account.Store = (*AccountRepo)(nil)

type AccountRepo struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]account.Account
	byEmail map[string]uuid.UUID
	now     func() time.Time
}

func NewAccountRepo() *AccountRepo {
	return &AccountRepo{
		byID:    make(map[uuid.UUID]account.Account),
		byEmail: make(map[string]uuid.UUID),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *AccountRepo) Insert(_ context.Context, email, passwordHash string) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[email]; ok {
		return nil, account.ErrDuplicateEmail
	}
	a := account.Account{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    r.now(),
	}
	r.byID[a.ID] = a
	r.byEmail[email] = a.ID
	return &a, nil
}

func (r *AccountRepo) FindByID(_ context.Context, id uuid.UUID) (*account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	return &a, nil
}

func (r *AccountRepo) FindByEmail(_ context.Context, email string) (*account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, account.ErrNotFound
	}
	a := r.byID[id]
	return &a, nil
}

func (r *AccountRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *AccountRepo) Ping(context.Context) error { return nil }
