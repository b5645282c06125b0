package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	authx "github.com/NordCoder/authd/internal/auth"
	"github.com/NordCoder/authd/internal/domain/account"
	"github.com/NordCoder/authd/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var errStorage = errors.New("storage unavailable")

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// countingHasher records how many comparisons were made.
type countingHasher struct {
	*authx.PasswordHasher
	verifies atomic.Int32
}

func (h *countingHasher) Verify(password, digest string) bool {
	h.verifies.Add(1)
	return h.PasswordHasher.Verify(password, digest)
}

// faultyStore fails the configured operations and delegates the rest.
type faultyStore struct {
	account.Store

	mu             sync.RWMutex
	findByEmailErr error
	findByIDErr    error
	insertErr      error
}

func (s *faultyStore) failFindByEmail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findByEmailErr = err
}

func (s *faultyStore) failFindByID(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findByIDErr = err
}

func (s *faultyStore) failInsert(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

func (s *faultyStore) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	s.mu.RLock()
	err := s.findByEmailErr
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return s.Store.FindByEmail(ctx, email)
}

func (s *faultyStore) FindByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	s.mu.RLock()
	err := s.findByIDErr
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return s.Store.FindByID(ctx, id)
}

func (s *faultyStore) Insert(ctx context.Context, email, hash string) (*account.Account, error) {
	s.mu.RLock()
	err := s.insertErr
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return s.Store.Insert(ctx, email, hash)
}

type fixture struct {
	uc     *Usecase
	store  *faultyStore
	mem    *memory.AccountRepo
	codec  *authx.TokenCodec
	hasher *countingHasher
	clock  *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	codec, err := authx.NewTokenCodec(authx.Keys{
		Access:  []byte("test-access-secret"),
		Refresh: []byte("test-refresh-secret"),
	}, authx.WithClock(clock.Now))
	require.NoError(t, err)

	mem := memory.NewAccountRepo()
	store := &faultyStore{Store: mem}
	hasher := &countingHasher{PasswordHasher: authx.NewPasswordHasher(bcrypt.MinCost)}

	uc := NewUseCase(store, hasher, codec, Config{AccessTTL: time.Hour, RefreshTTL: 30 * 24 * time.Hour})
	return &fixture{uc: uc, store: store, mem: mem, codec: codec, hasher: hasher, clock: clock}
}
