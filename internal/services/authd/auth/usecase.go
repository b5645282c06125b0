package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/authd/internal/domain/account"
	domainauth "github.com/NordCoder/authd/internal/domain/auth"
	"github.com/NordCoder/authd/internal/obs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUnauthorized       = errors.New("missing or malformed bearer token")
	ErrDuplicateEmail     = account.ErrDuplicateEmail
)

const (
	opRegister = "register"
	opLogin    = "login"
	opRefresh  = "refresh"
	opResolve  = "resolve"
	opLogout   = "logout"
)

const (
	resultOK        = "ok"
	resultDuplicate = "duplicate"
	resultDenied    = "denied"
	resultError     = "error"
)

type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Usecase implements the account and token lifecycle. It holds no mutable
// state after construction.
type Usecase struct {
	accounts account.Store
	hasher   domainauth.PasswordHasher
	tokens   domainauth.TokenCodec
	cfg      Config
	log      *zap.Logger
	metrics  *obs.AuthMetrics

	// dummyDigest is compared against when the email is unknown so that both
	// login failure paths cost one bcrypt comparison.
	dummyDigest string
}

type Option func(*Usecase)

func WithLogger(l *zap.Logger) Option {
	return func(u *Usecase) {
		if l != nil {
			u.log = l
		}
	}
}

func WithMetrics(m *obs.AuthMetrics) Option {
	return func(u *Usecase) { u.metrics = m }
}

func NewUseCase(
	accounts account.Store,
	hasher domainauth.PasswordHasher,
	tokens domainauth.TokenCodec,
	cfg Config,
	opts ...Option,
) *Usecase {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = domainauth.DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = domainauth.DefaultRefreshTTL
	}
	u := &Usecase{
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		cfg:      cfg,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(u)
	}
	if d, err := hasher.Hash(uuid.NewString()); err == nil {
		u.dummyDigest = d
	} else {
		u.log.Warn("dummy digest unavailable", zap.Error(err))
	}
	return u
}

func (u *Usecase) Register(ctx context.Context, email, password string) (*account.Account, error) {
	log := obs.WithTrace(ctx, u.log)

	switch _, err := u.accounts.FindByEmail(ctx, email); {
	case err == nil:
		u.metrics.Observe(opRegister, resultDuplicate)
		return nil, ErrDuplicateEmail
	case !errors.Is(err, account.ErrNotFound):
		u.metrics.Observe(opRegister, resultError)
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	digest, err := u.hasher.Hash(password)
	if err != nil {
		u.metrics.Observe(opRegister, resultError)
		return nil, err
	}

	a, err := u.accounts.Insert(ctx, email, digest)
	if err != nil {
		if errors.Is(err, account.ErrDuplicateEmail) {
			u.metrics.Observe(opRegister, resultDuplicate)
			return nil, ErrDuplicateEmail
		}
		u.metrics.Observe(opRegister, resultError)
		return nil, fmt.Errorf("insert account: %w", err)
	}

	u.metrics.Observe(opRegister, resultOK)
	log.Info("account registered", zap.Stringer("account_id", a.ID))
	return a, nil
}

// Login never tells the caller whether the email or the password was wrong.
func (u *Usecase) Login(ctx context.Context, email, password string) (*domainauth.TokenPair, error) {
	a, err := u.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			u.hasher.Verify(password, u.dummyDigest)
			u.metrics.Observe(opLogin, resultDenied)
			return nil, ErrInvalidCredentials
		}
		u.metrics.Observe(opLogin, resultError)
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if !u.hasher.Verify(password, a.PasswordHash) {
		u.metrics.Observe(opLogin, resultDenied)
		return nil, ErrInvalidCredentials
	}

	pair, err := u.issuePair(a.ID.String())
	if err != nil {
		u.metrics.Observe(opLogin, resultError)
		return nil, err
	}

	u.metrics.Observe(opLogin, resultOK)
	obs.WithTrace(ctx, u.log).Info("login", zap.Stringer("account_id", a.ID))
	return pair, nil
}

// Refresh mints a new access token for the subject of a valid refresh token.
// The refresh token itself stays valid until it expires.
func (u *Usecase) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claim, err := u.tokens.Verify(refreshToken, domainauth.ScopeRefresh)
	if err != nil {
		u.metrics.Observe(opRefresh, resultDenied)
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	access, err := u.tokens.Issue(claim.Subject, domainauth.ScopeAccess, u.cfg.AccessTTL)
	if err != nil {
		u.metrics.Observe(opRefresh, resultError)
		return "", fmt.Errorf("issue access token: %w", err)
	}

	u.metrics.Observe(opRefresh, resultOK)
	obs.WithTrace(ctx, u.log).Debug("access token refreshed", zap.String("account_id", claim.Subject))
	return access, nil
}

// ResolveIdentity returns the account an access token belongs to. A token
// whose account no longer exists is reported as ErrInvalidToken.
func (u *Usecase) ResolveIdentity(ctx context.Context, accessToken string) (*account.Account, error) {
	claim, err := u.tokens.Verify(accessToken, domainauth.ScopeAccess)
	if err != nil {
		u.metrics.Observe(opResolve, resultDenied)
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claim.Subject)
	if err != nil {
		u.metrics.Observe(opResolve, resultDenied)
		return nil, fmt.Errorf("%w: malformed subject", ErrInvalidToken)
	}

	a, err := u.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			u.metrics.Observe(opResolve, resultDenied)
			return nil, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
		}
		u.metrics.Observe(opResolve, resultError)
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	u.metrics.Observe(opResolve, resultOK)
	return a, nil
}

// Logout keeps no server-side state; issued tokens stay valid until they
// expire and clients are expected to discard them.
func (u *Usecase) Logout(ctx context.Context) error {
	u.metrics.Observe(opLogout, resultOK)
	if a, ok := AccountFromContext(ctx); ok {
		obs.WithTrace(ctx, u.log).Debug("logout", zap.Stringer("account_id", a.ID))
	}
	return nil
}

func (u *Usecase) issuePair(subject string) (*domainauth.TokenPair, error) {
	access, err := u.tokens.Issue(subject, domainauth.ScopeAccess, u.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := u.tokens.Issue(subject, domainauth.ScopeRefresh, u.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &domainauth.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
