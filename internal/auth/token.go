package auth

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	domainauth "github.com/NordCoder/authd/internal/domain/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrEmptyKey  = errors.New("signing key is empty")
	ErrSharedKey = errors.New("access and refresh signing keys must differ")
)

var _ domainauth.TokenCodec = (*TokenCodec)(nil)

// Keys holds one HMAC secret per token scope.
type Keys struct {
	Access  []byte
	Refresh []byte
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Scope domainauth.Scope `json:"scope"`
}

// TokenCodec signs and verifies HS256 tokens. Each scope has its own key, and
// the scope is also carried inside the token, so a token never verifies under
// a scope other than the one it was issued for.
type TokenCodec struct {
	keys map[domainauth.Scope][]byte
	now  func() time.Time
}

type CodecOption func(*TokenCodec)

// WithClock replaces the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

func NewTokenCodec(keys Keys, opts ...CodecOption) (*TokenCodec, error) {
	if len(keys.Access) == 0 || len(keys.Refresh) == 0 {
		return nil, ErrEmptyKey
	}
	if bytes.Equal(keys.Access, keys.Refresh) {
		return nil, ErrSharedKey
	}
	c := &TokenCodec{
		keys: map[domainauth.Scope][]byte{
			domainauth.ScopeAccess:  bytes.Clone(keys.Access),
			domainauth.ScopeRefresh: bytes.Clone(keys.Refresh),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *TokenCodec) Issue(subject string, scope domainauth.Scope, ttl time.Duration) (string, error) {
	key, ok := c.keys[scope]
	if !ok {
		return "", fmt.Errorf("issue token: unknown scope %q", scope)
	}
	// NumericDate keeps whole seconds; exp must stay exactly iat+ttl.
	now := c.now().Truncate(time.Second)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: scope,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", scope, err)
	}
	return signed, nil
}

// Verify returns domainauth.ErrTokenExpired for a correctly signed token past
// its expiry and wraps domainauth.ErrTokenInvalid for everything else.
func (c *TokenCodec) Verify(raw string, scope domainauth.Scope) (*domainauth.Claim, error) {
	key, ok := c.keys[scope]
	if !ok {
		return nil, fmt.Errorf("%w: unknown scope %q", domainauth.ErrTokenInvalid, scope)
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domainauth.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", domainauth.ErrTokenInvalid, err)
	}

	if claims.Scope != scope {
		return nil, fmt.Errorf("%w: scope mismatch", domainauth.ErrTokenInvalid)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", domainauth.ErrTokenInvalid)
	}

	out := &domainauth.Claim{
		Subject:   claims.Subject,
		Scope:     claims.Scope,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return out, nil
}
