package auth

import "time"

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

type TokenCodec interface {
	Issue(subject string, scope Scope, ttl time.Duration) (string, error)
	Verify(token string, scope Scope) (*Claim, error)
}
