package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/NordCoder/authd/internal/domain/account"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

type ctxKey int

const accountKey ctxKey = 1

func ContextWithAccount(ctx context.Context, a *account.Account) context.Context {
	return context.WithValue(ctx, accountKey, a)
}

func AccountFromContext(ctx context.Context) (*account.Account, bool) {
	a, ok := ctx.Value(accountKey).(*account.Account)
	return a, ok && a != nil
}

type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, accessToken string) (*account.Account, error)
}

// RequireAccount runs next only for requests carrying a valid access token
// of an existing account, which is then available via AccountFromContext.
// Failures are written by fail and next is not called.
func RequireAccount(resolver IdentityResolver, fail func(http.ResponseWriter, *http.Request, error), next runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		token, err := bearerToken(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		a, err := resolver.ResolveIdentity(r.Context(), token)
		if err != nil {
			fail(w, r, err)
			return
		}
		next(w, r.WithContext(ContextWithAccount(r.Context(), a)), params)
	}
}

// bearerToken extracts the token of an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", ErrUnauthorized
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", ErrUnauthorized
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrUnauthorized
	}
	return token, nil
}
