package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

var (
	ErrMissingToken  = apperr.New(apperr.ErrUnauthorized, "missing bearer token")
	ErrAdminRequired = apperr.New(apperr.ErrForbidden, "admin role required")
	ErrAccessDenied  = apperr.New(apperr.ErrForbidden, "access denied")
)

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type Verifier interface {
	Verify(raw string) (Principal, error)
}

// ErrorWriter renders an error response; the HTTP layer supplies it so the
// middleware shares the same error body format.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Authenticate rejects requests without a valid bearer token.
func Authenticate(v Verifier, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				writeErr(w, r, ErrMissingToken)
				return
			}

			p, err := v.Verify(strings.TrimSpace(token))
			if err != nil {
				writeErr(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAdmin must be mounted after Authenticate.
func RequireAdmin(writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				writeErr(w, r, ErrMissingToken)
				return
			}
			if !p.IsAdmin() {
				writeErr(w, r, ErrAdminRequired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
