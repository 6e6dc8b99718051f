package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-laundry/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// Middleware binds bearer tokens to request identities.
type Middleware struct {
	Service *Service
}

// Authenticate attaches the caller's identity when a valid token is present.
// Requests without a token, or with an invalid one, continue anonymously.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ctx, err := m.identify(r); err == nil {
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects anonymous callers with 401.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return m.guard(func(context.Context) bool { return true }, next)
}

// RequireRole rejects anonymous callers with 401 and callers lacking role with 403.
func (m Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.guard(func(ctx context.Context) bool { return common.Role(ctx) == role }, next)
	}
}

func (m Middleware) guard(allowed func(context.Context) bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.identify(r)
		switch {
		case err != nil:
			writeUnauthorized(w, err)
		case !allowed(ctx):
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions", nil)
		default:
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// identify reuses an identity attached earlier in the chain and otherwise
// parses the bearer token.
func (m Middleware) identify(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	if id, ok := common.UserID(ctx); ok && id != "" {
		return ctx, nil
	}
	if m.Service == nil {
		return ctx, errors.New("auth: service not configured")
	}
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return ctx, errNoToken
	}
	claims, err := m.Service.ParseAccessToken(token)
	if err != nil {
		return ctx, err
	}
	return common.WithRole(common.WithUserID(ctx, claims.UserID), claims.Role), nil
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.Is(err, errNoToken) || !errors.As(err, &appErr) {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return
	}
	common.JSONError(w, http.StatusUnauthorized, appErr.Code, appErr.Message, appErr.Details)
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
