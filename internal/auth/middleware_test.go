package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-laundry/internal/auth"
	"github.com/noah-isme/backend-laundry/internal/common"
)

func newMiddleware(t *testing.T) (auth.Middleware, *auth.Service) {
	t.Helper()
	svc, err := auth.NewService(auth.Config{Secret: "middleware-secret"})
	require.NoError(t, err)
	return auth.Middleware{Service: svc}, svc
}

func whoami(w http.ResponseWriter, r *http.Request) {
	id, _ := common.UserID(r.Context())
	common.JSON(w, http.StatusOK, map[string]string{"user": id, "role": common.Role(r.Context())})
}

func request(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticateIsOptional(t *testing.T) {
	mw, svc := newMiddleware(t)
	r := chi.NewRouter()
	r.Use(mw.Authenticate)
	r.Get("/", whoami)

	rec := request(t, r, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"user":"","role":""}`, rec.Body.String())

	rec = request(t, r, "garbage")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"user":"","role":""}`, rec.Body.String())

	token, _, err := svc.Issue("u1", "")
	require.NoError(t, err)
	rec = request(t, r, token)
	require.JSONEq(t, `{"user":"u1","role":"customer"}`, rec.Body.String())
}

func TestRequireAuth(t *testing.T) {
	mw, svc := newMiddleware(t)
	h := mw.RequireAuth(http.HandlerFunc(whoami))

	rec := request(t, h, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "UNAUTHORIZED")

	rec = request(t, h, "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _, err := svc.Issue("u1", "customer")
	require.NoError(t, err)
	rec = request(t, h, token)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole(t *testing.T) {
	mw, svc := newMiddleware(t)
	h := mw.RequireRole(common.RoleAdmin)(http.HandlerFunc(whoami))

	customer, _, err := svc.Issue("u1", "customer")
	require.NoError(t, err)
	rec := request(t, h, customer)
	require.Equal(t, http.StatusForbidden, rec.Code)

	admin, _, err := svc.Issue("staff-1", "admin")
	require.NoError(t, err)
	rec = request(t, h, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"user":"staff-1","role":"admin"}`, rec.Body.String())

	rec = request(t, h, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
