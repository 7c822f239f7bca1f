package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"micetrack/internal/auth"
)

func newAuthServer(t *testing.T, a *auth.Authenticator) http.Handler {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetUserFromContext(r.Context())
		if claims != nil {
			w.Header().Set("X-User", claims.Username)
		}
		w.WriteHeader(http.StatusOK)
	})
	return AuthMiddleware(a)(next)
}

func TestMiddlewareAllowsValidBearer(t *testing.T) {
	a := auth.NewAuthenticator(auth.Config{Enabled: true, Username: "admin", Password: "pw", JWTSecret: "s"})
	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)

	h := newAuthServer(t, a)
	req := httptest.NewRequest(http.MethodGet, "/api/presets", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", rec.Header().Get("X-User"))
}

func TestMiddlewareAllowsQueryToken(t *testing.T) {
	a := auth.NewAuthenticator(auth.Config{Enabled: true, Username: "admin", Password: "pw", JWTSecret: "s"})
	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)

	h := newAuthServer(t, a)
	req := httptest.NewRequest(http.MethodGet, "/ws/progress?token="+token, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejects(t *testing.T) {
	a := auth.NewAuthenticator(auth.Config{Enabled: true, Username: "admin", Password: "pw", JWTSecret: "s"})
	h := newAuthServer(t, a)

	cases := map[string]func(*http.Request){
		"missing header": func(r *http.Request) {},
		"not bearer":     func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
		"garbage token":  func(r *http.Request) { r.Header.Set("Authorization", "Bearer garbage") },
		"empty query":    func(r *http.Request) { r.URL.RawQuery = "token=" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/presets", nil)
			mutate(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestMiddlewarePassthroughWhenDisabled(t *testing.T) {
	a := auth.NewAuthenticator(auth.Config{Enabled: false})
	h := newAuthServer(t, a)

	req := httptest.NewRequest(http.MethodGet, "/api/presets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
