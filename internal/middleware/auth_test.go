package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/smm-panel/internal/model"
)

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetUserIDFromContext(r.Context())
		require.True(t, ok, "user id not in context")
		assert.Equal(t, int64(42), id)
	})

	w := httptest.NewRecorder()
	token := m.SetAuthCookie(w, 42)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies, "no cookies set by SetAuthCookie")
	assert.Equal(t, token, cookies[0].Value)

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookies[0])
	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	assert.True(t, nextCalled, "next handler was not called")
}

func TestAuthMiddleware_WithBearerToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	var got int64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetUserIDFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+m.Token(7))
	w := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7), got)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	other := NewAuthMiddleware("other-secret")

	tests := []struct {
		name  string
		token string
	}{
		{name: "no token", token: ""},
		{name: "garbage", token: "not-a-token"},
		{name: "foreign signature", token: other.Token(42)},
		{name: "tampered id", token: "43" + m.Token(42)[2:]},
		{name: "non-positive id", token: m.Token(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.token != "" {
				r.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			m.Middleware(next).ServeHTTP(w, r)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	roles := map[int64]model.Role{1: model.RoleAdmin, 2: model.RoleUser}
	lookup := func(ctx context.Context, userID int64) (model.Role, error) {
		role, ok := roles[userID]
		if !ok {
			return "", errors.New("user not found")
		}
		return role, nil
	}

	tests := []struct {
		name       string
		userID     int64
		withUser   bool
		wantStatus int
	}{
		{name: "admin passes", userID: 1, withUser: true, wantStatus: http.StatusOK},
		{name: "user is forbidden", userID: 2, withUser: true, wantStatus: http.StatusForbidden},
		{name: "unknown user", userID: 3, withUser: true, wantStatus: http.StatusUnauthorized},
		{name: "no user in context", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				role, ok := GetRoleFromContext(r.Context())
				require.True(t, ok)
				assert.Equal(t, model.RoleAdmin, role)
			})

			r := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.withUser {
				r = r.WithContext(context.WithValue(r.Context(), userIDKey, tt.userID))
			}
			w := httptest.NewRecorder()
			RequireRole(lookup, model.RoleAdmin)(next).ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
