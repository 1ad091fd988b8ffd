package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/polymind/backend/internal/config"
)

func TestTokenAuthenticator(t *testing.T) {
	a := NewTokenAuthenticator(map[string]string{"secret": "alice"})

	tests := []struct {
		name   string
		header string
		query  string
		want   string
		err    error
	}{
		{name: "bearer", header: "Bearer secret", want: "alice"},
		{name: "lowercase scheme", header: "bearer secret", want: "alice"},
		{name: "query token", query: "?token=secret", want: "alice"},
		{name: "unknown token", header: "Bearer nope", err: ErrUnauthenticated},
		{name: "basic scheme", header: "Basic secret", err: ErrUnauthenticated},
		{name: "missing", err: ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sessions"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			user, err := a.Authenticate(req)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, user.ID)
		})
	}
}

func TestFromConfigChain(t *testing.T) {
	a := FromConfig(config.AuthConfig{
		Tokens:     map[string]string{"secret": "alice"},
		UserHeader: "X-User-Id",
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Id", "bob")
	user, err := a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "bob", user.ID)

	req.Header.Set("Authorization", "Bearer secret")
	user, err = a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.ID)

	_, err = FromConfig(config.AuthConfig{}).Authenticate(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestChainStopsOnHardError(t *testing.T) {
	boom := errors.New("directory offline")
	c := Chain{
		AuthenticatorFunc(func(*http.Request) (User, error) { return User{}, boom }),
		HeaderAuthenticator{Header: "X-User-Id"},
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Id", "bob")

	_, err := c.Authenticate(req)
	assert.ErrorIs(t, err, boom)
}

func TestRequireMiddleware(t *testing.T) {
	a := HeaderAuthenticator{Header: "X-User-Id"}
	h := Require(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(user.ID))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Id", "carol")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol", rec.Body.String())
}

func TestOptionalMiddleware(t *testing.T) {
	var seen []bool
	h := Optional(HeaderAuthenticator{Header: "X-User-Id"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := UserFromContext(r.Context())
		seen = append(seen, ok)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Id", "dave")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, []bool{false, true}, seen)
}
