// Package auth resolves the user behind an HTTP request.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/zhouzirui/polymind/backend/internal/config"
	"github.com/zhouzirui/polymind/backend/pkg/utils"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// User is an authenticated caller.
type User struct {
	ID string `json:"id"`
}

// Authenticator resolves the calling user.
type Authenticator interface {
	Authenticate(r *http.Request) (User, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request) (User, error)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (User, error) { return f(r) }

// TokenAuthenticator maps bearer tokens to user ids. Browsers cannot set
// headers on websocket handshakes, so a token query parameter is accepted too.
type TokenAuthenticator struct {
	tokens map[string]string
}

// NewTokenAuthenticator copies tokens.
func NewTokenAuthenticator(tokens map[string]string) *TokenAuthenticator {
	copied := make(map[string]string, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &TokenAuthenticator{tokens: copied}
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (User, error) {
	token := bearerToken(r)
	if token == "" {
		return User{}, ErrUnauthenticated
	}
	userID, ok := a.tokens[token]
	if !ok {
		return User{}, ErrUnauthenticated
	}
	return User{ID: userID}, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// HeaderAuthenticator trusts a user id set by an upstream proxy.
type HeaderAuthenticator struct {
	Header string
}

func (a HeaderAuthenticator) Authenticate(r *http.Request) (User, error) {
	id := strings.TrimSpace(r.Header.Get(a.Header))
	if id == "" {
		return User{}, ErrUnauthenticated
	}
	return User{ID: id}, nil
}

// Chain tries each authenticator in turn and returns the first identity found.
type Chain []Authenticator

func (c Chain) Authenticate(r *http.Request) (User, error) {
	for _, a := range c {
		user, err := a.Authenticate(r)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return User{}, err
		}
	}
	return User{}, ErrUnauthenticated
}

// FromConfig builds the authenticator described by cfg. With nothing
// configured every request is unauthenticated.
func FromConfig(cfg config.AuthConfig) Authenticator {
	var chain Chain
	if len(cfg.Tokens) > 0 {
		chain = append(chain, NewTokenAuthenticator(cfg.Tokens))
	}
	if cfg.UserHeader != "" {
		chain = append(chain, HeaderAuthenticator{Header: cfg.UserHeader})
	}
	return chain
}

type contextKey struct{}

// WithUser stores user in ctx.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the user stored by Optional or Require.
func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(contextKey{}).(User)
	return user, ok && user.ID != ""
}

// Optional attaches the caller's identity when there is one and lets
// anonymous requests through.
func Optional(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user, err := a.Authenticate(r); err == nil {
				r = r.WithContext(WithUser(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require rejects anonymous requests with 401.
func Require(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := a.Authenticate(r)
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
