package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/patric-chuzhbe/minurl/internal/logger"
	"github.com/patric-chuzhbe/minurl/internal/models"
	"github.com/patric-chuzhbe/minurl/internal/user"
)

const bearerPrefix = "Bearer "

// Principal is the authenticated identity attached to a request.
type Principal struct {
	ID       string
	Username string
}

type contextKey struct{}

var principalKey contextKey

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal attached by the Gate, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.ID == "" {
		return Principal{}, false
	}

	return p, true
}

type tokenValidator interface {
	Validate(tokenString string) bool
	ExtractSubject(tokenString string) string
}

type userFinder interface {
	GetUserByUsername(ctx context.Context, username string) (*user.User, error)
}

// Gate resolves the principal of each request from its bearer token.
// It never rejects a request for lack of identity; see RequirePrincipal.
// The only response it writes itself is a 500 when the user store fails,
// since the request cannot be classified as anonymous or authenticated.
type Gate struct {
	tokens tokenValidator
	users  userFinder
}

// NewGate creates a Gate backed by the given token validator and user store.
func NewGate(tokens tokenValidator, users userFinder) *Gate {
	return &Gate{
		tokens: tokens,
		users:  users,
	}
}

// Authenticate is an HTTP middleware that attaches a Principal to the request
// context when the Authorization header carries a valid token of an existing user.
func (g *Gate) Authenticate(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		if request.Method == http.MethodOptions {
			h.ServeHTTP(response, request)
			return
		}

		tokenString, ok := bearerToken(request)
		if !ok || !g.tokens.Validate(tokenString) {
			h.ServeHTTP(response, request)
			return
		}

		usr, err := g.users.GetUserByUsername(request.Context(), g.tokens.ExtractSubject(tokenString))
		if errors.Is(err, models.ErrUserNotFound) {
			h.ServeHTTP(response, request)
			return
		}
		if err != nil {
			logger.Log.Warnln("Error calling the `g.users.GetUserByUsername()`: ", zap.Error(err))
			response.WriteHeader(http.StatusInternalServerError)
			return
		}

		ctx := WithPrincipal(request.Context(), Principal{ID: usr.ID, Username: usr.Username})
		h.ServeHTTP(response, request.WithContext(ctx))
	}

	return http.HandlerFunc(middleware)
}

// RequirePrincipal is the route-level policy for protected routes:
// requests without an attached principal get 401.
func RequirePrincipal(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		if _, ok := PrincipalFromContext(request.Context()); !ok {
			response.Header().Set("Content-Type", "application/json")
			response.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(response).Encode(models.ErrorResponse{Error: "unauthorized"})
			return
		}

		h.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}

func bearerToken(request *http.Request) (string, bool) {
	header := request.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}

	tokenString := strings.TrimSpace(header[len(bearerPrefix):])

	return tokenString, tokenString != ""
}
