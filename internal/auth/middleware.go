package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Claims represents the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
}

// Role returns the most privileged role held.
func (c *Claims) Role() string {
	if c != nil && slices.Contains(c.Roles, RoleController) {
		return RoleController
	}
	return RoleViewer
}

// ContextKey is used for storing claims in request context.
type ContextKey string

const (
	ClaimsKey ContextKey = "claims"
)

// Roles.
const (
	RoleViewer     = "viewer"
	RoleController = "controller"
)

// AnonymousSubject is the subject given to every client when auth is disabled.
const AnonymousSubject = "anonymous"

// ErrMissingToken is returned when a request carries no token.
var ErrMissingToken = errors.New("MISSING_TOKEN")

// Middleware authenticates requests. With a nil verifier, authentication is
// disabled and every request is a controller.
type Middleware struct {
	verifier *Verifier
}

// NewMiddleware creates a middleware with authentication disabled.
func NewMiddleware() *Middleware {
	return &Middleware{}
}

// NewMiddlewareWithVerifier creates a new auth middleware with a JWT verifier.
func NewMiddlewareWithVerifier(verifier *Verifier) *Middleware {
	return &Middleware{
		verifier: verifier,
	}
}

// Enabled reports whether tokens are checked.
func (m *Middleware) Enabled() bool {
	return m.verifier != nil
}

// Authenticate extracts and verifies the request's token.
func (m *Middleware) Authenticate(r *http.Request) (*Claims, error) {
	if m.verifier == nil {
		return &Claims{Subject: AnonymousSubject, Roles: []string{RoleController}}, nil
	}

	token, err := extractToken(r)
	if err != nil {
		return nil, err
	}
	return m.verifier.VerifyToken(token)
}

// RequireAuth creates middleware that requires authentication.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.Authenticate(r)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, ErrMissingToken) {
				msg = "Authentication required"
			}
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", msg, nil)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// RequireRole creates middleware that requires one of the given roles.
func (m *Middleware) RequireRole(requiredRoles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromRequest(r)
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED",
					"Authentication required", nil)
				return
			}
			if !hasAnyRole(claims, requiredRoles) {
				writeError(w, http.StatusForbidden, "FORBIDDEN",
					"Insufficient permissions", nil)
				return
			}
			next(w, r)
		}
	}
}

// extractToken reads the bearer token from the Authorization header or the
// token query parameter.
func extractToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return "", fmt.Errorf("%w: invalid Authorization header format", ErrInvalidToken)
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			return "", ErrMissingToken
		}
		return token, nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

func hasAnyRole(claims *Claims, requiredRoles []string) bool {
	if len(requiredRoles) == 0 {
		return true
	}
	for _, required := range requiredRoles {
		if slices.Contains(claims.Roles, required) {
			return true
		}
	}
	return false
}

// GetClaimsFromRequest extracts claims from the request context.
func GetClaimsFromRequest(r *http.Request) *Claims {
	claims, ok := r.Context().Value(ClaimsKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// writeError writes an error response in the API format.
func writeError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": generateCorrelationID(),
	}

	if details != nil {
		response["details"] = details
	}

	_ = json.NewEncoder(w).Encode(response)
}

// generateCorrelationID generates a simple correlation ID for request tracking.
func generateCorrelationID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
