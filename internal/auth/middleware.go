package auth

import (
	"net/http"
	"strings"
)

// Middleware validates JWTs and enforces RBAC.
type Middleware struct {
	Secret []byte
	Policy Policy
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// Wrap applies auth and RBAC to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		id, err := m.authorize(r, required)
		if err != nil {
			code := StatusCode(err)
			http.Error(w, http.StatusText(code), code)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (m *Middleware) authorize(r *http.Request, required Role) (Identity, error) {
	token := BearerToken(r)
	if token == "" {
		return Identity{}, ErrUnauthorized
	}
	claims, err := ParseJWT(token, m.Secret)
	if err != nil {
		return Identity{}, err
	}
	role, err := ParseRole(claims.Role)
	if err != nil || !role.Satisfies(required) {
		return Identity{}, ErrForbidden
	}
	return Identity{TenantID: claims.TenantID, Subject: claims.Subject, Role: role}, nil
}

// BearerToken extracts the bearer token from the Authorization header.
func BearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
