package auth

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthorized means no usable credentials were presented.
	ErrUnauthorized = errors.New("auth: missing credentials")
	// ErrForbidden means the caller is known but its role is too low.
	ErrForbidden = errors.New("auth: role not permitted")
	// ErrInvalidToken wraps signature, algorithm and claim failures.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrUnknownRole is returned for a role claim outside the known set.
	ErrUnknownRole = errors.New("auth: unknown role")
)

// StatusCode maps an authorization error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}
