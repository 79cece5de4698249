// Package identity authenticates callers and carries their user id through
// the request context.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UserHeaderName carries the caller id when header auth is allowed.
const UserHeaderName = "X-User-ID"

type contextKey int

const (
	userIDKey contextKey = iota
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Verifier resolves the caller of a request.
type Verifier struct {
	secret      []byte
	allowHeader bool
}

// NewVerifier creates a verifier. An empty secret disables bearer tokens.
func NewVerifier(secret string, allowHeader bool) *Verifier {
	return &Verifier{secret: []byte(secret), allowHeader: allowHeader}
}

// UserID returns the authenticated user id for r.
func (v *Verifier) UserID(r *http.Request) (string, error) {
	if token := bearerToken(r); token != "" && len(v.secret) > 0 {
		return v.parse(token)
	}
	if v.allowHeader {
		if id := strings.TrimSpace(r.Header.Get(UserHeaderName)); userIDPattern.MatchString(id) {
			return id, nil
		}
	}
	return "", ErrUnauthenticated
}

func (v *Verifier) parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	sub, err := token.Claims.GetSubject()
	if err == nil && sub != "" {
		return sub, nil
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		if id, ok := claims["user_id"].(string); ok && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
}

// bearerToken reads the Authorization header, or the token query parameter
// for websocket upgrades where browsers cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects unauthenticated requests and stores the caller id in
// the request context.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := v.UserID(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
