package tools

import (
	"context"
	"maps"
	"strings"
)

// PlaceholderUserID is the all-zero id models emit when they do not know
// the caller.
const PlaceholderUserID = "00000000-0000-0000-0000-000000000000"

// InjectIdentity replaces a missing or placeholder user_id with userID.
// Any other non-empty value is passed through.
func InjectIdentity(userID string) Middleware {
	return func(next ExecuteFunc) ExecuteFunc {
		return func(ctx context.Context, params map[string]any) Result {
			if needsIdentity(params["user_id"]) {
				params = maps.Clone(params)
				if params == nil {
					params = map[string]any{}
				}
				params["user_id"] = userID
			}
			return next(ctx, params)
		}
	}
}

// WithIdentity returns reg with every execution bound to the authenticated
// user. reg itself is not modified.
func WithIdentity(reg *Registry, userID string) *Registry {
	return reg.With(InjectIdentity(userID))
}

func needsIdentity(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	return s == "" || s == "undefined" || s == PlaceholderUserID
}
