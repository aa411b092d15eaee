// internal/auth/context.go
//
// Actor identity carried through the request context.
//
// Context
// -------
// Authentication happens upstream of this service.  The portal's gateway
// validates the session and forwards the actor's users id, plus an optional
// comma-separated role list, in trusted headers.  `Gate` copies those
// headers into the request context; engines and the audit sink read them
// back with `UserID` and `Roles`.
//
// Usage
// -----
//
//	r.Use(auth.Gate("X-Actor-Id", "X-Actor-Roles"))
//	id, ok := auth.UserID(ctx)   // 123, true
//
// Notes
// -----
// • Never expose this service directly; the headers are trusted as-is.
// • Oxford commas, two spaces after periods.

package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// userKey and rolesKey are unexported to avoid context-key collisions.
type (
	userKey  struct{}
	rolesKey struct{}
)

// WithUser returns a new context carrying the given userID.
func WithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID extracts the userID from ctx.  It returns (0, false) if no user is
// set.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userKey{}).(int64)
	return id, ok
}

// WithRoles returns a new context carrying role names.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey{}, roles)
}

// Roles returns the role names set by Gate, or nil.
func Roles(ctx context.Context) []string {
	roles, _ := ctx.Value(rolesKey{}).([]string)
	return roles
}

// Gate rejects requests without a positive actor id in actorHeader and
// stores the actor, and any roles from rolesHeader, in the context.
func Gate(actorHeader, rolesHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(actorHeader)), 10, 64)
			if err != nil || id <= 0 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			ctx := WithUser(r.Context(), id)
			if roles := splitRoles(r.Header.Get(rolesHeader)); len(roles) > 0 {
				ctx = WithRoles(ctx, roles)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func splitRoles(h string) []string {
	var out []string
	for _, p := range strings.Split(h, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
