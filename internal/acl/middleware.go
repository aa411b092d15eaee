// internal/acl/middleware.go
//
// Chi middleware helpers that enforce RBAC per entity.

package acl

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yanizio/schoolarchive/internal/auth"
)

// RequirePermission verifies that the actor may perform action on the
// entity named by the `{entity}` route parameter.
func RequirePermission(c Checker, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, ok := auth.UserID(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			entity := chi.URLParam(r, "entity")
			allowed, err := c.Allowed(r.Context(), uid, auth.Roles(r.Context()), entity, action)
			if err != nil {
				zap.L().Error("acl check", zap.Int64("actor_id", uid), zap.String("entity", entity),
					zap.String("action", action), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
