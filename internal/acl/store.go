// internal/acl/store.go
//
// Small query helpers for Role-Based Access Control.
//
// Context
// -------
// The portal keeps its RBAC model in three tables:
//
//	role        (id PK, name, enabled)
//	role_acl    (role_id, component, action, permitted)
//	user_role   (user_id, role_id)
//
// For this service `component` is a LogicalEntity key (student, payment,
// master_teacher, …) and `action` is one of archive, preview, restore, or
// reconcile.  Two questions need fast answers:
//  1. Which *role names* does user X have?        → `UserRoles()`
//  2. Is role R permitted for entity/action?      → `RoleAllowed()`
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.
package acl

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/schoolarchive/internal/schema"
)

// Actions checked by the HTTP layer.
const (
	ActionArchive   = "archive"
	ActionPreview   = "preview"
	ActionRestore   = "restore"
	ActionReconcile = "reconcile"
)

// Checker answers one permission question.  roles may be empty, in which
// case the checker looks them up itself if it can.
type Checker interface {
	Allowed(ctx context.Context, userID int64, roles []string, entity, action string) (bool, error)
}

// UserRoles returns the role *names* bound to userID.  Disabled roles are
// filtered out.
func UserRoles(ctx context.Context, q sqlx.QueryerContext, userID int64) ([]string, error) {
	const stmt = `SELECT r.name
                 FROM user_role ur
                 JOIN role r ON r.id = ur.role_id
                WHERE ur.user_id = ? AND r.enabled = TRUE`

	roles := make([]string, 0, 4)
	if err := sqlx.SelectContext(ctx, q, &roles, stmt, userID); err != nil {
		return nil, err
	}
	return roles, nil
}

// RoleAllowed reports whether *any* of the candidate roles is permitted for
// the given entity + action.  A wildcard row (`*`) in role_acl matches every
// entity.  Empty roles slice returns false, nil.
func RoleAllowed(ctx context.Context, q sqlx.QueryerContext, roles []string, entity, action string) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}

	args := make([]any, 0, len(roles)+3)
	for _, r := range roles {
		args = append(args, r)
	}
	args = append(args, entity, "*", action)

	stmt := `SELECT 1
            FROM role_acl ra
            JOIN role r ON r.id = ra.role_id
           WHERE r.name IN (` + schema.Placeholders(len(roles)) + `)
             AND ra.component IN (?, ?)
             AND ra.action   = ?
             AND ra.permitted = TRUE
           LIMIT 1`

	var hit int
	err := sqlx.GetContext(ctx, q, &hit, stmt, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Store is the database-backed Checker.
type Store struct {
	DB sqlx.QueryerContext
}

// Allowed resolves roles from user_role when the gateway sent none.
func (s Store) Allowed(ctx context.Context, userID int64, roles []string, entity, action string) (bool, error) {
	if len(roles) == 0 {
		var err error
		if roles, err = UserRoles(ctx, s.DB, userID); err != nil {
			return false, err
		}
	}
	return RoleAllowed(ctx, s.DB, roles, entity, action)
}
