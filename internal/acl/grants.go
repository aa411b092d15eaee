package acl

import (
	"context"
	"strings"
)

// Grants is a static Checker loaded from configuration: role name to a list
// of "entity:action" patterns, where either side may be "*".
//
//	registrar: ["student:*", "assessment:preview"]
//	principal: ["*:*"]
type Grants map[string][]string

// Allowed ignores userID; only the gateway's roles count.
func (g Grants) Allowed(_ context.Context, _ int64, roles []string, entity, action string) (bool, error) {
	for _, role := range roles {
		for _, p := range g[role] {
			ent, act, ok := strings.Cut(p, ":")
			if !ok {
				continue
			}
			if (ent == "*" || ent == entity) && (act == "*" || act == action) {
				return true, nil
			}
		}
	}
	return false, nil
}
