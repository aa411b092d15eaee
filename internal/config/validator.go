// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `Load` calls `validateStruct` immediately after it unmarshals the merged
// Koanf tree.  Any tag mismatch aborts startup so the binary never runs with
// a malformed database block or an entity override that lacks tables.
//
// Entity keys must be unique across overrides; that rule is cross-field, so
// it lives here rather than in a tag.
//
// Notes
// -----
//   • Oxford commas, two spaces after periods.

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

//
// validator instance (package-level singleton)
//

var v = validator.New()

//
// public API
//

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	if err := v.Struct(c); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Entities))
	for _, e := range c.Entities {
		if seen[e.Key] {
			return fmt.Errorf("entities: duplicate key %q", e.Key)
		}
		seen[e.Key] = true
	}
	return nil
}
