// internal/entity/entity.go
//
// LogicalEntity model.
//
// Context
// -------
// A LogicalEntity is a named kind of archivable or recoverable thing, for
// example "master_teacher", "student", or "assessment".  It never maps to a
// fixed table.  Instead it carries ordered candidate lists that the schema
// resolver tries against the live database on every operation:
//
//   - Tables         – candidate table names, first existing wins.
//   - IDColumns      – candidate identifier columns on the entity table.
//   - LinkColumns    – columns on the entity table that hold the root
//     users id (e.g. user_id).
//   - RootIDColumns  – columns on the root users table that duplicate the
//     entity identifier (e.g. users.master_teacher_id).
//
// Entities are immutable configuration.  They come from Builtins() and may
// be overridden per deployment from YAML (see internal/config).
//
// Notes
// -----
// • Struct tags use `koanf:"…"` so the config loader can unmarshal them.
// • Oxford commas, two spaces after periods.
package entity

import (
	"fmt"
	"strings"
)

// Mode is the soft-delete convention an entity uses.
type Mode string

const (
	ModeDeleted  Mode = "deleted"
	ModeArchived Mode = "archived"
	ModeVoided   Mode = "voided"
)

// Strategy selects what archiving does to the source rows.
type Strategy string

const (
	// StrategyPurge snapshots the record, then deletes it and every
	// dependent row found through the reference graph.
	StrategyPurge Strategy = "purge"
	// StrategyFlag snapshots the record, then sets the mode's flag columns.
	StrategyFlag Strategy = "flag"
)

// FlagSet is the value written to a flag column to mark a record as
// soft-deleted, archived, or voided.  FlagClear is the active value.
const (
	FlagSet   = 1
	FlagClear = 0
)

// ModeColumns lists candidate column names tried for a recovery mode.
type ModeColumns struct {
	Flag   []string
	Reason []string
	At     []string
	By     []string
}

// Columns returns the candidate recovery columns for m.
func (m Mode) Columns() ModeColumns {
	switch m {
	case ModeArchived:
		return ModeColumns{
			Flag:   []string{"is_archived", "archived"},
			Reason: []string{"archive_reason", "archived_reason"},
			At:     []string{"archived_at", "archive_date"},
			By:     []string{"archived_by"},
		}
	case ModeVoided:
		return ModeColumns{
			Flag:   []string{"is_voided", "voided"},
			Reason: []string{"void_reason", "voided_reason"},
			At:     []string{"voided_at", "void_date"},
			By:     []string{"voided_by"},
		}
	default:
		return ModeColumns{
			Flag:   []string{"is_deleted", "deleted"},
			Reason: []string{"deleted_reason", "delete_reason", "deletion_reason"},
			At:     []string{"deleted_at", "date_deleted"},
			By:     []string{"deleted_by"},
		}
	}
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	return m == ModeDeleted || m == ModeArchived || m == ModeVoided
}

// Entity is one LogicalEntity definition.
type Entity struct {
	Key           string   `koanf:"key"            validate:"required"`
	Tables        []string `koanf:"tables"         validate:"required,min=1,dive,required"`
	IDColumns     []string `koanf:"id_columns"     validate:"required,min=1,dive,required"`
	LinkColumns   []string `koanf:"link_columns"`
	RootIDColumns []string `koanf:"root_id_columns"`
	IDFormat      string   `koanf:"id_format"`
	Mode          Mode     `koanf:"mode"           validate:"omitempty,oneof=deleted archived voided"`
	Strategy      Strategy `koanf:"strategy"       validate:"omitempty,oneof=purge flag"`
	LabelColumns  []string `koanf:"label_columns"`
}

// withDefaults fills zero-valued optional fields.
func (e Entity) withDefaults() Entity {
	e.Key = strings.TrimSpace(e.Key)
	if e.Mode == "" {
		e.Mode = ModeDeleted
	}
	if e.Strategy == "" {
		e.Strategy = StrategyFlag
	}
	return e
}

// UserLinked reports whether rows of e hang off the root users table.
func (e Entity) UserLinked() bool {
	return len(e.LinkColumns) > 0 || len(e.RootIDColumns) > 0
}

// FormatRootID renders the fallback canonical identifier for a root id.
// Entities without an IDFormat use the decimal id.
func (e Entity) FormatRootID(rootID int64) string {
	if e.IDFormat == "" {
		return fmt.Sprintf("%d", rootID)
	}
	return fmt.Sprintf(e.IDFormat, rootID)
}
