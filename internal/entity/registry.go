package entity

import (
	"fmt"
	"sort"

	"github.com/yanizio/schoolarchive/internal/apperror"
)

// Registry is an immutable key → Entity lookup built once at startup.
type Registry struct {
	byKey map[string]Entity
}

// NewRegistry merges overrides on top of base.  An override with the same
// key replaces the base definition entirely.
func NewRegistry(base []Entity, overrides ...Entity) (*Registry, error) {
	r := &Registry{byKey: make(map[string]Entity, len(base)+len(overrides))}
	for _, list := range [][]Entity{base, overrides} {
		for _, e := range list {
			e = e.withDefaults()
			if e.Key == "" {
				return nil, fmt.Errorf("entity: empty key")
			}
			if !e.Mode.Valid() {
				return nil, fmt.Errorf("entity %s: unknown mode %q", e.Key, e.Mode)
			}
			if e.Strategy != StrategyPurge && e.Strategy != StrategyFlag {
				return nil, fmt.Errorf("entity %s: unknown strategy %q", e.Key, e.Strategy)
			}
			if len(e.Tables) == 0 || len(e.IDColumns) == 0 {
				return nil, fmt.Errorf("entity %s: tables and id_columns are required", e.Key)
			}
			r.byKey[e.Key] = e
		}
	}
	return r, nil
}

// Lookup returns the entity for key or an error wrapping
// apperror.ErrUnknownEntity.
func (r *Registry) Lookup(key string) (Entity, error) {
	e, ok := r.byKey[key]
	if !ok {
		return Entity{}, fmt.Errorf("entity %q: %w", key, apperror.ErrUnknownEntity)
	}
	return e, nil
}

// Keys returns every configured entity key, sorted.
func (r *Registry) Keys() []string {
	out := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Builtins is the school-portal entity catalogue shipped with the binary.
func Builtins() []Entity {
	teacherLabels := []string{"name", "first_name", "last_name", "email", "contact_number"}
	return []Entity{
		{
			Key:           "master_teacher",
			Tables:        []string{"master_teacher", "master_teachers"},
			IDColumns:     []string{"master_teacher_id", "teacher_id", "employee_id"},
			LinkColumns:   []string{"user_id"},
			RootIDColumns: []string{"master_teacher_id"},
			IDFormat:      "7000-%03d",
			Mode:          ModeArchived,
			Strategy:      StrategyPurge,
			LabelColumns:  teacherLabels,
		},
		{
			Key:           "teacher",
			Tables:        []string{"teacher", "teachers"},
			IDColumns:     []string{"teacher_id", "employee_id"},
			LinkColumns:   []string{"user_id"},
			RootIDColumns: []string{"teacher_id"},
			IDFormat:      "1000-%03d",
			Mode:          ModeArchived,
			Strategy:      StrategyPurge,
			LabelColumns:  teacherLabels,
		},
		{
			Key:           "remedial_teacher",
			Tables:        []string{"remedial_teacher", "remedial_teachers"},
			IDColumns:     []string{"remedial_teacher_id", "teacher_id"},
			LinkColumns:   []string{"user_id"},
			RootIDColumns: []string{"remedial_teacher_id"},
			IDFormat:      "3000-%03d",
			Mode:          ModeArchived,
			Strategy:      StrategyPurge,
			LabelColumns:  teacherLabels,
		},
		{
			Key:           "coordinator",
			Tables:        []string{"coordinator", "coordinators"},
			IDColumns:     []string{"coordinator_id", "teacher_id"},
			LinkColumns:   []string{"user_id"},
			RootIDColumns: []string{"coordinator_id"},
			IDFormat:      "5000-%03d",
			Mode:          ModeArchived,
			Strategy:      StrategyPurge,
			LabelColumns:  teacherLabels,
		},
		{
			Key:          "student",
			Tables:       []string{"students", "student"},
			IDColumns:    []string{"student_id", "id"},
			Mode:         ModeDeleted,
			Strategy:     StrategyFlag,
			LabelColumns: []string{"first_name", "last_name", "lrn", "grade_level", "section"},
		},
		{
			Key:          "assessment",
			Tables:       []string{"assessments", "assessment"},
			IDColumns:    []string{"assessment_id", "id"},
			Mode:         ModeArchived,
			Strategy:     StrategyFlag,
			LabelColumns: []string{"title", "subject", "quarter"},
		},
		{
			Key:          "payment",
			Tables:       []string{"payments", "payment"},
			IDColumns:    []string{"payment_id", "id"},
			Mode:         ModeVoided,
			Strategy:     StrategyFlag,
			LabelColumns: []string{"receipt_no", "amount", "payer_name"},
		},
	}
}
