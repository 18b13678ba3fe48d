package engine

import (
	"reflect"
	"sort"
)

// Field ownership controls how divergent versions of an entity merge.
//
// - ownerSystem: the system of record's stored value wins over a client
//   write. A system-originated event always writes its value.
// - ownerLastWriter: the incoming value wins regardless of source.
//
// The tables are fixed per entity type and supplied by the business schema;
// they are the single place ownership is declared.
type fieldOwner int

const (
	ownerLastWriter fieldOwner = iota
	ownerSystem
)

var ownershipByType = map[EntityType]map[string]fieldOwner{
	EntityTypeProfile: {
		"age":             ownerSystem,
		"height_cm":       ownerSystem,
		"activity_level":  ownerSystem,
		"engagement_tier": ownerLastWriter,
		"risk_score":      ownerLastWriter,
		"last_active_at":  ownerLastWriter,
	},
	EntityTypeActivity: {
		"category":    ownerLastWriter,
		"title":       ownerLastWriter,
		"metadata":    ownerLastWriter,
		"occurred_at": ownerLastWriter,
		"verified":    ownerSystem,
	},
	EntityTypeGoal: {
		"title":        ownerLastWriter,
		"target_value": ownerLastWriter,
		"unit":         ownerLastWriter,
		"status":       ownerSystem,
		"due_date":     ownerLastWriter,
	},
}

// Resolve merges the current persisted state with an incoming payload using
// the entity type's ownership table. It is a pure function: same inputs,
// same output.
//
// The merge is field by field. Fields absent from incoming keep their current
// value; a system-owned field keeps its stored value when a client writes it.
// Resolution does not apply to deletes; callers skip it for that operation.
//
// The second return value lists the incoming fields whose values were
// overridden by the stored state, sorted for determinism. An empty list means
// no conflict occurred.
func Resolve(current *EntityRow, incoming map[string]any, source Source, entityType EntityType) (map[string]any, []string) {
	if current == nil {
		return cloneFields(incoming), nil
	}

	ownership := ownershipByType[entityType]
	out := cloneFields(current.Fields)
	var overridden []string

	for field, value := range incoming {
		if ownership[field] == ownerSystem && source == SourceClient {
			stored, has := current.Fields[field]
			if has {
				if !reflect.DeepEqual(stored, value) {
					overridden = append(overridden, field)
				}
				continue
			}
		}
		out[field] = value
	}

	sort.Strings(overridden)
	return out, overridden
}
