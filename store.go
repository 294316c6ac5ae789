package syncdata

import "context"

// Store is the persistent store capability the engine runs against. Rows are
// exchanged as attribute maps; entity names what the implementation maps to a
// table or collection.
//
// Implementations must honor merge semantics on Save: only the passed fields
// are written, other attributes of the target row are left untouched.
type Store interface {
	// FindFirst returns the requested attributes of the first row matching
	// the filter (an equality predicate set), or nil when no row matches.
	// A nil or empty attrs requests all attributes.
	FindFirst(ctx context.Context, entity string, filter map[string]any, attrs []string) (map[string]any, error)

	// FindIn returns the requested attributes of all rows whose field value
	// is contained in values. Used for the batched scalar resolution; one
	// call must issue one store query regardless of len(values).
	FindIn(ctx context.Context, entity string, field string, values []any, attrs []string) ([]map[string]any, error)

	// Get returns the requested attributes of the row with the given
	// identifier, or nil when it does not exist.
	Get(ctx context.Context, entity string, id any, attrs []string) (map[string]any, error)

	// Save persists the fields, creating a new row when id is nil and
	// merging onto the existing row otherwise. Returns the row identifier.
	Save(ctx context.Context, entity string, id any, fields map[string]any) (any, error)

	// ReplaceSet replaces the full membership of a many-valued association:
	// after the call the join table holds exactly one (ownerID, related)
	// pair per element of related.
	ReplaceSet(ctx context.Context, rel Relation, ownerID any, related []any) error
}
