package syncdata

import (
	"context"
	"fmt"
	"io"
)

// GenerateStats counts the outcome of one collection's generation phase.
type GenerateStats struct {
	Created   int
	Updated   int
	Unchanged int
	Invalid   int
}

// Generate persists every valid item of the handler's collection: new rows
// are created, resolved rows merged in place, unchanged rows skipped under
// the handler's unchanged-save policy. The persisted identifier is written
// back onto the item so later collections can resolve references to it.
func Generate(ctx context.Context, data *Data, store Store, handler *Handler, log *RunLog) (GenerateStats, error) {
	var stats GenerateStats

	collection, ok := data.Collections[handler.Schema.Entity]
	if !ok {
		return stats, nil
	}

	entity := handler.Schema.Entity
	idField := handler.Schema.IDFieldName()

	for _, item := range collection.Items {
		if !item.Valid {
			stats.Invalid++
			log.Mark("x")
			continue
		}

		resolvedID := item.Cleaned[idField]

		if !item.Changed && !handler.SaveUnchanged {
			item.ID = resolvedID
			stats.Unchanged++
			log.Mark("-")
			continue
		}

		fields, manySets, err := splitCleaned(handler.Schema, item.Cleaned)
		if err != nil {
			return stats, err
		}

		id, err := store.Save(ctx, entity, resolvedID, fields)
		if err != nil {
			return stats, fmt.Errorf("error saving '%s' row: %w", entity, err)
		}

		for fname, related := range manySets {
			rel := handler.Schema.Relations[fname]
			if err := store.ReplaceSet(ctx, rel, id, related); err != nil {
				return stats, fmt.Errorf("error replacing '%s.%s' association set: %w", entity, fname, err)
			}
		}

		item.ID = id
		if resolvedID == nil {
			stats.Created++
			log.Mark("+")
		} else {
			stats.Updated++
			log.Mark(".")
		}
	}

	return stats, nil
}

// splitCleaned partitions cleaned values into the column fields to save and
// the many-valued association sets to replace, restricted to the declared
// field set. File-backed values are read here; their streams are closed on
// every path.
func splitCleaned(schema Schema, cleaned map[string]any) (map[string]any, map[string][]any, error) {
	idField := schema.IDFieldName()
	declared := schema.declaredFields(cleaned)

	fields := make(map[string]any)
	manySets := make(map[string][]any)

	for _, name := range declared {
		value, ok := cleaned[name]
		if !ok || name == idField {
			continue
		}

		if rel, ok := schema.Relation(name); ok && rel.Kind == RelationMany {
			// the cleaned sequence defines the complete final membership.
			seq, _ := value.([]any)
			related := make([]any, 0, len(seq))
			for _, elem := range seq {
				if elem != nil {
					related = append(related, elem)
				}
			}
			manySets[name] = related
			continue
		}

		if ref, ok := value.(FileRef); ok {
			content, err := readAttachment(ref)
			if err != nil {
				return nil, nil, fmt.Errorf("error reading attachment '%s': %w", ref.Path, err)
			}
			fields[name] = content
			continue
		}

		fields[name] = value
	}

	return fields, manySets, nil
}

func readAttachment(ref FileRef) (_ []byte, err error) {
	r, err := ref.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		cerr := r.Close()
		if err == nil {
			err = cerr
		}
	}()
	return io.ReadAll(r)
}
