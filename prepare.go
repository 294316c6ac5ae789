package syncdata

import "context"

// Prepare resolves the remaining relation values of a collection into
// store-native related-field values for the validation gate. Scalars across
// the whole collection are resolved with a single batched lookup per relation
// field; filters with one lookup per distinct predicate set.
//
// Values with no matching row become nil. Failure is deferred to validation,
// the single place strictness is enforced.
func Prepare(ctx context.Context, data *Data, store Store, handler *Handler) error {
	collection, ok := data.Collections[handler.Schema.Entity]
	if !ok {
		return nil
	}

	for fname, rel := range handler.Schema.Relations {
		resolved, err := relatedValues(ctx, store, rel, collectValues(collection, fname, rel))
		if err != nil {
			return err
		}
		if resolved == nil {
			continue
		}
		applyResolved(collection, fname, rel, resolved)
	}
	return nil
}

// collectValues gathers every value of one relation field across the
// collection. Many-valued fields contribute each element.
func collectValues(collection *Collection, fname string, rel Relation) []any {
	var values []any
	for _, item := range collection.Items {
		value, ok := item.Fields[fname]
		if !ok {
			continue
		}
		if rel.Kind == RelationMany {
			if seq, ok := value.([]any); ok {
				values = append(values, seq...)
			}
			continue
		}
		values = append(values, value)
	}
	return values
}

// relatedValues resolves the collected values into a map keyed by each
// value's related key. Scalars are partitioned from filters: scalars resolve
// with one IN query for the whole set, filters with one query per distinct
// canonical key.
func relatedValues(ctx context.Context, store Store, rel Relation, values []any) (map[string]any, error) {
	rfield := rel.RelatedFieldName()

	var scalars []any
	filters := make(map[string]Filter)
	for _, value := range values {
		if value == nil {
			continue
		}
		if _, ok := value.(TransientRef); ok {
			// leftover lenient-mode reference, validation will reject it.
			continue
		}
		if filter, ok := asFilter(value); ok {
			filters[relatedKey(filter)] = filter
			continue
		}
		scalars = append(scalars, value)
	}
	if len(scalars) == 0 && len(filters) == 0 {
		return nil, nil
	}

	resolved := make(map[string]any)

	if len(scalars) > 0 {
		rows, err := store.FindIn(ctx, rel.Entity, rfield, dedup(scalars), []string{rfield})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			resolved[relatedKey(row[rfield])] = row[rfield]
		}
	}

	for key, filter := range filters {
		row, err := store.FindFirst(ctx, rel.Entity, filter, []string{rfield})
		if err != nil {
			return nil, err
		}
		if row == nil {
			continue
		}
		resolved[key] = row[rfield]
	}

	return resolved, nil
}

// applyResolved rewrites the collection's field values with their resolved
// related-field values, nil for values with no matching row. Sequence order
// is preserved.
func applyResolved(collection *Collection, fname string, rel Relation, resolved map[string]any) {
	for _, item := range collection.Items {
		value, ok := item.Fields[fname]
		if !ok {
			continue
		}
		if rel.Kind == RelationMany {
			seq, ok := value.([]any)
			if !ok {
				continue
			}
			for k, elem := range seq {
				seq[k] = resolveOne(elem, resolved)
			}
			continue
		}
		item.Fields[fname] = resolveOne(value, resolved)
	}
}

func resolveOne(value any, resolved map[string]any) any {
	if value == nil {
		return nil
	}
	if _, ok := value.(TransientRef); ok {
		return value
	}
	if rv, ok := resolved[relatedKey(value)]; ok {
		return rv
	}
	return nil
}

func dedup(values []any) []any {
	seen := make(map[any]struct{}, len(values))
	out := make([]any, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
