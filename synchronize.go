package syncdata

import "context"

// synchronizer resolves transient-key references of one handler's collection
// against collections processed earlier in the run (whose items already carry
// persisted identifiers).
type synchronizer struct {
	data    *Data
	store   Store
	handler *Handler
	strict  bool

	// indexes caches the transient-key index per referenced collection.
	indexes map[string]map[any]*Item
}

// Synchronize replaces transient-key reference values of the handler's
// collection with the concrete related-field values of the referenced items.
// In strict mode an unresolved reference is fatal; otherwise the reference is
// left in place and validation fails the item later.
func Synchronize(ctx context.Context, data *Data, store Store, handler *Handler) error {
	s := &synchronizer{
		data:    data,
		store:   store,
		handler: handler,
		strict:  handler.StrictSynchronize,
		indexes: make(map[string]map[any]*Item),
	}
	return s.run(ctx)
}

func (s *synchronizer) run(ctx context.Context) error {
	collection, ok := s.data.Collections[s.handler.Schema.Entity]
	if !ok {
		return nil
	}

	for _, item := range collection.Items {
		for fname, cname := range s.handler.hashRelatedFor(item) {
			value, ok := item.Fields[fname]
			if !ok {
				continue
			}

			rel, hasRel := s.handler.Schema.Relation(fname)
			switch {
			case hasRel && rel.Kind == RelationMany:
				seq, ok := value.([]any)
				if !ok {
					continue
				}
				for k, elem := range seq {
					ref, ok := elem.(TransientRef)
					if !ok {
						continue
					}
					resolved, err := s.resolve(ctx, collection.Key, fname, cname, rel, ref)
					if err != nil {
						return err
					}
					seq[k] = resolved
				}
			case hasRel:
				ref, ok := value.(TransientRef)
				if !ok {
					continue
				}
				resolved, err := s.resolve(ctx, collection.Key, fname, cname, rel, ref)
				if err != nil {
					return err
				}
				item.Fields[fname] = resolved
			default:
				// scalar context: no relation metadata, the reference
				// resolves directly to the target identifier.
				ref, ok := value.(TransientRef)
				if !ok {
					continue
				}
				resolved, err := s.resolve(ctx, collection.Key, fname, cname, Relation{}, ref)
				if err != nil {
					return err
				}
				item.Fields[fname] = resolved
			}
		}
	}
	return nil
}

// resolve maps one transient reference to the related-field value of the
// referenced item's persisted row. When the join attribute is not the
// identifier, the target row is fetched by identifier to read it.
func (s *synchronizer) resolve(ctx context.Context, key, fname, cname string, rel Relation, ref TransientRef) (any, error) {
	index, err := s.index(cname)
	if err != nil {
		return nil, err
	}

	target, ok := index[ref.Key]
	if !ok || target.ID == nil {
		if s.strict {
			return nil, NewSyncErrorf("unresolved reference in '%s:%s->%s' [%v]", key, fname, cname, ref.Key)
		}
		return ref, nil
	}

	if rel.joinsOnID() {
		return target.ID, nil
	}

	rfield := rel.RelatedFieldName()
	row, err := s.store.Get(ctx, rel.Entity, target.ID, []string{rfield})
	if err != nil {
		return nil, err
	}
	if row == nil {
		if s.strict {
			return nil, NewSyncErrorf("referenced row %v missing in '%s' for '%s:%s'", target.ID, rel.Entity, key, fname)
		}
		return ref, nil
	}
	return row[rfield], nil
}

func (s *synchronizer) index(cname string) (map[any]*Item, error) {
	if index, ok := s.indexes[cname]; ok {
		return index, nil
	}
	referenced, ok := s.data.Collections[cname]
	if !ok {
		return nil, NewSyncErrorf("referenced collection '%s' not staged: %w", cname, UnknownCollectionError)
	}
	index, err := referenced.TransientIndex()
	if err != nil {
		return nil, err
	}
	s.indexes[cname] = index
	return index, nil
}
