package syncdata

import (
	"github.com/google/uuid"
)

// Data is the staged collection set threaded through a whole run. Collections
// are keyed by entity key; execution order across collections is decided by
// the importer's handler order, not by map order.
type Data struct {
	Collections map[string]*Collection
}

// NewData creates an empty staged collection set.
func NewData() *Data {
	return &Data{
		Collections: make(map[string]*Collection),
	}
}

// Collection returns the collection for a key, creating it if needed.
func (d *Data) Collection(key string) *Collection {
	c, ok := d.Collections[key]
	if !ok {
		c = &Collection{Key: key}
		d.Collections[key] = c
	}
	return c
}

// Add appends items to the collection for a key.
func (d *Data) Add(key string, items ...*Item) {
	c := d.Collection(key)
	c.Items = append(c.Items, items...)
}

// Collection is an ordered sequence of staged items of one entity type.
type Collection struct {
	Key   string
	Items []*Item
}

// TransientIndex builds the transient-key index of the collection, skipping
// items without a transient key. Duplicate keys are a synchronization error.
func (c *Collection) TransientIndex() (map[any]*Item, error) {
	index := make(map[any]*Item)
	for _, item := range c.Items {
		if item.TransientKey == nil {
			continue
		}
		if _, ok := index[item.TransientKey]; ok {
			return nil, NewSyncErrorf("duplicate transient key %v in collection '%s'", item.TransientKey, c.Key)
		}
		index[item.TransientKey] = item
	}
	return index, nil
}

// Item is one staged entity. Loaders create items; the synchronizer,
// materializer, validator and generator mutate them in place, each phase
// adding state without removing what previous phases produced.
type Item struct {
	InternalID   uuid.UUID // randomly generated, unique within the run.
	TransientKey any       // run-scoped key other items may reference; not persisted.

	// HashRelated declares which of this item's fields carry transient-key
	// references, mapping field name to the referenced collection key. It
	// extends (and overrides) the handler-level declaration.
	HashRelated map[string]string

	// Fields holds the loaded field values: scalars, filters, transient
	// references, or sequences of these for many-valued fields.
	Fields map[string]any

	// Populated by the validation gate.
	Valid   bool
	Errors  map[string][]string
	Cleaned map[string]any
	Changed bool

	// ID is the concrete persisted identifier, written back by the generator
	// so later collections can resolve references to this item.
	ID any
}

// NewItem creates a staged item with the given field values.
func NewItem(fields map[string]any) *Item {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Item{
		InternalID: uuid.New(),
		Fields:     fields,
	}
}

// WithTransientKey sets the item's transient key.
func (i *Item) WithTransientKey(key any) *Item {
	i.TransientKey = key
	return i
}

// WithHashRelated declares a field of this item as a transient-key reference
// into the given collection.
func (i *Item) WithHashRelated(field, collection string) *Item {
	if i.HashRelated == nil {
		i.HashRelated = make(map[string]string)
	}
	i.HashRelated[field] = collection
	return i
}

// WithID sets an explicit persisted identifier, forcing identity resolution
// to that row.
func (i *Item) WithID(id any) *Item {
	i.ID = id
	return i
}

func (i *Item) setInvalid(errs map[string][]string) {
	i.Valid = false
	i.Errors = errs
}
