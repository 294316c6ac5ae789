package syncdata

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Relation field values staged by loaders come in a closed set of shapes:
//
//   - a scalar: taken as a direct related-field value.
//   - a Filter: a natural-key predicate set resolved against the store.
//   - a TransientRef: a reference to a not-yet-persisted item of another
//     collection by its transient key, resolved by the synchronizer.
//   - a []any of any of the above, for many-valued relations.
//
// Anything else is passed through as a plain attribute value.

// TransientRef references an item of another collection by transient key,
// before that item has a persisted identifier.
type TransientRef struct {
	Key any
}

// NewTransientRef creates a reference to an item by its transient key.
func NewTransientRef(key any) TransientRef {
	return TransientRef{Key: key}
}

// Filter is a natural-key predicate set used to look up a related row.
type Filter map[string]any

// CanonicalKey returns the filter as a single scalar key, its sorted
// key/value pairs joined. Used to cache repeated identical filters and to
// index resolved values across a collection.
func (f Filter) CanonicalKey() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("__")
		}
		b.WriteString(k)
		b.WriteString("__")
		b.WriteString(valueKey(f[k]))
	}
	return b.String()
}

// relatedKey converts any relation value to the string key used to index
// resolved values: filters use their canonical key, scalars their printed
// form (so values round-tripped through the store compare equal regardless
// of numeric width).
func relatedKey(value any) string {
	switch v := value.(type) {
	case Filter:
		return "filter__" + v.CanonicalKey()
	case map[string]any:
		return "filter__" + Filter(v).CanonicalKey()
	default:
		return valueKey(value)
	}
}

// asFilter reinterprets mapping values as filters. Mappings carrying only the
// reserved transient-key field are references, not filters.
func asFilter(value any) (Filter, bool) {
	switch v := value.(type) {
	case Filter:
		return v, true
	case map[string]any:
		return Filter(v), true
	}
	return nil, false
}

// FileRef is a field value pointing at a local file whose content is read at
// save time. The opened stream is owned by the generator and closed on every
// exit path.
type FileRef struct {
	Path string
}

// NewFileRef creates a file-backed attachment value.
func NewFileRef(path string) FileRef {
	return FileRef{Path: path}
}

// Open opens the referenced file for reading.
func (f FileRef) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

func valueKey(value any) string {
	return fmt.Sprint(value)
}
