package syncdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-cmp/cmp"
)

// Validator is the pluggable per-item validation capability. It receives the
// prepared field values and the currently persisted row (nil for new rows)
// and returns either cleaned store-native values or per-field errors.
// A non-nil error is an infrastructure failure, not a validation outcome.
type Validator interface {
	Validate(ctx context.Context, fields map[string]any, existing map[string]any) (cleaned map[string]any, errs map[string][]string, err error)
}

// ValidatorFunc is a func adapter for Validator.
type ValidatorFunc func(ctx context.Context, fields map[string]any, existing map[string]any) (map[string]any, map[string][]string, error)

func (f ValidatorFunc) Validate(ctx context.Context, fields map[string]any, existing map[string]any) (map[string]any, map[string][]string, error) {
	return f(ctx, fields, existing)
}

// DefaultValidator passes declared fields through unchanged, rejecting
// values that are still unresolved transient references.
type DefaultValidator struct {
	Schema Schema
}

func (v DefaultValidator) Validate(ctx context.Context, fields map[string]any, existing map[string]any) (map[string]any, map[string][]string, error) {
	cleaned := make(map[string]any, len(fields))
	errs := make(map[string][]string)

	declared := v.Schema.Fields
	for name, value := range fields {
		if len(declared) > 0 && !contains(declared, name) {
			continue
		}
		if ref, ok := value.(TransientRef); ok {
			errs[name] = append(errs[name], fmt.Sprintf("unresolved reference %v", ref.Key))
			continue
		}
		if seq, ok := value.([]any); ok {
			for _, elem := range seq {
				if ref, ok := elem.(TransientRef); ok {
					errs[name] = append(errs[name], fmt.Sprintf("unresolved reference %v", ref.Key))
				}
			}
		}
		cleaned[name] = value
	}

	if len(errs) > 0 {
		return nil, errs, nil
	}
	return cleaned, nil, nil
}

// Validate runs the validation gate over a collection: resolves each item to
// an existing persisted row (explicit identifier first, natural keys
// otherwise), calls the handler's validator, and records cleaned values,
// validity and changed state on the item.
//
// Under the handler's strict policy any invalid item aborts with a
// ValidationError after the diagnostics of all invalid items were emitted.
func Validate(ctx context.Context, data *Data, store Store, handler *Handler, log *RunLog, verbose bool) error {
	collection, ok := data.Collections[handler.Schema.Entity]
	if !ok {
		return nil
	}

	validator := handler.validator()
	idField := handler.Schema.IDFieldName()

	var invalid []*Item
	for _, item := range collection.Items {
		existing, err := resolveExisting(ctx, store, handler.Schema, item)
		if err != nil {
			return err
		}

		cleaned, errs, err := validator.Validate(ctx, item.Fields, existing)
		if err != nil {
			return err
		}
		if len(errs) > 0 {
			item.setInvalid(errs)
			invalid = append(invalid, item)
			log.Mark("x")
			continue
		}

		item.Valid = true
		if cleaned == nil {
			// a nil cleaned map is a legal "nothing cleaned" result.
			cleaned = make(map[string]any)
		}
		item.Cleaned = cleaned
		if existing != nil {
			item.Cleaned[idField] = existing[idField]
		} else if item.ID != nil {
			item.Cleaned[idField] = item.ID
		}
		item.Changed = changed(handler.Schema, cleaned, existing)
		log.Mark(".")
	}

	// a strict abort always carries the full diagnostics of the invalid
	// items; otherwise the dump is opt-in.
	if len(invalid) > 0 && (verbose || handler.Strict) {
		log.Printf("\nvalidate - invalid items raw visualization:\n%s", dumpItems(invalid))
	}
	if len(invalid) > 0 && handler.Strict {
		return NewInvalidItemsError(collection.Key, invalid)
	}
	return nil
}

// resolveExisting resolves an item to a persisted row: by explicit identifier
// when present, else by the declared natural-key field set. No match means a
// new row.
func resolveExisting(ctx context.Context, store Store, schema Schema, item *Item) (map[string]any, error) {
	if item.ID != nil {
		return store.Get(ctx, schema.Entity, item.ID, nil)
	}

	filter := make(map[string]any)
	for _, nk := range schema.NaturalKeys {
		if value, ok := item.Fields[nk]; ok && value != nil {
			filter[nk] = value
		}
	}
	if len(filter) == 0 {
		return nil, nil
	}
	return store.FindFirst(ctx, schema.Entity, filter, nil)
}

// changed reports whether the cleaned values differ from the persisted row.
// New rows are always changed. Many-valued association fields and the
// identifier are not part of the comparison.
func changed(schema Schema, cleaned map[string]any, existing map[string]any) bool {
	if existing == nil {
		return true
	}
	idField := schema.IDFieldName()
	for name, value := range cleaned {
		if name == idField {
			continue
		}
		if rel, ok := schema.Relation(name); ok && rel.Kind == RelationMany {
			continue
		}
		if _, ok := value.(FileRef); ok {
			return true
		}
		if !looseEqual(value, existing[name]) {
			return true
		}
	}
	return false
}

// looseEqual compares values semantically, tolerating numeric width
// differences between staged and store-returned values.
func looseEqual(a, b any) bool {
	if cmp.Equal(a, b) {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return valueKey(a) == valueKey(b)
}

func dumpItems(items []*Item) string {
	type dump struct {
		TransientKey any                 `json:"transient_key,omitempty"`
		Fields       map[string]any      `json:"fields"`
		Errors       map[string][]string `json:"errors"`
	}
	out := make([]dump, 0, len(items))
	for _, item := range items {
		out = append(out, dump{
			TransientKey: item.TransientKey,
			Fields:       item.Fields,
			Errors:       item.Errors,
		})
	}
	text, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Sprintf("<dump failed: %v>", err)
	}
	return string(text)
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}
