package syncdata

import (
	"context"
	"fmt"
	"sync"
)

// TestStore is an in-memory Store for tests. It counts queries per method so
// tests can assert on lookup batching, and keeps replaced association sets
// addressable by join table and owner.
type TestStore struct {
	mu     sync.Mutex
	rows   map[string][]map[string]any
	sets   map[string][]any
	nextID int64
	Calls  map[string]int
}

func NewTestStore() *TestStore {
	return &TestStore{
		rows:  make(map[string][]map[string]any),
		sets:  make(map[string][]any),
		Calls: make(map[string]int),
	}
}

var _ Store = (*TestStore)(nil)

// Seed adds rows to an entity without counting as writes.
func (s *TestStore) Seed(entity string, rows ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[entity] = append(s.rows[entity], rows...)
}

// Rows returns the stored rows of an entity.
func (s *TestStore) Rows(entity string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[entity]
}

// Set returns the last replaced association set for a join table and owner.
func (s *TestStore) Set(joinTable string, ownerID any) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[setKey(joinTable, ownerID)]
}

func setKey(joinTable string, ownerID any) string {
	return fmt.Sprintf("%s|%v", joinTable, ownerID)
}

func (s *TestStore) count(method string) {
	s.Calls[method]++
}

func (s *TestStore) FindFirst(ctx context.Context, entity string, filter map[string]any, attrs []string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("FindFirst")
	for _, row := range s.rows[entity] {
		if matches(row, filter) {
			return cloneRow(row), nil
		}
	}
	return nil, nil
}

func (s *TestStore) FindIn(ctx context.Context, entity string, field string, values []any, attrs []string) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("FindIn")
	wanted := make(map[string]struct{}, len(values))
	for _, v := range values {
		wanted[valueKey(v)] = struct{}{}
	}
	var out []map[string]any
	for _, row := range s.rows[entity] {
		if _, ok := wanted[valueKey(row[field])]; ok {
			out = append(out, cloneRow(row))
		}
	}
	return out, nil
}

func (s *TestStore) Get(ctx context.Context, entity string, id any, attrs []string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("Get")
	for _, row := range s.rows[entity] {
		if valueKey(row["id"]) == valueKey(id) {
			return cloneRow(row), nil
		}
	}
	return nil, nil
}

func (s *TestStore) Save(ctx context.Context, entity string, id any, fields map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("Save")

	if id != nil {
		for _, row := range s.rows[entity] {
			if valueKey(row["id"]) == valueKey(id) {
				for name, value := range fields {
					row[name] = value
				}
				return id, nil
			}
		}
		return nil, fmt.Errorf("no '%s' row with id %v", entity, id)
	}

	s.nextID++
	row := cloneRow(fields)
	row["id"] = s.nextID
	s.rows[entity] = append(s.rows[entity], row)
	return s.nextID, nil
}

func (s *TestStore) ReplaceSet(ctx context.Context, rel Relation, ownerID any, related []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("ReplaceSet")
	s.sets[setKey(rel.JoinTable, ownerID)] = append([]any(nil), related...)
	return nil
}

func matches(row map[string]any, filter map[string]any) bool {
	for name, value := range filter {
		if valueKey(row[name]) != valueKey(value) {
			return false
		}
	}
	return true
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for name, value := range row {
		out[name] = value
	}
	return out
}
