package syncdata

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"
)

func TestPrepareBatchesScalars(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()
	store.Seed("catalog.category",
		map[string]any{"id": int64(1), "code": "c1"},
		map[string]any{"id": int64(2), "code": "c2"},
	)

	data := NewData()
	p1 := NewItem(map[string]any{"category": 1})
	p2 := NewItem(map[string]any{"category": 2})
	p3 := NewItem(map[string]any{"category": 2})
	data.Add("catalog.product", p1, p2, p3)

	err := Prepare(ctx, data, store, productHandler())
	assert.NilError(t, err)

	// one batched lookup regardless of how many items share the field.
	assert.Equal(t, store.Calls["FindIn"], 1)
	assert.Equal(t, p1.Fields["category"], int64(1))
	assert.Equal(t, p2.Fields["category"], int64(2))
	assert.Equal(t, p3.Fields["category"], int64(2))
}

func TestPrepareFilters(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()
	store.Seed("catalog.category",
		map[string]any{"id": int64(1), "code": "c1"},
		map[string]any{"id": int64(2), "code": "c2"},
	)

	data := NewData()
	p1 := NewItem(map[string]any{"category": Filter{"code": "c1"}})
	p2 := NewItem(map[string]any{"category": Filter{"code": "c1"}})
	p3 := NewItem(map[string]any{"category": Filter{"code": "c2"}})
	data.Add("catalog.product", p1, p2, p3)

	err := Prepare(ctx, data, store, productHandler())
	assert.NilError(t, err)

	// identical predicate sets share one lookup.
	assert.Equal(t, store.Calls["FindFirst"], 2)
	assert.Equal(t, p1.Fields["category"], int64(1))
	assert.Equal(t, p2.Fields["category"], int64(1))
	assert.Equal(t, p3.Fields["category"], int64(2))
}

func TestPrepareUnresolvedBecomesNil(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()
	store.Seed("catalog.category", map[string]any{"id": int64(1), "code": "c1"})

	data := NewData()
	p1 := NewItem(map[string]any{"category": 99})
	p2 := NewItem(map[string]any{"category": Filter{"code": "nope"}})
	data.Add("catalog.product", p1, p2)

	err := Prepare(ctx, data, store, productHandler())
	assert.NilError(t, err)
	assert.Assert(t, p1.Fields["category"] == nil)
	assert.Assert(t, p2.Fields["category"] == nil)
}

func TestPrepareManyValuedKeepsOrder(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()
	store.Seed("catalog.category",
		map[string]any{"id": int64(1), "code": "c1"},
		map[string]any{"id": int64(2), "code": "c2"},
	)

	data := NewData()
	product := NewItem(map[string]any{
		"categories": []any{2, Filter{"code": "c1"}, 7},
	})
	handler := NewHandler(Schema{
		Entity: "catalog.product",
		Relations: map[string]Relation{
			"categories": {
				Kind:      RelationMany,
				Entity:    "catalog.category",
				JoinTable: "product_categories",
				OwnerKey:  "product_id",
				TargetKey: "category_id",
			},
		},
	})
	data.Add("catalog.product", product)

	err := Prepare(ctx, data, store, handler)
	assert.NilError(t, err)
	assert.Equal(t, store.Calls["FindIn"], 1)
	assert.DeepEqual(t, product.Fields["categories"], []any{int64(2), int64(1), nil})
}

func TestPrepareLeavesTransientRefs(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	data := NewData()
	product := NewItem(map[string]any{"category": NewTransientRef("cat-1")})
	data.Add("catalog.product", product)

	err := Prepare(ctx, data, store, productHandler())
	assert.NilError(t, err)
	// leftover references are validation's concern, not a lookup.
	assert.Equal(t, store.Calls["FindIn"], 0)
	assert.Equal(t, product.Fields["category"], NewTransientRef("cat-1"))
}
