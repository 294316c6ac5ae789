package syncdata

import (
	"context"
	"errors"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func stageCategories(data *Data) {
	cat1 := NewItem(map[string]any{"code": "c1"}).WithTransientKey("cat-1")
	cat1.ID = int64(10)
	cat2 := NewItem(map[string]any{"code": "c2"}).WithTransientKey("cat-2")
	cat2.ID = int64(20)
	data.Add("catalog.category", cat1, cat2)
}

func productHandler(options ...HandlerOption) *Handler {
	opts := append([]HandlerOption{
		WithHashRelated("category", "catalog.category"),
	}, options...)
	return NewHandler(Schema{
		Entity:      "catalog.product",
		NaturalKeys: []string{"name"},
		Relations: map[string]Relation{
			"category": {Kind: RelationSingle, Entity: "catalog.category"},
		},
	}, opts...)
}

func TestSynchronize(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	data := NewData()
	stageCategories(data)
	product := NewItem(map[string]any{
		"name":     "First",
		"category": NewTransientRef("cat-2"),
	})
	data.Add("catalog.product", product)

	err := Synchronize(ctx, data, store, productHandler())
	assert.NilError(t, err)
	assert.Equal(t, product.Fields["category"], int64(20))
}

func TestSynchronizeScalarContext(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	data := NewData()
	stageCategories(data)
	// no relation metadata for the field, the reference resolves to the
	// target identifier directly.
	product := NewItem(map[string]any{
		"category_id": NewTransientRef("cat-1"),
	}).WithHashRelated("category_id", "catalog.category")
	data.Add("catalog.product", product)

	handler := NewHandler(Schema{Entity: "catalog.product"})
	err := Synchronize(ctx, data, store, handler)
	assert.NilError(t, err)
	assert.Equal(t, product.Fields["category_id"], int64(10))
}

func TestSynchronizeManyValued(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	data := NewData()
	stageCategories(data)
	product := NewItem(map[string]any{
		"categories": []any{NewTransientRef("cat-1"), int64(99), NewTransientRef("cat-2")},
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
	}, WithHashRelated("categories", "catalog.category"))
	data.Add("catalog.product", product)

	err := Synchronize(ctx, data, store, handler)
	assert.NilError(t, err)
	assert.DeepEqual(t, product.Fields["categories"], []any{int64(10), int64(99), int64(20)})
}

func TestSynchronizeRelatedField(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()
	store.Seed("catalog.category", map[string]any{"id": int64(10), "code": "c1"})

	data := NewData()
	stageCategories(data)
	product := NewItem(map[string]any{
		"category": NewTransientRef("cat-1"),
	})
	handler := NewHandler(Schema{
		Entity: "catalog.product",
		Relations: map[string]Relation{
			"category": {Kind: RelationSingle, Entity: "catalog.category", RelatedField: "code"},
		},
	}, WithHashRelated("category", "catalog.category"))
	data.Add("catalog.product", product)

	err := Synchronize(ctx, data, store, handler)
	assert.NilError(t, err)
	assert.Equal(t, product.Fields["category"], "c1")
}

func TestSynchronizeLenientKeepsReference(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	data := NewData()
	stageCategories(data)
	product := NewItem(map[string]any{
		"category": NewTransientRef("missing"),
	})
	data.Add("catalog.product", product)

	err := Synchronize(ctx, data, store, productHandler())
	assert.NilError(t, err)
	assert.Equal(t, product.Fields["category"], NewTransientRef("missing"))
}

func TestSynchronizeStrict(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	data := NewData()
	stageCategories(data)
	product := NewItem(map[string]any{
		"category": NewTransientRef("missing"),
	})
	data.Add("catalog.product", product)

	err := Synchronize(ctx, data, store, productHandler(WithStrictSynchronize(true)))
	assert.Assert(t, errors.Is(err, SynchronizationError))
}

func TestSynchronizeDuplicateTransientKey(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	data := NewData()
	data.Add("catalog.category",
		NewItem(map[string]any{"code": "c1"}).WithTransientKey("dup"),
		NewItem(map[string]any{"code": "c2"}).WithTransientKey("dup"),
	)
	product := NewItem(map[string]any{
		"category": NewTransientRef("dup"),
	})
	data.Add("catalog.product", product)

	err := Synchronize(ctx, data, store, productHandler())
	assert.Assert(t, errors.Is(err, SynchronizationError))
	assert.ErrorContains(t, err, "duplicate transient key")
}

func TestSynchronizeUnknownCollection(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	data := NewData()
	product := NewItem(map[string]any{
		"category": NewTransientRef("cat-1"),
	})
	data.Add("catalog.product", product)

	err := Synchronize(ctx, data, store, productHandler())
	assert.Assert(t, errors.Is(err, UnknownCollectionError))
}

func TestSynchronizeAbsentCollection(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	err := Synchronize(ctx, NewData(), store, productHandler())
	assert.NilError(t, err)
	assert.Assert(t, is.Len(store.Calls, 0))
}
