package syncdata

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func catalogLoader() Loader {
	return LoaderFunc(func(ctx context.Context, rc *RunContext) error {
		rc.Data.Add("catalog.category",
			NewItem(map[string]any{"code": "c1", "name": "First"}).WithTransientKey("cat-1"),
			NewItem(map[string]any{"code": "c2", "name": "Second"}).WithTransientKey("cat-2"),
		)
		rc.Data.Add("catalog.product",
			NewItem(map[string]any{
				"name":     "Product A",
				"category": NewTransientRef("cat-1"),
			}),
			NewItem(map[string]any{
				"name":     "Product B",
				"category": NewTransientRef("cat-2"),
			}),
		)
		return nil
	})
}

func catalogImporter(store Store, options ...ImporterOption) *Importer {
	opts := append([]ImporterOption{
		WithLoaders(catalogLoader()),
		WithHandlers(
			categoryHandler(),
			productHandler(),
		),
	}, options...)
	return NewImporter("catalog", store, opts...)
}

func TestImporterRun(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	result, err := catalogImporter(store).Run(ctx)
	assert.NilError(t, err)
	assert.Equal(t, result.Status, StatusSuccess)
	assert.Equal(t, result.Stats["catalog.category"], GenerateStats{Created: 2})
	assert.Equal(t, result.Stats["catalog.product"], GenerateStats{Created: 2})

	// products reference the identifiers generated for the categories in the
	// same run.
	categories := store.Rows("catalog.category")
	products := store.Rows("catalog.product")
	assert.Assert(t, is.Len(products, 2))
	byName := make(map[string]map[string]any)
	for _, row := range products {
		byName[row["name"].(string)] = row
	}
	byCode := make(map[string]map[string]any)
	for _, row := range categories {
		byCode[row["code"].(string)] = row
	}
	assert.Equal(t, byName["Product A"]["category"], byCode["c1"]["id"])
	assert.Equal(t, byName["Product B"]["category"], byCode["c2"]["id"])
}

func TestImporterRerunUnchanged(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	importer := catalogImporter(store)
	_, err := importer.Run(ctx)
	assert.NilError(t, err)

	// the second run resolves every item to its persisted row through the
	// natural keys and skips the writes.
	result, err := importer.Run(ctx)
	assert.NilError(t, err)
	assert.Equal(t, result.Status, StatusSuccess)
	assert.Equal(t, result.Stats["catalog.category"], GenerateStats{Unchanged: 2})
	assert.Assert(t, is.Len(store.Rows("catalog.category"), 2))
	assert.Assert(t, is.Len(store.Rows("catalog.product"), 2))
}

func TestImporterLocked(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()
	dir := t.TempDir()

	held := NewFileLock(dir, ".lock", time.Hour)
	acquired, _, err := held.Lock()
	assert.NilError(t, err)
	assert.Assert(t, acquired)

	result, err := catalogImporter(store, WithLock(NewFileLock(dir, ".lock", time.Hour))).Run(ctx)
	assert.NilError(t, err)
	assert.Equal(t, result.Status, StatusLocked)
	assert.Assert(t, strings.Contains(result.Log, "LOCKED"))
	assert.Equal(t, store.Calls["Save"], 0)
}

func TestImporterLockReleasedOnFailure(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()
	dir := t.TempDir()

	importer := NewImporter("broken", store,
		WithLoaders(LoaderFunc(func(ctx context.Context, rc *RunContext) error {
			return errors.New("boom")
		})),
		WithLock(NewFileLock(dir, ".lock", time.Hour)),
	)

	result, err := importer.Run(ctx)
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, result.Status, StatusFailed)

	// the failed run must not exclude the next one.
	result, err = catalogImporter(store, WithLock(NewFileLock(dir, ".lock", time.Hour))).Run(ctx)
	assert.NilError(t, err)
	assert.Equal(t, result.Status, StatusSuccess)
}

func TestImporterValidationFailure(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	importer := NewImporter("catalog", store,
		WithLoaders(LoaderFunc(func(ctx context.Context, rc *RunContext) error {
			rc.Data.Add("catalog.product", NewItem(map[string]any{
				"name":     "Orphan",
				"category": NewTransientRef("missing"),
			}))
			rc.Data.Add("catalog.category")
			return nil
		})),
		WithHandlers(categoryHandler(), productHandler()),
	)

	result, err := importer.Run(ctx)
	assert.Assert(t, errors.Is(err, ValidationError))
	assert.Equal(t, result.Status, StatusFailed)
	assert.Equal(t, store.Calls["Save"], 0)
}

func TestImporterSkipGenerate(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	var hooks []string
	importer := catalogImporter(store,
		WithHandlers(NewHandler(Schema{Entity: "aux.noop"},
			WithHandlerPreRun(func(ctx context.Context, rc *RunContext) error {
				hooks = append(hooks, "pre")
				return nil
			}),
			WithHandlerPostRun(func(ctx context.Context, rc *RunContext) error {
				hooks = append(hooks, "post")
				return nil
			}),
		)),
	)

	result, err := importer.Run(ctx, WithGenerate(false))
	assert.NilError(t, err)
	assert.Equal(t, result.Status, StatusSuccess)
	assert.Equal(t, store.Calls["Save"], 0)

	// hooks run even when generation is skipped.
	assert.DeepEqual(t, hooks, []string{"pre", "post"})
}

func TestImporterPanicRecovered(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()
	dir := t.TempDir()
	lock := NewFileLock(dir, ".lock", time.Hour)

	importer := NewImporter("panicky", store,
		WithLoaders(LoaderFunc(func(ctx context.Context, rc *RunContext) error {
			panic("boom")
		})),
		WithLock(lock),
	)

	result, err := importer.Run(ctx)
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, result.Status, StatusFailed)

	// the lock was released despite the panic.
	acquired, _, lerr := lock.Lock()
	assert.NilError(t, lerr)
	assert.Assert(t, acquired)
}

func TestImporterMessageInReport(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	result, err := catalogImporter(store).Run(ctx, WithMessage("nightly catalog sync"))
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(result.Log, "nightly catalog sync"))
	assert.Assert(t, strings.Contains(result.Log, "FINISHED"))
}
