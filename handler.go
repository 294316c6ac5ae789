package syncdata

import "context"

// Handler drives the synchronize → prepare → validate → generate pipeline
// for one entity type. Handlers run in the order the importer declares them;
// collections referenced through transient keys must be handled by an
// earlier handler.
type Handler struct {
	Schema Schema

	// HashRelated declares which fields of this entity carry transient-key
	// references, mapping field name to referenced collection key. Items may
	// extend or override it per item.
	HashRelated map[string]string

	// Strict aborts the whole run when any item of the collection fails
	// validation. Default true.
	Strict bool

	// StrictSynchronize makes an unresolved transient reference fatal during
	// synchronization instead of deferring the failure to validation.
	StrictSynchronize bool

	// SaveUnchanged forces writes for items whose cleaned values match the
	// persisted row. Default false: unchanged rows are skipped.
	SaveUnchanged bool

	// Validator is the validation capability for this entity type. Nil uses
	// DefaultValidator.
	Validator Validator

	PreRun  HookFunc
	PostRun HookFunc
}

// HookFunc is a loader/handler pre/post run hook.
type HookFunc func(ctx context.Context, rc *RunContext) error

// NewHandler creates a handler with the strict validation policy enabled.
func NewHandler(schema Schema, options ...HandlerOption) *Handler {
	h := &Handler{
		Schema: schema,
		Strict: true,
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

type HandlerOption func(*Handler)

// WithHashRelated declares a field as a transient-key reference into the
// given collection for every item of the handler's collection.
func WithHashRelated(field, collection string) HandlerOption {
	return func(h *Handler) {
		if h.HashRelated == nil {
			h.HashRelated = make(map[string]string)
		}
		h.HashRelated[field] = collection
	}
}

// WithStrict sets the collection-level validation policy.
func WithStrict(strict bool) HandlerOption {
	return func(h *Handler) {
		h.Strict = strict
	}
}

// WithStrictSynchronize makes unresolved transient references fatal during
// synchronization.
func WithStrictSynchronize(strict bool) HandlerOption {
	return func(h *Handler) {
		h.StrictSynchronize = strict
	}
}

// WithSaveUnchanged disables the unchanged-row skip optimization.
func WithSaveUnchanged(save bool) HandlerOption {
	return func(h *Handler) {
		h.SaveUnchanged = save
	}
}

// WithValidator sets the validation capability for this entity type.
func WithValidator(v Validator) HandlerOption {
	return func(h *Handler) {
		h.Validator = v
	}
}

// WithHandlerPreRun sets the handler's pre-run hook.
func WithHandlerPreRun(f HookFunc) HandlerOption {
	return func(h *Handler) {
		h.PreRun = f
	}
}

// WithHandlerPostRun sets the handler's post-run hook.
func WithHandlerPostRun(f HookFunc) HandlerOption {
	return func(h *Handler) {
		h.PostRun = f
	}
}

// hashRelatedFor merges the handler declaration with the item's own,
// the item winning on conflicts.
func (h *Handler) hashRelatedFor(item *Item) map[string]string {
	if len(item.HashRelated) == 0 {
		return h.HashRelated
	}
	if len(h.HashRelated) == 0 {
		return item.HashRelated
	}
	merged := make(map[string]string, len(h.HashRelated)+len(item.HashRelated))
	for f, c := range h.HashRelated {
		merged[f] = c
	}
	for f, c := range item.HashRelated {
		merged[f] = c
	}
	return merged
}

func (h *Handler) validator() Validator {
	if h.Validator != nil {
		return h.Validator
	}
	return DefaultValidator{Schema: h.Schema}
}
