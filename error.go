package syncdata

import (
	"errors"
	"fmt"
)

var (
	// SynchronizationError indicates an unresolved or duplicated transient-key
	// reference found while synchronizing a collection in strict mode.
	SynchronizationError = errors.New("synchronization error")

	// ValidationError indicates one or more invalid items in a strict collection.
	ValidationError = errors.New("validation error")

	// LockContentionError indicates another importer run is presumed active.
	LockContentionError = errors.New("importer is locked")

	// UnknownCollectionError indicates a reference to a collection key that is
	// not present in the staged data.
	UnknownCollectionError = errors.New("unknown collection")
)

func NewSyncErrorf(format string, args ...any) error {
	return errors.Join(SynchronizationError, fmt.Errorf(format, args...))
}

// InvalidItemsError is the ValidationError raised when a strict collection
// contains invalid items. It keeps the offending items for diagnostics.
type InvalidItemsError struct {
	Collection string
	Items      []*Item
}

func NewInvalidItemsError(collection string, items []*Item) *InvalidItemsError {
	return &InvalidItemsError{
		Collection: collection,
		Items:      items,
	}
}

func (e *InvalidItemsError) Error() string {
	return fmt.Sprintf("validation error: %d invalid items in collection '%s'", len(e.Items), e.Collection)
}

func (e *InvalidItemsError) Unwrap() error {
	return ValidationError
}
