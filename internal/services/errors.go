package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrSnapshotNotFound = errors.New("no pending snapshot for context")
	ErrAncestorMarked   = errors.New("cannot unmark category while an ancestor is marked for deletion")
	ErrEditingBlocked   = errors.New("editing blocked while sync is processing")
	ErrSessionActive    = errors.New("another editing session is active for this product")
	ErrSessionNotFound  = errors.New("editing session not found")
	ErrUnknownCategory  = errors.New("category not in working tree")
	ErrRootCategory     = errors.New("root categories cannot be deleted")
	ErrShopNotLinked    = errors.New("product is not linked to an external product in this shop")
)

// DataError reports a value that cannot be normalized for its field
type DataError struct {
	Field  string
	Value  string
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("invalid value %q for field %s: %s", e.Value, e.Field, e.Reason)
}

// MappingError wraps an external-system failure while translating or creating categories
type MappingError struct {
	Op     string
	ShopID int64
	ID     int64
	Err    error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("category mapping %s failed (shop %d, id %d): %v", e.Op, e.ShopID, e.ID, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// SyncError is a background job failure surfaced to the user
type SyncError struct {
	JobID   uuid.UUID
	Message string
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync job %s failed: %s", e.JobID, e.Message)
}

// ConflictRejection is a soft rejection of an inbound pull while local edits are unsynced
type ConflictRejection struct {
	ProductID int64
	ShopID    int64
}

func (e *ConflictRejection) Error() string {
	return fmt.Sprintf("pull skipped for product %d shop %d: local changes pending", e.ProductID, e.ShopID)
}
