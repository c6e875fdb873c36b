package services

import (
	"sort"

	"catalog-override-service/internal/models"
)

// PendingChangeBuffer keeps per-context snapshots of unsaved edits.
// It belongs to a single editing session and is not safe for concurrent use.
type PendingChangeBuffer struct {
	snapshots map[string]models.FormState
}

// NewPendingChangeBuffer creates an empty buffer
func NewPendingChangeBuffer() *PendingChangeBuffer {
	return &PendingChangeBuffer{snapshots: make(map[string]models.FormState)}
}

// SaveSnapshot stores a deep copy of state under key, replacing any previous snapshot
func (b *PendingChangeBuffer) SaveSnapshot(key string, state models.FormState) {
	b.snapshots[key] = state.Clone()
}

// RestoreSnapshot returns a copy of the snapshot for key
func (b *PendingChangeBuffer) RestoreSnapshot(key string) (models.FormState, error) {
	state, ok := b.snapshots[key]
	if !ok {
		return models.FormState{}, ErrSnapshotNotFound
	}
	return state.Clone(), nil
}

// Has reports whether key has a snapshot
func (b *PendingChangeBuffer) Has(key string) bool {
	_, ok := b.snapshots[key]
	return ok
}

// HasUnsavedChanges is true whenever any context has a snapshot
func (b *PendingChangeBuffer) HasUnsavedChanges() bool {
	return len(b.snapshots) > 0
}

// Keys returns buffered context keys, "default" first then shops ascending
func (b *PendingChangeBuffer) Keys() []string {
	keys := make([]string, 0, len(b.snapshots))
	for k := range b.snapshots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == models.DefaultContextKey {
			return true
		}
		if keys[j] == models.DefaultContextKey {
			return false
		}
		ci, erri := models.ParseContextKey(keys[i])
		cj, errj := models.ParseContextKey(keys[j])
		if erri != nil || errj != nil {
			return keys[i] < keys[j]
		}
		si, _ := ci.ShopID()
		sj, _ := cj.ShopID()
		return si < sj
	})
	return keys
}

// Clear drops the snapshot for key after it has been persisted
func (b *PendingChangeBuffer) Clear(key string) {
	delete(b.snapshots, key)
}

// Discard drops every snapshot
func (b *PendingChangeBuffer) Discard() {
	b.snapshots = make(map[string]models.FormState)
}

// ReplaceCategoryID rewrites a category id in every buffered selection
func (b *PendingChangeBuffer) ReplaceCategoryID(old, replacement int64) {
	for k, state := range b.snapshots {
		if state.Categories.Replace(old, replacement) {
			b.snapshots[k] = state
		}
	}
}

// RemoveCategoryID drops a category id from every buffered selection
func (b *PendingChangeBuffer) RemoveCategoryID(id int64) {
	for k, state := range b.snapshots {
		if state.Categories.Contains(id) {
			state.Categories.Remove(id)
			b.snapshots[k] = state
		}
	}
}
