package services

import (
	"context"
	"errors"
	"sort"

	"catalog-override-service/internal/models"
)

// MutationExecutor applies queued category mutations against storage and the shop
type MutationExecutor interface {
	CreateCategory(ctx context.Context, target models.Context, name string, parentID *int64) (int64, error)
	DeleteCategory(ctx context.Context, target models.Context, categoryID int64) error
}

// SelectionRewriter updates category ids held in buffered selections
type SelectionRewriter interface {
	ReplaceCategoryID(old, replacement int64)
	RemoveCategoryID(id int64)
}

// MutationOp is the kind of a queued category mutation
type MutationOp string

const (
	MutationCreate MutationOp = "create"
	MutationDelete MutationOp = "delete"
)

// PendingCreate is a category waiting to be created on commit
type PendingCreate struct {
	TempID   int64          `json:"tempId"`
	Name     string         `json:"name"`
	ParentID *int64         `json:"parentId,omitempty"`
	Context  models.Context `json:"-"`
}

// MutationFailure records one mutation that could not be applied
type MutationFailure struct {
	Op         MutationOp `json:"op"`
	CategoryID int64      `json:"categoryId"`
	Name       string     `json:"name,omitempty"`
	Err        error      `json:"-"`
	Message    string     `json:"error"`
}

// CommitReport lists the outcome of every mutation processed by Commit
type CommitReport struct {
	Created  map[int64]int64   `json:"created"`
	Deleted  []int64           `json:"deleted"`
	Failures []MutationFailure `json:"failures,omitempty"`
}

// OK reports whether every mutation succeeded
func (r CommitReport) OK() bool {
	return len(r.Failures) == 0
}

// DeferredMutationQueue holds category creates and deletes until the session saves.
// Temp ids are strictly negative and unique for the lifetime of the queue.
type DeferredMutationQueue struct {
	tree      *CategoryTree
	selection SelectionRewriter
	lastTemp  int64
	creates   []PendingCreate
	marks     map[string]map[int64]bool
}

// NewDeferredMutationQueue creates a queue over the session's working tree
func NewDeferredMutationQueue(tree *CategoryTree, selection SelectionRewriter) *DeferredMutationQueue {
	return &DeferredMutationQueue{
		tree:      tree,
		selection: selection,
		marks:     make(map[string]map[int64]bool),
	}
}

// EnqueueCreate queues a new category and returns its temp id
func (q *DeferredMutationQueue) EnqueueCreate(target models.Context, name string, parentID *int64) (int64, error) {
	if name == "" {
		return 0, &DataError{Field: "name", Value: name, Reason: "category name is required"}
	}
	if parentID != nil && !q.tree.Contains(*parentID) {
		return 0, ErrUnknownCategory
	}
	if parentID != nil && *parentID < 0 {
		if owner, ok := q.Owner(*parentID); !ok || owner != target {
			return 0, ErrUnknownCategory
		}
	}

	q.lastTemp--
	tempID := q.lastTemp
	var parent *int64
	if parentID != nil {
		p := *parentID
		parent = &p
	}
	q.creates = append(q.creates, PendingCreate{TempID: tempID, Name: name, ParentID: parent, Context: target})
	q.tree.Add(tempID, parent, name)
	return tempID, nil
}

// EnqueueDelete toggles the deletion mark of categoryID and all of its descendants.
// A temp id is dropped from the queue instead. It reports whether the id is now marked.
func (q *DeferredMutationQueue) EnqueueDelete(target models.Context, categoryID int64) (bool, error) {
	if !q.tree.Contains(categoryID) {
		return false, ErrUnknownCategory
	}
	if categoryID < 0 {
		q.dropTemp(categoryID)
		return false, nil
	}
	if q.tree.IsRoot(categoryID) {
		return false, ErrRootCategory
	}

	marks := q.marks[target.Key()]
	if marks == nil {
		marks = make(map[int64]bool)
		q.marks[target.Key()] = marks
	}

	subtree := append([]int64{categoryID}, q.tree.Descendants(categoryID)...)
	if marks[categoryID] {
		for _, ancestor := range q.tree.Ancestors(categoryID) {
			if marks[ancestor] {
				return true, ErrAncestorMarked
			}
		}
		for _, id := range subtree {
			delete(marks, id)
		}
		if len(marks) == 0 {
			delete(q.marks, target.Key())
		}
		return false, nil
	}

	for _, id := range subtree {
		if id < 0 {
			q.dropTemp(id)
			continue
		}
		marks[id] = true
	}
	return true, nil
}

// dropTemp removes a temp category, its queued temp descendants and every selection of them
func (q *DeferredMutationQueue) dropTemp(tempID int64) {
	drop := map[int64]bool{tempID: true}
	for _, id := range q.tree.Descendants(tempID) {
		drop[id] = true
	}

	kept := q.creates[:0]
	for _, c := range q.creates {
		if !drop[c.TempID] {
			kept = append(kept, c)
		}
	}
	q.creates = kept

	for id := range drop {
		if q.selection != nil {
			q.selection.RemoveCategoryID(id)
		}
	}
	q.tree.Remove(tempID)
}

// Owner returns the context that queued the creation of tempID
func (q *DeferredMutationQueue) Owner(tempID int64) (models.Context, bool) {
	for _, c := range q.creates {
		if c.TempID == tempID {
			return c.Context, true
		}
	}
	return models.Context{}, false
}

// IsMarked reports whether categoryID is marked for deletion in target
func (q *DeferredMutationQueue) IsMarked(target models.Context, categoryID int64) bool {
	return q.marks[target.Key()][categoryID]
}

// Marked returns the ids marked for deletion in target, ascending
func (q *DeferredMutationQueue) Marked(target models.Context) []int64 {
	marks := q.marks[target.Key()]
	out := make([]int64, 0, len(marks))
	for id := range marks {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Creates returns the queued creates of target in allocation order
func (q *DeferredMutationQueue) Creates(target models.Context) []PendingCreate {
	var out []PendingCreate
	for _, c := range q.creates {
		if c.Context == target {
			out = append(out, c)
		}
	}
	return out
}

// HasPending reports whether target has queued mutations
func (q *DeferredMutationQueue) HasPending(target models.Context) bool {
	return len(q.Creates(target)) > 0 || len(q.marks[target.Key()]) > 0
}

// Commit applies the queued mutations of target: creates in allocation order, then deletes
// deepest first. Failed items stay queued; successful ones are removed.
func (q *DeferredMutationQueue) Commit(ctx context.Context, target models.Context, executor MutationExecutor) CommitReport {
	report := CommitReport{Created: make(map[int64]int64)}

	failedTemps := make(map[int64]bool)
	kept := make([]PendingCreate, 0, len(q.creates))
	for _, c := range q.creates {
		if c.Context != target {
			kept = append(kept, c)
			continue
		}

		parent := c.ParentID
		if parent != nil && *parent < 0 {
			if resolved, ok := report.Created[*parent]; ok {
				parent = &resolved
			} else if failedTemps[*parent] {
				failedTemps[c.TempID] = true
				kept = append(kept, c)
				report.Failures = append(report.Failures, newFailure(MutationCreate, c.TempID, c.Name,
					errors.New("parent category was not created")))
				continue
			}
		}

		realID, err := executor.CreateCategory(ctx, target, c.Name, parent)
		if err != nil {
			failedTemps[c.TempID] = true
			kept = append(kept, c)
			report.Failures = append(report.Failures, newFailure(MutationCreate, c.TempID, c.Name, err))
			continue
		}

		report.Created[c.TempID] = realID
		q.tree.ReplaceID(c.TempID, realID)
		if q.selection != nil {
			q.selection.ReplaceCategoryID(c.TempID, realID)
		}
	}
	for i := range kept {
		if p := kept[i].ParentID; p != nil {
			if resolved, ok := report.Created[*p]; ok {
				kept[i].ParentID = &resolved
			}
		}
	}
	q.creates = kept

	marked := q.Marked(target)
	sort.SliceStable(marked, func(i, j int) bool {
		return q.tree.Depth(marked[i]) > q.tree.Depth(marked[j])
	})
	for _, id := range marked {
		if err := executor.DeleteCategory(ctx, target, id); err != nil {
			report.Failures = append(report.Failures, newFailure(MutationDelete, id, "", err))
			continue
		}
		report.Deleted = append(report.Deleted, id)
		delete(q.marks[target.Key()], id)
		if q.selection != nil {
			q.selection.RemoveCategoryID(id)
		}
		q.tree.Remove(id)
	}
	if len(q.marks[target.Key()]) == 0 {
		delete(q.marks, target.Key())
	}

	return report
}

// Discard drops every queued mutation. Temp nodes are removed from the working tree.
func (q *DeferredMutationQueue) Discard() {
	for _, c := range q.creates {
		q.tree.Remove(c.TempID)
	}
	q.creates = nil
	q.marks = make(map[string]map[int64]bool)
}

func newFailure(op MutationOp, id int64, name string, err error) MutationFailure {
	return MutationFailure{Op: op, CategoryID: id, Name: name, Err: err, Message: err.Error()}
}
