package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"catalog-override-service/internal/events"
	"catalog-override-service/internal/models"
	"catalog-override-service/internal/repository"
)

// SessionDeps are the collaborators an editing session works against
type SessionDeps struct {
	Products *repository.ProductRepository
	ShopData *repository.ShopDataRepository
	Shops    *repository.ShopRepository
	Mapper   *CategoryMapper
	Tracker  *SyncStateTracker
	Events   events.Emitter
}

// EditorSession is one user's edit of one product across the default and shop contexts.
// Every edit is written through to the pending buffer, so the buffer alone decides
// whether there is unsaved work.
type EditorSession struct {
	ID        uuid.UUID
	ProductID int64

	mu      sync.Mutex
	deps    SessionDeps
	product *models.Product
	active  models.Context
	loaded  models.FormState
	buffer  *PendingChangeBuffer
	tree    *CategoryTree
	queue   *DeferredMutationQueue

	// version of the active shop row when it was loaded; 0 when the row did not exist
	loadedVersion int
	// version each buffered shop context was edited against
	baseVersions map[string]int

	lastUsed atomic.Int64
}

// ContextResult is the save outcome of one buffered context
type ContextResult struct {
	Context       string       `json:"context"`
	Saved         bool         `json:"saved"`
	Changed       []string     `json:"changed,omitempty"`
	RootsRepaired bool         `json:"rootsRepaired,omitempty"`
	MarkedPending []int64      `json:"markedPending,omitempty"`
	Mutations     CommitReport `json:"mutations"`
	Error         string       `json:"error,omitempty"`
	Err           error        `json:"-"`
}

// SaveReport lists the outcome of every context processed by Save
type SaveReport struct {
	Results []ContextResult `json:"results"`
}

// OK reports whether every context saved cleanly
func (r SaveReport) OK() bool {
	for _, res := range r.Results {
		if res.Err != nil {
			return false
		}
	}
	return true
}

// FieldView is one field as the editor shows it in the active context
type FieldView struct {
	Value     string      `json:"value"`
	Effective string      `json:"effective"`
	Status    FieldStatus `json:"status,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// SessionView is a read-only rendering of a session
type SessionView struct {
	ID                uuid.UUID                  `json:"id"`
	ProductID         int64                      `json:"productId"`
	Context           string                     `json:"context"`
	Fields            map[models.Field]FieldView `json:"fields"`
	Categories        models.CategorySelection   `json:"categories"`
	CategoryStatus    FieldStatus                `json:"categoryStatus"`
	PrimaryStatus     FieldStatus                `json:"primaryStatus"`
	PendingCreates    []PendingCreate            `json:"pendingCreates,omitempty"`
	MarkedForDeletion []int64                    `json:"markedForDeletion,omitempty"`
	BufferedContexts  []string                   `json:"bufferedContexts,omitempty"`
	Unsaved           bool                       `json:"unsaved"`
	EditingBlocked    bool                       `json:"editingBlocked"`
}

// NewEditorSession loads a product and opens it in the default context
func NewEditorSession(ctx context.Context, deps SessionDeps, productID int64) (*EditorSession, error) {
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	product, err := deps.Products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	tree, err := deps.Mapper.WorkingTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load category tree: %w", err)
	}

	buffer := NewPendingChangeBuffer()
	s := &EditorSession{
		ID:            uuid.New(),
		ProductID:     productID,
		deps:          deps,
		product:       product,
		active:        models.DefaultContext(),
		loaded:        product.FormState(),
		loadedVersion: product.Version,
		buffer:        buffer,
		tree:          tree,
		queue:         NewDeferredMutationQueue(tree, buffer),
		baseVersions:  make(map[string]int),
	}
	s.touch()
	return s, nil
}

func (s *EditorSession) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// LastUsed returns when the session was last accessed
func (s *EditorSession) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *EditorSession) event(eventType string, target models.Context) events.Event {
	shopID, _ := target.ShopID()
	e := events.New(eventType, s.ProductID, shopID)
	e.Context = target.Key()
	return e.With("session_id", s.ID.String())
}

// current is the active context's form: the buffered snapshot when there is one
func (s *EditorSession) current() models.FormState {
	if state, err := s.buffer.RestoreSnapshot(s.active.Key()); err == nil {
		return state
	}
	return s.loaded.Clone()
}

// defaults is the canonical form including unsaved default edits
func (s *EditorSession) defaults() models.FormState {
	if state, err := s.buffer.RestoreSnapshot(models.DefaultContextKey); err == nil {
		return state
	}
	return s.product.FormState()
}

// load reads a context from storage with inheritance applied. For a shop context it also
// returns the row version, 0 when no row exists yet.
func (s *EditorSession) load(ctx context.Context, target models.Context) (models.FormState, int, error) {
	shopID, ok := target.ShopID()
	if !ok {
		return Resolve(target, s.product, nil), s.product.Version, nil
	}
	data, err := s.deps.ShopData.Get(ctx, s.ProductID, shopID)
	if errors.Is(err, repository.ErrShopDataNotFound) {
		return Resolve(target, s.product, nil), 0, nil
	}
	if err != nil {
		return models.FormState{}, 0, err
	}
	return Resolve(target, s.product, data), data.Version, nil
}

// reload refreshes the active context from storage
func (s *EditorSession) reload(ctx context.Context) error {
	loaded, version, err := s.load(ctx, s.active)
	if err != nil {
		return err
	}
	s.loaded = loaded
	s.loadedVersion = version
	return nil
}

func (s *EditorSession) checkEditable(ctx context.Context, target models.Context) error {
	shopID, ok := target.ShopID()
	if !ok {
		return nil
	}
	data, err := s.deps.ShopData.Get(ctx, s.ProductID, shopID)
	if errors.Is(err, repository.ErrShopDataNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if IsEditingBlocked(data.SyncStatus) {
		return ErrEditingBlocked
	}
	return nil
}

// edit applies fn to the active form and snapshots the result
func (s *EditorSession) edit(ctx context.Context, fn func(form *models.FormState) error) error {
	if err := s.checkEditable(ctx, s.active); err != nil {
		return err
	}
	form := s.current()
	if err := fn(&form); err != nil {
		return err
	}
	key := s.active.Key()
	if !s.buffer.Has(key) {
		s.baseVersions[key] = s.loadedVersion
	}
	s.buffer.SaveSnapshot(key, form)
	return nil
}

// usable reports whether the active context may reference categoryID. A temp id belongs
// to the context that queued its creation until it is committed.
func (s *EditorSession) usable(categoryID int64) bool {
	if !s.tree.Contains(categoryID) {
		return false
	}
	if categoryID < 0 {
		owner, ok := s.queue.Owner(categoryID)
		return ok && owner == s.active
	}
	return true
}

// detach copies the default selection into an inheriting shop form before it is edited
func (s *EditorSession) detach(form *models.FormState) {
	if !s.active.IsDefault() && form.Categories.IsEmpty() {
		form.Categories = s.defaults().Categories.Clone()
	}
}

// Context returns the active context
func (s *EditorSession) Context() models.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// EffectiveValue returns the value the active context would publish for field
func (s *EditorSession) EffectiveValue(field models.Field) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	form := s.current()
	if s.active.IsDefault() {
		return form.Get(field)
	}
	return EffectiveValue(field, s.defaults(), &form)
}

// FieldStatus compares field in the active context with the canonical value
func (s *EditorSession) FieldStatus(field models.Field) (FieldStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	cur := s.current().Get(field)
	def := s.defaults().Get(field)
	return ResolveFieldStatus(s.active, field, &cur, &def)
}

// CategoryStatus compares the active selection with the canonical one
func (s *EditorSession) CategoryStatus() FieldStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return ResolveCategoryStatus(s.active, s.current().Categories, s.defaults().Categories)
}

// PrimaryCategoryStatus compares the active primary category with the canonical one
func (s *EditorSession) PrimaryCategoryStatus() FieldStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return ResolvePrimaryCategoryStatus(s.active, s.current().Categories, s.defaults().Categories)
}

// SetField stores a raw value in the active context. In a shop context "" clears the
// override. A value that does not normalize for its field is rejected.
func (s *EditorSession) SetField(ctx context.Context, field models.Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if _, err := models.LookupField(string(field)); err != nil {
		return err
	}
	if _, err := NormalizeValue(field, &value); err != nil {
		return err
	}
	return s.edit(ctx, func(form *models.FormState) error {
		form.Set(field, value)
		return nil
	})
}

// SwitchContext makes key the active context. Buffered edits of every context are kept;
// a context without a snapshot is loaded from storage with inheritance applied.
func (s *EditorSession) SwitchContext(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	target, err := models.ParseContextKey(key)
	if err != nil {
		return err
	}
	if shopID, ok := target.ShopID(); ok {
		if _, err := s.deps.Shops.GetByID(ctx, shopID); err != nil {
			return err
		}
	}
	loaded, version, err := s.load(ctx, target)
	if err != nil {
		return err
	}

	from := s.active
	s.active = target
	s.loaded = loaded
	s.loadedVersion = version
	s.deps.Events.Emit(ctx, s.event(events.ContextSwitched, target).
		With("from", from.Key()).
		With("buffered", s.buffer.Has(target.Key())))
	return nil
}

// ToggleCategory selects or deselects a category in the active context.
// It returns whether the category is now selected.
func (s *EditorSession) ToggleCategory(ctx context.Context, categoryID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if !s.usable(categoryID) {
		return false, ErrUnknownCategory
	}

	var selected bool
	err := s.edit(ctx, func(form *models.FormState) error {
		s.detach(form)
		selected = form.Categories.Toggle(categoryID)
		return nil
	})
	return selected, err
}

// SetPrimaryCategory makes categoryID the primary category of the active context
func (s *EditorSession) SetPrimaryCategory(ctx context.Context, categoryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if !s.usable(categoryID) {
		return ErrUnknownCategory
	}
	return s.edit(ctx, func(form *models.FormState) error {
		s.detach(form)
		form.Categories.SetPrimary(categoryID)
		return nil
	})
}

// CreateCategory queues an inline category creation, selects it in the active context
// and returns its temporary id
func (s *EditorSession) CreateCategory(ctx context.Context, name string, parentID *int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if parentID != nil && !s.usable(*parentID) {
		return 0, ErrUnknownCategory
	}

	var tempID int64
	err := s.edit(ctx, func(form *models.FormState) error {
		id, err := s.queue.EnqueueCreate(s.active, name, parentID)
		if err != nil {
			return err
		}
		tempID = id
		s.detach(form)
		form.Categories.Toggle(id)
		return nil
	})
	return tempID, err
}

// MarkCategoryForDeletion toggles the deletion mark of a category and its subtree.
// It returns whether the category is now marked.
func (s *EditorSession) MarkCategoryForDeletion(ctx context.Context, categoryID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if categoryID < 0 && !s.usable(categoryID) {
		return false, ErrUnknownCategory
	}

	var marked bool
	err := s.edit(ctx, func(*models.FormState) error {
		m, err := s.queue.EnqueueDelete(s.active, categoryID)
		marked = m
		return err
	})
	return marked, err
}

// HasUnsavedChanges reports whether any context has buffered edits
func (s *EditorSession) HasUnsavedChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.HasUnsavedChanges()
}

// Save persists every buffered context independently. A context that fails stays
// buffered with its queued mutations; contexts that succeeded are not rolled back.
func (s *EditorSession) Save(ctx context.Context) SaveReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	var report SaveReport
	for _, key := range s.buffer.Keys() {
		target, err := models.ParseContextKey(key)
		if err != nil {
			s.buffer.Clear(key)
			continue
		}
		res := s.saveContext(ctx, target)
		if res.Err != nil {
			res.Error = res.Err.Error()
			s.deps.Events.Emit(ctx, s.event(events.SaveFailed, target).With("error", res.Error))
		} else {
			s.buffer.Clear(key)
			delete(s.baseVersions, key)
			s.deps.Events.Emit(ctx, s.event(events.OverrideSaved, target).
				With("changed", res.Changed).
				With("marked_pending", res.MarkedPending))
			if res.RootsRepaired {
				s.deps.Events.Emit(ctx, s.event(events.RootsRepaired, target))
			}
		}
		report.Results = append(report.Results, res)
	}

	_ = s.reload(ctx)
	return report
}

func (s *EditorSession) saveContext(ctx context.Context, target models.Context) ContextResult {
	res := ContextResult{Context: target.Key()}

	if err := s.checkEditable(ctx, target); err != nil {
		res.Err = err
		return res
	}

	res.Mutations = s.queue.Commit(ctx, target, s.deps.Mapper)
	for id := range res.Mutations.Created {
		s.deps.Events.Emit(ctx, s.event(events.CategoryCreated, target).With("temp_id", id).With("category_id", res.Mutations.Created[id]))
	}
	for _, id := range res.Mutations.Deleted {
		s.deps.Events.Emit(ctx, s.event(events.CategoryDeleted, target).With("category_id", id))
	}
	if !res.Mutations.OK() {
		for _, f := range res.Mutations.Failures {
			s.deps.Events.Emit(ctx, s.event(events.MutationFailed, target).
				With("op", string(f.Op)).
				With("category_id", f.CategoryID).
				With("error", f.Message))
		}
		res.Err = fmt.Errorf("%d category change(s) failed", len(res.Mutations.Failures))
		return res
	}

	form, err := s.buffer.RestoreSnapshot(target.Key())
	if err != nil {
		res.Err = err
		return res
	}

	if target.IsDefault() {
		s.saveDefault(ctx, form, &res)
	} else {
		s.saveShop(ctx, target, form, &res)
	}
	return res
}

func (s *EditorSession) saveDefault(ctx context.Context, form models.FormState, res *ContextResult) {
	product, err := s.deps.Products.GetByID(ctx, s.ProductID)
	if err != nil {
		res.Err = err
		return
	}
	if product.Version != s.product.Version {
		res.Err = repository.ErrStaleVersion
		return
	}
	before := product.FormState()

	for _, f := range models.AllFields() {
		raw := form.Get(f)
		value, err := NormalizeValue(f, &raw)
		if err != nil {
			res.Err = err
			return
		}
		if err := product.SetFieldValue(f, value); err != nil {
			res.Err = err
			return
		}
	}
	product.Categories = datatypes.NewJSONType(form.Categories.Normalize())

	if err := s.deps.Products.UpdateWithVersion(ctx, product, product.Version); err != nil {
		res.Err = err
		return
	}
	s.product = product
	res.Saved = true
	res.Changed = ChangedFields(before, product.FormState())
	if len(res.Changed) == 0 {
		return
	}

	// Shops inheriting a changed value publish it too
	rows, err := s.deps.ShopData.ListByProduct(ctx, s.ProductID)
	if err != nil {
		res.Err = fmt.Errorf("saved, but failed to list shop contexts: %w", err)
		return
	}
	after := product.FormState()
	var errs []error
	for _, row := range rows {
		shopCtx := models.ShopContext(row.ShopID)
		overrides := row.FormState()
		changed := ChangedFields(Effective(shopCtx, overrides, before), Effective(shopCtx, overrides, after))
		if len(changed) == 0 {
			continue
		}
		marked, err := s.deps.Tracker.MarkPending(ctx, s.ProductID, row.ShopID, PendingChange{
			Fields:  changed,
			Hash:    SyncHash(Effective(shopCtx, overrides, after)),
			Trigger: models.TriggerInherited,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("shop %d: %w", row.ShopID, err))
			continue
		}
		if marked {
			res.MarkedPending = append(res.MarkedPending, row.ShopID)
		}
	}
	if len(errs) > 0 {
		res.Error = errors.Join(errs...).Error()
	}
}

func (s *EditorSession) saveShop(ctx context.Context, target models.Context, form models.FormState, res *ContextResult) {
	shopID, _ := target.ShopID()
	base := s.baseVersions[target.Key()]
	data, err := s.deps.ShopData.Get(ctx, s.ProductID, shopID)
	if errors.Is(err, repository.ErrShopDataNotFound) {
		data = &models.ProductShopData{ProductID: s.ProductID, ShopID: shopID}
	} else if err != nil {
		res.Err = err
		return
	}
	// The snapshot carries every field, so a row written since it was loaded would be reverted
	if data.Version != base {
		res.Err = repository.ErrStaleVersion
		return
	}
	before := data.FormState()

	for _, f := range models.AllFields() {
		raw := form.Get(f)
		value, err := NormalizeValue(f, &raw)
		if err != nil {
			res.Err = err
			return
		}
		if err := data.SetOverride(f, &value); err != nil {
			res.Err = err
			return
		}
	}
	selection, repaired, err := s.deps.Mapper.EnsureRoots(ctx, form.Categories.Normalize())
	if err != nil {
		res.Err = err
		return
	}
	data.Categories = datatypes.NewJSONType(selection)
	res.RootsRepaired = repaired

	if err := s.deps.ShopData.SaveOverrides(ctx, data, base); err != nil {
		res.Err = err
		return
	}
	res.Saved = true
	res.Changed = ChangedFields(before, data.FormState())
	if len(res.Changed) == 0 {
		return
	}

	effective := Effective(target, data.FormState(), s.product.FormState())
	marked, err := s.deps.Tracker.MarkPending(ctx, s.ProductID, shopID, PendingChange{
		Fields: res.Changed,
		Hash:   SyncHash(effective),
	})
	if err != nil {
		// The overrides are stored; the sync row reports the failure.
		res.Error = err.Error()
		return
	}
	if marked {
		res.MarkedPending = []int64{shopID}
	}
}

// Cancel drops every buffered edit and queued category mutation
func (s *EditorSession) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	s.buffer.Discard()
	s.queue.Discard()
	s.baseVersions = make(map[string]int)
	return s.reload(ctx)
}

// View renders the active context for the editor
func (s *EditorSession) View(ctx context.Context) SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	form := s.current()
	defaults := s.defaults()
	view := SessionView{
		ID:                s.ID,
		ProductID:         s.ProductID,
		Context:           s.active.Key(),
		Fields:            make(map[models.Field]FieldView, len(form.Fields)),
		Categories:        form.Categories,
		CategoryStatus:    ResolveCategoryStatus(s.active, form.Categories, defaults.Categories),
		PrimaryStatus:     ResolvePrimaryCategoryStatus(s.active, form.Categories, defaults.Categories),
		PendingCreates:    s.queue.Creates(s.active),
		MarkedForDeletion: s.queue.Marked(s.active),
		BufferedContexts:  s.buffer.Keys(),
		Unsaved:           s.buffer.HasUnsavedChanges(),
		EditingBlocked:    errors.Is(s.checkEditable(ctx, s.active), ErrEditingBlocked),
	}
	if !s.active.IsDefault() && view.Categories.IsEmpty() {
		view.Categories = defaults.Categories
	}

	for _, f := range models.AllFields() {
		cur := form.Get(f)
		def := defaults.Get(f)
		fv := FieldView{Value: cur, Effective: cur}
		if !s.active.IsDefault() {
			fv.Effective = EffectiveValue(f, defaults, &form)
		}
		status, err := ResolveFieldStatus(s.active, f, &cur, &def)
		if err != nil {
			fv.Error = err.Error()
		}
		fv.Status = status
		view.Fields[f] = fv
	}
	return view
}
