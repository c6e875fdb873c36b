package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	ContextSwitched   = "catalog.context.switched"
	OverrideSaved     = "catalog.override.saved"
	SaveFailed        = "catalog.override.save_failed"
	CategoryCreated   = "catalog.category.created"
	CategoryDeleted   = "catalog.category.deleted"
	CategoryMapped    = "catalog.category.mapped"
	RootsRepaired     = "catalog.category.roots_repaired"
	MutationFailed    = "catalog.category.mutation_failed"
	SyncMarkedPending = "catalog.sync.pending"
	SyncProcessing    = "catalog.sync.processing"
	SyncQueued        = "catalog.sync.queued"
	SyncSucceeded     = "catalog.sync.synced"
	SyncFailed        = "catalog.sync.failed"
	SyncJobRequested  = "catalog.sync.job_requested"
	PullApplied       = "catalog.pull.applied"
	PullRejected      = "catalog.pull.rejected"
	PullFailed        = "catalog.pull.failed"
	ConflictDetected  = "catalog.pull.conflict"
	SessionOpened     = "catalog.session.opened"
	SessionClosed     = "catalog.session.closed"
)

// Event is a domain event raised by an engine operation
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Type      string                 `json:"eventType"`
	ProductID int64                  `json:"productId,omitempty"`
	ShopID    int64                  `json:"shopId,omitempty"`
	Context   string                 `json:"context,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// New builds an event stamped with a fresh id and the current time
func New(eventType string, productID, shopID int64) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		ProductID: productID,
		ShopID:    shopID,
		Timestamp: time.Now().UTC(),
	}
}

// With returns a copy of e carrying an extra data entry
func (e Event) With(key string, value interface{}) Event {
	data := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// Emitter receives domain events. Emit must not block the caller for long.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Fanout forwards every event to each emitter in order
type Fanout []Emitter

func (f Fanout) Emit(ctx context.Context, event Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(ctx, event)
		}
	}
}

// Discard drops every event
type Discard struct{}

func (Discard) Emit(context.Context, Event) {}
