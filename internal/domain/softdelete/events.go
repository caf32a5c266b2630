package softdelete

import (
	"context"

	"deletionmark/internal/core/entity"
)

// EventName represents a soft-delete lifecycle event.
type EventName string

const (
	BeforeSoftDelete  EventName = "before_soft_delete"
	AfterSoftDelete   EventName = "after_soft_delete"
	BeforeSoftRestore EventName = "before_soft_restore"
	AfterSoftRestore  EventName = "after_soft_restore"
)

// Cancelable reports whether listeners may veto the event.
func (n EventName) Cancelable() bool {
	return n == BeforeSoftDelete || n == BeforeSoftRestore
}

// Event is passed to listeners. Before events run inside the transaction
// before the update; after events run inside it after the record's
// in-memory attributes already hold the new values.
type Event struct {
	Name      EventName
	Operation Operation
	Record    entity.Record
	Changes   entity.Changes

	// IsValid may be set to false by a before listener to veto the operation.
	// Ignored for after events.
	IsValid bool
}

func newEvent(name EventName, op Operation, rec entity.Record, changes entity.Changes) *Event {
	return &Event{Name: name, Operation: op, Record: rec, Changes: changes, IsValid: true}
}

// Listener handles an event. A returned error aborts the operation, rolls
// the transaction back and is returned to the caller unchanged.
type Listener func(ctx context.Context, e *Event) error

// Records may implement these to receive their own events. They run
// before listeners registered on the HookRegistry.
type (
	BeforeSoftDeleter interface {
		BeforeSoftDelete(ctx context.Context, e *Event) error
	}
	AfterSoftDeleter interface {
		AfterSoftDelete(ctx context.Context, e *Event) error
	}
	BeforeSoftRestorer interface {
		BeforeSoftRestore(ctx context.Context, e *Event) error
	}
	AfterSoftRestorer interface {
		AfterSoftRestore(ctx context.Context, e *Event) error
	}
)

// HookRegistry stores listeners per event.
// Register listeners during setup; Run is not synchronized with On.
type HookRegistry struct {
	listeners map[EventName][]Listener
}

// NewHookRegistry creates an empty hook registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		listeners: make(map[EventName][]Listener),
	}
}

// On registers a listener for the specified event.
func (r *HookRegistry) On(name EventName, l Listener) {
	r.listeners[name] = append(r.listeners[name], l)
}

// OnBeforeSoftDelete registers a listener to run before soft delete.
func (r *HookRegistry) OnBeforeSoftDelete(l Listener) {
	r.On(BeforeSoftDelete, l)
}

// OnAfterSoftDelete registers a listener to run after soft delete.
func (r *HookRegistry) OnAfterSoftDelete(l Listener) {
	r.On(AfterSoftDelete, l)
}

// OnBeforeSoftRestore registers a listener to run before soft restore.
func (r *HookRegistry) OnBeforeSoftRestore(l Listener) {
	r.On(BeforeSoftRestore, l)
}

// OnAfterSoftRestore registers a listener to run after soft restore.
func (r *HookRegistry) OnAfterSoftRestore(l Listener) {
	r.On(AfterSoftRestore, l)
}

// Run dispatches e to the record's own handler, then to registered
// listeners in registration order. Dispatch stops at the first error,
// or at the first veto of a cancelable event.
func (r *HookRegistry) Run(ctx context.Context, e *Event) error {
	if err := dispatchToRecord(ctx, e); err != nil {
		return err
	}
	if vetoed(e) {
		return nil
	}

	for _, l := range r.listeners[e.Name] {
		if err := l(ctx, e); err != nil {
			return err
		}
		if vetoed(e) {
			return nil
		}
	}
	return nil
}

func vetoed(e *Event) bool {
	return e.Name.Cancelable() && !e.IsValid
}

func dispatchToRecord(ctx context.Context, e *Event) error {
	switch e.Name {
	case BeforeSoftDelete:
		if h, ok := e.Record.(BeforeSoftDeleter); ok {
			return h.BeforeSoftDelete(ctx, e)
		}
	case AfterSoftDelete:
		if h, ok := e.Record.(AfterSoftDeleter); ok {
			return h.AfterSoftDelete(ctx, e)
		}
	case BeforeSoftRestore:
		if h, ok := e.Record.(BeforeSoftRestorer); ok {
			return h.BeforeSoftRestore(ctx, e)
		}
	case AfterSoftRestore:
		if h, ok := e.Record.(AfterSoftRestorer); ok {
			return h.AfterSoftRestore(ctx, e)
		}
	}
	return nil
}
