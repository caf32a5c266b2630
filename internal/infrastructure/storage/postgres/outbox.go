package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	appctx "deletionmark/internal/core/context"
	"deletionmark/internal/core/id"
	"deletionmark/internal/domain/softdelete"
)

// Outbox event types.
const (
	EventRecordSoftDeleted  = "record.soft_deleted"
	EventRecordSoftRestored = "record.soft_restored"
)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const OutboxStatusPending OutboxStatus = "pending"

// OutboxPayload is the JSON body of a soft-delete outbox message.
type OutboxPayload struct {
	Table     string         `json:"table"`
	ID        string         `json:"id"`
	Operation string         `json:"operation"`
	Changes   map[string]any `json:"changes"`
	Actor     string         `json:"actor,omitempty"`
}

// OutboxPublisher writes applied soft deletes and restores to sys_outbox
// in the same transaction, for a relay to deliver later.
type OutboxPublisher struct {
	txm *TxManager
	now func() time.Time
}

// NewOutboxPublisher creates a new outbox publisher.
func NewOutboxPublisher(txm *TxManager) *OutboxPublisher {
	return &OutboxPublisher{txm: txm, now: func() time.Time { return time.Now().UTC() }}
}

// Register attaches the publisher to both after events of h.
func (p *OutboxPublisher) Register(h *softdelete.HookRegistry) {
	h.OnAfterSoftDelete(p.Listener())
	h.OnAfterSoftRestore(p.Listener())
}

// Listener returns an after-event listener that publishes e.
func (p *OutboxPublisher) Listener() softdelete.Listener {
	return func(ctx context.Context, e *softdelete.Event) error {
		return p.Publish(ctx, e)
	}
}

// Publish inserts an outbox message for e.
// Must be called inside a transaction.
func (p *OutboxPublisher) Publish(ctx context.Context, e *softdelete.Event) error {
	pgTx := p.txm.GetTx(ctx)
	if pgTx == nil {
		return fmt.Errorf("outbox publish requires transaction context")
	}

	eventType, payload, err := outboxMessage(ctx, e)
	if err != nil {
		return err
	}

	_, err = pgTx.Exec(ctx, `
		INSERT INTO sys_outbox (id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.New(), e.Record.TableName(), e.Record.PrimaryKey(), eventType, payload, OutboxStatusPending, p.now())
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

func outboxMessage(ctx context.Context, e *softdelete.Event) (string, []byte, error) {
	eventType := EventRecordSoftDeleted
	if e.Operation == softdelete.OpRestore {
		eventType = EventRecordSoftRestored
	}

	payload, err := json.Marshal(OutboxPayload{
		Table:     e.Record.TableName(),
		ID:        e.Record.PrimaryKey().String(),
		Operation: e.Operation.String(),
		Changes:   e.Changes.Map(),
		Actor:     appctx.GetActorID(ctx),
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return eventType, payload, nil
}
