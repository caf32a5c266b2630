// Package softdelete marks records as deleted by changing attributes instead
// of removing rows, and restores them the same way.
//
// Both transitions follow one routine: compute the attribute changes, skip
// when there are none, then inside a transaction fire the cancelable before
// event, write the changes, apply them in memory, fire the after event and
// commit. On a version-locked record a vetoed or failed write is reported as
// a stale object error.
package softdelete

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"deletionmark/internal/core/apperror"
	"deletionmark/internal/core/entity"
	"deletionmark/internal/core/tx"
	"deletionmark/pkg/logger"
)

var tracer = otel.Tracer("deletionmark/softdelete")

// errRolledBack is returned from the transaction closure to roll back a
// vetoed or unmatched update without reporting an error to the caller.
var errRolledBack = errors.New("soft delete rolled back")

// Updater is the persistence primitive the controller writes through.
type Updater interface {
	// UpdateAttributes writes exactly changes to rec's row.
	//
	// When lock is non-nil the row must still hold lock.Value in
	// lock.Attribute; the lock is incremented and its new value stored on
	// rec. Returns false when no row matched. The controller applies the
	// changes to rec in memory itself.
	UpdateAttributes(ctx context.Context, rec entity.Record, changes entity.Changes, lock *entity.LockCondition) (bool, error)
}

// Controller performs soft delete and restore for one attribute list.
// It holds no per-record state and is safe for concurrent use once hooks
// are registered.
type Controller struct {
	cfg      Config
	flagAttr string
	hasFlag  bool

	txm     tx.Manager
	store   Updater
	hooks   *HookRegistry
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithHooks uses an existing registry instead of a fresh one.
func WithHooks(h *HookRegistry) Option {
	return func(c *Controller) { c.hooks = h }
}

// WithMetrics records operation outcomes.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock overrides the time source of Timestamp attributes.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a controller. The config is normalized and frozen here.
func New(cfg Config, txm tx.Manager, store Updater, opts ...Option) (*Controller, error) {
	if txm == nil || store == nil {
		return nil, apperror.NewValidation("transaction manager and updater are required")
	}

	normalized, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:   normalized,
		txm:   txm,
		store: store,
		hooks: NewHookRegistry(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	c.flagAttr, c.hasFlag = normalized.flagAttribute()

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Hooks returns the hook registry for listener registration.
func (c *Controller) Hooks() *HookRegistry {
	return c.hooks
}

// Attributes returns the normalized attribute list.
func (c *Controller) Attributes() []Attribute {
	return append([]Attribute(nil), c.cfg.Attributes...)
}

// SoftDelete marks rec as deleted.
// rec must be persisted; a new record fails with an INVALID_STATE error
// before any transaction is opened.
//
// A vetoed or unmatched update returns OutcomeRejected or OutcomeFailed, or a
// STALE_OBJECT error when rec has an optimistic lock. The transaction is
// rolled back in that case unless ctx already carries one: an outer
// transaction is joined and left for its owner to commit. Nothing was
// written to it either way.
func (c *Controller) SoftDelete(ctx context.Context, rec entity.Record) (Outcome, error) {
	return c.run(ctx, OpDelete, rec, func() error {
		if rec.IsNewRecord() {
			return apperror.NewInvalidState("object you are going to delete is not saved yet").
				WithDetail("entity", rec.TableName())
		}
		return nil
	})
}

// SoftRestore reverts a soft delete. rec must currently report itself deleted.
// Outcomes, stale detection and transaction handling match SoftDelete.
func (c *Controller) SoftRestore(ctx context.Context, rec entity.Record) (Outcome, error) {
	return c.run(ctx, OpRestore, rec, func() error {
		deleted, err := c.IsDeleted(rec)
		if err != nil {
			return err
		}
		if !deleted {
			return apperror.NewInvalidState("object you are going to restore is not deleted").
				WithDetail("entity", rec.TableName()).
				WithDetail("id", rec.PrimaryKey().String())
		}
		return nil
	})
}

// DeletionFlag returns the raw value of the first flag attribute.
// Fails with INVALID_STATE for new records or when no flag is configured.
func (c *Controller) DeletionFlag(rec entity.Record) (any, error) {
	if rec.IsNewRecord() || !c.hasFlag {
		return nil, apperror.NewInvalidState("object is not in correct state").
			WithDetail("entity", rec.TableName())
	}
	return rec.Get(c.flagAttr), nil
}

// IsDeleted reports the deletion state of rec (strict form).
func (c *Controller) IsDeleted(rec entity.Record) (bool, error) {
	v, err := c.DeletionFlag(rec)
	if err != nil {
		return false, err
	}
	switch {
	case entity.Equal(v, c.cfg.RestoredValue):
		return false, nil
	case entity.Equal(v, c.cfg.DeletedValue):
		return true, nil
	}
	return entity.Truthy(v), nil
}

// Deleted is the lenient form of IsDeleted: invalid state reads as false.
func (c *Controller) Deleted(rec entity.Record) bool {
	deleted, err := c.IsDeleted(rec)
	return err == nil && deleted
}

// run wraps apply with precondition, tracing, metrics and logging.
func (c *Controller) run(ctx context.Context, op Operation, rec entity.Record, precondition func() error) (Outcome, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "softdelete."+op.String(),
		trace.WithAttributes(
			attribute.String("record.table", rec.TableName()),
			attribute.String("record.id", rec.PrimaryKey().String()),
		))
	defer span.End()

	outcome, err := OutcomeFailed, precondition()
	if err == nil {
		outcome, err = c.apply(ctx, op, rec)
	}

	label := outcomeLabel(outcome, err)
	span.SetAttributes(attribute.String("softdelete.outcome", label))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, label)
	}
	c.metrics.observe(op, label, time.Since(start))

	c.log(ctx, op, rec, outcome, err)
	return outcome, err
}

// apply is the shared delete/restore routine.
func (c *Controller) apply(ctx context.Context, op Operation, rec entity.Record) (Outcome, error) {
	changes := c.diff(op, rec)
	if len(changes) == 0 {
		return OutcomeNoop, nil
	}

	var lock *entity.LockCondition
	if attr := rec.OptimisticLock(); attr != "" {
		lock = &entity.LockCondition{Attribute: attr, Value: rec.Get(attr)}
	}

	saved := takeSnapshot(rec, changes, lock)

	outcome := OutcomeFailed
	err := c.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		before := newEvent(op.before(), op, rec, changes)
		if err := c.hooks.Run(ctx, before); err != nil {
			return err
		}
		if !before.IsValid {
			outcome = OutcomeRejected
			return errRolledBack
		}

		ok, err := c.store.UpdateAttributes(ctx, rec, changes, lock)
		if err != nil {
			return err
		}
		if !ok {
			outcome = OutcomeFailed
			return errRolledBack
		}

		changes.ApplyTo(rec)

		if err := c.hooks.Run(ctx, newEvent(op.after(), op, rec, changes)); err != nil {
			return err
		}
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		saved.restore(rec)
		if !errors.Is(err, errRolledBack) {
			return OutcomeFailed, err
		}
	}

	// With a lock in play any unapplied attempt, veto included, is stale.
	if lock != nil && outcome != OutcomeApplied {
		return outcome, apperror.NewStaleObject(rec.TableName(), rec.PrimaryKey().String()).
			WithDetail("lock", lock.Attribute).
			WithDetail("outcome", outcome.String())
	}
	return outcome, nil
}

// diff collects the attributes whose current value differs from the target.
func (c *Controller) diff(op Operation, rec entity.Record) entity.Changes {
	now := c.now()
	var changes entity.Changes
	for _, a := range c.cfg.Attributes {
		current := rec.Get(a.Name)
		// A deletion time already set is kept.
		if a.Kind == KindTimestamp && op == OpDelete && !isNull(current) {
			continue
		}
		target := c.cfg.target(a, op, now)
		if entity.Equal(current, target) {
			continue
		}
		changes = append(changes, entity.Change{Attribute: a.Name, Value: target})
	}
	return changes
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	t, ok := v.(*time.Time)
	return ok && t == nil
}

func (c *Controller) log(ctx context.Context, op Operation, rec entity.Record, outcome Outcome, err error) {
	kv := []any{
		"operation", op.String(),
		"table", rec.TableName(),
		"id", rec.PrimaryKey().String(),
		"outcome", outcomeLabel(outcome, err),
	}
	switch {
	case err != nil:
		logger.Warn(ctx, "soft "+op.String()+" failed", append(kv, "error", err)...)
	case outcome == OutcomeApplied:
		logger.Info(ctx, "soft "+op.String()+" applied", kv...)
	case outcome == OutcomeNoop:
		logger.Debug(ctx, "soft "+op.String()+" skipped, record already in target state", kv...)
	default:
		logger.Warn(ctx, "soft "+op.String()+" not applied", kv...)
	}
}

// snapshot holds in-memory values to put back when the transaction does
// not commit.
type snapshot []entity.Change

func takeSnapshot(rec entity.Record, changes entity.Changes, lock *entity.LockCondition) snapshot {
	s := make(snapshot, 0, len(changes)+1)
	for _, ch := range changes {
		s = append(s, entity.Change{Attribute: ch.Attribute, Value: rec.Get(ch.Attribute)})
	}
	if lock != nil {
		s = append(s, entity.Change{Attribute: lock.Attribute, Value: lock.Value})
	}
	return s
}

func (s snapshot) restore(rec entity.Record) {
	for _, ch := range s {
		rec.Set(ch.Attribute, ch.Value)
	}
}
