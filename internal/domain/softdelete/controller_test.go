package softdelete

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deletionmark/internal/core/apperror"
	"deletionmark/internal/core/entity"
	"deletionmark/internal/core/id"
)

// Mock objects

type fakeTx struct {
	begun      int
	committed  int
	rolledBack int
	commitErr  error
}

func (f *fakeTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.begun++
	if err := fn(ctx); err != nil {
		f.rolledBack++
		return err
	}
	if f.commitErr != nil {
		f.rolledBack++
		return f.commitErr
	}
	f.committed++
	return nil
}

type fakeStore struct {
	calls []entity.Changes
	locks []*entity.LockCondition
	fail  bool
	err   error
}

func (s *fakeStore) UpdateAttributes(ctx context.Context, rec entity.Record, changes entity.Changes, lock *entity.LockCondition) (bool, error) {
	s.calls = append(s.calls, changes)
	s.locks = append(s.locks, lock)
	if s.err != nil {
		return false, s.err
	}
	if s.fail {
		return false, nil
	}
	if lock != nil {
		rec.Set(lock.Attribute, entity.Attributes{"v": lock.Value}.GetInt("v")+1)
	}
	return true, nil
}

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func newTestController(t *testing.T, cfg Config) (*Controller, *fakeTx, *fakeStore) {
	t.Helper()
	txm := &fakeTx{}
	store := &fakeStore{}
	c, err := New(cfg, txm, store, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return c, txm, store
}

func persisted(attrs entity.Attributes) *entity.Model {
	return entity.LoadedModel("products", id.New(), attrs)
}

// recordEvents registers listeners on every event and returns the fired names.
func recordEvents(c *Controller) *[]EventName {
	var fired []EventName
	for _, name := range []EventName{BeforeSoftDelete, AfterSoftDelete, BeforeSoftRestore, AfterSoftRestore} {
		c.Hooks().On(name, func(ctx context.Context, e *Event) error {
			fired = append(fired, e.Name)
			return nil
		})
	}
	return &fired
}

func TestSoftDelete_DefaultConfig(t *testing.T) {
	c, txm, store := newTestController(t, Config{})
	fired := recordEvents(c)
	rec := persisted(entity.Attributes{"deleted": 0})

	outcome, err := c.SoftDelete(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, outcome)
	assert.True(t, outcome.Applied())
	require.Len(t, store.calls, 1)
	assert.Equal(t, entity.Changes{{Attribute: "deleted", Value: 1}}, store.calls[0])
	assert.Nil(t, store.locks[0])
	assert.Equal(t, []EventName{BeforeSoftDelete, AfterSoftDelete}, *fired)
	assert.Equal(t, 1, txm.committed)
	assert.Equal(t, 0, txm.rolledBack)

	flag, err := c.DeletionFlag(rec)
	require.NoError(t, err)
	assert.Equal(t, 1, flag)

	deleted, err := c.IsDeleted(rec)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestSoftDelete_AlreadyDeleted_Noop(t *testing.T) {
	c, txm, store := newTestController(t, Config{})
	fired := recordEvents(c)
	rec := persisted(entity.Attributes{"deleted": int64(1)})

	outcome, err := c.SoftDelete(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, 0, txm.begun)
	assert.Empty(t, store.calls)
	assert.Empty(t, *fired)
}

func TestSoftDelete_NewRecord(t *testing.T) {
	c, txm, store := newTestController(t, Config{})
	rec := entity.NewModel("products", entity.Attributes{"deleted": 0})

	outcome, err := c.SoftDelete(context.Background(), rec)

	assert.True(t, apperror.IsInvalidState(err))
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 0, txm.begun)
	assert.Empty(t, store.calls)
}

func TestSoftDelete_FlagAndTimestamp_OneTransaction(t *testing.T) {
	c, txm, store := newTestController(t, Config{
		Attributes: []Attribute{Flag("deleted"), Timestamp("deleted_at")},
	})
	rec := persisted(entity.Attributes{"deleted": 0, "deleted_at": nil})

	outcome, err := c.SoftDelete(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 1, txm.begun)
	require.Len(t, store.calls, 1)
	assert.Equal(t, entity.Changes{
		{Attribute: "deleted", Value: 1},
		{Attribute: "deleted_at", Value: fixedNow},
	}, store.calls[0])
	assert.Equal(t, fixedNow, rec.Get("deleted_at"))
}

func TestSoftDelete_KeepsExistingTimestamp(t *testing.T) {
	c, txm, store := newTestController(t, Config{
		Attributes: []Attribute{Flag("deleted"), Timestamp("deleted_at")},
	})
	earlier := fixedNow.Add(-time.Hour)
	rec := persisted(entity.Attributes{"deleted": int64(1), "deleted_at": earlier})

	outcome, err := c.SoftDelete(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, 0, txm.begun)
	assert.Empty(t, store.calls)

	rec.Set("deleted", int64(0))
	outcome, err = c.SoftDelete(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, entity.Changes{{Attribute: "deleted", Value: 1}}, store.calls[0])
	assert.Equal(t, earlier, rec.Get("deleted_at"))
}

func TestSoftDeleteThenRestore_RoundTrip(t *testing.T) {
	c, _, _ := newTestController(t, Config{
		Attributes: []Attribute{
			Flag("deleted"),
			Timestamp("deleted_at"),
			Values("status", "archived", "active"),
		},
	})
	original := entity.Attributes{"deleted": 0, "deleted_at": nil, "status": "active"}
	rec := persisted(original.Clone())
	ctx := context.Background()

	outcome, err := c.SoftDelete(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, "archived", rec.Get("status"))

	outcome, err = c.SoftRestore(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	for name, want := range original {
		assert.True(t, entity.Equal(want, rec.Get(name)), "attribute %s: want %v, got %v", name, want, rec.Get(name))
	}
}

func TestSoftRestore_NotDeleted(t *testing.T) {
	c, txm, _ := newTestController(t, Config{})
	rec := persisted(entity.Attributes{"deleted": 0})

	_, err := c.SoftRestore(context.Background(), rec)

	assert.True(t, apperror.IsInvalidState(err))
	assert.Equal(t, 0, txm.begun)
}

func TestSoftRestore_NewRecord(t *testing.T) {
	c, txm, _ := newTestController(t, Config{})
	rec := entity.NewModel("products", entity.Attributes{"deleted": 1})

	_, err := c.SoftRestore(context.Background(), rec)

	assert.True(t, apperror.IsInvalidState(err))
	assert.Equal(t, 0, txm.begun)
}

func TestSoftRestore_Events(t *testing.T) {
	c, _, store := newTestController(t, Config{})
	fired := recordEvents(c)
	rec := persisted(entity.Attributes{"deleted": true})

	outcome, err := c.SoftRestore(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, []EventName{BeforeSoftRestore, AfterSoftRestore}, *fired)
	assert.Equal(t, entity.Changes{{Attribute: "deleted", Value: 0}}, store.calls[0])
	assert.False(t, c.Deleted(rec))
}

func TestSoftDelete_Veto(t *testing.T) {
	c, txm, store := newTestController(t, Config{})
	var afterCalled, secondCalled bool
	c.Hooks().OnBeforeSoftDelete(func(ctx context.Context, e *Event) error {
		e.IsValid = false
		return nil
	})
	c.Hooks().OnBeforeSoftDelete(func(ctx context.Context, e *Event) error {
		secondCalled = true
		return nil
	})
	c.Hooks().OnAfterSoftDelete(func(ctx context.Context, e *Event) error {
		afterCalled = true
		return nil
	})
	rec := persisted(entity.Attributes{"deleted": 0})

	outcome, err := c.SoftDelete(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, OutcomeRejected, outcome)
	assert.False(t, outcome.Applied())
	assert.Empty(t, store.calls)
	assert.Equal(t, 1, txm.rolledBack)
	assert.Equal(t, 0, txm.committed)
	assert.False(t, afterCalled)
	assert.False(t, secondCalled, "dispatch stops at the first veto")
	assert.Equal(t, 0, rec.Get("deleted"))
}

func TestSoftDelete_VetoWithLock_IsStale(t *testing.T) {
	c, txm, store := newTestController(t, Config{})
	c.Hooks().OnBeforeSoftDelete(func(ctx context.Context, e *Event) error {
		e.IsValid = false
		return nil
	})
	rec := persisted(entity.Attributes{"deleted": 0, "version": int64(3)}).WithLock("version")

	outcome, err := c.SoftDelete(context.Background(), rec)

	require.Error(t, err)
	assert.True(t, apperror.IsStaleObject(err), "got %v", err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Empty(t, store.calls)
	assert.Equal(t, 1, txm.rolledBack)
	assert.Equal(t, 0, txm.committed)
	assert.Equal(t, 0, rec.Get("deleted"))
	assert.Equal(t, int64(3), rec.Get("version"))
}

func TestSoftRestore_VetoWithLock_IsStale(t *testing.T) {
	c, txm, store := newTestController(t, Config{})
	c.Hooks().OnBeforeSoftRestore(func(ctx context.Context, e *Event) error {
		e.IsValid = false
		return nil
	})
	rec := persisted(entity.Attributes{"deleted": 1, "version": int64(3)}).WithLock("version")

	outcome, err := c.SoftRestore(context.Background(), rec)

	assert.True(t, apperror.IsStaleObject(err), "got %v", err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Empty(t, store.calls)
	assert.Equal(t, 1, txm.rolledBack)
	assert.Equal(t, 1, rec.Get("deleted"))
}

func TestSoftDelete_UpdateErrorPropagates(t *testing.T) {
	c, txm, store := newTestController(t, Config{})
	boom := errors.New("connection reset by peer")
	store.err = boom
	rec := persisted(entity.Attributes{"deleted": 0})

	outcome, err := c.SoftDelete(context.Background(), rec)

	assert.Same(t, boom, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 1, txm.rolledBack)
	assert.Equal(t, 0, rec.Get("deleted"))
}

func TestSoftDelete_UpdateFails_NoLock(t *testing.T) {
	c, txm, store := newTestController(t, Config{})
	store.fail = true
	rec := persisted(entity.Attributes{"deleted": 0})

	outcome, err := c.SoftDelete(context.Background(), rec)

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 1, txm.rolledBack)
	assert.Equal(t, 0, rec.Get("deleted"))
}

func TestSoftDelete_UpdateFails_WithLock_Stale(t *testing.T) {
	c, txm, store := newTestController(t, Config{})
	store.fail = true
	rec := persisted(entity.Attributes{"deleted": 0, "version": int64(3)}).WithLock("version")

	outcome, err := c.SoftDelete(context.Background(), rec)

	assert.True(t, apperror.IsStaleObject(err))
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 1, txm.rolledBack)
	assert.Equal(t, int64(3), rec.Get("version"))
	assert.Equal(t, 0, rec.Get("deleted"))
}

func TestSoftDelete_LockConditionPassed(t *testing.T) {
	c, _, store := newTestController(t, Config{})
	rec := persisted(entity.Attributes{"deleted": 0, "version": int64(3)}).WithLock("version")

	outcome, err := c.SoftDelete(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, &entity.LockCondition{Attribute: "version", Value: int64(3)}, store.locks[0])
	assert.Equal(t, int64(4), rec.Get("version"))
}

func TestSoftDelete_AfterListenerError_RestoresMemory(t *testing.T) {
	c, txm, _ := newTestController(t, Config{})
	boom := errors.New("audit insert failed")
	c.Hooks().OnAfterSoftDelete(func(ctx context.Context, e *Event) error {
		return boom
	})
	rec := persisted(entity.Attributes{"deleted": 0, "version": int64(7)}).WithLock("version")

	_, err := c.SoftDelete(context.Background(), rec)

	assert.Same(t, boom, err)
	assert.Equal(t, 1, txm.rolledBack)
	assert.Equal(t, 0, rec.Get("deleted"))
	assert.Equal(t, int64(7), rec.Get("version"))
}

func TestSoftDelete_CommitError_RestoresMemory(t *testing.T) {
	c, txm, _ := newTestController(t, Config{})
	boom := errors.New("commit transaction: serialization failure")
	txm.commitErr = boom
	rec := persisted(entity.Attributes{"deleted": 0})

	outcome, err := c.SoftDelete(context.Background(), rec)

	assert.Same(t, boom, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 0, rec.Get("deleted"))
}

func TestSoftDelete_ListenersSeeValues(t *testing.T) {
	c, _, _ := newTestController(t, Config{})
	var before, after any
	c.Hooks().OnBeforeSoftDelete(func(ctx context.Context, e *Event) error {
		before = e.Record.Get("deleted")
		return nil
	})
	c.Hooks().OnAfterSoftDelete(func(ctx context.Context, e *Event) error {
		after = e.Record.Get("deleted")
		assert.Equal(t, []string{"deleted"}, e.Changes.Names())
		return nil
	})

	_, err := c.SoftDelete(context.Background(), persisted(entity.Attributes{"deleted": 0}))
	require.NoError(t, err)

	assert.Equal(t, 0, before)
	assert.Equal(t, 1, after)
}

type hookedRecord struct {
	*entity.Model
	locked bool
	seen   []EventName
}

func (r *hookedRecord) BeforeSoftDelete(ctx context.Context, e *Event) error {
	r.seen = append(r.seen, e.Name)
	if r.locked {
		e.IsValid = false
	}
	return nil
}

func (r *hookedRecord) AfterSoftDelete(ctx context.Context, e *Event) error {
	r.seen = append(r.seen, e.Name)
	return nil
}

func TestSoftDelete_RecordHooks(t *testing.T) {
	c, _, _ := newTestController(t, Config{})
	ctx := context.Background()

	rec := &hookedRecord{Model: persisted(entity.Attributes{"deleted": 0}), locked: true}
	outcome, err := c.SoftDelete(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, []EventName{BeforeSoftDelete}, rec.seen)

	rec.locked = false
	rec.seen = nil
	outcome, err = c.SoftDelete(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, []EventName{BeforeSoftDelete, AfterSoftDelete}, rec.seen)
}

func TestIsDeleted_NoFlagConfigured(t *testing.T) {
	c, _, _ := newTestController(t, Config{
		Attributes: []Attribute{Literal("status", "archived"), Timestamp("deleted_at")},
	})
	rec := persisted(entity.Attributes{"status": "archived"})

	_, err := c.IsDeleted(rec)
	assert.True(t, apperror.IsInvalidState(err))
	assert.False(t, c.Deleted(rec))

	_, err = c.SoftRestore(context.Background(), rec)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestIsDeleted_FirstFlagWins(t *testing.T) {
	c, _, _ := newTestController(t, Config{
		Attributes: []Attribute{Timestamp("deleted_at"), Flag("is_deleted"), Flag("hidden")},
	})
	rec := persisted(entity.Attributes{"is_deleted": int64(1), "hidden": int64(0)})

	deleted, err := c.IsDeleted(rec)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestIsDeleted_CustomMarkerValues(t *testing.T) {
	c, _, store := newTestController(t, Config{
		Attribute:     "state",
		DeletedValue:  "D",
		RestoredValue: "A",
	})
	rec := persisted(entity.Attributes{"state": "A"})

	assert.False(t, c.Deleted(rec))

	_, err := c.SoftDelete(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, entity.Changes{{Attribute: "state", Value: "D"}}, store.calls[0])
	assert.True(t, c.Deleted(rec))
}

func TestIsDeleted_NewRecordLenient(t *testing.T) {
	c, _, _ := newTestController(t, Config{})
	rec := entity.NewModel("products", entity.Attributes{"deleted": 1})

	_, err := c.IsDeleted(rec)
	assert.True(t, apperror.IsInvalidState(err))
	assert.False(t, c.Deleted(rec))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, nil, &fakeStore{})
	assert.True(t, apperror.IsValidation(err))

	_, err = New(Config{}, &fakeTx{}, nil)
	assert.True(t, apperror.IsValidation(err))
}
