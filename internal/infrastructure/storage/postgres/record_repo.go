package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"deletionmark/internal/core/apperror"
	"deletionmark/internal/core/entity"
	"deletionmark/internal/core/id"
	"deletionmark/internal/infrastructure/storage"
)

// RecordRepo loads and writes entity.Model rows by primary key.
// Queries run on the transaction in ctx when there is one.
type RecordRepo struct {
	txm *TxManager
}

// NewRecordRepo creates a record repository.
func NewRecordRepo(txm *TxManager) *RecordRepo {
	return &RecordRepo{txm: txm}
}

func (r *RecordRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Find loads the row with the given key. lockAttr may be empty.
func (r *RecordRepo) Find(ctx context.Context, table string, key id.ID, lockAttr string) (*entity.Model, error) {
	sql, args, err := storage.SelectQuery(r.builder(), table, key)
	if err != nil {
		return nil, err
	}

	row := map[string]any{}
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(table, key.String())
		}
		return nil, fmt.Errorf("find %s: %w", table, err)
	}

	attrs := make(entity.Attributes, len(row))
	for col, v := range row {
		if col == storage.KeyColumn {
			continue
		}
		attrs[col] = normalizeValue(v)
	}

	return entity.LoadedModel(table, key, attrs).WithLock(lockAttr), nil
}

// Insert writes a new record and marks it persisted.
func (r *RecordRepo) Insert(ctx context.Context, m *entity.Model) error {
	if !m.IsNewRecord() {
		return apperror.NewInvalidState("record is already persisted").WithDetail("entity", m.TableName())
	}

	sql, args, err := storage.InsertQuery(r.builder(), m.TableName(), m.ID, m.Attributes)
	if err != nil {
		return err
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert %s: %w", m.TableName(), err)
	}

	m.MarkPersisted()
	return nil
}

// UpdateAttributes writes changes to rec's row, version-checked when lock
// is set. Returns false when no row matched.
func (r *RecordRepo) UpdateAttributes(ctx context.Context, rec entity.Record, changes entity.Changes, lock *entity.LockCondition) (bool, error) {
	sql, args, err := storage.UpdateQuery(r.builder(), rec.TableName(), rec.PrimaryKey(), columnValues(rec, changes), lock)
	if err != nil {
		return false, err
	}

	querier := r.txm.GetQuerier(ctx)

	if lock == nil {
		tag, err := querier.Exec(ctx, sql, args...)
		if err != nil {
			return false, fmt.Errorf("update %s: %w", rec.TableName(), err)
		}
		return tag.RowsAffected() > 0, nil
	}

	var next any
	if err := querier.QueryRow(ctx, sql, args...).Scan(&next); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("update %s: %w", rec.TableName(), err)
	}
	rec.Set(lock.Attribute, normalizeValue(next))
	return true, nil
}

// columnValues converts marker values for boolean columns. pgx does not
// encode Go integers into boolean, so a change to a column loaded as bool is
// written as entity.Truthy of the value. Other values pass through.
func columnValues(rec entity.Record, changes entity.Changes) entity.Changes {
	out := make(entity.Changes, len(changes))
	for i, ch := range changes {
		out[i] = ch
		if ch.Value == nil {
			continue
		}
		if _, isBool := rec.Get(ch.Attribute).(bool); !isBool {
			continue
		}
		if _, already := ch.Value.(bool); !already {
			out[i].Value = entity.Truthy(ch.Value)
		}
	}
	return out
}

// normalizeValue maps driver-specific types to the ones entity.Equal and
// the guard understand.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return id.ID(val)
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		raw, err := val.Value()
		if err != nil {
			return v
		}
		s, ok := raw.(string)
		if !ok {
			return v
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return v
		}
		return d
	}
	return v
}
