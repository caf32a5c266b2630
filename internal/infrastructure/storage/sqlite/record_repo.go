package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"

	"deletionmark/internal/core/apperror"
	"deletionmark/internal/core/entity"
	"deletionmark/internal/core/id"
	"deletionmark/internal/infrastructure/storage"
)

// RecordRepo loads and writes entity.Model rows by primary key.
// Keys are stored as TEXT.
type RecordRepo struct {
	txm *TxManager
}

// NewRecordRepo creates a record repository.
func NewRecordRepo(txm *TxManager) *RecordRepo {
	return &RecordRepo{txm: txm}
}

func (r *RecordRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
}

// Find loads the row with the given key. lockAttr may be empty.
func (r *RecordRepo) Find(ctx context.Context, table string, key id.ID, lockAttr string) (*entity.Model, error) {
	query, args, err := storage.SelectQuery(r.builder(), table, key.String())
	if err != nil {
		return nil, err
	}

	row := map[string]any{}
	if err := sqlscan.Get(ctx, r.txm.GetQuerier(ctx), &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, apperror.NewNotFound(table, key.String())
		}
		return nil, fmt.Errorf("find %s: %w", table, err)
	}

	attrs := make(entity.Attributes, len(row))
	for col, v := range row {
		if col == storage.KeyColumn {
			continue
		}
		// TEXT comes back as []byte from some query paths.
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		attrs[col] = v
	}

	return entity.LoadedModel(table, key, attrs).WithLock(lockAttr), nil
}

// Insert writes a new record and marks it persisted.
func (r *RecordRepo) Insert(ctx context.Context, m *entity.Model) error {
	if !m.IsNewRecord() {
		return apperror.NewInvalidState("record is already persisted").WithDetail("entity", m.TableName())
	}

	query, args, err := storage.InsertQuery(r.builder(), m.TableName(), m.ID.String(), m.Attributes)
	if err != nil {
		return err
	}

	if _, err := r.txm.GetQuerier(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", m.TableName(), err)
	}

	m.MarkPersisted()
	return nil
}

// UpdateAttributes writes changes to rec's row, version-checked when lock
// is set. Returns false when no row matched.
func (r *RecordRepo) UpdateAttributes(ctx context.Context, rec entity.Record, changes entity.Changes, lock *entity.LockCondition) (bool, error) {
	query, args, err := storage.UpdateQuery(r.builder(), rec.TableName(), rec.PrimaryKey().String(), changes, lock)
	if err != nil {
		return false, err
	}

	querier := r.txm.GetQuerier(ctx)

	if lock == nil {
		res, err := querier.ExecContext(ctx, query, args...)
		if err != nil {
			return false, fmt.Errorf("update %s: %w", rec.TableName(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("update %s: %w", rec.TableName(), err)
		}
		return n > 0, nil
	}

	var next int64
	if err := querier.QueryRowContext(ctx, query, args...).Scan(&next); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("update %s: %w", rec.TableName(), err)
	}
	rec.Set(lock.Attribute, next)
	return true, nil
}
