package storage

import (
	"testing"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deletionmark/internal/core/apperror"
	"deletionmark/internal/core/entity"
)

var dollar = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

func TestUpdateQuery(t *testing.T) {
	changes := entity.Changes{
		{Attribute: "deleted", Value: 1},
		{Attribute: "deleted_at", Value: "2026-01-01"},
	}

	tests := []struct {
		name     string
		builder  squirrel.StatementBuilderType
		lock     *entity.LockCondition
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "without lock",
			builder:  dollar,
			wantSQL:  "UPDATE products SET deleted = $1, deleted_at = $2 WHERE id = $3",
			wantArgs: []any{1, "2026-01-01", "k"},
		},
		{
			name:     "with lock",
			builder:  dollar,
			lock:     &entity.LockCondition{Attribute: "version", Value: int64(3)},
			wantSQL:  "UPDATE products SET deleted = $1, deleted_at = $2, version = version + 1 WHERE id = $3 AND version = $4 RETURNING version",
			wantArgs: []any{1, "2026-01-01", "k", int64(3)},
		},
		{
			name:     "question placeholders",
			builder:  squirrel.StatementBuilder,
			lock:     &entity.LockCondition{Attribute: "version", Value: int64(3)},
			wantSQL:  "UPDATE products SET deleted = ?, deleted_at = ?, version = version + 1 WHERE id = ? AND version = ? RETURNING version",
			wantArgs: []any{1, "2026-01-01", "k", int64(3)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := UpdateQuery(tt.builder, "products", "k", changes, tt.lock)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestUpdateQuery_Rejects(t *testing.T) {
	ok := entity.Changes{{Attribute: "deleted", Value: 1}}

	_, _, err := UpdateQuery(dollar, "products", "k", nil, nil)
	assert.Error(t, err)

	_, _, err = UpdateQuery(dollar, "products; drop table x", "k", ok, nil)
	assert.True(t, apperror.IsValidation(err))

	_, _, err = UpdateQuery(dollar, "products", "k", entity.Changes{{Attribute: "a b", Value: 1}}, nil)
	assert.True(t, apperror.IsValidation(err))

	_, _, err = UpdateQuery(dollar, "products", "k", ok, &entity.LockCondition{Attribute: "1v"})
	assert.True(t, apperror.IsValidation(err))
}

func TestInsertQuery_SortsColumns(t *testing.T) {
	sql, args, err := InsertQuery(dollar, "products", "k", entity.Attributes{
		"name":    "box",
		"deleted": 0,
		"id":      "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO products (id,deleted,name) VALUES ($1,$2,$3)", sql)
	assert.Equal(t, []any{"k", 0, "box"}, args)
}

func TestSelectQuery(t *testing.T) {
	sql, args, err := SelectQuery(dollar, "products", "k")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM products WHERE id = $1 LIMIT 1", sql)
	assert.Equal(t, []any{"k"}, args)
}
