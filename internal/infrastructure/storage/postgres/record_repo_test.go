package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deletionmark/internal/core/entity"
	"deletionmark/internal/core/id"
)

func TestNormalizeValue(t *testing.T) {
	key := id.New()
	assert.Equal(t, key, normalizeValue([16]byte(key)))
	assert.Equal(t, int16(1), normalizeValue(int16(1)))
	assert.Nil(t, normalizeValue(pgtype.Numeric{}))

	var n pgtype.Numeric
	require.NoError(t, n.Scan("12.50"))
	got, ok := normalizeValue(n).(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.RequireFromString("12.5")))
}

func TestColumnValues_BooleanColumn(t *testing.T) {
	rec := entity.LoadedModel("products", id.New(), entity.Attributes{
		"deleted":    false,
		"archived":   true,
		"status":     "active",
		"deleted_at": nil,
	})
	changes := entity.Changes{
		{Attribute: "deleted", Value: 1},
		{Attribute: "archived", Value: int64(0)},
		{Attribute: "status", Value: "archived"},
		{Attribute: "deleted_at", Value: 1},
	}

	got := columnValues(rec, changes)

	assert.Equal(t, entity.Changes{
		{Attribute: "deleted", Value: true},
		{Attribute: "archived", Value: false},
		{Attribute: "status", Value: "archived"},
		{Attribute: "deleted_at", Value: 1},
	}, got)
	assert.Equal(t, 1, changes[0].Value, "input is not modified")
}

func TestColumnValues_KeepsBoolAndNull(t *testing.T) {
	rec := entity.LoadedModel("products", id.New(), entity.Attributes{"deleted": true})

	got := columnValues(rec, entity.Changes{{Attribute: "deleted", Value: false}})
	assert.Equal(t, false, got[0].Value)

	got = columnValues(rec, entity.Changes{{Attribute: "deleted", Value: nil}})
	assert.Nil(t, got[0].Value)
}
