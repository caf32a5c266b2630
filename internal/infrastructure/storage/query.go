// Package storage holds the SQL shared by the postgres and sqlite record
// repositories. Table and column names come from configuration, so every
// identifier is validated before it reaches a query.
package storage

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/Masterminds/squirrel"

	"deletionmark/internal/core/apperror"
	"deletionmark/internal/core/entity"
)

// KeyColumn is the primary key column of every managed table.
const KeyColumn = "id"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier rejects names that are not plain SQL identifiers.
func ValidateIdentifier(name string) error {
	if !identRe.MatchString(name) {
		return apperror.NewValidation("invalid identifier").WithDetail("identifier", name)
	}
	return nil
}

// SelectQuery loads one row by key.
func SelectQuery(b squirrel.StatementBuilderType, table string, key any) (string, []any, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", nil, err
	}
	return b.Select("*").
		From(table).
		Where(squirrel.Eq{KeyColumn: key}).
		Limit(1).
		ToSql()
}

// InsertQuery inserts a row with the given key. Columns are sorted by name.
func InsertQuery(b squirrel.StatementBuilderType, table string, key any, attrs entity.Attributes) (string, []any, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", nil, err
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		if name == KeyColumn {
			continue
		}
		if err := ValidateIdentifier(name); err != nil {
			return "", nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	cols := append([]string{KeyColumn}, names...)
	vals := make([]any, 0, len(cols))
	vals = append(vals, key)
	for _, name := range names {
		vals = append(vals, attrs[name])
	}

	return b.Insert(table).Columns(cols...).Values(vals...).ToSql()
}

// UpdateQuery writes changes to the row with the given key.
//
// With a lock condition the statement also increments the lock column,
// matches only while it still holds the captured value, and returns the new
// value:
//
//	UPDATE t SET a = $1, version = version + 1 WHERE id = $2 AND version = $3 RETURNING version
func UpdateQuery(b squirrel.StatementBuilderType, table string, key any, changes entity.Changes, lock *entity.LockCondition) (string, []any, error) {
	if len(changes) == 0 {
		return "", nil, fmt.Errorf("update %s: no changes", table)
	}
	if err := ValidateIdentifier(table); err != nil {
		return "", nil, err
	}

	q := b.Update(table)
	for _, ch := range changes {
		if err := ValidateIdentifier(ch.Attribute); err != nil {
			return "", nil, err
		}
		q = q.Set(ch.Attribute, ch.Value)
	}
	q = q.Where(squirrel.Eq{KeyColumn: key})

	if lock != nil {
		if err := ValidateIdentifier(lock.Attribute); err != nil {
			return "", nil, err
		}
		q = q.Set(lock.Attribute, squirrel.Expr(lock.Attribute+" + 1")).
			Where(squirrel.Eq{lock.Attribute: lock.Value}).
			Suffix("RETURNING " + lock.Attribute)
	}

	return q.ToSql()
}
