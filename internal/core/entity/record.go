package entity

import (
	"deletionmark/internal/core/id"
)

// Record is what the soft-delete controller needs from a persisted object:
// identity, persistence state, an optional optimistic-lock attribute and
// named attribute access.
type Record interface {
	// TableName is the table (or collection) the record lives in.
	TableName() string

	// PrimaryKey identifies the row to update.
	PrimaryKey() id.ID

	// IsNewRecord reports whether the record has not been saved yet.
	IsNewRecord() bool

	// OptimisticLock returns the lock attribute name, or "" when the
	// record is not version-checked.
	OptimisticLock() string

	Get(name string) any
	Set(name string, value any)
}

// AttributeSource is implemented by records that can list all their
// attributes (used by guard expressions).
type AttributeSource interface {
	Values() Attributes
}

// Model is the attribute-bag implementation of Record used by the
// repositories in infrastructure/storage.
type Model struct {
	ID         id.ID
	Attributes Attributes

	table     string
	lockAttr  string
	persisted bool
}

var (
	_ Record          = (*Model)(nil)
	_ AttributeSource = (*Model)(nil)
)

// NewModel creates an unsaved record with a generated ID.
func NewModel(table string, attrs Attributes) *Model {
	return &Model{
		ID:         id.New(),
		Attributes: attrs.Clone(),
		table:      table,
	}
}

// LoadedModel creates a record representing an existing row.
func LoadedModel(table string, key id.ID, attrs Attributes) *Model {
	return &Model{
		ID:         key,
		Attributes: attrs,
		table:      table,
		persisted:  true,
	}
}

// WithLock declares the optimistic-lock attribute. Returns self for chaining.
func (m *Model) WithLock(attr string) *Model {
	m.lockAttr = attr
	return m
}

// MarkPersisted flips the record from new to persisted (used by repository after insert).
func (m *Model) MarkPersisted() {
	m.persisted = true
}

func (m *Model) TableName() string      { return m.table }
func (m *Model) PrimaryKey() id.ID      { return m.ID }
func (m *Model) IsNewRecord() bool      { return !m.persisted }
func (m *Model) OptimisticLock() string { return m.lockAttr }

// Get returns the attribute value, nil when unset.
func (m *Model) Get(name string) any {
	if m.Attributes == nil {
		return nil
	}
	return m.Attributes[name]
}

// Set assigns the attribute value in memory only.
func (m *Model) Set(name string, value any) {
	m.Attributes.Set(name, value)
}

// Values returns a copy of all attributes.
func (m *Model) Values() Attributes {
	return m.Attributes.Clone()
}
