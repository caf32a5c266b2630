package entity

// Change is a single attribute assignment.
type Change struct {
	Attribute string
	Value     any
}

// Changes is an ordered set of attribute assignments.
// Order follows the configuration so generated SQL is deterministic.
type Changes []Change

// Names returns the changed attribute names in order.
func (c Changes) Names() []string {
	names := make([]string, len(c))
	for i, ch := range c {
		names[i] = ch.Attribute
	}
	return names
}

// Map returns the changes as attribute -> value.
func (c Changes) Map() map[string]any {
	m := make(map[string]any, len(c))
	for _, ch := range c {
		m[ch.Attribute] = ch.Value
	}
	return m
}

// ApplyTo assigns every change to rec in memory.
func (c Changes) ApplyTo(rec Record) {
	for _, ch := range c {
		rec.Set(ch.Attribute, ch.Value)
	}
}

// LockCondition is the optimistic-lock value captured before an update.
// The update only matches the row while Attribute still equals Value.
type LockCondition struct {
	Attribute string
	Value     any
}

