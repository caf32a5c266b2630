package softdelete

import (
	"time"

	"deletionmark/internal/core/apperror"
)

// DefaultDeletedAttribute is the flag attribute used when nothing is configured.
const DefaultDeletedAttribute = "deleted"

// Kind selects how an attribute's target value is resolved.
type Kind int

const (
	// KindFlag is the sentinel: DeletedValue on delete, RestoredValue on restore.
	KindFlag Kind = iota
	// KindLiteral assigns the same explicit value on both operations.
	KindLiteral
	// KindTimestamp assigns the current time on delete and NULL on restore.
	KindTimestamp
	// KindValues assigns an explicit value per operation.
	KindValues
)

func (k Kind) String() string {
	switch k {
	case KindFlag:
		return "flag"
	case KindLiteral:
		return "literal"
	case KindTimestamp:
		return "timestamp"
	case KindValues:
		return "values"
	}
	return "unknown"
}

// Attribute is one entry of the attribute list.
type Attribute struct {
	Name string
	Kind Kind

	// Value is used by KindLiteral.
	Value any

	// OnDelete and OnRestore are used by KindValues.
	OnDelete  any
	OnRestore any
}

// Flag declares a deletion-marker attribute.
func Flag(name string) Attribute {
	return Attribute{Name: name, Kind: KindFlag}
}

// Literal declares an attribute set to value on both delete and restore.
func Literal(name string, value any) Attribute {
	return Attribute{Name: name, Kind: KindLiteral, Value: value}
}

// Timestamp declares a deletion-time attribute.
func Timestamp(name string) Attribute {
	return Attribute{Name: name, Kind: KindTimestamp}
}

// Values declares an attribute with explicit per-operation values.
func Values(name string, onDelete, onRestore any) Attribute {
	return Attribute{Name: name, Kind: KindValues, OnDelete: onDelete, OnRestore: onRestore}
}

// Config configures a Controller. It is normalized once by New.
type Config struct {
	// Attributes is the ordered attribute list.
	Attributes []Attribute

	// Attribute is the bare-string form: a single flag attribute.
	// Mutually exclusive with Attributes.
	Attribute string

	// DeletedAttribute is the flag used when neither Attributes nor
	// Attribute is set. Default "deleted".
	DeletedAttribute string

	// DeletedValue and RestoredValue are the flag values. Default 1 and 0.
	DeletedValue  any
	RestoredValue any
}

// normalize applies defaults and validates the attributes.
func (c Config) normalize() (Config, error) {
	if c.DeletedAttribute == "" {
		c.DeletedAttribute = DefaultDeletedAttribute
	}
	if c.DeletedValue == nil {
		c.DeletedValue = 1
	}
	if c.RestoredValue == nil {
		c.RestoredValue = 0
	}

	switch {
	case c.Attribute != "" && len(c.Attributes) > 0:
		return c, apperror.NewValidation("attribute and attributes are mutually exclusive")
	case c.Attribute != "":
		c.Attributes = []Attribute{Flag(c.Attribute)}
		c.Attribute = ""
	case len(c.Attributes) == 0:
		c.Attributes = []Attribute{Flag(c.DeletedAttribute)}
	default:
		c.Attributes = append([]Attribute(nil), c.Attributes...)
	}

	seen := make(map[string]struct{}, len(c.Attributes))
	for _, a := range c.Attributes {
		if a.Name == "" {
			return c, apperror.NewValidation("attribute name is required")
		}
		if _, dup := seen[a.Name]; dup {
			return c, apperror.NewValidation("duplicate attribute").WithDetail("attribute", a.Name)
		}
		if a.Kind < KindFlag || a.Kind > KindValues {
			return c, apperror.NewValidation("unknown attribute kind").WithDetail("attribute", a.Name)
		}
		seen[a.Name] = struct{}{}
	}

	return c, nil
}

// flagAttribute returns the first flag entry, the one IsDeleted reads.
func (c Config) flagAttribute() (string, bool) {
	for _, a := range c.Attributes {
		if a.Kind == KindFlag {
			return a.Name, true
		}
	}
	return "", false
}

// target resolves the value attribute a should hold after op.
func (c Config) target(a Attribute, op Operation, now time.Time) any {
	switch a.Kind {
	case KindLiteral:
		return a.Value
	case KindTimestamp:
		if op == OpDelete {
			return now
		}
		return nil
	case KindValues:
		if op == OpDelete {
			return a.OnDelete
		}
		return a.OnRestore
	}
	if op == OpDelete {
		return c.DeletedValue
	}
	return c.RestoredValue
}

// Validate reports the errors New would return for this config.
func (c Config) Validate() error {
	_, err := c.normalize()
	return err
}
