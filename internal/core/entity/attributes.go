// Package entity provides the record abstraction soft deletion operates on.
package entity

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Attributes is the named attribute bag of a record (column name -> value).
// Values are whatever the database driver returned: int64, bool, string,
// time.Time, []byte, nil, [16]byte for uuid columns under pgx, ...
type Attributes map[string]any

// --- Type-safe getters ---

// GetString returns string value or empty string if not found/wrong type.
func (a Attributes) GetString(key string) string {
	if a == nil {
		return ""
	}
	switch v := a[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// GetInt returns int64 value, handling the integer widths drivers return.
func (a Attributes) GetInt(key string) int64 {
	if a == nil {
		return 0
	}
	switch v := a[key].(type) {
	case json.Number:
		i, _ := v.Int64()
		return i
	case float64:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case int:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	}
	return 0
}

// GetDecimal returns decimal.Decimal value with full precision.
func (a Attributes) GetDecimal(key string) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	if d, ok := toDecimal(a[key]); ok {
		return d
	}
	return decimal.Zero
}

// GetBool returns the truthiness of the value (see Truthy).
func (a Attributes) GetBool(key string) bool {
	if a == nil {
		return false
	}
	return Truthy(a[key])
}

// GetTime returns time value or nil when unset/NULL.
func (a Attributes) GetTime(key string) *time.Time {
	if a == nil {
		return nil
	}
	switch v := a[key].(type) {
	case time.Time:
		return &v
	case *time.Time:
		return v
	}
	return nil
}

// Has checks if key exists (including nil values).
func (a Attributes) Has(key string) bool {
	if a == nil {
		return false
	}
	_, ok := a[key]
	return ok
}

// Set adds or updates a value. Returns self for chaining.
func (a *Attributes) Set(key string, value any) Attributes {
	if *a == nil {
		*a = make(Attributes)
	}
	(*a)[key] = value
	return *a
}

// Clone creates a shallow copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	result := make(Attributes, len(a))
	for k, v := range a {
		result[k] = v
	}
	return result
}
