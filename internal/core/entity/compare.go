package entity

import (
	"bytes"
	"encoding/json"
	"math/big"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
)

// Equal reports whether a stored attribute value already equals a target.
//
// Drivers disagree on representations (SQLite booleans are int64, pgx returns
// int32 for INT columns, JSON decoding yields json.Number), so numbers compare
// by value across kinds, bool compares with 0/1, and times by instant. Strings
// only equal strings.
func Equal(a, b any) bool {
	a, b = deref(a), deref(b)

	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}

	if da, ok := toDecimal(a); ok {
		db, ok := toDecimal(b)
		return ok && da.Equal(db)
	}

	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		return ok && va == vb
	case []byte:
		vb, ok := b.([]byte)
		return ok && bytes.Equal(va, vb)
	}

	return reflect.DeepEqual(a, b)
}

// Truthy converts a deletion-flag value to bool.
// nil, false, zero numbers, "", "0", "false" and the zero time are false.
func Truthy(v any) bool {
	v = deref(v)
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "0" && val != "false"
	case []byte:
		return Truthy(string(val))
	case time.Time:
		return !val.IsZero()
	}
	if d, ok := toDecimal(v); ok {
		return !d.IsZero()
	}
	return true
}

// deref unwraps non-nil pointers and maps nil pointers to untyped nil.
func deref(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

// toDecimal converts numeric kinds (and bool as 0/1) to decimal.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case bool:
		if val {
			return decimal.NewFromInt(1), true
		}
		return decimal.Zero, true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int8:
		return decimal.NewFromInt(int64(val)), true
	case int16:
		return decimal.NewFromInt(int64(val)), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case uint8:
		return decimal.NewFromInt(int64(val)), true
	case uint16:
		return decimal.NewFromInt(int64(val)), true
	case uint32:
		return decimal.NewFromInt(int64(val)), true
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(val)), 0), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(val), 0), true
	case float32:
		return decimal.NewFromFloat32(val), true
	case float64:
		return decimal.NewFromFloat(val), true
	}
	return decimal.Zero, false
}
