package triples

import (
	"fmt"
	"math"
	"strconv"
)

// Value is a single triple field. Like the rest of the engine we use direct
// Go types rather than a wrapper:
//   - string
//   - int64
//   - float64
//   - bool
//
// nil means the field is absent.
type Value interface{}

// ValueType tags an encoded value
type ValueType byte

const (
	TypeBool   ValueType = 'b'
	TypeFloat  ValueType = 'f'
	TypeInt    ValueType = 'i'
	TypeString ValueType = 's'
)

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeFloat:
		return "float"
	case TypeInt:
		return "int"
	case TypeString:
		return "string"
	default:
		return fmt.Sprintf("ValueType(%d)", byte(t))
	}
}

// Normalize converts v to one of the canonical value types. Integer kinds
// become int64 and float32 becomes float64 so that equality on the normalized
// values is plain ==. NaN is rejected because it is not equal to itself.
func Normalize(v interface{}) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return val, nil
	case bool:
		return val, nil
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return nil, fmt.Errorf("unsigned value %d overflows int64", val)
		}
		return int64(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("unsigned value %d overflows int64", val)
		}
		return int64(val), nil
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func normalizeFloat(f float64) (Value, error) {
	if math.IsNaN(f) {
		return nil, fmt.Errorf("NaN is not a storable value")
	}
	if f == 0 {
		// -0 == 0 but their bit patterns differ; keys must agree with ==.
		return float64(0), nil
	}
	return f, nil
}

// TypeOf returns the type tag of a normalized value.
func TypeOf(v Value) ValueType {
	switch v.(type) {
	case bool:
		return TypeBool
	case float64:
		return TypeFloat
	case int64:
		return TypeInt
	case string:
		return TypeString
	default:
		return 0
	}
}

// Equal reports whether two field values are the same constant.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

// Format renders a value the way it is shown in tables and plans.
func Format(v Value) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
