package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Normalize converts a sampled value into something every SQL driver can
// bind: int64, float64, string, []byte, time.Time or nil. Structured values
// are stored as their JSON text.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return uintToInt64(uint64(x))
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return uintToInt64(x)
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		return x, nil
	case []byte:
		return x, nil
	case time.Time:
		return x, nil
	case decimal.Decimal:
		return x.InexactFloat64(), nil
	case *decimal.Decimal:
		if x == nil {
			return nil, nil
		}
		return x.InexactFloat64(), nil
	case json.RawMessage:
		return string(x), nil
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("measurement of type %T is not storable: %w", v, err)
		}
		return string(raw), nil
	}
}

// Float64 converts a measurement for backends with a numeric column.
func Float64(v any) (float64, error) {
	n, err := Normalize(v)
	if err != nil {
		return 0, err
	}

	switch x := n.(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case nil:
		return math.NaN(), nil
	default:
		return 0, fmt.Errorf("measurement of type %T is not numeric", v)
	}
}

func uintToInt64(x uint64) (any, error) {
	if x > math.MaxInt64 {
		return nil, fmt.Errorf("measurement %d overflows int64", x)
	}
	return int64(x), nil
}
