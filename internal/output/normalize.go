package output

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"auditkit/internal/descriptor"
)

// Time layouts used for ISO 8601 rendering.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05"
)

// Normalize converts v to a value every encoder can represent. Times become
// ISO 8601 strings, decimals become float64, and non-finite floats become
// null.
func Normalize(v any, t descriptor.ColumnType) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		if t == descriptor.ColumnDate {
			return x.Format(DateLayout)
		}
		return x.Format(DateTimeLayout)
	case *time.Time:
		if x == nil {
			return nil
		}
		return Normalize(*x, t)
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case *big.Rat:
		if x == nil {
			return nil
		}
		f, _ := x.Float64()
		return finite(f)
	case *big.Float:
		if x == nil {
			return nil
		}
		f, _ := x.Float64()
		return finite(f)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return finite(f)
	case interface{ Float64() (float64, error) }:
		f, err := x.Float64()
		if err != nil {
			return fmt.Sprint(x)
		}
		return finite(f)
	case []byte:
		return string(x)
	case bool:
		return x
	case string:
		return x
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		if t == descriptor.ColumnBoolean {
			return fmt.Sprint(x) != "0"
		}
		return x
	case int64:
		if t == descriptor.ColumnBoolean {
			return x != 0
		}
		return x
	}
	return fmt.Sprint(v)
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
