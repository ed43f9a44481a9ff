// pkg/expression/values.go
package expression

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// toString converts an interface to string
func toString(v interface{}) string {
	if v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// toInt attempts to convert a value to int64
func toInt(v interface{}) (int64, error) {
	if v == nil {
		return 0, errors.New("nil value")
	}

	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case float64:
		return int64(val), nil
	case string:
		cleaned := strings.TrimSpace(val)
		if cleaned == "" {
			return 0, errors.New("empty string")
		}
		return strconv.ParseInt(cleaned, 10, 64)
	case []byte:
		return toInt(string(val))
	default:
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
}

// toBool interprets an expression result as a predicate outcome
func toBool(v interface{}) (bool, error) {
	if v == nil {
		return false, errors.New("nil value")
	}

	switch val := v.(type) {
	case bool:
		return val, nil
	case int, int32, int64:
		i, _ := toInt(val)
		return i != 0, nil
	case float64:
		return val != 0, nil
	case string:
		cleaned := strings.TrimSpace(strings.ToLower(val))
		switch cleaned {
		case "true", "t", "1":
			return true, nil
		case "false", "f", "0":
			return false, nil
		default:
			return false, fmt.Errorf("cannot parse '%s' as boolean", val)
		}
	case []byte:
		return toBool(string(val))
	default:
		return false, fmt.Errorf("cannot convert %T to bool", v)
	}
}

// normalizeResult maps driver results onto the value types records carry
func normalizeResult(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// bindValue converts a record value into something the SQL driver accepts
func bindValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, string, int64, float64, []byte, time.Time:
		return val
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return toString(val)
	}
}
