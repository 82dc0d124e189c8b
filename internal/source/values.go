package source

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Conversions of the values database/sql drivers hand back. They accept every
// Go type a driver in this module can produce for a numeric column, including
// the textual forms of the MySQL text protocol.

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int16:
		return int64(x), true
	case int8:
		return int64(x), true
	case int:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case float64:
		if x != math.Trunc(x) || x < math.MinInt64 || x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float32:
		return asInt64(float64(x))
	case []byte:
		return asInt64(string(x))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case []byte:
		return asUint64(string(x))
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(x), 10, 64)
		if err != nil {
			s, ok := asInt64(x)
			if !ok || s < 0 {
				return 0, false
			}
			return uint64(s), true
		}
		return n, true
	}
	n, ok := asInt64(v)
	if !ok || n < 0 {
		return 0, false
	}
	return uint64(n), true
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case []byte:
		return asFloat64(string(x))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	if n, ok := asInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

const defaultTimeLayout = "2006-01-02 15:04:05.999999"

// asText renders a scalar driver value for a textual cell. Bit cells get the
// big-endian bytes of an integer.
func asText(v any, bit bool, timeLayout string) ([]byte, bool) {
	switch x := v.(type) {
	case []byte:
		return x, true
	case string:
		return []byte(x), true
	case bool:
		if bit {
			if x {
				return []byte{1}, true
			}
			return []byte{0}, true
		}
		if x {
			return []byte("1"), true
		}
		return []byte("0"), true
	case float64:
		return strconv.AppendFloat(nil, x, 'f', -1, 64), true
	case float32:
		return strconv.AppendFloat(nil, float64(x), 'f', -1, 32), true
	case time.Time:
		if timeLayout == "" {
			timeLayout = defaultTimeLayout
		}
		return []byte(x.Format(timeLayout)), true
	}
	if n, ok := asInt64(v); ok {
		if bit {
			return binary.BigEndian.AppendUint64(nil, uint64(n)), true
		}
		return strconv.AppendInt(nil, n, 10), true
	}
	if n, ok := v.(uint64); ok {
		if bit {
			return binary.BigEndian.AppendUint64(nil, n), true
		}
		return strconv.AppendUint(nil, n, 10), true
	}
	return nil, false
}

// truncateChars cuts data after max characters. It reports the original
// character count when data was cut.
func truncateChars(data []byte, max int64) ([]byte, int64, bool) {
	if int64(len(data)) <= max {
		return data, 0, false
	}
	count := int64(utf8.RuneCount(data))
	if count <= max {
		return data, 0, false
	}
	pos := 0
	for n := int64(0); n < max; n++ {
		_, size := utf8.DecodeRune(data[pos:])
		pos += size
	}
	return data[:pos], count, true
}
