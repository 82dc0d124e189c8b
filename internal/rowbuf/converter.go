package rowbuf

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TimeKind tags what a TimeValue holds.
type TimeKind int

const (
	TimeNone TimeKind = iota
	TimeDate
	TimeTime
	TimeDatetime
)

const (
	minDateLen     = len("YYYY-MM-DD")
	minTimeLen     = len("HH:MM:SS")
	minDatetimeLen = len("YYYY-MM-DD HH:MM:SS")
)

// TimeValue is the structured form of a date, time or datetime cell.
type TimeValue struct {
	Kind                 TimeKind
	Year, Month, Day     int
	Hour, Minute, Second int
	Micro                int
	Neg                  bool
}

// Text renders v unquoted. A TimeNone value gives an empty string.
func (v TimeValue) Text(fractional bool) string {
	sign := ""
	if v.Neg {
		sign = "-"
	}
	switch v.Kind {
	case TimeDate:
		return fmt.Sprintf("%04d-%02d-%02d", v.Year, v.Month, v.Day)
	case TimeTime:
		if fractional {
			return fmt.Sprintf("%s%02d:%02d:%02d.%06d", sign, v.Hour, v.Minute, v.Second, v.Micro)
		}
		return fmt.Sprintf("%s%02d:%02d:%02d", sign, v.Hour, v.Minute, v.Second)
	case TimeDatetime:
		if fractional {
			return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d", v.Year, v.Month, v.Day, v.Hour, v.Minute, v.Second, v.Micro)
		}
		return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", v.Year, v.Month, v.Day, v.Hour, v.Minute, v.Second)
	}
	return ""
}

// Literal renders v as a quoted MySQL literal.
func (v TimeValue) Literal(fractional bool) string {
	return "'" + v.Text(fractional) + "'"
}

// BaseConverter parses the textual date/time forms sources hand back.
// Malformed input never fails: it is logged and becomes TimeNone.
type BaseConverter struct {
	log *zap.Logger
}

func NewBaseConverter(log *zap.Logger) *BaseConverter {
	if log == nil {
		log = zap.NewNop()
	}
	return &BaseConverter{log: log}
}

// Convert parses s according to the target type of the cell.
func (c *BaseConverter) Convert(s string, t FieldType) TimeValue {
	switch t {
	case TypeDate, TypeNewDate:
		return c.ConvertDate(s)
	case TypeTime:
		return c.ConvertTime(s)
	}
	return c.ConvertTimestamp(s)
}

// ConvertDate parses YYYY-MM-DD.
func (c *BaseConverter) ConvertDate(s string) TimeValue {
	if len(s) < minDateLen {
		c.invalid(s, "date")
		return TimeValue{}
	}
	var v TimeValue
	if !parseDate(s, &v) {
		c.invalid(s, "date")
		return TimeValue{}
	}
	v.Kind = TimeDate
	return v
}

// ConvertTime parses [-]HH:MM:SS[.ffffff]. Hours may have more than two digits.
func (c *BaseConverter) ConvertTime(s string) TimeValue {
	if len(s) < minTimeLen {
		c.invalid(s, "time")
		return TimeValue{}
	}
	var v TimeValue
	if !parseClock(s, &v) {
		c.invalid(s, "time")
		return TimeValue{}
	}
	v.Kind = TimeTime
	return v
}

// ConvertTimestamp parses YYYY-MM-DD HH:MM:SS[.ffffff], with ' ' or 'T' between the parts.
func (c *BaseConverter) ConvertTimestamp(s string) TimeValue {
	if len(s) < minDatetimeLen {
		c.invalid(s, "datetime")
		return TimeValue{}
	}
	var v TimeValue
	if !parseDate(s[:minDateLen], &v) || (s[minDateLen] != ' ' && s[minDateLen] != 'T') || !parseClock(s[minDateLen+1:], &v) || v.Neg {
		c.invalid(s, "datetime")
		return TimeValue{}
	}
	v.Kind = TimeDatetime
	return v
}

// FromTime fills a TimeValue from a driver supplied time.Time.
func (c *BaseConverter) FromTime(t time.Time, ft FieldType) TimeValue {
	v := TimeValue{
		Year: t.Year(), Month: int(t.Month()), Day: t.Day(),
		Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(),
		Micro: t.Nanosecond() / 1000,
	}
	switch ft {
	case TypeDate, TypeNewDate:
		v.Kind = TimeDate
		v.Hour, v.Minute, v.Second, v.Micro = 0, 0, 0, 0
	case TypeTime:
		v.Kind = TimeTime
		v.Year, v.Month, v.Day = 0, 0, 0
	default:
		v.Kind = TimeDatetime
	}
	return v
}

func (c *BaseConverter) invalid(s string, kind string) {
	c.log.Warn("Invalid date/time literal, storing no value", zap.String("kind", kind), zap.String("value", s))
}

// ------------------------------------------------------------------------------------------
func digits(s string) (int, bool) {
	if len(s) == 0 {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
	}
	return n, true
}

func parseDate(s string, v *TimeValue) bool {
	if s[4] != '-' || s[7] != '-' {
		return false
	}
	var ok1, ok2, ok3 bool
	v.Year, ok1 = digits(s[0:4])
	v.Month, ok2 = digits(s[5:7])
	v.Day, ok3 = digits(s[8:10])
	return ok1 && ok2 && ok3
}

func parseClock(s string, v *TimeValue) bool {
	if len(s) > 0 && s[0] == '-' {
		v.Neg = true
		s = s[1:]
	}
	c1 := -1
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			c1 = i
			break
		}
	}
	if c1 < 2 || len(s) < c1+6 || s[c1+3] != ':' {
		return false
	}
	var ok1, ok2, ok3 bool
	v.Hour, ok1 = digits(s[:c1])
	v.Minute, ok2 = digits(s[c1+1 : c1+3])
	v.Second, ok3 = digits(s[c1+4 : c1+6])
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	rest := s[c1+6:]
	if len(rest) == 0 {
		return true
	}
	if rest[0] != '.' {
		return false
	}
	frac := rest[1:]
	if len(frac) > 6 {
		frac = frac[:6]
	}
	for len(frac) < 6 {
		frac += "0"
	}
	var ok bool
	v.Micro, ok = digits(frac)
	return ok
}
