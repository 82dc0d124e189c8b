package target

import (
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"copytable/internal/rowbuf"
	"copytable/internal/sqlquote"
)

// fractionalSeconds: 5.6.4 stores microseconds in time columns.
func (t *MySQLTarget) fractionalSeconds() bool {
	return t.version.atLeast(5, 6, 4)
}

func (t *MySQLTarget) geomFromText() string {
	if t.version.atLeast(5, 6, 6) {
		return "ST_GeomFromText"
	}
	return "GeomFromText"
}

// bitValue reads a BIT cell, stored big-endian, as an unsigned integer.
func bitValue(b []byte) uint64 {
	if len(b) > 8 {
		b = b[len(b)-8:]
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func appendQuoted(dst, src []byte) []byte {
	dst = append(dst, '\'')
	dst = sqlquote.AppendEscaped(dst, src)
	return append(dst, '\'')
}

func (t *MySQLTarget) nonFinite(col *rowbuf.ColumnInfo, v float64) {
	t.log.Warn("Non finite floating point value written as NULL",
		zap.String("table", t.schema+"."+t.table), zap.String("column", col.TargetName), zap.Float64("value", v))
}

// appendLiteral writes the cell as a MySQL literal.
func (t *MySQLTarget) appendLiteral(dst []byte, cell *rowbuf.Cell, col *rowbuf.ColumnInfo) []byte {
	if cell.Null {
		return append(dst, "NULL"...)
	}
	switch cell.Type {
	case rowbuf.TypeTiny:
		if cell.Unsigned {
			return strconv.AppendUint(dst, uint64(uint8(cell.Tiny)), 10)
		}
		return strconv.AppendInt(dst, int64(cell.Tiny), 10)
	case rowbuf.TypeShort, rowbuf.TypeYear:
		if cell.Unsigned {
			return strconv.AppendUint(dst, uint64(uint16(cell.Short)), 10)
		}
		return strconv.AppendInt(dst, int64(cell.Short), 10)
	case rowbuf.TypeLong, rowbuf.TypeInt24:
		if cell.Unsigned {
			return strconv.AppendUint(dst, uint64(uint32(cell.Long)), 10)
		}
		return strconv.AppendInt(dst, int64(cell.Long), 10)
	case rowbuf.TypeLongLong:
		if cell.Unsigned {
			return strconv.AppendUint(dst, uint64(cell.Bigint), 10)
		}
		return strconv.AppendInt(dst, cell.Bigint, 10)
	case rowbuf.TypeFloat:
		v := float64(cell.Float)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.nonFinite(col, v)
			return append(dst, "NULL"...)
		}
		return strconv.AppendFloat(dst, v, 'g', -1, 32)
	case rowbuf.TypeDouble:
		if math.IsNaN(cell.Double) || math.IsInf(cell.Double, 0) {
			t.nonFinite(col, cell.Double)
			return append(dst, "NULL"...)
		}
		return strconv.AppendFloat(dst, cell.Double, 'g', -1, 64)
	case rowbuf.TypeBit:
		return strconv.AppendUint(dst, bitValue(cell.Buf.Bytes()), 10)
	case rowbuf.TypeDecimal, rowbuf.TypeNewDecimal:
		return sqlquote.AppendEscaped(dst, cell.Buf.Bytes())
	case rowbuf.TypeString, rowbuf.TypeVarString, rowbuf.TypeJSON:
		if strings.EqualFold(col.SourceType, "decimal") {
			dst = append(dst, '\'')
			dst = append(dst, cell.Buf.Bytes()...)
			return append(dst, '\'')
		}
		return appendQuoted(dst, cell.Buf.Bytes())
	case rowbuf.TypeTime, rowbuf.TypeDate, rowbuf.TypeNewDate, rowbuf.TypeDatetime, rowbuf.TypeTimestamp:
		return append(dst, cell.Time.Literal(t.fractionalSeconds())...)
	case rowbuf.TypeBlob:
		return appendQuoted(dst, cell.Buf.Bytes())
	case rowbuf.TypeGeometry:
		dst = append(dst, t.geomFromText()...)
		dst = append(dst, '(')
		dst = appendQuoted(dst, cell.Buf.Bytes())
		return append(dst, ')')
	}
	return append(dst, "NULL"...)
}

// appendRecord formats the current row as "(v1,v2,...)".
func (t *MySQLTarget) appendRecord(dst []byte) []byte {
	cols := t.rb.Columns()
	dst = append(dst, '(')
	for i := 0; i < t.rb.Len(); i++ {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = t.appendLiteral(dst, t.rb.Cell(i), &cols[i])
	}
	return append(dst, ')')
}

// paramValue is the prepared-statement argument of a cell.
func (t *MySQLTarget) paramValue(cell *rowbuf.Cell, col *rowbuf.ColumnInfo) any {
	if cell.Null {
		return nil
	}
	switch cell.Type {
	case rowbuf.TypeTiny:
		if cell.Unsigned {
			return uint64(uint8(cell.Tiny))
		}
		return int64(cell.Tiny)
	case rowbuf.TypeShort, rowbuf.TypeYear:
		if cell.Unsigned {
			return uint64(uint16(cell.Short))
		}
		return int64(cell.Short)
	case rowbuf.TypeLong, rowbuf.TypeInt24:
		if cell.Unsigned {
			return uint64(uint32(cell.Long))
		}
		return int64(cell.Long)
	case rowbuf.TypeLongLong:
		if cell.Unsigned {
			return uint64(cell.Bigint)
		}
		return cell.Bigint
	case rowbuf.TypeFloat:
		v := float64(cell.Float)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.nonFinite(col, v)
			return nil
		}
		return v
	case rowbuf.TypeDouble:
		if math.IsNaN(cell.Double) || math.IsInf(cell.Double, 0) {
			t.nonFinite(col, cell.Double)
			return nil
		}
		return cell.Double
	case rowbuf.TypeBit:
		return bitValue(cell.Buf.Bytes())
	case rowbuf.TypeTime, rowbuf.TypeDate, rowbuf.TypeNewDate, rowbuf.TypeDatetime, rowbuf.TypeTimestamp:
		return cell.Time.Text(t.fractionalSeconds())
	case rowbuf.TypeNull:
		return nil
	}
	b := cell.Buf.Bytes()
	// a nil slice would be sent as NULL
	if b == nil {
		b = []byte{}
	}
	return b
}
