package source

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"copytable/internal/copyerr"
	"copytable/internal/rowbuf"
)

// columnHint carries what an adapter knows about a source column beyond
// its database/sql description.
type columnHint struct {
	// wide columns are UTF-16 text; byte payloads are decoded, strings bounded.
	wide bool
	// binary columns hold raw bytes.
	binary bool
	// timeLayout formats time.Time values stored into textual cells.
	timeLayout string
}

// fetcher is the row scanning machinery shared by every adapter: it scans
// one database/sql row and stores each value into the cell of its column.
type fetcher struct {
	log    *zap.Logger
	conv   *rowbuf.BaseConverter
	wide   *rowbuf.WideDecoder
	limits Limits
	bulk   bool

	// binaryTextIsNull stores NULL for binary values bound for a string cell.
	binaryTextIsNull bool
	// truncateToLength cuts textual values to ColumnInfo.SourceLength characters.
	truncateToLength bool

	schema string
	table  string
	hints  []columnHint
	values []any
	ptrs   []any
	// longs is set on the first row: long columns scan into a longValue.
	longs []*longValue
}

// longValue takes a long column as the driver returns it. database/sql copies
// a []byte scanned into *any; a Scanner gets the driver's row memory, which
// stays valid until the next Next.
type longValue struct {
	v any
}

func (l *longValue) Scan(src any) error {
	l.v = src
	return nil
}

func newFetcher(log *zap.Logger) *fetcher {
	return &fetcher{
		log:    log,
		conv:   rowbuf.NewBaseConverter(log),
		wide:   rowbuf.NewWideDecoder(),
		limits: Limits{MaxBlobChunkSize: rowbuf.WideScratchSize},
		bulk:   true,
	}
}

// begin prepares the scan slots for a result of n columns.
func (f *fetcher) begin(schema, table string, n int, hints []columnHint) {
	f.schema = schema
	f.table = table
	f.hints = hints
	f.values = make([]any, n)
	f.ptrs = make([]any, n)
	for i := range f.values {
		f.ptrs[i] = &f.values[i]
	}
	f.longs = nil
}

// isLong reports whether column i of rb is stored by storeLong.
func isLong(rb *rowbuf.RowBuffer, i int) bool {
	t := rb.Cell(i).Type
	return t == rowbuf.TypeBlob || t == rowbuf.TypeGeometry || rb.Columns()[i].IsLongData
}

func (f *fetcher) scanLongColumns(rb *rowbuf.RowBuffer) {
	f.longs = make([]*longValue, len(f.ptrs))
	for i := range f.ptrs {
		if i < rb.Len() && isLong(rb, i) {
			f.longs[i] = &longValue{}
			f.ptrs[i] = f.longs[i]
		}
	}
}

func (f *fetcher) hint(i int) columnHint {
	if i < len(f.hints) {
		return f.hints[i]
	}
	return columnHint{}
}

// fetch reads the next row of rows into rb.
func (f *fetcher) fetch(rows *sql.Rows, rb *rowbuf.RowBuffer) (bool, error) {
	if f.longs == nil {
		f.scanLongColumns(rb)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return false, copyerr.Connection(err, "Fetching rows from %s.%s", f.schema, f.table)
		}
		return false, nil
	}
	if err := rows.Scan(f.ptrs...); err != nil {
		return false, copyerr.Connection(err, "Scanning row from %s.%s", f.schema, f.table)
	}
	if rb.Len() != len(f.values) {
		return false, copyerr.Logic("Row of %s.%s has %d fields, buffer has %d", f.schema, f.table, len(f.values), rb.Len())
	}
	rb.Clear()
	cols := rb.Columns()
	for i, v := range f.values {
		if l := f.longs[i]; l != nil {
			v = l.v
		}
		if err := f.store(rb, &cols[i], i, v); err != nil {
			return false, err
		}
	}
	return true, rb.EndRow()
}

// store puts one value into the current cell of rb and advances the cursor.
func (f *fetcher) store(rb *rowbuf.RowBuffer, col *rowbuf.ColumnInfo, i int, v any) error {
	t, unsigned := rb.TargetType()
	if v == nil {
		return rb.FinishField(true)
	}
	hint := f.hint(i)
	if rb.CheckIfBlob() || col.IsLongData || t == rowbuf.TypeGeometry {
		return f.storeLong(rb, col, t, v, hint)
	}
	switch {
	case t.IsInteger():
		return f.storeInteger(rb, col, i, t, unsigned, v)
	case t == rowbuf.TypeFloat || t == rowbuf.TypeDouble:
		return f.storeFloat(rb, col, t, v)
	case t.IsTime():
		return f.storeTime(rb, col, t, v)
	case t == rowbuf.TypeNull:
		return rb.FinishField(true)
	case t == rowbuf.TypeNewDecimal || t == rowbuf.TypeString || t == rowbuf.TypeVarString ||
		t == rowbuf.TypeBit || t == rowbuf.TypeJSON:
		return f.storeText(rb, col, t, v, hint)
	}
	return copyerr.Logic("Unhandled MySQL type %d for column '%s'", t, col.TargetName)
}

// ------------------------------------------------------------------------------------------
var integerBits = map[rowbuf.FieldType]uint{
	rowbuf.TypeTiny:     8,
	rowbuf.TypeShort:    16,
	rowbuf.TypeYear:     16,
	rowbuf.TypeInt24:    32,
	rowbuf.TypeLong:     32,
	rowbuf.TypeLongLong: 64,
}

func (f *fetcher) storeInteger(rb *rowbuf.RowBuffer, col *rowbuf.ColumnInfo, i int, t rowbuf.FieldType, unsigned bool, v any) error {
	bits := integerBits[t]
	var raw int64
	if unsigned {
		u, ok := asUint64(v)
		if !ok {
			return f.rangeOrType(i, t, v)
		}
		if bits < 64 && u > uint64(1)<<bits-1 {
			return copyerr.Logic("Range error fetching field %d (value %v, target is %s)", i+1, v, t)
		}
		raw = int64(u)
	} else {
		n, ok := asInt64(v)
		if !ok {
			return f.rangeOrType(i, t, v)
		}
		if bits < 64 && (n < -(int64(1)<<(bits-1)) || n > int64(1)<<(bits-1)-1) {
			return copyerr.Logic("Range error fetching field %d (value %v, target is %s)", i+1, v, t)
		}
		raw = n
	}

	switch t {
	case rowbuf.TypeTiny:
		p, err := rb.PrepareAddTiny()
		if err != nil {
			return err
		}
		*p = int8(raw)
	case rowbuf.TypeShort, rowbuf.TypeYear:
		p, err := rb.PrepareAddShort()
		if err != nil {
			return err
		}
		*p = int16(raw)
	case rowbuf.TypeLong, rowbuf.TypeInt24:
		p, err := rb.PrepareAddLong()
		if err != nil {
			return err
		}
		*p = int32(raw)
	default:
		p, err := rb.PrepareAddBigint()
		if err != nil {
			return err
		}
		*p = raw
	}
	return rb.FinishField(false)
}

// rangeOrType tells a value out of the 64 bit range from a value of the wrong kind.
func (f *fetcher) rangeOrType(i int, t rowbuf.FieldType, v any) error {
	if fv, ok := asFloat64(v); ok && !math.IsNaN(fv) {
		return copyerr.Logic("Range error fetching field %d (value %v, target is %s)", i+1, v, t)
	}
	return copyerr.Logic("Wrong value type %T for integer field %d in table %s.%s", v, i+1, f.schema, f.table)
}

func (f *fetcher) storeFloat(rb *rowbuf.RowBuffer, col *rowbuf.ColumnInfo, t rowbuf.FieldType, v any) error {
	fv, ok := asFloat64(v)
	if !ok {
		return copyerr.Logic("Wrong value type %T for floating point column %s in table %s.%s", v, col.SourceName, f.schema, f.table)
	}
	if t == rowbuf.TypeFloat {
		p, err := rb.PrepareAddFloat()
		if err != nil {
			return err
		}
		*p = float32(fv)
	} else {
		p, err := rb.PrepareAddDouble()
		if err != nil {
			return err
		}
		*p = fv
	}
	return rb.FinishField(false)
}

func (f *fetcher) storeTime(rb *rowbuf.RowBuffer, col *rowbuf.ColumnInfo, t rowbuf.FieldType, v any) error {
	p, err := rb.PrepareAddTime()
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case time.Time:
		*p = f.conv.FromTime(x, t)
	case []byte:
		*p = f.conv.Convert(string(x), t)
	case string:
		*p = f.conv.Convert(x, t)
	default:
		return copyerr.Logic("Wrong value type %T for date/time column %s found in table %s.%s: a string or time value is expected",
			v, col.SourceName, f.schema, f.table)
	}
	return rb.FinishField(false)
}

func (f *fetcher) storeText(rb *rowbuf.RowBuffer, col *rowbuf.ColumnInfo, t rowbuf.FieldType, v any, hint columnHint) error {
	buf, err := rb.PrepareAddString()
	if err != nil {
		return err
	}
	if hint.binary && f.binaryTextIsNull && t == rowbuf.TypeString {
		return rb.FinishField(true)
	}

	var data []byte
	switch x := v.(type) {
	case []byte:
		data = x
		if hint.wide {
			if data, err = f.wide.Decode(x); err != nil {
				return err
			}
		}
	case string:
		if hint.wide {
			if err = f.wide.Check(x); err != nil {
				return err
			}
		}
		data = []byte(x)
	default:
		var ok bool
		if data, ok = asText(v, t == rowbuf.TypeBit, hint.timeLayout); !ok {
			return copyerr.Logic("Wrong value type %T for column %s found in table %s.%s", v, col.SourceName, f.schema, f.table)
		}
	}

	if f.truncateToLength && col.SourceLength > 0 && t != rowbuf.TypeBit {
		if cut, was, truncated := truncateChars(data, col.SourceLength); truncated {
			f.log.Error(fmt.Sprintf("Truncating data in column %s from %d to %d. Possible loss of data.", col.SourceName, was, col.SourceLength),
				zap.String("table", f.schema+"."+f.table))
			data = cut
		}
	}
	if buf.Set(data) {
		rb.MarkTruncated()
	}
	return rb.FinishField(false)
}

// storeLong handles blob, geometry and long columns. In bulk mode the whole
// value is copied into the cell; otherwise it is handed to the blob sink in
// chunks sliced from the fetched value, without a copy.
func (f *fetcher) storeLong(rb *rowbuf.RowBuffer, col *rowbuf.ColumnInfo, t rowbuf.FieldType, v any, hint columnHint) error {
	data, ok := asText(v, false, hint.timeLayout)
	if !ok {
		return copyerr.Logic("Unexpected value type %T for BLOB column %s.%s.%s", v, f.schema, f.table, col.SourceName)
	}

	if f.limits.MaxParameterSize > 0 && int64(len(data)) > f.limits.MaxParameterSize {
		if f.limits.AbortOnOversizedBlobs {
			return copyerr.Data("oversized blob found in table %s.%s, size: %d", f.schema, f.table, len(data))
		}
		f.log.Warn(fmt.Sprintf("oversized blob found in table %s.%s, size: %d", f.schema, f.table, len(data)),
			zap.String("column", col.SourceName), zap.String("limit", humanize.IBytes(uint64(f.limits.MaxParameterSize))))
		if _, err := f.prepareLong(rb, t); err != nil {
			return err
		}
		return rb.FinishField(true)
	}

	buf, err := f.prepareLong(rb, t)
	if err != nil {
		return err
	}
	if f.bulk || !rb.HasBlobSink() {
		if buf.Set(data) {
			rb.MarkTruncated()
			f.log.Warn("Long value cut at max_allowed_packet",
				zap.String("table", f.schema+"."+f.table), zap.String("column", col.SourceName),
				zap.String("size", humanize.IBytes(uint64(len(data)))))
		}
		return rb.FinishField(false)
	}

	buf.Reset()
	chunk := f.limits.MaxBlobChunkSize
	if chunk <= 0 {
		chunk = len(data)
	}
	for off := 0; off < len(data); off += chunk {
		if err := rb.SendBlobData(data[off:min(off+chunk, len(data))]); err != nil {
			return errors.Wrapf(err, "sending long data of column %s", col.SourceName)
		}
	}
	return rb.FinishField(false)
}

func (f *fetcher) prepareLong(rb *rowbuf.RowBuffer, t rowbuf.FieldType) (*rowbuf.Buffer, error) {
	if t == rowbuf.TypeGeometry {
		return rb.PrepareAddGeometry()
	}
	return rb.PrepareAddString()
}
