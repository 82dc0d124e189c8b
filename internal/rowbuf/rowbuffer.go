package rowbuf

import (
	"copytable/internal/copyerr"
)

// Buffer is the growable storage of a variable length cell.
// A non zero limit caps the stored length; longer values are cut and flagged.
// data is either own or, after Attach, memory lent by the caller.
type Buffer struct {
	data     []byte
	own      []byte
	borrowed bool
	limit    int
}

// Set replaces the content with a copy of p. It reports whether p was cut at the limit.
func (b *Buffer) Set(p []byte) bool {
	truncated := false
	if b.limit > 0 && len(p) > b.limit {
		p = p[:b.limit]
		truncated = true
	}
	b.own = append(b.own[:0], p...)
	b.data, b.borrowed = b.own, false
	return truncated
}

// SetString is Set for a string value.
func (b *Buffer) SetString(s string) bool {
	truncated := false
	if b.limit > 0 && len(s) > b.limit {
		s = s[:b.limit]
		truncated = true
	}
	b.own = append(b.own[:0], s...)
	b.data, b.borrowed = b.own, false
	return truncated
}

// Attach adds a chunk of long data at the end. The chunk is referenced, not
// copied, when the buffer is empty or when it directly follows the previous
// chunk in memory; the caller keeps it unchanged until the row is written.
func (b *Buffer) Attach(p []byte) bool {
	truncated := false
	if b.limit > 0 && len(b.data)+len(p) > b.limit {
		p = p[:max(b.limit-len(b.data), 0)]
		truncated = true
	}
	switch {
	case len(p) == 0:
	case len(b.data) == 0:
		b.data, b.borrowed = p, true
	case b.borrowed && follows(b.data, p):
		b.data = b.data[:len(b.data)+len(p)]
	default:
		if b.borrowed {
			b.own = append(b.own[:0], b.data...)
			b.borrowed = false
		}
		b.own = append(b.own, p...)
		b.data = b.own
	}
	return truncated
}

// follows reports whether p starts right after the end of a in the same array.
func follows(a, p []byte) bool {
	return cap(a)-len(a) >= len(p) && &a[:len(a)+1][len(a)] == &p[0]
}

func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) Len() int {
	return len(b.data)
}

// Reset empties the buffer and drops any lent memory.
func (b *Buffer) Reset() {
	b.data, b.borrowed = b.own[:0], false
}

// Cell is the typed slot of one column. Unsigned integers are stored with
// their bit pattern in the signed slot of the same width.
type Cell struct {
	Type      FieldType
	Unsigned  bool
	Null      bool
	Truncated bool

	Tiny   int8
	Short  int16
	Long   int32
	Bigint int64
	Float  float32
	Double float64
	Time   TimeValue
	Buf    Buffer
}

// BlobSink receives long column data in chunks, column is 0-based.
type BlobSink func(column int, data []byte) error

// RowBuffer is the ordered set of cells of one table copy. It is owned by
// one worker and reused for every row.
type RowBuffer struct {
	cols    []ColumnInfo
	cells   []Cell
	current int
	sink    BlobSink
}

// New allocates one cell per column, typed after the column's target type.
// Blob and geometry cells are capped at maxPacket bytes.
func New(cols []ColumnInfo, sink BlobSink, maxPacket int) (*RowBuffer, error) {
	rb := &RowBuffer{cols: cols, cells: make([]Cell, len(cols)), sink: sink}
	for i, col := range cols {
		cell := &rb.cells[i]
		cell.Type = col.TargetType
		cell.Unsigned = col.IsUnsigned
		switch col.TargetType {
		case TypeTiny, TypeShort, TypeYear, TypeLong, TypeInt24, TypeLongLong,
			TypeFloat, TypeDouble, TypeNull,
			TypeTime, TypeDate, TypeNewDate, TypeDatetime, TypeTimestamp,
			TypeNewDecimal, TypeString, TypeVarString, TypeBit, TypeJSON:
		case TypeBlob, TypeGeometry:
			cell.Buf.limit = maxPacket
		default:
			return nil, copyerr.Logic("Unhandled MySQL type %d for column '%s'", col.TargetType, col.TargetName)
		}
	}
	return rb, nil
}

func (rb *RowBuffer) Len() int {
	return len(rb.cells)
}

func (rb *RowBuffer) Columns() []ColumnInfo {
	return rb.cols
}

func (rb *RowBuffer) Cell(i int) *Cell {
	return &rb.cells[i]
}

func (rb *RowBuffer) SetBlobSink(s BlobSink) {
	rb.sink = s
}

func (rb *RowBuffer) HasBlobSink() bool {
	return rb.sink != nil
}

// Clear rewinds the cursor to the first column.
func (rb *RowBuffer) Clear() {
	rb.current = 0
}

// EndRow checks every column received exactly one FinishField.
func (rb *RowBuffer) EndRow() error {
	if rb.current != len(rb.cells) {
		return copyerr.Logic("Row ended after %d of %d fields", rb.current, len(rb.cells))
	}
	return nil
}

func (rb *RowBuffer) at(expected string, accept ...FieldType) (*Cell, error) {
	if rb.current >= len(rb.cells) {
		return nil, copyerr.Logic("Field %d fetched past the last column (%d columns)", rb.current+1, len(rb.cells))
	}
	cell := &rb.cells[rb.current]
	for _, t := range accept {
		if cell.Type == t {
			cell.Truncated = false
			return cell, nil
		}
	}
	return nil, &copyerr.TypeMismatchError{Field: rb.current + 1, Expected: expected, Actual: cell.Type.String()}
}

// PrepareAddString returns the buffer of a textual, decimal, bit or blob cell.
func (rb *RowBuffer) PrepareAddString() (*Buffer, error) {
	cell, err := rb.at("string", TypeString, TypeVarString, TypeNewDecimal, TypeBit, TypeJSON, TypeBlob)
	if err != nil {
		return nil, err
	}
	return &cell.Buf, nil
}

func (rb *RowBuffer) PrepareAddGeometry() (*Buffer, error) {
	cell, err := rb.at("geometry", TypeGeometry)
	if err != nil {
		return nil, err
	}
	return &cell.Buf, nil
}

func (rb *RowBuffer) PrepareAddFloat() (*float32, error) {
	cell, err := rb.at("float", TypeFloat)
	if err != nil {
		return nil, err
	}
	return &cell.Float, nil
}

func (rb *RowBuffer) PrepareAddDouble() (*float64, error) {
	cell, err := rb.at("double", TypeDouble)
	if err != nil {
		return nil, err
	}
	return &cell.Double, nil
}

func (rb *RowBuffer) PrepareAddBigint() (*int64, error) {
	cell, err := rb.at("bigint", TypeLongLong)
	if err != nil {
		return nil, err
	}
	return &cell.Bigint, nil
}

func (rb *RowBuffer) PrepareAddLong() (*int32, error) {
	cell, err := rb.at("long", TypeLong, TypeInt24)
	if err != nil {
		return nil, err
	}
	return &cell.Long, nil
}

func (rb *RowBuffer) PrepareAddShort() (*int16, error) {
	cell, err := rb.at("short", TypeShort, TypeYear)
	if err != nil {
		return nil, err
	}
	return &cell.Short, nil
}

func (rb *RowBuffer) PrepareAddTiny() (*int8, error) {
	cell, err := rb.at("char", TypeTiny)
	if err != nil {
		return nil, err
	}
	return &cell.Tiny, nil
}

func (rb *RowBuffer) PrepareAddTime() (*TimeValue, error) {
	cell, err := rb.at("time", TypeDatetime, TypeTimestamp, TypeTime, TypeDate, TypeNewDate)
	if err != nil {
		return nil, err
	}
	return &cell.Time, nil
}

// FinishField stamps the null flag of the current cell and moves to the next one.
func (rb *RowBuffer) FinishField(wasNull bool) error {
	if rb.current >= len(rb.cells) {
		return copyerr.Logic("finish_field called past the last column (%d columns)", len(rb.cells))
	}
	rb.cells[rb.current].Null = wasNull
	rb.current++
	return nil
}

// MarkTruncated flags the current cell as cut by its buffer limit.
func (rb *RowBuffer) MarkTruncated() {
	if rb.current < len(rb.cells) {
		rb.cells[rb.current].Truncated = true
	}
}

// CheckIfBlob reports whether the current cell is a blob.
func (rb *RowBuffer) CheckIfBlob() bool {
	return rb.current < len(rb.cells) && rb.cells[rb.current].Type == TypeBlob
}

// TargetType returns the type and signedness of the current cell.
func (rb *RowBuffer) TargetType() (FieldType, bool) {
	if rb.current >= len(rb.cells) {
		return TypeNull, false
	}
	return rb.cells[rb.current].Type, rb.cells[rb.current].Unsigned
}

// SendBlobData hands a chunk of the current column to the sink.
func (rb *RowBuffer) SendBlobData(data []byte) error {
	if rb.sink == nil {
		return copyerr.Logic("No blob sink registered for field %d", rb.current+1)
	}
	return rb.sink(rb.current, data)
}
