package target

// initialInsertBufferCap bounds the first allocation; max_allowed_packet can be 1GB.
const initialInsertBufferCap = 1 << 20

// InsertBuffer accumulates the value tuples of one multi-row INSERT.
// The statement, head included, never grows past size bytes.
type InsertBuffer struct {
	head string
	data []byte
	size int
	rows int
}

func NewInsertBuffer(head string, size int) *InsertBuffer {
	c := size
	if c > initialInsertBufferCap {
		c = initialInsertBufferCap
	}
	b := &InsertBuffer{head: head, size: size, data: make([]byte, 0, c)}
	b.Reset()
	return b
}

// Fits reports whether a record of n bytes, plus its separator, fits the
// remaining space.
func (b *InsertBuffer) Fits(n int) bool {
	if b.rows > 0 {
		n++
	}
	return n <= b.size-len(b.data)
}

// Append adds one formatted tuple. The caller checks Fits first.
func (b *InsertBuffer) Append(rec []byte) {
	if b.rows > 0 {
		b.data = append(b.data, ',')
	}
	b.data = append(b.data, rec...)
	b.rows++
}

func (b *InsertBuffer) Rows() int {
	return b.rows
}

func (b *InsertBuffer) Empty() bool {
	return b.rows == 0
}

// Len is the statement length so far, head included.
func (b *InsertBuffer) Len() int {
	return len(b.data)
}

// Statement returns the INSERT text. It is only valid until the next Reset.
func (b *InsertBuffer) Statement() string {
	return string(b.data)
}

func (b *InsertBuffer) Reset() {
	b.data = append(b.data[:0], b.head...)
	b.rows = 0
}
