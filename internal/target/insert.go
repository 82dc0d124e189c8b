package target

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"copytable/internal/copyerr"
	"copytable/internal/rowbuf"
)

// BeginInserts attaches the row buffer of the table set by SetTargetTable.
// In prepared-statement mode the INSERT is prepared and long values are
// collected from the source through the blob sink.
func (t *MySQLTarget) BeginInserts(ctx context.Context, rb *rowbuf.RowBuffer) error {
	t.rb = rb
	if t.bulk {
		t.buf = NewInsertBuffer(t.insertHead(), int(t.maxAllowedPacket))
		return nil
	}

	var sb strings.Builder
	sb.WriteString(t.insertHead())
	sb.WriteByte('(')
	for i := 0; i < rb.Len(); i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		if rb.Cell(i).Type == rowbuf.TypeGeometry {
			sb.WriteString(t.geomFromText() + "(?)")
		} else {
			sb.WriteByte('?')
		}
	}
	sb.WriteByte(')')
	q := sb.String()
	t.log.Debug("Preparing query", zap.String("query", q))
	stmt, err := t.conn.PrepareContext(ctx, q)
	if err != nil {
		return &copyerr.TargetError{Query: q, Cause: errors.Wrap(err, "Preparing insert statement")}
	}
	t.stmt = stmt
	t.args = make([]any, rb.Len())
	rb.SetBlobSink(t.appendLongData)
	return nil
}

// appendLongData attaches one chunk of a long value to its cell. Chunks cut
// from the same source value are referenced in place; the row is executed
// before the source fetches again.
func (t *MySQLTarget) appendLongData(column int, data []byte) error {
	cell := t.rb.Cell(column)
	if cell.Buf.Attach(data) {
		cell.Truncated = true
		t.log.Warn("Long value cut at max_allowed_packet",
			zap.String("table", t.schema+"."+t.table), zap.String("column", t.rb.Columns()[column].TargetName))
	}
	return nil
}

// InsertRow writes the current row. It returns how many rows reached the
// server during the call.
func (t *MySQLTarget) InsertRow(ctx context.Context) (int, error) {
	if !t.bulk {
		return t.executeRow(ctx)
	}

	t.rec = t.appendRecord(t.rec[:0])
	flushed := 0
	if !t.buf.Fits(len(t.rec)) {
		if t.buf.Empty() {
			return 0, copyerr.ErrOversizedRow
		}
		n, err := t.flush(ctx)
		if err != nil {
			return 0, err
		}
		flushed = n
		if !t.buf.Fits(len(t.rec)) {
			return flushed, copyerr.ErrOversizedRow
		}
	}
	t.buf.Append(t.rec)
	if t.buf.Rows() >= t.batch {
		n, err := t.flush(ctx)
		if err != nil {
			return flushed, err
		}
		flushed += n
	}
	return flushed, nil
}

func (t *MySQLTarget) flush(ctx context.Context) (int, error) {
	n := t.buf.Rows()
	if n == 0 {
		return 0, nil
	}
	t.log.Debug("Flushing insert", zap.String("table", t.schema+"."+t.table), zap.Int("rows", n), zap.Int("bytes", t.buf.Len()))
	q := t.buf.Statement()
	t.buf.Reset()
	if _, err := t.conn.ExecContext(ctx, q); err != nil {
		t.log.Error("Statement execution failed", zap.String("table", t.schema+"."+t.table), zap.Error(err))
		return 0, &copyerr.TargetError{Query: "Inserting Data", Cause: errors.Wrap(err, "Inserting Data")}
	}
	return n, nil
}

func (t *MySQLTarget) executeRow(ctx context.Context) (int, error) {
	cols := t.rb.Columns()
	for i := range t.args {
		t.args[i] = t.paramValue(t.rb.Cell(i), &cols[i])
	}
	if _, err := t.stmt.ExecContext(ctx, t.args...); err != nil {
		t.log.Error("Statement execution failed", zap.String("table", t.schema+"."+t.table), zap.Error(err))
		return 0, &copyerr.TargetError{Query: "Inserting Data", Cause: errors.Wrap(err, "Inserting Data")}
	}
	return 1, nil
}

// EndInserts writes what is pending when flush is set and releases the table
// state. It returns how many rows were written.
func (t *MySQLTarget) EndInserts(ctx context.Context, flush bool) (int, error) {
	n := 0
	var err error
	if t.bulk && t.buf != nil {
		if flush {
			n, err = t.flush(ctx)
		}
		t.buf = nil
	}
	t.closeStmt()
	if t.rb != nil {
		t.rb.SetBlobSink(nil)
		t.rb = nil
	}
	return n, err
}

func (t *MySQLTarget) closeStmt() {
	if t.stmt != nil {
		t.stmt.Close()
		t.stmt = nil
	}
}
