// Package source reads the rows of one table from the source database and
// stores them into the typed cells of a rowbuf.RowBuffer.
//
// Three adapters share the same fetch machinery: a native MySQL one, an ODBC
// style one driven by an ODBC connection string, and a driver-API one where
// a module name picks the database/sql driver.
package source

import (
	"context"

	"copytable/internal/copyspec"
	"copytable/internal/rowbuf"
)

// Limits bound the values a source hands to the target.
type Limits struct {
	// MaxBlobChunkSize is the size of one chunk sent to the blob sink.
	MaxBlobChunkSize int
	// MaxParameterSize is the biggest long value accepted, 0 for no limit.
	MaxParameterSize int64
	// AbortOnOversizedBlobs fails the job instead of storing NULL.
	AbortOnOversizedBlobs bool
}

// Source is one connection to the source database, owned by one worker.
type Source interface {
	// CountRows returns the number of rows the selection would copy.
	CountRows(ctx context.Context, schema, table string, pk []string, spec copyspec.CopySpec, last []copyspec.KeyValue) (int64, error)
	// BeginSelect runs the selection and describes its columns.
	BeginSelect(ctx context.Context, schema, table string, pk []string, selectExpr string, spec copyspec.CopySpec, last []copyspec.KeyValue) ([]rowbuf.ColumnInfo, error)
	// FetchRow stores the next row into rb. It returns false at the end of the result.
	FetchRow(ctx context.Context, rb *rowbuf.RowBuffer) (bool, error)
	EndSelect()

	SetLimits(l Limits)
	SetBulkInserts(bulk bool)
	// FieldLengthsFromTarget is true when the source cannot describe its
	// column lengths and the target ones must be used instead.
	FieldLengthsFromTarget() bool
	// IsMySQL tells the target that geometry values arrive in MySQL's internal format.
	IsMySQL() bool
	Close() error
}
