package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"copytable/internal/copyerr"
	"copytable/internal/copyspec"
	"copytable/internal/rowbuf"
)

// ODBCOptions configure an ODBC style source.
type ODBCOptions struct {
	// ConnString is an ODBC connection string, %password% is replaced by Password.
	ConnString string
	Password   string
	// ForceUTF8 reads wide columns as narrow text.
	ForceUTF8 bool
	// RDBMSType is the source server family, "Mssql" counts with count_big.
	RDBMSType string
}

// cType is the client side class a source column is read as.
type cType int

const (
	cChar cType = iota
	cWChar
	cBinary
	cNumeric
	cInteger
	cFloat
	cBit
	cDate
	cTime
	cTimestamp
	cUnhandled
)

type odbcType struct {
	c    cType
	long bool
	// text falls back to (wide) text, "Not supported type" is logged for warn.
	text bool
	warn bool
}

// odbcTypes maps the type names reported by the SQL Server and PostgreSQL
// drivers to the class they are read as.
var odbcTypes = map[string]odbcType{
	"CHAR":             {c: cChar},
	"VARCHAR":          {c: cChar},
	"TEXT":             {c: cChar, long: true},
	"BPCHAR":           {c: cChar},
	"NAME":             {c: cChar},
	"UUID":             {c: cChar},
	"UNIQUEIDENTIFIER": {c: cChar},
	"JSON":             {c: cChar, long: true},
	"JSONB":            {c: cChar, long: true},
	"NCHAR":            {c: cWChar},
	"NVARCHAR":         {c: cWChar},
	"NTEXT":            {c: cWChar, long: true},
	"XML":              {c: cWChar, long: true},
	"DECIMAL":          {c: cNumeric},
	"NUMERIC":          {c: cNumeric},
	"MONEY":            {c: cNumeric},
	"SMALLMONEY":       {c: cNumeric},
	"TINYINT":          {c: cInteger},
	"SMALLINT":         {c: cInteger},
	"INT":              {c: cInteger},
	"BIGINT":           {c: cInteger},
	"INT2":             {c: cInteger},
	"INT4":             {c: cInteger},
	"INT8":             {c: cInteger},
	"REAL":             {c: cFloat},
	"FLOAT":            {c: cFloat},
	"FLOAT4":           {c: cFloat},
	"FLOAT8":           {c: cFloat},
	"BIT":              {c: cBit},
	"BOOL":             {c: cBit},
	"BINARY":           {c: cBinary},
	"VARBINARY":        {c: cBinary},
	"IMAGE":            {c: cBinary, long: true},
	"BYTEA":            {c: cBinary, long: true},
	"DATE":             {c: cDate},
	"DATETIME":         {c: cTimestamp},
	"DATETIME2":        {c: cTimestamp},
	"SMALLDATETIME":    {c: cTimestamp},
	"TIMESTAMP":        {c: cTimestamp},
	"TIMESTAMPTZ":      {c: cTimestamp},
	"DATETIMEOFFSET":   {c: cWChar, text: true, warn: true},
	"TIME":             {c: cWChar, text: true},
	"INTERVAL":         {c: cUnhandled},
	"SQL_VARIANT":      {c: cUnhandled},
}

// maxColumnLength is reported for (MAX) columns.
const maxColumnLength = 1 << 30

// ODBCSource reads through an ODBC connection string. The DRIVER keyword
// selects the Go driver that serves it.
type ODBCSource struct {
	log       *zap.Logger
	db        *sql.DB
	rdbmsType string
	forceUTF8 bool
	f         *fetcher
	rows      *sql.Rows
}

// odbcDriver translates the keys of an ODBC connection string into the
// database/sql driver name and DSN serving its DRIVER.
func odbcDriver(keys *connKeys) (string, string, error) {
	drv := strings.ToLower(keys.get("DRIVER"))
	switch {
	case strings.Contains(drv, "sql server") || strings.Contains(drv, "freetds") || strings.Contains(drv, "sybase"):
		return "sqlserver", "odbc:" + keys.encode("DRIVER"), nil
	case strings.Contains(drv, "postgres") || strings.Contains(drv, "psql"):
		return "pgx", keys.pgxDSN(), nil
	}
	return "", "", copyerr.Logic("Unsupported ODBC driver '%s'", keys.get("DRIVER"))
}

// NewODBCSource connects with opts.
func NewODBCSource(ctx context.Context, opts ODBCOptions, log *zap.Logger) (*ODBCSource, error) {
	connstring, logged := substitutePassword(opts.ConnString, opts.Password)
	log.Debug("Opening ODBC connection", zap.String("connstring", logged))

	keys, err := parseConnKeys(connstring)
	if err != nil {
		return nil, err
	}
	driverName, dsn, err := odbcDriver(keys)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, copyerr.Connection(err, "Connecting to source database %s", logged)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, copyerr.Connection(err, "Connecting to source database %s", logged)
	}
	return newODBCSource(db, opts, log), nil
}

func newODBCSource(db *sql.DB, opts ODBCOptions, log *zap.Logger) *ODBCSource {
	s := &ODBCSource{log: log, db: db, rdbmsType: opts.RDBMSType, forceUTF8: opts.ForceUTF8, f: newFetcher(log)}
	s.f.binaryTextIsNull = true
	return s
}

// substitutePassword puts password in place of %password%, or appends a PWD
// key when the string has none. The second result is safe to log.
func substitutePassword(connstring, password string) (string, string) {
	if strings.Contains(connstring, "%password%") {
		return strings.ReplaceAll(connstring, "%password%", password),
			strings.ReplaceAll(connstring, "%password%", "XXX")
	}
	if password == "" || strings.Contains(strings.ToUpper(connstring), "PWD=") {
		return connstring, connstring
	}
	sep := ";"
	if strings.HasSuffix(connstring, ";") {
		sep = ""
	}
	return connstring + sep + "PWD=" + password, connstring + sep + "PWD=XXX"
}

func (s *ODBCSource) SetLimits(l Limits) {
	s.f.limits = l
}

func (s *ODBCSource) SetBulkInserts(bulk bool) {
	s.f.bulk = bulk
}

func (s *ODBCSource) FieldLengthsFromTarget() bool {
	return false
}

func (s *ODBCSource) IsMySQL() bool {
	return false
}

func (s *ODBCSource) CountRows(ctx context.Context, schema, table string, pk []string, spec copyspec.CopySpec, last []copyspec.KeyValue) (int64, error) {
	countFn := "count"
	if s.rdbmsType == "Mssql" {
		countFn = "count_big"
	}
	q := copyspec.CountQuery(countFn, schema, table, pk, spec, last)
	s.log.Debug("Executing query", zap.String("query", q))
	var count int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&count); err != nil {
		return 0, copyerr.Connection(err, "Query %s", q)
	}
	return copyspec.CapCount(spec, count), nil
}

func (s *ODBCSource) BeginSelect(ctx context.Context, schema, table string, pk []string, selectExpr string, spec copyspec.CopySpec, last []copyspec.KeyValue) ([]rowbuf.ColumnInfo, error) {
	q := copyspec.SelectQuery(schema, table, selectExpr, pk, spec, last, false)
	s.log.Debug("Executing query", zap.String("query", q))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, copyerr.Connection(err, "Query %s", q)
	}
	s.rows = rows

	types, err := rows.ColumnTypes()
	if err != nil {
		s.EndSelect()
		return nil, copyerr.Connection(err, "Reading columns of %s", q)
	}
	columns := make([]rowbuf.ColumnInfo, 0, len(types))
	hints := make([]columnHint, 0, len(types))
	for i, ct := range types {
		name := strings.ToUpper(ct.DatabaseTypeName())
		if j := strings.IndexByte(name, '('); j >= 0 {
			name = name[:j]
		}
		ot, ok := odbcTypes[name]
		if !ok && strings.HasPrefix(name, "INTERVAL") {
			ot, ok = odbcTypes["INTERVAL"]
		}
		if !ok || ot.c == cUnhandled {
			s.EndSelect()
			return nil, copyerr.Logic("Unhandled type %s", ct.DatabaseTypeName())
		}
		if ot.warn {
			s.log.Warn(fmt.Sprintf("Not supported type [%s]", name), zap.String("column", ct.Name()))
		}

		info := rowbuf.ColumnInfo{
			SourceName: ct.Name(),
			SourceType: ct.DatabaseTypeName(),
			IsLongData: ot.long,
		}
		if length, ok := ct.Length(); ok {
			info.SourceLength = length
			if length >= maxColumnLength && (ot.c == cChar || ot.c == cWChar || ot.c == cBinary) {
				info.IsLongData = true
			}
		}
		wide := ot.c == cWChar && !s.forceUTF8
		if ot.c == cWChar {
			info.SourceLength *= 4
		}
		hint := columnHint{wide: wide, binary: ot.c == cBinary}
		if ot.text {
			hint.timeLayout = "2006-01-02 15:04:05.9999999 -07:00"
			if name == "TIME" {
				hint.timeLayout = "15:04:05.9999999"
			}
		}
		s.log.Debug("Source column", zap.Int("pos", i+1), zap.String("name", info.SourceName),
			zap.String("type", info.SourceType), zap.Int64("len", info.SourceLength), zap.Bool("long_data", info.IsLongData))
		columns = append(columns, info)
		hints = append(hints, hint)
	}
	s.f.begin(schema, table, len(columns), hints)
	return columns, nil
}

func (s *ODBCSource) FetchRow(ctx context.Context, rb *rowbuf.RowBuffer) (bool, error) {
	if s.rows == nil {
		return false, copyerr.Logic("FetchRow called without a select in progress")
	}
	return s.f.fetch(s.rows, rb)
}

func (s *ODBCSource) EndSelect() {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
}

func (s *ODBCSource) Close() error {
	s.EndSelect()
	return s.db.Close()
}
