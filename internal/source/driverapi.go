package source

import (
	"context"
	"database/sql"
	"net/url"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/godror/godror"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/sijms/go-ora/v2"
	"go.uber.org/zap"

	"copytable/internal/copyerr"
	"copytable/internal/copyspec"
	"copytable/internal/rowbuf"
)

// driverModule describes how a module name of a driver-API descriptor is served.
type driverModule struct {
	driver string
	// prefix is prepended to the params to form the DSN.
	prefix string
	// urlPassword escapes the password for use inside a URL.
	urlPassword bool
	limit       bool
}

var driverModules = map[string]driverModule{
	"pgx":       {driver: "pgx", prefix: "postgres://", urlPassword: true, limit: true},
	"postgres":  {driver: "postgres", prefix: "postgres://", urlPassword: true, limit: true},
	"oracle":    {driver: "oracle", prefix: "oracle://", urlPassword: true},
	"godror":    {driver: "godror"},
	"sqlserver": {driver: "sqlserver", prefix: "sqlserver://", urlPassword: true},
	"sqlite3":   {driver: "sqlite3", limit: true},
	"mysql":     {driver: "mysql", limit: true},
}

// DriverAPISource reads through a database/sql driver named by the module of
// a "module://params" descriptor.
type DriverAPISource struct {
	log    *zap.Logger
	db     *sql.DB
	module driverModule
	f      *fetcher
	rows   *sql.Rows
}

// parseDriverDescriptor splits "module://params" and builds the driver DSN.
func parseDriverDescriptor(descriptor, password string) (driverModule, string, error) {
	name, params, found := strings.Cut(descriptor, "://")
	if !found {
		return driverModule{}, "", copyerr.Logic("Invalid connection string '%s', expected module://params", descriptor)
	}
	mod, ok := driverModules[strings.ToLower(name)]
	if !ok {
		return driverModule{}, "", copyerr.Logic("Unknown driver module '%s'", name)
	}
	pw := password
	if mod.urlPassword {
		pw = url.QueryEscape(password)
	}
	return mod, mod.prefix + strings.ReplaceAll(params, "%password%", pw), nil
}

// NewDriverAPISource connects with a "module://params" descriptor.
func NewDriverAPISource(ctx context.Context, descriptor, password string, log *zap.Logger) (*DriverAPISource, error) {
	mod, dsn, err := parseDriverDescriptor(descriptor, password)
	if err != nil {
		return nil, err
	}
	logged := strings.ReplaceAll(descriptor, "%password%", "XXX")
	db, err := sql.Open(mod.driver, dsn)
	if err != nil {
		return nil, copyerr.Connection(err, "Driver API module %s: connecting to %s", mod.driver, logged)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, copyerr.Connection(err, "Driver API module %s: connecting to %s", mod.driver, logged)
	}
	log.Info("Connected through driver API", zap.String("module", mod.driver))
	return newDriverAPISource(db, mod, log), nil
}

func newDriverAPISource(db *sql.DB, mod driverModule, log *zap.Logger) *DriverAPISource {
	s := &DriverAPISource{log: log, db: db, module: mod, f: newFetcher(log)}
	s.f.truncateToLength = true
	return s
}

func (s *DriverAPISource) SetLimits(l Limits) {
	s.f.limits = l
}

func (s *DriverAPISource) SetBulkInserts(bulk bool) {
	s.f.bulk = bulk
}

// FieldLengthsFromTarget is true: database/sql drivers do not all report lengths.
func (s *DriverAPISource) FieldLengthsFromTarget() bool {
	return true
}

func (s *DriverAPISource) IsMySQL() bool {
	return false
}

func (s *DriverAPISource) CountRows(ctx context.Context, schema, table string, pk []string, spec copyspec.CopySpec, last []copyspec.KeyValue) (int64, error) {
	q := copyspec.CountQuery("count", schema, table, pk, spec, last)
	s.log.Debug("Executing query", zap.String("query", q))
	var count int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&count); err != nil {
		return 0, copyerr.Connection(err, "Driver API module query error: query '%s' failed", q)
	}
	return copyspec.CapCount(spec, count), nil
}

func (s *DriverAPISource) BeginSelect(ctx context.Context, schema, table string, pk []string, selectExpr string, spec copyspec.CopySpec, last []copyspec.KeyValue) ([]rowbuf.ColumnInfo, error) {
	q := copyspec.SelectQuery(schema, table, selectExpr, pk, spec, last, s.module.limit)
	s.log.Debug("Executing query", zap.String("query", q))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, copyerr.Connection(err, "Driver API module query error: query '%s' failed", q)
	}
	s.rows = rows

	names, err := rows.Columns()
	if err != nil {
		s.EndSelect()
		return nil, copyerr.Connection(err, "Driver API module query error: could not get a result set descriptor for the query '%s'", q)
	}
	var types []*sql.ColumnType
	if ct, err := rows.ColumnTypes(); err == nil {
		types = ct
	}
	columns := make([]rowbuf.ColumnInfo, len(names))
	for i, name := range names {
		columns[i].SourceName = name
		if i < len(types) {
			columns[i].SourceType = types[i].DatabaseTypeName()
		}
		// length and signedness come from the target
	}
	s.f.begin(schema, table, len(columns), nil)
	return columns, nil
}

func (s *DriverAPISource) FetchRow(ctx context.Context, rb *rowbuf.RowBuffer) (bool, error) {
	if s.rows == nil {
		s.log.Error("No cursor available while attempting to fetch a row", zap.String("table", s.f.table))
		return false, nil
	}
	return s.f.fetch(s.rows, rb)
}

func (s *DriverAPISource) EndSelect() {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
}

func (s *DriverAPISource) Close() error {
	s.EndSelect()
	return s.db.Close()
}
