package source

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"copytable/internal/copyerr"
	"copytable/internal/copyspec"
	"copytable/internal/rowbuf"
	"copytable/internal/sqlquote"
)

// MySQLSource reads from a MySQL server over one pinned connection, with
// the select prepared so rows come back in the binary protocol.
type MySQLSource struct {
	log  *zap.Logger
	db   *sql.DB
	conn *sql.Conn
	f    *fetcher

	stmt *sql.Stmt
	rows *sql.Rows
}

// NewMySQLSource connects with cfg. Timeout and credentials are taken from cfg.
func NewMySQLSource(ctx context.Context, cfg *mysql.Config, log *zap.Logger) (*MySQLSource, error) {
	cfg = cfg.Clone()
	// zero dates and times stay textual
	cfg.ParseTime = false
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, copyerr.Connection(err, "Connecting to source MySQL server %s", cfg.Addr)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return newMySQLSource(ctx, db, cfg.Addr, log)
}

func newMySQLSource(ctx context.Context, db *sql.DB, addr string, log *zap.Logger) (*MySQLSource, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, copyerr.Connection(err, "Connecting to source MySQL server %s", addr)
	}
	if _, execErr := conn.ExecContext(ctx, "SET NAMES 'utf8'"); execErr != nil {
		conn.Close()
		db.Close()
		return nil, copyerr.Connection(execErr, "SET NAMES 'utf8'")
	}
	log.Info("Connected to MySQL server", zap.String("side", "source"), zap.String("addr", addr))
	return &MySQLSource{log: log, db: db, conn: conn, f: newFetcher(log)}, nil
}

func (s *MySQLSource) SetLimits(l Limits) {
	s.f.limits = l
}

func (s *MySQLSource) SetBulkInserts(bulk bool) {
	s.f.bulk = bulk
}

func (s *MySQLSource) FieldLengthsFromTarget() bool {
	return false
}

func (s *MySQLSource) IsMySQL() bool {
	return true
}

func (s *MySQLSource) use(ctx context.Context, schema string) error {
	if schema == "" {
		return nil
	}
	if _, err := s.conn.ExecContext(ctx, "USE "+sqlquote.Ident(schema)); err != nil {
		return copyerr.Connection(err, "USE %s", schema)
	}
	return nil
}

func quotePK(pk []string) []string {
	quoted := make([]string, len(pk))
	for i, c := range pk {
		quoted[i] = sqlquote.Ident(c)
	}
	return quoted
}

func (s *MySQLSource) CountRows(ctx context.Context, schema, table string, pk []string, spec copyspec.CopySpec, last []copyspec.KeyValue) (int64, error) {
	if err := s.use(ctx, schema); err != nil {
		return 0, err
	}
	q := copyspec.CountQuery("count", "", sqlquote.Ident(table), quotePK(pk), spec, last)
	s.log.Debug("Executing query", zap.String("query", q))
	var count int64
	if err := s.conn.QueryRowContext(ctx, q).Scan(&count); err != nil {
		return 0, copyerr.Connection(err, "Query %s", q)
	}
	return copyspec.CapCount(spec, count), nil
}

func (s *MySQLSource) BeginSelect(ctx context.Context, schema, table string, pk []string, selectExpr string, spec copyspec.CopySpec, last []copyspec.KeyValue) ([]rowbuf.ColumnInfo, error) {
	if err := s.use(ctx, schema); err != nil {
		return nil, err
	}
	q := copyspec.SelectQuery("", sqlquote.Ident(table), selectExpr, quotePK(pk), spec, last, true)
	s.log.Debug("Executing query", zap.String("query", q))

	stmt, err := s.conn.PrepareContext(ctx, q)
	if err != nil {
		return nil, copyerr.Connection(err, "Preparing query %s", q)
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		stmt.Close()
		return nil, copyerr.Connection(err, "Query %s", q)
	}
	s.stmt, s.rows = stmt, rows

	types, err := rows.ColumnTypes()
	if err != nil {
		s.EndSelect()
		return nil, copyerr.Connection(err, "Reading columns of %s", q)
	}
	columns := make([]rowbuf.ColumnInfo, 0, len(types))
	for i, ct := range types {
		ft, unsigned, ok := rowbuf.TypeFromName(ct.DatabaseTypeName())
		if !ok {
			s.EndSelect()
			return nil, copyerr.Logic("Unhandled MySQL type %s for column '%s'", ct.DatabaseTypeName(), ct.Name())
		}
		info := rowbuf.ColumnInfo{
			SourceName: ct.Name(),
			SourceType: strings.ToLower(ct.DatabaseTypeName()),
			IsUnsigned: unsigned,
			IsLongData: ft.IsBlob(),
		}
		if length, ok := ct.Length(); ok {
			info.SourceLength = length
		}
		s.log.Debug("Source column", zap.Int("pos", i+1), zap.String("name", info.SourceName),
			zap.String("type", info.SourceType), zap.Bool("long_data", info.IsLongData))
		columns = append(columns, info)
	}
	s.f.begin(schema, table, len(columns), nil)
	return columns, nil
}

func (s *MySQLSource) FetchRow(ctx context.Context, rb *rowbuf.RowBuffer) (bool, error) {
	if s.rows == nil {
		return false, copyerr.Logic("FetchRow called without a select in progress")
	}
	return s.f.fetch(s.rows, rb)
}

func (s *MySQLSource) EndSelect() {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	if s.stmt != nil {
		s.stmt.Close()
		s.stmt = nil
	}
}

func (s *MySQLSource) Close() error {
	s.EndSelect()
	s.conn.Close()
	return s.db.Close()
}
