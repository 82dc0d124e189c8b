// Package target writes bound rows into a MySQL table, either as multi-row
// INSERT statements or through one prepared INSERT executed per row.
package target

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"copytable/internal/copyerr"
	"copytable/internal/rowbuf"
	"copytable/internal/sqlquote"
)

const defaultBulkInsertBatch = 100

// Options tunes a target connection.
type Options struct {
	// IncomingCharset is the character set of the text the source hands over.
	IncomingCharset    string
	Truncate           bool
	BulkInsertBatch    int
	DisableBulkInserts bool
}

// serverVersion is the numeric part of the server's version string.
type serverVersion struct {
	major, minor, build int
}

func parseVersion(s string) serverVersion {
	var parts [3]int
	for i, p := range strings.SplitN(s, ".", 3) {
		end := 0
		for end < len(p) && p[end] >= '0' && p[end] <= '9' {
			end++
		}
		parts[i], _ = strconv.Atoi(p[:end])
	}
	return serverVersion{parts[0], parts[1], parts[2]}
}

func (v serverVersion) atLeast(major, minor, build int) bool {
	if v.major != major {
		return v.major > major
	}
	if v.minor != minor {
		return v.minor > minor
	}
	return v.build >= build
}

func (v serverVersion) String() string {
	return strconv.Itoa(v.major) + "." + strconv.Itoa(v.minor) + "." + strconv.Itoa(v.build)
}

// MySQLTarget is the writing side of one worker. It owns one pinned connection.
type MySQLTarget struct {
	log  *zap.Logger
	db   *sql.DB
	conn *sql.Conn
	opts Options
	addr string

	version          serverVersion
	maxAllowedPacket int64
	maxLongDataSize  int64
	bulk             bool
	batch            int

	// per table state
	schema     string
	table      string
	insertCols []string
	rb         *rowbuf.RowBuffer
	buf        *InsertBuffer
	rec        []byte
	stmt       *sql.Stmt
	args       []any
}

// Connect opens the target server described by cfg and prepares the session.
func Connect(ctx context.Context, cfg *mysql.Config, opts Options, log *zap.Logger) (*MySQLTarget, error) {
	cfg = cfg.Clone()
	cfg.ParseTime = false
	// let the driver follow the server's packet limit
	cfg.MaxAllowedPacket = 0
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, copyerr.Connection(err, "Connecting to target MySQL server %s", cfg.Addr)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return Open(ctx, db, cfg.Addr, opts, log)
}

// Open runs the session set-up on an already opened pool.
func Open(ctx context.Context, db *sql.DB, addr string, opts Options, log *zap.Logger) (*MySQLTarget, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, copyerr.Connection(err, "Connecting to target MySQL server %s", addr)
	}
	t := &MySQLTarget{
		log:   log,
		db:    db,
		conn:  conn,
		opts:  opts,
		addr:  addr,
		bulk:  !opts.DisableBulkInserts,
		batch: opts.BulkInsertBatch,
	}
	if t.batch < 1 {
		t.batch = defaultBulkInsertBatch
	}
	if err := t.init(ctx); err != nil {
		t.Close()
		return nil, err
	}
	log.Info("Connected to MySQL server", zap.String("side", "target"), zap.String("addr", addr),
		zap.Stringer("version", t.version))
	return t, nil
}

// serverValue reads one server variable, "" when the server does not know it.
func (t *MySQLTarget) serverValue(ctx context.Context, name string) (string, error) {
	var n, v sql.NullString
	err := t.conn.QueryRowContext(ctx, "SHOW VARIABLES LIKE "+sqlquote.Literal(name)).Scan(&n, &v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", copyerr.Connection(err, "Reading server variable %s", name)
	}
	return v.String, nil
}

func (t *MySQLTarget) serverInt(ctx context.Context, name string) (int64, error) {
	s, err := t.serverValue(ctx, name)
	if err != nil || s == "" {
		return 0, err
	}
	n, parseErr := strconv.ParseInt(s, 10, 64)
	if parseErr != nil {
		return 0, copyerr.Logic("Unexpected value '%s' for server variable %s", s, name)
	}
	return n, nil
}

func (t *MySQLTarget) exec(ctx context.Context, q string) error {
	t.log.Debug("Executing query", zap.String("query", q))
	if _, err := t.conn.ExecContext(ctx, q); err != nil {
		return copyerr.Connection(err, "%s", q)
	}
	return nil
}

func (t *MySQLTarget) init(ctx context.Context) error {
	v, err := t.serverValue(ctx, "version")
	if err != nil {
		return err
	}
	t.version = parseVersion(v)

	if t.maxAllowedPacket, err = t.serverInt(ctx, "max_allowed_packet"); err != nil {
		return err
	}
	t.log.Debug("Detected max_allowed_packet", zap.Int64("bytes", t.maxAllowedPacket),
		zap.String("size", humanize.IBytes(uint64(t.maxAllowedPacket))))

	// max_long_data_size exists from 5.1.57 and is gone in 5.6
	t.maxLongDataSize = t.maxAllowedPacket
	if t.version.atLeast(5, 1, 57) && !t.version.atLeast(5, 6, 0) {
		n, err := t.serverInt(ctx, "max_long_data_size")
		if err != nil {
			return err
		}
		if n > 0 {
			t.maxLongDataSize = n
		}
		t.log.Debug("Detected max_long_data_size", zap.String("size", humanize.IBytes(uint64(t.maxLongDataSize))))
	}

	if err := t.exec(ctx, "SET NAMES 'utf8'"); err != nil {
		return err
	}
	if t.opts.IncomingCharset != "" {
		if err := t.exec(ctx, "SET character_set_client="+sqlquote.Literal(clientCharset(t.opts.IncomingCharset))); err != nil {
			return err
		}
	}
	if err := t.exec(ctx, "SET FOREIGN_KEY_CHECKS=0"); err != nil {
		return err
	}
	if err := t.exec(ctx, "SET SESSION SQL_MODE=CONCAT('NO_AUTO_VALUE_ON_ZERO,', @@SQL_MODE)"); err != nil {
		t.log.Warn("Could not set SQL_MODE, zero values in AUTO_INCREMENT columns may be renumbered", zap.Error(err))
	}
	return nil
}

// clientCharset turns a source charset name into the MySQL name.
func clientCharset(name string) string {
	switch strings.ToLower(name) {
	case "cp1252", "windows-1252":
		return "latin1"
	}
	return name
}

func (t *MySQLTarget) MaxAllowedPacket() int64 {
	return t.maxAllowedPacket
}

// MaxLongDataSize is the largest parameter the server accepts in one piece.
func (t *MySQLTarget) MaxLongDataSize() int64 {
	return t.maxLongDataSize
}

// BulkInserts reports whether rows are written as multi-row INSERT statements.
func (t *MySQLTarget) BulkInserts() bool {
	return t.bulk
}

func (t *MySQLTarget) Close() error {
	t.closeStmt()
	t.conn.Close()
	return t.db.Close()
}
