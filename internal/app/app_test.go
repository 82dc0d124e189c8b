package app

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prashantv/gostub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"copytable/internal/copyspec"
	"copytable/internal/copytask"
	"copytable/internal/target"
	"copytable/internal/tunnel"
)

func sqliteDescriptor(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	for _, q := range []string{
		"CREATE TABLE items (id INTEGER PRIMARY KEY, name VARCHAR(20))",
		"INSERT INTO items VALUES (1, 'alice'), (2, 'bob'), (3, 'carol')",
	} {
		_, err := db.Exec(q)
		require.NoError(t, err, q)
	}
	require.NoError(t, db.Close())
	return "sqlite3://" + path
}

func itemsJob(spec copyspec.CopySpec) copytask.TableCopyJob {
	return copytask.TableCopyJob{
		SourceSchema: "main", SourceTable: "items",
		TargetSchema: "shop", TargetTable: "items",
		SourcePK: []string{"id"}, TargetPK: []string{"id"},
		SelectExpr: "*",
		Spec:       spec,
	}
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	vars := func(name, value string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"Variable_name", "Value"}).AddRow(name, value)
	}
	mock.ExpectQuery("SHOW VARIABLES LIKE 'version'").WillReturnRows(vars("version", "8.0.36"))
	mock.ExpectQuery("SHOW VARIABLES LIKE 'max_allowed_packet'").WillReturnRows(vars("max_allowed_packet", "67108864"))
	mock.ExpectExec("SET NAMES 'utf8'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET FOREIGN_KEY_CHECKS=0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET SESSION SQL_MODE=CONCAT('NO_AUTO_VALUE_ON_ZERO,', @@SQL_MODE)").WillReturnResult(sqlmock.NewResult(0, 0))
	return db, mock
}

// stubTargets hands out the given mocks in order, one per target connection.
func stubTargets(t *testing.T, dbs ...*sql.DB) *[]*mysql.Config {
	t.Helper()
	var seen []*mysql.Config
	stubs := gostub.Stub(&dialTarget, func(ctx context.Context, cfg *mysql.Config, opts target.Options, log *zap.Logger) (*target.MySQLTarget, error) {
		if len(seen) >= len(dbs) {
			return nil, errors.New("no more target connections")
		}
		db := dbs[len(seen)]
		seen = append(seen, cfg)
		return target.Open(ctx, db, cfg.Addr, opts, log)
	})
	t.Cleanup(stubs.Reset)
	return &seen
}

func itemsColumns() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE", "len", "EXTRA"}).
		AddRow("id", "int", int64(0), "").
		AddRow("name", "varchar(20)", int64(20), "")
}

const itemsColumnsQuery = "SELECT COLUMN_NAME, COLUMN_TYPE, COALESCE(CHARACTER_MAXIMUM_LENGTH, 0), EXTRA" +
	" FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = 'shop' AND TABLE_NAME = 'items' ORDER BY ORDINAL_POSITION"

func TestValidate(t *testing.T) {
	jobs := []copytask.TableCopyJob{itemsJob(copyspec.CopySpec{})}

	o := &Options{TargetConn: "root@db2", Jobs: jobs}
	assert.EqualError(t, o.Validate(), "Missing source DB server")

	o = &Options{SourceConn: "root@db1", Jobs: jobs}
	assert.EqualError(t, o.Validate(), "Missing target DB server")

	o = &Options{SourceConn: "root@db1", CountOnly: true, Jobs: jobs}
	require.NoError(t, o.Validate())
	assert.Equal(t, 1, o.ThreadCount)
	assert.Equal(t, 100, o.BulkInsertBatch)

	o = &Options{SourceConn: "root@db1", CountOnly: true, Resume: true, Jobs: jobs}
	assert.EqualError(t, o.Validate(), "Missing target DB server")

	o = &Options{SourceConn: "root@db1", TargetConn: "root@db2"}
	assert.True(t, errors.Is(o.Validate(), ErrNoJobs))

	o = &Options{TargetConn: "root@db2", DisableTriggersOn: []string{"shop"}}
	require.NoError(t, o.Validate())

	o = &Options{TargetConn: "root@db2", DisableTriggersOn: []string{"shop"}, ReenableTriggersOn: []string{"shop"}}
	require.Error(t, o.Validate())

	o = &Options{SourceConn: "root@db1", TargetConn: "root@db2", CountOnly: true, ReenableTriggersOn: []string{"shop"}}
	require.Error(t, o.Validate())
}

func TestSchemaSet(t *testing.T) {
	assert.Equal(t, []string{"crm", "shop"}, schemaSet([]string{"shop", "crm", "shop"}))
	assert.Empty(t, schemaSet(nil))
}

func TestTargetOptions(t *testing.T) {
	s := &session{opts: &Options{BulkInsertBatch: 50, Truncate: true}, charset: "latin1"}
	assert.Equal(t, target.Options{IncomingCharset: "latin1", Truncate: true, BulkInsertBatch: 50}, s.targetOptions())

	s.opts.MaxCount = 7
	s.opts.NoBulkInserts = true
	assert.Equal(t, target.Options{IncomingCharset: "latin1", Truncate: true, BulkInsertBatch: 7, DisableBulkInserts: true},
		s.targetOptions())
}

func TestRunCountOnly(t *testing.T) {
	stubTargets(t)
	opts := &Options{
		SourceKind: SourceDriverAPI,
		SourceConn: sqliteDescriptor(t),
		CountOnly:  true,
		Jobs:       []copytask.TableCopyJob{itemsJob(copyspec.CopySpec{Kind: copyspec.CopyAll})},
	}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), opts, &out, zap.NewNop()))
	assert.Equal(t, "ROW_COUNT:main:items: 3\nFINISHED\n", out.String())
}

func TestRunCountOnlyResume(t *testing.T) {
	db, mock := newMock(t)
	seen := stubTargets(t, db)
	mock.ExpectQuery("SELECT `id` FROM `shop`.`items` ORDER BY `id` DESC LIMIT 0,1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("2"))

	opts := &Options{
		SourceKind: SourceDriverAPI,
		SourceConn: sqliteDescriptor(t),
		TargetConn: "copier:secret@db2:3307",
		CountOnly:  true,
		Resume:     true,
		Jobs: []copytask.TableCopyJob{
			itemsJob(copyspec.CopySpec{Kind: copyspec.CopyAll, Resume: true}),
			itemsJob(copyspec.CopySpec{Kind: copyspec.CopyCount, RowCount: 1}),
		},
	}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), opts, &out, zap.NewNop()))
	assert.Equal(t, "ROW_COUNT:main:items: 1\nROW_COUNT:main:items: 1\nFINISHED\n", out.String())

	require.Len(t, *seen, 1)
	assert.Equal(t, "db2:3307", (*seen)[0].Addr)
	assert.Equal(t, "copier", (*seen)[0].User)
	assert.Equal(t, "secret", (*seen)[0].Passwd)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunCopiesWithoutTriggers(t *testing.T) {
	db, mock := newMock(t)
	stubTargets(t, db)
	mock.ExpectQuery(itemsColumnsQuery).WillReturnRows(itemsColumns())
	mock.ExpectExec("INSERT INTO `shop`.`items` (`id`, `name`) VALUES (1,'alice'),(2,'bob'),(3,'carol')").
		WillReturnResult(sqlmock.NewResult(0, 3))

	opts := &Options{
		SourceKind:          SourceDriverAPI,
		SourceConn:          sqliteDescriptor(t),
		TargetConn:          "root@db2",
		TargetPassword:      "flag",
		DontDisableTriggers: true,
		Jobs:                []copytask.TableCopyJob{itemsJob(copyspec.CopySpec{Kind: copyspec.CopyAll})},
	}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), opts, &out, zap.NewNop()))
	assert.Contains(t, out.String(), "BEGIN:shop.items:Copying 2 columns of 3 rows from table main.items\n")
	assert.Contains(t, out.String(), "END:shop.items:Finished copying 3 rows in ")
	assert.NotContains(t, out.String(), "PROGRESS:")
	assert.True(t, bytes.HasSuffix(out.Bytes(), []byte("\nFINISHED\n")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunCopySuspendsTriggers(t *testing.T) {
	trgDB, trgMock := newMock(t)
	workerDB, workerMock := newMock(t)
	seen := stubTargets(t, trgDB, workerDB)

	trgMock.ExpectQuery("SHOW TRIGGERS FROM `shop`").
		WillReturnRows(sqlmock.NewRows([]string{"Trigger", "Event", "Table"}))
	workerMock.ExpectQuery(itemsColumnsQuery).WillReturnRows(itemsColumns())
	workerMock.ExpectExec("INSERT INTO `shop`.`items` (`id`, `name`) VALUES (1,'alice'),(2,'bob')").
		WillReturnResult(sqlmock.NewResult(0, 2))
	trgMock.ExpectQuery("SELECT * FROM `shop`.`wb_tmp_triggers`").
		WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 'shop.wb_tmp_triggers' doesn't exist"})

	opts := &Options{
		SourceKind:     SourceDriverAPI,
		SourceConn:     sqliteDescriptor(t),
		TargetConn:     "root:pw@db2",
		TargetPassword: "flag",
		Progress:       true,
		Jobs:           []copytask.TableCopyJob{itemsJob(copyspec.CopySpec{Kind: copyspec.CopyCount, RowCount: 2})},
	}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), opts, &out, zap.NewNop()))
	assert.Contains(t, out.String(), "PROGRESS:shop.items:2:2\n")
	assert.Contains(t, out.String(), "END:shop.items:Finished copying 2 rows in ")

	require.Len(t, *seen, 2)
	// the flag password wins over the descriptor one
	assert.Equal(t, "flag", (*seen)[0].Passwd)
	require.NoError(t, trgMock.ExpectationsWereMet())
	require.NoError(t, workerMock.ExpectationsWereMet())
}

func TestRunCopyStopsWhenBackupFails(t *testing.T) {
	db, mock := newMock(t)
	stubTargets(t, db)
	mock.ExpectQuery("SHOW TRIGGERS FROM `shop`").WillReturnError(errors.New("server gone"))

	opts := &Options{
		SourceKind: SourceDriverAPI,
		SourceConn: sqliteDescriptor(t),
		TargetConn: "root@db2",
		Jobs:       []copytask.TableCopyJob{itemsJob(copyspec.CopySpec{Kind: copyspec.CopyAll})},
	}
	var out bytes.Buffer
	err := Run(context.Background(), opts, &out, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, "Querying Trigger List: server gone", err.Error())
	assert.Empty(t, out.String())
}

func TestRunReenableTriggers(t *testing.T) {
	db, mock := newMock(t)
	stubTargets(t, db)
	trg := "CREATE TRIGGER trg_a BEFORE UPDATE ON items FOR EACH ROW SET NEW.n = 1"
	mock.ExpectQuery("SELECT * FROM `crm`.`wb_tmp_triggers`").
		WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 'crm.wb_tmp_triggers' doesn't exist"})
	mock.ExpectQuery("SELECT * FROM `shop`.`wb_tmp_triggers`").
		WillReturnRows(sqlmock.NewRows([]string{"trigger_name", "trigger_sql"}).AddRow("trg_a", trg))
	mock.ExpectExec("USE `shop`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(trg).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE `shop`.`wb_tmp_triggers`").WillReturnResult(sqlmock.NewResult(0, 0))

	opts := &Options{
		TargetConn:         "root@db2",
		ReenableTriggersOn: []string{"shop", "crm", "shop"},
	}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), opts, &out, zap.NewNop()))
	assert.Equal(t, "FINISHED\n", out.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRejectsBadDescriptor(t *testing.T) {
	opts := &Options{
		SourceKind: SourceMySQL,
		SourceConn: "root@db1",
		TargetConn: "db2",
		Jobs:       []copytask.TableCopyJob{itemsJob(copyspec.CopySpec{})},
	}
	err := Run(context.Background(), opts, &bytes.Buffer{}, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, "Invalid MySQL connection string db2 for target database. "+
		"Must be in format user[:pass]@host:port or user[:pass]@::socket", err.Error())
}

func TestRunTunnelFailure(t *testing.T) {
	var remote string
	defer gostub.Stub(&openTunnel, func(ctx context.Context, cfg tunnel.Config, addr string, log *zap.Logger) (*tunnel.Tunnel, error) {
		remote = addr
		assert.Equal(t, "bastion", cfg.Host)
		assert.Equal(t, "/tmp/known_hosts", cfg.KnownHostsFile)
		return nil, errors.New("connection refused")
	}).Reset()

	opts := &Options{
		SourceKind:     SourceDriverAPI,
		SourceConn:     "sqlite3:///tmp/none.db",
		TargetConn:     "root@db2:3310",
		TargetSSH:      SSHOptions{Host: "bastion", User: "ops"},
		KnownHostsFile: "/tmp/known_hosts",
		Jobs:           []copytask.TableCopyJob{itemsJob(copyspec.CopySpec{})},
	}
	err := Run(context.Background(), opts, &bytes.Buffer{}, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, "opening SSH tunnel for target database: connection refused", err.Error())
	assert.Equal(t, "db2:3310", remote)
}

func TestRunRejectsUnknownCharset(t *testing.T) {
	opts := &Options{
		SourceKind:    SourceDriverAPI,
		SourceConn:    "sqlite3:///tmp/none.db",
		SourceCharset: "klingon",
		CountOnly:     true,
		Jobs:          []copytask.TableCopyJob{itemsJob(copyspec.CopySpec{})},
	}
	err := Run(context.Background(), opts, &bytes.Buffer{}, zap.NewNop())
	assert.EqualError(t, err, "Unknown source charset 'klingon'")
}
