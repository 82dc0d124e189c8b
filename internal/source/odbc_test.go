package source

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"copytable/internal/copyspec"
	"copytable/internal/rowbuf"
)

func TestSubstitutePassword(t *testing.T) {
	cs, logged := substitutePassword("DRIVER={SQL Server};SERVER=db;UID=sa;PWD=%password%", "s3cret")
	assert.Equal(t, "DRIVER={SQL Server};SERVER=db;UID=sa;PWD=s3cret", cs)
	assert.Equal(t, "DRIVER={SQL Server};SERVER=db;UID=sa;PWD=XXX", logged)

	cs, logged = substitutePassword("DRIVER=psqlODBC;SERVER=db;UID=app", "s3cret")
	assert.Equal(t, "DRIVER=psqlODBC;SERVER=db;UID=app;PWD=s3cret", cs)
	assert.Equal(t, "DRIVER=psqlODBC;SERVER=db;UID=app;PWD=XXX", logged)

	cs, _ = substitutePassword("DSN=x;PWD=given", "other")
	assert.Equal(t, "DSN=x;PWD=given", cs)
}

func TestParseConnKeys(t *testing.T) {
	keys, err := parseConnKeys("DRIVER={ODBC Driver 17 for SQL Server}; SERVER=db,1433;UID=sa;PWD={a;b}}c};DATABASE=shop")
	require.NoError(t, err)
	assert.Equal(t, "ODBC Driver 17 for SQL Server", keys.get("driver"))
	assert.Equal(t, "a;b}c", keys.get("PWD"))
	assert.Equal(t, "shop", keys.get("Database"))
	assert.Equal(t, "server=db,1433;user id=sa;password={a;b}}c};database=shop", keys.encode("DRIVER"))

	_, err = parseConnKeys("DRIVER={unterminated")
	assert.Error(t, err)
	_, err = parseConnKeys("SERVER=db;garbage")
	assert.Error(t, err)
}

func TestODBCDriverSelection(t *testing.T) {
	keys, err := parseConnKeys("DRIVER={PostgreSQL Unicode};SERVER=pg;PORT=5432;DATABASE=shop;UID=app;PWD=it's")
	require.NoError(t, err)
	name, dsn, err := odbcDriver(keys)
	require.NoError(t, err)
	assert.Equal(t, "pgx", name)
	assert.Equal(t, `host='pg' port='5432' dbname='shop' user='app' password='it\'s'`, dsn)

	keys, err = parseConnKeys("DRIVER=FreeTDS;SERVER=ms;UID=sa")
	require.NoError(t, err)
	name, dsn, err = odbcDriver(keys)
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", name)
	assert.Equal(t, "odbc:server=ms;user id=sa", dsn)

	keys, err = parseConnKeys("DRIVER=Access")
	require.NoError(t, err)
	_, _, err = odbcDriver(keys)
	assert.Error(t, err)
}

func TestODBCSourceSelect(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	core, logs := observer.New(zap.WarnLevel)
	s := newODBCSource(db, ODBCOptions{RDBMSType: "Mssql"}, zap.New(core))
	ctx := context.Background()

	mock.ExpectQuery("SELECT count_big(*) FROM [dbo].[items]").
		WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(int64(2)))
	n, err := s.CountRows(ctx, "[dbo]", "[items]", []string{"[id]"}, copyspec.CopySpec{Kind: copyspec.CopyAll}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	mock.ExpectQuery("SELECT * FROM [dbo].[items] ORDER BY [id]").WillReturnRows(
		mock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("id").OfType("INT", int64(0)),
			sqlmock.NewColumn("title").OfType("NVARCHAR", "").WithLength(50),
			sqlmock.NewColumn("hash").OfType("VARBINARY", []byte{}).WithLength(16),
			sqlmock.NewColumn("seen").OfType("DATETIMEOFFSET", ""),
		).AddRow(int64(1), "héllo", []byte{1, 2}, "2024-03-05 10:20:30 +02:00"))

	spec := copyspec.CopySpec{Kind: copyspec.CopyCount, RowCount: 10}
	cols, err := s.BeginSelect(ctx, "[dbo]", "[items]", []string{"[id]"}, "", spec, nil)
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.Equal(t, int64(200), cols[1].SourceLength)
	assert.Equal(t, 1, logs.FilterMessage("Not supported type [DATETIMEOFFSET]").Len())

	targets := []rowbuf.FieldType{rowbuf.TypeLong, rowbuf.TypeString, rowbuf.TypeString, rowbuf.TypeString}
	for i := range cols {
		cols[i].TargetType = targets[i]
	}
	rb, err := rowbuf.New(cols, nil, 0)
	require.NoError(t, err)
	ok, err := s.FetchRow(ctx, rb)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "héllo", string(rb.Cell(1).Buf.Bytes()))
	assert.True(t, rb.Cell(2).Null)
	assert.Equal(t, "2024-03-05 10:20:30 +02:00", string(rb.Cell(3).Buf.Bytes()))
	s.EndSelect()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestODBCSourceRejectsIntervals(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	s := newODBCSource(db, ODBCOptions{}, zap.NewNop())

	mock.ExpectQuery("SELECT * FROM public.spans ORDER BY id").WillReturnRows(
		mock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("id").OfType("INT4", int64(0)),
			sqlmock.NewColumn("span").OfType("INTERVAL", ""),
		))
	_, err = s.BeginSelect(context.Background(), "public", "spans", []string{"id"}, "*", copyspec.CopySpec{}, nil)
	require.Error(t, err)
	assert.Equal(t, "Unhandled type INTERVAL", err.Error())
}
