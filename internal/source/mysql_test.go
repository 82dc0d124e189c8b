package source

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"copytable/internal/copyspec"
	"copytable/internal/rowbuf"
)

func newMockMySQLSource(t *testing.T) (*MySQLSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	mock.ExpectExec("SET NAMES 'utf8'").WillReturnResult(sqlmock.NewResult(0, 0))

	s, err := newMySQLSource(context.Background(), db, "db1:3306", zap.NewNop())
	require.NoError(t, err)
	return s, mock
}

func TestMySQLSourceCount(t *testing.T) {
	s, mock := newMockMySQLSource(t)
	ctx := context.Background()

	mock.ExpectExec("USE `shop`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count(*) FROM `items` WHERE (`id` >= 10) AND (`id` <= 20)").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(int64(11)))

	spec := copyspec.CopySpec{Kind: copyspec.CopyRange, RangeKey: "`id`", RangeStart: 10, RangeEnd: 20, MaxCount: 5}
	n, err := s.CountRows(ctx, "shop", "items", []string{"id"}, spec, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSourceSelect(t *testing.T) {
	s, mock := newMockMySQLSource(t)
	ctx := context.Background()

	query := "SELECT * FROM `items` WHERE (`id` > '1') ORDER BY `id` LIMIT 2"
	mock.ExpectExec("USE `shop`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare(query).ExpectQuery().WillReturnRows(
		mock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("id").OfType("UNSIGNED INT", int64(0)),
			sqlmock.NewColumn("name").OfType("VARCHAR", []byte{}),
			sqlmock.NewColumn("body").OfType("TEXT", []byte{}),
			sqlmock.NewColumn("created").OfType("DATETIME", []byte{}),
		).
			AddRow(int64(2), []byte("bob"), []byte("hello"), []byte("2024-03-05 10:20:30.250000")).
			AddRow(int64(3), []byte("eve"), nil, []byte("0000-00-00 00:00:00")))

	spec := copyspec.CopySpec{Kind: copyspec.CopyCount, RowCount: 2, Resume: true}
	cols, err := s.BeginSelect(ctx, "shop", "items", []string{"id"}, "*", spec, []copyspec.KeyValue{{Value: "1"}})
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.True(t, cols[0].IsUnsigned)
	assert.Equal(t, "unsigned int", cols[0].SourceType)
	assert.False(t, cols[1].IsLongData)
	assert.True(t, cols[2].IsLongData)

	targets := []rowbuf.FieldType{rowbuf.TypeLong, rowbuf.TypeString, rowbuf.TypeBlob, rowbuf.TypeDatetime}
	for i := range cols {
		cols[i].TargetName = cols[i].SourceName
		cols[i].TargetType = targets[i]
	}
	rb, err := rowbuf.New(cols, nil, 1024)
	require.NoError(t, err)

	ok, err := s.FetchRow(ctx, rb)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(2), rb.Cell(0).Long)
	assert.Equal(t, "bob", string(rb.Cell(1).Buf.Bytes()))
	assert.Equal(t, "hello", string(rb.Cell(2).Buf.Bytes()))
	assert.Equal(t, "2024-03-05 10:20:30.250000", rb.Cell(3).Time.Text(true))

	ok, err = s.FetchRow(ctx, rb)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rb.Cell(2).Null)
	assert.Equal(t, "0000-00-00 00:00:00", rb.Cell(3).Time.Text(false))

	ok, err = s.FetchRow(ctx, rb)
	require.NoError(t, err)
	assert.False(t, ok)
	s.EndSelect()
	require.NoError(t, mock.ExpectationsWereMet())
}
