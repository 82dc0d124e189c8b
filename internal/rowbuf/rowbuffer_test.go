package rowbuf

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytable/internal/copyerr"
)

func testColumns() []ColumnInfo {
	return []ColumnInfo{
		{SourceName: "id", TargetName: "id", TargetType: TypeLong},
		{SourceName: "name", TargetName: "name", TargetType: TypeString},
		{SourceName: "created", TargetName: "created", TargetType: TypeTimestamp},
	}
}

func TestPrepareAddMatchesCellKind(t *testing.T) {
	rb, err := New(testColumns(), nil, 1024)
	require.NoError(t, err)

	id, err := rb.PrepareAddLong()
	require.NoError(t, err)
	*id = 7
	require.NoError(t, rb.FinishField(false))

	buf, err := rb.PrepareAddString()
	require.NoError(t, err)
	buf.SetString("alice")
	require.NoError(t, rb.FinishField(false))

	_, err = rb.PrepareAddTime()
	require.NoError(t, err)
	require.NoError(t, rb.FinishField(true))
	require.NoError(t, rb.EndRow())

	assert.Equal(t, int32(7), rb.Cell(0).Long)
	assert.Equal(t, "alice", string(rb.Cell(1).Buf.Bytes()))
	assert.True(t, rb.Cell(2).Null)
}

func TestPrepareAddTypeMismatch(t *testing.T) {
	rb, err := New(testColumns(), nil, 1024)
	require.NoError(t, err)

	_, err = rb.PrepareAddString()
	var tm *copyerr.TypeMismatchError
	require.True(t, errors.As(err, &tm))
	assert.Equal(t, "Type mismatch fetching field 1 (should be string, was MYSQL_TYPE_LONG)", err.Error())
}

func TestCursorIsCheckedEveryRow(t *testing.T) {
	rb, err := New(testColumns(), nil, 1024)
	require.NoError(t, err)

	for row := 0; row < 5; row++ {
		for i := 0; i < rb.Len(); i++ {
			require.NoError(t, rb.FinishField(false))
		}
		require.NoError(t, rb.EndRow())
		rb.Clear()
		typ, _ := rb.TargetType()
		assert.Equal(t, rb.Cell(0).Type, typ)
	}

	require.NoError(t, rb.FinishField(false))
	require.Error(t, rb.EndRow())

	require.NoError(t, rb.FinishField(false))
	require.NoError(t, rb.FinishField(false))
	err = rb.FinishField(false)
	var le *copyerr.LogicError
	require.True(t, errors.As(err, &le))
	_, err = rb.PrepareAddLong()
	require.True(t, errors.As(err, &le))
}

func TestShortAndLongAcceptAliases(t *testing.T) {
	rb, err := New([]ColumnInfo{
		{TargetType: TypeYear},
		{TargetType: TypeInt24},
	}, nil, 16)
	require.NoError(t, err)
	_, err = rb.PrepareAddShort()
	require.NoError(t, err)
	require.NoError(t, rb.FinishField(false))
	_, err = rb.PrepareAddLong()
	require.NoError(t, err)
}

func TestUnhandledTargetType(t *testing.T) {
	_, err := New([]ColumnInfo{{TargetName: "e", TargetType: TypeEnum}}, nil, 16)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column 'e'")
}

func TestBlobCellLimitAndSink(t *testing.T) {
	var got bytes.Buffer
	sink := func(column int, data []byte) error {
		assert.Equal(t, 0, column)
		got.Write(data)
		return nil
	}
	rb, err := New([]ColumnInfo{{TargetType: TypeBlob}}, sink, 4)
	require.NoError(t, err)
	require.True(t, rb.CheckIfBlob())

	buf, err := rb.PrepareAddString()
	require.NoError(t, err)
	assert.True(t, buf.Set([]byte("123456")))
	assert.Equal(t, "1234", string(buf.Bytes()))
	buf.Reset()
	assert.False(t, buf.Attach([]byte("12")))
	assert.True(t, buf.Attach([]byte("345")))
	assert.Equal(t, "1234", string(buf.Bytes()))

	require.NoError(t, rb.SendBlobData([]byte("chunk-1")))
	require.NoError(t, rb.SendBlobData([]byte("chunk-2")))
	assert.Equal(t, "chunk-1chunk-2", got.String())

	typ, unsigned := rb.TargetType()
	assert.Equal(t, TypeBlob, typ)
	assert.False(t, unsigned)
}

func TestAttachReferencesContiguousChunks(t *testing.T) {
	value := []byte("0123456789")
	var b Buffer
	assert.False(t, b.Attach(value[0:4]))
	assert.False(t, b.Attach(value[4:8]))
	assert.False(t, b.Attach(value[8:]))
	assert.Equal(t, "0123456789", string(b.Bytes()))
	assert.Same(t, &value[0], &b.Bytes()[0])
	assert.Equal(t, 10, cap(b.Bytes()))

	// separate chunks are gathered into the own array
	b.Reset()
	b.Attach([]byte("ab"))
	b.Attach([]byte("cd"))
	assert.Equal(t, "abcd", string(b.Bytes()))

	// Set never writes into lent memory
	b.Reset()
	b.Attach(value[:4])
	b.Set([]byte("xy"))
	assert.Equal(t, "xy", string(b.Bytes()))
	assert.Equal(t, "0123456789", string(value))

	limited := Buffer{limit: 6}
	assert.False(t, limited.Attach(value[0:4]))
	assert.True(t, limited.Attach(value[4:8]))
	assert.Equal(t, "012345", string(limited.Bytes()))
	assert.Same(t, &value[0], &limited.Bytes()[0])
}

func TestParamType(t *testing.T) {
	assert.Equal(t, TypeNewDecimal, ParamType(TypeDecimal, false))
	assert.Equal(t, TypeLong, ParamType(TypeInt24, false))
	assert.Equal(t, TypeShort, ParamType(TypeYear, false))
	assert.Equal(t, TypeString, ParamType(TypeEnum, false))
	assert.Equal(t, TypeString, ParamType(TypeVarchar, false))
	assert.Equal(t, TypeBlob, ParamType(TypeMediumBlob, false))
	assert.Equal(t, TypeDate, ParamType(TypeNewDate, false))
	assert.Equal(t, TypeBlob, ParamType(TypeGeometry, true))
	assert.Equal(t, TypeGeometry, ParamType(TypeGeometry, false))
	assert.Equal(t, TypeTimestamp, ParamType(TypeTimestamp, false))
}
