package copytask

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"copytable/internal/copyspec"
	"copytable/internal/rowbuf"
	"copytable/internal/source"
)

// countingSource serves the same number of empty rows for every table.
type countingSource struct {
	source.Source
	rows    int64
	fetched int64

	mu     *sync.Mutex
	copied map[string]int
}

func (s *countingSource) CountRows(ctx context.Context, schema, table string, pk []string, spec copyspec.CopySpec, last []copyspec.KeyValue) (int64, error) {
	return s.rows, nil
}

func (s *countingSource) BeginSelect(ctx context.Context, schema, table string, pk []string, selectExpr string, spec copyspec.CopySpec, last []copyspec.KeyValue) ([]rowbuf.ColumnInfo, error) {
	s.mu.Lock()
	s.copied[schema+"."+table]++
	s.mu.Unlock()
	s.fetched = 0
	return []rowbuf.ColumnInfo{{SourceName: "id"}}, nil
}

func (s *countingSource) FetchRow(ctx context.Context, rb *rowbuf.RowBuffer) (bool, error) {
	if s.fetched == s.rows {
		return false, nil
	}
	s.fetched++
	return true, nil
}

func (s *countingSource) EndSelect()                   {}
func (s *countingSource) SetBulkInserts(bool)          {}
func (s *countingSource) FieldLengthsFromTarget() bool { return false }
func (s *countingSource) IsMySQL() bool                { return true }

// countingTarget accepts every row.
type countingTarget struct{}

func (countingTarget) GetLastPKeys(ctx context.Context, pk []string, schema, table string) ([]copyspec.KeyValue, error) {
	return nil, nil
}

func (countingTarget) SetTargetTable(ctx context.Context, schema, table string, cols []rowbuf.ColumnInfo, lengthsFromTarget, sourceIsMySQL bool) error {
	for i := range cols {
		cols[i].TargetName = cols[i].SourceName
		cols[i].TargetType = rowbuf.TypeLong
	}
	return nil
}

func (countingTarget) BulkInserts() bool                                            { return true }
func (countingTarget) MaxAllowedPacket() int64                                      { return 1024 }
func (countingTarget) BeginInserts(ctx context.Context, rb *rowbuf.RowBuffer) error { return nil }
func (countingTarget) InsertRow(ctx context.Context) (int, error)                   { return 1, nil }
func (countingTarget) EndInserts(ctx context.Context, flush bool) (int, error)      { return 0, nil }

func TestRunPoolCopiesEveryJobOnce(t *testing.T) {
	queue := NewTaskQueue()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		queue.Add(TableCopyJob{SourceSchema: "src", SourceTable: name, TargetSchema: "dst", TargetTable: name})
	}
	var out bytes.Buffer
	reporter := NewReporter(&out, false, nil)

	var mu sync.Mutex
	copied := make(map[string]int)
	var workers []*Worker
	for _, name := range []string{"worker-1", "worker-2"} {
		src := &countingSource{rows: 3, mu: &mu, copied: copied}
		workers = append(workers, NewWorker(name, src, countingTarget{}, queue, reporter, zap.NewNop()))
	}

	require.NoError(t, RunPool(context.Background(), workers))
	assert.Equal(t, 0, queue.Len())
	assert.Equal(t, map[string]int{"src.a": 1, "src.b": 1, "src.c": 1, "src.d": 1, "src.e": 1}, copied)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 10)
	ends := 0
	for _, l := range lines {
		if strings.HasPrefix(l, "END:dst.") {
			assert.Contains(t, l, ":Finished copying 3 rows in ")
			ends++
		}
	}
	assert.Equal(t, 5, ends)
}

func TestRunPoolWithoutWorkers(t *testing.T) {
	require.NoError(t, RunPool(context.Background(), nil))
}
