package copytask

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"copytable/internal/copyspec"
	"copytable/internal/rowbuf"
	"copytable/internal/source"
)

// now is the worker clock.
var now = time.Now

// Target is the writing side a worker drives.
type Target interface {
	GetLastPKeys(ctx context.Context, pk []string, schema, table string) ([]copyspec.KeyValue, error)
	SetTargetTable(ctx context.Context, schema, table string, cols []rowbuf.ColumnInfo, lengthsFromTarget, sourceIsMySQL bool) error
	BulkInserts() bool
	MaxAllowedPacket() int64
	BeginInserts(ctx context.Context, rb *rowbuf.RowBuffer) error
	InsertRow(ctx context.Context) (int, error)
	EndInserts(ctx context.Context, flush bool) (int, error)
}

// Worker copies the jobs it pulls from the queue with its own source and
// target connections.
type Worker struct {
	Name     string
	log      *zap.Logger
	src      source.Source
	tgt      Target
	queue    *TaskQueue
	reporter *Reporter
}

func NewWorker(name string, src source.Source, tgt Target, queue *TaskQueue, reporter *Reporter, log *zap.Logger) *Worker {
	return &Worker{Name: name, log: log.With(zap.String("worker", name)), src: src, tgt: tgt, queue: queue, reporter: reporter}
}

// Run copies jobs until the queue is empty or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			w.log.Debug("Copy cancelled", zap.Error(ctx.Err()))
			return
		}
		job, ok := w.queue.Get()
		if !ok {
			w.log.Debug("No more tables to copy")
			return
		}
		w.copyTable(ctx, &job)
	}
}

// copyTable runs one job to its END or ERROR line. Errors stay in the job.
func (w *Worker) copyTable(ctx context.Context, job *TableCopyJob) {
	var done, total int64
	start := now()

	err := func() error {
		var last []copyspec.KeyValue
		if job.Spec.Resume {
			keys, err := w.tgt.GetLastPKeys(ctx, job.TargetPK, job.TargetSchema, job.TargetTable)
			if err != nil {
				return err
			}
			last = keys
		}
		n, err := w.src.CountRows(ctx, job.SourceSchema, job.SourceTable, job.SourcePK, job.Spec, last)
		if err != nil {
			return err
		}
		total = n
		cols, err := w.src.BeginSelect(ctx, job.SourceSchema, job.SourceTable, job.SourcePK, job.SelectExpr, job.Spec, last)
		if err != nil {
			return err
		}
		w.reporter.Begin(job, len(cols), total)

		if err := w.tgt.SetTargetTable(ctx, job.TargetSchema, job.TargetTable, cols, w.src.FieldLengthsFromTarget(), w.src.IsMySQL()); err != nil {
			return err
		}
		w.src.SetBulkInserts(w.tgt.BulkInserts())
		rb, err := rowbuf.New(cols, nil, int(w.tgt.MaxAllowedPacket()))
		if err != nil {
			return err
		}
		if err := w.tgt.BeginInserts(ctx, rb); err != nil {
			return err
		}

		limit, limited := copyspec.SelectLimit(job.Spec)
		var fetched int64
		for !limited || fetched < limit {
			ok, err := w.src.FetchRow(ctx, rb)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			fetched++
			inserted, err := w.tgt.InsertRow(ctx)
			done += int64(inserted)
			if err != nil {
				return err
			}
			if inserted > 0 {
				w.reporter.Progress(job, done, total)
			}
		}

		inserted, err := w.tgt.EndInserts(ctx, true)
		done += int64(inserted)
		if err != nil {
			return err
		}
		if inserted > 0 {
			w.reporter.Progress(job, done, total)
		}
		w.src.EndSelect()
		return nil
	}()

	if err != nil {
		w.log.Error("Copy failed", zap.String("table", job.TargetName()), zap.Error(err))
		w.reporter.Error(job, err.Error())
		w.tgt.EndInserts(ctx, false)
		w.src.EndSelect()
	}

	elapsed := now().Sub(start)
	if done != total {
		w.reporter.Error(job, fmt.Sprintf("Failed copying %d rows", total-done))
		return
	}
	w.reporter.End(job, done, elapsed)
}
