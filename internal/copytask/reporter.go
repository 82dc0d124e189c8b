package copytask

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
)

const barTemplate pb.ProgressBarTemplate = `{{string . "table"}} {{counters . }} {{bar . }} {{percent . }}`

// Reporter writes the line protocol read by the caller:
//
//	BEGIN:<schema>.<table>:<message>
//	PROGRESS:<schema>.<table>:<done>:<total>
//	END:<schema>.<table>:<message>
//	ERROR:<schema>.<table>:<message>
//	ROW_COUNT:<schema>:<table>: <n>
//	FINISHED
//
// Lines from concurrent workers never interleave.
type Reporter struct {
	mu       sync.Mutex
	out      io.Writer
	progress bool

	// optional per table bars
	barOut io.Writer
	bars   map[string]*pb.ProgressBar
}

// NewReporter writes to out. progress enables PROGRESS lines; a non nil
// barOut also draws one progress bar per table there.
func NewReporter(out io.Writer, progress bool, barOut io.Writer) *Reporter {
	return &Reporter{out: out, progress: progress, barOut: barOut, bars: make(map[string]*pb.ProgressBar)}
}

func (r *Reporter) line(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *Reporter) Begin(job *TableCopyJob, columns int, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line("BEGIN:%s:Copying %d columns of %d rows from table %s", job.TargetName(), columns, total, job.SourceName())
	if r.barOut != nil {
		bar := pb.New64(total).SetTemplate(barTemplate).SetWriter(r.barOut).Set("table", job.TargetName())
		r.bars[job.TargetName()] = bar.Start()
	}
}

func (r *Reporter) Progress(job *TableCopyJob, done, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress {
		r.line("PROGRESS:%s:%d:%d", job.TargetName(), done, total)
	}
	if bar, ok := r.bars[job.TargetName()]; ok {
		bar.SetCurrent(done)
	}
}

// End reports a finished copy, the elapsed time formatted as 1m05s.
func (r *Reporter) End(job *TableCopyJob, rows int64, elapsed time.Duration) {
	secs := int64(elapsed / time.Second)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishBar(job, rows)
	r.line("END:%s:Finished copying %d rows in %dm%02ds", job.TargetName(), rows, secs/60, secs%60)
}

func (r *Reporter) Error(job *TableCopyJob, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishBar(job, -1)
	r.line("ERROR:%s:%s", job.TargetName(), msg)
}

// RowCount reports the row count of a source table.
func (r *Reporter) RowCount(schema, table string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line("ROW_COUNT:%s:%s: %d", schema, table, n)
}

func (r *Reporter) Finished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line("FINISHED")
}

// finishBar stops the bar of job; done < 0 leaves its value untouched.
func (r *Reporter) finishBar(job *TableCopyJob, done int64) {
	bar, ok := r.bars[job.TargetName()]
	if !ok {
		return
	}
	if done >= 0 {
		bar.SetCurrent(done)
	}
	bar.Finish()
	delete(r.bars, job.TargetName())
}
