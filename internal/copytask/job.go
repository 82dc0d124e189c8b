// Package copytask runs table copy jobs: a shared queue, one source and one
// target per worker, and the status lines the caller parses.
package copytask

import (
	"sort"
	"sync"

	"copytable/internal/copyspec"
	"copytable/internal/sqlquote"
)

// TableCopyJob is one source table to target table copy.
type TableCopyJob struct {
	SourceSchema string
	SourceTable  string
	TargetSchema string
	TargetTable  string
	SourcePK     []string
	TargetPK     []string
	SelectExpr   string
	Spec         copyspec.CopySpec
}

// TargetName is the "schema.table" name used on status lines.
func (j *TableCopyJob) TargetName() string {
	return j.TargetSchema + "." + j.TargetTable
}

func (j *TableCopyJob) SourceName() string {
	return j.SourceSchema + "." + j.SourceTable
}

// ------------------------------------------------------------------------------------------
// TaskQueue hands every job to exactly one worker, in insertion order.
type TaskQueue struct {
	mu   sync.Mutex
	jobs []TableCopyJob
}

func NewTaskQueue(jobs ...TableCopyJob) *TaskQueue {
	return &TaskQueue{jobs: append([]TableCopyJob(nil), jobs...)}
}

func (q *TaskQueue) Add(job TableCopyJob) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
}

// Get pops the next job; false when the queue is empty.
func (q *TaskQueue) Get() (TableCopyJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return TableCopyJob{}, false
	}
	job := q.jobs[0]
	q.jobs[0] = TableCopyJob{}
	q.jobs = q.jobs[1:]
	return job, true
}

func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// TargetSchemas lists the distinct, unquoted target schemas of the queued jobs.
func (q *TaskQueue) TargetSchemas() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	seen := make(map[string]struct{})
	var schemas []string
	for _, j := range q.jobs {
		s := sqlquote.Unquote(j.TargetSchema)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		schemas = append(schemas, s)
	}
	sort.Strings(schemas)
	return schemas
}
