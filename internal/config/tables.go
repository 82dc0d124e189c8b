package config

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"

	"copytable/internal/copyspec"
	"copytable/internal/copytask"
)

// Table spec options of the command line.
const (
	SpecTable    = "table"
	SpecRange    = "table-range"
	SpecRowCount = "table-row-count"
	SpecWhere    = "table-where"
)

// JobDefaults are the run wide settings stamped on every job.
type JobDefaults struct {
	// CountOnly without Resume only needs the source schema and table.
	CountOnly bool
	Resume    bool
	MaxCount  int64
}

func (d JobDefaults) sourceOnly() bool {
	return d.CountOnly && !d.Resume
}

// SpecArity returns how many values follow the option name of a table spec.
func SpecArity(kind string, d JobDefaults) (int, bool) {
	base := 7
	if d.sourceOnly() {
		base = 2
	}
	switch kind {
	case SpecTable:
		return base, true
	case SpecRange:
		return base + 3, true
	case SpecRowCount:
		return base + 1, true
	case SpecWhere:
		if d.sourceOnly() {
			// select expression and predicate
			return base + 2, true
		}
		return base + 1, true
	}
	return 0, false
}

// pkList splits a comma separated key list, "-" being the empty list.
func pkList(v string) []string {
	if v == "-" || v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

// jobHead fills the table part of a job from the leading values and returns
// the values left.
func jobHead(values []string, d JobDefaults) (copytask.TableCopyJob, []string) {
	job := copytask.TableCopyJob{SourceSchema: values[0], SourceTable: values[1]}
	if d.sourceOnly() {
		return job, values[2:]
	}
	job.TargetSchema = values[2]
	job.TargetTable = values[3]
	job.SourcePK = pkList(values[4])
	job.TargetPK = pkList(values[5])
	job.SelectExpr = values[6]
	return job, values[7:]
}

func parseInt(v, what string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, errors.Newf("Invalid %s '%s'", what, v)
	}
	return n, nil
}

// ParseTableSpec builds a job from the values of one table spec option.
func ParseTableSpec(kind string, values []string, d JobDefaults) (copytask.TableCopyJob, error) {
	n, ok := SpecArity(kind, d)
	if !ok {
		return copytask.TableCopyJob{}, errors.Newf("Unknown table specification --%s", kind)
	}
	if len(values) != n {
		return copytask.TableCopyJob{}, errors.New("Missing value for table copy specification")
	}
	job, rest := jobHead(values, d)
	job.Spec = copyspec.CopySpec{Resume: d.Resume, MaxCount: d.MaxCount}

	var err error
	switch kind {
	case SpecTable:
		job.Spec.Kind = copyspec.CopyAll
	case SpecRange:
		job.Spec.Kind = copyspec.CopyRange
		job.Spec.RangeKey = rest[0]
		if job.Spec.RangeStart, err = parseInt(rest[1], "range start"); err != nil {
			return job, err
		}
		if job.Spec.RangeEnd, err = parseInt(rest[2], "range end"); err != nil {
			return job, err
		}
	case SpecRowCount:
		job.Spec.Kind = copyspec.CopyCount
		if job.Spec.RowCount, err = parseInt(rest[0], "row count"); err != nil {
			return job, err
		}
		if job.Spec.RowCount < 0 {
			return job, errors.Newf("Invalid row count '%s'", rest[0])
		}
	case SpecWhere:
		job.Spec.Kind = copyspec.CopyWhere
		if d.sourceOnly() {
			job.SelectExpr = rest[0]
			rest = rest[1:]
		}
		job.Spec.Where = rest[0]
	}
	return job, nil
}

// ------------------------------------------------------------------------------------------
// ReadTableFile loads CopyAll jobs from a tab separated file, one table per
// line: 2 fields (source schema and table) when only counting without
// resume, 7 fields otherwise. Files ending in .zst or .zstd are decompressed.
func ReadTableFile(path string, d JobDefaults) ([]copytask.TableCopyJob, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening table file %s", path)
	}
	defer fh.Close()

	var r io.Reader = fh
	if strings.HasSuffix(path, ".zst") || strings.HasSuffix(path, ".zstd") {
		dec, decErr := zstd.NewReader(fh)
		if decErr != nil {
			return nil, errors.Wrapf(decErr, "reading table file %s", path)
		}
		defer dec.Close()
		r = dec
	}
	jobs, err := readTableLines(r, d)
	if err != nil {
		return nil, errors.Wrapf(err, "Invalid table definitions format in file: %s", path)
	}
	return jobs, nil
}

func readTableLines(r io.Reader, d JobDefaults) ([]copytask.TableCopyJob, error) {
	fields := 7
	if d.sourceOnly() {
		fields = 2
	}
	var jobs []copytask.TableCopyJob
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		values := strings.SplitN(text, "\t", fields)
		if len(values) != fields {
			return nil, errors.Newf("line %d has %d fields, expected %d", line, len(values), fields)
		}
		job, _ := jobHead(values, d)
		job.Spec = copyspec.CopySpec{Kind: copyspec.CopyAll, Resume: d.Resume, MaxCount: d.MaxCount}
		jobs = append(jobs, job)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}
