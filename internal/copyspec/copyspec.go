// Package copyspec turns the selection policy of a table copy into the
// WHERE, ORDER BY and LIMIT parts of the source queries.
package copyspec

import (
	"fmt"
	"strings"

	"copytable/internal/sqlquote"
)

// Kind is the selection policy of one job.
type Kind int

const (
	CopyAll Kind = iota
	CopyRange
	CopyCount
	CopyWhere
)

func (k Kind) String() string {
	switch k {
	case CopyAll:
		return "all"
	case CopyRange:
		return "range"
	case CopyCount:
		return "count"
	case CopyWhere:
		return "where"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// CopySpec selects the rows of one job. RangeEnd < 0 leaves the range open.
type CopySpec struct {
	Kind       Kind
	RangeKey   string
	RangeStart int64
	RangeEnd   int64
	RowCount   int64
	Where      string
	Resume     bool
	MaxCount   int64
}

// KeyValue is one primary key value read back from the target.
type KeyValue struct {
	Value string
	Null  bool
}

func (kv KeyValue) String() string {
	if kv.Null {
		return "NULL"
	}
	return kv.Value
}

// ------------------------------------------------------------------------------------------
// QueryBuilder assembles SELECT <cols> FROM [<schema>.]<table> [WHERE ..] [ORDER BY ..] [LIMIT ..].
// Every WHERE term is parenthesised and the terms are joined with AND.
type QueryBuilder struct {
	columns string
	schema  string
	table   string
	where   []string
	orderBy string
	limit   string
}

func (q *QueryBuilder) SelectColumns(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

func (q *QueryBuilder) FromTable(table, schema string) *QueryBuilder {
	q.table = table
	q.schema = schema
	return q
}

func (q *QueryBuilder) AddWhere(cond string) *QueryBuilder {
	if cond != "" {
		q.where = append(q.where, cond)
	}
	return q
}

func (q *QueryBuilder) AddOrderBy(orderBy string) *QueryBuilder {
	q.orderBy = orderBy
	return q
}

func (q *QueryBuilder) AddLimit(n int64) *QueryBuilder {
	q.limit = fmt.Sprintf("%d", n)
	return q
}

func (q *QueryBuilder) Build() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(q.columns)
	sb.WriteString(" FROM ")
	if q.schema != "" {
		sb.WriteString(q.schema)
		sb.WriteByte('.')
	}
	sb.WriteString(q.table)
	for i, w := range q.where {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteByte('(')
		sb.WriteString(w)
		sb.WriteByte(')')
	}
	if q.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.orderBy)
	}
	if q.limit != "" {
		sb.WriteString(" LIMIT ")
		sb.WriteString(q.limit)
	}
	return sb.String()
}

// ------------------------------------------------------------------------------------------
// ResumeCondition builds the lexicographic "greater than last" predicate:
//
//	c1 > v1 or (c1 = v1 and c2 > v2) or (c1 = v1 and c2 = v2 and c3 > v3) ...
//
// NULL sorts before every value: a NULL last value turns "c > v" into
// "c IS NOT NULL" and "c = v" into "c IS NULL".
func ResumeCondition(pk []string, last []KeyValue) string {
	n := len(pk)
	if len(last) < n {
		n = len(last)
	}
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(" or (")
			for j := 0; j < i; j++ {
				if j > 0 {
					sb.WriteString(" and ")
				}
				sb.WriteString(equalTerm(pk[j], last[j]))
			}
			sb.WriteString(" and ")
		}
		sb.WriteString(greaterTerm(pk[i], last[i]))
		if i > 0 {
			sb.WriteByte(')')
		}
	}
	return sb.String()
}

func equalTerm(col string, kv KeyValue) string {
	if kv.Null {
		return col + " IS NULL"
	}
	return col + " = " + sqlquote.Literal(kv.Value)
}

func greaterTerm(col string, kv KeyValue) string {
	if kv.Null {
		return col + " IS NOT NULL"
	}
	return col + " > " + sqlquote.Literal(kv.Value)
}

// RangeTerms returns the bounds of a CopyRange spec.
func RangeTerms(spec CopySpec) []string {
	terms := []string{fmt.Sprintf("%s >= %d", spec.RangeKey, spec.RangeStart)}
	if spec.RangeEnd >= 0 {
		terms = append(terms, fmt.Sprintf("%s <= %d", spec.RangeKey, spec.RangeEnd))
	}
	return terms
}

// WhereTerms lists the conditions of spec, resume first.
func WhereTerms(spec CopySpec, pk []string, last []KeyValue) []string {
	var terms []string
	if spec.Resume && len(last) > 0 {
		terms = append(terms, ResumeCondition(pk, last))
	}
	switch spec.Kind {
	case CopyRange:
		terms = append(terms, RangeTerms(spec)...)
	case CopyWhere:
		if spec.Where != "" {
			terms = append(terms, spec.Where)
		}
	}
	return terms
}

// SelectLimit returns the LIMIT of the select query. A row count spec always
// has one, even 0; ok is false when the query is unbounded.
func SelectLimit(spec CopySpec) (limit int64, ok bool) {
	if spec.Kind == CopyCount {
		limit, ok = spec.RowCount, true
	}
	if spec.MaxCount > 0 && (!ok || spec.MaxCount < limit) {
		limit, ok = spec.MaxCount, true
	}
	return limit, ok
}

// CapCount bounds a row count by the policy limits.
func CapCount(spec CopySpec, n int64) int64 {
	switch spec.Kind {
	case CopyAll, CopyWhere:
		if spec.MaxCount > 0 && spec.MaxCount < n {
			return spec.MaxCount
		}
	case CopyCount:
		if spec.RowCount >= 0 && spec.RowCount < n {
			n = spec.RowCount
		}
		if spec.MaxCount > 0 && spec.MaxCount < n {
			n = spec.MaxCount
		}
	}
	return n
}

// SelectQuery builds the row query shared by every source. withLimit is false
// for dialects without LIMIT; the copy loop stops at the limit itself.
func SelectQuery(schema, table, selectExpr string, pk []string, spec CopySpec, last []KeyValue, withLimit bool) string {
	if selectExpr == "" {
		selectExpr = "*"
	}
	q := &QueryBuilder{}
	q.SelectColumns(selectExpr).FromTable(table, schema)
	for _, t := range WhereTerms(spec, pk, last) {
		q.AddWhere(t)
	}
	if len(pk) > 0 {
		q.AddOrderBy(strings.Join(pk, ", "))
	}
	if withLimit {
		if limit, ok := SelectLimit(spec); ok {
			q.AddLimit(limit)
		}
	}
	return q.Build()
}

// CountQuery builds the COUNT query over the same rows. countFn is "count"
// or "count_big".
func CountQuery(countFn, schema, table string, pk []string, spec CopySpec, last []KeyValue) string {
	q := &QueryBuilder{}
	q.SelectColumns(countFn + "(*)").FromTable(table, schema)
	for _, t := range WhereTerms(spec, pk, last) {
		q.AddWhere(t)
	}
	return q.Build()
}
