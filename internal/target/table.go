package target

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"copytable/internal/copyerr"
	"copytable/internal/rowbuf"
	"copytable/internal/sqlquote"
)

// targetColumn is one row of information_schema.COLUMNS.
type targetColumn struct {
	name      string
	fieldType rowbuf.FieldType
	unsigned  bool
	charLen   int64
	generated bool
}

func (t *MySQLTarget) targetColumns(ctx context.Context, schema, table string) ([]targetColumn, error) {
	q := "SELECT COLUMN_NAME, COLUMN_TYPE, COALESCE(CHARACTER_MAXIMUM_LENGTH, 0), EXTRA" +
		" FROM information_schema.COLUMNS" +
		" WHERE TABLE_SCHEMA = " + sqlquote.Literal(sqlquote.Unquote(schema)) +
		" AND TABLE_NAME = " + sqlquote.Literal(sqlquote.Unquote(table)) +
		" ORDER BY ORDINAL_POSITION"
	t.log.Debug("Executing query", zap.String("query", q))
	rows, err := t.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, copyerr.Connection(err, "Reading columns of %s.%s", schema, table)
	}
	defer rows.Close()

	var cols []targetColumn
	for rows.Next() {
		var c targetColumn
		var colType, extra string
		if err := rows.Scan(&c.name, &colType, &c.charLen, &extra); err != nil {
			return nil, copyerr.Connection(err, "Reading columns of %s.%s", schema, table)
		}
		ft, unsigned, ok := rowbuf.TypeFromName(colType)
		if !ok {
			return nil, copyerr.Logic("Unhandled MySQL type %s for column '%s'", colType, c.name)
		}
		c.fieldType, c.unsigned = ft, unsigned
		extra = strings.ToUpper(extra)
		c.generated = strings.Contains(extra, "VIRTUAL GENERATED") || strings.Contains(extra, "STORED GENERATED")
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, copyerr.Connection(err, "Reading columns of %s.%s", schema, table)
	}
	if len(cols) == 0 {
		return nil, copyerr.Logic("Table %s.%s does not exist in target DB", schema, table)
	}
	return cols, nil
}

// SetTargetTable binds the source columns to the target table, by position.
// Generated target columns are left out of the insert when the target is
// wider than the source. Lengths come from the target when lengthsFromTarget
// is set.
func (t *MySQLTarget) SetTargetTable(ctx context.Context, schema, table string, cols []rowbuf.ColumnInfo, lengthsFromTarget, sourceIsMySQL bool) error {
	t.schema, t.table = schema, table

	tcols, err := t.targetColumns(ctx, schema, table)
	if err != nil {
		return err
	}
	if len(tcols) != len(cols) {
		kept := tcols[:0:0]
		for _, c := range tcols {
			if c.generated {
				t.log.Debug("Skipping generated column", zap.String("column", c.name))
				continue
			}
			kept = append(kept, c)
		}
		tcols = kept
	}
	if len(tcols) != len(cols) {
		return copyerr.Logic("Table %s.%s has wrong number of columns in target DB (%d, expected %d)",
			schema, table, len(tcols), len(cols))
	}

	t.insertCols = t.insertCols[:0]
	for i := range cols {
		tc := &tcols[i]
		cols[i].TargetName = tc.name
		cols[i].TargetType = rowbuf.ParamType(tc.fieldType, sourceIsMySQL)
		cols[i].IsUnsigned = tc.unsigned
		if lengthsFromTarget {
			cols[i].SourceLength = tc.charLen
		}
		t.insertCols = append(t.insertCols, tc.name)
		t.log.Debug("Target column", zap.Int("pos", i+1), zap.String("name", tc.name),
			zap.Stringer("type", cols[i].TargetType), zap.Bool("unsigned", tc.unsigned))
	}

	if t.opts.Truncate {
		t.log.Info("Truncating table " + schema + "." + table)
		if err := t.exec(ctx, "TRUNCATE TABLE "+sqlquote.Table(schema, table)); err != nil {
			t.log.Warn("Could not truncate table", zap.String("table", schema+"."+table), zap.Error(err))
		}
	}
	return nil
}

// insertHead is "INSERT INTO s.t (c1, c2) VALUES ".
func (t *MySQLTarget) insertHead() string {
	return "INSERT INTO " + sqlquote.Table(t.schema, t.table) + " (" + sqlquote.IdentList(t.insertCols) + ") VALUES "
}
