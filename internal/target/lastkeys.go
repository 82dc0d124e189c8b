package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"copytable/internal/copyerr"
	"copytable/internal/copyspec"
	"copytable/internal/sqlquote"
)

// GetLastPKeys reads the greatest primary key tuple already copied into
// schema.table. An empty table gives no keys.
func (t *MySQLTarget) GetLastPKeys(ctx context.Context, pk []string, schema, table string) ([]copyspec.KeyValue, error) {
	if len(pk) == 0 {
		return nil, copyerr.Logic("Get last copied row: Cannot get last copied record from table with no PK.")
	}
	order := make([]string, len(pk))
	for i, c := range pk {
		order[i] = sqlquote.Ident(c) + " DESC"
	}
	q := "SELECT " + sqlquote.IdentList(pk) + " FROM " + sqlquote.Table(schema, table) +
		" ORDER BY " + strings.Join(order, ", ") + " LIMIT 0,1"

	values := make([]sql.NullString, len(pk))
	ptrs := make([]any, len(pk))
	for i := range values {
		ptrs[i] = &values[i]
	}
	err := t.conn.QueryRowContext(ctx, q).Scan(ptrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, copyerr.Connection(err, "Get last copied row")
	}

	keys := make([]copyspec.KeyValue, len(pk))
	desc := make([]string, len(pk))
	for i, v := range values {
		keys[i] = copyspec.KeyValue{Value: v.String, Null: !v.Valid}
		desc[i] = sqlquote.Unquote(pk[i]) + ": " + keys[i].String()
	}
	t.log.Info(fmt.Sprintf("Resuming copy of table %s.%s. Starting on record with keys: %s",
		schema, table, strings.Join(desc, ", ")))
	return keys, nil
}
