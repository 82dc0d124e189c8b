package target

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"copytable/internal/copyerr"
	"copytable/internal/sqlquote"
)

const triggerBackupTable = "wb_tmp_triggers"

// serverErrno returns the MySQL error number carried by err, 0 if none.
func serverErrno(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

func backupTable(schema string) string {
	return sqlquote.Table(schema, triggerBackupTable)
}

// triggerNames lists the triggers of schema, sorted.
func (t *MySQLTarget) triggerNames(ctx context.Context, schema string) ([]string, error) {
	q := "SHOW TRIGGERS FROM " + sqlquote.Ident(schema)
	t.log.Debug("Retrieving trigger list", zap.String("query", q))
	rows, err := t.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, copyerr.Connection(err, "Querying Trigger List")
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, copyerr.Connection(err, "Getting Trigger List")
	}

	var names []string
	raw := make([]sql.RawBytes, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, copyerr.Connection(err, "Getting Trigger List")
		}
		names = append(names, string(raw[0]))
	}
	if err := rows.Err(); err != nil {
		return nil, copyerr.Connection(err, "Getting Trigger List")
	}
	sort.Strings(names)
	return names, nil
}

// triggerDefinition returns the CREATE TRIGGER statement of one trigger.
func (t *MySQLTarget) triggerDefinition(ctx context.Context, schema, name string) (string, error) {
	q := "SHOW CREATE TRIGGER " + sqlquote.Table(schema, name)
	t.log.Debug("Retrieving trigger definition", zap.String("trigger", name))
	rows, err := t.conn.QueryContext(ctx, q)
	if err != nil {
		return "", copyerr.Connection(err, "Retrieving trigger definition for %s", name)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil || len(cols) < 3 {
		return "", copyerr.Connection(err, "Retrieving trigger definition for %s", name)
	}
	raw := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if !rows.Next() {
		return "", copyerr.Connection(rows.Err(), "Retrieving trigger definition for %s", name)
	}
	if err := rows.Scan(ptrs...); err != nil {
		return "", copyerr.Connection(err, "Retrieving trigger definition for %s", name)
	}
	return raw[2].String, nil
}

// BackupTriggers saves then drops the triggers of every schema.
func (t *MySQLTarget) BackupTriggers(ctx context.Context, schemas []string) error {
	for _, schema := range schemas {
		if err := t.backupTriggersForSchema(ctx, sqlquote.Unquote(schema)); err != nil {
			return err
		}
	}
	return nil
}

func (t *MySQLTarget) backupTriggersForSchema(ctx context.Context, schema string) error {
	names, err := t.triggerNames(ctx, schema)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	t.log.Info(fmt.Sprintf("Disabling triggers for schema '%s'...", schema))

	createdTable := false
	create := "CREATE TABLE " + backupTable(schema) +
		" (`trigger_name` VARCHAR(100) NOT NULL, `trigger_sql` MEDIUMTEXT, PRIMARY KEY (`trigger_name`))"
	t.log.Debug("Creating temporary trigger table", zap.String("query", create))
	if _, err := t.conn.ExecContext(ctx, create); err != nil {
		if serverErrno(err) != gomysql.ER_TABLE_EXISTS_ERROR {
			return copyerr.Connection(err, "Unable to create trigger backup table")
		}
		t.log.Info(fmt.Sprintf("The trigger backup table already existed on %s", schema))
	} else {
		createdTable = true
	}

	// a partial backup made in this run is thrown away
	abandon := func(cause error, op string) error {
		if createdTable {
			t.dropTriggerBackups(ctx, schema)
		}
		return copyerr.Connection(cause, "%s", op)
	}

	definitions := make([]string, len(names))
	for i, name := range names {
		def, err := t.triggerDefinition(ctx, schema, name)
		if err != nil {
			if createdTable {
				t.dropTriggerBackups(ctx, schema)
			}
			return err
		}
		definitions[i] = def
	}

	for i, name := range names {
		if definitions[i] == "" {
			continue
		}
		t.log.Debug("Backing up trigger definition", zap.String("trigger", name))
		insert := "INSERT INTO " + backupTable(schema) + " VALUES (" +
			sqlquote.Literal(name) + "," + sqlquote.Literal(definitions[i]) + ")"
		if _, err := t.conn.ExecContext(ctx, insert); err != nil {
			if serverErrno(err) != gomysql.ER_DUP_ENTRY {
				return abandon(err, "Backing Up Trigger")
			}
			t.log.Info(fmt.Sprintf("The trigger %s was already in the backup", name))
		}
	}

	for _, name := range names {
		t.log.Debug("Dropping trigger", zap.String("trigger", name))
		if _, err := t.conn.ExecContext(ctx, "DROP TRIGGER "+sqlquote.Table(schema, name)); err != nil {
			// the definitions are saved, keep them for a later restore
			return &copyerr.TriggerRestoreRequiredError{Schema: schema, Trigger: name, Cause: err}
		}
	}
	t.log.Info(fmt.Sprintf("Successfully backed up %d triggers.", len(names)))
	return nil
}

func (t *MySQLTarget) dropTriggerBackups(ctx context.Context, schema string) {
	if _, err := t.conn.ExecContext(ctx, "DROP TABLE "+backupTable(schema)); err != nil {
		t.log.Error("Could not drop trigger backup table", zap.String("schema", schema), zap.Error(err))
	}
}

// RestoreTriggers replays the saved triggers of every schema and removes the
// backup tables.
func (t *MySQLTarget) RestoreTriggers(ctx context.Context, schemas []string) error {
	for _, schema := range schemas {
		if err := t.restoreTriggersForSchema(ctx, sqlquote.Unquote(schema)); err != nil {
			return err
		}
	}
	return nil
}

func (t *MySQLTarget) restoreTriggersForSchema(ctx context.Context, schema string) error {
	t.log.Info(fmt.Sprintf("Re-enabling triggers for schema '%s'", schema))

	rows, err := t.conn.QueryContext(ctx, "SELECT * FROM "+backupTable(schema))
	if err != nil {
		if serverErrno(err) == gomysql.ER_NO_SUCH_TABLE {
			t.log.Info(fmt.Sprintf("No triggers found for '%s'", schema))
			return nil
		}
		return copyerr.Connection(err, "Querying Trigger Definitions")
	}
	var names, definitions []string
	for rows.Next() {
		var name string
		var def sql.NullString
		if err := rows.Scan(&name, &def); err != nil {
			rows.Close()
			return copyerr.Connection(err, "Getting Trigger Definitions")
		}
		names = append(names, name)
		definitions = append(definitions, def.String)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return copyerr.Connection(rowsErr, "Getting Trigger Definitions")
	}

	if _, err := t.conn.ExecContext(ctx, "USE "+sqlquote.Ident(schema)); err != nil {
		return copyerr.Connection(err, "Selecting Database")
	}
	restored := 0
	for i, def := range definitions {
		t.log.Debug("Restoring trigger", zap.String("trigger", names[i]))
		if _, err := t.conn.ExecContext(ctx, def); err != nil {
			switch serverErrno(err) {
			case gomysql.ER_NOT_SUPPORTED_YET, gomysql.ER_TRG_ALREADY_EXISTS:
				t.log.Info(fmt.Sprintf("Trigger %s already existed, skipping...", names[i]))
				continue
			}
			return copyerr.Connection(err, "Restoring trigger")
		}
		restored++
	}

	t.dropTriggerBackups(ctx, schema)
	t.log.Info(fmt.Sprintf("Trigger Restore: %d succeeded, %d failed", restored, len(definitions)-restored))
	return nil
}
