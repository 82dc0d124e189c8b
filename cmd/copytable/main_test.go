package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytable/internal/app"
	"copytable/internal/config"
	"copytable/internal/copyspec"
	"copytable/internal/logutil"
)

func defaultSettings() *config.Settings {
	return &config.Settings{
		Log:             logutil.LogConfig{Level: "info", Format: "console"},
		ThreadCount:     1,
		BulkInsertBatch: 100,
		SourceTimeout:   60 * time.Second,
		TargetTimeout:   60 * time.Second,
	}
}

func TestArrayFlags(t *testing.T) {
	var a arrayFlags
	assert.Equal(t, "", a.String())
	require.NoError(t, a.Set("shop"))
	require.NoError(t, a.Set("crm"))
	assert.Equal(t, "shop crm", a.String())
}

func TestBoolFlag(t *testing.T) {
	args := []string{"--target", "x", "--count-only", "--resume=false"}
	assert.True(t, boolFlag(args, "count-only"))
	assert.False(t, boolFlag(args, "resume"))
	assert.True(t, boolFlag([]string{"-resume=1"}, "resume"))
	assert.False(t, boolFlag(args, "progress"))
}

func TestExtractTableSpecs(t *testing.T) {
	args := []string{"--progress",
		"--table", "src", "items", "dst", "items", "id", "id", "*",
		"--table-where", "src", "orders", "dst", "orders", "-", "-", "id, total", "total > 10",
		"--thread-count=2"}
	specs, rest, err := extractTableSpecs(args, config.JobDefaults{})
	require.NoError(t, err)
	assert.Equal(t, []string{"--progress", "--thread-count=2"}, rest)
	require.Len(t, specs, 2)
	assert.Equal(t, config.SpecTable, specs[0].kind)
	assert.Equal(t, []string{"src", "items", "dst", "items", "id", "id", "*"}, specs[0].values)
	assert.Equal(t, config.SpecWhere, specs[1].kind)
	assert.Equal(t, "total > 10", specs[1].values[7])

	specs, rest, err = extractTableSpecs([]string{"--count-only", "--table-row-count", "src", "items", "5"},
		config.JobDefaults{CountOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"--count-only"}, rest)
	assert.Equal(t, []string{"src", "items", "5"}, specs[0].values)

	_, _, err = extractTableSpecs([]string{"--table", "src", "items", "dst"}, config.JobDefaults{})
	assert.EqualError(t, err, "Missing value for table copy specification")
}

func TestParseArgs(t *testing.T) {
	args := []string{
		"--mysql-source=\"root@db1:3306\"", "--target", "copier@db2",
		"--source-timeout=5", "--thread-count", "4", "--max-count=10", "--resume",
		"--disable-triggers-on=shop", "--disable-triggers-on", "crm",
		"--target-ssh-host=bastion", "--target-ssh-user=ops", "--log-level=debug2",
		"--table-range", "src", "items", "dst", "items", "id", "id", "*", "id", "1", "100",
	}
	cli, err := parseArgs(args, defaultSettings(), &bytes.Buffer{})
	require.NoError(t, err)

	o := cli.run
	assert.Equal(t, app.SourceMySQL, o.SourceKind)
	assert.Equal(t, "root@db1:3306", o.SourceConn)
	assert.Equal(t, "copier@db2", o.TargetConn)
	assert.Equal(t, 5*time.Second, o.SourceTimeout)
	assert.Equal(t, 60*time.Second, o.TargetTimeout)
	assert.Equal(t, 4, o.ThreadCount)
	assert.Equal(t, 100, o.BulkInsertBatch)
	assert.Equal(t, []string{"shop", "crm"}, o.DisableTriggersOn)
	assert.Equal(t, app.SSHOptions{Host: "bastion", Port: 22, User: "ops"}, o.TargetSSH)
	assert.Equal(t, "debug2", cli.log.Level)
	assert.Nil(t, o.BarOutput)

	require.Len(t, o.Jobs, 1)
	spec := o.Jobs[0].Spec
	assert.Equal(t, copyspec.CopyRange, spec.Kind)
	assert.Equal(t, int64(1), spec.RangeStart)
	assert.Equal(t, int64(100), spec.RangeEnd)
	assert.True(t, spec.Resume)
	assert.Equal(t, int64(10), spec.MaxCount)
}

func TestParseArgsRejects(t *testing.T) {
	_, err := parseArgs([]string{"--mysql-source=a@b", "--odbc-source=DSN=x"}, defaultSettings(), &bytes.Buffer{})
	require.Error(t, err)

	_, err = parseArgs([]string{"--target=a@b", "stray"}, defaultSettings(), &bytes.Buffer{})
	assert.EqualError(t, err, "Invalid option stray")

	_, err = parseArgs([]string{"--table-row-count", "s", "t", "d", "t", "-", "-", "*", "many"}, defaultSettings(), &bytes.Buffer{})
	assert.EqualError(t, err, "Invalid row count 'many'")
}

func TestParseArgsTableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.txt")
	require.NoError(t, os.WriteFile(path, []byte("src\titems\n\nsrc\torders\n"), 0o644))

	cli, err := parseArgs([]string{"--driverapi-source=sqlite3:///tmp/x.db", "--count-only", "--table-file", path},
		defaultSettings(), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, app.SourceDriverAPI, cli.run.SourceKind)
	require.Len(t, cli.run.Jobs, 2)
	assert.Equal(t, "orders", cli.run.Jobs[1].SourceTable)
}

func TestStdinPasswords(t *testing.T) {
	cli := &cliOptions{run: app.Options{SourcePassword: "flag", TargetPassword: "flag"}}
	require.NoError(t, cli.stdinPasswords(strings.NewReader("s3cret\tt0p\n")))
	assert.Equal(t, "s3cret", cli.run.SourcePassword)
	assert.Equal(t, "t0p", cli.run.TargetPassword)

	cli = &cliOptions{run: app.Options{ReenableTriggersOn: []string{"shop"}}}
	require.NoError(t, cli.stdinPasswords(strings.NewReader("only\n")))
	assert.Equal(t, "", cli.run.SourcePassword)
	assert.Equal(t, "only", cli.run.TargetPassword)
}

func TestRunExitCodes(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"--version"}, nil, &out, &errOut))
	assert.Equal(t, "copytable dev\n", out.String())

	out.Reset()
	assert.Equal(t, 1, run([]string{"--log-level=loud"}, nil, &out, &errOut))
	assert.Contains(t, errOut.String(), "invalid argument 'loud' for option --log-level")

	errOut.Reset()
	assert.Equal(t, 1, run([]string{"--log-level=none", "--target=root@db2"}, nil, &out, &errOut))
	assert.Contains(t, errOut.String(), "Missing source DB server")

	errOut.Reset()
	assert.Equal(t, 0, run([]string{"--log-level=none", "--mysql-source=root@db1", "--target=root@db2"}, nil, &out, &errOut))
	assert.Empty(t, out.String())

	assert.Equal(t, 1, run([]string{"--table", "s"}, nil, &out, &errOut))
	assert.Contains(t, errOut.String(), "Missing value for table copy specification")
}
