package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"copytable/internal/app"
	"copytable/internal/config"
	"copytable/internal/logutil"
)

// ------------------------------------------------------------------------------------------
type arrayFlags []string

func (i *arrayFlags) String() string {
	if i == nil {
		return ""
	}
	return strings.Join(*i, " ")
}

func (i *arrayFlags) Set(value string) error {
	*i = append(*i, value)
	return nil
}

// ------------------------------------------------------------------------------------------
// tableSpec is one --table* option and the values that followed it.
type tableSpec struct {
	kind   string
	values []string
}

var specKinds = []string{config.SpecTable, config.SpecRange, config.SpecRowCount, config.SpecWhere}

func specKind(arg string) (string, bool) {
	name := strings.TrimLeft(arg, "-")
	if name == arg || len(arg)-len(name) > 2 {
		return "", false
	}
	for _, k := range specKinds {
		if name == k {
			return k, true
		}
	}
	return "", false
}

// boolFlag reports whether --name (or --name=true) is on the command line.
func boolFlag(args []string, name string) bool {
	set := false
	for _, a := range args {
		switch {
		case a == "--"+name || a == "-"+name:
			set = true
		case strings.HasPrefix(a, "--"+name+"=") || strings.HasPrefix(a, "-"+name+"="):
			v, err := strconv.ParseBool(a[strings.IndexByte(a, '=')+1:])
			set = err == nil && v
		}
	}
	return set
}

// jobDefaults reads the options that shape table specs before flag parsing.
func jobDefaults(args []string) (config.JobDefaults, error) {
	d := config.JobDefaults{
		CountOnly: boolFlag(args, "count-only"),
		Resume:    boolFlag(args, "resume"),
	}
	if v := config.FlagValue(args, "max-count"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return d, errors.Newf("invalid argument '%s' for option --max-count", v)
		}
		d.MaxCount = n
	}
	return d, nil
}

// extractTableSpecs pulls the multi valued table options out of args, which
// the flag package cannot parse, and returns the remaining arguments.
func extractTableSpecs(args []string, d config.JobDefaults) ([]tableSpec, []string, error) {
	var specs []tableSpec
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		kind, ok := specKind(args[i])
		if !ok {
			rest = append(rest, args[i])
			continue
		}
		n, _ := config.SpecArity(kind, d)
		if i+n >= len(args) {
			return nil, nil, errors.New("Missing value for table copy specification")
		}
		specs = append(specs, tableSpec{kind: kind, values: args[i+1 : i+1+n]})
		i += n
	}
	return specs, rest, nil
}

// ------------------------------------------------------------------------------------------
// cliOptions are the parsed command line.
type cliOptions struct {
	run         app.Options
	log         logutil.LogConfig
	fromStdin   bool
	showVersion bool
}

func sshFlags(fs *flag.FlagSet, side string, o *app.SSHOptions) {
	fs.StringVar(&o.Host, side+"-ssh-host", "", "SSH host tunneling the "+side+" connection")
	fs.IntVar(&o.Port, side+"-ssh-port", 22, "SSH port")
	fs.StringVar(&o.User, side+"-ssh-user", "", "SSH user")
	fs.StringVar(&o.Password, side+"-ssh-password", "", "SSH password, or the passphrase of the key")
	fs.StringVar(&o.KeyFile, side+"-ssh-key", "", "path to the SSH private key")
}

// parseArgs parses argv (without the program name) on top of settings.
func parseArgs(args []string, settings *config.Settings, stderr io.Writer) (*cliOptions, error) {
	d, err := jobDefaults(args)
	if err != nil {
		return nil, err
	}
	specs, rest, err := extractTableSpecs(args, d)
	if err != nil {
		return nil, err
	}

	cli := &cliOptions{log: settings.Log}
	o := &cli.run
	fs := flag.NewFlagSet("copytable", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usageLine("copytable"))
		fs.PrintDefaults()
	}

	// ------------
	fs.StringVar(&cli.log.Level, "log-level", settings.Log.Level, "none, error, warning, info, debug1, debug2 or debug3")
	fs.StringVar(&cli.log.Filename, "log-file", settings.Log.Filename, "write logs to this rotated file instead of stderr")
	fs.StringVar(&cli.log.Format, "log-format", settings.Log.Format, "console or json")
	fs.String("defaults-file", "", "yaml, toml or json file with option defaults")
	fs.String("env-file", "", "environment file loaded before reading the environment (default .env)")
	fs.BoolVar(&cli.showVersion, "version", false, "print the version and exit")
	// ------------
	mysqlSource := fs.String("mysql-source", "", "source MySQL server, user[:pass]@host:port or user[:pass]@::socket")
	odbcSource := fs.String("odbc-source", "", "source ODBC connection string")
	driverSource := fs.String("driverapi-source", "", "source as module://params, module naming the database driver")
	fs.StringVar(&o.SourcePassword, "source-password", "", "source password")
	fs.StringVar(&o.SourceCharset, "source-charset", "", "character set of the source text")
	fs.StringVar(&o.SourceRDBMSType, "source-rdbms-type", "unknown", "source server family, e.g. Mssql")
	fs.BoolVar(&o.ForceUTF8Source, "force-utf8-for-source", false, "read wide source columns as UTF-8 text")
	fs.BoolVar(&o.SourceCleartext, "source-use-cleartext", false, "allow the cleartext authentication plugin on the source")
	sourceTimeout := fs.Int("source-timeout", int(settings.SourceTimeout/time.Second), "source connection timeout in seconds")
	sshFlags(fs, "source", &o.SourceSSH)
	// ------------
	fs.StringVar(&o.TargetConn, "target", "", "target MySQL server, user[:pass]@host:port or user[:pass]@::socket")
	fs.StringVar(&o.TargetPassword, "target-password", "", "target password")
	fs.BoolVar(&o.TargetCleartext, "target-use-cleartext", false, "allow the cleartext authentication plugin on the target")
	targetTimeout := fs.Int("target-timeout", int(settings.TargetTimeout/time.Second), "target connection timeout in seconds")
	sshFlags(fs, "target", &o.TargetSSH)
	fs.StringVar(&o.KnownHostsFile, "ssh-known-hosts-file", "", "known_hosts file checked for SSH host keys (default ~/.ssh/known_hosts)")
	// ------------
	fs.BoolVar(&cli.fromStdin, "passwords-from-stdin", false, "read source<TAB>target passwords from stdin")
	fs.BoolVar(&o.PasswordsFromKeyring, "passwords-from-keyring", false, "look missing passwords up in the system keyring")
	// ------------
	tableFile := fs.String("table-file", "", "tab separated table list, optionally zstd compressed")
	fs.BoolVar(&o.CountOnly, "count-only", false, "only print the row count of each source table")
	fs.BoolVar(&o.Resume, "resume", false, "continue after the last primary key found in the target")
	fs.Int64Var(&o.MaxCount, "max-count", 0, "copy at most this many rows per table")
	fs.BoolVar(&o.Truncate, "truncate-target", false, "truncate target tables before copying")
	fs.BoolVar(&o.AbortOnOversizedBlobs, "abort-on-oversized-blobs", false, "fail a table on a blob bigger than the server accepts")
	fs.BoolVar(&o.NoBulkInserts, "no-bulk-inserts", false, "insert rows one by one with a prepared statement")
	fs.IntVar(&o.ThreadCount, "thread-count", settings.ThreadCount, "number of tables copied in parallel")
	fs.IntVar(&o.BulkInsertBatch, "bulk-insert-batch-size", settings.BulkInsertBatch, "rows per INSERT statement")
	fs.BoolVar(&o.Progress, "progress", false, "print PROGRESS lines")
	progressBar := fs.Bool("progress-bar", false, "draw a progress bar per table on stderr")
	// ------------
	var disableOn, reenableOn arrayFlags
	fs.Var(&disableOn, "disable-triggers-on", "back up and drop the triggers of this schema, then exit")
	fs.Var(&reenableOn, "reenable-triggers-on", "restore the triggers of this schema, then exit")
	fs.BoolVar(&o.DontDisableTriggers, "dont-disable-triggers", false, "leave target triggers in place while copying")
	// ------------
	if err := fs.Parse(rest); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, errors.Newf("Invalid option %s", fs.Arg(0))
	}
	if cli.showVersion {
		return cli, nil
	}

	sources := 0
	for _, s := range []struct {
		conn string
		kind app.SourceKind
	}{{*mysqlSource, app.SourceMySQL}, {*odbcSource, app.SourceODBC}, {*driverSource, app.SourceDriverAPI}} {
		if s.conn != "" {
			sources++
			o.SourceKind = s.kind
			o.SourceConn = strings.Trim(s.conn, "\"")
		}
	}
	if sources > 1 {
		return nil, errors.New("Only one of --mysql-source, --odbc-source and --driverapi-source may be given")
	}
	o.TargetConn = strings.Trim(o.TargetConn, "\"")
	o.SourceTimeout = time.Duration(*sourceTimeout) * time.Second
	o.TargetTimeout = time.Duration(*targetTimeout) * time.Second
	o.DisableTriggersOn = disableOn
	o.ReenableTriggersOn = reenableOn
	if *progressBar {
		o.BarOutput = stderr
	}

	for _, s := range specs {
		job, err := config.ParseTableSpec(s.kind, s.values, d)
		if err != nil {
			return nil, err
		}
		o.Jobs = append(o.Jobs, job)
	}
	if *tableFile != "" {
		jobs, err := config.ReadTableFile(*tableFile, d)
		if err != nil {
			return nil, err
		}
		o.Jobs = append(o.Jobs, jobs...)
	}
	return cli, nil
}

// stdinPasswords reads the passwords line and lets it win over the flags.
func (cli *cliOptions) stdinPasswords(r io.Reader) error {
	o := &cli.run
	single := (o.CountOnly && !o.Resume) || len(o.DisableTriggersOn) > 0 || len(o.ReenableTriggersOn) > 0
	pw, err := config.ReadStdinPasswords(r, single, o.CountOnly)
	if err != nil {
		return err
	}
	if pw.Source != "" {
		o.SourcePassword = pw.Source
	}
	if pw.Target != "" {
		o.TargetPassword = pw.Target
	}
	return nil
}

func usageLine(prog string) string {
	return fmt.Sprintf("usage: %s [options] --table <source schema> <source table> <target schema> <target table>"+
		" <source pk> <target pk> <select expression>", prog)
}
