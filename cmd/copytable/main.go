// Command copytable copies tables from a MySQL, ODBC or driver-API source
// into a MySQL server and prints machine readable status lines on stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"copytable/internal/app"
	"copytable/internal/config"
	"copytable/internal/logutil"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run is main without the process exit, it returns the exit status.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fail := func(err error) int {
		fmt.Fprintf(stderr, "copytable: %v\n", err)
		return 1
	}

	settings, err := config.LoadSettings(config.FlagValue(args, "defaults-file"), config.FlagValue(args, "env-file"))
	if err != nil {
		return fail(err)
	}
	cli, err := parseArgs(args, settings, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return fail(err)
	}
	if cli.showVersion {
		fmt.Fprintf(stdout, "copytable %s\n", version)
		return 0
	}
	if !logutil.ValidLevel(cli.log.Level) {
		return fail(errors.Newf("invalid argument '%s' for option --log-level", cli.log.Level))
	}
	log, err := logutil.NewLogger(cli.log)
	if err != nil {
		return fail(err)
	}
	defer log.Sync()

	// ----------------------------------------------------------------------------------
	if err := cli.run.Validate(); err != nil {
		if errors.Is(err, app.ErrNoJobs) {
			log.Warn(err.Error())
			return 0
		}
		return fail(err)
	}
	if cli.fromStdin {
		if err := cli.stdinPasswords(stdin); err != nil {
			log.Error("Reading passwords failed", zap.Error(err))
			return fail(err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx, &cli.run, stdout, log); err != nil {
		log.Error("Copy aborted", zap.Error(err))
		return fail(err)
	}
	return 0
}
