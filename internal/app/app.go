package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"copytable/internal/config"
	"copytable/internal/copyspec"
	"copytable/internal/copytask"
	"copytable/internal/source"
	"copytable/internal/target"
	"copytable/internal/tunnel"
)

// connection factories, replaced in tests
var (
	dialTarget = target.Connect
	openTunnel = tunnel.Open
)

// session holds what the modes share: resolved endpoints, passwords and the
// tunnels in front of them.
type session struct {
	opts *Options
	log  *zap.Logger

	sourceEP       *config.Endpoint
	targetEP       *config.Endpoint
	sourcePassword string
	targetPassword string
	charset        string

	tunnels []*tunnel.Tunnel
}

// Run executes the mode selected by opts and prints the status protocol on
// out. Failures of single table copies are reported on out and do not make
// Run fail.
func Run(ctx context.Context, opts *Options, out io.Writer, log *zap.Logger) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	s := &session{opts: opts, log: log.With(zap.String("run", uuid.NewString()))}
	defer s.closeTunnels()
	if err := s.resolve(); err != nil {
		return err
	}
	if err := s.openTunnels(ctx); err != nil {
		return err
	}

	reporter := copytask.NewReporter(out, opts.Progress, opts.BarOutput)
	queue := copytask.NewTaskQueue(opts.Jobs...)
	var err error
	switch {
	case opts.CountOnly:
		err = s.countRows(ctx, queue, reporter)
	case len(opts.DisableTriggersOn) > 0:
		err = s.triggers(ctx, schemaSet(opts.DisableTriggersOn), true)
	case len(opts.ReenableTriggersOn) > 0:
		err = s.triggers(ctx, schemaSet(opts.ReenableTriggersOn), false)
	default:
		err = s.copyTables(ctx, queue, reporter)
	}
	if err != nil {
		return err
	}
	reporter.Finished()
	return nil
}

// schemaSet sorts and dedups the schemas given on the command line.
func schemaSet(schemas []string) []string {
	seen := make(map[string]struct{}, len(schemas))
	var out []string
	for _, s := range schemas {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ------------------------------------------------------------------------------------------
// resolve parses the MySQL descriptors the mode needs and settles passwords
// and charset.
func (s *session) resolve() error {
	o := s.opts
	s.sourcePassword = o.SourcePassword
	s.targetPassword = o.TargetPassword

	if o.SourceKind == SourceMySQL && !o.triggerMode() {
		ep, err := config.ParseMySQLDescriptor(o.SourceConn, "source")
		if err != nil {
			return err
		}
		s.sourceEP = ep
		if s.sourcePassword == "" && ep.HasPassword {
			s.sourcePassword = ep.Password
		}
	}
	if o.needsTarget() {
		ep, err := config.ParseMySQLDescriptor(o.TargetConn, "target")
		if err != nil {
			return err
		}
		s.targetEP = ep
		if s.targetPassword == "" && ep.HasPassword {
			s.targetPassword = ep.Password
		}
	}

	if o.PasswordsFromKeyring {
		if s.sourcePassword == "" && o.SourceConn != "" && !o.triggerMode() {
			pw, err := config.KeyringPassword(o.SourceConn)
			if err != nil {
				return err
			}
			s.sourcePassword = pw
		}
		if s.targetPassword == "" && s.targetEP != nil {
			pw, err := config.KeyringPassword(o.TargetConn)
			if err != nil {
				return err
			}
			s.targetPassword = pw
		}
	}

	if o.SourceCharset != "" {
		cs, err := config.MySQLCharset(o.SourceCharset)
		if err != nil {
			return err
		}
		s.charset = cs
	}
	return nil
}

func (s *session) openTunnels(ctx context.Context) error {
	open := func(ep *config.Endpoint, ssh SSHOptions, side string) error {
		if ep == nil || ssh.Host == "" {
			return nil
		}
		if ep.Socket != "" {
			return errors.Newf("Cannot tunnel the %s socket connection %s over SSH", side, ep.Socket)
		}
		t, err := openTunnel(ctx, ssh.config(s.opts.KnownHostsFile), ep.Addr(), s.log.With(zap.String("side", side)))
		if err != nil {
			return errors.Wrapf(err, "opening SSH tunnel for %s database", side)
		}
		s.tunnels = append(s.tunnels, t)
		ep.Redirect(t.LocalPort())
		return nil
	}
	if err := open(s.sourceEP, s.opts.SourceSSH, "source"); err != nil {
		return err
	}
	return open(s.targetEP, s.opts.TargetSSH, "target")
}

func (s *session) closeTunnels() {
	for _, t := range s.tunnels {
		t.Close()
	}
	s.tunnels = nil
}

// connectContext bounds connection set-up by timeout, when one is given.
func connectContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *session) targetOptions() target.Options {
	batch := s.opts.BulkInsertBatch
	if s.opts.MaxCount > 0 {
		batch = int(s.opts.MaxCount)
	}
	return target.Options{
		IncomingCharset:    s.charset,
		Truncate:           s.opts.Truncate,
		BulkInsertBatch:    batch,
		DisableBulkInserts: s.opts.NoBulkInserts,
	}
}

func (s *session) connectTarget(ctx context.Context) (*target.MySQLTarget, error) {
	cctx, cancel := connectContext(ctx, s.opts.TargetTimeout)
	defer cancel()
	cfg := s.targetEP.MySQLConfig(s.targetPassword, s.opts.TargetTimeout, s.opts.TargetCleartext)
	return dialTarget(cctx, cfg, s.targetOptions(), s.log)
}

func (s *session) openSource(ctx context.Context) (source.Source, error) {
	cctx, cancel := connectContext(ctx, s.opts.SourceTimeout)
	defer cancel()
	switch s.opts.SourceKind {
	case SourceMySQL:
		cfg := s.sourceEP.MySQLConfig(s.sourcePassword, s.opts.SourceTimeout, s.opts.SourceCleartext)
		src, err := source.NewMySQLSource(cctx, cfg, s.log)
		if err != nil {
			return nil, err
		}
		return src, nil
	case SourceODBC:
		src, err := source.NewODBCSource(cctx, source.ODBCOptions{
			ConnString: s.opts.SourceConn,
			Password:   s.sourcePassword,
			ForceUTF8:  s.opts.ForceUTF8Source,
			RDBMSType:  s.opts.SourceRDBMSType,
		}, s.log)
		if err != nil {
			return nil, err
		}
		return src, nil
	case SourceDriverAPI:
		src, err := source.NewDriverAPISource(cctx, s.opts.SourceConn, s.sourcePassword, s.log)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, errors.Newf("unknown source type %s", s.opts.SourceKind)
}

// ------------------------------------------------------------------------------------------
// countRows prints one ROW_COUNT line per job. The target is only connected
// for the first resumed job.
func (s *session) countRows(ctx context.Context, queue *copytask.TaskQueue, reporter *copytask.Reporter) error {
	src, err := s.openSource(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	var tgt *target.MySQLTarget
	defer func() {
		if tgt != nil {
			tgt.Close()
		}
	}()

	for job, ok := queue.Get(); ok; job, ok = queue.Get() {
		var last []copyspec.KeyValue
		if job.Spec.Resume {
			if tgt == nil {
				if tgt, err = s.connectTarget(ctx); err != nil {
					return err
				}
			}
			if last, err = tgt.GetLastPKeys(ctx, job.TargetPK, job.TargetSchema, job.TargetTable); err != nil {
				return err
			}
		}
		n, err := src.CountRows(ctx, job.SourceSchema, job.SourceTable, job.SourcePK, job.Spec, last)
		if err != nil {
			return err
		}
		reporter.RowCount(job.SourceSchema, job.SourceTable, n)
	}
	return nil
}

// triggers backs up and drops, or restores, the triggers of schemas.
func (s *session) triggers(ctx context.Context, schemas []string, disable bool) error {
	tgt, err := s.connectTarget(ctx)
	if err != nil {
		return err
	}
	defer tgt.Close()
	if disable {
		return tgt.BackupTriggers(ctx, schemas)
	}
	return tgt.RestoreTriggers(ctx, schemas)
}

// copyTables suspends the triggers of the target schemas, runs the workers
// and puts the triggers back.
func (s *session) copyTables(ctx context.Context, queue *copytask.TaskQueue, reporter *copytask.Reporter) error {
	o := s.opts
	schemas := queue.TargetSchemas()

	var trg *target.MySQLTarget
	if !o.DontDisableTriggers {
		var err error
		if trg, err = s.connectTarget(ctx); err != nil {
			return err
		}
		defer trg.Close()
		if err := trg.BackupTriggers(ctx, schemas); err != nil {
			return err
		}
	}

	err := s.runWorkers(ctx, queue, reporter)
	if trg != nil {
		if restoreErr := trg.RestoreTriggers(ctx, schemas); restoreErr != nil {
			if err != nil {
				return errors.CombineErrors(err, restoreErr)
			}
			return restoreErr
		}
	}
	return err
}

func (s *session) runWorkers(ctx context.Context, queue *copytask.TaskQueue, reporter *copytask.Reporter) error {
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	workers := make([]*copytask.Worker, 0, s.opts.ThreadCount)
	for i := 0; i < s.opts.ThreadCount; i++ {
		src, err := s.openSource(ctx)
		if err != nil {
			return err
		}
		closers = append(closers, src)
		tgt, err := s.connectTarget(ctx)
		if err != nil {
			return err
		}
		closers = append(closers, tgt)

		src.SetLimits(source.Limits{
			MaxBlobChunkSize:      int(tgt.MaxAllowedPacket()),
			MaxParameterSize:      tgt.MaxLongDataSize(),
			AbortOnOversizedBlobs: s.opts.AbortOnOversizedBlobs,
		})
		workers = append(workers, copytask.NewWorker(fmt.Sprintf("Task %d", i+1), src, tgt, queue, reporter, s.log))
	}
	s.log.Info("Starting copy", zap.Int("workers", len(workers)), zap.Int("tables", queue.Len()))
	return copytask.RunPool(ctx, workers)
}
