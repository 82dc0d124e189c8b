// Package app runs one invocation: it connects the sides a mode needs and
// dispatches to count-only, trigger maintenance or the copy itself.
package app

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"

	"copytable/internal/copytask"
	"copytable/internal/tunnel"
)

// SourceKind selects the source adapter.
type SourceKind int

const (
	SourceMySQL SourceKind = iota
	SourceODBC
	SourceDriverAPI
)

func (k SourceKind) String() string {
	switch k {
	case SourceMySQL:
		return "mysql"
	case SourceODBC:
		return "odbc"
	case SourceDriverAPI:
		return "driver-api"
	}
	return "unknown"
}

// SSHOptions open a tunnel in front of a MySQL endpoint when Host is set.
type SSHOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyFile  string
}

func (o SSHOptions) config(knownHosts string) tunnel.Config {
	return tunnel.Config{Host: o.Host, Port: o.Port, User: o.User, Password: o.Password,
		KeyFile: o.KeyFile, KnownHostsFile: knownHosts}
}

// Options is everything one run needs, already parsed.
type Options struct {
	SourceKind      SourceKind
	SourceConn      string
	SourcePassword  string
	SourceCharset   string
	SourceRDBMSType string
	ForceUTF8Source bool
	SourceCleartext bool
	SourceTimeout   time.Duration
	SourceSSH       SSHOptions

	TargetConn      string
	TargetPassword  string
	TargetCleartext bool
	TargetTimeout   time.Duration
	TargetSSH       SSHOptions

	KnownHostsFile string
	// PasswordsFromKeyring fills passwords still empty from the keyring.
	PasswordsFromKeyring bool

	Jobs []copytask.TableCopyJob

	CountOnly           bool
	Resume              bool
	DisableTriggersOn   []string
	ReenableTriggersOn  []string
	DontDisableTriggers bool

	ThreadCount           int
	BulkInsertBatch       int
	MaxCount              int64
	Truncate              bool
	AbortOnOversizedBlobs bool
	NoBulkInserts         bool

	Progress bool
	// BarOutput receives per table progress bars when set.
	BarOutput io.Writer
}

// ErrNoJobs is returned by Validate when there is nothing to copy.
var ErrNoJobs = errors.New("Missing table list specification")

func (o *Options) triggerMode() bool {
	return len(o.DisableTriggersOn) > 0 || len(o.ReenableTriggersOn) > 0
}

// needsTarget is false only for plain counting.
func (o *Options) needsTarget() bool {
	return !(o.CountOnly && !o.Resume)
}

// Validate checks the inputs a mode needs before anything connects.
func (o *Options) Validate() error {
	if o.SourceConn == "" && !o.triggerMode() {
		return errors.New("Missing source DB server")
	}
	if o.TargetConn == "" && o.needsTarget() {
		return errors.New("Missing target DB server")
	}
	if len(o.Jobs) == 0 && !o.triggerMode() {
		return ErrNoJobs
	}
	if len(o.DisableTriggersOn) > 0 && len(o.ReenableTriggersOn) > 0 {
		return errors.New("--disable-triggers-on and --reenable-triggers-on are mutually exclusive")
	}
	if o.CountOnly && o.triggerMode() {
		return errors.New("--count-only cannot be combined with --disable-triggers-on or --reenable-triggers-on")
	}
	if o.ThreadCount < 1 {
		o.ThreadCount = 1
	}
	if o.BulkInsertBatch < 1 {
		o.BulkInsertBatch = 100
	}
	return nil
}
