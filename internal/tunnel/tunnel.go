// Package tunnel forwards a local TCP port to a database server through an
// SSH server, so the copy connections dial 127.0.0.1:<local port>.
package tunnel

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultSSHPort = 22
	defaultTimeout = 10 * time.Second
)

// Config describes the SSH server and how to log into it. KeyFile wins over
// Password; when both are set Password unlocks the key.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	KeyFile        string
	KnownHostsFile string
	Timeout        time.Duration
}

// Tunnel accepts connections on a local port and relays each one to the
// remote address over its SSH client.
type Tunnel struct {
	log      *zap.Logger
	client   *ssh.Client
	listener net.Listener
	remote   string

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (cfg *Config) addr() string {
	port := cfg.Port
	if port <= 0 {
		port = defaultSSHPort
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

func (cfg *Config) auth() ([]ssh.AuthMethod, error) {
	if cfg.KeyFile == "" {
		return []ssh.AuthMethod{ssh.Password(cfg.Password)}, nil
	}
	pem, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, errors.Wrapf(err, "reading SSH key %s", cfg.KeyFile)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(cfg.Password))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parsing SSH key %s", cfg.KeyFile)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func (cfg *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	path := cfg.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
	}
	var known ssh.HostKeyCallback
	if _, err := os.Stat(path); path != "" && err == nil {
		if known, err = knownhosts.New(path); err != nil {
			return nil, errors.Wrapf(err, "reading known hosts file %s", path)
		}
	} else {
		// no file: every host is unknown
		known = func(string, net.Addr, ssh.PublicKey) error { return &knownhosts.KeyError{} }
	}
	return checkHostKey(known), nil
}

// checkHostKey turns known_hosts failures into operator messages.
func checkHostKey(known ssh.HostKeyCallback) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := known(hostname, remote, key)
		var ke *knownhosts.KeyError
		if !errors.As(err, &ke) {
			return err
		}
		if len(ke.Want) > 0 {
			return errors.Newf("WARNING: Server public key has changed. It means either you're under attack "+
				"or the administrator has changed the key. New public fingerprint is: %s", ssh.FingerprintSHA256(key))
		}
		return errors.Newf("The authenticity of host '%s' can't be established. Server key fingerprint is %s",
			hostname, ssh.FingerprintSHA256(key))
	}
}

// Open logs into the SSH server of cfg and starts forwarding a fresh local
// port to remote (host:port as seen from the SSH server).
func Open(ctx context.Context, cfg Config, remote string, log *zap.Logger) (*Tunnel, error) {
	auth, err := cfg.auth()
	if err != nil {
		return nil, err
	}
	hostKey, err := cfg.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	clientCfg := &ssh.ClientConfig{User: cfg.User, Auth: auth, HostKeyCallback: hostKey, Timeout: timeout}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to SSH server %s", cfg.addr())
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, cfg.addr(), clientCfg)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "opening SSH session on %s", cfg.addr())
	}
	client := ssh.NewClient(c, chans, reqs)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "Unable to create tunnel")
	}
	t := &Tunnel{log: log, client: client, listener: listener, remote: remote}
	t.wg.Add(1)
	go t.accept()
	log.Info("SSH tunnel ready", zap.String("ssh", cfg.addr()), zap.String("remote", remote),
		zap.Int("local_port", t.LocalPort()))
	return t, nil
}

// LocalPort is the port on 127.0.0.1 that reaches the remote address.
func (t *Tunnel) LocalPort() int {
	return t.listener.Addr().(*net.TCPAddr).Port
}

func (t *Tunnel) accept() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.relay(local)
		}()
	}
}

func (t *Tunnel) relay(local net.Conn) {
	defer local.Close()
	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		t.log.Error("SSH tunnel could not reach remote", zap.String("remote", t.remote), zap.Error(err))
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	pipe := func(dst, src net.Conn) {
		io.Copy(dst, src)
		done <- struct{}{}
	}
	go pipe(remote, local)
	go pipe(local, remote)
	<-done
}

// Close stops accepting, closes the SSH session and waits for the relays.
func (t *Tunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.listener.Close()
		err = t.client.Close()
		t.wg.Wait()
	})
	return err
}
