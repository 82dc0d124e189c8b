// Package config turns command line values, table files, environment and
// defaults files into the inputs of a copy run.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
)

const defaultMySQLPort = 3306

// Endpoint is a parsed user[:pass]@host:port or user[:pass]@::socket descriptor.
type Endpoint struct {
	User     string
	Password string
	// HasPassword is set when the descriptor carried a ':' password part.
	HasPassword bool
	Host        string
	Port        int
	Socket      string
}

// ParseMySQLDescriptor parses a MySQL connection descriptor. side is "source"
// or "target" and only shows up in the error.
func ParseMySQLDescriptor(descriptor, side string) (*Endpoint, error) {
	invalid := errors.Newf("Invalid MySQL connection string %s for %s database. "+
		"Must be in format user[:pass]@host:port or user[:pass]@::socket", descriptor, side)

	at := strings.LastIndexByte(descriptor, '@')
	if at < 0 {
		return nil, invalid
	}
	ep := &Endpoint{Port: -1}
	userPart, serverPart := descriptor[:at], descriptor[at+1:]
	if user, pass, found := strings.Cut(userPart, ":"); found {
		ep.User, ep.Password, ep.HasPassword = user, pass, true
	} else {
		ep.User = userPart
	}

	host, rest, found := strings.Cut(serverPart, ":")
	ep.Host = host
	if found {
		if sock, isSocket := strings.CutPrefix(rest, ":"); isSocket {
			ep.Socket = sock
		} else {
			port, parseErr := strconv.Atoi(rest)
			if parseErr != nil || port < 0 || port > 65535 {
				return nil, invalid
			}
			ep.Port = port
		}
	}
	return ep, nil
}

// Addr is the host:port the endpoint dials, or the socket path.
func (ep *Endpoint) Addr() string {
	if ep.Socket != "" {
		return ep.Socket
	}
	host := ep.Host
	if host == "" {
		host = "localhost"
	}
	port := ep.Port
	if port < 0 {
		port = defaultMySQLPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Redirect points the endpoint at a local port, the end of a tunnel.
func (ep *Endpoint) Redirect(localPort int) {
	ep.Host = "127.0.0.1"
	ep.Port = localPort
	ep.Socket = ""
}

// MySQLConfig builds the driver configuration of the endpoint. cleartext
// allows the mysql_clear_password plugin.
func (ep *Endpoint) MySQLConfig(password string, timeout time.Duration, cleartext bool) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = ep.User
	cfg.Passwd = password
	if ep.Socket != "" {
		cfg.Net = "unix"
	} else {
		cfg.Net = "tcp"
	}
	cfg.Addr = ep.Addr()
	cfg.Timeout = timeout
	cfg.AllowNativePasswords = true
	cfg.AllowCleartextPasswords = cleartext
	return cfg
}
