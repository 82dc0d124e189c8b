package config

import (
	"bufio"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/zalando/go-keyring"
)

// KeyringService is the keyring service passwords are stored under, keyed by
// connection string.
const KeyringService = "copytable"

// Passwords are the secrets of both connections.
type Passwords struct {
	Source string
	Target string
}

// ReadStdinPasswords reads one line of passwords. With single set the line
// holds one password, stored as the source one when sourceSide is set and
// as the target one otherwise. Otherwise the line is "source<TAB>target".
func ReadStdinPasswords(r io.Reader, single, sourceSide bool) (Passwords, error) {
	var pw Passwords
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return pw, errors.Wrap(err, "Error reading passwords from stdin")
	}
	line = strings.TrimRight(line, "\r\n")

	if single {
		first, _, _ := strings.Cut(line, "\t")
		if sourceSide {
			pw.Source = first
		} else {
			pw.Target = first
		}
		return pw, nil
	}
	if src, tgt, found := strings.Cut(line, "\t"); found {
		pw.Source, pw.Target = src, tgt
	} else {
		pw.Source = line
	}
	return pw, nil
}

// KeyringPassword looks the password of a connection string up in the
// system keyring. A missing entry is not an error.
func KeyringPassword(connstring string) (string, error) {
	pw, err := keyring.Get(KeyringService, connstring)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "reading keyring entry for %s", connstring)
	}
	return pw, nil
}
