package source

import (
	"strings"

	"copytable/internal/copyerr"
)

type connKey struct {
	name  string
	value string
}

// connKeys is a parsed ODBC connection string: KEY=value pairs separated by
// ';', values optionally enclosed in braces.
type connKeys struct {
	items []connKey
}

func parseConnKeys(s string) (*connKeys, error) {
	keys := &connKeys{}
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			if strings.TrimSpace(s) != "" {
				return nil, copyerr.Logic("Invalid ODBC connection string near '%s'", s)
			}
			break
		}
		name := strings.TrimSpace(s[:eq])
		s = s[eq+1:]

		var value string
		trimmed := strings.TrimLeft(s, " ")
		if strings.HasPrefix(trimmed, "{") {
			// braced value, "}}" is a literal brace
			var sb strings.Builder
			i := 1
			for ; i < len(trimmed); i++ {
				if trimmed[i] == '}' {
					if i+1 < len(trimmed) && trimmed[i+1] == '}' {
						sb.WriteByte('}')
						i++
						continue
					}
					break
				}
				sb.WriteByte(trimmed[i])
			}
			if i >= len(trimmed) {
				return nil, copyerr.Logic("Unterminated brace in ODBC connection string for key %s", name)
			}
			value = sb.String()
			s = trimmed[i+1:]
			if semi := strings.IndexByte(s, ';'); semi >= 0 {
				s = s[semi+1:]
			} else {
				s = ""
			}
		} else if semi := strings.IndexByte(s, ';'); semi >= 0 {
			value = strings.TrimSpace(s[:semi])
			s = s[semi+1:]
		} else {
			value = strings.TrimSpace(s)
			s = ""
		}
		if name != "" {
			keys.items = append(keys.items, connKey{name: name, value: value})
		}
	}
	return keys, nil
}

// get returns the value of the first key matching one of names, ignoring case.
func (k *connKeys) get(names ...string) string {
	for _, n := range names {
		for _, it := range k.items {
			if strings.EqualFold(it.name, n) {
				return it.value
			}
		}
	}
	return ""
}

func braceValue(v string) string {
	if strings.ContainsAny(v, ";{}") || strings.TrimSpace(v) != v {
		return "{" + strings.ReplaceAll(v, "}", "}}") + "}"
	}
	return v
}

var mssqlKeyNames = map[string]string{
	"uid":      "user id",
	"pwd":      "password",
	"database": "database",
	"server":   "server",
}

// encode renders the keys in the form go-mssqldb accepts after its "odbc:"
// prefix, without the skipped keys.
func (k *connKeys) encode(skip ...string) string {
	parts := make([]string, 0, len(k.items))
next:
	for _, it := range k.items {
		for _, sk := range skip {
			if strings.EqualFold(it.name, sk) {
				continue next
			}
		}
		name := strings.ToLower(it.name)
		if mapped, ok := mssqlKeyNames[name]; ok {
			name = mapped
		}
		parts = append(parts, name+"="+braceValue(it.value))
	}
	return strings.Join(parts, ";")
}

func pgQuote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
}

// pgxDSN renders the keys of a psqlODBC connection string as a libpq keyword DSN.
func (k *connKeys) pgxDSN() string {
	pairs := []struct{ key, value string }{
		{"host", k.get("SERVER", "SERVERNAME", "HOST")},
		{"port", k.get("PORT")},
		{"dbname", k.get("DATABASE")},
		{"user", k.get("UID", "USERNAME", "USER")},
		{"password", k.get("PWD", "PASSWORD")},
		{"sslmode", strings.ToLower(k.get("SSLMODE"))},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.value != "" {
			parts = append(parts, p.key+"="+pgQuote(p.value))
		}
	}
	return strings.Join(parts, " ")
}
