// Package sqlquote escapes values and identifiers for MySQL statements.
package sqlquote

import (
	"slices"
	"strings"
)

// ------------------------------------------------------------------------------------------
// byte -> escape letter, ' ' means the byte is copied as is. Bytes from 0x60 up never need one.
var substituteMysql = [0x60]uint8{
	//    1    2    3    4     5    6    7    8    9    A    B     C    D    E    F
	'0', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', 'n', ' ', ' ', 'r', ' ', ' ', // 0x00-0x0F
	' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', 'Z', ' ', ' ', ' ', ' ', ' ', // 0x10-0x1F
	' ', ' ', '"', ' ', ' ', ' ', ' ', '\'', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', // 0x20-0x2F
	' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', // 0x30-0x3F
	' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', // 0x40-0x4F
	' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', '\\', ' ', ' ', ' ', // 0x50-0x5F
}

// EscapedLen returns the worst case size of src once escaped.
func EscapedLen(n int) int {
	return 2 * n
}

// firstEscape returns the position of the first byte needing an escape, or -1.
func firstEscape(src []byte) int {
	for i, c := range src {
		if c < 0x60 && substituteMysql[c] != ' ' {
			return i
		}
	}
	return -1
}

// AppendEscaped appends src to dst with the mysql_real_escape_string rules.
func AppendEscaped(dst []byte, src []byte) []byte {
	pos := firstEscape(src)
	if pos == -1 {
		return append(dst, src...)
	}
	dst = slices.Grow(dst, pos+EscapedLen(len(src)-pos))
	dst = append(dst, src[:pos]...)
	for _, c := range src[pos:] {
		if c < 0x60 && substituteMysql[c] != ' ' {
			dst = append(dst, '\\', substituteMysql[c])
		} else {
			dst = append(dst, c)
		}
	}
	return dst
}

// Escape returns s escaped, without surrounding quotes.
func Escape(s string) string {
	if firstEscape([]byte(s)) == -1 {
		return s
	}
	return string(AppendEscaped(make([]byte, 0, len(s)+8), []byte(s)))
}

// Literal returns s as a single quoted string literal.
func Literal(s string) string {
	return "'" + Escape(s) + "'"
}

// Ident quotes an identifier with backticks. Names already quoted are kept.
func Ident(name string) string {
	if IsQuoted(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// IsQuoted reports whether name is wrapped in backticks.
func IsQuoted(name string) bool {
	return len(name) >= 2 && name[0] == '`' && name[len(name)-1] == '`'
}

// Unquote strips backtick quoting.
func Unquote(name string) string {
	if !IsQuoted(name) {
		return name
	}
	return strings.ReplaceAll(name[1:len(name)-1], "``", "`")
}

// Table returns the quoted schema.table pair.
func Table(schema, table string) string {
	if schema == "" {
		return Ident(table)
	}
	return Ident(schema) + "." + Ident(table)
}

// IdentList quotes and joins columns with ", ".
func IdentList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = Ident(c)
	}
	return strings.Join(quoted, ", ")
}
