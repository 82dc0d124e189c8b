package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding/htmlindex"
)

// mysqlCharsets maps WHATWG encoding names to MySQL character set names.
var mysqlCharsets = map[string]string{
	"utf-8":        "utf8mb4",
	"utf-16le":     "utf16le",
	"utf-16be":     "utf16",
	"windows-1250": "cp1250",
	"windows-1251": "cp1251",
	"windows-1252": "latin1",
	"windows-1256": "cp1256",
	"windows-1257": "cp1257",
	"iso-8859-2":   "latin2",
	"iso-8859-7":   "greek",
	"iso-8859-8":   "hebrew",
	"iso-8859-9":   "latin5",
	"iso-8859-13":  "latin7",
	"koi8-r":       "koi8r",
	"koi8-u":       "koi8u",
	"shift_jis":    "sjis",
	"euc-jp":       "ujis",
	"euc-kr":       "euckr",
	"gbk":          "gbk",
	"gb18030":      "gb18030",
	"big5":         "big5",
	"ibm866":       "cp866",
}

// MySQLCharset validates a source character set name and returns the MySQL
// name used for character_set_client. MySQL names are accepted as they are.
func MySQLCharset(name string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return "", nil
	}
	for _, my := range mysqlCharsets {
		if lower == my {
			return my, nil
		}
	}
	enc, err := htmlindex.Get(lower)
	if err != nil {
		return "", errors.Newf("Unknown source charset '%s'", name)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		return "", errors.Newf("Unknown source charset '%s'", name)
	}
	if my, ok := mysqlCharsets[canonical]; ok {
		return my, nil
	}
	return lower, nil
}
