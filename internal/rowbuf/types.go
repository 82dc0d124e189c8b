// Package rowbuf holds the per-column typed cells a row travels through
// between a source adapter and the MySQL target.
package rowbuf

import (
	"strings"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
)

// FieldType is a MySQL wire type code.
type FieldType uint8

const (
	TypeDecimal    = FieldType(gomysql.MYSQL_TYPE_DECIMAL)
	TypeTiny       = FieldType(gomysql.MYSQL_TYPE_TINY)
	TypeShort      = FieldType(gomysql.MYSQL_TYPE_SHORT)
	TypeLong       = FieldType(gomysql.MYSQL_TYPE_LONG)
	TypeFloat      = FieldType(gomysql.MYSQL_TYPE_FLOAT)
	TypeDouble     = FieldType(gomysql.MYSQL_TYPE_DOUBLE)
	TypeNull       = FieldType(gomysql.MYSQL_TYPE_NULL)
	TypeTimestamp  = FieldType(gomysql.MYSQL_TYPE_TIMESTAMP)
	TypeLongLong   = FieldType(gomysql.MYSQL_TYPE_LONGLONG)
	TypeInt24      = FieldType(gomysql.MYSQL_TYPE_INT24)
	TypeDate       = FieldType(gomysql.MYSQL_TYPE_DATE)
	TypeTime       = FieldType(gomysql.MYSQL_TYPE_TIME)
	TypeDatetime   = FieldType(gomysql.MYSQL_TYPE_DATETIME)
	TypeYear       = FieldType(gomysql.MYSQL_TYPE_YEAR)
	TypeNewDate    = FieldType(gomysql.MYSQL_TYPE_NEWDATE)
	TypeVarchar    = FieldType(gomysql.MYSQL_TYPE_VARCHAR)
	TypeBit        = FieldType(gomysql.MYSQL_TYPE_BIT)
	TypeJSON       = FieldType(gomysql.MYSQL_TYPE_JSON)
	TypeNewDecimal = FieldType(gomysql.MYSQL_TYPE_NEWDECIMAL)
	TypeEnum       = FieldType(gomysql.MYSQL_TYPE_ENUM)
	TypeSet        = FieldType(gomysql.MYSQL_TYPE_SET)
	TypeTinyBlob   = FieldType(gomysql.MYSQL_TYPE_TINY_BLOB)
	TypeMediumBlob = FieldType(gomysql.MYSQL_TYPE_MEDIUM_BLOB)
	TypeLongBlob   = FieldType(gomysql.MYSQL_TYPE_LONG_BLOB)
	TypeBlob       = FieldType(gomysql.MYSQL_TYPE_BLOB)
	TypeVarString  = FieldType(gomysql.MYSQL_TYPE_VAR_STRING)
	TypeString     = FieldType(gomysql.MYSQL_TYPE_STRING)
	TypeGeometry   = FieldType(gomysql.MYSQL_TYPE_GEOMETRY)
)

var typeNames = map[FieldType]string{
	TypeDecimal:    "MYSQL_TYPE_DECIMAL",
	TypeTiny:       "MYSQL_TYPE_TINY",
	TypeShort:      "MYSQL_TYPE_SHORT",
	TypeLong:       "MYSQL_TYPE_LONG",
	TypeFloat:      "MYSQL_TYPE_FLOAT",
	TypeDouble:     "MYSQL_TYPE_DOUBLE",
	TypeNull:       "MYSQL_TYPE_NULL",
	TypeTimestamp:  "MYSQL_TYPE_TIMESTAMP",
	TypeLongLong:   "MYSQL_TYPE_LONGLONG",
	TypeInt24:      "MYSQL_TYPE_INT24",
	TypeDate:       "MYSQL_TYPE_DATE",
	TypeTime:       "MYSQL_TYPE_TIME",
	TypeDatetime:   "MYSQL_TYPE_DATETIME",
	TypeYear:       "MYSQL_TYPE_YEAR",
	TypeNewDate:    "MYSQL_TYPE_NEWDATE",
	TypeVarchar:    "MYSQL_TYPE_VARCHAR",
	TypeBit:        "MYSQL_TYPE_BIT",
	TypeJSON:       "MYSQL_TYPE_JSON",
	TypeNewDecimal: "MYSQL_TYPE_NEWDECIMAL",
	TypeEnum:       "MYSQL_TYPE_ENUM",
	TypeSet:        "MYSQL_TYPE_SET",
	TypeTinyBlob:   "MYSQL_TYPE_TINY_BLOB",
	TypeMediumBlob: "MYSQL_TYPE_MEDIUM_BLOB",
	TypeLongBlob:   "MYSQL_TYPE_LONG_BLOB",
	TypeBlob:       "MYSQL_TYPE_BLOB",
	TypeVarString:  "MYSQL_TYPE_VAR_STRING",
	TypeString:     "MYSQL_TYPE_STRING",
	TypeGeometry:   "MYSQL_TYPE_GEOMETRY",
}

func (t FieldType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "UNKNOWN"
}

// IsBlob is true for the blob family.
func (t FieldType) IsBlob() bool {
	switch t {
	case TypeTinyBlob, TypeMediumBlob, TypeLongBlob, TypeBlob:
		return true
	}
	return false
}

// IsTime is true for the types stored in a TimeValue.
func (t FieldType) IsTime() bool {
	switch t {
	case TypeDate, TypeNewDate, TypeTime, TypeDatetime, TypeTimestamp:
		return true
	}
	return false
}

// IsInteger is true for the fixed size integer types.
func (t FieldType) IsInteger() bool {
	switch t {
	case TypeTiny, TypeShort, TypeYear, TypeLong, TypeInt24, TypeLongLong:
		return true
	}
	return false
}

// ParamType maps a result set type to the type used to bind it as an insert
// parameter. Decimals stay textual so no precision is lost on the way.
func ParamType(t FieldType, sourceIsMySQL bool) FieldType {
	switch t {
	case TypeDecimal, TypeNewDecimal:
		return TypeNewDecimal
	case TypeInt24:
		return TypeLong
	case TypeYear:
		return TypeShort
	case TypeNewDate:
		return TypeDate
	case TypeVarchar, TypeVarString, TypeString, TypeEnum, TypeSet:
		return TypeString
	case TypeTinyBlob, TypeMediumBlob, TypeLongBlob, TypeBlob:
		return TypeBlob
	case TypeGeometry:
		if sourceIsMySQL {
			return TypeBlob
		}
		return TypeGeometry
	}
	return t
}

var typesByName = map[string]FieldType{
	"tinyint":            TypeTiny,
	"bool":               TypeTiny,
	"boolean":            TypeTiny,
	"smallint":           TypeShort,
	"mediumint":          TypeInt24,
	"int":                TypeLong,
	"integer":            TypeLong,
	"bigint":             TypeLongLong,
	"float":              TypeFloat,
	"double":             TypeDouble,
	"real":               TypeDouble,
	"decimal":            TypeNewDecimal,
	"numeric":            TypeNewDecimal,
	"date":               TypeDate,
	"time":               TypeTime,
	"datetime":           TypeDatetime,
	"timestamp":          TypeTimestamp,
	"year":               TypeYear,
	"char":               TypeString,
	"binary":             TypeString,
	"varchar":            TypeVarString,
	"varbinary":          TypeVarString,
	"enum":               TypeEnum,
	"set":                TypeSet,
	"tinyblob":           TypeTinyBlob,
	"tinytext":           TypeTinyBlob,
	"blob":               TypeBlob,
	"text":               TypeBlob,
	"mediumblob":         TypeMediumBlob,
	"mediumtext":         TypeMediumBlob,
	"longblob":           TypeLongBlob,
	"longtext":           TypeLongBlob,
	"bit":                TypeBit,
	"json":               TypeJSON,
	"null":               TypeNull,
	"geometry":           TypeGeometry,
	"point":              TypeGeometry,
	"linestring":         TypeGeometry,
	"polygon":            TypeGeometry,
	"multipoint":         TypeGeometry,
	"multilinestring":    TypeGeometry,
	"multipolygon":       TypeGeometry,
	"geometrycollection": TypeGeometry,
	"geomcollection":     TypeGeometry,
}

// TypeFromName maps a MySQL column type name, as found in
// information_schema.COLUMNS or reported by the driver ("UNSIGNED INT",
// "VARCHAR", "int(10) unsigned"), to its wire type.
func TypeFromName(name string) (t FieldType, unsigned bool, ok bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if strings.HasPrefix(n, "unsigned ") {
		unsigned = true
		n = strings.TrimPrefix(n, "unsigned ")
	}
	if strings.Contains(n, " unsigned") {
		unsigned = true
	}
	if i := strings.IndexAny(n, "( "); i >= 0 {
		n = n[:i]
	}
	t, ok = typesByName[n]
	return t, unsigned, ok
}

// ColumnInfo describes one column on both sides of the copy.
type ColumnInfo struct {
	SourceName   string
	SourceType   string
	SourceLength int64
	IsUnsigned   bool
	IsLongData   bool

	TargetName string
	TargetType FieldType
}
