package metadoc

import (
	"strings"
)

// pathLiteral renders an offset as a quoted Postgres text[] literal, eg. '{"extent","from_dt"}'.
func pathLiteral(offset []string) string {
	parts := make([]string, len(offset))
	for i, key := range offset {
		key = strings.ReplaceAll(key, `\`, `\\`)
		key = strings.ReplaceAll(key, `"`, `\"`)
		parts[i] = `"` + key + `"`
	}
	lit := "{" + strings.Join(parts, ",") + "}"
	return "'" + strings.ReplaceAll(lit, "'", "''") + "'"
}

// TextSQL is the SQL for the field as text (NULL when absent).
func TextSQL(column string, offset []string) string {
	return "(" + column + " #>> " + pathLiteral(offset) + ")"
}

// JSONSQL is the SQL for the field as jsonb.
func JSONSQL(column string, offset []string) string {
	return "(" + column + " #> " + pathLiteral(offset) + ")"
}

// FloatSQL is the SQL for the field cast to double precision.
func FloatSQL(column string, offset []string) string {
	return "(" + TextSQL(column, offset) + ")::double precision"
}

// TimestampSQL is the SQL for the field parsed by agdc.common_timestamp.
func TimestampSQL(column string, offset []string) string {
	return "agdc.common_timestamp(" + TextSQL(column, offset) + ")"
}

// LowerFloatSQL is LEAST over the alternative offsets. LEAST ignores NULLs, as
// Document.LowerFloat skips missing values.
func LowerFloatSQL(column string, offsets [][]string) string {
	return bound("LEAST", column, offsets, FloatSQL)
}

// UpperFloatSQL is GREATEST over the alternative offsets.
func UpperFloatSQL(column string, offsets [][]string) string {
	return bound("GREATEST", column, offsets, FloatSQL)
}

// LowerTimestampSQL is LEAST over the alternative timestamp offsets.
func LowerTimestampSQL(column string, offsets [][]string) string {
	return bound("LEAST", column, offsets, TimestampSQL)
}

// UpperTimestampSQL is GREATEST over the alternative timestamp offsets.
func UpperTimestampSQL(column string, offsets [][]string) string {
	return bound("GREATEST", column, offsets, TimestampSQL)
}

func bound(fn, column string, offsets [][]string, field func(string, []string) string) string {
	if len(offsets) == 0 {
		return "NULL"
	}
	if len(offsets) == 1 {
		return field(column, offsets[0])
	}
	parts := make([]string, len(offsets))
	for i, off := range offsets {
		parts[i] = field(column, off)
	}
	return fn + "(" + strings.Join(parts, ", ") + ")"
}

// Join appends keys to a base offset without aliasing it.
func Join(base []string, keys ...string) []string {
	out := make([]string, 0, len(base)+len(keys))
	out = append(out, base...)
	return append(out, keys...)
}
