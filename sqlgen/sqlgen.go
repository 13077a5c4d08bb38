// Package sqlgen renders the small amount of SQL text a provider is asked
// for: delimited identifiers, literals, and the INSERT/UPDATE/DELETE
// statements that describe a modification command in logs and migration
// scripts. None of it is ever sent to the list site.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// StatementTerminator ends a single statement.
	StatementTerminator = ";"

	// BatchTerminator separates batches in a script.
	BatchTerminator = "GO"
)

// Helper generates SQL fragments in the bracket-delimited dialect.
type Helper struct{}

// DelimitIdentifier wraps name in brackets, doubling any closing bracket in
// it.
func (Helper) DelimitIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// DelimitSchemaIdentifier delimits name qualified by schema. An empty schema
// gives the same result as DelimitIdentifier.
func (h Helper) DelimitSchemaIdentifier(name, schema string) string {
	if schema == "" {
		return h.DelimitIdentifier(name)
	}
	return h.DelimitIdentifier(schema) + "." + h.DelimitIdentifier(name)
}

// StringLiteral returns s as a Unicode string literal with single quotes
// doubled.
func (Helper) StringLiteral(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Literal renders v as an SQL literal. nil becomes NULL. Types without a
// literal form are rendered through fmt and quoted as strings.
func (h Helper) Literal(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return h.StringLiteral(val)
	case bool:
		if val {
			return "CAST(1 AS bit)"
		}
		return "CAST(0 AS bit)"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case time.Time:
		return "'" + val.UTC().Format("2006-01-02T15:04:05.0000000") + "'"
	case fmt.Stringer:
		return h.StringLiteral(val.String())
	default:
		return h.StringLiteral(fmt.Sprintf("%v", val))
	}
}

// InsertStatement renders an INSERT of one row. Columns are listed in the
// order given.
func (h Helper) InsertStatement(table string, columns []string, values []interface{}) string {
	var sb strings.Builder

	sb.WriteString("INSERT INTO ")
	sb.WriteString(h.DelimitIdentifier(table))
	sb.WriteString(" (")
	for i := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(h.DelimitIdentifier(columns[i]))
	}
	sb.WriteString(")\nVALUES (")
	for i := range values {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(h.Literal(values[i]))
	}
	sb.WriteString(")")
	sb.WriteString(StatementTerminator)

	return sb.String()
}

// UpdateStatement renders an UPDATE of the row whose ID column equals id.
func (h Helper) UpdateStatement(table string, columns []string, values []interface{}, id int) string {
	var sb strings.Builder

	sb.WriteString("UPDATE ")
	sb.WriteString(h.DelimitIdentifier(table))
	sb.WriteString(" SET ")
	for i := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(h.DelimitIdentifier(columns[i]))
		sb.WriteString(" = ")
		if i < len(values) {
			sb.WriteString(h.Literal(values[i]))
		} else {
			sb.WriteString("NULL")
		}
	}
	sb.WriteString("\nWHERE [ID] = ")
	sb.WriteString(strconv.Itoa(id))
	sb.WriteString(StatementTerminator)

	return sb.String()
}

// DeleteStatement renders a DELETE of the row whose ID column equals id.
func (h Helper) DeleteStatement(table string, id int) string {
	return "DELETE FROM " + h.DelimitIdentifier(table) + "\nWHERE [ID] = " + strconv.Itoa(id) + StatementTerminator
}

// Batch joins statements into one script, separating them with the batch
// terminator on its own line. Empty statements are skipped.
func Batch(statements ...string) string {
	var parts []string
	for _, s := range statements {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n"+BatchTerminator+"\n\n")
}
