// Package query builds OData filter and ordering expressions and turns a
// structured Query into the client.ListQuery the list client sends.
package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expr is a filter expression. The zero value matches everything and renders
// as the empty string.
type Expr struct {
	text string
}

// String returns the OData text of e.
func (e Expr) String() string {
	return e.text
}

// IsZero returns whether e is the empty expression.
func (e Expr) IsZero() bool {
	return e.text == ""
}

// Raw wraps already-formatted filter text. It is not checked.
func Raw(text string) Expr {
	return Expr{text: text}
}

func compare(field, op string, v interface{}) Expr {
	return Expr{text: field + " " + op + " " + Literal(v)}
}

func Eq(field string, v interface{}) Expr { return compare(field, "eq", v) }
func Ne(field string, v interface{}) Expr { return compare(field, "ne", v) }
func Gt(field string, v interface{}) Expr { return compare(field, "gt", v) }
func Ge(field string, v interface{}) Expr { return compare(field, "ge", v) }
func Lt(field string, v interface{}) Expr { return compare(field, "lt", v) }
func Le(field string, v interface{}) Expr { return compare(field, "le", v) }

// StartsWith matches items whose field begins with prefix.
func StartsWith(field, prefix string) Expr {
	return Expr{text: "startswith(" + field + "," + Literal(prefix) + ")"}
}

// SubstringOf matches items whose field contains s.
func SubstringOf(s, field string) Expr {
	return Expr{text: "substringof(" + Literal(s) + "," + field + ")"}
}

// And joins exprs so that all must match. Zero expressions are dropped; if only
// one remains it is returned as-is.
func And(exprs ...Expr) Expr {
	return join("and", exprs)
}

// Or joins exprs so that any may match. Zero expressions are dropped; if only
// one remains it is returned as-is.
func Or(exprs ...Expr) Expr {
	return join("or", exprs)
}

// Not negates e. The negation of the zero expression is the zero expression.
func Not(e Expr) Expr {
	if e.IsZero() {
		return e
	}
	return Expr{text: "not (" + e.text + ")"}
}

func join(op string, exprs []Expr) Expr {
	var parts []string
	for _, e := range exprs {
		if !e.IsZero() {
			parts = append(parts, e.text)
		}
	}

	switch len(parts) {
	case 0:
		return Expr{}
	case 1:
		return Expr{text: parts[0]}
	}

	for i := range parts {
		parts[i] = "(" + parts[i] + ")"
	}
	return Expr{text: strings.Join(parts, " "+op+" ")}
}

// Literal renders v as an OData literal. Strings are single-quoted with
// embedded quotes doubled, times are datetime'...' in UTC RFC 3339, and nil is
// null.
func Literal(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return "datetime'" + val.UTC().Format(time.RFC3339) + "'"
	case fmt.Stringer:
		return Literal(val.String())
	default:
		return Literal(fmt.Sprintf("%v", val))
	}
}
