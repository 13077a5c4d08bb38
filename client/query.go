package client

import (
	"strconv"
	"strings"
)

// ListQuery holds the OData query options sent when listing items. Every field
// is optional: an empty string or a nil pointer leaves the option out of the
// request and the server default applies.
type ListQuery struct {
	// Select is a comma-separated list of fields to return ($select).
	Select string

	// Filter is a backend filter expression ($filter). It is passed through
	// unchanged apart from percent-encoding.
	Filter string

	// OrderBy is a sort expression such as "Title desc" ($orderby).
	OrderBy string

	// Top is the maximum number of items to return ($top).
	Top *int

	// Skip is the number of items to skip before returning results ($skip).
	Skip *int
}

// Int returns a pointer to n, for filling in Top and Skip.
func Int(n int) *int {
	return &n
}

// IsZero returns whether no option is set in q.
func (q ListQuery) IsZero() bool {
	return q.Select == "" && q.Filter == "" && q.OrderBy == "" && q.Top == nil && q.Skip == nil
}

// Encode returns the query string for q, including the leading "?". If no
// option is set, the empty string is returned. Options always appear in the
// order select, filter, orderby, top, skip.
func (q ListQuery) Encode() string {
	var clauses []string

	if q.Select != "" {
		clauses = append(clauses, "$select="+EscapeDataString(q.Select))
	}
	if q.Filter != "" {
		clauses = append(clauses, "$filter="+EscapeDataString(q.Filter))
	}
	if q.OrderBy != "" {
		clauses = append(clauses, "$orderby="+EscapeDataString(q.OrderBy))
	}
	if q.Top != nil {
		clauses = append(clauses, "$top="+strconv.Itoa(*q.Top))
	}
	if q.Skip != nil {
		clauses = append(clauses, "$skip="+strconv.Itoa(*q.Skip))
	}

	if len(clauses) == 0 {
		return ""
	}
	return "?" + strings.Join(clauses, "&")
}

// EscapeDataString percent-encodes every byte of s that is not an RFC 3986
// unreserved character. Spaces become %20 and single quotes become %27, which
// differs from both url.QueryEscape and url.PathEscape.
func EscapeDataString(s string) string {
	const hex = "0123456789ABCDEF"

	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hex[c>>4])
		sb.WriteByte(hex[c&0x0f])
	}
	return sb.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	default:
		return false
	}
}
