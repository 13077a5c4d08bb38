package query

import (
	"strings"

	"github.com/dekarrin/jellypoint/client"
)

// Order is one ordering term.
type Order struct {
	Field string
	Desc  bool
}

func (o Order) String() string {
	if o.Desc {
		return o.Field + " desc"
	}
	return o.Field
}

// Asc orders by field ascending.
func Asc(field string) Order { return Order{Field: field} }

// Desc orders by field descending.
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// Query is a structured list query.
type Query struct {
	// Fields to return. Empty returns all fields.
	Fields []string

	Where Expr
	Order []Order

	// Limit is the maximum number of items to return. Zero or less means no
	// limit.
	Limit int

	// Offset is the number of items to skip. Zero or less skips none.
	Offset int
}

// ListQuery translates q into the parameters sent by the list client.
func (q Query) ListQuery() client.ListQuery {
	var lq client.ListQuery

	if len(q.Fields) > 0 {
		lq.Select = strings.Join(q.Fields, ",")
	}
	lq.Filter = q.Where.String()
	if len(q.Order) > 0 {
		terms := make([]string, len(q.Order))
		for i := range q.Order {
			terms[i] = q.Order[i].String()
		}
		lq.OrderBy = strings.Join(terms, ",")
	}
	if q.Limit > 0 {
		lq.Top = client.Int(q.Limit)
	}
	if q.Offset > 0 {
		lq.Skip = client.Int(q.Offset)
	}

	return lq
}
