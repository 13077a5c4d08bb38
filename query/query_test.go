package query

import (
	"testing"
	"time"

	"github.com/dekarrin/jellypoint/client"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func Test_Literal(t *testing.T) {
	testCases := []struct {
		name   string
		input  interface{}
		expect string
	}{
		{name: "nil", input: nil, expect: "null"},
		{name: "string", input: "A", expect: "'A'"},
		{name: "string with quote", input: "O'Brien", expect: "'O''Brien'"},
		{name: "true", input: true, expect: "true"},
		{name: "int", input: 5, expect: "5"},
		{name: "uint8", input: uint8(7), expect: "7"},
		{name: "float", input: 2.5, expect: "2.5"},
		{name: "large float not exponent", input: 1e21, expect: "1000000000000000000000"},
		{name: "time", input: time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("x", 3600)), expect: "datetime'2024-05-06T06:08:09Z'"},
		{name: "stringer", input: uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), expect: "'6ba7b810-9dad-11d1-80b4-00c04fd430c8'"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(tc.expect, Literal(tc.input))
		})
	}
}

func Test_Expr(t *testing.T) {
	testCases := []struct {
		name   string
		expr   Expr
		expect string
	}{
		{name: "eq", expr: Eq("Title", "A"), expect: "Title eq 'A'"},
		{name: "ne", expr: Ne("ID", 3), expect: "ID ne 3"},
		{name: "gt", expr: Gt("Count", 1), expect: "Count gt 1"},
		{name: "ge", expr: Ge("Count", 1), expect: "Count ge 1"},
		{name: "lt", expr: Lt("Count", 1), expect: "Count lt 1"},
		{name: "le", expr: Le("Count", 1), expect: "Count le 1"},
		{name: "startswith", expr: StartsWith("Title", "Wr"), expect: "startswith(Title,'Wr')"},
		{name: "substringof", expr: SubstringOf("it's", "Title"), expect: "substringof('it''s',Title)"},
		{name: "and", expr: And(Eq("A", 1), Eq("B", 2)), expect: "(A eq 1) and (B eq 2)"},
		{name: "or", expr: Or(Eq("A", 1), Eq("B", 2), Eq("C", 3)), expect: "(A eq 1) or (B eq 2) or (C eq 3)"},
		{name: "nested", expr: And(Eq("A", true), Or(Eq("B", 1), Eq("B", 2))), expect: "(A eq true) and ((B eq 1) or (B eq 2))"},
		{name: "and drops zero", expr: And(Expr{}, Eq("A", 1), Expr{}), expect: "A eq 1"},
		{name: "and of nothing", expr: And(), expect: ""},
		{name: "not", expr: Not(Eq("A", 1)), expect: "not (A eq 1)"},
		{name: "not zero", expr: Not(Expr{}), expect: ""},
		{name: "raw", expr: Raw("Hidden eq false"), expect: "Hidden eq false"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(tc.expect, tc.expr.String())
		})
	}
}

func Test_Query_ListQuery(t *testing.T) {
	testCases := []struct {
		name   string
		q      Query
		expect string
	}{
		{name: "empty", q: Query{}, expect: ""},
		{
			name:   "filter and limit",
			q:      Query{Where: Eq("Title", "A"), Limit: 5},
			expect: "?$filter=Title%20eq%20%27A%27&$top=5",
		},
		{
			name: "everything",
			q: Query{
				Fields: []string{"ID", "Title"},
				Where:  Gt("ID", 3),
				Order:  []Order{Desc("Modified"), Asc("Title")},
				Limit:  10,
				Offset: 20,
			},
			expect: "?$select=ID%2CTitle&$filter=ID%20gt%203&$orderby=Modified%20desc%2CTitle&$top=10&$skip=20",
		},
		{name: "negative limit ignored", q: Query{Limit: -1, Offset: -1}, expect: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(tc.expect, tc.q.ListQuery().Encode())
		})
	}
}

func Test_Query_ListQuery_Fields(t *testing.T) {
	assert := assert.New(t)

	lq := Query{Limit: 1}.ListQuery()
	assert.Equal(client.ListQuery{Top: client.Int(1)}, lq)
}
