package sqlgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Helper_DelimitIdentifier(t *testing.T) {
	testCases := []struct {
		input  string
		expect string
	}{
		{input: "Tasks", expect: "[Tasks]"},
		{input: "__MigrationsHistory", expect: "[__MigrationsHistory]"},
		{input: "odd]name", expect: "[odd]]name]"},
		{input: "", expect: "[]"},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(tc.expect, Helper{}.DelimitIdentifier(tc.input))
		})
	}
}

func Test_Helper_DelimitSchemaIdentifier(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("[dbo].[Tasks]", Helper{}.DelimitSchemaIdentifier("Tasks", "dbo"))
	assert.Equal("[Tasks]", Helper{}.DelimitSchemaIdentifier("Tasks", ""))
}

func Test_Helper_Literal(t *testing.T) {
	testCases := []struct {
		name   string
		input  interface{}
		expect string
	}{
		{name: "nil", input: nil, expect: "NULL"},
		{name: "string", input: "abc", expect: "N'abc'"},
		{name: "string with quote", input: "O'Brien", expect: "N'O''Brien'"},
		{name: "true", input: true, expect: "CAST(1 AS bit)"},
		{name: "false", input: false, expect: "CAST(0 AS bit)"},
		{name: "int", input: 42, expect: "42"},
		{name: "negative int64", input: int64(-7), expect: "-7"},
		{name: "float", input: 1.25, expect: "1.25"},
		{name: "time", input: time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC), expect: "'2024-03-04T05:06:07.0000000'"},
		{name: "other", input: []int{1}, expect: "N'[1]'"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(tc.expect, Helper{}.Literal(tc.input))
		})
	}
}

func Test_Helper_Statements(t *testing.T) {
	assert := assert.New(t)
	h := Helper{}

	assert.Equal(
		"INSERT INTO [Tasks] ([Title], [Done])\nVALUES (N'Write', CAST(0 AS bit));",
		h.InsertStatement("Tasks", []string{"Title", "Done"}, []interface{}{"Write", false}),
	)
	assert.Equal(
		"UPDATE [Tasks] SET [Title] = N'Edit'\nWHERE [ID] = 3;",
		h.UpdateStatement("Tasks", []string{"Title"}, []interface{}{"Edit"}, 3),
	)
	assert.Equal(
		"DELETE FROM [Tasks]\nWHERE [ID] = 3;",
		h.DeleteStatement("Tasks", 3),
	)
}

func Test_Batch(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("A;\nGO\n\nB;", Batch("A;", "", "  ", "B;"))
	assert.Equal("", Batch())
}
