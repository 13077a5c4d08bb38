package logging

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/dekarrin/jellypoint"
	"github.com/stretchr/testify/assert"
)

func Test_New(t *testing.T) {
	testCases := []struct {
		name       string
		provider   jellypoint.LogProvider
		filename   string
		expectType jellypoint.Logger
		expectErr  bool
	}{
		{
			name:       "jellog log",
			provider:   jellypoint.Jellog,
			filename:   "test-jellog.log",
			expectType: jellogLogger{},
		},
		{
			name:       "standard log",
			provider:   jellypoint.StdLog,
			filename:   "test-std.log",
			expectType: stdLogger{},
		},
		{
			name:      "NoLog provider is an error",
			provider:  jellypoint.NoLog,
			filename:  "test-none.log",
			expectErr: true,
		},
		{
			name:      "unknown provider is an error",
			provider:  jellypoint.LogProvider(-1),
			filename:  "test-unknown.log",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			tempDir := t.TempDir()
			filePath := filepath.Join(tempDir, tc.filename)

			actual, err := New(tc.provider, filePath)

			if tc.expectErr {
				assert.Error(err)
			} else {
				assert.NoError(err)
				assert.IsType(tc.expectType, actual)
			}
		})
	}
}

func Test_NewOrNoOp(t *testing.T) {
	assert := assert.New(t)

	actual, err := NewOrNoOp(jellypoint.NoLog, "")
	assert.NoError(err)
	assert.IsType(jellypoint.NoOpLogger{}, actual)
}

func Test_Event_UsesEventLevel(t *testing.T) {
	testCases := []struct {
		name   string
		id     jellypoint.EventID
		expect string
	}{
		{name: "trace", id: jellypoint.RequestExecuted, expect: "TRACE [Database.Command.RequestExecuted(30300)] GET x"},
		{name: "debug", id: jellypoint.CommandExecuted, expect: "DEBUG [Database.Command.CommandExecuted(30302)] GET x"},
		{name: "info", id: jellypoint.ProviderOpened, expect: "INFO  [Infrastructure.ProviderOpened(30101)] GET x"},
		{name: "warn", id: jellypoint.ListConfiguredWarning, expect: "WARN  [Model.Validation.ListConfiguredWarning(30000)] GET x"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			var buf bytes.Buffer
			log := NewStd(&buf)

			log.Event(tc.id, "%s %s", "GET", "x")

			assert.Contains(buf.String(), tc.expect)
		})
	}
}

func Test_LogResponse(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	log := NewStd(&buf)

	req := httptest.NewRequest("GET", "/_api/web/lists", nil)
	req.RemoteAddr = "10.0.0.1:51234"

	LogResponse(log, req, 200, "listed 3 lists")
	LogResponse(log, req, 500, "store failure")

	out := buf.String()
	assert.Contains(out, "INFO  10.0.0.1 GET /_api/web/lists: HTTP-200 listed 3 lists")
	assert.Contains(out, "ERROR 10.0.0.1 GET /_api/web/lists: HTTP-500 store failure")
}
