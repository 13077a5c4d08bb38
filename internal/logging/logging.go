// Package logging provides logger creation.
package logging

import (
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"strings"

	"github.com/dekarrin/jellog"
	"github.com/dekarrin/jellypoint"
)

// New creates a new logger of the given provider. If filename is blank, it will
// not log to disk, only stderr, and the stderr logger will be configured at
// trace level instead of info level.
func New(p jellypoint.LogProvider, filename string) (jellypoint.Logger, error) {
	switch p {
	case jellypoint.NoLog:
		return nil, errors.New("log provider cannot be NoLog")
	case jellypoint.Jellog:
		return newJellog(filename)
	case jellypoint.StdLog:
		var w io.Writer = os.Stderr
		if filename != "" {
			f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
			if err != nil {
				return nil, fmt.Errorf("open logfile: %q: %w", filename, err)
			}
			w = io.MultiWriter(os.Stderr, f)
		}
		return NewStd(w), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", p.String())
	}
}

// NewOrNoOp is New, except that NoLog gives a jellypoint.NoOpLogger instead of
// an error.
func NewOrNoOp(p jellypoint.LogProvider, filename string) (jellypoint.Logger, error) {
	if p == jellypoint.NoLog {
		return jellypoint.NoOpLogger{}, nil
	}
	return New(p, filename)
}

// NewStd returns a standard library logger that writes to w. It is mostly
// useful in tests.
func NewStd(w io.Writer) jellypoint.Logger {
	std := stdlog.New(w, "", stdlog.Ldate|stdlog.Ltime|stdlog.LUTC)
	return stdLogger{leveled{out: func(lv jellypoint.Level, msg string) {
		std.Print(stdPrefixes[lv] + msg)
	}}}
}

var stdPrefixes = map[jellypoint.Level]string{
	jellypoint.LevelTrace: "TRACE ",
	jellypoint.LevelDebug: "DEBUG ",
	jellypoint.LevelInfo:  "INFO  ",
	jellypoint.LevelWarn:  "WARN  ",
	jellypoint.LevelError: "ERROR ",
}

func newJellog(filename string) (jellypoint.Logger, error) {
	j := jellog.New(jellog.Defaults[string]().WithComponent("jellypoint"))

	if filename != "" {
		fh, err := jellog.OpenFile(filename, nil)
		if err != nil {
			return nil, fmt.Errorf("open logfile: %q: %w", filename, err)
		}
		j.AddHandler(jellog.LvTrace, fh)
		j.AddHandler(jellog.LvInfo, jellog.NewStderrHandler(nil))
	} else {
		j.AddHandler(jellog.LvTrace, jellog.NewStderrHandler(nil))
	}

	return jellogLogger{leveled{out: func(lv jellypoint.Level, msg string) {
		switch lv {
		case jellypoint.LevelTrace:
			j.Trace(msg)
		case jellypoint.LevelDebug:
			j.Debug(msg)
		case jellypoint.LevelInfo:
			j.Info(msg)
		case jellypoint.LevelWarn:
			j.Warn(msg)
		default:
			j.Error(msg)
		}
	}}}, nil
}

type stdLogger struct{ leveled }

type jellogLogger struct{ leveled }

// leveled implements jellypoint.Logger on top of a single output function.
type leveled struct {
	out func(lv jellypoint.Level, msg string)
}

func (log leveled) Trace(msg string) { log.out(jellypoint.LevelTrace, msg) }
func (log leveled) Debug(msg string) { log.out(jellypoint.LevelDebug, msg) }
func (log leveled) Info(msg string)  { log.out(jellypoint.LevelInfo, msg) }
func (log leveled) Warn(msg string)  { log.out(jellypoint.LevelWarn, msg) }
func (log leveled) Error(msg string) { log.out(jellypoint.LevelError, msg) }

func (log leveled) Tracef(format string, a ...interface{}) {
	log.out(jellypoint.LevelTrace, fmt.Sprintf(format, a...))
}

func (log leveled) Debugf(format string, a ...interface{}) {
	log.out(jellypoint.LevelDebug, fmt.Sprintf(format, a...))
}

func (log leveled) Infof(format string, a ...interface{}) {
	log.out(jellypoint.LevelInfo, fmt.Sprintf(format, a...))
}

func (log leveled) Warnf(format string, a ...interface{}) {
	log.out(jellypoint.LevelWarn, fmt.Sprintf(format, a...))
}

func (log leveled) Errorf(format string, a ...interface{}) {
	log.out(jellypoint.LevelError, fmt.Sprintf(format, a...))
}

// Event writes the message at the level of id, prefixed with the event's name
// and number.
func (log leveled) Event(id jellypoint.EventID, format string, a ...interface{}) {
	lv := id.Level
	if lv < jellypoint.LevelTrace || lv > jellypoint.LevelError {
		lv = jellypoint.LevelError
	}
	log.out(lv, "["+id.String()+"] "+fmt.Sprintf(format, a...))
}

// LogResponse writes a one-line summary of a served request. Responses with a
// status of 500 or above are logged at error level.
func LogResponse(log jellypoint.Logger, req *http.Request, status int, msg string) {
	// we don't really care about the ephemeral port from the client end
	remoteIP, _, _ := strings.Cut(req.RemoteAddr, ":")

	if status >= 500 {
		log.Errorf("%s %s %s: HTTP-%d %s", remoteIP, req.Method, req.URL.Path, status, msg)
	} else {
		log.Infof("%s %s %s: HTTP-%d %s", remoteIP, req.Method, req.URL.Path, status, msg)
	}
}
