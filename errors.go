package jellypoint

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConfiguration = errors.New("required configuration is missing or invalid")
	ErrTransport     = errors.New("the remote request did not succeed")
	ErrParse         = errors.New("the response body is not valid structured data")
	ErrUnsupported   = errors.New("the operation is not supported by the list backend")
	ErrNotFound      = errors.New("the requested item could not be found")
)

// Error is a typed error returned by functions in jellypoint and its
// sub-packages. It contains both a message explaining what happened as well as
// one or more error values it considers to be its causes. Error is compatible
// with the use of errors.Is() - calling errors.Is on some Error value err along
// with any value of error it holds as one of its causes will return true. This
// allows for easy examination and failure condition checking without needing to
// resort to manual typecasting.
//
// If Error has at least one cause defined, the result of calling Error.Error()
// will be its primary message with the result of calling Error() on its first
// cause appended to it.
//
// Error should not be used directly; call NewError to create one.
type Error struct {
	msg   string
	cause []error
}

// Error returns the message defined for the Error. If a message was defined for
// it when created, that message is returned, concatenated with the result of
// calling Error() on its first cause if one is defined. If no message or an
// empty message was defined for it when created, but there is at least one
// cause defined for it, the result of calling Error() on the first cause is
// returned. If no message is defined and no causes are defined, returns the
// empty string.
func (e Error) Error() string {
	if e.msg == "" && e.cause != nil {
		return e.cause[0].Error()
	}

	if e.cause != nil {
		return e.msg + ": " + e.cause[0].Error()
	}

	return e.msg
}

// Unwrap returns the causes of Error. The return value will be nil if no causes
// were defined for it.
func (e Error) Unwrap() []error {
	if len(e.cause) > 0 {
		return e.cause
	}
	return nil
}

// Is returns whether Error either Is itself the given target error, or one of
// its causes is.
func (e Error) Is(target error) bool {
	if errTarget, ok := target.(Error); ok {
		if e.msg == errTarget.msg && len(e.cause) == len(errTarget.cause) {
			allCausesEqual := true
			for i := range e.cause {
				if e.cause[i] != errTarget.cause[i] {
					allCausesEqual = false
					break
				}
			}
			if allCausesEqual {
				return true
			}
		}
	}

	for i := range e.cause {
		if e.cause[i] == target {
			return true
		}
	}
	return false
}

// NewError creates a new Error with the given message, along with any errors it
// should wrap as its causes. Providing cause errors is not required, but will
// cause it to return true when it is checked against that error via a call to
// errors.Is.
func NewError(msg string, causes ...error) Error {
	err := Error{msg: msg}
	if len(causes) > 0 {
		err.cause = make([]error, len(causes))
		copy(err.cause, causes)
	}
	return err
}

// ConfigError returns an Error that matches ErrConfiguration. The message is
// built with fmt.Sprintf.
func ConfigError(format string, a ...any) Error {
	return NewError(fmt.Sprintf(format, a...), ErrConfiguration)
}

// Unsupported returns an Error that matches ErrUnsupported and names the
// operation that was attempted.
func Unsupported(op string) Error {
	return NewError(op, ErrUnsupported)
}

// WrapTransport wraps a failure that happened before a response was received
// (connection refused, TLS failure, client timeout) so that it matches
// ErrTransport.
func WrapTransport(err error, format string, a ...any) Error {
	return NewError(fmt.Sprintf(format, a...), err, ErrTransport)
}

// WrapParse wraps a decoding failure so that it matches ErrParse.
func WrapParse(err error, format string, a ...any) Error {
	return NewError(fmt.Sprintf(format, a...), err, ErrParse)
}

// HTTPError is returned when the remote end answers with a non-success status.
// It always matches ErrTransport; the status code is carried for callers that
// want it but no further classification is done.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int

	// Body holds at most the first 512 bytes of the response body.
	Body string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is returns true for ErrTransport.
func (e *HTTPError) Is(target error) bool {
	return target == ErrTransport
}

// StatusCode returns the HTTP status code carried by err if it has an HTTPError
// anywhere in its chain.
func StatusCode(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	return 0, false
}
