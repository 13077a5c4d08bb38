package listserver

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/dekarrin/jellypoint/client"
	"github.com/dekarrin/jellypoint/internal/logging"
	"github.com/dekarrin/jellypoint/listserver/token"
	"github.com/google/uuid"
)

// HeaderRequestGUID is set on every response. It echoes the client-request-id
// of the request if one was sent.
const HeaderRequestGUID = "SPRequestGuid"

// endpoint turns ep into a handler that writes and then logs its result.
// Unauthorized and internal error results are delayed by the configured
// amount before being written.
func (s *Server) endpoint(ep func(req *http.Request) result) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r := ep(req)

		if r.status == http.StatusUnauthorized || r.status == http.StatusInternalServerError {
			time.Sleep(s.unauthDelay)
		}

		r.writeResponse(w)
		s.logResponse(req, r)
	}
}

func (s *Server) logResponse(req *http.Request, r result) {
	logging.LogResponse(s.log, req, r.status, r.internalMsg)
}

// dontPanic performs a panic check as the request exits. If the handler is
// panicking, a generic 500 is written and the panic is logged.
func (s *Server) dontPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if panicErr := recover(); panicErr != nil {
				r := internalServerError("panic: %v\nSTACK TRACE: %s", panicErr, string(debug.Stack()))
				r.writeResponse(w)
				s.logResponse(req, r)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

// requestGUID sets HeaderRequestGUID on the response.
func requestGUID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get(client.HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestGUID, id)
		next.ServeHTTP(w, req)
	})
}

// requireToken rejects requests that do not carry a bearer token issued to one
// of the configured clients.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tok, err := token.Get(req)
		if err != nil {
			s.endpoint(func(*http.Request) result { return unauthorized("%s", err.Error()) })(w, req)
			return
		}

		if _, err := s.issuer.Validate(tok, s.knownClient); err != nil {
			s.endpoint(func(*http.Request) result { return unauthorized("invalid token: %s", err.Error()) })(w, req)
			return
		}

		next.ServeHTTP(w, req)
	})
}

func (s *Server) knownClient(id string) bool {
	_, ok := s.clients[id]
	return ok
}
