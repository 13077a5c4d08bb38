// Package listserver is a development server for the list REST API. It serves
// lists and items from a store.Store under /_api using the verbose JSON
// format, and issues access tokens to configured clients with the client
// credentials grant.
package listserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/client"
	"github.com/dekarrin/jellypoint/listserver/store"
	"github.com/dekarrin/jellypoint/listserver/token"
	"github.com/dekarrin/jellypoint/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// PathAPI is the prefix of every list API route.
	PathAPI = "/_api"

	// PathToken is the route of the token endpoint.
	PathToken = "/oauth2/token"

	// PathMetrics is the route of the Prometheus endpoint.
	PathMetrics = "/metrics"

	// MinTokenSecretSize is the smallest accepted token signing key.
	MinTokenSecretSize = 32
)

func init() {
	// chi only routes methods it knows about
	chi.RegisterMethod(client.MethodMerge)
}

// Config holds the parameters for creating a Server.
type Config struct {
	// Store holds the lists that are served. Required. The server closes it on
	// Shutdown.
	Store store.Store

	// Log defaults to a no-op logger.
	Log jellypoint.Logger

	// Clients maps client IDs to bcrypt hashes of their secrets. If empty,
	// the API does not require authentication.
	Clients map[string]string

	// TokenSecret signs issued tokens. Required if Clients is not empty.
	TokenSecret []byte

	// TokenTTL defaults to one hour.
	TokenTTL time.Duration

	// Issuer defaults to "jplistserver".
	Issuer string

	// DisableMetrics turns off request metrics and the /metrics endpoint.
	DisableMetrics bool

	// UnauthDelay is how long to wait before answering an unauthorized
	// request.
	UnauthDelay time.Duration

	// Now defaults to time.Now. Set in tests.
	Now func() time.Time
}

// FillDefaults returns a copy of cfg with unset optional values filled in.
func (cfg Config) FillDefaults() Config {
	newCfg := cfg

	if newCfg.Log == nil {
		newCfg.Log = jellypoint.NoOpLogger{}
	}
	if newCfg.TokenTTL == 0 {
		newCfg.TokenTTL = time.Hour
	}
	if newCfg.Issuer == "" {
		newCfg.Issuer = "jplistserver"
	}
	if newCfg.Now == nil {
		newCfg.Now = time.Now
	}

	return newCfg
}

// Validate returns an error matching jellypoint.ErrConfiguration if cfg cannot
// be used.
func (cfg Config) Validate() error {
	if cfg.Store == nil {
		return jellypoint.ConfigError("store is required")
	}
	if cfg.TokenTTL < 0 {
		return jellypoint.ConfigError("token TTL cannot be negative")
	}
	if len(cfg.Clients) > 0 && len(cfg.TokenSecret) < MinTokenSecretSize {
		return jellypoint.ConfigError(fmt.Sprintf("token secret must be at least %d bytes when clients are configured", MinTokenSecretSize))
	}
	for id, hash := range cfg.Clients {
		if id == "" {
			return jellypoint.ConfigError("client ID cannot be empty")
		}
		if hash == "" {
			return jellypoint.ConfigError(fmt.Sprintf("client %q: secret hash cannot be empty", id))
		}
	}
	return nil
}

// Server serves the list API. The zero-value of a Server should not be used
// directly; call New() to get one ready for use.
type Server struct {
	store       store.Store
	log         jellypoint.Logger
	clients     map[string][]byte
	issuer      token.Issuer
	unauthDelay time.Duration
	now         func() time.Time

	collector *metrics.ServerCollector
	registry  *prometheus.Registry

	mtx     sync.Mutex
	rtr     chi.Router
	http    *http.Server
	serving bool
	closing bool
}

// New creates a Server from cfg.
func New(cfg Config) (*Server, error) {
	cfg = cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		store:       cfg.Store,
		log:         cfg.Log,
		clients:     map[string][]byte{},
		unauthDelay: cfg.UnauthDelay,
		now:         cfg.Now,
		issuer: token.Issuer{
			Name:   cfg.Issuer,
			Secret: cfg.TokenSecret,
			TTL:    cfg.TokenTTL,
			Now:    cfg.Now,
		},
	}
	for id, hash := range cfg.Clients {
		s.clients[id] = []byte(hash)
	}

	if !cfg.DisableMetrics {
		s.collector = metrics.NewServerCollector("jplistserver")
		s.registry = prometheus.NewRegistry()
		if err := s.registry.Register(s.collector); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return s, nil
}

// AuthRequired returns whether the API requires a bearer token.
func (s *Server) AuthRequired() bool {
	return len(s.clients) > 0
}

// Registry returns the registry that server metrics are recorded in, or nil
// if metrics are disabled.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns the root handler of the server.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) routes() chi.Router {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.rtr != nil {
		return s.rtr
	}

	r := chi.NewRouter()
	r.Use(s.dontPanic)
	r.Use(requestGUID)
	if s.collector != nil {
		r.Use(s.collector.Middleware)
		r.Method(http.MethodGet, PathMetrics, metrics.Handler(s.registry))
	}

	r.Post(PathToken, s.endpoint(s.epToken))

	r.Group(func(r chi.Router) {
		if s.AuthRequired() {
			r.Use(s.requireToken)
		}
		r.Handle(PathAPI+"/*", s.endpoint(s.epAPI))
	})

	r.NotFound(s.endpoint(func(req *http.Request) result {
		return notFound("The requested resource does not exist", "no route")
	}))
	r.MethodNotAllowed(s.endpoint(func(req *http.Request) result {
		return methodNotAllowed(req.Method, "")
	}))

	s.rtr = r
	return r
}

// RoutesIndex returns a human-readable formatted string that lists all routes
// and methods currently available in the server.
func (s *Server) RoutesIndex() string {
	routeMethods := map[string][]string{}

	chi.Walk(s.routes(), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routeMethods[route] = append(routeMethods[route], method)
		return nil
	})

	allRoutes := []string{}
	for name := range routeMethods {
		allRoutes = append(allRoutes, name)
	}
	sort.Strings(allRoutes)

	var sb strings.Builder
	for _, r := range allRoutes {
		sb.WriteString("* ")
		sb.WriteString(r)
		sb.WriteString(" - ")

		meths := routeMethods[r]
		sort.Strings(meths)
		sb.WriteString(strings.Join(meths, ", "))
		sb.WriteRune('\n')
	}

	return strings.TrimSpace(sb.String())
}

// ServeForever listens on addr and serves requests until the server is shut
// down. If it returns as a result of Shutdown being called elsewhere, it will
// return http.ErrServerClosed.
func (s *Server) ServeForever(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves requests on l until the server is shut down. l is closed when
// Serve returns.
func (s *Server) Serve(l net.Listener) error {
	s.mtx.Lock()
	if s.serving {
		s.mtx.Unlock()
		l.Close()
		return fmt.Errorf("server is already running")
	}
	s.serving = true
	s.mtx.Unlock()

	rtr := s.routes()

	s.mtx.Lock()
	s.http = &http.Server{Handler: rtr, ReadHeaderTimeout: 30 * time.Second}
	srv := s.http
	s.mtx.Unlock()

	defer func() {
		s.mtx.Lock()
		s.closing = false
		s.serving = false
		s.mtx.Unlock()
	}()

	s.log.Infof("Listening on %s", l.Addr())
	return srv.Serve(l)
}

// Shutdown shuts down the server gracefully, first closing the HTTP server to
// new connections and then closing the store. This will cause Serve to return
// in any goroutine that is blocking on it. If ctx is canceled while shutting
// down, the store is not closed.
//
// Returns a non-nil error if the server is not currently running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closing {
		return fmt.Errorf("close already in-progress in another goroutine")
	}
	if !s.serving {
		return fmt.Errorf("server is not running")
	}
	s.closing = true

	var fullError error

	if s.http != nil {
		err := s.http.Shutdown(ctx)
		s.http = nil
		if err != nil {
			fullError = fmt.Errorf("stop HTTP server: %w", err)
			if errors.Is(err, ctx.Err()) {
				return fullError
			}
		}
	}

	if err := s.store.Close(); err != nil {
		storeErr := fmt.Errorf("close store: %w", err)
		if fullError != nil {
			fullError = fmt.Errorf("%s\nadditionally: %w", fullError, storeErr)
		} else {
			fullError = storeErr
		}
	}

	return fullError
}
