// Package config contains the configuration read by the jellypoint command
// line tools, along with conversion of it into provider Options.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/internal/logging"
)

// StoreType is the kind of persistence used by the development list server.
type StoreType string

const (
	StoreInMemory StoreType = "inmem"
	StoreSQLite   StoreType = "sqlite"
)

// ParseStoreType parses the name of a StoreType. The empty string parses as
// StoreInMemory.
func ParseStoreType(s string) (StoreType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(StoreInMemory):
		return StoreInMemory, nil
	case string(StoreSQLite):
		return StoreSQLite, nil
	default:
		return "", fmt.Errorf("unknown store type %q", s)
	}
}

// Log contains logging options.
type Log struct {
	// Enabled is whether to enable logging statements.
	Enabled bool

	// Provider must be the name of one of the logging providers. If set to
	// None or unset, it will default to jellypoint.Jellog.
	Provider jellypoint.LogProvider

	// File to log to. If not set, all logging will be done to stderr and it
	// will display all logging statements. If set, the file will receive all
	// levels of log messages and stderr will show only those of Info level or
	// higher.
	File string
}

// Create returns the Logger described by log. If logging is not enabled, a
// jellypoint.NoOpLogger is returned.
func (log Log) Create() (jellypoint.Logger, error) {
	if !log.Enabled {
		return jellypoint.NoOpLogger{}, nil
	}
	return logging.New(log.Provider, log.File)
}

func (log Log) FillDefaults() Log {
	newLog := log

	if newLog.Provider == jellypoint.NoLog {
		newLog.Provider = jellypoint.Jellog
	}

	return newLog
}

func (log Log) Validate() error {
	if log.Provider == jellypoint.NoLog {
		return fmt.Errorf("provider: must not be empty")
	}

	return nil
}

// Credentials holds the settings for credential mode. Either AccessToken or
// TokenURL with ClientID must be given.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	AccessToken  string
}

// Site is the list site that the client connects to.
type Site struct {
	// URL is the absolute URL of the site. Required.
	URL string

	// List is the default list used by commands that are not given one.
	List string

	// Credentials is nil if requests are not authenticated.
	Credentials *Credentials

	// Timeout bounds each request made by the command line tools. Defaults
	// to 30 seconds.
	Timeout time.Duration
}

func (s Site) FillDefaults() Site {
	newS := s

	if newS.Timeout == 0 {
		newS.Timeout = 30 * time.Second
	}

	return newS
}

func (s Site) Validate() error {
	if err := s.Options().Validate(); err != nil {
		return err
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url: scheme must be http or https")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout: must not be negative")
	}

	return nil
}

// Options converts s into the Options used to open a provider.
func (s Site) Options() jellypoint.Options {
	opts := jellypoint.NewOptions(s.URL)
	if s.List != "" {
		opts = opts.WithListName(s.List)
	}

	if s.Credentials != nil {
		cred := *s.Credentials
		if cred.AccessToken != "" {
			opts = opts.WithAccessToken(cred.AccessToken)
		} else {
			opts = opts.WithClientCredentials(cred.TokenURL, cred.ClientID, cred.ClientSecret)
		}
	}

	return opts
}

// Server is the configuration of the development list server.
type Server struct {
	// Address is the internet address that the server will listen on. It will
	// default to "localhost" if none is given.
	Address string

	// Port is the port that the server will listen on. It will default to 8080
	// if none is given.
	Port int

	// Store is the persistence used for lists. Defaults to StoreInMemory.
	Store StoreType

	// DataDir is the directory that the store keeps its files in. For the
	// in-memory store, it is only used if Snapshot is set.
	DataDir string

	// Snapshot, for the in-memory store, is the file in DataDir that the lists
	// are loaded from at start and saved to at shutdown. For the sqlite store
	// it is the database file and defaults to "lists.db".
	Snapshot string

	// Lists are created at start if they do not already exist.
	Lists []string

	// TokenSecret signs the access tokens issued by the server. Required if
	// any Clients are configured.
	TokenSecret []byte

	// TokenTTL is how long issued tokens are valid for. Defaults to one hour.
	TokenTTL time.Duration

	// Issuer is the issuer of the access tokens. Defaults to "jplistserver".
	Issuer string

	// Clients maps client IDs to bcrypt hashes of their secrets. If empty,
	// the server does not require authentication.
	Clients map[string]string

	// DisableMetrics turns off the /metrics endpoint.
	DisableMetrics bool
}

const MinTokenSecretSize = 32

func (srv Server) FillDefaults() Server {
	newSrv := srv

	if newSrv.Address == "" {
		newSrv.Address = "localhost"
	}
	if newSrv.Port == 0 {
		newSrv.Port = 8080
	}
	if newSrv.Store == "" {
		newSrv.Store = StoreInMemory
	}
	if newSrv.DataDir == "" {
		newSrv.DataDir = "."
	}
	if newSrv.Store == StoreSQLite && newSrv.Snapshot == "" {
		newSrv.Snapshot = "lists.db"
	}
	if newSrv.TokenTTL == 0 {
		newSrv.TokenTTL = time.Hour
	}
	if newSrv.Issuer == "" {
		newSrv.Issuer = "jplistserver"
	}

	return newSrv
}

func (srv Server) Validate() error {
	if srv.Port < 1 || srv.Port > 65535 {
		return fmt.Errorf("port: must be between 1 and 65535")
	}
	if srv.Address == "" {
		return fmt.Errorf("address: must not be empty")
	}
	if _, err := ParseStoreType(string(srv.Store)); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if srv.Store == StoreSQLite && srv.Snapshot == "" {
		return fmt.Errorf("snapshot: must not be empty for the sqlite store")
	}
	if srv.TokenTTL < 0 {
		return fmt.Errorf("token_ttl: must not be negative")
	}
	if len(srv.Clients) > 0 && len(srv.TokenSecret) < MinTokenSecretSize {
		return fmt.Errorf("token_secret: must be at least %d bytes when clients are configured", MinTokenSecretSize)
	}
	for id, hash := range srv.Clients {
		if id == "" {
			return fmt.Errorf("clients: client ID must not be empty")
		}
		if hash == "" {
			return fmt.Errorf("clients: %s: secret hash must not be empty", id)
		}
	}
	for i, l := range srv.Lists {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("lists[%d]: must not be empty", i)
		}
	}

	return nil
}

// Addr returns the address and port joined for use with net.Listen.
func (srv Server) Addr() string {
	return fmt.Sprintf("%s:%d", srv.Address, srv.Port)
}

// Config is a complete configuration for the jellypoint tools. Any section may
// be omitted; only the sections used by a tool are validated by it.
type Config struct {
	Site   Site
	Server Server

	// Log is used to configure the built-in logging system. It can be left
	// blank to disable logging entirely.
	Log Log

	// origFormat is the format of config, used in Dump.
	origFormat Format
}

// FillDefaults returns a new Config identical to cfg but with unset values
// set to their defaults.
func (cfg Config) FillDefaults() Config {
	newCFG := cfg

	newCFG.Site = newCFG.Site.FillDefaults()
	newCFG.Server = newCFG.Server.FillDefaults()
	newCFG.Log = newCFG.Log.FillDefaults()

	return newCFG
}

// Validate returns an error matching jellypoint.ErrConfiguration if the Config
// has invalid field values set. Empty and unset values are considered
// invalid; if defaults are intended to be used, call Validate on the return
// value of FillDefaults.
//
// The site section is only checked if it has a URL, since the list server
// does not need one.
func (cfg Config) Validate() error {
	if cfg.Site.URL != "" {
		if err := cfg.Site.Validate(); err != nil {
			return configErr("site", err)
		}
	}
	if err := cfg.Server.Validate(); err != nil {
		return configErr("server", err)
	}
	if err := cfg.Log.Validate(); err != nil {
		return configErr("log", err)
	}

	return nil
}

func configErr(section string, err error) error {
	return jellypoint.NewError(fmt.Sprintf("%s: %v", section, err), jellypoint.ErrConfiguration, err)
}
