package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dekarrin/jellypoint"
	"gopkg.in/yaml.v3"
)

// Format is a file format that a Config can be read from.
type Format int

const (
	NoFormat Format = iota
	JSON
	YAML
)

func (f Format) String() string {
	switch f {
	case JSON:
		return "json"
	case YAML:
		return "yaml"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Extensions returns the file extensions that are read as f.
func (f Format) Extensions() []string {
	switch f {
	case JSON:
		return []string{".json"}
	case YAML:
		return []string{".yaml", ".yml"}
	default:
		return nil
	}
}

// DetectFormat returns the Format of file based on its extension, which is
// not case-sensitive. NoFormat is returned if the extension is not supported.
func DetectFormat(file string) Format {
	ext := strings.ToLower(filepath.Ext(file))
	for _, f := range []Format{JSON, YAML} {
		for _, fExt := range f.Extensions() {
			if ext == fExt {
				return f
			}
		}
	}
	return NoFormat
}

type marshaledCredentials struct {
	TokenURL     string `yaml:"token_url,omitempty" json:"token_url,omitempty"`
	ClientID     string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	AccessToken  string `yaml:"access_token,omitempty" json:"access_token,omitempty"`
}

type marshaledSite struct {
	URL         string                `yaml:"url,omitempty" json:"url,omitempty"`
	List        string                `yaml:"list,omitempty" json:"list,omitempty"`
	Credentials *marshaledCredentials `yaml:"credentials,omitempty" json:"credentials,omitempty"`
	Timeout     string                `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

type marshaledServer struct {
	Listen         string            `yaml:"listen,omitempty" json:"listen,omitempty"`
	Store          string            `yaml:"store,omitempty" json:"store,omitempty"`
	Dir            string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	Snapshot       string            `yaml:"snapshot,omitempty" json:"snapshot,omitempty"`
	Lists          []string          `yaml:"lists,omitempty" json:"lists,omitempty"`
	TokenSecret    string            `yaml:"token_secret,omitempty" json:"token_secret,omitempty"`
	TokenTTL       string            `yaml:"token_ttl,omitempty" json:"token_ttl,omitempty"`
	Issuer         string            `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Clients        map[string]string `yaml:"clients,omitempty" json:"clients,omitempty"`
	DisableMetrics bool              `yaml:"disable_metrics,omitempty" json:"disable_metrics,omitempty"`
}

type marshaledLog struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
	File     string `yaml:"file,omitempty" json:"file,omitempty"`
}

type marshaledConfig struct {
	Site   marshaledSite   `yaml:"site" json:"site"`
	Server marshaledServer `yaml:"server" json:"server"`
	Log    marshaledLog    `yaml:"log" json:"log"`
}

// Load loads a configuration from a JSON or YAML file. The format of the file
// is determined by examining its extension; files ending in .json are parsed as
// JSON files, and files ending in .yaml or .yml are parsed as YAML files. Other
// extensions are not supported. The extension is not case-sensitive.
//
// The returned Config has not had defaults filled or been validated.
func Load(file string) (Config, error) {
	var cfg Config

	f := DetectFormat(file)
	if f == NoFormat {
		return cfg, jellypoint.ConfigError("%q: incompatible format; must be .json, .yml, or .yaml file", file)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return cfg, fmt.Errorf("%q: %w", file, err)
	}

	cfg, err = Parse(f, data)
	if err != nil {
		return cfg, fmt.Errorf("%q: %w", file, err)
	}

	return cfg, nil
}

// Parse reads a Config in the given format from data.
func Parse(f Format, data []byte) (Config, error) {
	var cfg Config
	var mc marshaledConfig

	switch f {
	case JSON:
		if err := json.Unmarshal(data, &mc); err != nil {
			return cfg, jellypoint.NewError(err.Error(), jellypoint.ErrConfiguration, err)
		}
	case YAML:
		if err := yaml.Unmarshal(data, &mc); err != nil {
			return cfg, jellypoint.NewError(err.Error(), jellypoint.ErrConfiguration, err)
		}
	default:
		return cfg, jellypoint.ConfigError("unsupported format: %s", f)
	}

	if err := cfg.unmarshal(mc); err != nil {
		return cfg, err
	}
	cfg.origFormat = f
	return cfg, nil
}

// Dump writes cfg in the format it was loaded from, or YAML if it was not
// loaded from a file. Secrets are replaced with a placeholder.
func Dump(cfg Config) []byte {
	mc := cfg.marshal()

	if mc.Site.Credentials != nil && mc.Site.Credentials.ClientSecret != "" {
		mc.Site.Credentials.ClientSecret = "********"
	}
	if mc.Site.Credentials != nil && mc.Site.Credentials.AccessToken != "" {
		mc.Site.Credentials.AccessToken = "********"
	}
	if mc.Server.TokenSecret != "" {
		mc.Server.TokenSecret = "********"
	}

	var data []byte
	var err error
	if cfg.origFormat == JSON {
		data, err = json.MarshalIndent(mc, "", "  ")
	} else {
		data, err = yaml.Marshal(mc)
	}
	if err != nil {
		panic(fmt.Sprintf("marshal config: %v", err))
	}
	return data
}

func (cfg *Config) unmarshal(m marshaledConfig) error {
	if err := cfg.Site.unmarshal(m.Site); err != nil {
		return configErr("site", err)
	}
	if err := cfg.Server.unmarshal(m.Server); err != nil {
		return configErr("server", err)
	}
	if err := cfg.Log.unmarshal(m.Log); err != nil {
		return configErr("log", err)
	}
	return nil
}

func (cfg Config) marshal() marshaledConfig {
	return marshaledConfig{
		Site:   cfg.Site.marshal(),
		Server: cfg.Server.marshal(),
		Log:    cfg.Log.marshal(),
	}
}

func (s *Site) unmarshal(m marshaledSite) error {
	s.URL = m.URL
	s.List = m.List

	if m.Credentials != nil {
		s.Credentials = &Credentials{
			TokenURL:     m.Credentials.TokenURL,
			ClientID:     m.Credentials.ClientID,
			ClientSecret: m.Credentials.ClientSecret,
			AccessToken:  m.Credentials.AccessToken,
		}
	}

	if m.Timeout != "" {
		d, err := time.ParseDuration(m.Timeout)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		s.Timeout = d
	}

	return nil
}

func (s Site) marshal() marshaledSite {
	m := marshaledSite{URL: s.URL, List: s.List}
	if s.Credentials != nil {
		m.Credentials = &marshaledCredentials{
			TokenURL:     s.Credentials.TokenURL,
			ClientID:     s.Credentials.ClientID,
			ClientSecret: s.Credentials.ClientSecret,
			AccessToken:  s.Credentials.AccessToken,
		}
	}
	if s.Timeout != 0 {
		m.Timeout = s.Timeout.String()
	}
	return m
}

func (srv *Server) unmarshal(m marshaledServer) error {
	if m.Listen != "" {
		addr, port, err := parseListen(m.Listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		srv.Address = addr
		srv.Port = port
	}

	st, err := ParseStoreType(m.Store)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if m.Store != "" {
		srv.Store = st
	}

	srv.DataDir = m.Dir
	srv.Snapshot = m.Snapshot
	srv.Lists = m.Lists
	srv.Issuer = m.Issuer
	srv.DisableMetrics = m.DisableMetrics

	if m.TokenSecret != "" {
		srv.TokenSecret = []byte(m.TokenSecret)
	}
	if m.TokenTTL != "" {
		d, err := time.ParseDuration(m.TokenTTL)
		if err != nil {
			return fmt.Errorf("token_ttl: %w", err)
		}
		srv.TokenTTL = d
	}
	if len(m.Clients) > 0 {
		srv.Clients = make(map[string]string, len(m.Clients))
		for id, hash := range m.Clients {
			srv.Clients[id] = hash
		}
	}

	return nil
}

func (srv Server) marshal() marshaledServer {
	m := marshaledServer{
		Store:          string(srv.Store),
		Dir:            srv.DataDir,
		Snapshot:       srv.Snapshot,
		Lists:          srv.Lists,
		TokenSecret:    string(srv.TokenSecret),
		Issuer:         srv.Issuer,
		DisableMetrics: srv.DisableMetrics,
	}
	if srv.Address != "" || srv.Port != 0 {
		m.Listen = srv.Addr()
	}
	if srv.TokenTTL != 0 {
		m.TokenTTL = srv.TokenTTL.String()
	}
	if len(srv.Clients) > 0 {
		m.Clients = map[string]string{}
		ids := make([]string, 0, len(srv.Clients))
		for id := range srv.Clients {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			m.Clients[id] = srv.Clients[id]
		}
	}
	return m
}

func (log *Log) unmarshal(m marshaledLog) error {
	p, err := jellypoint.ParseLogProvider(m.Provider)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	log.Enabled = m.Enabled
	log.Provider = p
	log.File = m.File
	return nil
}

func (log Log) marshal() marshaledLog {
	m := marshaledLog{Enabled: log.Enabled, File: log.File}
	if log.Provider != jellypoint.NoLog {
		m.Provider = log.Provider.String()
	}
	return m
}

// parseListen splits a listen string of the form "ADDRESS:PORT", ":PORT", or
// "ADDRESS".
func parseListen(s string) (string, int, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return s, 0, nil
	}

	addr := s[:idx]
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("%q is not a valid port", s[idx+1:])
	}
	return addr, port, nil
}
