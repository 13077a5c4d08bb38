package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dekarrin/jellypoint"
	"github.com/stretchr/testify/assert"
)

const yamlConfig = `
site:
  url: https://contoso.example.com/sites/dev
  list: Tasks
  timeout: 10s
  credentials:
    token_url: https://login.example.com/token
    client_id: cid
    client_secret: csecret
server:
  listen: 0.0.0.0:9090
  store: sqlite
  dir: ./data
  lists: [Tasks, Contacts]
  token_secret: 0123456789abcdef0123456789abcdef
  token_ttl: 15m
  clients:
    cid: $2a$10$abcdefghijklmnopqrstuu
log:
  enabled: true
  provider: std
  file: jp.log
`

const jsonConfig = `{
  "site": {"url": "http://localhost:8080", "credentials": {"access_token": "tok"}},
  "log": {"enabled": false}
}`

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func Test_Load_YAML(t *testing.T) {
	assert := assert.New(t)

	cfg, err := Load(writeFile(t, "jp.yml", yamlConfig))
	if !assert.NoError(err) {
		return
	}

	assert.Equal("https://contoso.example.com/sites/dev", cfg.Site.URL)
	assert.Equal("Tasks", cfg.Site.List)
	assert.Equal(10*time.Second, cfg.Site.Timeout)
	if assert.NotNil(cfg.Site.Credentials) {
		assert.Equal("cid", cfg.Site.Credentials.ClientID)
	}

	assert.Equal("0.0.0.0", cfg.Server.Address)
	assert.Equal(9090, cfg.Server.Port)
	assert.Equal(StoreSQLite, cfg.Server.Store)
	assert.Equal([]string{"Tasks", "Contacts"}, cfg.Server.Lists)
	assert.Equal(15*time.Minute, cfg.Server.TokenTTL)
	assert.Len(cfg.Server.Clients, 1)

	assert.True(cfg.Log.Enabled)
	assert.Equal(jellypoint.StdLog, cfg.Log.Provider)

	cfg = cfg.FillDefaults()
	assert.NoError(cfg.Validate())
	assert.Equal("lists.db", cfg.Server.Snapshot)
	assert.Equal("jplistserver", cfg.Server.Issuer)
}

func Test_Load_JSON(t *testing.T) {
	assert := assert.New(t)

	cfg, err := Load(writeFile(t, "jp.JSON", jsonConfig))
	if !assert.NoError(err) {
		return
	}

	cfg = cfg.FillDefaults()
	assert.NoError(cfg.Validate())

	opts := cfg.Site.Options()
	assert.True(opts.UseClientCredentials())
	assert.Equal("tok", opts.AccessToken())
	assert.Equal(30*time.Second, cfg.Site.Timeout)
	assert.Equal(StoreInMemory, cfg.Server.Store)
	assert.Equal("localhost:8080", cfg.Server.Addr())
}

func Test_Load_Errors(t *testing.T) {
	testCases := []struct {
		name     string
		file     string
		content  string
		expectIs error
	}{
		{name: "unsupported extension", file: "jp.toml", content: "a = 1", expectIs: jellypoint.ErrConfiguration},
		{name: "malformed yaml", file: "jp.yaml", content: "site: [", expectIs: jellypoint.ErrConfiguration},
		{name: "unknown log provider", file: "jp.yaml", content: "log:\n  provider: syslog\n", expectIs: jellypoint.ErrConfiguration},
		{name: "bad store", file: "jp.yaml", content: "server:\n  store: redis\n", expectIs: jellypoint.ErrConfiguration},
		{name: "bad duration", file: "jp.json", content: `{"server": {"token_ttl": "soon"}}`, expectIs: jellypoint.ErrConfiguration},
		{name: "bad port", file: "jp.json", content: `{"server": {"listen": "localhost:http"}}`, expectIs: jellypoint.ErrConfiguration},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			_, err := Load(writeFile(t, tc.file, tc.content))
			assert.ErrorIs(err, tc.expectIs)
		})
	}
}

func Test_Load_MissingFile(t *testing.T) {
	assert := assert.New(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(err, os.ErrNotExist)
}

func Test_Config_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Site: Site{URL: "https://example.com"},
		}.FillDefaults()
	}

	testCases := []struct {
		name      string
		modify    func(cfg *Config)
		expectErr bool
	}{
		{name: "defaults", modify: func(cfg *Config) {}},
		{name: "no site is fine", modify: func(cfg *Config) { cfg.Site = Site{} }},
		{name: "site scheme", modify: func(cfg *Config) { cfg.Site.URL = "ftp://example.com" }, expectErr: true},
		{name: "credentials without token URL", modify: func(cfg *Config) {
			cfg.Site.Credentials = &Credentials{ClientID: "cid"}
		}, expectErr: true},
		{name: "port out of range", modify: func(cfg *Config) { cfg.Server.Port = 70000 }, expectErr: true},
		{name: "clients without secret", modify: func(cfg *Config) {
			cfg.Server.Clients = map[string]string{"cid": "hash"}
		}, expectErr: true},
		{name: "clients with short secret", modify: func(cfg *Config) {
			cfg.Server.Clients = map[string]string{"cid": "hash"}
			cfg.Server.TokenSecret = []byte("short")
		}, expectErr: true},
		{name: "blank seed list", modify: func(cfg *Config) { cfg.Server.Lists = []string{" "} }, expectErr: true},
		{name: "sqlite without file", modify: func(cfg *Config) {
			cfg.Server.Store = StoreSQLite
			cfg.Server.Snapshot = ""
		}, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			cfg := valid()
			tc.modify(&cfg)

			err := cfg.Validate()
			if tc.expectErr {
				assert.ErrorIs(err, jellypoint.ErrConfiguration)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func Test_Site_Options(t *testing.T) {
	assert := assert.New(t)

	opts := Site{
		URL:         "https://example.com",
		List:        "Tasks",
		Credentials: &Credentials{TokenURL: "https://login/token", ClientID: "cid", ClientSecret: "s"},
	}.Options()

	assert.Equal("https://example.com", opts.SiteURL())
	assert.Equal("Tasks", opts.ListName())
	assert.True(opts.UseClientCredentials())
	assert.Equal("https://login/token", opts.TokenURL())
	assert.Equal("", opts.AccessToken())
}

func Test_Log_Create(t *testing.T) {
	assert := assert.New(t)

	log, err := Log{}.Create()
	assert.NoError(err)
	assert.IsType(jellypoint.NoOpLogger{}, log)

	log, err = Log{Enabled: true, Provider: jellypoint.StdLog, File: filepath.Join(t.TempDir(), "x.log")}.Create()
	assert.NoError(err)
	assert.NotNil(log)
}

func Test_Dump_HidesSecrets(t *testing.T) {
	assert := assert.New(t)

	cfg, err := Parse(YAML, []byte(yamlConfig))
	if !assert.NoError(err) {
		return
	}

	out := string(Dump(cfg))
	assert.Contains(out, "client_id: cid")
	assert.NotContains(out, "csecret")
	assert.NotContains(out, "0123456789abcdef")
	assert.Contains(out, "0.0.0.0:9090")

	jsonCfg, err := Parse(JSON, []byte(jsonConfig))
	if !assert.NoError(err) {
		return
	}
	out = string(Dump(jsonCfg))
	assert.Contains(out, `"access_token": "********"`)
}
