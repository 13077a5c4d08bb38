package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/client"
	"github.com/dekarrin/jellypoint/migrations"
	"github.com/dekarrin/jellypoint/scaffold"
	"github.com/dekarrin/jellypoint/sqlgen"
	"github.com/dekarrin/jellypoint/storage"
	"github.com/dekarrin/jellypoint/update"
)

// Config holds what Open needs besides the Options.
type Config struct {
	// Registry holds the factories to build from. If nil, an empty Registry is
	// used, which means only the defaults.
	Registry *Registry

	// Log is given to every service. Defaults to a no-op logger.
	Log jellypoint.Logger

	// HTTPClient is passed to the client and token source. If nil, the client
	// creates and owns its own.
	HTTPClient *http.Client

	// Observer is passed to the client.
	Observer client.RequestObserver
}

// FillDefaults returns a copy of cfg with unset optional values filled in.
func (cfg Config) FillDefaults() Config {
	newCfg := cfg

	if newCfg.Registry == nil {
		newCfg.Registry = &Registry{}
	}
	if newCfg.Log == nil {
		newCfg.Log = jellypoint.NoOpLogger{}
	}

	return newCfg
}

// Provider is an opened set of services for one site. Close it when done.
type Provider struct {
	opts     jellypoint.Options
	services map[Capability]interface{}

	client   client.Client
	conn     *storage.Connection
	creator  storage.DatabaseCreator
	strategy storage.ExecutionStrategyFactory
	history  *migrations.HistoryRepository
	sql      sqlgen.Helper
	types    storage.TypeMappingSource
	executor *update.Executor
	models   scaffold.ModelFactory
	codegen  scaffold.CodeGenerator
}

// Open validates opts and builds every registered service. No network request
// is made. If opts do not validate, the returned error matches
// jellypoint.ErrConfiguration.
func Open(ctx context.Context, opts jellypoint.Options, cfg Config) (*Provider, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg = cfg.FillDefaults()
	if !cfg.Registry.DisableDefaults {
		AddDefaults(cfg.Registry)
	}
	cfg.Registry.init()

	res := &Resolver{
		opts:      opts,
		log:       cfg.Log,
		http:      cfg.HTTPClient,
		observer:  cfg.Observer,
		reg:       cfg.Registry.reg,
		built:     map[Capability]interface{}{},
		resolving: map[Capability]bool{},
	}

	for _, c := range cfg.Registry.List() {
		if _, err := res.Resolve(c); err != nil {
			closeBuilt(res)
			return nil, err
		}
	}

	p := &Provider{opts: opts, services: res.built}
	if err := p.bind(res); err != nil {
		closeBuilt(res)
		return nil, err
	}

	if opts.ListName() == "" {
		cfg.Log.Event(jellypoint.ListConfiguredWarning, "no default list configured; every operation must name its list")
	}
	cfg.Log.Event(jellypoint.ProviderOpened, "provider opened: %s", opts.LogFragment())

	return p, nil
}

// bind fills in the typed fields of p from the built services. Capabilities
// that were not registered are left at their zero values.
func (p *Provider) bind(res *Resolver) error {
	var err error

	if res.reg[CapClient] != nil {
		if p.client, err = resolveAs[client.Client](res, CapClient); err != nil {
			return err
		}
	}
	if res.reg[CapConnection] != nil {
		if p.conn, err = resolveAs[*storage.Connection](res, CapConnection); err != nil {
			return err
		}
	}
	if res.reg[CapDatabaseCreator] != nil {
		if p.creator, err = resolveAs[storage.DatabaseCreator](res, CapDatabaseCreator); err != nil {
			return err
		}
	}
	if res.reg[CapExecutionStrategyFactory] != nil {
		if p.strategy, err = resolveAs[storage.ExecutionStrategyFactory](res, CapExecutionStrategyFactory); err != nil {
			return err
		}
	}
	if res.reg[CapHistoryRepository] != nil {
		if p.history, err = resolveAs[*migrations.HistoryRepository](res, CapHistoryRepository); err != nil {
			return err
		}
	}
	if res.reg[CapSQLGenerationHelper] != nil {
		if p.sql, err = resolveAs[sqlgen.Helper](res, CapSQLGenerationHelper); err != nil {
			return err
		}
	}
	if res.reg[CapTypeMappingSource] != nil {
		if p.types, err = resolveAs[storage.TypeMappingSource](res, CapTypeMappingSource); err != nil {
			return err
		}
	}
	if res.reg[CapUpdateExecutor] != nil {
		if p.executor, err = resolveAs[*update.Executor](res, CapUpdateExecutor); err != nil {
			return err
		}
	}
	if res.reg[CapModelFactory] != nil {
		if p.models, err = resolveAs[scaffold.ModelFactory](res, CapModelFactory); err != nil {
			return err
		}
	}
	if res.reg[CapCodeGenerator] != nil {
		if p.codegen, err = resolveAs[scaffold.CodeGenerator](res, CapCodeGenerator); err != nil {
			return err
		}
	}

	return nil
}

// closeBuilt releases whatever was built before a failed Open.
func closeBuilt(res *Resolver) {
	if conn, ok := res.built[CapConnection].(*storage.Connection); ok {
		conn.Close()
		return
	}
	if c, ok := res.built[CapClient].(client.Client); ok {
		c.Close()
	}
}

func (p *Provider) Options() jellypoint.Options                                { return p.opts }
func (p *Provider) Client() client.Client                                      { return p.client }
func (p *Provider) Connection() *storage.Connection                            { return p.conn }
func (p *Provider) DatabaseCreator() storage.DatabaseCreator                   { return p.creator }
func (p *Provider) ExecutionStrategyFactory() storage.ExecutionStrategyFactory { return p.strategy }
func (p *Provider) HistoryRepository() *migrations.HistoryRepository           { return p.history }
func (p *Provider) SQL() sqlgen.Helper                                         { return p.sql }
func (p *Provider) TypeMappingSource() storage.TypeMappingSource               { return p.types }
func (p *Provider) UpdateExecutor() *update.Executor                           { return p.executor }
func (p *Provider) ModelFactory() scaffold.ModelFactory                        { return p.models }
func (p *Provider) CodeGenerator() scaffold.CodeGenerator                      { return p.codegen }

// Service returns the service built for capability, which may be one a caller
// registered under a name of their own.
func (p *Provider) Service(capability Capability) (interface{}, bool) {
	svc, ok := p.services[normalize(capability)]
	return svc, ok
}

// Close releases the connection, and with it the client. It is safe to call
// more than once.
func (p *Provider) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Use opens a Provider, passes it to fn, and closes it when fn returns or
// panics. The error from fn is returned; if closing also fails, both are
// returned joined.
func Use(ctx context.Context, opts jellypoint.Options, cfg Config, fn func(ctx context.Context, p *Provider) error) (err error) {
	p, err := Open(ctx, opts, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := p.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	return fn(ctx, p)
}
