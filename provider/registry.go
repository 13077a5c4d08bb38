// Package provider assembles the client and extension points for a list site
// from a registration table, and manages their lifetime.
package provider

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/client"
	"github.com/dekarrin/jellypoint/credentials"
	"github.com/dekarrin/jellypoint/migrations"
	"github.com/dekarrin/jellypoint/scaffold"
	"github.com/dekarrin/jellypoint/sqlgen"
	"github.com/dekarrin/jellypoint/storage"
	"github.com/dekarrin/jellypoint/update"
)

// Capability names a service a Provider offers.
type Capability string

const (
	CapClient                   Capability = "client"
	CapConnection               Capability = "connection"
	CapDatabaseCreator          Capability = "database-creator"
	CapExecutionStrategyFactory Capability = "execution-strategy-factory"
	CapHistoryRepository        Capability = "history-repository"
	CapSQLGenerationHelper      Capability = "sql-generation-helper"
	CapTypeMappingSource        Capability = "type-mapping-source"
	CapUpdateExecutor           Capability = "update-executor"
	CapModelFactory             Capability = "model-factory"
	CapCodeGenerator            Capability = "code-generator"
)

// Factory builds the service for one capability. It may resolve other
// capabilities through res.
type Factory func(res *Resolver) (interface{}, error)

// Registry maps capabilities to the factories that build them.
//
// The zero value can be used immediately. The built-in factories are added by
// Open, after anything registered by the caller, so a caller's TryAdd or
// Replace always takes precedence over the defaults. Set DisableDefaults to
// skip them entirely.
type Registry struct {
	DisableDefaults bool
	reg             map[Capability]Factory
}

func (r *Registry) init() {
	if r.reg == nil {
		r.reg = map[Capability]Factory{}
	}
}

// TryAdd registers f for capability if nothing is registered for it yet. It
// returns whether f was registered.
func (r *Registry) TryAdd(capability Capability, f Factory) bool {
	if f == nil {
		return false
	}
	r.init()

	norm := normalize(capability)
	if _, ok := r.reg[norm]; ok {
		return false
	}
	r.reg[norm] = f
	return true
}

// Replace registers f for capability, overwriting any existing registration.
func (r *Registry) Replace(capability Capability, f Factory) error {
	if f == nil {
		return fmt.Errorf("factory for %q cannot be nil", capability)
	}
	r.init()

	r.reg[normalize(capability)] = f
	return nil
}

// Has returns whether a factory is registered for capability.
func (r *Registry) Has(capability Capability) bool {
	r.init()
	_, ok := r.reg[normalize(capability)]
	return ok
}

// List returns an alphabetized list of all registered capabilities.
func (r *Registry) List() []Capability {
	r.init()

	caps := make([]Capability, 0, len(r.reg))
	for k := range r.reg {
		caps = append(caps, k)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

func normalize(c Capability) Capability {
	return Capability(strings.ToLower(strings.TrimSpace(string(c))))
}

// AddDefaults registers the built-in factory for every capability that has no
// registration yet.
func AddDefaults(r *Registry) {
	r.TryAdd(CapClient, func(res *Resolver) (interface{}, error) {
		opts := res.Options()

		var tokens client.TokenSource
		if src := credentials.FromOptions(opts, res.HTTPClient()); src != nil {
			tokens = src
		}

		return client.New(client.Config{
			SiteURL:    opts.SiteURL(),
			HTTPClient: res.HTTPClient(),
			Tokens:     tokens,
			Observer:   res.Observer(),
			Log:        res.Log(),
		})
	})
	r.TryAdd(CapConnection, func(res *Resolver) (interface{}, error) {
		c, err := resolveAs[client.Client](res, CapClient)
		if err != nil {
			return nil, err
		}
		return storage.NewConnection(res.Options().SiteURL(), c, res.Log()), nil
	})
	r.TryAdd(CapDatabaseCreator, func(res *Resolver) (interface{}, error) {
		return storage.DatabaseCreator{}, nil
	})
	r.TryAdd(CapExecutionStrategyFactory, func(res *Resolver) (interface{}, error) {
		return storage.NonRetryingFactory{}, nil
	})
	r.TryAdd(CapHistoryRepository, func(res *Resolver) (interface{}, error) {
		c, err := resolveAs[client.Client](res, CapClient)
		if err != nil {
			return nil, err
		}
		return migrations.New(c, res.Log()), nil
	})
	r.TryAdd(CapSQLGenerationHelper, func(res *Resolver) (interface{}, error) {
		return sqlgen.Helper{}, nil
	})
	r.TryAdd(CapTypeMappingSource, func(res *Resolver) (interface{}, error) {
		return storage.TypeMappingSource{}, nil
	})
	r.TryAdd(CapUpdateExecutor, func(res *Resolver) (interface{}, error) {
		c, err := resolveAs[client.Client](res, CapClient)
		if err != nil {
			return nil, err
		}
		sf, err := resolveAs[storage.ExecutionStrategyFactory](res, CapExecutionStrategyFactory)
		if err != nil {
			return nil, err
		}
		return update.NewExecutor(c, sf.Create(), res.Log()), nil
	})
	r.TryAdd(CapModelFactory, func(res *Resolver) (interface{}, error) {
		c, err := resolveAs[client.Client](res, CapClient)
		if err != nil {
			return nil, err
		}
		return scaffold.ModelFactory{Client: c, Log: res.Log()}, nil
	})
	r.TryAdd(CapCodeGenerator, func(res *Resolver) (interface{}, error) {
		return scaffold.CodeGenerator{}, nil
	})
}

// Resolver builds services on demand from a Registry. Each capability is built
// at most once.
type Resolver struct {
	opts     jellypoint.Options
	log      jellypoint.Logger
	http     *http.Client
	observer client.RequestObserver

	reg       map[Capability]Factory
	built     map[Capability]interface{}
	resolving map[Capability]bool
	order     []Capability
}

// Options returns the options the provider is being opened with.
func (res *Resolver) Options() jellypoint.Options { return res.opts }

// Log returns the provider's logger. It is never nil.
func (res *Resolver) Log() jellypoint.Logger { return res.log }

// HTTPClient returns the HTTP client given to Open, which may be nil.
func (res *Resolver) HTTPClient() *http.Client { return res.http }

// Observer returns the request observer given to Open, which may be nil.
func (res *Resolver) Observer() client.RequestObserver { return res.observer }

// Resolve returns the service for capability, building it if needed.
func (res *Resolver) Resolve(capability Capability) (interface{}, error) {
	norm := normalize(capability)

	if svc, ok := res.built[norm]; ok {
		return svc, nil
	}
	if res.resolving[norm] {
		return nil, jellypoint.ConfigError("dependency cycle resolving %q", norm)
	}

	f, ok := res.reg[norm]
	if !ok {
		return nil, jellypoint.ConfigError("no factory registered for %q", norm)
	}

	res.resolving[norm] = true
	svc, err := f(res)
	delete(res.resolving, norm)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", norm, err)
	}

	res.built[norm] = svc
	res.order = append(res.order, norm)
	return svc, nil
}

func resolveAs[T any](res *Resolver, capability Capability) (T, error) {
	var zero T

	svc, err := res.Resolve(capability)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, jellypoint.ConfigError("%q is registered as %T, which does not provide %T", capability, svc, &zero)
	}
	return typed, nil
}
