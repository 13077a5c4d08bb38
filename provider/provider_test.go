package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/client"
	"github.com/dekarrin/jellypoint/client/clienttest"
	"github.com/stretchr/testify/assert"
)

func Test_Registry_TryAdd(t *testing.T) {
	assert := assert.New(t)

	var r Registry
	first := func(res *Resolver) (interface{}, error) { return "first", nil }
	second := func(res *Resolver) (interface{}, error) { return "second", nil }

	assert.True(r.TryAdd("thing", first))
	assert.False(r.TryAdd("THING", second))
	assert.False(r.TryAdd("other", nil))
	assert.True(r.Has("thing"))
	assert.False(r.Has("other"))

	assert.NoError(r.Replace("Thing", second))
	assert.Error(r.Replace("thing", nil))

	svc, err := (&Resolver{reg: r.reg, built: map[Capability]interface{}{}, resolving: map[Capability]bool{}}).Resolve("thing")
	assert.NoError(err)
	assert.Equal("second", svc)
}

func Test_Registry_List(t *testing.T) {
	assert := assert.New(t)

	var r Registry
	AddDefaults(&r)

	assert.Equal([]Capability{
		CapClient,
		CapCodeGenerator,
		CapConnection,
		CapDatabaseCreator,
		CapExecutionStrategyFactory,
		CapHistoryRepository,
		CapModelFactory,
		CapSQLGenerationHelper,
		CapTypeMappingSource,
		CapUpdateExecutor,
	}, r.List())
}

func Test_Open_ValidatesBeforeAnything(t *testing.T) {
	testCases := []struct {
		name string
		opts jellypoint.Options
	}{
		{name: "zero options", opts: jellypoint.Options{}},
		{name: "empty site", opts: jellypoint.NewOptions("")},
		{name: "whitespace site", opts: jellypoint.NewOptions("   ")},
		{name: "credentials without token url", opts: jellypoint.NewOptions("https://x").WithUseClientCredentials(true)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			built := false
			var r Registry
			r.TryAdd(CapClient, func(res *Resolver) (interface{}, error) {
				built = true
				return clienttest.New("x"), nil
			})

			_, err := Open(context.Background(), tc.opts, Config{Registry: &r})
			assert.ErrorIs(err, jellypoint.ErrConfiguration)
			assert.False(built)
		})
	}
}

func Test_Open_Defaults(t *testing.T) {
	assert := assert.New(t)

	p, err := Open(context.Background(), jellypoint.NewOptions("https://example.com/sites/a").WithListName("Tasks"), Config{})
	if !assert.NoError(err) {
		return
	}
	defer p.Close()

	assert.Equal("Tasks", p.Options().ListName())
	if assert.NotNil(p.Client()) {
		assert.Equal("https://example.com/sites/a", p.Client().SiteURL())
	}
	if assert.NotNil(p.Connection()) {
		assert.Same(p.Client(), p.Connection().Client())
	}
	assert.NotNil(p.HistoryRepository())
	assert.NotNil(p.UpdateExecutor())
	assert.False(p.ExecutionStrategyFactory().Create().RetriesOnFailure())
	assert.Equal("[x]", p.SQL().DelimitIdentifier("x"))
	assert.Same(p.Client(), p.ModelFactory().Client)

	exists, err := p.DatabaseCreator().Exists(context.Background())
	assert.NoError(err)
	assert.True(exists)

	_, err = p.Connection().DB()
	assert.ErrorIs(err, jellypoint.ErrUnsupported)
}

func Test_Open_CallerRegistrationWins(t *testing.T) {
	assert := assert.New(t)

	fake := clienttest.New("https://example.com")

	var r Registry
	r.TryAdd(CapClient, func(res *Resolver) (interface{}, error) {
		return fake, nil
	})

	p, err := Open(context.Background(), jellypoint.NewOptions("https://example.com"), Config{Registry: &r})
	if !assert.NoError(err) {
		return
	}

	assert.Same(fake, p.Client())
	assert.Same(fake, p.ModelFactory().Client)
	assert.NotNil(p.HistoryRepository())
}

func Test_Open_CustomCapability(t *testing.T) {
	assert := assert.New(t)

	var r Registry
	r.TryAdd(CapClient, func(res *Resolver) (interface{}, error) { return clienttest.New("x"), nil })
	r.TryAdd("greeting", func(res *Resolver) (interface{}, error) {
		return "hello " + res.Options().SiteURL(), nil
	})

	p, err := Open(context.Background(), jellypoint.NewOptions("https://x"), Config{Registry: &r})
	if !assert.NoError(err) {
		return
	}

	svc, ok := p.Service("greeting")
	assert.True(ok)
	assert.Equal("hello https://x", svc)

	_, ok = p.Service("missing")
	assert.False(ok)
}

func Test_Open_WrongType(t *testing.T) {
	assert := assert.New(t)

	fake := clienttest.New("x")

	var r Registry
	r.TryAdd(CapClient, func(res *Resolver) (interface{}, error) { return fake, nil })
	r.TryAdd(CapExecutionStrategyFactory, func(res *Resolver) (interface{}, error) { return 42, nil })

	_, err := Open(context.Background(), jellypoint.NewOptions("https://x"), Config{Registry: &r})
	assert.ErrorIs(err, jellypoint.ErrConfiguration)
	assert.Equal(1, fake.Closes(), "client built before the failure is released")
}

func Test_Open_FactoryError(t *testing.T) {
	assert := assert.New(t)

	boom := errors.New("boom")

	var r Registry
	r.TryAdd(CapHistoryRepository, func(res *Resolver) (interface{}, error) { return nil, boom })

	_, err := Open(context.Background(), jellypoint.NewOptions("https://x"), Config{Registry: &r})
	assert.ErrorIs(err, boom)
}

func Test_Open_Cycle(t *testing.T) {
	assert := assert.New(t)

	r := Registry{DisableDefaults: true}
	r.TryAdd("a", func(res *Resolver) (interface{}, error) { return res.Resolve("b") })
	r.TryAdd("b", func(res *Resolver) (interface{}, error) { return res.Resolve("a") })

	_, err := Open(context.Background(), jellypoint.NewOptions("https://x"), Config{Registry: &r})
	assert.ErrorIs(err, jellypoint.ErrConfiguration)
	assert.Contains(err.Error(), "cycle")
}

func Test_Open_DisableDefaults(t *testing.T) {
	assert := assert.New(t)

	r := Registry{DisableDefaults: true}

	p, err := Open(context.Background(), jellypoint.NewOptions("https://x"), Config{Registry: &r})
	if !assert.NoError(err) {
		return
	}

	assert.Nil(p.Client())
	assert.Nil(p.Connection())
	assert.NoError(p.Close())
}

func Test_Open_ClientCredentials(t *testing.T) {
	assert := assert.New(t)

	var tokenCalls, apiCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/token":
			tokenCalls++
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
		default:
			apiCalls++
			if req.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"d":{"Title":"Root"}}`))
		}
	}))
	defer srv.Close()

	opts := jellypoint.NewOptions(srv.URL).WithClientCredentials(srv.URL+"/token", "cid", "secret")

	err := Use(context.Background(), opts, Config{}, func(ctx context.Context, p *Provider) error {
		// opening does not touch the network
		assert.Equal(0, tokenCalls)

		_, err := p.Client().ExecuteQuery(ctx, "web")
		return err
	})
	assert.NoError(err)
	assert.Equal(1, tokenCalls)
	assert.Equal(1, apiCalls)
}

type closeTrackingClient struct {
	client.Client
	closed int
}

func (c *closeTrackingClient) Close() error {
	c.closed++
	return nil
}

func Test_Use_ClosesOnAllPaths(t *testing.T) {
	newRegistry := func(c *closeTrackingClient) *Registry {
		r := &Registry{}
		r.TryAdd(CapClient, func(res *Resolver) (interface{}, error) { return c, nil })
		return r
	}
	opts := jellypoint.NewOptions("https://x")

	t.Run("success", func(t *testing.T) {
		assert := assert.New(t)

		c := &closeTrackingClient{}
		err := Use(context.Background(), opts, Config{Registry: newRegistry(c)}, func(ctx context.Context, p *Provider) error {
			return nil
		})
		assert.NoError(err)
		assert.Equal(1, c.closed)
	})

	t.Run("error", func(t *testing.T) {
		assert := assert.New(t)

		boom := errors.New("boom")
		c := &closeTrackingClient{}
		err := Use(context.Background(), opts, Config{Registry: newRegistry(c)}, func(ctx context.Context, p *Provider) error {
			return boom
		})
		assert.ErrorIs(err, boom)
		assert.Equal(1, c.closed)
	})

	t.Run("panic", func(t *testing.T) {
		assert := assert.New(t)

		c := &closeTrackingClient{}
		assert.PanicsWithValue("kaboom", func() {
			_ = Use(context.Background(), opts, Config{Registry: newRegistry(c)}, func(ctx context.Context, p *Provider) error {
				panic("kaboom")
			})
		})
		assert.Equal(1, c.closed)
	})

	t.Run("invalid options never open", func(t *testing.T) {
		assert := assert.New(t)

		c := &closeTrackingClient{}
		called := false
		err := Use(context.Background(), jellypoint.NewOptions(""), Config{Registry: newRegistry(c)}, func(ctx context.Context, p *Provider) error {
			called = true
			return nil
		})
		assert.ErrorIs(err, jellypoint.ErrConfiguration)
		assert.False(called)
		assert.Equal(0, c.closed)
	})
}
