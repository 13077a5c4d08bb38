package jellypoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Options_Defaults(t *testing.T) {
	assert := assert.New(t)

	var opts Options

	assert.Equal("", opts.SiteURL())
	assert.Equal("", opts.ListName())
	assert.False(opts.UseClientCredentials())
}

func Test_Options_With(t *testing.T) {
	testCases := []struct {
		name  string
		apply func(Options) Options
		check func(assert *assert.Assertions, o Options)
	}{
		{
			name:  "site URL",
			apply: func(o Options) Options { return o.WithSiteURL("https://contoso.example.com/sites/test") },
			check: func(assert *assert.Assertions, o Options) {
				assert.Equal("https://contoso.example.com/sites/test", o.SiteURL())
			},
		},
		{
			name:  "list name",
			apply: func(o Options) Options { return o.WithListName("CustomList") },
			check: func(assert *assert.Assertions, o Options) {
				assert.Equal("CustomList", o.ListName())
			},
		},
		{
			name:  "client credentials flag",
			apply: func(o Options) Options { return o.WithUseClientCredentials(true) },
			check: func(assert *assert.Assertions, o Options) {
				assert.True(o.UseClientCredentials())
			},
		},
		{
			name: "client credentials",
			apply: func(o Options) Options {
				return o.WithClientCredentials("https://login.example.com/token", "app", "s3cret")
			},
			check: func(assert *assert.Assertions, o Options) {
				assert.True(o.UseClientCredentials())
				assert.Equal("https://login.example.com/token", o.TokenURL())
				assert.Equal("app", o.ClientID())
				assert.Equal("s3cret", o.ClientSecret())
			},
		},
		{
			name:  "access token",
			apply: func(o Options) Options { return o.WithAccessToken("tok") },
			check: func(assert *assert.Assertions, o Options) {
				assert.True(o.UseClientCredentials())
				assert.Equal("tok", o.AccessToken())
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			original := NewOptions("https://original.example.com").WithListName("Original")
			snapshot := original

			actual := tc.apply(original)

			tc.check(assert, actual)
			assert.Equal(snapshot, original, "original was mutated")
			assert.NotEqual(original, actual)
		})
	}
}

func Test_Options_Chained(t *testing.T) {
	assert := assert.New(t)

	opts := Options{}.
		WithSiteURL("https://contoso.example.com/sites/test").
		WithListName("Employees").
		WithUseClientCredentials(true)

	assert.Equal("https://contoso.example.com/sites/test", opts.SiteURL())
	assert.Equal("Employees", opts.ListName())
	assert.True(opts.UseClientCredentials())

	clone := opts.WithSiteURL("https://contoso.example.com/sites/test")
	assert.Equal(opts, clone)
}

func Test_Options_Validate(t *testing.T) {
	testCases := []struct {
		name      string
		opts      Options
		expectErr bool
	}{
		{name: "zero value", opts: Options{}, expectErr: true},
		{name: "empty site", opts: NewOptions(""), expectErr: true},
		{name: "whitespace site", opts: NewOptions("  \t\n "), expectErr: true},
		{name: "any non-blank site", opts: NewOptions("x")},
		{name: "full URL", opts: NewOptions("https://contoso.example.com/sites/test")},
		{
			name:      "credential mode without token URL",
			opts:      NewOptions("https://a.example.com").WithUseClientCredentials(true),
			expectErr: true,
		},
		{
			name:      "credential mode without client ID",
			opts:      NewOptions("https://a.example.com").WithClientCredentials("https://t.example.com", "", "s"),
			expectErr: true,
		},
		{
			name: "credential mode with client",
			opts: NewOptions("https://a.example.com").WithClientCredentials("https://t.example.com", "app", "s"),
		},
		{
			name: "credential mode with access token",
			opts: NewOptions("https://a.example.com").WithAccessToken("tok"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			err := tc.opts.Validate()

			if tc.expectErr {
				assert.Error(err)
				assert.True(errors.Is(err, ErrConfiguration))
			} else {
				assert.NoError(err)
			}
		})
	}
}

func Test_Options_LogFragment(t *testing.T) {
	t.Run("all set", func(t *testing.T) {
		assert := assert.New(t)

		opts := NewOptions("https://contoso.example.com/sites/test").
			WithListName("Employees").
			WithUseClientCredentials(true)

		frag := opts.LogFragment()

		assert.Contains(frag, "SiteURL=https://contoso.example.com/sites/test ")
		assert.Contains(frag, "ListName=Employees ")
		assert.Contains(frag, "UseClientCredentials=true ")
	})

	t.Run("defaults are left out", func(t *testing.T) {
		assert := assert.New(t)

		assert.Equal("", Options{}.LogFragment())
		assert.Equal("SiteURL=x ", NewOptions("x").LogFragment())
	})

	t.Run("secret never appears", func(t *testing.T) {
		assert := assert.New(t)

		opts := NewOptions("x").WithClientCredentials("https://t", "app", "hunter2")

		assert.NotContains(opts.LogFragment(), "hunter2")
	})
}

func Test_Options_DebugInfo(t *testing.T) {
	t.Run("all options", func(t *testing.T) {
		assert := assert.New(t)

		opts := NewOptions("https://contoso.example.com/sites/test").
			WithListName("Employees").
			WithClientCredentials("https://t.example.com", "app", "hunter2")
		info := map[string]string{}

		opts.DebugInfo(info)

		assert.Equal("https://contoso.example.com/sites/test", info["jellypoint:SiteURL"])
		assert.Equal("Employees", info["jellypoint:ListName"])
		assert.Equal("true", info["jellypoint:UseClientCredentials"])
		assert.Equal("(set)", info["jellypoint:ClientSecret"])
		for _, v := range info {
			assert.NotEqual("hunter2", v)
		}
	})

	t.Run("null values", func(t *testing.T) {
		assert := assert.New(t)

		info := map[string]string{}

		Options{}.DebugInfo(info)

		assert.Equal("(null)", info["jellypoint:SiteURL"])
		assert.Equal("(null)", info["jellypoint:ListName"])
		assert.Equal("false", info["jellypoint:UseClientCredentials"])
	})
}

func Test_Options_SameProvider(t *testing.T) {
	assert := assert.New(t)

	a := NewOptions("https://contoso.example.com/sites/test").WithListName("Employees").WithUseClientCredentials(true)
	b := NewOptions("https://contoso.example.com/sites/test").WithListName("Employees").WithUseClientCredentials(true)
	c := NewOptions("https://contoso.example.com/sites/test2").WithListName("Employees").WithUseClientCredentials(true)
	d := a.WithListName("Departments")

	assert.True(a.SameProvider(b))
	assert.False(a.SameProvider(c))
	assert.False(a.SameProvider(d))
}
