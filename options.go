package jellypoint

import (
	"fmt"
	"strings"
)

// Options holds the settings used to reach a list site. It is a value type;
// every With* method returns a modified copy and leaves the receiver alone, so
// an Options can be shared freely between goroutines and providers.
//
// The zero value is a valid Options with nothing set. It will not pass
// Validate until a site URL is given.
type Options struct {
	siteURL              string
	listName             string
	useClientCredentials bool

	clientID     string
	clientSecret string
	tokenURL     string
	accessToken  string
}

// NewOptions returns an Options with the site URL set.
func NewOptions(siteURL string) Options {
	return Options{}.WithSiteURL(siteURL)
}

// SiteURL is the absolute URL of the site whose /_api endpoint is used.
func (o Options) SiteURL() string { return o.siteURL }

// ListName is the default list for operations that do not name one.
func (o Options) ListName() string { return o.listName }

// UseClientCredentials is whether requests are authenticated with a bearer
// token.
func (o Options) UseClientCredentials() bool { return o.useClientCredentials }

// ClientID is the client identifier sent to the token endpoint.
func (o Options) ClientID() string { return o.clientID }

// ClientSecret is the secret sent to the token endpoint.
func (o Options) ClientSecret() string { return o.clientSecret }

// TokenURL is the OAuth2 token endpoint used in client credentials mode.
func (o Options) TokenURL() string { return o.tokenURL }

// AccessToken is a pre-acquired bearer token. When set it is used as-is and the
// token endpoint is never called.
func (o Options) AccessToken() string { return o.accessToken }

// WithSiteURL returns a copy of o with the site URL set.
func (o Options) WithSiteURL(siteURL string) Options {
	o.siteURL = siteURL
	return o
}

// WithListName returns a copy of o with the default list name set.
func (o Options) WithListName(listName string) Options {
	o.listName = listName
	return o
}

// WithUseClientCredentials returns a copy of o with credential mode set.
func (o Options) WithUseClientCredentials(use bool) Options {
	o.useClientCredentials = use
	return o
}

// WithClientCredentials returns a copy of o that authenticates against the
// given token endpoint with a client ID and secret. Credential mode is turned
// on.
func (o Options) WithClientCredentials(tokenURL, clientID, clientSecret string) Options {
	o.useClientCredentials = true
	o.tokenURL = tokenURL
	o.clientID = clientID
	o.clientSecret = clientSecret
	return o
}

// WithAccessToken returns a copy of o that sends the given bearer token on
// every request. Credential mode is turned on.
func (o Options) WithAccessToken(token string) Options {
	o.useClientCredentials = true
	o.accessToken = token
	return o
}

// Validate returns an error matching ErrConfiguration if o cannot be used to
// open a provider. A site URL that is empty or only whitespace is rejected. In
// credential mode, either an access token or both a token URL and client ID
// must be present.
func (o Options) Validate() error {
	if strings.TrimSpace(o.siteURL) == "" {
		return ConfigError("site URL is required")
	}

	if o.useClientCredentials && o.accessToken == "" {
		if strings.TrimSpace(o.tokenURL) == "" {
			return ConfigError("client credentials: token URL is required")
		}
		if strings.TrimSpace(o.clientID) == "" {
			return ConfigError("client credentials: client ID is required")
		}
	}

	return nil
}

// LogFragment returns a short description of o for inclusion in log lines.
// Only fields that differ from their default are listed. Each entry is
// followed by a single space.
func (o Options) LogFragment() string {
	var sb strings.Builder

	if o.siteURL != "" {
		sb.WriteString("SiteURL=")
		sb.WriteString(o.siteURL)
		sb.WriteRune(' ')
	}
	if o.listName != "" {
		sb.WriteString("ListName=")
		sb.WriteString(o.listName)
		sb.WriteRune(' ')
	}
	if o.useClientCredentials {
		sb.WriteString("UseClientCredentials=true ")
	}
	if o.clientID != "" {
		sb.WriteString("ClientID=")
		sb.WriteString(o.clientID)
		sb.WriteRune(' ')
	}

	return sb.String()
}

// DebugInfo adds every setting of o to info, keyed with a "jellypoint:"
// prefix. Unset strings are recorded as "(null)". Secrets and tokens are only
// recorded as present or absent.
func (o Options) DebugInfo(info map[string]string) {
	orNull := func(s string) string {
		if s == "" {
			return "(null)"
		}
		return s
	}
	present := func(s string) string {
		if s == "" {
			return "(null)"
		}
		return "(set)"
	}

	info["jellypoint:SiteURL"] = orNull(o.siteURL)
	info["jellypoint:ListName"] = orNull(o.listName)
	info["jellypoint:UseClientCredentials"] = fmt.Sprintf("%t", o.useClientCredentials)
	info["jellypoint:ClientID"] = orNull(o.clientID)
	info["jellypoint:TokenURL"] = orNull(o.tokenURL)
	info["jellypoint:ClientSecret"] = present(o.clientSecret)
	info["jellypoint:AccessToken"] = present(o.accessToken)
}

// SameProvider returns whether o and other address the same site and list in
// the same credential mode, meaning a provider opened for one can be reused
// for the other.
func (o Options) SameProvider(other Options) bool {
	return o.siteURL == other.siteURL &&
		o.listName == other.listName &&
		o.useClientCredentials == other.useClientCredentials
}

// String returns the log fragment of o without its trailing space.
func (o Options) String() string {
	return strings.TrimSpace(o.LogFragment())
}
