// Package credentials provides the bearer token sources used when a provider
// runs in client credentials mode.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dekarrin/jellypoint"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway is how long before its expiry a cached token is considered
// stale and refetched.
const DefaultLeeway = time.Minute

// Source supplies bearer tokens. It has the same shape as client.TokenSource.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a Source that always returns the same token.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", jellypoint.ConfigError("static token is empty")
	}
	return string(s), nil
}

// FromOptions returns the Source that opts call for. It returns nil if opts
// are not in client credentials mode. A pre-acquired access token takes
// precedence over the token endpoint.
func FromOptions(opts jellypoint.Options, httpClient *http.Client) Source {
	if !opts.UseClientCredentials() {
		return nil
	}
	if opts.AccessToken() != "" {
		return StaticToken(opts.AccessToken())
	}
	return &ClientCredentials{
		TokenURL:     opts.TokenURL(),
		ClientID:     opts.ClientID(),
		ClientSecret: opts.ClientSecret(),
		HTTPClient:   httpClient,
	}
}

// ClientCredentials fetches access tokens from an OAuth2 token endpoint using
// the client credentials grant, with the secret sent in the form body. The
// most recent token is cached until shortly before it expires.
//
// A ClientCredentials is safe for concurrent use. Concurrent callers that find
// the cache stale wait on a single fetch.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// Scope is sent as the scope parameter if not empty.
	Scope string

	// Resource is sent as the resource parameter if not empty. Some token
	// endpoints require it instead of a scope.
	Resource string

	// HTTPClient is used for token requests. http.DefaultClient is used if it
	// is nil.
	HTTPClient *http.Client

	// Leeway defaults to DefaultLeeway if zero.
	Leeway time.Duration

	// Now defaults to time.Now. Set in tests.
	Now func() time.Time

	mtx     sync.Mutex
	token   string
	expires time.Time
}

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

// Token returns the cached access token if it is still fresh, otherwise it
// fetches a new one. Failures to reach the endpoint or a non-success answer
// match jellypoint.ErrTransport.
func (cc *ClientCredentials) Token(ctx context.Context) (string, error) {
	cc.mtx.Lock()
	defer cc.mtx.Unlock()

	now := cc.now()
	if cc.token != "" && now.Add(cc.leeway()).Before(cc.expires) {
		return cc.token, nil
	}

	tok, exp, err := cc.fetch(ctx)
	if err != nil {
		return "", err
	}

	cc.token = tok
	cc.expires = exp
	return tok, nil
}

// Invalidate drops the cached token so that the next call to Token fetches a
// fresh one.
func (cc *ClientCredentials) Invalidate() {
	cc.mtx.Lock()
	defer cc.mtx.Unlock()

	cc.token = ""
	cc.expires = time.Time{}
}

func (cc *ClientCredentials) fetch(ctx context.Context) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cc.ClientID)
	form.Set("client_secret", cc.ClientSecret)
	if cc.Scope != "" {
		form.Set("scope", cc.Scope)
	}
	if cc.Resource != "" {
		form.Set("resource", cc.Resource)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cc.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, jellypoint.WrapTransport(err, "token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	httpClient := cc.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", time.Time{}, fmt.Errorf("token request: %w", ctxErr)
		}
		return "", time.Time{}, jellypoint.WrapTransport(err, "token request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, jellypoint.WrapTransport(err, "token request: read body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > 512 {
			body = body[:512]
		}
		return "", time.Time{}, &jellypoint.HTTPError{
			Method:     http.MethodPost,
			URL:        cc.TokenURL,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", time.Time{}, jellypoint.WrapParse(err, "token response")
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, jellypoint.NewError("token response: no access_token", jellypoint.ErrParse)
	}
	if tr.TokenType != "" && !strings.EqualFold(tr.TokenType, "bearer") {
		return "", time.Time{}, jellypoint.NewError(fmt.Sprintf("token response: unsupported token type %q", tr.TokenType), jellypoint.ErrParse)
	}

	return tr.AccessToken, cc.expiry(tr), nil
}

// expiry works out when a token expires. expires_in is preferred; if it is
// absent the exp claim of the token is read without verifying the signature.
// If neither is available the token is used for this call only.
func (cc *ClientCredentials) expiry(tr tokenResponse) time.Time {
	now := cc.now()

	// some endpoints send expires_in as a string
	raw := strings.Trim(string(tr.ExpiresIn), `"`)
	if raw != "" {
		var secs int64
		if _, err := fmt.Sscanf(raw, "%d", &secs); err == nil && secs > 0 {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	return now
}

func (cc *ClientCredentials) now() time.Time {
	if cc.Now != nil {
		return cc.Now()
	}
	return time.Now()
}

func (cc *ClientCredentials) leeway() time.Duration {
	if cc.Leeway == 0 {
		return DefaultLeeway
	}
	return cc.Leeway
}
