// Package client provides the list access client, which turns item-level
// operations on a named list into requests against a site's REST /_api
// endpoint and parses the JSON responses into Documents.
//
// The client does not retry, batch, or follow paging links. Every call is one
// HTTP exchange and any non-success status is returned as an error that
// matches jellypoint.ErrTransport.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dekarrin/jellypoint"
	"github.com/google/uuid"
)

const (
	// AcceptVerbose is the Accept header value sent on every request.
	AcceptVerbose = "application/json;odata=verbose"

	// MethodMerge is the verb used for partial item updates.
	MethodMerge = "MERGE"

	// HeaderIfMatch is set to "*" on updates and deletes so that they apply
	// regardless of the item's current etag.
	HeaderIfMatch = "IF-MATCH"

	// HeaderRequestID carries a per-request UUID for correlating with server
	// logs.
	HeaderRequestID = "client-request-id"

	maxErrorBody = 512
)

// Client is the set of operations supported against a list site.
type Client interface {
	// SiteURL returns the site the client sends requests to.
	SiteURL() string

	// ExecuteQuery issues a GET for {site}/_api/{query} and parses the
	// response.
	ExecuteQuery(ctx context.Context, query string) (Document, error)

	// GetListItems lists items of the named list, applying whichever options
	// are set in q.
	GetListItems(ctx context.Context, list string, q ListQuery) (Document, error)

	// CreateListItem adds a new item to the named list and returns the created
	// item as the server reports it.
	CreateListItem(ctx context.Context, list string, item Document) (Document, error)

	// UpdateListItem merges the given fields into the item with the given ID.
	// The update is unconditional; no etag check is made.
	UpdateListItem(ctx context.Context, list string, id int, item Document) (Document, error)

	// DeleteListItem removes the item with the given ID. The delete is
	// unconditional; no etag check is made.
	DeleteListItem(ctx context.Context, list string, id int) error

	// Close releases the transport if the client owns it.
	Close() error
}

// TokenSource supplies bearer tokens for authenticated requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// RequestObserver is notified of every completed request. Status is 0 when no
// response was received.
type RequestObserver interface {
	ObserveRequest(op, method string, status int, elapsed time.Duration)
}

// Config holds the parameters for creating a RESTClient.
type Config struct {
	// SiteURL is the absolute URL of the site. Required.
	SiteURL string

	// HTTPClient is the transport to use. If nil, a new http.Client is created
	// and owned by the RESTClient, and Close releases its idle connections.
	// A client passed in here is never closed by RESTClient.
	HTTPClient *http.Client

	// Tokens, if set, is asked for a bearer token before every request.
	Tokens TokenSource

	// Observer, if set, is notified of every request.
	Observer RequestObserver

	// Log receives trace-level request lines. Defaults to a no-op logger.
	Log jellypoint.Logger
}

// FillDefaults returns a copy of cfg with unset optional values filled in.
func (cfg Config) FillDefaults() Config {
	newCfg := cfg

	if newCfg.Log == nil {
		newCfg.Log = jellypoint.NoOpLogger{}
	}

	return newCfg
}

// Validate returns an error matching jellypoint.ErrConfiguration if cfg cannot
// be used.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.SiteURL) == "" {
		return jellypoint.ConfigError("site URL is required")
	}
	return nil
}

// RESTClient is the HTTP implementation of Client. It is safe for concurrent
// use; nothing beyond the underlying http.Client is shared between calls.
type RESTClient struct {
	siteURL   string
	http      *http.Client
	ownsHTTP  bool
	tokens    TokenSource
	observer  RequestObserver
	log       jellypoint.Logger
	closeOnce sync.Once
}

// New creates a RESTClient from cfg.
func New(cfg Config) (*RESTClient, error) {
	cfg = cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &RESTClient{
		siteURL:  cfg.SiteURL,
		http:     cfg.HTTPClient,
		tokens:   cfg.Tokens,
		observer: cfg.Observer,
		log:      cfg.Log,
	}
	if c.http == nil {
		c.http = &http.Client{}
		c.ownsHTTP = true
	}

	return c, nil
}

func (c *RESTClient) SiteURL() string {
	return c.siteURL
}

func (c *RESTClient) ExecuteQuery(ctx context.Context, query string) (Document, error) {
	url := c.apiURL(query)

	body, err := c.do(ctx, "query", http.MethodGet, url, nil, nil)
	if err != nil {
		return Document{}, err
	}

	return ParseDocument(body)
}

func (c *RESTClient) GetListItems(ctx context.Context, list string, q ListQuery) (Document, error) {
	return c.ExecuteQuery(ctx, itemsPath(list)+q.Encode())
}

func (c *RESTClient) CreateListItem(ctx context.Context, list string, item Document) (Document, error) {
	payload, err := item.MarshalJSON()
	if err != nil {
		return Document{}, fmt.Errorf("encode item: %w", err)
	}

	url := c.apiURL(itemsPath(list))
	body, err := c.do(ctx, "create", http.MethodPost, url, payload, nil)
	if err != nil {
		return Document{}, err
	}

	return ParseDocument(body)
}

func (c *RESTClient) UpdateListItem(ctx context.Context, list string, id int, item Document) (Document, error) {
	payload, err := item.MarshalJSON()
	if err != nil {
		return Document{}, fmt.Errorf("encode item: %w", err)
	}

	url := c.apiURL(itemPath(list, id))
	body, err := c.do(ctx, "update", MethodMerge, url, payload, map[string]string{HeaderIfMatch: "*"})
	if err != nil {
		return Document{}, err
	}

	// a MERGE normally answers 204 with nothing in the body
	if len(bytes.TrimSpace(body)) == 0 {
		return Document{}, nil
	}
	return ParseDocument(body)
}

func (c *RESTClient) DeleteListItem(ctx context.Context, list string, id int) error {
	url := c.apiURL(itemPath(list, id))
	_, err := c.do(ctx, "delete", http.MethodDelete, url, nil, map[string]string{HeaderIfMatch: "*"})
	return err
}

// Close releases idle connections of the transport if RESTClient created it.
// It is safe to call more than once.
func (c *RESTClient) Close() error {
	c.closeOnce.Do(func() {
		if c.ownsHTTP {
			c.http.CloseIdleConnections()
		}
	})
	return nil
}

func (c *RESTClient) apiURL(query string) string {
	return strings.TrimRight(c.siteURL, "/") + "/_api/" + strings.TrimLeft(query, "/")
}

func itemsPath(list string) string {
	return "web/lists/getbytitle('" + EscapeDataString(list) + "')/items"
}

func itemPath(list string, id int) string {
	return itemsPath(list) + "(" + strconv.Itoa(id) + ")"
}

// do performs a single exchange and returns the response body. Context
// cancellation is returned as the context's error rather than as a transport
// error.
func (c *RESTClient) do(ctx context.Context, op, method, url string, payload []byte, hdrs map[string]string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, jellypoint.WrapTransport(err, "%s %s: build request", method, url)
	}

	req.Header.Set("Accept", AcceptVerbose)
	req.Header.Set(HeaderRequestID, uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}

	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%s %s: %w", method, url, ctxErr)
			}
			return nil, jellypoint.WrapTransport(err, "%s %s: acquire token", method, url)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(op, method, 0, start)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", method, url, ctxErr)
		}
		c.log.Event(jellypoint.RequestFailed, "%s %s: %v", method, url, err)
		return nil, jellypoint.WrapTransport(err, "%s %s", method, url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.observe(op, method, resp.StatusCode, start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: read body: %w", method, url, ctxErr)
		}
		return nil, jellypoint.WrapTransport(err, "%s %s: read body", method, url)
	}

	c.log.Event(jellypoint.RequestExecuted, "%s %s: HTTP-%d (%s)", method, url, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := body
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody]
		}
		c.log.Event(jellypoint.RequestFailed, "%s %s: HTTP-%d", method, url, resp.StatusCode)
		return nil, &jellypoint.HTTPError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}

	return body, nil
}

func (c *RESTClient) observe(op, method string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveRequest(op, method, status, time.Since(start))
	}
}
