// Package storage holds the connection, database creator, execution strategy,
// and type mapping used by a provider. None of them talk to a tabular
// database; the connection wraps the list client and the rest describe a
// backend that is always present, never retried, and typed by list field
// kinds.
package storage

import (
	"database/sql"
	"sync"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/client"
)

// Connection is the provider's handle on the remote site. It owns the client
// it is given and releases it on Close.
type Connection struct {
	siteURL string
	client  client.Client
	log     jellypoint.Logger

	closeOnce sync.Once
	closeErr  error
	closed    bool
	mtx       sync.Mutex
}

// NewConnection returns a Connection for siteURL that takes ownership of c. If
// log is nil a no-op logger is used.
func NewConnection(siteURL string, c client.Client, log jellypoint.Logger) *Connection {
	if log == nil {
		log = jellypoint.NoOpLogger{}
	}
	return &Connection{
		siteURL: siteURL,
		client:  c,
		log:     log,
	}
}

// SiteURL returns the site the connection was opened for.
func (conn *Connection) SiteURL() string {
	return conn.siteURL
}

// Client returns the list client owned by the connection.
func (conn *Connection) Client() client.Client {
	return conn.client
}

// DB always fails with an error matching jellypoint.ErrUnsupported. A list
// site has no SQL connection handle to give out.
func (conn *Connection) DB() (*sql.DB, error) {
	conn.log.Event(jellypoint.UnexpectedConnectionTypeWarning, "SQL connection requested for %s; list sites are reached over REST only", conn.siteURL)
	return nil, jellypoint.Unsupported("open SQL connection to list site")
}

// Closed returns whether Close has been called.
func (conn *Connection) Closed() bool {
	conn.mtx.Lock()
	defer conn.mtx.Unlock()
	return conn.closed
}

// Close releases the client. Only the first call has any effect; later calls
// return the same result.
func (conn *Connection) Close() error {
	conn.closeOnce.Do(func() {
		if conn.client != nil {
			conn.closeErr = conn.client.Close()
		}
		conn.mtx.Lock()
		conn.closed = true
		conn.mtx.Unlock()
		conn.log.Event(jellypoint.ProviderClosed, "connection to %s closed", conn.siteURL)
	})
	return conn.closeErr
}
