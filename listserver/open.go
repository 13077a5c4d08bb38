package listserver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/config"
	"github.com/dekarrin/jellypoint/listserver/store"
	"github.com/dekarrin/jellypoint/listserver/store/inmem"
	"github.com/dekarrin/jellypoint/listserver/store/sqlite"
)

// OpenStore opens the store described by the server section of a config.
// The data directory is created if needed.
func OpenStore(srv config.Server) (store.Store, error) {
	srv = srv.FillDefaults()

	switch srv.Store {
	case config.StoreInMemory:
		file := ""
		if srv.Snapshot != "" {
			if err := os.MkdirAll(srv.DataDir, 0770); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			file = filepath.Join(srv.DataDir, srv.Snapshot)
		}
		st, err := inmem.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open in-memory store: %w", err)
		}
		return st, nil
	case config.StoreSQLite:
		if err := os.MkdirAll(srv.DataDir, 0770); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		st, err := sqlite.Open(filepath.Join(srv.DataDir, srv.Snapshot))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	default:
		return nil, jellypoint.ConfigError(fmt.Sprintf("unknown store type %q", srv.Store))
	}
}

// ConfigFrom returns the Config for serving st as described by the server
// section of a config.
func ConfigFrom(srv config.Server, st store.Store, log jellypoint.Logger) Config {
	srv = srv.FillDefaults()

	return Config{
		Store:          st,
		Log:            log,
		Clients:        srv.Clients,
		TokenSecret:    srv.TokenSecret,
		TokenTTL:       srv.TokenTTL,
		Issuer:         srv.Issuer,
		DisableMetrics: srv.DisableMetrics,
	}
}
