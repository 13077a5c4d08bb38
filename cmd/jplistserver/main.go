/*
Jplistserver starts a development server for the list REST API. Lists and items
are kept in memory, optionally snapshotted to disk, or in a sqlite database.

Usage:

	jplistserver [flags]

Once started, the server will listen for HTTP requests and respond to them as
configured. The endpoints are:

  - /_api/web/lists - list or create lists
  - /_api/web/lists/getbytitle('{title}') - get one list
  - /_api/web/lists/getbytitle('{title}')/fields - get the fields of a list
  - /_api/web/lists/getbytitle('{title}')/items - query or create items
  - /_api/web/lists/getbytitle('{title}')/items({id}) - get, merge, or delete an item
  - /oauth2/token - client credentials token endpoint
  - /metrics - Prometheus metrics, unless disabled

If any clients are configured, every /_api request requires a bearer token
from the token endpoint.

The flags are:

	-c, --config PATH
		Use the given file for the configuration instead of './jellypoint.yml'.
		The file must be in JSON or YAML format. If the default file does not
		exist, built-in defaults are used.

	-l, --listen ADDR
		Listen on the given address, as "host:port", instead of the configured
		one.

	-s, --store TYPE
		Use the given store, "inmem" or "sqlite", instead of the configured one.

	--routes
		Print the routes of the server and exit.

	--show-config
		Print the effective configuration, with secrets hidden, and exit.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/config"
	"github.com/dekarrin/jellypoint/internal/logging"
	"github.com/dekarrin/jellypoint/listserver"
	"github.com/dekarrin/jellypoint/listserver/store"
	"github.com/spf13/pflag"
)

const (
	exitSuccess   = 0
	exitError     = 1
	exitPanic     = 2
	exitInterrupt = 3
)

const defaultConfigFile = "jellypoint.yml"

var exitCode int

var (
	flagConf       = pflag.StringP("config", "c", defaultConfigFile, "Path to configuration file")
	flagListen     = pflag.StringP("listen", "l", "", "Address to listen on as host:port; overrides the config")
	flagStore      = pflag.StringP("store", "s", "", "Store to use, inmem or sqlite; overrides the config")
	flagRoutes     = pflag.Bool("routes", false, "Print the routes of the server and exit")
	flagShowConfig = pflag.Bool("show-config", false, "Print the effective configuration and exit")
)

func main() {
	ctx := context.Background()
	ctx, cancelMainContext := context.WithCancel(ctx)
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	defer func() {
		signal.Stop(signalChan)
		cancelMainContext()
	}()
	// listen for signals
	go func() {
		select {
		case <-signalChan: // first signal, cancel context
			cancelMainContext()
		case <-ctx.Done():
		}

		<-signalChan // second signal, hard exit
		os.Exit(exitInterrupt)
	}()

	defer func() {
		if panicErr := recover(); panicErr != nil {
			fmt.Fprintf(os.Stderr, "fatal panic: %v\n", panicErr)
			exitCode = exitPanic
		}
		os.Exit(exitCode)
	}()

	pflag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		exitCode = exitError
		return
	}

	if *flagShowConfig {
		os.Stdout.Write(config.Dump(cfg))
		return
	}

	log, err := createLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		exitCode = exitError
		return
	}

	log.Infof("Opening %s store...", cfg.Server.Store)
	st, err := listserver.OpenStore(cfg.Server)
	if err != nil {
		log.Errorf("%s", err.Error())
		exitCode = exitError
		return
	}
	if err := store.EnsureLists(ctx, st, cfg.Server.Lists...); err != nil {
		log.Errorf("create configured lists: %s", err.Error())
		st.Close()
		exitCode = exitError
		return
	}

	server, err := listserver.New(listserver.ConfigFrom(cfg.Server, st, log))
	if err != nil {
		log.Errorf("%s", err.Error())
		st.Close()
		exitCode = exitError
		return
	}

	if *flagRoutes {
		fmt.Println(server.RoutesIndex())
		st.Close()
		return
	}

	log.Info("Starting server...")
	if server.AuthRequired() {
		log.Infof("Bearer tokens are required; %d client(s) configured", len(cfg.Server.Clients))
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ServeForever(cfg.Server.Addr())
	}()

	log.Info("List server started; Ctrl-C (SIGINT) to stop")

	select {
	case err := <-serveErr:
		// failed to start, or stopped on its own
		log.Errorf("Server encountered a problem: %v", err)
		st.Close()
		exitCode = exitError
	case <-ctx.Done():
		log.Info("SIGINT received; cleaning up server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn(err.Error())
		}

		if err := <-serveErr; errors.Is(err, http.ErrServerClosed) {
			log.Info("Server shutdown by request")
		}
		log.Info("Server shutdown complete")
	}
}

// loadConfig reads the config file and applies flag overrides. A missing
// default config file is not an error.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*flagConf)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || pflag.CommandLine.Changed("config") {
			return cfg, err
		}
		cfg = config.Config{}
	}

	if *flagListen != "" {
		host, port, err := net.SplitHostPort(*flagListen)
		if err != nil {
			return cfg, jellypoint.NewError("--listen: "+err.Error(), jellypoint.ErrConfiguration, err)
		}
		cfg.Server.Address = host
		cfg.Server.Port, err = strconv.Atoi(port)
		if err != nil {
			return cfg, jellypoint.NewError("--listen: port must be a number", jellypoint.ErrConfiguration, err)
		}
	}
	if *flagStore != "" {
		st, err := config.ParseStoreType(*flagStore)
		if err != nil {
			return cfg, jellypoint.NewError("--store: "+err.Error(), jellypoint.ErrConfiguration, err)
		}
		cfg.Server.Store = st
	}

	cfg = cfg.FillDefaults()
	return cfg, cfg.Validate()
}

// createLogger creates the configured logger. A server is not much use
// without output, so if logging is not enabled it logs to stderr anyways.
func createLogger(lc config.Log) (jellypoint.Logger, error) {
	if !lc.Enabled {
		return logging.New(jellypoint.Jellog, "")
	}
	return lc.Create()
}
