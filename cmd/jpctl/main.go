/*
Jpctl reads and writes the items of lists on a site through its REST API.

Usage:

	jpctl [flags] COMMAND [ARGS]

The site, and optionally a default list and credentials, are read from the site
section of the configuration file. The commands are:

	lists                    print the titles of the visible lists
	items [LIST]             print the items of a list
	get [LIST] ID            print one item
	create [LIST] [JSON]     create an item
	update [LIST] ID [JSON]  merge fields into an item
	delete [LIST] ID         delete an item
	query PATH               GET {site}/_api/PATH and print the response
	scaffold                 generate Go structs for the lists of the site
	history                  print applied migrations

If LIST is not given, the default list is used. If JSON is not given for create
or update, it is read from stdin.

The flags are:

	-c, --config PATH
		Use the given file for the configuration instead of './jellypoint.yml'.
		The file must be in JSON or YAML format.

	--site URL
		Use the given site instead of the configured one.

	--list TITLE
		Use the given default list instead of the configured one.

	--token TOKEN
		Send the given bearer token instead of using configured credentials.

	--filter, --select, --orderby EXPR and --top, --skip N
		Query options for items.

	--entity-type TYPE
		Send TYPE as the entity type of created and updated items.

	-p, --package NAME
		Package of the code generated by scaffold. Defaults to "models".

	-t, --table TITLE
		Only scaffold the given list. May be repeated.

	--script
		Make history print the script that creates the history table.

	--stats
		Print request metrics to stderr before exiting.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/client"
	"github.com/dekarrin/jellypoint/config"
	"github.com/dekarrin/jellypoint/metrics"
	"github.com/dekarrin/jellypoint/provider"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

const (
	exitSuccess   = 0
	exitError     = 1
	exitPanic     = 2
	exitInterrupt = 3
	exitUsage     = 4
)

var exitCode int

var (
	flagConf       = pflag.StringP("config", "c", "jellypoint.yml", "Path to configuration file")
	flagSite       = pflag.String("site", "", "Site URL; overrides the config")
	flagList       = pflag.String("list", "", "Default list; overrides the config")
	flagToken      = pflag.String("token", "", "Bearer token to send; overrides configured credentials")
	flagFilter     = pflag.String("filter", "", "$filter for items")
	flagSelect     = pflag.String("select", "", "$select for items and get")
	flagOrderBy    = pflag.String("orderby", "", "$orderby for items")
	flagTop        = pflag.Int("top", -1, "$top for items")
	flagSkip       = pflag.Int("skip", -1, "$skip for items")
	flagEntityType = pflag.String("entity-type", "", "Entity type sent with created and updated items")
	flagPackage    = pflag.StringP("package", "p", "models", "Package of generated code")
	flagTables     = pflag.StringSliceP("table", "t", nil, "List to scaffold; may be repeated")
	flagScript     = pflag.Bool("script", false, "Print the history table script instead of applied migrations")
	flagStats      = pflag.Bool("stats", false, "Print request metrics to stderr before exiting")
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

	pflag.Usage = printUsage
	pflag.Parse()

	if pflag.NArg() < 1 {
		printUsage()
		exitCode = exitUsage
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		exitCode = exitError
		return
	}

	log, err := cfg.Log.Create()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		exitCode = exitError
		return
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewClientCollector("jpctl")
	reg.MustRegister(collector)

	ctx, cancel := context.WithTimeout(ctx, cfg.Site.Timeout)
	defer cancel()

	e := env{
		in:         os.Stdin,
		out:        os.Stdout,
		q:          listQueryFromFlags(),
		entityType: *flagEntityType,
		pkg:        *flagPackage,
		tables:     *flagTables,
		script:     *flagScript,
	}

	err = provider.Use(ctx, cfg.Site.Options(), provider.Config{Log: log, Observer: collector}, func(ctx context.Context, p *provider.Provider) error {
		e.p = p
		return run(ctx, e, pflag.Args())
	})

	if *flagStats {
		printStats(os.Stderr, reg)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		switch {
		case errors.Is(err, errUsage):
			exitCode = exitUsage
		case errors.Is(err, context.Canceled):
			exitCode = exitInterrupt
		default:
			exitCode = exitError
		}
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: jpctl [flags] COMMAND [ARGS]\n\nCommands:\n")
	for _, name := range commandNames() {
		cmd := commands[name]
		fmt.Fprintf(os.Stderr, "  %-24s %s\n", cmd.usage, cmd.help)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	pflag.PrintDefaults()
}

// loadConfig reads the config file and applies flag overrides. A missing
// default config file is not an error as long as --site is given.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*flagConf)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || pflag.CommandLine.Changed("config") {
			return cfg, err
		}
		cfg = config.Config{}
	}

	if *flagSite != "" {
		cfg.Site.URL = *flagSite
	}
	if *flagList != "" {
		cfg.Site.List = *flagList
	}
	if *flagToken != "" {
		cfg.Site.Credentials = &config.Credentials{AccessToken: *flagToken}
	}

	if cfg.Site.URL == "" {
		return cfg, jellypoint.ConfigError("no site URL; set site.url in the config or give --site")
	}

	cfg = cfg.FillDefaults()
	return cfg, cfg.Validate()
}

func listQueryFromFlags() client.ListQuery {
	q := client.ListQuery{
		Filter:  *flagFilter,
		Select:  *flagSelect,
		OrderBy: *flagOrderBy,
	}
	if *flagTop >= 0 {
		q.Top = client.Int(*flagTop)
	}
	if *flagSkip >= 0 {
		q.Skip = client.Int(*flagSkip)
	}
	return q
}

// printStats writes every counter and histogram series in g, one per line.
func printStats(w io.Writer, g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		fmt.Fprintf(w, "gather metrics: %v\n", err)
		return
	}

	var lines []string
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			series := fam.GetName() + "{" + strings.Join(labels, ",") + "}"

			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %v", series, m.GetCounter().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%.3fs", series, h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}

	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}
