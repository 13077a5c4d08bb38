package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/client"
	"github.com/dekarrin/jellypoint/provider"
	"github.com/dekarrin/jellypoint/query"
	"github.com/dekarrin/jellypoint/scaffold"
	"github.com/dekarrin/jellypoint/update"
)

// errUsage is matched by errors about how a command was invoked.
var errUsage = errors.New("usage")

func usageErr(format string, a ...interface{}) error {
	return jellypoint.NewError(fmt.Sprintf(format, a...), errUsage)
}

// env is everything a command runs with.
type env struct {
	p   *provider.Provider
	in  io.Reader
	out io.Writer

	// query options for items
	q client.ListQuery

	// entityType is sent as __metadata.type on create and update if set.
	entityType string

	// pkg and tables are used by scaffold.
	pkg    string
	tables []string

	// script makes history print the history table script instead of the
	// applied migrations.
	script bool
}

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, e env, args []string) error
}

var commands = map[string]command{
	"lists": {
		usage: "lists",
		help:  "Print the titles of the visible lists",
		run:   cmdLists,
	},
	"items": {
		usage: "items [LIST]",
		help:  "Print the items of a list, using --filter, --select, --orderby, --top and --skip",
		run:   cmdItems,
	},
	"get": {
		usage: "get [LIST] ID",
		help:  "Print one item",
		run:   cmdGet,
	},
	"create": {
		usage: "create [LIST] [JSON]",
		help:  "Create an item from a JSON object, read from stdin if not given",
		run:   cmdCreate,
	},
	"update": {
		usage: "update [LIST] ID [JSON]",
		help:  "Merge a JSON object into an item, read from stdin if not given",
		run:   cmdUpdate,
	},
	"delete": {
		usage: "delete [LIST] ID",
		help:  "Delete an item",
		run:   cmdDelete,
	},
	"query": {
		usage: "query PATH",
		help:  "GET {site}/_api/PATH and print the response",
		run:   cmdQuery,
	},
	"scaffold": {
		usage: "scaffold",
		help:  "Generate Go structs for the lists of the site, limited to --table if given",
		run:   cmdScaffold,
	},
	"history": {
		usage: "history",
		help:  "Print applied migrations, or the history table script with --script",
		run:   cmdHistory,
	},
}

// commandNames returns the names of all commands, sorted.
func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func run(ctx context.Context, e env, args []string) error {
	if len(args) < 1 {
		return usageErr("no command given")
	}
	cmd, ok := commands[strings.ToLower(args[0])]
	if !ok {
		return usageErr("unknown command %q", args[0])
	}
	return cmd.run(ctx, e, args[1:])
}

func cmdLists(ctx context.Context, e env, args []string) error {
	if len(args) > 0 {
		return usageErr("lists takes no arguments")
	}

	model, err := e.p.ModelFactory().Create(ctx, scaffold.Options{})
	if err != nil {
		return err
	}
	for _, t := range model.Tables {
		fmt.Fprintln(e.out, t.Name)
	}
	return nil
}

func cmdItems(ctx context.Context, e env, args []string) error {
	list, args, err := listArg(e, args)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		return usageErr("too many arguments")
	}

	doc, err := e.p.Client().GetListItems(ctx, list, e.q)
	if err != nil {
		return err
	}
	items, err := doc.Results()
	if err != nil {
		return err
	}
	return printJSON(e.out, items)
}

func cmdGet(ctx context.Context, e env, args []string) error {
	list, args, err := listArg(e, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return usageErr("get needs an item ID")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	doc, err := e.p.Client().GetListItems(ctx, list, client.ListQuery{
		Select: e.q.Select,
		Filter: query.Eq("ID", id).String(),
		Top:    client.Int(1),
	})
	if err != nil {
		return err
	}
	items, err := doc.Results()
	if err != nil {
		return err
	}
	if len(items) < 1 {
		return jellypoint.NewError(fmt.Sprintf("%s item %d", list, id), jellypoint.ErrNotFound)
	}
	return printJSON(e.out, items[0])
}

func cmdCreate(ctx context.Context, e env, args []string) error {
	list, args, err := listArg(e, args)
	if err != nil {
		return err
	}
	values, err := readValues(e, args)
	if err != nil {
		return err
	}

	results, err := e.p.UpdateExecutor().Execute(ctx, []update.Command{{
		State:      update.Added,
		List:       list,
		Values:     values,
		EntityType: e.entityType,
	}})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "created %s item %d\n", list, results[0].ID)
	return nil
}

func cmdUpdate(ctx context.Context, e env, args []string) error {
	list, args, err := listArg(e, args)
	if err != nil {
		return err
	}
	if len(args) < 1 {
		return usageErr("update needs an item ID")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	values, err := readValues(e, args[1:])
	if err != nil {
		return err
	}

	_, err = e.p.UpdateExecutor().Execute(ctx, []update.Command{{
		State:      update.Modified,
		List:       list,
		ID:         id,
		Values:     values,
		EntityType: e.entityType,
	}})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "updated %s item %d\n", list, id)
	return nil
}

func cmdDelete(ctx context.Context, e env, args []string) error {
	list, args, err := listArg(e, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return usageErr("delete needs an item ID")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	_, err = e.p.UpdateExecutor().Execute(ctx, []update.Command{{
		State: update.Deleted,
		List:  list,
		ID:    id,
	}})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "deleted %s item %d\n", list, id)
	return nil
}

func cmdQuery(ctx context.Context, e env, args []string) error {
	if len(args) != 1 {
		return usageErr("query needs exactly one path")
	}

	doc, err := e.p.Client().ExecuteQuery(ctx, strings.TrimPrefix(args[0], "/"))
	if err != nil {
		return err
	}
	return printJSON(e.out, doc.Value())
}

func cmdScaffold(ctx context.Context, e env, args []string) error {
	if len(args) > 0 {
		return usageErr("scaffold takes no arguments")
	}

	model, err := e.p.ModelFactory().Create(ctx, scaffold.Options{Tables: e.tables})
	if err != nil {
		return err
	}
	src, err := e.p.CodeGenerator().GenerateFile(e.pkg, model)
	if err != nil {
		return err
	}
	_, err = e.out.Write(src)
	return err
}

func cmdHistory(ctx context.Context, e env, args []string) error {
	if len(args) > 0 {
		return usageErr("history takes no arguments")
	}

	hr := e.p.HistoryRepository()
	if e.script {
		fmt.Fprint(e.out, hr.CreateScript())
		return nil
	}

	rows, err := hr.AppliedMigrations(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		fmt.Fprintf(e.out, "%s\t%s\n", r.MigrationID, r.ProductVersion)
	}
	return nil
}

// listArg takes the list title from the front of args unless the first
// argument is an item ID or a JSON object, in which case the default list is
// used. A list titled with a bare number can only be used as the default.
func listArg(e env, args []string) (string, []string, error) {
	if len(args) > 0 && !looksLikeValue(args[0]) {
		if strings.TrimSpace(args[0]) == "" {
			return "", nil, usageErr("list title cannot be empty")
		}
		return args[0], args[1:], nil
	}

	def := e.p.Options().ListName()
	if def == "" {
		return "", nil, usageErr("no list given and no default list is configured")
	}
	return def, args, nil
}

func looksLikeValue(s string) bool {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		return true
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 1 {
		return 0, usageErr("item ID must be a positive integer, got %q", s)
	}
	return id, nil
}

// readValues decodes the JSON object in args, or from the input if args is
// empty.
func readValues(e env, args []string) (map[string]interface{}, error) {
	var r io.Reader
	switch len(args) {
	case 0:
		if e.in == nil {
			return nil, usageErr("no JSON given")
		}
		r = e.in
	case 1:
		r = strings.NewReader(args[0])
	default:
		return nil, usageErr("too many arguments")
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()

	var values map[string]interface{}
	if err := dec.Decode(&values); err != nil {
		return nil, usageErr("item must be a JSON object: %v", err)
	}
	if values == nil {
		return nil, usageErr("item must be a JSON object")
	}
	return values, nil
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
