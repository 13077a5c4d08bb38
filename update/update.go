// Package update applies modification commands (inserts, updates, and deletes
// of list items) to a list site.
//
// Every command is sent as its own batch of one; the site has no batch or
// transaction support to fall back on. Commands run in order and the first
// failure stops the run.
package update

import (
	"context"
	"fmt"
	"sort"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/client"
	"github.com/dekarrin/jellypoint/sqlgen"
	"github.com/dekarrin/jellypoint/storage"
)

// State is what a Command does to its item.
type State int

const (
	Added State = iota
	Modified
	Deleted
)

func (s State) String() string {
	switch s {
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Command is a single change to one item.
type Command struct {
	State State

	// List is the title of the list the item is in.
	List string

	// ID is the item to change. Ignored for Added.
	ID int

	// Values are the fields to write. Ignored for Deleted.
	Values map[string]interface{}

	// EntityType, if set, is sent as __metadata.type on Added and Modified
	// commands.
	EntityType string
}

// Result is the outcome of one Command.
type Result struct {
	Command Command

	// ID is the ID of the item the command affected. For Added commands it is
	// the ID the site assigned.
	ID int

	// Document is the site's response, which may be empty.
	Document client.Document
}

// Executor runs commands against a client.
type Executor struct {
	client   client.Client
	strategy storage.ExecutionStrategy
	sql      sqlgen.Helper
	log      jellypoint.Logger
}

// NewExecutor creates an Executor. If strategy is nil, storage.NonRetrying is
// used. If log is nil a no-op logger is used.
func NewExecutor(c client.Client, strategy storage.ExecutionStrategy, log jellypoint.Logger) *Executor {
	if strategy == nil {
		strategy = storage.NonRetrying{}
	}
	if log == nil {
		log = jellypoint.NoOpLogger{}
	}
	return &Executor{client: c, strategy: strategy, log: log}
}

// Batches splits cmds into the batches they are executed in. Each batch holds
// exactly one command.
func Batches(cmds []Command) [][]Command {
	batches := make([][]Command, len(cmds))
	for i := range cmds {
		batches[i] = []Command{cmds[i]}
	}
	return batches
}

// Execute runs cmds in order. It stops at the first command that fails and
// returns the results of the commands that succeeded before it, along with an
// error that names the index of the failed command and wraps its cause.
func (ex *Executor) Execute(ctx context.Context, cmds []Command) ([]Result, error) {
	results := make([]Result, 0, len(cmds))

	for i, batch := range Batches(cmds) {
		cmd := batch[0]

		var res Result
		err := ex.strategy.Execute(ctx, func(ctx context.Context) error {
			var opErr error
			res, opErr = ex.executeOne(ctx, cmd)
			return opErr
		})
		if err != nil {
			return results, fmt.Errorf("command %d (%s %s): %w", i, cmd.State, cmd.List, err)
		}

		ex.log.Event(jellypoint.CommandExecuted, "%s", ex.describe(cmd, res.ID))
		results = append(results, res)
	}

	return results, nil
}

func (ex *Executor) executeOne(ctx context.Context, cmd Command) (Result, error) {
	res := Result{Command: cmd, ID: cmd.ID}

	switch cmd.State {
	case Added:
		doc, err := client.NewDocument(payload(cmd))
		if err != nil {
			return res, err
		}
		created, err := ex.client.CreateListItem(ctx, cmd.List, doc)
		if err != nil {
			return res, err
		}
		ent, err := created.Entity()
		if err != nil {
			return res, err
		}
		id, ok := ent.ID()
		if !ok {
			return res, jellypoint.NewError("created item has no ID", jellypoint.ErrParse)
		}
		res.ID = id
		res.Document = created
	case Modified:
		doc, err := client.NewDocument(payload(cmd))
		if err != nil {
			return res, err
		}
		updated, err := ex.client.UpdateListItem(ctx, cmd.List, cmd.ID, doc)
		if err != nil {
			return res, err
		}
		res.Document = updated
	case Deleted:
		if err := ex.client.DeleteListItem(ctx, cmd.List, cmd.ID); err != nil {
			return res, err
		}
	default:
		return res, jellypoint.Unsupported(fmt.Sprintf("command state %s", cmd.State))
	}

	return res, nil
}

func payload(cmd Command) map[string]interface{} {
	p := make(map[string]interface{}, len(cmd.Values)+1)
	for k, v := range cmd.Values {
		p[k] = v
	}
	if cmd.EntityType != "" {
		p["__metadata"] = map[string]interface{}{"type": cmd.EntityType}
	}
	return p
}

// describe renders cmd as the equivalent SQL statement for the log.
func (ex *Executor) describe(cmd Command, id int) string {
	cols := make([]string, 0, len(cmd.Values))
	for k := range cmd.Values {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	vals := make([]interface{}, len(cols))
	for i := range cols {
		vals[i] = cmd.Values[cols[i]]
	}

	switch cmd.State {
	case Added:
		return ex.sql.InsertStatement(cmd.List, cols, vals)
	case Modified:
		return ex.sql.UpdateStatement(cmd.List, cols, vals, id)
	default:
		return ex.sql.DeleteStatement(cmd.List, id)
	}
}
