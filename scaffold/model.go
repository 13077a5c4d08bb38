// Package scaffold reads the shape of a list site into a DatabaseModel and
// generates Go source from it.
package scaffold

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/client"
	"github.com/dekarrin/jellypoint/storage"
)

// DatabaseName is the name given to every scaffolded model.
const DatabaseName = "SharePoint"

// DatabaseModel describes the lists on a site.
type DatabaseModel struct {
	DatabaseName string

	// DefaultSchema is always empty; lists have no schema.
	DefaultSchema string

	Tables []Table
}

// Table is one list.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// Column is one field of a list.
type Column struct {
	Name      string
	FieldType string
	Required  bool

	// GoType is the type used for the field in generated code. It is nil for
	// field types with no mapping; such columns are left out of generated
	// code.
	GoType reflect.Type
}

// Options limits what ModelFactory.Create reads.
type Options struct {
	// Tables, if not empty, restricts the model to lists with these titles.
	Tables []string
}

// ModelFactory builds a DatabaseModel. With no client it returns an empty
// model; with one it lists the site's visible lists and their fields.
type ModelFactory struct {
	Client client.Client
	Log    jellypoint.Logger

	types storage.TypeMappingSource
}

type listInfo struct {
	Title string `json:"Title"`
}

type fieldInfo struct {
	InternalName string `json:"InternalName"`
	TypeAsString string `json:"TypeAsString"`
	Required     bool   `json:"Required"`
}

// Create reads the model.
func (mf ModelFactory) Create(ctx context.Context, opts Options) (DatabaseModel, error) {
	model := DatabaseModel{DatabaseName: DatabaseName}
	if mf.Client == nil {
		return model, nil
	}

	log := mf.Log
	if log == nil {
		log = jellypoint.NoOpLogger{}
	}

	lists, err := mf.lists(ctx)
	if err != nil {
		return DatabaseModel{}, err
	}

	wanted := map[string]bool{}
	for _, t := range opts.Tables {
		wanted[t] = false
	}

	for _, title := range lists {
		if len(opts.Tables) > 0 {
			if _, ok := wanted[title]; !ok {
				continue
			}
			wanted[title] = true
		}
		log.Event(jellypoint.ListFound, "found list %q", title)

		table, err := mf.table(ctx, log, title)
		if err != nil {
			return DatabaseModel{}, err
		}
		model.Tables = append(model.Tables, table)
	}

	for _, t := range opts.Tables {
		if !wanted[t] {
			log.Event(jellypoint.MissingListWarning, "list %q was requested but not found", t)
		}
	}

	return model, nil
}

func (mf ModelFactory) lists(ctx context.Context) ([]string, error) {
	q := client.ListQuery{Select: "Title", Filter: "Hidden eq false"}

	doc, err := mf.Client.ExecuteQuery(ctx, "web/lists"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("read lists: %w", err)
	}
	items, err := doc.Results()
	if err != nil {
		return nil, fmt.Errorf("read lists: %w", err)
	}

	titles := make([]string, 0, len(items))
	for i := range items {
		var li listInfo
		if err := items[i].Decode(&li); err != nil {
			return nil, fmt.Errorf("read lists: %w", err)
		}
		titles = append(titles, li.Title)
	}
	return titles, nil
}

func (mf ModelFactory) table(ctx context.Context, log jellypoint.Logger, title string) (Table, error) {
	q := client.ListQuery{Select: "InternalName,TypeAsString,Required", Filter: "Hidden eq false"}

	doc, err := mf.Client.ExecuteQuery(ctx, "web/lists/getbytitle('"+client.EscapeDataString(title)+"')/fields"+q.Encode())
	if err != nil {
		return Table{}, fmt.Errorf("read fields of %q: %w", title, err)
	}
	items, err := doc.Results()
	if err != nil {
		return Table{}, fmt.Errorf("read fields of %q: %w", title, err)
	}

	table := Table{Name: title}
	for i := range items {
		var fi fieldInfo
		if err := items[i].Decode(&fi); err != nil {
			return Table{}, fmt.Errorf("read fields of %q: %w", title, err)
		}

		col := Column{Name: fi.InternalName, FieldType: fi.TypeAsString, Required: fi.Required}
		if goType, ok := mf.types.FindGoType(fi.TypeAsString); ok {
			col.GoType = goType
		} else {
			log.Event(jellypoint.UnknownFieldTypeWarning, "field %s.%s has unsupported type %q", title, fi.InternalName, fi.TypeAsString)
		}

		if strings.EqualFold(fi.TypeAsString, string(storage.FieldLookup)) {
			log.Event(jellypoint.LookupFieldFound, "lookup field %s.%s", title, fi.InternalName)
		} else {
			log.Event(jellypoint.FieldFound, "field %s.%s (%s)", title, fi.InternalName, fi.TypeAsString)
		}

		if fi.InternalName == "ID" {
			table.PrimaryKey = []string{"ID"}
			log.Event(jellypoint.PrimaryKeyFound, "primary key of %s is ID", title)
		}
		table.Columns = append(table.Columns, col)
	}

	return table, nil
}
