// Package repo provides typed repositories over lists. Entities are mapped to
// and from list items with encoding/json, so struct tags name the fields.
package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/client"
	"github.com/dekarrin/jellypoint/query"
)

// Model is an entity stored as a list item.
type Model interface {
	// ModelID returns the item ID of the entity, or 0 if it has not been
	// created yet.
	ModelID() int
}

// Repository reads and writes entities of type E in one list.
//
// A Repository does not own its client; Close does nothing to it.
type Repository[E Model] struct {
	client client.Client
	list   string

	// EntityType, if set, is sent as __metadata.type with every create and
	// update. Some sites require it.
	EntityType string
}

// New returns a Repository for list.
func New[E Model](c client.Client, list string) *Repository[E] {
	return &Repository[E]{client: c, list: list}
}

// List returns the title of the list the repository works on.
func (r *Repository[E]) List() string {
	return r.list
}

// Create adds e as a new item. Any ID set on e is ignored. The entity is
// returned as the site reports it after creation.
func (r *Repository[E]) Create(ctx context.Context, e E) (E, error) {
	var zero E

	doc, err := r.payload(e)
	if err != nil {
		return zero, err
	}

	created, err := r.client.CreateListItem(ctx, r.list, doc)
	if err != nil {
		return zero, fmt.Errorf("create %s item: %w", r.list, err)
	}

	ent, err := created.Entity()
	if err != nil {
		return zero, fmt.Errorf("create %s item: %w", r.list, err)
	}

	var out E
	if err := ent.Decode(&out); err != nil {
		return zero, fmt.Errorf("create %s item: %w", r.list, err)
	}
	return out, nil
}

// Get returns the item with the given ID. If there is none, the returned
// error matches jellypoint.ErrNotFound.
func (r *Repository[E]) Get(ctx context.Context, id int) (E, error) {
	var zero E

	items, err := r.getItems(ctx, client.ListQuery{
		Filter: query.Eq("ID", id).String(),
		Top:    client.Int(1),
	})
	if err != nil {
		return zero, fmt.Errorf("get %s item %d: %w", r.list, id, err)
	}
	if len(items) < 1 {
		return zero, jellypoint.NewError(fmt.Sprintf("get %s item %d", r.list, id), jellypoint.ErrNotFound)
	}
	return items[0], nil
}

// GetAll returns the items matching q. An empty ListQuery returns whatever
// the site returns for an unfiltered request, which may be a single page.
func (r *Repository[E]) GetAll(ctx context.Context, q client.ListQuery) ([]E, error) {
	items, err := r.getItems(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("get %s items: %w", r.list, err)
	}
	return items, nil
}

// Find is GetAll with a structured query.
func (r *Repository[E]) Find(ctx context.Context, q query.Query) ([]E, error) {
	return r.GetAll(ctx, q.ListQuery())
}

// Update merges the fields of e into the item with the given ID and returns the
// item as it is after the update.
func (r *Repository[E]) Update(ctx context.Context, id int, e E) (E, error) {
	var zero E

	doc, err := r.payload(e)
	if err != nil {
		return zero, err
	}

	if _, err := r.client.UpdateListItem(ctx, r.list, id, doc); err != nil {
		return zero, fmt.Errorf("update %s item %d: %w", r.list, id, err)
	}

	return r.Get(ctx, id)
}

// Save creates e if its ModelID is 0 and updates it otherwise.
func (r *Repository[E]) Save(ctx context.Context, e E) (E, error) {
	if e.ModelID() == 0 {
		return r.Create(ctx, e)
	}
	return r.Update(ctx, e.ModelID(), e)
}

// Delete removes the item with the given ID and returns it as it was just
// before deletion. If there is no such item, the returned error matches
// jellypoint.ErrNotFound.
func (r *Repository[E]) Delete(ctx context.Context, id int) (E, error) {
	var zero E

	existing, err := r.Get(ctx, id)
	if err != nil {
		return zero, err
	}

	if err := r.client.DeleteListItem(ctx, r.list, id); err != nil {
		return zero, fmt.Errorf("delete %s item %d: %w", r.list, id, err)
	}
	return existing, nil
}

// Close does nothing. It exists so a Repository can be closed along with
// other stores.
func (r *Repository[E]) Close() error {
	return nil
}

func (r *Repository[E]) getItems(ctx context.Context, q client.ListQuery) ([]E, error) {
	doc, err := r.client.GetListItems(ctx, r.list, q)
	if err != nil {
		return nil, err
	}

	items, err := doc.Results()
	if err != nil {
		return nil, err
	}

	out := make([]E, 0, len(items))
	for i := range items {
		var e E
		if err := items[i].Decode(&e); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// payload converts e to the fields sent to the site. ID fields are dropped
// since the site assigns them.
func (r *Repository[E]) payload(e E) (client.Document, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return client.Document{}, fmt.Errorf("encode %s entity: %w", r.list, err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return client.Document{}, jellypoint.NewError(
			fmt.Sprintf("encode %s entity: entity must encode to a JSON object", r.list),
			err, jellypoint.ErrConfiguration,
		)
	}
	delete(fields, "ID")
	delete(fields, "Id")

	if r.EntityType != "" {
		fields["__metadata"] = map[string]interface{}{"type": r.EntityType}
	}

	return client.NewDocument(fields)
}

// EntityTypeName returns the conventional __metadata.type for items of a list:
// SP.Data.{List}ListItem, with spaces in the list title encoded as _x0020_.
func EntityTypeName(list string) string {
	var enc []byte
	for i := 0; i < len(list); i++ {
		c := list[i]
		switch {
		case c == ' ':
			enc = append(enc, "_x0020_"...)
		case c == '_':
			enc = append(enc, "_x005f_"...)
		case c < 0x80 && !isWordByte(c):
			enc = append(enc, fmt.Sprintf("_x%04x_", c)...)
		default:
			enc = append(enc, c)
		}
	}
	if len(enc) > 0 && enc[0] >= 'a' && enc[0] <= 'z' {
		enc[0] -= 'a' - 'A'
	}
	return "SP.Data." + string(enc) + "ListItem"
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
