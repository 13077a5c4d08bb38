// Package clienttest provides an in-memory client.Client for tests of code
// that sits on top of the list client.
package clienttest

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/client"
)

// Call is a record of one method call on a Fake.
type Call struct {
	Op   string
	List string
	ID   int
	Body client.Document
}

// Fake is an in-memory client.Client. Lists must be added with AddList before
// items can be created in them. It understands just enough of ListQuery for
// tests: Filter of the form "ID eq n", a single-field OrderBy, Top, and Skip.
//
// The zero value is not ready to use; call New.
type Fake struct {
	// Site is returned by SiteURL.
	Site string

	// Queries holds canned responses for ExecuteQuery, keyed by the query
	// string exactly as passed.
	Queries map[string]client.Document

	// Errs, keyed by operation name ("query", "items", "create", "update",
	// "delete"), are returned instead of performing the operation.
	Errs map[string]error

	mtx    sync.Mutex
	lists  map[string][]client.Item
	nextID map[string]int
	calls  []Call
	closes int
}

// New returns an empty Fake for the given site.
func New(site string) *Fake {
	return &Fake{
		Site:    site,
		Queries: map[string]client.Document{},
		Errs:    map[string]error{},
		lists:   map[string][]client.Item{},
		nextID:  map[string]int{},
	}
}

// AddList creates an empty list. Adding an existing list does nothing.
func (f *Fake) AddList(name string) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if _, ok := f.lists[name]; !ok {
		f.lists[name] = []client.Item{}
		f.nextID[name] = 1
	}
}

// Items returns a copy of the items currently in a list.
func (f *Fake) Items(list string) []client.Item {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	out := make([]client.Item, len(f.lists[list]))
	for i := range f.lists[list] {
		out[i] = copyItem(f.lists[list][i])
	}
	return out
}

// Calls returns every call made so far.
func (f *Fake) Calls() []Call {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Closes returns how many times Close was called.
func (f *Fake) Closes() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.closes
}

func (f *Fake) SiteURL() string {
	return f.Site
}

func (f *Fake) ExecuteQuery(ctx context.Context, query string) (client.Document, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.calls = append(f.calls, Call{Op: "query", List: query})
	if err := f.errFor(ctx, "query"); err != nil {
		return client.Document{}, err
	}

	doc, ok := f.Queries[query]
	if !ok {
		return client.Document{}, notFound(http.MethodGet, query)
	}
	return doc, nil
}

var idFilter = regexp.MustCompile(`^\s*ID\s+eq\s+(\d+)\s*$`)

func (f *Fake) GetListItems(ctx context.Context, list string, q client.ListQuery) (client.Document, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.calls = append(f.calls, Call{Op: "items", List: list})
	if err := f.errFor(ctx, "items"); err != nil {
		return client.Document{}, err
	}

	items, ok := f.lists[list]
	if !ok {
		return client.Document{}, notFound(http.MethodGet, list)
	}

	var selected []client.Item
	for _, it := range items {
		if q.Filter != "" {
			m := idFilter.FindStringSubmatch(q.Filter)
			if m == nil {
				return client.Document{}, &jellypoint.HTTPError{Method: http.MethodGet, URL: list, StatusCode: http.StatusBadRequest, Body: "unsupported filter"}
			}
			want, _ := strconv.Atoi(m[1])
			if id, _ := it.ID(); id != want {
				continue
			}
		}
		selected = append(selected, copyItem(it))
	}

	if q.OrderBy != "" {
		parts := strings.Fields(q.OrderBy)
		field := parts[0]
		desc := len(parts) > 1 && strings.EqualFold(parts[1], "desc")
		sort.SliceStable(selected, func(i, j int) bool {
			if desc {
				return less(selected[j][field], selected[i][field])
			}
			return less(selected[i][field], selected[j][field])
		})
	}

	if q.Skip != nil {
		if *q.Skip >= len(selected) {
			selected = nil
		} else {
			selected = selected[*q.Skip:]
		}
	}
	if q.Top != nil && *q.Top < len(selected) {
		selected = selected[:*q.Top]
	}

	if selected == nil {
		selected = []client.Item{}
	}
	return client.NewDocument(map[string]interface{}{"d": map[string]interface{}{"results": selected}})
}

func (f *Fake) CreateListItem(ctx context.Context, list string, item client.Document) (client.Document, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.calls = append(f.calls, Call{Op: "create", List: list, Body: item})
	if err := f.errFor(ctx, "create"); err != nil {
		return client.Document{}, err
	}

	if _, ok := f.lists[list]; !ok {
		return client.Document{}, notFound(http.MethodPost, list)
	}

	var fields map[string]interface{}
	if err := item.Decode(&fields); err != nil {
		return client.Document{}, &jellypoint.HTTPError{Method: http.MethodPost, URL: list, StatusCode: http.StatusBadRequest, Body: err.Error()}
	}

	id := f.nextID[list]
	f.nextID[list]++

	stored := client.Item{}
	for k, v := range fields {
		if k == "__metadata" {
			continue
		}
		stored[k] = v
	}
	stored["ID"] = id
	stored["Id"] = id
	f.lists[list] = append(f.lists[list], stored)

	return client.NewDocument(map[string]interface{}{"d": stored})
}

func (f *Fake) UpdateListItem(ctx context.Context, list string, id int, item client.Document) (client.Document, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.calls = append(f.calls, Call{Op: "update", List: list, ID: id, Body: item})
	if err := f.errFor(ctx, "update"); err != nil {
		return client.Document{}, err
	}

	idx := f.indexOf(list, id)
	if idx < 0 {
		return client.Document{}, notFound(client.MethodMerge, list)
	}

	var fields map[string]interface{}
	if err := item.Decode(&fields); err != nil {
		return client.Document{}, &jellypoint.HTTPError{Method: client.MethodMerge, URL: list, StatusCode: http.StatusBadRequest, Body: err.Error()}
	}
	for k, v := range fields {
		if k == "__metadata" || k == "ID" || k == "Id" {
			continue
		}
		f.lists[list][idx][k] = v
	}

	return client.Document{}, nil
}

func (f *Fake) DeleteListItem(ctx context.Context, list string, id int) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.calls = append(f.calls, Call{Op: "delete", List: list, ID: id})
	if err := f.errFor(ctx, "delete"); err != nil {
		return err
	}

	idx := f.indexOf(list, id)
	if idx < 0 {
		return notFound(http.MethodDelete, list)
	}
	f.lists[list] = append(f.lists[list][:idx], f.lists[list][idx+1:]...)
	return nil
}

func (f *Fake) Close() error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.closes++
	return nil
}

func (f *Fake) errFor(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.Errs[op]
}

func (f *Fake) indexOf(list string, id int) int {
	for i, it := range f.lists[list] {
		if itemID, ok := it.ID(); ok && itemID == id {
			return i
		}
	}
	return -1
}

func notFound(method, what string) error {
	return &jellypoint.HTTPError{Method: method, URL: what, StatusCode: http.StatusNotFound}
}

// less orders numbers numerically and everything else by its printed form.
func less(a, b interface{}) bool {
	af, aErr := strconv.ParseFloat(fmt.Sprint(a), 64)
	bf, bErr := strconv.ParseFloat(fmt.Sprint(b), 64)
	if aErr == nil && bErr == nil {
		return af < bf
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func copyItem(it client.Item) client.Item {
	cp := make(client.Item, len(it))
	for k, v := range it {
		cp[k] = v
	}
	return cp
}
