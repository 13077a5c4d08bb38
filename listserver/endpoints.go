package listserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dekarrin/jellypoint/client"
	"github.com/dekarrin/jellypoint/listserver/odata"
	"github.com/dekarrin/jellypoint/listserver/store"
	"github.com/dekarrin/jellypoint/repo"
	"github.com/dekarrin/jellypoint/storage"
)

// HeaderMethodOverride lets a POST stand in for MERGE, PATCH, PUT or DELETE.
const HeaderMethodOverride = "X-HTTP-Method"

const maxBodySize = 4 << 20

// reserved fields are assigned by the server and ignored in request bodies.
var reservedFields = []string{odata.MetadataField, "ID", "Id", "Created", "Modified"}

// apiPath matches the part of an /_api path after the prefix. Groups are the
// escaped list title, the sub-resource and the item ID.
var apiPath = regexp.MustCompile(`^web/lists(?:/getbytitle\('((?:[^']|'')*)'\)(?:/(items|fields)(?:\((\d+)\))?)?)?/?$`)

// resource is a parsed /_api path.
type resource struct {
	list    string
	sub     string
	itemID  int
	hasItem bool
}

func parseResource(req *http.Request) (resource, error) {
	p := strings.TrimPrefix(req.URL.EscapedPath(), PathAPI+"/")

	m := apiPath.FindStringSubmatch(p)
	if m == nil {
		return resource{}, fmt.Errorf("unknown resource %q", p)
	}

	var res resource
	if m[1] != "" {
		title, err := url.PathUnescape(strings.ReplaceAll(m[1], "''", "'"))
		if err != nil {
			return resource{}, fmt.Errorf("list title: %w", err)
		}
		res.list = title
	} else if strings.Contains(p, "getbytitle") {
		return resource{}, fmt.Errorf("empty list title")
	}
	res.sub = m[2]
	if m[3] != "" {
		id, err := strconv.Atoi(m[3])
		if err != nil {
			return resource{}, fmt.Errorf("item ID: %w", err)
		}
		res.itemID = id
		res.hasItem = true
	}
	if res.hasItem && res.sub != "items" {
		return resource{}, fmt.Errorf("unknown resource %q", p)
	}
	return res, nil
}

// method returns the method of req, honoring HeaderMethodOverride on POSTs.
func method(req *http.Request) string {
	if req.Method == http.MethodPost {
		if over := strings.TrimSpace(req.Header.Get(HeaderMethodOverride)); over != "" {
			return strings.ToUpper(over)
		}
	}
	return req.Method
}

func (s *Server) epAPI(req *http.Request) result {
	res, err := parseResource(req)
	if err != nil {
		return notFound("The requested resource does not exist", "%s", err.Error())
	}
	meth := method(req)

	switch {
	case res.list == "":
		switch meth {
		case http.MethodGet:
			return s.epGetLists(req)
		case http.MethodPost:
			return s.epCreateList(req)
		}
		return methodNotAllowed(meth, "GET, POST")
	case res.sub == "":
		if meth == http.MethodGet {
			return s.epGetList(req, res.list)
		}
		return methodNotAllowed(meth, "GET")
	case res.sub == "fields":
		if meth == http.MethodGet {
			return s.epGetFields(req, res.list)
		}
		return methodNotAllowed(meth, "GET")
	case !res.hasItem:
		switch meth {
		case http.MethodGet:
			return s.epGetItems(req, res.list)
		case http.MethodPost:
			return s.epCreateItem(req, res.list)
		}
		return methodNotAllowed(meth, "GET, POST")
	default:
		switch meth {
		case http.MethodGet:
			return s.epGetItem(req, res.list, res.itemID)
		case client.MethodMerge, http.MethodPatch, http.MethodPut:
			return s.epUpdateItem(req, res.list, res.itemID)
		case http.MethodDelete:
			return s.epDeleteItem(req, res.list, res.itemID)
		}
		return methodNotAllowed(meth, "GET, MERGE, PATCH, PUT, DELETE")
	}
}

func (s *Server) epGetLists(req *http.Request) result {
	opts, err := odata.ParseOptions(req.URL.Query())
	if err != nil {
		return badRequest(err.Error(), "%s", err.Error())
	}

	lists, err := s.store.Lists(req.Context())
	if err != nil {
		return internalServerError("get lists: %s", err.Error())
	}

	base := baseURI(req)
	entities := make([]odata.Entity, len(lists))
	for i := range lists {
		entities[i] = listEntity(base, lists[i])
	}

	results := opts.Apply(entities)
	return ok(collection(results), "got %d lists", len(results))
}

func (s *Server) epCreateList(req *http.Request) result {
	fields, err := readFields(req)
	if err != nil {
		return badRequest(err.Error(), "%s", err.Error())
	}

	title, _ := fields["Title"].(string)
	if strings.TrimSpace(title) == "" {
		return badRequest("Title is required", "create list: no title")
	}

	l, err := s.store.CreateList(req.Context(), title)
	if err != nil {
		if errors.Is(err, store.ErrConstraintViolation) {
			return conflict("A list with the title "+title+" already exists", "create list %q: %s", title, err.Error())
		}
		return internalServerError("create list %q: %s", title, err.Error())
	}

	return created(entity(listEntity(baseURI(req), l)), "created list %q", l.Title)
}

func (s *Server) epGetList(req *http.Request, title string) result {
	opts, err := odata.ParseOptions(req.URL.Query())
	if err != nil {
		return badRequest(err.Error(), "%s", err.Error())
	}

	l, err := s.store.GetList(req.Context(), title)
	if err != nil {
		return s.storeErr(err, title, "get list")
	}

	return ok(entity(opts.Project(listEntity(baseURI(req), l))), "got list %q", l.Title)
}

func (s *Server) epGetFields(req *http.Request, title string) result {
	opts, err := odata.ParseOptions(req.URL.Query())
	if err != nil {
		return badRequest(err.Error(), "%s", err.Error())
	}

	items, err := s.store.Items(req.Context(), title)
	if err != nil {
		return s.storeErr(err, title, "get fields")
	}

	results := opts.Apply(fieldEntities(items))
	return ok(collection(results), "got %d fields of %q", len(results), title)
}

func (s *Server) epGetItems(req *http.Request, title string) result {
	opts, err := odata.ParseOptions(req.URL.Query())
	if err != nil {
		return badRequest(err.Error(), "%s", err.Error())
	}

	l, err := s.store.GetList(req.Context(), title)
	if err != nil {
		return s.storeErr(err, title, "get items")
	}
	items, err := s.store.Items(req.Context(), title)
	if err != nil {
		return s.storeErr(err, title, "get items")
	}

	base := baseURI(req)
	entities := make([]odata.Entity, len(items))
	for i := range items {
		entities[i] = itemEntity(base, l.Title, items[i])
	}

	results := opts.Apply(entities)
	return ok(collection(results), "got %d items of %q", len(results), l.Title)
}

func (s *Server) epGetItem(req *http.Request, title string, id int) result {
	opts, err := odata.ParseOptions(req.URL.Query())
	if err != nil {
		return badRequest(err.Error(), "%s", err.Error())
	}

	l, err := s.store.GetList(req.Context(), title)
	if err != nil {
		return s.storeErr(err, title, "get item")
	}
	it, err := s.store.GetItem(req.Context(), title, id)
	if err != nil {
		return s.itemErr(err, title, id, "get item")
	}

	return ok(entity(opts.Project(itemEntity(baseURI(req), l.Title, it))), "got item %d of %q", id, l.Title).
		withHeader("ETag", it.ETag())
}

func (s *Server) epCreateItem(req *http.Request, title string) result {
	fields, err := readFields(req)
	if err != nil {
		return badRequest(err.Error(), "%s", err.Error())
	}

	l, err := s.store.GetList(req.Context(), title)
	if err != nil {
		return s.storeErr(err, title, "create item")
	}
	it, err := s.store.CreateItem(req.Context(), title, fields)
	if err != nil {
		return s.storeErr(err, title, "create item")
	}

	return created(entity(itemEntity(baseURI(req), l.Title, it)), "created item %d in %q", it.ID, l.Title).
		withHeader("ETag", it.ETag())
}

func (s *Server) epUpdateItem(req *http.Request, title string, id int) result {
	fields, err := readFields(req)
	if err != nil {
		return badRequest(err.Error(), "%s", err.Error())
	}

	cur, err := s.store.GetItem(req.Context(), title, id)
	if err != nil {
		return s.itemErr(err, title, id, "update item")
	}
	if !ifMatch(req, cur) {
		return preconditionFailed("update item %d of %q: If-Match %q does not match %s", id, title, req.Header.Get("If-Match"), cur.ETag())
	}

	it, err := s.store.UpdateItem(req.Context(), title, id, fields)
	if err != nil {
		return s.itemErr(err, title, id, "update item")
	}

	return noContent("updated item %d of %q to version %d", id, title, it.Version).
		withHeader("ETag", it.ETag())
}

func (s *Server) epDeleteItem(req *http.Request, title string, id int) result {
	cur, err := s.store.GetItem(req.Context(), title, id)
	if err != nil {
		return s.itemErr(err, title, id, "delete item")
	}
	if !ifMatch(req, cur) {
		return preconditionFailed("delete item %d of %q: If-Match %q does not match %s", id, title, req.Header.Get("If-Match"), cur.ETag())
	}

	if err := s.store.DeleteItem(req.Context(), title, id); err != nil {
		return s.itemErr(err, title, id, "delete item")
	}

	return ok(nil, "deleted item %d of %q", id, title)
}

func (s *Server) storeErr(err error, title string, op string) result {
	if errors.Is(err, store.ErrNotFound) {
		return notFound("List '"+title+"' does not exist", "%s: %s", op, err.Error())
	}
	return internalServerError("%s: list %q: %s", op, title, err.Error())
}

func (s *Server) itemErr(err error, title string, id int, op string) result {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(fmt.Sprintf("Item %d does not exist in list '%s'", id, title), "%s: %s", op, err.Error())
	}
	return internalServerError("%s: list %q item %d: %s", op, title, id, err.Error())
}

// readFields decodes the JSON object in the body of req. Reserved fields are
// dropped. An empty body gives an empty map.
func readFields(req *http.Request) (map[string]interface{}, error) {
	data, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("body is larger than %d bytes", maxBodySize)
	}

	fields := map[string]interface{}{}
	if strings.TrimSpace(string(data)) == "" {
		return fields, nil
	}

	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("body must be a JSON object: %w", err)
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}

	for _, f := range reservedFields {
		delete(fields, f)
	}
	return fields, nil
}

// ifMatch returns whether the If-Match header of req allows a change to it.
// A missing header does not.
func ifMatch(req *http.Request, it store.Item) bool {
	v := strings.TrimSpace(req.Header.Get("If-Match"))
	if v == "*" {
		return true
	}
	for _, tag := range strings.Split(v, ",") {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
		if tag != "" && tag == it.ETag() {
			return true
		}
	}
	return false
}

func baseURI(req *http.Request) string {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + req.Host + PathAPI
}

func listURI(base, title string) string {
	return base + "/web/lists/getbytitle('" + client.EscapeDataString(title) + "')"
}

func listEntity(base string, l store.List) odata.Entity {
	uri := listURI(base, l.Title)
	return odata.Entity{
		odata.MetadataField: map[string]interface{}{
			"id":   uri,
			"uri":  uri,
			"type": "SP.List",
		},
		"Id":                         l.GUID.String(),
		"Title":                      l.Title,
		"Created":                    l.Created.UTC().Format(time.RFC3339),
		"ItemCount":                  l.ItemCount,
		"Hidden":                     l.Hidden(),
		"ListItemEntityTypeFullName": repo.EntityTypeName(l.Title),
	}
}

func itemEntity(base, list string, it store.Item) odata.Entity {
	uri := listURI(base, list) + "/items(" + strconv.Itoa(it.ID) + ")"

	e := odata.Entity{}
	for k, v := range it.Fields {
		e[k] = v
	}
	e[odata.MetadataField] = map[string]interface{}{
		"id":   uri,
		"uri":  uri,
		"etag": it.ETag(),
		"type": repo.EntityTypeName(list),
	}
	e["ID"] = it.ID
	e["Id"] = it.ID
	e["Created"] = it.Created.UTC().Format(time.RFC3339)
	e["Modified"] = it.Modified.UTC().Format(time.RFC3339)
	return e
}

// builtinFields are present on every list.
var builtinFields = []struct {
	name     string
	typ      storage.FieldType
	required bool
}{
	{"ID", storage.FieldCounter, false},
	{"Title", storage.FieldText, true},
	{"Created", storage.FieldDateTime, false},
	{"Modified", storage.FieldDateTime, false},
}

// fieldEntities describes the fields of a list. Lists have no declared schema,
// so beyond the built-in fields each field set on any item is reported with a
// type inferred from the first non-null value seen.
func fieldEntities(items []store.Item) []odata.Entity {
	var entities []odata.Entity
	seen := map[string]bool{}

	for _, bf := range builtinFields {
		entities = append(entities, fieldEntity(bf.name, bf.typ, bf.required))
		seen[bf.name] = true
	}

	inferred := map[string]storage.FieldType{}
	for _, it := range items {
		for name, v := range it.Fields {
			if seen[name] || inferred[name] != "" {
				continue
			}
			inferred[name] = inferFieldType(v)
		}
	}

	names := make([]string, 0, len(inferred))
	for name := range inferred {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		typ := inferred[name]
		if typ == "" {
			typ = storage.FieldText
		}
		entities = append(entities, fieldEntity(name, typ, false))
	}
	return entities
}

func fieldEntity(name string, typ storage.FieldType, required bool) odata.Entity {
	return odata.Entity{
		odata.MetadataField: map[string]interface{}{"type": "SP.Field"},
		"InternalName":      name,
		"Title":             name,
		"TypeAsString":      string(typ),
		"Required":          required,
		"Hidden":            false,
	}
}

// inferFieldType returns "" for nil so that a later value can decide.
func inferFieldType(v interface{}) storage.FieldType {
	switch val := v.(type) {
	case nil:
		return ""
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return storage.FieldInteger
		}
		return storage.FieldNumber
	case float64:
		return storage.FieldNumber
	case bool:
		return storage.FieldBoolean
	case string:
		if _, err := time.Parse(time.RFC3339, val); err == nil {
			return storage.FieldDateTime
		}
		return storage.FieldText
	default:
		return storage.FieldNote
	}
}
