package listserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dekarrin/jellypoint"
	"github.com/dekarrin/jellypoint/client"
	"github.com/dekarrin/jellypoint/credentials"
	"github.com/dekarrin/jellypoint/listserver/store"
	"github.com/dekarrin/jellypoint/listserver/store/inmem"
	"github.com/dekarrin/jellypoint/migrations"
	"github.com/dekarrin/jellypoint/repo"
	"github.com/dekarrin/jellypoint/scaffold"
	"github.com/stretchr/testify/assert"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// newTestServer starts a server over a fresh in-memory store with the given
// lists already created.
func newTestServer(t *testing.T, cfg Config, lists ...string) (*Server, *httptest.Server) {
	t.Helper()

	st := &inmem.Store{}
	if err := store.EnsureLists(context.Background(), st, lists...); err != nil {
		t.Fatalf("create lists: %v", err)
	}

	cfg.Store = st
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return srv, hs
}

func newTestClient(t *testing.T, hs *httptest.Server, tokens client.TokenSource) *client.RESTClient {
	t.Helper()

	c, err := client.New(client.Config{SiteURL: hs.URL, HTTPClient: hs.Client(), Tokens: tokens})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return c
}

func do(t *testing.T, hs *httptest.Server, method, path, body string, hdrs map[string]string) (*http.Response, string) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, hs.URL+path, r)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}

	resp, err := hs.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(data)
}

type task struct {
	ID     int    `json:"ID,omitempty"`
	Title  string `json:"Title"`
	Points int    `json:"Points"`
	Done   bool   `json:"Done"`
}

func (tk task) ModelID() int { return tk.ID }

func Test_parseResource(t *testing.T) {
	testCases := []struct {
		name      string
		path      string
		expect    resource
		expectErr bool
	}{
		{name: "lists", path: "/_api/web/lists", expect: resource{}},
		{name: "lists trailing slash", path: "/_api/web/lists/", expect: resource{}},
		{name: "one list", path: "/_api/web/lists/getbytitle('Tasks')", expect: resource{list: "Tasks"}},
		{name: "escaped title", path: "/_api/web/lists/getbytitle('My%20Tasks')/items", expect: resource{list: "My Tasks", sub: "items"}},
		{name: "escaped quote", path: "/_api/web/lists/getbytitle('O%27Brien')/items", expect: resource{list: "O'Brien", sub: "items"}},
		{name: "doubled quote", path: "/_api/web/lists/getbytitle('O''Brien')/fields", expect: resource{list: "O'Brien", sub: "fields"}},
		{name: "item", path: "/_api/web/lists/getbytitle('Tasks')/items(12)", expect: resource{list: "Tasks", sub: "items", itemID: 12, hasItem: true}},
		{name: "empty title", path: "/_api/web/lists/getbytitle('')/items", expectErr: true},
		{name: "field by id", path: "/_api/web/lists/getbytitle('Tasks')/fields(1)", expectErr: true},
		{name: "unknown", path: "/_api/web/webs", expectErr: true},
		{name: "negative id", path: "/_api/web/lists/getbytitle('Tasks')/items(-1)", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			actual, err := parseResource(req)
			if tc.expectErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.expect, actual)
		})
	}
}

func Test_Config_Validate(t *testing.T) {
	st := &inmem.Store{}

	testCases := []struct {
		name      string
		cfg       Config
		expectErr bool
	}{
		{name: "minimal", cfg: Config{Store: st}},
		{name: "no store", cfg: Config{}, expectErr: true},
		{name: "clients without secret", cfg: Config{Store: st, Clients: map[string]string{"a": "hash"}}, expectErr: true},
		{name: "clients with short secret", cfg: Config{Store: st, Clients: map[string]string{"a": "hash"}, TokenSecret: []byte("short")}, expectErr: true},
		{name: "client with empty hash", cfg: Config{Store: st, Clients: map[string]string{"a": ""}, TokenSecret: []byte(testSecret)}, expectErr: true},
		{name: "clients", cfg: Config{Store: st, Clients: map[string]string{"a": "hash"}, TokenSecret: []byte(testSecret)}},
		{name: "negative TTL", cfg: Config{Store: st, TokenTTL: -time.Second}, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			err := tc.cfg.FillDefaults().Validate()
			if tc.expectErr {
				assert.ErrorIs(err, jellypoint.ErrConfiguration)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func Test_Server_ItemLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	_, hs := newTestServer(t, Config{}, "Tasks")
	c := newTestClient(t, hs, nil)

	createdDoc, err := c.CreateListItem(ctx, "Tasks", client.MustDocument(map[string]interface{}{
		"__metadata": map[string]interface{}{"type": "SP.Data.TasksListItem"},
		"Title":      "Write it",
		"Points":     3,
		"ID":         99,
	}))
	if !assert.NoError(err) {
		return
	}
	ent, err := createdDoc.Entity()
	if !assert.NoError(err) {
		return
	}
	id, hasID := ent.ID()
	assert.True(hasID)
	assert.Equal(1, id, "client-sent ID must be ignored")
	assert.Equal(`"1"`, ent.ETag())
	assert.Equal("Write it", ent["Title"])

	_, err = c.CreateListItem(ctx, "Tasks", client.MustDocument(map[string]interface{}{"Title": "Test it", "Points": 1}))
	assert.NoError(err)

	updated, err := c.UpdateListItem(ctx, "Tasks", 1, client.MustDocument(map[string]interface{}{"Points": 5}))
	assert.NoError(err)
	assert.True(updated.IsEmpty())

	doc, err := c.GetListItems(ctx, "Tasks", client.ListQuery{OrderBy: "Points desc", Select: "Title,Points"})
	if !assert.NoError(err) {
		return
	}
	items, err := doc.Results()
	if !assert.NoError(err) {
		return
	}
	if assert.Len(items, 2) {
		assert.Equal("Write it", items[0]["Title"])
		assert.Equal(json.Number("5"), items[0]["Points"])
		assert.Equal(`"2"`, items[0].ETag())
		assert.NotContains(items[0], "Created", "$select must project")
	}

	assert.NoError(c.DeleteListItem(ctx, "Tasks", 2))

	err = c.DeleteListItem(ctx, "Tasks", 2)
	assert.ErrorIs(err, jellypoint.ErrTransport)
	code, _ := jellypoint.StatusCode(err)
	assert.Equal(http.StatusNotFound, code)

	_, err = c.GetListItems(ctx, "Nope", client.ListQuery{})
	code, _ = jellypoint.StatusCode(err)
	assert.Equal(http.StatusNotFound, code)
}

func Test_Server_Query(t *testing.T) {
	ctx := context.Background()

	_, hs := newTestServer(t, Config{}, "My Tasks")
	c := newTestClient(t, hs, nil)

	for i, title := range []string{"alpha", "beta", "O'Brien", "gamma"} {
		_, err := c.CreateListItem(ctx, "My Tasks", client.MustDocument(map[string]interface{}{"Title": title, "Points": i}))
		if err != nil {
			t.Fatalf("create item: %v", err)
		}
	}

	testCases := []struct {
		name      string
		q         client.ListQuery
		expect    []string
		expectErr bool
	}{
		{name: "all", expect: []string{"alpha", "beta", "O'Brien", "gamma"}},
		{name: "quoted filter", q: client.ListQuery{Filter: "Title eq 'O''Brien'"}, expect: []string{"O'Brien"}},
		{name: "filter and order", q: client.ListQuery{Filter: "Points ge 1", OrderBy: "Title"}, expect: []string{"O'Brien", "beta", "gamma"}},
		{name: "page", q: client.ListQuery{OrderBy: "ID desc", Top: client.Int(2), Skip: client.Int(1)}, expect: []string{"O'Brien", "beta"}},
		{name: "bad filter", q: client.ListQuery{Filter: "Points eq"}, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			doc, err := c.GetListItems(ctx, "My Tasks", tc.q)
			if tc.expectErr {
				code, _ := jellypoint.StatusCode(err)
				assert.Equal(http.StatusBadRequest, code)
				return
			}
			if !assert.NoError(err) {
				return
			}

			items, err := doc.Results()
			if !assert.NoError(err) {
				return
			}
			titles := []string{}
			for _, it := range items {
				titles = append(titles, it["Title"].(string))
			}
			assert.Equal(tc.expect, titles)
		})
	}
}

func Test_Server_IfMatch(t *testing.T) {
	_, hs := newTestServer(t, Config{}, "Tasks")
	itemPath := "/_api/web/lists/getbytitle('Tasks')/items(1)"

	resp, _ := do(t, hs, http.MethodPost, "/_api/web/lists/getbytitle('Tasks')/items", `{"Title":"x"}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create item: HTTP-%d", resp.StatusCode)
	}

	testCases := []struct {
		name   string
		method string
		hdrs   map[string]string
		expect int
	}{
		{name: "merge without If-Match", method: client.MethodMerge, expect: http.StatusPreconditionFailed},
		{name: "merge with stale etag", method: client.MethodMerge, hdrs: map[string]string{"If-Match": `"7"`}, expect: http.StatusPreconditionFailed},
		{name: "merge with current etag", method: client.MethodMerge, hdrs: map[string]string{"If-Match": `"1"`}, expect: http.StatusNoContent},
		{name: "patch with old etag", method: http.MethodPatch, hdrs: map[string]string{"If-Match": `"1"`}, expect: http.StatusPreconditionFailed},
		{name: "tunneled merge with wildcard", method: http.MethodPost, hdrs: map[string]string{"If-Match": "*", HeaderMethodOverride: "MERGE"}, expect: http.StatusNoContent},
		{name: "delete with weak etag", method: http.MethodDelete, hdrs: map[string]string{"If-Match": `W/"3"`}, expect: http.StatusOK},
		{name: "delete again", method: http.MethodDelete, hdrs: map[string]string{"If-Match": "*"}, expect: http.StatusNotFound},
	}

	// cases depend on each other; they run in order
	for _, tc := range testCases {
		resp, body := do(t, hs, tc.method, itemPath, `{"Title":"y"}`, tc.hdrs)
		assert.Equal(t, tc.expect, resp.StatusCode, "%s: %s", tc.name, body)
	}
}

func Test_Server_Lists(t *testing.T) {
	assert := assert.New(t)

	_, hs := newTestServer(t, Config{}, migrations.TableName)

	resp, body := do(t, hs, http.MethodPost, "/_api/web/lists", `{"__metadata":{"type":"SP.List"},"Title":"Tasks"}`, nil)
	assert.Equal(http.StatusCreated, resp.StatusCode, body)
	assert.Contains(body, `"ListItemEntityTypeFullName":"SP.Data.TasksListItem"`)

	resp, _ = do(t, hs, http.MethodPost, "/_api/web/lists", `{"Title":"tasks"}`, nil)
	assert.Equal(http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, hs, http.MethodPost, "/_api/web/lists", `{}`, nil)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, hs, http.MethodGet, "/_api/web/lists?$select=Title&$filter=Hidden%20eq%20false", "", nil)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(ContentTypeVerbose, resp.Header.Get("Content-Type"))

	var envelope struct {
		D struct {
			Results []map[string]interface{} `json:"results"`
		} `json:"d"`
	}
	if assert.NoError(json.Unmarshal([]byte(body), &envelope)) && assert.Len(envelope.D.Results, 1) {
		assert.Equal("Tasks", envelope.D.Results[0]["Title"])
	}

	resp, _ = do(t, hs, http.MethodGet, "/_api/web/lists/getbytitle('Nope')", "", nil)
	assert.Equal(http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, hs, http.MethodDelete, "/_api/web/lists/getbytitle('Tasks')", "", nil)
	assert.Equal(http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = do(t, hs, http.MethodGet, "/_api/web/webs", "", nil)
	assert.Equal(http.StatusNotFound, resp.StatusCode)
}

func Test_Server_RequestGUID(t *testing.T) {
	assert := assert.New(t)

	_, hs := newTestServer(t, Config{})

	resp, _ := do(t, hs, http.MethodGet, "/_api/web/lists", "", map[string]string{client.HeaderRequestID: "6f9619ff-8b86-d011-b42d-00c04fc964ff"})
	assert.Equal("6f9619ff-8b86-d011-b42d-00c04fc964ff", resp.Header.Get(HeaderRequestGUID))

	resp, _ = do(t, hs, http.MethodGet, "/_api/web/lists", "", nil)
	assert.Len(resp.Header.Get(HeaderRequestGUID), 36)
}

func Test_Server_Repository(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	_, hs := newTestServer(t, Config{}, "Tasks")
	r := repo.New[task](newTestClient(t, hs, nil), "Tasks")
	r.EntityType = repo.EntityTypeName("Tasks")

	first, err := r.Save(ctx, task{Title: "Write it", Points: 3})
	if !assert.NoError(err) {
		return
	}
	assert.Equal(task{ID: 1, Title: "Write it", Points: 3}, first)

	_, err = r.Create(ctx, task{Title: "Test it", Points: 1})
	assert.NoError(err)

	first.Done = true
	saved, err := r.Save(ctx, first)
	assert.NoError(err)
	assert.Equal(task{ID: 1, Title: "Write it", Points: 3, Done: true}, saved)

	open, err := r.GetAll(ctx, client.ListQuery{Filter: "Done eq false"})
	assert.NoError(err)
	assert.Equal([]task{{ID: 2, Title: "Test it", Points: 1}}, open)

	deleted, err := r.Delete(ctx, 2)
	assert.NoError(err)
	assert.Equal("Test it", deleted.Title)

	_, err = r.Get(ctx, 2)
	assert.ErrorIs(err, jellypoint.ErrNotFound)
}

func Test_Server_MigrationHistory(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv, hs := newTestServer(t, Config{})
	hr := migrations.New(newTestClient(t, hs, nil), nil)

	exists, err := hr.Exists(ctx)
	assert.NoError(err)
	assert.False(exists)

	rows, err := hr.AppliedMigrations(ctx)
	assert.NoError(err)
	assert.Empty(rows)

	if _, err := srv.store.CreateList(ctx, migrations.TableName); !assert.NoError(err) {
		return
	}

	exists, err = hr.Exists(ctx)
	assert.NoError(err)
	assert.True(exists)

	assert.NoError(hr.RecordMigration(ctx, migrations.Row{MigrationID: "20240102_Second"}))
	assert.NoError(hr.RecordMigration(ctx, migrations.Row{MigrationID: "20240101_First", ProductVersion: "x/2"}))

	rows, err = hr.AppliedMigrations(ctx)
	assert.NoError(err)
	assert.Equal([]migrations.Row{
		{MigrationID: "20240101_First", ProductVersion: "x/2"},
		{MigrationID: "20240102_Second", ProductVersion: migrations.ProductVersion},
	}, rows)
}

func Test_Server_Fields(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	_, hs := newTestServer(t, Config{}, "Tasks", migrations.TableName)
	c := newTestClient(t, hs, nil)

	c.CreateListItem(ctx, "Tasks", client.MustDocument(map[string]interface{}{"Title": "a", "Due": nil, "Points": 2}))
	c.CreateListItem(ctx, "Tasks", client.MustDocument(map[string]interface{}{
		"Title":  "b",
		"Due":    "2024-01-02T00:00:00Z",
		"Done":   true,
		"Weight": 1.5,
	}))

	model, err := scaffold.ModelFactory{Client: c}.Create(ctx, scaffold.Options{})
	if !assert.NoError(err) {
		return
	}
	if !assert.Len(model.Tables, 1, "hidden lists are not scaffolded") {
		return
	}

	table := model.Tables[0]
	assert.Equal("Tasks", table.Name)
	assert.Equal([]string{"ID"}, table.PrimaryKey)

	types := map[string]string{}
	for _, col := range table.Columns {
		types[col.Name] = col.FieldType
	}
	assert.Equal(map[string]string{
		"ID":       "Counter",
		"Title":    "Text",
		"Created":  "DateTime",
		"Modified": "DateTime",
		"Done":     "Boolean",
		"Due":      "DateTime",
		"Points":   "Integer",
		"Weight":   "Number",
	}, types)
}

func Test_Server_Auth(t *testing.T) {
	hash, err := HashSecret("s3cret")
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}

	_, hs := newTestServer(t, Config{
		Clients:     map[string]string{"app": hash},
		TokenSecret: []byte(testSecret),
		TokenTTL:    10 * time.Minute,
	}, "Tasks")

	t.Run("API requires a token", func(t *testing.T) {
		assert := assert.New(t)

		resp, _ := do(t, hs, http.MethodGet, "/_api/web/lists", "", nil)
		assert.Equal(http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(resp.Header.Get("WWW-Authenticate"), "Bearer")

		resp, _ = do(t, hs, http.MethodGet, "/_api/web/lists", "", map[string]string{"Authorization": "Bearer garbage"})
		assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("token endpoint errors", func(t *testing.T) {
		form := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

		testCases := []struct {
			name       string
			body       string
			expect     int
			expectCode string
		}{
			{name: "wrong grant", body: "grant_type=password&client_id=app&client_secret=s3cret", expect: http.StatusBadRequest, expectCode: "unsupported_grant_type"},
			{name: "unknown client", body: "grant_type=client_credentials&client_id=other&client_secret=s3cret", expect: http.StatusUnauthorized, expectCode: "invalid_client"},
			{name: "wrong secret", body: "grant_type=client_credentials&client_id=app&client_secret=nope", expect: http.StatusUnauthorized, expectCode: "invalid_client"},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				assert := assert.New(t)

				resp, body := do(t, hs, http.MethodPost, PathToken, tc.body, form)
				assert.Equal(tc.expect, resp.StatusCode)

				var oerr oauthErrorResponse
				assert.NoError(json.Unmarshal([]byte(body), &oerr))
				assert.Equal(tc.expectCode, oerr.Error)
			})
		}
	})

	t.Run("client credentials", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.Background()

		cc := &credentials.ClientCredentials{
			TokenURL:     hs.URL + PathToken,
			ClientID:     "app",
			ClientSecret: "s3cret",
			HTTPClient:   hs.Client(),
		}
		c := newTestClient(t, hs, cc)

		_, err := c.CreateListItem(ctx, "Tasks", client.MustDocument(map[string]interface{}{"Title": "secured"}))
		assert.NoError(err)

		doc, err := c.GetListItems(ctx, "Tasks", client.ListQuery{})
		assert.NoError(err)
		items, _ := doc.Results()
		assert.Len(items, 1)

		bad := newTestClient(t, hs, &credentials.ClientCredentials{
			TokenURL:     hs.URL + PathToken,
			ClientID:     "app",
			ClientSecret: "wrong",
			HTTPClient:   hs.Client(),
		})
		_, err = bad.GetListItems(ctx, "Tasks", client.ListQuery{})
		assert.ErrorIs(err, jellypoint.ErrTransport)
	})
}

func Test_Server_Metrics(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		assert := assert.New(t)

		srv, hs := newTestServer(t, Config{}, "Tasks")
		assert.NotNil(srv.Registry())

		do(t, hs, http.MethodGet, "/_api/web/lists/getbytitle('Tasks')/items", "", nil)

		resp, body := do(t, hs, http.MethodGet, PathMetrics, "", nil)
		assert.Equal(http.StatusOK, resp.StatusCode)
		assert.Contains(body, `jplistserver_server_http_requests_total{method="GET",route="/_api/*",status="200"} 1`)
	})

	t.Run("disabled", func(t *testing.T) {
		assert := assert.New(t)

		srv, hs := newTestServer(t, Config{DisableMetrics: true})
		assert.Nil(srv.Registry())

		resp, _ := do(t, hs, http.MethodGet, PathMetrics, "", nil)
		assert.Equal(http.StatusNotFound, resp.StatusCode)
	})
}

func Test_Server_DontPanic(t *testing.T) {
	assert := assert.New(t)

	srv, err := New(Config{Store: &inmem.Store{}})
	if !assert.NoError(err) {
		return
	}

	h := srv.dontPanic(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		panic("oh no")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/_api/web/lists", nil))

	assert.Equal(http.StatusInternalServerError, w.Code)
	assert.Contains(w.Body.String(), "An internal server error occurred")
	assert.NotContains(w.Body.String(), "oh no")
}

func Test_Server_RoutesIndex(t *testing.T) {
	assert := assert.New(t)

	srv, err := New(Config{Store: &inmem.Store{}})
	if !assert.NoError(err) {
		return
	}

	idx := srv.RoutesIndex()
	assert.Contains(idx, "* /oauth2/token - POST")
	assert.Contains(idx, "* /metrics - GET")
	assert.Contains(idx, "* /_api/* - ")
	assert.Contains(idx, "MERGE")
}

func Test_Server_ServeAndShutdown(t *testing.T) {
	assert := assert.New(t)

	st := &inmem.Store{}
	srv, err := New(Config{Store: st})
	if !assert.NoError(err) {
		return
	}

	assert.Error(srv.Shutdown(context.Background()), "shutdown before serve")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if !assert.NoError(err) {
		return
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	url := "http://" + l.Addr().String() + "/_api/web/lists"
	assert.Eventually(func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(srv.Shutdown(ctx))

	select {
	case err := <-served:
		assert.ErrorIs(err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}

	_, err = st.Lists(context.Background())
	assert.ErrorIs(err, store.ErrClosed)
}
