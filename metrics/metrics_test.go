package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

// gathered returns the counter value, or histogram sample count, of the series
// with the given name and labels.
func gathered(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched != len(labels) {
				continue
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			if m.GetHistogram() != nil {
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func Test_ClientCollector(t *testing.T) {
	assert := assert.New(t)

	cc := NewClientCollector("jellypoint")
	reg := prometheus.NewRegistry()
	if !assert.NoError(reg.Register(cc)) {
		return
	}

	cc.ObserveRequest("query", "GET", 200, 10*time.Millisecond)
	cc.ObserveRequest("query", "GET", 200, 20*time.Millisecond)
	cc.ObserveRequest("delete", "DELETE", 0, time.Millisecond)

	assert.Equal(2.0, gathered(t, reg, "jellypoint_client_requests_total", map[string]string{"operation": "query", "method": "GET", "status": "200"}))
	assert.Equal(1.0, gathered(t, reg, "jellypoint_client_requests_total", map[string]string{"operation": "delete", "method": "DELETE", "status": "error"}))
	assert.Equal(2.0, gathered(t, reg, "jellypoint_client_request_duration_seconds", map[string]string{"operation": "query", "method": "GET"}))
}

func Test_ServerCollector_Middleware(t *testing.T) {
	assert := assert.New(t)

	sc := NewServerCollector("jplistserver")
	reg := prometheus.NewRegistry()
	if !assert.NoError(reg.Register(sc)) {
		return
	}

	r := chi.NewRouter()
	r.Use(sc.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", Handler(reg))

	srv := httptest.NewServer(r)
	defer srv.Close()

	for _, path := range []string{"/items/1", "/items/2", "/items/missing"} {
		resp, err := http.Get(srv.URL + path)
		if assert.NoError(err) {
			resp.Body.Close()
		}
	}

	assert.Equal(2.0, gathered(t, reg, "jplistserver_server_http_requests_total", map[string]string{"method": "GET", "route": "/items/{id}", "status": "200"}))
	assert.Equal(1.0, gathered(t, reg, "jplistserver_server_http_requests_total", map[string]string{"method": "GET", "route": "/items/{id}", "status": "404"}))

	resp, err := http.Get(srv.URL + "/metrics")
	if !assert.NoError(err) {
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(string(body), `jplistserver_server_http_requests_total{method="GET",route="/items/{id}",status="200"} 2`)
}
