package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amycare/telemetry-core/internal/dataflow"
	"github.com/amycare/telemetry-core/internal/infrastructure/config"
)

func testServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	if deps.Counters == nil {
		deps.Counters = &dataflow.Counters{}
	}
	if deps.Recent == nil {
		deps.Recent = func(int) []dataflow.Event { return nil }
	}

	s := NewServer(config.Default(), deps, nil)
	srv := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, Deps{
		Health: func() map[string]any {
			return map[string]any{"kati": "running"}
		},
	})

	var body map[string]any
	resp := getJSON(t, srv.URL+"/api/v1/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	listeners, ok := body["listeners"].(map[string]any)
	if !ok || listeners["kati"] != "running" {
		t.Errorf("listeners = %v", body["listeners"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	counters := &dataflow.Counters{}
	counters.Received.Add(5)
	counters.Stored.Add(3)

	srv := testServer(t, Deps{Counters: counters})

	var body map[string]uint64
	getJSON(t, srv.URL+"/api/v1/metrics", &body)
	if body["received"] != 5 || body["stored"] != 3 {
		t.Errorf("metrics = %v", body)
	}
}

func TestEventsEndpoint(t *testing.T) {
	events := []dataflow.Event{
		{FlowID: "f1", Step: dataflow.StepReceived, Status: dataflow.StatusOK, ServerTS: time.Now()},
		{FlowID: "f1", Step: dataflow.StepParsed, Status: dataflow.StatusOK, ServerTS: time.Now()},
	}
	var gotLimit int
	srv := testServer(t, Deps{
		Recent: func(limit int) []dataflow.Event {
			gotLimit = limit
			return events
		},
	})

	var body struct {
		Count  int              `json:"count"`
		Events []dataflow.Event `json:"events"`
	}
	getJSON(t, srv.URL+"/api/v1/dataflow/events?limit=25", &body)
	if gotLimit != 25 {
		t.Errorf("limit passed = %d, want 25", gotLimit)
	}
	if body.Count != 2 || len(body.Events) != 2 {
		t.Errorf("body = %+v", body)
	}

	resp := getJSON(t, srv.URL+"/api/v1/dataflow/events?limit=-1", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", resp.StatusCode)
	}
	resp = getJSON(t, srv.URL+"/api/v1/dataflow/events?limit=abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("garbage limit status = %d, want 400", resp.StatusCode)
	}
}

func TestCacheFlushEndpoint(t *testing.T) {
	var flushed bool
	srv := testServer(t, Deps{FlushCache: func() { flushed = true }})

	resp, err := http.Post(srv.URL+"/api/v1/cache/flush", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !flushed {
		t.Error("flush callback not invoked")
	}
}
