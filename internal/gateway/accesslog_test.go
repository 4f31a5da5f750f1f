package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tjfontaine/envelope-gateway/internal/config"
	"github.com/tjfontaine/envelope-gateway/internal/domain"
)

func TestParseLogType(t *testing.T) {
	tests := []struct {
		in     string
		want   LogType
		wantOK bool
	}{
		{"1", LogIgnoreResponse, true},
		{" 2 ", LogMergeResponse, true},
		{"3", LogSplitResponse, true},
		{"0", 0, false},
		{"4", 4, false},
		{"merge", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLogType(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLogType(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestLiveLogType(t *testing.T) {
	live := NewLiveLogType(9)
	if live.Load() != LogMergeResponse {
		t.Errorf("invalid initial value should fall back to merge, got %v", live.Load())
	}
	if err := live.Store(LogSplitResponse); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := live.Store(0); err == nil {
		t.Error("expected invalid log type to be rejected")
	}
	if live.Load() != LogSplitResponse {
		t.Errorf("Load() = %v, want split", live.Load())
	}
}

func TestAccessLog_Modes(t *testing.T) {
	tests := []struct {
		name       string
		live       LogType
		query      string
		wantLogged []string
		wantAbsent []string
	}{
		{
			name:       "ignore response",
			live:       LogIgnoreResponse,
			wantLogged: []string{"gateway request"},
			wantAbsent: []string{"gateway exchange", "gateway response"},
		},
		{
			name:       "merge response",
			live:       LogMergeResponse,
			wantLogged: []string{"gateway exchange"},
			wantAbsent: []string{"gateway request", "gateway response"},
		},
		{
			name:       "split response",
			live:       LogSplitResponse,
			wantLogged: []string{"gateway request", "gateway response"},
			wantAbsent: []string{"gateway exchange"},
		},
		{
			name:       "query override",
			live:       LogMergeResponse,
			query:      "?" + LogTypeParam + "=3",
			wantLogged: []string{"gateway request", "gateway response"},
			wantAbsent: []string{"gateway exchange"},
		},
		{
			name:       "invalid override falls back",
			live:       LogIgnoreResponse,
			query:      "?" + LogTypeParam + "=7",
			wantLogged: []string{"gateway request"},
			wantAbsent: []string{"gateway exchange", "gateway response"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newEchoUpstream(t)
			g := newTestGateway(t, nil, nil, config.RouteConfig{ID: "orders", URI: up.URL, Path: "/orders"})
			if err := g.live.Store(tt.live); err != nil {
				t.Fatalf("Store: %v", err)
			}

			if rec := g.do(http.MethodGet, "/orders/1"+tt.query, "", ""); rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}

			for _, msg := range tt.wantLogged {
				if _, ok := g.logs.Find(t, msg); !ok {
					t.Errorf("expected %q in %v", msg, g.logs.Messages(t))
				}
			}
			for _, msg := range tt.wantAbsent {
				if _, ok := g.logs.Find(t, msg); ok {
					t.Errorf("unexpected %q in %v", msg, g.logs.Messages(t))
				}
			}
		})
	}
}

func TestAccessLog_MergedSummary(t *testing.T) {
	up := newEchoUpstream(t)
	g := newTestGateway(t, nil, nil, config.RouteConfig{ID: "orders", URI: up.URL, Path: "/orders"})

	g.do(http.MethodGet, "/orders/1?x=1", "", "")

	entry, ok := g.logs.Find(t, "gateway exchange")
	if !ok {
		t.Fatalf("no merged summary in %v", g.logs.Messages(t))
	}
	want := map[string]any{
		"method":          "GET",
		"url":             "/orders/1?x=1",
		"forward_url":     up.URL + "/orders/1?x=1",
		"route_id":        "orders",
		"route_uri":       up.URL,
		"route_predicate": "Path=/orders/**",
		"route_filters":   "[]",
		"status":          float64(http.StatusOK),
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
	if _, ok := entry["total_time_s"].(float64); !ok {
		t.Errorf("total_time_s missing or not a number: %v", entry["total_time_s"])
	}
	if entry["request_id"] == "" {
		t.Error("request_id should be set")
	}
	if _, ok := entry["error"]; ok {
		t.Error("successful exchanges carry no error")
	}
}

func TestAccessLog_SplitOrdering(t *testing.T) {
	up := newEchoUpstream(t)
	g := newTestGateway(t, nil, nil, config.RouteConfig{ID: "orders", URI: up.URL, Path: "/orders"})
	if err := g.live.Store(LogSplitResponse); err != nil {
		t.Fatalf("Store: %v", err)
	}

	g.do(http.MethodGet, "/orders/1", "", "")

	var order []string
	for _, msg := range g.logs.Messages(t) {
		if msg == "gateway request" || msg == "gateway response" {
			order = append(order, msg)
		}
	}
	if len(order) != 2 || order[0] != "gateway request" {
		t.Errorf("request facts must precede response facts, got %v", order)
	}

	resp, _ := g.logs.Find(t, "gateway response")
	if _, ok := resp["route_id"]; ok {
		t.Error("response entry should only carry response facts")
	}
	if resp["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v", resp["status"])
	}
}

func TestAccessLog_FailureStillSummarized(t *testing.T) {
	transport := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, http.ErrHandlerTimeout
	})
	g := newTestGateway(t, transport, nil, config.RouteConfig{ID: "orders", URI: "http://orders", Path: "/orders"})

	g.do(http.MethodGet, "/orders/1", "", "")

	entry, ok := g.logs.Find(t, "gateway exchange")
	if !ok {
		t.Fatalf("no merged summary in %v", g.logs.Messages(t))
	}
	if entry["status"] != float64(http.StatusBadGateway) {
		t.Errorf("status = %v, want 502", entry["status"])
	}
	if entry["error"] == nil {
		t.Error("expected error attribute")
	}
}

func TestAccessLog_ClientCancellationStillSummarized(t *testing.T) {
	started := make(chan struct{})
	transport := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		close(started)
		<-r.Context().Done()
		return nil, r.Context().Err()
	})
	g := newTestGateway(t, transport, nil, config.RouteConfig{ID: "orders", URI: "http://orders", Path: "/orders"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/1", nil).WithContext(ctx))

	entry, ok := g.logs.Find(t, "gateway exchange")
	if !ok {
		t.Fatalf("no merged summary in %v", g.logs.Messages(t))
	}
	if entry["status"] != float64(StatusClientClosedRequest) {
		t.Errorf("status = %v, want %d", entry["status"], StatusClientClosedRequest)
	}
	if msg, _ := entry["error"].(string); !strings.Contains(msg, context.Canceled.Error()) {
		t.Errorf("error = %q, want cancellation", msg)
	}

	recs := g.records(t)
	if len(recs) != 1 || recs[0].Status != StatusClientClosedRequest || recs[0].RouteID != "orders" {
		t.Errorf("unexpected records: %+v", recs)
	}

	if _, ok := g.logs.Find(t, "gateway exchange cancelled by client"); !ok {
		t.Errorf("expected cancellation log, got %v", g.logs.Messages(t))
	}
	if _, ok := g.logs.Find(t, "gateway exchange failed"); ok {
		t.Error("a client cancellation is not a gateway failure")
	}
	if got := testutil.CollectAndCount(g.metrics.ErrorsTotal); got != 0 {
		t.Errorf("errors_total series = %d, want 0", got)
	}
	if env := decodeEnvelope(t, rec); env.Code != domain.CodeClientError.Code {
		t.Errorf("code = %q, want CLIENT_ERROR", env.Code)
	}
}

func TestAccessLog_RequestBodyLogged(t *testing.T) {
	up := newEchoUpstream(t)
	g := newTestGateway(t, nil, nil, config.RouteConfig{ID: "orders", URI: up.URL, Path: "/orders"})

	g.do(http.MethodPost, "/orders", "application/x-www-form-urlencoded", "a=1&b=2&a=3")
	g.do(http.MethodPost, "/orders", "application/json", `{"id":1}`)

	var bodies []map[string]any
	for _, e := range g.logs.Entries(t) {
		if e["msg"] == "request body" {
			bodies = append(bodies, e)
		}
	}
	if len(bodies) != 2 {
		t.Fatalf("request body entries = %d, want 2", len(bodies))
	}
	form, ok := bodies[0]["body_map"].(map[string]any)
	if !ok || form["a"] != "3" || form["b"] != "2" {
		t.Errorf("body_map = %v", bodies[0]["body_map"])
	}
	if bodies[1]["body"] != `{"id":1}` {
		t.Errorf("body = %v", bodies[1]["body"])
	}
}
