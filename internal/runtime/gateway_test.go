package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/envelope-gateway/internal/config"
	"github.com/tjfontaine/envelope-gateway/internal/domain"
	"github.com/tjfontaine/envelope-gateway/internal/gateway"
	"github.com/tjfontaine/envelope-gateway/internal/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(domain.Success(r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, path, upstream string, logType int) {
	t.Helper()
	content := fmt.Sprintf(`
application:
  name: gateway-test
tracing:
  exporter: none
gateway:
  log_type: %d
  routes:
    - id: orders
      uri: %s
      path: /api/orders
      strip_prefix: 1
`, logType, upstream)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func startGateway(t *testing.T, opts ...Option) *Gateway {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger()), WithListenAddr("127.0.0.1:0")}, opts...)
	gw, err := New(opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return gw
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestGateway_New_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"nil config", []Option{WithConfig(nil)}},
		{"invalid config", []Option{WithConfig(&config.Config{Server: config.ServerConfig{ErrorPath: "/error"}})}},
		{"bad storage", []Option{WithConfig(&config.Config{
			Server:  config.ServerConfig{ErrorPath: "/error"},
			Gateway: config.GatewayConfig{LogType: 2},
			Storage: config.StorageConfig{Type: "cassandra"},
		})}},
		{"bad route filter", []Option{WithMemoryStore(), WithConfig(&config.Config{
			Server: config.ServerConfig{ErrorPath: "/error"},
			Gateway: config.GatewayConfig{LogType: 2, Routes: []config.RouteConfig{
				{ID: "a", URI: "http://a", Path: "/a", Filters: []string{"Unknown=1"}},
			}},
		})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(append([]Option{WithLogger(discardLogger())}, tt.opts...)...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGateway_Start_And_Shutdown(t *testing.T) {
	up := newUpstream(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, up.URL, 2)

	store := memory.New()
	gw := startGateway(t, WithConfigFile(configPath), WithAccessRecordStore(store))
	base := "http://" + gw.Addr()

	resp, body := get(t, base+"/api/orders/42")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, `"content":"/orders/42"`) {
		t.Errorf("unexpected upstream body: %s", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	resp, body = get(t, base+"/admin/access-records?route=orders")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"routeId":"orders"`) {
		t.Errorf("admin listing = %d %s", resp.StatusCode, body)
	}

	resp, body = get(t, base+"/metrics")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "envelope_gateway_gateway_requests_total") {
		t.Errorf("metrics = %d, missing request counter", resp.StatusCode)
	}

	resp, body = get(t, base+"/nowhere")
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(body, domain.CodeClientError.Code) {
		t.Errorf("unrouted = %d %s", resp.StatusCode, body)
	}
}

func TestGateway_ReloadsLogType(t *testing.T) {
	up := newUpstream(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, up.URL, 2)

	gw := startGateway(t, WithConfigFile(configPath), WithMemoryStore())
	if gw.LogType() != gateway.LogMergeResponse {
		t.Fatalf("initial log type = %v", gw.LogType())
	}

	writeConfig(t, configPath, up.URL, 3)

	deadline := time.Now().Add(3 * time.Second)
	for gw.LogType() != gateway.LogSplitResponse {
		if time.Now().After(deadline) {
			t.Fatalf("log type not reloaded, still %v", gw.LogType())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestGateway_Reload_IgnoresUnchanged(t *testing.T) {
	gw, err := New(WithLogger(discardLogger()), WithMemoryStore(), WithConfig(&config.Config{
		Server:  config.ServerConfig{ErrorPath: "/error"},
		Gateway: config.GatewayConfig{LogType: 1},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	gw.reload(&config.Config{Gateway: config.GatewayConfig{LogType: 1}})
	gw.reload(&config.Config{Gateway: config.GatewayConfig{LogType: 3}})

	if gw.LogType() != gateway.LogSplitResponse {
		t.Errorf("LogType() = %v, want split", gw.LogType())
	}
}

func TestGateway_MultipleStartCalls(t *testing.T) {
	gw := startGateway(t, WithMemoryStore(), WithConfig(&config.Config{
		Application: config.ApplicationConfig{Name: "gateway-test"},
		Server:      config.ServerConfig{ErrorPath: "/error"},
		Gateway:     config.GatewayConfig{LogType: 2},
		Tracing:     config.TracingConfig{Exporter: "none"},
	}))

	if err := gw.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}
