package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// recordingFilter is a test helper that records before/after events.
type recordingFilter struct {
	name   string
	events *[]string
	stop   bool
}

func (f *recordingFilter) Filter(ctx context.Context, ex *Exchange, next Next) error {
	*f.events = append(*f.events, f.name+":before")
	if f.stop {
		return nil
	}
	err := next(ctx, ex)
	*f.events = append(*f.events, f.name+":after")
	return err
}

func newTestExchange(body string) *Exchange {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(http.MethodGet, "/orders?id=1", nil)
	} else {
		r = httptest.NewRequest(http.MethodPost, "/orders?id=1", strings.NewReader(body))
	}
	return NewExchange(httptest.NewRecorder(), r, "req-1")
}

// =============================================================================
// Chain Tests
// =============================================================================

func TestChain_Empty(t *testing.T) {
	called := false
	c := NewChain(func(ctx context.Context, ex *Exchange) error {
		called = true
		return nil
	})

	if err := c.Run(context.Background(), newTestExchange("")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected terminal to run")
	}
}

func TestChain_OrderThenRegistration(t *testing.T) {
	var events []string
	terminal := func(ctx context.Context, ex *Exchange) error {
		events = append(events, "terminal")
		return nil
	}

	c := NewChain(terminal,
		StageConfig{Name: "log", Order: 100, Filter: &recordingFilter{name: "log", events: &events}},
		StageConfig{Name: "b", Order: 1, Filter: &recordingFilter{name: "b", events: &events}},
		StageConfig{Name: "cache", Order: 0, Filter: &recordingFilter{name: "cache", events: &events}},
		StageConfig{Name: "b2", Order: 1, Filter: &recordingFilter{name: "b2", events: &events}},
	)

	if diff := cmp.Diff([]string{"cache", "b", "b2", "log"}, c.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	if err := c.Run(context.Background(), newTestExchange("")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"cache:before", "b:before", "b2:before", "log:before",
		"terminal",
		"log:after", "b2:after", "b:after", "cache:after",
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestChain_ShortCircuit(t *testing.T) {
	var events []string
	terminal := func(ctx context.Context, ex *Exchange) error {
		events = append(events, "terminal")
		return nil
	}

	c := NewChain(terminal,
		StageConfig{Name: "deny", Order: 0, Filter: &recordingFilter{name: "deny", events: &events, stop: true}},
		StageConfig{Name: "log", Order: 1, Filter: &recordingFilter{name: "log", events: &events}},
	)

	if err := c.Run(context.Background(), newTestExchange("")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"deny:before"}, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestChain_ErrorPropagates(t *testing.T) {
	boom := errors.New("upstream down")
	var events []string
	c := NewChain(
		func(ctx context.Context, ex *Exchange) error { return boom },
		StageConfig{Name: "log", Filter: &recordingFilter{name: "log", events: &events}},
	)

	if err := c.Run(context.Background(), newTestExchange("")); !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
	if diff := cmp.Diff([]string{"log:before", "log:after"}, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestChain_With(t *testing.T) {
	noop := FilterFunc(func(ctx context.Context, ex *Exchange, next Next) error { return next(ctx, ex) })
	base := NewChain(nil,
		StageConfig{Name: "first", Order: 0, Filter: noop},
		StageConfig{Name: "last", Order: 10, Filter: noop},
	)

	extended := base.With(StageConfig{Name: "middle", Order: 5, Filter: noop})

	if diff := cmp.Diff([]string{"first", "middle", "last"}, extended.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if base.Len() != 2 {
		t.Errorf("base chain modified: %v", base.Names())
	}
}

// =============================================================================
// Exchange Tests
// =============================================================================

func TestExchange_CacheBody(t *testing.T) {
	ex := newTestExchange("a=1&b=2")
	originalReq := ex.Request()

	cached, err := ex.CacheBody()
	if err != nil {
		t.Fatalf("CacheBody: %v", err)
	}
	if ex.Request() == originalReq {
		t.Error("expected current request to be replaced")
	}

	again, err := ex.CacheBody()
	if err != nil || again != cached {
		t.Errorf("expected same cache on second call, got %v %v", again, err)
	}

	for i := 0; i < 2; i++ {
		body, _ := ex.Request().GetBody()
		got, _ := io.ReadAll(body)
		if !bytes.Equal(got, []byte("a=1&b=2")) {
			t.Errorf("read %d = %q", i, got)
		}
	}
	got, _ := io.ReadAll(ex.Request().Body)
	if string(got) != "a=1&b=2" {
		t.Errorf("Body = %q", got)
	}
}

func TestExchange_NoCacheByDefault(t *testing.T) {
	ex := newTestExchange("payload")
	if _, ok := ex.CachedBody(); ok {
		t.Error("body should not be cached until a stage asks")
	}
}

func TestExchange_Attributes(t *testing.T) {
	ex := newTestExchange("")
	ex.SetAttribute("count", 3)

	if v, ok := Attr[int](ex, "count"); !ok || v != 3 {
		t.Errorf("Attr[int] = %v, %v", v, ok)
	}
	if _, ok := Attr[string](ex, "count"); ok {
		t.Error("expected type mismatch to report false")
	}
	if _, ok := ex.Attribute("missing"); ok {
		t.Error("expected missing attribute")
	}
}

func TestExchange_OriginalSurvivesReplacement(t *testing.T) {
	ex := newTestExchange("")
	ex.SetRequest(httptest.NewRequest(http.MethodPut, "/rewritten", nil))

	if ex.Original.Method != http.MethodGet || ex.Original.URL != "/orders?id=1" {
		t.Errorf("unexpected original: %+v", ex.Original)
	}
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	if rw.Committed() {
		t.Error("fresh writer should not be committed")
	}
	rw.WriteHeader(http.StatusAccepted)
	_, _ = rw.Write([]byte("ok"))

	if rw.Status() != http.StatusAccepted || rw.Written() != 2 {
		t.Errorf("status=%d written=%d", rw.Status(), rw.Written())
	}

	implicit := NewResponseWriter(httptest.NewRecorder())
	_, _ = implicit.Write([]byte("x"))
	if implicit.Status() != http.StatusOK {
		t.Errorf("implicit status = %d, want 200", implicit.Status())
	}
}

// =============================================================================
// Factory Tests
// =============================================================================

func TestParseFilterSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    FilterSpec
		wantErr bool
	}{
		{"StripPrefix=1", FilterSpec{Name: "StripPrefix", Args: []string{"1"}}, false},
		{" AddRequestHeader = X-Env, prod ", FilterSpec{Name: "AddRequestHeader", Args: []string{"X-Env", "prod"}}, false},
		{"PreserveHost", FilterSpec{Name: "PreserveHost"}, false},
		{"=1", FilterSpec{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFilterSpec(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("spec mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFactory_Build(t *testing.T) {
	f := NewFactory()
	var gotArgs []string
	f.Register("Tag", func(args []string) (Filter, error) {
		gotArgs = args
		return FilterFunc(func(ctx context.Context, ex *Exchange, next Next) error { return next(ctx, ex) }), nil
	})
	f.Register("Broken", func(args []string) (Filter, error) {
		return nil, errors.New("bad args")
	})

	stages, err := f.Build([]string{"Tag=a,b"}, 50)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(stages) != 1 || stages[0].Order != 50 || stages[0].Name != "Tag" {
		t.Errorf("unexpected stages: %+v", stages)
	}
	if diff := cmp.Diff([]string{"a", "b"}, gotArgs); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	if _, err := f.Build([]string{"Missing"}, 0); err == nil {
		t.Error("expected unknown filter error")
	}
	if _, err := f.Build([]string{"Broken=x"}, 0); err == nil || !strings.Contains(err.Error(), "bad args") {
		t.Errorf("expected constructor error, got %v", err)
	}
}
