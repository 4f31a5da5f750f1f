package bodycache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCapture_RoundTrip(t *testing.T) {
	original := []byte("name=alice&age=30")
	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(original))

	cached, replay, err := Capture(req)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	if !bytes.Equal(cached.Bytes(), original) {
		t.Errorf("cached = %q, want %q", cached.Bytes(), original)
	}
	if replay.ContentLength != int64(len(original)) {
		t.Errorf("ContentLength = %d, want %d", replay.ContentLength, len(original))
	}

	got, err := io.ReadAll(replay.Body)
	if err != nil {
		t.Fatalf("read replay body: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Errorf("replay body = %q, want %q", got, original)
	}
}

func TestCapture_RepeatedReads(t *testing.T) {
	original := []byte(`{"id":1}`)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(original))

	cached, replay, err := Capture(req)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, _ := io.ReadAll(cached.Reader())
		if !bytes.Equal(got, original) {
			t.Errorf("read %d via Reader = %q", i, got)
		}

		body, err := replay.GetBody()
		if err != nil {
			t.Fatalf("GetBody: %v", err)
		}
		got, _ = io.ReadAll(body)
		if !bytes.Equal(got, original) {
			t.Errorf("read %d via GetBody = %q", i, got)
		}
	}
}

func TestCachedBody_BytesIsACopy(t *testing.T) {
	cached := New([]byte("abc"))

	b := cached.Bytes()
	b[0] = 'x'

	if cached.String() != "abc" {
		t.Errorf("cached body mutated through copy: %q", cached.String())
	}
}

func TestCapture_EmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	cached, replay, err := Capture(req)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if cached.Len() != 0 || replay.ContentLength != 0 {
		t.Errorf("expected empty body, got len=%d content-length=%d", cached.Len(), replay.ContentLength)
	}
	if replay.Body != http.NoBody {
		t.Errorf("expected http.NoBody, got %T", replay.Body)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestCapture_ReadError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(failingReader{}))

	if _, _, err := Capture(req); err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("expected no cached body")
	}

	cached := New([]byte("x"))
	got, ok := FromContext(WithContext(context.Background(), cached))
	if !ok || got != cached {
		t.Error("expected cached body from context")
	}
}

func TestCaptureLimit(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		limit   int64
		wantErr bool
	}{
		{"under limit", "abc", 4, false},
		{"at limit", "abcd", 4, false},
		{"over limit", "abcde", 4, true},
		{"unbounded", strings.Repeat("x", 1<<16), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(tt.body))

			cached, _, err := CaptureLimit(req, tt.limit)
			if tt.wantErr {
				if !errors.Is(err, ErrTooLarge) {
					t.Fatalf("err = %v, want ErrTooLarge", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CaptureLimit: %v", err)
			}
			if cached.String() != tt.body {
				t.Errorf("cached %d bytes, want %d", cached.Len(), len(tt.body))
			}
		})
	}
}
