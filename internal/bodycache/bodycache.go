// Package bodycache turns a single-consume request body into a buffer that
// can be replayed any number of times.
package bodycache

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// CachedBody is an immutable copy of a request body. It only hands out
// readers and copies, never the underlying buffer.
type CachedBody struct {
	data []byte
}

// New wraps a copy of b.
func New(b []byte) *CachedBody {
	return &CachedBody{data: bytes.Clone(b)}
}

// Reader returns a fresh reader positioned at the start of the body.
func (c *CachedBody) Reader() io.Reader {
	return bytes.NewReader(c.data)
}

// Bytes returns a copy of the body.
func (c *CachedBody) Bytes() []byte {
	return bytes.Clone(c.data)
}

func (c *CachedBody) String() string {
	return string(c.data)
}

// Len is the body size in bytes.
func (c *CachedBody) Len() int {
	return len(c.data)
}

// ReadCloser returns a replaying body suitable for http.Request.Body.
func (c *CachedBody) ReadCloser() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(c.data))
}

// ErrTooLarge is returned when a body exceeds the capture limit.
var ErrTooLarge = errors.New("request body too large")

// Capture drains r.Body once and returns the cached body together with a
// shallow copy of r whose Body, GetBody and ContentLength replay the cache.
// The original body is closed; it must not be read again.
func Capture(r *http.Request) (*CachedBody, *http.Request, error) {
	return CaptureLimit(r, 0)
}

// CaptureLimit is Capture with a size bound. Bodies longer than limit bytes
// fail with ErrTooLarge; a limit of zero or less disables the bound.
func CaptureLimit(r *http.Request, limit int64) (*CachedBody, *http.Request, error) {
	var data []byte
	if r.Body != nil && r.Body != http.NoBody {
		body := io.Reader(r.Body)
		if limit > 0 {
			body = io.LimitReader(r.Body, limit+1)
		}
		b, err := io.ReadAll(body)
		_ = r.Body.Close()
		if err != nil {
			return nil, r, errors.Wrap(err, "read request body")
		}
		if limit > 0 && int64(len(b)) > limit {
			return nil, r, errors.Wrapf(ErrTooLarge, "limit %d bytes", limit)
		}
		data = b
	}

	cached := &CachedBody{data: data}
	return cached, Attach(r, cached), nil
}

// Attach returns a shallow copy of r backed by cached.
func Attach(r *http.Request, cached *CachedBody) *http.Request {
	out := r.Clone(r.Context())
	if cached.Len() == 0 {
		out.Body = http.NoBody
		out.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
	} else {
		out.Body = cached.ReadCloser()
		out.GetBody = func() (io.ReadCloser, error) { return cached.ReadCloser(), nil }
	}
	out.ContentLength = int64(cached.Len())
	return out
}

type contextKey struct{}

// WithContext stores cached in ctx.
func WithContext(ctx context.Context, cached *CachedBody) context.Context {
	return context.WithValue(ctx, contextKey{}, cached)
}

// FromContext returns the body cached for the request, if any.
func FromContext(ctx context.Context) (*CachedBody, bool) {
	cached, ok := ctx.Value(contextKey{}).(*CachedBody)
	return cached, ok
}
