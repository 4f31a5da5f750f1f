package pipeline

import (
	"net/http"
	"time"

	"github.com/tjfontaine/envelope-gateway/internal/bodycache"
)

// Well-known attribute keys.
const (
	// AttrRoute holds the matched route.
	AttrRoute = "gateway.route"
	// AttrForwardURL holds the resolved upstream *url.URL.
	AttrForwardURL = "gateway.forward_url"
	// AttrRequestBody holds the parsed body summary of the request.
	AttrRequestBody = "gateway.request_body"
)

// OriginalRequest are the facts of the request as it was received, before
// any stage replaced it.
type OriginalRequest struct {
	Method string
	URL    string
	Header http.Header
}

// Exchange is the per-request context of the filter chain.
type Exchange struct {
	// ID is the request id.
	ID string
	// Start is when the exchange was created.
	Start    time.Time
	Original OriginalRequest
	Response *ResponseWriter

	request *http.Request
	body    *bodycache.CachedBody
	attrs   map[string]any
}

// NewExchange creates the exchange for one request.
func NewExchange(w http.ResponseWriter, r *http.Request, requestID string) *Exchange {
	return &Exchange{
		ID:    requestID,
		Start: time.Now(),
		Original: OriginalRequest{
			Method: r.Method,
			URL:    r.URL.String(),
			Header: r.Header.Clone(),
		},
		Response: NewResponseWriter(w),
		request:  r,
		attrs:    make(map[string]any),
	}
}

// Request returns the current request.
func (e *Exchange) Request() *http.Request {
	return e.request
}

// SetRequest replaces the current request. Later stages and the upstream
// call see r.
func (e *Exchange) SetRequest(r *http.Request) {
	e.request = r
}

// CacheBody captures the current request body once and replaces the current
// request with one that replays it. Later calls return the same cache.
func (e *Exchange) CacheBody() (*bodycache.CachedBody, error) {
	return e.CacheBodyLimit(0)
}

// CacheBodyLimit is CacheBody bounded to limit bytes, see
// bodycache.CaptureLimit.
func (e *Exchange) CacheBodyLimit(limit int64) (*bodycache.CachedBody, error) {
	if e.body != nil {
		return e.body, nil
	}
	cached, r, err := bodycache.CaptureLimit(e.request, limit)
	if err != nil {
		return nil, err
	}
	e.body = cached
	e.request = r.WithContext(bodycache.WithContext(r.Context(), cached))
	return cached, nil
}

// CachedBody returns the captured body, if a stage captured it.
func (e *Exchange) CachedBody() (*bodycache.CachedBody, bool) {
	return e.body, e.body != nil
}

// SetAttribute stores a value under key.
func (e *Exchange) SetAttribute(key string, value any) {
	e.attrs[key] = value
}

// Attribute returns the value stored under key.
func (e *Exchange) Attribute(key string) (any, bool) {
	v, ok := e.attrs[key]
	return v, ok
}

// Attr returns the value stored under key when it has type T.
func Attr[T any](e *Exchange, key string) (T, bool) {
	v, ok := e.attrs[key].(T)
	return v, ok
}

// Elapsed is the wall-clock time since the exchange started.
func (e *Exchange) Elapsed() time.Duration {
	return time.Since(e.Start)
}

// ResponseWriter wraps http.ResponseWriter to capture status code and size.
type ResponseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

// NewResponseWriter wraps w.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Status is the status written so far, or 0 when nothing was written.
func (rw *ResponseWriter) Status() int {
	return rw.status
}

// Committed reports whether the response header has been sent.
func (rw *ResponseWriter) Committed() bool {
	return rw.status != 0
}

// Written is the number of body bytes written.
func (rw *ResponseWriter) Written() int64 {
	return rw.written
}

// Flush forwards Flush to the underlying ResponseWriter if it supports http.Flusher,
// preserving streaming support (e.g., for SSE).
func (rw *ResponseWriter) Flush() {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
