package response

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/tjfontaine/envelope-gateway/internal/domain"
)

// HandlerFunc is a handler that returns its result instead of writing it.
// A non-nil error is handed to the error boundary.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) (any, error)

// ErrorResponder is the error boundary handlers fail into.
type ErrorResponder interface {
	ServeError(w http.ResponseWriter, r *http.Request, err error, status int)
}

// Binder adapts HandlerFuncs onto net/http.
//
// Results that are already envelopes are written as-is. Other results are
// wrapped with domain.Success only when formatting was requested, either per
// handler through Format or for every handler of the binder through
// WithFormatAll.
type Binder struct {
	errors    ErrorResponder
	formatAll bool
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithFormatAll formats every handler bound through the binder.
func WithFormatAll() BinderOption {
	return func(b *Binder) {
		b.formatAll = true
	}
}

// NewBinder creates a Binder that reports failures to errs.
func NewBinder(errs ErrorResponder, opts ...BinderOption) *Binder {
	b := &Binder{errors: errs}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind adapts h, formatting its result only if the binder formats all
// handlers.
func (b *Binder) Bind(h HandlerFunc) http.HandlerFunc {
	return b.handle(h, b.formatAll)
}

// Format adapts h and always formats its result as an envelope.
func (b *Binder) Format(h HandlerFunc) http.HandlerFunc {
	return b.handle(h, true)
}

func (b *Binder) handle(h HandlerFunc, format bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := h(w, r)
		if err != nil {
			b.errors.ServeError(w, r, err, http.StatusInternalServerError)
			return
		}
		write(w, r, v, format)
	}
}

func write(w http.ResponseWriter, r *http.Request, v any, format bool) {
	if env, ok := v.(*domain.Envelope); ok {
		if prefersText(r) {
			writeEnvelopeText(w, r, http.StatusOK, env)
			return
		}
		WriteEnvelope(w, r, http.StatusOK, env)
		return
	}

	if !format {
		writeRaw(w, v)
		return
	}

	env := domain.Success(v)
	// A plain-text writer cannot encode a structured value, so the envelope is
	// handed over as its JSON text.
	if _, isString := v.(string); isString || prefersText(r) {
		writeEnvelopeText(w, r, http.StatusOK, env)
		return
	}
	WriteEnvelope(w, r, http.StatusOK, env)
}

func writeRaw(w http.ResponseWriter, v any) {
	switch val := v.(type) {
	case nil:
		return
	case string:
		w.Header().Set("Content-Type", contentTypeText)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(val))
	case []byte:
		w.Header().Set("Content-Type", contentTypeBinary)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(val)
	default:
		body, err := json.Marshal(val)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// prefersText reports whether the first acceptable media type the client
// lists is text/plain.
func prefersText(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case "text/plain":
			return true
		case "application/json", "application/*", "*/*":
			return false
		}
	}
	return false
}
