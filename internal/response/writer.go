// Package response owns the outgoing side of the envelope contract: trace id
// injection, JSON and export writers, and the adapter that formats handler
// return values as envelopes.
package response

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tjfontaine/envelope-gateway/internal/domain"
	"github.com/tjfontaine/envelope-gateway/internal/telemetry"
)

const (
	contentTypeJSON   = "application/json;charset=UTF-8"
	contentTypeText   = "text/plain;charset=UTF-8"
	contentTypeBinary = "application/octet-stream;charset=UTF-8"
)

// InjectTraceID stamps the trace id of the span active in ctx onto env. A
// trace id already present is kept. Applying it more than once is a no-op.
func InjectTraceID(ctx context.Context, env *domain.Envelope) {
	if env == nil || env.TraceID != "" {
		return
	}
	env.SetTraceID(telemetry.TraceID(ctx))
}

// WriteEnvelope is the single write path for envelopes: it injects the trace
// id, then writes env as JSON with status.
func WriteEnvelope(w http.ResponseWriter, r *http.Request, status int, env *domain.Envelope) {
	InjectTraceID(r.Context(), env)

	body, err := json.Marshal(env)
	if err != nil {
		slog.Default().Error("failed to encode envelope",
			slog.String("code", env.Code),
			slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeEnvelopeText writes the JSON text of env as text/plain. Used when the
// negotiated representation is plain text.
func writeEnvelopeText(w http.ResponseWriter, r *http.Request, status int, env *domain.Envelope) {
	InjectTraceID(r.Context(), env)

	body, err := json.Marshal(env)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentTypeText)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// ErrCommitted marks failures that happened after the status line was sent.
// The response cannot be replaced by an error envelope any more.
var ErrCommitted = errors.New("response already committed")

// WriteAttachment serializes v as a downloadable JSON file. Absent envelope
// fields are kept as explicit nulls. Encoding failures leave w untouched;
// write failures wrap ErrCommitted.
func WriteAttachment(w http.ResponseWriter, r *http.Request, filename string, v any) error {
	var (
		body []byte
		err  error
	)
	if env, ok := v.(*domain.Envelope); ok {
		InjectTraceID(r.Context(), env)
		body, err = env.MarshalKeepNull()
	} else {
		body, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode attachment %s: %w", filename, err)
	}

	w.Header().Set("Content-Type", contentTypeBinary)
	w.Header().Set("Content-Disposition", "attachment;fileName="+url.QueryEscape(filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write attachment %s: %w: %w", filename, ErrCommitted, err)
	}
	return nil
}
