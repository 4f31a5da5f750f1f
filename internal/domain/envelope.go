// Package domain defines the response envelope shared by every service behind
// the gateway, the stable return-code catalog, and the failure family that the
// error boundary translates into envelopes.
package domain

import (
	"encoding/json"
)

// Envelope is the unified response wrapper.
//
// Code is the only source of truth for success; callers must never infer the
// outcome from the HTTP status. TraceID and Content are each writable once
// after construction, through SetTraceID and AttachContent.
type Envelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Content any    `json:"content,omitempty"`
	TraceID string `json:"traceId,omitempty"`
}

// Success builds a successful envelope. Content may be nil.
func Success(content any) *Envelope {
	return &Envelope{
		Code:    CodeSuccess.Code,
		Message: CodeSuccess.Message,
		Content: content,
	}
}

// Fail builds an envelope from explicit fields.
func Fail(code, message string, content any) *Envelope {
	return &Envelope{
		Code:    code,
		Message: message,
		Content: content,
	}
}

// FailWith builds an envelope from a catalog entry.
func FailWith(rc ReturnCode, content any) *Envelope {
	return Fail(rc.Code, rc.Message, content)
}

// IsSuccessful reports whether env carries the success code. A nil envelope is
// never successful.
func IsSuccessful(env *Envelope) bool {
	return env != nil && env.Code == CodeSuccess.Code
}

// DetailMessage renders a human-readable message that keeps the content
// structure: "message: <json content>" for failures that carry content.
func (e *Envelope) DetailMessage() string {
	if IsSuccessful(e) || e.Content == nil {
		return e.Message
	}
	b, err := json.Marshal(e.Content)
	if err != nil {
		return e.Message
	}
	return e.Message + ": " + string(b)
}

// SetTraceID stamps the trace id unless one is already present. It reports
// whether the write happened.
func (e *Envelope) SetTraceID(traceID string) bool {
	if e.TraceID != "" || traceID == "" {
		return false
	}
	e.TraceID = traceID
	return true
}

// AttachContent fills Content only when it is absent. It reports whether the
// write happened.
func (e *Envelope) AttachContent(content any) bool {
	if e.Content != nil || content == nil {
		return false
	}
	e.Content = content
	return true
}

// keepNullEnvelope mirrors Envelope without omitempty so absent fields encode
// as explicit nulls.
type keepNullEnvelope struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Content any     `json:"content"`
	TraceID *string `json:"traceId"`
}

// MarshalKeepNull encodes the envelope with absent fields written as null.
// It is used for file and export output, where a stable key set matters more
// than compactness.
func (e *Envelope) MarshalKeepNull() ([]byte, error) {
	out := keepNullEnvelope{
		Code:    e.Code,
		Message: e.Message,
		Content: e.Content,
	}
	if e.TraceID != "" {
		traceID := e.TraceID
		out.TraceID = &traceID
	}
	return json.Marshal(out)
}
