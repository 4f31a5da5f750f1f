package gateway

import (
	"bytes"
	"encoding/json"
	"mime"
	"strings"
)

// FormFields is a flat key/value view of a form body. Keys keep the position
// of their first occurrence; a repeated key overwrites the value.
type FormFields struct {
	keys   []string
	values map[string]string
}

// NewFormFields creates an empty set of fields.
func NewFormFields() *FormFields {
	return &FormFields{values: make(map[string]string)}
}

// Set stores value under key.
func (f *FormFields) Set(key, value string) {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Get returns the value of key.
func (f *FormFields) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (f *FormFields) Keys() []string {
	return append([]string(nil), f.keys...)
}

func (f *FormFields) Len() int {
	return len(f.keys)
}

// MarshalJSON encodes the fields as an object in insertion order.
func (f *FormFields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

const dispositionPrefix = "Content-Disposition: form-data; name="

// ParseMultipart extracts field names and values from a multipart body
// without decoding it as a stream. Text parts contribute the text after the
// closing quote of the name; file parts contribute their filename. Parts
// that do not look like a form-data part are skipped.
func ParseMultipart(body, boundary string) *FormFields {
	fields := NewFormFields()
	if boundary == "" {
		return fields
	}

	body = strings.ReplaceAll(body, "\r\n", "")
	for _, part := range strings.Split(body, boundary) {
		if !strings.HasPrefix(part, dispositionPrefix) || !strings.HasSuffix(part, "--") {
			continue
		}
		part = strings.TrimSuffix(strings.TrimPrefix(part, dispositionPrefix), "--")

		keyStart := strings.IndexByte(part, '"')
		if keyStart < 0 {
			continue
		}
		keyEnd := strings.IndexByte(part[keyStart+1:], '"')
		if keyEnd < 0 {
			continue
		}
		keyEnd += keyStart + 1
		key := part[keyStart+1 : keyEnd]
		rest := part[keyEnd+1:]

		if strings.Contains(rest, `filename="`) {
			nameStart := strings.IndexByte(rest, '"')
			nameEnd := strings.IndexByte(rest[nameStart+1:], '"')
			if nameEnd < 0 {
				continue
			}
			fields.Set(key, rest[nameStart+1:nameStart+1+nameEnd])
			continue
		}
		fields.Set(key, rest)
	}
	return fields
}

// ParseURLEncoded splits a form body on '&' and then on the first '='.
// Values are kept as sent, without percent-decoding. A key without '=' maps
// to the empty string.
func ParseURLEncoded(body string) *FormFields {
	fields := NewFormFields()
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		fields.Set(key, value)
	}
	return fields
}

// BodySummary is the loggable view of a request body: parsed form fields
// when the body is a non-empty form, the raw text otherwise.
type BodySummary struct {
	Fields *FormFields
	Raw    string
}

// String renders fields as JSON, or the raw text.
func (s BodySummary) String() string {
	if s.Fields != nil && s.Fields.Len() > 0 {
		b, err := json.Marshal(s.Fields)
		if err == nil {
			return string(b)
		}
	}
	return s.Raw
}

// SummarizeBody parses body according to contentType.
func SummarizeBody(contentType string, body []byte) BodySummary {
	raw := string(body)
	summary := BodySummary{Raw: raw}
	if len(body) == 0 || contentType == "" {
		return summary
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return summary
	}
	switch mediaType {
	case "multipart/form-data":
		summary.Fields = ParseMultipart(raw, params["boundary"])
	case "application/x-www-form-urlencoded":
		summary.Fields = ParseURLEncoded(raw)
	}
	return summary
}
