// Package storage defines persistence for gateway access records.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("storage: store closed")

// AccessRecord is the persisted summary of one forwarded request.
type AccessRecord struct {
	ID              string    `json:"id" db:"id"`
	TraceID         string    `json:"traceId,omitempty" db:"trace_id"`
	RequestID       string    `json:"requestId,omitempty" db:"request_id"`
	Method          string    `json:"method" db:"method"`
	URL             string    `json:"url" db:"url"`
	ForwardURL      string    `json:"forwardUrl,omitempty" db:"forward_url"`
	Status          int       `json:"status" db:"status"`
	RouteID         string    `json:"routeId,omitempty" db:"route_id"`
	RouteURI        string    `json:"routeUri,omitempty" db:"route_uri"`
	LogType         int       `json:"logType" db:"log_type"`
	RequestBody     string    `json:"requestBody,omitempty" db:"request_body"`
	DurationSeconds float64   `json:"durationSeconds" db:"duration_s"`
	Error           string    `json:"error,omitempty" db:"error"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}

// ListOptions filters and bounds List.
type ListOptions struct {
	RouteID string
	Limit   int
}

// DefaultListLimit applies when ListOptions.Limit is zero.
const DefaultListLimit = 100

// AccessRecordStore persists access records. Implementations must be safe
// for concurrent use.
type AccessRecordStore interface {
	// Record stores rec. CreatedAt is set when zero.
	Record(ctx context.Context, rec *AccessRecord) error
	// List returns the newest records first.
	List(ctx context.Context, opts ListOptions) ([]*AccessRecord, error)
	Close() error
}
