package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/tjfontaine/envelope-gateway/internal/pipeline"
	"github.com/tjfontaine/envelope-gateway/internal/storage"
	"github.com/tjfontaine/envelope-gateway/internal/telemetry"
)

// LogType selects what the access log records for a request.
type LogType int

const (
	// LogIgnoreResponse logs request and route facts before forwarding.
	LogIgnoreResponse LogType = 1
	// LogMergeResponse logs one summary once the response is complete.
	LogMergeResponse LogType = 2
	// LogSplitResponse logs request facts before forwarding and response
	// facts separately after.
	LogSplitResponse LogType = 3
)

// LogTypeParam is the query parameter that overrides the log type.
const LogTypeParam = "gateway-log-type"

// ParseLogType parses a log type value.
func ParseLogType(s string) (LogType, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	lt := LogType(n)
	return lt, lt.Valid()
}

// Valid reports whether t is one of the defined log types.
func (t LogType) Valid() bool {
	return t >= LogIgnoreResponse && t <= LogSplitResponse
}

func (t LogType) String() string {
	switch t {
	case LogIgnoreResponse:
		return "ignore_response"
	case LogMergeResponse:
		return "merge_response"
	case LogSplitResponse:
		return "split_response"
	default:
		return "log_type(" + strconv.Itoa(int(t)) + ")"
	}
}

// LiveLogType is the hot-reloadable default log type.
type LiveLogType struct {
	v atomic.Int32
}

// NewLiveLogType starts at def, or LogMergeResponse when def is invalid.
func NewLiveLogType(def LogType) *LiveLogType {
	l := &LiveLogType{}
	if !def.Valid() {
		def = LogMergeResponse
	}
	l.v.Store(int32(def))
	return l
}

func (l *LiveLogType) Load() LogType {
	return LogType(l.v.Load())
}

// Store replaces the default. Invalid values are rejected.
func (l *LiveLogType) Store(t LogType) error {
	if !t.Valid() {
		return fmt.Errorf("invalid gateway log type %d", t)
	}
	l.v.Store(int32(t))
	return nil
}

// AccessLogFilter is the last stage before forwarding. It logs request and
// route facts, then the response summary once everything downstream has
// returned, and optionally persists the summary.
type AccessLogFilter struct {
	logger *slog.Logger
	live   *LiveLogType
	store  storage.AccessRecordStore
}

// NewAccessLogFilter creates the filter. store may be nil.
func NewAccessLogFilter(logger *slog.Logger, live *LiveLogType, store storage.AccessRecordStore) *AccessLogFilter {
	return &AccessLogFilter{logger: logger, live: live, store: store}
}

// LogTypeFor resolves the log type of a request: a valid query override,
// else the live default.
func (f *AccessLogFilter) LogTypeFor(ex *pipeline.Exchange) LogType {
	if v := ex.Request().URL.Query().Get(LogTypeParam); v != "" {
		if lt, ok := ParseLogType(v); ok {
			return lt
		}
	}
	return f.live.Load()
}

func (f *AccessLogFilter) Filter(ctx context.Context, ex *pipeline.Exchange, next pipeline.Next) (err error) {
	logType := f.LogTypeFor(ex)
	traceID := telemetry.TraceID(ctx)
	route, _ := pipeline.Attr[*Route](ex, pipeline.AttrRoute)
	forwardURL, _ := pipeline.Attr[*url.URL](ex, pipeline.AttrForwardURL)

	requestAttrs := []slog.Attr{
		slog.String("trace_id", traceID),
		slog.String("request_id", ex.ID),
		slog.String("method", ex.Original.Method),
		slog.String("url", ex.Original.URL),
	}
	if forwardURL != nil {
		requestAttrs = append(requestAttrs, slog.String("forward_url", forwardURL.String()))
	}
	if route != nil {
		requestAttrs = append(requestAttrs,
			slog.String("route_id", route.ID),
			slog.String("route_uri", route.URI.String()),
			slog.String("route_predicate", route.Predicate()),
			slog.String("route_filters", route.FilterDescriptor()),
		)
	}

	if logType == LogIgnoreResponse || logType == LogSplitResponse {
		f.logger.LogAttrs(ctx, slog.LevelInfo, "gateway request", requestAttrs...)
	}

	// Runs on completion, error and panic alike.
	defer func() {
		status := ex.Response.Status()
		switch {
		case status != 0:
		case err != nil:
			status = outgoingStatus(err)
		default:
			// Nothing was written and nothing returned: the chain panicked.
			status = http.StatusInternalServerError
		}
		elapsed := ex.Elapsed()
		responseAttrs := []slog.Attr{
			slog.String("trace_id", traceID),
			slog.String("request_id", ex.ID),
			slog.Int("status", status),
			slog.Float64("total_time_s", elapsed.Seconds()),
		}
		if err != nil {
			responseAttrs = append(responseAttrs, slog.String("error", err.Error()))
		}

		switch logType {
		case LogMergeResponse:
			attrs := append(requestAttrs[:len(requestAttrs):len(requestAttrs)], responseAttrs[2:]...)
			f.logger.LogAttrs(ctx, slog.LevelInfo, "gateway exchange", attrs...)
		case LogSplitResponse:
			f.logger.LogAttrs(ctx, slog.LevelInfo, "gateway response", responseAttrs...)
		}

		f.persist(ex, logType, traceID, route, forwardURL, status, err)
	}()

	return next(ctx, ex)
}

func (f *AccessLogFilter) persist(ex *pipeline.Exchange, logType LogType, traceID string, route *Route, forwardURL *url.URL, status int, err error) {
	if f.store == nil {
		return
	}

	rec := &storage.AccessRecord{
		TraceID:         traceID,
		RequestID:       ex.ID,
		Method:          ex.Original.Method,
		URL:             ex.Original.URL,
		Status:          status,
		LogType:         int(logType),
		DurationSeconds: ex.Elapsed().Seconds(),
	}
	if forwardURL != nil {
		rec.ForwardURL = forwardURL.String()
	}
	if route != nil {
		rec.RouteID = route.ID
		rec.RouteURI = route.URI.String()
	}
	if summary, ok := pipeline.Attr[BodySummary](ex, pipeline.AttrRequestBody); ok {
		rec.RequestBody = summary.String()
	}
	if err != nil {
		rec.Error = err.Error()
	}

	// The request context may already be cancelled; the record outlives it.
	if perr := f.store.Record(context.Background(), rec); perr != nil {
		f.logger.Warn("failed to persist access record",
			slog.String("request_id", ex.ID),
			slog.String("error", perr.Error()))
	}
}
