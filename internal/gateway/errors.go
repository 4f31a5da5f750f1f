package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/tjfontaine/envelope-gateway/internal/apierror"
	"github.com/tjfontaine/envelope-gateway/internal/domain"
	"github.com/tjfontaine/envelope-gateway/internal/metrics"
	"github.com/tjfontaine/envelope-gateway/internal/pipeline"
	"github.com/tjfontaine/envelope-gateway/internal/response"
)

// StatusCoder is implemented by errors that know their HTTP status.
type StatusCoder interface {
	StatusCode() int
}

type statusError struct {
	status int
	msg    string
	cause  error
}

func (e *statusError) Error() string   { return e.msg }
func (e *statusError) StatusCode() int { return e.status }
func (e *statusError) Unwrap() error   { return e.cause }

// StatusClientClosedRequest reports an exchange abandoned by the caller
// before the upstream answered.
const StatusClientClosedRequest = 499

// ErrNoRoute is the cause of requests no route matched.
var ErrNoRoute error = &statusError{status: http.StatusNotFound, msg: "no route matched"}

// UpstreamError is a failure to reach or read from the upstream.
type UpstreamError struct {
	RouteID string
	URL     string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("route %s: upstream %s: %v", e.RouteID, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// StatusCode is 504 when the upstream timed out, 499 when the caller went
// away and 502 otherwise.
func (e *UpstreamError) StatusCode() int {
	switch {
	case errors.Is(e.Err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(e.Err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusBadGateway
	}
}

// statusOf returns the status a failure was caught with.
func statusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// outgoingStatus is the status the error handler writes for err.
func outgoingStatus(err error) int {
	return apierror.Classify(err, statusOf(err)).Status
}

// ErrorHandler is the error boundary of the gateway. It applies the same
// classification as the edge without debug traces, and logs every failure.
type ErrorHandler struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewErrorHandler creates the gateway error boundary. m may be nil.
func NewErrorHandler(logger *slog.Logger, m *metrics.Metrics) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{logger: logger, metrics: m}
}

// Handle writes the envelope for a failed exchange. Nothing is written once
// the response has been committed. An exchange the caller cancelled is
// logged at info and not counted as a failure.
func (h *ErrorHandler) Handle(ctx context.Context, ex *pipeline.Exchange, err error) {
	res := apierror.Classify(err, statusOf(err))

	attrs := []any{
		slog.String("request_id", ex.ID),
		slog.String("method", ex.Original.Method),
		slog.String("url", ex.Original.URL),
	}
	if errors.Is(err, context.Canceled) {
		h.logger.InfoContext(ctx, "gateway exchange cancelled by client",
			append(attrs, slog.String("error", err.Error()))...)
	} else {
		h.logger.ErrorContext(ctx, "gateway exchange failed",
			append(attrs, slog.String("error", fmt.Sprintf("%+v", err)))...)
		h.metrics.ObserveError("gateway", apierror.KindOf(err).String(), res.Envelope.Code)
	}

	if ex.Response.Committed() {
		return
	}
	response.WriteEnvelope(ex.Response, ex.Request(), res.Status, res.Envelope)
}

// ServeError satisfies response.ErrorResponder for handlers mounted next to
// the gateway.
func (h *ErrorHandler) ServeError(w http.ResponseWriter, r *http.Request, err error, status int) {
	h.logger.ErrorContext(r.Context(), "gateway request failed",
		slog.String("method", r.Method),
		slog.String("url", r.URL.String()),
		slog.String("error", fmt.Sprintf("%+v", err)))

	res := apierror.Classify(err, status)
	h.metrics.ObserveError("gateway", apierror.KindOf(err).String(), res.Envelope.Code)
	response.WriteEnvelope(w, r, res.Status, res.Envelope)
}

// NotFound reports a path outside the gateway routes.
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.ServeError(w, r, domain.NewTransportError("route "+r.URL.Path, ErrNoRoute), http.StatusNotFound)
}

// Recover turns panics escaping the gateway into SERVER_ERROR envelopes.
func (h *ErrorHandler) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			h.ServeError(w, r, &apierror.PanicError{Value: rec, Stack: debug.Stack()}, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}
