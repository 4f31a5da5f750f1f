package apierror

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/tjfontaine/envelope-gateway/internal/domain"
	"github.com/tjfontaine/envelope-gateway/internal/metrics"
	"github.com/tjfontaine/envelope-gateway/internal/response"
)

// Handler is the error boundary of the synchronous edge. Every handler
// error, panic and unmatched route ends up in ServeError.
type Handler struct {
	logger  *slog.Logger
	debug   bool
	metrics *metrics.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithDebug exposes base64 stack traces in otherwise empty envelope content.
func WithDebug(enabled bool) Option {
	return func(h *Handler) {
		h.debug = enabled
	}
}

// WithMetrics counts classified failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates an error boundary.
func NewHandler(logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeError classifies err and writes the resulting envelope.
func (h *Handler) ServeError(w http.ResponseWriter, r *http.Request, err error, status int) {
	res := Classify(err, status)
	h.metrics.ObserveError("edge", KindOf(err).String(), res.Envelope.Code)

	if needsStackLog(err) {
		h.logger.WarnContext(r.Context(), "catch exception",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", fmt.Sprintf("%+v", err)))
	}

	if h.debug && res.Envelope.Content == nil {
		if trace := stackTrace(withStack(err)); trace != "" {
			h.attachTrace(r, res.Envelope, trace)
		}
	}

	response.WriteEnvelope(w, r, res.Status, res.Envelope)
}

func (h *Handler) attachTrace(r *http.Request, env *domain.Envelope, trace string) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.ErrorContext(r.Context(), "fail to base64 encode, can not return exception stack trace",
				slog.Any("panic", rec))
		}
	}()
	env.AttachContent(base64.StdEncoding.EncodeToString([]byte(trace)))
}

// Endpoint serves the error path for failures forwarded from outside the
// router. The status query parameter selects the status being reported.
func (h *Handler) Endpoint() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusInternalServerError
		if s, err := strconv.Atoi(r.URL.Query().Get("status")); err == nil {
			status = s
		}
		message := r.URL.Query().Get("message")
		if message == "" {
			message = http.StatusText(status)
		}
		h.ServeError(w, r, errors.New(message), status)
	}
}

// Recover turns panics into SERVER_ERROR envelopes carrying the panic stack.
func (h *Handler) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			perr := &PanicError{Value: rec, Stack: debug.Stack()}
			h.logger.ErrorContext(r.Context(), "panic recovered",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("panic", rec))
			h.ServeError(w, r, perr, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// NotFound reports an unmatched route.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.ServeError(w, r, domain.NewTransportError("route "+r.URL.Path, ErrNoRoute), http.StatusNotFound)
}

// MethodNotAllowed reports a route matched with the wrong method.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.ServeError(w, r, domain.NewTransportError(r.Method+" "+r.URL.Path, ErrMethodNotAllowed), http.StatusMethodNotAllowed)
}

var (
	// ErrNoRoute is the cause of NotFound transport errors.
	ErrNoRoute = errors.New("no handler found")
	// ErrMethodNotAllowed is the cause of MethodNotAllowed transport errors.
	ErrMethodNotAllowed = errors.New("request method not supported")
)

// PanicError carries a recovered panic and the goroutine stack at recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// withStack records the boundary's stack on errors that carry none, such as
// plain errors.New values returned by handlers.
func withStack(err error) error {
	var (
		pe *PanicError
		st stackTracer
	)
	if errors.As(err, &pe) || errors.As(err, &st) {
		return err
	}
	return pkgerrors.WithStack(err)
}

// stackTrace returns the printable stack of err, or "" when none was
// recorded.
func stackTrace(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return pe.Error() + "\n" + string(pe.Stack)
	}
	var st stackTracer
	if errors.As(err, &st) {
		return fmt.Sprintf("%+v", err)
	}
	return ""
}
