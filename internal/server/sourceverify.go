package server

import (
	"log/slog"
	"net/http"

	"github.com/tjfontaine/envelope-gateway/internal/domain"
	"github.com/tjfontaine/envelope-gateway/internal/metrics"
	"github.com/tjfontaine/envelope-gateway/internal/response"
)

// DefaultSourceHeader identifies requests that came through the gateway.
const DefaultSourceHeader = "traceparent"

// SourceVerificationMiddleware rejects requests that lack header with a
// CLIENT_ERROR envelope and status 403. Accepted requests are logged with
// their method, URI and content type. m may be nil.
func SourceVerificationMiddleware(header string, logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultSourceHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(header) == "" {
				m.ObserveRejection("missing_source_header")
				logger.WarnContext(r.Context(), "request rejected",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("method", r.Method),
					slog.String("uri", r.URL.RequestURI()),
					slog.String("missing_header", header))
				response.WriteEnvelope(w, r, http.StatusForbidden, domain.CodeClientError.Envelope())
				return
			}

			logger.InfoContext(r.Context(), "edge request",
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("method", r.Method),
				slog.String("uri", r.URL.RequestURI()),
				slog.String("content_type", r.Header.Get("Content-Type")))
			next.ServeHTTP(w, r)
		})
	}
}
