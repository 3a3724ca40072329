package requestctx

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/certledger/audittrail/pkg/observability"
)

// CorrelationHeader is the header used to propagate the correlation id in
// both directions. The chosen id is always echoed back on the response.
const CorrelationHeader = "x-correlation-id"

// Middleware derives, publishes, and retires a request context for every
// inbound request.
type Middleware struct {
	store   Store
	logger  *logrus.Logger
	metrics *observability.Metrics

	nowFunc func() time.Time
}

// NewMiddleware creates the context propagation middleware. metrics may be
// nil.
func NewMiddleware(store Store, logger *logrus.Logger, metrics *observability.Metrics) *Middleware {
	if logger == nil {
		logger = logrus.New()
	}
	return &Middleware{
		store:   store,
		logger:  logger,
		metrics: metrics,
		nowFunc: time.Now,
	}
}

// Handler wraps an HTTP handler. For each request it resolves the
// correlation id, registers a Context in the store, attaches it to the
// request, and deletes it from the store exactly once when the request
// finishes, on every exit path including panics.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(CorrelationHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		rc := Context{
			CorrelationID: correlationID,
			IPAddress:     clientIP(r),
			UserAgent:     userAgent(r),
			Timestamp:     m.nowFunc().UnixMilli(),
		}
		if id, ok := IdentityFromContext(r.Context()); ok {
			rc.UserID = id.UserID
			rc.UserEmail = id.UserEmail
		}

		registered := false
		if err := m.store.Set(r.Context(), correlationID, rc); err != nil {
			// The request proceeds; downstream code still has the context
			// attached to the request itself.
			m.logger.WithError(err).WithField("correlation_id", correlationID).
				Error("Failed to register request context")
		} else {
			registered = true
			if m.metrics != nil {
				m.metrics.LiveRequestContexts.Inc()
			}
		}

		defer func() {
			// The request's own context may already be canceled on the
			// client-abort path, so deletion runs on a fresh one.
			if err := m.store.Delete(context.Background(), correlationID); err != nil {
				m.logger.WithError(err).WithField("correlation_id", correlationID).
					Error("Failed to delete request context")
				return
			}
			// The gauge only moves when registration actually happened;
			// deleting a missing id succeeds and must not drive it negative.
			if m.metrics != nil && registered {
				m.metrics.LiveRequestContexts.Dec()
			}
		}()

		if span := trace.SpanFromContext(r.Context()); span.SpanContext().IsValid() {
			span.SetAttributes(attribute.String("correlation.id", correlationID))
		}

		w.Header().Set(CorrelationHeader, correlationID)

		next.ServeHTTP(w, r.WithContext(withRequestContext(r.Context(), rc)))
	})
}

// clientIP resolves the originating client address: the first comma-separated
// token of X-Forwarded-For when present, otherwise the transport-level peer
// address, otherwise "unknown".
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}

	return "unknown"
}

func userAgent(r *http.Request) string {
	if ua := r.UserAgent(); ua != "" {
		return ua
	}
	return "unknown"
}
