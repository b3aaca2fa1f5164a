package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/qget/internal/logctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ctxKey string

const (
	requestIDKey    ctxKey = "request_id"
	RequestIDHeader        = "X-Request-ID"
)

// WithRequestID stores the request id in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request_id from context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}

	return ""
}

// transport instruments outbound requests. It tags each request with an
// X-Request-ID (reusing one set on the request or its context), logs the outcome at a
// level chosen by status class and records RED metrics.
type transport struct {
	next      http.RoundTripper
	telemetry *Telemetry
}

// NewTransport wraps next with request id, logging, metrics and otelhttp tracing.
// A nil next uses http.DefaultTransport; a nil telemetry only logs.
func NewTransport(next http.RoundTripper, tel *Telemetry) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}

	return otelhttp.NewTransport(&transport{next: next, telemetry: tel})
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = GetRequestID(req.Context())
		if requestID == "" {
			requestID = uuid.New().String()
		}

		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, requestID)
	}

	ctx := WithRequestID(req.Context(), requestID)
	logger := logctx.LoggerFromContext(ctx)

	t.telemetry.IncrementHTTPInFlight()
	defer t.telemetry.DecrementHTTPInFlight()

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)

	attrs := []any{
		"method", req.Method,
		"url", req.URL.Redacted(),
		"duration_ms", duration.Milliseconds(),
		"request_id", requestID,
	}

	if err != nil {
		logger.ErrorContext(ctx, "http request failed", append(attrs, "err", err)...)
		t.telemetry.RecordHTTPRequest(req.Method, req.URL.Host, "error", duration)

		return nil, err
	}

	attrs = append(attrs, "status", resp.StatusCode)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		logger.ErrorContext(ctx, "http request completed", attrs...)
	case resp.StatusCode >= http.StatusBadRequest:
		logger.WarnContext(ctx, "http request completed", attrs...)
	default:
		logger.DebugContext(ctx, "http request completed", attrs...)
	}

	t.telemetry.RecordHTTPRequest(req.Method, req.URL.Host, getStatusClass(resp.StatusCode), duration)

	return resp, nil
}

// getStatusClass returns the status class (2xx, 3xx, 4xx, 5xx) for a given status code.
func getStatusClass(statusCode int) string {
	switch {
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		return "2xx"
	case statusCode >= http.StatusMultipleChoices && statusCode < http.StatusBadRequest:
		return "3xx"
	case statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError:
		return "4xx"
	case statusCode >= http.StatusInternalServerError:
		return "5xx"
	default:
		return "unknown"
	}
}
