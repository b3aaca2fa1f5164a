package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func scrape(t *testing.T, tel *Telemetry) string {
	t.Helper()

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	return string(body)
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	// every recorder is a no-op on a disabled instance
	tel.RecordTransfer("GET", "success", time.Second)
	tel.RecordRedirect(RedirectFollowed)
	tel.RecordBytes(DirectionDownload, 10)
	tel.RecordHTTPRequest("GET", "example.com", "2xx", time.Millisecond)
	tel.RecordDBOperation("insert", "success", time.Millisecond)
	tel.RecordSystemError("journal", "write")

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		tel.IncrementActiveTransfers()
		tel.DecrementActiveTransfers()
		tel.IncrementHTTPInFlight()
		tel.DecrementHTTPInFlight()
		tel.RecordRedirect(RedirectLoop)
		tel.RecordBytes(DirectionUpload, 1)
		_ = tel.Shutdown(context.Background())
	})

	called := false
	err := tel.InstrumentTransfer(context.Background(), "GET", func(context.Context) error {
		called = true

		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.NotNil(t, tel.Tracer())
}

func TestNew_EnabledExposesMetrics(t *testing.T) {
	ctx := context.Background()

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "qget-test", ServiceVersion: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	wantErr := errors.New("boom")
	err = tel.InstrumentTransfer(ctx, "GET", func(context.Context) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)

	tel.RecordRedirect(RedirectFollowed)
	tel.RecordBytes(DirectionDownload, 2048)
	require.NoError(t, tel.InstrumentDBOperation(ctx, "insert", func(context.Context) error { return nil }))

	body := scrape(t, tel)
	assert.Contains(t, body, "transfers")
	assert.Contains(t, body, "redirects")
	assert.Contains(t, body, "transfer_bytes")
	assert.Contains(t, body, "db_operations")
	assert.Contains(t, body, `outcome="followed"`)
}

func TestInstrumentOperation_RecordsSpan(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: true, ServiceName: "qget-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	var valid bool

	err = tel.InstrumentOperation(context.Background(), "ping", "test", func(ctx context.Context) error {
		valid = trace.SpanContextFromContext(ctx).IsValid()

		return nil
	})

	require.NoError(t, err)
	assert.True(t, valid, "operation must run inside a sampled span")
}
