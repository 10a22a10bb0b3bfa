package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/checkout-engine/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if spanCtx.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", spanCtx.TraceID())
	}
	if spanCtx.SpanID().String() != "0000000000000001" {
		t.Fatalf("unexpected span id %s", spanCtx.SpanID())
	}
	if !spanCtx.IsSampled() {
		t.Fatalf("expected sampled flag")
	}

	for _, header := range []string{"", "abc", "105445aa7843bc8bf206b12000100000/xyz", "zz/1"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestFormatCloudTraceHeaderRoundTrip(t *testing.T) {
	info := requestctx.TraceInfo{TraceID: "105445aa7843bc8bf206b12000100000", SpanID: "00000000000004d2", Sampled: true}
	header := formatCloudTraceHeader(info)
	if header != "105445aa7843bc8bf206b12000100000/1234;o=1" {
		t.Fatalf("unexpected header %q", header)
	}
	spanCtx, ok := parseCloudTraceContext(header)
	if !ok || spanCtx.SpanID().String() != info.SpanID {
		t.Fatalf("round trip failed: %v %s", ok, spanCtx.SpanID())
	}
}

func TestTraceMiddlewareStoresTraceInfo(t *testing.T) {
	var got requestctx.TraceInfo
	handler := TraceMiddleware("hf-dev")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.ProjectID != "hf-dev" {
		t.Fatalf("expected project id, got %q", got.ProjectID)
	}
	// Without an SDK tracer provider the remote context is propagated as-is.
	if got.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected traceparent to be continued, got %q", got.TraceID)
	}
}

func TestRequestLoggerRecordsStatusAndUser(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)), RequestLoggerMiddleware())
	router.Get("/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		requestctx.SetUser(r.Context(), "user-1")
		w.WriteHeader(http.StatusConflict)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 409, got %s", entries[0].Level)
	}
	if fields["route"] != "/orders/{orderID}" {
		t.Fatalf("unexpected route %v", fields["route"])
	}
	if fields["user_id"] != "user-1" {
		t.Fatalf("unexpected user %v", fields["user_id"])
	}
}

func TestRecoveryMiddlewareWritesJSON(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_server_error") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if logs.Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logEvent := EventLogger(zap.New(core))

	logEvent(context.Background(), "order.materialized", map[string]any{"orderID": "ord_1"})
	logEvent(context.Background(), "order.event.publish.failed", map[string]any{"error": errors.New("down")})

	all := logs.All()
	if len(all) != 2 {
		t.Fatalf("expected two entries, got %d", len(all))
	}
	if all[0].Level != zapcore.InfoLevel || all[1].Level != zapcore.ErrorLevel {
		t.Fatalf("unexpected levels %s %s", all[0].Level, all[1].Level)
	}
}

func TestMaskMobile(t *testing.T) {
	if got := MaskMobile("+919876543210"); got != "*********3210" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskMobile("12"); got != "****" {
		t.Fatalf("unexpected short mask %q", got)
	}
}
