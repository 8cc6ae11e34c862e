package httpclient

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// newTestTracerProvider 配置测试用的 Tracer 与 W3C 传播器。
func newTestTracerProvider(t *testing.T) *sdktrace.TracerProvider {
	t.Helper()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp
}

func TestDoRequestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, 3)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL, bytes.NewReader([]byte(`{"input":"text"}`)))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}

	resp, err := client.DoRequest(req)
	if err != nil {
		t.Fatalf("DoRequest failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 after retries, got %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDoRequestExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, 1)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if _, err := client.DoRequest(req); err == nil {
		t.Error("expected error after exhausting retries")
	}
}

func TestDoRequestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, 3)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	resp, err := client.DoRequest(req)
	if err != nil {
		t.Fatalf("DoRequest failed: %v", err)
	}
	_ = resp.Body.Close()

	// 4xx 为调用方错误，不应重试
	if calls.Load() != 1 {
		t.Errorf("expected 1 attempt for 4xx, got %d", calls.Load())
	}
}

func TestDoJSONDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, 0)

	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err := client.DoJSON(req, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if len(out.Embedding) != 3 || out.Embedding[2] != 0.3 {
		t.Errorf("unexpected decode result: %v", out.Embedding)
	}
}

func TestDoJSONReportsErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, 0)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	err := client.DoJSON(req, nil)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestTraceContextInjectedWithActiveSpan(t *testing.T) {
	tp := newTestTracerProvider(t)
	tracer := tp.Tracer("httpclient-test")

	ctx, span := tracer.Start(context.Background(), "embed-batch")
	defer span.End()

	client := NewClient(5*time.Second, 0)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/embed", nil)
	req = req.WithContext(ctx)

	client.injectTraceContext(req)

	// W3C traceparent: version-trace_id-parent_id-trace_flags
	traceparent := req.Header.Get("traceparent")
	if len(traceparent) < 55 {
		t.Errorf("traceparent header missing or malformed: %q", traceparent)
	}
}

func TestTraceContextSkippedWithoutSpan(t *testing.T) {
	newTestTracerProvider(t)

	client := NewClient(5*time.Second, 0)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/embed", nil)

	client.injectTraceContext(req)

	if tp := req.Header.Get("traceparent"); tp != "" {
		t.Errorf("expected no traceparent without an active span, got %q", tp)
	}
}
