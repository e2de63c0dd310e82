package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sweetpotato0/chai-tokenizer/pkg/logging"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Disable: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestInitStdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{
		ServiceName: "chai-test",
		Writer:      &buf,
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, span := Tracer().Start(context.Background(), "session.recompute")
	span.SetAttributes(ModelKey.String("gpt-4"), TokensKey.Int(3))
	End(span, nil)

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("session.recompute")) || !bytes.Contains(buf.Bytes(), []byte("chai.model")) {
		t.Errorf("expected span to be exported, got %q", buf.String())
	}
}

func TestEndRecordsStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := tp.Tracer("test")

	_, ok := tracer.Start(context.Background(), "ok")
	End(ok, nil)
	_, bad := tracer.Start(context.Background(), "bad")
	End(bad, errors.New("boom"))
	End(nil, nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 ended spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected ok status, got %v", spans[0].Status().Code)
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[1].Status().Code)
	}
	if len(spans[1].Events()) == 0 {
		t.Error("expected error event on failed span")
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		got := samplerFor(tt.ratio).Description()
		if !strings.HasPrefix(got, tt.want) {
			t.Errorf("samplerFor(%g) = %q; want prefix %q", tt.ratio, got, tt.want)
		}
	}
}
