package logger

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestWithTrace_NoSpan(t *testing.T) {
	fields := WithTrace(context.Background())
	if len(fields) != 0 {
		t.Errorf("Expected no fields without a span, got %d", len(fields))
	}
}

func TestWithTrace_ValidSpan(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:  trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	fields := WithTrace(ctx)
	if len(fields) != 2 {
		t.Fatalf("Expected 2 fields, got %d", len(fields))
	}
	if fields[0].Key != "trace_id" || fields[1].Key != "span_id" {
		t.Errorf("Expected trace_id and span_id, got %s and %s", fields[0].Key, fields[1].Key)
	}
}

func TestDefaultLoggerIsUsable(t *testing.T) {
	// Must not panic before Init
	L.Info("before init")
	DebugWithTrace(context.Background(), "before init")
}
