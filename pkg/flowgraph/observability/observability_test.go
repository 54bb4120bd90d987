package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupMetricsTest installs a manual-reader meter provider for the test.
func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})
	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewLogger_RenamesErrorKey(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("debug", "json", &buf)
	require.NoError(t, err)

	logger.Info("boom", "error", "disk full")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "disk full", record["err"])
	assert.NotContains(t, record, "error")
}

func TestNewLogger_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("warn", "text", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogHelpers_NilLoggerSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		LogRunStart(nil, "r")
		LogRunComplete(nil, "r", 1, 1)
		LogRunError(nil, "r", errors.New("x"), 1, "n")
		LogNodeStart(nil, "n")
		LogNodeComplete(nil, "n", 1)
		LogNodeError(nil, "n", errors.New("x"))
		LogCheckpoint(nil, "t", "n", 1, 10)
		LogCheckpointError(nil, "n", "save", errors.New("x"))
	})
}

func TestLogRunError_IncludesLastNode(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("debug", "json", &buf)
	require.NoError(t, err)

	LogRunError(logger, "run-1", errors.New("kaput"), 12, "classifier")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "graph run failed", record["msg"])
	assert.Equal(t, "run-1", record["run_id"])
	assert.Equal(t, "classifier", record["last_node"])
	assert.Equal(t, "kaput", record["err"])
}

func TestRecordNodeExecution(t *testing.T) {
	reader := setupMetricsTest(t)

	m := NewMetricsRecorder()
	_, isNoop := m.(NoopMetrics)
	require.False(t, isNoop)

	ctx := context.Background()
	m.RecordNodeExecution(ctx, "classifier", 5*time.Millisecond, nil)
	m.RecordNodeExecution(ctx, "classifier", 5*time.Millisecond, errors.New("bad"))
	m.RecordGraphRun(ctx, true, 20*time.Millisecond)
	m.RecordCheckpoint(ctx, "output_handler", 512)

	rm := collectMetrics(t, reader)

	execs := findMetric(rm, "convograph.node.executions")
	require.NotNil(t, execs)
	sum, ok := execs.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)

	errs := findMetric(rm, "convograph.node.errors")
	require.NotNil(t, errs)
	errSum := errs.Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(1), errSum.DataPoints[0].Value)

	assert.NotNil(t, findMetric(rm, "convograph.graph.runs"))
	assert.NotNil(t, findMetric(rm, "convograph.checkpoint.size_bytes"))
}

func TestSpanManager_RecordsStatus(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})

	spans := NewSpanManager()
	ctx, run := spans.StartRunSpan(context.Background(), "turn", "run-1")
	_, node := spans.StartNodeSpan(ctx, "classifier")
	spans.AddSpanEvent(ctx, "routed")
	spans.EndSpanWithError(node, errors.New("failed"))
	spans.EndSpanWithError(run, nil)

	got := exporter.GetSpans()
	require.Len(t, got, 2)
	assert.Equal(t, "convograph.node.classifier", got[0].Name)
	assert.Equal(t, codes.Error, got[0].Status.Code)
	assert.Equal(t, "convograph.run", got[1].Name)
	assert.Equal(t, codes.Ok, got[1].Status.Code)
	assert.Equal(t, got[1].SpanContext.SpanID(), got[0].Parent.SpanID())
	require.Len(t, got[1].Events, 1)
	assert.Equal(t, "routed", got[1].Events[0].Name)
}

func TestNoopImplementations(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	var s SpanManager = NoopSpanManager{}

	assert.NotPanics(t, func() {
		m.RecordNodeExecution(context.Background(), "n", time.Millisecond, nil)
		m.RecordGraphRun(context.Background(), false, time.Millisecond)
		m.RecordCheckpoint(context.Background(), "n", 1)

		ctx, span := s.StartRunSpan(context.Background(), "g", "r")
		_, child := s.StartNodeSpan(ctx, "n")
		s.AddSpanEvent(ctx, "e")
		s.EndSpanWithError(child, errors.New("x"))
		s.EndSpanWithError(span, nil)
	})
}
