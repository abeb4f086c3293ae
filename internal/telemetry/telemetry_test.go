package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNew_DisabledReturnsNoop(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	_, ok := tel.(*noopTelemetry)
	assert.True(t, ok)

	tel.RecordProbe(context.Background(), "timeout", time.Second)
	tel.RecordRun(context.Background(), "exhausted", 1)
	assert.NoError(t, tel.Close())
}

func TestNew_UnsupportedExporter(t *testing.T) {
	_, err := New(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		ServiceName:  "oidhunt-test",
		ExporterType: "zipkin",
		SampleRate:   1.0,
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter type")
}

// collector accepts any OTLP/HTTP export and remembers the paths it saw.
type collector struct {
	mu    sync.Mutex
	paths []string
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.paths = append(c.paths, r.URL.Path)
	c.mu.Unlock()
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
}

func (c *collector) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func TestNew_OTLP(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col)
	defer srv.Close()

	tel, err := New(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		ServiceName:  "oidhunt-test",
		ExporterType: "otlp",
		Endpoint:     strings.TrimPrefix(srv.URL, "http://"),
		SampleRate:   0,
	})
	require.NoError(t, err)

	assert.IsType(t, &sdkmetric.MeterProvider{}, otel.GetMeterProvider())
	assert.IsType(t, &sdklog.LoggerProvider{}, global.GetLoggerProvider())

	tel.RecordProbe(context.Background(), "bad_status", 25*time.Millisecond)
	tel.RecordRun(context.Background(), "found", 7)
	require.NoError(t, tel.Close())

	assert.Contains(t, col.seen(), "/v1/metrics")
}

func TestTelemetry_RecordsInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	tel, err := newTelemetry("oidhunt-test", nil, mp, nil)
	require.NoError(t, err)

	ctx := context.Background()
	tel.RecordProbe(ctx, "not_found", 10*time.Millisecond)
	tel.RecordProbe(ctx, "not_found", 20*time.Millisecond)
	tel.RecordProbe(ctx, "found", 30*time.Millisecond)
	tel.RecordRun(ctx, "found", 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	metrics := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			metrics[m.Name] = m
		}
	}

	probes, ok := metrics["oidhunt.probes.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok, "probe counter missing")
	byOutcome := map[string]int64{}
	for _, dp := range probes.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("probe.outcome"))
		byOutcome[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"not_found": 2, "found": 1}, byOutcome)

	durations, ok := metrics["oidhunt.probe.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok, "probe duration histogram missing")
	var count uint64
	for _, dp := range durations.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	runs, ok := metrics["oidhunt.runs.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok, "run counter missing")
	require.Len(t, runs.DataPoints, 1)
	assert.Equal(t, int64(1), runs.DataPoints[0].Value)

	assert.NoError(t, tel.Close())
}
