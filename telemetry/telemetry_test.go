package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maxpert/selfdiag/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStats struct {
	stats StoreStats
}

func (f fixedStats) StoreStats() StoreStats {
	return f.stats
}

func TestNoopByDefault(t *testing.T) {
	// nothing registered yet, so every metric is a no-op
	assert.Nil(t, GetMetricsHandler())
	assert.NotPanics(t, func() {
		EventsCapturedTotal.Inc()
		EventsDroppedTotal.With(DropWrite).Inc()
		LineBytes.Observe(42)
		SourcesEnabled.Sub(1)
	})
}

func TestCollectorExportsStoreStats(t *testing.T) {
	original := cfg.Config
	defer func() { cfg.Config = original }()
	cfg.Config = cfg.Defaults()
	cfg.Config.InstanceID = 99
	cfg.Config.Prometheus.Enabled = true

	InitializeTelemetry()
	handler := GetMetricsHandler()
	require.NotNil(t, handler)

	EventsCapturedTotal.Inc()
	EventsDroppedTotal.With(DropNoStore).Inc()

	mc := NewMetricsCollector(fixedStats{StoreStats{Capacity: 4096, Position: 5000, Wraps: 1, ScratchCount: 3}}, time.Hour)
	mc.Start()
	mc.Stop()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, `selfdiag_recorder_store_capacity_bytes{instance_id="99"} 4096`)
	assert.Contains(t, out, `selfdiag_recorder_store_position_bytes{instance_id="99"} 5000`)
	assert.Contains(t, out, `selfdiag_recorder_store_wraps{instance_id="99"} 1`)
	assert.Contains(t, out, `selfdiag_recorder_scratch_buffers{instance_id="99"} 3`)
	assert.Contains(t, out, `selfdiag_recorder_events_captured_total{instance_id="99"} 1`)
	assert.Contains(t, out, `selfdiag_recorder_events_dropped_total{instance_id="99",reason="no_store"} 1`)
}
