package telemetry

// LineBytesBuckets for encoded line sizes, up to the default scratch buffer
var LineBytesBuckets = []float64{64, 128, 256, 512, 1024, 2048, 4096, 8192, 20480}

// Drop reasons for EventsDroppedTotal
const (
	DropNoStore = "no_store" // store closed, disabled, or line larger than the store
	DropWrite   = "write"    // physical write failed
	DropPanic   = "panic"    // recovered failure while encoding
)

// Capture Metrics
var (
	// EventsCapturedTotal counts events written to the ring
	EventsCapturedTotal Counter = NoopStat{}

	// EventsDroppedTotal counts lost events by reason
	EventsDroppedTotal CounterVec = noopCounterVec{}

	// BytesWrittenTotal counts bytes handed to the ring
	BytesWrittenTotal Counter = NoopStat{}

	// LineBytes measures encoded line sizes
	LineBytes Histogram = NoopStat{}

	// WrappedWritesTotal counts writes that were split at the end of the ring
	WrappedWritesTotal Counter = NoopStat{}

	// SourcesEnabled tracks how many sources feed the recorder
	SourcesEnabled Gauge = NoopStat{}

	// ScratchBuffers tracks live per-worker scratch buffers
	ScratchBuffers Gauge = NoopStat{}
)

// Store Metrics
var (
	// StoreCapacityBytes is the size of the current ring file (0 when disabled)
	StoreCapacityBytes Gauge = NoopStat{}

	// StorePositionBytes is the logical write position of the current ring file
	StorePositionBytes Gauge = NoopStat{}

	// StoreWraps counts completed passes over the current ring file
	StoreWraps Gauge = NoopStat{}

	// StoreReopensTotal counts ring files opened by configuration refreshes
	StoreReopensTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after the registry exists; InitializeTelemetry does that.
func InitMetrics() {
	EventsCapturedTotal = NewCounter(
		"events_captured_total",
		"Diagnostic events written to the ring",
	)
	EventsDroppedTotal = NewCounterVec(
		"events_dropped_total",
		"Diagnostic events lost by reason",
		[]string{"reason"},
	)
	BytesWrittenTotal = NewCounter(
		"bytes_written_total",
		"Bytes written to the ring",
	)
	LineBytes = NewHistogramWithBuckets(
		"line_bytes",
		"Encoded diagnostic line size in bytes",
		LineBytesBuckets,
	)
	WrappedWritesTotal = NewCounter(
		"wrapped_writes_total",
		"Writes split across the end of the ring",
	)
	SourcesEnabled = NewGauge(
		"sources_enabled",
		"Event sources feeding the recorder",
	)
	ScratchBuffers = NewGauge(
		"scratch_buffers",
		"Live per-worker scratch buffers",
	)

	StoreCapacityBytes = NewGauge(
		"store_capacity_bytes",
		"Capacity of the current ring file in bytes",
	)
	StorePositionBytes = NewGauge(
		"store_position_bytes",
		"Logical write position of the current ring file",
	)
	StoreWraps = NewGauge(
		"store_wraps",
		"Completed passes over the current ring file",
	)
	StoreReopensTotal = NewCounter(
		"store_reopens_total",
		"Ring files opened by configuration refreshes",
	)
}
