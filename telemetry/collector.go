package telemetry

import (
	"sync"
	"time"
)

// StoreStats is what the collector copies into gauges
type StoreStats struct {
	Capacity     int64
	Position     int64
	Wraps        int64
	ScratchCount int
}

// StatsProvider interface for components that report store stats
type StatsProvider interface {
	StoreStats() StoreStats
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider StatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	st := mc.provider.StoreStats()
	StoreCapacityBytes.Set(float64(st.Capacity))
	StorePositionBytes.Set(float64(st.Position))
	StoreWraps.Set(float64(st.Wraps))
	ScratchBuffers.Set(float64(st.ScratchCount))
}
