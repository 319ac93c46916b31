package telemetry

import (
	"sync"
	"time"
)

// WatermarkSource exposes the forwarder's current cursor
type WatermarkSource interface {
	CurrentWatermark() (uint64, bool)
}

// VariableStore publishes the "last message" and "last cycle" timestamps as
// gauges. It satisfies the forwarder's variable store contract.
type VariableStore struct{}

// SetLastMessage records the newest record timestamp (unix seconds)
func (VariableStore) SetLastMessage(ts int64) {
	LastMessageTimestamp.Set(float64(ts))
}

// SetLastCycle records the cycle completion time
func (VariableStore) SetLastCycle(t time.Time) {
	LastCycleTimestamp.Set(float64(t.Unix()))
}

// MetricsCollector periodically samples the watermark into its gauge, so the
// gauge also reflects re-baselines that happen outside a committed cycle
type MetricsCollector struct {
	source   WatermarkSource
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(source WatermarkSource, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		source:   source,
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
	if mc.source == nil {
		return
	}
	if cursor, ok := mc.source.CurrentWatermark(); ok {
		Watermark.Set(float64(cursor))
	}
}
