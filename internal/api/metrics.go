package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/modbus2mqtt/internal/bridges/modbus"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Bridge        BridgeMetrics  `json:"bridge"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// BridgeMetrics contains Modbus bridge statistics.
type BridgeMetrics struct {
	BusConnected     bool    `json:"bus_connected"`
	Registers        int     `json:"registers"`
	Sweeps           uint64  `json:"sweeps"`
	Reads            uint64  `json:"reads"`
	ReadFailures     uint64  `json:"read_failures"`
	DecodeFailures   uint64  `json:"decode_failures"`
	Changes          uint64  `json:"changes"`
	Publishes        uint64  `json:"publishes"`
	PublishFailures  uint64  `json:"publish_failures"`
	Commands         uint64  `json:"commands"`
	CommandsRejected uint64  `json:"commands_rejected"`
	Writes           uint64  `json:"writes"`
	WriteFailures    uint64  `json:"write_failures"`
	LastSweepMS      float64 `json:"last_sweep_ms"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	// Collect runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	b := s.bridge.GetMetrics()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		MQTT: MQTTMetrics{
			Connected: b.MQTTConnected,
		},
		Bridge: toBridgeMetrics(b),
	}

	writeJSON(w, http.StatusOK, metrics)
}

func toBridgeMetrics(m modbus.BridgeMetrics) BridgeMetrics {
	return BridgeMetrics{
		BusConnected:     m.BusConnected,
		Registers:        m.Registers,
		Sweeps:           m.Sweeps,
		Reads:            m.Reads,
		ReadFailures:     m.ReadFailures,
		DecodeFailures:   m.DecodeFailures,
		Changes:          m.Changes,
		Publishes:        m.Publishes,
		PublishFailures:  m.PublishFailures,
		Commands:         m.Commands,
		CommandsRejected: m.CommandsRejected,
		Writes:           m.Writes,
		WriteFailures:    m.WriteFailures,
		LastSweepMS:      float64(m.LastSweep.Microseconds()) / 1000,
	}
}

// metricsNamespace prefixes every exported Prometheus metric.
const metricsNamespace = "modbus2mqtt"

// bridgeCollector exports a BridgeStatus snapshot on every scrape.
type bridgeCollector struct {
	bridge BridgeStatus

	up        *prometheus.Desc
	registers *prometheus.Desc
	counters  []counterDesc
	lastSweep *prometheus.Desc
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(m BridgeMetrics) uint64
}

func newBridgeCollector(bridge BridgeStatus) *bridgeCollector {
	counter := func(name, help string, value func(m BridgeMetrics) uint64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, nil),
			value: value,
		}
	}

	return &bridgeCollector{
		bridge: bridge,
		up: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", "connected"),
			"Whether the link is up (1) or down (0).", []string{"link"}, nil),
		registers: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", "registers"),
			"Number of registers in the table.", nil, nil),
		lastSweep: prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", "last_sweep_seconds"),
			"Duration of the most recent poll sweep.", nil, nil),
		counters: []counterDesc{
			counter("sweeps_total", "Poll sweeps completed.", func(m BridgeMetrics) uint64 { return m.Sweeps }),
			counter("reads_total", "Successful register reads.", func(m BridgeMetrics) uint64 { return m.Reads }),
			counter("read_failures_total", "Failed register reads.", func(m BridgeMetrics) uint64 { return m.ReadFailures }),
			counter("decode_failures_total", "Reads whose data could not be decoded.", func(m BridgeMetrics) uint64 { return m.DecodeFailures }),
			counter("changes_total", "Changed values published.", func(m BridgeMetrics) uint64 { return m.Changes }),
			counter("publishes_total", "MQTT messages published.", func(m BridgeMetrics) uint64 { return m.Publishes }),
			counter("publish_failures_total", "MQTT publishes that failed.", func(m BridgeMetrics) uint64 { return m.PublishFailures }),
			counter("commands_total", "Set commands received.", func(m BridgeMetrics) uint64 { return m.Commands }),
			counter("commands_rejected_total", "Set commands rejected by validation.", func(m BridgeMetrics) uint64 { return m.CommandsRejected }),
			counter("writes_total", "Successful Modbus writes.", func(m BridgeMetrics) uint64 { return m.Writes }),
			counter("write_failures_total", "Failed Modbus writes.", func(m BridgeMetrics) uint64 { return m.WriteFailures }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *bridgeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.registers
	ch <- c.lastSweep
	for _, cd := range c.counters {
		ch <- cd.desc
	}
}

// Collect implements prometheus.Collector.
func (c *bridgeCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.bridge.GetMetrics()
	bm := toBridgeMetrics(m)

	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, boolGauge(m.MQTTConnected), "mqtt")
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, boolGauge(m.BusConnected), "modbus")
	ch <- prometheus.MustNewConstMetric(c.registers, prometheus.GaugeValue, float64(m.Registers))
	ch <- prometheus.MustNewConstMetric(c.lastSweep, prometheus.GaugeValue, m.LastSweep.Seconds())
	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(cd.value(bm)))
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
