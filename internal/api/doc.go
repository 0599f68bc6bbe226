// Package api implements the HTTP status server for the Modbus bridge.
//
// This package provides:
//   - GET /api/v1/health: broker and bus connectivity
//   - GET /api/v1/metrics: bridge counters and Go runtime statistics as JSON
//   - GET /api/v1/registers: the loaded register table
//   - GET /metrics: the same counters in Prometheus text format
//   - Middleware stack (request ID, logging, recovery)
//
// The server is read-only. Writes to the bus only ever arrive over MQTT.
package api
