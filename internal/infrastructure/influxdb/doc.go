// Package influxdb writes bridge telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Two measurements are
// recorded:
//   - modbus_sweep: registers due, read, failed and changed per poll sweep,
//     with the sweep duration
//   - modbus_command: outcome of each inbound write command
//
// Register values themselves are not stored; they go to MQTT only.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteSweep(due, read, failed, changed, elapsed)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched (batch_size, flush_interval); failures arrive through SetOnError.
package influxdb
