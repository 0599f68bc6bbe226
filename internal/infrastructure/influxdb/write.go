package influxdb

import (
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementSweep   = "modbus_sweep"
	measurementCommand = "modbus_command"
)

// WriteSweep records one poll sweep: how many registers were due, how many
// were read, how many failed and how many changed value.
//
//	client.WriteSweep(12, 11, 1, 3, 420*time.Millisecond)
func (c *Client) WriteSweep(due, read, failed, changed int, duration time.Duration) {
	c.write(influxdb2.NewPointWithMeasurement(measurementSweep).
		AddField("due", due).
		AddField("read", read).
		AddField("failed", failed).
		AddField("changed", changed).
		AddField("duration_ms", float64(duration.Microseconds())/1000).
		SetTime(time.Now()))
}

// WriteCommand records the outcome of one set command. Slave and function
// code are tags so failures can be grouped per device.
func (c *Client) WriteCommand(slave, functionCode, address int, success bool) {
	c.write(influxdb2.NewPointWithMeasurement(measurementCommand).
		AddTag("slave", strconv.Itoa(slave)).
		AddTag("function_code", strconv.Itoa(functionCode)).
		AddField("address", address).
		AddField("success", success).
		SetTime(time.Now()))
}

func (c *Client) write(p *write.Point) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.writeAPI.WritePoint(p)
}
