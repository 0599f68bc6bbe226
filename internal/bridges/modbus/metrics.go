package modbus

import (
	"sync/atomic"
	"time"
)

// counters are updated by the poll loop and command callbacks.
type counters struct {
	sweeps           atomic.Uint64
	reads            atomic.Uint64
	readFailures     atomic.Uint64
	decodeFailures   atomic.Uint64
	changes          atomic.Uint64
	publishes        atomic.Uint64
	publishFailures  atomic.Uint64
	commands         atomic.Uint64
	commandsRejected atomic.Uint64
	writes           atomic.Uint64
	writeFailures    atomic.Uint64
	lastSweepNanos   atomic.Int64
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	MQTTConnected    bool
	BusConnected     bool
	Registers        int
	Sweeps           uint64
	Reads            uint64
	ReadFailures     uint64
	DecodeFailures   uint64
	Changes          uint64
	Publishes        uint64
	PublishFailures  uint64
	Commands         uint64
	CommandsRejected uint64
	Writes           uint64
	WriteFailures    uint64
	LastSweep        time.Duration
}

func (c *counters) snapshot() BridgeMetrics {
	return BridgeMetrics{
		Sweeps:           c.sweeps.Load(),
		Reads:            c.reads.Load(),
		ReadFailures:     c.readFailures.Load(),
		DecodeFailures:   c.decodeFailures.Load(),
		Changes:          c.changes.Load(),
		Publishes:        c.publishes.Load(),
		PublishFailures:  c.publishFailures.Load(),
		Commands:         c.commands.Load(),
		CommandsRejected: c.commandsRejected.Load(),
		Writes:           c.writes.Load(),
		WriteFailures:    c.writeFailures.Load(),
		LastSweep:        time.Duration(c.lastSweepNanos.Load()),
	}
}
