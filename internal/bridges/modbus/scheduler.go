package modbus

import (
	"context"
	"time"

	"github.com/nerrad567/modbus2mqtt/internal/infrastructure/mqtt"
)

// DefaultTickInterval is how often the scheduler looks for due registers.
const DefaultTickInterval = time.Second

// SweepResult summarises one pass over the register table.
type SweepResult struct {
	Due      int
	Read     int
	Failed   int
	Changed  int
	Duration time.Duration
}

// SchedulerOptions holds the dependencies of a Scheduler.
type SchedulerOptions struct {
	Table  *Table
	Gate   *Gate
	MQTT   MQTTClient
	Topics mqtt.Topics
	QoS    byte
	Retain bool

	// Aggregator is optional; nil disables the aggregate JSON topic.
	Aggregator *ChangeAggregator

	// DomoticzTopic is optional; empty disables Domoticz output.
	DomoticzTopic string

	// Interval defaults to DefaultTickInterval.
	Interval time.Duration

	// Now defaults to time.Now.
	Now func() time.Time

	Telemetry Telemetry
	Logger    Logger

	stats *counters
}

// Scheduler polls due registers and publishes values that changed.
//
// Sweep and Run must be called from a single goroutine: register poll
// state and the aggregator batch are owned by it.
type Scheduler struct {
	table         *Table
	gate          *Gate
	mqtt          MQTTClient
	topics        mqtt.Topics
	qos           byte
	retain        bool
	aggregator    *ChangeAggregator
	domoticzTopic string
	interval      time.Duration
	now           func() time.Time
	telemetry     Telemetry
	logger        Logger
	stats         *counters
}

// NewScheduler creates a scheduler. Call Run to start polling.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	s := &Scheduler{
		table:         opts.Table,
		gate:          opts.Gate,
		mqtt:          opts.MQTT,
		topics:        opts.Topics,
		qos:           opts.QoS,
		retain:        opts.Retain,
		aggregator:    opts.Aggregator,
		domoticzTopic: opts.DomoticzTopic,
		interval:      opts.Interval,
		now:           opts.Now,
		telemetry:     opts.Telemetry,
		logger:        loggerOrNop(opts.Logger),
		stats:         opts.stats,
	}
	if s.stats == nil {
		s.stats = &counters{}
	}
	if s.interval <= 0 {
		s.interval = DefaultTickInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx, s.now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, s.now())
		}
	}
}

// Sweep reads every register that is due at now, in table order.
//
// lastPoll advances for every due register, including those whose read
// fails, so a failing device is retried once per poll frequency. A failure
// is logged and the sweep moves on to the next register.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) SweepResult {
	start := time.Now()
	var res SweepResult

	for _, reg := range s.table.registers {
		if ctx.Err() != nil {
			break
		}
		if !reg.due(now) {
			continue
		}
		res.Due++
		reg.lastPoll = now

		changed, err := s.poll(ctx, reg)
		if err != nil {
			res.Failed++
			s.logger.Warn("register read failed",
				"topic", reg.Topic,
				"slave", reg.SlaveID,
				"address", reg.Address,
				"function_code", reg.FunctionCode,
				"error", err)
			continue
		}
		res.Read++
		if changed {
			res.Changed++
		}
	}

	s.flushAggregate()

	res.Duration = time.Since(start)
	s.stats.sweeps.Add(1)
	s.stats.lastSweepNanos.Store(int64(res.Duration))
	if s.telemetry != nil {
		s.telemetry.RecordSweep(res)
	}
	if res.Due > 0 {
		s.logger.Debug("sweep complete",
			"due", res.Due, "read", res.Read, "failed", res.Failed,
			"changed", res.Changed, "duration", res.Duration)
	}
	return res
}

// poll reads, decodes and publishes one register. It reports whether the
// formatted value differed from the last published one.
func (s *Scheduler) poll(ctx context.Context, reg *Register) (bool, error) {
	raw, err := s.gate.Read(ctx, reg.SlaveID, reg.FunctionCode, reg.Address, reg.Size)
	if err != nil {
		s.stats.readFailures.Add(1)
		return false, err
	}
	s.stats.reads.Add(1)

	value, err := Decode(raw, reg.DataFormat, reg.Multiplier)
	if err != nil {
		s.stats.decodeFailures.Add(1)
		return false, err
	}
	text := FormatValue(value, reg.OutputFormat)

	if reg.lastValue != nil && *reg.lastValue == text {
		return false, nil
	}

	// A value that could not be published stays unpublished, so the next
	// successful read sends it again.
	if err := s.mqtt.Publish(s.topics.Value(reg.Topic), []byte(text), s.qos, s.retain); err != nil {
		s.stats.publishFailures.Add(1)
		s.logger.Warn("publish failed", "topic", reg.Topic, "error", err)
		return false, nil
	}
	s.stats.publishes.Add(1)
	s.stats.changes.Add(1)

	reg.lastValue = &text
	if s.aggregator != nil {
		s.aggregator.Add(reg.Topic, text)
	}
	if reg.DomoticzIdx > 0 && s.domoticzTopic != "" {
		s.publishDomoticz(reg, text)
	}

	s.logger.Debug("value changed", "topic", reg.Topic, "value", text)
	return true, nil
}

func (s *Scheduler) publishDomoticz(reg *Register, value string) {
	payload, err := NewDomoticzMessage(reg.DomoticzIdx, value).Bytes()
	if err != nil {
		s.logger.Error("domoticz message", "topic", reg.Topic, "error", err)
		return
	}
	if err := s.mqtt.Publish(s.domoticzTopic, payload, s.qos, false); err != nil {
		s.stats.publishFailures.Add(1)
		s.logger.Warn("domoticz publish failed", "topic", reg.Topic, "idx", reg.DomoticzIdx, "error", err)
		return
	}
	s.stats.publishes.Add(1)
}

func (s *Scheduler) flushAggregate() {
	if s.aggregator == nil {
		return
	}
	payload, ok, err := s.aggregator.Flush()
	if err != nil {
		s.logger.Error("aggregate encode failed", "error", err)
		return
	}
	if !ok {
		return
	}
	if err := s.mqtt.Publish(s.topics.Aggregate(), payload, s.qos, s.retain); err != nil {
		s.stats.publishFailures.Add(1)
		s.logger.Warn("aggregate publish failed", "error", err)
		return
	}
	s.stats.publishes.Add(1)
}
