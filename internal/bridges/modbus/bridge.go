package modbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/modbus2mqtt/internal/infrastructure/mqtt"
)

// Bridge connects a Modbus bus to MQTT. It handles:
//   - Polling the register table and publishing changed values
//   - Translating MQTT set commands into Modbus writes
//   - Optional aggregate JSON, Domoticz and Home Assistant outputs
//
// All bus access from both directions goes through one Gate.
type Bridge struct {
	table      *Table
	mqtt       MQTTClient
	transport  Transport
	gate       *Gate
	topics     mqtt.Topics
	qos        byte
	retain     bool
	scheduler  *Scheduler
	commands   *CommandHandler
	stats      *counters
	subscribed []string
	logger     Logger

	// Shutdown coordination
	wg       sync.WaitGroup
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe removes a subscription.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Telemetry receives operational statistics. It is optional.
type Telemetry interface {
	RecordSweep(res SweepResult)
	RecordCommand(cmd Command, err error)
}

// connectionStatus is implemented by transports that know their link state.
type connectionStatus interface {
	IsConnected() bool
}

// DomoticzOptions configures the Domoticz output.
type DomoticzOptions struct {
	Enabled bool
	Topic   string
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Table is the loaded register table.
	Table *Table

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Transport is the Modbus connection.
	Transport Transport

	// TopicPrefix is prepended to every bridge topic, normally ending in "/".
	TopicPrefix string

	QoS           byte
	Retain        bool
	AggregateJSON bool

	// Timeout bounds bus acquisition and each bus call. Defaults to DefaultTimeout.
	Timeout time.Duration

	Domoticz DomoticzOptions

	// Logger is optional structured logger.
	Logger Logger

	// Telemetry is optional.
	Telemetry Telemetry

	// Now overrides the scheduler clock in tests.
	Now func() time.Time

	// TickInterval overrides DefaultTickInterval in tests.
	TickInterval time.Duration
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Table == nil {
		return nil, fmt.Errorf("%w: register table is required", ErrConfig)
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrConfig)
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("%w: modbus transport is required", ErrConfig)
	}
	if opts.Domoticz.Enabled && opts.Domoticz.Topic == "" {
		return nil, fmt.Errorf("%w: domoticz topic is required", ErrConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := loggerOrNop(opts.Logger)
	topics := mqtt.Topics{Prefix: opts.TopicPrefix}
	gate := NewGate(opts.Transport, opts.Timeout)
	stats := &counters{}

	var aggregator *ChangeAggregator
	if opts.AggregateJSON {
		aggregator = NewChangeAggregator()
	}
	var domoticzTopic string
	if opts.Domoticz.Enabled {
		domoticzTopic = opts.Domoticz.Topic
	}

	commands := NewCommandHandler(gate, topics, logger)
	commands.stats = stats
	commands.telemetry = opts.Telemetry

	b := &Bridge{
		table:     opts.Table,
		mqtt:      opts.MQTTClient,
		transport: opts.Transport,
		gate:      gate,
		topics:    topics,
		qos:       opts.QoS,
		retain:    opts.Retain,
		commands:  commands,
		stats:     stats,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	b.scheduler = NewScheduler(SchedulerOptions{
		Table:         opts.Table,
		Gate:          gate,
		MQTT:          opts.MQTTClient,
		Topics:        topics,
		QoS:           opts.QoS,
		Retain:        opts.Retain,
		Aggregator:    aggregator,
		DomoticzTopic: domoticzTopic,
		Interval:      opts.TickInterval,
		Now:           opts.Now,
		Telemetry:     opts.Telemetry,
		Logger:        logger,
		stats:         stats,
	})

	return b, nil
}

// Start subscribes to the command topics and starts the poll loop.
// The bridge stops when ctx is cancelled or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	stop := context.AfterFunc(ctx, b.cancel)

	for _, pattern := range b.topics.CommandPatterns() {
		if err := b.mqtt.Subscribe(pattern, b.qos, b.handleCommand); err != nil {
			stop()
			b.unsubscribeAll()
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.subscribed = append(b.subscribed, pattern)
		b.logger.Info("subscribed to commands", "topic", pattern)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.scheduler.Run(b.ctx)
	}()

	b.logger.Info("bridge started",
		"registers", b.table.Len(),
		"prefix", b.topics.Prefix,
		"timeout", b.gate.Timeout())

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		// Cancel bridge context to abort in-flight commands and the poll loop
		b.cancel()

		b.wg.Wait()

		b.unsubscribeAll()
		b.logger.Info("bridge stopped")
	})
}

func (b *Bridge) unsubscribeAll() {
	for _, pattern := range b.subscribed {
		if err := b.mqtt.Unsubscribe(pattern); err != nil {
			b.logger.Debug("unsubscribe failed", "topic", pattern, "error", err)
		}
	}
	b.subscribed = nil
}

// handleCommand is the MQTT callback for command topics.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	if b.ctx.Err() != nil {
		b.logger.Debug("command ignored during shutdown", "topic", topic)
		return
	}
	b.commands.HandleMessage(b.ctx, topic, payload)
}

// Registers returns the register definitions in table order.
func (b *Bridge) Registers() []Register {
	return b.table.Registers()
}

// Topics returns the bridge's topic layout.
func (b *Bridge) Topics() mqtt.Topics {
	return b.topics
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	m := b.stats.snapshot()
	m.Registers = b.table.Len()
	m.MQTTConnected = b.mqtt.IsConnected()
	if cs, ok := b.transport.(connectionStatus); ok {
		m.BusConnected = cs.IsConnected()
	}
	return m
}
