package modbus

import (
	"context"
	"strconv"
	"strings"

	"github.com/nerrad567/modbus2mqtt/internal/infrastructure/mqtt"
)

// commandAction is the first topic level after the prefix on command topics.
const commandAction = "set"

// commandSegments is set/<slave>/<fc>/<address>.
const commandSegments = 4

// Register value range accepted by a single-register write: signed values
// are sent in two's complement.
const (
	minRegisterValue = -32768
	maxRegisterValue = 65535
)

// Command is one validated write request received over MQTT.
type Command struct {
	Topic        string
	SlaveID      int
	FunctionCode int
	Address      int
	Value        int64
}

// ParseCommandTopic validates a command topic of the form
// <prefix>set/<slave>/<fc>/<address>. The returned Command has no value.
func ParseCommandTopic(topics mqtt.Topics, topic string) (Command, error) {
	rest, ok := topics.TrimPrefix(topic)
	if !ok {
		return Command{}, commandError("topic %q is outside prefix %q", topic, topics.Prefix)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != commandSegments {
		return Command{}, commandError("topic %q: want set/<slave>/<fc>/<address>", topic)
	}
	if parts[0] != commandAction {
		return Command{}, commandError("topic %q: unknown action %q", topic, parts[0])
	}

	slave, err := strconv.Atoi(parts[1])
	if err != nil || slave < 0 || slave > maxSlaveID {
		return Command{}, commandError("topic %q: slave %q out of range 0-%d", topic, parts[1], maxSlaveID)
	}
	fc, err := strconv.Atoi(parts[2])
	if err != nil || !isWriteFunction(fc) {
		return Command{}, commandError("topic %q: function code %q is not %d or %d",
			topic, parts[2], FuncWriteSingleCoil, FuncWriteSingleRegister)
	}
	address, err := strconv.Atoi(parts[3])
	if err != nil || address < 0 || address > maxAddress {
		return Command{}, commandError("topic %q: address %q out of range 0-%d", topic, parts[3], maxAddress)
	}

	return Command{Topic: topic, SlaveID: slave, FunctionCode: fc, Address: address}, nil
}

// ParseCommand validates a command topic and its payload.
func ParseCommand(topics mqtt.Topics, topic string, payload []byte) (Command, error) {
	cmd, err := ParseCommandTopic(topics, topic)
	if err != nil {
		return Command{}, err
	}

	cmd.Value, err = EncodeCommandValue(payload)
	if err != nil {
		return Command{}, err
	}
	if cmd.FunctionCode == FuncWriteSingleRegister &&
		(cmd.Value < minRegisterValue || cmd.Value > maxRegisterValue) {
		return Command{}, commandError("value %d out of range %d-%d", cmd.Value, minRegisterValue, maxRegisterValue)
	}

	return cmd, nil
}

// CommandHandler turns MQTT set messages into gated Modbus writes.
type CommandHandler struct {
	gate      *Gate
	topics    mqtt.Topics
	telemetry Telemetry
	logger    Logger
	stats     *counters
}

// NewCommandHandler creates a handler writing through gate.
func NewCommandHandler(gate *Gate, topics mqtt.Topics, logger Logger) *CommandHandler {
	return &CommandHandler{
		gate:   gate,
		topics: topics,
		logger: loggerOrNop(logger),
		stats:  &counters{},
	}
}

// Execute performs the write for a validated command.
func (h *CommandHandler) Execute(ctx context.Context, cmd Command) error {
	err := h.gate.Write(ctx, cmd.SlaveID, cmd.FunctionCode, cmd.Address, cmd.Value)
	if h.telemetry != nil {
		h.telemetry.RecordCommand(cmd, err)
	}
	if err != nil {
		h.stats.writeFailures.Add(1)
		return err
	}
	h.stats.writes.Add(1)
	return nil
}

// HandleMessage validates and executes one MQTT command. Errors are logged,
// never returned: a bad command must not affect the MQTT client.
func (h *CommandHandler) HandleMessage(ctx context.Context, topic string, payload []byte) {
	h.stats.commands.Add(1)

	cmd, err := ParseCommand(h.topics, topic, payload)
	if err != nil {
		h.stats.commandsRejected.Add(1)
		h.logger.Warn("command rejected", "topic", topic, "payload", string(payload), "error", err)
		return
	}

	if err := h.Execute(ctx, cmd); err != nil {
		h.logger.Error("command write failed",
			"topic", topic,
			"slave", cmd.SlaveID,
			"address", cmd.Address,
			"function_code", cmd.FunctionCode,
			"value", cmd.Value,
			"error", err)
		return
	}

	h.logger.Info("command written",
		"slave", cmd.SlaveID,
		"address", cmd.Address,
		"function_code", cmd.FunctionCode,
		"value", cmd.Value)
}
