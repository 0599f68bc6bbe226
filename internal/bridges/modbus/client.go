package modbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Connection modes.
const (
	ModeTCP = "tcp"
	ModeRTU = "rtu"
)

// coilOn is the wire value that switches a coil on.
const coilOn = 0xFF00

// ClientConfig holds the bus connection parameters.
type ClientConfig struct {
	Mode string

	// Address is host:port for TCP.
	Address string

	// Serial line settings for RTU.
	Device   string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int

	Timeout     time.Duration
	IdleTimeout time.Duration
}

// busClient is the subset of modbus.Client the bridge uses.
type busClient interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// busHandler is the connection side of a goburrow client handler.
type busHandler interface {
	Connect() error
	Close() error
}

// ModbusClient is a Transport over a goburrow TCP or RTU handler.
//
// The handler's slave id is set per request, so a ModbusClient must only
// be used through a Gate.
type ModbusClient struct {
	handler  busHandler
	client   busClient
	setSlave func(id byte)
	timeout  time.Duration
	target   string

	mu        sync.Mutex
	connected bool
	logger    Logger
}

var _ Transport = (*ModbusClient)(nil)

// NewModbusClient builds a client for cfg. It does not connect; the first
// request or an explicit Connect does.
func NewModbusClient(cfg ClientConfig, logger Logger) (*ModbusClient, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &ModbusClient{timeout: timeout, logger: loggerOrNop(logger)}

	switch cfg.Mode {
	case ModeTCP, "":
		if cfg.Address == "" {
			return nil, configError("tcp address is required")
		}
		h := modbus.NewTCPClientHandler(cfg.Address)
		h.Timeout = timeout
		h.IdleTimeout = cfg.IdleTimeout
		c.handler, c.client, c.target = h, modbus.NewClient(h), cfg.Address
		c.setSlave = func(id byte) { h.SlaveId = id }
	case ModeRTU:
		if cfg.Device == "" {
			return nil, configError("rtu device is required")
		}
		h := modbus.NewRTUClientHandler(cfg.Device)
		h.BaudRate = cfg.BaudRate
		h.DataBits = cfg.DataBits
		h.Parity = cfg.Parity
		h.StopBits = cfg.StopBits
		h.Timeout = timeout
		h.IdleTimeout = cfg.IdleTimeout
		c.handler, c.client, c.target = h, modbus.NewClient(h), cfg.Device
		c.setSlave = func(id byte) { h.SlaveId = id }
	default:
		return nil, configError("unknown mode %q (want %s or %s)", cfg.Mode, ModeTCP, ModeRTU)
	}

	return c, nil
}

// Connect opens the connection. Failure is not fatal: requests reconnect.
func (c *ModbusClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.handler.Connect(); err != nil {
		return fmt.Errorf("%w: connecting to %s: %w", ErrTransport, c.target, err)
	}
	c.connected = true
	c.logger.Info("modbus connected", "target", c.target)
	return nil
}

// Close closes the connection.
func (c *ModbusClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	return c.handler.Close()
}

// IsConnected reports whether the last request or Connect succeeded.
func (c *ModbusClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Read implements Transport.
func (c *ModbusClient) Read(ctx context.Context, slave, functionCode, address, count int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count < 1 || count > maxReadSize {
		return nil, fmt.Errorf("%w: read count %d out of range 1-%d", ErrTransport, count, maxReadSize)
	}

	c.setSlave(byte(slave))
	addr, qty := uint16(address), uint16(count)

	var (
		raw  []byte
		err  error
		bits bool
	)
	switch functionCode {
	case FuncReadCoils:
		raw, err = c.client.ReadCoils(addr, qty)
		bits = true
	case FuncReadDiscreteInputs:
		raw, err = c.client.ReadDiscreteInputs(addr, qty)
		bits = true
	case FuncReadHoldingRegisters:
		raw, err = c.client.ReadHoldingRegisters(addr, qty)
	case FuncReadInputRegisters:
		raw, err = c.client.ReadInputRegisters(addr, qty)
	default:
		return nil, fmt.Errorf("%w: function code %d is not a read", ErrTransport, functionCode)
	}
	if err != nil {
		return nil, c.fail("read", err)
	}
	c.markConnected()

	if bits {
		if want := (count + 7) / 8; len(raw) < want {
			return nil, fmt.Errorf("%w: short response: expected %d bytes, got %d", ErrTransport, want, len(raw))
		}
		return expandBits(raw, count), nil
	}
	if len(raw) != count*2 {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrTransport, count*2, len(raw))
	}
	return raw, nil
}

// Write implements Transport.
func (c *ModbusClient) Write(ctx context.Context, slave, functionCode, address int, value int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wire, err := writeValue(functionCode, value)
	if err != nil {
		return err
	}

	c.setSlave(byte(slave))
	addr := uint16(address)

	switch functionCode {
	case FuncWriteSingleCoil:
		_, err = c.client.WriteSingleCoil(addr, wire)
	case FuncWriteSingleRegister:
		_, err = c.client.WriteSingleRegister(addr, wire)
	}
	if err != nil {
		return c.fail("write", err)
	}
	c.markConnected()
	return nil
}

// writeValue maps a command value to the 16-bit word sent on the wire.
// Negative register values are sent in two's complement.
func writeValue(functionCode int, value int64) (uint16, error) {
	switch functionCode {
	case FuncWriteSingleCoil:
		if value != 0 {
			return coilOn, nil
		}
		return 0, nil
	case FuncWriteSingleRegister:
		if value < -32768 || value > 65535 {
			return 0, commandError("value %d does not fit a 16-bit register", value)
		}
		return uint16(value), nil
	default:
		return 0, commandError("function code %d is not a write", functionCode)
	}
}

// fail closes the handler so the next request reconnects, and classifies err.
func (c *ModbusClient) fail(op string, err error) error {
	c.mu.Lock()
	c.connected = false
	if closeErr := c.handler.Close(); closeErr != nil {
		c.logger.Debug("modbus close after failure", "error", closeErr)
	}
	c.mu.Unlock()

	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", &timeoutError{op: op, after: c.timeout}, err)
	}

	var exc *modbus.ModbusError
	if errors.As(err, &exc) {
		return fmt.Errorf("%w: %s exception %d: %w", ErrTransport, op, exc.ExceptionCode, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

func (c *ModbusClient) markConnected() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
}

// expandBits unpacks a coil or discrete-input response (LSB first) into
// count big-endian words of 0 or 1.
func expandBits(packed []byte, count int) []byte {
	out := make([]byte, count*2)
	for i := 0; i < count; i++ {
		if i/8 < len(packed) && packed[i/8]&(1<<uint(i%8)) != 0 {
			out[2*i+1] = 1
		}
	}
	return out
}
