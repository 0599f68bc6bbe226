package modbus

import "context"

// Modbus function codes used by the bridge.
const (
	FuncReadCoils            = 1
	FuncReadDiscreteInputs   = 2
	FuncReadHoldingRegisters = 3
	FuncReadInputRegisters   = 4
	FuncWriteSingleCoil      = 5
	FuncWriteSingleRegister  = 6
)

// Protocol limits.
const (
	maxSlaveID  = 255
	maxAddress  = 65535
	maxReadSize = 125 // registers per read request
)

// Transport is a Modbus master connection. It is not safe for concurrent
// use; all access goes through a Gate.
type Transport interface {
	// Read returns 2*count bytes: registers big-endian as on the wire,
	// coils and discrete inputs one word per bit (0 or 1).
	Read(ctx context.Context, slave, functionCode, address, count int) ([]byte, error)

	// Write performs a single write: function code 5 switches a coil
	// (non-zero is on), 6 sets one holding register.
	Write(ctx context.Context, slave, functionCode, address int, value int64) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

func isReadFunction(fc int) bool {
	return fc >= FuncReadCoils && fc <= FuncReadInputRegisters
}

func isWriteFunction(fc int) bool {
	return fc == FuncWriteSingleCoil || fc == FuncWriteSingleRegister
}
