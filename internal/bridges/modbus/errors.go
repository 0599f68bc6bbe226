package modbus

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors for the Modbus bridge package. Check with errors.Is.
var (
	// ErrConfig is returned for an invalid register table or connection
	// parameters. It is fatal at startup.
	ErrConfig = errors.New("modbus: invalid configuration")

	// ErrTransport is returned when a bus operation fails. The failure is
	// contained to the register read or command that caused it.
	ErrTransport = errors.New("modbus: transport failure")

	// ErrTimeout is returned when the bus could not be acquired or did not
	// answer in time. A timeout is also an ErrTransport and is retryable.
	ErrTimeout = errors.New("modbus: operation timed out")

	// ErrInvalidCommand is returned for a command whose topic or payload
	// fails validation. Nothing is written to the bus.
	ErrInvalidCommand = errors.New("modbus: invalid command")

	// ErrDecode is returned when raw register bytes do not match the
	// register's data format.
	ErrDecode = errors.New("modbus: decode failed")
)

// timeoutError reports a timeout and matches both ErrTimeout and ErrTransport.
type timeoutError struct {
	op    string
	after time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("modbus: %s timed out after %v", e.op, e.after)
}

func (e *timeoutError) Is(target error) bool {
	return target == ErrTimeout || target == ErrTransport
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func commandError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCommand, fmt.Sprintf(format, args...))
}
