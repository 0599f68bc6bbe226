package modbus

import (
	"time"
)

// Register is one polled register or coil and the topic it publishes to.
//
// The descriptive fields are fixed once the Table is built. lastPoll and
// lastValue are owned by the poll loop and never touched elsewhere.
type Register struct {
	Topic         string
	Address       int
	SlaveID       int
	FunctionCode  int
	Size          int
	DataFormat    DataFormat
	Multiplier    float64
	OutputFormat  OutputFormat
	PollFrequency time.Duration

	// DomoticzIdx is the Domoticz device index; 0 means not mirrored.
	DomoticzIdx int
	Unit        string
	Icon        string

	lastPoll  time.Time // zero: never polled
	lastValue *string   // nil: nothing published yet
}

// Validate checks the register's invariants.
func (r *Register) Validate() error {
	if r.Topic == "" {
		return configError("register topic is required")
	}
	if r.SlaveID < 0 || r.SlaveID > maxSlaveID {
		return configError("%s: slave %d out of range 0-%d", r.Topic, r.SlaveID, maxSlaveID)
	}
	if r.Address < 0 || r.Address > maxAddress {
		return configError("%s: address %d out of range 0-%d", r.Topic, r.Address, maxAddress)
	}
	if !isReadFunction(r.FunctionCode) {
		return configError("%s: function code %d is not a read function (1-4)", r.Topic, r.FunctionCode)
	}
	if r.Size < 1 || r.Size > maxReadSize {
		return configError("%s: size %d out of range 1-%d", r.Topic, r.Size, maxReadSize)
	}
	if r.Address+r.Size-1 > maxAddress {
		return configError("%s: %d registers from address %d exceed the address space", r.Topic, r.Size, r.Address)
	}
	if r.DataFormat.width == 0 {
		return configError("%s: data format is required", r.Topic)
	}
	if r.DataFormat.Words() != r.Size {
		return configError("%s: data format %q spans %d registers but size is %d",
			r.Topic, r.DataFormat, r.DataFormat.Words(), r.Size)
	}
	if r.DataFormat.IsString() && r.OutputFormat.numeric() {
		return configError("%s: numeric output format %q for string data", r.Topic, r.OutputFormat)
	}
	if r.PollFrequency <= 0 {
		return configError("%s: poll frequency must be positive", r.Topic)
	}
	if r.DomoticzIdx < 0 {
		return configError("%s: domoticz idx must not be negative", r.Topic)
	}
	return nil
}

// due reports whether the register should be read at now.
func (r *Register) due(now time.Time) bool {
	return r.lastPoll.IsZero() || now.Sub(r.lastPoll) >= r.PollFrequency
}

// Table is the ordered, validated set of registers. Its membership and
// order never change after construction.
type Table struct {
	registers []*Register
}

// NewTable validates regs and freezes them into a Table. Topics must be unique.
func NewTable(regs []Register) (*Table, error) {
	t := &Table{registers: make([]*Register, 0, len(regs))}
	seen := make(map[string]bool, len(regs))

	for i := range regs {
		r := regs[i]
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Topic] {
			return nil, configError("duplicate register topic %q", r.Topic)
		}
		seen[r.Topic] = true
		def := r.definition()
		t.registers = append(t.registers, &def)
	}

	return t, nil
}

// Len returns the number of registers.
func (t *Table) Len() int {
	return len(t.registers)
}

// Registers returns copies of the register definitions in table order,
// without poll state.
func (t *Table) Registers() []Register {
	out := make([]Register, len(t.registers))
	for i, r := range t.registers {
		out[i] = r.definition()
	}
	return out
}

// definition copies the immutable fields only, so it is safe to call
// while the poll loop updates lastPoll and lastValue.
func (r *Register) definition() Register {
	return Register{
		Topic:         r.Topic,
		Address:       r.Address,
		SlaveID:       r.SlaveID,
		FunctionCode:  r.FunctionCode,
		Size:          r.Size,
		DataFormat:    r.DataFormat,
		Multiplier:    r.Multiplier,
		OutputFormat:  r.OutputFormat,
		PollFrequency: r.PollFrequency,
		DomoticzIdx:   r.DomoticzIdx,
		Unit:          r.Unit,
		Icon:          r.Icon,
	}
}
