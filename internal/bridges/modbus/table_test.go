package modbus

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleTable = `Topic,Register,Size,DataFormat,Multiplier,OutputFormat,Frequency,Slave,FunctionCode,DomoticzIdx,Unit,Icon
DEFAULT,,,,,,30,2,,,,
boiler/temp,0x10,1,>h,0.1,{:.1f},,,,12,°C,thermometer
#disabled,5,1,>H,1,,,,,,,
,6,1,>H,1,,,,,,,
power,20,2,>I,1,,5,3,4,,W,
fast,21
`

func TestParseTable(t *testing.T) {
	table, err := ParseTable(strings.NewReader(sampleTable))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}

	regs := table.Registers()
	if len(regs) != 3 {
		t.Fatalf("registers = %d, want 3", len(regs))
	}

	temp := regs[0]
	if temp.Topic != "boiler/temp" || temp.Address != 16 {
		t.Errorf("temp = %q @ %d", temp.Topic, temp.Address)
	}
	if temp.SlaveID != 2 {
		t.Errorf("temp slave = %d, want 2 from DEFAULT row", temp.SlaveID)
	}
	if temp.FunctionCode != FuncReadHoldingRegisters {
		t.Errorf("temp function code = %d, want built-in 3", temp.FunctionCode)
	}
	if temp.PollFrequency != 30*time.Second {
		t.Errorf("temp frequency = %v, want 30s from DEFAULT row", temp.PollFrequency)
	}
	if temp.DomoticzIdx != 12 || temp.Unit != "°C" || temp.Icon != "thermometer" {
		t.Errorf("temp extras = %d %q %q", temp.DomoticzIdx, temp.Unit, temp.Icon)
	}
	if temp.OutputFormat.String() != "{:.1f}" {
		t.Errorf("temp output format = %q", temp.OutputFormat)
	}

	power := regs[1]
	if power.PollFrequency != 5*time.Second || power.SlaveID != 3 || power.FunctionCode != FuncReadInputRegisters {
		t.Errorf("power = %v slave %d fc %d", power.PollFrequency, power.SlaveID, power.FunctionCode)
	}
	if power.Size != 2 || power.DataFormat.String() != ">I" {
		t.Errorf("power size %d format %q", power.Size, power.DataFormat)
	}

	// A short row takes everything else from the defaults.
	fast := regs[2]
	if fast.Size != 1 || fast.DataFormat.String() != ">H" || fast.Multiplier != 1 {
		t.Errorf("fast = size %d format %q multiplier %v", fast.Size, fast.DataFormat, fast.Multiplier)
	}
}

func TestParseTable_IntegerColumns(t *testing.T) {
	tests := []struct {
		cell string
		want int
	}{
		{"0100", 100},
		{"0x10", 16},
		{"0X1f", 31},
		{"007", 7},
		{"42", 42},
	}
	for _, tt := range tests {
		table, err := ParseTable(strings.NewReader("Topic,Register\na," + tt.cell + "\n"))
		if err != nil {
			t.Fatalf("ParseTable(%q): %v", tt.cell, err)
		}
		if got := table.Registers()[0].Address; got != tt.want {
			t.Errorf("address from %q = %d, want %d", tt.cell, got, tt.want)
		}
	}

	for _, cell := range []string{"0b101", "0o17", "1_000", "0x"} {
		_, err := ParseTable(strings.NewReader("Topic,Register\na," + cell + "\n"))
		if !errors.Is(err, ErrConfig) {
			t.Errorf("ParseTable(%q) error = %v, want ErrConfig", cell, err)
		}
	}
}

func TestParseTable_DefaultRowAppliesToLaterRows(t *testing.T) {
	csv := "Topic,Register,Frequency,Slave\n" +
		"first,1,,\n" +
		"DEFAULT,,30,4\n" +
		"second,2,,\n" +
		"DEFAULT,,10,\n" +
		"third,3,,\n"

	table, err := ParseTable(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}

	want := []struct {
		topic string
		freq  time.Duration
		slave int
	}{
		{"first", 60 * time.Second, 1},
		{"second", 30 * time.Second, 4},
		{"third", 10 * time.Second, 1},
	}
	regs := table.Registers()
	if len(regs) != len(want) {
		t.Fatalf("registers = %d, want %d", len(regs), len(want))
	}
	for i, w := range want {
		if regs[i].Topic != w.topic || regs[i].PollFrequency != w.freq || regs[i].SlaveID != w.slave {
			t.Errorf("regs[%d] = %s freq %v slave %d, want %s freq %v slave %d",
				i, regs[i].Topic, regs[i].PollFrequency, regs[i].SlaveID, w.topic, w.freq, w.slave)
		}
	}
}

func TestParseTable_BuiltinDefaults(t *testing.T) {
	table, err := ParseTable(strings.NewReader("register,TOPIC\n7,a\n"))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}
	reg := table.Registers()[0]
	if reg.PollFrequency != 60*time.Second || reg.SlaveID != 1 || reg.FunctionCode != 3 || reg.Size != 1 {
		t.Errorf("defaults = %+v", reg)
	}
}

func TestParseTable_FractionalFrequency(t *testing.T) {
	table, err := ParseTable(strings.NewReader("Topic,Register,Frequency\na,1,0.5\n"))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}
	if got := table.Registers()[0].PollFrequency; got != 500*time.Millisecond {
		t.Errorf("frequency = %v, want 500ms", got)
	}
}

func TestParseTable_Errors(t *testing.T) {
	tests := []struct {
		name     string
		csv      string
		contains string
	}{
		{"empty", "", "empty"},
		{"missing register column", "Topic,Size\na,1\n", `"register"`},
		{"missing topic column", "Register\n1\n", `"topic"`},
		{"bad register", "Topic,Register\na,abc\n", "line 2"},
		{"size mismatch", "Topic,Register,Size,DataFormat\na,1,2,>H\n", "line 2"},
		{"slave out of range", "Topic,Register,Slave\na,1,300\n", "slave"},
		{"write function code", "Topic,Register,FunctionCode\na,1,6\n", "function code"},
		{"zero frequency", "Topic,Register,Frequency\na,1,0\n", "frequency"},
		{"bad multiplier", "Topic,Register,Multiplier\na,1,x\n", "multiplier"},
		{"duplicate topic", "Topic,Register\na,1\na,2\n", "duplicate"},
		{"numeric format on string", "Topic,Register,Size,DataFormat,OutputFormat\na,1,2,4s,%d\n", "string"},
		{"address overflow", "Topic,Register,Size,DataFormat\na,65535,2,>I\n", "address space"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTable(strings.NewReader(tt.csv))
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("error = %v, want ErrConfig", err)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q does not mention %q", err, tt.contains)
			}
		})
	}
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.csv")
	if err := os.WriteFile(path, []byte(sampleTable), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if table.Len() != 3 {
		t.Errorf("Len() = %d, want 3", table.Len())
	}
}

func TestLoadTable_Missing(t *testing.T) {
	_, err := LoadTable(filepath.Join(t.TempDir(), "nope.csv"))
	if !errors.Is(err, ErrConfig) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want ErrConfig wrapping ErrNotExist", err)
	}
}

func TestTable_RegistersAreCopies(t *testing.T) {
	table := mustTable(t, holdingRegister(t, "a", 1, 0, time.Second))

	regs := table.Registers()
	regs[0].Topic = "changed"

	if table.Registers()[0].Topic != "a" {
		t.Error("Registers() exposed the table's own records")
	}
}
