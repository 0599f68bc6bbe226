package modbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		want    Command
		wantErr bool
	}{
		{
			name: "register write", topic: "modbus/set/3/6/100", payload: "250",
			want: Command{Topic: "modbus/set/3/6/100", SlaveID: 3, FunctionCode: 6, Address: 100, Value: 250},
		},
		{
			name: "coil write", topic: "modbus/set/1/5/7", payload: "1",
			want: Command{Topic: "modbus/set/1/5/7", SlaveID: 1, FunctionCode: 5, Address: 7, Value: 1},
		},
		{
			name: "negative register value", topic: "modbus/set/0/6/65535", payload: "-32768",
			want: Command{Topic: "modbus/set/0/6/65535", SlaveID: 0, FunctionCode: 6, Address: 65535, Value: -32768},
		},
		{
			name: "coil accepts any integer", topic: "modbus/set/1/5/7", payload: "70000",
			want: Command{Topic: "modbus/set/1/5/7", SlaveID: 1, FunctionCode: 5, Address: 7, Value: 70000},
		},
		{name: "slave out of range", topic: "modbus/set/300/6/100", payload: "1", wantErr: true},
		{name: "negative slave", topic: "modbus/set/-1/6/100", payload: "1", wantErr: true},
		{name: "read function code", topic: "modbus/set/3/3/100", payload: "1", wantErr: true},
		{name: "unknown function code", topic: "modbus/set/3/16/100", payload: "1", wantErr: true},
		{name: "address out of range", topic: "modbus/set/3/6/70000", payload: "1", wantErr: true},
		{name: "wrong action", topic: "modbus/get/3/6/100", payload: "1", wantErr: true},
		{name: "too few segments", topic: "modbus/set/3/6", payload: "1", wantErr: true},
		{name: "too many segments", topic: "modbus/set/3/6/100/x", payload: "1", wantErr: true},
		{name: "foreign prefix", topic: "other/set/3/6/100", payload: "1", wantErr: true},
		{name: "non-numeric slave", topic: "modbus/set/a/6/100", payload: "1", wantErr: true},
		{name: "non-integer payload", topic: "modbus/set/3/6/100", payload: "1.5", wantErr: true},
		{name: "text payload", topic: "modbus/set/3/6/100", payload: "on", wantErr: true},
		{name: "register value too large", topic: "modbus/set/3/6/100", payload: "65536", wantErr: true},
		{name: "register value too small", topic: "modbus/set/3/6/100", payload: "-32769", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(testTopics, tt.topic, []byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCommand) {
					t.Errorf("error = %v, want ErrInvalidCommand", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseCommandTopic_NestedPrefix(t *testing.T) {
	topics := testTopics
	topics.Prefix = "site/plant/modbus/"

	cmd, err := ParseCommandTopic(topics, "site/plant/modbus/set/4/6/12")
	if err != nil {
		t.Fatalf("ParseCommandTopic: %v", err)
	}
	if cmd.SlaveID != 4 || cmd.Address != 12 || cmd.FunctionCode != FuncWriteSingleRegister {
		t.Errorf("command = %+v", cmd)
	}
}

func TestCommandHandler_RejectsWithoutWriting(t *testing.T) {
	transport := newMemTransport()
	logger := &testLogger{}
	h := NewCommandHandler(NewGate(transport, time.Second), testTopics, logger)

	h.HandleMessage(context.Background(), "modbus/set/300/6/100", []byte("1"))

	if n := len(transport.writeLog()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
	if !logger.has("warn: command rejected") {
		t.Error("rejection not logged")
	}
	if h.stats.commandsRejected.Load() != 1 {
		t.Errorf("rejected = %d, want 1", h.stats.commandsRejected.Load())
	}
}

func TestCommandHandler_WriteFailureLogged(t *testing.T) {
	rec := &recordingTelemetry{}
	logger := &testLogger{}
	h := NewCommandHandler(NewGate(failingWriter{}, time.Second), testTopics, logger)
	h.telemetry = rec

	h.HandleMessage(context.Background(), "modbus/set/1/6/1", []byte("1"))

	if !logger.has("error: command write failed") {
		t.Error("write failure not logged")
	}
	if h.stats.writeFailures.Load() != 1 {
		t.Errorf("write failures = %d, want 1", h.stats.writeFailures.Load())
	}
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrTransport) {
		t.Errorf("telemetry errors = %v", rec.errs)
	}
}

type failingWriter struct{ shortReadTransport }

func (failingWriter) Write(context.Context, int, int, int, int64) error {
	return ErrTransport
}

func TestCommandHandler_Execute(t *testing.T) {
	transport := newMemTransport()
	h := NewCommandHandler(NewGate(transport, time.Second), testTopics, nil)

	cmd := Command{SlaveID: 9, FunctionCode: FuncWriteSingleRegister, Address: 40, Value: 1234}
	if err := h.Execute(context.Background(), cmd); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := transport.get(9, FuncReadHoldingRegisters, 40); got != 1234 {
		t.Errorf("register = %d, want 1234", got)
	}
	if h.stats.writes.Load() != 1 {
		t.Errorf("writes = %d, want 1", h.stats.writes.Load())
	}
}
