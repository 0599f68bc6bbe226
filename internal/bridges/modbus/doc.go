// Package modbus implements the Modbus to MQTT bridge.
//
// It polls a table of Modbus registers and coils, publishes decoded values to
// MQTT when they change, and turns MQTT set commands into Modbus writes.
//
// # Architecture
//
//	┌──────────────┐          ┌──────────────────────┐          ┌───────────┐
//	│ MQTT broker  │   MQTT   │  Bridge (this pkg)   │  RTU/TCP │  Modbus   │
//	│              │◄────────►│ Scheduler  Commands  │◄────────►│  slaves   │
//	└──────────────┘          │        Gate          │          └───────────┘
//	                          └──────────────────────┘
//
// The Scheduler and the CommandHandler never touch the Transport directly:
// every read and write goes through a Gate, which grants the bus to one
// operation at a time in arrival order and bounds both the wait and the call
// by a timeout.
//
// # Register table
//
// Registers are loaded from CSV with LoadTable. Column names are matched
// case-insensitively:
//
//	Topic,Register,Size,DataFormat,Multiplier,OutputFormat,Frequency,Slave,FunctionCode
//	DEFAULT,,,,,,30,1,3
//	boiler/temp,0x10,1,>h,0.1,{:.1f},,,
//	boiler/pump,5,1,>H,1,,10,,1
//
// A DEFAULT row fills cells left empty in the rows after it, until the next
// DEFAULT row. Integer cells are decimal or 0x hex. Rows whose topic is
// empty or starts with '#' are ignored.
//
// # Topics
//
//	<prefix><topic>                    decoded value
//	<prefix>SENSOR                     JSON object of values changed in a sweep
//	<prefix>connected                  Online / Offline (retained, last will)
//	<prefix>set/<slave>/<fc>/<address> write command, fc 5 (coil) or 6 (register)
//
// # Thread Safety
//
// Register poll state is owned by the scheduler goroutine. Commands arrive on
// MQTT client goroutines and share only the Gate with the poll loop.
package modbus
