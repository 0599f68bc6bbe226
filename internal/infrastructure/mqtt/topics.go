package mqtt

import (
	"fmt"
	"strings"
)

// Availability payloads.
const (
	PayloadOnline  = "Online"
	PayloadOffline = "Offline"
)

// Function codes accepted on the command topics.
const (
	writeSingleCoil     = 5
	writeSingleRegister = 6
)

// Availability describes the liveness topic and its payloads.
type Availability struct {
	Topic   string
	Online  string
	Offline string
}

// Topics builds the bridge's MQTT topics under a common prefix.
//
// The prefix is used verbatim, so it normally ends in "/":
//
//	topics := mqtt.Topics{Prefix: "modbus/"}
//	topics.Value("boiler/temp")  // "modbus/boiler/temp"
//	topics.Connected()           // "modbus/connected"
type Topics struct {
	Prefix string
}

// Value returns the state topic for a register.
//
// Example: modbus/boiler/temp
func (t Topics) Value(registerTopic string) string {
	return t.Prefix + registerTopic
}

// Aggregate returns the topic carrying the per-sweep JSON object of changes.
//
// Example: modbus/SENSOR
func (t Topics) Aggregate() string {
	return t.Prefix + "SENSOR"
}

// Connected returns the liveness topic.
//
// Example: modbus/connected
func (t Topics) Connected() string {
	return t.Prefix + "connected"
}

// Availability returns the liveness topic with the Online/Offline payloads.
func (t Topics) Availability() Availability {
	return Availability{
		Topic:   t.Connected(),
		Online:  PayloadOnline,
		Offline: PayloadOffline,
	}
}

// Command returns the command topic for one write target.
//
// Example: modbus/set/3/6/100
func (t Topics) Command(slave, functionCode, address int) string {
	return fmt.Sprintf("%sset/%d/%d/%d", t.Prefix, slave, functionCode, address)
}

// CommandPattern returns the subscription pattern for one write function code.
//
// Pattern: modbus/set/+/6/+
func (t Topics) CommandPattern(functionCode int) string {
	return fmt.Sprintf("%sset/+/%d/+", t.Prefix, functionCode)
}

// CommandPatterns returns the subscription patterns for register and coil writes.
func (t Topics) CommandPatterns() []string {
	return []string{
		t.CommandPattern(writeSingleRegister),
		t.CommandPattern(writeSingleCoil),
	}
}

// TrimPrefix strips the prefix from an inbound topic. ok is false when the
// topic does not start with the prefix.
func (t Topics) TrimPrefix(topic string) (rest string, ok bool) {
	if !strings.HasPrefix(topic, t.Prefix) {
		return "", false
	}
	return topic[len(t.Prefix):], true
}

// HomeAssistantConfig returns the discovery config topic for one register.
// Slashes in the register topic are flattened so the object id stays one level.
//
// Example: homeassistant/sensor/modbus2mqtt/boiler_temp/config
func HomeAssistantConfig(discoveryPrefix, nodeID, registerTopic string) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", discoveryPrefix, nodeID, ObjectID(registerTopic))
}

// ObjectID flattens a register topic into a single MQTT topic level.
func ObjectID(registerTopic string) string {
	return strings.NewReplacer("/", "_", " ", "_", "+", "_", "#", "_").Replace(registerTopic)
}
