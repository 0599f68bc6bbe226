package modbus

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DiscoveryConfig is the Home Assistant MQTT discovery payload for one register.
// Topic: <discovery_prefix>/sensor/<node_id>/<object_id>/config
type DiscoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	Icon              string          `json:"icon,omitempty"`
	AvailabilityTopic string          `json:"availability_topic"`
	PayloadAvailable  string          `json:"payload_available"`
	PayloadNotAvail   string          `json:"payload_not_available"`
	Device            DiscoveryDevice `json:"device"`
}

// DiscoveryDevice groups all registers under one Home Assistant device.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DomoticzMessage is the Domoticz MQTT input payload.
// Topic: domoticz/in (configurable)
type DomoticzMessage struct {
	Idx    int    `json:"idx"`
	NValue int    `json:"nvalue"`
	SValue string `json:"svalue"`
}

// NewDomoticzMessage builds the update for one changed value.
func NewDomoticzMessage(idx int, value string) DomoticzMessage {
	return DomoticzMessage{Idx: idx, SValue: value}
}

// Bytes returns the JSON encoding of the message.
func (m DomoticzMessage) Bytes() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal domoticz message: %w", err)
	}
	return data, nil
}

// mdiIcon normalises an icon column value: bare names get the "mdi:" set.
func mdiIcon(icon string) string {
	if icon == "" || strings.Contains(icon, ":") {
		return icon
	}
	return "mdi:" + icon
}
