package modbus

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/modbus2mqtt/internal/infrastructure/mqtt"
)

// discoveryManufacturer names the Home Assistant device publishing the sensors.
const discoveryManufacturer = "modbus2mqtt"

// DiscoveryOptions configures Home Assistant discovery.
type DiscoveryOptions struct {
	Prefix  string // e.g. "homeassistant"
	NodeID  string // e.g. "modbus2mqtt"
	Version string
}

// DiscoveryConfigs builds one discovery payload per register, keyed by
// config topic.
func (b *Bridge) DiscoveryConfigs(opts DiscoveryOptions) map[string]DiscoveryConfig {
	avail := b.topics.Availability()
	device := DiscoveryDevice{
		Identifiers:  []string{opts.NodeID},
		Name:         opts.NodeID,
		Manufacturer: discoveryManufacturer,
		SWVersion:    opts.Version,
	}

	out := make(map[string]DiscoveryConfig, b.table.Len())
	for _, reg := range b.table.Registers() {
		topic := mqtt.HomeAssistantConfig(opts.Prefix, opts.NodeID, reg.Topic)
		out[topic] = DiscoveryConfig{
			Name:              reg.Topic,
			UniqueID:          opts.NodeID + "_" + mqtt.ObjectID(reg.Topic),
			StateTopic:        b.topics.Value(reg.Topic),
			UnitOfMeasurement: reg.Unit,
			Icon:              mdiIcon(reg.Icon),
			AvailabilityTopic: avail.Topic,
			PayloadAvailable:  avail.Online,
			PayloadNotAvail:   avail.Offline,
			Device:            device,
		}
	}
	return out
}

// PublishDiscovery publishes retained Home Assistant discovery configs for
// every register. It stops at the first publish failure.
func (b *Bridge) PublishDiscovery(opts DiscoveryOptions) error {
	if opts.Prefix == "" || opts.NodeID == "" {
		return fmt.Errorf("%w: discovery prefix and node id are required", ErrConfig)
	}

	configs := b.DiscoveryConfigs(opts)
	for topic, cfg := range configs {
		payload, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal discovery config %s: %w", topic, err)
		}
		if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
			return fmt.Errorf("publish discovery config %s: %w", topic, err)
		}
	}

	b.logger.Info("published home assistant discovery",
		"prefix", opts.Prefix,
		"node_id", opts.NodeID,
		"sensors", len(configs))
	return nil
}
