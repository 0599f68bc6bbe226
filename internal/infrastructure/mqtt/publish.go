package mqtt

import (
	"fmt"
	"strings"
)

// maxPayloadSize caps a single message at 1MB, in line with typical broker limits.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to acknowledge it
// (for QoS 1 and 2) or for paho to hand it to the network (QoS 0).
//
// Register topics come from a user-edited table, so the topic is checked for
// wildcards before anything is sent:
//
//	topic := mqtt.Topics{Prefix: "modbus/"}.Value("boiler/temp")
//	err := client.Publish(topic, []byte("21.5"), 0, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %s: payload size %d exceeds maximum %d bytes",
			ErrPublishFailed, topic, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	return nil
}

// validatePublishTopic rejects empty topics and topics carrying wildcard or
// NUL characters, which brokers refuse on PUBLISH.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if i := strings.IndexAny(topic, "+#\x00"); i >= 0 {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidTopic, topic, topic[i])
	}
	return nil
}
