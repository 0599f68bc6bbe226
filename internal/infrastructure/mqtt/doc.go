// Package mqtt provides the MQTT client used by modbus2mqtt.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS validation
//   - Topic subscriptions, restored after every reconnect
//   - Availability reporting: "<prefix>connected" carries "Online" while the
//     bridge runs and "Offline" (Last Will, QoS 2, retained) otherwise
//   - Topic builders for register values, the aggregate SENSOR topic and
//     the command topics
//
// # Topic layout
//
//	<prefix><register topic>            formatted register value
//	<prefix>SENSOR                      JSON object of values changed in a sweep
//	<prefix>connected                   Online / Offline
//	<prefix>set/<slave>/<fc>/<address>  inbound write commands (fc 5 or 6)
//
// # Usage
//
//	topics := mqtt.Topics{Prefix: "modbus/"}
//	client, err := mqtt.Connect(cfg.MQTT, topics.Availability())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// ... start polling and subscribe to commands ...
//	client.MarkOnline()
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on the local host
//   - Credentials are validated against the broker ACL; restrict the set/#
//     subtree, since it writes to field devices
package mqtt
