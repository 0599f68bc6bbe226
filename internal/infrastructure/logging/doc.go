// Package logging provides structured logging for modbus2mqtt.
//
// This package wraps Go's standard log/slog package so that every component
// (bus transport, poll loop, command handler, MQTT client) logs with the same
// default fields and level.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// The --verbose command line flag raises the level to debug at runtime.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("register read", "topic", "boiler/temp", "slave", 3)
//	logger.Error("write failed", "error", err)
//
// Never log broker passwords or API tokens.
package logging
