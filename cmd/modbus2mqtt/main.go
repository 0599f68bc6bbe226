// modbus2mqtt bridges a Modbus RTU or TCP bus to an MQTT broker.
//
// Registers listed in a CSV table are polled at their own frequency and
// published when their value changes. Holding registers and coils can be
// written by publishing to <prefix>set/<slave>/<fc>/<address>.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/nerrad567/modbus2mqtt/internal/api"
	"github.com/nerrad567/modbus2mqtt/internal/bridges/modbus"
	"github.com/nerrad567/modbus2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/modbus2mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/modbus2mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/modbus2mqtt/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// options are the command line flags.
type options struct {
	Config  string `short:"c" long:"config" env:"MODBUS2MQTT_CONFIG" description:"Path to the YAML configuration file"`
	Verbose bool   `short:"v" long:"verbose" description:"Enable debug logging"`
	Version bool   `long:"version" description:"Print version and exit"`
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.Version {
		fmt.Printf("modbus2mqtt %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseOptions parses the command line. The config path falls back to
// MODBUS2MQTT_CONFIG and then to defaultConfigPath.
func parseOptions(args []string) (options, error) {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return opts, err
	}
	if opts.Config == "" {
		opts.Config = defaultConfigPath
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled, then tears everything down in reverse
// order of construction.
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting modbus2mqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", opts.Config,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	table, err := modbus.LoadTable(cfg.Bridge.RegistersFile)
	if err != nil {
		return fmt.Errorf("loading register table: %w", err)
	}
	log.Info("register table loaded",
		"path", cfg.Bridge.RegistersFile,
		"registers", table.Len(),
	)

	bus, err := modbus.NewModbusClient(clientConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("creating modbus client: %w", err)
	}
	defer func() {
		log.Info("closing modbus connection")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing modbus connection", "error", closeErr)
		}
	}()
	// A bus that is down at startup is not fatal: every request reconnects.
	if connErr := bus.Connect(); connErr != nil {
		log.Warn("modbus not reachable yet", "mode", cfg.Modbus.Mode, "error", connErr)
	} else {
		log.Info("modbus connected", "mode", cfg.Modbus.Mode)
	}

	topics := mqtt.Topics{Prefix: cfg.Bridge.TopicPrefix}
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics.Availability())
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
		"client_id", mqttClient.ClientID(),
	)

	var telemetry modbus.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = &telemetryAdapter{client: influxClient}
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	bridge, err := modbus.NewBridge(modbus.BridgeOptions{
		Table:         table,
		MQTTClient:    &mqttBridgeAdapter{client: mqttClient},
		Transport:     bus,
		TopicPrefix:   cfg.Bridge.TopicPrefix,
		QoS:           byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2 by config
		Retain:        cfg.Bridge.Retain,
		AggregateJSON: cfg.Bridge.AggregateJSON,
		Timeout:       cfg.GetModbusTimeout(),
		Domoticz: modbus.DomoticzOptions{
			Enabled: cfg.Bridge.Domoticz.Enabled,
			Topic:   cfg.Bridge.Domoticz.Topic,
		},
		Logger:    log,
		Telemetry: telemetry,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	if err := mqttClient.MarkOnline(); err != nil {
		log.Warn("failed to publish availability", "topic", topics.Connected(), "error", err)
	}

	if cfg.Bridge.HomeAssistant.Enabled {
		if err := bridge.PublishDiscovery(modbus.DiscoveryOptions{
			Prefix:  cfg.Bridge.HomeAssistant.DiscoveryPrefix,
			NodeID:  cfg.Bridge.HomeAssistant.NodeID,
			Version: version,
		}); err != nil {
			log.Warn("home assistant discovery failed", "error", err)
		}
	}

	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Bridge:  bridge,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("bridge running, waiting for shutdown signal",
		"topic_prefix", cfg.Bridge.TopicPrefix,
		"registers", table.Len(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// clientConfig maps the modbus section of the configuration onto the
// transport's parameters.
func clientConfig(cfg *config.Config) modbus.ClientConfig {
	return modbus.ClientConfig{
		Mode:        cfg.Modbus.Mode,
		Address:     net.JoinHostPort(cfg.Modbus.TCP.Host, strconv.Itoa(cfg.Modbus.TCP.Port)),
		Device:      cfg.Modbus.RTU.Device,
		BaudRate:    cfg.Modbus.RTU.BaudRate,
		DataBits:    cfg.Modbus.RTU.DataBits,
		Parity:      cfg.Modbus.RTU.Parity,
		StopBits:    cfg.Modbus.RTU.StopBits,
		Timeout:     cfg.GetModbusTimeout(),
		IdleTimeout: cfg.GetModbusIdleTimeout(),
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The bridge's handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements modbus.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements modbus.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements modbus.MQTTClient.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements modbus.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// telemetryWriter is the part of *influxdb.Client the bridge telemetry uses.
type telemetryWriter interface {
	WriteSweep(due, read, failed, changed int, duration time.Duration)
	WriteCommand(slave, functionCode, address int, success bool)
}

// telemetryAdapter forwards bridge statistics to InfluxDB.
type telemetryAdapter struct {
	client telemetryWriter
}

// RecordSweep implements modbus.Telemetry.
func (t *telemetryAdapter) RecordSweep(res modbus.SweepResult) {
	t.client.WriteSweep(res.Due, res.Read, res.Failed, res.Changed, res.Duration)
}

// RecordCommand implements modbus.Telemetry.
func (t *telemetryAdapter) RecordCommand(cmd modbus.Command, err error) {
	t.client.WriteCommand(cmd.SlaveID, cmd.FunctionCode, cmd.Address, err == nil)
}
