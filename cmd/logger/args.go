package main

import (
	"time"

	"github.com/fako1024/perchscale/pkg/config"
)

// Args denotes the command line arguments. Pointer fields are only applied
// if given, so that they override the configuration file
type Args struct {
	Config string `arg:"-c,--config" help:"YAML configuration file"`

	Discover bool    `arg:"--discover" help:"force rediscovery of the scale"`
	Name     *string `arg:"--name" help:"advertised name (fragment) of the scale"`
	Address  *string `arg:"--addr" help:"address of the scale, skips discovery"`
	Simulate bool    `arg:"--simulate" help:"use the simulator instead of real hardware"`
	Scenario *string `arg:"--scenario" help:"simulation scenario (random, quick_visits, long_visit, frequent_tare, flaky_link)"`

	LogFile        *string        `arg:"--log-file" help:"CSV file to log events to [default: bird_weights.csv]"`
	Interval       *time.Duration `arg:"--interval" help:"polling interval [default: 1.5s]"`
	MinWeight      *float64       `arg:"--min-weight" help:"minimum weight of a visitor in grams [default: 20]"`
	MaxWeight      *float64       `arg:"--max-weight" help:"maximum weight of a visitor in grams [default: 60]"`
	ConnectTimeout *time.Duration `arg:"--connect-timeout" help:"bound for a single connection attempt, 0 to wait forever [default: 30s]"`

	BatteryThreshold     *float64       `arg:"--battery-threshold" help:"battery percentage threshold for alerts [default: 20]"`
	BatteryHysteresis    *float64       `arg:"--battery-hysteresis" help:"margin above the threshold to re-arm the alert [default: 5]"`
	BatteryCheckInterval *time.Duration `arg:"--battery-check-interval" help:"battery check interval [default: 5m]"`
	AlertEmail           *string        `arg:"--alert-email" help:"address to receive battery alerts (overrides ALERT_EMAIL)"`
	DisableBatteryAlerts bool           `arg:"--disable-battery-alerts" help:"do not send battery alerts"`

	HTTP        *string `arg:"--http" help:"listen address of the status API, e.g. :8080"`
	MQTTBroker  *string `arg:"--mqtt-broker" help:"MQTT broker to mirror events to, e.g. tcp://localhost:1883"`
	PostgresURL *string `arg:"--postgres-url" help:"PostgreSQL database to mirror events to"`
	LEDPin      *int    `arg:"--led-pin" help:"GPIO line of an occupancy LED"`

	Debug bool `arg:"-d,--debug" help:"enable debug logging"`
}

var version = "<not set>"

// Version returns the version string shown by --version
func (Args) Version() string {
	return "perchscale logger " + version
}

// Description returns the description shown by --help
func (Args) Description() string {
	return "Monitors a bluetooth scale and logs every visit to a CSV file"
}

func (a Args) apply(cfg *config.Config) {
	if a.Name != nil {
		cfg.Device.Name = *a.Name
	}
	if a.Address != nil {
		cfg.Device.Address = *a.Address
	}
	if a.Simulate {
		cfg.Device.Simulate = true
	}
	if a.Scenario != nil {
		cfg.Device.Scenario = *a.Scenario
	}
	if a.ConnectTimeout != nil {
		cfg.Device.ConnectTimeout = *a.ConnectTimeout
	}

	if a.LogFile != nil {
		cfg.Output.LogFile = *a.LogFile
	}
	if a.Interval != nil {
		cfg.Monitor.PollInterval = *a.Interval
	}
	if a.MinWeight != nil {
		cfg.Monitor.Bounds.Min = *a.MinWeight
	}
	if a.MaxWeight != nil {
		cfg.Monitor.Bounds.Max = *a.MaxWeight
	}

	if a.BatteryThreshold != nil {
		cfg.Battery.Threshold = *a.BatteryThreshold
	}
	if a.BatteryHysteresis != nil {
		cfg.Battery.Hysteresis = *a.BatteryHysteresis
	}
	if a.BatteryCheckInterval != nil {
		cfg.Battery.Interval = *a.BatteryCheckInterval
	}
	if a.AlertEmail != nil {
		cfg.Alerts.Recipient = *a.AlertEmail
	}
	if a.DisableBatteryAlerts {
		cfg.Alerts.Disabled = true
	}

	if a.HTTP != nil {
		cfg.HTTP = *a.HTTP
	}
	if a.MQTTBroker != nil {
		cfg.Output.MQTT.Broker = *a.MQTTBroker
	}
	if a.PostgresURL != nil {
		cfg.Output.PostgresURL = *a.PostgresURL
	}
	if a.LEDPin != nil {
		cfg.LED.Pin = *a.LEDPin
	}
	if a.Debug {
		cfg.Debug = true
	}
}
