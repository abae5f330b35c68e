// Package config holds the monitor configuration, loaded from defaults, an
// optional YAML file and the environment (in that order of precedence).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fako1024/perchscale/pkg/eventlog"
	"github.com/fako1024/perchscale/pkg/health"
	"github.com/fako1024/perchscale/pkg/indicator"
	"github.com/fako1024/perchscale/pkg/monitor"
	"github.com/fako1024/perchscale/pkg/notify"
	"github.com/fako1024/perchscale/pkg/presence"
	"github.com/fako1024/perchscale/pkg/reconnect"
	"github.com/fako1024/perchscale/pkg/simulator"
	"gopkg.in/yaml.v3"
)

const (

	// DefaultLogFile denotes the default event log location
	DefaultLogFile = "bird_weights.csv"

	// DefaultConnectTimeout denotes the default bound of a single connection attempt
	DefaultConnectTimeout = 30 * time.Second

	// DefaultMinWeight denotes the default lower occupancy bound in grams
	DefaultMinWeight = 20.

	// DefaultMaxWeight denotes the default upper occupancy bound in grams
	DefaultMaxWeight = 60.

	envRecipient    = "ALERT_EMAIL"
	envSMTPPassword = "SMTP_PASSWORD"
)

// Device denotes the device selection
type Device struct {
	Name           string        `yaml:"name"`
	Address        string        `yaml:"address"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Simulate       bool          `yaml:"simulate"`
	Scenario       string        `yaml:"scenario"`
}

// Monitor denotes the sampling settings
type Monitor struct {
	PollInterval time.Duration   `yaml:"poll_interval"`
	Bounds       presence.Bounds `yaml:"bounds"`
}

// Reconnect denotes the backoff settings
type Reconnect struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// Alerts denotes the low-battery notification settings
type Alerts struct {
	Disabled   bool              `yaml:"disabled"`
	Recipient  string            `yaml:"recipient"`
	Template   string            `yaml:"template"`
	WebhookURL string            `yaml:"webhook_url"`
	SMTP       notify.MailConfig `yaml:"smtp"`
}

// MQTT denotes the broker events are mirrored to
type MQTT struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

// Output denotes the event log destinations
type Output struct {
	LogFile     string `yaml:"log_file"`
	MQTT        MQTT   `yaml:"mqtt"`
	PostgresURL string `yaml:"postgres_url"`
}

// LED denotes the occupancy indicator (a negative pin disables it)
type LED struct {
	Chip string `yaml:"chip"`
	Pin  int    `yaml:"pin"`
}

// Config denotes the complete monitor configuration
type Config struct {
	Device    Device        `yaml:"device"`
	Monitor   Monitor       `yaml:"monitor"`
	Battery   health.Config `yaml:"battery"`
	Reconnect Reconnect     `yaml:"reconnect"`
	Alerts    Alerts        `yaml:"alerts"`
	Output    Output        `yaml:"output"`
	LED       LED           `yaml:"led"`
	HTTP      string        `yaml:"http"`
	Debug     bool          `yaml:"debug"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Device: Device{
			ConnectTimeout: DefaultConnectTimeout,
			Scenario:       string(simulator.Random),
		},
		Monitor: Monitor{
			PollInterval: monitor.DefaultPollInterval,
			Bounds: presence.Bounds{
				Min: DefaultMinWeight,
				Max: DefaultMaxWeight,
			},
		},
		Battery: health.Config{
			Threshold:  health.DefaultThreshold,
			Hysteresis: health.DefaultHysteresis,
			Interval:   health.DefaultInterval,
		},
		Reconnect: Reconnect{
			BaseDelay: reconnect.DefaultBaseDelay,
			MaxDelay:  reconnect.DefaultMaxDelay,
		},
		Alerts: Alerts{
			SMTP: notify.MailConfig{
				Port: 587,
			},
		},
		Output: Output{
			LogFile: DefaultLogFile,
			MQTT: MQTT{
				Topic: eventlog.DefaultTopic,
			},
		},
		LED: LED{
			Chip: indicator.DefaultChip,
			Pin:  -1,
		},
	}
}

// Load returns the default configuration overridden by the YAML file at path
// (if non-empty) and the environment
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()

	return cfg, nil
}

// ApplyEnv fills the alert recipient (if unset) and the SMTP password from the environment
func (c *Config) ApplyEnv() {
	if c.Alerts.Recipient == "" {
		c.Alerts.Recipient = os.Getenv(envRecipient)
	}
	if password := os.Getenv(envSMTPPassword); password != "" {
		c.Alerts.SMTP.Password = password
	}
}

// Validate checks the configuration for consistency
func (c Config) Validate() error {
	if err := c.Monitor.Bounds.Validate(); err != nil {
		return err
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.Monitor.PollInterval)
	}
	if err := c.Battery.Validate(); err != nil {
		return err
	}
	if c.Reconnect.BaseDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("invalid reconnect delays [%v, %v]", c.Reconnect.BaseDelay, c.Reconnect.MaxDelay)
	}
	if c.Device.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout must not be negative, got %v", c.Device.ConnectTimeout)
	}
	if c.Device.Simulate {
		if _, err := simulator.ParseScenario(c.Device.Scenario); err != nil {
			return err
		}
	}
	if c.Output.LogFile == "" {
		return errors.New("event log file not configured")
	}
	if c.Output.MQTT.Broker != "" && c.Output.MQTT.Topic == "" {
		return errors.New("mqtt topic must not be empty")
	}

	return c.Alerts.validate()
}

// AlertsEnabled returns if low-battery notifications should be dispatched
func (c Config) AlertsEnabled() bool {
	return !c.Alerts.Disabled && (c.Alerts.WebhookURL != "" || c.Alerts.Recipient != "")
}

func (a Alerts) validate() error {
	if a.Disabled {
		return nil
	}
	if a.Recipient != "" && a.WebhookURL == "" {
		if err := a.SMTP.Validate(); err != nil {
			return fmt.Errorf("alert recipient %s configured but mail delivery is incomplete: %w", a.Recipient, err)
		}
	}
	return nil
}
