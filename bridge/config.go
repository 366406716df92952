// Package bridge exposes IOT Agua heating devices over MQTT with Home
// Assistant discovery, so a broker-connected home automation platform can
// read telemetry and send climate commands without speaking the vendor
// protocol.
package bridge

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the bridge configuration, loaded from a YAML file with a few
// environment overrides for secrets.
type Config struct {
	Agua    AguaConfig    `yaml:"agua"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type AguaConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	// APIURL overrides the production platform URL, mainly for testing
	// against a local stub.
	APIURL       string `yaml:"api_url"`
	PollInterval string `yaml:"poll_interval"`
}

type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id"`
	QoS             int    `yaml:"qos"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

const defaultPollInterval = time.Minute

// PollDuration returns the parsed poll interval, falling back to the
// default when the field is empty.
func (c AguaConfig) PollDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return defaultPollInterval
	}
	return d
}

// Load reads and validates the bridge configuration. AGUA_EMAIL,
// AGUA_PASSWORD and MQTT_PASSWORD override the file so secrets can stay
// out of it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if v := os.Getenv("AGUA_EMAIL"); v != "" {
		cfg.Agua.Email = v
	}
	if v := os.Getenv("AGUA_PASSWORD"); v != "" {
		cfg.Agua.Password = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Agua.PollInterval == "" {
		c.Agua.PollInterval = defaultPollInterval.String()
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "agua2mqtt"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "agua2mqtt"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9143"
	}
}

func (c *Config) validate() error {
	if c.Agua.Email == "" {
		return fmt.Errorf("agua.email is required")
	}
	if c.Agua.Password == "" {
		return fmt.Errorf("agua.password is required")
	}
	if _, err := time.ParseDuration(c.Agua.PollInterval); err != nil {
		return fmt.Errorf("agua.poll_interval %q is not a duration: %w", c.Agua.PollInterval, err)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		return fmt.Errorf("mqtt.topic_prefix must not contain wildcards")
	}
	return nil
}

// LoadInstanceID returns the persisted client installation id, generating
// and saving a fresh one on first run. The platform tracks installations
// by this id, so it must survive restarts.
func LoadInstanceID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading instance id: %w", err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persisting instance id: %w", err)
	}
	return id, nil
}
