// Package config loads the energy meter's YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

const (
	// DefaultPath is where the configuration lives unless a flag says otherwise.
	DefaultPath = "~/.energymeter/config.yaml"

	DefaultAddress      = 0x38
	DefaultFrequency    = 50
	DefaultPollInterval = 10 * time.Millisecond
	DefaultUpdateCron   = "@every 60s"
	DefaultHTTPPort     = 8080
	DefaultStatusTTL    = 10 * time.Minute
	DefaultTopicPrefix  = "energy"
	DefaultStoreDir     = "~/.energymeter/mqtt_store"
	DefaultFormat       = "json"
	DefaultTokenEnv     = "INFLUXDB_TOKEN"
)

type Config struct {
	DeviceID  string         `yaml:"device_id"`
	I2C       I2CConfig      `yaml:"i2c"`
	Pins      PinsConfig     `yaml:"pins"`
	Frequency float64        `yaml:"frequency"`
	Phases    PhasesConfig   `yaml:"phases"`
	Neutral   *NeutralConfig `yaml:"neutral"`

	PollInterval time.Duration `yaml:"poll_interval"`
	UpdateCron   string        `yaml:"update_cron"`
	HTTPPort     int           `yaml:"http_port"`
	StatusTTL    time.Duration `yaml:"status_ttl"`

	MQTT     *MQTTConfig     `yaml:"mqtt"`
	InfluxDB *InfluxDBConfig `yaml:"influxdb"`
	PubSub   *PubSubConfig   `yaml:"pubsub"`
}

// ---- HARDWARE ----

type I2CConfig struct {
	// Bus is a periph bus name; empty selects the default bus.
	Bus     string `yaml:"bus"`
	Address uint16 `yaml:"address"`
	// Speed is a frequency such as "400kHz"; empty keeps the bus default.
	Speed   string `yaml:"speed"`
}

// BusSpeed parses Speed. It is zero when no speed is configured.
func (c I2CConfig) BusSpeed() (physic.Frequency, error) {
	var f physic.Frequency
	if c.Speed == "" {
		return 0, nil
	}
	if err := f.Set(c.Speed); err != nil {
		return 0, fmt.Errorf("i2c speed %q: %w", c.Speed, err)
	}
	return f, nil
}

type PinsConfig struct {
	IRQ0  string `yaml:"irq0"`
	IRQ1  string `yaml:"irq1"`
	Reset string `yaml:"reset"`
}

type PhasesConfig struct {
	A *PhaseConfig `yaml:"a"`
	B *PhaseConfig `yaml:"b"`
	C *PhaseConfig `yaml:"c"`
}

// PhaseConfig carries the calibration of one phase. Values are the signed
// register contents and may be written in hex.
type PhaseConfig struct {
	VoltageGain    int32 `yaml:"voltage_gain"`
	CurrentGain    int32 `yaml:"current_gain"`
	PowerGain      int32 `yaml:"power_gain"`
	PhaseAngle     int32 `yaml:"phase_angle"`
	TotalPowerGain int32 `yaml:"total_power_gain"`
}

type NeutralConfig struct {
	CurrentGain int32 `yaml:"current_gain"`
}

// ---- SINKS ----

type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"client_id"`
	TopicPrefix   string `yaml:"topic_prefix"`
	StoreDir      string `yaml:"store_dir"`
	Format        string `yaml:"format"`
	// AWSDeviceFile selects AWS IoT Core instead of Broker.
	AWSDeviceFile string `yaml:"aws_device_file"`
}

type InfluxDBConfig struct {
	URL      string `yaml:"url"`
	TokenEnv string `yaml:"token_env"`
	Org      string `yaml:"org"`
	Bucket   string `yaml:"bucket"`
}

type PubSubConfig struct {
	Project         string `yaml:"project"`
	Topic           string `yaml:"topic"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Load reads the configuration at path, which may start with "~", and fills
// in defaults. Unknown keys are an error. The result is not validated.
func Load(path string) (*Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	b, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return Parse(b)
}

// Parse decodes a YAML document and fills in defaults.
func Parse(b []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills in defaults and expands paths.
func Normalize(cfg *Config) error {
	if cfg.I2C.Address == 0 {
		cfg.I2C.Address = DefaultAddress
	}
	if cfg.Frequency == 0 {
		cfg.Frequency = DefaultFrequency
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.UpdateCron == "" {
		cfg.UpdateCron = DefaultUpdateCron
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = DefaultHTTPPort
	}
	if cfg.StatusTTL == 0 {
		cfg.StatusTTL = DefaultStatusTTL
	}

	if m := cfg.MQTT; m != nil {
		if m.TopicPrefix == "" {
			m.TopicPrefix = DefaultTopicPrefix
		}
		if m.Format == "" {
			m.Format = DefaultFormat
		}
		if m.ClientID == "" {
			m.ClientID = cfg.DeviceID
		}
		if m.StoreDir == "" {
			m.StoreDir = DefaultStoreDir
		}
		dir, err := homedir.Expand(m.StoreDir)
		if err != nil {
			return fmt.Errorf("config: mqtt store_dir: %w", err)
		}
		m.StoreDir = dir
	}

	if db := cfg.InfluxDB; db != nil && db.TokenEnv == "" {
		db.TokenEnv = DefaultTokenEnv
	}

	return nil
}
