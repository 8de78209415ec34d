// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage      StorageConfig      `yaml:"storage"`
	Sensors      SensorsConfig      `yaml:"sensors"`
	GPS          GPSConfig          `yaml:"gps"`
	Feed         FeedConfig         `yaml:"feed"`
	Sim          SimConfig          `yaml:"sim"`
	ReplaySource ReplaySourceConfig `yaml:"replay_source"`
	Display      DisplayConfig      `yaml:"display"`
	Web          WebConfig          `yaml:"web"`
	Button       ButtonConfig       `yaml:"button"`
}

type StorageConfig struct {
	Dir string `yaml:"dir"`
	// Catalog is the SQLite session index. Empty disables it.
	Catalog       string        `yaml:"catalog"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// StartInactive keeps sources unsubscribed until asked for.
	StartInactive bool `yaml:"start_inactive"`
	// RecordOnStart begins a session as soon as the daemon is up.
	RecordOnStart bool `yaml:"record_on_start"`
}

type SensorsConfig struct {
	Enable       bool    `yaml:"enable"`
	I2CBus       int     `yaml:"i2c_bus"`
	BaroAddr     uint16  `yaml:"baro_addr"`
	IMUEnable    bool    `yaml:"imu_enable"`
	IMUAddr      uint16  `yaml:"imu_addr"`
	BaroRateHz   int     `yaml:"baro_rate_hz"`
	IMURateHz    int     `yaml:"imu_rate_hz"`
	GravityAlpha float64 `yaml:"gravity_alpha"`
}

type GPSConfig struct {
	Enable bool `yaml:"enable"`
	// Source is "nmea" (serial receiver) or "gpsd".
	Source   string `yaml:"source"`
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud"`
	GPSDAddr string `yaml:"gpsd_addr"`
}

type FeedConfig struct {
	Enable         bool          `yaml:"enable"`
	Addr           string        `yaml:"addr"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// Pressure forwards the companion's barometer. It counts as a pressure
	// producer.
	Pressure       bool          `yaml:"pressure"`
}

type SimConfig struct {
	Enable bool `yaml:"enable"`
	// Script is an optional keyframed scenario; without it the procedural
	// thermal flight is used.
	Script       string  `yaml:"script"`
	CenterLatDeg float64 `yaml:"center_lat_deg"`
	CenterLonDeg float64 `yaml:"center_lon_deg"`
	BaseAltM     float64 `yaml:"base_alt_m"`
	TickHz       int     `yaml:"tick_hz"`
	FixEvery     int     `yaml:"fix_every"`
	SeaLevelHPa  float64 `yaml:"sea_level_hpa"`
	NoiseHPa     float64 `yaml:"noise_hpa"`
	Seed         uint64  `yaml:"seed"`
}

type ReplaySourceConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

type DisplayConfig struct {
	UDP  UDPConfig  `yaml:"udp"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type MQTTConfig struct {
	Enable      bool          `yaml:"enable"`
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Prefix      string        `yaml:"prefix"`
	QoS         byte          `yaml:"qos"`
	MinInterval time.Duration `yaml:"min_interval"`
}

type WebConfig struct {
	Enable   bool   `yaml:"enable"`
	Listen   string `yaml:"listen"`
	LogLines int    `yaml:"log_lines"`
	// SeaLevelHPa is the QNH for the reported pressure altitude.
	SeaLevelHPa float64 `yaml:"sea_level_hpa"`
}

type ButtonConfig struct {
	Enable   bool          `yaml:"enable"`
	Pin      int           `yaml:"pin"`
	Debounce time.Duration `yaml:"debounce"`
	HoldOff  time.Duration `yaml:"hold_off"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if strings.TrimSpace(cfg.Storage.Dir) == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if cfg.Storage.FlushInterval <= 0 {
		cfg.Storage.FlushInterval = 2 * time.Second
	}

	// Pressure producers are exclusive: two of them would interleave
	// unrelated readings into one estimate.
	var pressure []string
	if cfg.Sensors.Enable {
		pressure = append(pressure, "sensors")
	}
	if cfg.Sim.Enable {
		pressure = append(pressure, "sim")
	}
	if cfg.ReplaySource.Enable {
		pressure = append(pressure, "replay_source")
	}
	if cfg.Feed.Enable && cfg.Feed.Pressure {
		pressure = append(pressure, "feed.pressure")
	}
	if len(pressure) > 1 {
		return fmt.Errorf("only one of sensors, sim, replay_source and feed.pressure may be enabled (got %s)", strings.Join(pressure, ", "))
	}
	if len(pressure) == 0 && !cfg.GPS.Enable && !cfg.Feed.Enable {
		return fmt.Errorf("no sample source enabled")
	}

	if cfg.Sensors.I2CBus < 0 {
		return fmt.Errorf("sensors.i2c_bus must be >= 0")
	}
	if cfg.Sensors.BaroAddr == 0 {
		cfg.Sensors.BaroAddr = 0x76
	}
	if cfg.Sensors.IMUAddr == 0 {
		cfg.Sensors.IMUAddr = 0x69
	}
	if cfg.Sensors.BaroRateHz <= 0 {
		cfg.Sensors.BaroRateHz = 25
	}
	if cfg.Sensors.IMURateHz <= 0 {
		cfg.Sensors.IMURateHz = 50
	}
	if cfg.Sensors.GravityAlpha < 0 || cfg.Sensors.GravityAlpha >= 1 {
		return fmt.Errorf("sensors.gravity_alpha must be in [0,1)")
	}

	cfg.GPS.Source = strings.ToLower(strings.TrimSpace(cfg.GPS.Source))
	switch cfg.GPS.Source {
	case "":
		cfg.GPS.Source = "nmea"
	case "nmea", "gpsd":
	default:
		return fmt.Errorf("gps.source must be 'nmea' or 'gpsd'")
	}
	if cfg.GPS.Baud <= 0 {
		cfg.GPS.Baud = 9600
	}
	if cfg.GPS.Source == "gpsd" && cfg.GPS.GPSDAddr == "" {
		cfg.GPS.GPSDAddr = "127.0.0.1:2947"
	}

	if cfg.Feed.Enable && strings.TrimSpace(cfg.Feed.Addr) == "" {
		return fmt.Errorf("feed.addr is required when feed.enable is true")
	}
	if cfg.Feed.ReconnectDelay <= 0 {
		cfg.Feed.ReconnectDelay = time.Second
	}

	if cfg.Sim.TickHz <= 0 {
		cfg.Sim.TickHz = 25
	}
	if cfg.Sim.FixEvery <= 0 {
		cfg.Sim.FixEvery = cfg.Sim.TickHz
	}
	if cfg.Sim.SeaLevelHPa <= 0 {
		cfg.Sim.SeaLevelHPa = 1013.25
	}
	if cfg.Sim.NoiseHPa < 0 {
		return fmt.Errorf("sim.noise_hpa must be >= 0")
	}

	if cfg.ReplaySource.Enable {
		if cfg.ReplaySource.Path == "" {
			return fmt.Errorf("replay_source.path is required when replay_source.enable is true")
		}
		if cfg.ReplaySource.Speed == 0 {
			cfg.ReplaySource.Speed = 1
		}
		if cfg.ReplaySource.Speed < 0 {
			return fmt.Errorf("replay_source.speed must be > 0")
		}
	}

	if cfg.Display.UDP.Enable && cfg.Display.UDP.Dest == "" {
		return fmt.Errorf("display.udp.dest is required when display.udp.enable is true")
	}
	if cfg.Display.MQTT.Enable && cfg.Display.MQTT.Broker == "" {
		return fmt.Errorf("display.mqtt.broker is required when display.mqtt.enable is true")
	}
	if cfg.Display.MQTT.QoS > 2 {
		return fmt.Errorf("display.mqtt.qos must be 0, 1 or 2")
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Web.LogLines <= 0 {
		cfg.Web.LogLines = 2000
	}
	if cfg.Web.SeaLevelHPa <= 0 {
		cfg.Web.SeaLevelHPa = 1013.25
	}

	if cfg.Button.Enable && cfg.Button.Pin <= 0 {
		return fmt.Errorf("button.pin is required when button.enable is true")
	}
	return nil
}
