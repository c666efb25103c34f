// Package config loads the daemon configuration from a TOML, YAML or JSON
// file and the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/harveysanders/printerlcd/lcd1602/lcd"
)

// Environment variables read by Apply.
const (
	EnvDocker   = "LCD1602_DOCKER"    // any non-empty value selects the simulated display
	EnvAPIKey   = "OCTOPRINT_API_KEY" // overrides octoprint.api_key
	EnvLogLevel = "LCD1602_LOG_LEVEL" // overrides log_level
)

// Event sources.
const (
	SourceSocket = "socket"
	SourceMQTT   = "mqtt"
	SourceNone   = "none"
)

// Config holds runtime parameters for the daemon.
type Config struct {
	LogLevel  string    `json:"log_level" yaml:"log_level" toml:"log_level"`
	Source    string    `json:"source" yaml:"source" toml:"source"`
	LCD       LCD       `json:"lcd" yaml:"lcd" toml:"lcd"`
	Display   Display   `json:"display" yaml:"display" toml:"display"`
	OctoPrint OctoPrint `json:"octoprint" yaml:"octoprint" toml:"octoprint"`
	MQTT      MQTT      `json:"mqtt" yaml:"mqtt" toml:"mqtt"`
	Status    Status    `json:"status" yaml:"status" toml:"status"`
}

// LCD selects and addresses the display.
type LCD struct {
	Simulate bool   `json:"simulate" yaml:"simulate" toml:"simulate"`
	Bus      string `json:"bus" yaml:"bus" toml:"bus"`    // periph bus name, "" for the first one
	Addr     int    `json:"addr" yaml:"addr" toml:"addr"` // 0 probes 0x27 and 0x3F
	Charmap  string `json:"charmap" yaml:"charmap" toml:"charmap"`
}

// Display tunes rendering.
type Display struct {
	FrameDelay Duration `json:"frame_delay" yaml:"frame_delay" toml:"frame_delay"`
	QueueSize  int      `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
	IOTimeout  Duration `json:"io_timeout" yaml:"io_timeout" toml:"io_timeout"`
}

// OctoPrint points at the server providing status and, for the socket
// source, events.
type OctoPrint struct {
	URL            string   `json:"url" yaml:"url" toml:"url"`
	APIKey         string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	StatusInterval Duration `json:"status_interval" yaml:"status_interval" toml:"status_interval"`
	ReconnectDelay Duration `json:"reconnect_delay" yaml:"reconnect_delay" toml:"reconnect_delay"`
}

// MQTT configures the broker used by the mqtt source.
type MQTT struct {
	Broker    string   `json:"broker" yaml:"broker" toml:"broker"`
	Prefix    string   `json:"prefix" yaml:"prefix" toml:"prefix"`
	Username  string   `json:"username" yaml:"username" toml:"username"`
	Password  string   `json:"password" yaml:"password" toml:"password"`
	KeepAlive Duration `json:"keep_alive" yaml:"keep_alive" toml:"keep_alive"`
}

// Status configures the HTTP status server. An empty Listen disables it.
type Status struct {
	Listen      string   `json:"listen" yaml:"listen" toml:"listen"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Duration is a time.Duration written as a string such as "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Default returns the configuration used when a field is not set.
func Default() Config {
	return Config{
		LogLevel: "info",
		Source:   SourceSocket,
		LCD: LCD{
			Charmap: string(lcd.CharmapA00),
		},
		Display: Display{
			FrameDelay: Duration(500 * time.Millisecond),
			QueueSize:  32,
			IOTimeout:  Duration(2 * time.Second),
		},
		OctoPrint: OctoPrint{
			URL:            "http://localhost:5000",
			RequestTimeout: Duration(5 * time.Second),
			StatusInterval: Duration(2 * time.Second),
			ReconnectDelay: Duration(5 * time.Second),
		},
		MQTT: MQTT{
			Broker:    "localhost:1883",
			Prefix:    "octoPrint/",
			KeepAlive: Duration(30 * time.Second),
		},
	}
}

// Load reads a configuration file based on its extension on top of
// Default. Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Resolve loads path, or starts from Default when path is empty, applies
// the environment and then override, if any, and validates the result.
func Resolve(path string, override func(*Config)) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}
	cfg.Apply(os.LookupEnv)
	if override != nil {
		override(&cfg)
	}
	return cfg, cfg.Validate()
}

// Apply overrides fields from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) Apply(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDocker); ok && v != "" {
		c.LCD.Simulate = true
	}
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		c.OctoPrint.APIKey = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := lcd.ParseCharmap(c.LCD.Charmap); err != nil {
		errs = append(errs, err)
	}
	if c.LCD.Addr < 0 || c.LCD.Addr > 0x7F {
		errs = append(errs, fmt.Errorf("lcd.addr %#x is not a 7-bit I2C address", c.LCD.Addr))
	}
	if c.Display.QueueSize < 0 {
		errs = append(errs, errors.New("display.queue_size must not be negative"))
	}
	if c.Display.FrameDelay < 0 || c.Display.IOTimeout < 0 {
		errs = append(errs, errors.New("display durations must not be negative"))
	}
	switch c.Source {
	case SourceSocket:
		if c.OctoPrint.URL == "" {
			errs = append(errs, errors.New("octoprint.url is required for the socket source"))
		}
	case SourceMQTT:
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required for the mqtt source"))
		}
		if c.MQTT.Password != "" && c.MQTT.Username == "" {
			errs = append(errs, errors.New("mqtt.password requires mqtt.username"))
		}
	case SourceNone:
	default:
		errs = append(errs, fmt.Errorf("unknown source %q (want %s, %s or %s)", c.Source, SourceSocket, SourceMQTT, SourceNone))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
