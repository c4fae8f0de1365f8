package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"zigbee-sensor-node/internal/app"
	"zigbee-sensor-node/internal/battery"
	"zigbee-sensor-node/internal/sensor"
)

// Config is the YAML file layout.
type Config struct {
	NCP struct {
		Port          string  `yaml:"port"`
		Baud          int     `yaml:"baud"`
		MaxPendingOps int     `yaml:"max_pending_ops"`
		Sleepy        bool    `yaml:"sleepy"`
		NetworkKey    string  `yaml:"network_key"`
		ScanDuration  uint8   `yaml:"scan_duration"`
		Channels      []uint8 `yaml:"channels"`
	} `yaml:"ncp"`
	GPIO struct {
		Chip string `yaml:"chip"`
		// Unset lines leave the button or LED unconnected.
		ButtonLine *int `yaml:"button_line"`
		LEDLine    *int `yaml:"led_line"`
		ActiveLow  bool `yaml:"active_low"`
	} `yaml:"gpio"`
	Sensor struct {
		Profile string `yaml:"profile"`
		I2CBus  int    `yaml:"i2c_bus"`
		Address uint16 `yaml:"address"`
		Script  string `yaml:"script"`
	} `yaml:"sensor"`
	Battery struct {
		Source  string  `yaml:"source"` // "iio" or "fixed"
		IIOPath string  `yaml:"iio_path"`
		Scale   float64 `yaml:"scale"`
		Divider float64 `yaml:"divider"`
		FixedMv uint16  `yaml:"fixed_mv"`
		EmptyMv uint16  `yaml:"empty_mv"`
		FullMv  uint16  `yaml:"full_mv"`
	} `yaml:"battery"`
	Timing struct {
		BootGuardMs      uint32 `yaml:"boot_guard_ms"`
		PostJoinGuardMs  uint32 `yaml:"post_join_guard_ms"`
		PostLeaveGuardMs uint32 `yaml:"post_leave_guard_ms"`
		LeaveBackoffMs   uint32 `yaml:"leave_backoff_ms"`
		DropBackoffMs    uint32 `yaml:"drop_backoff_ms"`
		BusyBackoffMs    uint32 `yaml:"busy_backoff_ms"`
		DebounceMs       uint32 `yaml:"debounce_ms"`
		LongPressMs      uint32 `yaml:"long_press_ms"`
		PressCeilingMs   uint32 `yaml:"press_ceiling_ms"`
		PollInterval     string `yaml:"poll_interval"`
		WatchdogPeriod   string `yaml:"watchdog_period"`
		AutoRejoin       *bool  `yaml:"auto_rejoin"`
		JoinOnBoot       *bool  `yaml:"join_on_boot"`
	} `yaml:"timing"`
	Device struct {
		Name         string `yaml:"name"`
		Manufacturer string `yaml:"manufacturer"`
		Model        string `yaml:"model"`
	} `yaml:"device"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		Debug          bool     `yaml:"debug"`
	} `yaml:"web"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		DeviceName  string `yaml:"device_name"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	networkKey     [16]byte
	pollInterval   time.Duration
	watchdogPeriod time.Duration
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.NCP.Baud == 0 {
		c.NCP.Baud = 115200
	}
	if c.GPIO.Chip == "" {
		c.GPIO.Chip = "gpiochip0"
	}
	if c.Sensor.Profile == "" {
		c.Sensor.Profile = sensor.ProfileBME280
	}
	if c.Sensor.I2CBus == 0 {
		c.Sensor.I2CBus = 1
	}
	if c.Battery.Source == "" {
		c.Battery.Source = "fixed"
	}
	if c.Battery.FixedMv == 0 {
		c.Battery.FixedMv = 3000
	}
	if c.Battery.EmptyMv == 0 {
		c.Battery.EmptyMv = battery.DefaultEmptyMv
	}
	if c.Battery.FullMv == 0 {
		c.Battery.FullMv = battery.DefaultFullMv
	}
	if c.Timing.PollInterval == "" {
		c.Timing.PollInterval = "10ms"
	}
	if c.Timing.WatchdogPeriod == "" {
		c.Timing.WatchdogPeriod = "60s"
	}
	if c.Device.Manufacturer == "" {
		c.Device.Manufacturer = "DIY"
	}
	if c.Device.Model == "" {
		c.Device.Model = "sensor-node"
	}
	if c.Device.Name == "" {
		c.Device.Name = "Sensor Node"
	}
	if c.Store.Path == "" {
		c.Store.Path = "sensor-node.db"
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:8080"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "zigbee-sensor"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = c.Device.Name
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate rejects bad input and fills the parsed fields.
func (c *Config) validate() error {
	if c.NCP.Port == "" {
		return fmt.Errorf("ncp.port is required")
	}
	for _, ch := range c.NCP.Channels {
		if ch < 11 || ch > 26 {
			return fmt.Errorf("ncp.channels: channel %d outside 11-26", ch)
		}
	}
	if c.NCP.ScanDuration > 14 {
		return fmt.Errorf("ncp.scan_duration must be 0-14, got %d", c.NCP.ScanDuration)
	}
	if c.NCP.NetworkKey != "" {
		key, err := hex.DecodeString(strings.ReplaceAll(c.NCP.NetworkKey, ":", ""))
		if err != nil || len(key) != 16 {
			return fmt.Errorf("ncp.network_key must be 16 hex bytes")
		}
		copy(c.networkKey[:], key)
	}

	switch c.Sensor.Profile {
	case sensor.ProfileBME280, sensor.ProfileBMP280, sensor.ProfileSHT31, sensor.ProfileFake:
	case sensor.ProfileScript:
		if c.Sensor.Script == "" {
			return fmt.Errorf("sensor.script is required for the script profile")
		}
	default:
		return fmt.Errorf("unknown sensor.profile %q", c.Sensor.Profile)
	}

	switch c.Battery.Source {
	case "fixed":
	case "iio":
		if c.Battery.IIOPath == "" {
			return fmt.Errorf("battery.iio_path is required for the iio source")
		}
	default:
		return fmt.Errorf("unknown battery.source %q (iio or fixed)", c.Battery.Source)
	}
	if c.Battery.FullMv <= c.Battery.EmptyMv {
		return fmt.Errorf("battery.full_mv must exceed battery.empty_mv")
	}

	var err error
	if c.pollInterval, err = time.ParseDuration(c.Timing.PollInterval); err != nil || c.pollInterval <= 0 {
		return fmt.Errorf("invalid timing.poll_interval %q", c.Timing.PollInterval)
	}
	if c.watchdogPeriod, err = time.ParseDuration(c.Timing.WatchdogPeriod); err != nil || c.watchdogPeriod < 0 {
		return fmt.Errorf("invalid timing.watchdog_period %q", c.Timing.WatchdogPeriod)
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// nodeConfig builds the main loop configuration. Zero timings keep the
// defaults.
func (c *Config) nodeConfig() app.Config {
	nc := app.DefaultConfig()
	t := c.Timing

	set := func(dst *uint32, v uint32) {
		if v != 0 {
			*dst = v
		}
	}
	set(&nc.BootGuardMs, t.BootGuardMs)
	set(&nc.Join.PostJoinGuardMs, t.PostJoinGuardMs)
	set(&nc.Join.PostLeaveGuardMs, t.PostLeaveGuardMs)
	set(&nc.Join.LeaveBackoffMs, t.LeaveBackoffMs)
	set(&nc.Join.DropBackoffMs, t.DropBackoffMs)
	set(&nc.Join.BusyBackoffMs, t.BusyBackoffMs)
	set(&nc.Buttons.DebounceMs, t.DebounceMs)
	set(&nc.Buttons.LongPressMs, t.LongPressMs)
	set(&nc.Buttons.CeilingMs, t.PressCeilingMs)

	if len(c.NCP.Channels) > 0 {
		nc.Join.Channels = c.NCP.Channels
	}
	if c.NCP.ScanDuration != 0 {
		nc.Join.ScanDuration = c.NCP.ScanDuration
	}
	nc.Join.Sleepy = c.NCP.Sleepy
	nc.Join.NetworkKey = c.networkKey

	nc.Battery = app.BatteryRange{EmptyMv: c.Battery.EmptyMv, FullMv: c.Battery.FullMv}
	nc.PollInterval = c.pollInterval
	nc.WatchdogPeriod = c.watchdogPeriod
	if t.AutoRejoin != nil {
		nc.AutoRejoin = *t.AutoRejoin
	}
	if t.JoinOnBoot != nil {
		nc.JoinOnBoot = *t.JoinOnBoot
	}
	return nc
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
