package battery

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// IIO reads a Linux Industrial I/O ADC channel through sysfs, e.g.
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
type IIO struct {
	rawPath   string
	scalePath string
	scale     float64 // mV per LSB; 0 reads in_voltage*_scale
	divider   float64

	mu    sync.Mutex
	raw   uint16
	valid bool

	logger *slog.Logger
}

// IIOConfig configures an IIO driver.
type IIOConfig struct {
	// RawPath is the channel's *_raw file.
	RawPath string
	// Scale in mV per LSB. When zero the sibling *_scale file is used.
	Scale float64
	// Divider is the ratio of the external resistor divider (1 if none).
	Divider float64
}

// NewIIO creates an IIO driver.
func NewIIO(cfg IIOConfig, logger *slog.Logger) *IIO {
	if cfg.Divider <= 0 {
		cfg.Divider = 1
	}
	scalePath := ""
	if cfg.Scale == 0 {
		// in_voltage0_raw -> in_voltage0_scale, falling back to in_voltage_scale
		base := strings.TrimSuffix(filepath.Base(cfg.RawPath), "_raw")
		scalePath = filepath.Join(filepath.Dir(cfg.RawPath), base+"_scale")
		if _, err := os.Stat(scalePath); err != nil {
			trimmed := strings.TrimRight(base, "0123456789")
			scalePath = filepath.Join(filepath.Dir(cfg.RawPath), trimmed+"_scale")
		}
	}
	return &IIO{
		rawPath:   cfg.RawPath,
		scalePath: scalePath,
		scale:     cfg.Scale,
		divider:   cfg.Divider,
		logger:    logger,
	}
}

// Init checks that the channel is readable.
func (d *IIO) Init() error {
	if _, err := readNumber(d.rawPath); err != nil {
		return fmt.Errorf("battery: %w", err)
	}
	if d.scale == 0 {
		s, err := readNumber(d.scalePath)
		if err != nil {
			return fmt.Errorf("battery: %w", err)
		}
		d.scale = s
	}
	d.logger.Info("battery adc ready", "raw", d.rawPath, "scale_mv", d.scale, "divider", d.divider)
	return nil
}

func (d *IIO) ReadMillivolts() uint16 {
	raw, err := readNumber(d.rawPath)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.valid = false
		d.logger.Debug("battery read failed", "err", err)
		return 0
	}
	d.raw = uint16(math.Min(math.Max(raw, 0), math.MaxUint16))
	mv := raw * d.scale * d.divider
	d.valid = mv >= minPlausibleMv && mv <= maxPlausibleMv
	if !d.valid {
		return 0
	}
	return uint16(math.Round(mv))
}

func (d *IIO) LastSampleValid() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.valid
}

func (d *IIO) LastRaw() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.raw
}

func readNumber(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
