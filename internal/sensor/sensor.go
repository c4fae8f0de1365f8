// Package sensor reads the environmental sensor of the node.
package sensor

import (
	"errors"
	"fmt"
	"log/slog"
)

// Profiles selectable in the configuration file.
const (
	ProfileBME280 = "bme280"
	ProfileBMP280 = "bmp280"
	ProfileSHT31  = "sht31"
	ProfileFake   = "fake"
	ProfileScript = "script"
)

// ErrNotConnected is returned by Init when no device answers.
var ErrNotConnected = errors.New("sensor: device not connected")

// Sample is one reading. Temperature and Humidity are in hundredths of a
// degree / percent, Pressure in pascals.
type Sample struct {
	Temperature int32
	Humidity    int32
	Pressure    int32
	HasHumidity bool
	HasPressure bool
}

// Driver is an environmental sensor.
type Driver interface {
	Init() error
	Read() (Sample, error)
	HasHumidity() bool
	HasPressure() bool
	Name() string
}

// Config selects and addresses the sensor.
type Config struct {
	Profile string
	I2CBus  int
	// Address overrides the profile's default I2C address.
	Address uint16
	// Script is the Lua file of the script profile.
	Script string
}

// Open creates the driver for cfg.Profile. now supplies milliseconds to the
// fake profile.
func Open(cfg Config, now func() uint32, logger *slog.Logger) (Driver, error) {
	switch cfg.Profile {
	case ProfileBME280, ProfileBMP280, "":
		bus, err := OpenI2C(cfg.I2CBus)
		if err != nil {
			return nil, err
		}
		return NewBosch(bus, cfg.Address, cfg.Profile == ProfileBMP280, logger), nil
	case ProfileSHT31:
		bus, err := OpenI2C(cfg.I2CBus)
		if err != nil {
			return nil, err
		}
		return NewSHT31(bus, cfg.Address, logger), nil
	case ProfileFake:
		return NewFake(now), nil
	case ProfileScript:
		return NewScript(cfg.Script, logger)
	}
	return nil, fmt.Errorf("sensor: unknown profile %q", cfg.Profile)
}
