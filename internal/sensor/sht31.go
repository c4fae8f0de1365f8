package sensor

import (
	"fmt"
	"log/slog"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/sht3x"
)

// SHT31 drives a Sensirion SHT3x temperature/humidity sensor.
type SHT31 struct {
	bus    *trackingBus
	dev    sht3x.Device
	logger *slog.Logger
}

// NewSHT31 creates a driver on bus. address 0 keeps the default (0x44).
func NewSHT31(bus drivers.I2C, address uint16, logger *slog.Logger) *SHT31 {
	tb := &trackingBus{bus: bus}
	dev := sht3x.New(tb)
	if address != 0 {
		dev.Address = address
	}
	return &SHT31{bus: tb, dev: dev, logger: logger}
}

// Init takes one measurement to check the sensor answers.
func (s *SHT31) Init() error {
	if _, err := s.Read(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	s.logger.Info("sensor ready", "chip", s.Name(), "address", fmt.Sprintf("0x%02X", s.dev.Address))
	return nil
}

func (s *SHT31) Read() (Sample, error) {
	s.bus.reset()
	t, h, err := s.dev.ReadTemperatureHumidity()
	if err == nil {
		err = s.bus.lastErr()
	}
	if err != nil {
		return Sample{}, fmt.Errorf("sensor: sht31: %w", err)
	}
	return Sample{
		Temperature: t / 10,
		Humidity:    int32(h),
		HasHumidity: true,
	}, nil
}

func (s *SHT31) HasHumidity() bool { return true }
func (s *SHT31) HasPressure() bool { return false }
func (s *SHT31) Name() string      { return ProfileSHT31 }
