package sensor

import (
	"fmt"
	"log/slog"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/bme280"
)

// Chip IDs read from register 0xD0.
const (
	chipIDBME280 = 0x60
	chipIDBMP280 = 0x58
)

const regChipID = 0xD0

// Bosch drives a BME280, or a BMP280 which shares its register map but has
// no humidity channel.
type Bosch struct {
	bus      *trackingBus
	dev      bme280.Device
	humidity bool
	bmpOnly  bool
	logger   *slog.Logger
}

// NewBosch creates a driver on bus. address 0 keeps the driver default
// (0x76). bmpOnly ignores humidity even on a BME280.
func NewBosch(bus drivers.I2C, address uint16, bmpOnly bool, logger *slog.Logger) *Bosch {
	tb := &trackingBus{bus: bus}
	dev := bme280.New(tb)
	if address != 0 {
		dev.Address = address
	}
	return &Bosch{bus: tb, dev: dev, bmpOnly: bmpOnly, logger: logger}
}

func (b *Bosch) Init() error {
	id := []byte{0}
	if err := b.bus.Tx(b.dev.Address, []byte{regChipID}, id); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	switch id[0] {
	case chipIDBME280:
		b.humidity = !b.bmpOnly
	case chipIDBMP280:
		b.humidity = false
	default:
		return fmt.Errorf("%w: chip id 0x%02X at 0x%02X", ErrNotConnected, id[0], b.dev.Address)
	}
	b.bus.reset()
	b.dev.Configure()
	if err := b.bus.lastErr(); err != nil {
		return fmt.Errorf("sensor: configure %s: %w", b.Name(), err)
	}
	b.logger.Info("sensor ready", "chip", b.Name(), "address", fmt.Sprintf("0x%02X", b.dev.Address), "humidity", b.humidity)
	return nil
}

func (b *Bosch) Read() (Sample, error) {
	b.bus.reset()
	t, err := b.dev.ReadTemperature()
	if err != nil {
		return Sample{}, fmt.Errorf("sensor: read temperature: %w", err)
	}
	p, err := b.dev.ReadPressure()
	if err != nil {
		return Sample{}, fmt.Errorf("sensor: read pressure: %w", err)
	}
	s := Sample{
		Temperature: t / 10,
		Pressure:    p / 1000,
		HasPressure: true,
	}
	if b.humidity {
		h, err := b.dev.ReadHumidity()
		if err != nil {
			return Sample{}, fmt.Errorf("sensor: read humidity: %w", err)
		}
		s.Humidity = h
		s.HasHumidity = true
	}
	if err := b.bus.lastErr(); err != nil {
		return Sample{}, fmt.Errorf("sensor: %s bus: %w", b.Name(), err)
	}
	return s, nil
}

func (b *Bosch) HasHumidity() bool { return b.humidity }
func (b *Bosch) HasPressure() bool { return true }

func (b *Bosch) Name() string {
	if b.humidity {
		return ProfileBME280
	}
	return ProfileBMP280
}
