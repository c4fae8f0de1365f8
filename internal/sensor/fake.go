package sensor

import (
	"sync"

	"zigbee-sensor-node/internal/mathx"
)

// fakeChangeMs is how often the fake sensor's values drift.
const fakeChangeMs = 60000

// Fake produces slowly drifting plausible readings for bench testing
// without hardware.
type Fake struct {
	now func() uint32

	mu         sync.Mutex
	sample     Sample
	state      uint32
	lastChange uint32
	changed    bool
}

// NewFake creates a fake sensor starting at 21.50 °C, 50.00 %, 101325 Pa.
func NewFake(now func() uint32) *Fake {
	return &Fake{
		now: now,
		sample: Sample{
			Temperature: 2150,
			Humidity:    5000,
			Pressure:    101325,
			HasHumidity: true,
			HasPressure: true,
		},
		state: 0x12345678,
	}
}

func (f *Fake) Init() error { return nil }

// Read returns the current values, drifting each quantity by up to ±10 %
// at most once a minute.
func (f *Fake) Read() (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if !f.changed || now-f.lastChange >= fakeChangeMs {
		f.changed = true
		f.lastChange = now
		f.sample.Temperature = drift(f.sample.Temperature, f.delta(now))
		f.sample.Humidity = mathx.Clamp(drift(f.sample.Humidity, f.delta(now+1)), 0, 10000)
		f.sample.Pressure = mathx.Clamp(drift(f.sample.Pressure, f.delta(now+2)), 80000, 120000)
	}
	return f.sample, nil
}

// delta advances the LCG and returns a percentage in -10..10.
func (f *Fake) delta(salt uint32) int32 {
	f.state = f.state*1664525 + 1013904223 + salt
	return int32(f.state%21) - 10
}

func drift(base, percent int32) int32 {
	return base + base*percent/100
}

func (f *Fake) HasHumidity() bool { return true }
func (f *Fake) HasPressure() bool { return true }
func (f *Fake) Name() string      { return ProfileFake }
