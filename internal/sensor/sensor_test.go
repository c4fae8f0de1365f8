package sensor

import (
	"errors"
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBus answers register reads from regs and bare reads from rx.
type fakeBus struct {
	regs  map[uint8][]byte
	rx    []byte
	fail  error
	addrs []uint16
}

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	b.addrs = append(b.addrs, addr)
	if b.fail != nil {
		return b.fail
	}
	if len(r) == 0 {
		return nil
	}
	if len(w) == 1 {
		copy(r, b.regs[w[0]])
	} else {
		copy(r, b.rx)
	}
	return nil
}

// Datasheet example: t1=27504 t2=26435 t3=-1000, adc_T=519888 -> 25.08 °C.
func boschBus(chipID byte) *fakeBus {
	return &fakeBus{regs: map[uint8][]byte{
		0xD0: {chipID},
		0x88: {0x70, 0x6B, 0x43, 0x67, 0x18, 0xFC},
		0xF7: {0, 0, 0, 0x7E, 0xED, 0x00, 0, 0},
	}}
}

func TestBoschProfiles(t *testing.T) {
	tests := []struct {
		name         string
		chip         byte
		bmpOnly      bool
		wantHumidity bool
		wantName     string
	}{
		{"bme280", chipIDBME280, false, true, ProfileBME280},
		{"bmp280 chip", chipIDBMP280, false, false, ProfileBMP280},
		{"bme280 forced bmp", chipIDBME280, true, false, ProfileBMP280},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewBosch(boschBus(tt.chip), 0, tt.bmpOnly, testLogger())
			if err := d.Init(); err != nil {
				t.Fatal(err)
			}
			if d.HasHumidity() != tt.wantHumidity || !d.HasPressure() {
				t.Errorf("humidity = %v pressure = %v", d.HasHumidity(), d.HasPressure())
			}
			if d.Name() != tt.wantName {
				t.Errorf("name = %q, want %q", d.Name(), tt.wantName)
			}
			s, err := d.Read()
			if err != nil {
				t.Fatal(err)
			}
			if s.Temperature != 2508 {
				t.Errorf("temperature = %d, want 2508", s.Temperature)
			}
			if s.HasHumidity != tt.wantHumidity || !s.HasPressure {
				t.Errorf("sample flags = %+v", s)
			}
		})
	}
}

func TestBoschInitFailures(t *testing.T) {
	d := NewBosch(boschBus(0x00), 0x77, false, testLogger())
	if err := d.Init(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("unknown chip err = %v, want ErrNotConnected", err)
	}

	bus := boschBus(chipIDBME280)
	bus.fail = errors.New("nack")
	d = NewBosch(bus, 0, false, testLogger())
	if err := d.Init(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("bus failure err = %v, want ErrNotConnected", err)
	}
	if bus.addrs[0] != 0x76 {
		t.Errorf("default address = 0x%02X, want 0x76", bus.addrs[0])
	}
}

func TestBoschReadBusError(t *testing.T) {
	bus := boschBus(chipIDBME280)
	d := NewBosch(bus, 0, false, testLogger())
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	bus.fail = errors.New("arbitration lost")
	if _, err := d.Read(); err == nil {
		t.Error("Read should fail on bus error")
	}
}

func TestSHT31(t *testing.T) {
	bus := &fakeBus{rx: []byte{0x66, 0x66, 0x00, 0x80, 0x00, 0x00}}
	d := NewSHT31(bus, 0, testLogger())
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	s, err := d.Read()
	if err != nil {
		t.Fatal(err)
	}
	if s.Temperature != 2500 || s.Humidity != 5000 {
		t.Errorf("sample = %+v, want 2500 / 5000", s)
	}
	if !s.HasHumidity || s.HasPressure || d.HasPressure() {
		t.Errorf("sht31 flags wrong: %+v", s)
	}

	// The tinygo driver drops bus errors; they must still surface.
	bus.fail = errors.New("nack")
	if _, err := d.Read(); err == nil {
		t.Error("Read should fail on bus error")
	}
	if err := NewSHT31(bus, 0x45, testLogger()).Init(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Init err = %v, want ErrNotConnected", err)
	}
}

func TestFakeDrift(t *testing.T) {
	now := uint32(1000)
	f := NewFake(func() uint32 { return now })

	first, err := f.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !first.HasHumidity || !first.HasPressure {
		t.Error("fake sensor should provide every quantity")
	}
	if first.Temperature < 2150*90/100 || first.Temperature > 2150*110/100 {
		t.Errorf("first temperature %d drifted more than 10%%", first.Temperature)
	}

	now += 59999
	if again, _ := f.Read(); again != first {
		t.Errorf("values changed within a minute: %+v -> %+v", first, again)
	}

	for i := 0; i < 200; i++ {
		now += fakeChangeMs
		s, _ := f.Read()
		if s.Humidity < 0 || s.Humidity > 10000 {
			t.Fatalf("humidity %d out of range", s.Humidity)
		}
		if s.Pressure < 80000 || s.Pressure > 120000 {
			t.Fatalf("pressure %d out of range", s.Pressure)
		}
	}
}

func TestOpenUnknownProfile(t *testing.T) {
	if _, err := Open(Config{Profile: "dht22"}, nil, testLogger()); err == nil {
		t.Error("unknown profile should fail")
	}
	d, err := Open(Config{Profile: ProfileFake}, func() uint32 { return 0 }, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if d.Name() != ProfileFake {
		t.Errorf("name = %q", d.Name())
	}
}
