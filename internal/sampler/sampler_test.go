package sampler

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"zigbee-sensor-node/internal/battery"
	"zigbee-sensor-node/internal/sensor"
	"zigbee-sensor-node/internal/timer"
	"zigbee-sensor-node/internal/zcl/clusters"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubSensor struct {
	sample  sensor.Sample
	initErr error
	readErr error
	reads   int
}

func (s *stubSensor) Init() error { return s.initErr }
func (s *stubSensor) Read() (sensor.Sample, error) {
	s.reads++
	return s.sample, s.readErr
}
func (s *stubSensor) HasHumidity() bool { return s.sample.HasHumidity }
func (s *stubSensor) HasPressure() bool { return s.sample.HasPressure }
func (s *stubSensor) Name() string      { return "stub" }

type attrKey struct{ cluster, attr uint16 }

type recordingAttrs struct {
	values   map[attrKey][]byte
	notified []attrKey
	writeErr error
}

func newRecordingAttrs() *recordingAttrs {
	return &recordingAttrs{values: make(map[attrKey][]byte)}
}

func (a *recordingAttrs) Write(cluster, attr uint16, value []byte) error {
	if a.writeErr != nil {
		return a.writeErr
	}
	a.values[attrKey{cluster, attr}] = value
	return nil
}

func (a *recordingAttrs) NotifyChanged(cluster, attr uint16, value []byte) {
	a.notified = append(a.notified, attrKey{cluster, attr})
}

type fixture struct {
	s      *Scheduler
	clock  *timer.Manual
	sensor *stubSensor
	batt   *battery.Fixed
	attrs  *recordingAttrs
	joined bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock: timer.NewManual(1000),
		sensor: &stubSensor{sample: sensor.Sample{
			Temperature: 2150, Humidity: 5000, Pressure: 101325,
			HasHumidity: true, HasPressure: true,
		}},
		batt:  battery.NewFixed(3000),
		attrs: newRecordingAttrs(),
	}
	f.s = New(Config{IntervalMs: 60000}, f.clock, f.sensor, f.batt, f.attrs, func() bool { return f.joined }, testLogger())
	if err := f.s.Init(); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestInitDoesNotStartTimer(t *testing.T) {
	f := newFixture(t)
	if f.s.Running() || f.s.Pending() {
		t.Error("timer must not run before network up")
	}
	f.clock.Advance(120000)
	f.joined = true
	f.s.Process()
	if f.sensor.reads != 0 {
		t.Errorf("reads = %d, want 0", f.sensor.reads)
	}
}

func TestInitFailures(t *testing.T) {
	sensorFail := &stubSensor{initErr: errors.New("no chip")}
	s := New(Config{}, timer.NewManual(1000), sensorFail, battery.NewFixed(3000), newRecordingAttrs(), func() bool { return true }, testLogger())
	if err := s.Init(); err != nil {
		t.Errorf("battery alone should be enough: %v", err)
	}

	s = New(Config{}, timer.NewManual(1000), sensorFail, nil, newRecordingAttrs(), func() bool { return true }, testLogger())
	if err := s.Init(); !errors.Is(err, ErrNoDevices) {
		t.Errorf("err = %v, want ErrNoDevices", err)
	}
}

func TestStartGivesImmediateSample(t *testing.T) {
	f := newFixture(t)
	f.joined = true
	f.s.Start()
	if !f.s.Running() || !f.s.Pending() {
		t.Fatal("Start should run timer and mark pending")
	}
	f.s.Process()
	if f.sensor.reads != 1 {
		t.Fatalf("reads = %d, want 1", f.sensor.reads)
	}
	if f.s.Pending() {
		t.Error("pending not consumed")
	}
	f.s.Process()
	if f.sensor.reads != 1 {
		t.Errorf("second Process read again: %d", f.sensor.reads)
	}

	f.clock.Advance(60000)
	f.s.Process()
	if f.sensor.reads != 2 {
		t.Errorf("reads after one interval = %d, want 2", f.sensor.reads)
	}
}

func TestNoReadsWhileDown(t *testing.T) {
	f := newFixture(t)
	f.s.Start()
	for i := 0; i < 5; i++ {
		f.s.RequestSample()
		f.s.Process()
	}
	if f.sensor.reads != 0 {
		t.Errorf("reads while down = %d, want 0", f.sensor.reads)
	}
	if len(f.attrs.values) != 0 {
		t.Errorf("attributes written while down: %v", f.attrs.values)
	}
}

func TestCycleCalibratesAndConverts(t *testing.T) {
	f := newFixture(t)
	f.joined = true
	f.s.SetCalibration(Calibration{Temperature: -150, Humidity: 200, Pressure: 100})
	var got Reading
	f.s.OnSample(func(r Reading) { got = r })
	f.s.RequestSample()
	f.s.Process()

	check := func(cluster, attr uint16, want []byte) {
		t.Helper()
		if v := f.attrs.values[attrKey{cluster, attr}]; !bytes.Equal(v, want) {
			t.Errorf("cluster 0x%04X attr 0x%04X = %X, want %X", cluster, attr, v, want)
		}
	}
	check(clusters.IDTemperature, clusters.AttrMeasuredValue, []byte{0xD0, 0x07})     // 2000
	check(clusters.IDHumidity, clusters.AttrMeasuredValue, []byte{0x50, 0x14})        // 5200
	check(clusters.IDPressure, clusters.AttrMeasuredValue, []byte{0x66, 0x00})        // (101325+1000)/1000 = 102 kPa
	check(clusters.IDPowerConfig, clusters.AttrBatteryVoltage, []byte{30})            // 3.0 V
	check(clusters.IDPowerConfig, clusters.AttrBatteryPercentage, []byte{171})        // (3000-1800)*200/1400

	if len(f.attrs.notified) != 5 {
		t.Errorf("notifications = %d, want 5", len(f.attrs.notified))
	}
	if !got.SensorOK || !got.BatteryOK || got.Temperature != 2000 || got.PressureKPa != 102 {
		t.Errorf("reading = %+v", got)
	}
	if f.s.Last() != got || f.s.Cycles() != 1 {
		t.Error("Last/Cycles not updated")
	}
}

func TestHumidityClamped(t *testing.T) {
	f := newFixture(t)
	f.joined = true
	f.sensor.sample.Humidity = 9950
	f.s.SetCalibration(Calibration{Humidity: 1000})
	f.s.RequestSample()
	f.s.Process()
	if v := f.attrs.values[attrKey{clusters.IDHumidity, 0}]; !bytes.Equal(v, []byte{0x10, 0x27}) {
		t.Errorf("humidity = %X, want 1027 (10000)", v)
	}
}

func TestSensorFailureSkipsOnlySensorAttributes(t *testing.T) {
	f := newFixture(t)
	f.joined = true
	f.sensor.readErr = errors.New("i2c nack")
	f.s.RequestSample()
	f.s.Process()

	if _, ok := f.attrs.values[attrKey{clusters.IDTemperature, 0}]; ok {
		t.Error("temperature written despite sensor failure")
	}
	if _, ok := f.attrs.values[attrKey{clusters.IDPowerConfig, clusters.AttrBatteryVoltage}]; !ok {
		t.Error("battery attributes skipped")
	}
}

func TestBatteryFailureSkipsOnlyBatteryAttributes(t *testing.T) {
	f := newFixture(t)
	f.joined = true
	f.batt.Valid = false
	f.s.RequestSample()
	f.s.Process()

	if _, ok := f.attrs.values[attrKey{clusters.IDPowerConfig, clusters.AttrBatteryVoltage}]; ok {
		t.Error("battery written despite invalid sample")
	}
	if _, ok := f.attrs.values[attrKey{clusters.IDTemperature, 0}]; !ok {
		t.Error("sensor attributes skipped")
	}
}

func TestBatteryFailureLoggedOnce(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	f.s.logger = slog.New(slog.NewTextHandler(&buf, nil))
	f.joined = true
	f.batt.Valid = false

	for i := 0; i < 3; i++ {
		f.s.RequestSample()
		f.s.Process()
	}
	if n := strings.Count(buf.String(), "battery sample invalid"); n != 1 {
		t.Errorf("failure logged %d times, want 1", n)
	}

	f.batt.Valid = true
	f.s.RequestSample()
	f.s.Process()
	if !strings.Contains(buf.String(), "battery read recovered") {
		t.Error("recovery not logged")
	}

	f.batt.Valid = false
	f.s.RequestSample()
	f.s.Process()
	if n := strings.Count(buf.String(), "battery sample invalid"); n != 2 {
		t.Errorf("failure after recovery logged %d times in total, want 2", n)
	}
}

func TestProfileWithoutHumidityOrPressure(t *testing.T) {
	f := newFixture(t)
	f.joined = true
	f.sensor.sample.HasHumidity = false
	f.sensor.sample.HasPressure = false
	f.s.RequestSample()
	f.s.Process()
	if _, ok := f.attrs.values[attrKey{clusters.IDHumidity, 0}]; ok {
		t.Error("humidity written for a sensor without humidity")
	}
	if _, ok := f.attrs.values[attrKey{clusters.IDPressure, 0}]; ok {
		t.Error("pressure written for a sensor without pressure")
	}
}

func TestStopDropsPending(t *testing.T) {
	f := newFixture(t)
	f.s.Start()
	f.s.Stop()
	if f.s.Running() || f.s.Pending() {
		t.Error("Stop should stop the timer and clear pending")
	}
	f.s.Start()
	if !f.s.Running() {
		t.Error("restart after Stop failed")
	}
}

func TestSetInterval(t *testing.T) {
	f := newFixture(t)

	f.s.SetInterval(5000)
	if f.s.IntervalMs() != MinIntervalMs {
		t.Errorf("interval = %d, want clamped %d", f.s.IntervalMs(), MinIntervalMs)
	}

	f.s.SetInterval(120000)
	f.s.Start()
	if got := f.clock.Interval(f.s.handle); got != 120000 {
		t.Errorf("stored interval applied at start = %d, want 120000", got)
	}

	f.s.SetInterval(30000)
	if got := f.clock.Interval(f.s.handle); got != 30000 {
		t.Errorf("running timer interval = %d, want 30000", got)
	}
}

func TestWatchdog(t *testing.T) {
	f := newFixture(t)
	f.joined = true
	f.s.Start()
	f.s.Process()

	// Healthy: nothing happens.
	f.s.Watchdog(f.clock.NowTicks())
	if f.s.Pending() {
		t.Error("watchdog fired on a healthy scheduler")
	}

	// Timer died.
	f.clock.Stop(f.s.handle)
	f.s.Watchdog(f.clock.NowTicks())
	if !f.s.Running() || !f.s.Pending() {
		t.Error("watchdog should restart a stopped timer")
	}
	f.s.Process()

	// Timer claims to run but no cycle for more than three intervals.
	f.clock.Set(f.clock.NowTicks() + f.clock.MsToTicks(3*60000+1000))
	f.s.Watchdog(f.clock.NowTicks())
	if !f.s.Pending() {
		t.Error("watchdog should force a sample when cycles are stale")
	}

	// Not joined: watchdog idle.
	f.s.Process()
	f.joined = false
	f.clock.Stop(f.s.handle)
	f.s.Watchdog(f.clock.NowTicks())
	if f.s.Running() {
		t.Error("watchdog acted while not joined")
	}
}
