// Package sampler schedules sensor and battery reads and publishes the
// results as ZCL attributes.
package sampler

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"zigbee-sensor-node/internal/battery"
	"zigbee-sensor-node/internal/mathx"
	"zigbee-sensor-node/internal/sensor"
	"zigbee-sensor-node/internal/timer"
	"zigbee-sensor-node/internal/zcl/clusters"
)

// MinIntervalMs is the shortest sampling interval accepted.
const MinIntervalMs = 10000

// watchdogFactor is how many intervals may pass without a cycle before the
// watchdog restarts the timer.
const watchdogFactor = 3

// Attributes is where samples are published.
type Attributes interface {
	Write(cluster, attrID uint16, value []byte) error
	NotifyChanged(cluster, attrID uint16, value []byte)
}

// Calibration offsets in hundredths of the unit; Pressure is in 0.01 kPa.
type Calibration struct {
	Temperature int16
	Humidity    int16
	Pressure    int16
}

// Reading is the result of one cycle after calibration and conversion.
type Reading struct {
	SensorOK       bool   `json:"sensor_ok"`
	Temperature    int16  `json:"temperature"`
	HasHumidity    bool   `json:"has_humidity"`
	Humidity       uint16 `json:"humidity,omitempty"`
	HasPressure    bool   `json:"has_pressure"`
	PressureKPa    int16  `json:"pressure_kpa,omitempty"`
	BatteryOK      bool   `json:"battery_ok"`
	BatteryMv      uint16 `json:"battery_mv,omitempty"`
	BatteryPercent uint8  `json:"battery_percent,omitempty"`
	Tick           uint32 `json:"tick"`
}

// Config holds the scheduler's fixed parameters.
type Config struct {
	IntervalMs uint32
	EmptyMv    uint16
	FullMv     uint16
}

// Scheduler owns the single periodic sample timer. Everything except the
// timer callback runs on the main loop.
type Scheduler struct {
	timers  timer.Service
	sensor  sensor.Driver
	battery battery.Driver
	attrs   Attributes
	joined  func() bool
	logger  *slog.Logger

	intervalMs uint32
	emptyMv    uint16
	fullMv     uint16
	cal        Calibration

	handle   timer.Handle
	hasTimer bool
	pending  atomic.Bool

	sensorReady       bool
	batteryReady      bool
	networkDownLogged bool
	sensorFailLogged  bool
	batteryFailLogged bool
	lastCycle         uint32
	cycles            uint32
	last              Reading
	onSample          func(Reading)
}

// New creates a scheduler. joined reports whether the node is on a network.
func New(cfg Config, timers timer.Service, s sensor.Driver, b battery.Driver, attrs Attributes, joined func() bool, logger *slog.Logger) *Scheduler {
	if cfg.EmptyMv == 0 && cfg.FullMv == 0 {
		cfg.EmptyMv, cfg.FullMv = battery.DefaultEmptyMv, battery.DefaultFullMv
	}
	return &Scheduler{
		timers:     timers,
		sensor:     s,
		battery:    b,
		attrs:      attrs,
		joined:     joined,
		logger:     logger,
		intervalMs: clampInterval(cfg.IntervalMs),
		emptyMv:    cfg.EmptyMv,
		fullMv:     cfg.FullMv,
	}
}

func clampInterval(ms uint32) uint32 {
	if ms < MinIntervalMs {
		return MinIntervalMs
	}
	return ms
}

// ErrNoDevices is returned by Init when neither sensor nor battery works.
var ErrNoDevices = errors.New("sampler: neither sensor nor battery monitor initialised")

// Init initialises the sensor and battery. The timer is not started until
// Start.
func (s *Scheduler) Init() error {
	s.pending.Store(false)
	s.networkDownLogged = false

	if s.battery != nil {
		if err := s.battery.Init(); err != nil {
			s.logger.Error("battery monitoring init failed", "err", err)
		} else {
			s.batteryReady = true
			s.logger.Info("battery monitoring initialised")
		}
	}
	if s.sensor != nil {
		if err := s.sensor.Init(); err != nil {
			s.logger.Error("sensor init failed", "err", err)
		} else {
			s.sensorReady = true
			s.logger.Info("sensor initialised", "sensor", s.sensor.Name(),
				"humidity", s.sensor.HasHumidity(), "pressure", s.sensor.HasPressure())
		}
	}
	if !s.sensorReady && !s.batteryReady {
		return ErrNoDevices
	}
	s.logger.Info("sensor poll interval set, armed on network up", "interval_s", s.intervalMs/1000)
	return nil
}

// OnSample installs a hook called after every completed cycle.
func (s *Scheduler) OnSample(fn func(Reading)) { s.onSample = fn }

// SetCalibration replaces the calibration offsets.
func (s *Scheduler) SetCalibration(c Calibration) { s.cal = c }

// Start ensures the periodic timer runs and requests an immediate sample.
func (s *Scheduler) Start() {
	if err := s.ensureTimer(); err != nil {
		s.logger.Error("sensor periodic timer start failed", "err", err)
		return
	}
	s.lastCycle = s.timers.NowTicks()
	s.pending.Store(true)
	s.networkDownLogged = false
	s.logger.Info("starting periodic sensor updates", "interval_s", s.intervalMs/1000)
}

func (s *Scheduler) ensureTimer() error {
	if !s.hasTimer {
		h, err := s.timers.StartPeriodic(s.intervalMs, s.onTimer)
		if err != nil {
			return err
		}
		s.handle, s.hasTimer = h, true
		return nil
	}
	if !s.timers.Running(s.handle) {
		return s.timers.Restart(s.handle, s.intervalMs)
	}
	return nil
}

// Stop halts the timer and drops any pending sample.
func (s *Scheduler) Stop() {
	if s.hasTimer && s.timers.Running(s.handle) {
		if err := s.timers.Stop(s.handle); err != nil {
			s.logger.Warn("sensor timer stop failed", "err", err)
		}
	}
	s.pending.Store(false)
	s.networkDownLogged = false
}

// onTimer runs on the timer goroutine.
func (s *Scheduler) onTimer() {
	s.pending.Store(true)
}

// RequestSample asks for a sample on the next Process.
func (s *Scheduler) RequestSample() {
	s.pending.Store(true)
}

// Pending reports whether a sample is waiting.
func (s *Scheduler) Pending() bool { return s.pending.Load() }

// Running reports whether the periodic timer is running.
func (s *Scheduler) Running() bool {
	return s.hasTimer && s.timers.Running(s.handle)
}

// IntervalMs returns the current sampling interval.
func (s *Scheduler) IntervalMs() uint32 { return s.intervalMs }

// Last returns the most recent reading.
func (s *Scheduler) Last() Reading { return s.last }

// Cycles returns the number of completed cycles.
func (s *Scheduler) Cycles() uint32 { return s.cycles }

// SetInterval changes the sampling interval, rescheduling a running timer.
func (s *Scheduler) SetInterval(ms uint32) {
	if ms < MinIntervalMs {
		s.logger.Warn("interval too short, using minimum", "requested_ms", ms, "min_ms", MinIntervalMs)
	}
	s.intervalMs = clampInterval(ms)
	if !s.Running() {
		s.logger.Info("sensor interval stored", "interval_s", s.intervalMs/1000)
		return
	}
	if err := s.timers.Restart(s.handle, s.intervalMs); err != nil {
		s.logger.Error("sensor periodic timer restart failed", "err", err)
		return
	}
	s.logger.Info("sensor update interval changed", "interval_s", s.intervalMs/1000)
}

// Process consumes a pending sample request. Reads happen only while
// joined.
func (s *Scheduler) Process() {
	if !s.pending.Swap(false) {
		return
	}
	if !s.joined() {
		if !s.networkDownLogged {
			s.logger.Info("network down: sensor reads suspended")
			s.networkDownLogged = true
		}
		return
	}
	s.networkDownLogged = false
	s.cycle()
}

// Watchdog restarts a stalled timer while joined.
func (s *Scheduler) Watchdog(now uint32) {
	if !s.joined() {
		return
	}
	stale := s.timers.TicksToMs(now-s.lastCycle) > watchdogFactor*s.intervalMs
	if s.Running() && !stale {
		return
	}
	s.logger.Warn("sensor watchdog: restarting timer", "running", s.Running(), "stale", stale)
	if s.hasTimer {
		if err := s.timers.Restart(s.handle, s.intervalMs); err != nil {
			s.logger.Error("sensor watchdog restart failed", "err", err)
		}
	} else if err := s.ensureTimer(); err != nil {
		s.logger.Error("sensor watchdog start failed", "err", err)
	}
	s.lastCycle = now
	s.pending.Store(true)
}

func (s *Scheduler) cycle() {
	r := Reading{Tick: s.timers.NowTicks()}
	s.sampleSensor(&r)
	s.sampleBattery(&r)
	s.lastCycle = r.Tick
	s.cycles++
	s.last = r
	if s.onSample != nil {
		s.onSample(r)
	}
}

func (s *Scheduler) sampleSensor(r *Reading) {
	if !s.sensorReady {
		return
	}
	sample, err := s.sensor.Read()
	if err != nil {
		if !s.sensorFailLogged {
			s.logger.Error("sensor read failed", "sensor", s.sensor.Name(), "err", err)
			s.sensorFailLogged = true
		}
		return
	}
	if s.sensorFailLogged {
		s.logger.Info("sensor read recovered", "sensor", s.sensor.Name())
		s.sensorFailLogged = false
	}
	s.logger.Debug("sensor read (raw)", "temperature", sample.Temperature, "humidity", sample.Humidity, "pressure_pa", sample.Pressure)

	r.SensorOK = true
	r.Temperature = mathx.ClampToInt16(sample.Temperature + int32(s.cal.Temperature))
	s.publish(clusters.IDTemperature, clusters.AttrMeasuredValue, le16(uint16(r.Temperature)))

	if sample.HasHumidity {
		r.HasHumidity = true
		r.Humidity = uint16(mathx.Clamp(sample.Humidity+int32(s.cal.Humidity), 0, 10000))
		s.publish(clusters.IDHumidity, clusters.AttrMeasuredValue, le16(r.Humidity))
	}
	if sample.HasPressure {
		r.HasPressure = true
		pa := sample.Pressure + int32(s.cal.Pressure)*10
		r.PressureKPa = mathx.ClampToInt16(pa / 1000)
		s.publish(clusters.IDPressure, clusters.AttrMeasuredValue, le16(uint16(r.PressureKPa)))
	}
	s.logger.Info("sensor sample", "temperature", r.Temperature, "humidity", r.Humidity, "pressure_kpa", r.PressureKPa)
}

func (s *Scheduler) sampleBattery(r *Reading) {
	if !s.batteryReady {
		return
	}
	mv := s.battery.ReadMillivolts()
	if mv == 0 || !s.battery.LastSampleValid() {
		if !s.batteryFailLogged {
			s.logger.Warn("battery sample invalid", "raw", s.battery.LastRaw())
			s.batteryFailLogged = true
		}
		return
	}
	if s.batteryFailLogged {
		s.logger.Info("battery read recovered", "mv", mv)
		s.batteryFailLogged = false
	}
	r.BatteryOK = true
	r.BatteryMv = mv
	r.BatteryPercent = battery.Percent(mv, s.emptyMv, s.fullMv)
	s.publish(clusters.IDPowerConfig, clusters.AttrBatteryVoltage, []byte{battery.Decivolts(mv)})
	s.publish(clusters.IDPowerConfig, clusters.AttrBatteryPercentage, []byte{r.BatteryPercent})
	s.logger.Info("battery sample", "raw", s.battery.LastRaw(), "mv", mv, "percent_x2", r.BatteryPercent)
}

func (s *Scheduler) publish(cluster, attr uint16, value []byte) {
	if err := s.attrs.Write(cluster, attr, value); err != nil {
		s.logger.Error("attribute update failed",
			"cluster", fmt.Sprintf("0x%04X", cluster),
			"attr", fmt.Sprintf("0x%04X", attr),
			"err", err)
		return
	}
	s.attrs.NotifyChanged(cluster, attr, value)
}

func le16(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}
