// Package battery measures the supply voltage of the node.
package battery

import (
	"zigbee-sensor-node/internal/mathx"
)

// Default thresholds for a 2xAAA alkaline pack.
const (
	DefaultEmptyMv = 1800
	DefaultFullMv  = 3200
)

// Plausible supply range; readings outside are treated as ADC faults.
const (
	minPlausibleMv = 1000
	maxPlausibleMv = 4500
)

// Driver reads the battery voltage.
type Driver interface {
	Init() error
	// ReadMillivolts returns the voltage, or 0 when no reading was possible.
	ReadMillivolts() uint16
	// LastSampleValid reports whether the last reading looked sane.
	LastSampleValid() bool
	// LastRaw returns the last raw ADC code.
	LastRaw() uint16
}

// Percent converts a voltage to the ZCL BatteryPercentageRemaining scale
// (0..200, half-percent steps), linear between empty and full.
func Percent(mv, emptyMv, fullMv uint16) uint8 {
	if fullMv <= emptyMv {
		return 0
	}
	p := (int64(mv) - int64(emptyMv)) * 200 / (int64(fullMv) - int64(emptyMv))
	return uint8(mathx.Clamp(p, 0, 200))
}

// Decivolts converts millivolts to the 100 mV units of BatteryVoltage.
func Decivolts(mv uint16) uint8 {
	return mathx.ClampToUint8(mv / 100)
}

// Fixed is a Driver reporting a constant voltage.
type Fixed struct {
	Millivolts uint16
	Valid      bool
}

// NewFixed returns a Fixed driver reporting mv.
func NewFixed(mv uint16) *Fixed {
	return &Fixed{Millivolts: mv, Valid: true}
}

func (f *Fixed) Init() error { return nil }

func (f *Fixed) ReadMillivolts() uint16 {
	if !f.Valid {
		return 0
	}
	return f.Millivolts
}

func (f *Fixed) LastSampleValid() bool { return f.Valid }

func (f *Fixed) LastRaw() uint16 { return f.Millivolts }
