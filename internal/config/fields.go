// Package config holds the node's runtime-tunable configuration: the
// manufacturer-specific attributes of the Basic cluster, their validation,
// and their persistence.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"zigbee-sensor-node/internal/zcl"
)

// Configuration attribute IDs (Basic cluster, manufacturer 0x1002).
const (
	AttrReadInterval         uint16 = 0xF000
	AttrTemperatureOffset    uint16 = 0xF001
	AttrHumidityOffset       uint16 = 0xF002
	AttrPressureOffset       uint16 = 0xF003
	AttrLEDEnable            uint16 = 0xF004
	AttrTemperatureThreshold uint16 = 0xF010
	AttrHumidityThreshold    uint16 = 0xF011
	AttrPressureThreshold    uint16 = 0xF012
)

// RuntimeConfig is the set of values in effect. Offsets and thresholds are
// in hundredths of the measured unit.
type RuntimeConfig struct {
	ReadIntervalSec      uint16 `json:"sensor_read_interval"`
	TemperatureOffset    int16  `json:"temperature_offset"`
	HumidityOffset       int16  `json:"humidity_offset"`
	PressureOffset       int16  `json:"pressure_offset"`
	LEDEnable            bool   `json:"led_enable"`
	TemperatureThreshold uint16 `json:"temperature_report_threshold"`
	HumidityThreshold    uint16 `json:"humidity_report_threshold"`
	PressureThreshold    uint16 `json:"pressure_report_threshold"`
}

// IntervalMs returns the sampling interval in milliseconds.
func (c RuntimeConfig) IntervalMs() uint32 {
	return uint32(c.ReadIntervalSec) * 1000
}

// Field describes one configuration attribute.
type Field struct {
	ID      uint16
	Name    string
	Type    uint8
	Min     int64
	Max     int64
	Default int64

	get func(*RuntimeConfig) int64
	set func(*RuntimeConfig, int64)
}

// Fields lists every configuration attribute in ID order.
var Fields = []Field{
	{
		ID: AttrReadInterval, Name: "sensor_read_interval", Type: zcl.TypeUint16,
		Min: 10, Max: 3600, Default: 60,
		get: func(c *RuntimeConfig) int64 { return int64(c.ReadIntervalSec) },
		set: func(c *RuntimeConfig, v int64) { c.ReadIntervalSec = uint16(v) },
	},
	{
		ID: AttrTemperatureOffset, Name: "temperature_offset", Type: zcl.TypeInt16,
		Min: -500, Max: 500, Default: 0,
		get: func(c *RuntimeConfig) int64 { return int64(c.TemperatureOffset) },
		set: func(c *RuntimeConfig, v int64) { c.TemperatureOffset = int16(v) },
	},
	{
		ID: AttrHumidityOffset, Name: "humidity_offset", Type: zcl.TypeInt16,
		Min: -1000, Max: 1000, Default: 0,
		get: func(c *RuntimeConfig) int64 { return int64(c.HumidityOffset) },
		set: func(c *RuntimeConfig, v int64) { c.HumidityOffset = int16(v) },
	},
	{
		ID: AttrPressureOffset, Name: "pressure_offset", Type: zcl.TypeInt16,
		Min: -500, Max: 500, Default: 0,
		get: func(c *RuntimeConfig) int64 { return int64(c.PressureOffset) },
		set: func(c *RuntimeConfig, v int64) { c.PressureOffset = int16(v) },
	},
	{
		ID: AttrLEDEnable, Name: "led_enable", Type: zcl.TypeBool,
		Min: 0, Max: 1, Default: 1,
		get: func(c *RuntimeConfig) int64 {
			if c.LEDEnable {
				return 1
			}
			return 0
		},
		set: func(c *RuntimeConfig, v int64) { c.LEDEnable = v != 0 },
	},
	{
		ID: AttrTemperatureThreshold, Name: "temperature_report_threshold", Type: zcl.TypeUint16,
		Min: 1, Max: 5000, Default: 100,
		get: func(c *RuntimeConfig) int64 { return int64(c.TemperatureThreshold) },
		set: func(c *RuntimeConfig, v int64) { c.TemperatureThreshold = uint16(v) },
	},
	{
		ID: AttrHumidityThreshold, Name: "humidity_report_threshold", Type: zcl.TypeUint16,
		Min: 1, Max: 5000, Default: 100,
		get: func(c *RuntimeConfig) int64 { return int64(c.HumidityThreshold) },
		set: func(c *RuntimeConfig, v int64) { c.HumidityThreshold = uint16(v) },
	},
	{
		ID: AttrPressureThreshold, Name: "pressure_report_threshold", Type: zcl.TypeUint16,
		Min: 1, Max: 1000, Default: 1,
		get: func(c *RuntimeConfig) int64 { return int64(c.PressureThreshold) },
		set: func(c *RuntimeConfig, v int64) { c.PressureThreshold = uint16(v) },
	},
}

// Defaults returns the documented default configuration.
func Defaults() RuntimeConfig {
	var c RuntimeConfig
	for _, f := range Fields {
		f.set(&c, f.Default)
	}
	return c
}

// Lookup finds a field by ID.
func Lookup(id uint16) (Field, bool) {
	for _, f := range Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// LookupKey finds a field by name or by hex attribute ID ("0xF000").
func LookupKey(key string) (Field, bool) {
	for _, f := range Fields {
		if f.Name == key {
			return f, true
		}
	}
	if strings.HasPrefix(key, "0x") || strings.HasPrefix(key, "0X") {
		id, err := strconv.ParseUint(key[2:], 16, 16)
		if err == nil {
			return Lookup(uint16(id))
		}
	}
	return Field{}, false
}

// Value returns the field's current value from c.
func (f Field) Value(c RuntimeConfig) interface{} {
	v := f.get(&c)
	switch f.Type {
	case zcl.TypeBool:
		return v != 0
	case zcl.TypeInt16:
		return int16(v)
	}
	return uint16(v)
}

func (f Field) inRange(v int64) bool {
	return v >= f.Min && v <= f.Max
}

// encode returns the wire form of the field's value in c.
func (f Field) encode(c RuntimeConfig) []byte {
	// Values held in RuntimeConfig always fit their wire type.
	raw, _ := zcl.EncodeValue(f.Type, f.Value(c))
	return raw
}

// decode parses a wire value of the field's type.
func (f Field) decode(raw []byte) (int64, error) {
	val, n, err := zcl.DecodeValue(f.Type, raw)
	if err != nil {
		return 0, err
	}
	if n != len(raw) {
		return 0, fmt.Errorf("%d trailing bytes", len(raw)-n)
	}
	switch v := val.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case uint16:
		return int64(v), nil
	case int16:
		return int64(v), nil
	}
	return 0, fmt.Errorf("unexpected value %T", val)
}
