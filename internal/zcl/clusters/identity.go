package clusters

import (
	"fmt"

	"zigbee-sensor-node/internal/zcl"
)

// Identity is the static description served by the Basic cluster.
type Identity struct {
	Manufacturer string
	Model        string
	DateCode     string
	SWBuildID    string
	AppVersion   uint8
	HWVersion    uint8
}

// Writer stores attribute values.
type Writer interface {
	Write(cluster, attrID uint16, value []byte) error
}

const (
	zclVersion         = 0x08
	powerSourceBattery = 0x03
	batterySizeAA      = 0x03
)

type staticValue struct {
	cluster uint16
	attr    uint16
	typeID  uint8
	value   interface{}
}

// WriteStatic fills the attributes that never change at runtime and marks
// the measured values invalid until the first sample.
func WriteStatic(w Writer, id Identity, p Profile) error {
	values := []staticValue{
		{IDBasic, 0x0000, zcl.TypeUint8, zclVersion},
		{IDBasic, 0x0001, zcl.TypeUint8, id.AppVersion},
		{IDBasic, 0x0003, zcl.TypeUint8, id.HWVersion},
		{IDBasic, 0x0004, zcl.TypeCharStr, id.Manufacturer},
		{IDBasic, 0x0005, zcl.TypeCharStr, id.Model},
		{IDBasic, 0x0006, zcl.TypeCharStr, id.DateCode},
		{IDBasic, 0x0007, zcl.TypeEnum8, powerSourceBattery},
		{IDBasic, 0x4000, zcl.TypeCharStr, id.SWBuildID},
		{IDPowerConfig, 0x0031, zcl.TypeEnum8, batterySizeAA},
		{IDPowerConfig, 0x0033, zcl.TypeUint8, 1},
		{IDIdentify, 0x0000, zcl.TypeUint16, 0},
		{IDTemperature, AttrMeasuredValue, zcl.TypeInt16, -0x8000},
		{IDTemperature, 0x0001, zcl.TypeInt16, -4000},
		{IDTemperature, 0x0002, zcl.TypeInt16, 8500},
	}
	if p.Pressure {
		values = append(values,
			staticValue{IDPressure, AttrMeasuredValue, zcl.TypeInt16, -0x8000},
			staticValue{IDPressure, 0x0001, zcl.TypeInt16, 30},
			staticValue{IDPressure, 0x0002, zcl.TypeInt16, 110},
		)
	}
	if p.Humidity {
		values = append(values,
			staticValue{IDHumidity, AttrMeasuredValue, zcl.TypeUint16, 0xFFFF},
			staticValue{IDHumidity, 0x0001, zcl.TypeUint16, 0},
			staticValue{IDHumidity, 0x0002, zcl.TypeUint16, 10000},
		)
	}

	for _, v := range values {
		raw, err := zcl.EncodeValue(v.typeID, v.value)
		if err != nil {
			return fmt.Errorf("encode 0x%04X/0x%04X: %w", v.cluster, v.attr, err)
		}
		if err := w.Write(v.cluster, v.attr, raw); err != nil {
			return err
		}
	}
	return nil
}
