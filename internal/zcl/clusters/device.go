// Package clusters defines the server clusters of the sensor endpoint.
package clusters

import "zigbee-sensor-node/internal/zcl"

// Cluster IDs served by the sensor endpoint.
const (
	IDBasic       uint16 = 0x0000
	IDPowerConfig uint16 = 0x0001
	IDIdentify    uint16 = 0x0003
	IDTemperature uint16 = 0x0402
	IDPressure    uint16 = 0x0403
	IDHumidity    uint16 = 0x0405
)

// Attribute IDs written by the sampler.
const (
	AttrMeasuredValue     uint16 = 0x0000
	AttrBatteryVoltage    uint16 = 0x0020
	AttrBatteryPercentage uint16 = 0x0021
)

var Basic = zcl.ClusterDef{
	ID:   IDBasic,
	Name: "Basic",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "ZCLVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0001, Name: "ApplicationVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "StackVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0003, Name: "HWVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0004, Name: "ManufacturerName", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0005, Name: "ModelIdentifier", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0006, Name: "DateCode", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0007, Name: "PowerSource", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
		{ID: 0x4000, Name: "SWBuildID", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
	},
}

// DeviceConfig is the manufacturer-specific extension of Basic holding the
// runtime configuration.
var DeviceConfig = zcl.ClusterDef{
	ID:   IDBasic,
	Name: "Basic",
	Attributes: []zcl.AttributeDef{
		{ID: 0xF000, Manufacturer: zcl.ManufacturerCode, Name: "SensorReadInterval", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0xF001, Manufacturer: zcl.ManufacturerCode, Name: "TemperatureOffset", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0xF002, Manufacturer: zcl.ManufacturerCode, Name: "HumidityOffset", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0xF003, Manufacturer: zcl.ManufacturerCode, Name: "PressureOffset", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0xF004, Manufacturer: zcl.ManufacturerCode, Name: "LEDEnable", Type: zcl.TypeBool, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0xF010, Manufacturer: zcl.ManufacturerCode, Name: "TemperatureReportThreshold", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0xF011, Manufacturer: zcl.ManufacturerCode, Name: "HumidityReportThreshold", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0xF012, Manufacturer: zcl.ManufacturerCode, Name: "PressureReportThreshold", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
	},
}

var PowerConfiguration = zcl.ClusterDef{
	ID:   IDPowerConfig,
	Name: "Power Configuration",
	Attributes: []zcl.AttributeDef{
		{ID: AttrBatteryVoltage, Name: "BatteryVoltage", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: AttrBatteryPercentage, Name: "BatteryPercentageRemaining", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0031, Name: "BatterySize", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
		{ID: 0x0033, Name: "BatteryQuantity", Type: zcl.TypeUint8, Access: zcl.AccessRead},
	},
}

var Identify = zcl.ClusterDef{
	ID:   IDIdentify,
	Name: "Identify",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "IdentifyTime", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
	},
}

var TemperatureMeasurement = zcl.ClusterDef{
	ID:   IDTemperature,
	Name: "Temperature Measurement",
	Attributes: []zcl.AttributeDef{
		{ID: AttrMeasuredValue, Name: "MeasuredValue", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0001, Name: "MinMeasuredValue", Type: zcl.TypeInt16, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "MaxMeasuredValue", Type: zcl.TypeInt16, Access: zcl.AccessRead},
	},
}

var PressureMeasurement = zcl.ClusterDef{
	ID:   IDPressure,
	Name: "Pressure Measurement",
	Attributes: []zcl.AttributeDef{
		{ID: AttrMeasuredValue, Name: "MeasuredValue", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0001, Name: "MinMeasuredValue", Type: zcl.TypeInt16, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "MaxMeasuredValue", Type: zcl.TypeInt16, Access: zcl.AccessRead},
	},
}

var RelativeHumidity = zcl.ClusterDef{
	ID:   IDHumidity,
	Name: "Relative Humidity",
	Attributes: []zcl.AttributeDef{
		{ID: AttrMeasuredValue, Name: "MeasuredValue", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0001, Name: "MinMeasuredValue", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "MaxMeasuredValue", Type: zcl.TypeUint16, Access: zcl.AccessRead},
	},
}

// Profile selects which measurement clusters the endpoint exposes.
type Profile struct {
	Humidity bool
	Pressure bool
}

// Register adds the endpoint's clusters to reg and returns their IDs in
// the order they go into the simple descriptor.
func Register(reg *zcl.Registry, p Profile) []uint16 {
	defs := []zcl.ClusterDef{Basic, DeviceConfig, PowerConfiguration, Identify, TemperatureMeasurement}
	if p.Pressure {
		defs = append(defs, PressureMeasurement)
	}
	if p.Humidity {
		defs = append(defs, RelativeHumidity)
	}
	var ids []uint16
	seen := make(map[uint16]bool)
	for _, d := range defs {
		reg.Register(d)
		if !seen[d.ID] {
			seen[d.ID] = true
			ids = append(ids, d.ID)
		}
	}
	return ids
}
