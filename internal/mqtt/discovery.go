//go:build !no_mqtt

package mqtt

import (
	"fmt"

	"zigbee-sensor-node/internal/config"
	"zigbee-sensor-node/internal/zcl"
)

// DeviceInfo describes the node in the Home Assistant device registry.
type DeviceInfo struct {
	Name         string
	Manufacturer string
	Model        string
	SWVersion    string
	Humidity     bool
	Pressure     bool
}

type deviceInfo struct {
	DeviceInfo
	id string
}

func newDeviceInfo(d DeviceInfo, device string) deviceInfo {
	if d.Name == "" {
		d.Name = device
	}
	return deviceInfo{DeviceInfo: d, id: "zigbee_sensor_" + device}
}

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string
	Payload []byte // JSON, empty means delete
}

type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	Name         string   `json:"name"`
}

type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	CommandTemplate   string   `json:"command_template,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	StateOn           string   `json:"state_on,omitempty"`
	StateOff          string   `json:"state_off,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	Min               *float64 `json:"min,omitempty"`
	Max               *float64 `json:"max,omitempty"`
	Mode              string   `json:"mode,omitempty"`
	Device            haDevice `json:"device"`
}

type entityBuilder struct {
	info   deviceInfo
	topics topics
	dev    haDevice
}

func (e entityBuilder) base(component, objectID, suffix string) (string, haDiscovery) {
	topic := fmt.Sprintf("homeassistant/%s/%s/%s/config", component, e.info.id, objectID)
	return topic, haDiscovery{
		Name:              e.info.Name + " " + suffix,
		UniqueID:          e.info.id + "_" + objectID,
		AvailabilityTopic: e.topics.availability,
		Device:            e.dev,
	}
}

func (e entityBuilder) sensor(objectID, suffix, deviceClass, unit string) discoveryMsg {
	topic, p := e.base("sensor", objectID, suffix)
	p.StateTopic = e.topics.state
	p.ValueTemplate = "{{ value_json." + objectID + " }}"
	p.DeviceClass = deviceClass
	p.UnitOfMeasurement = unit
	p.StateClass = "measurement"
	return discoveryMsg{Topic: topic, Payload: mustJSON(p)}
}

// number exposes a numeric configuration field. Offsets and thresholds are
// entered in the raw hundredths the attribute stores.
func (e entityBuilder) number(f config.Field, suffix, unit string) discoveryMsg {
	topic, p := e.base("number", f.Name, suffix)
	min, max := float64(f.Min), float64(f.Max)
	p.StateTopic = e.topics.config
	p.ValueTemplate = "{{ value_json." + f.Name + " }}"
	p.CommandTopic = e.topics.set
	p.CommandTemplate = fmt.Sprintf(`{"%s": {{ value }}}`, f.Name)
	p.UnitOfMeasurement = unit
	p.EntityCategory = "config"
	p.Min, p.Max = &min, &max
	p.Mode = "box"
	return discoveryMsg{Topic: topic, Payload: mustJSON(p)}
}

func (e entityBuilder) toggle(f config.Field, suffix string) discoveryMsg {
	topic, p := e.base("switch", f.Name, suffix)
	p.StateTopic = e.topics.config
	p.ValueTemplate = "{{ 'ON' if value_json." + f.Name + " else 'OFF' }}"
	p.CommandTopic = e.topics.set
	p.PayloadOn = fmt.Sprintf(`{"%s": true}`, f.Name)
	p.PayloadOff = fmt.Sprintf(`{"%s": false}`, f.Name)
	p.StateOn, p.StateOff = "ON", "OFF"
	p.EntityCategory = "config"
	return discoveryMsg{Topic: topic, Payload: mustJSON(p)}
}

func (e entityBuilder) sampleButton() discoveryMsg {
	topic, p := e.base("button", "sample", "Sample Now")
	p.CommandTopic = e.topics.set
	p.PayloadPress = `{"sample": true}`
	return discoveryMsg{Topic: topic, Payload: mustJSON(p)}
}

// configEntities maps configuration fields to their display names and
// units. Fields of measurements the profile lacks are skipped.
var configEntities = []struct {
	id       uint16
	suffix   string
	unit     string
	humidity bool
	pressure bool
}{
	{id: config.AttrReadInterval, suffix: "Read Interval", unit: "s"},
	{id: config.AttrTemperatureOffset, suffix: "Temperature Offset", unit: "0.01 °C"},
	{id: config.AttrHumidityOffset, suffix: "Humidity Offset", unit: "0.01 %", humidity: true},
	{id: config.AttrPressureOffset, suffix: "Pressure Offset", unit: "0.01 kPa", pressure: true},
	{id: config.AttrLEDEnable, suffix: "LED"},
	{id: config.AttrTemperatureThreshold, suffix: "Temperature Report Threshold", unit: "0.01 °C"},
	{id: config.AttrHumidityThreshold, suffix: "Humidity Report Threshold", unit: "0.01 %", humidity: true},
	{id: config.AttrPressureThreshold, suffix: "Pressure Report Threshold", unit: "kPa", pressure: true},
}

// buildDiscovery generates the node's discovery messages.
func buildDiscovery(info deviceInfo, t topics) []discoveryMsg {
	e := entityBuilder{
		info:   info,
		topics: t,
		dev: haDevice{
			Identifiers:  []string{info.id},
			Manufacturer: info.Manufacturer,
			Model:        info.Model,
			SWVersion:    info.SWVersion,
			Name:         info.Name,
		},
	}

	msgs := []discoveryMsg{e.sensor("temperature", "Temperature", "temperature", "°C")}
	if info.Humidity {
		msgs = append(msgs, e.sensor("humidity", "Humidity", "humidity", "%"))
	}
	if info.Pressure {
		msgs = append(msgs, e.sensor("pressure", "Pressure", "pressure", "hPa"))
	}
	msgs = append(msgs,
		e.sensor("battery", "Battery", "battery", "%"),
		e.sensor("voltage", "Battery Voltage", "voltage", "mV"),
	)

	for _, c := range configEntities {
		if (c.humidity && !info.Humidity) || (c.pressure && !info.Pressure) {
			continue
		}
		f, ok := config.Lookup(c.id)
		if !ok {
			continue
		}
		if f.Type == zcl.TypeBool {
			msgs = append(msgs, e.toggle(f, c.suffix))
		} else {
			msgs = append(msgs, e.number(f, c.suffix, c.unit))
		}
	}
	return append(msgs, e.sampleButton())
}
