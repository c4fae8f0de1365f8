//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"zigbee-sensor-node/internal/app"
	"zigbee-sensor-node/internal/config"
	"zigbee-sensor-node/internal/sampler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recorder) publish(topic string, payload []byte, retained bool) {
	r.mu.Lock()
	r.msgs = append(r.msgs, published{topic, append([]byte(nil), payload...), retained})
	r.mu.Unlock()
}

func (r *recorder) last(topic string) (published, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].topic == topic {
			return r.msgs[i], true
		}
	}
	return published{}, false
}

type fakeNode struct {
	conf    *config.Adapter
	events  *app.EventBus
	samples int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		conf:   config.NewAdapter(config.Defaults(), nil, testLogger()),
		events: app.NewEventBus(testLogger()),
	}
}

func (f *fakeNode) Events() *app.EventBus { return f.events }

func (f *fakeNode) SetConfig(_ context.Context, key string, value interface{}) error {
	return f.conf.Set(key, value)
}

func (f *fakeNode) ConfigSnapshot() map[string]interface{} { return f.conf.Snapshot() }

func (f *fakeNode) RequestSample() { f.samples++ }

func newTestBridge(node Node) (*Bridge, *recorder) {
	rec := &recorder{}
	b := newBridge(node, Config{TopicPrefix: "zigbee-sensor", DeviceName: "Living Room"}, DeviceInfo{
		Manufacturer: "Example",
		Model:        "ENV-1",
		Humidity:     true,
		Pressure:     true,
	}, rec.publish, testLogger())
	return b, rec
}

func TestTopics(t *testing.T) {
	tests := []struct {
		prefix, device string
		wantBase       string
	}{
		{"home", "Living Room", "home/living_room"},
		{"", "", "zigbee-sensor/sensor_node"},
		{"z", "attic-01", "z/attic-01"},
	}
	for _, tt := range tests {
		t.Run(tt.wantBase, func(t *testing.T) {
			tp := newTopics(tt.prefix, tt.device)
			if tp.base != tt.wantBase {
				t.Errorf("base = %q, want %q", tp.base, tt.wantBase)
			}
			if tp.set != tt.wantBase+"/set" {
				t.Errorf("set = %q", tp.set)
			}
		})
	}
}

func TestSampleTelemetry(t *testing.T) {
	node := newFakeNode()
	b, rec := newTestBridge(node)
	b.Start()
	defer b.Stop()

	node.events.Emit(app.Event{Type: app.EventSample, Data: sampler.Reading{
		SensorOK:       true,
		Temperature:    2150,
		HasHumidity:    true,
		Humidity:       4520,
		HasPressure:    true,
		PressureKPa:    101,
		BatteryOK:      true,
		BatteryMv:      2900,
		BatteryPercent: 150,
	}})

	msg, ok := rec.last("zigbee-sensor/living_room")
	if !ok {
		t.Fatal("no state published")
	}
	if !msg.retained {
		t.Error("state should be retained")
	}
	var state map[string]any
	if err := json.Unmarshal(msg.payload, &state); err != nil {
		t.Fatal(err)
	}
	want := map[string]float64{
		"temperature": 21.5,
		"humidity":    45.2,
		"pressure":    1010,
		"battery":     75,
		"voltage":     2900,
	}
	for k, v := range want {
		if state[k] != v {
			t.Errorf("%s = %v, want %v", k, state[k], v)
		}
	}
}

func TestSensorFailureKeepsLastValues(t *testing.T) {
	node := newFakeNode()
	b, rec := newTestBridge(node)
	b.Start()
	defer b.Stop()

	node.events.Emit(app.Event{Type: app.EventSample, Data: sampler.Reading{SensorOK: true, Temperature: 2000}})
	node.events.Emit(app.Event{Type: app.EventSample, Data: sampler.Reading{BatteryOK: true, BatteryMv: 3000, BatteryPercent: 200}})

	msg, _ := rec.last("zigbee-sensor/living_room")
	var state map[string]any
	if err := json.Unmarshal(msg.payload, &state); err != nil {
		t.Fatal(err)
	}
	if state["temperature"] != float64(20) {
		t.Errorf("temperature = %v, want 20", state["temperature"])
	}
	if state["battery"] != float64(100) {
		t.Errorf("battery = %v, want 100", state["battery"])
	}
}

func TestNetworkAndButtonEvents(t *testing.T) {
	node := newFakeNode()
	b, rec := newTestBridge(node)
	b.Start()
	defer b.Stop()

	node.events.Emit(app.Event{Type: app.EventNetworkState, Data: app.NetworkStateData{State: "joined", Channel: 20, PanID: 0xBEEF}})
	node.events.Emit(app.Event{Type: app.EventButton, Data: app.ButtonData{Action: "long_press", Joined: true}})

	msg, ok := rec.last("zigbee-sensor/living_room/network")
	if !ok {
		t.Fatal("network state not published")
	}
	var ns app.NetworkStateData
	if err := json.Unmarshal(msg.payload, &ns); err != nil {
		t.Fatal(err)
	}
	if ns.Channel != 20 || ns.PanID != 0xBEEF {
		t.Errorf("network = %+v", ns)
	}
	act, ok := rec.last("zigbee-sensor/living_room/action")
	if !ok || string(act.payload) != "long_press" || act.retained {
		t.Errorf("action = %+v", act)
	}
}

func TestHandleSet(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantSamples int
		wantLED     bool
		wantPeriod  uint16
	}{
		{"led off", `{"led_enable": false}`, 0, false, 60},
		{"interval and sample", `{"sensor_read_interval": 30, "sample": true}`, 1, true, 30},
		{"rejected value", `{"sensor_read_interval": 4000}`, 0, true, 60},
		{"garbage", `not json`, 0, true, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newFakeNode()
			b, rec := newTestBridge(node)
			b.handleSet([]byte(tt.payload))

			c := node.conf.Config()
			if c.LEDEnable != tt.wantLED {
				t.Errorf("led_enable = %v, want %v", c.LEDEnable, tt.wantLED)
			}
			if c.ReadIntervalSec != tt.wantPeriod {
				t.Errorf("interval = %d, want %d", c.ReadIntervalSec, tt.wantPeriod)
			}
			if node.samples != tt.wantSamples {
				t.Errorf("samples = %d, want %d", node.samples, tt.wantSamples)
			}
			if tt.name == "rejected value" {
				if _, ok := rec.last("zigbee-sensor/living_room/config"); !ok {
					t.Error("config should be republished after a set")
				}
			}
		})
	}
}

func TestConfigChangedRepublishes(t *testing.T) {
	node := newFakeNode()
	b, rec := newTestBridge(node)
	b.Start()
	defer b.Stop()

	if err := node.conf.Set("temperature_offset", -50); err != nil {
		t.Fatal(err)
	}
	node.events.Emit(app.Event{Type: app.EventConfigChanged, Time: time.Now()})

	msg, ok := rec.last("zigbee-sensor/living_room/config")
	if !ok {
		t.Fatal("config not published")
	}
	var cfg map[string]any
	if err := json.Unmarshal(msg.payload, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg["temperature_offset"] != float64(-50) {
		t.Errorf("temperature_offset = %v, want -50", cfg["temperature_offset"])
	}
}

func TestStopPublishesOffline(t *testing.T) {
	b, rec := newTestBridge(newFakeNode())
	b.Start()
	b.Stop()
	msg, ok := rec.last("zigbee-sensor/living_room/availability")
	if !ok || string(msg.payload) != "offline" {
		t.Errorf("availability = %q, want offline", msg.payload)
	}
}

func TestDiscovery(t *testing.T) {
	info := newDeviceInfo(DeviceInfo{Name: "Kitchen", Manufacturer: "Example", Humidity: true, Pressure: true}, "kitchen")
	tp := newTopics("zigbee-sensor", "kitchen")
	msgs := buildDiscovery(info, tp)

	byTopic := make(map[string]haDiscovery)
	for _, m := range msgs {
		var p haDiscovery
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			t.Fatalf("%s: %v", m.Topic, err)
		}
		byTopic[m.Topic] = p
	}

	temp, ok := byTopic["homeassistant/sensor/zigbee_sensor_kitchen/temperature/config"]
	if !ok {
		t.Fatal("temperature discovery missing")
	}
	if temp.Name != "Kitchen Temperature" {
		t.Errorf("name = %q", temp.Name)
	}
	if temp.StateTopic != "zigbee-sensor/kitchen" || temp.AvailabilityTopic != "zigbee-sensor/kitchen/availability" {
		t.Errorf("topics = %q, %q", temp.StateTopic, temp.AvailabilityTopic)
	}
	if temp.UnitOfMeasurement != "°C" || temp.DeviceClass != "temperature" {
		t.Errorf("unit/class = %q/%q", temp.UnitOfMeasurement, temp.DeviceClass)
	}

	interval, ok := byTopic["homeassistant/number/zigbee_sensor_kitchen/sensor_read_interval/config"]
	if !ok {
		t.Fatal("interval number missing")
	}
	if interval.Min == nil || *interval.Min != 10 || interval.Max == nil || *interval.Max != 3600 {
		t.Errorf("interval range = %v..%v", interval.Min, interval.Max)
	}
	if interval.CommandTopic != "zigbee-sensor/kitchen/set" {
		t.Errorf("command_topic = %q", interval.CommandTopic)
	}
	if !strings.Contains(interval.CommandTemplate, `"sensor_read_interval"`) {
		t.Errorf("command_template = %q", interval.CommandTemplate)
	}

	led, ok := byTopic["homeassistant/switch/zigbee_sensor_kitchen/led_enable/config"]
	if !ok {
		t.Fatal("led switch missing")
	}
	if led.PayloadOff != `{"led_enable": false}` {
		t.Errorf("payload_off = %q", led.PayloadOff)
	}
	if _, ok := byTopic["homeassistant/button/zigbee_sensor_kitchen/sample/config"]; !ok {
		t.Error("sample button missing")
	}
}

func TestDiscoveryFollowsProfile(t *testing.T) {
	info := newDeviceInfo(DeviceInfo{}, "bmp")
	msgs := buildDiscovery(info, newTopics("", "bmp"))
	for _, m := range msgs {
		if strings.Contains(m.Topic, "humidity") || strings.Contains(m.Topic, "pressure") {
			t.Errorf("unexpected entity %s for a temperature-only profile", m.Topic)
		}
	}
	if info.Name != "bmp" {
		t.Errorf("default name = %q, want bmp", info.Name)
	}
}
