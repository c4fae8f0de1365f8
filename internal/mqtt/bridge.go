//go:build !no_mqtt

// Package mqtt mirrors the node's telemetry to an MQTT broker, publishes
// Home Assistant discovery and accepts configuration writes on a /set topic.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-sensor-node/internal/app"
	"zigbee-sensor-node/internal/sampler"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	DeviceName  string
	ClientID    string
}

// Node is the part of the application the bridge drives.
type Node interface {
	Events() *app.EventBus
	SetConfig(ctx context.Context, key string, value interface{}) error
	ConfigSnapshot() map[string]interface{}
	RequestSample()
}

type publishFunc func(topic string, payload []byte, retained bool)

// Bridge connects the node's event bus to MQTT.
type Bridge struct {
	client  pahomqtt.Client
	node    Node
	pub     publishFunc
	topics  topics
	info    deviceInfo
	logger  *slog.Logger
	unsub   func()
	timeout time.Duration

	mu    sync.Mutex
	state map[string]any
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(node Node, cfg Config, info DeviceInfo, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(node, cfg, info, nil, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "sensor-node-" + b.topics.device
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetWill(b.topics.availability, "offline", 1, true).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.onConnect(c)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	b.client = client
	b.pub = b.publishPaho
	return b, nil
}

func newBridge(node Node, cfg Config, info DeviceInfo, pub publishFunc, logger *slog.Logger) *Bridge {
	t := newTopics(cfg.TopicPrefix, cfg.DeviceName)
	return &Bridge{
		node:    node,
		pub:     pub,
		topics:  t,
		info:    newDeviceInfo(info, t.device),
		logger:  logger.With("component", "mqtt"),
		timeout: 5 * time.Second,
		state:   make(map[string]any),
	}
}

// Start subscribes to node events.
func (b *Bridge) Start() {
	b.unsub = b.node.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "base", b.topics.base)
}

// Stop publishes offline state, unsubscribes and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publish(b.topics.availability, []byte("offline"), true)
	if b.client != nil {
		b.client.Disconnect(1000)
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) onConnect(c pahomqtt.Client) {
	b.publish(b.topics.availability, []byte("online"), true)
	for _, msg := range buildDiscovery(b.info, b.topics) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.publishConfig()
	c.Subscribe(b.topics.set, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleSet(msg.Payload())
	})
}

func (b *Bridge) handleEvent(ev app.Event) {
	switch ev.Type {
	case app.EventSample:
		if r, ok := ev.Data.(sampler.Reading); ok {
			b.handleSample(r, ev.Time)
		}
	case app.EventNetworkState:
		if d, ok := ev.Data.(app.NetworkStateData); ok {
			b.updateState(map[string]any{"network": d.State})
			b.publish(b.topics.network, mustJSON(d), true)
		}
	case app.EventConfigChanged:
		b.publishConfig()
	case app.EventButton:
		if d, ok := ev.Data.(app.ButtonData); ok {
			b.publish(b.topics.action, []byte(d.Action), false)
		}
	}
}

// handleSample converts a reading from ZCL units to the units Home
// Assistant displays.
func (b *Bridge) handleSample(r sampler.Reading, at time.Time) {
	props := map[string]any{"last_seen": at.Format(time.RFC3339)}
	if r.SensorOK {
		props["temperature"] = float64(r.Temperature) / 100
		if r.HasHumidity {
			props["humidity"] = float64(r.Humidity) / 100
		}
		if r.HasPressure {
			props["pressure"] = float64(r.PressureKPa) * 10
		}
	}
	if r.BatteryOK {
		props["battery"] = float64(r.BatteryPercent) / 2
		props["voltage"] = r.BatteryMv
	}
	b.updateState(props)
}

func (b *Bridge) updateState(props map[string]any) {
	b.mu.Lock()
	for k, v := range props {
		b.state[k] = v
	}
	payload := mustJSON(b.state)
	b.mu.Unlock()
	b.publish(b.topics.state, payload, true)
}

func (b *Bridge) publishConfig() {
	b.publish(b.topics.config, mustJSON(b.node.ConfigSnapshot()), true)
}

// handleSet applies a JSON object of configuration keys. "sample": true
// requests an immediate sample instead.
func (b *Bridge) handleSet(payload []byte) {
	var cmd map[string]interface{}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid set payload", "err", err)
		return
	}
	if v, ok := cmd["sample"]; ok {
		delete(cmd, "sample")
		if on, _ := v.(bool); on {
			b.node.RequestSample()
		}
	}

	keys := make([]string, 0, len(cmd))
	for k := range cmd {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		err := b.node.SetConfig(ctx, k, cmd[k])
		cancel()
		if err != nil {
			b.logger.Warn("config set rejected", "key", k, "value", cmd[k], "err", err)
		}
	}
	// Publish the result so rejected values snap back in the UI.
	if len(keys) > 0 {
		b.publishConfig()
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if b.pub != nil {
		b.pub(topic, payload, retained)
	}
}

func (b *Bridge) publishPaho(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// topics are the node's MQTT topics under <prefix>/<device>.
type topics struct {
	device       string
	base         string
	state        string
	availability string
	network      string
	config       string
	action       string
	set          string
}

func newTopics(prefix, device string) topics {
	if prefix == "" {
		prefix = "zigbee-sensor"
	}
	device = sanitizeTopic(device)
	if device == "" {
		device = "sensor_node"
	}
	base := prefix + "/" + device
	return topics{
		device:       device,
		base:         base,
		state:        base,
		availability: base + "/availability",
		network:      base + "/network",
		config:       base + "/config",
		action:       base + "/action",
		set:          base + "/set",
	}
}

// sanitizeTopic lowercases name and keeps only characters safe in a topic
// level and a Home Assistant object ID.
func sanitizeTopic(name string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, strings.ToLower(strings.TrimSpace(name)))
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
