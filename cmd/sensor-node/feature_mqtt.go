//go:build !no_mqtt

package main

import (
	"log/slog"

	"zigbee-sensor-node/internal/app"
	mqttbridge "zigbee-sensor-node/internal/mqtt"
	"zigbee-sensor-node/internal/zcl/clusters"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

func initMQTT(node *app.Node, cfg *Config, profile clusters.Profile, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	bridge, err := mqttbridge.NewBridge(node, mqttbridge.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		DeviceName:  cfg.MQTT.DeviceName,
	}, mqttbridge.DeviceInfo{
		Name:         cfg.Device.Name,
		Manufacturer: cfg.Device.Manufacturer,
		Model:        cfg.Device.Model,
		SWVersion:    version,
		Humidity:     profile.Humidity,
		Pressure:     profile.Pressure,
	}, logger)
	if err != nil {
		logger.Error("mqtt bridge", "err", err)
		return &mqttStopper{}
	}
	bridge.Start()
	return &mqttStopper{bridge: bridge}
}
