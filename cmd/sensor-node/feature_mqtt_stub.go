//go:build no_mqtt

package main

import (
	"log/slog"

	"zigbee-sensor-node/internal/app"
	"zigbee-sensor-node/internal/zcl/clusters"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *app.Node, cfg *Config, _ clusters.Profile, logger *slog.Logger) *mqttStopper {
	if cfg.MQTT.Enabled {
		logger.Warn("mqtt enabled in config but support is compiled out (no_mqtt)")
	}
	return &mqttStopper{}
}
