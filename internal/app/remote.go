package app

import (
	"context"
	"time"

	"zigbee-sensor-node/internal/ncp"
	"zigbee-sensor-node/internal/zcl"
)

const remoteWriteTimeout = 2 * time.Second

// ConfigHandler serves the manufacturer-specific configuration attributes
// to the network. Writes are applied on the main loop.
func (n *Node) ConfigHandler() zcl.Handler {
	return remoteConfig{n: n}
}

type remoteConfig struct{ n *Node }

func (r remoteConfig) ReadAttribute(attrID uint16) (uint8, []byte, uint8) {
	return r.n.conf.ReadAttribute(attrID)
}

func (r remoteConfig) WriteAttributes(records []ncp.WriteRecord) []uint8 {
	ctx, cancel := context.WithTimeout(context.Background(), remoteWriteTimeout)
	defer cancel()

	res := make(chan []uint8, 1)
	err := r.n.Call(ctx, func(n *Node) { res <- n.conf.WriteAttributes(records) })
	if err == nil {
		return <-res
	}
	r.n.logger.Warn("remote config write not applied", "records", len(records), "err", err)
	statuses := make([]uint8, len(records))
	for i := range statuses {
		statuses[i] = zcl.ZCLStatusFailure
	}
	return statuses
}
