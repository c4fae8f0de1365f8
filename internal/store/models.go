package store

import "time"

// NetworkState records the last network the node joined.
type NetworkState struct {
	Channel      uint8     `json:"channel"`
	PanID        uint16    `json:"pan_id"`
	ExtPanID     string    `json:"ext_pan_id"`
	ShortAddress uint16    `json:"short_address"`
	JoinedAt     time.Time `json:"joined_at"`
	Joins        uint32    `json:"joins"`
}
