// Package ncp drives a ZBOSS network co-processor as a Zigbee end device:
// network discovery, association, leave, APS data and the ZCL server side of
// the sensor endpoint.
package ncp

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when the NCP has no free slot for another
	// asynchronous operation.
	ErrBusy = errors.New("ncp: stack busy")
	// ErrNotReady is returned before the NCP finished initialisation.
	ErrNotReady = errors.New("ncp: stack not ready")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("ncp: closed")
)

// NetworkState is the device's view of its network membership.
type NetworkState uint8

const (
	NetworkDown NetworkState = iota
	NetworkJoined
)

func (s NetworkState) String() string {
	if s == NetworkJoined {
		return "joined"
	}
	return "down"
}

// StackStatus is delivered by OnStackStatus when membership changes.
type StackStatus uint8

const (
	StatusDown StackStatus = iota
	StatusUp
)

func (s StackStatus) String() string {
	if s == StatusUp {
		return "up"
	}
	return "down"
}

// NetworkDescriptor is one network heard during an active scan.
type NetworkDescriptor struct {
	ExtPanID     [8]byte `json:"ext_pan_id"`
	PanID        uint16  `json:"pan_id"`
	UpdateID     uint8   `json:"update_id"`
	Channel      uint8   `json:"channel"`
	StackProfile uint8   `json:"stack_profile"`
	PermitJoin   bool    `json:"permit_join"`
	RouterCap    bool    `json:"router_capacity"`
	EDCap        bool    `json:"end_device_capacity"`
	LQI          uint8   `json:"lqi"`
	RSSI         int8    `json:"rssi"`
}

// ExtPanIDString formats the extended PAN id most significant byte first.
func (d NetworkDescriptor) ExtPanIDString() string {
	return fmt.Sprintf("%016X", reverse8(d.ExtPanID))
}

// AssociationParams describe the network to associate with.
type AssociationParams struct {
	PanID       uint16
	ExtPanID    [8]byte
	Channel     uint8
	UpdateID    uint8
	ChannelMask uint32
	Sleepy      bool
}

// SecurityPolicy bits passed to SetSecurityState.
const (
	// PolicyPreconfiguredKey installs the key as the network key before joining.
	PolicyPreconfiguredKey uint32 = 1 << 0
	// PolicyInsecureJoin allows the trust center to deliver the key unencrypted.
	PolicyInsecureJoin uint32 = 1 << 1
)

// Callbacks are invoked from the NCP read goroutine. Handlers must return
// promptly and must not call back into the NCP synchronously.
type Callbacks struct {
	InitComplete      func()
	NetworkFound      func(NetworkDescriptor)
	ScanComplete      func(channel uint8, err error)
	StackStatus       func(StackStatus)
	AssociationFailed func(err error)
	LeaveFailed       func(err error)
}

// AttributeServer answers remote ZCL requests for the sensor endpoint.
// WriteAttributes returns one ZCL status per record, in order.
type AttributeServer interface {
	ReadAttribute(cluster, mfgCode, attrID uint16) (dataType uint8, value []byte, status uint8)
	WriteAttributes(cluster, mfgCode uint16, records []WriteRecord) []uint8
}

// WriteRecord is a single attribute write.
type WriteRecord struct {
	AttrID   uint16
	DataType uint8
	Value    []byte
}

// AttributeResponse holds a single attribute read result.
type AttributeResponse struct {
	AttrID   uint16
	Status   uint8
	DataType uint8
	Value    []byte
}

// AttributeReport is one record of an outgoing Report Attributes command.
type AttributeReport struct {
	AttrID   uint16
	DataType uint8
	Value    []byte
}

// NCPInfo holds firmware/stack version information from the NCP.
type NCPInfo struct {
	FWVersion       uint32 `json:"fw_version"`
	StackVersion    string `json:"stack_version"`
	ProtocolVersion uint32 `json:"protocol_version"`
	IEEEAddr        string `json:"ieee_addr"`
	ShortAddr       uint16 `json:"short_addr"`
	Channel         uint8  `json:"channel"`
	PanID           uint16 `json:"pan_id"`
}

func reverse8(b [8]byte) [8]byte {
	var r [8]byte
	for i := range b {
		r[i] = b[7-i]
	}
	return r
}
