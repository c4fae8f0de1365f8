package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store is the device's non-volatile memory.
type Store interface {
	// ReadAttribute returns the raw ZCL value persisted for a
	// configuration attribute.
	ReadAttribute(id uint16) ([]byte, error)
	WriteAttribute(id uint16, value []byte) error
	ListAttributes() (map[uint16][]byte, error)

	// Last network the node joined
	SaveNetworkState(state *NetworkState) error
	GetNetworkState() (*NetworkState, error)

	Close() error
}
