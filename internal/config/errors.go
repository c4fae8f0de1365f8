package config

import (
	"errors"
	"fmt"

	"zigbee-sensor-node/internal/zcl"
)

// StatusError is a rejected configuration write. Status is the ZCL status
// returned to a remote writer.
type StatusError struct {
	Status uint8
	Attr   uint16
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("config: attribute 0x%04X: %s", e.Attr, zcl.StatusName(e.Status))
	}
	return fmt.Sprintf("config: attribute 0x%04X: %s: %s", e.Attr, zcl.StatusName(e.Status), e.Reason)
}

// Is matches any StatusError carrying the same status, so the sentinels
// below work with errors.Is.
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	return ok && t.Status == e.Status
}

var (
	ErrUnsupportedAttribute = &StatusError{Status: zcl.ZCLStatusUnsupportedAttr}
	ErrInvalidDataType      = &StatusError{Status: zcl.ZCLStatusInvalidDataType}
	ErrInvalidValue         = &StatusError{Status: zcl.ZCLStatusInvalidValue}
)

// Status reduces a Write result to a ZCL status code.
func Status(err error) uint8 {
	if err == nil {
		return zcl.ZCLStatusSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return zcl.ZCLStatusFailure
}
