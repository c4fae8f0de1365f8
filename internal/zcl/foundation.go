package zcl

import "fmt"

// ZCL status codes
const (
	ZCLStatusSuccess         uint8 = 0x00
	ZCLStatusFailure         uint8 = 0x01
	ZCLStatusUnsupportedAttr uint8 = 0x86
	ZCLStatusInvalidValue    uint8 = 0x87
	ZCLStatusReadOnly        uint8 = 0x88
	ZCLStatusNotFound        uint8 = 0x8B
	ZCLStatusUnreportable    uint8 = 0x8C
	ZCLStatusInvalidDataType uint8 = 0x8D
	ZCLStatusWriteOnly       uint8 = 0x8F
)

// Manufacturer code of the device's configuration attributes.
const ManufacturerCode uint16 = 0x1002

// StatusName returns the ZCL name of a status code.
func StatusName(status uint8) string {
	switch status {
	case ZCLStatusSuccess:
		return "SUCCESS"
	case ZCLStatusFailure:
		return "FAILURE"
	case ZCLStatusUnsupportedAttr:
		return "UNSUPPORTED_ATTRIBUTE"
	case ZCLStatusInvalidValue:
		return "INVALID_VALUE"
	case ZCLStatusReadOnly:
		return "READ_ONLY"
	case ZCLStatusNotFound:
		return "NOT_FOUND"
	case ZCLStatusUnreportable:
		return "UNREPORTABLE_ATTRIBUTE"
	case ZCLStatusInvalidDataType:
		return "INVALID_DATA_TYPE"
	case ZCLStatusWriteOnly:
		return "WRITE_ONLY"
	}
	return fmt.Sprintf("0x%02X", status)
}
