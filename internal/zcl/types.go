package zcl

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ZCL data type IDs used by the sensor endpoint.
const (
	TypeNoData   uint8 = 0x00
	TypeBool     uint8 = 0x10
	TypeBitmap8  uint8 = 0x18
	TypeUint8    uint8 = 0x20
	TypeUint16   uint8 = 0x21
	TypeUint32   uint8 = 0x23
	TypeInt8     uint8 = 0x28
	TypeInt16    uint8 = 0x29
	TypeInt32    uint8 = 0x2B
	TypeEnum8    uint8 = 0x30
	TypeOctetStr uint8 = 0x41
	TypeCharStr  uint8 = 0x42
)

// TypeSize returns the fixed size in bytes of a ZCL type, or -1 for
// length-prefixed strings and unknown types.
func TypeSize(typeID uint8) int {
	switch typeID {
	case TypeNoData:
		return 0
	case TypeBool, TypeUint8, TypeInt8, TypeEnum8, TypeBitmap8:
		return 1
	case TypeUint16, TypeInt16:
		return 2
	case TypeUint32, TypeInt32:
		return 4
	}
	return -1
}

// TypeName returns a human-readable name for a ZCL type.
func TypeName(typeID uint8) string {
	switch typeID {
	case TypeNoData:
		return "nodata"
	case TypeBool:
		return "bool"
	case TypeBitmap8:
		return "map8"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeEnum8:
		return "enum8"
	case TypeOctetStr:
		return "octstr"
	case TypeCharStr:
		return "string"
	}
	return fmt.Sprintf("0x%02X", typeID)
}

// ValueLength returns the wire length of a value of typeID at the start of
// data, including any length prefix.
func ValueLength(typeID uint8, data []byte) (int, error) {
	if size := TypeSize(typeID); size >= 0 {
		if len(data) < size {
			return 0, fmt.Errorf("zcl: not enough data for %s: need %d, have %d", TypeName(typeID), size, len(data))
		}
		return size, nil
	}
	switch typeID {
	case TypeOctetStr, TypeCharStr:
		if len(data) < 1 {
			return 0, fmt.Errorf("zcl: no length byte for %s", TypeName(typeID))
		}
		n := int(data[0])
		if n == 0xFF {
			return 1, nil
		}
		if len(data) < 1+n {
			return 0, fmt.Errorf("zcl: %s truncated: need %d, have %d", TypeName(typeID), n, len(data)-1)
		}
		return 1 + n, nil
	}
	return 0, fmt.Errorf("zcl: unsupported type 0x%02X", typeID)
}

// DecodeValue decodes a ZCL typed value, returning the Go value and bytes consumed.
func DecodeValue(typeID uint8, data []byte) (interface{}, int, error) {
	n, err := ValueLength(typeID, data)
	if err != nil {
		return nil, 0, err
	}
	switch typeID {
	case TypeNoData:
		return nil, 0, nil
	case TypeBool:
		return data[0] != 0, 1, nil
	case TypeUint8, TypeEnum8, TypeBitmap8:
		return data[0], 1, nil
	case TypeUint16:
		return binary.LittleEndian.Uint16(data), 2, nil
	case TypeUint32:
		return binary.LittleEndian.Uint32(data), 4, nil
	case TypeInt8:
		return int8(data[0]), 1, nil
	case TypeInt16:
		return int16(binary.LittleEndian.Uint16(data)), 2, nil
	case TypeInt32:
		return int32(binary.LittleEndian.Uint32(data)), 4, nil
	case TypeCharStr:
		if n == 1 {
			return "", 1, nil
		}
		return string(data[1:n]), n, nil
	case TypeOctetStr:
		b := make([]byte, n-1)
		copy(b, data[1:n])
		return b, n, nil
	}
	return nil, 0, fmt.Errorf("zcl: decode not implemented for type 0x%02X", typeID)
}

// EncodeValue encodes a Go value into ZCL wire format. Integers out of the
// type's range are rejected rather than truncated.
func EncodeValue(typeID uint8, val interface{}) ([]byte, error) {
	switch typeID {
	case TypeBool:
		v, ok := toBool(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to bool", val)
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case TypeUint8, TypeEnum8, TypeBitmap8, TypeUint16, TypeUint32:
		v, ok := toInt64(val)
		if !ok || v < 0 {
			return nil, fmt.Errorf("zcl: cannot convert %v (%T) to %s", val, val, TypeName(typeID))
		}
		limit := map[uint8]int64{
			TypeUint8: math.MaxUint8, TypeEnum8: math.MaxUint8, TypeBitmap8: math.MaxUint8,
			TypeUint16: math.MaxUint16, TypeUint32: math.MaxUint32,
		}[typeID]
		if v > limit {
			return nil, fmt.Errorf("zcl: value %d overflows %s (max %d)", v, TypeName(typeID), limit)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v))
		return buf[:TypeSize(typeID)], nil

	case TypeInt8, TypeInt16, TypeInt32:
		v, ok := toInt64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, TypeName(typeID))
		}
		size := TypeSize(typeID)
		lo, hi := int64(-1)<<(8*size-1), int64(1)<<(8*size-1)-1
		if v < lo || v > hi {
			return nil, fmt.Errorf("zcl: value %d overflows %s (range %d..%d)", v, TypeName(typeID), lo, hi)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v))
		return buf[:size], nil

	case TypeCharStr:
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to string", val)
		}
		if len(s) > 254 {
			return nil, fmt.Errorf("zcl: string too long for CharStr: %d (max 254)", len(s))
		}
		return append([]byte{uint8(len(s))}, s...), nil

	case TypeOctetStr:
		b, ok := val.([]byte)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to []byte", val)
		}
		if len(b) > 254 {
			return nil, fmt.Errorf("zcl: data too long for OctetStr: %d (max 254)", len(b))
		}
		return append([]byte{uint8(len(b))}, b...), nil
	}
	return nil, fmt.Errorf("zcl: encode not implemented for type 0x%02X", typeID)
}

func toBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case int:
		return val != 0, true
	}
	return false, false
}

// toInt64 accepts Go integers and whole JSON numbers.
func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case float64:
		if val != math.Trunc(val) || val > math.MaxInt64 || val < math.MinInt64 {
			return 0, false
		}
		return int64(val), true
	}
	return 0, false
}
