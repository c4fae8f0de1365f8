// Package mathx holds small generic numeric helpers.
package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampToInt16 narrows v to the int16 range.
func ClampToInt16[T constraints.Integer](v T) int16 {
	return int16(Clamp(int64(v), -32768, 32767))
}

// ClampToUint16 narrows v to the uint16 range.
func ClampToUint16[T constraints.Integer](v T) uint16 {
	return uint16(Clamp(int64(v), 0, 65535))
}

// ClampToUint8 narrows v to the uint8 range.
func ClampToUint8[T constraints.Integer](v T) uint8 {
	return uint8(Clamp(int64(v), 0, 255))
}
