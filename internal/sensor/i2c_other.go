//go:build !linux

package sensor

import (
	"errors"
)

// I2CDev is unavailable on this platform.
type I2CDev struct{}

// OpenI2C always fails outside Linux.
func OpenI2C(int) (*I2CDev, error) {
	return nil, errors.New("sensor: i2c-dev requires linux")
}

func (d *I2CDev) Tx(uint16, []byte, []byte) error {
	return errors.New("sensor: i2c-dev requires linux")
}

func (d *I2CDev) Close() error { return nil }
