//go:build linux

package sensor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// I2C_SLAVE ioctl from <linux/i2c-dev.h>.
const ioctlI2CSlave = 0x0703

// I2CDev is a Linux i2c-dev bus implementing tinygo's drivers.I2C.
type I2CDev struct {
	mu   sync.Mutex
	fd   int
	addr uint16
}

// OpenI2C opens /dev/i2c-<bus>.
func OpenI2C(bus int) (*I2CDev, error) {
	path := fmt.Sprintf("/dev/i2c-%d", bus)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &I2CDev{fd: fd}, nil
}

// Tx writes w then reads len(r) bytes from addr.
func (d *I2CDev) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.addr != addr {
		if err := unix.IoctlSetInt(d.fd, ioctlI2CSlave, int(addr)); err != nil {
			return fmt.Errorf("i2c address 0x%02X: %w", addr, err)
		}
		d.addr = addr
	}
	if len(w) > 0 {
		if _, err := unix.Write(d.fd, w); err != nil {
			return fmt.Errorf("i2c write 0x%02X: %w", addr, err)
		}
	}
	if len(r) > 0 {
		n, err := unix.Read(d.fd, r)
		if err != nil {
			return fmt.Errorf("i2c read 0x%02X: %w", addr, err)
		}
		if n != len(r) {
			return fmt.Errorf("i2c read 0x%02X: short read %d/%d", addr, n, len(r))
		}
	}
	return nil
}

// Close releases the bus.
func (d *I2CDev) Close() error {
	return unix.Close(d.fd)
}
