package sensor

import (
	"sync"

	"tinygo.org/x/drivers"
)

// trackingBus records the first Tx error since the last reset. Some
// drivers discard bus errors; this lets a read detect them.
type trackingBus struct {
	bus drivers.I2C

	mu  sync.Mutex
	err error
}

func (b *trackingBus) Tx(addr uint16, w, r []byte) error {
	err := b.bus.Tx(addr, w, r)
	if err != nil {
		b.mu.Lock()
		if b.err == nil {
			b.err = err
		}
		b.mu.Unlock()
	}
	return err
}

func (b *trackingBus) reset() {
	b.mu.Lock()
	b.err = nil
	b.mu.Unlock()
}

func (b *trackingBus) lastErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
