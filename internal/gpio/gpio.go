// Package gpio connects the user button and the status LED to the Linux
// GPIO character device. Fakes stand in for hardware in tests and on hosts
// without a GPIO chip.
package gpio

// EdgeSink receives button edges. Implementations must be safe to call from
// the edge callback goroutine.
type EdgeSink interface {
	Press(tick uint32)
	Release(tick uint32)
}

// TickSource stamps edges with the node's monotonic tick.
type TickSource interface {
	NowTicks() uint32
}

// Output drives a single output line.
type Output interface {
	Set(on bool) error
	Close() error
}
