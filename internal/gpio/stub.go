//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// Button is not available on non-Linux platforms.
type Button struct{}

// NewButton returns an error on non-Linux platforms.
func NewButton(string, int, bool, EdgeSink, TickSource) (*Button, error) {
	return nil, errUnsupported
}

func (b *Button) Pressed() (bool, error) { return false, errUnsupported }

func (b *Button) Close() error { return nil }

// LED is not available on non-Linux platforms.
type LED struct{}

// NewLED returns an error on non-Linux platforms.
func NewLED(string, int, bool) (*LED, error) {
	return nil, errUnsupported
}

func (l *LED) Set(bool) error { return errUnsupported }

func (l *LED) Close() error { return nil }
