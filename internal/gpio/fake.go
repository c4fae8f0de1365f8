package gpio

import (
	"errors"
	"sync"
)

// FakeButton simulates a button wired to an EdgeSink. It serves tests and
// the debug trigger on hosts without GPIO.
type FakeButton struct {
	mu      sync.Mutex
	sink    EdgeSink
	ticks   TickSource
	pressed bool

	// LevelErr, if set, is returned by Pressed.
	LevelErr error
}

// NewFakeButton creates a released fake button.
func NewFakeButton(sink EdgeSink, ticks TickSource) *FakeButton {
	return &FakeButton{sink: sink, ticks: ticks}
}

// Down simulates pressing the button.
func (f *FakeButton) Down() {
	f.mu.Lock()
	f.pressed = true
	f.mu.Unlock()
	f.sink.Press(f.ticks.NowTicks())
}

// Up simulates releasing the button.
func (f *FakeButton) Up() {
	f.mu.Lock()
	f.pressed = false
	f.mu.Unlock()
	f.sink.Release(f.ticks.NowTicks())
}

// UpSilently releases the button without delivering the release edge.
func (f *FakeButton) UpSilently() {
	f.mu.Lock()
	f.pressed = false
	f.mu.Unlock()
}

func (f *FakeButton) Pressed() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LevelErr != nil {
		return false, f.LevelErr
	}
	return f.pressed, nil
}

func (f *FakeButton) Close() error { return nil }

// FakeLED records every level written to it.
type FakeLED struct {
	mu     sync.Mutex
	on     bool
	writes []bool
	closed bool
}

func (f *FakeLED) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("led closed")
	}
	f.on = on
	f.writes = append(f.writes, on)
	return nil
}

// On reports the last level written.
func (f *FakeLED) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// Writes returns a copy of the write history.
func (f *FakeLED) Writes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.writes...)
}

func (f *FakeLED) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
