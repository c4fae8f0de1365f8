// Package led drives the status LED: a slow blink while joining and a short
// pulse to acknowledge a button press.
package led

import (
	"log/slog"
	"sync"
	"time"
)

// Output is a single on/off line.
type Output interface {
	Set(on bool) error
}

// Indicator runs LED patterns on its own goroutine. When disabled the LED is
// held off and requested patterns are remembered but not shown.
type Indicator struct {
	out    Output
	logger *slog.Logger

	blinkPeriod time.Duration
	pulseLength time.Duration

	mu      sync.Mutex
	enabled bool
	joining bool
	cancel  chan struct{}
	wg      sync.WaitGroup
}

// Option configures an Indicator.
type Option func(*Indicator)

// WithBlinkPeriod sets the half-period of the joining blink.
func WithBlinkPeriod(d time.Duration) Option {
	return func(i *Indicator) { i.blinkPeriod = d }
}

// WithPulseLength sets how long an acknowledge pulse stays lit.
func WithPulseLength(d time.Duration) Option {
	return func(i *Indicator) { i.pulseLength = d }
}

// New creates an enabled indicator with the LED off.
func New(out Output, logger *slog.Logger, opts ...Option) *Indicator {
	i := &Indicator{
		out:         out,
		logger:      logger,
		blinkPeriod: 250 * time.Millisecond,
		pulseLength: 150 * time.Millisecond,
		enabled:     true,
	}
	for _, o := range opts {
		o(i)
	}
	i.set(false)
	return i
}

// SetEnabled turns LED output on or off. Re-enabling resumes the joining
// blink if one was requested.
func (i *Indicator) SetEnabled(enabled bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.enabled == enabled {
		return
	}
	i.enabled = enabled
	i.stopLocked()
	if enabled && i.joining {
		i.startLocked(i.blinkLoop)
		return
	}
	i.set(false)
}

// Joining starts the joining blink.
func (i *Indicator) Joining() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.joining = true
	if !i.enabled {
		return
	}
	i.stopLocked()
	i.startLocked(i.blinkLoop)
}

// Off stops any pattern and switches the LED off.
func (i *Indicator) Off() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.joining = false
	i.stopLocked()
	i.set(false)
}

// Pulse flashes the LED once. It does nothing while joining or disabled.
func (i *Indicator) Pulse() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.enabled || i.joining {
		return
	}
	i.stopLocked()
	i.startLocked(i.pulseOnce)
}

// Close stops any pattern and leaves the LED off.
func (i *Indicator) Close() {
	i.Off()
}

// startLocked must be called with i.mu held.
func (i *Indicator) startLocked(run func(<-chan struct{})) {
	cancel := make(chan struct{})
	i.cancel = cancel
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		run(cancel)
	}()
}

// stopLocked must be called with i.mu held.
func (i *Indicator) stopLocked() {
	if i.cancel == nil {
		return
	}
	close(i.cancel)
	i.cancel = nil
	i.wg.Wait()
}

func (i *Indicator) blinkLoop(cancel <-chan struct{}) {
	ticker := time.NewTicker(i.blinkPeriod)
	defer ticker.Stop()
	on := true
	i.set(on)
	for {
		select {
		case <-cancel:
			i.set(false)
			return
		case <-ticker.C:
			on = !on
			i.set(on)
		}
	}
}

func (i *Indicator) pulseOnce(cancel <-chan struct{}) {
	i.set(true)
	t := time.NewTimer(i.pulseLength)
	defer t.Stop()
	select {
	case <-cancel:
	case <-t.C:
	}
	i.set(false)
}

func (i *Indicator) set(on bool) {
	if err := i.out.Set(on); err != nil {
		i.logger.Debug("led write failed", "err", err)
	}
}
