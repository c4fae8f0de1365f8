// Package timer provides the periodic timer service and the monotonic tick
// source used by guards and the button classifier.
package timer

import (
	"errors"
	"sync"
	"time"
)

// DefaultTickRate matches a 32.768 kHz low-frequency sleep timer.
const DefaultTickRate = 32768

// Handle identifies a timer created by StartPeriodic. The zero Handle is
// never issued.
type Handle uint32

var (
	ErrUnknownTimer    = errors.New("timer: unknown handle")
	ErrInvalidInterval = errors.New("timer: interval must be positive")
)

// Service is a periodic timer service. Callbacks run outside the main loop
// and must only set flags.
type Service interface {
	StartPeriodic(intervalMs uint32, fn func()) (Handle, error)
	Stop(h Handle) error
	Restart(h Handle, intervalMs uint32) error
	Running(h Handle) bool
	NowTicks() uint32
	TicksToMs(delta uint32) uint32
	MsToTicks(ms uint32) uint32
}

// Runtime is the Service backed by the Go runtime timers.
type Runtime struct {
	start time.Time
	rate  uint32

	mu     sync.Mutex
	timers map[Handle]*runtimeTimer
	next   Handle
}

type runtimeTimer struct {
	t        *time.Timer
	interval time.Duration
	fn       func()
	running  bool
	gen      uint64
}

// NewRuntime creates a timer service whose ticks count at rate Hz from now.
func NewRuntime(rate uint32) *Runtime {
	if rate == 0 {
		rate = DefaultTickRate
	}
	return &Runtime{
		start:  time.Now(),
		rate:   rate,
		timers: make(map[Handle]*runtimeTimer),
	}
}

func (r *Runtime) StartPeriodic(intervalMs uint32, fn func()) (Handle, error) {
	if intervalMs == 0 {
		return 0, ErrInvalidInterval
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	rt := &runtimeTimer{interval: time.Duration(intervalMs) * time.Millisecond, fn: fn}
	r.timers[h] = rt
	r.arm(h, rt)
	return h, nil
}

// arm must be called with r.mu held.
func (r *Runtime) arm(h Handle, rt *runtimeTimer) {
	rt.gen++
	gen := rt.gen
	rt.running = true
	rt.t = time.AfterFunc(rt.interval, func() { r.fire(h, gen) })
}

func (r *Runtime) fire(h Handle, gen uint64) {
	r.mu.Lock()
	rt, ok := r.timers[h]
	if !ok || !rt.running || rt.gen != gen {
		r.mu.Unlock()
		return
	}
	rt.t.Reset(rt.interval)
	fn := rt.fn
	r.mu.Unlock()
	fn()
}

func (r *Runtime) Stop(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.timers[h]
	if !ok {
		return ErrUnknownTimer
	}
	rt.running = false
	rt.gen++
	if rt.t != nil {
		rt.t.Stop()
	}
	return nil
}

func (r *Runtime) Restart(h Handle, intervalMs uint32) error {
	if intervalMs == 0 {
		return ErrInvalidInterval
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.timers[h]
	if !ok {
		return ErrUnknownTimer
	}
	if rt.t != nil {
		rt.t.Stop()
	}
	rt.interval = time.Duration(intervalMs) * time.Millisecond
	r.arm(h, rt)
	return nil
}

func (r *Runtime) Running(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.timers[h]
	return ok && rt.running
}

// NowTicks wraps every 2^32 ticks; about 36 hours at the default rate.
// NowTicks counts from NewRuntime and wraps at 2^32.
func (r *Runtime) NowTicks() uint32 {
	return elapsedTicks(time.Since(r.start), r.rate)
}

// elapsedTicks splits d into whole seconds and a remainder so the product
// with rate cannot overflow 64 bits.
func elapsedTicks(d time.Duration, rate uint32) uint32 {
	sec := uint64(d / time.Second)
	frac := uint64(d % time.Second)
	return uint32(sec*uint64(rate) + frac*uint64(rate)/uint64(time.Second))
}

func (r *Runtime) TicksToMs(delta uint32) uint32 { return ticksToMs(delta, r.rate) }

func (r *Runtime) MsToTicks(ms uint32) uint32 { return msToTicks(ms, r.rate) }

func ticksToMs(delta, rate uint32) uint32 {
	return uint32(uint64(delta) * 1000 / uint64(rate))
}

func msToTicks(ms, rate uint32) uint32 {
	return uint32(uint64(ms) * uint64(rate) / 1000)
}
