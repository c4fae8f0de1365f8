package timer

import "sync"

// Manual is a Service driven by Advance, for tests and simulation. Due
// callbacks run synchronously inside Advance.
type Manual struct {
	mu     sync.Mutex
	rate   uint32
	now    uint32
	timers map[Handle]*manualTimer
	next   Handle

	// StartErr, when set, is returned by StartPeriodic.
	StartErr error
}

type manualTimer struct {
	interval uint32 // ticks
	due      uint32
	fn       func()
	running  bool
}

// NewManual creates a manual clock counting at rate Hz, starting at tick 0.
func NewManual(rate uint32) *Manual {
	if rate == 0 {
		rate = 1000
	}
	return &Manual{rate: rate, timers: make(map[Handle]*manualTimer)}
}

// Set moves the clock to an absolute tick without firing timers.
func (m *Manual) Set(ticks uint32) {
	m.mu.Lock()
	m.now = ticks
	for _, mt := range m.timers {
		if mt.running {
			mt.due = ticks + mt.interval
		}
	}
	m.mu.Unlock()
}

// Advance moves the clock forward by ms, firing every periodic timer that
// falls due on the way, in deadline order.
func (m *Manual) Advance(ms uint32) {
	m.mu.Lock()
	target := m.now + msToTicks(ms, m.rate)
	for {
		var (
			fn   func()
			best *manualTimer
		)
		for _, mt := range m.timers {
			if !mt.running || int32(mt.due-target) > 0 {
				continue
			}
			if best == nil || int32(mt.due-best.due) < 0 {
				best = mt
			}
		}
		if best == nil {
			break
		}
		m.now = best.due
		best.due += best.interval
		fn = best.fn
		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

func (m *Manual) StartPeriodic(intervalMs uint32, fn func()) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return 0, m.StartErr
	}
	if intervalMs == 0 {
		return 0, ErrInvalidInterval
	}
	m.next++
	iv := msToTicks(intervalMs, m.rate)
	m.timers[m.next] = &manualTimer{interval: iv, due: m.now + iv, fn: fn, running: true}
	return m.next, nil
}

func (m *Manual) Stop(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.timers[h]
	if !ok {
		return ErrUnknownTimer
	}
	mt.running = false
	return nil
}

func (m *Manual) Restart(h Handle, intervalMs uint32) error {
	if intervalMs == 0 {
		return ErrInvalidInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.timers[h]
	if !ok {
		return ErrUnknownTimer
	}
	mt.interval = msToTicks(intervalMs, m.rate)
	mt.due = m.now + mt.interval
	mt.running = true
	return nil
}

func (m *Manual) Running(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.timers[h]
	return ok && mt.running
}

// Interval returns the current interval of h in milliseconds, 0 if unknown.
func (m *Manual) Interval(h Handle) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.timers[h]
	if !ok {
		return 0
	}
	return ticksToMs(mt.interval, m.rate)
}

func (m *Manual) NowTicks() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) TicksToMs(delta uint32) uint32 { return ticksToMs(delta, m.rate) }

func (m *Manual) MsToTicks(ms uint32) uint32 { return msToTicks(ms, m.rate) }
