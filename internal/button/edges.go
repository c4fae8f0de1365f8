// Package button turns raw button edges into short and long press actions.
//
// Edges are recorded from interrupt context using atomic stores only. The
// main loop polls the mailbox, classifies the hold time and posts at most one
// pending action for dispatch.
package button

import "sync/atomic"

// Edges is a single-producer single-consumer mailbox for press and release
// edges. Press and Release are safe to call from an edge callback; the Take
// methods belong to the poll loop.
type Edges struct {
	pressed     atomic.Bool
	pressTick   atomic.Uint32
	released    atomic.Bool
	releaseTick atomic.Uint32
	overruns    atomic.Uint32
}

// Press records a press edge at tick.
func (e *Edges) Press(tick uint32) {
	if e.pressed.Load() {
		e.overruns.Add(1)
	}
	e.pressTick.Store(tick)
	e.pressed.Store(true)
}

// Release records a release edge at tick.
func (e *Edges) Release(tick uint32) {
	if e.released.Load() {
		e.overruns.Add(1)
	}
	e.releaseTick.Store(tick)
	e.released.Store(true)
}

// TakePress returns the pending press tick and clears the flag.
func (e *Edges) TakePress() (uint32, bool) {
	if !e.pressed.Swap(false) {
		return 0, false
	}
	return e.pressTick.Load(), true
}

// TakeRelease returns the pending release tick and clears the flag.
func (e *Edges) TakeRelease() (uint32, bool) {
	if !e.released.Swap(false) {
		return 0, false
	}
	return e.releaseTick.Load(), true
}

// Overruns counts edges that replaced one the poll loop had not consumed.
func (e *Edges) Overruns() uint32 { return e.overruns.Load() }

// Mailbox holds at most one pending action.
type Mailbox struct {
	action  atomic.Uint32
	pending atomic.Bool
}

// Post stores a, replacing any action not yet taken.
func (m *Mailbox) Post(a Action) {
	m.action.Store(uint32(a))
	m.pending.Store(true)
}

// Take returns the pending action and clears the slot.
func (m *Mailbox) Take() (Action, bool) {
	if !m.pending.Swap(false) {
		return None, false
	}
	return Action(m.action.Load()), true
}

// Pending reports whether an action is waiting.
func (m *Mailbox) Pending() bool { return m.pending.Load() }
