// Package guard implements absolute tick deadlines used to suppress input
// and rate-limit join attempts.
package guard

// Deadline is an absolute deadline in monotonic ticks. The zero value is an
// inactive guard.
type Deadline struct {
	deadline uint32
}

// Arm sets the deadline to now+duration. A result that lands on 0 is moved
// to 1 so the guard still reads as armed.
func (d *Deadline) Arm(now, duration uint32) {
	end := now + duration
	if end == 0 {
		end = 1
	}
	d.deadline = end
}

// Active reports whether the guard is armed and now is before the deadline.
// An expired guard is cleared by the check.
func (d *Deadline) Active(now uint32) bool {
	if d.deadline == 0 {
		return false
	}
	if before(now, d.deadline) {
		return true
	}
	d.deadline = 0
	return false
}

// Expired reports true once, on the first check after an armed guard has
// passed its deadline, and clears it.
func (d *Deadline) Expired(now uint32) bool {
	if d.deadline == 0 || before(now, d.deadline) {
		return false
	}
	d.deadline = 0
	return true
}

// Remaining returns the ticks left before the deadline, 0 when inactive.
func (d *Deadline) Remaining(now uint32) uint32 {
	if d.deadline == 0 || !before(now, d.deadline) {
		return 0
	}
	return d.deadline - now
}

// Clear disarms the guard.
func (d *Deadline) Clear() { d.deadline = 0 }

// Deadline returns the raw deadline tick, 0 when disarmed.
func (d *Deadline) Deadline() uint32 { return d.deadline }

// before compares ticks on a 32-bit circle, valid while the two values are
// less than half the counter range apart.
func before(a, b uint32) bool {
	return int32(a-b) < 0
}
