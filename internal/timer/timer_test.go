package timer

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

func TestConversions(t *testing.T) {
	tests := []struct {
		rate, ms, ticks uint32
	}{
		{32768, 1000, 32768},
		{32768, 50, 1638},
		{1000, 1234, 1234},
	}
	for _, tt := range tests {
		if got := msToTicks(tt.ms, tt.rate); got != tt.ticks {
			t.Errorf("msToTicks(%d @%d) = %d, want %d", tt.ms, tt.rate, got, tt.ticks)
		}
	}
	if got := ticksToMs(32768*3, 32768); got != 3000 {
		t.Errorf("ticksToMs = %d, want 3000", got)
	}
}

func TestManualPeriodic(t *testing.T) {
	m := NewManual(1000)
	var fired int
	h, err := m.StartPeriodic(100, func() { fired++ })
	if err != nil {
		t.Fatalf("StartPeriodic: %v", err)
	}
	m.Advance(99)
	if fired != 0 {
		t.Fatalf("fired = %d before first period", fired)
	}
	m.Advance(251)
	if fired != 3 {
		t.Errorf("fired = %d, want 3", fired)
	}
	if m.NowTicks() != 350 {
		t.Errorf("now = %d, want 350", m.NowTicks())
	}

	if err := m.Stop(h); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	m.Advance(1000)
	if fired != 3 {
		t.Errorf("stopped timer fired: %d", fired)
	}
	if m.Running(h) {
		t.Error("Running after Stop")
	}

	if err := m.Restart(h, 500); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	m.Advance(500)
	if fired != 4 {
		t.Errorf("fired = %d after restart, want 4", fired)
	}
	if m.Interval(h) != 500 {
		t.Errorf("Interval = %d, want 500", m.Interval(h))
	}
}

func TestManualStartErr(t *testing.T) {
	m := NewManual(1000)
	m.StartErr = errors.New("no slots")
	if _, err := m.StartPeriodic(10, func() {}); err == nil {
		t.Error("expected StartErr")
	}
}

func TestManualUnknownHandle(t *testing.T) {
	m := NewManual(1000)
	if err := m.Stop(42); !errors.Is(err, ErrUnknownTimer) {
		t.Errorf("Stop(42) = %v, want ErrUnknownTimer", err)
	}
}

func TestRuntimeFires(t *testing.T) {
	r := NewRuntime(0)
	var n atomic.Int32
	h, err := r.StartPeriodic(5, func() { n.Add(1) })
	if err != nil {
		t.Fatalf("StartPeriodic: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n.Load() < 2 {
		t.Fatalf("timer fired %d times", n.Load())
	}
	if err := r.Stop(h); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.Running(h) {
		t.Error("Running after Stop")
	}
}

func TestRuntimeTicksAcrossLongUptime(t *testing.T) {
	// Uptime at which nanoseconds times the rate exceeds 64 bits.
	edge := time.Duration(math.MaxUint64 / DefaultTickRate)

	tests := []struct {
		name   string
		uptime time.Duration
	}{
		{"start", 0},
		{"one day", 24 * time.Hour},
		{"64-bit product edge", edge},
		{"thirty days", 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := elapsedTicks(tt.uptime, DefaultTickRate)
			after := elapsedTicks(tt.uptime+2*time.Second, DefaultTickRate)
			if delta := after - before; delta != 2*DefaultTickRate {
				t.Errorf("delta = %d, want %d", delta, 2*DefaultTickRate)
			}
		})
	}

	r := NewRuntime(DefaultTickRate)
	r.start = time.Now().Add(-(edge - time.Second))
	before := r.NowTicks()
	r.start = r.start.Add(-2 * time.Second)
	after := r.NowTicks()
	if delta := after - before; delta < 2*DefaultTickRate || delta > 3*DefaultTickRate {
		t.Errorf("runtime delta across edge = %d, want about %d", delta, 2*DefaultTickRate)
	}
}
