package button

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"zigbee-sensor-node/internal/timer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestClassifyBoundaries(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		held uint32
		want Action
	}{
		{0, None},
		{th.DebounceMs - 1, None},
		{th.DebounceMs, ShortPress},
		{th.LongPressMs - 1, ShortPress},
		{th.LongPressMs, LongPress},
		{th.CeilingMs, LongPress},
		{th.CeilingMs + 1, None},
	}
	for _, tt := range tests {
		if got := th.Classify(tt.held); got != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.held, got, tt.want)
		}
	}
}

func TestEdgesTakeClears(t *testing.T) {
	var e Edges
	if _, ok := e.TakePress(); ok {
		t.Fatal("empty mailbox returned a press")
	}
	e.Press(10)
	e.Press(20)
	tick, ok := e.TakePress()
	if !ok || tick != 20 {
		t.Errorf("TakePress = (%d, %v), want (20, true)", tick, ok)
	}
	if _, ok := e.TakePress(); ok {
		t.Error("press not cleared")
	}
	if e.Overruns() != 1 {
		t.Errorf("overruns = %d, want 1", e.Overruns())
	}
}

func TestMailboxSingleSlot(t *testing.T) {
	var m Mailbox
	m.Post(ShortPress)
	m.Post(LongPress)
	a, ok := m.Take()
	if !ok || a != LongPress {
		t.Errorf("Take = (%s, %v), want (long_press, true)", a, ok)
	}
	if m.Pending() {
		t.Error("mailbox still pending")
	}
}

func newTestClassifier(rate uint32) (*Classifier, *Edges, *Mailbox, *timer.Manual) {
	clk := timer.NewManual(rate)
	edges := &Edges{}
	out := &Mailbox{}
	c := NewClassifier(edges, out, clk, DefaultThresholds(), testLogger())
	return c, edges, out, clk
}

func TestClassifierEdges(t *testing.T) {
	tests := []struct {
		name   string
		heldMs uint32
		want   Action
	}{
		{"bounce", 10, None},
		{"short", 200, ShortPress},
		{"long", 3500, LongPress},
		{"implausible", 40000, None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, edges, out, clk := newTestClassifier(timer.DefaultTickRate)
			edges.Press(clk.NowTicks())
			clk.Advance(tt.heldMs)
			edges.Release(clk.NowTicks())
			if got := c.Poll(clk.NowTicks()); got != tt.want {
				t.Errorf("Poll = %s, want %s", got, tt.want)
			}
			a, ok := out.Take()
			if tt.want == None {
				if ok {
					t.Errorf("unexpected posted action %s", a)
				}
				return
			}
			if !ok || a != tt.want {
				t.Errorf("posted = (%s, %v), want %s", a, ok, tt.want)
			}
		})
	}
}

func TestClassifierSuppressed(t *testing.T) {
	c, edges, out, clk := newTestClassifier(1000)
	c.SetSuppressor(func(uint32) bool { return true })
	edges.Press(clk.NowTicks())
	clk.Advance(200)
	edges.Release(clk.NowTicks())
	if got := c.Poll(clk.NowTicks()); got != None {
		t.Errorf("Poll = %s while suppressed", got)
	}
	if out.Pending() {
		t.Error("suppressed press posted an action")
	}
}

func TestClassifierSuppressedPressNotResurrected(t *testing.T) {
	c, edges, out, clk := newTestClassifier(1000)
	suppress := true
	c.SetSuppressor(func(uint32) bool { return suppress })
	edges.Press(clk.NowTicks())
	c.Poll(clk.NowTicks())
	suppress = false
	clk.Advance(200)
	edges.Release(clk.NowTicks())
	if got := c.Poll(clk.NowTicks()); got != None {
		t.Errorf("release of a suppressed press produced %s", got)
	}
	if out.Pending() {
		t.Error("unexpected action")
	}
}

type fakeLevel struct {
	pressed bool
	err     error
}

func (f *fakeLevel) Pressed() (bool, error) { return f.pressed, f.err }

func TestClassifierMissedReleaseFallback(t *testing.T) {
	c, edges, out, clk := newTestClassifier(1000)
	level := &fakeLevel{pressed: true}
	c.SetLevelReader(level)

	edges.Press(clk.NowTicks())
	c.Poll(clk.NowTicks())
	clk.Advance(400)
	if got := c.Poll(clk.NowTicks()); got != None {
		t.Fatalf("Poll while held = %s", got)
	}

	level.pressed = false
	if got := c.Poll(clk.NowTicks()); got != ShortPress {
		t.Errorf("fallback = %s, want short_press", got)
	}
	if a, _ := out.Take(); a != ShortPress {
		t.Errorf("posted %s, want short_press", a)
	}
	// The lost release edge arriving late must not classify again.
	edges.Release(clk.NowTicks())
	if got := c.Poll(clk.NowTicks()); got != None {
		t.Errorf("late release = %s, want none", got)
	}
}

func TestClassifierLevelErrorIgnored(t *testing.T) {
	c, edges, _, clk := newTestClassifier(1000)
	c.SetLevelReader(&fakeLevel{err: errors.New("gpio gone")})
	edges.Press(clk.NowTicks())
	c.Poll(clk.NowTicks())
	clk.Advance(100)
	if got := c.Poll(clk.NowTicks()); got != None {
		t.Errorf("Poll = %s, want none on level error", got)
	}
	edges.Release(clk.NowTicks())
	if got := c.Poll(clk.NowTicks()); got != ShortPress {
		t.Errorf("release after level error = %s, want short_press", got)
	}
}

func TestClassifierStuckPressDropped(t *testing.T) {
	c, edges, out, clk := newTestClassifier(1000)
	edges.Press(clk.NowTicks())
	c.Poll(clk.NowTicks())
	clk.Advance(DefaultThresholds().CeilingMs + 1)
	c.Poll(clk.NowTicks())
	edges.Release(clk.NowTicks())
	if got := c.Poll(clk.NowTicks()); got != None {
		t.Errorf("release after ceiling = %s", got)
	}
	if out.Pending() {
		t.Error("stuck press posted an action")
	}
}
