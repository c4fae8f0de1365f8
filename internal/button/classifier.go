package button

import "log/slog"

// Action is a classified button gesture.
type Action uint8

const (
	None Action = iota
	ShortPress
	LongPress
)

func (a Action) String() string {
	switch a {
	case ShortPress:
		return "short_press"
	case LongPress:
		return "long_press"
	default:
		return "none"
	}
}

// Thresholds bound the hold time of each gesture in milliseconds.
type Thresholds struct {
	DebounceMs  uint32 // shorter holds are bounce
	LongPressMs uint32 // holds at or above are long presses
	CeilingMs   uint32 // longer holds are implausible and ignored
}

// DefaultThresholds returns the stock button timing.
func DefaultThresholds() Thresholds {
	return Thresholds{DebounceMs: 50, LongPressMs: 3000, CeilingMs: 30000}
}

// Classify maps a hold duration to an action.
func (th Thresholds) Classify(heldMs uint32) Action {
	switch {
	case heldMs < th.DebounceMs:
		return None
	case heldMs > th.CeilingMs:
		return None
	case heldMs >= th.LongPressMs:
		return LongPress
	default:
		return ShortPress
	}
}

// Clock is the subset of the timer service the classifier needs.
type Clock interface {
	NowTicks() uint32
	TicksToMs(delta uint32) uint32
}

// LevelReader reports the raw button level. It lets the classifier recover
// a press whose release edge was lost.
type LevelReader interface {
	Pressed() (bool, error)
}

// Classifier consumes Edges and posts actions to a Mailbox.
type Classifier struct {
	edges  *Edges
	out    *Mailbox
	clock  Clock
	th     Thresholds
	level  LevelReader
	logger *slog.Logger

	suppress func(now uint32) bool

	pressActive bool
	pressTick   uint32
}

// NewClassifier creates a classifier reading from edges and posting to out.
func NewClassifier(edges *Edges, out *Mailbox, clock Clock, th Thresholds, logger *slog.Logger) *Classifier {
	return &Classifier{
		edges:  edges,
		out:    out,
		clock:  clock,
		th:     th,
		logger: logger,
	}
}

// SetSuppressor installs the predicate that discards edges while a join is
// in progress or a settle guard is active.
func (c *Classifier) SetSuppressor(fn func(now uint32) bool) { c.suppress = fn }

// SetLevelReader installs the raw level source for the missed-release fallback.
func (c *Classifier) SetLevelReader(lr LevelReader) { c.level = lr }

func (c *Classifier) suppressed(now uint32) bool {
	return c.suppress != nil && c.suppress(now)
}

// Poll consumes pending edges and returns the action it posted, if any.
func (c *Classifier) Poll(now uint32) Action {
	if tick, ok := c.edges.TakePress(); ok {
		if c.suppressed(now) {
			c.logger.Debug("button press suppressed")
			c.pressActive = false
		} else {
			c.pressActive = true
			c.pressTick = tick
		}
	}

	if tick, ok := c.edges.TakeRelease(); ok {
		if !c.pressActive {
			return None
		}
		c.pressActive = false
		if c.suppressed(now) {
			c.logger.Debug("button release suppressed")
			return None
		}
		return c.emit(c.clock.TicksToMs(tick-c.pressTick), "edge")
	}

	if !c.pressActive {
		return None
	}

	held := c.clock.TicksToMs(now - c.pressTick)
	if c.level != nil {
		pressed, err := c.level.Pressed()
		if err != nil {
			c.logger.Debug("button level read failed", "err", err)
		} else if !pressed {
			c.pressActive = false
			return c.emit(held, "fallback")
		}
	}
	if held > c.th.CeilingMs {
		c.pressActive = false
		c.logger.Warn("button held past ceiling, dropping press", "held_ms", held)
	}
	return None
}

func (c *Classifier) emit(heldMs uint32, source string) Action {
	a := c.th.Classify(heldMs)
	if a == None {
		c.logger.Debug("button hold ignored", "held_ms", heldMs, "source", source)
		return None
	}
	c.logger.Info("button action", "action", a.String(), "held_ms", heldMs, "source", source)
	c.out.Post(a)
	return a
}
