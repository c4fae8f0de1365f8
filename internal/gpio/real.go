//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Button watches a button line for both edges and forwards them to an
// EdgeSink stamped with the node tick.
type Button struct {
	line      *gpiocdev.Line
	activeLow bool
}

// NewButton requests offset on chip with edge detection. With activeLow the
// line reads 0 while the button is held, as with a pull-up and a switch to
// ground.
func NewButton(chip string, offset int, activeLow bool, sink EdgeSink, ticks TickSource) (*Button, error) {
	b := &Button{activeLow: activeLow}
	bias := gpiocdev.WithPullDown
	if activeLow {
		bias = gpiocdev.WithPullUp
	}
	handler := func(evt gpiocdev.LineEvent) {
		now := ticks.NowTicks()
		rising := evt.Type == gpiocdev.LineEventRisingEdge
		if rising != activeLow {
			sink.Press(now)
		} else {
			sink.Release(now)
		}
	}
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		bias,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(handler),
	)
	if err != nil {
		return nil, fmt.Errorf("request button line %s:%d: %w", chip, offset, err)
	}
	b.line = line
	return b, nil
}

// Pressed reads the current level of the button line.
func (b *Button) Pressed() (bool, error) {
	v, err := b.line.Value()
	if err != nil {
		return false, fmt.Errorf("read button line: %w", err)
	}
	if b.activeLow {
		return v == 0, nil
	}
	return v == 1, nil
}

// Close releases the line.
func (b *Button) Close() error {
	if b.line == nil {
		return nil
	}
	return b.line.Close()
}

// LED drives an output line.
type LED struct {
	line      *gpiocdev.Line
	activeLow bool
}

// NewLED requests offset on chip as an output, initially off.
func NewLED(chip string, offset int, activeLow bool) (*LED, error) {
	off := 0
	if activeLow {
		off = 1
	}
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(off))
	if err != nil {
		return nil, fmt.Errorf("request led line %s:%d: %w", chip, offset, err)
	}
	return &LED{line: line, activeLow: activeLow}, nil
}

func (l *LED) Set(on bool) error {
	v := 0
	if on != l.activeLow {
		v = 1
	}
	return l.line.SetValue(v)
}

// Close turns the LED off, returns the line to an input and releases it.
func (l *LED) Close() error {
	var errs []error
	if err := l.Set(false); err != nil {
		errs = append(errs, fmt.Errorf("switch led off: %w", err))
	}
	if err := l.line.Reconfigure(gpiocdev.AsInput); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure led line: %w", err))
	}
	if err := l.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close led line: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
