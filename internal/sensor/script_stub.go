//go:build no_lua

package sensor

import (
	"errors"
	"log/slog"
)

// NewScript fails when Lua support is compiled out.
func NewScript(string, *slog.Logger) (Driver, error) {
	return nil, errors.New("sensor: script profile disabled (built with no_lua)")
}
