//go:build !no_lua

package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const scriptTimeout = time.Second

// Script is a sensor implemented by a Lua file. The file defines a global
// read() returning a table with temperature (°C) and optionally humidity
// (%) and pressure (Pa); returning nil, "message" reports a failure.
type Script struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	state    *lua.LState
	humidity bool
	pressure bool
}

// NewScript creates a script sensor; the file is loaded by Init.
func NewScript(path string, logger *slog.Logger) (Driver, error) {
	if path == "" {
		return nil, fmt.Errorf("sensor: script profile needs a script path")
	}
	return &Script{path: path, logger: logger.With("script", path)}, nil
}

// Init loads the file and takes one reading to learn which quantities the
// script provides.
func (s *Script) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		s.state.Close()
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: false})

	// Sandbox
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	s.registerModule(L)
	if err := L.DoFile(s.path); err != nil {
		L.Close()
		return fmt.Errorf("sensor: load script: %w", err)
	}
	if L.GetGlobal("read").Type() != lua.LTFunction {
		L.Close()
		return fmt.Errorf("sensor: script %s defines no read()", s.path)
	}
	s.state = L

	sample, err := s.readLocked()
	if err != nil {
		return err
	}
	s.humidity = sample.HasHumidity
	s.pressure = sample.HasPressure
	s.logger.Info("script sensor ready", "humidity", s.humidity, "pressure", s.pressure)
	return nil
}

func (s *Script) registerModule(L *lua.LState) {
	mod := L.NewTable()
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		s.logger.Info("script", "msg", L.CheckString(1))
		return 0
	}))
	mod.RawSetString("millis", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().UnixMilli()))
		return 1
	}))
	L.SetGlobal("sensor", mod)
}

func (s *Script) Read() (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return Sample{}, fmt.Errorf("sensor: script not initialised")
	}
	return s.readLocked()
}

func (s *Script) readLocked() (Sample, error) {
	L := s.state
	ctx, cancel := context.WithTimeout(context.Background(), scriptTimeout)
	defer cancel()
	L.SetContext(ctx)
	defer L.RemoveContext()

	err := L.CallByParam(lua.P{Fn: L.GetGlobal("read"), NRet: 2, Protect: true})
	if err != nil {
		return Sample{}, fmt.Errorf("sensor: script read: %w", err)
	}
	ret, msg := L.Get(-2), L.Get(-1)
	L.Pop(2)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		if msg != lua.LNil {
			return Sample{}, fmt.Errorf("sensor: script read: %s", msg.String())
		}
		return Sample{}, fmt.Errorf("sensor: script read returned %s", ret.Type())
	}

	var sample Sample
	t, ok := tbl.RawGetString("temperature").(lua.LNumber)
	if !ok {
		return Sample{}, fmt.Errorf("sensor: script read: no temperature")
	}
	sample.Temperature = int32(math.Round(float64(t) * 100))
	if h, ok := tbl.RawGetString("humidity").(lua.LNumber); ok {
		sample.Humidity = int32(math.Round(float64(h) * 100))
		sample.HasHumidity = true
	}
	if p, ok := tbl.RawGetString("pressure").(lua.LNumber); ok {
		sample.Pressure = int32(math.Round(float64(p)))
		sample.HasPressure = true
	}
	return sample, nil
}

func (s *Script) HasHumidity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.humidity
}

func (s *Script) HasPressure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pressure
}

func (s *Script) Name() string { return ProfileScript }

// Close releases the Lua state.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		s.state.Close()
		s.state = nil
	}
}
