package config

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"zigbee-sensor-node/internal/ncp"
	"zigbee-sensor-node/internal/zcl"
)

// Reader reads persisted attribute values.
type Reader interface {
	ReadAttribute(id uint16) ([]byte, error)
}

// Writer persists attribute values.
type Writer interface {
	WriteAttribute(id uint16, value []byte) error
}

// Load reads every field from r, substituting the default for values that
// are missing, undecodable or out of range.
func Load(r Reader, logger *slog.Logger) RuntimeConfig {
	c := Defaults()
	for _, f := range Fields {
		raw, err := r.ReadAttribute(f.ID)
		if err != nil {
			logger.Debug("config attribute not stored, using default", "name", f.Name, "err", err)
			continue
		}
		v, err := f.decode(raw)
		if err != nil {
			logger.Warn("stored config attribute unreadable, using default", "name", f.Name, "raw", fmt.Sprintf("%X", raw), "err", err)
			continue
		}
		if !f.inRange(v) {
			logger.Warn("stored config attribute out of range, using default", "name", f.Name, "value", v)
			continue
		}
		f.set(&c, v)
	}
	logger.Info("config loaded",
		"read_interval_s", c.ReadIntervalSec,
		"temperature_offset", c.TemperatureOffset,
		"humidity_offset", c.HumidityOffset,
		"pressure_offset", c.PressureOffset,
		"led_enable", c.LEDEnable)
	return c
}

// ChangeFunc is called after a field was accepted and applied.
type ChangeFunc func(f Field, c RuntimeConfig)

// Adapter owns the configuration in effect. Write is the only path that
// changes it.
type Adapter struct {
	mu       sync.Mutex
	cfg      RuntimeConfig
	store    Writer
	onChange ChangeFunc
	logger   *slog.Logger
}

// NewAdapter wraps a loaded configuration. store may be nil.
func NewAdapter(cfg RuntimeConfig, store Writer, logger *slog.Logger) *Adapter {
	return &Adapter{cfg: cfg, store: store, logger: logger}
}

// OnChange installs the hook that applies runtime side effects.
func (a *Adapter) OnChange(fn ChangeFunc) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// Config returns a copy of the configuration in effect.
func (a *Adapter) Config() RuntimeConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Write validates a wire value and, if acceptable, applies and persists it.
// The returned error is a *StatusError.
func (a *Adapter) Write(id uint16, zclType uint8, raw []byte) error {
	f, ok := Lookup(id)
	if !ok {
		return &StatusError{Status: zcl.ZCLStatusUnsupportedAttr, Attr: id}
	}
	if zclType != f.Type || len(raw) != zcl.TypeSize(f.Type) {
		return &StatusError{
			Status: zcl.ZCLStatusInvalidDataType,
			Attr:   id,
			Reason: fmt.Sprintf("want %s, got %s with %d bytes", zcl.TypeName(f.Type), zcl.TypeName(zclType), len(raw)),
		}
	}
	v, err := f.decode(raw)
	if err != nil {
		return &StatusError{Status: zcl.ZCLStatusInvalidDataType, Attr: id, Reason: err.Error()}
	}
	if !f.inRange(v) {
		return &StatusError{
			Status: zcl.ZCLStatusInvalidValue,
			Attr:   id,
			Reason: fmt.Sprintf("%s %d outside %d..%d", f.Name, v, f.Min, f.Max),
		}
	}

	a.mu.Lock()
	f.set(&a.cfg, v)
	cfg := a.cfg
	hook := a.onChange
	a.mu.Unlock()

	a.logger.Info("config changed", "name", f.Name, "value", f.Value(cfg))
	if hook != nil {
		hook(f, cfg)
	}
	if a.store != nil {
		if err := a.store.WriteAttribute(id, f.encode(cfg)); err != nil {
			a.logger.Error("persist config attribute", "name", f.Name, "err", err)
		}
	}
	return nil
}

// Set writes a field addressed by name or hex ID from a local value: a Go
// number, a bool, or their string forms.
func (a *Adapter) Set(key string, value interface{}) error {
	f, ok := LookupKey(key)
	if !ok {
		return &StatusError{Status: zcl.ZCLStatusUnsupportedAttr, Reason: fmt.Sprintf("unknown field %q", key)}
	}
	v, ok := asInt64(value)
	if !ok {
		return &StatusError{Status: zcl.ZCLStatusInvalidDataType, Attr: f.ID, Reason: fmt.Sprintf("cannot use %v (%T)", value, value)}
	}
	var wire interface{} = v
	if f.Type == zcl.TypeBool {
		wire = v != 0
	}
	raw, err := zcl.EncodeValue(f.Type, wire)
	if err != nil {
		return &StatusError{Status: zcl.ZCLStatusInvalidValue, Attr: f.ID, Reason: err.Error()}
	}
	return a.Write(f.ID, f.Type, raw)
}

// Read returns the wire type and value of a field.
func (a *Adapter) Read(id uint16) (uint8, []byte, error) {
	f, ok := Lookup(id)
	if !ok {
		return 0, nil, &StatusError{Status: zcl.ZCLStatusUnsupportedAttr, Attr: id}
	}
	return f.Type, f.encode(a.Config()), nil
}

// Get returns a field's current value addressed by name or hex ID.
func (a *Adapter) Get(key string) (interface{}, error) {
	f, ok := LookupKey(key)
	if !ok {
		return nil, &StatusError{Status: zcl.ZCLStatusUnsupportedAttr, Reason: fmt.Sprintf("unknown field %q", key)}
	}
	return f.Value(a.Config()), nil
}

// Snapshot returns all fields by name.
func (a *Adapter) Snapshot() map[string]interface{} {
	c := a.Config()
	m := make(map[string]interface{}, len(Fields))
	for _, f := range Fields {
		m[f.Name] = f.Value(c)
	}
	return m
}

// ReadAttribute serves remote reads of the manufacturer-specific space.
func (a *Adapter) ReadAttribute(attrID uint16) (uint8, []byte, uint8) {
	dt, raw, err := a.Read(attrID)
	return dt, raw, Status(err)
}

// WriteAttributes serves remote writes of the manufacturer-specific space.
func (a *Adapter) WriteAttributes(records []ncp.WriteRecord) []uint8 {
	statuses := make([]uint8, len(records))
	for i, r := range records {
		err := a.Write(r.AttrID, r.DataType, r.Value)
		if err != nil {
			a.logger.Warn("remote config write rejected", "attr", fmt.Sprintf("0x%04X", r.AttrID), "err", err)
		}
		statuses[i] = Status(err)
	}
	return statuses
}

func asInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case float64:
		if val != math.Trunc(val) || math.Abs(val) > math.MaxInt32 {
			return 0, false
		}
		return int64(val), true
	case string:
		s := strings.TrimSpace(val)
		switch strings.ToLower(s) {
		case "true", "on":
			return 1, true
		case "false", "off":
			return 0, true
		}
		n, err := strconv.ParseInt(s, 0, 64)
		return n, err == nil
	}
	return 0, false
}
