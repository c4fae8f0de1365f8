package zcl

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"zigbee-sensor-node/internal/ncp"
)

var (
	// ErrUnknownAttribute is returned for attributes not in the registry.
	ErrUnknownAttribute = errors.New("zcl: unknown attribute")
	// ErrNoValue is returned when a known attribute was never written.
	ErrNoValue = errors.New("zcl: attribute has no value")
	// ErrTypeMismatch is returned when a value does not fit the attribute type.
	ErrTypeMismatch = errors.New("zcl: value does not match attribute type")
)

// Notifier receives attribute changes worth reporting.
type Notifier interface {
	NotifyChanged(cluster, attrID uint16, dataType uint8, value []byte)
}

// Handler serves a (cluster, manufacturer) attribute space whose values
// live outside the table.
type Handler interface {
	ReadAttribute(attrID uint16) (dataType uint8, value []byte, status uint8)
	WriteAttributes(records []ncp.WriteRecord) []uint8
}

type attrKey struct {
	cluster uint16
	mfg     uint16
	attr    uint16
}

type handlerKey struct {
	cluster uint16
	mfg     uint16
}

// AttributeTable holds the server-side attribute values of the endpoint
// and answers remote reads and writes. It implements ncp.AttributeServer.
type AttributeTable struct {
	mu       sync.RWMutex
	reg      *Registry
	values   map[attrKey][]byte
	handlers map[handlerKey]Handler
	notifier Notifier
	logger   *slog.Logger
}

// NewAttributeTable creates an empty table over reg.
func NewAttributeTable(reg *Registry, logger *slog.Logger) *AttributeTable {
	return &AttributeTable{
		reg:      reg,
		values:   make(map[attrKey][]byte),
		handlers: make(map[handlerKey]Handler),
		logger:   logger,
	}
}

// SetNotifier installs the reporting engine.
func (t *AttributeTable) SetNotifier(n Notifier) {
	t.mu.Lock()
	t.notifier = n
	t.mu.Unlock()
}

// Handle routes the (cluster, mfgCode) attribute space to h.
func (t *AttributeTable) Handle(cluster, mfgCode uint16, h Handler) {
	t.mu.Lock()
	t.handlers[handlerKey{cluster, mfgCode}] = h
	t.mu.Unlock()
}

// Write stores a value of a standard attribute. It is the local write path
// and ignores remote access flags.
func (t *AttributeTable) Write(cluster, attrID uint16, value []byte) error {
	def, ok := t.reg.Attribute(cluster, 0, attrID)
	if !ok {
		return fmt.Errorf("%w: cluster 0x%04X attr 0x%04X", ErrUnknownAttribute, cluster, attrID)
	}
	if err := checkValue(def.Type, value); err != nil {
		return fmt.Errorf("%w: cluster 0x%04X attr 0x%04X: %v", ErrTypeMismatch, cluster, attrID, err)
	}
	t.mu.Lock()
	t.values[attrKey{cluster, 0, attrID}] = append([]byte(nil), value...)
	t.mu.Unlock()
	return nil
}

// Read returns the type and current value of a standard attribute.
func (t *AttributeTable) Read(cluster, attrID uint16) (uint8, []byte, error) {
	def, ok := t.reg.Attribute(cluster, 0, attrID)
	if !ok {
		return 0, nil, fmt.Errorf("%w: cluster 0x%04X attr 0x%04X", ErrUnknownAttribute, cluster, attrID)
	}
	t.mu.RLock()
	v, ok := t.values[attrKey{cluster, 0, attrID}]
	t.mu.RUnlock()
	if !ok {
		return def.Type, nil, ErrNoValue
	}
	return def.Type, append([]byte(nil), v...), nil
}

// NotifyChanged forwards a changed reportable attribute to the notifier.
func (t *AttributeTable) NotifyChanged(cluster, attrID uint16, value []byte) {
	def, ok := t.reg.Attribute(cluster, 0, attrID)
	if !ok || !def.IsReportable() {
		return
	}
	t.mu.RLock()
	n := t.notifier
	t.mu.RUnlock()
	if n != nil {
		n.NotifyChanged(cluster, attrID, def.Type, value)
	}
}

// ReadAttribute answers a remote Read Attributes record.
func (t *AttributeTable) ReadAttribute(cluster, mfgCode, attrID uint16) (uint8, []byte, uint8) {
	if h := t.handler(cluster, mfgCode); h != nil {
		return h.ReadAttribute(attrID)
	}
	def, ok := t.reg.Attribute(cluster, mfgCode, attrID)
	if !ok {
		return 0, nil, ZCLStatusUnsupportedAttr
	}
	if !def.IsReadable() {
		return 0, nil, ZCLStatusWriteOnly
	}
	t.mu.RLock()
	v, ok := t.values[attrKey{cluster, mfgCode, attrID}]
	t.mu.RUnlock()
	if !ok {
		return 0, nil, ZCLStatusUnsupportedAttr
	}
	return def.Type, append([]byte(nil), v...), ZCLStatusSuccess
}

// WriteAttributes answers a remote Write Attributes command with one status
// per record.
func (t *AttributeTable) WriteAttributes(cluster, mfgCode uint16, records []ncp.WriteRecord) []uint8 {
	if h := t.handler(cluster, mfgCode); h != nil {
		return h.WriteAttributes(records)
	}
	statuses := make([]uint8, len(records))
	for i, r := range records {
		statuses[i] = t.writeRemote(cluster, mfgCode, r)
	}
	return statuses
}

func (t *AttributeTable) writeRemote(cluster, mfgCode uint16, r ncp.WriteRecord) uint8 {
	def, ok := t.reg.Attribute(cluster, mfgCode, r.AttrID)
	if !ok {
		return ZCLStatusUnsupportedAttr
	}
	if !def.IsWritable() {
		return ZCLStatusReadOnly
	}
	if r.DataType != def.Type || checkValue(def.Type, r.Value) != nil {
		return ZCLStatusInvalidDataType
	}
	k := attrKey{cluster, mfgCode, r.AttrID}
	t.mu.Lock()
	changed := !bytes.Equal(t.values[k], r.Value)
	t.values[k] = append([]byte(nil), r.Value...)
	t.mu.Unlock()
	if changed {
		t.logger.Info("attribute written remotely",
			"cluster", fmt.Sprintf("0x%04X", cluster),
			"attr", fmt.Sprintf("0x%04X", r.AttrID),
			"value", fmt.Sprintf("%X", r.Value))
	}
	return ZCLStatusSuccess
}

func (t *AttributeTable) handler(cluster, mfgCode uint16) Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handlers[handlerKey{cluster, mfgCode}]
}

// checkValue verifies value is exactly one encoded value of typeID.
func checkValue(typeID uint8, value []byte) error {
	n, err := ValueLength(typeID, value)
	if err != nil {
		return err
	}
	if n != len(value) {
		return fmt.Errorf("%d trailing bytes", len(value)-n)
	}
	return nil
}
