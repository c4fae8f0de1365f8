package ncp

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ReportSender delivers a Report Attributes command for one cluster.
type ReportSender interface {
	SendReport(ctx context.Context, cluster uint16, reports []AttributeReport) error
}

type reportKey struct {
	cluster uint16
	attr    uint16
}

type reportEntry struct {
	dataType    uint8
	minInterval uint16
	maxInterval uint16
	change      uint64
	disabled    bool

	last     []byte
	lastSent time.Time
	sent     bool
}

type pendingReport struct {
	cluster uint16
	report  AttributeReport
}

// Reporter decides when a changed attribute value is worth reporting and
// sends the reports from its own goroutine. Each tracked attribute reports
// on first value, when its change reaches the threshold (respecting the
// minimum interval), or when the maximum interval elapses.
type Reporter struct {
	sender ReportSender
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[reportKey]*reportEntry

	queue chan pendingReport
}

// NewReporter creates a reporter sending through sender.
func NewReporter(sender ReportSender, logger *slog.Logger) *Reporter {
	return &Reporter{
		sender:  sender,
		logger:  logger,
		now:     time.Now,
		entries: make(map[reportKey]*reportEntry),
		queue:   make(chan pendingReport, 16),
	}
}

// Track registers a reportable attribute with its reportable change in
// wire units. Re-tracking only updates the change threshold.
func (r *Reporter) Track(cluster, attrID uint16, dataType uint8, change uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := reportKey{cluster, attrID}
	if e, ok := r.entries[k]; ok {
		e.change = change
		return
	}
	r.entries[k] = &reportEntry{dataType: dataType, change: change}
}

// SetThreshold updates the reportable change of a tracked attribute.
func (r *Reporter) SetThreshold(cluster, attrID uint16, change uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[reportKey{cluster, attrID}]; ok {
		e.change = change
	}
}

// configure applies one Configure Reporting record and returns its status.
func (r *Reporter) configure(cluster uint16, c reportingConfig) uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[reportKey{cluster, c.AttrID}]
	if !ok {
		return zclStatusUnsupportedAttribute
	}
	if c.DataType != e.dataType {
		return zclStatusInvalidDataType
	}
	if c.MaxInterval == 0xFFFF {
		e.disabled = true
		return zclStatusSuccess
	}
	e.disabled = false
	e.minInterval = c.MinInterval
	e.maxInterval = c.MaxInterval
	if len(c.Change) > 0 {
		if v, ok := decodeInt(c.DataType, c.Change); ok {
			if v < 0 {
				v = -v
			}
			e.change = uint64(v)
		}
	}
	r.logger.Info("reporting configured",
		"cluster", fmt.Sprintf("0x%04X", cluster),
		"attr", fmt.Sprintf("0x%04X", c.AttrID),
		"min", c.MinInterval, "max", c.MaxInterval, "change", e.change)
	return zclStatusSuccess
}

// NotifyChanged offers a new attribute value. It never blocks; a report
// that does not fit in the queue is dropped.
func (r *Reporter) NotifyChanged(cluster, attrID uint16, dataType uint8, value []byte) {
	now := r.now()
	r.mu.Lock()
	e, ok := r.entries[reportKey{cluster, attrID}]
	if !ok || e.disabled || !e.due(dataType, value, now) {
		r.mu.Unlock()
		return
	}
	e.last = append(e.last[:0], value...)
	e.lastSent = now
	e.sent = true
	r.mu.Unlock()

	p := pendingReport{
		cluster: cluster,
		report:  AttributeReport{AttrID: attrID, DataType: dataType, Value: append([]byte(nil), value...)},
	}
	select {
	case r.queue <- p:
	default:
		r.retract(p)
		r.logger.Warn("report queue full, dropping",
			"cluster", fmt.Sprintf("0x%04X", cluster),
			"attr", fmt.Sprintf("0x%04X", attrID))
	}
}

// retract forgets an undelivered report so the next value offered for the
// attribute is sent. A newer report queued since p is left alone.
func (r *Reporter) retract(p pendingReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[reportKey{p.cluster, p.report.AttrID}]
	if ok && bytes.Equal(e.last, p.report.Value) {
		e.sent = false
	}
}

func (e *reportEntry) due(dataType uint8, value []byte, now time.Time) bool {
	if !e.sent {
		return true
	}
	elapsed := now.Sub(e.lastSent)
	if e.maxInterval != 0 && elapsed >= time.Duration(e.maxInterval)*time.Second {
		return true
	}
	if elapsed < time.Duration(e.minInterval)*time.Second {
		return false
	}
	if bytes.Equal(value, e.last) {
		return false
	}
	prev, ok1 := decodeInt(dataType, e.last)
	cur, ok2 := decodeInt(dataType, value)
	if !ok1 || !ok2 {
		return true
	}
	delta := cur - prev
	if delta < 0 {
		delta = -delta
	}
	return uint64(delta) >= e.change
}

// Run sends queued reports until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-r.queue:
			sctx, cancel := context.WithTimeout(ctx, hlRespTimeout)
			err := r.sender.SendReport(sctx, p.cluster, []AttributeReport{p.report})
			cancel()
			if err != nil {
				r.retract(p)
				r.logger.Warn("report send failed",
					"cluster", fmt.Sprintf("0x%04X", p.cluster),
					"attr", fmt.Sprintf("0x%04X", p.report.AttrID),
					"err", err)
				continue
			}
			r.logger.Debug("report sent",
				"cluster", fmt.Sprintf("0x%04X", p.cluster),
				"attr", fmt.Sprintf("0x%04X", p.report.AttrID),
				"value", fmt.Sprintf("%X", p.report.Value))
		}
	}
}

// decodeInt reads a little-endian integer ZCL value.
func decodeInt(dataType uint8, b []byte) (int64, bool) {
	var size int
	signed := false
	switch {
	case dataType == 0x10:
		size = 1
	case dataType >= 0x20 && dataType <= 0x23:
		size = int(dataType-0x20) + 1
	case dataType >= 0x28 && dataType <= 0x2B:
		size = int(dataType-0x28) + 1
		signed = true
	default:
		return 0, false
	}
	if len(b) < size {
		return 0, false
	}
	var buf [8]byte
	copy(buf[:], b[:size])
	u := binary.LittleEndian.Uint64(buf[:])
	if signed {
		shift := uint(64 - 8*size)
		return int64(u<<shift) >> shift, true
	}
	return int64(u), true
}
