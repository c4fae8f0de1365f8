package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zigbee-sensor-node/internal/button"
	"zigbee-sensor-node/internal/config"
	"zigbee-sensor-node/internal/join"
	"zigbee-sensor-node/internal/ncp"
	"zigbee-sensor-node/internal/store"
	"zigbee-sensor-node/internal/zcl/clusters"
)

// Run polls until ctx is cancelled. Stack events and commands wake the loop
// early.
func (n *Node) Run(ctx context.Context) error {
	interval := n.cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n.logger.Info("main loop started", "poll", interval)
	for {
		select {
		case <-ctx.Done():
			n.sampler.Stop()
			if n.indicator != nil {
				n.indicator.Off()
			}
			n.logger.Info("main loop stopped")
			return nil
		case <-ticker.C:
		case <-n.wake:
		}
		n.Step(ctx)
	}
}

// Step runs one loop iteration.
func (n *Node) Step(ctx context.Context) {
	n.drainStack(ctx)
	n.runCommands()

	now := n.clock.NowTicks()
	n.classifier.Poll(now)
	if a, ok := n.actions.Take(); ok {
		n.dispatch(ctx, now, a)
	}
	n.checkRejoin(ctx, now)
	n.sampler.Process()

	if n.watchdogDue.Expired(now) {
		n.armWatchdog(now)
		n.sampler.Watchdog(now)
	}
}

// drainStack handles queued stack events, then any that overflowed the
// queue. Overflow only fills while the queue is full, so this keeps order.
func (n *Node) drainStack(ctx context.Context) {
	for drained := false; !drained; {
		select {
		case ev := <-n.stackEvents:
			n.handleStack(ctx, ev)
		default:
			drained = true
		}
	}
	for _, ev := range n.takeOverflow() {
		n.handleStack(ctx, ev)
	}
}

func (n *Node) handleStack(ctx context.Context, ev join.Event) {
	n.handle(ctx, ev)
	if _, ok := ev.(join.InitComplete); ok && n.cfg.JoinOnBoot && !n.machine.Joined() {
		n.handle(ctx, join.StartRequested{})
	}
}

func (n *Node) runCommands() {
	for {
		select {
		case c := <-n.cmds:
			c.fn(n)
			if c.done != nil {
				close(c.done)
			}
		default:
			return
		}
	}
}

// handle feeds one event to the join machine.
func (n *Node) handle(ctx context.Context, ev join.Event) {
	if st := n.machine.State(); st.Candidate != nil {
		c := *st.Candidate
		n.candidate = &c
	}
	n.machine.Handle(ctx, ev)
	n.joined.Store(n.machine.Joined())
}

func (n *Node) buttonSuppressed(now uint32) bool {
	// Every guard is checked so expired ones are cleared.
	boot := n.bootGuard.Active(now)
	postJoin := n.postJoinGuard.Active(now)
	postLeave := n.postLeaveGuard.Active(now)
	return n.machine.Busy() || boot || postJoin || postLeave
}

func (n *Node) dispatch(ctx context.Context, now uint32, a button.Action) {
	joined := n.machine.Joined()
	n.emit(EventButton, ButtonData{Action: a.String(), Joined: joined})

	switch {
	case a == button.ShortPress && joined:
		n.logger.Info("manual sample requested")
		n.sampler.RequestSample()
		if n.indicator != nil {
			n.indicator.Pulse()
		}
	case a == button.LongPress && joined:
		n.logger.Info("leave requested by button")
		n.handle(ctx, join.LeaveRequested{})
	default:
		if n.backoffGuard.Active(now) {
			n.logger.Info("join backoff active, press ignored",
				"remaining_ms", n.clock.TicksToMs(n.backoffGuard.Remaining(now)))
			return
		}
		n.rejoinAfterBackoff = false
		n.handle(ctx, join.StartRequested{})
	}
}

func (n *Node) checkRejoin(ctx context.Context, now uint32) {
	if !n.rejoinAfterBackoff || !n.backoffGuard.Expired(now) {
		return
	}
	n.rejoinAfterBackoff = false
	if !n.cfg.AutoRejoin || n.machine.Joined() || n.machine.Busy() {
		return
	}
	n.logger.Info("join backoff expired, rejoining")
	n.handle(ctx, join.StartRequested{})
}

// machineHooks carries out the join machine's application effects.
type machineHooks struct{ n *Node }

func (h machineHooks) ArmGuard(g join.Guard, ms uint32, rejoin bool) {
	n := h.n
	now := n.clock.NowTicks()
	ticks := n.clock.MsToTicks(ms)
	switch g {
	case join.GuardPostJoin:
		n.postJoinGuard.Arm(now, ticks)
	case join.GuardPostLeave:
		n.postLeaveGuard.Arm(now, ticks)
	case join.GuardBackoff:
		n.backoffGuard.Arm(now, ticks)
		n.rejoinAfterBackoff = rejoin
	}
	n.logger.Debug("guard armed", "guard", g.String(), "ms", ms, "rejoin", rejoin)
}

func (h machineHooks) ClearGuard(g join.Guard) {
	n := h.n
	switch g {
	case join.GuardPostJoin:
		n.postJoinGuard.Clear()
	case join.GuardPostLeave:
		n.postLeaveGuard.Clear()
	case join.GuardBackoff:
		n.backoffGuard.Clear()
		n.rejoinAfterBackoff = false
	}
}

func (h machineHooks) StartSampler() {
	// The sampler checks Joined; NetworkUp has already been applied.
	h.n.joined.Store(true)
	h.n.sampler.Start()
}

func (h machineHooks) StopSampler() { h.n.sampler.Stop() }

func (h machineHooks) SetIndicator(mode join.IndicatorMode) {
	if h.n.indicator == nil {
		return
	}
	if mode == join.IndicatorJoining {
		h.n.indicator.Joining()
	} else {
		h.n.indicator.Off()
	}
}

func (h machineHooks) Report(r join.Report) {
	n := h.n
	data := JoinStateData{Outcome: r.Outcome.String(), Attempt: r.Attempt}
	if r.Err != nil {
		data.Error = r.Err.Error()
	}
	n.emit(EventJoinState, data)

	switch r.Outcome {
	case join.OutcomeJoined:
		n.joined.Store(true)
		n.onJoined()
	case join.OutcomeExhausted, join.OutcomeAborted:
		n.candidate = nil
	case join.OutcomeLeft, join.OutcomeDropped:
		n.joined.Store(false)
		n.network = NetworkStateData{State: ncp.NetworkDown.String(), Reason: r.Outcome.String()}
		n.emit(EventNetworkState, n.network)
	}
}

func (n *Node) onJoined() {
	ns := &store.NetworkState{JoinedAt: time.Now()}
	if info, ok := n.stack.(InfoSource); ok {
		i := info.Info()
		ns.Channel, ns.PanID, ns.ShortAddress = i.Channel, i.PanID, i.ShortAddr
	}
	if c := n.candidate; c != nil {
		ns.ExtPanID = c.ExtPanIDString()
		if ns.Channel == 0 {
			ns.Channel, ns.PanID = c.Channel, c.PanID
		}
	}
	n.candidate = nil
	n.network = NetworkStateData{State: ncp.NetworkJoined.String(), Reason: "joined", Channel: ns.Channel, PanID: ns.PanID}
	n.emit(EventNetworkState, n.network)
	n.saveNetwork(ns)
}

func (n *Node) saveNetwork(ns *store.NetworkState) {
	if n.store == nil {
		return
	}
	prev, err := n.store.GetNetworkState()
	switch {
	case err == nil:
		ns.Joins = prev.Joins + 1
	case errors.Is(err, store.ErrNotFound):
		ns.Joins = 1
	default:
		n.logger.Warn("network state read failed", "err", err)
		ns.Joins = 1
	}
	if err := n.store.SaveNetworkState(ns); err != nil {
		n.logger.Warn("network state save failed", "err", err)
		return
	}
	n.logger.Info("network state saved", "channel", ns.Channel,
		"pan_id", fmt.Sprintf("0x%04X", ns.PanID), "joins", ns.Joins)
}

// onConfigChange runs on the main loop after a successful config write.
func (n *Node) onConfigChange(f config.Field, c config.RuntimeConfig) {
	switch f.ID {
	case config.AttrReadInterval:
		n.sampler.SetInterval(c.IntervalMs())
	case config.AttrTemperatureOffset, config.AttrHumidityOffset, config.AttrPressureOffset:
		n.sampler.SetCalibration(calibration(c))
	case config.AttrLEDEnable:
		if n.indicator != nil {
			n.indicator.SetEnabled(c.LEDEnable)
		}
	case config.AttrTemperatureThreshold, config.AttrHumidityThreshold, config.AttrPressureThreshold:
		n.applyThreshold(f, c)
	}
	n.emit(EventConfigChanged, ConfigChangedData{
		Attr:  fmt.Sprintf("0x%04X", f.ID),
		Name:  f.Name,
		Value: f.Value(c),
	})
}

func (n *Node) applyThreshold(f config.Field, c config.RuntimeConfig) {
	if n.reporter == nil {
		return
	}
	v, ok := f.Value(c).(uint16)
	if !ok {
		return
	}
	switch f.ID {
	case config.AttrTemperatureThreshold:
		n.reporter.SetThreshold(clusters.IDTemperature, clusters.AttrMeasuredValue, uint64(v))
	case config.AttrHumidityThreshold:
		n.reporter.SetThreshold(clusters.IDHumidity, clusters.AttrMeasuredValue, uint64(v))
	case config.AttrPressureThreshold:
		n.reporter.SetThreshold(clusters.IDPressure, clusters.AttrMeasuredValue, uint64(v))
	}
}
