package join

import (
	"context"
	"fmt"
	"log/slog"

	"zigbee-sensor-node/internal/ncp"
)

// Stack is the subset of the network stack the machine drives.
type Stack interface {
	RequestActiveScan(ctx context.Context, channelMask uint32, duration uint8) error
	RequestAssociation(ctx context.Context, p ncp.AssociationParams) error
	RequestLeave(ctx context.Context) error
	NetworkState() ncp.NetworkState
	SetSecurityState(ctx context.Context, key [16]byte, policy uint32) error
}

// Hooks receives the effects that belong to the application.
type Hooks interface {
	ArmGuard(g Guard, ms uint32, rejoin bool)
	ClearGuard(g Guard)
	StartSampler()
	StopSampler()
	SetIndicator(mode IndicatorMode)
	Report(r Report)
}

// Machine owns the join State and runs Step's effects. It is not safe for
// concurrent use; the application calls it from its poll loop only.
type Machine struct {
	state  State
	cfg    Config
	stack  Stack
	hooks  Hooks
	logger *slog.Logger
}

// NewMachine creates a machine in the fresh-boot state.
func NewMachine(cfg Config, stack Stack, hooks Hooks, logger *slog.Logger) *Machine {
	return &Machine{cfg: cfg, stack: stack, hooks: hooks, logger: logger}
}

// State returns a copy of the current state.
func (m *Machine) State() State { return m.state }

// Joined reports whether the device is on a network.
func (m *Machine) Joined() bool { return m.state.Joined }

// Busy reports whether a join attempt is running.
func (m *Machine) Busy() bool { return m.state.InProgress }

// Handle feeds ev through Step and executes the resulting effects. Stack
// calls that fail immediately are fed back as events until the machine
// settles.
func (m *Machine) Handle(ctx context.Context, ev Event) {
	if _, ok := ev.(StartRequested); ok && !m.state.Joined && m.stack.NetworkState() == ncp.NetworkJoined {
		// The stack rejoined on its own; catch up instead of scanning.
		ev = NetworkUp{}
	}

	queue := []Event{ev}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]

		next, effects := Step(m.state, e, m.cfg)
		if next.InProgress != m.state.InProgress || next.Joined != m.state.Joined {
			m.logger.Debug("join state", "event", eventName(e),
				"in_progress", next.InProgress, "joined", next.Joined,
				"channel_index", next.ChannelIndex)
		}
		m.state = next

		for _, eff := range effects {
			if fb := m.apply(ctx, eff); fb != nil {
				queue = append(queue, fb)
			}
		}
	}
}

func (m *Machine) apply(ctx context.Context, eff Effect) Event {
	switch e := eff.(type) {
	case StartScan:
		m.logger.Debug("scanning channel", "channel", e.Channel, "index", m.state.ChannelIndex)
		if err := m.stack.RequestActiveScan(ctx, e.Mask, e.Duration); err != nil {
			m.logger.Warn("scan start failed", "channel", e.Channel, "err", err)
			return ScanStartFailed{Err: err}
		}

	case ConfigureSecurity:
		err := m.stack.SetSecurityState(ctx, e.Key, e.Policy)
		if err != nil {
			m.logger.Warn("join security setup failed", "err", err)
		}
		return SecurityResult{Err: err}

	case Associate:
		m.logger.Info("candidate network",
			"channel", e.Params.Channel,
			"pan_id", fmt.Sprintf("0x%04X", e.Params.PanID),
			"update_id", e.Params.UpdateID)
		if err := m.stack.RequestAssociation(ctx, e.Params); err != nil {
			m.logger.Warn("association start failed", "err", err)
			return AssociationStartFailed{Err: err}
		}

	case RequestLeave:
		m.logger.Info("leaving network")
		if err := m.stack.RequestLeave(ctx); err != nil {
			m.logger.Warn("leave request failed", "err", err)
			return LeaveFailed{Err: err}
		}

	case ArmGuard:
		m.hooks.ArmGuard(e.Guard, e.Ms, e.Rejoin)
	case ClearGuard:
		m.hooks.ClearGuard(e.Guard)
	case StartSampler:
		m.hooks.StartSampler()
	case StopSampler:
		m.hooks.StopSampler()
	case SetIndicator:
		m.hooks.SetIndicator(e.Mode)

	case Report:
		m.logReport(e)
		m.hooks.Report(e)
	}
	return nil
}

func (m *Machine) logReport(r Report) {
	switch r.Outcome {
	case OutcomeDeferred:
		m.logger.Info("join deferred until stack init completes")
	case OutcomeExhausted:
		m.logger.Info("no joinable network found", "attempt", r.Attempt, "channels", len(m.cfg.channels()))
	case OutcomeAborted:
		m.logger.Warn("join attempt aborted, backing off", "attempt", r.Attempt, "err", r.Err)
	case OutcomeJoined:
		m.logger.Info("network joined")
	case OutcomeLeft:
		m.logger.Info("left network")
	case OutcomeDropped:
		m.logger.Warn("network lost")
	case OutcomeLeaveFailed:
		m.logger.Warn("leave failed", "err", r.Err)
	}
}

func eventName(e Event) string {
	switch e.(type) {
	case InitComplete:
		return "init_complete"
	case StartRequested:
		return "start_requested"
	case NetworkFound:
		return "network_found"
	case ScanComplete:
		return "scan_complete"
	case ScanStartFailed:
		return "scan_start_failed"
	case SecurityResult:
		return "security_result"
	case AssociationStartFailed:
		return "association_start_failed"
	case AssociationRejected:
		return "association_rejected"
	case NetworkUp:
		return "network_up"
	case NetworkDown:
		return "network_down"
	case LeaveRequested:
		return "leave_requested"
	case LeaveFailed:
		return "leave_failed"
	}
	return fmt.Sprintf("%T", e)
}
