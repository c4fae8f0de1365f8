// Package join implements the end-device channel scan and join state
// machine as a pure transition function plus a thin adapter that drives
// the network stack.
package join

import (
	"fmt"

	"zigbee-sensor-node/internal/ncp"
)

// ChannelOrder is the scan order, most commonly used channels first.
var ChannelOrder = []uint8{15, 20, 25, 11, 14, 19, 24, 26, 12, 13, 16, 17, 18, 21, 22, 23}

// ChannelMask selects a single 2.4 GHz channel.
func ChannelMask(ch uint8) uint32 { return 1 << ch }

// Config holds the join parameters and the guard/backoff lengths the
// machine asks the application to arm.
type Config struct {
	Channels       []uint8
	ScanDuration   uint8
	Sleepy         bool
	NetworkKey     [16]byte
	SecurityPolicy uint32

	PostJoinGuardMs  uint32
	PostLeaveGuardMs uint32
	LeaveBackoffMs   uint32
	DropBackoffMs    uint32
	BusyBackoffMs    uint32
}

// DefaultConfig returns the default join configuration.
func DefaultConfig() Config {
	return Config{
		Channels:         ChannelOrder,
		ScanDuration:     5,
		SecurityPolicy:   ncp.PolicyPreconfiguredKey | ncp.PolicyInsecureJoin,
		PostJoinGuardMs:  3000,
		PostLeaveGuardMs: 5000,
		LeaveBackoffMs:   10000,
		DropBackoffMs:    5000,
		BusyBackoffMs:    5000,
	}
}

func (c Config) channels() []uint8 {
	if len(c.Channels) == 0 {
		return ChannelOrder
	}
	return c.Channels
}

// State is the complete join state. The zero value is a fresh boot.
type State struct {
	StackReady         bool
	JoinDeferred       bool
	InProgress         bool
	ScanInProgress     bool
	CandidateFound     bool
	Candidate          *ncp.NetworkDescriptor
	ChannelIndex       int
	AttemptCount       int
	SecurityConfigured bool
	Associating        bool
	BackoffArmed       bool
	Joined             bool
	LeaveIntentional   bool
}

// --- Events ---

// Event is an input to Step.
type Event interface{ event() }

type (
	// InitComplete: the stack finished initialising.
	InitComplete struct{}
	// StartRequested: a join was requested (button or auto-rejoin).
	StartRequested struct{}
	// NetworkFound: a beacon was heard during the current scan.
	NetworkFound struct{ Network ncp.NetworkDescriptor }
	// ScanComplete: the single-channel scan finished.
	ScanComplete struct {
		Channel uint8
		Err     error
	}
	// ScanStartFailed: the stack refused to start a scan.
	ScanStartFailed struct{ Err error }
	// SecurityResult: outcome of installing the join key.
	SecurityResult struct{ Err error }
	// AssociationStartFailed: the stack refused to start association.
	AssociationStartFailed struct{ Err error }
	// AssociationRejected: association ran and failed.
	AssociationRejected struct{ Err error }
	// NetworkUp: the stack reports the device joined.
	NetworkUp struct{}
	// NetworkDown: the stack reports the device left or lost the network.
	NetworkDown struct{}
	// LeaveRequested: the user asked to leave the network.
	LeaveRequested struct{}
	// LeaveFailed: the leave request could not be carried out.
	LeaveFailed struct{ Err error }
)

func (InitComplete) event()           {}
func (StartRequested) event()         {}
func (NetworkFound) event()           {}
func (ScanComplete) event()           {}
func (ScanStartFailed) event()        {}
func (SecurityResult) event()         {}
func (AssociationStartFailed) event() {}
func (AssociationRejected) event()    {}
func (NetworkUp) event()              {}
func (NetworkDown) event()            {}
func (LeaveRequested) event()         {}
func (LeaveFailed) event()            {}

// --- Effects ---

// Effect is an output of Step for the adapter to carry out.
type Effect interface{ effect() }

// Guard names an application-owned deadline.
type Guard uint8

const (
	GuardPostJoin Guard = iota
	GuardPostLeave
	GuardBackoff
)

func (g Guard) String() string {
	switch g {
	case GuardPostJoin:
		return "post_join"
	case GuardPostLeave:
		return "post_leave"
	case GuardBackoff:
		return "backoff"
	}
	return fmt.Sprintf("guard(%d)", uint8(g))
}

// IndicatorMode is the requested LED pattern.
type IndicatorMode uint8

const (
	IndicatorOff IndicatorMode = iota
	IndicatorJoining
)

// Outcome classifies a Report effect.
type Outcome uint8

const (
	OutcomeDeferred Outcome = iota
	OutcomeExhausted
	OutcomeAborted
	OutcomeJoined
	OutcomeLeft
	OutcomeDropped
	OutcomeLeaveFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDeferred:
		return "deferred"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeAborted:
		return "aborted"
	case OutcomeJoined:
		return "joined"
	case OutcomeLeft:
		return "left"
	case OutcomeDropped:
		return "dropped"
	case OutcomeLeaveFailed:
		return "leave_failed"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

type (
	// StartScan scans a single channel.
	StartScan struct {
		Channel  uint8
		Mask     uint32
		Duration uint8
	}
	// ConfigureSecurity installs the join key; the result comes back as
	// SecurityResult.
	ConfigureSecurity struct {
		Key    [16]byte
		Policy uint32
	}
	// Associate requests association with the latched candidate.
	Associate struct{ Params ncp.AssociationParams }
	// RequestLeave asks the stack to leave the network.
	RequestLeave struct{}
	// ArmGuard arms an application guard. Rejoin marks a backoff after
	// which an automatic rejoin is allowed.
	ArmGuard struct {
		Guard  Guard
		Ms     uint32
		Rejoin bool
	}
	// ClearGuard disarms an application guard.
	ClearGuard struct{ Guard Guard }
	// StartSampler starts periodic sampling with an immediate sample.
	StartSampler struct{}
	// StopSampler stops periodic sampling.
	StopSampler struct{}
	// SetIndicator switches the LED pattern.
	SetIndicator struct{ Mode IndicatorMode }
	// Report surfaces the end of an attempt or a network transition.
	Report struct {
		Outcome Outcome
		Attempt int
		Err     error
	}
)

func (StartScan) effect()         {}
func (ConfigureSecurity) effect() {}
func (Associate) effect()         {}
func (RequestLeave) effect()      {}
func (ArmGuard) effect()          {}
func (ClearGuard) effect()        {}
func (StartSampler) effect()      {}
func (StopSampler) effect()       {}
func (SetIndicator) effect()      {}
func (Report) effect()            {}

// --- Transition function ---

// Step applies ev to s and returns the new state and the effects to run,
// in order. It never blocks and has no side effects.
func Step(s State, ev Event, cfg Config) (State, []Effect) {
	switch e := ev.(type) {
	case InitComplete:
		s.StackReady = true
		if s.JoinDeferred && !s.Joined {
			s.JoinDeferred = false
			return start(s, cfg)
		}
		return s, nil

	case StartRequested:
		if s.InProgress || s.Joined {
			return s, nil
		}
		if !s.StackReady {
			s.JoinDeferred = true
			return s, []Effect{Report{Outcome: OutcomeDeferred, Attempt: s.AttemptCount}}
		}
		return start(s, cfg)

	case NetworkFound:
		if !s.InProgress || !s.ScanInProgress || s.CandidateFound || !e.Network.PermitJoin {
			return s, nil
		}
		d := e.Network
		s.Candidate = &d
		s.CandidateFound = true
		return s, nil

	case ScanComplete:
		if !s.InProgress || !s.ScanInProgress {
			return s, nil
		}
		s.ScanInProgress = false
		if !s.CandidateFound {
			return advance(s, cfg)
		}
		if !s.SecurityConfigured {
			return s, []Effect{ConfigureSecurity{Key: cfg.NetworkKey, Policy: cfg.SecurityPolicy}}
		}
		return associate(s, cfg)

	case ScanStartFailed:
		if !s.InProgress || !s.ScanInProgress {
			return s, nil
		}
		s.ScanInProgress = false
		s.ChannelIndex++
		if s.ChannelIndex < len(cfg.channels()) {
			return scan(s, cfg)
		}
		s, effects := exhaust(s)
		return s, append(armBackoff(&s, cfg), effects...)

	case SecurityResult:
		if !s.InProgress || !s.CandidateFound || s.Associating {
			return s, nil
		}
		if e.Err != nil {
			return abort(s, cfg, e.Err)
		}
		s.SecurityConfigured = true
		return associate(s, cfg)

	case AssociationStartFailed:
		if !s.Associating {
			return s, nil
		}
		s.Associating = false
		return abort(s, cfg, e.Err)

	case AssociationRejected:
		if !s.Associating {
			return s, nil
		}
		s.Associating = false
		return advance(s, cfg)

	case NetworkUp:
		if s.Joined {
			return s, nil
		}
		s = State{
			StackReady:         s.StackReady,
			SecurityConfigured: s.SecurityConfigured,
			Joined:             true,
		}
		return s, []Effect{
			ClearGuard{Guard: GuardBackoff},
			ArmGuard{Guard: GuardPostJoin, Ms: cfg.PostJoinGuardMs},
			StartSampler{},
			SetIndicator{Mode: IndicatorOff},
			Report{Outcome: OutcomeJoined},
		}

	case NetworkDown:
		if !s.Joined {
			return s, nil
		}
		intentional := s.LeaveIntentional
		s.Joined = false
		s.LeaveIntentional = false
		s.SecurityConfigured = false
		if intentional {
			return s, []Effect{
				StopSampler{},
				ArmGuard{Guard: GuardPostLeave, Ms: cfg.PostLeaveGuardMs},
				ArmGuard{Guard: GuardBackoff, Ms: cfg.LeaveBackoffMs},
				Report{Outcome: OutcomeLeft},
			}
		}
		return s, []Effect{
			StopSampler{},
			ArmGuard{Guard: GuardBackoff, Ms: cfg.DropBackoffMs, Rejoin: true},
			Report{Outcome: OutcomeDropped},
		}

	case LeaveRequested:
		if !s.Joined || s.LeaveIntentional {
			return s, nil
		}
		s.LeaveIntentional = true
		return s, []Effect{RequestLeave{}}

	case LeaveFailed:
		if !s.LeaveIntentional {
			return s, nil
		}
		s.LeaveIntentional = false
		return s, []Effect{Report{Outcome: OutcomeLeaveFailed, Err: e.Err}}
	}
	return s, nil
}

func start(s State, cfg Config) (State, []Effect) {
	s.InProgress = true
	s.ChannelIndex = 0
	s.BackoffArmed = false
	s.Associating = false
	s, effects := scan(s, cfg)
	return s, append([]Effect{SetIndicator{Mode: IndicatorJoining}}, effects...)
}

func scan(s State, cfg Config) (State, []Effect) {
	ch := cfg.channels()[s.ChannelIndex]
	s.ScanInProgress = true
	s.CandidateFound = false
	s.Candidate = nil
	return s, []Effect{StartScan{Channel: ch, Mask: ChannelMask(ch), Duration: cfg.ScanDuration}}
}

func advance(s State, cfg Config) (State, []Effect) {
	s.ChannelIndex++
	s.CandidateFound = false
	s.Candidate = nil
	if s.ChannelIndex >= len(cfg.channels()) {
		return exhaust(s)
	}
	return scan(s, cfg)
}

func associate(s State, cfg Config) (State, []Effect) {
	c := s.Candidate
	s.Associating = true
	return s, []Effect{Associate{Params: ncp.AssociationParams{
		PanID:       c.PanID,
		ExtPanID:    c.ExtPanID,
		Channel:     c.Channel,
		UpdateID:    c.UpdateID,
		ChannelMask: ChannelMask(c.Channel),
		Sleepy:      cfg.Sleepy,
	}}}
}

func exhaust(s State) (State, []Effect) {
	s.InProgress = false
	s.ScanInProgress = false
	s.CandidateFound = false
	s.Candidate = nil
	s.AttemptCount++
	s.ChannelIndex = 0
	return s, []Effect{
		SetIndicator{Mode: IndicatorOff},
		Report{Outcome: OutcomeExhausted, Attempt: s.AttemptCount},
	}
}

func abort(s State, cfg Config, err error) (State, []Effect) {
	s.InProgress = false
	s.ScanInProgress = false
	s.CandidateFound = false
	s.Candidate = nil
	s.Associating = false
	s.ChannelIndex = 0
	s.AttemptCount++
	effects := armBackoff(&s, cfg)
	return s, append(effects,
		SetIndicator{Mode: IndicatorOff},
		Report{Outcome: OutcomeAborted, Attempt: s.AttemptCount, Err: err},
	)
}

// armBackoff arms the busy backoff at most once per attempt.
func armBackoff(s *State, cfg Config) []Effect {
	if s.BackoffArmed {
		return nil
	}
	s.BackoffArmed = true
	return []Effect{ArmGuard{Guard: GuardBackoff, Ms: cfg.BusyBackoffMs, Rejoin: true}}
}
