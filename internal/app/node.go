// Package app runs the node: one main loop owns the join machine, the
// button pipeline, the settle guards and the sample scheduler. Everything
// else talks to it through stack events, the action mailbox or queued
// commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"zigbee-sensor-node/internal/battery"
	"zigbee-sensor-node/internal/button"
	"zigbee-sensor-node/internal/config"
	"zigbee-sensor-node/internal/guard"
	"zigbee-sensor-node/internal/join"
	"zigbee-sensor-node/internal/ncp"
	"zigbee-sensor-node/internal/sampler"
	"zigbee-sensor-node/internal/sensor"
	"zigbee-sensor-node/internal/store"
	"zigbee-sensor-node/internal/timer"
)

var (
	// ErrQueueFull is returned by Do when the command queue is full.
	ErrQueueFull = errors.New("app: command queue full")
)

const (
	stackQueueLen   = 64
	commandQueueLen = 32
)

// Config holds the loop's timing and policy switches.
type Config struct {
	Join    join.Config
	Buttons button.Thresholds
	Battery BatteryRange

	BootGuardMs    uint32
	PollInterval   time.Duration
	WatchdogPeriod time.Duration
	// AutoRejoin starts a join when a rejoin backoff expires.
	AutoRejoin bool
	// JoinOnBoot starts a join as soon as the stack is ready.
	JoinOnBoot bool
}

// BatteryRange is the voltage span mapped to 0..100 %.
type BatteryRange struct {
	EmptyMv uint16
	FullMv  uint16
}

// DefaultConfig returns the stock loop configuration.
func DefaultConfig() Config {
	return Config{
		Join:           join.DefaultConfig(),
		Buttons:        button.DefaultThresholds(),
		Battery:        BatteryRange{EmptyMv: battery.DefaultEmptyMv, FullMv: battery.DefaultFullMv},
		BootGuardMs:    2000,
		PollInterval:   10 * time.Millisecond,
		WatchdogPeriod: 60 * time.Second,
		AutoRejoin:     true,
		JoinOnBoot:     true,
	}
}

// Indicator is the status LED.
type Indicator interface {
	SetEnabled(enabled bool)
	Joining()
	Off()
	Pulse()
}

// ThresholdSetter receives reportable-change updates.
type ThresholdSetter interface {
	SetThreshold(cluster, attrID uint16, change uint64)
}

// InfoSource is implemented by stacks that can describe the joined network.
type InfoSource interface {
	Info() ncp.NCPInfo
}

// Deps are the node's collaborators. Indicator, Reporter, Store and Events
// are optional.
type Deps struct {
	Stack      join.Stack
	Clock      timer.Service
	Sensor     sensor.Driver
	Battery    battery.Driver
	Attributes sampler.Attributes
	Config     *config.Adapter

	Indicator Indicator
	Reporter  ThresholdSetter
	Store     store.Store
	Events    *EventBus
}

type command struct {
	fn   func(*Node)
	done chan struct{}
}

// Node is the application. Step and every method documented as loop-only
// must be called from the goroutine running Run.
type Node struct {
	cfg       Config
	stack     join.Stack
	clock     timer.Service
	conf      *config.Adapter
	indicator Indicator
	reporter  ThresholdSetter
	store     store.Store
	events    *EventBus
	logger    *slog.Logger

	machine    *join.Machine
	sampler    *sampler.Scheduler
	edges      button.Edges
	actions    button.Mailbox
	classifier *button.Classifier

	bootGuard          guard.Deadline
	postJoinGuard      guard.Deadline
	postLeaveGuard     guard.Deadline
	backoffGuard       guard.Deadline
	watchdogDue        guard.Deadline
	rejoinAfterBackoff bool
	candidate          *ncp.NetworkDescriptor
	network            NetworkStateData

	stackEvents chan join.Event
	stackMu     sync.Mutex
	overflow    []join.Event // held in order while stackEvents is full
	cmds        chan command
	wake        chan struct{}
	joined      atomic.Bool
	dropped     atomic.Uint32
}

// New wires a node. Call Init before Run.
func New(cfg Config, d Deps, logger *slog.Logger) *Node {
	if d.Events == nil {
		d.Events = NewEventBus(logger)
	}
	n := &Node{
		cfg:         cfg,
		stack:       d.Stack,
		clock:       d.Clock,
		conf:        d.Config,
		indicator:   d.Indicator,
		reporter:    d.Reporter,
		store:       d.Store,
		events:      d.Events,
		logger:      logger,
		stackEvents: make(chan join.Event, stackQueueLen),
		cmds:        make(chan command, commandQueueLen),
		wake:        make(chan struct{}, 1),
		network:     NetworkStateData{State: ncp.NetworkDown.String(), Reason: "boot"},
	}
	n.machine = join.NewMachine(cfg.Join, d.Stack, machineHooks{n}, logger.With("component", "join"))

	rc := d.Config.Config()
	n.sampler = sampler.New(sampler.Config{
		IntervalMs: rc.IntervalMs(),
		EmptyMv:    cfg.Battery.EmptyMv,
		FullMv:     cfg.Battery.FullMv,
	}, d.Clock, d.Sensor, d.Battery, d.Attributes, n.joined.Load, logger.With("component", "sampler"))
	n.sampler.OnSample(func(r sampler.Reading) {
		n.emit(EventSample, r)
	})

	n.classifier = button.NewClassifier(&n.edges, &n.actions, d.Clock, cfg.Buttons, logger.With("component", "button"))
	n.classifier.SetSuppressor(n.buttonSuppressed)

	d.Config.OnChange(n.onConfigChange)
	return n
}

// Events returns the node's event bus.
func (n *Node) Events() *EventBus { return n.events }

// Edges is the sink for raw button edges.
func (n *Node) Edges() *button.Edges { return &n.edges }

// SetButtonLevel installs the raw button level used when a release edge is
// missed. Call before Run.
func (n *Node) SetButtonLevel(lr button.LevelReader) {
	n.classifier.SetLevelReader(lr)
}

// Joined reports whether the node is on a network. Safe from any goroutine.
func (n *Node) Joined() bool { return n.joined.Load() }

// Init brings up the sampler devices, applies the loaded configuration and
// arms the boot guard. A sampler failure is returned but the node stays
// usable for joining.
func (n *Node) Init() error {
	now := n.clock.NowTicks()
	if n.cfg.BootGuardMs > 0 {
		n.bootGuard.Arm(now, n.clock.MsToTicks(n.cfg.BootGuardMs))
	}
	n.armWatchdog(now)
	n.applyConfig(n.conf.Config())

	if err := n.sampler.Init(); err != nil {
		return fmt.Errorf("sampler init: %w", err)
	}
	return nil
}

func (n *Node) armWatchdog(now uint32) {
	if n.cfg.WatchdogPeriod <= 0 {
		return
	}
	n.watchdogDue.Arm(now, n.clock.MsToTicks(uint32(n.cfg.WatchdogPeriod/time.Millisecond)))
}

// applyConfig pushes every runtime setting into the components.
func (n *Node) applyConfig(c config.RuntimeConfig) {
	n.sampler.SetInterval(c.IntervalMs())
	n.sampler.SetCalibration(calibration(c))
	if n.indicator != nil {
		n.indicator.SetEnabled(c.LEDEnable)
	}
	if n.reporter != nil {
		for _, id := range []uint16{config.AttrTemperatureThreshold, config.AttrHumidityThreshold, config.AttrPressureThreshold} {
			f, _ := config.Lookup(id)
			n.applyThreshold(f, c)
		}
	}
}

func calibration(c config.RuntimeConfig) sampler.Calibration {
	return sampler.Calibration{
		Temperature: c.TemperatureOffset,
		Humidity:    c.HumidityOffset,
		Pressure:    c.PressureOffset,
	}
}

// Callbacks returns the stack callbacks that feed the loop. They never
// block. When the queue is full a NetworkFound is dropped and counted;
// every other event is kept so an attempt always sees its outcome.
func (n *Node) Callbacks() ncp.Callbacks {
	return ncp.Callbacks{
		InitComplete: func() { n.postStack(join.InitComplete{}) },
		NetworkFound: func(d ncp.NetworkDescriptor) { n.postStack(join.NetworkFound{Network: d}) },
		ScanComplete: func(ch uint8, err error) { n.postStack(join.ScanComplete{Channel: ch, Err: err}) },
		StackStatus: func(s ncp.StackStatus) {
			if s == ncp.StatusUp {
				n.postStack(join.NetworkUp{})
			} else {
				n.postStack(join.NetworkDown{})
			}
		},
		AssociationFailed: func(err error) { n.postStack(join.AssociationRejected{Err: err}) },
		LeaveFailed:       func(err error) { n.postStack(join.LeaveFailed{Err: err}) },
	}
}

func (n *Node) postStack(ev join.Event) {
	n.stackMu.Lock()
	if len(n.overflow) == 0 {
		select {
		case n.stackEvents <- ev:
			n.stackMu.Unlock()
			n.kick()
			return
		default:
		}
	}
	if _, ok := ev.(join.NetworkFound); ok {
		n.stackMu.Unlock()
		n.dropped.Add(1)
		n.logger.Warn("stack event queue full, dropping network found")
		return
	}
	n.overflow = append(n.overflow, ev)
	n.stackMu.Unlock()
	n.kick()
}

// takeOverflow returns the events queued behind a full stackEvents.
func (n *Node) takeOverflow() []join.Event {
	n.stackMu.Lock()
	defer n.stackMu.Unlock()
	evs := n.overflow
	n.overflow = nil
	return evs
}

func (n *Node) kick() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Do queues fn to run on the main loop without waiting.
func (n *Node) Do(fn func(*Node)) error {
	select {
	case n.cmds <- command{fn: fn}:
		n.kick()
		return nil
	default:
		return ErrQueueFull
	}
}

// Call runs fn on the main loop and waits for it. When ctx ends first, fn
// may still run later.
func (n *Node) Call(ctx context.Context, fn func(*Node)) error {
	done := make(chan struct{})
	select {
	case n.cmds <- command{fn: fn, done: done}:
		n.kick()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Press posts a classified action as if the button produced it.
func (n *Node) Press(a button.Action) {
	if a == button.None {
		return
	}
	n.actions.Post(a)
	n.kick()
}

// RequestSample asks for a sample on the next loop iteration.
func (n *Node) RequestSample() {
	n.sampler.RequestSample()
	n.kick()
}

// SetConfig changes one runtime setting on the main loop.
func (n *Node) SetConfig(ctx context.Context, key string, value interface{}) error {
	var err error
	if cerr := n.Call(ctx, func(n *Node) { err = n.conf.Set(key, value) }); cerr != nil {
		return cerr
	}
	return err
}

// ConfigSnapshot returns the current runtime settings keyed by name.
func (n *Node) ConfigSnapshot() map[string]interface{} {
	return n.conf.Snapshot()
}

func (n *Node) emit(eventType string, data interface{}) {
	n.events.Emit(Event{Type: eventType, Data: data})
}
