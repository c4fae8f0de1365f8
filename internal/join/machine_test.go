package join

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"zigbee-sensor-node/internal/ncp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeStack struct {
	scans       []uint32
	assocs      []ncp.AssociationParams
	leaves      int
	security    int
	state       ncp.NetworkState
	scanErr     error
	assocErr    error
	leaveErr    error
	securityErr error
}

func (f *fakeStack) RequestActiveScan(_ context.Context, mask uint32, _ uint8) error {
	f.scans = append(f.scans, mask)
	return f.scanErr
}

func (f *fakeStack) RequestAssociation(_ context.Context, p ncp.AssociationParams) error {
	f.assocs = append(f.assocs, p)
	return f.assocErr
}

func (f *fakeStack) RequestLeave(context.Context) error {
	f.leaves++
	return f.leaveErr
}

func (f *fakeStack) NetworkState() ncp.NetworkState { return f.state }

func (f *fakeStack) SetSecurityState(context.Context, [16]byte, uint32) error {
	f.security++
	return f.securityErr
}

type armed struct {
	guard  Guard
	ms     uint32
	rejoin bool
}

type fakeHooks struct {
	armed      []armed
	cleared    []Guard
	started    int
	stopped    int
	indicators []IndicatorMode
	reports    []Report
}

func (h *fakeHooks) ArmGuard(g Guard, ms uint32, rejoin bool) {
	h.armed = append(h.armed, armed{g, ms, rejoin})
}
func (h *fakeHooks) ClearGuard(g Guard)               { h.cleared = append(h.cleared, g) }
func (h *fakeHooks) StartSampler()                    { h.started++ }
func (h *fakeHooks) StopSampler()                     { h.stopped++ }
func (h *fakeHooks) SetIndicator(mode IndicatorMode)  { h.indicators = append(h.indicators, mode) }
func (h *fakeHooks) Report(r Report)                  { h.reports = append(h.reports, r) }

func newTestMachine(stack *fakeStack) (*Machine, *fakeHooks) {
	hooks := &fakeHooks{}
	m := NewMachine(DefaultConfig(), stack, hooks, testLogger())
	m.Handle(context.Background(), InitComplete{})
	return m, hooks
}

func TestMachineScanStartFailuresExhaustOnce(t *testing.T) {
	stack := &fakeStack{scanErr: ncp.ErrBusy}
	m, hooks := newTestMachine(stack)

	m.Handle(context.Background(), StartRequested{})

	if len(stack.scans) != len(ChannelOrder) {
		t.Errorf("scan attempts = %d, want %d", len(stack.scans), len(ChannelOrder))
	}
	if len(hooks.armed) != 1 || hooks.armed[0].guard != GuardBackoff {
		t.Errorf("armed = %+v, want one backoff", hooks.armed)
	}
	if m.Busy() {
		t.Error("machine still busy")
	}
	if got := hooks.indicators; len(got) != 2 || got[0] != IndicatorJoining || got[1] != IndicatorOff {
		t.Errorf("indicators = %v", got)
	}
}

func TestMachineSecurityBusyAborts(t *testing.T) {
	stack := &fakeStack{securityErr: ncp.ErrBusy}
	m, hooks := newTestMachine(stack)
	ctx := context.Background()

	m.Handle(ctx, StartRequested{})
	m.Handle(ctx, NetworkFound{Network: ncp.NetworkDescriptor{Channel: 15, PermitJoin: true}})
	m.Handle(ctx, ScanComplete{Channel: 15})

	if stack.security != 1 || len(stack.assocs) != 0 {
		t.Errorf("security=%d assocs=%d", stack.security, len(stack.assocs))
	}
	if len(stack.scans) != 1 {
		t.Errorf("scans = %d, busy abort must not hop", len(stack.scans))
	}
	if len(hooks.reports) == 0 || hooks.reports[len(hooks.reports)-1].Outcome != OutcomeAborted {
		t.Errorf("reports = %+v", hooks.reports)
	}
}

func TestMachineJoinLeaveCycle(t *testing.T) {
	stack := &fakeStack{}
	m, hooks := newTestMachine(stack)
	ctx := context.Background()

	m.Handle(ctx, StartRequested{})
	m.Handle(ctx, NetworkFound{Network: ncp.NetworkDescriptor{PanID: 0x1234, Channel: 15, PermitJoin: true}})
	m.Handle(ctx, ScanComplete{Channel: 15})
	if len(stack.assocs) != 1 || stack.assocs[0].ChannelMask != 1<<15 {
		t.Fatalf("assocs = %+v", stack.assocs)
	}

	m.Handle(ctx, NetworkUp{})
	if !m.Joined() || hooks.started != 1 {
		t.Fatalf("joined=%v started=%d", m.Joined(), hooks.started)
	}

	m.Handle(ctx, LeaveRequested{})
	if stack.leaves != 1 || !m.State().LeaveIntentional {
		t.Fatalf("leaves=%d state=%+v", stack.leaves, m.State())
	}
	m.Handle(ctx, NetworkDown{})
	if m.Joined() || hooks.stopped != 1 {
		t.Errorf("joined=%v stopped=%d", m.Joined(), hooks.stopped)
	}
	last := hooks.armed[len(hooks.armed)-1]
	if last.guard != GuardBackoff || last.ms != DefaultConfig().LeaveBackoffMs || last.rejoin {
		t.Errorf("last armed = %+v, want leave backoff without rejoin", last)
	}
}

func TestMachineLeaveStartFailure(t *testing.T) {
	stack := &fakeStack{leaveErr: ncp.ErrBusy}
	m, hooks := newTestMachine(stack)
	ctx := context.Background()
	m.Handle(ctx, NetworkUp{})

	m.Handle(ctx, LeaveRequested{})
	if m.State().LeaveIntentional {
		t.Error("intent kept after failed leave start")
	}
	if r := hooks.reports[len(hooks.reports)-1]; r.Outcome != OutcomeLeaveFailed {
		t.Errorf("report = %+v", r)
	}
}

func TestMachineCatchesUpWithStackRejoin(t *testing.T) {
	stack := &fakeStack{state: ncp.NetworkJoined}
	m, hooks := newTestMachine(stack)

	m.Handle(context.Background(), StartRequested{})
	if len(stack.scans) != 0 {
		t.Errorf("scanned %d channels while the stack is already joined", len(stack.scans))
	}
	if !m.Joined() || hooks.started != 1 {
		t.Errorf("joined=%v started=%d", m.Joined(), hooks.started)
	}
}
