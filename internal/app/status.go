package app

import (
	"context"

	"zigbee-sensor-node/internal/sampler"
)

// Status is a point-in-time view of the node.
type Status struct {
	Network        NetworkStateData       `json:"network"`
	JoinInProgress bool                   `json:"join_in_progress"`
	JoinAttempts   int                    `json:"join_attempts"`
	ChannelIndex   int                    `json:"channel_index"`
	Guards         map[string]uint32      `json:"guards_remaining_ms"`
	Sampler        SamplerStatus          `json:"sampler"`
	Config         map[string]interface{} `json:"config"`
	DroppedEvents  uint32                 `json:"dropped_stack_events"`
}

// SamplerStatus describes the sample scheduler.
type SamplerStatus struct {
	Running    bool            `json:"running"`
	Pending    bool            `json:"pending"`
	IntervalMs uint32          `json:"interval_ms"`
	Cycles     uint32          `json:"cycles"`
	Last       sampler.Reading `json:"last"`
}

// Status builds the current status. Loop-only.
func (n *Node) Status() Status {
	now := n.clock.NowTicks()
	st := n.machine.State()
	remaining := func(ticks uint32) uint32 { return n.clock.TicksToMs(ticks) }
	return Status{
		Network:        n.network,
		JoinInProgress: st.InProgress,
		JoinAttempts:   st.AttemptCount,
		ChannelIndex:   st.ChannelIndex,
		Guards: map[string]uint32{
			"boot":       remaining(n.bootGuard.Remaining(now)),
			"post_join":  remaining(n.postJoinGuard.Remaining(now)),
			"post_leave": remaining(n.postLeaveGuard.Remaining(now)),
			"backoff":    remaining(n.backoffGuard.Remaining(now)),
		},
		Sampler: SamplerStatus{
			Running:    n.sampler.Running(),
			Pending:    n.sampler.Pending(),
			IntervalMs: n.sampler.IntervalMs(),
			Cycles:     n.sampler.Cycles(),
			Last:       n.sampler.Last(),
		},
		Config:        n.conf.Snapshot(),
		DroppedEvents: n.dropped.Load(),
	}
}

// QueryStatus fetches Status from the main loop.
func (n *Node) QueryStatus(ctx context.Context) (Status, error) {
	var st Status
	if err := n.Call(ctx, func(n *Node) { st = n.Status() }); err != nil {
		return Status{}, err
	}
	return st, nil
}
