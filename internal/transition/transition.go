package transition

import (
	"sort"
	"strings"
	"time"

	"github.com/hypercore-one/bridge-health/internal/fleet"
	"github.com/hypercore-one/bridge-health/internal/orchestrator"
)

// BridgeTransition captures a change of the fleet-wide bridge state.
type BridgeTransition struct {
	PreviousState fleet.BridgeState
	CurrentState  fleet.BridgeState
	OnlineCount   int
	TotalCount    int
	Threshold     int
}

// NodeTransition captures a per-node status or identity change.
type NodeTransition struct {
	Address          string
	DisplayName      string
	PreviousStatus   orchestrator.Status
	CurrentStatus    orchestrator.Status
	PreviousState    string
	CurrentState     string
	IdentityMismatch bool
	MismatchChanged  bool
	Detail           string
}

// Report groups the transitions detected for one poll cycle.
type Report struct {
	ObservedAt time.Time
	Bridge     *BridgeTransition
	Nodes      []NodeTransition
}

// Empty reports whether the report carries nothing worth delivering.
func (r Report) Empty() bool {
	return r.Bridge == nil && len(r.Nodes) == 0
}

// Detect compares the previous snapshot with the current one. On the first
// cycle (prev == nil) only an offline bridge and non-online nodes are
// reported.
func Detect(prev *fleet.Snapshot, current fleet.Snapshot, threshold int) Report {
	report := Report{ObservedAt: current.ObservedAt}
	firstRun := prev == nil

	if firstRun {
		if current.BridgeState == fleet.BridgeOffline {
			report.Bridge = bridgeTransition("", current, threshold)
		}
	} else if prev.BridgeState != current.BridgeState {
		report.Bridge = bridgeTransition(prev.BridgeState, current, threshold)
	}

	prevNodes := map[string]orchestrator.NodeResult{}
	if prev != nil {
		for _, result := range prev.Results {
			prevNodes[result.Address] = result
		}
	}

	nodes := make([]NodeTransition, 0)
	for _, result := range current.Results {
		before, hadPrev := prevNodes[result.Address]

		switch {
		case firstRun || !hadPrev:
			if result.Status == orchestrator.StatusOnline && !result.IdentityMismatch {
				continue
			}
		case before.Status == result.Status && before.IdentityMismatch == result.IdentityMismatch:
			continue
		}

		change := NodeTransition{
			Address:          result.Address,
			DisplayName:      result.DisplayName,
			CurrentStatus:    result.Status,
			CurrentState:     result.StateLabel,
			IdentityMismatch: result.IdentityMismatch,
			Detail:           result.ErrorDetail,
		}
		if hadPrev {
			change.PreviousStatus = before.Status
			change.PreviousState = before.StateLabel
			change.MismatchChanged = before.IdentityMismatch != result.IdentityMismatch
		} else {
			change.MismatchChanged = result.IdentityMismatch
		}
		nodes = append(nodes, change)
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		left := strings.ToLower(nodes[i].DisplayName)
		right := strings.ToLower(nodes[j].DisplayName)
		if left != right {
			return left < right
		}
		return nodes[i].Address < nodes[j].Address
	})
	report.Nodes = nodes

	return report
}

func bridgeTransition(previous fleet.BridgeState, current fleet.Snapshot, threshold int) *BridgeTransition {
	return &BridgeTransition{
		PreviousState: previous,
		CurrentState:  current.BridgeState,
		OnlineCount:   current.OnlineCount,
		TotalCount:    current.TotalCount,
		Threshold:     threshold,
	}
}
