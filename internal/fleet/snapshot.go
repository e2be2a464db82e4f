package fleet

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hypercore-one/bridge-health/internal/orchestrator"
)

// BridgeState is the fleet-wide health flag.
type BridgeState string

const (
	BridgeOnline  BridgeState = "online"
	BridgeOffline BridgeState = "offline"
)

// Summary is the aggregate part of a Snapshot.
type Summary struct {
	ObservedAt          time.Time   `json:"observedAt"`
	BridgeState         BridgeState `json:"bridgeState"`
	OnlineCount         int         `json:"onlineCount"`
	TotalCount          int         `json:"totalCount"`
	PollDurationSeconds float64     `json:"pollDurationSeconds"`
}

// Snapshot is the result of one poll cycle: the summary plus one result per
// polled address, sorted by display name.
type Snapshot struct {
	Summary
	Results []orchestrator.NodeResult `json:"results"`
}

// BridgeStateFor reports online iff onlineCount >= threshold.
func BridgeStateFor(onlineCount, threshold int) BridgeState {
	if onlineCount >= threshold {
		return BridgeOnline
	}
	return BridgeOffline
}

// CountOnline counts results whose state code is live or keygen.
func CountOnline(results []orchestrator.NodeResult) int {
	count := 0
	for _, result := range results {
		if orchestrator.IsOnlineCode(result.StateCode) {
			count++
		}
	}
	return count
}

// SortResults orders results case-insensitively by display name, breaking
// ties by address.
func SortResults(results []orchestrator.NodeResult) {
	sort.SliceStable(results, func(i, j int) bool {
		left := strings.ToLower(results[i].DisplayName)
		right := strings.ToLower(results[j].DisplayName)
		if left != right {
			return left < right
		}
		return results[i].Address < results[j].Address
	})
}

// Summarize builds a Snapshot from already-collected results.
func Summarize(results []orchestrator.NodeResult, threshold int, observedAt time.Time, elapsed time.Duration) Snapshot {
	sorted := append([]orchestrator.NodeResult(nil), results...)
	SortResults(sorted)

	online := CountOnline(sorted)
	return Snapshot{
		Summary: Summary{
			ObservedAt:          observedAt,
			BridgeState:         BridgeStateFor(online, threshold),
			OnlineCount:         online,
			TotalCount:          len(sorted),
			PollDurationSeconds: roundSeconds(elapsed),
		},
		Results: sorted,
	}
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
