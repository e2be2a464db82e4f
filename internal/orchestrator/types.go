package orchestrator

import (
	"fmt"
	"time"
)

// Status is the online/offline classification used for fleet aggregation.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// OperationalState is the named form of a node's numeric state code.
type OperationalState string

const (
	StateLive      OperationalState = "live"
	StateKeyGen    OperationalState = "keygen"
	StateHalted    OperationalState = "halted"
	StateEmergency OperationalState = "emergency"
	StateReSign    OperationalState = "resign"
	StateUnknown   OperationalState = "unknown"
)

// UnknownProducer is reported when the producer address could not be read.
const UnknownProducer = "unknown"

type stateInfo struct {
	state OperationalState
	label string
}

var stateCodes = map[int]stateInfo{
	0: {state: StateLive, label: "LiveState"},
	1: {state: StateKeyGen, label: "KeyGenState"},
	2: {state: StateHalted, label: "HaltedState"},
	3: {state: StateEmergency, label: "EmergencyState"},
	4: {state: StateReSign, label: "ReSignState"},
}

// StateFromCode maps a state code through the closed state enumeration.
// A nil or unlisted code maps to StateUnknown.
func StateFromCode(code *int) OperationalState {
	if code == nil {
		return StateUnknown
	}
	info, ok := stateCodes[*code]
	if !ok {
		return StateUnknown
	}
	return info.state
}

// StateLabel renders a state code as "<code> (<Name>)".
func StateLabel(code *int) string {
	if code == nil {
		return "Unknown"
	}
	info, ok := stateCodes[*code]
	if !ok {
		return fmt.Sprintf("%d (Unknown)", *code)
	}
	return fmt.Sprintf("%d (%s)", *code, info.label)
}

// IsOnlineCode reports whether a state code counts as online: live or keygen.
func IsOnlineCode(code *int) bool {
	return code != nil && (*code == 0 || *code == 1)
}

// NetworkCounters holds the pending operations a node has to sign on one chain.
type NetworkCounters struct {
	Wraps   int `json:"wraps"`
	Unwraps int `json:"unwraps"`
}

// TrackedChain binds the chain name reported by a node to its stable key.
type TrackedChain struct {
	Key        string
	RemoteName string
}

// TrackedChains are the chains whose counters are extracted from status responses.
var TrackedChains = []TrackedChain{
	{Key: "bnb", RemoteName: "BNB Chain"},
	{Key: "eth", RemoteName: "Ethereum"},
	{Key: "supernova", RemoteName: "Supernova"},
}

// ZeroCounters returns zeroed counters for every tracked chain.
func ZeroCounters() map[string]NetworkCounters {
	counters := make(map[string]NetworkCounters, len(TrackedChains))
	for _, chain := range TrackedChains {
		counters[chain.Key] = NetworkCounters{}
	}
	return counters
}

// NodeResult is the normalized outcome of polling one node once. Values are
// never mutated after construction.
//
// Reachable is the aggregation predicate and is true iff the state code is
// live or keygen. Responded only records that both calls completed.
type NodeResult struct {
	Address              string                     `json:"address"`
	DisplayName          string                     `json:"displayName"`
	ReportedIdentityName string                     `json:"reportedIdentityName,omitempty"`
	ProducerAddress      string                     `json:"producerAddress"`
	Status               Status                     `json:"status"`
	Reachable            bool                       `json:"reachable"`
	Responded            bool                       `json:"responded"`
	OperationalState     OperationalState           `json:"operationalState"`
	StateCode            *int                       `json:"stateCode"`
	StateLabel           string                     `json:"stateLabel"`
	NetworkCounters      map[string]NetworkCounters `json:"networkCounters"`
	IdentityMismatch     bool                       `json:"identityMismatch"`
	ErrorDetail          string                     `json:"errorDetail,omitempty"`
	ObservedAt           time.Time                  `json:"observedAt"`
}

// NewFailureResult builds the result recorded for a node that could not be
// queried. The display name still comes from the registry.
func NewFailureResult(address, displayName, detail string, observedAt time.Time) NodeResult {
	return NodeResult{
		Address:          address,
		DisplayName:      displayName,
		ProducerAddress:  UnknownProducer,
		Status:           StatusOffline,
		OperationalState: StateUnknown,
		StateLabel:       StateLabel(nil),
		NetworkCounters:  ZeroCounters(),
		ErrorDetail:      detail,
		ObservedAt:       observedAt,
	}
}
