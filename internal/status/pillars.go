package status

import (
	"sort"
	"strings"
	"time"

	"github.com/hypercore-one/bridge-health/internal/orchestrator"
	"github.com/hypercore-one/bridge-health/internal/registry"
)

// Pillar combines a registry entry with the latest observation of its node.
type Pillar struct {
	Address             string                                  `json:"address"`
	Name                string                                  `json:"name"`
	PublicKey           string                                  `json:"pubkey"`
	Slug                string                                  `json:"slug"`
	ExplorerURL         string                                  `json:"explorerUrl"`
	Status              orchestrator.Status                     `json:"status"`
	ProducerAddress     string                                  `json:"producerAddress"`
	ProducerExplorerURL string                                  `json:"producerExplorerUrl,omitempty"`
	OperationalState    orchestrator.OperationalState           `json:"operationalState"`
	StateCode           *int                                    `json:"stateCode"`
	StateLabel          string                                  `json:"stateLabel"`
	NetworkCounters     map[string]orchestrator.NetworkCounters `json:"networkCounters"`
	ReportedName        string                                  `json:"reportedIdentityName,omitempty"`
	IdentityMismatch    bool                                    `json:"identityMismatch"`
	ErrorDetail         string                                  `json:"errorDetail,omitempty"`
	LastChecked         *time.Time                              `json:"lastChecked"`
}

// Pillars is the enriched registry: every registry entry, observed or not.
type Pillars struct {
	ObservedAt   time.Time `json:"observedAt"`
	TotalPillars int       `json:"totalPillars"`
	OnlineCount  int       `json:"onlineCount"`
	OfflineCount int       `json:"offlineCount"`
	UnknownCount int       `json:"unknownCount"`
	Pillars      []Pillar  `json:"pillars"`
}

// Pillars joins the registry with the latest snapshot. Registry entries that
// the snapshot does not cover are reported with status unknown. It returns
// false until a snapshot exists.
func (s *Service) Pillars() (Pillars, bool) {
	latest, ok := s.store.Latest()
	if !ok {
		return Pillars{}, false
	}

	observed := make(map[string]orchestrator.NodeResult, len(latest.Results))
	for _, result := range latest.Results {
		observed[result.Address] = result
	}

	entries := s.registry.Entries()
	view := Pillars{
		ObservedAt:   latest.ObservedAt,
		TotalPillars: len(entries),
		Pillars:      make([]Pillar, 0, len(entries)),
	}
	for _, entry := range entries {
		pillar := s.pillar(entry, observed)
		switch pillar.Status {
		case orchestrator.StatusOnline:
			view.OnlineCount++
		case orchestrator.StatusOffline:
			view.OfflineCount++
		default:
			view.UnknownCount++
		}
		view.Pillars = append(view.Pillars, pillar)
	}

	sort.SliceStable(view.Pillars, func(i, j int) bool {
		return strings.ToLower(view.Pillars[i].Name) < strings.ToLower(view.Pillars[j].Name)
	})
	return view, true
}

func (s *Service) pillar(entry registry.Entry, observed map[string]orchestrator.NodeResult) Pillar {
	slug := registry.Slug(entry.Name)
	pillar := Pillar{
		Address:          entry.Address,
		Name:             entry.Name,
		PublicKey:        entry.PublicKey,
		Slug:             slug,
		ExplorerURL:      s.explorerURL + "/pillar/" + slug,
		Status:           orchestrator.StatusUnknown,
		ProducerAddress:  orchestrator.UnknownProducer,
		OperationalState: orchestrator.StateUnknown,
		StateLabel:       orchestrator.StateLabel(nil),
		NetworkCounters:  orchestrator.ZeroCounters(),
	}

	result, ok := observed[entry.Address]
	if !ok {
		return pillar
	}

	checked := result.ObservedAt
	pillar.Status = result.Status
	pillar.ProducerAddress = result.ProducerAddress
	pillar.OperationalState = result.OperationalState
	pillar.StateCode = result.StateCode
	pillar.StateLabel = result.StateLabel
	pillar.NetworkCounters = result.NetworkCounters
	pillar.ReportedName = result.ReportedIdentityName
	pillar.IdentityMismatch = result.IdentityMismatch
	pillar.ErrorDetail = result.ErrorDetail
	pillar.LastChecked = &checked
	if pillar.ProducerAddress != "" && pillar.ProducerAddress != orchestrator.UnknownProducer {
		pillar.ProducerExplorerURL = s.explorerURL + "/explorer/account/" + pillar.ProducerAddress
	}
	return pillar
}
