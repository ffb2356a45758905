package router

import (
	"sort"

	"github.com/agentfabric/fabric/pkg/a2a"
	"github.com/agentfabric/fabric/pkg/profile"
)

// SelectionPolicy names an agent selection strategy.
type SelectionPolicy string

const (
	PolicyBestMatch   SelectionPolicy = "best-match"
	PolicyRoundRobin  SelectionPolicy = "round-robin"
	PolicyLeastLoaded SelectionPolicy = "least-loaded"
)

// selectAgent picks one agent for a capability from candidates that are
// already filtered to online agents declaring it. Ties break on agent id.
func selectAgent(policy SelectionPolicy, capability string, candidates []*profile.AgentProfile) (*profile.AgentProfile, error) {
	if len(candidates) == 0 {
		return nil, a2a.ErrCapabilityNotFound(capability)
	}
	// Deterministic base order for tie-breaking and round-robin.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].AgentID < candidates[j].AgentID
	})

	switch policy {
	case PolicyRoundRobin:
		sum := 0
		for _, r := range capability {
			sum += int(r)
		}
		return candidates[sum%len(candidates)], nil

	case PolicyLeastLoaded:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Metadata.Load < best.Metadata.Load {
				best = c
			}
		}
		return best, nil

	default: // best-match
		best := candidates[0]
		bestScore := matchScore(best, capability)
		for _, c := range candidates[1:] {
			if s := matchScore(c, capability); s > bestScore {
				best, bestScore = c, s
			}
		}
		return best, nil
	}
}

// matchScore weighs reliability, inverse load, observed success rate and
// inverse cost.
func matchScore(p *profile.AgentProfile, capability string) float64 {
	c, _ := p.Capability(capability)
	return 0.4*c.Reliability +
		0.3*(1-p.Metadata.Load/100) +
		0.2*p.SuccessRate() +
		0.1*(1-c.Cost/100)
}
