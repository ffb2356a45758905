package registry

import (
	"sort"
	"strings"

	"github.com/agentfabric/fabric/pkg/profile"
)

// Query is a fuzzy capability search. Description matching is substring
// based; Category, MinReliability and MaxCost are hard filters.
type Query struct {
	Description    string           `json:"description,omitempty"`
	Category       profile.Category `json:"category,omitempty"`
	Tags           []string         `json:"tags,omitempty"`
	MinReliability float64          `json:"minReliability,omitempty"`
	MaxCost        float64          `json:"maxCost,omitempty"`
	Limit          int              `json:"limit,omitempty"`
}

// Match is one scored query hit.
type Match struct {
	AgentID    string             `json:"agentId"`
	Capability profile.Capability `json:"capability"`
	Score      float64            `json:"score"` // 0-1
	Reason     string             `json:"reason,omitempty"`
}

// Raw score weights. The final score is normalized to 0-1 against the
// maximum attainable raw score for the query.
const (
	descriptionWeight = 50.0
	tagWeight         = 10.0
	successWeight     = 20.0
)

// QueryCapabilities scores every online agent's capabilities against the
// query. Results are sorted by score descending, agent id ascending on ties.
func (r *Registry) QueryCapabilities(q Query) []Match {
	maxScore := successWeight
	if q.Description != "" {
		maxScore += descriptionWeight
	}
	maxScore += tagWeight * float64(len(q.Tags))

	needle := strings.ToLower(q.Description)

	r.mu.RLock()
	var matches []Match
	for agentID, p := range r.agents {
		if p.Status != profile.StatusOnline {
			continue
		}
		for _, c := range p.Capabilities {
			if q.Category != "" && c.Category != q.Category {
				continue
			}
			if q.MinReliability > 0 && c.Reliability < q.MinReliability {
				continue
			}
			if q.MaxCost > 0 && c.Cost > q.MaxCost {
				continue
			}

			var score float64
			var reasons []string
			if needle != "" {
				haystack := strings.ToLower(c.Name + " " + c.Description)
				if strings.Contains(haystack, needle) {
					score += descriptionWeight
					reasons = append(reasons, "description match")
				}
			}
			for _, want := range q.Tags {
				for _, have := range c.Tags {
					if strings.EqualFold(want, have) {
						score += tagWeight
						reasons = append(reasons, "tag: "+want)
						break
					}
				}
			}
			score += p.SuccessRate() * successWeight

			if score <= 0 {
				continue
			}
			matches = append(matches, Match{
				AgentID:    agentID,
				Capability: c,
				Score:      score / maxScore,
				Reason:     strings.Join(reasons, ", "),
			})
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].AgentID < matches[j].AgentID
	})
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches
}
