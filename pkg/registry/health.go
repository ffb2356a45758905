package registry

import (
	"sort"
	"time"

	"github.com/agentfabric/fabric/pkg/a2a"
	"github.com/agentfabric/fabric/pkg/profile"
)

// Default health thresholds beyond which an agent is considered unhealthy.
const (
	maxHealthyCPU          = 90.0
	maxHealthyMemory       = 90.0
	maxHealthyResponseTime = 5000.0 // milliseconds
	maxHealthyErrorRate    = 0.2
)

// HealthThresholds are caller-supplied limits for health queries. Zero
// fields fall back to the defaults.
type HealthThresholds struct {
	MaxCPU          float64
	MaxMemory       float64
	MaxResponseTime float64 // milliseconds
	MaxErrorRate    float64
}

func (t HealthThresholds) withDefaults() HealthThresholds {
	if t.MaxCPU == 0 {
		t.MaxCPU = maxHealthyCPU
	}
	if t.MaxMemory == 0 {
		t.MaxMemory = maxHealthyMemory
	}
	if t.MaxResponseTime == 0 {
		t.MaxResponseTime = maxHealthyResponseTime
	}
	if t.MaxErrorRate == 0 {
		t.MaxErrorRate = maxHealthyErrorRate
	}
	return t
}

func exceeds(h profile.Health, t HealthThresholds) bool {
	return h.CPU > t.MaxCPU ||
		h.Memory > t.MaxMemory ||
		h.ResponseTime > t.MaxResponseTime ||
		h.ErrorRate > t.MaxErrorRate
}

func unhealthy(h profile.Health) bool {
	return exceeds(h, HealthThresholds{}.withDefaults())
}

// UpdateHealth records health telemetry for an agent and refreshes its
// lastSeen.
func (r *Registry) UpdateHealth(agentID string, h profile.Health) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.agents[agentID]
	if !ok {
		return a2a.ErrAgentNotFound(agentID)
	}
	r.health[agentID] = h
	p.LastSeen = time.Now()
	return nil
}

// GetHealth returns the latest recorded health for an agent.
func (r *Registry) GetHealth(agentID string) (profile.Health, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[agentID]
	return h, ok
}

// GetUnhealthyAgents returns ids of agents whose latest health telemetry
// crosses any of the given thresholds. Zero thresholds use the defaults.
func (r *Registry) GetUnhealthyAgents(th HealthThresholds) []string {
	th = th.withDefaults()
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, h := range r.health {
		if exceeds(h, th) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// CheckHealthAndUpdateStatus re-evaluates one agent against the default
// thresholds, demoting it to degraded when unhealthy and promoting it back
// to online when recovered. Reports whether the status changed. Agents
// with no recorded telemetry are left alone.
func (r *Registry) CheckHealthAndUpdateStatus(agentID string) (bool, error) {
	r.mu.Lock()
	p, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return false, a2a.ErrAgentNotFound(agentID)
	}
	changed := false
	if h, ok := r.health[agentID]; ok {
		switch {
		case unhealthy(h) && p.Status == profile.StatusOnline:
			p.Status = profile.StatusDegraded
			changed = true
		case !unhealthy(h) && p.Status == profile.StatusDegraded:
			p.Status = profile.StatusOnline
			changed = true
		}
	}
	online := r.onlineCountLocked()
	r.mu.Unlock()

	if changed {
		r.metrics.SetAgentsOnline(online)
		r.publishTopologyChanged()
	}
	return changed, nil
}

// CheckAllHealthAndUpdateStatus runs the status check over every agent with
// recorded telemetry. Returns the ids whose status changed.
func (r *Registry) CheckAllHealthAndUpdateStatus() []string {
	r.mu.Lock()
	var changed []string
	for id, h := range r.health {
		p, ok := r.agents[id]
		if !ok {
			continue
		}
		switch {
		case unhealthy(h) && p.Status == profile.StatusOnline:
			p.Status = profile.StatusDegraded
			changed = append(changed, id)
		case !unhealthy(h) && p.Status == profile.StatusDegraded:
			p.Status = profile.StatusOnline
			changed = append(changed, id)
		}
	}
	online := r.onlineCountLocked()
	r.mu.Unlock()

	if len(changed) > 0 {
		r.metrics.SetAgentsOnline(online)
		r.publishTopologyChanged()
		sort.Strings(changed)
	}
	return changed
}
