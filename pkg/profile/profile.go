// Package profile defines the registry's stored record for an agent: its
// identity, capabilities, health and operational metadata. A profile is
// richer than the AgentCard derived from it.
package profile

import (
	"fmt"
	"time"

	"github.com/agentfabric/fabric/pkg/a2a"
)

// Status is the operational status of an agent.
type Status string

const (
	StatusOnline      Status = "online"
	StatusOffline     Status = "offline"
	StatusBusy        Status = "busy"
	StatusDegraded    Status = "degraded"
	StatusMaintenance Status = "maintenance"
	StatusError       Status = "error"
)

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusBusy, StatusDegraded, StatusMaintenance, StatusError:
		return true
	}
	return false
}

// Category classifies a capability. It doubles as a routing filter.
type Category string

const (
	CategoryAnalysis      Category = "analysis"
	CategoryAction        Category = "action"
	CategoryMonitoring    Category = "monitoring"
	CategoryCreative      Category = "creative"
	CategoryCoordination  Category = "coordination"
	CategorySecurity      Category = "security"
	CategoryCommunication Category = "communication"
)

// Valid reports whether c is a recognized category.
func (c Category) Valid() bool {
	switch c {
	case CategoryAnalysis, CategoryAction, CategoryMonitoring, CategoryCreative,
		CategoryCoordination, CategorySecurity, CategoryCommunication:
		return true
	}
	return false
}

// Capability is a named, categorized ability with a cost/reliability
// profile. Within an agent, capability names are unique.
type Capability struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Category    Category       `json:"category"`
	Cost        float64        `json:"cost"`        // computational cost, 0-100
	Reliability float64        `json:"reliability"` // 0-1
	Version     string         `json:"version,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`  // parameter schema
	Outputs     map[string]any `json:"outputs,omitempty"` // parameter schema
}

// Features flags optional protocol features an agent supports.
type Features struct {
	Streaming         bool     `json:"streaming"`
	PushNotifications bool     `json:"pushNotifications"`
	Extensions        []string `json:"extensions,omitempty"`
}

// PerformanceMetrics aggregates observed delivery behavior.
type PerformanceMetrics struct {
	AvgResponseTime float64 `json:"avgResponseTime"` // milliseconds
	SuccessRate     float64 `json:"successRate"`     // 0-1
	TotalRequests   int64   `json:"totalRequests"`
}

// Metadata carries the operational attributes of an agent.
type Metadata struct {
	Version      string              `json:"version,omitempty"`
	Endpoint     string              `json:"endpoint,omitempty"` // base URL
	Load         float64             `json:"load"`               // 0-100
	Uptime       int64               `json:"uptime,omitempty"`   // seconds
	RegisteredAt time.Time           `json:"registeredAt,omitempty"`
	LastUpdated  time.Time           `json:"lastUpdated,omitempty"`
	Performance  *PerformanceMetrics `json:"performance,omitempty"`
	Extra        map[string]any      `json:"extra,omitempty"` // free-form bag
}

// AgentProfile is the registry's record for one agent. It is owned by the
// registry; other components see copies.
type AgentProfile struct {
	AgentID      string       `json:"agentId"`
	AgentType    string       `json:"agentType"`
	Status       Status       `json:"status"`
	Capabilities []Capability `json:"capabilities"`
	Features     Features     `json:"features"`
	Metadata     Metadata     `json:"metadata"`
	LastSeen     time.Time    `json:"lastSeen"`
}

// Validate checks profile well-formedness: non-empty id and type, at least
// one capability, and unique non-empty capability names.
func (p *AgentProfile) Validate() error {
	if p == nil {
		return a2a.ErrInvalidParams("profile is required")
	}
	if p.AgentID == "" {
		return a2a.ErrInvalidParams("agentId is required")
	}
	if p.AgentType == "" {
		return a2a.ErrInvalidParams("agentType is required")
	}
	if len(p.Capabilities) == 0 {
		return a2a.ErrInvalidParams("agent %s must declare at least one capability", p.AgentID)
	}
	seen := make(map[string]struct{}, len(p.Capabilities))
	for i, c := range p.Capabilities {
		if c.Name == "" {
			return a2a.ErrInvalidParams("agent %s: capability %d has no name", p.AgentID, i)
		}
		if _, dup := seen[c.Name]; dup {
			return a2a.ErrInvalidParams("agent %s: duplicate capability name %q", p.AgentID, c.Name)
		}
		seen[c.Name] = struct{}{}
		if c.Category != "" && !c.Category.Valid() {
			return a2a.ErrInvalidParams("agent %s: capability %q has unknown category %q", p.AgentID, c.Name, c.Category)
		}
		if c.Cost < 0 || c.Cost > 100 {
			return a2a.ErrInvalidParams("agent %s: capability %q cost out of range", p.AgentID, c.Name)
		}
		if c.Reliability < 0 || c.Reliability > 1 {
			return a2a.ErrInvalidParams("agent %s: capability %q reliability out of range", p.AgentID, c.Name)
		}
	}
	if p.Status != "" && !p.Status.Valid() {
		return a2a.ErrInvalidParams("agent %s: unknown status %q", p.AgentID, p.Status)
	}
	return nil
}

// Capability returns the named capability, if declared.
func (p *AgentProfile) Capability(name string) (Capability, bool) {
	for _, c := range p.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}

// SuccessRate returns the observed success rate, defaulting to 1.0 when no
// metrics have been recorded yet.
func (p *AgentProfile) SuccessRate() float64 {
	if p.Metadata.Performance == nil {
		return 1.0
	}
	return p.Metadata.Performance.SuccessRate
}

// Clone returns a deep copy of the profile.
func (p *AgentProfile) Clone() *AgentProfile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Capabilities = append([]Capability(nil), p.Capabilities...)
	cp.Features.Extensions = append([]string(nil), p.Features.Extensions...)
	if p.Metadata.Performance != nil {
		perf := *p.Metadata.Performance
		cp.Metadata.Performance = &perf
	}
	if p.Metadata.Extra != nil {
		extra := make(map[string]any, len(p.Metadata.Extra))
		for k, v := range p.Metadata.Extra {
			extra[k] = v
		}
		cp.Metadata.Extra = extra
	}
	return &cp
}

// Card derives the public AgentCard for this profile.
func (p *AgentProfile) Card() *a2a.AgentCard {
	card := &a2a.AgentCard{
		ProtocolVersion:    a2a.ProtocolVersion,
		Name:               p.AgentID,
		Description:        fmt.Sprintf("%s agent", p.AgentType),
		URL:                p.Metadata.Endpoint,
		PreferredTransport: "json-rpc",
		SystemFeatures: &a2a.SystemFeatures{
			Streaming:         p.Features.Streaming,
			PushNotifications: p.Features.PushNotifications,
			Extensions:        p.Features.Extensions,
		},
	}
	for _, c := range p.Capabilities {
		card.Capabilities = append(card.Capabilities, c.Name)
		card.Skills = append(card.Skills, a2a.AgentSkill{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Tags:        c.Tags,
		})
	}
	return card
}

// Health is point-in-time health telemetry for an agent, keyed by agent id
// in the registry.
type Health struct {
	CPU          float64 `json:"cpu"`          // percent
	Memory       float64 `json:"memory"`       // percent
	ResponseTime float64 `json:"responseTime"` // milliseconds
	ErrorRate    float64 `json:"errorRate"`    // 0-1
}

// Route scores one agent for one capability. Routes are projections of
// profiles maintained by the registry and consumed read-only by the router.
type Route struct {
	AgentID      string  `json:"agentId"`
	Capability   string  `json:"capability"`
	Cost         float64 `json:"cost"`
	Reliability  float64 `json:"reliability"`
	ResponseTime float64 `json:"responseTime"` // milliseconds
	Load         float64 `json:"load"`
}
