package registry

import (
	"sort"
	"time"

	"github.com/agentfabric/fabric/pkg/profile"
)

// Connection records that two agents share a capability and could stand in
// for each other.
type Connection struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Capability string `json:"capability"`
}

// Topology is a point-in-time snapshot of the network: every agent, the
// message routes grouped by capability, and pairwise connections between
// agents sharing a capability.
type Topology struct {
	Agents        []*profile.AgentProfile    `json:"agents"`
	MessageRoutes map[string][]profile.Route `json:"messageRoutes"`
	Connections   []Connection               `json:"connections"`
	LastUpdated   time.Time                  `json:"lastUpdated"`
}

// Default route response time used until delivery metrics exist.
const defaultRouteResponseTime = 1000.0

// GetTopology builds the current topology snapshot. Routes for agents with
// no recorded performance metrics carry the default response time.
func (r *Registry) GetTopology() *Topology {
	r.mu.RLock()
	topo := &Topology{
		MessageRoutes: make(map[string][]profile.Route),
		LastUpdated:   time.Now(),
	}
	for _, p := range r.agents {
		topo.Agents = append(topo.Agents, p.Clone())
		rt := defaultRouteResponseTime
		if perf := p.Metadata.Performance; perf != nil && perf.AvgResponseTime > 0 {
			rt = perf.AvgResponseTime
		}
		for _, c := range p.Capabilities {
			topo.MessageRoutes[c.Name] = append(topo.MessageRoutes[c.Name], profile.Route{
				AgentID:      p.AgentID,
				Capability:   c.Name,
				Cost:         c.Cost,
				Reliability:  c.Reliability,
				ResponseTime: rt,
				Load:         p.Metadata.Load,
			})
		}
	}
	for name, set := range r.byCapability {
		if len(set) < 2 {
			continue
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				topo.Connections = append(topo.Connections, Connection{
					From:       ids[i],
					To:         ids[j],
					Capability: name,
				})
			}
		}
	}
	r.mu.RUnlock()

	sortProfiles(topo.Agents)
	for _, routes := range topo.MessageRoutes {
		sort.Slice(routes, func(i, j int) bool {
			return routes[i].AgentID < routes[j].AgentID
		})
	}
	sort.Slice(topo.Connections, func(i, j int) bool {
		a, b := topo.Connections[i], topo.Connections[j]
		if a.Capability != b.Capability {
			return a.Capability < b.Capability
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	return topo
}
