// Package registry implements the capability-indexed agent catalog: agent
// profiles, health, fuzzy capability search, lifecycle cleanup and the
// topology view consumed by the router.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agentfabric/fabric/pkg/a2a"
	"github.com/agentfabric/fabric/pkg/eventbus"
	"github.com/agentfabric/fabric/pkg/observability"
	"github.com/agentfabric/fabric/pkg/profile"
)

// Config tunes the registry's cleanup behavior.
type Config struct {
	// CleanupInterval is the janitor period. Default 60s.
	CleanupInterval time.Duration
	// OfflineCutoff is how stale an offline agent's lastSeen must be before
	// the janitor removes it. Default 5m.
	OfflineCutoff time.Duration
}

func (c *Config) setDefaults() {
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 60 * time.Second
	}
	if c.OfflineCutoff == 0 {
		c.OfflineCutoff = 5 * time.Minute
	}
}

// Registry is the in-memory agent catalog. All four indices are mutated
// atomically under one mutex; no mutator partially succeeds across them.
type Registry struct {
	mu sync.RWMutex

	// Primary index.
	agents map[string]*profile.AgentProfile
	// agentID -> capability name -> capability.
	agentCaps map[string]map[string]profile.Capability
	// capability name -> set of agent ids.
	byCapability map[string]map[string]struct{}
	// category -> set of agent ids.
	byCategory map[profile.Category]map[string]struct{}

	health map[string]profile.Health

	cfg     Config
	bus     *eventbus.Bus
	logger  *slog.Logger
	metrics *observability.Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates a registry publishing lifecycle events on bus.
func New(bus *eventbus.Bus, cfg Config, opts ...Option) *Registry {
	cfg.setDefaults()
	r := &Registry{
		agents:       make(map[string]*profile.AgentProfile),
		agentCaps:    make(map[string]map[string]profile.Capability),
		byCapability: make(map[string]map[string]struct{}),
		byCategory:   make(map[profile.Category]map[string]struct{}),
		health:       make(map[string]profile.Health),
		cfg:          cfg,
		bus:          bus,
		logger:       slog.Default(),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterResult reports the outcome of a registration without throwing.
type RegisterResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Register adds a new agent. A second registration with the same id fails;
// use Upsert to merge instead.
func (r *Registry) Register(p *profile.AgentProfile) RegisterResult {
	return r.register(p, false)
}

// Upsert registers an agent, merging profile fields and refreshing lastSeen
// when the id already exists.
func (r *Registry) Upsert(p *profile.AgentProfile) RegisterResult {
	return r.register(p, true)
}

func (r *Registry) register(p *profile.AgentProfile, upsert bool) RegisterResult {
	if err := p.Validate(); err != nil {
		return RegisterResult{Error: err.Error()}
	}

	stored := p.Clone()
	now := time.Now()
	if stored.Status == "" {
		stored.Status = profile.StatusOnline
	}
	if stored.LastSeen.IsZero() {
		stored.LastSeen = now
	}
	if stored.Metadata.RegisteredAt.IsZero() {
		stored.Metadata.RegisteredAt = now
	}
	stored.Metadata.LastUpdated = now

	r.mu.Lock()
	if existing, ok := r.agents[stored.AgentID]; ok {
		if !upsert {
			r.mu.Unlock()
			return RegisterResult{Error: "agent already registered: " + stored.AgentID}
		}
		mergeProfiles(existing, stored)
		existing.LastSeen = now
		r.reindexLocked(existing)
		r.mu.Unlock()
		r.publishTopologyChanged()
		return RegisterResult{Success: true}
	}
	r.agents[stored.AgentID] = stored
	r.reindexLocked(stored)
	online := r.onlineCountLocked()
	r.mu.Unlock()

	r.metrics.SetAgentsOnline(online)
	r.bus.Publish(eventbus.TopicAgentRegistered, map[string]any{
		"agentId":   stored.AgentID,
		"agentType": stored.AgentType,
	})
	r.publishTopologyChanged()
	r.logger.Debug("agent registered", "agent", stored.AgentID, "capabilities", len(stored.Capabilities))
	return RegisterResult{Success: true}
}

// mergeProfiles overlays non-zero fields of src onto dst.
func mergeProfiles(dst, src *profile.AgentProfile) {
	if src.AgentType != "" {
		dst.AgentType = src.AgentType
	}
	if src.Status != "" {
		dst.Status = src.Status
	}
	if len(src.Capabilities) > 0 {
		dst.Capabilities = src.Capabilities
	}
	dst.Features = src.Features
	if src.Metadata.Version != "" {
		dst.Metadata.Version = src.Metadata.Version
	}
	if src.Metadata.Endpoint != "" {
		dst.Metadata.Endpoint = src.Metadata.Endpoint
	}
	dst.Metadata.Load = src.Metadata.Load
	if src.Metadata.Performance != nil {
		dst.Metadata.Performance = src.Metadata.Performance
	}
	if src.Metadata.Extra != nil {
		if dst.Metadata.Extra == nil {
			dst.Metadata.Extra = make(map[string]any)
		}
		for k, v := range src.Metadata.Extra {
			dst.Metadata.Extra[k] = v
		}
	}
	dst.Metadata.LastUpdated = time.Now()
}

// reindexLocked rebuilds the secondary indices for one agent. Caller holds
// the write lock.
func (r *Registry) reindexLocked(p *profile.AgentProfile) {
	r.dropFromIndicesLocked(p.AgentID)

	caps := make(map[string]profile.Capability, len(p.Capabilities))
	for _, c := range p.Capabilities {
		caps[c.Name] = c
		set, ok := r.byCapability[c.Name]
		if !ok {
			set = make(map[string]struct{})
			r.byCapability[c.Name] = set
		}
		set[p.AgentID] = struct{}{}

		if c.Category != "" {
			catSet, ok := r.byCategory[c.Category]
			if !ok {
				catSet = make(map[string]struct{})
				r.byCategory[c.Category] = catSet
			}
			catSet[p.AgentID] = struct{}{}
		}
	}
	r.agentCaps[p.AgentID] = caps
}

func (r *Registry) dropFromIndicesLocked(agentID string) {
	for name := range r.agentCaps[agentID] {
		if set, ok := r.byCapability[name]; ok {
			delete(set, agentID)
			if len(set) == 0 {
				delete(r.byCapability, name)
			}
		}
	}
	for cat, set := range r.byCategory {
		delete(set, agentID)
		if len(set) == 0 {
			delete(r.byCategory, cat)
		}
	}
	delete(r.agentCaps, agentID)
}

// Unregister removes an agent from every index. Idempotent.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	_, existed := r.agents[agentID]
	if existed {
		r.dropFromIndicesLocked(agentID)
		delete(r.agents, agentID)
		delete(r.health, agentID)
	}
	online := r.onlineCountLocked()
	r.mu.Unlock()

	if !existed {
		return
	}
	r.metrics.SetAgentsOnline(online)
	r.bus.Publish(eventbus.TopicAgentUnregistered, map[string]any{"agentId": agentID})
	r.publishTopologyChanged()
}

// BulkResult reports a bulk registration.
type BulkResult struct {
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// BulkRegister registers many profiles and fires a single topology event at
// the end regardless of individual outcomes.
func (r *Registry) BulkRegister(profiles []*profile.AgentProfile) BulkResult {
	var result BulkResult
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		stored := p.Clone()
		now := time.Now()
		if stored.Status == "" {
			stored.Status = profile.StatusOnline
		}
		if stored.LastSeen.IsZero() {
			stored.LastSeen = now
		}
		stored.Metadata.LastUpdated = now

		r.mu.Lock()
		if _, dup := r.agents[stored.AgentID]; dup {
			r.mu.Unlock()
			result.Failed++
			result.Errors = append(result.Errors, "agent already registered: "+stored.AgentID)
			continue
		}
		r.agents[stored.AgentID] = stored
		r.reindexLocked(stored)
		r.mu.Unlock()

		result.Successful++
		r.bus.Publish(eventbus.TopicAgentRegistered, map[string]any{
			"agentId":   stored.AgentID,
			"agentType": stored.AgentType,
		})
	}

	r.mu.RLock()
	online := r.onlineCountLocked()
	r.mu.RUnlock()
	r.metrics.SetAgentsOnline(online)
	r.publishTopologyChanged()
	return result
}

// Get returns a copy of an agent's profile.
func (r *Registry) Get(agentID string) (*profile.AgentProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.agents[agentID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// List returns copies of every profile.
func (r *Registry) List() []*profile.AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*profile.AgentProfile, 0, len(r.agents))
	for _, p := range r.agents {
		out = append(out, p.Clone())
	}
	sortProfiles(out)
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// UpdateStatus sets an agent's status.
func (r *Registry) UpdateStatus(agentID string, status profile.Status) error {
	if !status.Valid() {
		return a2a.ErrInvalidParams("unknown status: %q", status)
	}
	r.mu.Lock()
	p, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return a2a.ErrAgentNotFound(agentID)
	}
	p.Status = status
	p.Metadata.LastUpdated = time.Now()
	online := r.onlineCountLocked()
	r.mu.Unlock()

	r.metrics.SetAgentsOnline(online)
	r.publishTopologyChanged()
	return nil
}

// UpdateCapabilities replaces an agent's capability set and reindexes.
func (r *Registry) UpdateCapabilities(agentID string, caps []profile.Capability) error {
	if len(caps) == 0 {
		return a2a.ErrInvalidParams("agent %s must declare at least one capability", agentID)
	}
	seen := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		if c.Name == "" {
			return a2a.ErrInvalidParams("capability has no name")
		}
		if _, dup := seen[c.Name]; dup {
			return a2a.ErrInvalidParams("duplicate capability name %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}

	r.mu.Lock()
	p, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return a2a.ErrAgentNotFound(agentID)
	}
	p.Capabilities = append([]profile.Capability(nil), caps...)
	p.Metadata.LastUpdated = time.Now()
	r.reindexLocked(p)
	r.mu.Unlock()

	r.publishTopologyChanged()
	return nil
}

// UpdateLastSeen refreshes an agent's liveness timestamp.
func (r *Registry) UpdateLastSeen(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.agents[agentID]
	if !ok {
		return a2a.ErrAgentNotFound(agentID)
	}
	p.LastSeen = time.Now()
	return nil
}

// SetMetadata sets one key in the agent's free-form metadata bag.
func (r *Registry) SetMetadata(agentID, key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.agents[agentID]
	if !ok {
		return a2a.ErrAgentNotFound(agentID)
	}
	if p.Metadata.Extra == nil {
		p.Metadata.Extra = make(map[string]any)
	}
	p.Metadata.Extra[key] = value
	p.Metadata.LastUpdated = time.Now()
	return nil
}

// MergeMetadata merges a map into the agent's free-form metadata bag.
func (r *Registry) MergeMetadata(agentID string, values map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.agents[agentID]
	if !ok {
		return a2a.ErrAgentNotFound(agentID)
	}
	if p.Metadata.Extra == nil {
		p.Metadata.Extra = make(map[string]any, len(values))
	}
	for k, v := range values {
		p.Metadata.Extra[k] = v
	}
	p.Metadata.LastUpdated = time.Now()
	return nil
}

// DeleteMetadata removes one key from the agent's free-form metadata bag.
func (r *Registry) DeleteMetadata(agentID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.agents[agentID]
	if !ok {
		return a2a.ErrAgentNotFound(agentID)
	}
	delete(p.Metadata.Extra, key)
	p.Metadata.LastUpdated = time.Now()
	return nil
}

// RecordDelivery folds one delivery outcome into the agent's performance
// metrics using an incremental mean.
func (r *Registry) RecordDelivery(agentID string, responseTime time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.agents[agentID]
	if !ok {
		return
	}
	perf := p.Metadata.Performance
	if perf == nil {
		perf = &profile.PerformanceMetrics{SuccessRate: 1.0}
		p.Metadata.Performance = perf
	}
	n := float64(perf.TotalRequests)
	ms := float64(responseTime.Milliseconds())
	perf.AvgResponseTime = (perf.AvgResponseTime*n + ms) / (n + 1)
	ok1 := 0.0
	if success {
		ok1 = 1.0
	}
	perf.SuccessRate = (perf.SuccessRate*n + ok1) / (n + 1)
	perf.TotalRequests++
}

// FindByCapability returns all online agents indexed under a capability
// name, sorted by agent id.
func (r *Registry) FindByCapability(name string) []*profile.AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*profile.AgentProfile
	for agentID := range r.byCapability[name] {
		if p := r.agents[agentID]; p != nil && p.Status == profile.StatusOnline {
			out = append(out, p.Clone())
		}
	}
	sortProfiles(out)
	return out
}

// FindByCapabilities returns online agents possessing every one of the
// requested capabilities.
func (r *Registry) FindByCapabilities(names []string) []*profile.AgentProfile {
	if len(names) == 0 {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*profile.AgentProfile
next:
	for agentID := range r.byCapability[names[0]] {
		p := r.agents[agentID]
		if p == nil || p.Status != profile.StatusOnline {
			continue
		}
		caps := r.agentCaps[agentID]
		for _, name := range names[1:] {
			if _, ok := caps[name]; !ok {
				continue next
			}
		}
		out = append(out, p.Clone())
	}
	sortProfiles(out)
	return out
}

// FindByCategory returns agents with at least one capability in a category.
func (r *Registry) FindByCategory(cat profile.Category) []*profile.AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*profile.AgentProfile
	for agentID := range r.byCategory[cat] {
		if p := r.agents[agentID]; p != nil {
			out = append(out, p.Clone())
		}
	}
	sortProfiles(out)
	return out
}

// FindByType filters the catalog by agent type.
func (r *Registry) FindByType(agentType string) []*profile.AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*profile.AgentProfile
	for _, p := range r.agents {
		if p.AgentType == agentType {
			out = append(out, p.Clone())
		}
	}
	sortProfiles(out)
	return out
}

// FindByStatus filters the catalog by status.
func (r *Registry) FindByStatus(status profile.Status) []*profile.AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*profile.AgentProfile
	for _, p := range r.agents {
		if p.Status == status {
			out = append(out, p.Clone())
		}
	}
	sortProfiles(out)
	return out
}

// GetInactiveAgents returns ids of agents whose lastSeen is older than the
// threshold.
func (r *Registry) GetInactiveAgents(threshold time.Duration) []string {
	cutoff := time.Now().Add(-threshold)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, p := range r.agents {
		if p.LastSeen.Before(cutoff) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// CleanupInactive removes agents whose lastSeen is older than the threshold
// and returns how many were removed.
func (r *Registry) CleanupInactive(threshold time.Duration) int {
	ids := r.GetInactiveAgents(threshold)
	for _, id := range ids {
		r.Unregister(id)
	}
	return len(ids)
}

// Start launches the periodic janitor: offline agents with a stale lastSeen
// are removed every CleanupInterval.
func (r *Registry) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				if n := r.cleanupOffline(); n > 0 {
					r.logger.Info("cleaned up stale agents", "removed", n)
				}
			}
		}
	}()
}

// Stop halts the janitor. Idempotent.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.done
	})
}

func (r *Registry) cleanupOffline() int {
	cutoff := time.Now().Add(-r.cfg.OfflineCutoff)
	r.mu.RLock()
	var stale []string
	for id, p := range r.agents {
		if p.Status == profile.StatusOffline && p.LastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range stale {
		r.Unregister(id)
	}
	return len(stale)
}

func (r *Registry) onlineCountLocked() int {
	n := 0
	for _, p := range r.agents {
		if p.Status == profile.StatusOnline {
			n++
		}
	}
	return n
}

func (r *Registry) publishTopologyChanged() {
	r.bus.Publish(eventbus.TopicTopologyChanged, map[string]any{
		"agents": r.Count(),
	})
}

func sortProfiles(ps []*profile.AgentProfile) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].AgentID < ps[j].AgentID })
}
