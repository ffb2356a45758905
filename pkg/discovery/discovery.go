// Package discovery finds peer agents through a central directory, a
// peer-to-peer announcement channel, or both, and feeds them into the
// registry over the event bus.
package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentfabric/fabric/pkg/eventbus"
	"github.com/agentfabric/fabric/pkg/profile"
	"github.com/agentfabric/fabric/pkg/registry"
)

// Mode selects how agents are discovered.
type Mode string

const (
	ModeCentral Mode = "central"
	ModeP2P     Mode = "p2p"
	ModeHybrid  Mode = "hybrid"
	ModeLazy    Mode = "lazy"
	ModeNone    Mode = "none"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeCentral, ModeP2P, ModeHybrid, ModeLazy, ModeNone:
		return true
	}
	return false
}

// CentralDirectory is the central registry backend. Implementations: HTTP
// directory, Consul catalog.
type CentralDirectory interface {
	Register(ctx context.Context, p *profile.AgentProfile) error
	Discover(ctx context.Context) ([]*profile.AgentProfile, error)
	UpdateStatus(ctx context.Context, agentID string, status profile.Status) error
	Deregister(ctx context.Context, agentID string) error
}

// Announcer is the peer-to-peer announcement channel. The concrete
// transport is an implementation choice; only the event contract is fixed.
type Announcer interface {
	// SetLocalProfile installs the profile answered to browse requests.
	SetLocalProfile(p *profile.AgentProfile)
	// Announce publishes the local profile to peers.
	Announce(ctx context.Context, p *profile.AgentProfile) error
	// Browse collects currently announced peers.
	Browse(ctx context.Context, wait time.Duration) ([]*profile.AgentProfile, error)
	// Listen starts consuming peer announcements, invoking onDiscovered for
	// each.
	Listen(onDiscovered func(p *profile.AgentProfile)) error
	Close() error
}

// Config tunes discovery.
type Config struct {
	Mode Mode
	// HeartbeatInterval between central status refreshes. Default 30s.
	HeartbeatInterval time.Duration
	// ProbeTimeout bounds each backend probe during Initialize. Default 1s.
	ProbeTimeout time.Duration
	// BrowseWait bounds p2p browse collection. Default 500ms.
	BrowseWait time.Duration
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = ModeNone
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = time.Second
	}
	if c.BrowseWait == 0 {
		c.BrowseWait = 500 * time.Millisecond
	}
}

// Manager coordinates the configured discovery backends.
type Manager struct {
	cfg       Config
	central   CentralDirectory
	announcer Announcer
	bus       *eventbus.Bus
	logger    *slog.Logger

	mu         sync.Mutex
	cache      map[string]*profile.AgentProfile // discovered peers
	centralUp  bool
	p2pUp      bool
	local      *profile.AgentProfile
	heartbeats map[string]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option customizes a Manager.
type Option func(*Manager)

// WithCentral installs the central directory backend.
func WithCentral(c CentralDirectory) Option {
	return func(m *Manager) { m.central = c }
}

// WithAnnouncer installs the p2p announcement backend.
func WithAnnouncer(a Announcer) Option {
	return func(m *Manager) { m.announcer = a }
}

// WithLogger sets the discovery logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a discovery manager. Backends are probed on Initialize, not
// here.
func New(bus *eventbus.Bus, cfg Config, opts ...Option) *Manager {
	cfg.setDefaults()
	m := &Manager{
		cfg:        cfg,
		bus:        bus,
		logger:     slog.Default(),
		cache:      make(map[string]*profile.AgentProfile),
		heartbeats: make(map[string]struct{}),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) usesCentral() bool {
	return m.central != nil &&
		(m.cfg.Mode == ModeCentral || m.cfg.Mode == ModeHybrid || m.cfg.Mode == ModeLazy)
}

func (m *Manager) usesP2P() bool {
	return m.announcer != nil && (m.cfg.Mode == ModeP2P || m.cfg.Mode == ModeHybrid)
}

// Initialize probes the configured backends. A backend failure is logged
// and bypassed; Initialize never fails because a backend is down.
func (m *Manager) Initialize(ctx context.Context) {
	if m.cfg.Mode == ModeNone {
		return
	}

	// Lazy mode defers the first central contact to DiscoverAgents.
	if m.usesCentral() && m.cfg.Mode != ModeLazy {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		_, err := m.central.Discover(probeCtx)
		cancel()
		if err != nil {
			m.logger.Warn("central directory unreachable, continuing without it", "error", err)
		} else {
			m.mu.Lock()
			m.centralUp = true
			m.mu.Unlock()
			m.bus.Publish(eventbus.TopicRegistryConnected, nil)
		}
	}

	if m.usesP2P() {
		err := m.announcer.Listen(m.onPeerDiscovered)
		if err != nil {
			m.logger.Warn("p2p announcer unavailable, continuing without it", "error", err)
		} else {
			m.mu.Lock()
			m.p2pUp = true
			m.mu.Unlock()
		}
	}
}

// SetLocalProfile installs this node's own profile: announced over p2p and
// used to answer browse requests.
func (m *Manager) SetLocalProfile(p *profile.AgentProfile) {
	m.mu.Lock()
	m.local = p.Clone()
	p2pUp := m.p2pUp
	m.mu.Unlock()
	if p2pUp {
		m.announcer.SetLocalProfile(p)
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
		defer cancel()
		if err := m.announcer.Announce(ctx, p); err != nil {
			m.logger.Warn("announce failed", "error", err)
		}
	}
}

// onPeerDiscovered handles one p2p announcement.
func (m *Manager) onPeerDiscovered(p *profile.AgentProfile) {
	if p == nil || p.AgentID == "" {
		return
	}
	m.mu.Lock()
	if m.local != nil && p.AgentID == m.local.AgentID {
		m.mu.Unlock()
		return
	}
	_, known := m.cache[p.AgentID]
	m.cache[p.AgentID] = p.Clone()
	m.mu.Unlock()

	if !known {
		m.bus.Publish(eventbus.TopicAgentDiscovered, map[string]any{
			"agentId": p.AgentID,
			"profile": p,
		})
	}
}

// DiscoverAgents returns the merged view of all reachable backends. In
// hybrid mode, central entries win on duplicate ids.
func (m *Manager) DiscoverAgents(ctx context.Context) ([]*profile.AgentProfile, error) {
	merged := make(map[string]*profile.AgentProfile)

	if m.usesP2P() {
		m.mu.Lock()
		p2pUp := m.p2pUp
		m.mu.Unlock()
		if p2pUp {
			peers, err := m.announcer.Browse(ctx, m.cfg.BrowseWait)
			if err != nil {
				m.logger.Warn("p2p browse failed", "error", err)
			}
			for _, p := range peers {
				merged[p.AgentID] = p
			}
		}
		m.mu.Lock()
		for id, p := range m.cache {
			if _, ok := merged[id]; !ok {
				merged[id] = p.Clone()
			}
		}
		m.mu.Unlock()
	}

	if m.usesCentral() {
		agents, err := m.central.Discover(ctx)
		if err != nil {
			m.logger.Warn("central discover failed", "error", err)
			m.setCentralUp(false)
		} else {
			m.setCentralUp(true)
			// Central entries take precedence over p2p duplicates.
			for _, p := range agents {
				merged[p.AgentID] = p
			}
		}
	}

	out := make([]*profile.AgentProfile, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	return out, nil
}

func (m *Manager) setCentralUp(up bool) {
	m.mu.Lock()
	was := m.centralUp
	m.centralUp = up
	m.mu.Unlock()
	if up && !was {
		m.bus.Publish(eventbus.TopicRegistryConnected, nil)
	}
}

// RegisterWithCentral posts a profile to the central directory and starts
// its heartbeat loop.
func (m *Manager) RegisterWithCentral(ctx context.Context, p *profile.AgentProfile) error {
	if !m.usesCentral() {
		return nil
	}
	if err := m.central.Register(ctx, p); err != nil {
		m.logger.Warn("central registration failed", "agent", p.AgentID, "error", err)
		return err
	}
	m.setCentralUp(true)
	m.startHeartbeat(p.AgentID)
	return nil
}

// startHeartbeat issues a status refresh every HeartbeatInterval while the
// mode is central or hybrid.
func (m *Manager) startHeartbeat(agentID string) {
	if m.cfg.Mode != ModeCentral && m.cfg.Mode != ModeHybrid {
		return
	}
	m.mu.Lock()
	if _, running := m.heartbeats[agentID]; running {
		m.mu.Unlock()
		return
	}
	m.heartbeats[agentID] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
				err := m.central.UpdateStatus(ctx, agentID, profile.StatusOnline)
				cancel()
				if err != nil {
					m.logger.Debug("heartbeat failed", "agent", agentID, "error", err)
				}
			}
		}
	}()
}

// Forget drops a peer from the discovery cache and announces the loss. The
// registry removes it only on explicit unregister or cleanup.
func (m *Manager) Forget(agentID string) {
	m.mu.Lock()
	_, known := m.cache[agentID]
	delete(m.cache, agentID)
	m.mu.Unlock()
	if known {
		m.bus.Publish(eventbus.TopicAgentLost, map[string]any{"agentId": agentID})
	}
}

// Cached returns the currently cached peers.
func (m *Manager) Cached() []*profile.AgentProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*profile.AgentProfile, 0, len(m.cache))
	for _, p := range m.cache {
		out = append(out, p.Clone())
	}
	return out
}

// Shutdown stops heartbeats and closes the announcer. Idempotent.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		if m.announcer != nil {
			_ = m.announcer.Close()
		}
		m.bus.Publish(eventbus.TopicShutdown, map[string]any{"component": "discovery"})
	})
}

// WireRegistry subscribes to discovery events and upserts discovered peers
// into the registry. Returns a stop function.
func WireRegistry(bus *eventbus.Bus, reg *registry.Registry) func() {
	ch := bus.SubscribeTopics(64, eventbus.TopicAgentDiscovered)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				p, _ := ev.Data["profile"].(*profile.AgentProfile)
				if p == nil {
					continue
				}
				if res := reg.Upsert(p); !res.Success {
					slog.Default().Warn("discovered agent rejected by registry",
						"agent", p.AgentID, "error", res.Error)
				}
			}
		}
	}()
	return func() {
		close(done)
		bus.Unsubscribe(ch)
	}
}
