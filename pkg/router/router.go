package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/agentfabric/fabric/pkg/a2a"
	"github.com/agentfabric/fabric/pkg/eventbus"
	"github.com/agentfabric/fabric/pkg/observability"
	"github.com/agentfabric/fabric/pkg/profile"
	"github.com/agentfabric/fabric/pkg/registry"
)

// Directory is the registry surface the router needs. Satisfied by
// *registry.Registry.
type Directory interface {
	Get(agentID string) (*profile.AgentProfile, bool)
	List() []*profile.AgentProfile
	FindByCapability(name string) []*profile.AgentProfile
	FindByStatus(status profile.Status) []*profile.AgentProfile
	QueryCapabilities(q registry.Query) []registry.Match
	GetTopology() *registry.Topology
	RecordDelivery(agentID string, responseTime time.Duration, success bool)
}

// Config tunes the router.
type Config struct {
	// Policy selects agents for capability-directed messages. Default
	// best-match.
	Policy SelectionPolicy
	// QueueCapacity bounds the total number of queued messages across all
	// priorities. Default 1000.
	QueueCapacity int
	// MaxRetries bounds delivery retries per message. Default 3.
	MaxRetries int
	// TickInterval is the dispatch cadence. Default 10ms.
	TickInterval time.Duration
	// MaxConcurrent caps in-flight messages; 0 means unlimited.
	MaxConcurrent int
	// RefreshInterval is the routing-table refresh cadence. Default 30s.
	RefreshInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.Policy == "" {
		c.Policy = PolicyBestMatch
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 1000
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.TickInterval == 0 {
		c.TickInterval = 10 * time.Millisecond
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 30 * time.Second
	}
}

// pending is one admitted message waiting for delivery.
type pending struct {
	msg      *A2AMessage
	target   string
	attempts int
	result   chan RouteResult
}

// Router is the priority message router. Queue and breaker state are
// mutated only by the admission path and the single dispatch goroutine.
type Router struct {
	cfg       Config
	directory Directory
	bus       *eventbus.Bus
	pool      *clientPool
	breakers  *breakers
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu     sync.Mutex
	queues map[Priority][]*pending
	queued int
	active int

	tableMu    sync.RWMutex
	tableSize  int
	routeCount int

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	closed   bool
}

// Option customizes a Router.
type Option func(*Router)

// WithTransportFactory overrides how transports are built, for tests.
func WithTransportFactory(f TransportFactory) Option {
	return func(r *Router) { r.pool = newClientPool(f) }
}

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New creates a router backed by the given directory.
func New(directory Directory, bus *eventbus.Bus, cfg Config, opts ...Option) *Router {
	cfg.setDefaults()
	r := &Router{
		cfg:       cfg,
		directory: directory,
		bus:       bus,
		pool:      newClientPool(nil),
		breakers:  newBreakers(bus),
		logger:    slog.Default(),
		queues:    make(map[Priority][]*pending),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the dispatch loop and the routing-table refresher.
func (r *Router) Start() {
	r.refreshTable()
	go func() {
		defer close(r.done)
		tick := time.NewTicker(r.cfg.TickInterval)
		refresh := time.NewTicker(r.cfg.RefreshInterval)
		defer tick.Stop()
		defer refresh.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-refresh.C:
				r.refreshTable()
			case <-tick.C:
				r.dispatchOne()
			}
		}
	}()
}

// EnableCircuitBreaker opts an agent into circuit breaking.
func (r *Router) EnableCircuitBreaker(agentID string, cfg BreakerConfig) {
	r.breakers.Enable(agentID, cfg)
}

// ResetCircuitBreaker closes an agent's breaker and zeroes its counters.
func (r *Router) ResetCircuitBreaker(agentID string) {
	r.breakers.Reset(agentID)
}

// CircuitBreakerState returns a snapshot of one agent's breaker.
func (r *Router) CircuitBreakerState(agentID string) (BreakerState, bool) {
	return r.breakers.State(agentID)
}

// RouteMessage admits one message, resolves its destination and waits for
// the outcome. Admission failures come back as failed results, not errors.
func (r *Router) RouteMessage(ctx context.Context, msg *A2AMessage) RouteResult {
	if err := msg.validate(); err != nil {
		if msg != nil {
			r.emitFailed(msg, "Invalid message format")
		}
		return RouteResult{Error: "Invalid message format"}
	}
	if r.isClosed() {
		return failedResult(a2a.ErrShutdown())
	}

	switch {
	case msg.Type == TypeCapabilityRequest:
		return r.handleCapabilityRequest(msg)
	case msg.Type == TypeWorkflowStart:
		return RouteResult{Success: true, Result: map[string]any{"status": "workflow_queued"}}
	case msg.Type == TypeHealthCheck && msg.To == ToBroadcast:
		return r.handleHealthCheck()
	case msg.Type == TypeAgentQuery:
		return r.handleAgentQuery(msg)
	case msg.To == ToBroadcast || msg.Type == TypeNetworkBroadcast:
		res := r.BroadcastMessage(ctx, msg)
		return RouteResult{Success: res.Failed == 0, Result: res}
	}

	target, err := r.resolveTarget(msg)
	if err != nil {
		r.emitFailed(msg, err.Error())
		r.metrics.ObserveRouted("failed")
		return failedResult(err)
	}

	resultCh, err := r.enqueue(msg, target)
	if err != nil {
		r.emitFailed(msg, err.Error())
		r.metrics.ObserveRouted("failed")
		return failedResult(err)
	}

	select {
	case res := <-resultCh:
		return res
	case <-ctx.Done():
		return failedResult(ctx.Err())
	}
}

// BroadcastMessage routes a copy of msg to every online agent except the
// sender. Individual failures do not abort the broadcast.
func (r *Router) BroadcastMessage(ctx context.Context, msg *A2AMessage) *BroadcastResult {
	res := &BroadcastResult{Responses: make(map[string]RouteResult)}

	type inFlight struct {
		target string
		ch     chan RouteResult
	}
	var sent []inFlight
	for _, p := range r.directory.FindByStatus(profile.StatusOnline) {
		if p.AgentID == msg.From {
			continue
		}
		res.TotalAgents++
		cp := msg.clone()
		cp.ID = fmt.Sprintf("%s-%s", msg.ID, p.AgentID)
		cp.To = p.AgentID
		ch, err := r.enqueue(cp, p.AgentID)
		if err != nil {
			res.Failed++
			res.Responses[p.AgentID] = failedResult(err)
			continue
		}
		sent = append(sent, inFlight{target: p.AgentID, ch: ch})
	}

	for _, f := range sent {
		select {
		case out := <-f.ch:
			res.Responses[f.target] = out
			if out.Success {
				res.Successful++
			} else {
				res.Failed++
			}
		case <-ctx.Done():
			res.Failed++
			res.Responses[f.target] = failedResult(ctx.Err())
		}
	}
	return res
}

// resolveTarget maps msg.To to a concrete online agent id.
func (r *Router) resolveTarget(msg *A2AMessage) (string, error) {
	if msg.To == ToAuto {
		capability, _ := msg.Payload["capability"].(string)
		if capability == "" {
			return "", a2a.ErrInvalidParams("auto-routed message needs payload.capability")
		}
		candidates := r.directory.FindByCapability(capability)
		chosen, err := selectAgent(r.cfg.Policy, capability, candidates)
		if err != nil {
			return "", err
		}
		return chosen.AgentID, nil
	}

	p, ok := r.directory.Get(msg.To)
	if !ok {
		return "", a2a.ErrAgentNotFound(msg.To)
	}
	if p.Status != profile.StatusOnline {
		return "", a2a.ErrAgentOffline(msg.To)
	}
	return msg.To, nil
}

// enqueue admits a resolved message into its priority queue.
func (r *Router) enqueue(msg *A2AMessage, target string) (chan RouteResult, error) {
	prio := msg.Priority
	if prio == "" {
		prio = PriorityNormal
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, a2a.ErrShutdown()
	}
	if r.cfg.MaxConcurrent > 0 && r.active >= r.cfg.MaxConcurrent {
		r.mu.Unlock()
		return nil, a2a.ErrInternal("too many in-flight messages")
	}
	if r.queued >= r.cfg.QueueCapacity {
		r.mu.Unlock()
		return nil, a2a.ErrQueueFull(string(prio))
	}
	p := &pending{msg: msg, target: target, result: make(chan RouteResult, 1)}
	r.queues[prio] = append(r.queues[prio], p)
	r.queued++
	r.active++
	depth := len(r.queues[prio])
	r.mu.Unlock()

	r.metrics.SetQueueDepth(string(prio), depth)
	return p.result, nil
}

// dispatchOne delivers at most one message, strictly priority-first.
func (r *Router) dispatchOne() {
	r.mu.Lock()
	var p *pending
	var prio Priority
	for _, candidate := range priorityOrder {
		if q := r.queues[candidate]; len(q) > 0 {
			p = q[0]
			r.queues[candidate] = q[1:]
			r.queued--
			prio = candidate
			break
		}
	}
	if p == nil {
		r.mu.Unlock()
		return
	}
	depth := len(r.queues[prio])
	r.mu.Unlock()
	r.metrics.SetQueueDepth(string(prio), depth)

	r.deliver(p, prio)
}

func (r *Router) deliver(p *pending, prio Priority) {
	msg := p.msg

	finish := func(res RouteResult) {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
		p.result <- res
	}

	if msg.TTL > 0 && time.Since(msg.Timestamp) > msg.TTL {
		r.emitFailed(msg, "message ttl expired")
		r.metrics.ObserveRouted("failed")
		finish(RouteResult{Error: "message ttl expired"})
		return
	}

	// An open circuit isolates without observing: no transport call, no
	// failure recorded.
	if err := r.breakers.Allow(p.target); err != nil {
		r.metrics.ObserveRouted("failed")
		r.metrics.SetCircuitsOpen(r.breakers.Stats().Open)
		finish(failedResult(err))
		return
	}

	prof, ok := r.directory.Get(p.target)
	if !ok {
		finish(failedResult(a2a.ErrAgentNotFound(p.target)))
		return
	}
	endpoint := prof.Metadata.Endpoint
	if endpoint == "" {
		r.emitFailed(msg, "no endpoint for "+p.target)
		r.metrics.ObserveRouted("failed")
		finish(failedResult(a2a.ErrNoEndpoint(p.target)))
		return
	}

	transport, err := r.pool.get(endpoint)
	if err != nil {
		finish(failedResult(err))
		return
	}

	ctx := context.Background()
	if msg.TTL > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, msg.Timestamp.Add(msg.TTL))
		defer cancel()
	}

	start := time.Now()
	result, err := transport.SendMessage(ctx, wireMessage(msg))
	elapsed := time.Since(start)

	if err != nil {
		r.breakers.RecordFailure(p.target)
		r.directory.RecordDelivery(p.target, elapsed, false)
		r.metrics.SetCircuitsOpen(r.breakers.Stats().Open)

		p.attempts++
		if p.attempts <= r.cfg.MaxRetries {
			r.metrics.ObserveRetry()
			r.logger.Debug("delivery failed, retrying",
				"message", msg.ID, "agent", p.target, "attempt", p.attempts)
			if r.requeue(p, prio) {
				return
			}
		}
		r.emitFailed(msg, err.Error())
		r.metrics.ObserveRouted("failed")
		finish(failedResult(err))
		return
	}

	r.breakers.RecordSuccess(p.target)
	r.directory.RecordDelivery(p.target, elapsed, true)
	r.metrics.ObserveRouted("sent")
	r.metrics.SetCircuitsOpen(r.breakers.Stats().Open)
	r.bus.Publish(eventbus.TopicMessageSent, map[string]any{
		"messageId": msg.ID, "agentId": p.target,
	})
	finish(RouteResult{Success: true, Result: result, DeliveredTo: p.target})
}

// requeue puts a retried message at the tail of its own priority queue.
func (r *Router) requeue(p *pending, prio Priority) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.queues[prio] = append(r.queues[prio], p)
	r.queued++
	return true
}

// wireMessage converts an admitted A2AMessage to the protocol Message: role
// preserved, messageId carried over, contextId from the correlation id, the
// payload wrapped in one data part.
func wireMessage(msg *A2AMessage) *a2a.MessageSendParams {
	payload := msg.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	m := a2a.NewDataMessage(msg.Role, payload)
	m.MessageID = msg.ID
	m.ContextID = msg.CorrelationID
	m.Metadata = msg.Metadata
	return &a2a.MessageSendParams{Message: m}
}

func (r *Router) handleCapabilityRequest(msg *A2AMessage) RouteResult {
	var q registry.Query
	if err := mapstructure.Decode(msg.Payload, &q); err != nil {
		return failedResult(a2a.ErrInvalidParams("bad capability query: %v", err))
	}
	return RouteResult{Success: true, Result: r.directory.QueryCapabilities(q)}
}

func (r *Router) handleHealthCheck() RouteResult {
	online := len(r.directory.FindByStatus(profile.StatusOnline))
	return RouteResult{Success: true, Result: map[string]any{
		"status":       "healthy",
		"onlineAgents": online,
		"routingStats": r.GetRoutingStats(),
		"timestamp":    time.Now(),
	}}
}

func (r *Router) handleAgentQuery(msg *A2AMessage) RouteResult {
	var filter struct {
		AgentType  string `mapstructure:"agentType"`
		Status     string `mapstructure:"status"`
		Capability string `mapstructure:"capability"`
	}
	if err := mapstructure.Decode(msg.Payload, &filter); err != nil {
		return failedResult(a2a.ErrInvalidParams("bad agent query: %v", err))
	}

	var agents []*profile.AgentProfile
	if filter.Capability != "" {
		agents = r.directory.FindByCapability(filter.Capability)
	} else {
		agents = r.directory.List()
	}
	var out []*profile.AgentProfile
	for _, p := range agents {
		if filter.AgentType != "" && p.AgentType != filter.AgentType {
			continue
		}
		if filter.Status != "" && p.Status != profile.Status(filter.Status) {
			continue
		}
		out = append(out, p)
	}
	return RouteResult{Success: true, Result: out}
}

// RoutingStats is the router's observable state.
type RoutingStats struct {
	ActiveMessages   int              `json:"activeMessages"`
	QueueSizes       map[Priority]int `json:"queueSizes"`
	RoutingTableSize int              `json:"routingTableSize"`
	TotalRoutes      int              `json:"totalRoutes"`
	CircuitBreakers  BreakerStats     `json:"circuitBreakers"`
}

// GetRoutingStats snapshots queue depths, in-flight count, routing table
// size and breaker states.
func (r *Router) GetRoutingStats() RoutingStats {
	r.mu.Lock()
	sizes := make(map[Priority]int, len(priorityOrder))
	for _, p := range priorityOrder {
		sizes[p] = len(r.queues[p])
	}
	active := r.active
	r.mu.Unlock()

	r.tableMu.RLock()
	tableSize, routes := r.tableSize, r.routeCount
	r.tableMu.RUnlock()

	return RoutingStats{
		ActiveMessages:   active,
		QueueSizes:       sizes,
		RoutingTableSize: tableSize,
		TotalRoutes:      routes,
		CircuitBreakers:  r.breakers.Stats(),
	}
}

func (r *Router) refreshTable() {
	topo := r.directory.GetTopology()
	routes := 0
	for _, rs := range topo.MessageRoutes {
		routes += len(rs)
	}
	r.tableMu.Lock()
	r.tableSize = len(topo.Agents)
	r.routeCount = routes
	r.tableMu.Unlock()
}

func (r *Router) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Router) emitFailed(msg *A2AMessage, reason string) {
	r.bus.Publish(eventbus.TopicMessageFailed, map[string]any{
		"messageId": msg.ID, "error": reason,
	})
}

// Shutdown stops the dispatcher, rejects queued messages, closes pooled
// transports and clears breaker state. Idempotent.
func (r *Router) Shutdown() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		var rejected []*pending
		for prio, q := range r.queues {
			rejected = append(rejected, q...)
			r.queues[prio] = nil
		}
		r.queued = 0
		r.mu.Unlock()

		close(r.stopCh)
		<-r.done

		shutdownErr := a2a.ErrShutdown()
		for _, p := range rejected {
			r.mu.Lock()
			r.active--
			r.mu.Unlock()
			p.result <- failedResult(shutdownErr)
		}

		r.pool.close()
		r.breakers.Clear()
		r.bus.Publish(eventbus.TopicShutdown, map[string]any{"component": "router"})
		r.logger.Info("router shut down", "rejected", len(rejected))
	})
}
