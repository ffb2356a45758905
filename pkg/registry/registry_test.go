package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/fabric/pkg/a2a"
	"github.com/agentfabric/fabric/pkg/eventbus"
	"github.com/agentfabric/fabric/pkg/profile"
)

func testProfile(id string, caps ...profile.Capability) *profile.AgentProfile {
	if len(caps) == 0 {
		caps = []profile.Capability{{
			Name:        "echo",
			Category:    profile.CategoryCommunication,
			Cost:        10,
			Reliability: 0.9,
		}}
	}
	return &profile.AgentProfile{
		AgentID:      id,
		AgentType:    "worker",
		Status:       profile.StatusOnline,
		Capabilities: caps,
	}
}

func TestRegisterAndDuplicate(t *testing.T) {
	r := New(nil, Config{})

	res := r.Register(testProfile("agent-1"))
	require.True(t, res.Success, res.Error)

	res = r.Register(testProfile("agent-1"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "already registered")
	assert.Equal(t, 1, r.Count())

	res = r.Upsert(testProfile("agent-1"))
	assert.True(t, res.Success)
	assert.Equal(t, 1, r.Count())
}

func TestRegisterValidation(t *testing.T) {
	r := New(nil, Config{})

	tests := []struct {
		name string
		p    *profile.AgentProfile
	}{
		{"missing id", &profile.AgentProfile{AgentType: "worker", Capabilities: []profile.Capability{{Name: "x"}}}},
		{"missing type", &profile.AgentProfile{AgentID: "a", Capabilities: []profile.Capability{{Name: "x"}}}},
		{"no capabilities", &profile.AgentProfile{AgentID: "a", AgentType: "worker"}},
		{"duplicate capability", testProfile("a",
			profile.Capability{Name: "x", Reliability: 0.5},
			profile.Capability{Name: "x", Reliability: 0.5},
		)},
		{"cost out of range", testProfile("a", profile.Capability{Name: "x", Cost: 150})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Register(tt.p)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Error)
		})
	}
	assert.Equal(t, 0, r.Count())
}

func TestUnregisterIdempotent(t *testing.T) {
	r := New(nil, Config{})
	r.Register(testProfile("agent-1"))

	r.Unregister("agent-1")
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.FindByCapability("echo"))

	// Second unregister is a no-op.
	r.Unregister("agent-1")
	r.Unregister("never-existed")
}

func TestBulkRegister(t *testing.T) {
	bus := eventbus.New()
	topo := bus.SubscribeTopics(16, eventbus.TopicTopologyChanged)
	r := New(bus, Config{})

	result := r.BulkRegister([]*profile.AgentProfile{
		testProfile("agent-1"),
		testProfile("agent-2"),
		{AgentID: "bad", AgentType: "worker"}, // no capabilities
		testProfile("agent-1"),                // duplicate
	})
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 2, result.Failed)
	assert.Len(t, result.Errors, 2)
	assert.Equal(t, 2, r.Count())

	// Exactly one topology event for the whole bulk operation.
	count := 0
	for {
		select {
		case <-topo:
			count++
		case <-time.After(50 * time.Millisecond):
			assert.Equal(t, 1, count)
			return
		}
	}
}

func TestFindByCapability(t *testing.T) {
	r := New(nil, Config{})
	r.Register(testProfile("agent-1",
		profile.Capability{Name: "translate", Category: profile.CategoryAnalysis, Reliability: 0.9},
		profile.Capability{Name: "summarize", Category: profile.CategoryAnalysis, Reliability: 0.8},
	))
	r.Register(testProfile("agent-2",
		profile.Capability{Name: "translate", Category: profile.CategoryAnalysis, Reliability: 0.7},
	))

	got := r.FindByCapability("translate")
	require.Len(t, got, 2)
	assert.Equal(t, "agent-1", got[0].AgentID)
	assert.Equal(t, "agent-2", got[1].AgentID)

	// Offline agents are excluded.
	require.NoError(t, r.UpdateStatus("agent-2", profile.StatusOffline))
	got = r.FindByCapability("translate")
	require.Len(t, got, 1)
	assert.Equal(t, "agent-1", got[0].AgentID)
}

func TestFindByCapabilitiesIntersection(t *testing.T) {
	r := New(nil, Config{})
	r.Register(testProfile("agent-1",
		profile.Capability{Name: "a", Reliability: 1},
		profile.Capability{Name: "b", Reliability: 1},
	))
	r.Register(testProfile("agent-2",
		profile.Capability{Name: "a", Reliability: 1},
	))

	got := r.FindByCapabilities([]string{"a", "b"})
	require.Len(t, got, 1)
	assert.Equal(t, "agent-1", got[0].AgentID)

	assert.Empty(t, r.FindByCapabilities([]string{"a", "missing"}))
	assert.Empty(t, r.FindByCapabilities(nil))
}

func TestUpdateCapabilitiesReindexes(t *testing.T) {
	r := New(nil, Config{})
	r.Register(testProfile("agent-1",
		profile.Capability{Name: "old", Category: profile.CategoryAnalysis, Reliability: 1},
	))

	err := r.UpdateCapabilities("agent-1", []profile.Capability{
		{Name: "new", Category: profile.CategoryAction, Reliability: 1},
	})
	require.NoError(t, err)

	assert.Empty(t, r.FindByCapability("old"))
	assert.Len(t, r.FindByCapability("new"), 1)
	assert.Empty(t, r.FindByCategory(profile.CategoryAnalysis))
	assert.Len(t, r.FindByCategory(profile.CategoryAction), 1)
}

func TestMetadataOps(t *testing.T) {
	r := New(nil, Config{})
	r.Register(testProfile("agent-1"))

	require.NoError(t, r.SetMetadata("agent-1", "region", "eu-west"))
	require.NoError(t, r.MergeMetadata("agent-1", map[string]any{"tier": "gold", "region": "us-east"}))

	p, ok := r.Get("agent-1")
	require.True(t, ok)
	assert.Equal(t, "us-east", p.Metadata.Extra["region"])
	assert.Equal(t, "gold", p.Metadata.Extra["tier"])

	require.NoError(t, r.DeleteMetadata("agent-1", "region"))
	p, _ = r.Get("agent-1")
	assert.NotContains(t, p.Metadata.Extra, "region")

	assert.Error(t, r.SetMetadata("missing", "k", "v"))
}

func TestQueryCapabilities(t *testing.T) {
	r := New(nil, Config{})
	r.Register(testProfile("agent-1", profile.Capability{
		Name:        "text-translation",
		Description: "Translate text between languages",
		Category:    profile.CategoryAnalysis,
		Cost:        20,
		Reliability: 0.95,
		Tags:        []string{"nlp", "translation"},
	}))
	r.Register(testProfile("agent-2", profile.Capability{
		Name:        "image-generation",
		Description: "Generate images from prompts",
		Category:    profile.CategoryCreative,
		Cost:        80,
		Reliability: 0.8,
		Tags:        []string{"vision"},
	}))

	matches := r.QueryCapabilities(Query{Description: "translate", Tags: []string{"nlp"}})
	require.Len(t, matches, 1)
	m := matches[0]
	assert.Equal(t, "agent-1", m.AgentID)
	assert.Contains(t, m.Reason, "description match")
	assert.Contains(t, m.Reason, "tag: nlp")
	// 50 + 10 + 1.0*20 out of a max of 80.
	assert.InDelta(t, 1.0, m.Score, 0.001)

	// Hard filters.
	assert.Empty(t, r.QueryCapabilities(Query{Description: "translate", MaxCost: 10}))
	assert.Empty(t, r.QueryCapabilities(Query{Description: "generate", MinReliability: 0.9}))
	assert.Empty(t, r.QueryCapabilities(Query{Description: "generate", Category: profile.CategoryAnalysis}))

	// Limit caps results.
	all := r.QueryCapabilities(Query{Tags: []string{"nlp", "vision"}})
	require.Len(t, all, 2)
	assert.Len(t, r.QueryCapabilities(Query{Tags: []string{"nlp", "vision"}, Limit: 1}), 1)
}

func TestHealthThresholds(t *testing.T) {
	r := New(nil, Config{})
	r.Register(testProfile("agent-1"))
	r.Register(testProfile("agent-2"))

	require.NoError(t, r.UpdateHealth("agent-1", profile.Health{CPU: 95}))
	require.NoError(t, r.UpdateHealth("agent-2", profile.Health{CPU: 50, ErrorRate: 0.1}))

	assert.Equal(t, []string{"agent-1"}, r.GetUnhealthyAgents(HealthThresholds{}))

	// Caller-supplied thresholds override the defaults.
	assert.Equal(t, []string{"agent-1", "agent-2"},
		r.GetUnhealthyAgents(HealthThresholds{MaxCPU: 40}))
	assert.Empty(t, r.GetUnhealthyAgents(HealthThresholds{MaxCPU: 99}))

	changed := r.CheckAllHealthAndUpdateStatus()
	assert.Equal(t, []string{"agent-1"}, changed)
	p, _ := r.Get("agent-1")
	assert.Equal(t, profile.StatusDegraded, p.Status)

	// Recovery promotes back to online.
	require.NoError(t, r.UpdateHealth("agent-1", profile.Health{CPU: 30}))
	changed = r.CheckAllHealthAndUpdateStatus()
	assert.Equal(t, []string{"agent-1"}, changed)
	p, _ = r.Get("agent-1")
	assert.Equal(t, profile.StatusOnline, p.Status)
}

func TestCheckHealthSingleAgent(t *testing.T) {
	r := New(nil, Config{})
	r.Register(testProfile("agent-1"))
	r.Register(testProfile("agent-2"))

	require.NoError(t, r.UpdateHealth("agent-1", profile.Health{CPU: 95}))

	changed, err := r.CheckHealthAndUpdateStatus("agent-1")
	require.NoError(t, err)
	assert.True(t, changed)
	p, _ := r.Get("agent-1")
	assert.Equal(t, profile.StatusDegraded, p.Status)

	// Already degraded and still unhealthy: nothing to change.
	changed, err = r.CheckHealthAndUpdateStatus("agent-1")
	require.NoError(t, err)
	assert.False(t, changed)

	// No telemetry recorded: status untouched.
	changed, err = r.CheckHealthAndUpdateStatus("agent-2")
	require.NoError(t, err)
	assert.False(t, changed)
	p, _ = r.Get("agent-2")
	assert.Equal(t, profile.StatusOnline, p.Status)

	_, err = r.CheckHealthAndUpdateStatus("ghost")
	fe, ok := a2a.AsError(err)
	require.True(t, ok)
	assert.Equal(t, a2a.KindAgentNotFound, fe.Kind)
}

func TestCleanupInactive(t *testing.T) {
	r := New(nil, Config{})
	r.Register(testProfile("agent-1"))
	r.Register(testProfile("agent-2"))

	// Age agent-1 artificially.
	r.mu.Lock()
	r.agents["agent-1"].LastSeen = time.Now().Add(-10 * time.Minute)
	r.mu.Unlock()

	assert.Equal(t, []string{"agent-1"}, r.GetInactiveAgents(5*time.Minute))
	assert.Equal(t, 1, r.CleanupInactive(5*time.Minute))
	assert.Equal(t, 1, r.Count())
}

func TestJanitorRemovesStaleOffline(t *testing.T) {
	r := New(nil, Config{CleanupInterval: 10 * time.Millisecond, OfflineCutoff: time.Minute})
	r.Register(testProfile("stale"))
	r.Register(testProfile("fresh"))
	require.NoError(t, r.UpdateStatus("stale", profile.StatusOffline))
	require.NoError(t, r.UpdateStatus("fresh", profile.StatusOffline))

	r.mu.Lock()
	r.agents["stale"].LastSeen = time.Now().Add(-2 * time.Minute)
	r.mu.Unlock()

	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool {
		_, ok := r.Get("stale")
		return !ok
	}, time.Second, 10*time.Millisecond)

	// Fresh offline agent survives the cutoff.
	_, ok := r.Get("fresh")
	assert.True(t, ok)
}

func TestTopologySnapshot(t *testing.T) {
	r := New(nil, Config{})
	r.Register(testProfile("agent-1",
		profile.Capability{Name: "translate", Cost: 10, Reliability: 0.9},
	))
	r.Register(testProfile("agent-2",
		profile.Capability{Name: "translate", Cost: 20, Reliability: 0.8},
		profile.Capability{Name: "summarize", Cost: 5, Reliability: 0.95},
	))

	topo := r.GetTopology()
	require.Len(t, topo.Agents, 2)
	require.Len(t, topo.MessageRoutes, 2)
	require.Len(t, topo.MessageRoutes["translate"], 2)
	require.Len(t, topo.MessageRoutes["summarize"], 1)
	assert.Equal(t, "agent-1", topo.MessageRoutes["translate"][0].AgentID)
	assert.Equal(t, "agent-2", topo.MessageRoutes["translate"][1].AgentID)
	assert.False(t, topo.LastUpdated.IsZero())

	// Routes default to 1000ms until metrics arrive.
	for _, routes := range topo.MessageRoutes {
		for _, rt := range routes {
			assert.Equal(t, 1000.0, rt.ResponseTime)
		}
	}

	require.Len(t, topo.Connections, 1)
	assert.Equal(t, Connection{From: "agent-1", To: "agent-2", Capability: "translate"}, topo.Connections[0])

	// Recorded deliveries feed route response times.
	r.RecordDelivery("agent-1", 200*time.Millisecond, true)
	topo = r.GetTopology()
	for _, routes := range topo.MessageRoutes {
		for _, rt := range routes {
			if rt.AgentID == "agent-1" {
				assert.Equal(t, 200.0, rt.ResponseTime)
			}
		}
	}
}

func TestRecordDelivery(t *testing.T) {
	r := New(nil, Config{})
	r.Register(testProfile("agent-1"))

	r.RecordDelivery("agent-1", 100*time.Millisecond, true)
	r.RecordDelivery("agent-1", 300*time.Millisecond, false)

	p, _ := r.Get("agent-1")
	perf := p.Metadata.Performance
	require.NotNil(t, perf)
	assert.Equal(t, int64(2), perf.TotalRequests)
	assert.InDelta(t, 200.0, perf.AvgResponseTime, 0.001)
	assert.InDelta(t, 0.5, perf.SuccessRate, 0.001)
}

func TestEventsPublished(t *testing.T) {
	bus := eventbus.New()
	events := bus.SubscribeTopics(16,
		eventbus.TopicAgentRegistered, eventbus.TopicAgentUnregistered)
	r := New(bus, Config{})

	r.Register(testProfile("agent-1"))
	r.Unregister("agent-1")

	var topics []eventbus.Topic
	for len(topics) < 2 {
		select {
		case ev := <-events:
			topics = append(topics, ev.Topic)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for registry events")
		}
	}
	assert.Equal(t, []eventbus.Topic{eventbus.TopicAgentRegistered, eventbus.TopicAgentUnregistered}, topics)
}
