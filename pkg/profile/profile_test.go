package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/fabric/pkg/a2a"
)

func validProfile() *AgentProfile {
	return &AgentProfile{
		AgentID:   "agent-1",
		AgentType: "worker",
		Status:    StatusOnline,
		Capabilities: []Capability{
			{Name: "translate", Category: CategoryAnalysis, Cost: 10, Reliability: 0.9, Tags: []string{"nlp"}},
			{Name: "summarize", Category: CategoryCreative, Cost: 20, Reliability: 0.8},
		},
		Features: Features{Streaming: true},
		Metadata: Metadata{Endpoint: "http://agent-1.test", Load: 15},
		LastSeen: time.Now(),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AgentProfile)
		want   string
	}{
		{"missing id", func(p *AgentProfile) { p.AgentID = "" }, "agentId"},
		{"missing type", func(p *AgentProfile) { p.AgentType = "" }, "agentType"},
		{"no capabilities", func(p *AgentProfile) { p.Capabilities = nil }, "at least one capability"},
		{"unnamed capability", func(p *AgentProfile) { p.Capabilities[0].Name = "" }, "has no name"},
		{"duplicate name", func(p *AgentProfile) { p.Capabilities[1].Name = "translate" }, "duplicate capability"},
		{"bad category", func(p *AgentProfile) { p.Capabilities[0].Category = "sorcery" }, "unknown category"},
		{"cost out of range", func(p *AgentProfile) { p.Capabilities[0].Cost = 150 }, "cost out of range"},
		{"reliability out of range", func(p *AgentProfile) { p.Capabilities[0].Reliability = 1.5 }, "reliability out of range"},
		{"bad status", func(p *AgentProfile) { p.Status = "asleep" }, "unknown status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile()
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			fe, ok := a2a.AsError(err)
			require.True(t, ok)
			assert.Equal(t, a2a.KindInvalidParams, fe.Kind)
			assert.Contains(t, fe.Message, tt.want)
		})
	}

	require.NoError(t, validProfile().Validate())

	var nilProfile *AgentProfile
	require.Error(t, nilProfile.Validate())
}

func TestCapabilityLookup(t *testing.T) {
	p := validProfile()

	c, ok := p.Capability("translate")
	require.True(t, ok)
	assert.Equal(t, CategoryAnalysis, c.Category)

	_, ok = p.Capability("missing")
	assert.False(t, ok)
}

func TestSuccessRateDefaultsToOne(t *testing.T) {
	p := validProfile()
	assert.Equal(t, 1.0, p.SuccessRate())

	p.Metadata.Performance = &PerformanceMetrics{SuccessRate: 0.75, TotalRequests: 4}
	assert.Equal(t, 0.75, p.SuccessRate())
}

func TestCloneIsDeep(t *testing.T) {
	p := validProfile()
	p.Metadata.Performance = &PerformanceMetrics{SuccessRate: 0.5}
	p.Metadata.Extra = map[string]any{"zone": "eu"}

	cp := p.Clone()
	cp.Capabilities[0].Name = "mutated"
	cp.Metadata.Performance.SuccessRate = 0.1
	cp.Metadata.Extra["zone"] = "us"

	assert.Equal(t, "translate", p.Capabilities[0].Name)
	assert.Equal(t, 0.5, p.Metadata.Performance.SuccessRate)
	assert.Equal(t, "eu", p.Metadata.Extra["zone"])

	var nilProfile *AgentProfile
	assert.Nil(t, nilProfile.Clone())
}

func TestCardDerivation(t *testing.T) {
	p := validProfile()
	card := p.Card()

	assert.Equal(t, a2a.ProtocolVersion, card.ProtocolVersion)
	assert.Equal(t, "agent-1", card.Name)
	assert.Equal(t, "http://agent-1.test", card.URL)
	assert.Equal(t, []string{"translate", "summarize"}, card.Capabilities)
	require.Len(t, card.Skills, 2)
	assert.Equal(t, []string{"nlp"}, card.Skills[0].Tags)
	require.NotNil(t, card.SystemFeatures)
	assert.True(t, card.SystemFeatures.Streaming)
}
