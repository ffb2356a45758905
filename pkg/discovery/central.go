package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	consul "github.com/hashicorp/consul/api"

	"github.com/agentfabric/fabric/pkg/profile"
)

// httpDirectory talks to the central directory's HTTP API.
type httpDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDirectory creates a CentralDirectory over the directory HTTP API
// rooted at baseURL.
func NewHTTPDirectory(baseURL string, client *http.Client) CentralDirectory {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &httpDirectory{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (d *httpDirectory) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("directory %s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (d *httpDirectory) Register(ctx context.Context, p *profile.AgentProfile) error {
	return d.do(ctx, http.MethodPost, "/api/registry/register", p, nil)
}

func (d *httpDirectory) Discover(ctx context.Context) ([]*profile.AgentProfile, error) {
	var out struct {
		Agents []*profile.AgentProfile `json:"agents"`
	}
	if err := d.do(ctx, http.MethodGet, "/api/registry/discover", nil, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

func (d *httpDirectory) UpdateStatus(ctx context.Context, agentID string, status profile.Status) error {
	body := map[string]any{"status": status}
	return d.do(ctx, http.MethodPut, "/api/registry/agents/"+agentID+"/status", body, nil)
}

func (d *httpDirectory) Deregister(ctx context.Context, agentID string) error {
	return d.do(ctx, http.MethodDelete, "/api/registry/agents/"+agentID, nil, nil)
}

// consulDirectory registers agents as Consul services and discovers peers
// from the catalog. Profiles ride in the service meta as JSON.
type consulDirectory struct {
	client  *consul.Client
	service string
}

// NewConsulDirectory creates a CentralDirectory backed by a Consul catalog.
// serviceName groups all fabric agents under one Consul service name.
func NewConsulDirectory(addr, serviceName string) (CentralDirectory, error) {
	cfg := consul.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consul.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to consul: %w", err)
	}
	if serviceName == "" {
		serviceName = "fabric-agent"
	}
	return &consulDirectory{client: client, service: serviceName}, nil
}

func (d *consulDirectory) Register(ctx context.Context, p *profile.AgentProfile) error {
	encoded, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	tags := make([]string, 0, len(p.Capabilities))
	for _, c := range p.Capabilities {
		tags = append(tags, c.Name)
	}
	reg := &consul.AgentServiceRegistration{
		ID:   p.AgentID,
		Name: d.service,
		Tags: tags,
		Meta: map[string]string{
			"profile":   string(encoded),
			"agentType": p.AgentType,
		},
	}
	return d.client.Agent().ServiceRegisterOpts(reg, consul.ServiceRegisterOpts{}.WithContext(ctx))
}

func (d *consulDirectory) Discover(ctx context.Context) ([]*profile.AgentProfile, error) {
	opts := (&consul.QueryOptions{}).WithContext(ctx)
	entries, _, err := d.client.Health().Service(d.service, "", false, opts)
	if err != nil {
		return nil, err
	}
	var out []*profile.AgentProfile
	for _, entry := range entries {
		raw, ok := entry.Service.Meta["profile"]
		if !ok {
			continue
		}
		var p profile.AgentProfile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

func (d *consulDirectory) UpdateStatus(ctx context.Context, agentID string, status profile.Status) error {
	// Consul tracks liveness through its own checks; a status refresh is a
	// re-registration with the current profile.
	opts := (&consul.QueryOptions{}).WithContext(ctx)
	entries, _, err := d.client.Health().Service(d.service, "", false, opts)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Service.ID != agentID {
			continue
		}
		raw := entry.Service.Meta["profile"]
		var p profile.AgentProfile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return fmt.Errorf("decoding stored profile: %w", err)
		}
		p.Status = status
		p.LastSeen = time.Now()
		return d.Register(ctx, &p)
	}
	return fmt.Errorf("agent %s not registered in consul", agentID)
}

func (d *consulDirectory) Deregister(ctx context.Context, agentID string) error {
	return d.client.Agent().ServiceDeregisterOpts(agentID, (&consul.QueryOptions{}).WithContext(ctx))
}
