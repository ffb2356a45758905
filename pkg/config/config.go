// Package config loads and validates the fabric's YAML configuration, with
// environment expansion and live reload.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/agentfabric/fabric/pkg/discovery"
	"github.com/agentfabric/fabric/pkg/router"
)

// Config is the root configuration document.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Registry  RegistryConfig  `yaml:"registry" json:"registry"`
	Router    RouterConfig    `yaml:"router" json:"router"`
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Agent     AgentConfig     `yaml:"agent" json:"agent"`
}

// LoggingConfig tunes the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text or json
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// RegistryConfig tunes the agent registry.
type RegistryConfig struct {
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanupInterval"`
	OfflineCutoff   time.Duration `yaml:"offline_cutoff" json:"offlineCutoff"`
}

// RouterConfig tunes the message router.
type RouterConfig struct {
	Policy        string        `yaml:"policy" json:"policy"`
	QueueCapacity int           `yaml:"queue_capacity" json:"queueCapacity"`
	MaxRetries    int           `yaml:"max_retries" json:"maxRetries"`
	MaxConcurrent int           `yaml:"max_concurrent_tasks" json:"maxConcurrentTasks"`
	TickInterval  time.Duration `yaml:"tick_interval" json:"tickInterval"`
}

// DiscoveryConfig tunes agent discovery.
type DiscoveryConfig struct {
	Mode              string        `yaml:"mode" json:"mode"` // central, p2p, hybrid, lazy, none
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeatInterval"`
	Central           CentralConfig `yaml:"central" json:"central"`
	NATS              NATSConfig    `yaml:"nats" json:"nats"`
}

// CentralConfig selects and addresses the central directory backend.
type CentralConfig struct {
	Backend string `yaml:"backend" json:"backend"` // http or consul
	URL     string `yaml:"url" json:"url"`
	Service string `yaml:"service" json:"service"` // consul service name
}

// NATSConfig addresses the p2p announcement channel.
type NATSConfig struct {
	URL string `yaml:"url" json:"url"`
}

// AgentConfig describes this node's own agent identity.
type AgentConfig struct {
	ID       string `yaml:"id" json:"id"`
	Type     string `yaml:"type" json:"type"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// SetDefaults fills zero values with working defaults.
func (c *Config) SetDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Router.Policy == "" {
		c.Router.Policy = string(router.PolicyBestMatch)
	}
	if c.Router.QueueCapacity == 0 {
		c.Router.QueueCapacity = 1000
	}
	if c.Router.MaxRetries == 0 {
		c.Router.MaxRetries = 3
	}
	if c.Discovery.Mode == "" {
		c.Discovery.Mode = string(discovery.ModeNone)
	}
	if c.Discovery.Central.Backend == "" {
		c.Discovery.Central.Backend = "http"
	}
	if c.Agent.Type == "" {
		c.Agent.Type = "fabric"
	}
}

// Validate rejects configurations the components would choke on later.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch router.SelectionPolicy(c.Router.Policy) {
	case router.PolicyBestMatch, router.PolicyRoundRobin, router.PolicyLeastLoaded:
	default:
		return fmt.Errorf("router.policy unknown: %q", c.Router.Policy)
	}
	if !discovery.Mode(c.Discovery.Mode).Valid() {
		return fmt.Errorf("discovery.mode unknown: %q", c.Discovery.Mode)
	}
	switch c.Discovery.Central.Backend {
	case "http", "consul":
	default:
		return fmt.Errorf("discovery.central.backend must be http or consul, got %q", c.Discovery.Central.Backend)
	}
	mode := discovery.Mode(c.Discovery.Mode)
	needsCentral := mode == discovery.ModeCentral || mode == discovery.ModeHybrid
	if needsCentral && c.Discovery.Central.URL == "" {
		return fmt.Errorf("discovery.central.url required for mode %q", c.Discovery.Mode)
	}
	return nil
}

// RouterConfig converts the section into the router's own config type.
func (c *Config) RouterConfig() router.Config {
	return router.Config{
		Policy:        router.SelectionPolicy(c.Router.Policy),
		QueueCapacity: c.Router.QueueCapacity,
		MaxRetries:    c.Router.MaxRetries,
		MaxConcurrent: c.Router.MaxConcurrent,
		TickInterval:  c.Router.TickInterval,
	}
}

// LookupFunc resolves an environment variable, mirroring os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Loader reads, expands and parses configuration files.
type Loader struct {
	lookup LookupFunc
}

// NewLoader creates a loader resolving variables from the process
// environment, after loading a .env file when one exists.
func NewLoader() *Loader {
	_ = godotenv.Load()
	return &Loader{lookup: os.LookupEnv}
}

// NewLoaderWithEnv creates a loader with an injected variable source.
func NewLoaderWithEnv(lookup LookupFunc) *Loader {
	return &Loader{lookup: lookup}
}

// Load reads a YAML file, expands ${VAR} and ${VAR:-default} references,
// parses it and applies defaults and validation.
func (l *Loader) Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return l.Parse(raw)
}

// Parse processes raw YAML bytes the same way Load does.
func (l *Loader) Parse(raw []byte) (*Config, error) {
	expanded, err := l.expand(string(raw))
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expand substitutes ${VAR} and ${VAR:-default}. An unset variable without
// a default is an error rather than a silent empty string.
func (l *Loader) expand(s string) (string, error) {
	var missing []string
	out := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		groups := envRef.FindStringSubmatch(ref)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		if v, ok := l.lookup(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		missing = append(missing, name)
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unset environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
