package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/agentfabric/fabric/pkg/a2a"
	"github.com/agentfabric/fabric/pkg/config"
	"github.com/agentfabric/fabric/pkg/discovery"
	"github.com/agentfabric/fabric/pkg/eventbus"
	"github.com/agentfabric/fabric/pkg/logger"
	"github.com/agentfabric/fabric/pkg/observability"
	"github.com/agentfabric/fabric/pkg/profile"
	"github.com/agentfabric/fabric/pkg/registry"
	"github.com/agentfabric/fabric/pkg/router"
	"github.com/agentfabric/fabric/pkg/server"
	"github.com/agentfabric/fabric/pkg/task"
	"github.com/agentfabric/fabric/pkg/version"
)

// ServeCmd starts the fabric server.
type ServeCmd struct {
	Host string `help:"Bind host (overrides config)."`
	Port int    `help:"Bind port (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	loader := config.NewLoader()
	cfg, err := loadOrDefault(loader, cli.Config)
	if err != nil {
		return err
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	logger.Init(logger.ParseLevel(cfg.Logging.Level), os.Stderr, cfg.Logging.Format)
	log := logger.Component("serve")
	log.Info("starting fabric", "version", version.Version)

	bus := eventbus.New()
	promReg := prometheus.NewRegistry()
	metrics := observability.New(promReg)

	reg := registry.New(bus, registry.Config{
		CleanupInterval: cfg.Registry.CleanupInterval,
		OfflineCutoff:   cfg.Registry.OfflineCutoff,
	}, registry.WithLogger(logger.Component("registry")), registry.WithMetrics(metrics))
	reg.Start()
	defer reg.Stop()

	rt := router.New(reg, bus, cfg.RouterConfig(),
		router.WithLogger(logger.Component("router")), router.WithMetrics(metrics))
	rt.Start()
	defer rt.Shutdown()

	tasks := task.NewManager(
		task.WithLogger(logger.Component("task")), task.WithMetrics(metrics))

	disc, err := buildDiscovery(cfg, bus)
	if err != nil {
		return err
	}
	defer disc.Shutdown()
	stopWire := discovery.WireRegistry(bus, reg)
	defer stopWire()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	disc.Initialize(ctx)

	local := localProfile(cfg)
	if local != nil {
		disc.SetLocalProfile(local)
		// Lazy mode stays off the network until discovery is requested.
		if discovery.Mode(cfg.Discovery.Mode) != discovery.ModeLazy {
			if err := disc.RegisterWithCentral(ctx, local); err != nil {
				log.Warn("central registration failed, continuing", "error", err)
			}
		}
	}

	card := agentCard(cfg)
	srv := server.New(server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, rt, tasks, card,
		server.WithLogger(logger.Component("server")),
		server.WithMetricsGatherer(promReg),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	log.Info("fabric stopped")
	return nil
}

// loadOrDefault reads the config file, or falls back to defaults when the
// default path does not exist.
func loadOrDefault(loader *config.Loader, path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := &config.Config{}
		cfg.SetDefaults()
		return cfg, nil
	}
	return loader.Load(path)
}

func buildDiscovery(cfg *config.Config, bus *eventbus.Bus) (*discovery.Manager, error) {
	mode := discovery.Mode(cfg.Discovery.Mode)
	var opts []discovery.Option
	opts = append(opts, discovery.WithLogger(logger.Component("discovery")))

	wantCentral := mode == discovery.ModeCentral || mode == discovery.ModeHybrid ||
		(mode == discovery.ModeLazy && cfg.Discovery.Central.URL != "")
	if wantCentral {
		switch cfg.Discovery.Central.Backend {
		case "consul":
			central, err := discovery.NewConsulDirectory(cfg.Discovery.Central.URL, cfg.Discovery.Central.Service)
			if err != nil {
				return nil, fmt.Errorf("consul backend: %w", err)
			}
			opts = append(opts, discovery.WithCentral(central))
		default:
			opts = append(opts, discovery.WithCentral(
				discovery.NewHTTPDirectory(cfg.Discovery.Central.URL, nil)))
		}
	}
	if mode == discovery.ModeP2P || mode == discovery.ModeHybrid {
		announcer, err := discovery.NewNATSAnnouncer(cfg.Discovery.NATS.URL)
		if err != nil {
			// P2P follows the same graceful degradation as central.
			logger.Component("discovery").Warn("nats unavailable, p2p disabled", "error", err)
		} else {
			opts = append(opts, discovery.WithAnnouncer(announcer))
		}
	}

	return discovery.New(bus, discovery.Config{
		Mode:              mode,
		HeartbeatInterval: cfg.Discovery.HeartbeatInterval,
	}, opts...), nil
}

// localProfile derives this node's own registry profile, when configured.
func localProfile(cfg *config.Config) *profile.AgentProfile {
	if cfg.Agent.ID == "" {
		return nil
	}
	return &profile.AgentProfile{
		AgentID:   cfg.Agent.ID,
		AgentType: cfg.Agent.Type,
		Status:    profile.StatusOnline,
		Capabilities: []profile.Capability{{
			Name:        "fabric-routing",
			Description: "Routes messages between fabric agents",
			Category:    profile.CategoryCoordination,
			Reliability: 1,
		}},
		Metadata: profile.Metadata{
			Version:  version.Version,
			Endpoint: cfg.Agent.Endpoint,
		},
	}
}

func agentCard(cfg *config.Config) *a2a.AgentCard {
	name := cfg.Agent.ID
	if name == "" {
		name = "fabric"
	}
	return &a2a.AgentCard{
		ProtocolVersion:    a2a.ProtocolVersion,
		Name:               name,
		Description:        "Agent-to-agent communication fabric",
		URL:                cfg.Agent.Endpoint,
		Version:            version.Version,
		PreferredTransport: "json-rpc",
		SystemFeatures:     &a2a.SystemFeatures{Streaming: true, PushNotifications: true},
	}
}
