package main

import (
	"fmt"

	"github.com/agentfabric/fabric/pkg/config"
)

// ValidateCmd checks a configuration file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Printf("%s is valid (mode=%s, policy=%s, port=%d)\n",
		cli.Config, cfg.Discovery.Mode, cfg.Router.Policy, cfg.Server.Port)
	return nil
}
