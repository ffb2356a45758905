// Command fabric runs the agent communication fabric.
//
// Usage:
//
//	fabric serve --config fabric.yaml
//	fabric validate --config fabric.yaml
//	fabric schema
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/agentfabric/fabric/pkg/logger"
	"github.com/agentfabric/fabric/pkg/version"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the fabric server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the JSON Schema for the configuration."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"fabric.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFormat string `help:"Log format (text or json)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("fabric %s (%s, %s)\n", version.Version, version.Commit, version.Date)
	return nil
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("fabric"),
		kong.Description("Agent-to-agent communication fabric."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(cli); err != nil {
		logger.Get().Error("command failed", "error", err)
		os.Exit(1)
	}
}
