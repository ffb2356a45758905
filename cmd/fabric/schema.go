package main

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/agentfabric/fabric/pkg/config"
)

// SchemaCmd prints the JSON Schema for the configuration document.
type SchemaCmd struct {
	Indent bool `help:"Pretty-print the schema." default:"true"`
}

func (c *SchemaCmd) Run() error {
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: false,
	}
	schema := reflector.Reflect(&config.Config{})
	schema.Title = "Fabric Configuration"
	schema.Description = "Configuration schema for the agent communication fabric."

	var out []byte
	var err error
	if c.Indent {
		out, err = json.MarshalIndent(schema, "", "  ")
	} else {
		out, err = json.Marshal(schema)
	}
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
