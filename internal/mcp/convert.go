package mcp

import (
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voxlabs/voxd/internal/provider"
)

// ToToolSpec converts an MCP tool to a provider.ToolSpec with a namespaced
// name. The remote's JSON Schema (a map[string]any from the handshake) is
// carried through verbatim as RawSchema so nothing is lost in translation.
func ToToolSpec(serverName string, tool *mcpsdk.Tool) provider.ToolSpec {
	spec := provider.ToolSpec{
		Name:        NamespacedName(serverName, tool.Name),
		Description: tool.Description,
	}
	if schema, ok := tool.InputSchema.(map[string]any); ok {
		spec.RawSchema = schema
	}
	return spec
}
