package catalog

import (
	"context"
	"log/slog"
	"os"
)

// NewDefaultCatalog builds the catalog wired the way a running worker would:
// builtin + stub always present, plus MCP providers discovered from
// MCP_SERVERS_JSON (preferred) or the legacy single-server env vars,
// mirroring catalog.py's _default_catalog_factory. MCP connection failures
// are logged and skipped rather than aborting catalog construction, since a
// partially-available tool set is better than none.
func NewDefaultCatalog(ctx context.Context) *Catalog {
	c := NewCatalog([]string{"builtin", "stub"})
	c.RegisterProvider("builtin", NewBuiltinProvider())
	c.RegisterProvider("stub", NewStubProvider())

	specs := ParseMCPServersJSON(os.Getenv("MCP_SERVERS_JSON"))
	if specs == nil {
		if spec, ok := MCPServerFromLegacyEnv(); ok {
			specs = []MCPServerSpec{spec}
		}
	}

	var mcpIDs []string
	for _, spec := range specs {
		provider, err := NewMCPProvider(ctx, spec)
		if err != nil {
			slog.Warn("mcp server failed to connect, skipping", "server", spec.Name, "error", err)
			continue
		}
		c.RegisterProvider(provider.providerID, provider)
		mcpIDs = append(mcpIDs, provider.providerID)
	}

	if len(mcpIDs) > 0 {
		c.SetPreferredProviderOrder(append(append([]string{"builtin"}, mcpIDs...), "stub"))
	}
	return c
}
