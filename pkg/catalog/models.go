// Package catalog implements the Catalog & Providers component (spec.md
// §4.16): tool metadata, multi-provider resolution by preferred order, and
// permissive MCP_SERVERS_JSON parsing.
//
// Grounded on original_source/apps/agent-worker/worker/tools/catalog.py's
// ToolMeta/ToolCatalog shape and MCP_SERVERS_JSON parsing rules, and on the
// teacher's pkg/mcp/client_factory.go + pkg/config registry-of-named-configs
// idiom for how providers are registered and resolved.
package catalog

// Risk and capability levels a tool can carry (spec.md §4.16).
const (
	RiskReadOnly = "read_only"
	RiskWrite    = "write"

	CapabilityL0 = "L0" // read-only
	CapabilityL1 = "L1" // writes files
	CapabilityL2 = "L2" // executes/network/CLI
)

// ToolMeta is the metadata spec.md §4.16 requires every tool to carry.
type ToolMeta struct {
	Name            string
	InputSchema     map[string]any
	SideEffects     bool
	RiskLevel       string
	CapabilityLevel string
	RequiresConfirm bool
	TimeoutMS       int
	ProviderID      string
}

// ToolProvider lists the tools a single provider exposes.
type ToolProvider interface {
	ListTools() []ToolMeta
}

// Closer is implemented by providers that hold resources (e.g. an MCP
// subprocess) needing explicit shutdown.
type Closer interface {
	Close() error
}
