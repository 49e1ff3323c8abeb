package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServerSpec is one parsed entry from MCP_SERVERS_JSON or the legacy
// MCP_SERVER_CMD/MCP_SERVER_ARGS(_JSON) env pair (spec.md §4.16).
type MCPServerSpec struct {
	Name string
	Cmd  []string
	Cwd  string
	Env  map[string]string
}

// MCPProvider connects to a single stdio MCP server and exposes its tools
// under the tools' own (unprefixed) names, with provider_id "mcp_<name>"
// (spec.md §4.16). Grounded on the teacher's pkg/mcp/transport.go createStdioTransport
// + pkg/mcp/client.go session/ListTools idiom, reimplemented directly over
// the SDK here since pkg/mcp.Client is wired to the teacher's YAML
// MCPServerRegistry rather than the MCP_SERVERS_JSON shape this spec uses.
type MCPProvider struct {
	serverName string
	providerID string
	spec       MCPServerSpec

	session *mcpsdk.ClientSession
}

// NewMCPProvider connects to the server described by spec and returns a
// provider ready to list its tools. The caller owns the returned provider's
// lifecycle and must call Close when done.
func NewMCPProvider(ctx context.Context, spec MCPServerSpec) (*MCPProvider, error) {
	if len(spec.Cmd) == 0 {
		return nil, fmt.Errorf("mcp provider %q: empty cmd", spec.Name)
	}

	cmd := exec.Command(spec.Cmd[0], spec.Cmd[1:]...)
	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}
	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	transport := &mcpsdk.CommandTransport{Command: cmd}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "lonelycat", Version: "dev"}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server %q: %w", spec.Name, err)
	}

	return &MCPProvider{
		serverName: spec.Name,
		providerID: "mcp_" + spec.Name,
		spec:       spec,
		session:    session,
	}, nil
}

func (p *MCPProvider) ListTools() []ToolMeta {
	result, err := p.session.ListTools(context.Background(), nil)
	if err != nil {
		return nil
	}
	out := make([]ToolMeta, 0, len(result.Tools))
	for _, t := range result.Tools {
		out = append(out, ToolMeta{
			Name:            t.Name,
			InputSchema:     schemaToMap(t.InputSchema),
			RiskLevel:       RiskWrite,
			CapabilityLevel: CapabilityL2,
			ProviderID:      p.providerID,
			TimeoutMS:       30_000,
		})
	}
	return out
}

func (p *MCPProvider) Close() error {
	return p.session.Close()
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
