package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMCPServersJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []MCPServerSpec
	}{
		{name: "unset", raw: "", want: nil},
		{name: "blank", raw: "   ", want: nil},
		{name: "invalid json", raw: "{not json", want: nil},
		{name: "non-array root", raw: `{"name":"x"}`, want: nil},
		{
			name: "valid entries",
			raw:  `[{"name":"fs","cmd":["npx","fs-server"]},{"name":"git","cmd":"git-mcp"}]`,
			want: []MCPServerSpec{
				{Name: "fs", Cmd: []string{"npx", "fs-server"}},
				{Name: "git", Cmd: []string{"git-mcp"}},
			},
		},
		{
			name: "invalid name skipped",
			raw:  `[{"name":"Bad-Name","cmd":["x"]},{"name":"ok","cmd":["y"]}]`,
			want: []MCPServerSpec{{Name: "ok", Cmd: []string{"y"}}},
		},
		{
			name: "duplicate name keeps first",
			raw:  `[{"name":"a","cmd":["one"]},{"name":"a","cmd":["two"]}]`,
			want: []MCPServerSpec{{Name: "a", Cmd: []string{"one"}}},
		},
		{
			name: "missing cmd skipped",
			raw:  `[{"name":"nocmd"},{"name":"ok","cmd":["y"]}]`,
			want: []MCPServerSpec{{Name: "ok", Cmd: []string{"y"}}},
		},
		{
			name: "empty string cmd skipped",
			raw:  `[{"name":"empty","cmd":"   "}]`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMCPServersJSON(tt.raw)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].Name, got[i].Name)
				assert.Equal(t, tt.want[i].Cmd, got[i].Cmd)
			}
		})
	}
}

func TestParseMCPServersJSON_CwdAndEnv(t *testing.T) {
	got := ParseMCPServersJSON(`[{"name":"srv","cmd":["x"],"cwd":"/tmp/srv","env":{"FOO":"bar"}}]`)
	require.Len(t, got, 1)
	assert.Equal(t, "/tmp/srv", got[0].Cwd)
	assert.Equal(t, map[string]string{"FOO": "bar"}, got[0].Env)
}

func TestMCPServerFromLegacyEnv(t *testing.T) {
	t.Setenv("MCP_SERVER_CMD", "")
	_, ok := MCPServerFromLegacyEnv()
	assert.False(t, ok)

	t.Setenv("MCP_SERVER_CMD", "my-server")
	t.Setenv("MCP_SERVER_ARGS", "--flag value")
	t.Setenv("MCP_SERVER_NAME", "legacy")
	spec, ok := MCPServerFromLegacyEnv()
	require.True(t, ok)
	assert.Equal(t, "legacy", spec.Name)
	assert.Equal(t, []string{"my-server", "--flag", "value"}, spec.Cmd)
}

func TestTimeoutMSFromEnv(t *testing.T) {
	t.Setenv("LC_TEST_TIMEOUT_MS", "")
	assert.Equal(t, 15000, TimeoutMSFromEnv("LC_TEST_TIMEOUT_MS", 15000))

	t.Setenv("LC_TEST_TIMEOUT_MS", "500")
	assert.Equal(t, 1000, TimeoutMSFromEnv("LC_TEST_TIMEOUT_MS", 15000), "clamped to the 1000ms safe minimum")

	t.Setenv("LC_TEST_TIMEOUT_MS", "5000")
	assert.Equal(t, 5000, TimeoutMSFromEnv("LC_TEST_TIMEOUT_MS", 15000))

	t.Setenv("LC_TEST_TIMEOUT_MS", "not-a-number")
	assert.Equal(t, 15000, TimeoutMSFromEnv("LC_TEST_TIMEOUT_MS", 15000))
}
