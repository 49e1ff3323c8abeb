package catalog

import (
	"encoding/json"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// mcpServerNamePattern mirrors MCP_SERVER_NAME_PATTERN from catalog.py:
// server names become part of provider ids.
var mcpServerNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

const mcpServersJSONRawTruncate = 200

// ParseMCPServersJSON permissively parses MCP_SERVERS_JSON (spec.md §4.16):
// unset/blank returns nil with no warning; invalid JSON or a non-array root
// logs a warning and returns nil; each entry needs a name matching
// ^[a-z0-9_]+$ and a non-empty cmd (list or string) or is skipped with a
// warning; duplicate names keep the first occurrence and warn.
func ParseMCPServersJSON(raw string) []MCPServerSpec {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		slog.Warn("MCP_SERVERS_JSON invalid JSON, ignoring", "raw", truncateForLog(raw), "error", err)
		return nil
	}
	items, ok := data.([]any)
	if !ok {
		slog.Warn("MCP_SERVERS_JSON root is not a list, ignoring")
		return nil
	}

	var out []MCPServerSpec
	seen := map[string]bool{}
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		spec, ok := parseMCPServerEntry(item, seen)
		if !ok {
			continue
		}
		seen[spec.Name] = true
		out = append(out, spec)
	}
	return out
}

func parseMCPServerEntry(item map[string]any, seen map[string]bool) (MCPServerSpec, bool) {
	nameAny, _ := item["name"].(string)
	name := strings.TrimSpace(nameAny)
	if name == "" {
		return MCPServerSpec{}, false
	}
	if !mcpServerNamePattern.MatchString(name) {
		slog.Warn("MCP_SERVERS_JSON server name invalid, skipping", "name", name)
		return MCPServerSpec{}, false
	}
	if seen[name] {
		slog.Warn("MCP_SERVERS_JSON duplicate server name, skipping", "name", name)
		return MCPServerSpec{}, false
	}

	cmd, ok := parseMCPCmd(item["cmd"])
	if !ok || len(cmd) == 0 {
		slog.Warn("MCP_SERVERS_JSON server has no usable cmd, skipping", "name", name)
		return MCPServerSpec{}, false
	}

	spec := MCPServerSpec{Name: name, Cmd: cmd}
	if cwd, ok := item["cwd"].(string); ok {
		spec.Cwd = cwd
	}
	if envAny, ok := item["env"].(map[string]any); ok {
		env := make(map[string]string, len(envAny))
		for k, v := range envAny {
			env[k] = stringify(v)
		}
		spec.Env = env
	}
	return spec, true
}

func parseMCPCmd(v any) ([]string, bool) {
	switch c := v.(type) {
	case []any:
		out := make([]string, 0, len(c))
		for _, item := range c {
			if item == nil {
				continue
			}
			out = append(out, stringify(item))
		}
		return out, true
	case string:
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, true
		}
		return []string{c}, true
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func truncateForLog(s string) string {
	if len(s) <= mcpServersJSONRawTruncate {
		return s
	}
	return s[:mcpServersJSONRawTruncate] + "…"
}

// MCPServerFromLegacyEnv builds a single MCPServerSpec from the legacy
// MCP_SERVER_CMD / MCP_SERVER_ARGS(_JSON) / MCP_SERVER_NAME / MCP_SERVER_CWD
// env vars, used only when MCP_SERVERS_JSON is unset (spec.md §4.16).
func MCPServerFromLegacyEnv() (MCPServerSpec, bool) {
	cmdStr := strings.TrimSpace(os.Getenv("MCP_SERVER_CMD"))
	if cmdStr == "" {
		return MCPServerSpec{}, false
	}

	args := []string{}
	if argsJSON := os.Getenv("MCP_SERVER_ARGS_JSON"); argsJSON != "" {
		var parsed []string
		if err := json.Unmarshal([]byte(argsJSON), &parsed); err == nil {
			args = parsed
		}
	} else if argsStr := strings.TrimSpace(os.Getenv("MCP_SERVER_ARGS")); argsStr != "" {
		args = strings.Fields(argsStr)
	}

	name := strings.TrimSpace(os.Getenv("MCP_SERVER_NAME"))
	if name == "" {
		name = "srv"
	}

	return MCPServerSpec{
		Name: name,
		Cmd:  append([]string{cmdStr}, args...),
		Cwd:  os.Getenv("MCP_SERVER_CWD"),
	}, true
}

// TimeoutMSFromEnv reads an integer millisecond timeout from key, clamped to
// a safe minimum of 1000ms (spec.md §4.16), falling back to fallback when
// unset or unparsable.
func TimeoutMSFromEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return max(1000, fallback)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return max(1000, fallback)
	}
	return max(1000, v)
}
