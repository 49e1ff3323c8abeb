package catalog

// BuiltinProvider exposes the always-available tools (spec.md §4.16's
// builtin set), mirroring catalog.py's _builtin_tool_meta.
type BuiltinProvider struct{}

func NewBuiltinProvider() *BuiltinProvider { return &BuiltinProvider{} }

func (BuiltinProvider) ListTools() []ToolMeta {
	return []ToolMeta{
		{
			Name: "web.search",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
			RiskLevel:       RiskReadOnly,
			ProviderID:      "builtin",
			CapabilityLevel: CapabilityL0,
			TimeoutMS:       30_000,
		},
		{
			Name: "web.fetch",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"urls": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"urls"},
			},
			RiskLevel:       RiskReadOnly,
			ProviderID:      "builtin",
			CapabilityLevel: CapabilityL0,
			TimeoutMS:       30_000,
		},
		{
			Name: "text.summarize",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text":       map[string]any{"type": "string"},
					"max_length": map[string]any{"type": "integer"},
				},
				"required": []string{"text"},
			},
			RiskLevel:       RiskReadOnly,
			ProviderID:      "builtin",
			CapabilityLevel: CapabilityL0,
			TimeoutMS:       60_000,
		},
	}
}

// StubProvider is the always-present last-resort provider (empty tool set)
// that the preferred order falls back to when no real provider answers.
type StubProvider struct{}

func NewStubProvider() *StubProvider { return &StubProvider{} }

func (StubProvider) ListTools() []ToolMeta { return nil }
