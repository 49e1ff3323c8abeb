package catalog

import "sync"

// DefaultPreferredOrder mirrors catalog.py's ToolCatalog.DEFAULT_PREFERRED_ORDER.
var DefaultPreferredOrder = []string{"builtin", "stub"}

// Catalog aggregates tools from multiple providers and resolves name
// collisions by a configurable provider order (spec.md §4.16).
type Catalog struct {
	mu             sync.RWMutex
	providers      map[string]ToolProvider
	preferredOrder []string
}

// NewCatalog builds a Catalog. A nil or empty order falls back to
// DefaultPreferredOrder.
func NewCatalog(preferredOrder []string) *Catalog {
	order := DefaultPreferredOrder
	if len(preferredOrder) > 0 {
		order = append([]string{}, preferredOrder...)
	}
	return &Catalog{
		providers:      map[string]ToolProvider{},
		preferredOrder: order,
	}
}

// RegisterProvider adds or replaces a provider under providerID.
func (c *Catalog) RegisterProvider(providerID string, provider ToolProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[providerID] = provider
}

// SetPreferredProviderOrder configures the resolution order used by Get and
// ListTools; earlier entries win name collisions.
func (c *Catalog) SetPreferredProviderOrder(order []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preferredOrder = append([]string{}, order...)
}

// Provider returns the provider registered under providerID, if any.
func (c *Catalog) Provider(providerID string) (ToolProvider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[providerID]
	return p, ok
}

// Get resolves name by walking the preferred provider order and returning
// the first match.
func (c *Catalog) Get(name string) (ToolMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, pid := range c.preferredOrder {
		provider, ok := c.providers[pid]
		if !ok {
			continue
		}
		for _, meta := range provider.ListTools() {
			if meta.Name == name {
				return meta, true
			}
		}
	}
	return ToolMeta{}, false
}

// ListTools aggregates every provider's tools, deduplicated by name under
// the preferred order (first writer wins).
func (c *Catalog) ListTools() []ToolMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := map[string]bool{}
	var out []ToolMeta
	for _, pid := range c.preferredOrder {
		provider, ok := c.providers[pid]
		if !ok {
			continue
		}
		for _, meta := range provider.ListTools() {
			if seen[meta.Name] {
				continue
			}
			seen[meta.Name] = true
			out = append(out, meta)
		}
	}
	return out
}

// CloseProviders shuts down every provider implementing Closer (e.g. MCP
// subprocess providers), tolerating individual failures so one misbehaving
// provider can't block worker shutdown.
func (c *Catalog) CloseProviders() {
	c.mu.RLock()
	providers := make([]ToolProvider, 0, len(c.providers))
	for _, p := range c.providers {
		providers = append(providers, p)
	}
	c.mu.RUnlock()

	for _, p := range providers {
		if closer, ok := p.(Closer); ok {
			_ = closer.Close()
		}
	}
}
