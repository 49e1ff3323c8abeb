package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/nana77mi/lonelycat/pkg/runqueue"
	"github.com/nana77mi/lonelycat/pkg/webadapter"
)

// webSearchInput is the run Input payload for a "web_search" run.
type webSearchInput struct {
	Query string `json:"query"`
}

// WebSearchHandler runs web_search runs (spec.md §4.14's run type whitelist)
// through a webadapter.Adapter. The adapter itself is backend-agnostic
// (spec.md §4.15); Backend and QueryURL bind it to one concrete search
// endpoint.
type WebSearchHandler struct {
	Backend  *webadapter.Adapter
	QueryURL func(query string) string
}

var _ runqueue.RunHandler = (*WebSearchHandler)(nil)

func (h *WebSearchHandler) Handle(ctx context.Context, run *runqueue.Run) (json.RawMessage, error) {
	if h.Backend == nil {
		return nil, fmt.Errorf("web search backend not configured")
	}
	var in webSearchInput
	if err := json.Unmarshal(run.Input, &in); err != nil {
		return nil, fmt.Errorf("decoding web_search input: %w", err)
	}
	if in.Query == "" {
		return nil, fmt.Errorf("web_search input requires a query")
	}

	buildURL := h.QueryURL
	if buildURL == nil {
		buildURL = func(query string) string { return query }
	}

	results, err := h.Backend.Search(ctx, in.Query, buildURL)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"results": results})
}

// webFetchInput is the run Input payload for a "web_fetch" run: a single
// URL to retrieve and parse with the same generic result extraction the
// search path uses, rather than returning the raw fetched body.
type webFetchInput struct {
	URL string `json:"url"`
}

// WebFetchHandler retrieves one page through the same Adapter plumbing as
// search (cooldown/captcha handling applies equally to a direct fetch) and
// returns whatever the configured Parser extracts from it.
type WebFetchHandler struct {
	Backend *webadapter.Adapter
}

var _ runqueue.RunHandler = (*WebFetchHandler)(nil)

func (h *WebFetchHandler) Handle(ctx context.Context, run *runqueue.Run) (json.RawMessage, error) {
	if h.Backend == nil {
		return nil, fmt.Errorf("web fetch backend not configured")
	}
	var in webFetchInput
	if err := json.Unmarshal(run.Input, &in); err != nil {
		return nil, fmt.Errorf("decoding web_fetch input: %w", err)
	}
	if _, err := url.ParseRequestURI(in.URL); err != nil {
		return nil, fmt.Errorf("web_fetch input requires a valid url: %w", err)
	}

	results, err := h.Backend.Search(ctx, in.URL, func(string) string { return in.URL })
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"results": results})
}
