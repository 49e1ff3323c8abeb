package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nana77mi/lonelycat/pkg/runqueue"
	"github.com/nana77mi/lonelycat/pkg/webadapter"
)

func TestWebSearchHandler_NoBackendConfigured(t *testing.T) {
	h := &WebSearchHandler{}
	input, err := json.Marshal(webSearchInput{Query: "go modules"})
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), &runqueue.Run{ID: "run-1", Type: "web_search", Input: input})
	assert.ErrorContains(t, err, "web search backend not configured")
}

func TestWebSearchHandler_ReturnsParsedResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<a href="https://example.com/a">First result</a>
			<a href="https://example.com/b">Second result</a>
		</body></html>`))
	}))
	defer srv.Close()

	backend := webadapter.NewAdapter(webadapter.Config{BackendID: "test"}, webadapter.NewGenericParser(), srv.Client())
	h := &WebSearchHandler{Backend: backend, QueryURL: func(string) string { return srv.URL }}

	input, err := json.Marshal(webSearchInput{Query: "go modules"})
	require.NoError(t, err)

	out, err := h.Handle(context.Background(), &runqueue.Run{ID: "run-1", Type: "web_search", Input: input})
	require.NoError(t, err)

	var result struct {
		Results []webadapter.SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(out, &result))
	require.Len(t, result.Results, 2)
	assert.Equal(t, "First result", result.Results[0].Title)
}

func TestWebFetchHandler_RejectsInvalidURL(t *testing.T) {
	h := &WebFetchHandler{Backend: webadapter.NewAdapter(webadapter.Config{}, webadapter.NewGenericParser(), nil)}
	input, err := json.Marshal(webFetchInput{URL: "not-a-url"})
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), &runqueue.Run{ID: "run-1", Type: "web_fetch", Input: input})
	assert.ErrorContains(t, err, "requires a valid url")
}
