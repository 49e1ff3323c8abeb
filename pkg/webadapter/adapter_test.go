package webadapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeParser struct {
	outcome            ParseOutcome
	noResults          bool
	possibleStructure  bool
}

func (p *fakeParser) Parse(string) ParseOutcome              { return p.outcome }
func (p *fakeParser) DetectNoResults(string) bool            { return p.noResults }
func (p *fakeParser) DetectPossibleResultsStructure(string) bool { return p.possibleStructure }

// fakeTransport serves canned responses keyed by request path suffix and
// counts how many requests it actually saw, so tests can assert an active
// cooldown suppressed HTTP entirely.
type fakeTransport struct {
	calls     int32
	responses map[string]*http.Response
	err       error
}

func (t *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddInt32(&t.calls, 1)
	if t.err != nil {
		return nil, t.err
	}
	for suffix, resp := range t.responses {
		if strings.HasSuffix(req.URL.String(), suffix) {
			resp.Request = req
			return resp, nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     http.Header{},
	}, nil
}

func textResponse(status int, body string, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: h}
}

func newTestAdapter(cfg Config, parser Parser, transport *fakeTransport) *Adapter {
	a := NewAdapter(cfg, parser, &http.Client{Transport: transport})
	return a
}

func buildURL(q string) string { return "https://example.invalid/search?q=" + q }

func TestSearch_ReturnsItems(t *testing.T) {
	parser := &fakeParser{outcome: ParseOutcome{Items: []SearchResult{{Title: "a", URL: "u"}}}}
	transport := &fakeTransport{responses: map[string]*http.Response{
		"/search?q=q": textResponse(http.StatusOK, "<html>ok</html>", nil),
	}}
	a := newTestAdapter(Config{BackendID: "test"}, parser, transport)

	results, err := a.Search(context.Background(), "q", buildURL)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearch_CooldownActive_NoHTTPIssued(t *testing.T) {
	parser := &fakeParser{}
	transport := &fakeTransport{responses: map[string]*http.Response{}}
	a := newTestAdapter(Config{BackendID: "test", CooldownMinutes: 10}, parser, transport)

	fixedNow := time.Now()
	a.now = func() time.Time { return fixedNow }
	key := cooldownKey(false, "", "")
	a.cooldownFor[key] = fixedNow.Add(5 * time.Minute)

	results, err := a.Search(context.Background(), "q", buildURL)
	assert.Nil(t, results)
	require.Error(t, err)
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, DetailCaptchaCooldown, blocked.DetailCode)
	assert.Equal(t, int32(0), transport.calls)
}

func TestSearch_WarmUpCaptchaShortCircuits(t *testing.T) {
	parser := &fakeParser{outcome: ParseOutcome{Items: []SearchResult{{Title: "a"}}}}
	transport := &fakeTransport{responses: map[string]*http.Response{
		"/home": textResponse(http.StatusFound, "", map[string]string{"Location": "https://example.invalid/captcha"}),
	}}
	cfg := Config{
		BackendID:        "test",
		HomeURL:          "https://example.invalid/home",
		WarmUpEnabled:    true,
		WarmUpTTLSeconds: 3600,
		CooldownMinutes:  10,
	}
	a := newTestAdapter(cfg, parser, transport)

	results, err := a.Search(context.Background(), "q", buildURL)
	assert.Nil(t, results)
	require.Error(t, err)
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, DetailCaptchaRequired, blocked.DetailCode)
	assert.Equal(t, int32(1), transport.calls, "search request must not be issued after warm-up captcha")

	a.mu.Lock()
	_, cooling := a.cooldownFor[cooldownKey(false, "", "")]
	a.mu.Unlock()
	assert.True(t, cooling)
}

func TestSearch_HTTP403DoesNotSetCooldown(t *testing.T) {
	parser := &fakeParser{}
	transport := &fakeTransport{responses: map[string]*http.Response{
		"/search?q=q": textResponse(http.StatusForbidden, "forbidden", nil),
	}}
	a := newTestAdapter(Config{BackendID: "test", CooldownMinutes: 10}, parser, transport)

	_, err := a.Search(context.Background(), "q", buildURL)
	require.Error(t, err)
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, DetailHTTP403, blocked.DetailCode)

	a.mu.Lock()
	_, cooling := a.cooldownFor[cooldownKey(false, "", "")]
	a.mu.Unlock()
	assert.False(t, cooling, "403 must not trigger cooldown")
}

func TestSearch_HTTP429DoesNotSetCooldown(t *testing.T) {
	parser := &fakeParser{}
	transport := &fakeTransport{responses: map[string]*http.Response{
		"/search?q=q": textResponse(http.StatusTooManyRequests, "slow down", nil),
	}}
	a := newTestAdapter(Config{BackendID: "test", CooldownMinutes: 10}, parser, transport)

	_, err := a.Search(context.Background(), "q", buildURL)
	require.Error(t, err)
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, DetailHTTP429, blocked.DetailCode)

	a.mu.Lock()
	_, cooling := a.cooldownFor[cooldownKey(false, "", "")]
	a.mu.Unlock()
	assert.False(t, cooling, "429 must not trigger cooldown")
}

func TestSearch_302CaptchaRedirectSetsCooldown(t *testing.T) {
	parser := &fakeParser{}
	transport := &fakeTransport{responses: map[string]*http.Response{
		"/search?q=q": textResponse(http.StatusFound, "", map[string]string{"Location": "https://example.invalid/captcha/verify"}),
	}}
	a := newTestAdapter(Config{BackendID: "test", CooldownMinutes: 10}, parser, transport)

	_, err := a.Search(context.Background(), "q", buildURL)
	require.Error(t, err)
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, DetailCaptchaRequired, blocked.DetailCode)

	a.mu.Lock()
	_, cooling := a.cooldownFor[cooldownKey(false, "", "")]
	a.mu.Unlock()
	assert.True(t, cooling)
}

func TestSearch_ParserCaptchaDetectedSetsCooldown(t *testing.T) {
	parser := &fakeParser{outcome: ParseOutcome{CaptchaDetected: true}}
	transport := &fakeTransport{responses: map[string]*http.Response{
		"/search?q=q": textResponse(http.StatusOK, "please verify you are human", nil),
	}}
	a := newTestAdapter(Config{BackendID: "test", CooldownMinutes: 10}, parser, transport)

	_, err := a.Search(context.Background(), "q", buildURL)
	require.Error(t, err)
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, DetailCaptchaRequired, blocked.DetailCode)
}

func TestSearch_ZeroItemsNoResults(t *testing.T) {
	parser := &fakeParser{noResults: true}
	transport := &fakeTransport{responses: map[string]*http.Response{
		"/search?q=q": textResponse(http.StatusOK, "<html>no results found</html>", nil),
	}}
	a := newTestAdapter(Config{BackendID: "test"}, parser, transport)

	results, err := a.Search(context.Background(), "q", buildURL)
	assert.NoError(t, err)
	assert.Nil(t, results)
}

func TestSearch_ZeroItemsDOMMismatch(t *testing.T) {
	parser := &fakeParser{possibleStructure: true}
	transport := &fakeTransport{responses: map[string]*http.Response{
		"/search?q=q": textResponse(http.StatusOK, "<html><div class=result-list></div></html>", nil),
	}}
	a := newTestAdapter(Config{BackendID: "test"}, parser, transport)

	_, err := a.Search(context.Background(), "q", buildURL)
	require.Error(t, err)
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, DetailDOMMismatch, parseErr.DetailCode)
}

func TestSearch_ZeroItemsUnknownStructure(t *testing.T) {
	parser := &fakeParser{}
	transport := &fakeTransport{responses: map[string]*http.Response{
		"/search?q=q": textResponse(http.StatusOK, "<html>???</html>", nil),
	}}
	a := newTestAdapter(Config{BackendID: "test"}, parser, transport)

	_, err := a.Search(context.Background(), "q", buildURL)
	require.Error(t, err)
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, DetailUnknownStruct, parseErr.DetailCode)
}
