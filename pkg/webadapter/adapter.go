package webadapter

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Config holds one backend's fixed settings (spec.md §4.15).
type Config struct {
	BackendID        string
	SearchURL        string
	HomeURL          string
	UserAgent        string
	ProxyURL         string
	CooldownMinutes  int
	WarmUpEnabled    bool
	WarmUpTTLSeconds int
}

// Adapter implements the cooldown/captcha/warm-up state machine shared by
// every HTML-scraping web backend (spec.md §4.15). Concrete backends supply
// a Parser and a query-to-URL builder; the adapter owns the HTTP
// orchestration.
type Adapter struct {
	cfg    Config
	parser Parser
	client *http.Client
	now    func() time.Time

	mu          sync.Mutex
	cooldownFor map[string]time.Time
	lastWarmUp  map[string]time.Time
}

// NewAdapter builds an Adapter. client may be nil to use http.DefaultClient.
func NewAdapter(cfg Config, parser Parser, client *http.Client) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{
		cfg:         cfg,
		parser:      parser,
		client:      client,
		now:         time.Now,
		cooldownFor: map[string]time.Time{},
		lastWarmUp:  map[string]time.Time{},
	}
}

// Search issues one search request, applying cooldown/warm-up/captcha
// handling before returning parsed results (spec.md §4.15).
func (a *Adapter) Search(ctx context.Context, query string, buildURL func(query string) string) ([]SearchResult, error) {
	key := cooldownKey(a.cfg.ProxyURL != "", a.cfg.ProxyURL, a.cfg.UserAgent)

	if err := a.checkCooldown(key); err != nil {
		return nil, err
	}

	didWarm, err := a.maybeWarmUp(ctx, key)
	if err != nil {
		return nil, err
	}

	reqURL := buildURL(query)
	body, statusCode, location, err := a.doRequest(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	if statusCode == http.StatusForbidden {
		return nil, &BlockedError{Message: "HTTP 403", DetailCode: DetailHTTP403}
	}
	if statusCode == http.StatusTooManyRequests {
		return nil, &BlockedError{Message: "HTTP 429", DetailCode: DetailHTTP429}
	}

	if statusCode == http.StatusFound {
		redirectTarget := location
		if redirectTarget == "" {
			redirectTarget = firstHrefFromBody(body)
		}
		if isCaptchaRedirect(redirectTarget) || looksLikeCaptchaBody(body) {
			a.setCooldown(key)
			return nil, &BlockedError{
				Message:    "redirected to a verification page",
				DetailCode: DetailCaptchaRequired,
				SerpMeta:   a.serpMeta(query, statusCode, redirectTarget, didWarm),
			}
		}
	}

	outcome := a.parser.Parse(body)
	if outcome.CaptchaDetected {
		a.setCooldown(key)
		return nil, &BlockedError{
			Message:    "page indicates captcha or security check",
			DetailCode: DetailCaptchaRequired,
			SerpMeta:   a.serpMeta(query, statusCode, "", didWarm),
		}
	}
	if outcome.ParseFailed {
		return nil, &ParseError{
			Message:    "backend response could not be parsed",
			DetailCode: DetailUnknownStruct,
			SerpHTML:   body,
			SerpMeta:   a.serpMeta(query, statusCode, "", didWarm),
		}
	}
	if len(outcome.Items) > 0 {
		return outcome.Items, nil
	}

	// Zero items and no explicit classification: distinguish a genuine
	// empty-results page from a DOM the parser doesn't recognize.
	if a.parser.DetectNoResults(body) {
		return nil, nil
	}
	if a.parser.DetectPossibleResultsStructure(body) {
		return nil, &ParseError{
			Message:    "results page structure did not match the parser (possible layout change)",
			DetailCode: DetailDOMMismatch,
			SerpHTML:   body,
			SerpMeta:   a.serpMeta(query, statusCode, "", didWarm),
		}
	}
	return nil, &ParseError{
		Message:    "results page structure could not be classified",
		DetailCode: DetailUnknownStruct,
		SerpHTML:   body,
		SerpMeta:   a.serpMeta(query, statusCode, "", didWarm),
	}
}

func (a *Adapter) checkCooldown(key string) error {
	a.mu.Lock()
	until, ok := a.cooldownFor[key]
	a.mu.Unlock()
	if !ok || a.cfg.CooldownMinutes <= 0 {
		return nil
	}
	now := a.now()
	if !until.After(now) {
		return nil
	}
	remaining := int(until.Sub(now).Round(time.Second).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return &BlockedError{
		Message:    "in cooldown after a recent captcha, try again later or switch backends",
		DetailCode: DetailCaptchaCooldown,
		SerpMeta: map[string]any{
			"cooldown_until":         until,
			"cooldown_remaining_sec": remaining,
		},
	}
}

func (a *Adapter) setCooldown(key string) {
	if a.cfg.CooldownMinutes <= 0 {
		return
	}
	a.mu.Lock()
	a.cooldownFor[key] = a.now().Add(time.Duration(a.cfg.CooldownMinutes) * time.Minute)
	a.mu.Unlock()
}

// maybeWarmUp issues one no-redirect request to the backend's home page if
// warm-up is enabled and either never done or past its TTL (spec.md §4.15).
// A captcha redirect during warm-up short-circuits the search.
func (a *Adapter) maybeWarmUp(ctx context.Context, key string) (bool, error) {
	if !a.cfg.WarmUpEnabled || a.cfg.WarmUpTTLSeconds <= 0 || a.cfg.HomeURL == "" {
		return false, nil
	}

	a.mu.Lock()
	last, ok := a.lastWarmUp[key]
	a.mu.Unlock()
	if ok && a.now().Sub(last) <= time.Duration(a.cfg.WarmUpTTLSeconds)*time.Second {
		return false, nil
	}

	body, _, location, err := a.doRequest(ctx, a.cfg.HomeURL)
	if err != nil {
		return false, err
	}
	target := location
	if target == "" {
		target = firstHrefFromBody(body)
	}
	if isCaptchaRedirect(target) || looksLikeCaptchaBody(body) {
		a.setCooldown(key)
		return false, &BlockedError{
			Message:    "warm-up request was redirected to a verification page",
			DetailCode: DetailCaptchaRequired,
			SerpMeta:   map[string]any{"warm_up_attempted": true, "warm_up_result": "captcha_redirect"},
		}
	}

	a.mu.Lock()
	a.lastWarmUp[key] = a.now()
	a.mu.Unlock()
	return true, nil
}

func (a *Adapter) doRequest(ctx context.Context, target string) (body string, statusCode int, location string, err error) {
	req, buildErr := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if buildErr != nil {
		return "", 0, "", buildErr
	}
	if a.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", a.cfg.UserAgent)
	}

	noRedirectClient := *a.client
	noRedirectClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, reqErr := noRedirectClient.Do(req)
	if reqErr != nil {
		var netErr net.Error
		if errors.As(reqErr, &netErr) && netErr.Timeout() {
			return "", 0, "", &TimeoutError{Cause: reqErr}
		}
		return "", 0, "", &NetworkError{Cause: reqErr}
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "", 0, "", &NetworkError{Cause: readErr}
	}
	return string(data), resp.StatusCode, resp.Header.Get("Location"), nil
}

func (a *Adapter) serpMeta(query string, statusCode int, redirectLocation string, warmUpUsed bool) map[string]any {
	meta := map[string]any{
		"query":         query,
		"backend":       a.cfg.BackendID,
		"status_code":   statusCode,
		"proxy_enabled": a.cfg.ProxyURL != "",
		"warm_up_used":  warmUpUsed,
	}
	if redirectLocation != "" {
		meta["redirect_location"] = truncate(redirectLocation, 2048)
	}
	return meta
}

var hrefPattern = regexp.MustCompile(`(?is)<a\s+[^>]*href=["']([^"']+)["']`)

func firstHrefFromBody(body string) string {
	m := hrefPattern.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return truncate(m[1], 2048)
}

func isCaptchaRedirect(location string) bool {
	if location == "" {
		return false
	}
	l := strings.ToLower(location)
	return strings.Contains(l, "captcha") || strings.Contains(l, "wappass") || strings.Contains(l, "verify")
}

func looksLikeCaptchaBody(body string) bool {
	l := strings.ToLower(body)
	for _, kw := range []string{"captcha", "wappass", "verify you are human", "security check"} {
		if strings.Contains(l, kw) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
