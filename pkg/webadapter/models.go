// Package webadapter implements the Web Backend Adapters representative
// pattern (spec.md §4.15): per-backend cooldown/fingerprint state, captcha
// detection, warm-up, and response/parse-outcome classification for an
// HTML-scraping search backend.
//
// Grounded directly on
// original_source/apps/agent-worker/worker/tools/web_backends/baidu_html.py
// (cooldown key derivation, proxy redaction, warm-up TTL gate, 302/403/429
// handling, zero-result classification), generalized away from any one
// named site since the spec describes this as a representative pattern —
// the concrete HTML structure is supplied by an injected Parser rather than
// hardcoded to a single backend.
package webadapter

import "fmt"

// DetailCode classifies why a search call was blocked or failed to parse.
type DetailCode string

const (
	DetailCaptchaRequired DetailCode = "captcha_required"
	DetailCaptchaCooldown DetailCode = "captcha_cooldown"
	DetailHTTP403         DetailCode = "http_403"
	DetailHTTP429         DetailCode = "http_429"
	DetailNoResults       DetailCode = "no_results"
	DetailDOMMismatch     DetailCode = "dom_mismatch"
	DetailUnknownStruct   DetailCode = "unknown_structure"
)

// BlockedError is raised when the adapter refuses to issue (or stops
// trusting) a request: active cooldown, a captcha signature, or an HTTP
// 403/429 response.
type BlockedError struct {
	Message    string
	DetailCode DetailCode
	SerpMeta   map[string]any
}

func (e *BlockedError) Error() string { return e.Message }

// ParseError is raised when a response was fetched but its content could
// not be turned into search results.
type ParseError struct {
	Message    string
	DetailCode DetailCode
	SerpHTML   string
	SerpMeta   map[string]any
}

func (e *ParseError) Error() string { return e.Message }

// NetworkError and TimeoutError wrap transport-level failures.
type NetworkError struct{ Cause error }

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Cause) }
func (e *NetworkError) Unwrap() error { return e.Cause }

type TimeoutError struct{ Cause error }

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout: %v", e.Cause) }
func (e *TimeoutError) Unwrap() error { return e.Cause }

// SearchResult is one parsed item.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// ParseOutcome is returned by a Parser: either items, or a classification
// for the zero-items/failure case.
type ParseOutcome struct {
	Items []SearchResult
	// CaptchaDetected means the parser itself recognized a captcha page in
	// the body (spec.md §4.15's third captcha signature).
	CaptchaDetected bool
	// ParseFailed means the parser could not process the body at all.
	ParseFailed bool
}

// Parser turns a fetched HTML body into results or a parse classification.
// The concrete HTML structure (selectors, markers) is backend-specific and
// supplied by the caller — this package owns only the adapter-level state
// machine described by spec.md §4.15.
type Parser interface {
	Parse(body string) ParseOutcome
	// DetectNoResults distinguishes a genuine empty-results page from a page
	// Parse's outcome couldn't otherwise explain.
	DetectNoResults(body string) bool
	// DetectPossibleResultsStructure flags a page that looks like it should
	// have parseable results (so a zero-item, non-empty-page outcome is
	// classified dom_mismatch rather than unknown_structure).
	DetectPossibleResultsStructure(body string) bool
}
