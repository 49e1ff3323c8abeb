package webadapter

import "regexp"

// resultPattern pulls an anchor's href and its inner text; it is
// intentionally permissive (no site-specific class/id anchors) since
// spec.md §4.15 describes this package's job as backend-agnostic — a
// concrete, selector-tuned parser is supplied per backend, and GenericParser
// is the no-backend-configured fallback rather than a stand-in for any one
// named site.
var resultPattern = regexp.MustCompile(`(?is)<a\s+[^>]*href=["'](https?://[^"']+)["'][^>]*>(.*?)</a>`)

var tagStripPattern = regexp.MustCompile(`(?is)<[^>]+>`)

// GenericParser extracts `<a href="...">text</a>` pairs as results, using
// the same lightweight regex idiom adapter.go already applies to captcha
// redirect detection rather than a full DOM parser.
type GenericParser struct {
	// MinResultsForStructure is how many anchors a page needs before
	// DetectPossibleResultsStructure considers it a results-shaped page
	// whose parse nonetheless failed (spec.md §4.15's dom_mismatch
	// classification).
	MinResultsForStructure int
}

func NewGenericParser() *GenericParser {
	return &GenericParser{MinResultsForStructure: 3}
}

func (p *GenericParser) Parse(body string) ParseOutcome {
	matches := resultPattern.FindAllStringSubmatch(body, -1)
	var items []SearchResult
	for _, m := range matches {
		title := stripTags(m[2])
		if title == "" {
			continue
		}
		items = append(items, SearchResult{Title: title, URL: m[1]})
	}
	return ParseOutcome{Items: items}
}

func (p *GenericParser) DetectNoResults(body string) bool {
	return len(resultPattern.FindAllString(body, 1)) == 0
}

func (p *GenericParser) DetectPossibleResultsStructure(body string) bool {
	return len(resultPattern.FindAllString(body, p.minResultsForStructure())) >= p.minResultsForStructure()
}

func (p *GenericParser) minResultsForStructure() int {
	if p.MinResultsForStructure <= 0 {
		return 3
	}
	return p.MinResultsForStructure
}

func stripTags(s string) string {
	return tagStripPattern.ReplaceAllString(s, "")
}
