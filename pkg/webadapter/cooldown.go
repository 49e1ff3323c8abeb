package webadapter

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var credentialPattern = regexp.MustCompile(`://[^:]+:[^@]+@`)

// redactProxy strips embedded credentials from a proxy URL so the cooldown
// key (and any logged metadata) never carries user:pass (spec.md §4.15).
func redactProxy(proxy string) string {
	if proxy == "" {
		return ""
	}
	if strings.Contains(proxy, "@") && strings.Contains(proxy, "://") {
		return credentialPattern.ReplaceAllString(proxy, "://***@")
	}
	return proxy
}

// cooldownKey mirrors baidu_html.py's _cooldown_key: proxy_enabled +
// redacted proxy + a short hash of the user agent. Same config always
// yields the same key; changing the UA or the proxy's scheme/host/port
// yields a different one, while a change to the proxy's embedded
// credentials alone does not (they are redacted before keying).
func cooldownKey(proxyEnabled bool, proxy, userAgent string) string {
	redacted := redactProxy(proxy)
	uaHash := ""
	if ua := strings.TrimSpace(userAgent); ua != "" {
		sum := sha256.Sum256([]byte(ua))
		uaHash = hex.EncodeToString(sum[:])[:8]
	}
	return boolStr(proxyEnabled) + ":" + redacted + ":" + uaHash
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
