// internal/learner/sitekey.go
package learner

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// SiteKey reduces a URL to the bare registrable domain used to key per-site
// instructions. Returns "" for URLs with no usable host (about:blank,
// data: URIs, files).
func SiteKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host == "" || !strings.Contains(host, ".") {
		return ""
	}

	// Collapse subdomains onto the registrable domain so rules learned on
	// accounts.example.com apply to example.com at large. IPs and hosts
	// with unknown suffixes are kept as-is.
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld1
	}
	return host
}
