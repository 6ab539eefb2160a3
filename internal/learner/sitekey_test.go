// internal/learner/sitekey_test.go
package learner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSiteKey(t *testing.T) {
	testCases := []struct {
		name string
		url  string
		want string
	}{
		{"plain host", "https://example.com/path", "example.com"},
		{"www stripped", "https://www.example.com", "example.com"},
		{"subdomain collapsed", "https://accounts.example.com/login", "example.com"},
		{"port stripped", "https://example.com:8443/x", "example.com"},
		{"uppercase lowered", "https://Example.COM", "example.com"},
		{"country suffix", "https://shop.example.co.uk", "example.co.uk"},
		{"about blank", "about:blank", ""},
		{"data uri", "data:text/html,hi", ""},
		{"file url", "file:///tmp/x.html", ""},
		{"bare localhost", "http://localhost:3000", ""},
		{"empty", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SiteKey(tc.url))
		})
	}
}
