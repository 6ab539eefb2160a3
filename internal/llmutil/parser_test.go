// internal/llmutil/parser_test.go
package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instructionUpdate struct {
	General []string            `json:"general"`
	PerSite map[string][]string `json:"per_site"`
}

func TestParseJSONResponse(t *testing.T) {
	testCases := []struct {
		name     string
		response string
		wantErr  bool
		verify   func(t *testing.T, got *instructionUpdate)
	}{
		{
			name:     "bare JSON object",
			response: `{"general":["always scroll before clicking"],"per_site":{}}`,
			verify: func(t *testing.T, got *instructionUpdate) {
				assert.Equal(t, []string{"always scroll before clicking"}, got.General)
			},
		},
		{
			name: "markdown fenced JSON",
			response: "```json\n" +
				`{"general":[],"per_site":{"example.com":["dismiss the cookie banner first"]}}` +
				"\n```",
			verify: func(t *testing.T, got *instructionUpdate) {
				assert.Equal(t, []string{"dismiss the cookie banner first"}, got.PerSite["example.com"])
			},
		},
		{
			name:     "JSON embedded in prose",
			response: `Here is the update you asked for: {"general":["prefer the search box"],"per_site":{}} hope that helps`,
			verify: func(t *testing.T, got *instructionUpdate) {
				assert.Equal(t, []string{"prefer the search box"}, got.General)
			},
		},
		{
			name:     "malformed JSON",
			response: `{"general":[`,
			wantErr:  true,
		},
		{
			name:     "no JSON at all",
			response: "I could not produce an update.",
			wantErr:  true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseJSONResponse[instructionUpdate](tc.response)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.verify(t, got)
		})
	}
}

func TestParseJSONResponse_Array(t *testing.T) {
	got, err := ParseJSONResponse[[]string]("```\n[\"a\",\"b\"]\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, *got)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 10))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
	assert.Equal(t, "", truncateString("abc", 0))
}
