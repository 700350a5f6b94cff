package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Allowed(t *testing.T) {
	cases := []string{
		"https://example.com",
		"http://example.com/path?q=1",
		"https://sub.domain.io:8443/page",
		"ftp://files.example.com/a.txt",
	}

	for _, raw := range cases {
		u, err := Classify(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, raw, u.String())
	}
}

func TestClassify_InvalidURL(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"not a url at all",
		"/relative/path",
		"example.com/no-scheme",
	}

	for _, raw := range cases {
		_, err := Classify(raw)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}

func TestClassify_LocalAddressBlocked(t *testing.T) {
	cases := []string{
		"http://localhost/admin",
		"http://LOCALHOST:8080",
		"http://127.0.0.1/",
		"https://127.0.0.1:6379",
		"http://0.0.0.0/",
		"file:///etc/passwd",
		"FILE:///etc/shadow",
	}

	for _, raw := range cases {
		_, err := Classify(raw)
		assert.ErrorIs(t, err, ErrLocalAddressBlocked, raw)
	}
}
