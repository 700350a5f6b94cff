package rewrite

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func target(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("https://example.com/page")
	require.NoError(t, err)
	return u
}

func TestRewrite_StripsAntiFramingMeta(t *testing.T) {
	html := `<html><head>` +
		`<meta http-equiv="X-Frame-Options" content="DENY">` +
		`<meta http-equiv="Content-Security-Policy" content="frame-ancestors 'none'">` +
		`<meta http-equiv="Frame-Options" content="DENY">` +
		`</head><body>hi</body></html>`

	out := Rewrite(html, target(t))

	assert.NotContains(t, out, "X-Frame-Options")
	assert.NotContains(t, out, "Content-Security-Policy")
	assert.NotContains(t, out, "frame-ancestors")
}

func TestRewrite_StripsMetaCaseInsensitive(t *testing.T) {
	html := `<html><head><META HTTP-EQUIV="x-frame-options" CONTENT="deny"></head><body></body></html>`
	out := Rewrite(html, target(t))
	assert.NotContains(t, strings.ToLower(out), "x-frame-options")
}

func TestRewrite_StripsNonceAttributes(t *testing.T) {
	html := `<html><body><script nonce="abc123">var x;</script></body></html>`
	out := Rewrite(html, target(t))
	assert.NotContains(t, out, `nonce="abc123"`)
	// Сам тег скрипта остается
	assert.Contains(t, out, "var x;")
}

func TestRewrite_InjectsScriptBeforeClosingBody(t *testing.T) {
	html := `<html><head></head><body>content</body></html>`
	out := Rewrite(html, target(t))

	scriptIdx := strings.Index(out, observerMarker)
	bodyIdx := strings.Index(out, "</body>")
	require.NotEqual(t, -1, scriptIdx)
	require.NotEqual(t, -1, bodyIdx)
	assert.Less(t, scriptIdx, bodyIdx)
	assert.Contains(t, out[scriptIdx:bodyIdx], "activities_flush")
}

func TestRewrite_InjectsScriptCaseInsensitiveBody(t *testing.T) {
	html := `<HTML><BODY>content</BODY></HTML>`
	out := Rewrite(html, target(t))
	assert.Less(t, strings.Index(out, observerMarker), strings.Index(out, "</BODY>"))
}

func TestRewrite_AppendsScriptWhenNoBody(t *testing.T) {
	html := `<p>fragment without body markers`
	out := Rewrite(html, target(t))
	assert.True(t, strings.HasSuffix(out, "</script>"))
	assert.Contains(t, out, observerMarker)
}

func TestRewrite_InsertsBaseTag(t *testing.T) {
	html := `<html><head><title>t</title></head><body></body></html>`
	out := Rewrite(html, target(t))
	assert.Contains(t, out, `<base href="https://example.com/page"`)

	// base должен стоять сразу после открывающего head
	headIdx := strings.Index(out, "<head>")
	baseIdx := strings.Index(out, "<base")
	assert.Equal(t, headIdx+len("<head>"), baseIdx)
}

func TestRewrite_KeepsExistingBaseTag(t *testing.T) {
	html := `<html><head><base href="https://other.example/"></head><body></body></html>`
	out := Rewrite(html, target(t))
	assert.Equal(t, 1, strings.Count(out, "<base"))
	assert.Contains(t, out, `https://other.example/`)
}

func TestRewrite_IdempotentOnInjectedScript(t *testing.T) {
	html := `<html><head></head><body>content</body></html>`
	once := Rewrite(html, target(t))
	twice := Rewrite(once, target(t))

	assert.Equal(t, 1, strings.Count(twice, observerMarker))
	assert.Equal(t, once, twice)
}

func TestRewrite_MalformedDocumentStillGetsScript(t *testing.T) {
	cases := []string{
		"",
		"plain text",
		"<body>unclosed",
		"<head><body></html>",
	}

	for _, html := range cases {
		out := Rewrite(html, target(t))
		assert.Contains(t, out, observerMarker, html)
	}
}
