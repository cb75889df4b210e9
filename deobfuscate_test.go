package main

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEmailsObfuscationVariants(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  []string
	}{
		{"plain", "reach us at sales@test.com today", []string{"sales@test.com"}},
		{"bracket at dot", "name[at]domain[dot]com", []string{"name@domain.com"}},
		{"paren at dot spaced", "name (at) domain (dot) com", []string{"name@domain.com"}},
		{"curly tokens", "name{at}domain{dot}com", []string{"name@domain.com"}},
		{"entity encoded", "name&#64;domain&#46;com", []string{"name@domain.com"}},
		{"hex entity", "name&#x40;domain.com", []string{"name@domain.com"}},
		{"named entity", "name&commat;domain.com", []string{"name@domain.com"}},
		{"zero width", "name​@​domain.com", []string{"name@domain.com"}},
		{"hex escapes", `name\x40domain.com`, []string{"name@domain.com"}},
		{"percent encoded", "name%40domain.com", []string{"name@domain.com"}},
		{"unescape wrapper", "unescape('name%40domain.com')", []string{"name@domain.com"}},
		{"quoted concat", `var e = "name@dom" + "ain.com";`, []string{"name@domain.com"}},
		{"no email", "nothing to see here", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractEmails(tc.input)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractEmailsFromCharCode(t *testing.T) {
	// "name@domain.com" as character codes.
	input := "var addr = fromCharCode(110,97,109,101,64,100,111,109,97,105,110,46,99,111,109);"
	assert.Equal(t, []string{"name@domain.com"}, ExtractEmails(input))
}

func TestExtractEmailsBase64Payload(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("contact hidden@example.com here"))
	input := "window.data = '" + payload + "';"
	got := ExtractEmails(input)
	assert.Contains(t, got, "hidden@example.com")
}

func TestExtractEmailsMixedScenario(t *testing.T) {
	input := "Contact us at info[at]example[dot]org or sales@test.com"
	got := ExtractEmails(input)
	assert.ElementsMatch(t, []string{"info@example.org", "sales@test.com"}, got)
}

func TestExtractEmailsIdempotent(t *testing.T) {
	input := "a[at]b[dot]com plus &#64; noise and real@addr.net"
	first := ExtractEmails(input)
	second := ExtractEmails(input)
	assert.Equal(t, first, second)
}

func TestExtractEmailsRoundTrip(t *testing.T) {
	original := []string{"first@alpha.com", "second@beta.org", "third@gamma.net"}
	encoded := "first[at]alpha[dot]com second&#64;beta.org third%40gamma.net"
	got := ExtractEmails(encoded)
	assert.ElementsMatch(t, original, got)
}

func TestExtractEmailsLengthCap(t *testing.T) {
	local := make([]byte, 330)
	for i := range local {
		local[i] = 'a'
	}
	input := string(local) + "@example.com"
	assert.Empty(t, ExtractEmails(input))
}

func TestExtractEmailsFromJSON(t *testing.T) {
	data := `{"org": {"contacts": [{"email": "deep@nested.io"}, {"note": "no address"}]}, "list": ["top@level.com"]}`
	got := ExtractEmailsFromJSON(data)
	assert.ElementsMatch(t, []string{"deep@nested.io", "top@level.com"}, got)
}

func TestExtractEmailsFromJSONMalformed(t *testing.T) {
	assert.Empty(t, ExtractEmailsFromJSON(`{"broken": `))
}

func TestFindJSONBlobs(t *testing.T) {
	content := `<script>var cfg = {"a": 1, "contact": {"email": "x@y.com", "pad": "zzzzzzzzzz"}};</script>`
	blobs := FindJSONBlobs(content, 30)
	require.NotEmpty(t, blobs)
	found := false
	for _, b := range blobs {
		for _, e := range ExtractEmailsFromJSON(b) {
			if e == "x@y.com" {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestFindJSONBlobsUnmatchedBrace(t *testing.T) {
	// The opening brace of the if-block never closes; the config object
	// nested inside it must still surface.
	content := `if (x) { var cfg = {"contact": {"email": "x@y.com", "pad": "zzzzzzzzzz"}};`
	blobs := FindJSONBlobs(content, 30)
	require.NotEmpty(t, blobs)
	found := false
	for _, b := range blobs {
		for _, e := range ExtractEmailsFromJSON(b) {
			if e == "x@y.com" {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestFindJSONBlobsPathologicalBraces(t *testing.T) {
	content := strings.Repeat("{", 50000)
	assert.Empty(t, FindJSONBlobs(content, 30))
	assert.Empty(t, FindJSONBlobs(strings.Repeat("{}", 50000), 30))
}

func TestSecondaryDecodePass(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("buried@deep.org")) + " filler"
	input := "junk " + payload + " fromCharCode(115,64,116,46,99,111)"
	got := SecondaryDecodePass(input)
	assert.Contains(t, got, "buried@deep.org")
}

func TestDeobfuscateCollapsesWhitespace(t *testing.T) {
	got := Deobfuscate("a   lot\n\nof\t\tspace")
	assert.Equal(t, "a lot of space", got)
}
