package main

import (
	"encoding/base64"
	"encoding/json"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// emailPattern matches addresses after deobfuscation. Matches longer than
// maxEmailLength are discarded as implausible.
var emailPattern = regexp.MustCompile(`(?i)[a-zA-Z0-9_.+%-]+@(?:[a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}`)

const maxEmailLength = 320

// maxJSONDepth caps the structured-data traversal so cyclic or pathological
// payloads cannot blow the stack.
const maxJSONDepth = 64

var (
	atTokenPattern      = regexp.MustCompile(`(?i)\s*(?:\[\s*at\s*\]|\(\s*at\s*\)|\{\s*at\s*\})\s*`)
	dotTokenPattern     = regexp.MustCompile(`(?i)\s*(?:\[\s*dot\s*\]|\(\s*dot\s*\)|\{\s*dot\s*\})\s*`)
	bareAtPattern       = regexp.MustCompile(`(?i)\s+at\s+`)
	bareDotPattern      = regexp.MustCompile(`(?i)\s+dot\s+`)
	decimalEntity       = regexp.MustCompile(`&#(\d+);`)
	hexEntity           = regexp.MustCompile(`&#x([0-9a-fA-F]+);`)
	zeroWidthPattern    = regexp.MustCompile("[​‌‍]")
	fromCharCodePattern = regexp.MustCompile(`(?i)fromCharCode\s*\(\s*([0-9,\s]+)\s*\)`)
	hexEscapePattern    = regexp.MustCompile(`\\x([0-9a-fA-F]{2})`)
	percentPattern      = regexp.MustCompile(`%[0-9a-fA-F]{2}`)
	quoteConcatPattern  = regexp.MustCompile(`"([^"]*)"\s*\+\s*"([^"]*)"`)
	squoteConcatPattern = regexp.MustCompile(`'([^']*)'\s*\+\s*'([^']*)'`)
	base64Candidate     = regexp.MustCompile(`[A-Za-z0-9+/]{16,}={0,2}`)
	unescapeCallPattern = regexp.MustCompile(`(?i)unescape\(\s*['"]([^'"]+)['"]\s*\)`)
	whitespaceRun       = regexp.MustCompile(`\s+`)
)

// Deobfuscate normalizes the common email-hiding tricks found on contact
// pages: token substitutions, entity encodings, zero-width padding, script
// level encodings and string splitting. Every stage is best-effort and the
// function never fails on malformed input.
func Deobfuscate(text string) string {
	// Stage 1: literal obfuscation tokens.
	text = atTokenPattern.ReplaceAllString(text, "@")
	text = dotTokenPattern.ReplaceAllString(text, ".")
	text = bareAtPattern.ReplaceAllString(text, "@")
	text = bareDotPattern.ReplaceAllString(text, ".")

	// Stage 2: HTML entities, named and numeric.
	text = strings.ReplaceAll(text, "&commat;", "@")
	text = decimalEntity.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.Atoi(decimalEntity.FindStringSubmatch(m)[1])
		if err != nil || n < 0 || n > 0x10FFFF {
			return m
		}
		return string(rune(n))
	})
	text = hexEntity.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.ParseInt(hexEntity.FindStringSubmatch(m)[1], 16, 32)
		if err != nil || n < 0 || n > 0x10FFFF {
			return m
		}
		return string(rune(n))
	})
	text = html.UnescapeString(text)

	// Stage 3: zero-width characters used to split addresses invisibly.
	text = zeroWidthPattern.ReplaceAllString(text, "")

	// Stage 4: String.fromCharCode(...) sequences in inline scripts.
	text = fromCharCodePattern.ReplaceAllStringFunc(text, decodeCharCodes)

	// Stage 5: \xNN escapes and percent-encoding.
	text = hexEscapePattern.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.ParseInt(m[2:], 16, 16)
		if err != nil {
			return m
		}
		return string(rune(n))
	})
	text = percentPattern.ReplaceAllStringFunc(text, func(m string) string {
		if dec, err := url.QueryUnescape(m); err == nil {
			return dec
		}
		return m
	})

	// Stage 6: adjacent quoted literals joined with '+'.
	for i := 0; i < 10; i++ {
		next := quoteConcatPattern.ReplaceAllString(text, `"$1$2"`)
		next = squoteConcatPattern.ReplaceAllString(next, `'$1$2'`)
		if next == text {
			break
		}
		text = next
	}

	// Stage 7: base64-looking substrings. Decoded text is appended so the
	// original remains matchable too.
	var decoded []string
	for _, cand := range base64Candidate.FindAllString(text, 32) {
		raw, err := base64.StdEncoding.DecodeString(cand)
		if err != nil {
			continue
		}
		if len(raw) >= 1000 || !utf8.Valid(raw) {
			continue
		}
		if strings.Contains(string(raw), "@") {
			decoded = append(decoded, string(raw))
		}
	}
	if len(decoded) > 0 {
		text += " " + strings.Join(decoded, " ")
	}

	// Stage 8: unescape('...') wrappers.
	text = unescapeCallPattern.ReplaceAllStringFunc(text, func(m string) string {
		inner := unescapeCallPattern.FindStringSubmatch(m)[1]
		if dec, err := url.QueryUnescape(inner); err == nil {
			return dec
		}
		return inner
	})

	// Stage 9: whitespace collapse.
	text = whitespaceRun.ReplaceAllString(text, " ")

	return text
}

func decodeCharCodes(m string) string {
	sub := fromCharCodePattern.FindStringSubmatch(m)
	if len(sub) < 2 {
		return m
	}
	var b strings.Builder
	for _, part := range strings.Split(sub[1], ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 0x10FFFF {
			continue
		}
		b.WriteRune(rune(n))
	}
	return b.String()
}

// ExtractEmails runs the full deobfuscation pipeline over text and returns
// the deduplicated matches, sorted for deterministic output.
func ExtractEmails(text string) []string {
	return matchEmails(Deobfuscate(text))
}

// matchEmails applies the final email grammar without any normalization.
func matchEmails(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range emailPattern.FindAllString(text, -1) {
		if len(m) > maxEmailLength {
			continue
		}
		key := strings.ToLower(m)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ExtractEmailsFromJSON parses data as JSON and collects emails from every
// string leaf containing '@'. The walk is iterative with an explicit stack
// and a depth cap.
func ExtractEmailsFromJSON(data string) []string {
	var root interface{}
	if err := json.Unmarshal([]byte(data), &root); err != nil {
		return nil
	}
	type frame struct {
		value interface{}
		depth int
	}
	stack := []frame{{root, 0}}
	var collected []string
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > maxJSONDepth {
			continue
		}
		switch v := f.value.(type) {
		case string:
			if strings.Contains(v, "@") {
				collected = append(collected, matchEmails(v)...)
			}
		case []interface{}:
			for _, item := range v {
				stack = append(stack, frame{item, f.depth + 1})
			}
		case map[string]interface{}:
			for _, item := range v {
				stack = append(stack, frame{item, f.depth + 1})
			}
		}
	}
	return removeDuplicates(collected)
}

// FindJSONBlobs scans raw content for brace-matched substrings that look like
// JSON objects, for feeding into ExtractEmailsFromJSON. Only blobs of at
// least minLen characters are returned. The scan is a single pass over the
// content: each byte is visited once regardless of how many braces the page
// carries, and objects sitting inside a brace that never closes are still
// surfaced, so a stray "{" in surrounding script text cannot hide a later
// config blob.
func FindJSONBlobs(content string, minLen int) []string {
	const maxBlobs = 50
	type braceLevel struct {
		start    int
		children []string
	}
	var (
		stack    []braceLevel
		blobs    []string
		overflow int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if len(stack) > 0 {
				inString = true
			}
		case '{':
			if len(stack) >= maxJSONDepth {
				overflow++
				continue
			}
			stack = append(stack, braceLevel{start: i})
		case '}':
			if overflow > 0 {
				overflow--
				continue
			}
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if i-top.start+1 < minLen {
				continue
			}
			blob := content[top.start : i+1]
			if len(stack) == 0 {
				blobs = append(blobs, blob)
				if len(blobs) >= maxBlobs {
					return blobs
				}
			} else if parent := &stack[len(stack)-1]; len(parent.children) < maxBlobs {
				// Remembered only until the parent closes; a closed parent
				// supersedes its children as the reported blob.
				parent.children = append(parent.children, blob)
			}
		}
	}
	// Anything left on the stack never closed. Its recorded children are
	// complete objects and get reported in their place.
	for _, lv := range stack {
		for _, blob := range lv.children {
			if len(blobs) >= maxBlobs {
				return blobs
			}
			blobs = append(blobs, blob)
		}
	}
	return blobs
}

// SecondaryDecodePass re-runs the script-level decoders directly over raw
// fetched content, catching payloads the primary pass missed because they
// only appear before deobfuscation rewrites the surrounding text.
func SecondaryDecodePass(content string) []string {
	var found []string
	for _, m := range fromCharCodePattern.FindAllString(content, -1) {
		found = append(found, matchEmails(decodeCharCodes(m))...)
	}
	for _, cand := range base64Candidate.FindAllString(content, 64) {
		raw, err := base64.StdEncoding.DecodeString(cand)
		if err != nil || len(raw) >= 1000 || !utf8.Valid(raw) {
			continue
		}
		if strings.Contains(string(raw), "@") {
			found = append(found, matchEmails(string(raw))...)
		}
	}
	return removeDuplicates(found)
}

// removeDuplicates preserves first-seen order.
func removeDuplicates(elements []string) []string {
	seen := make(map[string]struct{}, len(elements))
	var out []string
	for _, el := range elements {
		if _, dup := seen[el]; dup {
			continue
		}
		seen[el] = struct{}{}
		out = append(out, el)
	}
	return out
}
