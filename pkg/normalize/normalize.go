// Package normalize produces the canonical form of request-derived text.
// Canonical text is what the heuristic scorer and the content fingerprint
// operate on, so every step here must be deterministic and idempotent.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxDecodeIterations bounds the percent-decode fixed-point loop so that
// adversarial nested encodings cannot cause unbounded work.
const maxDecodeIterations = 10

// Compiled once at package init; the input has no newlines by the time
// comment stripping runs (whitespace is collapsed first), so line comments
// extend to the end of the string.
var (
	reWhitespace   = regexp.MustCompile(`\s+`)
	reBlockComment = regexp.MustCompile(`/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`--[^\n]*`)
	reHashComment  = regexp.MustCompile(`#[^\n]*`)
)

// Normalize canonicalizes raw text. Steps, in order: bounded repeated
// percent-decoding, NFKC fold (defeats homoglyph variants), lowercase,
// whitespace collapse, comment stripping (line, block, hash), null-byte
// removal, a second whitespace collapse, and a final trim.
//
// Normalize(Normalize(x)) == Normalize(x) for any input whose encoding
// nesting stays within maxDecodeIterations.
func Normalize(text string) string {
	text = decodeAll(text)
	text = strings.ToLower(text)
	text = reWhitespace.ReplaceAllString(text, " ")
	text = reBlockComment.ReplaceAllString(text, " ")
	text = reLineComment.ReplaceAllString(text, " ")
	text = reHashComment.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "\x00", "")
	// Comment removal can introduce fresh runs of whitespace.
	text = reWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// decodeAll repeatedly percent-decodes and NFKC-folds until a fixed point or
// the iteration cap. The two run together because NFKC can surface new escape
// sequences (fullwidth "％２７" folds to "%27"). Decoding is tolerant:
// malformed escapes are left literal so an attacker cannot suppress decoding
// of valid sequences by planting a bare '%' elsewhere in the payload.
func decodeAll(text string) string {
	for i := 0; i < maxDecodeIterations; i++ {
		decoded := norm.NFKC.String(percentDecodeOnce(text))
		if decoded == text {
			return text
		}
		text = decoded
	}
	return text
}

func percentDecodeOnce(s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, okHi := unhex(s[i+1])
			lo, okLo := unhex(s[i+2])
			if okHi && okLo {
				b.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
