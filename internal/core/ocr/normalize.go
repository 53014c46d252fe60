package ocr

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reHanGap     = regexp.MustCompile(`(\p{Han}) (\p{Han})`)

	// brackets without a half-width form in Unicode
	bracketFolder = strings.NewReplacer("【", "[", "】", "]", "〔", "(", "〕", ")")
)

// NormalizeText prepares recognized text for pattern matching: Chinese full
// stops are dropped, full-width forms fold to ASCII, all whitespace runs become
// one space, and spaces the OCR put between two Han characters are removed.
func NormalizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "。", "")
	s = width.Narrow.String(s)
	s = bracketFolder.Replace(s)
	s = reWhitespace.ReplaceAllString(s, " ")
	for {
		joined := reHanGap.ReplaceAllString(s, "$1$2")
		if joined == s {
			break
		}
		s = joined
	}
	return strings.TrimSpace(s)
}
