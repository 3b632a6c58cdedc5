package render

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()

	brRe    = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockRe = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|blockquote)>`)
	spaceRe = regexp.MustCompile(`[ \t]+`)
	nlRe    = regexp.MustCompile(`\n{3,}`)
)

// HTMLToPlaintext derives a readable plaintext alternative from an HTML body.
// Block-level boundaries become newlines, tags are stripped, and entities are
// decoded.
func HTMLToPlaintext(htmlBody string) string {
	s := brRe.ReplaceAllString(htmlBody, "\n")
	s = blockRe.ReplaceAllString(s, "$0\n")
	s = strictPolicy.Sanitize(s)
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = nlRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
