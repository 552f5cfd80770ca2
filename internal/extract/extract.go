// Package extract pulls embedded SQL statements out of assistant answer text.
package extract

import (
	"regexp"
	"strings"
)

// Answers mark embedded SQL with a fenced block tagged "sql". Both the
// triple-backtick and triple-quote fence styles appear in the wild, and the
// tag casing varies, so the pattern is case-insensitive and spans lines.
var fencedSQL = regexp.MustCompile(`(?is)(?:` + "```" + `|''')\s*sql\s*(.*?)\s*(?:` + "```" + `|''')`)

// SQL returns the trimmed interior of the first fenced SQL block in text.
// An unterminated fence yields no match rather than a truncated statement,
// and a blank interior is rejected so an empty query is never issued.
func SQL(text string) (string, bool) {
	m := fencedSQL.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	stmt := strings.TrimSpace(m[1])
	if stmt == "" {
		return "", false
	}
	return stmt, true
}
