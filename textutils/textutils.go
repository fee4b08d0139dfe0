package textutils

import (
	"strings"
	"unicode"
)

// IndentString prepends indent nIndent times to each line in s,
// except for blank lines, which are emptied.
func IndentString(s string, indent string, nIndent int) string {
	prefix := strings.Repeat(indent, nIndent)

	var res strings.Builder
	res.Grow(len(s) + (strings.Count(s, "\n")+1)*len(prefix))
	for line := range strings.SplitAfterSeq(s, "\n") {
		if strings.TrimSpace(line) == "" {
			if strings.HasSuffix(line, "\n") {
				res.WriteByte('\n')
			}
			continue
		}
		res.WriteString(prefix)
		res.WriteString(line)
	}
	return res.String()
}

// List renders items as one indented line each, every line preceded by a
// newline, for appending to a headline.
func List(items []string, indent string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteByte('\n')
		b.WriteString(indent)
		b.WriteString(it)
	}
	return b.String()
}

// GoIdent joins parts with underscores and replaces every rune not valid
// in a Go identifier by an underscore. A leading digit is prefixed with one.
func GoIdent(parts ...string) string {
	s := []rune(strings.Join(parts, "_"))
	for i, r := range s {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			s[i] = '_'
		}
	}
	if len(s) == 0 || unicode.IsDigit(s[0]) {
		return "_" + string(s)
	}
	return string(s)
}
