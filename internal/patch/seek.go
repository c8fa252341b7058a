package patch

import "strings"

// lineMatcher compares a file line with a pattern line
type lineMatcher func(line, pattern string) bool

// matchers are tried in order, from strict to lenient
var matchers = []lineMatcher{
	func(line, pattern string) bool { return line == pattern },
	func(line, pattern string) bool {
		return strings.TrimRight(line, " \t") == strings.TrimRight(pattern, " \t")
	},
	func(line, pattern string) bool { return strings.TrimSpace(line) == strings.TrimSpace(pattern) },
	func(line, pattern string) bool { return normalize(line) == normalize(pattern) },
}

// seekSequence finds pattern in lines at or after start and returns its index.
// With eof set the search begins where the pattern would end the file.
func seekSequence(lines, pattern []string, start int, eof bool) (int, bool) {
	if len(pattern) == 0 {
		return start, true
	}
	if len(pattern) > len(lines) {
		return 0, false
	}

	searchStart := start
	if eof {
		searchStart = len(lines) - len(pattern)
	}

	for _, match := range matchers {
		for i := searchStart; i <= len(lines)-len(pattern); i++ {
			if matchesAt(lines, pattern, i, match) {
				return i, true
			}
		}
	}
	return 0, false
}

func matchesAt(lines, pattern []string, at int, match lineMatcher) bool {
	for j, want := range pattern {
		if !match(lines[at+j], want) {
			return false
		}
	}
	return true
}

// punctuation maps typographic characters to their ASCII counterparts
var punctuation = strings.NewReplacer(
	"\u2010", "-", "\u2011", "-", "\u2012", "-", "\u2013", "-", "\u2014", "-", "\u2015", "-", "\u2212", "-",
	"\u2018", "'", "\u2019", "'", "\u201A", "'", "\u201B", "'",
	"\u201C", "\"", "\u201D", "\"", "\u201E", "\"", "\u201F", "\"",
	"\u00A0", " ", "\u2002", " ", "\u2003", " ", "\u2004", " ", "\u2005", " ", "\u2006", " ",
	"\u2007", " ", "\u2008", " ", "\u2009", " ", "\u200A", " ", "\u202F", " ", "\u205F", " ", "\u3000", " ",
)

func normalize(s string) string {
	return punctuation.Replace(strings.TrimSpace(s))
}
