// Package parse recovers answer keys and student responses from the
// lightweight plain-text markup used by exam documents.
//
// Both parsers are permissive: a block that does not match its header
// pattern is skipped, never reported as an error. The returned
// ParseDiagnostics tell callers how much was skipped.
package parse

import (
	"regexp"
	"sort"
	"strings"
)

var (
	// boundaryRegex ends a block, like the header lookahead of the markup.
	boundaryRegex = regexp.MustCompile(`Q\d+`)
	// candidateRegex finds lines that look like they start a question block.
	candidateRegex = regexp.MustCompile(`(?m)^[ \t]*Q\d+`)
)

type block struct {
	start  int      // offset of the header
	groups []string // header capture groups
	body   string
}

// splitBlocks finds every header match and returns the text that follows
// it up to the next Q<digits> token or the end of input.
func splitBlocks(text string, header *regexp.Regexp) []block {
	var out []block
	for _, m := range header.FindAllStringSubmatchIndex(text, -1) {
		end := len(text)
		if loc := boundaryRegex.FindStringIndex(text[m[1]:]); loc != nil {
			end = m[1] + loc[0]
		}
		groups := make([]string, 0, len(m)/2-1)
		for i := 2; i+1 < len(m); i += 2 {
			if m[i] < 0 {
				groups = append(groups, "")
				continue
			}
			groups = append(groups, text[m[i]:m[i+1]])
		}
		out = append(out, block{start: m[0], groups: groups, body: text[m[1]:end]})
	}
	return out
}

// candidates returns the header-looking lines that no block claimed, and the
// total number of block starts seen (claimed or not).
func candidates(text string, blocks []block) (attempted int, skipped []string) {
	claimed := make(map[int]bool, len(blocks))
	for _, b := range blocks {
		claimed[b.start] = true
	}
	starts := make(map[int]bool)
	for _, loc := range candidateRegex.FindAllStringIndex(text, -1) {
		// Skip leading indentation so offsets line up with header matches.
		off := loc[0] + strings.IndexByte(text[loc[0]:loc[1]], 'Q')
		starts[off] = true
	}
	for off := range claimed {
		starts[off] = true
	}

	offsets := make([]int, 0, len(starts))
	for off := range starts {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)
	for _, off := range offsets {
		if claimed[off] {
			continue
		}
		skipped = append(skipped, firstLine(text[off:]))
	}
	return len(offsets), skipped
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// splitLines trims s and splits it into lines, tolerating CRLF endings.
func splitLines(s string) []string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\r\n", "\n")
	return strings.Split(s, "\n")
}
