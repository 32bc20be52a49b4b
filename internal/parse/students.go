package parse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pavelanni/evaluator/internal/model"
)

var studentQuestionRegex = regexp.MustCompile(`Q(\d+):`)

// StudentParser parses student documents for a fixed roster.
type StudentParser struct {
	roster   model.Roster
	sections []*regexp.Regexp
}

// NewStudentParser builds a parser expecting the given roster, whose labels
// are the markers of the student sub-sections ("Student 1:", ...).
func NewStudentParser(roster model.Roster) *StudentParser {
	p := &StudentParser{roster: roster}
	for i, label := range roster {
		next := model.StudentLabel(i + 2)
		if i+1 < len(roster) {
			next = roster[i+1]
		}
		p.sections = append(p.sections, regexp.MustCompile(
			fmt.Sprintf(`(?s)%s:(.*?)(?:%s:|\z)`, regexp.QuoteMeta(label), regexp.QuoteMeta(next)),
		))
	}
	return p
}

// Parse splits text into Q<N>: blocks and extracts every roster student's
// response in each. A student without a section gets "".
func (p *StudentParser) Parse(text string) (model.StudentResponseSet, model.ParseDiagnostics) {
	set := make(model.StudentResponseSet)
	blocks := splitBlocks(text, studentQuestionRegex)

	diag := model.ParseDiagnostics{Document: "students"}
	diag.BlocksAttempted, diag.Skipped = candidates(text, blocks)

	for _, b := range blocks {
		responses := make(map[string]string, len(p.roster))
		for i, label := range p.roster {
			m := p.sections[i].FindStringSubmatch(b.body)
			if m == nil {
				responses[label] = ""
				diag.MissingResponses++
				continue
			}
			responses[label] = strings.TrimSpace(m[1])
		}
		set[b.groups[0]] = responses
		diag.BlocksMatched++
	}
	return set, diag
}

// Students parses text with the default roster.
func Students(text string) (model.StudentResponseSet, model.ParseDiagnostics) {
	return NewStudentParser(model.NewRoster(model.DefaultRosterSize)).Parse(text)
}
