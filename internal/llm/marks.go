package llm

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	marksRegex   = regexp.MustCompile(`Marks:\s*(\d+)`)
	outOfRegex   = regexp.MustCompile(`Marks:\s*\d+\s*/\s*(\d+)`)
	verdictRegex = regexp.MustCompile(`(?im)^\s*Verdict:\s*(.+?)\s*$`)
	reasonRegex  = regexp.MustCompile(`(?im)^\s*Reason:\s*(.+?)\s*$`)
)

// Verdict is the model's qualitative judgement of an answer.
type Verdict string

const (
	VerdictCorrect Verdict = "Correct"
	VerdictPartial Verdict = "Partially Correct"
	VerdictWrong   Verdict = "Wrong"
	VerdictUnknown Verdict = ""
)

// ExtractMarks returns the number after "Marks:" in graded text, or 0 when
// there is none.
func ExtractMarks(raw string) int {
	m := marksRegex.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// Grade is the display-oriented reading of graded text.
type Grade struct {
	Marks    int
	OutOf    int // 0 when the reply has no denominator
	HasMarks bool
	Verdict  Verdict
	Reason   string
}

// ParseGrade reads marks, verdict and reason from graded text. Missing
// fields are left at their zero values.
func ParseGrade(raw string) Grade {
	g := Grade{Marks: ExtractMarks(raw), HasMarks: marksRegex.MatchString(raw)}
	if m := outOfRegex.FindStringSubmatch(raw); m != nil {
		g.OutOf, _ = strconv.Atoi(m[1])
	}
	if m := verdictRegex.FindStringSubmatch(raw); m != nil {
		g.Verdict = normalizeVerdict(m[1])
	}
	if m := reasonRegex.FindStringSubmatch(raw); m != nil {
		g.Reason = m[1]
	}
	return g
}

func normalizeVerdict(s string) Verdict {
	s = strings.ToLower(strings.Trim(s, " *.\t"))
	switch {
	case strings.HasPrefix(s, "partially correct"), strings.HasPrefix(s, "partial"):
		return VerdictPartial
	case strings.HasPrefix(s, "correct"):
		return VerdictCorrect
	case strings.HasPrefix(s, "wrong"), strings.HasPrefix(s, "incorrect"):
		return VerdictWrong
	}
	return VerdictUnknown
}
