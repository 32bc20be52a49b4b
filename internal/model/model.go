package model

import (
	"fmt"
	"strconv"
)

// QuestionRecord is one question parsed from the answer key.
type QuestionRecord struct {
	ID              string `json:"id"`
	QuestionText    string `json:"question_text"`
	ReferenceAnswer string `json:"reference_answer"`
	MaxMarks        int    `json:"max_marks"`
}

// AnswerKey maps question IDs to records. Order holds the IDs in the order
// they first appeared in the document.
type AnswerKey struct {
	Order   []string
	Records map[string]QuestionRecord
}

// NewAnswerKey returns an empty answer key.
func NewAnswerKey() AnswerKey {
	return AnswerKey{Records: make(map[string]QuestionRecord)}
}

// Put stores a record. A repeated ID replaces the earlier record but keeps
// its original position.
func (k *AnswerKey) Put(r QuestionRecord) {
	if k.Records == nil {
		k.Records = make(map[string]QuestionRecord)
	}
	if _, ok := k.Records[r.ID]; !ok {
		k.Order = append(k.Order, r.ID)
	}
	k.Records[r.ID] = r
}

// Questions returns the records in document order.
func (k AnswerKey) Questions() []QuestionRecord {
	out := make([]QuestionRecord, 0, len(k.Order))
	for _, id := range k.Order {
		out = append(out, k.Records[id])
	}
	return out
}

// Len returns the number of questions.
func (k AnswerKey) Len() int {
	return len(k.Order)
}

// MaxTotal is the sum of MaxMarks over all questions.
func (k AnswerKey) MaxTotal() int {
	total := 0
	for _, r := range k.Records {
		total += r.MaxMarks
	}
	return total
}

// StudentResponseSet maps question ID to student label to response text.
type StudentResponseSet map[string]map[string]string

// Response returns the response of a student to a question, or "" when
// either is missing.
func (s StudentResponseSet) Response(questionID, student string) string {
	return s[questionID][student]
}

// Roster is the ordered list of student labels expected in every question block.
type Roster []string

// DefaultRosterSize is the roster size used when none is configured.
const DefaultRosterSize = 3

// NewRoster returns the labels "Student 1" .. "Student n".
func NewRoster(n int) Roster {
	r := make(Roster, 0, n)
	for i := 1; i <= n; i++ {
		r = append(r, StudentLabel(i))
	}
	return r
}

// StudentLabel returns the label of the i-th student (1-based).
func StudentLabel(i int) string {
	return "Student " + strconv.Itoa(i)
}

// GradeRequest is the input of one grading call.
type GradeRequest struct {
	Question  string
	Reference string
	Response  string
	MaxMarks  int
}

// GradedAnswer is the outcome of grading one student's answer to one question.
type GradedAnswer struct {
	QuestionID   string `json:"question_id"`
	Student      string `json:"student"`
	MaxMarks     int    `json:"max_marks"`
	QuestionText string `json:"question_text"`
	Response     string `json:"response"`
	Graded       string `json:"graded"`
	Marks        int    `json:"marks"`
	Failed       bool   `json:"failed,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Evaluation is the result of one evaluation run.
type Evaluation struct {
	Roster   Roster         `json:"roster"`
	Results  []GradedAnswer `json:"results"` // question-major, roster order within a question
	Tally    map[string]int `json:"tally"`
	MaxTotal int            `json:"max_total"`
}

// ForStudent returns the graded answers of one student in question order.
func (e Evaluation) ForStudent(student string) []GradedAnswer {
	var out []GradedAnswer
	for _, r := range e.Results {
		if r.Student == student {
			out = append(out, r)
		}
	}
	return out
}

// Failures counts grading calls that did not complete.
func (e Evaluation) Failures() int {
	n := 0
	for _, r := range e.Results {
		if r.Failed {
			n++
		}
	}
	return n
}

// ParseDiagnostics reports how many blocks a parser saw and how many it
// turned into records.
type ParseDiagnostics struct {
	Document         string   `json:"document"`
	BlocksAttempted  int      `json:"blocks_attempted"`
	BlocksMatched    int      `json:"blocks_matched"`
	Skipped          []string `json:"skipped,omitempty"`
	MissingResponses int      `json:"missing_responses,omitempty"`
}

// Lossy reports whether any block was skipped.
func (d ParseDiagnostics) Lossy() bool {
	return d.BlocksMatched < d.BlocksAttempted
}

func (d ParseDiagnostics) String() string {
	return fmt.Sprintf("%s: %d/%d blocks matched", d.Document, d.BlocksMatched, d.BlocksAttempted)
}
