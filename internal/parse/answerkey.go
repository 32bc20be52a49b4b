package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/evaluator/internal/model"
)

var answerHeaderRegex = regexp.MustCompile(`Q(\d+)\s*\((\d+)\s*marks\):`)

// AnswerKey parses answer-key text made of blocks like
//
//	Q1 (5 marks):
//	What is 2+2?
//	Four
//
// The first line of a block is the question, the remaining lines joined
// with spaces form the reference answer.
func AnswerKey(text string) (model.AnswerKey, model.ParseDiagnostics) {
	key := model.NewAnswerKey()
	blocks := splitBlocks(text, answerHeaderRegex)

	diag := model.ParseDiagnostics{Document: "answer_key"}
	attempted, skipped := candidates(text, blocks)
	diag.BlocksAttempted = attempted
	diag.Skipped = skipped

	for _, b := range blocks {
		marks, err := strconv.Atoi(b.groups[1])
		if err != nil {
			diag.Skipped = append(diag.Skipped, firstLine(text[b.start:]))
			continue
		}
		lines := splitLines(b.body)
		var answer []string
		for _, l := range lines[1:] {
			if l = strings.TrimSpace(l); l != "" {
				answer = append(answer, l)
			}
		}
		key.Put(model.QuestionRecord{
			ID:              b.groups[0],
			QuestionText:    strings.TrimSpace(lines[0]),
			ReferenceAnswer: strings.Join(answer, " "),
			MaxMarks:        marks,
		})
		diag.BlocksMatched++
	}
	return key, diag
}
