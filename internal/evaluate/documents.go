package evaluate

import (
	"context"
	"fmt"

	"github.com/pavelanni/evaluator/internal/docs"
	"github.com/pavelanni/evaluator/internal/model"
	"github.com/pavelanni/evaluator/internal/parse"
)

// Outcome is an evaluation together with the inputs it was computed from.
type Outcome struct {
	Documents   docs.Pair
	Evaluation  model.Evaluation
	Diagnostics []model.ParseDiagnostics
}

// RunDocuments identifies the answer key and the student submissions among
// documents, parses both and grades them. Document selection errors are
// configuration errors and are returned before any grading call.
func (e *Evaluator) RunDocuments(ctx context.Context, documents []docs.Document) (Outcome, error) {
	pair, err := docs.Select(documents)
	if err != nil {
		return Outcome{}, err
	}

	key, keyDiag := parse.AnswerKey(pair.AnswerKey.Text)
	responses, stDiag := parse.NewStudentParser(e.opts.Roster).Parse(pair.Students.Text)
	keyDiag.Document = pair.AnswerKey.Name
	stDiag.Document = pair.Students.Name

	for _, d := range []model.ParseDiagnostics{keyDiag, stDiag} {
		if d.Lossy() {
			e.log.Warn("blocks skipped while parsing", "document", d.Document,
				"attempted", d.BlocksAttempted, "matched", d.BlocksMatched, "skipped", d.Skipped)
		} else {
			e.log.Debug("parsed document", "document", d.Document, "blocks", d.BlocksMatched)
		}
	}
	if stDiag.MissingResponses > 0 {
		e.log.Info("students without a section default to empty answers",
			"document", stDiag.Document, "missing", stDiag.MissingResponses)
	}

	out := Outcome{Documents: pair, Diagnostics: []model.ParseDiagnostics{keyDiag, stDiag}}
	out.Evaluation, err = e.Run(ctx, key, responses)
	if err != nil {
		return out, fmt.Errorf("grade %s: %w", pair.Students.Name, err)
	}
	return out, nil
}
