// Package report turns an evaluation into the JSON export and a plain-text
// report laid out per student.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pavelanni/evaluator/internal/i18n"
	"github.com/pavelanni/evaluator/internal/llm"
	"github.com/pavelanni/evaluator/internal/model"
)

// Export builds the JSON export of an evaluation.
func Export(ev model.Evaluation, meta model.RunMeta, diags []model.ParseDiagnostics, createdAt time.Time) model.RunExport {
	out := model.RunExport{
		CreatedAt:   createdAt,
		Meta:        meta,
		MaxTotal:    ev.MaxTotal,
		Diagnostics: diags,
	}
	for _, student := range ev.Roster {
		sr := model.StudentResult{
			Student:  student,
			Total:    ev.Tally[student],
			MaxTotal: ev.MaxTotal,
		}
		for _, a := range ev.ForStudent(student) {
			g := llm.ParseGrade(a.Graded)
			sr.Questions = append(sr.Questions, model.QuestionResult{
				QuestionID: a.QuestionID,
				MaxMarks:   a.MaxMarks,
				Question:   a.QuestionText,
				Response:   a.Response,
				Graded:     a.Graded,
				Marks:      a.Marks,
				Verdict:    string(g.Verdict),
				Reason:     g.Reason,
				Failed:     a.Failed,
				Error:      a.Error,
			})
		}
		out.Students = append(out.Students, sr)
	}
	return out
}

// Text writes a human-readable report: one section per student with every
// question, the raw grading and the total, followed by a score summary.
// Labels are translated with the localizer carried by ctx.
func Text(ctx context.Context, w io.Writer, run model.RunExport) error {
	var sb strings.Builder
	title := i18n.T(ctx, "ReportTitle")
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("=", len([]rune(title))) + "\n")

	for _, d := range run.Diagnostics {
		if n := len(d.Skipped); n > 0 {
			sb.WriteString(i18n.Tpd(ctx, "SkippedBlocks", n, map[string]any{"Document": d.Document}) + "\n")
		}
	}
	if n := failures(run); n > 0 {
		sb.WriteString(i18n.Tp(ctx, "FailedCalls", n) + "\n")
	}

	for _, s := range run.Students {
		heading := i18n.Td(ctx, "StudentPerformance", map[string]any{"Student": s.Student})
		sb.WriteString("\n" + heading + "\n")
		sb.WriteString(strings.Repeat("-", len([]rune(heading))) + "\n")

		for _, q := range s.Questions {
			sb.WriteString("\n" + i18n.Tpd(ctx, "QuestionHeading", q.MaxMarks, map[string]any{"ID": q.QuestionID}) + "\n")
			fmt.Fprintf(&sb, "  %s: %s\n", i18n.T(ctx, "QuestionLabel"), q.Question)
			response := q.Response
			if response == "" {
				response = i18n.T(ctx, "NoAnswer")
			}
			fmt.Fprintf(&sb, "  %s: %s\n", i18n.T(ctx, "StudentAnswerLabel"), response)
			if q.Failed {
				sb.WriteString("  " + i18n.Td(ctx, "GradingFailed", map[string]any{"Error": q.Error}) + "\n")
				continue
			}
			fmt.Fprintf(&sb, "  %s:\n", i18n.T(ctx, "GradingLabel"))
			for _, line := range strings.Split(q.Graded, "\n") {
				sb.WriteString("    " + line + "\n")
			}
		}

		sb.WriteString("\n" + i18n.Td(ctx, "TotalScore", map[string]any{"Score": s.Total, "Max": s.MaxTotal}) + "\n")
	}

	summary := i18n.T(ctx, "SummaryTitle")
	sb.WriteString("\n" + summary + "\n")
	sb.WriteString(strings.Repeat("=", len([]rune(summary))) + "\n")
	for _, s := range run.Students {
		fmt.Fprintf(&sb, "%s: %d / %d\n", s.Student, s.Total, s.MaxTotal)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func failures(run model.RunExport) int {
	n := 0
	for _, s := range run.Students {
		for _, q := range s.Questions {
			if q.Failed {
				n++
			}
		}
	}
	return n
}
