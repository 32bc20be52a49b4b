// Package evaluate drives grading calls over every (question, student)
// pair of an answer key and accumulates per-student scores.
package evaluate

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/evaluator/internal/llm"
	"github.com/pavelanni/evaluator/internal/model"
)

// Grader grades one answer and returns the model's raw reply.
type Grader interface {
	Grade(ctx context.Context, req model.GradeRequest) (string, error)
}

// GraderFunc adapts a function to the Grader interface.
type GraderFunc func(ctx context.Context, req model.GradeRequest) (string, error)

// Grade calls f.
func (f GraderFunc) Grade(ctx context.Context, req model.GradeRequest) (string, error) {
	return f(ctx, req)
}

// Options tune an evaluation run.
type Options struct {
	Roster      model.Roster
	Concurrency int  // grading calls in flight; values below 1 mean 1
	ClampMarks  bool // clamp awarded marks to [0, MaxMarks]
	Logger      *slog.Logger
}

// DefaultOptions grade the default roster sequentially with clamping.
func DefaultOptions() Options {
	return Options{
		Roster:      model.NewRoster(model.DefaultRosterSize),
		Concurrency: 1,
		ClampMarks:  true,
	}
}

// Evaluator runs evaluations with a fixed grader and options.
type Evaluator struct {
	grader Grader
	opts   Options
	log    *slog.Logger
}

// New creates an Evaluator.
func New(g Grader, opts Options) *Evaluator {
	if len(opts.Roster) == 0 {
		opts.Roster = model.NewRoster(model.DefaultRosterSize)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{grader: g, opts: opts, log: log}
}

type task struct {
	index    int
	question model.QuestionRecord
	student  string
	response string
}

// Run grades every student in the roster on every question of key.
//
// A failed grading call is recorded on its GradedAnswer with 0 marks and
// does not stop the run. When ctx is canceled no further calls are issued;
// the pairs that were never graded are marked failed and Run returns the
// partial evaluation together with the context error.
func (e *Evaluator) Run(ctx context.Context, key model.AnswerKey, responses model.StudentResponseSet) (model.Evaluation, error) {
	roster := e.opts.Roster
	questions := key.Questions()

	tasks := make([]task, 0, len(questions)*len(roster))
	results := make([]model.GradedAnswer, 0, cap(tasks))
	for _, q := range questions {
		for _, student := range roster {
			resp := responses.Response(q.ID, student)
			tasks = append(tasks, task{index: len(tasks), question: q, student: student, response: resp})
			results = append(results, model.GradedAnswer{
				QuestionID:   q.ID,
				Student:      student,
				MaxMarks:     q.MaxMarks,
				QuestionText: q.QuestionText,
				Response:     resp,
			})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	var calls atomic.Int64
	issued := 0
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot may free up only after the run was canceled.
			if err := ctx.Err(); err != nil {
				markNotGraded(&results[t.index], err)
				return nil
			}
			calls.Add(1)
			results[t.index] = e.grade(gctx, t)
			return nil
		})
		issued++
	}
	_ = g.Wait()

	runErr := ctx.Err()
	for i := issued; i < len(results); i++ {
		markNotGraded(&results[i], runErr)
	}

	ev := model.Evaluation{
		Roster:   append(model.Roster(nil), roster...),
		Results:  results,
		Tally:    make(map[string]int, len(roster)),
		MaxTotal: key.MaxTotal(),
	}
	for _, student := range roster {
		ev.Tally[student] = 0
	}
	for _, r := range results {
		ev.Tally[r.Student] += r.Marks
	}

	e.log.Info("evaluation finished",
		"questions", key.Len(),
		"students", len(roster),
		"calls", calls.Load(),
		"failures", ev.Failures(),
		"max_total", ev.MaxTotal,
	)
	if runErr != nil {
		return ev, fmt.Errorf("evaluation interrupted: %w", runErr)
	}
	return ev, nil
}

func (e *Evaluator) grade(ctx context.Context, t task) model.GradedAnswer {
	q := t.question
	out := model.GradedAnswer{
		QuestionID:   q.ID,
		Student:      t.student,
		MaxMarks:     q.MaxMarks,
		QuestionText: q.QuestionText,
		Response:     t.response,
	}

	raw, err := e.grader.Grade(ctx, model.GradeRequest{
		Question:  q.QuestionText,
		Reference: q.ReferenceAnswer,
		Response:  t.response,
		MaxMarks:  q.MaxMarks,
	})
	if err != nil {
		e.log.Error("grading failed",
			"question", q.ID,
			"student", t.student,
			"rate_limited", llm.IsRateLimited(err),
			"auth_error", llm.IsAuthError(err),
			"error", err,
		)
		out.Failed = true
		out.Error = err.Error()
		return out
	}

	out.Graded = raw
	marks := llm.ExtractMarks(raw)
	if e.opts.ClampMarks {
		if clamped := clamp(marks, q.MaxMarks); clamped != marks {
			e.log.Warn("marks outside range, clamped",
				"question", q.ID,
				"student", t.student,
				"marks", marks,
				"max_marks", q.MaxMarks,
			)
			marks = clamped
		}
	}
	out.Marks = marks
	e.log.Debug("graded answer", "question", q.ID, "student", t.student, "marks", marks)
	return out
}

func markNotGraded(r *model.GradedAnswer, err error) {
	r.Failed = true
	r.Error = fmt.Sprintf("not graded: %v", err)
}

func clamp(marks, limit int) int {
	if limit < 0 {
		limit = 0
	}
	return min(max(marks, 0), limit)
}
