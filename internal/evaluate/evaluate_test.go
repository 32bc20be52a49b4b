package evaluate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavelanni/evaluator/internal/docs"
	"github.com/pavelanni/evaluator/internal/model"
	"github.com/pavelanni/evaluator/internal/parse"
)

func quietOptions(concurrency int) Options {
	opts := DefaultOptions()
	opts.Concurrency = concurrency
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts
}

// exactGrader awards full marks when the response equals the reference,
// ignoring case, and zero otherwise.
func exactGrader() GraderFunc {
	return func(_ context.Context, req model.GradeRequest) (string, error) {
		if strings.EqualFold(req.Response, req.Reference) {
			return fmt.Sprintf("Marks: %d/%d\nVerdict: Correct\nReason: match", req.MaxMarks, req.MaxMarks), nil
		}
		return fmt.Sprintf("Marks: 0/%d\nVerdict: Wrong\nReason: mismatch", req.MaxMarks), nil
	}
}

func TestRunEndToEnd(t *testing.T) {
	key, _ := parse.AnswerKey("Q1 (5 marks):\nWhat is 2+2?\nFour")
	responses, _ := parse.Students("Q1:\nStudent 1: Four\nStudent 2: Five\nStudent 3: four")

	for _, concurrency := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency %d", concurrency), func(t *testing.T) {
			ev, err := New(exactGrader(), quietOptions(concurrency)).Run(context.Background(), key, responses)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			want := map[string]int{"Student 1": 5, "Student 2": 0, "Student 3": 5}
			if !reflect.DeepEqual(ev.Tally, want) {
				t.Errorf("tally = %v, want %v", ev.Tally, want)
			}
			if ev.MaxTotal != 5 {
				t.Errorf("max total = %d, want 5", ev.MaxTotal)
			}
			if len(ev.Results) != 3 {
				t.Fatalf("expected 3 results, got %d", len(ev.Results))
			}
			r := ev.ForStudent("Student 2")
			if len(r) != 1 || r[0].Response != "Five" || !strings.Contains(r[0].Graded, "Verdict: Wrong") {
				t.Errorf("unexpected Student 2 result %+v", r)
			}
		})
	}
}

func TestRunOrder(t *testing.T) {
	key, _ := parse.AnswerKey("Q2 (1 marks):\na\nb\nQ1 (2 marks):\nc\nd")
	ev, err := New(exactGrader(), quietOptions(3)).Run(context.Background(), key, model.StudentResponseSet{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got []string
	for _, r := range ev.Results {
		got = append(got, r.QuestionID+"/"+r.Student)
	}
	want := []string{
		"2/Student 1", "2/Student 2", "2/Student 3",
		"1/Student 1", "1/Student 2", "1/Student 3",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestRunMissingResponses(t *testing.T) {
	key, _ := parse.AnswerKey("Q1 (5 marks):\nWhat?\nThat\nQ2 (3 marks):\nWho?\nMe")
	responses, _ := parse.Students("Q1:\nStudent 1: That")

	var mu sync.Mutex
	calls := map[string]string{}
	grader := GraderFunc(func(_ context.Context, req model.GradeRequest) (string, error) {
		mu.Lock()
		calls[req.Question+"|"+req.Response] = req.Response
		mu.Unlock()
		return "Marks: 0/1", nil
	})

	ev, err := New(grader, quietOptions(2)).Run(context.Background(), key, responses)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ev.Results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(ev.Results))
	}
	for _, r := range ev.ForStudent("Student 2") {
		if r.Response != "" {
			t.Errorf("expected empty response for %s, got %q", r.QuestionID, r.Response)
		}
	}
	if _, ok := calls["Who?|"]; !ok {
		t.Error("question absent from the student document should still be graded with an empty response")
	}
}

func TestRunIdempotent(t *testing.T) {
	key, _ := parse.AnswerKey("Q1 (5 marks):\nA?\nx\nQ2 (5 marks):\nB?\ny")
	responses, _ := parse.Students("Q1:\nStudent 1: x\nStudent 2: z\nQ2:\nStudent 2: y\nStudent 3: Y")

	e := New(exactGrader(), quietOptions(4))
	first, err := e.Run(context.Background(), key, responses)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.Run(context.Background(), key, responses)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !reflect.DeepEqual(first.Tally, again.Tally) {
			t.Fatalf("tally changed between runs: %v vs %v", first.Tally, again.Tally)
		}
	}
}

func TestRunTallyBoundedByMaxTotal(t *testing.T) {
	key, _ := parse.AnswerKey("Q1 (2 marks):\nA?\nx\nQ2 (3 marks):\nB?\ny")
	inflating := GraderFunc(func(_ context.Context, req model.GradeRequest) (string, error) {
		return "Marks: 100/2\nVerdict: Correct", nil
	})

	ev, err := New(inflating, quietOptions(2)).Run(context.Background(), key, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ev.MaxTotal != 5 {
		t.Fatalf("max total = %d, want 5", ev.MaxTotal)
	}
	for student, score := range ev.Tally {
		if score > ev.MaxTotal {
			t.Errorf("%s scored %d > max %d", student, score, ev.MaxTotal)
		}
		if score != 5 {
			t.Errorf("%s scored %d, want 5 after clamping", student, score)
		}
	}

	opts := quietOptions(1)
	opts.ClampMarks = false
	ev, _ = New(inflating, opts).Run(context.Background(), key, nil)
	if ev.Tally["Student 1"] != 200 {
		t.Errorf("unclamped tally = %d, want 200", ev.Tally["Student 1"])
	}
}

func TestRunGradingFailure(t *testing.T) {
	key, _ := parse.AnswerKey("Q1 (5 marks):\nA?\nx")
	boom := errors.New("service unavailable")
	grader := GraderFunc(func(_ context.Context, req model.GradeRequest) (string, error) {
		if req.Response == "fail" {
			return "", boom
		}
		return "Marks: 4/5", nil
	})
	responses := model.StudentResponseSet{"1": {"Student 1": "ok", "Student 2": "fail", "Student 3": "ok"}}

	ev, err := New(grader, quietOptions(1)).Run(context.Background(), key, responses)
	if err != nil {
		t.Fatalf("a failed call must not fail the run: %v", err)
	}
	want := map[string]int{"Student 1": 4, "Student 2": 0, "Student 3": 4}
	if !reflect.DeepEqual(ev.Tally, want) {
		t.Errorf("tally = %v, want %v", ev.Tally, want)
	}
	failed := ev.ForStudent("Student 2")[0]
	if !failed.Failed || failed.Error != boom.Error() || failed.Marks != 0 {
		t.Errorf("expected failure marker, got %+v", failed)
	}
	if ev.Failures() != 1 {
		t.Errorf("failures = %d, want 1", ev.Failures())
	}
}

func TestRunMalformedOutput(t *testing.T) {
	key, _ := parse.AnswerKey("Q1 (5 marks):\nA?\nx")
	grader := GraderFunc(func(context.Context, model.GradeRequest) (string, error) {
		return "I think this is fine.", nil
	})
	ev, err := New(grader, quietOptions(1)).Run(context.Background(), key, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range ev.Results {
		if r.Failed || r.Marks != 0 || r.Graded != "I think this is fine." {
			t.Errorf("unexpected result %+v", r)
		}
	}
}

func TestRunCanceled(t *testing.T) {
	key, _ := parse.AnswerKey("Q1 (1 marks):\na\nb\nQ2 (1 marks):\nc\nd\nQ3 (1 marks):\ne\nf")

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	grader := GraderFunc(func(ctx context.Context, req model.GradeRequest) (string, error) {
		if calls.Add(1) == 2 {
			cancel()
		}
		return "Marks: 1/1", nil
	})

	ev, err := New(grader, quietOptions(1)).Run(ctx, key, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 calls before cancellation, got %d", n)
	}
	if len(ev.Results) != 9 {
		t.Fatalf("expected 9 results, got %d", len(ev.Results))
	}
	if ev.Failures() != 7 {
		t.Errorf("failures = %d, want 7", ev.Failures())
	}
	if ev.Tally["Student 1"] != 1 || ev.Tally["Student 2"] != 1 || ev.Tally["Student 3"] != 0 {
		t.Errorf("unexpected partial tally %v", ev.Tally)
	}
}

func TestRunBoundedConcurrency(t *testing.T) {
	key, _ := parse.AnswerKey("Q1 (1 marks):\na\nb\nQ2 (1 marks):\nc\nd\nQ3 (1 marks):\ne\nf\nQ4 (1 marks):\ng\nh")

	var inFlight, peak atomic.Int32
	grader := GraderFunc(func(context.Context, model.GradeRequest) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "Marks: 1/1", nil
	})

	ev, err := New(grader, quietOptions(3)).Run(context.Background(), key, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
	for student, score := range ev.Tally {
		if score != 4 {
			t.Errorf("%s = %d, want 4", student, score)
		}
	}
}

func TestRunCustomRoster(t *testing.T) {
	key, _ := parse.AnswerKey("Q1 (2 marks):\nA?\nyes")
	roster := model.NewRoster(5)
	responses, _ := parse.NewStudentParser(roster).Parse("Q1:\nStudent 4: yes\nStudent 5: no")

	opts := quietOptions(2)
	opts.Roster = roster
	ev, err := New(exactGrader(), opts).Run(context.Background(), key, responses)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ev.Tally) != 5 {
		t.Fatalf("expected 5 students, got %v", ev.Tally)
	}
	if ev.Tally["Student 4"] != 2 || ev.Tally["Student 5"] != 0 {
		t.Errorf("unexpected tally %v", ev.Tally)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct{ marks, limit, want int }{
		{3, 5, 3},
		{7, 5, 5},
		{-1, 5, 0},
		{2, 0, 0},
		{2, -3, 0},
	}
	for _, tt := range tests {
		if got := clamp(tt.marks, tt.limit); got != tt.want {
			t.Errorf("clamp(%d, %d) = %d, want %d", tt.marks, tt.limit, got, tt.want)
		}
	}
}

func TestRunDocuments(t *testing.T) {
	e := New(exactGrader(), quietOptions(2))
	documents := []docs.Document{
		{Name: "students.txt", Text: "Q1:\nStudent 1: Four\nStudent 2: Five\nStudent 3: four"},
		{Name: "answer_key.txt", Text: "Q1 (5 marks):\nWhat is 2+2?\nFour\nQ2 (oops):\nbroken"},
	}

	out, err := e.RunDocuments(context.Background(), documents)
	if err != nil {
		t.Fatalf("RunDocuments: %v", err)
	}
	if out.Documents.AnswerKey.Name != "answer_key.txt" {
		t.Errorf("answer key = %q", out.Documents.AnswerKey.Name)
	}
	if out.Evaluation.Tally["Student 1"] != 5 || out.Evaluation.Tally["Student 2"] != 0 {
		t.Errorf("unexpected tally %v", out.Evaluation.Tally)
	}
	if len(out.Diagnostics) != 2 || !out.Diagnostics[0].Lossy() || out.Diagnostics[0].Document != "answer_key.txt" {
		t.Errorf("unexpected diagnostics %+v", out.Diagnostics)
	}
}

func TestRunDocumentsConfigurationError(t *testing.T) {
	var calls atomic.Int32
	grader := GraderFunc(func(context.Context, model.GradeRequest) (string, error) {
		calls.Add(1)
		return "Marks: 1/1", nil
	})
	e := New(grader, quietOptions(1))

	_, err := e.RunDocuments(context.Background(), []docs.Document{{Name: "answer.txt", Text: "Q1 (1 marks):\na\nb"}})
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Error("no grading call may happen on a configuration error")
	}
}
