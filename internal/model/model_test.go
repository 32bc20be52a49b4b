package model

import (
	"errors"
	"reflect"
	"testing"
)

func TestAnswerKeyPut(t *testing.T) {
	k := NewAnswerKey()
	k.Put(QuestionRecord{ID: "2", QuestionText: "first two", MaxMarks: 3})
	k.Put(QuestionRecord{ID: "1", QuestionText: "one", MaxMarks: 5})
	k.Put(QuestionRecord{ID: "2", QuestionText: "second two", MaxMarks: 4})

	if got, want := k.Order, []string{"2", "1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if k.Len() != 2 {
		t.Errorf("len = %d, want 2", k.Len())
	}
	if q := k.Questions()[0]; q.QuestionText != "second two" || q.MaxMarks != 4 {
		t.Errorf("duplicate id should keep the last content, got %+v", q)
	}
	if k.MaxTotal() != 9 {
		t.Errorf("max total = %d, want 9", k.MaxTotal())
	}
}

func TestZeroAnswerKey(t *testing.T) {
	var k AnswerKey
	if k.Len() != 0 || k.MaxTotal() != 0 || len(k.Questions()) != 0 {
		t.Errorf("zero key should be empty")
	}
	k.Put(QuestionRecord{ID: "1", MaxMarks: 2})
	if k.MaxTotal() != 2 {
		t.Errorf("max total = %d, want 2", k.MaxTotal())
	}
}

func TestNewRoster(t *testing.T) {
	tests := []struct {
		n    int
		want Roster
	}{
		{0, Roster{}},
		{1, Roster{"Student 1"}},
		{3, Roster{"Student 1", "Student 2", "Student 3"}},
	}
	for _, tt := range tests {
		if got := NewRoster(tt.n); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("NewRoster(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestStudentResponseSet(t *testing.T) {
	s := StudentResponseSet{"1": {"Student 1": "Four"}}
	if got := s.Response("1", "Student 1"); got != "Four" {
		t.Errorf("got %q", got)
	}
	if got := s.Response("1", "Student 2"); got != "" {
		t.Errorf("missing student should be empty, got %q", got)
	}
	if got := s.Response("9", "Student 1"); got != "" {
		t.Errorf("missing question should be empty, got %q", got)
	}
}

func TestEvaluationHelpers(t *testing.T) {
	ev := Evaluation{
		Roster: NewRoster(2),
		Results: []GradedAnswer{
			{QuestionID: "1", Student: "Student 1", Marks: 2},
			{QuestionID: "1", Student: "Student 2", Failed: true},
			{QuestionID: "2", Student: "Student 1", Marks: 1},
			{QuestionID: "2", Student: "Student 2", Failed: true},
		},
	}
	got := ev.ForStudent("Student 1")
	if len(got) != 2 || got[0].QuestionID != "1" || got[1].QuestionID != "2" {
		t.Errorf("ForStudent = %+v", got)
	}
	if ev.Failures() != 2 {
		t.Errorf("failures = %d, want 2", ev.Failures())
	}
}

func TestParseDiagnostics(t *testing.T) {
	d := ParseDiagnostics{Document: "students.txt", BlocksAttempted: 3, BlocksMatched: 2}
	if !d.Lossy() {
		t.Error("expected lossy diagnostics")
	}
	if got, want := d.String(), "students.txt: 2/3 blocks matched"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	d.BlocksMatched = 3
	if d.Lossy() {
		t.Error("expected lossless diagnostics")
	}
}

func TestConfigurationErrors(t *testing.T) {
	for _, err := range []error{ErrMissingCredential, ErrDocumentCount, ErrDocumentNaming} {
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("%v should wrap ErrConfiguration", err)
		}
	}
}
