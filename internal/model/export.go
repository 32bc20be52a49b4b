package model

import "time"

// RunMeta describes how an evaluation run was produced.
type RunMeta struct {
	Model         string `json:"model"`
	PromptVariant string `json:"prompt_variant"`
	AnswerKeyName string `json:"answer_key"`
	StudentsName  string `json:"students"`
}

// RunExport is the top-level JSON structure for an evaluation run.
type RunExport struct {
	RunID       int64              `json:"run_id,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	Meta        RunMeta            `json:"meta"`
	MaxTotal    int                `json:"max_total"`
	Diagnostics []ParseDiagnostics `json:"diagnostics,omitempty"`
	Students    []StudentResult    `json:"students"`
}

// StudentResult holds one student's graded answers.
type StudentResult struct {
	Student   string           `json:"student"`
	Total     int              `json:"total"`
	MaxTotal  int              `json:"max_total"`
	Questions []QuestionResult `json:"questions"`
}

// QuestionResult holds per-question data for export.
type QuestionResult struct {
	QuestionID string `json:"question_id"`
	MaxMarks   int    `json:"max_marks"`
	Question   string `json:"question"`
	Response   string `json:"response"`
	Graded     string `json:"graded"`
	Marks      int    `json:"marks"`
	Verdict    string `json:"verdict,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Failed     bool   `json:"failed,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunRecord is an archived run.
type RunRecord struct {
	ID          int64
	CreatedAt   time.Time
	Meta        RunMeta
	Evaluation  Evaluation
	Diagnostics []ParseDiagnostics
}

// RunSummary is a row of the run listing.
type RunSummary struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Meta      RunMeta   `json:"meta"`
	MaxTotal  int       `json:"max_total"`
	Answers   int       `json:"answers"`
	Failures  int       `json:"failures"`
}
