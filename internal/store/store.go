package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/evaluator/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise open its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		prompt_variant TEXT NOT NULL DEFAULT '',
		answer_key_name TEXT NOT NULL DEFAULT '',
		students_name TEXT NOT NULL DEFAULT '',
		max_total INTEGER NOT NULL DEFAULT 0,
		roster TEXT NOT NULL DEFAULT '[]',
		diagnostics TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS run_answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		question_id TEXT NOT NULL,
		student TEXT NOT NULL,
		max_marks INTEGER NOT NULL DEFAULT 0,
		question_text TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL DEFAULT '',
		graded TEXT NOT NULL DEFAULT '',
		marks INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_run_answers_run ON run_answers(run_id, position);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun archives an evaluation run and returns its ID.
func (s *Store) SaveRun(rec model.RunRecord) (int64, error) {
	roster, err := json.Marshal(rec.Evaluation.Roster)
	if err != nil {
		return 0, fmt.Errorf("marshal roster: %w", err)
	}
	diags, err := json.Marshal(rec.Diagnostics)
	if err != nil {
		return 0, fmt.Errorf("marshal diagnostics: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO runs (created_at, model, prompt_variant, answer_key_name, students_name, max_total, roster, diagnostics)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		createdAt, rec.Meta.Model, rec.Meta.PromptVariant, rec.Meta.AnswerKeyName, rec.Meta.StudentsName,
		rec.Evaluation.MaxTotal, string(roster), string(diags),
	)
	if err != nil {
		return 0, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, a := range rec.Evaluation.Results {
		_, err := tx.Exec(
			`INSERT INTO run_answers (run_id, position, question_id, student, max_marks, question_text, response, graded, marks, failed, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i, a.QuestionID, a.Student, a.MaxMarks, a.QuestionText, a.Response, a.Graded, a.Marks, a.Failed, a.Error,
		)
		if err != nil {
			return 0, err
		}
	}

	return runID, tx.Commit()
}

// GetRun returns an archived run. It returns sql.ErrNoRows when the run
// does not exist.
func (s *Store) GetRun(id int64) (model.RunRecord, error) {
	var rec model.RunRecord
	var roster, diags string
	err := s.db.QueryRow(
		`SELECT id, created_at, model, prompt_variant, answer_key_name, students_name, max_total, roster, diagnostics
		 FROM runs WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.Meta.Model, &rec.Meta.PromptVariant, &rec.Meta.AnswerKeyName,
		&rec.Meta.StudentsName, &rec.Evaluation.MaxTotal, &roster, &diags)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(roster), &rec.Evaluation.Roster); err != nil {
		return rec, fmt.Errorf("decode roster of run %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(diags), &rec.Diagnostics); err != nil {
		return rec, fmt.Errorf("decode diagnostics of run %d: %w", id, err)
	}

	answers, err := s.getAnswers(id)
	if err != nil {
		return rec, err
	}
	rec.Evaluation.Results = answers
	rec.Evaluation.Tally = make(map[string]int, len(rec.Evaluation.Roster))
	for _, student := range rec.Evaluation.Roster {
		rec.Evaluation.Tally[student] = 0
	}
	for _, a := range answers {
		rec.Evaluation.Tally[a.Student] += a.Marks
	}
	return rec, nil
}

func (s *Store) getAnswers(runID int64) ([]model.GradedAnswer, error) {
	rows, err := s.db.Query(
		`SELECT question_id, student, max_marks, question_text, response, graded, marks, failed, error
		 FROM run_answers WHERE run_id = ? ORDER BY position`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.GradedAnswer
	for rows.Next() {
		var a model.GradedAnswer
		if err := rows.Scan(&a.QuestionID, &a.Student, &a.MaxMarks, &a.QuestionText, &a.Response,
			&a.Graded, &a.Marks, &a.Failed, &a.Error); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]model.RunSummary, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, model, prompt_variant, answer_key_name, students_name, max_total,
		       (SELECT COUNT(*) FROM run_answers a WHERE a.run_id = runs.id),
		       (SELECT COALESCE(SUM(failed), 0) FROM run_answers a WHERE a.run_id = runs.id)
		FROM runs
		ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []model.RunSummary
	for rows.Next() {
		var r model.RunSummary
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Meta.Model, &r.Meta.PromptVariant, &r.Meta.AnswerKeyName,
			&r.Meta.StudentsName, &r.MaxTotal, &r.Answers, &r.Failures); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunCount returns the number of archived runs.
func (s *Store) RunCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&count)
	return count, err
}
