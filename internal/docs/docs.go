// Package docs loads the two input documents of an evaluation run and
// tells the answer key apart from the student submissions by name.
package docs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/evaluator/internal/model"
)

// Document is a named plain-text input.
type Document struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Pair is the answer key and the student submissions of one run.
type Pair struct {
	AnswerKey Document
	Students  Document
}

// Select picks the answer key (name contains "answer") and the student
// submissions (name contains "student") from exactly two documents.
// Names are compared case-insensitively.
func Select(documents []Document) (Pair, error) {
	if len(documents) != 2 {
		return Pair{}, fmt.Errorf("%w (got %d)", model.ErrDocumentCount, len(documents))
	}

	ak, st := -1, -1
	for i, d := range documents {
		name := strings.ToLower(d.Name)
		if ak < 0 && strings.Contains(name, "answer") {
			ak = i
		}
		if st < 0 && strings.Contains(name, "student") {
			st = i
		}
	}
	if ak < 0 || st < 0 {
		return Pair{}, fmt.Errorf("%w (got %q, %q)", model.ErrDocumentNaming, documents[0].Name, documents[1].Name)
	}
	if ak == st {
		// The first document matched both conventions; let the other one
		// take whichever role it also matches.
		other := 1 - ak
		name := strings.ToLower(documents[other].Name)
		switch {
		case strings.Contains(name, "student"):
			st = other
		case strings.Contains(name, "answer"):
			ak = other
		default:
			return Pair{}, fmt.Errorf("%w: %q matches both and %q matches neither",
				model.ErrDocumentNaming, documents[ak].Name, documents[other].Name)
		}
	}
	return Pair{AnswerKey: documents[ak], Students: documents[st]}, nil
}

// ReadFiles reads the named files as UTF-8 documents named by their base name.
func ReadFiles(paths []string) ([]Document, error) {
	out := make([]Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("read %s: not valid UTF-8", p)
		}
		out = append(out, Document{Name: filepath.Base(p), Text: string(data)})
	}
	return out, nil
}
