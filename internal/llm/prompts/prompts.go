package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/evaluator/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// maxAnswerRunes bounds the student answer embedded in a prompt.
const maxAnswerRunes = 10000

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict is the strict examiner instruction and the default.
	PromptStrict PromptVariant = "strict"
	// PromptStandard grades content over wording.
	PromptStandard PromptVariant = "standard"
	// PromptLenient gives partial marks generously.
	PromptLenient PromptVariant = "lenient"
)

var variants = []PromptVariant{PromptStrict, PromptStandard, PromptLenient}

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	for _, known := range variants {
		if PromptVariant(v) == known {
			return true
		}
	}
	return false
}

// GradeData holds template data for grading prompts.
type GradeData struct {
	Question  string
	Reference string
	Answer    string
	MaxMarks  int
}

// Set is a loaded collection of grading templates, one per variant.
type Set struct {
	templates map[PromptVariant]*template.Template
}

// Load parses templates/grade_<variant>.txt for every variant from fsys.
func Load(fsys fs.FS) (*Set, error) {
	s := &Set{templates: make(map[PromptVariant]*template.Template, len(variants))}
	for _, v := range variants {
		name := "templates/grade_" + string(v) + ".txt"
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", name, err)
		}
		tmpl, err := template.New(string(v)).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
		}
		s.templates[v] = tmpl
	}
	return s, nil
}

var loadDefault = sync.OnceValues(func() (*Set, error) {
	return Load(templateFS)
})

// Default returns the embedded template set. It is loaded once.
func Default() (*Set, error) {
	return loadDefault()
}

// Build renders the grading instruction for one request.
func (s *Set) Build(variant PromptVariant, req model.GradeRequest) (string, error) {
	if s == nil || s.templates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := s.templates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := GradeData{
		Question:  req.Question,
		Reference: req.Reference,
		Answer:    sanitizeAnswer(req.Response),
		MaxMarks:  req.MaxMarks,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
