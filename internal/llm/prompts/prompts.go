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
)

//go:embed templates/*.txt
var templateFS embed.FS

var instructionTagRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)

const maxFieldRunes = 4000

// PromptVariant represents an evaluation prompt variant.
type PromptVariant string

const (
	// PromptStrict is used for question banks that feed licensing exams.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default evaluation variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is used for practice sets.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce      sync.Once
	loadErr       error
	evalTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// Mistake is one memory line folded into the prompt.
type Mistake struct {
	Pattern    string
	Resolution string
}

// EvalData holds template data for evaluation prompts.
type EvalData struct {
	Subject       string
	Question      string
	CorrectAnswer string
	Options       []string
	Mistakes      []Mistake
}

var funcs = template.FuncMap{
	"letter": func(i int) string {
		if i < 26 {
			return string(rune('A' + i))
		}
		return fmt.Sprint(i + 1)
	},
}

// Load parses the embedded prompt templates. It is safe to call repeatedly.
func Load() error {
	return loadFrom(templateFS)
}

func loadFrom(fsys fs.FS) error {
	loadOnce.Do(func() {
		tmpls := make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			file := "templates/eval_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New("eval_" + string(v)).Funcs(funcs).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			tmpls[v] = tmpl
		}
		evalTemplates = tmpls
	})
	return loadErr
}

// BuildEvalPrompt renders the evaluation prompt for the given variant.
func BuildEvalPrompt(variant PromptVariant, data EvalData) (string, error) {
	if evalTemplates == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := evalTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data.Question = sanitize(data.Question)
	data.CorrectAnswer = sanitize(data.CorrectAnswer)
	options := make([]string, len(data.Options))
	for i, o := range data.Options {
		options[i] = sanitize(o)
	}
	data.Options = options

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sanitize strips instruction tags and caps field length.
func sanitize(s string) string {
	s = instructionTagRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxFieldRunes {
		runes := []rune(s)
		s = string(runes[:maxFieldRunes]) + " [truncated]"
	}
	return s
}
