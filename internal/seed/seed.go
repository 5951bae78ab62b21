// Package seed loads question banks for batch import.
package seed

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/qareview/internal/model"
)

//go:embed mock_questions.yaml
var mockYAML []byte

// MockImporter is recorded as ImportedBy for the built-in bank.
const MockImporter = "system"

// File is the on-disk layout of a question bank. JSON files use the same
// keys, since YAML is a superset of JSON.
type File struct {
	Subject    string                `yaml:"subject"`
	SourceID   string                `yaml:"source_id"`
	SourceName string                `yaml:"source_name"`
	Questions  []model.QuestionInput `yaml:"questions"`
}

// MockBatch returns the built-in question bank filed under subject.
func MockBatch(subject string) (model.BatchImport, error) {
	f, err := parse(mockYAML)
	if err != nil {
		return model.BatchImport{}, fmt.Errorf("parse mock bank: %w", err)
	}
	b := f.batch(subject)
	b.ImportedBy = MockImporter
	b.IsMockData = true
	return b, nil
}

// LoadFile reads a YAML or JSON question bank. A non-empty subject
// overrides the one in the file. The result is not validated here;
// CreateBatch does that before writing.
func LoadFile(path, subject string) (model.BatchImport, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return model.BatchImport{}, fmt.Errorf("unsupported question file type %q", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.BatchImport{}, fmt.Errorf("read question file: %w", err)
	}
	return Decode(data, filepath.Base(path), subject)
}

// Decode parses an uploaded question bank. name is the original file name
// and fills in missing source fields.
func Decode(data []byte, name, subject string) (model.BatchImport, error) {
	f, err := parse(data)
	if err != nil {
		return model.BatchImport{}, fmt.Errorf("parse %s: %w", name, err)
	}
	b := f.batch(subject)
	if b.SourceID == "" {
		b.SourceID = name
	}
	if b.SourceName == "" {
		b.SourceName = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return b, nil
}

func parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, err
	}
	return f, nil
}

func (f File) batch(subject string) model.BatchImport {
	if subject == "" {
		subject = f.Subject
	}
	return model.BatchImport{
		Subject:    subject,
		SourceID:   f.SourceID,
		SourceName: f.SourceName,
		Questions:  f.Questions,
	}
}
