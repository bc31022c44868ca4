// Package corpus loads the documents an index is built from and carries the
// sample corpus and queries used by the demo command.
package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/errors"
)

// Sample is the four-document medical corpus the demo indexes.
func Sample() []string {
	return []string{
		"After the medication, headache and nausea were reported by the patient.",
		"The patient reported nausea and dizziness caused by the medication.",
		"Headache and dizziness are common effects of this medication.",
		"The medication caused a headache and nausea, but no dizziness was reported.",
	}
}

// SampleQueries are run against Sample by the demo command.
func SampleQueries() []string {
	return []string{
		"nausea and dizziness",
		"effects",
		"nausea was reported",
		"dizziness",
		"the medication",
	}
}

// Load reads a corpus file. ".json" files hold an array of strings, ".yaml"
// and ".yml" files a list of strings; anything else is read as one document
// per non-blank line.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}
	defer f.Close()

	docs, err := Read(f, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("reading corpus %s: %w", path, err)
	}
	return docs, nil
}

type Format string

const (
	FormatLines Format = "lines"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatLines
	}
}

// Read parses a corpus in the given format.
func Read(r io.Reader, format Format) ([]string, error) {
	switch format {
	case FormatJSON:
		var docs []string
		if err := json.NewDecoder(r).Decode(&docs); err != nil {
			return nil, fmt.Errorf("%w: corpus must be a JSON array of strings: %v", apperrors.ErrInvalidInput, err)
		}
		return nonNil(docs), nil
	case FormatYAML:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		var docs []string
		if err := yaml.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("%w: corpus must be a YAML list of strings: %v", apperrors.ErrInvalidInput, err)
		}
		return nonNil(docs), nil
	default:
		return readLines(r)
	}
}

func readLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	docs := []string{}
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		docs = append(docs, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func nonNil(docs []string) []string {
	if docs == nil {
		return []string{}
	}
	return docs
}
