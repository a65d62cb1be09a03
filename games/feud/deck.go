/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package feud

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Deck is the YAML form of a question set:
//
//	questions:
//	  - prompt: Name a popular pet
//	    answers:
//	      - text: Dog
//	        points: 45
type Deck struct {
	Questions []Question `yaml:"questions"`
}

// ParseYAML reads a YAML deck, applying the same cleanup rules as ParseCSV.
func ParseYAML(r io.Reader) (QuestionSet, error) {
	var d Deck

	err := yaml.NewDecoder(r).Decode(&d)
	if errors.Is(err, io.EOF) {
		return QuestionSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse deck: %w", err)
	}

	qs := QuestionSet{}
	for _, q := range d.Questions {
		if q.Prompt == "" {
			continue
		}

		clean := Question{Prompt: q.Prompt}
		for _, a := range q.Answers {
			text := strings.TrimSpace(a.Text)
			if text == "" {
				continue
			}
			clean.Answers = append(clean.Answers, Answer{
				Text:   text,
				Points: max(a.Points, 0),
			})
		}

		if len(clean.Answers) == 0 {
			continue
		}
		qs = append(qs, clean)
	}

	return qs, nil
}

// ParseFile picks a parser from the file name: .yaml and .yml are decks,
// everything else is read as CSV.
func ParseFile(name string, r io.Reader) (QuestionSet, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return ParseYAML(r)
	default:
		return ParseCSV(r)
	}
}
