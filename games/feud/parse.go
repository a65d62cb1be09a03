/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package feud

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseCSV reads rows of the form
//
//	question, answer_1, points_1, answer_2, points_2, ...
//
// Rows with fewer than three cells or no question are skipped, as are
// incomplete answer/points pairs. Points that do not start with a number
// count as zero. Questions left with no answers are dropped.
func ParseCSV(r io.Reader) (QuestionSet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	qs := QuestionSet{}

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse questions: %w", err)
		}

		q, ok := parseRow(row)
		if !ok {
			continue
		}
		qs = append(qs, q)
	}

	return qs, nil
}

func parseRow(row []string) (Question, bool) {
	if len(row) < 3 || row[0] == "" {
		return Question{}, false
	}

	q := Question{Prompt: row[0]}

	for i := 1; i+1 < len(row); i += 2 {
		text := strings.TrimSpace(row[i])
		if text == "" || row[i+1] == "" {
			continue
		}
		q.Answers = append(q.Answers, Answer{
			Text:   text,
			Points: parsePoints(row[i+1]),
		})
	}

	if len(q.Answers) == 0 {
		return Question{}, false
	}

	return q, true
}

// parsePoints takes the leading run of digits, so " 45 pts" is 45. Anything
// else, including negative numbers, is 0.
func parsePoints(cell string) int {
	cell = strings.TrimSpace(cell)
	cell = strings.TrimPrefix(cell, "+")

	end := 0
	for end < len(cell) && cell[end] >= '0' && cell[end] <= '9' {
		end++
	}

	n, err := strconv.Atoi(cell[:end])
	if err != nil {
		return 0
	}

	return n
}
