/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package feud

// Answer is a single survey answer and the points it is worth.
type Answer struct {
	Text   string `json:"text" yaml:"text"`
	Points int    `json:"points" yaml:"points"`
}

// Question is a survey prompt with its answers in reveal order.
type Question struct {
	Prompt  string   `json:"prompt" yaml:"prompt"`
	Answers []Answer `json:"answers" yaml:"answers"`
}

type QuestionSet []Question

// Store holds the loaded questions and which one is on the board.
type Store struct {
	questions QuestionSet
	active    int
}

// Load replaces the store contents and rewinds to the first question.
func (s *Store) Load(qs QuestionSet) {
	s.questions = qs
	s.active = 0
}

// Current returns the active question. ok is false when nothing is loaded.
func (s *Store) Current() (q Question, ok bool) {
	if len(s.questions) == 0 {
		return Question{}, false
	}
	return s.questions[s.active], true
}

// Advance moves to the next question, unless already on the last one.
func (s *Store) Advance() bool {
	if s.active >= len(s.questions)-1 {
		return false
	}
	s.active++
	return true
}

func (s *Store) Rewind() {
	s.active = 0
}

func (s *Store) Count() int {
	return len(s.questions)
}

func (s *Store) ActiveIndex() int {
	return s.active
}

func (s *Store) IsLast() bool {
	return s.active >= len(s.questions)-1
}
