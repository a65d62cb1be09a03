/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package feud

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AnswerView is one slot on the board. Hidden answers carry no text or
// points unless the view is for the host.
type AnswerView struct {
	Index    int    `json:"index"`
	Revealed bool   `json:"revealed"`
	Text     string `json:"text,omitempty"`
	Display  string `json:"display,omitempty"` // upper-cased board text
	Points   int    `json:"points"`
}

type QuestionView struct {
	Prompt  string       `json:"prompt"`
	Answers []AnswerView `json:"answers"`
}

// State is a read-only snapshot of the session, ready to be rendered.
type State struct {
	Phase         string        `json:"phase"`
	QuestionIndex int           `json:"question_index"`
	QuestionCount int           `json:"question_count"`
	LastQuestion  bool          `json:"last_question"`
	Question      *QuestionView `json:"question,omitempty"`
	Revealed      []int         `json:"revealed"`
	RoundPoints   int           `json:"round_points"`
	CurrentTeam   int           `json:"current_team"`
	Teams         []Team        `json:"teams"`
	MinTeams      int           `json:"min_teams"`
	MaxTeams      int           `json:"max_teams"`
	MaxStrikes    int           `json:"max_strikes"`
}

// View snapshots the session. host controls whether unrevealed answers are
// included.
func (e *Engine) View(host bool) State {
	st := State{
		Phase:         e.phase.String(),
		QuestionIndex: e.store.ActiveIndex(),
		QuestionCount: e.store.Count(),
		LastQuestion:  e.store.IsLast(),
		Revealed:      e.Revealed(),
		RoundPoints:   e.roundPoints,
		CurrentTeam:   e.currentTeam,
		Teams:         e.Teams(),
		MinTeams:      MinTeams,
		MaxTeams:      MaxTeams,
		MaxStrikes:    MaxStrikes,
	}
	if st.Revealed == nil {
		st.Revealed = []int{}
	}
	if st.Teams == nil {
		st.Teams = []Team{}
	}

	if e.phase != InProgress {
		return st
	}

	q, ok := e.store.Current()
	if !ok {
		return st
	}

	upper := cases.Upper(language.English)

	qv := &QuestionView{
		Prompt:  q.Prompt,
		Answers: make([]AnswerView, len(q.Answers)),
	}
	for i, a := range q.Answers {
		av := AnswerView{
			Index:    i,
			Revealed: e.IsRevealed(i),
		}
		if av.Revealed || host {
			av.Text = a.Text
			av.Display = upper.String(a.Text)
			av.Points = a.Points
		}
		qv.Answers[i] = av
	}
	st.Question = qv

	return st
}
