/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package feud

import (
	"errors"
	"fmt"
	"slices"
)

const (
	MinTeams   = 2
	MaxTeams   = 10
	MaxStrikes = 5
)

var (
	// ErrWrongPhase is returned when an action is not valid in the current phase.
	ErrWrongPhase = errors.New("action not valid in current phase")
	// ErrTeamCount is returned for a team count outside [MinTeams, MaxTeams].
	ErrTeamCount = errors.New("team count out of range")
	// ErrAnswerIndex is returned for an answer index not on the current question.
	ErrAnswerIndex = errors.New("answer index out of range")
	// ErrTeamIndex is returned for a team index outside the configured teams.
	ErrTeamIndex = errors.New("team index out of range")
)

// Phase is the coarse screen the game is on.
type Phase int

const (
	NoQuestions Phase = iota
	TeamCountPending
	TeamSetup
	InProgress
)

func (p Phase) String() string {
	switch p {
	case NoQuestions:
		return "no_questions"
	case TeamCountPending:
		return "team_count"
	case TeamSetup:
		return "team_setup"
	case InProgress:
		return "in_progress"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type Team struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Strikes int    `json:"strikes"`
}

// Engine owns one game session. It is not safe for concurrent use; the
// caller serializes actions.
type Engine struct {
	store Store
	phase Phase

	teams       []Team
	currentTeam int
	revealed    []int // answer indices, in reveal order
	roundPoints int
}

func NewEngine() *Engine {
	return &Engine{}
}

// Load replaces the question set and discards all session state. An empty
// set leaves the game waiting for questions.
func (e *Engine) Load(qs QuestionSet) Phase {
	e.store.Load(qs)
	e.teams = nil
	e.clearRound()
	e.currentTeam = 0

	if e.store.Count() == 0 {
		e.phase = NoQuestions
	} else {
		e.phase = TeamCountPending
	}

	return e.phase
}

// SelectTeamCount creates n default-named teams.
func (e *Engine) SelectTeamCount(n int) error {
	if e.phase != TeamCountPending {
		return ErrWrongPhase
	}
	if n < MinTeams || n > MaxTeams {
		return fmt.Errorf("%w: %d", ErrTeamCount, n)
	}

	e.teams = make([]Team, n)
	for i := range e.teams {
		e.teams[i].Name = fmt.Sprintf("Team %d", i+1)
	}
	e.phase = TeamSetup

	return nil
}

// RenameTeam sets a team's name during setup. Names are not validated.
func (e *Engine) RenameTeam(team int, name string) error {
	if e.phase != TeamSetup {
		return ErrWrongPhase
	}
	if team < 0 || team >= len(e.teams) {
		return fmt.Errorf("%w: %d", ErrTeamIndex, team)
	}

	e.teams[team].Name = name

	return nil
}

func (e *Engine) StartGame() error {
	if e.phase != TeamSetup {
		return ErrWrongPhase
	}

	e.clearRound()
	e.currentTeam = 0
	e.phase = InProgress

	return nil
}

// BackToTeamCount abandons team setup, or a running game, and returns to
// team count selection. Questions are kept and the next game starts from
// the first one.
func (e *Engine) BackToTeamCount() error {
	if e.phase != TeamSetup && e.phase != InProgress {
		return ErrWrongPhase
	}

	e.store.Rewind()
	e.teams = nil
	e.clearRound()
	e.currentTeam = 0
	e.phase = TeamCountPending

	return nil
}

// RevealAnswer shows an answer and banks its points into the round. Revealing
// an answer twice does nothing; changed reports whether this call revealed it.
func (e *Engine) RevealAnswer(answer int) (changed bool, err error) {
	if e.phase != InProgress {
		return false, ErrWrongPhase
	}

	q, _ := e.store.Current()
	if answer < 0 || answer >= len(q.Answers) {
		return false, fmt.Errorf("%w: %d", ErrAnswerIndex, answer)
	}

	if slices.Contains(e.revealed, answer) {
		return false, nil
	}

	e.revealed = append(e.revealed, answer)
	e.roundPoints += q.Answers[answer].Points

	return true, nil
}

// AddStrike gives the current team a strike, up to MaxStrikes.
func (e *Engine) AddStrike() (changed bool, err error) {
	if e.phase != InProgress {
		return false, ErrWrongPhase
	}

	t := &e.teams[e.currentTeam]
	if t.Strikes >= MaxStrikes {
		return false, nil
	}
	t.Strikes++

	return true, nil
}

// SwitchTeam passes the turn to the next team, wrapping around.
func (e *Engine) SwitchTeam() (int, error) {
	if e.phase != InProgress {
		return e.currentTeam, ErrWrongPhase
	}

	e.currentTeam = (e.currentTeam + 1) % len(e.teams)

	return e.currentTeam, nil
}

// AwardPoints moves the round's points to a team and returns how many were
// awarded. Awarding an empty round is allowed and adds nothing.
func (e *Engine) AwardPoints(team int) (int, error) {
	if e.phase != InProgress {
		return 0, ErrWrongPhase
	}
	if team < 0 || team >= len(e.teams) {
		return 0, fmt.Errorf("%w: %d", ErrTeamIndex, team)
	}

	awarded := e.roundPoints
	e.teams[team].Score += awarded
	e.roundPoints = 0

	return awarded, nil
}

// NextQuestion moves the board to the next question, clearing reveals,
// strikes and round points. On the last question it does nothing and
// reports false. Scores and the current team carry over.
func (e *Engine) NextQuestion() (bool, error) {
	if e.phase != InProgress {
		return false, ErrWrongPhase
	}

	if !e.store.Advance() {
		return false, nil
	}
	e.clearRound()

	return true, nil
}

// ResetGame starts over from the first question with the same teams.
func (e *Engine) ResetGame() error {
	if e.phase != InProgress {
		return ErrWrongPhase
	}

	e.store.Rewind()
	e.clearRound()
	for i := range e.teams {
		e.teams[i].Score = 0
	}
	e.currentTeam = 0

	return nil
}

func (e *Engine) clearRound() {
	e.revealed = nil
	e.roundPoints = 0
	for i := range e.teams {
		e.teams[i].Strikes = 0
	}
}

func (e *Engine) Phase() Phase {
	return e.phase
}

func (e *Engine) RoundPoints() int {
	return e.roundPoints
}

func (e *Engine) CurrentTeam() int {
	return e.currentTeam
}

func (e *Engine) QuestionIndex() int {
	return e.store.ActiveIndex()
}

func (e *Engine) QuestionCount() int {
	return e.store.Count()
}

// CurrentQuestion returns the question on the board, if any are loaded.
func (e *Engine) CurrentQuestion() (Question, bool) {
	return e.store.Current()
}

// Teams returns a copy of the team list.
func (e *Engine) Teams() []Team {
	return slices.Clone(e.teams)
}

// Revealed returns the revealed answer indices in reveal order.
func (e *Engine) Revealed() []int {
	return slices.Clone(e.revealed)
}

func (e *Engine) IsRevealed(answer int) bool {
	return slices.Contains(e.revealed, answer)
}
