/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "slices"

// GuessEntry records one comparison as the player saw it.
type GuessEntry struct {
	ChosenName      string `json:"chosen_name"`
	OtherName       string `json:"other_name"`
	ChosenListeners int64  `json:"chosen_listeners"`
	OtherListeners  int64  `json:"other_listeners"`
}

func (e GuessEntry) Won() bool {
	return e.ChosenListeners > e.OtherListeners
}

type Outcome int

const (
	OutcomeError Outcome = iota
	OutcomeContinue
	OutcomeTerminate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeTerminate:
		return "terminate"
	default:
		return "error"
	}
}

// GuessResult is what SubmitGuess hands back to the caller.
//
//   - OutcomeError: Err is set, nothing else is meaningful.
//   - OutcomeContinue: Pair holds the next comparison, Score the running score.
//   - OutcomeTerminate: Score and History describe the finished game.
type GuessResult struct {
	Outcome Outcome
	Err     error
	Entry   GuessEntry
	Score   int
	Pair    [2]Artist
	History []GuessEntry
}

// Session is one player's game in progress. The zero value is an empty
// session waiting for Start.
type Session struct {
	score   int
	history []GuessEntry
	pair    [2]Artist
}

// Start discards any game in progress and draws a fresh pair.
func (s *Session) Start(pool *Pool) {
	s.score = 0
	s.history = nil
	s.pair[0], s.pair[1] = pool.SampleTwo()
}

// SubmitGuess compares chosen against other. Ties lose.
func (s *Session) SubmitGuess(pool *Pool, chosen, other string) GuessResult {
	chosenArtist, err := pool.Lookup(chosen)
	if err != nil {
		return GuessResult{Outcome: OutcomeError, Err: err}
	}

	otherArtist, err := pool.Lookup(other)
	if err != nil {
		return GuessResult{Outcome: OutcomeError, Err: err}
	}

	entry := GuessEntry{
		ChosenName:      chosen,
		OtherName:       other,
		ChosenListeners: chosenArtist.MonthlyListeners,
		OtherListeners:  otherArtist.MonthlyListeners,
	}
	s.history = append(s.history, entry)

	if entry.Won() {
		s.score++
		s.pair[0], s.pair[1] = pool.SampleTwo()

		return GuessResult{
			Outcome: OutcomeContinue,
			Entry:   entry,
			Score:   s.score,
			Pair:    s.pair,
		}
	}

	result := GuessResult{
		Outcome: OutcomeTerminate,
		Entry:   entry,
		Score:   s.score,
		History: s.history,
	}

	*s = Session{}

	return result
}

func (s *Session) Score() int {
	return s.score
}

func (s *Session) History() []GuessEntry {
	return slices.Clone(s.history)
}

func (s *Session) Pair() [2]Artist {
	return s.pair
}
