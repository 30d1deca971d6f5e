// Package trigger decides whether a round may be closed. Everything in here
// is read-only so the automation side can poll it as often as it likes.
package trigger

import (
	"time"

	"github.com/dedis/raffle"
)

// State is the part of the round state the trigger looks at.
type State struct {
	Phase     raffle.Phase
	Players   int
	Pot       uint64
	LastClose time.Time
	Interval  time.Duration
}

// Result holds each condition separately, which makes it easier to report
// why upkeep is not needed.
type Result struct {
	Open       bool
	TimePassed bool
	HasPlayers bool
	HasBalance bool
}

// Eligible is true iff all the conditions hold.
func (r Result) Eligible() bool {
	return r.Open && r.TimePassed && r.HasPlayers && r.HasBalance
}

// Evaluate checks st against now.
func Evaluate(st State, now time.Time) Result {
	return Result{
		Open:       st.Phase == raffle.Open,
		TimePassed: now.Sub(st.LastClose) >= st.Interval,
		HasPlayers: st.Players > 0,
		HasBalance: st.Pot > 0,
	}
}

// Eligible is a shorthand for Evaluate(st, now).Eligible().
func Eligible(st State, now time.Time) bool {
	return Evaluate(st, now).Eligible()
}
