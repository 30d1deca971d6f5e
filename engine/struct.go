package engine

import (
	"time"

	"github.com/dedis/raffle"
	"github.com/dedis/raffle/payout"
)

// Requester asks the randomness oracle for a value. The oracle answers later
// by calling Engine.Fulfill with the returned id; it must not do so from
// within RequestRandomness.
type Requester interface {
	RequestRandomness() (uint64, error)
}

// Canceler is implemented by oracles that can drop a queued request. The
// engine cancels a request it got but could not journal.
type Canceler interface {
	CancelRequest(id uint64)
}

// Journal persists the round state after every committed change.
type Journal interface {
	Save(snap *raffle.Snapshot) error
}

// Listener receives events once the change that caused them is committed.
type Listener func(ev raffle.Event)

// Config is fixed for the lifetime of an engine.
type Config struct {
	EntranceFee uint64
	Interval    time.Duration
	Randomness  Requester
	Payout      payout.Executor
	// Journal is optional.
	Journal Journal
	// Clock defaults to time.Now.
	Clock     func() time.Time
	Listeners []Listener
}
