// Package tracker remembers the single outstanding randomness request of a
// round.
package tracker

import (
	"github.com/dedis/raffle"
	"golang.org/x/xerrors"
)

// Tracker holds at most one pending request id. The zero value is ready to
// use. Ids are never zero.
type Tracker struct {
	pending uint64
}

// Track records id as the outstanding request.
func (t *Tracker) Track(id uint64) error {
	if id == 0 {
		return xerrors.Errorf("request id 0: %w", raffle.ErrUnknownRequest)
	}
	if t.pending != 0 {
		return xerrors.Errorf("tracking %d while %d is pending: %w", id,
			t.pending, raffle.ErrRequestPending)
	}
	t.pending = id
	return nil
}

// Pending returns the outstanding id, if any.
func (t *Tracker) Pending() (uint64, bool) {
	return t.pending, t.pending != 0
}

// Match fails unless id is the outstanding request.
func (t *Tracker) Match(id uint64) error {
	if t.pending == 0 || id != t.pending {
		return xerrors.Errorf("request %d: %w", id, raffle.ErrUnknownRequest)
	}
	return nil
}

// Consume matches id and forgets it, so a second fulfillment with the same
// id fails.
func (t *Tracker) Consume(id uint64) error {
	if err := t.Match(id); err != nil {
		return err
	}
	t.pending = 0
	return nil
}

func (t *Tracker) Reset() {
	t.pending = 0
}

// Restore sets the pending id from a snapshot; 0 clears it.
func (t *Tracker) Restore(id uint64) {
	t.pending = id
}
