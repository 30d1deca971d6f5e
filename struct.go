package raffle

import (
	"time"
)

// Phase is the state of the current round.
type Phase int32

const (
	// Open accepts entries.
	Open Phase = iota
	// Closing waits for the randomness oracle and rejects entries.
	Closing
)

func (p Phase) String() string {
	switch p {
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Event names.
const (
	EventEntered          = "entered"
	EventClosingRequested = "closing-requested"
	EventWinnerPicked     = "winner-picked"
)

// Event is a notification emitted after a committed state change.
type Event struct {
	Name        string
	Round       uint64
	Participant string
	RequestID   uint64
	Amount      uint64
}

// Claim is a payout that could not be transferred to its winner. It is kept
// until RetryClaims manages to settle it.
type Claim struct {
	Winner    string
	Amount    uint64
	RequestID uint64
	Round     uint64
}

// Snapshot is the encodable copy of the round state. Durations and times
// are stored in nanoseconds so that the struct survives protobuf encoding.
type Snapshot struct {
	Phase          int32
	Participants   []string
	Pot            uint64
	EntranceFee    uint64
	Interval       int64
	LastClose      int64
	PendingRequest uint64
	RecentWinner   string
	Round          uint64
	Claims         []Claim
}

// LastCloseTime returns LastClose as a time.
func (s *Snapshot) LastCloseTime() time.Time {
	return time.Unix(0, s.LastClose)
}

// Check verifies the invariants that must hold between phase, pending
// request and ledger.
func (s *Snapshot) Check() error {
	switch Phase(s.Phase) {
	case Open:
		if s.PendingRequest != 0 {
			return ErrCorruptSnapshot
		}
	case Closing:
		if s.PendingRequest == 0 || len(s.Participants) == 0 {
			return ErrCorruptSnapshot
		}
	default:
		return ErrCorruptSnapshot
	}
	if s.EntranceFee == 0 || s.Interval <= 0 {
		return ErrCorruptSnapshot
	}
	if s.Pot < s.EntranceFee*uint64(len(s.Participants)) {
		return ErrCorruptSnapshot
	}
	return nil
}

// WinnerRecord is one entry of the winner history.
type WinnerRecord struct {
	Round     uint64
	Winner    string
	Amount    uint64
	RequestID uint64
	Time      int64
}
