// Package ledger holds the participants and the pot of the current round.
package ledger

import (
	"github.com/dedis/raffle"
	"golang.org/x/xerrors"
)

// Ledger is append-only while the round is open. It is not safe for
// concurrent use; the engine serialises access to it.
type Ledger struct {
	fee     uint64
	players []string
	pot     uint64
	sealed  bool
}

// New returns an empty ledger charging fee per entry.
func New(fee uint64) (*Ledger, error) {
	if fee == 0 {
		return nil, xerrors.New("entrance fee must be positive")
	}
	return &Ledger{fee: fee}, nil
}

// Enter appends participant and adds amount to the pot. Any amount above
// the fee stays in the pot. It returns the slot of the new entry.
func (l *Ledger) Enter(participant string, amount uint64) (int, error) {
	if participant == "" {
		return -1, raffle.ErrInvalidParticipant
	}
	if amount < l.fee {
		return -1, xerrors.Errorf("paid %d, fee is %d: %w", amount, l.fee,
			raffle.ErrInsufficientFee)
	}
	if l.sealed {
		return -1, raffle.ErrRoundNotOpen
	}
	if l.pot+amount < l.pot {
		return -1, raffle.ErrAmountOverflow
	}
	l.players = append(l.players, participant)
	l.pot += amount
	return len(l.players) - 1, nil
}

// PlayerAt returns the participant of slot i.
func (l *Ledger) PlayerAt(i int) (string, error) {
	if i < 0 || i >= len(l.players) {
		return "", xerrors.Errorf("index %d of %d: %w", i, len(l.players),
			raffle.ErrIndexOutOfRange)
	}
	return l.players[i], nil
}

func (l *Ledger) Count() int {
	return len(l.players)
}

func (l *Ledger) Pot() uint64 {
	return l.pot
}

func (l *Ledger) Fee() uint64 {
	return l.fee
}

// Players returns a copy of the entries in insertion order.
func (l *Ledger) Players() []string {
	out := make([]string, len(l.players))
	copy(out, l.players)
	return out
}

// Seal makes the ledger refuse entries until the next Clear.
func (l *Ledger) Seal() {
	l.sealed = true
}

func (l *Ledger) Sealed() bool {
	return l.sealed
}

// Clear empties the ledger, reopens it and returns the pot it held.
func (l *Ledger) Clear() uint64 {
	pot := l.pot
	l.players = nil
	l.pot = 0
	l.sealed = false
	return pot
}

// Load replaces the content of the ledger, e.g. when restoring a snapshot.
func (l *Ledger) Load(players []string, pot uint64, sealed bool) {
	l.players = make([]string, len(players))
	copy(l.players, players)
	l.pot = pot
	l.sealed = sealed
}
