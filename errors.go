package raffle

import (
	"fmt"

	"golang.org/x/xerrors"
)

var (
	// ErrInsufficientFee is returned when an entry pays less than the
	// entrance fee.
	ErrInsufficientFee = xerrors.New("insufficient entrance fee")
	// ErrRoundNotOpen is returned when an entry arrives while the round is
	// closing.
	ErrRoundNotOpen = xerrors.New("round is not open")
	// ErrUpkeepNotNeeded is matched by *UpkeepNotNeededError.
	ErrUpkeepNotNeeded = xerrors.New("upkeep not needed")
	// ErrUnknownRequest is returned for a fulfillment that does not match
	// the outstanding randomness request.
	ErrUnknownRequest = xerrors.New("unknown randomness request")
	// ErrIndexOutOfRange is returned by player lookups.
	ErrIndexOutOfRange = xerrors.New("player index out of range")
	// ErrPayoutFailed is returned when the pot could not be transferred to
	// the winner. The round has been reset nevertheless.
	ErrPayoutFailed = xerrors.New("payout failed")

	ErrRequestPending     = xerrors.New("a randomness request is already pending")
	ErrRandomnessRequest  = xerrors.New("randomness request failed")
	ErrInvalidParticipant = xerrors.New("invalid participant")
	ErrAmountOverflow     = xerrors.New("amount overflow")
	ErrCorruptSnapshot    = xerrors.New("corrupt round snapshot")
)

// UpkeepNotNeededError carries the state that made a close attempt
// ineligible.
type UpkeepNotNeededError struct {
	Pot     uint64
	Players int
	Phase   Phase
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("upkeep not needed: pot=%d players=%d phase=%s",
		e.Pot, e.Players, e.Phase)
}

// Is makes xerrors.Is(err, ErrUpkeepNotNeeded) hold.
func (e *UpkeepNotNeededError) Is(target error) bool {
	return target == ErrUpkeepNotNeeded
}
