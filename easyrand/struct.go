package easyrand

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"golang.org/x/xerrors"
)

const genesisMsg = "genesis_msg"

var (
	// ErrQueueFull is returned when too many requests wait for randomness.
	ErrQueueFull = xerrors.New("randomness request queue is full")
	// ErrWrongRequest is returned for a round that was signed for another
	// request.
	ErrWrongRequest = xerrors.New("randomness was produced for another request")
)

// Randomness is one round of the beacon: Sig is the threshold BLS
// signature of Prev, which ends with RequestID.
type Randomness struct {
	Round     uint64
	RequestID uint64
	Prev      []byte
	Sig       []byte
}

// Value derives the random integer of the round. Use the hash of the
// signature, not the signature itself.
func (r *Randomness) Value() uint64 {
	h := sha256.New()
	h.Write(r.Sig)
	return binary.LittleEndian.Uint64(h.Sum(nil))
}

// Config of the oracle.
type Config struct {
	// Nodes is the number of signers and Threshold the number of
	// signatures needed to recover the beacon signature.
	Nodes     int
	Threshold int
	// Delay is waited before serving a request, like block confirmations
	// of an on-chain oracle.
	Delay     time.Duration
	QueueSize int
	// Deliveries is how often the same round is handed to a failing
	// consumer, RetryDelay the pause in between.
	Deliveries int
	RetryDelay time.Duration
}

// Consumer receives the randomness of a request.
type Consumer interface {
	FulfillRandomness(requestID uint64, r *Randomness) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(requestID uint64, r *Randomness) error

func (f ConsumerFunc) FulfillRandomness(requestID uint64, r *Randomness) error {
	return f(requestID, r)
}

// Fulfiller is the callback side of a raffle engine.
type Fulfiller interface {
	Fulfill(requestID, randomValue uint64) error
}

// ToFulfiller passes the derived value of each round to f.
func ToFulfiller(f Fulfiller) Consumer {
	return ConsumerFunc(func(requestID uint64, r *Randomness) error {
		if r.RequestID != requestID {
			return xerrors.Errorf("round %d for request %d: %w", r.Round, requestID, ErrWrongRequest)
		}
		return f.Fulfill(requestID, r.Value())
	})
}
