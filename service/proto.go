package service

import (
	"time"

	"github.com/dedis/raffle"
	"github.com/dedis/raffle/easyrand"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3/network"
)

func init() {
	network.RegisterMessages(&storage{}, &InitRequest{}, &InitReply{},
		&EnterRequest{}, &EnterReply{}, &CheckUpkeepRequest{},
		&CheckUpkeepReply{}, &PerformUpkeepRequest{}, &PerformUpkeepReply{},
		&FulfillRequest{}, &FulfillReply{}, &StatusRequest{}, &StatusReply{},
		&PlayerRequest{}, &PlayerReply{}, &BalanceRequest{}, &BalanceReply{},
		&RetryClaimsRequest{}, &RetryClaimsReply{})
}

// Ticket proves that the owner of Key wants to enter. Sig is a Schnorr
// signature of utils.HashTicket(Key, round, amount).
type Ticket struct {
	Key kyber.Point
	Sig []byte
}

// InitRequest configures the raffle of a conode. It can only be sent once.
type InitRequest struct {
	EntranceFee uint64
	Interval    time.Duration
	// Oracle
	Nodes     int
	Threshold int
	Delay     time.Duration
	QueueSize int
	// KeeperPeriod starts a keeper on the conode when positive.
	KeeperPeriod time.Duration
}

// InitReply returns the public key of the randomness beacon.
type InitReply struct {
	Public []byte
}

type EnterRequest struct {
	Ticket Ticket
	Round  uint64
	Amount uint64
}

type EnterReply struct {
	Participant string
	Players     int
}

type CheckUpkeepRequest struct{}

type CheckUpkeepReply struct {
	UpkeepNeeded bool
	Open         bool
	TimePassed   bool
	HasPlayers   bool
	HasBalance   bool
}

type PerformUpkeepRequest struct{}

type PerformUpkeepReply struct {
	RequestID uint64
}

// FulfillRequest delivers randomness for a request. It is only accepted if
// the randomness verifies against the beacon of the conode.
type FulfillRequest struct {
	RequestID  uint64
	Randomness easyrand.Randomness
}

type FulfillReply struct {
	Winner string
}

type StatusRequest struct{}

type StatusReply struct {
	Phase          int32
	Players        int
	Pot            uint64
	EntranceFee    uint64
	Interval       time.Duration
	LastClose      int64
	RecentWinner   string
	Round          uint64
	PendingRequest uint64
	Claims         int
}

type PlayerRequest struct {
	Index int
}

type PlayerReply struct {
	Participant string
}

type BalanceRequest struct {
	Participant string
}

type BalanceReply struct {
	Balance uint64
}

type RetryClaimsRequest struct{}

type RetryClaimsReply struct {
	Settled   int
	Remaining int
}

type storage struct {
	Config *InitRequest
	Round  *raffle.Snapshot
}
