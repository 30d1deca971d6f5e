// Package engine runs the raffle rounds: it takes entries, closes a round
// when the trigger allows it, asks the oracle for randomness and pays the
// winner once the oracle answers.
//
// Every operation holds the engine lock from its checks to its commit, so
// operations never observe each other half-done. The only exception is the
// payout transfer, which happens after the reset of the round has been
// committed and the lock released.
package engine

import (
	"sync"
	"time"

	"github.com/dedis/raffle"
	"github.com/dedis/raffle/ledger"
	"github.com/dedis/raffle/payout"
	"github.com/dedis/raffle/tracker"
	"github.com/dedis/raffle/trigger"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Engine is the raffle state machine.
type Engine struct {
	sync.Mutex

	ledger       *ledger.Ledger
	tracker      tracker.Tracker
	phase        raffle.Phase
	interval     time.Duration
	lastClose    time.Time
	recentWinner string
	round        uint64
	claims       []raffle.Claim

	oracle    Requester
	payout    payout.Executor
	journal   Journal
	clock     func() time.Time
	listeners []Listener
}

// New creates an open, empty round starting now.
func New(cfg Config) (*Engine, error) {
	if cfg.Interval <= 0 {
		return nil, xerrors.New("interval must be positive")
	}
	if cfg.Randomness == nil {
		return nil, xerrors.New("missing randomness oracle")
	}
	if cfg.Payout == nil {
		return nil, xerrors.New("missing payout executor")
	}
	l, err := ledger.New(cfg.EntranceFee)
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	e := &Engine{
		ledger:    l,
		phase:     raffle.Open,
		interval:  cfg.Interval,
		lastClose: clock(),
		oracle:    cfg.Randomness,
		payout:    cfg.Payout,
		journal:   cfg.Journal,
		clock:     clock,
		listeners: cfg.Listeners,
	}
	return e, nil
}

// Restore creates an engine from a journaled snapshot. The fee and the
// interval of the snapshot must match cfg.
func Restore(cfg Config, snap *raffle.Snapshot) (*Engine, error) {
	if snap == nil {
		return nil, xerrors.New("no snapshot to restore")
	}
	e, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := snap.Check(); err != nil {
		return nil, err
	}
	if snap.EntranceFee != cfg.EntranceFee || time.Duration(snap.Interval) != cfg.Interval {
		return nil, xerrors.Errorf("journaled round uses fee %d and interval %v, configured %d and %v",
			snap.EntranceFee, time.Duration(snap.Interval), cfg.EntranceFee, cfg.Interval)
	}
	e.restoreLocked(snap)
	log.Lvlf2("Restored round %d in phase %s with %d players", e.round, e.phase, e.ledger.Count())
	return e, nil
}

// AddListener registers l for every future event.
func (e *Engine) AddListener(l Listener) {
	e.Lock()
	e.listeners = append(e.listeners, l)
	e.Unlock()
}

// Enter adds participant to the current round.
func (e *Engine) Enter(participant string, amount uint64) error {
	e.Lock()
	prev := e.prevLocked()
	if _, err := e.ledger.Enter(participant, amount); err != nil {
		e.Unlock()
		return err
	}
	if err := e.persistLocked(prev); err != nil {
		e.Unlock()
		return err
	}
	ev := raffle.Event{
		Name:        raffle.EventEntered,
		Round:       e.round,
		Participant: participant,
		Amount:      amount,
	}
	listeners := e.listeners
	e.Unlock()

	log.Lvlf3("Round %d: %s entered with %d", ev.Round, participant, amount)
	emit(listeners, ev)
	return nil
}

// IsEligible tells whether CloseRound would currently succeed. It has no
// side effects.
func (e *Engine) IsEligible() bool {
	return e.CheckUpkeep().Eligible()
}

// CheckUpkeep evaluates each closing condition.
func (e *Engine) CheckUpkeep() trigger.Result {
	e.Lock()
	defer e.Unlock()
	return trigger.Evaluate(e.triggerStateLocked(), e.clock())
}

// CloseRound stops accepting entries and requests randomness. It fails with
// an *raffle.UpkeepNotNeededError unless the round is eligible.
func (e *Engine) CloseRound() (uint64, error) {
	e.Lock()
	res := trigger.Evaluate(e.triggerStateLocked(), e.clock())
	if !res.Eligible() {
		err := &raffle.UpkeepNotNeededError{
			Pot:     e.ledger.Pot(),
			Players: e.ledger.Count(),
			Phase:   e.phase,
		}
		e.Unlock()
		return 0, err
	}
	id, err := e.oracle.RequestRandomness()
	if err != nil {
		e.Unlock()
		return 0, xerrors.Errorf("%v: %w", err, raffle.ErrRandomnessRequest)
	}
	prev := e.prevLocked()
	if err := e.tracker.Track(id); err != nil {
		e.cancelLocked(id)
		e.Unlock()
		return 0, err
	}
	e.ledger.Seal()
	e.phase = raffle.Closing
	if err := e.persistLocked(prev); err != nil {
		e.cancelLocked(id)
		e.Unlock()
		return 0, err
	}
	ev := raffle.Event{
		Name:      raffle.EventClosingRequested,
		Round:     e.round,
		RequestID: id,
		Amount:    e.ledger.Pot(),
	}
	listeners := e.listeners
	e.Unlock()

	log.Lvlf2("Round %d closing, randomness request %d", ev.Round, id)
	emit(listeners, ev)
	return id, nil
}

// Fulfill is the callback of the randomness oracle. It picks the winner at
// randomValue modulo the number of entries, resets the round and only then
// transfers the pot. If the transfer fails the round stays reset, the pot is
// kept as a claim and the returned error wraps raffle.ErrPayoutFailed.
// If the reset cannot be journaled the round stays closing on requestID, and
// the oracle may deliver the same randomness again.
func (e *Engine) Fulfill(requestID, randomValue uint64) error {
	e.Lock()
	if e.phase != raffle.Closing {
		e.Unlock()
		return xerrors.Errorf("request %d in phase %s: %w", requestID,
			e.phase, raffle.ErrUnknownRequest)
	}
	if err := e.tracker.Match(requestID); err != nil {
		e.Unlock()
		return err
	}
	n := uint64(e.ledger.Count())
	winner, err := e.ledger.PlayerAt(int(randomValue % n))
	if err != nil {
		e.Unlock()
		return err
	}

	prev := e.prevLocked()
	round := e.round
	if err := e.tracker.Consume(requestID); err != nil {
		e.Unlock()
		return err
	}
	amount := e.ledger.Clear()
	e.recentWinner = winner
	e.lastClose = e.clock()
	e.phase = raffle.Open
	e.round++
	if err := e.persistLocked(prev); err != nil {
		e.Unlock()
		return err
	}
	e.Unlock()

	log.Lvlf2("Round %d: winner is %s (index %d of %d), paying %d",
		round, winner, randomValue%n, n, amount)
	claim := raffle.Claim{
		Winner:    winner,
		Amount:    amount,
		RequestID: requestID,
		Round:     round,
	}
	return e.settle(claim)
}

// RetryClaims tries again to pay every claim left by a failed payout. It
// returns how many were settled. The claims are removed from the journal
// before any transfer; a failed transfer journals its claim again.
func (e *Engine) RetryClaims() (int, error) {
	e.Lock()
	if len(e.claims) == 0 {
		e.Unlock()
		return 0, nil
	}
	prev := e.prevLocked()
	pending := e.claims
	e.claims = nil
	if err := e.persistLocked(prev); err != nil {
		e.Unlock()
		return 0, err
	}
	e.Unlock()

	settled := 0
	var lastErr error
	for _, c := range pending {
		if err := e.settle(c); err != nil {
			lastErr = err
			continue
		}
		settled++
	}
	return settled, lastErr
}

// settle transfers a claim; a failure puts it back among the claims.
func (e *Engine) settle(c raffle.Claim) error {
	if err := e.payout.Transfer(c.Winner, c.Amount); err != nil {
		log.Errorf("Paying %d to %s for round %d: %v", c.Amount, c.Winner, c.Round, err)
		e.Lock()
		e.claims = append(e.claims, c)
		if e.journal != nil {
			if jerr := e.journal.Save(e.snapshotLocked()); jerr != nil {
				log.Error("Couldn't journal claim:", jerr)
			}
		}
		e.Unlock()
		return xerrors.Errorf("%v: %w", err, raffle.ErrPayoutFailed)
	}
	e.Lock()
	listeners := e.listeners
	e.Unlock()
	emit(listeners, raffle.Event{
		Name:        raffle.EventWinnerPicked,
		Round:       c.Round,
		Participant: c.Winner,
		RequestID:   c.RequestID,
		Amount:      c.Amount,
	})
	return nil
}

// Phase of the current round.
func (e *Engine) Phase() raffle.Phase {
	e.Lock()
	defer e.Unlock()
	return e.phase
}

// Count is the number of entries of the current round.
func (e *Engine) Count() int {
	e.Lock()
	defer e.Unlock()
	return e.ledger.Count()
}

// PlayerAt returns the participant of the i-th entry of the current round.
func (e *Engine) PlayerAt(i int) (string, error) {
	e.Lock()
	defer e.Unlock()
	return e.ledger.PlayerAt(i)
}

// Pot is the sum of the entries of the current round.
func (e *Engine) Pot() uint64 {
	e.Lock()
	defer e.Unlock()
	return e.ledger.Pot()
}

// EntranceFee is the minimum amount of an entry.
func (e *Engine) EntranceFee() uint64 {
	return e.ledger.Fee()
}

// Interval is the minimum time between two closes.
func (e *Engine) Interval() time.Duration {
	return e.interval
}

// LastClose is when the previous round was reset, or when the engine was created.
func (e *Engine) LastClose() time.Time {
	e.Lock()
	defer e.Unlock()
	return e.lastClose
}

// RecentWinner is empty until the first round is fulfilled.
func (e *Engine) RecentWinner() string {
	e.Lock()
	defer e.Unlock()
	return e.recentWinner
}

// Round counts the fulfilled rounds.
func (e *Engine) Round() uint64 {
	e.Lock()
	defer e.Unlock()
	return e.round
}

// PendingRequest returns the outstanding randomness request, if any.
func (e *Engine) PendingRequest() (uint64, bool) {
	e.Lock()
	defer e.Unlock()
	return e.tracker.Pending()
}

// Claims returns a copy of the unpaid claims.
func (e *Engine) Claims() []raffle.Claim {
	e.Lock()
	defer e.Unlock()
	out := make([]raffle.Claim, len(e.claims))
	copy(out, e.claims)
	return out
}

// Snapshot returns the state as it would be journaled.
func (e *Engine) Snapshot() *raffle.Snapshot {
	e.Lock()
	defer e.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) triggerStateLocked() trigger.State {
	return trigger.State{
		Phase:     e.phase,
		Players:   e.ledger.Count(),
		Pot:       e.ledger.Pot(),
		LastClose: e.lastClose,
		Interval:  e.interval,
	}
}

func (e *Engine) snapshotLocked() *raffle.Snapshot {
	pending, _ := e.tracker.Pending()
	claims := make([]raffle.Claim, len(e.claims))
	copy(claims, e.claims)
	return &raffle.Snapshot{
		Phase:          int32(e.phase),
		Participants:   e.ledger.Players(),
		Pot:            e.ledger.Pot(),
		EntranceFee:    e.ledger.Fee(),
		Interval:       int64(e.interval),
		LastClose:      e.lastClose.UnixNano(),
		PendingRequest: pending,
		RecentWinner:   e.recentWinner,
		Round:          e.round,
		Claims:         claims,
	}
}

func (e *Engine) restoreLocked(snap *raffle.Snapshot) {
	e.phase = raffle.Phase(snap.Phase)
	e.ledger.Load(snap.Participants, snap.Pot, e.phase == raffle.Closing)
	e.tracker.Restore(snap.PendingRequest)
	e.lastClose = snap.LastCloseTime()
	e.recentWinner = snap.RecentWinner
	e.round = snap.Round
	e.claims = make([]raffle.Claim, len(snap.Claims))
	copy(e.claims, snap.Claims)
}

// cancelLocked drops a request the engine did not commit to.
func (e *Engine) cancelLocked(id uint64) {
	if c, ok := e.oracle.(Canceler); ok {
		c.CancelRequest(id)
	}
}

// prevLocked captures the state to roll back to if journaling fails.
func (e *Engine) prevLocked() *raffle.Snapshot {
	if e.journal == nil {
		return nil
	}
	return e.snapshotLocked()
}

func (e *Engine) persistLocked(prev *raffle.Snapshot) error {
	if e.journal == nil {
		return nil
	}
	if err := e.journal.Save(e.snapshotLocked()); err != nil {
		e.restoreLocked(prev)
		return xerrors.Errorf("couldn't journal round: %v", err)
	}
	return nil
}

func emit(listeners []Listener, ev raffle.Event) {
	for _, l := range listeners {
		l(ev)
	}
}
