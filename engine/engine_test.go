package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/dedis/raffle"
	"github.com/dedis/raffle/payout"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

const (
	fee      = uint64(100)
	interval = 30 * time.Second
)

type fakeClock struct {
	sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.Lock()
	c.now = c.now.Add(d)
	c.Unlock()
}

// fakeOracle hands out increasing ids and never calls back on its own.
type fakeOracle struct {
	sync.Mutex
	next      uint64
	err       error
	ids       []uint64
	cancelled []uint64
}

func (o *fakeOracle) CancelRequest(id uint64) {
	o.Lock()
	o.cancelled = append(o.cancelled, id)
	o.Unlock()
}

func (o *fakeOracle) RequestRandomness() (uint64, error) {
	o.Lock()
	defer o.Unlock()
	if o.err != nil {
		return 0, o.err
	}
	o.next++
	o.ids = append(o.ids, o.next)
	return o.next, nil
}

type memJournal struct {
	sync.Mutex
	snaps []*raffle.Snapshot
	err   error
}

func (j *memJournal) Save(snap *raffle.Snapshot) error {
	j.Lock()
	defer j.Unlock()
	if j.err != nil {
		return j.err
	}
	j.snaps = append(j.snaps, snap)
	return nil
}

func (j *memJournal) last() *raffle.Snapshot {
	j.Lock()
	defer j.Unlock()
	return j.snaps[len(j.snaps)-1]
}

type fixture struct {
	e      *Engine
	clock  *fakeClock
	oracle *fakeOracle
	bank   *payout.Bank
	events []raffle.Event
	evLock sync.Mutex
}

func newFixture(t *testing.T, j Journal) *fixture {
	f := &fixture{
		clock:  &fakeClock{now: time.Unix(1600000000, 0)},
		oracle: &fakeOracle{},
		bank:   payout.NewBank(),
	}
	e, err := New(Config{
		EntranceFee: fee,
		Interval:    interval,
		Randomness:  f.oracle,
		Payout:      f.bank,
		Journal:     j,
		Clock:       f.clock.Now,
		Listeners:   []Listener{f.record},
	})
	require.NoError(t, err)
	f.e = e
	return f
}

func (f *fixture) record(ev raffle.Event) {
	f.evLock.Lock()
	f.events = append(f.events, ev)
	f.evLock.Unlock()
}

func (f *fixture) names() []string {
	f.evLock.Lock()
	defer f.evLock.Unlock()
	var out []string
	for _, ev := range f.events {
		out = append(out, ev.Name)
	}
	return out
}

// closed enters the players, lets the interval pass and closes the round.
func (f *fixture) closed(t *testing.T, players ...string) uint64 {
	for _, p := range players {
		require.NoError(t, f.e.Enter(p, fee))
	}
	f.clock.Advance(interval)
	id, err := f.e.CloseRound()
	require.NoError(t, err)
	return id
}

func TestEngine_New(t *testing.T) {
	bank := payout.NewBank()
	_, err := New(Config{EntranceFee: 0, Interval: interval, Randomness: &fakeOracle{}, Payout: bank})
	require.Error(t, err)
	_, err = New(Config{EntranceFee: fee, Interval: 0, Randomness: &fakeOracle{}, Payout: bank})
	require.Error(t, err)
	_, err = New(Config{EntranceFee: fee, Interval: interval, Payout: bank})
	require.Error(t, err)
	_, err = New(Config{EntranceFee: fee, Interval: interval, Randomness: &fakeOracle{}})
	require.Error(t, err)

	f := newFixture(t, nil)
	require.Equal(t, raffle.Open, f.e.Phase())
	require.Equal(t, 0, f.e.Count())
	require.Equal(t, uint64(0), f.e.Pot())
	require.Equal(t, fee, f.e.EntranceFee())
	require.Equal(t, interval, f.e.Interval())
	require.Equal(t, f.clock.Now(), f.e.LastClose())
	require.Equal(t, "", f.e.RecentWinner())
	_, ok := f.e.PendingRequest()
	require.False(t, ok)
}

func TestEngine_Enter(t *testing.T) {
	f := newFixture(t, nil)
	for _, amount := range []uint64{0, 1, fee - 1} {
		err := f.e.Enter("alice", amount)
		require.True(t, xerrors.Is(err, raffle.ErrInsufficientFee))
	}
	require.Equal(t, 0, f.e.Count())
	require.Empty(t, f.names())

	require.NoError(t, f.e.Enter("alice", fee))
	require.NoError(t, f.e.Enter("bob", fee+50))
	require.Equal(t, 2, f.e.Count())
	require.Equal(t, 2*fee+50, f.e.Pot())
	p, err := f.e.PlayerAt(1)
	require.NoError(t, err)
	require.Equal(t, "bob", p)
	_, err = f.e.PlayerAt(2)
	require.True(t, xerrors.Is(err, raffle.ErrIndexOutOfRange))

	require.Equal(t, []string{raffle.EventEntered, raffle.EventEntered}, f.names())
	require.Equal(t, "bob", f.events[1].Participant)
	require.Equal(t, fee+50, f.events[1].Amount)
}

func TestEngine_Eligibility(t *testing.T) {
	f := newFixture(t, nil)
	// nobody entered
	f.clock.Advance(time.Hour)
	require.False(t, f.e.IsEligible())
	_, err := f.e.CloseRound()
	require.True(t, xerrors.Is(err, raffle.ErrUpkeepNotNeeded))
	var une *raffle.UpkeepNotNeededError
	require.True(t, xerrors.As(err, &une))
	require.Equal(t, uint64(0), une.Pot)
	require.Equal(t, 0, une.Players)
	require.Equal(t, raffle.Open, une.Phase)

	f = newFixture(t, nil)
	require.NoError(t, f.e.Enter("alice", fee))
	f.clock.Advance(interval - time.Second)
	require.False(t, f.e.IsEligible())
	res := f.e.CheckUpkeep()
	require.True(t, res.Open)
	require.False(t, res.TimePassed)
	_, err = f.e.CloseRound()
	require.True(t, xerrors.Is(err, raffle.ErrUpkeepNotNeeded))
	require.Equal(t, raffle.Open, f.e.Phase())
	require.Empty(t, f.oracle.ids)

	f.clock.Advance(time.Second)
	// polling has no side effects
	for i := 0; i < 5; i++ {
		require.True(t, f.e.IsEligible())
	}
	require.Empty(t, f.oracle.ids)
	require.Equal(t, raffle.Open, f.e.Phase())
}

func TestEngine_CloseRound(t *testing.T) {
	f := newFixture(t, nil)
	id := f.closed(t, "alice", "bob")
	require.NotEqual(t, uint64(0), id)
	require.Equal(t, raffle.Closing, f.e.Phase())
	pending, ok := f.e.PendingRequest()
	require.True(t, ok)
	require.Equal(t, id, pending)
	require.False(t, f.e.IsEligible())

	// a naive retry fails and does not issue another request
	f.clock.Advance(time.Hour)
	_, err := f.e.CloseRound()
	var une *raffle.UpkeepNotNeededError
	require.True(t, xerrors.As(err, &une))
	require.Equal(t, raffle.Closing, une.Phase)
	require.Equal(t, 2, une.Players)
	require.Equal(t, 2*fee, une.Pot)
	require.Len(t, f.oracle.ids, 1)

	err = f.e.Enter("carol", fee)
	require.True(t, xerrors.Is(err, raffle.ErrRoundNotOpen))
	require.Equal(t, 2, f.e.Count())

	names := f.names()
	require.Equal(t, raffle.EventClosingRequested, names[len(names)-1])
	require.Equal(t, id, f.events[len(f.events)-1].RequestID)
}

func TestEngine_CloseRoundOracleFailure(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.e.Enter("alice", fee))
	f.clock.Advance(interval)
	f.oracle.err = xerrors.New("subscription out of funds")
	_, err := f.e.CloseRound()
	require.True(t, xerrors.Is(err, raffle.ErrRandomnessRequest))
	require.Equal(t, raffle.Open, f.e.Phase())
	_, ok := f.e.PendingRequest()
	require.False(t, ok)
	require.NoError(t, f.e.Enter("bob", fee))

	f.oracle.err = nil
	_, err = f.e.CloseRound()
	require.NoError(t, err)
}

func TestEngine_FulfillUnknown(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.e.Enter("alice", fee))
	// no close round yet
	err := f.e.Fulfill(99, 5)
	require.True(t, xerrors.Is(err, raffle.ErrUnknownRequest))
	require.Equal(t, raffle.Open, f.e.Phase())
	require.Equal(t, 1, f.e.Count())

	f.clock.Advance(interval)
	id, err := f.e.CloseRound()
	require.NoError(t, err)
	err = f.e.Fulfill(id+1, 5)
	require.True(t, xerrors.Is(err, raffle.ErrUnknownRequest))
	require.Equal(t, raffle.Closing, f.e.Phase())
	require.Equal(t, 1, f.e.Count())

	require.NoError(t, f.e.Fulfill(id, 5))
	// already consumed
	err = f.e.Fulfill(id, 5)
	require.True(t, xerrors.Is(err, raffle.ErrUnknownRequest))
	require.Equal(t, uint64(fee), f.bank.Balance("alice"))
}

func TestEngine_EndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	players := []string{"p0", "p1", "p2", "p3"}
	for _, p := range players {
		require.NoError(t, f.e.Enter(p, 100))
	}
	require.Equal(t, uint64(400), f.e.Pot())
	require.Equal(t, 4, f.e.Count())

	start := f.e.LastClose()
	f.clock.Advance(interval + time.Second)
	id, err := f.e.CloseRound()
	require.NoError(t, err)

	require.NoError(t, f.e.Fulfill(id, 733))
	require.Equal(t, "p1", f.e.RecentWinner())
	require.Equal(t, uint64(400), f.bank.Balance("p1"))
	for _, p := range []string{"p0", "p2", "p3"} {
		require.Equal(t, uint64(0), f.bank.Balance(p))
	}
	require.Equal(t, 0, f.e.Count())
	require.Equal(t, uint64(0), f.e.Pot())
	require.Equal(t, raffle.Open, f.e.Phase())
	require.True(t, f.e.LastClose().After(start))
	require.Equal(t, uint64(1), f.e.Round())
	_, err = f.e.PlayerAt(0)
	require.True(t, xerrors.Is(err, raffle.ErrIndexOutOfRange))
	_, ok := f.e.PendingRequest()
	require.False(t, ok)

	ev := f.events[len(f.events)-1]
	require.Equal(t, raffle.EventWinnerPicked, ev.Name)
	require.Equal(t, "p1", ev.Participant)
	require.Equal(t, uint64(400), ev.Amount)
	require.Equal(t, id, ev.RequestID)

	// the next round starts from the fulfillment time
	require.NoError(t, f.e.Enter("p2", 100))
	require.False(t, f.e.IsEligible())
	f.clock.Advance(interval)
	require.True(t, f.e.IsEligible())
}

func TestEngine_WinnerIndex(t *testing.T) {
	players := []string{"a", "b", "c"}
	for _, rv := range []uint64{0, 1, 2, 3, 4, ^uint64(0)} {
		f := newFixture(t, nil)
		id := f.closed(t, players...)
		require.NoError(t, f.e.Fulfill(id, rv))
		winner := players[rv%3]
		require.Equal(t, winner, f.e.RecentWinner())
		require.Equal(t, 3*fee, f.bank.Balance(winner))
	}
}

func TestEngine_PayoutFailed(t *testing.T) {
	f := newFixture(t, nil)
	id := f.closed(t, "alice")
	f.bank.Block("alice")

	err := f.e.Fulfill(id, 0)
	require.True(t, xerrors.Is(err, raffle.ErrPayoutFailed))
	// the round is reset regardless
	require.Equal(t, raffle.Open, f.e.Phase())
	require.Equal(t, 0, f.e.Count())
	require.Equal(t, uint64(0), f.e.Pot())
	require.Equal(t, "alice", f.e.RecentWinner())
	require.Equal(t, uint64(0), f.bank.Balance("alice"))
	require.True(t, xerrors.Is(f.e.Fulfill(id, 0), raffle.ErrUnknownRequest))
	require.NotContains(t, f.names(), raffle.EventWinnerPicked)

	claims := f.e.Claims()
	require.Len(t, claims, 1)
	require.Equal(t, raffle.Claim{Winner: "alice", Amount: fee, RequestID: id, Round: 0}, claims[0])

	n, err := f.e.RetryClaims()
	require.True(t, xerrors.Is(err, raffle.ErrPayoutFailed))
	require.Equal(t, 0, n)
	require.Len(t, f.e.Claims(), 1)

	f.bank.Unblock("alice")
	n, err = f.e.RetryClaims()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, f.e.Claims())
	require.Equal(t, fee, f.bank.Balance("alice"))
	require.Contains(t, f.names(), raffle.EventWinnerPicked)
}

// A payout executor that re-enters the engine sees the round already reset.
func TestEngine_ReentrantPayout(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1600000000, 0)}
	oracle := &fakeOracle{}
	var e *Engine
	var seen []error
	ex := payout.Func(func(to string, amount uint64) error {
		seen = append(seen, e.Fulfill(1, 0))
		_, err := e.CloseRound()
		seen = append(seen, err)
		return nil
	})
	e, err := New(Config{
		EntranceFee: fee,
		Interval:    interval,
		Randomness:  oracle,
		Payout:      ex,
		Clock:       clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, e.Enter("alice", fee))
	clock.Advance(interval)
	id, err := e.CloseRound()
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	require.NoError(t, e.Fulfill(id, 0))
	require.Len(t, seen, 2)
	require.True(t, xerrors.Is(seen[0], raffle.ErrUnknownRequest))
	require.True(t, xerrors.Is(seen[1], raffle.ErrUpkeepNotNeeded))
	require.Equal(t, raffle.Open, e.Phase())
}

func TestEngine_Journal(t *testing.T) {
	j := &memJournal{}
	f := newFixture(t, j)
	require.NoError(t, f.e.Enter("alice", fee))
	require.Len(t, j.snaps, 1)
	require.Equal(t, []string{"alice"}, j.last().Participants)

	f.clock.Advance(interval)
	id, err := f.e.CloseRound()
	require.NoError(t, err)
	snap := j.last()
	require.Equal(t, int32(raffle.Closing), snap.Phase)
	require.Equal(t, id, snap.PendingRequest)

	require.NoError(t, f.e.Fulfill(id, 0))
	snap = j.last()
	require.Equal(t, int32(raffle.Open), snap.Phase)
	require.Equal(t, uint64(0), snap.PendingRequest)
	require.Empty(t, snap.Participants)
	require.Equal(t, "alice", snap.RecentWinner)
	require.Equal(t, uint64(1), snap.Round)
}

func TestEngine_JournalFailureRollsBack(t *testing.T) {
	j := &memJournal{}
	f := newFixture(t, j)
	require.NoError(t, f.e.Enter("alice", fee))

	j.err = xerrors.New("disk full")
	require.Error(t, f.e.Enter("bob", fee))
	require.Equal(t, 1, f.e.Count())
	require.Equal(t, fee, f.e.Pot())

	f.clock.Advance(interval)
	orphan, err := f.e.CloseRound()
	require.Error(t, err)
	require.Equal(t, uint64(0), orphan)
	require.Equal(t, raffle.Open, f.e.Phase())
	_, ok := f.e.PendingRequest()
	require.False(t, ok)
	// the request the oracle queued is dropped again
	require.Equal(t, []uint64{1}, f.oracle.cancelled)
	require.True(t, xerrors.Is(f.e.Fulfill(1, 0), raffle.ErrUnknownRequest))

	j.err = nil
	id, err := f.e.CloseRound()
	require.NoError(t, err)
	require.Equal(t, uint64(2), id)
	j.err = xerrors.New("disk full")
	require.Error(t, f.e.Fulfill(id, 0))
	require.Equal(t, raffle.Closing, f.e.Phase())
	require.Equal(t, 1, f.e.Count())
	require.Equal(t, uint64(0), f.bank.Balance("alice"))

	// the same request can be delivered again once the journal recovers
	j.err = nil
	require.NoError(t, f.e.Fulfill(id, 0))
	require.Equal(t, fee, f.bank.Balance("alice"))
	require.Equal(t, []uint64{1}, f.oracle.cancelled)
}

func TestEngine_RetryClaimsJournaled(t *testing.T) {
	j := &memJournal{}
	f := newFixture(t, j)
	id := f.closed(t, "alice")
	f.bank.Block("alice")
	require.True(t, xerrors.Is(f.e.Fulfill(id, 0), raffle.ErrPayoutFailed))
	require.Len(t, j.last().Claims, 1)

	// nothing is removed while the journal fails
	j.err = xerrors.New("disk full")
	f.bank.Unblock("alice")
	n, err := f.e.RetryClaims()
	require.Error(t, err)
	require.Equal(t, 0, n)
	require.Len(t, f.e.Claims(), 1)
	require.Equal(t, uint64(0), f.bank.Balance("alice"))

	j.err = nil
	n, err = f.e.RetryClaims()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, j.last().Claims)

	// a restart after the retry does not pay the claim twice
	cfg := Config{
		EntranceFee: fee,
		Interval:    interval,
		Randomness:  f.oracle,
		Payout:      f.bank,
		Journal:     j,
		Clock:       f.clock.Now,
	}
	e, err := Restore(cfg, j.last())
	require.NoError(t, err)
	require.Empty(t, e.Claims())
	n, err = e.RetryClaims()
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, fee, f.bank.Balance("alice"))
}

func TestEngine_RetryClaimsFailedAgain(t *testing.T) {
	j := &memJournal{}
	f := newFixture(t, j)
	id := f.closed(t, "alice")
	f.bank.Block("alice")
	require.True(t, xerrors.Is(f.e.Fulfill(id, 0), raffle.ErrPayoutFailed))

	n, err := f.e.RetryClaims()
	require.True(t, xerrors.Is(err, raffle.ErrPayoutFailed))
	require.Equal(t, 0, n)
	// the claim is journaled again after the failed transfer
	require.Len(t, j.last().Claims, 1)

	e, err := Restore(Config{
		EntranceFee: fee,
		Interval:    interval,
		Randomness:  f.oracle,
		Payout:      f.bank,
		Clock:       f.clock.Now,
	}, j.last())
	require.NoError(t, err)
	require.Equal(t, f.e.Claims(), e.Claims())
}

func TestEngine_Restore(t *testing.T) {
	j := &memJournal{}
	f := newFixture(t, j)
	id := f.closed(t, "alice", "bob", "carol")

	cfg := Config{
		EntranceFee: fee,
		Interval:    interval,
		Randomness:  f.oracle,
		Payout:      f.bank,
		Clock:       f.clock.Now,
	}
	e, err := Restore(cfg, j.last())
	require.NoError(t, err)
	require.Equal(t, raffle.Closing, e.Phase())
	require.Equal(t, 3, e.Count())
	require.True(t, xerrors.Is(e.Enter("dave", fee), raffle.ErrRoundNotOpen))
	require.NoError(t, e.Fulfill(id, 2))
	require.Equal(t, "carol", e.RecentWinner())
	require.Equal(t, 3*fee, f.bank.Balance("carol"))

	cfg.EntranceFee = fee + 1
	_, err = Restore(cfg, j.last())
	require.Error(t, err)
	cfg.EntranceFee = fee
	_, err = Restore(cfg, &raffle.Snapshot{Phase: int32(raffle.Closing), EntranceFee: fee, Interval: int64(interval)})
	require.True(t, xerrors.Is(err, raffle.ErrCorruptSnapshot))
	_, err = Restore(cfg, nil)
	require.Error(t, err)
}

func TestEngine_ConcurrentEntries(t *testing.T) {
	f := newFixture(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.e.Enter("p", fee); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 100, f.e.Count())
	require.Equal(t, 100*fee, f.e.Pot())
}

// Entries racing with the close either land before it or are refused.
func TestEngine_EntriesRaceClose(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.e.Enter("first", fee))
	f.clock.Advance(interval)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 1
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.e.Enter("late", fee)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !xerrors.Is(err, raffle.ErrRoundNotOpen) {
				t.Error(err)
			}
		}()
	}
	_, err := f.e.CloseRound()
	require.NoError(t, err)
	wg.Wait()
	require.Equal(t, accepted, f.e.Count())
	require.Equal(t, uint64(accepted)*fee, f.e.Pot())
}
