package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/dedis/raffle"
	"github.com/dedis/raffle/easyrand"
	"github.com/dedis/raffle/engine"
	"github.com/dedis/raffle/keeper"
	"github.com/dedis/raffle/payout"
	"github.com/dedis/raffle/store"
	"github.com/dedis/raffle/sys"
	"github.com/dedis/raffle/utils"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
)

func loadConfig(path string) (*sys.Config, error) {
	if path == "" {
		return sys.Default(), nil
	}
	return sys.LoadConfig(path)
}

// interruptible returns a context cancelled by ctrl-c.
func interruptible() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		defer signal.Stop(sig)
		select {
		case <-sig:
			log.Info("Interrupted")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func simulateCmd(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if db := c.String("db"); db != "" {
		cfg.Storage.Path = db
	}
	ctx, cancel := interruptible()
	defer cancel()
	return simulate(ctx, cfg, os.Stdout)
}

// simulate runs the rounds of cfg.Simulation against a local oracle and
// keeper. The state is journaled to cfg.Storage.Path, so a stopped
// simulation resumes where it was.
func simulate(ctx context.Context, cfg *sys.Config, out io.Writer) error {
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	oracle, err := easyrand.NewOracle(cfg.EasyrandConfig())
	if err != nil {
		return err
	}
	bank := payout.NewBank()
	winners := make(chan raffle.Event, 16)
	record := func(ev raffle.Event) {
		if ev.Name != raffle.EventWinnerPicked {
			return
		}
		err := st.AppendWinner(&raffle.WinnerRecord{
			Round:     ev.Round,
			Winner:    ev.Participant,
			Amount:    ev.Amount,
			RequestID: ev.RequestID,
			Time:      time.Now().Unix(),
		})
		if err != nil {
			log.Error("Couldn't record winner:", err)
		}
		select {
		case winners <- ev:
		default:
		}
	}
	ecfg := engine.Config{
		EntranceFee: cfg.EntranceFee,
		Interval:    cfg.Interval.Duration,
		Randomness:  oracle,
		Payout:      bank,
		Journal:     st,
		Listeners:   []engine.Listener{record},
	}
	snap, err := st.Load()
	if err != nil {
		return err
	}
	var e *engine.Engine
	if snap != nil {
		log.Lvlf1("Resuming round %d from %s", snap.Round, st.Path())
		e, err = engine.Restore(ecfg, snap)
	} else {
		e, err = engine.New(ecfg)
	}
	if err != nil {
		return err
	}
	oracle.Register(easyrand.ToFulfiller(e))
	k, err := keeper.New(keeper.FromEngine(e), cfg.Automation.Period.Duration)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		oracle.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		k.Run(ctx)
	}()
	defer func() {
		cancel()
		oracle.Close()
		wg.Wait()
	}()

	timeout := cfg.Interval.Duration + cfg.Oracle.Delay.Duration +
		10*cfg.Automation.Period.Duration + 10*time.Second
	if len(e.Claims()) > 0 {
		n, err := e.RetryClaims()
		if err != nil {
			log.Warn("Unpaid claims remain:", err)
		}
		fmt.Fprintf(out, "settled %d claims\n", n)
	}
	if id, ok := e.PendingRequest(); ok {
		if err := oracle.Resume(id); err != nil {
			return err
		}
		ev, err := waitWinner(ctx, winners, timeout)
		if err != nil {
			return err
		}
		printWinner(out, ev)
	}

	for r := 0; r < cfg.Simulation.Rounds; r++ {
		if cfg.Simulation.Participants == 0 {
			fmt.Fprintln(out, "no participants, nothing to draw")
			break
		}
		for i := 0; i < cfg.Simulation.Participants; i++ {
			kp := key.NewKeyPair(cothority.Suite)
			if err := e.Enter(utils.ParticipantID(kp.Public), cfg.EntranceFee); err != nil {
				return xerrors.Errorf("entering player %d: %v", i, err)
			}
		}
		log.Lvlf1("Round %d: %d players, pot %d", e.Round(), e.Count(), e.Pot())
		ev, err := waitWinner(ctx, winners, timeout)
		if err != nil {
			return err
		}
		printWinner(out, ev)
	}
	fmt.Fprintf(out, "paid out %d in total\n", bank.Paid())
	return nil
}

func waitWinner(ctx context.Context, winners <-chan raffle.Event, timeout time.Duration) (raffle.Event, error) {
	select {
	case ev := <-winners:
		return ev, nil
	case <-time.After(timeout):
		return raffle.Event{}, xerrors.Errorf("no winner after %v", timeout)
	case <-ctx.Done():
		return raffle.Event{}, ctx.Err()
	}
}

func printWinner(out io.Writer, ev raffle.Event) {
	fmt.Fprintf(out, "round %d: %s won %d (request %d)\n",
		ev.Round, ev.Participant, ev.Amount, ev.RequestID)
}

func historyCmd(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = sys.Default().Storage.Path
	}
	return history(path, os.Stdout)
}

func history(path string, out io.Writer) error {
	if !store.Exists(path) {
		return xerrors.Errorf("no raffle database at %s", path)
	}
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()
	recs, err := st.Winners()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		fmt.Fprintf(out, "%s round %d: %s won %d (request %d)\n",
			time.Unix(rec.Time, 0).Format(time.RFC3339), rec.Round,
			rec.Winner, rec.Amount, rec.RequestID)
	}
	return nil
}
