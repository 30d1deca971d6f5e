// Package keeper is the automation side of the raffle: it polls whether
// the round can be closed and closes it when it can.
package keeper

import (
	"context"
	"time"

	"github.com/dedis/raffle"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Upkeep is what a keeper drives, locally or over the network.
type Upkeep interface {
	IsEligible() (bool, error)
	PerformUpkeep() (uint64, error)
}

// Engine is the part of engine.Engine a keeper needs.
type Engine interface {
	IsEligible() bool
	CloseRound() (uint64, error)
}

type local struct {
	e Engine
}

func (l local) IsEligible() (bool, error) {
	return l.e.IsEligible(), nil
}

func (l local) PerformUpkeep() (uint64, error) {
	return l.e.CloseRound()
}

// FromEngine drives an engine of the same process.
func FromEngine(e Engine) Upkeep {
	return local{e}
}

// Keeper polls an Upkeep every Period.
type Keeper struct {
	upkeep Upkeep
	period time.Duration
}

func New(u Upkeep, period time.Duration) (*Keeper, error) {
	if period <= 0 {
		return nil, xerrors.New("keeper period must be positive")
	}
	return &Keeper{upkeep: u, period: period}, nil
}

// Poke checks once and performs the upkeep if needed. Losing the race
// against another keeper is not an error: it returns false.
func (k *Keeper) Poke() (uint64, bool, error) {
	ok, err := k.upkeep.IsEligible()
	if err != nil {
		return 0, false, xerrors.Errorf("checking upkeep: %v", err)
	}
	if !ok {
		return 0, false, nil
	}
	id, err := k.upkeep.PerformUpkeep()
	if err != nil {
		if xerrors.Is(err, raffle.ErrUpkeepNotNeeded) {
			log.Lvl3("Upkeep performed by someone else:", err)
			return 0, false, nil
		}
		return 0, false, xerrors.Errorf("performing upkeep: %v", err)
	}
	log.Lvlf2("Upkeep performed, randomness request %d", id)
	return id, true, nil
}

// Run pokes every period until ctx is done. Errors are logged and the
// keeper carries on.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := k.Poke(); err != nil {
				log.Error(err)
			}
		}
	}
}
