package service

/*
The service.go defines what to do for each API-call. This part of the service
runs on the node.
*/

import (
	"context"
	"sync"

	"github.com/dedis/raffle"
	"github.com/dedis/raffle/easyrand"
	"github.com/dedis/raffle/engine"
	"github.com/dedis/raffle/keeper"
	"github.com/dedis/raffle/payout"
	"github.com/dedis/raffle/utils"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var raffleID onet.ServiceID

// ServiceName is the name of the raffle service.
const ServiceName = "Raffle"

var storageKey = []byte("storage")

func init() {
	var err error
	raffleID, err = onet.RegisterNewService(ServiceName, newService)
	if err != nil {
		panic(err)
	}
}

// Service runs one raffle per conode, together with the oracle answering
// its randomness requests.
type Service struct {
	*onet.ServiceProcessor

	mu     sync.Mutex
	cfg    *InitRequest
	engine *engine.Engine
	oracle *easyrand.Oracle
	bank   *payout.Bank
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// journal saves the round with the configuration of the service.
type journal struct {
	s   *Service
	cfg *InitRequest
}

func (j journal) Save(snap *raffle.Snapshot) error {
	err := j.s.Save(storageKey, &storage{Config: j.cfg, Round: snap})
	if err != nil {
		log.Errorf("Could not save data: %v", err)
		return err
	}
	return nil
}

// Init configures the raffle and starts the oracle.
func (s *Service) Init(req *InitRequest) (*InitReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		return nil, xerrors.New("raffle already initialised")
	}
	if err := s.startLocked(req, nil); err != nil {
		return nil, err
	}
	if err := (journal{s, req}).Save(s.engine.Snapshot()); err != nil {
		s.stopLocked()
		return nil, err
	}
	pub, err := s.oracle.Beacon().Public().MarshalBinary()
	if err != nil {
		return nil, err
	}
	log.Lvlf2("%v: raffle initialised with fee %d and interval %v",
		s.ServerIdentity(), req.EntranceFee, req.Interval)
	return &InitReply{Public: pub}, nil
}

// Enter adds the owner of the ticket to the current round.
func (s *Service) Enter(req *EnterRequest) (*EnterReply, error) {
	e, _, err := s.running()
	if err != nil {
		return nil, err
	}
	if req.Ticket.Key == nil {
		return nil, xerrors.New("missing ticket key")
	}
	if round := e.Round(); req.Round != round {
		return nil, xerrors.Errorf("ticket is for round %d, current round is %d",
			req.Round, round)
	}
	msg, err := utils.HashTicket(req.Ticket.Key, req.Round, req.Amount)
	if err != nil {
		return nil, err
	}
	if err := schnorr.Verify(cothority.Suite, req.Ticket.Key, msg, req.Ticket.Sig); err != nil {
		return nil, xerrors.Errorf("couldn't verify ticket: %v", err)
	}
	id := utils.ParticipantID(req.Ticket.Key)
	if err := e.Enter(id, req.Amount); err != nil {
		return nil, err
	}
	return &EnterReply{Participant: id, Players: e.Count()}, nil
}

// CheckUpkeep is polled by the automation. It has no side effects.
func (s *Service) CheckUpkeep(req *CheckUpkeepRequest) (*CheckUpkeepReply, error) {
	e, _, err := s.running()
	if err != nil {
		return nil, err
	}
	res := e.CheckUpkeep()
	return &CheckUpkeepReply{
		UpkeepNeeded: res.Eligible(),
		Open:         res.Open,
		TimePassed:   res.TimePassed,
		HasPlayers:   res.HasPlayers,
		HasBalance:   res.HasBalance,
	}, nil
}

// PerformUpkeep closes the round and requests randomness.
func (s *Service) PerformUpkeep(req *PerformUpkeepRequest) (*PerformUpkeepReply, error) {
	e, _, err := s.running()
	if err != nil {
		return nil, err
	}
	id, err := e.CloseRound()
	if err != nil {
		return nil, err
	}
	return &PerformUpkeepReply{RequestID: id}, nil
}

// Fulfill accepts randomness produced by the beacon of this conode.
func (s *Service) Fulfill(req *FulfillRequest) (*FulfillReply, error) {
	e, o, err := s.running()
	if err != nil {
		return nil, err
	}
	if err := s.fulfill(e, o, req.RequestID, &req.Randomness); err != nil {
		return nil, err
	}
	return &FulfillReply{Winner: e.RecentWinner()}, nil
}

func (s *Service) Status(req *StatusRequest) (*StatusReply, error) {
	e, _, err := s.running()
	if err != nil {
		return nil, err
	}
	snap := e.Snapshot()
	return &StatusReply{
		Phase:          snap.Phase,
		Players:        len(snap.Participants),
		Pot:            snap.Pot,
		EntranceFee:    snap.EntranceFee,
		Interval:       e.Interval(),
		LastClose:      snap.LastClose,
		RecentWinner:   snap.RecentWinner,
		Round:          snap.Round,
		PendingRequest: snap.PendingRequest,
		Claims:         len(snap.Claims),
	}, nil
}

func (s *Service) Player(req *PlayerRequest) (*PlayerReply, error) {
	e, _, err := s.running()
	if err != nil {
		return nil, err
	}
	p, err := e.PlayerAt(req.Index)
	if err != nil {
		return nil, err
	}
	return &PlayerReply{Participant: p}, nil
}

func (s *Service) Balance(req *BalanceRequest) (*BalanceReply, error) {
	s.mu.Lock()
	bank := s.bank
	s.mu.Unlock()
	if bank == nil {
		return nil, xerrors.New("raffle not initialised")
	}
	return &BalanceReply{Balance: bank.Balance(req.Participant)}, nil
}

// RetryClaims pays again the winners whose payout failed.
func (s *Service) RetryClaims(req *RetryClaimsRequest) (*RetryClaimsReply, error) {
	e, _, err := s.running()
	if err != nil {
		return nil, err
	}
	n, err := e.RetryClaims()
	if err != nil {
		log.Warn("Some claims are still unpaid:", err)
	}
	return &RetryClaimsReply{Settled: n, Remaining: len(e.Claims())}, nil
}

// Stop halts the oracle and the keeper. The service has to be initialised
// again, or restarted, to be used.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// fulfill only accepts a beacon round signed for request id.
func (s *Service) fulfill(e *engine.Engine, o *easyrand.Oracle, id uint64, r *easyrand.Randomness) error {
	if err := easyrand.VerifyRequest(o.Beacon().Public(), id, r); err != nil {
		return err
	}
	return e.Fulfill(id, r.Value())
}

func (s *Service) running() (*engine.Engine, *easyrand.Oracle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return nil, nil, xerrors.New("raffle not initialised")
	}
	return s.engine, s.oracle, nil
}

func (s *Service) startLocked(cfg *InitRequest, snap *raffle.Snapshot) error {
	oracle, err := easyrand.NewOracle(easyrand.Config{
		Nodes:     cfg.Nodes,
		Threshold: cfg.Threshold,
		Delay:     cfg.Delay,
		QueueSize: cfg.QueueSize,
	})
	if err != nil {
		return err
	}
	bank := payout.NewBank()
	ecfg := engine.Config{
		EntranceFee: cfg.EntranceFee,
		Interval:    cfg.Interval,
		Randomness:  oracle,
		Payout:      bank,
		Journal:     journal{s, cfg},
	}
	var e *engine.Engine
	if snap == nil {
		e, err = engine.New(ecfg)
	} else {
		e, err = engine.Restore(ecfg, snap)
	}
	if err != nil {
		return err
	}
	var k *keeper.Keeper
	if cfg.KeeperPeriod > 0 {
		k, err = keeper.New(keeper.FromEngine(e), cfg.KeeperPeriod)
		if err != nil {
			return err
		}
	}
	oracle.Register(easyrand.ConsumerFunc(func(id uint64, r *easyrand.Randomness) error {
		return s.fulfill(e, oracle, id, r)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.cfg, s.engine, s.oracle, s.bank, s.cancel = cfg, e, oracle, bank, cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		oracle.Run(ctx)
	}()
	if k != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			k.Run(ctx)
		}()
	}
	if id, ok := e.PendingRequest(); ok {
		if err := oracle.Resume(id); err != nil {
			log.Error(s.ServerIdentity(), "couldn't resume request:", err)
		}
	}
	return nil
}

func (s *Service) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.oracle.Close()
	s.wg.Wait()
	s.cfg, s.engine, s.oracle, s.bank, s.cancel = nil, nil, nil, nil, nil
}

// tryLoad restarts the raffle saved by a previous run, if any.
func (s *Service) tryLoad() error {
	msg, err := s.Load(storageKey)
	if err != nil {
		log.Errorf("Load storage failed: %v", err)
		return err
	}
	if msg == nil {
		return nil
	}
	st, ok := msg.(*storage)
	if !ok {
		return xerrors.New("store of wrong type")
	}
	if st.Config == nil || st.Round == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		return xerrors.New("raffle already running")
	}
	log.Lvl2(s.ServerIdentity(), "restarting raffle from storage")
	return s.startLocked(st.Config, st.Round)
}

func newService(c *onet.Context) (onet.Service, error) {
	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
	}
	if err := s.RegisterHandlers(s.Init, s.Enter, s.CheckUpkeep,
		s.PerformUpkeep, s.Fulfill, s.Status, s.Player, s.Balance,
		s.RetryClaims); err != nil {
		return nil, err
	}
	if err := s.tryLoad(); err != nil {
		log.Error(err)
		return nil, err
	}
	return s, nil
}
