package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dedis/raffle/service"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"go.dedis.ch/onet/v3/simul/monitor"
	"golang.org/x/xerrors"
)

type SimulationService struct {
	onet.SimulationBFTree
	NumParticipants int
	EntranceFee     uint64
	// Interval and OracleDelay are in milliseconds
	Interval    int
	OracleDelay int
	Threshold   int

	cl *service.Client
	si *network.ServerIdentity
}

func init() {
	onet.SimulationRegister("Raffle", NewRaffle)
}

func NewRaffle(config string) (onet.Simulation, error) {
	ss := &SimulationService{}
	_, err := toml.Decode(config, ss)
	if err != nil {
		return nil, err
	}
	return ss, nil
}

func (s *SimulationService) Setup(dir string,
	hosts []string) (*onet.SimulationConfig, error) {
	sc := &onet.SimulationConfig{}
	s.CreateRoster(sc, hosts, 2000)
	err := s.CreateTree(sc)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *SimulationService) Node(config *onet.SimulationConfig) error {
	index, _ := config.Roster.Search(config.Server.ServerIdentity.GetID())
	if index < 0 {
		log.Fatal("Didn't find this node in roster")
	}
	log.Lvl3("Initializing node-index", index)
	return s.SimulationBFTree.Node(config)
}

func (s *SimulationService) initRaffle(nodes int) error {
	threshold := s.Threshold
	if threshold == 0 {
		threshold = nodes - (nodes-1)/3
	}
	_, err := s.cl.Init(s.si, &service.InitRequest{
		EntranceFee: s.EntranceFee,
		Interval:    time.Duration(s.Interval) * time.Millisecond,
		Nodes:       nodes,
		Threshold:   threshold,
		Delay:       time.Duration(s.OracleDelay) * time.Millisecond,
		QueueSize:   4,
	})
	if err != nil {
		log.Errorf("initializing raffle: %v", err)
	}
	return err
}

func (s *SimulationService) executeJoin(round uint64, idx int) error {
	cl := service.NewClient()
	defer cl.Close()
	label := fmt.Sprintf("p%d_join", idx)
	joinMonitor := monitor.NewTimeMeasure(label)
	kp := key.NewKeyPair(cothority.Suite)
	_, err := cl.Enter(s.si, kp.Private, round, s.EntranceFee)
	if err != nil {
		log.Errorf("entering participant %d: %v", idx, err)
		return err
	}
	joinMonitor.Record()
	return nil
}

func (s *SimulationService) executeClose() (uint64, error) {
	closeMonitor := monitor.NewTimeMeasure("close")
	// the round can only be closed once the interval has passed
	time.Sleep(time.Duration(s.Interval) * time.Millisecond)
	reply, err := s.cl.PerformUpkeep(s.si)
	if err != nil {
		log.Errorf("performing upkeep: %v", err)
		return 0, err
	}
	closeMonitor.Record()
	return reply.RequestID, nil
}

func (s *SimulationService) executeFinalize(round uint64) error {
	finalizeMonitor := monitor.NewTimeMeasure("finalize")
	for {
		st, err := s.cl.Status(s.si)
		if err != nil {
			log.Errorf("getting status: %v", err)
			return err
		}
		if st.Round > round {
			log.Lvlf1("Round %d won by %s", round, st.RecentWinner)
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	finalizeMonitor.Record()
	return nil
}

func (s *SimulationService) runRaffle(nodes int) error {
	if err := s.initRaffle(nodes); err != nil {
		return err
	}
	for r := 0; r < s.Rounds; r++ {
		st, err := s.cl.Status(s.si)
		if err != nil {
			return err
		}
		var wg sync.WaitGroup
		errs := make(chan error, s.NumParticipants)
		wg.Add(s.NumParticipants)
		for i := 0; i < s.NumParticipants; i++ {
			go func(idx int) {
				defer wg.Done()
				if err := s.executeJoin(st.Round, idx); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		if err := <-errs; err != nil {
			return err
		}
		id, err := s.executeClose()
		if err != nil {
			return err
		}
		log.Lvlf2("Round %d closed with request %d", st.Round, id)
		if err := s.executeFinalize(st.Round); err != nil {
			return err
		}
	}
	return nil
}

func (s *SimulationService) Run(config *onet.SimulationConfig) error {
	if s.NumParticipants < 1 {
		return xerrors.New("need at least one participant")
	}
	s.cl = service.NewClient()
	defer s.cl.Close()
	s.si = config.Roster.List[0]
	return s.runRaffle(len(config.Roster.List))
}
