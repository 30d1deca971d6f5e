package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/dedis/raffle"
	"github.com/dedis/raffle/keeper"
	"github.com/dedis/raffle/service"
	"github.com/dedis/raffle/utils"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
)

// conode returns the server selected by the global flags.
func conode(c *cli.Context) (*network.ServerIdentity, error) {
	roster, err := utils.ReadRoster(c.GlobalString("roster"))
	if err != nil {
		return nil, err
	}
	i := c.GlobalInt("node")
	if i < 0 || i >= len(roster.List) {
		return nil, xerrors.Errorf("node %d not in roster of %d", i, len(roster.List))
	}
	return roster.List[i], nil
}

func initCmd(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	si, err := conode(c)
	if err != nil {
		return err
	}
	req := &service.InitRequest{
		EntranceFee: cfg.EntranceFee,
		Interval:    cfg.Interval.Duration,
		Nodes:       cfg.Oracle.Nodes,
		Threshold:   cfg.Oracle.Threshold,
		Delay:       cfg.Oracle.Delay.Duration,
		QueueSize:   cfg.Oracle.QueueSize,
	}
	if c.Bool("keeper") {
		req.KeeperPeriod = cfg.Automation.Period.Duration
	}
	cl := service.NewClient()
	defer cl.Close()
	reply, err := cl.Init(si, req)
	if err != nil {
		return err
	}
	fmt.Println("beacon public key:", hex.EncodeToString(reply.Public))
	return nil
}

func enterCmd(c *cli.Context) error {
	si, err := conode(c)
	if err != nil {
		return err
	}
	var priv kyber.Scalar
	if p := c.String("private"); p != "" {
		buf, err := hex.DecodeString(p)
		if err != nil {
			return xerrors.Errorf("parsing private key: %v", err)
		}
		priv = cothority.Suite.Scalar()
		if err := priv.UnmarshalBinary(buf); err != nil {
			return xerrors.Errorf("parsing private key: %v", err)
		}
	} else {
		kp := key.NewKeyPair(cothority.Suite)
		priv = kp.Private
		buf, err := priv.MarshalBinary()
		if err != nil {
			return err
		}
		fmt.Println("new private key:", hex.EncodeToString(buf))
	}

	cl := service.NewClient()
	defer cl.Close()
	st, err := cl.Status(si)
	if err != nil {
		return err
	}
	amount := c.Uint64("amount")
	if amount == 0 {
		amount = st.EntranceFee
	}
	reply, err := cl.Enter(si, priv, st.Round, amount)
	if err != nil {
		return err
	}
	fmt.Printf("entered round %d as %s, %d players\n", st.Round, reply.Participant, reply.Players)
	return nil
}

func checkCmd(c *cli.Context) error {
	si, err := conode(c)
	if err != nil {
		return err
	}
	cl := service.NewClient()
	defer cl.Close()
	reply, err := cl.CheckUpkeep(si)
	if err != nil {
		return err
	}
	fmt.Printf("upkeep needed: %v (open=%v time=%v players=%v balance=%v)\n",
		reply.UpkeepNeeded, reply.Open, reply.TimePassed, reply.HasPlayers,
		reply.HasBalance)
	return nil
}

func upkeepCmd(c *cli.Context) error {
	si, err := conode(c)
	if err != nil {
		return err
	}
	cl := service.NewClient()
	defer cl.Close()
	reply, err := cl.PerformUpkeep(si)
	if err != nil {
		return err
	}
	fmt.Println("randomness request:", reply.RequestID)
	return nil
}

func statusCmd(c *cli.Context) error {
	si, err := conode(c)
	if err != nil {
		return err
	}
	cl := service.NewClient()
	defer cl.Close()
	st, err := cl.Status(si)
	if err != nil {
		return err
	}
	fmt.Println("phase:", raffle.Phase(st.Phase))
	fmt.Println("round:", st.Round)
	fmt.Println("players:", st.Players)
	fmt.Println("pot:", st.Pot)
	fmt.Println("entrance fee:", st.EntranceFee)
	fmt.Println("interval:", st.Interval)
	fmt.Println("last close:", (&raffle.Snapshot{LastClose: st.LastClose}).LastCloseTime())
	fmt.Println("recent winner:", st.RecentWinner)
	if st.PendingRequest != 0 {
		fmt.Println("pending request:", st.PendingRequest)
	}
	if st.Claims > 0 {
		fmt.Println("unpaid claims:", st.Claims)
	}
	return nil
}

func playerCmd(c *cli.Context) error {
	idx, err := strconv.Atoi(c.Args().First())
	if err != nil {
		return xerrors.Errorf("invalid index: %v", err)
	}
	si, err := conode(c)
	if err != nil {
		return err
	}
	cl := service.NewClient()
	defer cl.Close()
	reply, err := cl.Player(si, idx)
	if err != nil {
		return err
	}
	fmt.Println(reply.Participant)
	return nil
}

func balanceCmd(c *cli.Context) error {
	participant := c.Args().First()
	if participant == "" {
		return xerrors.New("missing participant")
	}
	si, err := conode(c)
	if err != nil {
		return err
	}
	cl := service.NewClient()
	defer cl.Close()
	reply, err := cl.Balance(si, participant)
	if err != nil {
		return err
	}
	fmt.Println(reply.Balance)
	return nil
}

func retryCmd(c *cli.Context) error {
	si, err := conode(c)
	if err != nil {
		return err
	}
	cl := service.NewClient()
	defer cl.Close()
	reply, err := cl.RetryClaims(si)
	if err != nil {
		return err
	}
	fmt.Printf("settled %d claims, %d remaining\n", reply.Settled, reply.Remaining)
	return nil
}

func keeperCmd(c *cli.Context) error {
	period := c.Duration("period")
	if period == 0 {
		cfg, err := loadConfig(c.String("config"))
		if err != nil {
			return err
		}
		period = cfg.Automation.Period.Duration
	}
	si, err := conode(c)
	if err != nil {
		return err
	}
	cl := service.NewClient()
	defer cl.Close()
	k, err := keeper.New(service.NewRemoteUpkeep(cl, si), period)
	if err != nil {
		return err
	}
	ctx, cancel := interruptible()
	defer cancel()
	log.Lvlf1("Polling %s every %v", si, period)
	err = k.Run(ctx)
	if xerrors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}
