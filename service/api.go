package service

import (
	"strings"

	"github.com/dedis/raffle"
	"github.com/dedis/raffle/utils"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

type Client struct {
	*onet.Client
}

func NewClient() *Client {
	return &Client{Client: onet.NewClient(cothority.Suite, ServiceName)}
}

func (c *Client) Init(si *network.ServerIdentity, req *InitRequest) (*InitReply, error) {
	reply := &InitReply{}
	err := c.SendProtobuf(si, req, reply)
	return reply, err
}

// Enter signs a ticket for the given round with priv and sends it.
func (c *Client) Enter(si *network.ServerIdentity, priv kyber.Scalar, round, amount uint64) (*EnterReply, error) {
	ticket, err := NewTicket(priv, round, amount)
	if err != nil {
		return nil, err
	}
	req := &EnterRequest{Ticket: *ticket, Round: round, Amount: amount}
	reply := &EnterReply{}
	err = c.SendProtobuf(si, req, reply)
	return reply, err
}

func (c *Client) CheckUpkeep(si *network.ServerIdentity) (*CheckUpkeepReply, error) {
	reply := &CheckUpkeepReply{}
	err := c.SendProtobuf(si, &CheckUpkeepRequest{}, reply)
	return reply, err
}

func (c *Client) PerformUpkeep(si *network.ServerIdentity) (*PerformUpkeepReply, error) {
	reply := &PerformUpkeepReply{}
	err := c.SendProtobuf(si, &PerformUpkeepRequest{}, reply)
	return reply, err
}

func (c *Client) Fulfill(si *network.ServerIdentity, req *FulfillRequest) (*FulfillReply, error) {
	reply := &FulfillReply{}
	err := c.SendProtobuf(si, req, reply)
	return reply, err
}

func (c *Client) Status(si *network.ServerIdentity) (*StatusReply, error) {
	reply := &StatusReply{}
	err := c.SendProtobuf(si, &StatusRequest{}, reply)
	return reply, err
}

func (c *Client) Player(si *network.ServerIdentity, index int) (*PlayerReply, error) {
	reply := &PlayerReply{}
	err := c.SendProtobuf(si, &PlayerRequest{Index: index}, reply)
	return reply, err
}

func (c *Client) Balance(si *network.ServerIdentity, participant string) (*BalanceReply, error) {
	reply := &BalanceReply{}
	err := c.SendProtobuf(si, &BalanceRequest{Participant: participant}, reply)
	return reply, err
}

func (c *Client) RetryClaims(si *network.ServerIdentity) (*RetryClaimsReply, error) {
	reply := &RetryClaimsReply{}
	err := c.SendProtobuf(si, &RetryClaimsRequest{}, reply)
	return reply, err
}

// NewTicket signs the entry of the key of priv.
func NewTicket(priv kyber.Scalar, round, amount uint64) (*Ticket, error) {
	pub := cothority.Suite.Point().Mul(priv, nil)
	msg, err := utils.HashTicket(pub, round, amount)
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(cothority.Suite, priv, msg)
	if err != nil {
		return nil, xerrors.Errorf("signing ticket: %v", err)
	}
	return &Ticket{Key: pub, Sig: sig}, nil
}

// RemoteUpkeep lets a keeper drive the raffle of a conode.
type RemoteUpkeep struct {
	c  *Client
	si *network.ServerIdentity
}

func NewRemoteUpkeep(c *Client, si *network.ServerIdentity) *RemoteUpkeep {
	return &RemoteUpkeep{c: c, si: si}
}

func (r *RemoteUpkeep) IsEligible() (bool, error) {
	reply, err := r.c.CheckUpkeep(r.si)
	if err != nil {
		return false, err
	}
	return reply.UpkeepNeeded, nil
}

// PerformUpkeep closes the remote round. Only the message of an error
// crosses the network, so the sentinel is restored from it.
func (r *RemoteUpkeep) PerformUpkeep() (uint64, error) {
	reply, err := r.c.PerformUpkeep(r.si)
	if err != nil {
		if strings.Contains(err.Error(), raffle.ErrUpkeepNotNeeded.Error()) {
			return 0, xerrors.Errorf("%v: %w", err, raffle.ErrUpkeepNotNeeded)
		}
		return 0, err
	}
	return reply.RequestID, nil
}
