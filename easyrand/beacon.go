package easyrand

import (
	"encoding/binary"
	"sync"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/tbls"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var suite = bn256.NewSuite()

// Beacon produces chained threshold BLS signatures. The shares are dealt
// locally; each round is signed by Threshold of them and recovered into a
// signature that verifies against the public key of the group.
type Beacon struct {
	sync.Mutex
	shares    []*share.PriShare
	pubPoly   *share.PubPoly
	threshold int
	blocks    [][]byte
}

// NewBeacon deals n shares of a fresh secret, t of which sign a round.
func NewBeacon(n, t int) (*Beacon, error) {
	if n < 1 || t < 1 || t > n {
		return nil, xerrors.Errorf("invalid threshold %d of %d", t, n)
	}
	secret := suite.G1().Scalar().Pick(suite.RandomStream())
	priPoly := share.NewPriPoly(suite.G2(), t, secret, suite.RandomStream())
	return &Beacon{
		shares:    priPoly.Shares(n),
		pubPoly:   priPoly.Commit(suite.G2().Point().Base()),
		threshold: t,
	}, nil
}

// Public is the key the rounds verify against.
func (b *Beacon) Public() kyber.Point {
	return b.pubPoly.Commit()
}

// Round returns the number of rounds produced so far.
func (b *Beacon) Round() uint64 {
	b.Lock()
	defer b.Unlock()
	return uint64(len(b.blocks))
}

// Next signs the message of the next round for requestID. A round serves a
// single request.
func (b *Beacon) Next(requestID uint64) (*Randomness, error) {
	b.Lock()
	defer b.Unlock()
	msg := createNextMsg(b.blocks, requestID)
	// only the first threshold signers take part
	sigs := make([][]byte, 0, b.threshold)
	for _, sh := range b.shares[:b.threshold] {
		sig, err := tbls.Sign(suite, sh, msg)
		if err != nil {
			return nil, xerrors.Errorf("couldn't sign round: %v", err)
		}
		sigs = append(sigs, sig)
	}
	finalSig, err := tbls.Recover(suite, b.pubPoly, msg, sigs, b.threshold, len(b.shares))
	if err != nil {
		return nil, xerrors.Errorf("couldn't recover signature: %v", err)
	}
	b.blocks = append(b.blocks, finalSig)
	round := uint64(len(b.blocks) - 1)
	log.Lvlf3("Beacon round %d for request %d signed by %d of %d", round, requestID,
		b.threshold, len(b.shares))
	return &Randomness{Round: round, RequestID: requestID, Prev: msg, Sig: finalSig}, nil
}

// Verify checks r against the public key of a beacon.
func Verify(public kyber.Point, r *Randomness) error {
	if r == nil || len(r.Sig) == 0 {
		return xerrors.New("empty randomness")
	}
	if err := bls.Verify(suite, public, r.Prev, r.Sig); err != nil {
		return xerrors.Errorf("couldn't verify randomness of round %d: %v", r.Round, err)
	}
	return nil
}

// VerifyRequest checks r like Verify and that it was signed for request id.
func VerifyRequest(public kyber.Point, id uint64, r *Randomness) error {
	if err := Verify(public, r); err != nil {
		return err
	}
	if r.RequestID != id || len(r.Prev) < 8 ||
		binary.LittleEndian.Uint64(r.Prev[len(r.Prev)-8:]) != id {
		return xerrors.Errorf("round %d for request %d: %w", r.Round, id, ErrWrongRequest)
	}
	return nil
}

// PublicFromBytes decodes a public key produced by Public().MarshalBinary.
func PublicFromBytes(buf []byte) (kyber.Point, error) {
	p := suite.G2().Point()
	if err := p.UnmarshalBinary(buf); err != nil {
		return nil, xerrors.Errorf("couldn't decode beacon key: %v", err)
	}
	return p, nil
}

// createNextMsg chains the round to the previous signature and binds it to
// the request it serves.
func createNextMsg(blocks [][]byte, requestID uint64) []byte {
	var msg []byte
	round := len(blocks)
	if round == 0 {
		msg = []byte(genesisMsg)
	} else {
		msg = make([]byte, 8)
		binary.LittleEndian.PutUint64(msg, uint64(round))
		msg = append(msg, blocks[len(blocks)-1]...)
	}
	idBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(idBuf, requestID)
	return append(msg, idBuf...)
}
