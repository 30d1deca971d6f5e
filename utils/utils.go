package utils

import (
	"crypto/sha256"
	"encoding/binary"
	"os"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/app"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// HashTicket is the message a participant signs to enter round with
// amount.
func HashTicket(key kyber.Point, round uint64, amount uint64) ([]byte, error) {
	buf, err := key.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal key: %v", err)
	}
	h := sha256.New()
	h.Write(buf)
	num := make([]byte, 8)
	binary.LittleEndian.PutUint64(num, round)
	h.Write(num)
	binary.LittleEndian.PutUint64(num, amount)
	h.Write(num)
	return h.Sum(nil), nil
}

// ParticipantID is how a key is recorded in the ledger.
func ParticipantID(key kyber.Point) string {
	return key.String()
}

func ReadRoster(path string) (*onet.Roster, error) {
	file, err := os.Open(path)
	if err != nil {
		log.Errorf("ReadRoster error: %v", err)
		return nil, err
	}
	defer file.Close()

	group, err := app.ReadGroupDescToml(file)
	if err != nil {
		log.Errorf("ReadRoster error: %v", err)
		return nil, err
	}
	if group.Roster == nil || len(group.Roster.List) == 0 {
		return nil, xerrors.Errorf("empty roster in %s", path)
	}
	return group.Roster, nil
}
