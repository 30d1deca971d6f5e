// Package store keeps the round state and the winner history in a bbolt
// file, so that a restarted raffle picks up where it stopped, including a
// randomness request that was still pending.
package store

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/dedis/raffle"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var (
	roundBucket   = []byte("raffle")
	winnersBucket = []byte("winners")
	roundKey      = []byte("round")
)

// Store is safe for concurrent use.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("couldn't open %s: %v", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{roundBucket, winnersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("couldn't create buckets: %v", err)
	}
	log.Lvl2("Opened raffle store", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path of the underlying file.
func (s *Store) Path() string {
	return s.db.Path()
}

// Save replaces the journaled round state.
func (s *Store) Save(snap *raffle.Snapshot) error {
	buf, err := protobuf.Encode(snap)
	if err != nil {
		return xerrors.Errorf("couldn't encode snapshot: %v", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(roundBucket).Put(roundKey, buf)
	})
}

// Load returns the journaled round state, or nil if nothing was saved yet.
func (s *Store) Load() (*raffle.Snapshot, error) {
	var buf []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(roundBucket).Get(roundKey)
		if v != nil {
			buf = make([]byte, len(v))
			copy(buf, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, nil
	}
	snap := &raffle.Snapshot{}
	if err := protobuf.Decode(buf, snap); err != nil {
		return nil, xerrors.Errorf("couldn't decode snapshot: %v", err)
	}
	return snap, nil
}

// AppendWinner adds a record at the end of the history.
func (s *Store) AppendWinner(rec *raffle.WinnerRecord) error {
	buf, err := protobuf.Encode(rec)
	if err != nil {
		return xerrors.Errorf("couldn't encode winner: %v", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(winnersBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, buf)
	})
}

// Winners returns the history, oldest first.
func (s *Store) Winners() ([]raffle.WinnerRecord, error) {
	var out []raffle.WinnerRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(winnersBucket).ForEach(func(k, v []byte) error {
			var rec raffle.WinnerRecord
			if err := protobuf.Decode(v, &rec); err != nil {
				return xerrors.Errorf("couldn't decode winner %x: %v", k, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// Exists tells whether a database file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
