package payout

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestBank_Transfer(t *testing.T) {
	b := NewBank()
	require.Equal(t, uint64(0), b.Balance("alice"))
	require.NoError(t, b.Transfer("alice", 400))
	require.NoError(t, b.Transfer("alice", 100))
	require.Equal(t, uint64(500), b.Balance("alice"))
	require.Equal(t, uint64(500), b.Paid())

	require.Error(t, b.Transfer("", 1))
	require.Error(t, b.Transfer("bob", 0))
	require.Error(t, b.Transfer("alice", ^uint64(0)))
	require.Equal(t, uint64(500), b.Balance("alice"))
}

func TestBank_Block(t *testing.T) {
	b := NewBank()
	b.Block("bob")
	err := b.Transfer("bob", 10)
	require.True(t, xerrors.Is(err, ErrBlocked))
	require.Equal(t, uint64(0), b.Balance("bob"))
	require.Equal(t, uint64(0), b.Paid())

	b.Unblock("bob")
	require.NoError(t, b.Transfer("bob", 10))
	require.Equal(t, uint64(10), b.Balance("bob"))
}

func TestBank_Concurrent(t *testing.T) {
	b := NewBank()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Transfer("alice", 2); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(100), b.Balance("alice"))
}

func TestFunc(t *testing.T) {
	var got string
	var ex Executor = Func(func(to string, amount uint64) error {
		got = to
		return nil
	})
	require.NoError(t, ex.Transfer("carol", 1))
	require.Equal(t, "carol", got)
}
