package flashbots

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ligun0805/bundle-sweep/internal/bundlecore"
	"github.com/ligun0805/bundle-sweep/internal/fees"
)

type fakeChain struct {
	mu     sync.Mutex
	heads  []uint64
	calls  int
	nonces map[common.Address]uint64
	blocks map[uint64][]common.Hash
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.heads) {
		i = len(f.heads) - 1
	}
	f.calls++
	return &types.Header{Number: new(big.Int).SetUint64(f.heads[i])}, nil
}

func (f *fakeChain) NonceAt(_ context.Context, a common.Address, _ *big.Int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[a], nil
}

func (f *fakeChain) BlockTxHashes(_ context.Context, n uint64) ([]common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hashes, ok := f.blocks[n]
	if !ok {
		return nil, errors.New("not found")
	}
	return hashes, nil
}

func signedTestBundle(t *testing.T) *bundlecore.SignedBundle {
	t.Helper()
	ek, err := crypto.GenerateKey()
	require.NoError(t, err)
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	executor, sponsor := bundlecore.NewAccount(ek), bundlecore.NewAccount(sk)

	fp := fees.FeePlan{PriorityFee: big.NewInt(1), MaxFeePerGas: big.NewInt(2)}
	intents, err := bundlecore.NewPlanner(big.NewInt(1)).Plan(executor.Address, sponsor.Address, common.Address{0x9}, big.NewInt(100), fp, bundlecore.GasLimits{})
	require.NoError(t, err)
	b, err := bundlecore.Sign(intents,
		map[bundlecore.Role]*bundlecore.Account{bundlecore.RoleSponsor: sponsor, bundlecore.RoleExecutor: executor},
		map[common.Address]uint64{sponsor.Address: 4, executor.Address: 0})
	require.NoError(t, err)
	return b
}

func waitResolution(t *testing.T, chain *fakeChain, b *bundlecore.SignedBundle, target uint64) Resolution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := NewWatcher(chain, time.Millisecond, zap.NewNop()).Watch(b, target).Wait(ctx)
	require.NoError(t, err)
	return res
}

func TestWaitIncluded(t *testing.T) {
	b := signedTestBundle(t)
	chain := &fakeChain{
		heads:  []uint64{100, 101, 102},
		nonces: map[common.Address]uint64{b.Signers[0]: 4, b.Signers[1]: 0},
		blocks: map[uint64][]common.Hash{102: append([]common.Hash{{0x1}}, b.Hashes()...)},
	}
	assert.Equal(t, Included, waitResolution(t, chain, b, 102))
}

func TestWaitNotIncluded(t *testing.T) {
	b := signedTestBundle(t)
	chain := &fakeChain{
		heads:  []uint64{100, 103},
		nonces: map[common.Address]uint64{},
		blocks: map[uint64][]common.Hash{102: {b.Hashes()[0]}},
	}
	assert.Equal(t, NotIncluded, waitResolution(t, chain, b, 102))
}

func TestWaitNonceTooHigh(t *testing.T) {
	b := signedTestBundle(t)
	chain := &fakeChain{
		heads:  []uint64{100, 101},
		nonces: map[common.Address]uint64{b.Signers[0]: 5},
		blocks: map[uint64][]common.Hash{},
	}
	assert.Equal(t, NonceTooHigh, waitResolution(t, chain, b, 102))
}

func TestWaitRetriesUntilTargetBlockAvailable(t *testing.T) {
	b := signedTestBundle(t)
	chain := &fakeChain{heads: []uint64{102}, nonces: map[common.Address]uint64{}, blocks: map[uint64][]common.Hash{}}

	go func() {
		time.Sleep(20 * time.Millisecond)
		chain.mu.Lock()
		chain.blocks[102] = b.Hashes()
		chain.mu.Unlock()
	}()
	// The head never advances, so the watcher has to recheck the same head.
	assert.Equal(t, Included, waitResolution(t, chain, b, 102))
}

func TestWaitHonoursContext(t *testing.T) {
	b := signedTestBundle(t)
	chain := &fakeChain{heads: []uint64{1}, nonces: map[common.Address]uint64{}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewWatcher(chain, time.Millisecond, zap.NewNop()).Watch(b, 10).Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolutionString(t *testing.T) {
	assert.Equal(t, "included", Included.String())
	assert.Equal(t, "not_included", NotIncluded.String())
	assert.Equal(t, "nonce_too_high", NonceTooHigh.String())
}
