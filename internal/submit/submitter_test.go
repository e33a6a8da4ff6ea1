package submit

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	fb "github.com/lmittmann/flashbots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ligun0805/bundle-sweep/internal/bundlecore"
	"github.com/ligun0805/bundle-sweep/internal/fees"
	"github.com/ligun0805/bundle-sweep/internal/flashbots"
)

type fakeRelay struct {
	callRes *fb.CallBundleResponse
	callErr error
	sendErr error
	calls   []string
	targets []uint64
	sentTxs int
}

func (r *fakeRelay) CallBundle(_ context.Context, txs types.Transactions, target uint64) (*fb.CallBundleResponse, error) {
	r.calls = append(r.calls, "call")
	r.targets = append(r.targets, target)
	if r.callErr != nil {
		return nil, r.callErr
	}
	return r.callRes, nil
}

func (r *fakeRelay) SendBundle(_ context.Context, txs types.Transactions, target uint64) (common.Hash, error) {
	r.calls = append(r.calls, "send")
	r.targets = append(r.targets, target)
	r.sentTxs = len(txs)
	if r.sendErr != nil {
		return common.Hash{}, r.sendErr
	}
	return common.Hash{0xaa}, nil
}

type fakeNonces map[common.Address]uint64

func (n fakeNonces) NonceAt(_ context.Context, a common.Address, _ *big.Int) (uint64, error) {
	v, ok := n[a]
	if !ok {
		return 0, errors.New("unknown account")
	}
	return v, nil
}

type staticHandle flashbots.Resolution

func (h staticHandle) Wait(context.Context) (flashbots.Resolution, error) {
	return flashbots.Resolution(h), nil
}

type fakeWatcher struct {
	watched *bundlecore.SignedBundle
	target  uint64
}

func (w *fakeWatcher) Watch(b *bundlecore.SignedBundle, target uint64) flashbots.Handle {
	w.watched, w.target = b, target
	return staticHandle(flashbots.Included)
}

type fixture struct {
	executor, sponsor *bundlecore.Account
	intents           []bundlecore.Intent
	relay             *fakeRelay
	watcher           *fakeWatcher
	submitter         *Submitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ek, err := crypto.GenerateKey()
	require.NoError(t, err)
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	f := &fixture{
		executor: bundlecore.NewAccount(ek),
		sponsor:  bundlecore.NewAccount(sk),
		relay:    &fakeRelay{callRes: &fb.CallBundleResponse{BundleGasPrice: big.NewInt(80_000_000_000), TotalGasUsed: 42_000}},
		watcher:  &fakeWatcher{},
	}
	fp := fees.FeePlan{PriorityFee: big.NewInt(80), MaxFeePerGas: big.NewInt(145)}
	f.intents, err = bundlecore.NewPlanner(big.NewInt(1)).Plan(f.executor.Address, f.sponsor.Address, common.Address{0x7}, big.NewInt(10), fp, bundlecore.GasLimits{})
	require.NoError(t, err)

	signers := map[bundlecore.Role]*bundlecore.Account{bundlecore.RoleSponsor: f.sponsor, bundlecore.RoleExecutor: f.executor}
	nonces := fakeNonces{f.sponsor.Address: 3, f.executor.Address: 9}
	f.submitter = NewSubmitter(f.relay, nonces, f.watcher, signers, zap.NewNop())
	return f
}

func TestSubmitHappyPath(t *testing.T) {
	f := newFixture(t)

	h, err := f.submitter.Submit(context.Background(), f.intents, 102)
	require.NoError(t, err)
	assert.Equal(t, []string{"call", "send"}, f.relay.calls)
	assert.Equal(t, []uint64{102, 102}, f.relay.targets)
	assert.Equal(t, 2, f.relay.sentTxs)

	require.NotNil(t, f.watcher.watched)
	assert.Equal(t, uint64(102), f.watcher.target)
	assert.Equal(t, uint64(3), f.watcher.watched.Txs[0].Nonce())
	assert.Equal(t, uint64(9), f.watcher.watched.Txs[1].Nonce())

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, flashbots.Included, res)
}

func TestSubmitSimulationRevert(t *testing.T) {
	f := newFixture(t)
	f.relay.callRes = &fb.CallBundleResponse{
		BundleGasPrice: big.NewInt(1),
		Results:        []fb.TxResult{{}, {TxHash: common.Hash{0x2}, Error: errors.New("insufficient funds for gas * price + value")}},
	}

	_, err := f.submitter.Submit(context.Background(), f.intents, 102)
	var sr *SimulationRejected
	require.ErrorAs(t, err, &sr)
	assert.Contains(t, sr.Reason, "insufficient funds")
	assert.Equal(t, []string{"call"}, f.relay.calls, "must not send after a failed simulation")
}

func TestSubmitSimulationImplausiblePrice(t *testing.T) {
	for _, price := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		f := newFixture(t)
		f.relay.callRes = &fb.CallBundleResponse{BundleGasPrice: price}

		_, err := f.submitter.Submit(context.Background(), f.intents, 102)
		var sr *SimulationRejected
		assert.ErrorAs(t, err, &sr, price)
	}
}

func TestSubmitSimulationRelayError(t *testing.T) {
	f := newFixture(t)
	f.relay.callErr = &flashbots.RPCError{Method: "eth_callBundle", Code: -32000, Message: "nonce too low"}

	_, err := f.submitter.Submit(context.Background(), f.intents, 102)
	var sr *SimulationRejected
	require.ErrorAs(t, err, &sr)
	assert.Equal(t, "nonce too low", sr.Reason)
}

func TestSubmitRelayRejected(t *testing.T) {
	f := newFixture(t)
	f.relay.sendErr = &flashbots.RPCError{Method: "eth_sendBundle", Code: -32602, Message: "invalid bundle"}

	_, err := f.submitter.Submit(context.Background(), f.intents, 102)
	assert.True(t, IsRelayRejected(err))
	var rr *RelayRejected
	require.ErrorAs(t, err, &rr)
	assert.Equal(t, "invalid bundle", rr.Message)
}

func TestSubmitTransportErrorIsNotRejection(t *testing.T) {
	f := newFixture(t)
	f.relay.sendErr = errors.New("connection reset by peer")

	_, err := f.submitter.Submit(context.Background(), f.intents, 102)
	require.Error(t, err)
	assert.False(t, IsRelayRejected(err))
}

func TestSubmitMissingSigner(t *testing.T) {
	f := newFixture(t)
	f.submitter.signers = map[bundlecore.Role]*bundlecore.Account{bundlecore.RoleExecutor: f.executor}

	_, err := f.submitter.Submit(context.Background(), f.intents, 102)
	var se *bundlecore.SigningError
	require.ErrorAs(t, err, &se)
	assert.Empty(t, f.relay.calls)
}

func TestSubmitSimulationRevertString(t *testing.T) {
	f := newFixture(t)
	f.relay.callRes = &fb.CallBundleResponse{
		BundleGasPrice: big.NewInt(1),
		Results:        []fb.TxResult{{TxHash: common.Hash{0x1}, Revert: "boom"}, {}},
	}

	_, err := f.submitter.Submit(context.Background(), f.intents, 102)
	var sr *SimulationRejected
	require.ErrorAs(t, err, &sr)
	assert.Equal(t, "boom", sr.Reason)
	assert.Equal(t, common.Hash{0x1}, sr.TxHash)
}

func TestHint(t *testing.T) {
	assert.Equal(t, "simulation not supported by relay", Hint("Method not found"))
	assert.Equal(t, "insufficient ETH for simulation", Hint("err: insufficient funds for gas * price + value"))
	assert.Equal(t, "network/DNS error", Hint("dial tcp 1.2.3.4:443: i/o timeout"))
	assert.Equal(t, "execution reverted", Hint("execution reverted"))
}
