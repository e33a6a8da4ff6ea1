package bundlecore

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// SignedBundle is the ordered list of signed bundle transactions.
type SignedBundle struct {
	Txs     []*types.Transaction
	Signers []common.Address
}

// RawTxs returns the binary encodings in bundle order.
func (b *SignedBundle) RawTxs() ([]hexutil.Bytes, error) {
	out := make([]hexutil.Bytes, 0, len(b.Txs))
	for i, tx := range b.Txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode tx %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func (b *SignedBundle) Hashes() []common.Hash {
	out := make([]common.Hash, len(b.Txs))
	for i, tx := range b.Txs {
		out[i] = tx.Hash()
	}
	return out
}

// Build EIP-1559 transaction.
func buildDynamicTx(in Intent, nonce uint64) *types.Transaction {
	to := in.To
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).Set(in.ChainID),
		Nonce:     nonce,
		Gas:       in.GasLimit,
		GasTipCap: new(big.Int).Set(in.PriorityFee),
		GasFeeCap: new(big.Int).Set(in.MaxFeePerGas),
		To:        &to,
		Value:     new(big.Int).Set(in.Value),
	})
}

// Sign signs every intent with the account of its role. nonces holds the
// next nonce of each signer; consecutive intents of one signer take
// consecutive nonces.
func Sign(intents []Intent, signers map[Role]*Account, nonces map[common.Address]uint64) (*SignedBundle, error) {
	next := make(map[common.Address]uint64, len(nonces))
	for a, n := range nonces {
		next[a] = n
	}
	out := &SignedBundle{
		Txs:     make([]*types.Transaction, 0, len(intents)),
		Signers: make([]common.Address, 0, len(intents)),
	}
	for i, in := range intents {
		acct, ok := signers[in.Role]
		if !ok || acct == nil || acct.Key == nil {
			return nil, &SigningError{Index: i, Role: in.Role, Err: errors.New("no signer for role")}
		}
		if acct.Address != in.From {
			return nil, &SigningError{Index: i, Role: in.Role, Err: fmt.Errorf("signer %s does not match from %s", acct.Address.Hex(), in.From.Hex())}
		}
		if in.Type != types.DynamicFeeTxType {
			return nil, &SigningError{Index: i, Role: in.Role, Err: fmt.Errorf("unsupported tx type %d", in.Type)}
		}
		if in.ChainID == nil || in.Value == nil || in.PriorityFee == nil || in.MaxFeePerGas == nil {
			return nil, &SigningError{Index: i, Role: in.Role, Err: errors.New("incomplete intent")}
		}
		nonce, ok := next[in.From]
		if !ok {
			return nil, &SigningError{Index: i, Role: in.Role, Err: fmt.Errorf("unknown nonce for %s", in.From.Hex())}
		}
		signed, err := types.SignTx(buildDynamicTx(in, nonce), types.LatestSignerForChainID(in.ChainID), acct.Key)
		if err != nil {
			return nil, &SigningError{Index: i, Role: in.Role, Err: err}
		}
		next[in.From] = nonce + 1
		out.Txs = append(out.Txs, signed)
		out.Signers = append(out.Signers, in.From)
	}
	return out, nil
}
