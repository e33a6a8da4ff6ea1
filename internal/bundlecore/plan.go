package bundlecore

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ligun0805/bundle-sweep/internal/fees"
)

// TransferGas is the gas used by a plain value transfer.
const TransferGas uint64 = 21_000

// Intent is an unsigned transaction of the bundle. Nonces are resolved at
// signing time.
type Intent struct {
	Role         Role
	From         common.Address
	To           common.Address
	Value        *big.Int
	GasLimit     uint64
	PriorityFee  *big.Int
	MaxFeePerGas *big.Int
	ChainID      *big.Int
	Type         uint8
}

// GasLimits carries the gas limits of the two bundle transactions. Sweep is
// normally an external estimate; Funding defaults to TransferGas.
type GasLimits struct {
	Funding uint64
	Sweep   uint64
}

// Planner lays out the funding + sweep pair for one target block.
type Planner struct {
	ChainID *big.Int
}

func NewPlanner(chainID *big.Int) *Planner {
	return &Planner{ChainID: new(big.Int).Set(chainID)}
}

// Plan returns [funding, sweep]. The sponsor prefunds the executor with the
// worst-case gas cost of the sweep so the sweep can move the full balance.
func (p *Planner) Plan(executor, sponsor, recipient common.Address, balance *big.Int, fp fees.FeePlan, gl GasLimits) ([]Intent, error) {
	if sponsor == executor {
		return nil, fmt.Errorf("plan: %w (%s)", ErrInvalidRoleAssignment, sponsor.Hex())
	}
	if balance == nil || balance.Sign() <= 0 {
		return nil, fmt.Errorf("plan: %w", ErrEmptyBalance)
	}
	if fp.PriorityFee == nil || fp.MaxFeePerGas == nil {
		return nil, fmt.Errorf("plan: incomplete fee plan")
	}
	if gl.Funding == 0 {
		gl.Funding = TransferGas
	}
	if gl.Sweep == 0 {
		gl.Sweep = TransferGas
	}

	sweepGasCost := new(big.Int).Mul(new(big.Int).SetUint64(gl.Sweep), fp.MaxFeePerGas)

	funding := Intent{
		Role:         RoleSponsor,
		From:         sponsor,
		To:           executor,
		Value:        sweepGasCost,
		GasLimit:     gl.Funding,
		PriorityFee:  new(big.Int).Set(fp.PriorityFee),
		MaxFeePerGas: new(big.Int).Set(fp.MaxFeePerGas),
		ChainID:      new(big.Int).Set(p.ChainID),
		Type:         types.DynamicFeeTxType,
	}
	sweep := Intent{
		Role:         RoleExecutor,
		From:         executor,
		To:           recipient,
		Value:        new(big.Int).Set(balance),
		GasLimit:     gl.Sweep,
		PriorityFee:  new(big.Int).Set(fp.PriorityFee),
		MaxFeePerGas: new(big.Int).Set(fp.MaxFeePerGas),
		ChainID:      new(big.Int).Set(p.ChainID),
		Type:         types.DynamicFeeTxType,
	}
	return []Intent{funding, sweep}, nil
}
