package flashbots

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	fb "github.com/lmittmann/flashbots"
)

// FirstFailure returns the first transaction error or revert in a
// simulation response, if any.
func FirstFailure(resp *fb.CallBundleResponse) (common.Hash, string, bool) {
	if resp == nil {
		return common.Hash{}, "", false
	}
	for _, tx := range resp.Results {
		if tx.Error != nil {
			return tx.TxHash, tx.Error.Error(), true
		}
		if tx.Revert != "" {
			return tx.TxHash, tx.Revert, true
		}
	}
	return common.Hash{}, "", false
}

// RPCError is an error object returned by the relay itself, as opposed to a
// transport failure.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: relay error %d: %s", e.Method, e.Code, e.Message)
}
