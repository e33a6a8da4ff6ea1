package submit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SimulationRejected means the dry run showed the bundle would not execute
// as planned. The attempt is dropped; the next head builds a new bundle.
type SimulationRejected struct {
	Reason string
	TxHash common.Hash
}

func (e *SimulationRejected) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("simulation rejected (tx %s): %s", e.TxHash.Hex(), e.Reason)
	}
	return "simulation rejected: " + e.Reason
}

// RelayRejected is an error object returned by the relay for eth_sendBundle.
type RelayRejected struct {
	Code    int
	Message string
}

func (e *RelayRejected) Error() string {
	return fmt.Sprintf("relay rejected bundle: %s (code %d)", e.Message, e.Code)
}

// IsRelayRejected reports whether err carries a *RelayRejected.
func IsRelayRejected(err error) bool {
	var rr *RelayRejected
	return errors.As(err, &rr)
}

// Hint maps common relay and simulation failures to a short operator hint.
// Unrecognised reasons are returned unchanged.
func Hint(reason string) string {
	ls := strings.ToLower(strings.TrimSpace(reason))
	switch {
	case strings.Contains(ls, "unsupported: eth_callbundle"), strings.Contains(ls, "invalid method"),
		strings.Contains(ls, "method not found"), strings.Contains(ls, "method not available"):
		return "simulation not supported by relay"
	case strings.Contains(ls, "insufficient funds for gas"):
		return "insufficient ETH for simulation"
	case strings.Contains(ls, "nonce too low"):
		return "nonce already used, a transaction from this account was mined"
	case strings.Contains(ls, "invalid character '<'"):
		return "non-JSON/HTML response (proxy/cf?)"
	case strings.Contains(ls, "dial tcp"), strings.Contains(ls, "lookup "):
		return "network/DNS error"
	}
	return reason
}
