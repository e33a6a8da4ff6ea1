// Package flashbots talks to a bundle relay over signed JSON-RPC and tracks
// whether a submitted bundle lands in its target block.
package flashbots

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	fb "github.com/lmittmann/flashbots"
	"github.com/lmittmann/w3"
)

// DefaultRelayURL returns the public Flashbots relay for chainID, or "" when
// there is none.
func DefaultRelayURL(chainID uint64) string {
	switch chainID {
	case 1:
		return "https://relay.flashbots.net"
	case 5:
		return "https://relay-goerli.flashbots.net"
	case 11155111:
		return "https://relay-sepolia.flashbots.net"
	case 17000:
		return "https://relay-holesky.flashbots.net"
	}
	return ""
}

type Client struct {
	RelayURL string
	AuthAddr common.Address
	timeout  time.Duration
	c        *w3.Client
}

// NewClient dials relayURL. Every request body is signed with authKey
// (reputation key, not a funds key).
func NewClient(relayURL string, authKey *ecdsa.PrivateKey, timeout time.Duration) (*Client, error) {
	if authKey == nil {
		return nil, errors.New("auth key is required")
	}
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	wc, err := fb.Dial(relayURL, authKey)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", relayURL, err)
	}
	return &Client{
		RelayURL: relayURL,
		AuthAddr: crypto.PubkeyToAddress(authKey.PublicKey),
		timeout:  timeout,
		c:        wc,
	}, nil
}

func (c *Client) Close() { _ = c.c.Close() }

// CallBundle simulates txs on top of the latest state as if mined in
// targetBlock (eth_callBundle).
func (c *Client) CallBundle(ctx context.Context, txs types.Transactions, targetBlock uint64) (*fb.CallBundleResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp *fb.CallBundleResponse
	err := c.c.CallCtx(ctx, fb.CallBundle(&fb.CallBundleRequest{
		Transactions: txs,
		BlockNumber:  new(big.Int).SetUint64(targetBlock),
	}).Returns(&resp))
	if err != nil {
		return nil, classify("eth_callBundle", err)
	}
	if resp == nil {
		return nil, errors.New("eth_callBundle: empty response")
	}
	return resp, nil
}

// SendBundle submits txs for inclusion in exactly targetBlock (eth_sendBundle)
// and returns the relay's bundle hash.
func (c *Client) SendBundle(ctx context.Context, txs types.Transactions, targetBlock uint64) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bundleHash common.Hash
	err := c.c.CallCtx(ctx, fb.SendBundle(&fb.SendBundleRequest{
		Transactions: txs,
		BlockNumber:  new(big.Int).SetUint64(targetBlock),
	}).Returns(&bundleHash))
	if err != nil {
		return common.Hash{}, classify("eth_sendBundle", err)
	}
	return bundleHash, nil
}

// classify turns relay-reported errors into *RPCError. Relays answer some
// rejections with a non-2xx status and a JSON-RPC error body; those count as
// relay errors too. Everything else is returned as a transport error.
func classify(method string, err error) error {
	var callErrs w3.CallErrors
	if errors.As(err, &callErrs) {
		for _, e := range callErrs {
			if e != nil {
				return classify(method, e)
			}
		}
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &RPCError{Method: method, Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && len(httpErr.Body) > 0 {
		if e := decodeErrorBody(httpErr.Body); e != nil {
			return &RPCError{Method: method, Code: e.Code, Message: e.Message}
		}
	}
	return fmt.Errorf("%s: %w", method, err)
}

type errorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Batched calls get an array back; single calls an object.
func decodeErrorBody(body []byte) *errorObject {
	type envelope struct {
		Error *errorObject `json:"error"`
	}
	var one envelope
	if json.Unmarshal(body, &one) == nil && one.Error != nil {
		return one.Error
	}
	var many []envelope
	if json.Unmarshal(body, &many) == nil {
		for _, e := range many {
			if e.Error != nil {
				return e.Error
			}
		}
	}
	return nil
}
