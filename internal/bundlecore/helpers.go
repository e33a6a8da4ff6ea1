package bundlecore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Role names the party that signs an intent.
type Role int

const (
	RoleSponsor Role = iota + 1
	RoleExecutor
)

func (r Role) String() string {
	switch r {
	case RoleSponsor:
		return "sponsor"
	case RoleExecutor:
		return "executor"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Account is an address together with the key that signs for it.
type Account struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

func NewAccount(key *ecdsa.PrivateKey) *Account {
	return &Account{Address: gethcrypto.PubkeyToAddress(key.PublicKey), Key: key}
}

// AccountFromHex parses a hex ECDSA private key (with / without 0x).
func AccountFromHex(s string) (*Account, error) {
	key, err := HexToECDSAPriv(s)
	if err != nil {
		return nil, err
	}
	return NewAccount(key), nil
}

// HexToECDSAPriv parses a hex ECDSA private key (with / without 0x).
func HexToECDSAPriv(s string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if len(h) == 0 {
		return nil, errors.New("empty private key")
	}
	return gethcrypto.HexToECDSA(h)
}
