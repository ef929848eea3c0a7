package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is an acting party: the operator, a participant, or the engine's
// own escrow account. Always a checksummed 0x address.
type Identity string

// ParseIdentity validates s as a hex address and returns its checksummed form.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q is not a hex address", ErrInvalidArgument, s)
	}
	return Identity(common.HexToAddress(s).Hex()), nil
}

// MustIdentity is ParseIdentity for constants and tests.
func MustIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// EscrowFor derives the escrow account of an engine initialised by operator:
// the address a contract deployed by operator with nonce 0 would get.
func EscrowFor(operator Identity) Identity {
	addr := crypto.CreateAddress(common.HexToAddress(string(operator)), 0)
	return Identity(addr.Hex())
}

// Short devuelve una forma abreviada para tablas (0x1234…abcd).
func (id Identity) Short() string {
	s := string(id)
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}

func (id Identity) String() string { return string(id) }
