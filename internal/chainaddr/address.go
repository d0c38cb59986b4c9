// Package chainaddr models addresses across EVM and SVM chain families.
//
// Address is a tagged sum type rather than a raw byte slice so that callers can
// never silently compare an EVM address against an SVM one. Cross-chain maps key
// by Native(), the canonical string form, but callers that need family-specific
// guarantees should also check Kind().
package chainaddr

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type Kind uint8

const (
	KindEvm Kind = iota
	KindSvm
)

func (k Kind) String() string {
	switch k {
	case KindEvm:
		return "evm"
	case KindSvm:
		return "svm"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

var ErrInvalidAddress = errors.New("chainaddr: invalid address")

// Address is either a 20-byte EVM address or a 32-byte SVM address. The zero value
// is not a valid Address; use EvmAddress/SvmAddress to construct one.
type Address struct {
	kind Kind
	evm  common.Address
	svm  [32]byte
}

func EvmAddress(addr common.Address) Address {
	return Address{kind: KindEvm, evm: addr}
}

func SvmAddress(addr [32]byte) Address {
	return Address{kind: KindSvm, svm: addr}
}

// ParseEvmHex parses a 20-byte hex-encoded EVM address.
func ParseEvmHex(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("%w: %q is not a valid EVM address", ErrInvalidAddress, s)
	}
	return EvmAddress(common.HexToAddress(s)), nil
}

// ParseSvmHex parses a 32-byte hex-encoded SVM address.
func ParseSvmHex(s string) (Address, error) {
	s = trim0x(s)
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return Address{}, fmt.Errorf("%w: %q is not a valid SVM address", ErrInvalidAddress, s)
	}
	var out [32]byte
	copy(out[:], b)
	return SvmAddress(out), nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func (a Address) Kind() Kind { return a.kind }

func (a Address) IsZero() bool {
	switch a.kind {
	case KindEvm:
		return a.evm == common.Address{}
	case KindSvm:
		return a.svm == [32]byte{}
	default:
		return true
	}
}

// Evm returns the underlying EVM address. ok is false if Kind() != KindEvm.
func (a Address) Evm() (common.Address, bool) {
	if a.kind != KindEvm {
		return common.Address{}, false
	}
	return a.evm, true
}

// Svm returns the underlying SVM address. ok is false if Kind() != KindSvm.
func (a Address) Svm() ([32]byte, bool) {
	if a.kind != KindSvm {
		return [32]byte{}, false
	}
	return a.svm, true
}

// Native returns the canonical string form used as a map key across chains.
func (a Address) Native() string {
	switch a.kind {
	case KindEvm:
		return a.evm.Hex()
	case KindSvm:
		return "0x" + hex.EncodeToString(a.svm[:])
	default:
		return ""
	}
}

// Eq reports whether two addresses are equal in both kind and native bytes.
func (a Address) Eq(other Address) bool {
	return a.kind == other.kind && a.Native() == other.Native()
}

func (a Address) String() string { return a.Native() }
