// Package tokenreg resolves token symbols to their per-chain addresses and decimals,
// and canonicalizes display symbols (e.g. a chain's native gas symbol) to the symbol
// that actually carries protocol routes (e.g. a wrapped variant).
package tokenreg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xrelayer/relayer-core/internal/chainaddr"
)

var ErrUnknownSymbol = errors.New("tokenreg: unknown symbol")

// ChainID identifies a blockchain. One value is the distinguished hub chain.
type ChainID uint64

// TokenSymbol is a canonical, case-sensitive token symbol (e.g. "USDC", "WETH").
type TokenSymbol string

// SymbolEntry is one row of TOKEN_SYMBOLS_MAP: a symbol's decimals and its address on
// every chain that carries it.
type SymbolEntry struct {
	// Decimals is the symbol's canonical decimals, normally the hub chain's. A spoke
	// chain whose token contract uses a different decimals count overrides it in
	// ChainDecimals.
	Decimals  uint8
	Addresses map[ChainID]chainaddr.Address

	// ChainDecimals overrides Decimals for specific chains, e.g. a token bridged with
	// fewer decimals on an L2 than it has on the hub chain. Chains absent here use
	// Decimals.
	ChainDecimals map[ChainID]uint8
}

// Registry is TOKEN_SYMBOLS_MAP plus TOKEN_EQUIVALENCE_REMAPPING.
//
// TOKEN_EQUIVALENCE_REMAPPING maps a display symbol (typically a chain's native gas
// token, e.g. "ETH") to the canonical symbol that actually has protocol routes (e.g.
// "WETH"). Resolution of a display symbol falls back to its canonical symbol only
// when the display symbol itself is not present in Symbols.
type Registry struct {
	Symbols    map[TokenSymbol]SymbolEntry
	Equivalent map[TokenSymbol]TokenSymbol
}

func NewRegistry() *Registry {
	return &Registry{
		Symbols:    make(map[TokenSymbol]SymbolEntry),
		Equivalent: make(map[TokenSymbol]TokenSymbol),
	}
}

// AddSymbol registers (or replaces) a symbol's decimals and per-chain addresses.
func (r *Registry) AddSymbol(sym TokenSymbol, decimals uint8, addrs map[ChainID]chainaddr.Address) {
	r.AddSymbolWithChainDecimals(sym, decimals, addrs, nil)
}

// AddSymbolWithChainDecimals is AddSymbol plus per-chain decimals overrides for chains
// whose token contract uses a different decimals count than the canonical decimals.
func (r *Registry) AddSymbolWithChainDecimals(sym TokenSymbol, decimals uint8, addrs map[ChainID]chainaddr.Address, chainDecimals map[ChainID]uint8) {
	cloned := make(map[ChainID]chainaddr.Address, len(addrs))
	for k, v := range addrs {
		cloned[k] = v
	}
	var clonedDecimals map[ChainID]uint8
	if len(chainDecimals) > 0 {
		clonedDecimals = make(map[ChainID]uint8, len(chainDecimals))
		for k, v := range chainDecimals {
			clonedDecimals[k] = v
		}
	}
	r.Symbols[sym] = SymbolEntry{Decimals: decimals, Addresses: cloned, ChainDecimals: clonedDecimals}
}

// AddEquivalence registers a display-symbol -> canonical-symbol remapping.
func (r *Registry) AddEquivalence(display, canonical TokenSymbol) {
	r.Equivalent[display] = canonical
}

// Resolve returns the SymbolEntry for sym, applying TOKEN_EQUIVALENCE_REMAPPING as a
// fallback when sym itself is unregistered.
func (r *Registry) Resolve(sym TokenSymbol) (TokenSymbol, SymbolEntry, error) {
	if entry, ok := r.Symbols[sym]; ok {
		return sym, entry, nil
	}
	if canonical, ok := r.Equivalent[sym]; ok {
		if entry, ok := r.Symbols[canonical]; ok {
			return canonical, entry, nil
		}
	}
	return "", SymbolEntry{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, sym)
}

// AddressOn returns the address of sym (after equivalence resolution) on chain.
func (r *Registry) AddressOn(sym TokenSymbol, chain ChainID) (chainaddr.Address, error) {
	_, entry, err := r.Resolve(sym)
	if err != nil {
		return chainaddr.Address{}, err
	}
	addr, ok := entry.Addresses[chain]
	if !ok {
		return chainaddr.Address{}, fmt.Errorf("%w: %s has no address on chain %d", ErrUnknownSymbol, sym, chain)
	}
	return addr, nil
}

// DecimalsOf returns the canonical decimals of sym (after equivalence resolution).
func (r *Registry) DecimalsOf(sym TokenSymbol) (uint8, error) {
	_, entry, err := r.Resolve(sym)
	if err != nil {
		return 0, err
	}
	return entry.Decimals, nil
}

// DecimalsOnChain returns the decimals sym's token uses on chain: the ChainDecimals
// override if one is registered for chain, otherwise the canonical Decimals.
func (r *Registry) DecimalsOnChain(sym TokenSymbol, chain ChainID) (uint8, error) {
	_, entry, err := r.Resolve(sym)
	if err != nil {
		return 0, err
	}
	if d, ok := entry.ChainDecimals[chain]; ok {
		return d, nil
	}
	return entry.Decimals, nil
}

// SymbolForAddress reverse-looks-up the registered symbol for a (chain, address) pair.
// Unknown addresses return ("", false).
func (r *Registry) SymbolForAddress(chain ChainID, addr chainaddr.Address) (TokenSymbol, bool) {
	for sym, entry := range r.Symbols {
		if a, ok := entry.Addresses[chain]; ok && a.Eq(addr) {
			return sym, true
		}
	}
	return "", false
}

// NormalizeSymbol uppercases and trims a raw configuration symbol string, matching
// the case-sensitive keys used throughout TOKEN_SYMBOLS_MAP.
func NormalizeSymbol(s string) TokenSymbol {
	return TokenSymbol(strings.ToUpper(strings.TrimSpace(s)))
}
