// Package config loads the operator-provided token topology JSON file into the
// registries of internal/tokenreg and internal/tokenconfig:
// the same flag-driven "read a config file, build the in-memory registries" shape used
// by this repo's other command-line entry points.
package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/tokenconfig"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

// Topology is the on-disk shape of the token topology config file.
type Topology struct {
	HubChain tokenreg.ChainID `json:"hubChain"`
	Symbols  []SymbolEntry     `json:"symbols"`
	Equivalence map[string]string `json:"equivalence"`
	Balances []BalanceEntry    `json:"balances"`
	Wrap     WrapEntry         `json:"wrap"`
}

type SymbolEntry struct {
	Symbol    string                      `json:"symbol"`
	Decimals  uint8                       `json:"decimals"`
	Addresses map[tokenreg.ChainID]string `json:"addresses"`

	// ChainDecimals overrides Decimals for chains whose token contract uses a
	// different decimals count than the hub chain's.
	ChainDecimals map[tokenreg.ChainID]uint8 `json:"chainDecimals,omitempty"`
}

type BalanceEntry struct {
	L1Token              string  `json:"l1Token"`
	Chain                tokenreg.ChainID `json:"chain"`
	AliasL2Token         string  `json:"aliasL2Token,omitempty"`
	TargetPct            string  `json:"targetPct"`
	ThresholdPct         string  `json:"thresholdPct"`
	TargetOverageBuffer  string  `json:"targetOverageBuffer,omitempty"`
	UnwrapWethThreshold  string  `json:"unwrapWethThreshold,omitempty"`
	UnwrapWethTarget     string  `json:"unwrapWethTarget,omitempty"`
	WithdrawExcessPeriod int64   `json:"withdrawExcessPeriod,omitempty"`
}

type WrapEntry struct {
	WrapEtherThreshold string                      `json:"wrapEtherThreshold,omitempty"`
	WrapEtherTarget    string                      `json:"wrapEtherTarget,omitempty"`
	PerChainThreshold  map[tokenreg.ChainID]string `json:"perChainThreshold,omitempty"`
	PerChainTarget     map[tokenreg.ChainID]string `json:"perChainTarget,omitempty"`
}

// Load reads and parses a topology file from path.
func Load(path string) (Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var top Topology
	if err := json.Unmarshal(raw, &top); err != nil {
		return Topology{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return top, nil
}

// BuildRegistries constructs the token symbol registry and balance config registry
// described by top.
func BuildRegistries(top Topology) (*tokenreg.Registry, *tokenconfig.Registry, error) {
	registry := tokenreg.NewRegistry()
	for _, s := range top.Symbols {
		addrs := make(map[tokenreg.ChainID]chainaddr.Address, len(s.Addresses))
		for chain, native := range s.Addresses {
			addr, err := parseAddress(native)
			if err != nil {
				return nil, nil, fmt.Errorf("config: symbol %s chain %d: %w", s.Symbol, chain, err)
			}
			addrs[chain] = addr
		}
		registry.AddSymbolWithChainDecimals(tokenreg.NormalizeSymbol(s.Symbol), s.Decimals, addrs, s.ChainDecimals)
	}
	for display, canonical := range top.Equivalence {
		registry.AddEquivalence(tokenreg.NormalizeSymbol(display), tokenreg.NormalizeSymbol(canonical))
	}

	tokens := tokenconfig.NewRegistry()
	for _, b := range top.Balances {
		cfg, err := balanceConfigFrom(b)
		if err != nil {
			return nil, nil, fmt.Errorf("config: balance entry for %s/%d: %w", b.L1Token, b.Chain, err)
		}
		entry := tokens.Entries[b.L1Token]
		if b.AliasL2Token != "" {
			if entry.Aliases == nil {
				entry.Aliases = make(tokenconfig.AliasMap)
			}
			if entry.Aliases[b.AliasL2Token] == nil {
				entry.Aliases[b.AliasL2Token] = make(tokenconfig.ChainMap)
			}
			entry.Aliases[b.AliasL2Token][b.Chain] = cfg
		} else {
			if entry.Direct == nil {
				entry.Direct = make(tokenconfig.ChainMap)
			}
			entry.Direct[b.Chain] = cfg
		}
		tokens.Entries[b.L1Token] = entry
	}

	wrap, err := wrapConfigFrom(top.Wrap)
	if err != nil {
		return nil, nil, fmt.Errorf("config: wrap config: %w", err)
	}
	tokens.Wrap = wrap

	return registry, tokens, nil
}

// parseFp parses a decimal 18-decimal fixed-point literal (e.g. "1000000000000000000"
// for 1.0). An empty string returns nil unless required, in which case it errors.
func parseFp(s string, required bool) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if required {
			return nil, fmt.Errorf("missing required value")
		}
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad fixed-point literal %q", s)
	}
	return v, nil
}

func parseAddress(native string) (chainaddr.Address, error) {
	if addr, err := chainaddr.ParseEvmHex(native); err == nil {
		return addr, nil
	}
	return chainaddr.ParseSvmHex(native)
}

func balanceConfigFrom(b BalanceEntry) (tokenconfig.TokenBalanceConfig, error) {
	target, err := parseFp(b.TargetPct, true)
	if err != nil {
		return tokenconfig.TokenBalanceConfig{}, fmt.Errorf("targetPct: %w", err)
	}
	threshold, err := parseFp(b.ThresholdPct, true)
	if err != nil {
		return tokenconfig.TokenBalanceConfig{}, fmt.Errorf("thresholdPct: %w", err)
	}
	overage, err := parseFp(b.TargetOverageBuffer, false)
	if err != nil {
		return tokenconfig.TokenBalanceConfig{}, fmt.Errorf("targetOverageBuffer: %w", err)
	}
	unwrapThreshold, err := parseFp(b.UnwrapWethThreshold, false)
	if err != nil {
		return tokenconfig.TokenBalanceConfig{}, fmt.Errorf("unwrapWethThreshold: %w", err)
	}
	unwrapTarget, err := parseFp(b.UnwrapWethTarget, false)
	if err != nil {
		return tokenconfig.TokenBalanceConfig{}, fmt.Errorf("unwrapWethTarget: %w", err)
	}
	return tokenconfig.TokenBalanceConfig{
		TargetPct:            target,
		ThresholdPct:         threshold,
		TargetOverageBuffer:  overage,
		UnwrapWethThreshold:  unwrapThreshold,
		UnwrapWethTarget:     unwrapTarget,
		WithdrawExcessPeriod: b.WithdrawExcessPeriod,
	}, nil
}

func wrapConfigFrom(w WrapEntry) (tokenconfig.WrapConfig, error) {
	threshold, err := parseFp(w.WrapEtherThreshold, false)
	if err != nil {
		return tokenconfig.WrapConfig{}, fmt.Errorf("wrapEtherThreshold: %w", err)
	}
	target, err := parseFp(w.WrapEtherTarget, false)
	if err != nil {
		return tokenconfig.WrapConfig{}, fmt.Errorf("wrapEtherTarget: %w", err)
	}
	perChainThreshold := make(map[tokenreg.ChainID]*big.Int, len(w.PerChainThreshold))
	for chain, v := range w.PerChainThreshold {
		parsed, err := parseFp(v, true)
		if err != nil {
			return tokenconfig.WrapConfig{}, fmt.Errorf("perChainThreshold[%d]: %w", chain, err)
		}
		perChainThreshold[chain] = parsed
	}
	perChainTarget := make(map[tokenreg.ChainID]*big.Int, len(w.PerChainTarget))
	for chain, v := range w.PerChainTarget {
		parsed, err := parseFp(v, true)
		if err != nil {
			return tokenconfig.WrapConfig{}, fmt.Errorf("perChainTarget[%d]: %w", chain, err)
		}
		perChainTarget[chain] = parsed
	}
	return tokenconfig.WrapConfig{
		WrapEtherThreshold: threshold,
		WrapEtherTarget:    target,
		PerChainThreshold:  perChainThreshold,
		PerChainTarget:     perChainTarget,
	}, nil
}
