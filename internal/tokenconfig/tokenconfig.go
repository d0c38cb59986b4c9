// Package tokenconfig holds the operator-configured per-L1-token, per-chain balance
// targets that drive both repayment-chain selection and rebalance planning.
package tokenconfig

import (
	"math/big"

	"github.com/xrelayer/relayer-core/internal/fixedpoint"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

// DefaultTargetOverageBuffer is the 1.5x multiplier applied to targetPct when no
// override is configured for a (token, chain) pair.
var DefaultTargetOverageBuffer = mustFp("1500000000000000000") // 1.5 * 10^18

func mustFp(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("tokenconfig: bad literal " + s)
	}
	return v
}

// TokenBalanceConfig is the per (L1 token, chain[, L2 token]) balance policy.
type TokenBalanceConfig struct {
	TargetPct    *big.Int // 18-decimal fraction of cumulative balance desired on this chain
	ThresholdPct *big.Int // allocation below which a rebalance fires

	// TargetOverageBuffer defaults to DefaultTargetOverageBuffer when nil.
	TargetOverageBuffer *big.Int

	UnwrapWethThreshold *big.Int
	UnwrapWethTarget    *big.Int

	// WithdrawExcessPeriod, in seconds, enables L2->L1 excess withdrawal and sets
	// its rate-limit window. Zero means disabled.
	WithdrawExcessPeriod int64
}

// EffectiveOverageBuffer returns TargetOverageBuffer or the default.
func (c TokenBalanceConfig) EffectiveOverageBuffer() *big.Int {
	if c.TargetOverageBuffer != nil {
		return c.TargetOverageBuffer
	}
	return DefaultTargetOverageBuffer
}

// EffectiveTarget computes targetPct * overageBuffer / 10^18, the allocation ceiling
// used when judging repayment eligibility for ordinary (non toLiteChain-destination)
// candidates.
func (c TokenBalanceConfig) EffectiveTarget() (*big.Int, error) {
	return fixedpoint.MulFrac(c.TargetPct, c.EffectiveOverageBuffer(), fixedpoint.FixedPoint)
}

// ExcessWithdrawThresholdPct computes targetPct * overageBuffer * 0.95 / 10^36, the
// allocation floor above which L2->L1 excess withdrawal fires. It sits slightly below
// EffectiveTarget so withdrawal triggers before the repayment selector would refuse
// the chain.
func (c TokenBalanceConfig) ExcessWithdrawThresholdPct() (*big.Int, error) {
	scaled, err := fixedpoint.MulFrac(c.TargetPct, c.EffectiveOverageBuffer(), fixedpoint.FixedPoint)
	if err != nil {
		return nil, err
	}
	ninetyFivePct := mustFp("950000000000000000")
	return fixedpoint.MulFrac(scaled, ninetyFivePct, fixedpoint.FixedPoint)
}

// ChainMap maps a chain to its balance config for a given L1 token (or L1 token +
// alias L2 token).
type ChainMap map[tokenreg.ChainID]TokenBalanceConfig

// AliasMap maps an alias L2 token address (native form, see chainaddr.Address.Native)
// to its own ChainMap. Used when one L1 token has multiple non-canonical equivalents
// on the same spoke chain that must be tracked separately.
type AliasMap map[string]ChainMap

// L1Entry is one entry of the top-level tokenConfig map: either a direct ChainMap or
// an AliasMap keyed by L2 token address.
type L1Entry struct {
	Direct  ChainMap
	Aliases AliasMap
}

// WrapConfig is the global native-token wrap/unwrap floor and refill target, with
// optional per-chain overrides.
type WrapConfig struct {
	WrapEtherThreshold *big.Int
	WrapEtherTarget    *big.Int
	PerChainThreshold  map[tokenreg.ChainID]*big.Int
	PerChainTarget     map[tokenreg.ChainID]*big.Int
}

func (w WrapConfig) ThresholdFor(chain tokenreg.ChainID) *big.Int {
	if v, ok := w.PerChainThreshold[chain]; ok {
		return v
	}
	return w.WrapEtherThreshold
}

func (w WrapConfig) TargetFor(chain tokenreg.ChainID) *big.Int {
	if v, ok := w.PerChainTarget[chain]; ok {
		return v
	}
	return w.WrapEtherTarget
}

// Registry is the top-level tokenConfig map plus global wrap config.
type Registry struct {
	Entries map[string]L1Entry // keyed by L1 token address, chainaddr.Address.Native()
	Wrap    WrapConfig
}

func NewRegistry() *Registry {
	return &Registry{Entries: make(map[string]L1Entry)}
}

// ConfigFor resolves the TokenBalanceConfig for (l1Token, chain), optionally scoped
// to an alias L2 token address. A pair with neither a direct mapping nor a matching
// alias config is disabled: ok is false.
func (r *Registry) ConfigFor(l1Token string, chain tokenreg.ChainID, l2TokenNative string) (TokenBalanceConfig, bool) {
	entry, ok := r.Entries[l1Token]
	if !ok {
		return TokenBalanceConfig{}, false
	}
	if entry.Aliases != nil {
		if aliasMap, ok := entry.Aliases[l2TokenNative]; ok {
			if cfg, ok := aliasMap[chain]; ok {
				return cfg, true
			}
			return TokenBalanceConfig{}, false
		}
	}
	if entry.Direct != nil {
		if cfg, ok := entry.Direct[chain]; ok {
			return cfg, true
		}
	}
	return TokenBalanceConfig{}, false
}

// EnabledChains returns every chain configured for l1Token across the direct map and
// all alias maps, deduplicated.
func (r *Registry) EnabledChains(l1Token string) []tokenreg.ChainID {
	entry, ok := r.Entries[l1Token]
	if !ok {
		return nil
	}
	seen := make(map[tokenreg.ChainID]struct{})
	var out []tokenreg.ChainID
	add := func(m ChainMap) {
		for chain := range m {
			if _, dup := seen[chain]; !dup {
				seen[chain] = struct{}{}
				out = append(out, chain)
			}
		}
	}
	add(entry.Direct)
	for _, m := range entry.Aliases {
		add(m)
	}
	return out
}

// IsEnabled reports whether l1Token has any configuration at all (direct or alias).
// A Registry with zero entries reports every token as not enabled and L1Tokens
// returns nothing; internal/inventory and internal/rebalance iterate L1Tokens only
// and do not fall back to hub-pool token discovery.
func (r *Registry) IsEnabled(l1Token string) bool {
	_, ok := r.Entries[l1Token]
	return ok
}

// L1Tokens returns every L1 token address with any configuration.
func (r *Registry) L1Tokens() []string {
	out := make([]string, 0, len(r.Entries))
	for k := range r.Entries {
		out = append(out, k)
	}
	return out
}
