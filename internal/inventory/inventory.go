// Package inventory implements the virtual balance accountant: cumulative and
// per-chain effective balances that combine on-chain balance, pending inbound
// bridge transfers, and fill-commitment shortfalls, normalized across the decimal
// differences between chains.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/xrelayer/relayer-core/internal/balanceclients"
	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/fixedpoint"
	"github.com/xrelayer/relayer-core/internal/tokenconfig"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

var ErrInvalidConfig = errors.New("inventory: invalid config")

type Config struct {
	HubChain tokenreg.ChainID
	Relayer  chainaddr.Address
}

// Accountant is the Virtual Balance Accountant. It holds strong references to every
// collaborator it needs, per the design note that the inventory manager is the only
// coordinator that reaches across all of them.
type Accountant struct {
	cfg       Config
	registry  *tokenreg.Registry
	tokens    *tokenconfig.Registry
	balances  balanceclients.TokenBalanceClient
	transfers balanceclients.CrossChainTransferClient
	log       *slog.Logger
}

func New(cfg Config, registry *tokenreg.Registry, tokens *tokenconfig.Registry, balances balanceclients.TokenBalanceClient, transfers balanceclients.CrossChainTransferClient, log *slog.Logger) (*Accountant, error) {
	if registry == nil || tokens == nil || balances == nil || transfers == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.Relayer.IsZero() {
		return nil, fmt.Errorf("%w: missing relayer address", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Accountant{cfg: cfg, registry: registry, tokens: tokens, balances: balances, transfers: transfers, log: log}, nil
}

// l2AddressesFor returns the L2 token addresses that carry l1Token on chain: the
// alias set from tokenConfig if configured, otherwise the single symbol-mapped
// address for that chain.
func (a *Accountant) l2AddressesFor(symbol tokenreg.TokenSymbol, entry tokenreg.SymbolEntry, l1TokenNative string, chain tokenreg.ChainID) []chainaddr.Address {
	if cfgEntry, ok := a.tokens.Entries[l1TokenNative]; ok && cfgEntry.Aliases != nil {
		var out []chainaddr.Address
		for aliasNative, chainMap := range cfgEntry.Aliases {
			if _, ok := chainMap[chain]; !ok {
				continue
			}
			if addr, err := chainaddr.ParseEvmHex(aliasNative); err == nil {
				out = append(out, addr)
			} else if addr, err := chainaddr.ParseSvmHex(aliasNative); err == nil {
				out = append(out, addr)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	if addr, ok := entry.Addresses[chain]; ok {
		return []chainaddr.Address{addr}
	}
	return nil
}

// EffectiveBalance sums on-chain balance and outstanding cross-chain transfers for
// l1Token (identified by symbol) on chain, optionally scoped to one specific l2Token
// address. Pass chainaddr.Address{} (zero) to sum across every L2 token mapped to
// l1Token on this chain.
func (a *Accountant) EffectiveBalance(ctx context.Context, symbol tokenreg.TokenSymbol, chain tokenreg.ChainID, l2Token chainaddr.Address) (*big.Int, error) {
	canonical, entry, err := a.registry.Resolve(symbol)
	if err != nil {
		return nil, err
	}
	l1Addr, ok := entry.Addresses[a.cfg.HubChain]
	if !ok {
		return nil, fmt.Errorf("inventory: %s has no hub-chain address", canonical)
	}

	var l2Addrs []chainaddr.Address
	if !l2Token.IsZero() {
		l2Addrs = []chainaddr.Address{l2Token}
	} else {
		l2Addrs = a.l2AddressesFor(canonical, entry, l1Addr.Native(), chain)
	}
	if len(l2Addrs) == 0 {
		return big.NewInt(0), nil
	}

	l1Decimals, err := a.registry.DecimalsOnChain(canonical, a.cfg.HubChain)
	if err != nil {
		return nil, err
	}
	chainDecimals, err := a.registry.DecimalsOnChain(canonical, chain)
	if err != nil {
		return nil, err
	}

	total := big.NewInt(0)
	for _, l2 := range l2Addrs {
		onChain, err := a.balances.GetBalance(ctx, chain, l2)
		if err != nil {
			return nil, fmt.Errorf("inventory: get balance: %w", err)
		}
		pending, err := a.transfers.GetOutstandingCrossChainTransferAmount(ctx, a.cfg.Relayer, chain, l1Addr, l2)
		if err != nil {
			return nil, fmt.Errorf("inventory: outstanding transfer: %w", err)
		}
		sum := new(big.Int).Add(onChain, pending)
		converted, err := fixedpoint.ConvertDecimals(int(chainDecimals), int(l1Decimals), sum)
		if err != nil {
			return nil, fmt.Errorf("inventory: convert decimals: %w", err)
		}
		total.Add(total, converted)
	}
	return total, nil
}

// CumulativeBalance sums EffectiveBalance across every chain tokenConfig enables for
// l1Token. The hub chain contributes its direct balance like any other chain.
func (a *Accountant) CumulativeBalance(ctx context.Context, symbol tokenreg.TokenSymbol) (*big.Int, error) {
	canonical, entry, err := a.registry.Resolve(symbol)
	if err != nil {
		return nil, err
	}
	l1Addr, ok := entry.Addresses[a.cfg.HubChain]
	if !ok {
		return nil, fmt.Errorf("inventory: %s has no hub-chain address", canonical)
	}

	chains := a.tokens.EnabledChains(l1Addr.Native())
	total := big.NewInt(0)
	for _, chain := range chains {
		eff, err := a.EffectiveBalance(ctx, symbol, chain, chainaddr.Address{})
		if err != nil {
			return nil, err
		}
		total.Add(total, eff)
	}
	return total, nil
}

// ShortfallOn returns the outstanding fill-commitment shortfall for l1Token
// (identified by symbol) on chain, optionally scoped to one L2 token address. Pass
// chainaddr.Address{} to use the symbol's direct L2 mapping on chain; callers that
// need a per-alias breakdown should pass the specific l2Token.
func (a *Accountant) ShortfallOn(ctx context.Context, symbol tokenreg.TokenSymbol, chain tokenreg.ChainID, l2Token chainaddr.Address) (*big.Int, error) {
	l2Addr := l2Token
	if l2Addr.IsZero() {
		_, entry, err := a.registry.Resolve(symbol)
		if err != nil {
			return nil, err
		}
		if addr, ok := entry.Addresses[chain]; ok {
			l2Addr = addr
		}
	}
	if l2Addr.IsZero() {
		return big.NewInt(0), nil
	}
	shortfall, err := a.balances.GetShortfallTotalRequirement(ctx, chain, l2Addr)
	if err != nil {
		return nil, fmt.Errorf("inventory: shortfall: %w", err)
	}
	return shortfall, nil
}

// CurrentAllocationPct returns (effectiveBalance - shortfall) * 10^18 /
// cumulativeBalance, or 0 when cumulative is 0.
func (a *Accountant) CurrentAllocationPct(ctx context.Context, symbol tokenreg.TokenSymbol, chain tokenreg.ChainID, l2Token chainaddr.Address) (*big.Int, error) {
	eff, err := a.EffectiveBalance(ctx, symbol, chain, l2Token)
	if err != nil {
		return nil, err
	}
	shortfall, err := a.ShortfallOn(ctx, symbol, chain, l2Token)
	if err != nil {
		return nil, err
	}
	cumulative, err := a.CumulativeBalance(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if cumulative.Sign() == 0 {
		return big.NewInt(0), nil
	}
	numer := new(big.Int).Sub(eff, shortfall)
	return fixedpoint.MulFrac(numer, fixedpoint.FixedPoint, cumulative)
}

// DistributionEntry is one leaf of the distribution snapshot.
type DistributionEntry struct {
	Chain        tokenreg.ChainID
	L2Token      string // native form; "" for the symbol's direct chain mapping
	AllocFraction *big.Int
}

// DistributionSnapshot materializes getTokenDistributionPerL1Token(): the current
// allocation fraction of every configured (chain, l2Token) pair for every configured
// L1 token. An L1 token with zero cumulative balance contributes no entries rather
// than an error.
func (a *Accountant) DistributionSnapshot(ctx context.Context) (map[string][]DistributionEntry, error) {
	out := make(map[string][]DistributionEntry)
	for _, l1Native := range a.tokens.L1Tokens() {
		symbol, ok := a.registry.SymbolForAddress(a.cfg.HubChain, mustNative(l1Native))
		if !ok {
			a.log.Warn("inventory: configured l1 token has no registered symbol", "l1Token", l1Native)
			continue
		}
		cumulative, err := a.CumulativeBalance(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if cumulative.Sign() == 0 {
			continue
		}
		for _, chain := range a.tokens.EnabledChains(l1Native) {
			pct, err := a.CurrentAllocationPct(ctx, symbol, chain, chainaddr.Address{})
			if err != nil {
				return nil, err
			}
			out[l1Native] = append(out[l1Native], DistributionEntry{Chain: chain, AllocFraction: pct})
		}
	}
	return out, nil
}

func mustNative(native string) chainaddr.Address {
	if addr, err := chainaddr.ParseEvmHex(native); err == nil {
		return addr
	}
	addr, _ := chainaddr.ParseSvmHex(native)
	return addr
}
