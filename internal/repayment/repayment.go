// Package repayment implements the repayment chain selector: for one deposit, the
// ordered set of chains on which the relayer may claim repayment, honoring
// allocation targets and lite-chain / slow-withdrawal special cases.
package repayment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/deposit"
	"github.com/xrelayer/relayer-core/internal/fixedpoint"
	"github.com/xrelayer/relayer-core/internal/hubpoolclient"
	"github.com/xrelayer/relayer-core/internal/inventory"
	"github.com/xrelayer/relayer-core/internal/tokenconfig"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

var (
	ErrInvalidConfig      = errors.New("repayment: invalid config")
	ErrInvalidRoute       = errors.New("repayment: output token is not equivalent to input token")
	ErrSanityCheckFailed  = errors.New("repayment: selected chain is not a possible repayment chain")
)

type Config struct {
	HubChain tokenreg.ChainID

	InventoryManagementEnabled bool
	PrioritizationEnabled      bool

	// FastRebalanceChains are chains (including the hub) from which inventory can
	// be quickly rebalanced via a fast external on/off-ramp; fromLiteChain
	// deposits originating here get unconditional origin repayment.
	FastRebalanceChains map[tokenreg.ChainID]bool

	SlowWithdrawalChains []tokenreg.ChainID

	// AsOfBlock is passed through to the HubPool / ConfigStore clients as the
	// "latest searched block" for running-balance and target-balance lookups.
	AsOfBlock uint64
}

type Selector struct {
	cfg        Config
	hub        hubpoolclient.HubPoolClient
	configStore hubpoolclient.ConfigStoreClient
	bundleData hubpoolclient.BundleDataClient
	accountant *inventory.Accountant
	tokens     *tokenconfig.Registry
	registry   *tokenreg.Registry
	log        *slog.Logger

	// refundsGroup deduplicates concurrent bundleRefunds lookups for the same
	// (l1Token, chain) within one tick; ResetTick swaps in a fresh group so stale
	// results never leak into the next tick.
	mu           sync.Mutex
	refundsGroup *singleflight.Group
}

func New(cfg Config, hub hubpoolclient.HubPoolClient, configStore hubpoolclient.ConfigStoreClient, bundleData hubpoolclient.BundleDataClient, accountant *inventory.Accountant, tokens *tokenconfig.Registry, registry *tokenreg.Registry, log *slog.Logger) (*Selector, error) {
	if hub == nil || configStore == nil || bundleData == nil || accountant == nil || tokens == nil || registry == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.HubChain == 0 {
		return nil, fmt.Errorf("%w: missing hub chain", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Selector{
		cfg: cfg, hub: hub, configStore: configStore, bundleData: bundleData,
		accountant: accountant, tokens: tokens, registry: registry, log: log,
		refundsGroup: new(singleflight.Group),
	}, nil
}

// ResetTick clears the in-flight memoization group. Call once per update() cycle so
// refund totals are recomputed fresh rather than served from a prior tick's cache.
func (s *Selector) ResetTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refundsGroup = new(singleflight.Group)
}

func (s *Selector) bundleRefunds(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error) {
	key := l1Token.Native() + "/" + chainKey(chain)
	s.mu.Lock()
	group := s.refundsGroup
	s.mu.Unlock()

	v, err, _ := group.Do(key, func() (interface{}, error) {
		return s.bundleData.GetTotalRefund(ctx, l1Token, chain)
	})
	if err != nil {
		return nil, err
	}
	return v.(*big.Int), nil
}

func chainKey(c tokenreg.ChainID) string {
	return fmt.Sprintf("%d", c)
}

// SelectRepaymentChains runs the eight-step repayment chain selection policy.
func (s *Selector) SelectRepaymentChains(ctx context.Context, d deposit.Deposit) ([]tokenreg.ChainID, error) {
	outputSymbol, ok := s.registry.SymbolForAddress(d.Destination, d.OutputToken)
	if !ok {
		// Step 1: invalid output-token classification.
		return nil, nil
	}
	inputSymbol, ok := s.registry.SymbolForAddress(d.Origin, d.InputToken)
	if !ok {
		return nil, nil
	}

	destinationValid := false
	if l1ForOutput, ok := s.hubAddressOf(outputSymbol); ok {
		enabled, err := s.hub.L2TokenEnabledForL1Token(ctx, l1ForOutput, d.Destination)
		if err != nil {
			return nil, fmt.Errorf("repayment: destination validity: %w", err)
		}
		destinationValid = enabled
	}

	if !s.cfg.InventoryManagementEnabled {
		// Step 2.
		if destinationValid {
			return []tokenreg.ChainID{d.Destination}, nil
		}
		return []tokenreg.ChainID{d.Origin}, nil
	}

	// Step 3: output-token equivalence check. A violation is a configuration bug.
	if err := s.validateEquivalence(ctx, d); err != nil {
		return nil, err
	}

	// Step 4: forced origin repayment on a fast-rebalance chain is unconditional.
	if d.FromLiteChain && s.cfg.FastRebalanceChains[d.Origin] {
		return []tokenreg.ChainID{d.Origin}, nil
	}

	candidates, err := s.buildCandidates(ctx, d, destinationValid)
	if err != nil {
		return nil, err
	}

	possible, err := s.getPossibleRepaymentChainIds(ctx, d, destinationValid)
	if err != nil {
		return nil, err
	}
	possibleSet := toSet(possible)

	l1TokenForOutput, ok := s.hubAddressOf(outputSymbol)
	if !ok {
		return nil, fmt.Errorf("repayment: %w: %s has no hub-chain address", ErrInvalidRoute, outputSymbol)
	}

	inputAmountL1, err := s.normalizeToL1Decimals(inputSymbol, d.InputAmount)
	if err != nil {
		return nil, err
	}

	eligible, err := s.filterByExpectedAllocation(ctx, d, candidates, l1TokenForOutput, outputSymbol, inputAmountL1, possibleSet)
	if err != nil {
		return nil, err
	}

	// Step 7: lite-chain enforcement.
	if d.FromLiteChain {
		if len(eligible) == 1 && eligible[0] == d.Origin {
			return eligible, nil
		}
		return nil, nil
	}

	// Step 8: hub fallback.
	if !containsChain(eligible, s.cfg.HubChain) {
		eligible = append(eligible, s.cfg.HubChain)
	}
	return eligible, nil
}

func (s *Selector) validateEquivalence(ctx context.Context, d deposit.Deposit) error {
	equivalent, err := s.hub.AreTokensEquivalent(ctx, d.InputToken, d.OutputToken, d.Destination)
	if err != nil {
		return fmt.Errorf("repayment: equivalence check: %w", err)
	}
	if equivalent {
		return nil
	}
	hasRoute, err := s.hub.L2TokenHasPoolRebalanceRoute(ctx, d.OutputToken, d.Destination)
	if err != nil {
		return fmt.Errorf("repayment: pool route check: %w", err)
	}
	if hasRoute {
		return nil
	}
	return fmt.Errorf("%w: depositId=%s", ErrInvalidRoute, d.DepositID)
}

// buildCandidates implements step 5.
func (s *Selector) buildCandidates(ctx context.Context, d deposit.Deposit, destinationValid bool) ([]tokenreg.ChainID, error) {
	var candidates []tokenreg.ChainID
	seen := make(map[tokenreg.ChainID]bool)
	add := func(c tokenreg.ChainID) {
		if !seen[c] {
			seen[c] = true
			candidates = append(candidates, c)
		}
	}

	if s.cfg.PrioritizationEnabled && !d.FromLiteChain {
		type scored struct {
			chain tokenreg.ChainID
			pct   *big.Int
		}
		var slow []scored
		outputSymbol, _ := s.registry.SymbolForAddress(d.Destination, d.OutputToken)
		l1Token, ok := s.hubAddressOf(outputSymbol)
		if ok {
			refundAmount, err := s.normalizeToL1Decimals(outputSymbol, d.EffectiveOutputAmount())
			if err != nil {
				return nil, err
			}
			for _, chain := range s.cfg.SlowWithdrawalChains {
				pct, err := s.excessRunningBalancePct(ctx, l1Token, chain, refundAmount)
				if err != nil {
					return nil, err
				}
				if pct.Sign() > 0 {
					slow = append(slow, scored{chain: chain, pct: pct})
				}
			}
		}
		sort.SliceStable(slow, func(i, j int) bool { return slow[i].pct.Cmp(slow[j].pct) > 0 })
		for _, sc := range slow {
			add(sc.chain)
		}
	}

	if d.ToLiteChain {
		add(d.Origin)
	}

	l1ForOutput, okOut := s.hubAddressOf(mustSymbol(s.registry, d.Destination, d.OutputToken))
	if destinationValid && okOut && s.tokens.IsEnabled(l1ForOutput.Native()) {
		add(d.Destination)
	}

	l1ForInput, okIn := s.hubAddressOf(mustSymbol(s.registry, d.Origin, d.InputToken))
	if okIn && s.tokens.IsEnabled(l1ForInput.Native()) && d.Origin != s.cfg.HubChain {
		add(d.Origin)
	}

	return candidates, nil
}

func mustSymbol(reg *tokenreg.Registry, chain tokenreg.ChainID, addr chainaddr.Address) tokenreg.TokenSymbol {
	sym, _ := reg.SymbolForAddress(chain, addr)
	return sym
}

// getPossibleRepaymentChainIds recomputes the pre-allocation-filter candidate set,
// used as a sanity backstop against filterByExpectedAllocation's own bookkeeping.
func (s *Selector) getPossibleRepaymentChainIds(ctx context.Context, d deposit.Deposit, destinationValid bool) ([]tokenreg.ChainID, error) {
	candidates, err := s.buildCandidates(ctx, d, destinationValid)
	if err != nil {
		return nil, err
	}
	if !containsChain(candidates, s.cfg.HubChain) {
		candidates = append(candidates, s.cfg.HubChain)
	}
	return candidates, nil
}

// filterByExpectedAllocation implements step 6.
func (s *Selector) filterByExpectedAllocation(ctx context.Context, d deposit.Deposit, candidates []tokenreg.ChainID, l1Token chainaddr.Address, outputSymbol tokenreg.TokenSymbol, inputAmountL1 *big.Int, possibleSet map[tokenreg.ChainID]bool) ([]tokenreg.ChainID, error) {
	cumulative, err := s.accountant.CumulativeBalance(ctx, outputSymbol)
	if err != nil {
		return nil, err
	}
	totalUpcomingRefunds := big.NewInt(0)
	upcoming := make(map[tokenreg.ChainID]*big.Int, len(candidates))
	for _, chain := range candidates {
		r, err := s.bundleRefunds(ctx, l1Token, chain)
		if err != nil {
			return nil, err
		}
		upcoming[chain] = r
		totalUpcomingRefunds.Add(totalUpcomingRefunds, r)
	}
	denom := new(big.Int).Add(cumulative, totalUpcomingRefunds)

	var eligible []tokenreg.ChainID
	for _, chain := range candidates {
		if !possibleSet[chain] {
			return nil, fmt.Errorf("%w: chain %d", ErrSanityCheckFailed, chain)
		}

		eff, err := s.accountant.EffectiveBalance(ctx, outputSymbol, chain, chainaddr.Address{})
		if err != nil {
			return nil, err
		}
		shortfall, err := s.accountant.ShortfallOn(ctx, outputSymbol, chain, chainaddr.Address{})
		if err != nil {
			return nil, err
		}

		sameTokenBothSides, err := s.hub.AreTokensEquivalent(ctx, d.InputToken, d.OutputToken, d.Destination)
		if err != nil {
			return nil, fmt.Errorf("repayment: token equivalence: %w", err)
		}
		numer := new(big.Int).Sub(eff, shortfall)
		if !(chain == d.Destination && sameTokenBothSides) {
			numer.Add(numer, inputAmountL1)
		}
		numer.Add(numer, upcoming[chain])

		expectedAlloc := big.NewInt(0)
		if denom.Sign() > 0 {
			expectedAlloc, err = fixedpoint.MulFrac(numer, fixedpoint.FixedPoint, denom)
			if err != nil {
				return nil, err
			}
		}

		cfg, ok := s.tokens.ConfigFor(l1Token.Native(), chain, "")
		if !ok {
			continue
		}
		var effectiveTarget *big.Int
		if d.ToLiteChain && chain == d.Destination {
			effectiveTarget = cfg.TargetPct
		} else {
			effectiveTarget, err = cfg.EffectiveTarget()
			if err != nil {
				return nil, err
			}
		}

		if expectedAlloc.Cmp(effectiveTarget) <= 0 {
			eligible = append(eligible, chain)
		}
	}
	return eligible, nil
}

// excessRunningBalancePct returns the fraction of chain's running balance that
// exceeds its target allocation, or zero if the running balance is at or below target.
func (s *Selector) excessRunningBalancePct(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID, refundAmount *big.Int) (*big.Int, error) {
	bundle, err := s.hub.GetLatestExecutedRootBundleContainingL1Token(ctx, l1Token)
	if err != nil {
		return nil, fmt.Errorf("repayment: latest bundle: %w", err)
	}
	endBlock := bundle.EndBlockForChain[chain]

	validated, err := s.hub.GetRunningBalanceBeforeBlockForChain(ctx, l1Token, chain, endBlock)
	if err != nil {
		return nil, fmt.Errorf("repayment: running balance: %w", err)
	}
	depositsSinceBundle, err := s.bundleData.GetUpcomingDepositAmount(ctx, l1Token, chain)
	if err != nil {
		return nil, fmt.Errorf("repayment: upcoming deposit amount: %w", err)
	}
	nextRefunds, err := s.bundleData.GetNextBundleRefunds(ctx, l1Token, chain)
	if err != nil {
		return nil, fmt.Errorf("repayment: next bundle refunds: %w", err)
	}

	raw := new(big.Int).Sub(validated, depositsSinceBundle)
	raw.Add(raw, nextRefunds)
	excess := new(big.Int).Abs(raw)
	if raw.Sign() >= 0 {
		excess = big.NewInt(0)
	}

	postExcess := new(big.Int).Sub(excess, refundAmount)

	target, err := s.configStore.GetSpokeTargetBalancesForBlock(ctx, l1Token, chain, s.cfg.AsOfBlock)
	if err != nil {
		return nil, fmt.Errorf("repayment: spoke target balance: %w", err)
	}

	if target.Sign() == 0 {
		if postExcess.Sign() > 0 {
			return fixedpoint.Max(), nil
		}
		return big.NewInt(0), nil
	}
	if target.Cmp(postExcess) >= 0 {
		return big.NewInt(0), nil
	}
	diff := new(big.Int).Sub(postExcess, target)
	absTarget := new(big.Int).Abs(target)
	return fixedpoint.MulFrac(diff, fixedpoint.FixedPoint, absTarget)
}

func (s *Selector) hubAddressOf(symbol tokenreg.TokenSymbol) (chainaddr.Address, bool) {
	if symbol == "" {
		return chainaddr.Address{}, false
	}
	_, entry, err := s.registry.Resolve(symbol)
	if err != nil {
		return chainaddr.Address{}, false
	}
	addr, ok := entry.Addresses[s.cfg.HubChain]
	return addr, ok
}

func (s *Selector) normalizeToL1Decimals(symbol tokenreg.TokenSymbol, amount *big.Int) (*big.Int, error) {
	if symbol == "" || amount == nil {
		return big.NewInt(0), nil
	}
	// TOKEN_SYMBOLS_MAP records one decimals value per symbol; amounts of that
	// symbol are already in L1 decimals regardless of origin chain.
	return new(big.Int).Set(amount), nil
}

func toSet(chains []tokenreg.ChainID) map[tokenreg.ChainID]bool {
	out := make(map[tokenreg.ChainID]bool, len(chains))
	for _, c := range chains {
		out[c] = true
	}
	return out
}

func containsChain(chains []tokenreg.ChainID, target tokenreg.ChainID) bool {
	for _, c := range chains {
		if c == target {
			return true
		}
	}
	return false
}
