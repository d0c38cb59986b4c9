// Package rebalance plans and executes the cross-chain inventory movements that keep
// each chain's allocation of every configured token near its target: L1->L2 pushes,
// L2 native-token unwrap/wrap for gas float, and L2->L1 excess withdrawal.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/xrelayer/relayer-core/internal/batching"
	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/fixedpoint"
	"github.com/xrelayer/relayer-core/internal/inventory"
	"github.com/xrelayer/relayer-core/internal/leases"
	"github.com/xrelayer/relayer-core/internal/tokenconfig"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

var (
	ErrInvalidConfig  = errors.New("rebalance: invalid config")
	ErrMissingTokenInfo = errors.New("rebalance: missing token info for configured chain")
)

// AdapterManager performs the on-chain actions a rebalance plan calls for. Every
// method is expected to be idempotent enough to retry: implementations should dedupe
// against outstanding transactions before broadcasting.
type AdapterManager interface {
	SendTokenCrossChain(ctx context.Context, l1Token chainaddr.Address, origin, destination tokenreg.ChainID, amount *big.Int) error
	WithdrawTokenFromL2(ctx context.Context, l2Token chainaddr.Address, chain tokenreg.ChainID, amount *big.Int) error
	GetL2PendingWithdrawalAmount(ctx context.Context, l2Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error)
	WrapNativeToken(ctx context.Context, chain tokenreg.ChainID, amount *big.Int) error
	UnwrapWrappedNativeToken(ctx context.Context, chain tokenreg.ChainID, amount *big.Int) error
	SetL1TokenApprovals(ctx context.Context, l1Token chainaddr.Address, spenders []chainaddr.Address) error
}

type ActionKind string

const (
	ActionSendCrossChain  ActionKind = "send_cross_chain"
	ActionWithdrawFromL2  ActionKind = "withdraw_from_l2"
	ActionWrapNative      ActionKind = "wrap_native"
	ActionUnwrapNative    ActionKind = "unwrap_native"
)

// Action is one planned rebalance step. Chain is the destination of the action
// (where funds arrive, or where the wrap/unwrap/withdrawal happens).
type Action struct {
	Kind    ActionKind
	L1Token string // native address form
	Origin  tokenreg.ChainID
	Chain   tokenreg.ChainID
	Amount  *big.Int
}

type Config struct {
	HubChain tokenreg.ChainID

	// MinRebalanceAmount, keyed by L1 token native address, floors dust rebalances.
	MinRebalanceAmount map[string]*big.Int

	LeaseTTL time.Duration
}

type Planner struct {
	cfg        Config
	accountant *inventory.Accountant
	tokens     *tokenconfig.Registry
	registry   *tokenreg.Registry
	adapters   AdapterManager
	leaseStore leases.Store
	log        *slog.Logger

	// lastExcessWithdrawal rate-limits PlanExcessWithdrawals per (l1Token, chain).
	mu                   sync.Mutex
	lastExcessWithdrawal map[string]time.Time
}

func New(cfg Config, accountant *inventory.Accountant, tokens *tokenconfig.Registry, registry *tokenreg.Registry, adapters AdapterManager, leaseStore leases.Store, log *slog.Logger) (*Planner, error) {
	if accountant == nil || tokens == nil || registry == nil || adapters == nil || leaseStore == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.HubChain == 0 {
		return nil, fmt.Errorf("%w: missing hub chain", ErrInvalidConfig)
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Planner{
		cfg: cfg, accountant: accountant, tokens: tokens, registry: registry,
		adapters: adapters, leaseStore: leaseStore, log: log,
		lastExcessWithdrawal: make(map[string]time.Time),
	}, nil
}

func l1TokenSymbol(registry *tokenreg.Registry, hubChain tokenreg.ChainID, l1Native string) (tokenreg.TokenSymbol, error) {
	addr, err := chainaddr.ParseEvmHex(l1Native)
	if err != nil {
		addr, err = chainaddr.ParseSvmHex(l1Native)
		if err != nil {
			return "", err
		}
	}
	sym, ok := registry.SymbolForAddress(hubChain, addr)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingTokenInfo, l1Native)
	}
	return sym, nil
}

// PlanL1ToL2Rebalances implements the L1->L2 push planner. Every underfunded chain is
// visited in the order tokens.EnabledChains returns them; each chain's allotment is
// eagerly decremented from the running hub balance so a single planning pass never
// double-commits the same hub liquidity to two chains.
func (p *Planner) PlanL1ToL2Rebalances(ctx context.Context) ([]Action, error) {
	var actions []Action
	for _, l1Native := range p.tokens.L1Tokens() {
		symbol, err := l1TokenSymbol(p.registry, p.cfg.HubChain, l1Native)
		if err != nil {
			// A configured token with no registered symbol is a configuration bug: the
			// original ambiguity between "throw" and "log and skip" is resolved here as
			// throw, matching the equivalent lookup failures in internal/repayment.
			return nil, err
		}

		hubAvailable, err := p.accountant.EffectiveBalance(ctx, symbol, p.cfg.HubChain, chainaddr.Address{})
		if err != nil {
			return nil, err
		}
		cumulative, err := p.accountant.CumulativeBalance(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if cumulative.Sign() == 0 {
			continue
		}

		for _, chain := range p.tokens.EnabledChains(l1Native) {
			if chain == p.cfg.HubChain {
				continue
			}
			cfg, ok := p.tokens.ConfigFor(l1Native, chain, "")
			if !ok {
				continue
			}
			allocPct, err := p.accountant.CurrentAllocationPct(ctx, symbol, chain, chainaddr.Address{})
			if err != nil {
				return nil, err
			}
			if cfg.ThresholdPct == nil || allocPct.Cmp(cfg.ThresholdPct) >= 0 {
				continue
			}
			targetAlloc, err := fixedpoint.MulFrac(cumulative, cfg.TargetPct, fixedpoint.FixedPoint)
			if err != nil {
				return nil, err
			}
			eff, err := p.accountant.EffectiveBalance(ctx, symbol, chain, chainaddr.Address{})
			if err != nil {
				return nil, err
			}
			need := new(big.Int).Sub(targetAlloc, eff)
			if need.Sign() <= 0 {
				continue
			}
			if hubAvailable.Sign() <= 0 {
				break
			}
			amount := need
			if amount.Cmp(hubAvailable) > 0 {
				amount = new(big.Int).Set(hubAvailable)
			}
			if min, ok := p.cfg.MinRebalanceAmount[l1Native]; ok && amount.Cmp(min) < 0 {
				continue
			}
			hubAvailable = new(big.Int).Sub(hubAvailable, amount)

			actions = append(actions, Action{Kind: ActionSendCrossChain, L1Token: l1Native, Origin: p.cfg.HubChain, Chain: chain, Amount: amount})
		}
	}
	return actions, nil
}

// PlanNativeTokenRebalances wraps excess native gas token into its wrapped form when a
// chain's native balance exceeds WrapConfig's threshold, and unwraps the wrapped token
// back into native gas when the chain's native balance falls under the wrapped token's
// per-chain UnwrapWethThreshold.
func (p *Planner) PlanNativeTokenRebalances(ctx context.Context, nativeBalances map[tokenreg.ChainID]*big.Int, wrappedSymbol tokenreg.TokenSymbol) ([]Action, error) {
	var actions []Action
	wrapAddr, err := p.registry.AddressOn(wrappedSymbol, p.cfg.HubChain)
	if err != nil {
		return nil, err
	}
	for chain, nativeBal := range nativeBalances {
		threshold := p.tokens.Wrap.ThresholdFor(chain)
		target := p.tokens.Wrap.TargetFor(chain)
		if threshold != nil && target != nil && nativeBal.Cmp(threshold) > 0 {
			excess := new(big.Int).Sub(nativeBal, target)
			actions = append(actions, Action{Kind: ActionWrapNative, L1Token: wrapAddr.Native(), Chain: chain, Amount: excess})
			continue
		}

		cfg, ok := p.tokens.ConfigFor(wrapAddr.Native(), chain, "")
		if !ok || cfg.UnwrapWethThreshold == nil || cfg.UnwrapWethTarget == nil {
			continue
		}
		if nativeBal.Cmp(cfg.UnwrapWethThreshold) >= 0 {
			continue
		}
		wrappedBal, err := p.accountant.EffectiveBalance(ctx, wrappedSymbol, chain, chainaddr.Address{})
		if err != nil {
			return nil, err
		}
		needed := new(big.Int).Sub(cfg.UnwrapWethTarget, nativeBal)
		if needed.Sign() <= 0 {
			continue
		}
		if needed.Cmp(wrappedBal) > 0 {
			needed = wrappedBal
		}
		if needed.Sign() <= 0 {
			continue
		}
		actions = append(actions, Action{Kind: ActionUnwrapNative, L1Token: wrapAddr.Native(), Chain: chain, Amount: needed})
	}
	return actions, nil
}

// PlanExcessWithdrawals implements the L2->L1 excess withdrawal planner with a
// per-(token,chain) rate limit: the same "since last withdrawal" duration drives both
// the log line and the go/no-go decision, so the two can never disagree.
func (p *Planner) PlanExcessWithdrawals(ctx context.Context, now time.Time) ([]Action, error) {
	var actions []Action
	for _, l1Native := range p.tokens.L1Tokens() {
		symbol, err := l1TokenSymbol(p.registry, p.cfg.HubChain, l1Native)
		if err != nil {
			return nil, err
		}
		cumulative, err := p.accountant.CumulativeBalance(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if cumulative.Sign() == 0 {
			continue
		}
		for _, chain := range p.tokens.EnabledChains(l1Native) {
			if chain == p.cfg.HubChain {
				continue
			}
			cfg, ok := p.tokens.ConfigFor(l1Native, chain, "")
			if !ok || cfg.WithdrawExcessPeriod <= 0 {
				continue
			}

			rateKey := l1Native + "/" + chainKeyString(chain)
			p.mu.Lock()
			last, seen := p.lastExcessWithdrawal[rateKey]
			sinceLast := now.Sub(last)
			p.mu.Unlock()
			if seen && sinceLast < time.Duration(cfg.WithdrawExcessPeriod)*time.Second {
				p.log.Debug("rebalance: excess withdrawal rate-limited", "l1Token", l1Native, "chain", chain, "sinceLast", sinceLast)
				continue
			}

			allocPct, err := p.accountant.CurrentAllocationPct(ctx, symbol, chain, chainaddr.Address{})
			if err != nil {
				return nil, err
			}
			threshold, err := cfg.ExcessWithdrawThresholdPct()
			if err != nil {
				return nil, err
			}
			if allocPct.Cmp(threshold) < 0 {
				continue
			}

			eff, err := p.accountant.EffectiveBalance(ctx, symbol, chain, chainaddr.Address{})
			if err != nil {
				return nil, err
			}
			targetAlloc, err := fixedpoint.MulFrac(cumulative, cfg.TargetPct, fixedpoint.FixedPoint)
			if err != nil {
				return nil, err
			}
			excess := new(big.Int).Sub(eff, targetAlloc)
			if excess.Sign() <= 0 {
				continue
			}

			l2Addr, err := p.registry.AddressOn(symbol, chain)
			if err != nil {
				return nil, err
			}
			pending, err := p.adapters.GetL2PendingWithdrawalAmount(ctx, l2Addr, chain)
			if err != nil {
				return nil, err
			}
			amount := new(big.Int).Sub(excess, pending)
			if amount.Sign() <= 0 {
				continue
			}

			actions = append(actions, Action{Kind: ActionWithdrawFromL2, L1Token: l1Native, Chain: chain, Amount: amount})

			p.mu.Lock()
			p.lastExcessWithdrawal[rateKey] = now
			p.mu.Unlock()
		}
	}
	return actions, nil
}

// Execute submits every action through the AdapterManager, holding a per-L1-token
// single-writer lease so two relayer instances never race the same rebalance.
func (p *Planner) Execute(ctx context.Context, owner string, actions []Action) error {
	byToken := make(map[string][]Action)
	for _, a := range actions {
		byToken[a.L1Token] = append(byToken[a.L1Token], a)
	}
	for l1Native, tokenActions := range byToken {
		leaseName := "rebalance/" + l1Native
		lease, ok, err := p.leaseStore.TryAcquire(ctx, leaseName, owner, p.cfg.LeaseTTL)
		if err != nil {
			return fmt.Errorf("rebalance: acquire lease: %w", err)
		}
		if !ok {
			p.log.Info("rebalance: skipping, lease held by another writer", "l1Token", l1Native, "owner", lease.Owner)
			continue
		}

		batch, err := batchActions(tokenActions)
		if err != nil {
			_ = p.leaseStore.Release(ctx, leaseName, owner)
			return err
		}
		p.log.Info("rebalance: executing batch", "l1Token", l1Native, "batchId", fmt.Sprintf("%x", batchID(batch)), "actions", len(batch.Items))

		for _, item := range batch.Items {
			if err := p.executeOne(ctx, item.Val); err != nil {
				_ = p.leaseStore.Release(ctx, leaseName, owner)
				return err
			}
		}
		if err := p.leaseStore.Release(ctx, leaseName, owner); err != nil {
			return fmt.Errorf("rebalance: release lease: %w", err)
		}
	}
	return nil
}

// batchActions groups actions for one L1 token into a single batching.Batch, so
// Execute can log and retry them as one deterministically-identified unit.
func batchActions(actions []Action) (batching.Batch[Action], error) {
	b, err := batching.New[Action](batching.Config{MaxItems: len(actions), MaxAge: time.Hour})
	if err != nil {
		return batching.Batch[Action]{}, fmt.Errorf("rebalance: init batcher: %w", err)
	}
	var batch batching.Batch[Action]
	for _, a := range actions {
		if got, flushed := b.Add(actionID(a), a); flushed {
			batch = got
		}
	}
	if len(batch.Items) == 0 {
		if got, flushed := b.Flush(); flushed {
			batch = got
		}
	}
	return batch, nil
}

// actionID deterministically identifies one Action for RebalanceActionBatchIDV1.
func actionID(a Action) [32]byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(a.Kind))
	_, _ = h.Write([]byte(a.L1Token))
	_, _ = h.Write([]byte(chainKeyString(a.Origin)))
	_, _ = h.Write([]byte(chainKeyString(a.Chain)))
	if a.Amount != nil {
		_, _ = h.Write(a.Amount.Bytes())
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func batchID(batch batching.Batch[Action]) [32]byte {
	ids := make([][32]byte, len(batch.Items))
	for i, item := range batch.Items {
		ids[i] = item.ID
	}
	return batching.RebalanceActionBatchIDV1(ids)
}

func (p *Planner) executeOne(ctx context.Context, a Action) error {
	l1Addr, err := chainaddr.ParseEvmHex(a.L1Token)
	if err != nil {
		l1Addr, err = chainaddr.ParseSvmHex(a.L1Token)
		if err != nil {
			return err
		}
	}
	switch a.Kind {
	case ActionSendCrossChain:
		return p.adapters.SendTokenCrossChain(ctx, l1Addr, a.Origin, a.Chain, a.Amount)
	case ActionWithdrawFromL2:
		symbol, err := l1TokenSymbol(p.registry, p.cfg.HubChain, a.L1Token)
		if err != nil {
			return err
		}
		l2Addr, err := p.registry.AddressOn(symbol, a.Chain)
		if err != nil {
			return err
		}
		return p.adapters.WithdrawTokenFromL2(ctx, l2Addr, a.Chain, a.Amount)
	case ActionWrapNative:
		return p.adapters.WrapNativeToken(ctx, a.Chain, a.Amount)
	case ActionUnwrapNative:
		return p.adapters.UnwrapWrappedNativeToken(ctx, a.Chain, a.Amount)
	default:
		return fmt.Errorf("rebalance: unknown action kind %q", a.Kind)
	}
}

func chainKeyString(c tokenreg.ChainID) string {
	return fmt.Sprintf("%d", c)
}
