// Package engine orchestrates one evaluation tick: refreshing prices and gas costs
// concurrently, then walking each pending deposit through the decision state machine
// from structural validation to a profitability verdict and a repayment-chain plan.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xrelayer/relayer-core/internal/deposit"
	"github.com/xrelayer/relayer-core/internal/gasestimator"
	"github.com/xrelayer/relayer-core/internal/policy"
	"github.com/xrelayer/relayer-core/internal/pricecache"
	"github.com/xrelayer/relayer-core/internal/profitengine"
	"github.com/xrelayer/relayer-core/internal/rebalance"
	"github.com/xrelayer/relayer-core/internal/repayment"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

var ErrInvalidConfig = errors.New("engine: invalid config")

// State is the fill decision's position in the evaluation state machine.
type State string

const (
	StateUnknown      State = "unknown"
	StateValidated    State = "validated"
	StatePriced       State = "priced"
	StateProfitable   State = "profitable"
	StateUnprofitable State = "unprofitable"
	StateSkipped      State = "skipped"
)

// Decision is the outcome of running one deposit through EvaluateDeposit.
type Decision struct {
	Deposit          deposit.Deposit
	State            State
	Reason           string
	Profit           *profitengine.FillProfit
	RepaymentChains  []tokenreg.ChainID
}

// TemplateResolver supplies the destination chains to refresh gas costs for, and a
// deposit template to simulate on each.
type TemplateResolver interface {
	DestinationChains(ctx context.Context) ([]tokenreg.ChainID, error)
	Template(chain tokenreg.ChainID) deposit.Deposit
}

// HubAddressSource lists every hub-chain token address prices should be refreshed
// for, in the native string form pricecache.Cache.Update expects.
type HubAddressSource interface {
	HubAddresses(ctx context.Context) ([]string, error)
}

type Config struct {
	HubChain tokenreg.ChainID

	// FillSafetyMargin is the minimum time-to-fill-deadline required to accept a
	// fill, checked with internal/policy.IsSafeToBroadcastFill: broadcasting a fill that may not land before its deadline just
	// burns gas on a transaction the destination SpokePool will reject.
	FillSafetyMargin time.Duration

	// Now stands in for time.Now in tests.
	Now func() time.Time
}

// Engine wires the profit engine, repayment selector, and rebalance planner into one
// per-tick evaluation pipeline.
type Engine struct {
	cfg        Config
	prices     *pricecache.Cache
	gas        *gasestimator.Estimator
	profit     *profitengine.Engine
	repayments *repayment.Selector
	rebalancer *rebalance.Planner
	hubAddrs   HubAddressSource
	templates  TemplateResolver
	log        *slog.Logger
}

func New(cfg Config, prices *pricecache.Cache, gas *gasestimator.Estimator, profit *profitengine.Engine, repayments *repayment.Selector, rebalancer *rebalance.Planner, hubAddrs HubAddressSource, templates TemplateResolver, log *slog.Logger) (*Engine, error) {
	if prices == nil || gas == nil || profit == nil || repayments == nil || rebalancer == nil || hubAddrs == nil || templates == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.HubChain == 0 {
		return nil, fmt.Errorf("%w: missing hub chain", ErrInvalidConfig)
	}
	if cfg.FillSafetyMargin <= 0 {
		cfg.FillSafetyMargin = policy.DefaultFillSafetyMargin
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Engine{cfg: cfg, prices: prices, gas: gas, profit: profit, repayments: repayments, rebalancer: rebalancer, hubAddrs: hubAddrs, templates: templates, log: log}, nil
}

// Update runs one refresh cycle: prices and gas costs refresh concurrently via
// errgroup so every subsequent EvaluateDeposit call in this tick sees a single,
// internally-consistent snapshot rather than a mix of stale and fresh values.
func (e *Engine) Update(ctx context.Context) error {
	hubAddrs, err := e.hubAddrs.HubAddresses(ctx)
	if err != nil {
		return fmt.Errorf("engine: hub addresses: %w", err)
	}
	destinationChains, err := e.templates.DestinationChains(ctx)
	if err != nil {
		return fmt.Errorf("engine: destination chains: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.prices.Update(gctx, hubAddrs); err != nil {
			return fmt.Errorf("engine: price refresh: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		e.gas.RefreshCache(gctx, destinationChains, e.templates.Template)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	e.repayments.ResetTick()
	return nil
}

// EvaluateDeposit walks one deposit through the Unknown -> Validated -> Priced ->
// Profitable|Unprofitable|Skipped state machine.
func (e *Engine) EvaluateDeposit(ctx context.Context, d deposit.Deposit, inputSymbol, outputSymbol tokenreg.TokenSymbol, lpFeeFrac *big.Int) (Decision, error) {
	dec := Decision{Deposit: d, State: StateUnknown}

	if err := d.Validate(); err != nil {
		dec.State = StateSkipped
		dec.Reason = err.Error()
		return dec, nil
	}
	dec.State = StateValidated

	if !d.FillDeadline.IsZero() && !policy.IsSafeToBroadcastFill(e.cfg.Now(), d.FillDeadline, e.cfg.FillSafetyMargin) {
		dec.State = StateSkipped
		dec.Reason = "fill deadline too close to broadcast safely"
		return dec, nil
	}

	profit, err := e.profit.Compute(ctx, d, inputSymbol, outputSymbol, lpFeeFrac)
	if err != nil {
		return dec, fmt.Errorf("engine: compute profit: %w", err)
	}
	dec.State = StatePriced
	dec.Profit = &profit

	if !profit.Profitable {
		dec.State = StateUnprofitable
		dec.Reason = "net relayer fee below minimum"
		return dec, nil
	}

	chains, err := e.repayments.SelectRepaymentChains(ctx, d)
	if err != nil {
		return dec, fmt.Errorf("engine: select repayment chains: %w", err)
	}
	if len(chains) == 0 {
		dec.State = StateSkipped
		dec.Reason = "no eligible repayment chain"
		return dec, nil
	}

	dec.State = StateProfitable
	dec.RepaymentChains = chains
	return dec, nil
}

// PlanRebalances runs the L1->L2 push and L2->L1 excess-withdrawal planners and
// returns the combined action list, without executing them; callers choose when and
// as whom to call Execute. Native-token wrap/unwrap planning
// (PlanNativeTokenRebalances) is not run here.
func (e *Engine) PlanRebalances(ctx context.Context, now time.Time) ([]rebalance.Action, error) {
	var actions []rebalance.Action

	push, err := e.rebalancer.PlanL1ToL2Rebalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: plan l1->l2 rebalances: %w", err)
	}
	actions = append(actions, push...)

	excess, err := e.rebalancer.PlanExcessWithdrawals(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("engine: plan excess withdrawals: %w", err)
	}
	actions = append(actions, excess...)

	return actions, nil
}
