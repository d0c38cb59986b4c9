// Package gasestimator computes the simulated cost of filling a deposit, cached per
// destination chain for messageless deposits and padded/multiplied before use by the
// profit engine.
package gasestimator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/xrelayer/relayer-core/internal/deposit"
	"github.com/xrelayer/relayer-core/internal/fixedpoint"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

var ErrInvalidConfig = errors.New("gasestimator: invalid config")

// GasCost is the cost of a simulated fill, in three units.
type GasCost struct {
	NativeGasCost *big.Int // destination chain's native gas units
	TokenGasCost  *big.Int // destination gas-token smallest unit
	GasPrice      *big.Int // wei-unit gas price
}

// Max returns the uint256-max sentinel triple returned on simulation failure.
func Max() GasCost {
	return GasCost{
		NativeGasCost: fixedpoint.Max(),
		TokenGasCost:  fixedpoint.Max(),
		GasPrice:      fixedpoint.Max(),
	}
}

func (c GasCost) IsMax() bool {
	return fixedpoint.IsMax(c.NativeGasCost) || fixedpoint.IsMax(c.TokenGasCost)
}

// Simulator simulates a fill transaction on a destination chain and reports its
// cost. The Estimator treats a non-nil error like a failed simulation: the
// chain's cost becomes the Max() sentinel.
type Simulator interface {
	SimulateFill(ctx context.Context, d deposit.Deposit, relayer string) (GasCost, error)
}

// TemplateOverride names a per-chain synthetic test output token. The Estimator
// stores Config.TemplateOverrides but does not read them: the template deposit
// simulated for each chain is the one the caller passes to RefreshCache.
type TemplateOverride struct {
	OutputTokenAddress string
	OutputTokenDecimals uint8
}

type Config struct {
	// GasPadding is the safety margin applied to both native and token cost,
	// constrained to [1.0, 3.0] scaled to 18 decimals.
	GasPadding *big.Int

	// GasMultiplier scales only the token cost, constrained to [0, 4] scaled to
	// 18 decimals. GasMultiplierWithMessage is used instead for message-carrying
	// deposits.
	GasMultiplier            *big.Int
	GasMultiplierWithMessage *big.Int

	// RelayerAddress is the simulated fill sender. Per protocol self-fill rules it
	// must differ from the template recipient.
	RelayerAddress string

	TestnetChains map[tokenreg.ChainID]bool

	TemplateOverrides map[tokenreg.ChainID]TemplateOverride
}

func validatePadding(name string, v *big.Int, lo, hi int64) error {
	if v == nil {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, name)
	}
	loFp := new(big.Int).Mul(big.NewInt(lo), fixedpoint.FixedPoint)
	hiFp := new(big.Int).Mul(big.NewInt(hi), fixedpoint.FixedPoint)
	if v.Cmp(loFp) < 0 || v.Cmp(hiFp) > 0 {
		return fmt.Errorf("%w: %s must be in [%d.0, %d.0]", ErrInvalidConfig, name, lo, hi)
	}
	return nil
}

// Estimator owns the per-chain messageless-cost cache and applies scaling.
type Estimator struct {
	cfg Config
	sim Simulator
	log *slog.Logger

	mu    sync.RWMutex
	cache map[tokenreg.ChainID]GasCost
}

func New(cfg Config, sim Simulator, log *slog.Logger) (*Estimator, error) {
	if sim == nil {
		return nil, fmt.Errorf("%w: nil simulator", ErrInvalidConfig)
	}
	if err := validatePadding("GasPadding", cfg.GasPadding, 1, 3); err != nil {
		return nil, err
	}
	if err := validatePadding("GasMultiplier", cfg.GasMultiplier, 0, 4); err != nil {
		return nil, err
	}
	if cfg.GasMultiplierWithMessage == nil {
		cfg.GasMultiplierWithMessage = cfg.GasMultiplier
	}
	if err := validatePadding("GasMultiplierWithMessage", cfg.GasMultiplierWithMessage, 0, 4); err != nil {
		return nil, err
	}
	if cfg.RelayerAddress == "" {
		return nil, fmt.Errorf("%w: missing relayer simulation address", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Estimator{
		cfg:   cfg,
		sim:   sim,
		log:   log,
		cache: make(map[tokenreg.ChainID]GasCost),
	}, nil
}

// RefreshCache re-simulates a synthetic template deposit for every chain in
// destinationChains and stores the raw (unpadded) result. Called once per
// update() tick; messageless fills read from this cache in TotalGasCost.
func (e *Estimator) RefreshCache(ctx context.Context, destinationChains []tokenreg.ChainID, templates func(tokenreg.ChainID) deposit.Deposit) {
	for _, chain := range destinationChains {
		template := templates(chain)
		cost, err := e.sim.SimulateFill(ctx, template, e.cfg.RelayerAddress)
		if err != nil {
			e.log.Warn("gasestimator: template simulation failed", "chain", chain, "error", err)
			cost = Max()
		}
		e.mu.Lock()
		e.cache[chain] = cost
		e.mu.Unlock()
	}
}

// TotalGasCost returns the scaled cost of filling d. Messageless deposits are served
// from the per-chain cache; message-carrying deposits are simulated per call because
// arbitrary execution is not cacheable.
func (e *Estimator) TotalGasCost(ctx context.Context, d deposit.Deposit) GasCost {
	var raw GasCost
	if d.HasMessage() {
		cost, err := e.sim.SimulateFill(ctx, d, e.cfg.RelayerAddress)
		if err != nil {
			e.log.Warn("gasestimator: per-call simulation failed", "depositId", d.DepositID, "error", err)
			return Max()
		}
		raw = cost
	} else {
		e.mu.RLock()
		cached, ok := e.cache[d.Destination]
		e.mu.RUnlock()
		if !ok {
			e.log.Warn("gasestimator: no cached cost for chain, treating as failure", "chain", d.Destination)
			return Max()
		}
		raw = cached
	}

	if raw.IsMax() {
		return Max()
	}
	return e.scale(raw, d.HasMessage())
}

// scale applies gasPadding to both native and token cost, then gasMultiplier (or
// gasMultiplierWithMessage) to the token cost only. Native cost is preserved after
// padding because it feeds the transaction's gasLimit directly.
func (e *Estimator) scale(raw GasCost, hasMessage bool) GasCost {
	mult := e.cfg.GasMultiplier
	if hasMessage {
		mult = e.cfg.GasMultiplierWithMessage
	}

	nativePadded, err := fixedpoint.MulFrac(raw.NativeGasCost, e.cfg.GasPadding, fixedpoint.FixedPoint)
	if err != nil {
		return Max()
	}
	tokenPadded, err := fixedpoint.MulFrac(raw.TokenGasCost, e.cfg.GasPadding, fixedpoint.FixedPoint)
	if err != nil {
		return Max()
	}
	tokenScaled, err := fixedpoint.MulFrac(tokenPadded, mult, fixedpoint.FixedPoint)
	if err != nil {
		return Max()
	}
	return GasCost{
		NativeGasCost: nativePadded,
		TokenGasCost:  tokenScaled,
		GasPrice:      raw.GasPrice,
	}
}

// IsTestnet reports whether chain is configured as a testnet, relaxing profitability
// checks downstream in internal/profitengine.
func (e *Estimator) IsTestnet(chain tokenreg.ChainID) bool {
	return e.cfg.TestnetChains[chain]
}

// PaddingAndMultiplier returns the scaling factors applied to a cost of the given
// message-carrying-ness, so callers (internal/profitengine) can record them on the
// FillProfit they produce.
func (e *Estimator) PaddingAndMultiplier(hasMessage bool) (padding, multiplier *big.Int) {
	if hasMessage {
		return e.cfg.GasPadding, e.cfg.GasMultiplierWithMessage
	}
	return e.cfg.GasPadding, e.cfg.GasMultiplier
}
