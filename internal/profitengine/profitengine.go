// Package profitengine computes FillProfit for a deposit: USD-denominated input and
// output value, relayer fees gross and net of gas, and a profitability verdict
// against a per-route minimum fee.
package profitengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/xrelayer/relayer-core/internal/deposit"
	"github.com/xrelayer/relayer-core/internal/fixedpoint"
	"github.com/xrelayer/relayer-core/internal/gasestimator"
	"github.com/xrelayer/relayer-core/internal/pricecache"
	"github.com/xrelayer/relayer-core/internal/secrets"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

var ErrInvalidConfig = errors.New("profitengine: invalid config")

// FillProfit is the computed profitability record for one deposit.
type FillProfit struct {
	InputUsd  *big.Int
	OutputUsd *big.Int

	TotalFeeFrac *big.Int

	LpFeeUsd           *big.Int
	GrossRelayerFeeUsd  *big.Int
	GrossRelayerFeeFrac *big.Int

	GasCostUsd *big.Int
	GasPrice   *big.Int
	GasPadding *big.Int
	GasMultiplier *big.Int

	NetRelayerFeeUsd  *big.Int
	NetRelayerFeeFrac *big.Int

	Profitable bool
}

// MinFeeLookup resolves the minimum relayer-fee fraction for a route. Results are
// cached per route by Engine; implementations do not need their own cache.
type MinFeeLookup interface {
	// MinRelayerFeeFrac checks MIN_RELAYER_FEE_PCT_<SYMBOL>_<src>_<dst>, then
	// MIN_RELAYER_FEE_PCT_<SYMBOL>, then returns defaultFrac.
	MinRelayerFeeFrac(ctx context.Context, symbol tokenreg.TokenSymbol, origin, destination tokenreg.ChainID, defaultFrac *big.Int) (*big.Int, error)
}

type Config struct {
	DefaultMinRelayerFeeFrac *big.Int
	TestnetChains            map[tokenreg.ChainID]bool
	GasTokenDecimals         map[tokenreg.ChainID]uint8
	// GasTokenSymbol maps a destination chain to the symbol priced by prices for
	// that chain's native gas token (e.g. "ETH", "MATIC"). Chains absent from this
	// map fall back to GasTokenDefaultSymbol.
	GasTokenSymbol map[tokenreg.ChainID]tokenreg.TokenSymbol
	// GasTokenDefaultSymbol is used for any destination chain not present in
	// GasTokenSymbol. Defaults to "ETH" if empty.
	GasTokenDefaultSymbol tokenreg.TokenSymbol
}

// Engine computes FillProfit and tracks unprofitable deposits per origin chain for
// later reporting.
type Engine struct {
	cfg      Config
	prices   *pricecache.Cache
	gas      *gasestimator.Estimator
	minFees  MinFeeLookup
	registry *tokenreg.Registry
	log      *slog.Logger

	feeCacheMu sync.Mutex
	feeCache   map[string]*big.Int

	unprofitableMu sync.Mutex
	unprofitable   map[tokenreg.ChainID][]deposit.Deposit
}

func New(cfg Config, prices *pricecache.Cache, gas *gasestimator.Estimator, minFees MinFeeLookup, registry *tokenreg.Registry, log *slog.Logger) (*Engine, error) {
	if prices == nil || gas == nil || registry == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if minFees == nil {
		minFees = EnvMinFeeLookup{Secrets: secrets.NewEnv()}
	}
	if cfg.DefaultMinRelayerFeeFrac == nil {
		return nil, fmt.Errorf("%w: missing default min relayer fee", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Engine{
		cfg:          cfg,
		prices:       prices,
		gas:          gas,
		minFees:      minFees,
		registry:     registry,
		log:          log,
		feeCache:     make(map[string]*big.Int),
		unprofitable: make(map[tokenreg.ChainID][]deposit.Deposit),
	}, nil
}

// Compute runs the eight-step FillProfit algorithm for d, given its input/output
// symbol and the route's externally computed LP-fee fraction.
func (e *Engine) Compute(ctx context.Context, d deposit.Deposit, inputSymbol, outputSymbol tokenreg.TokenSymbol, lpFeeFrac *big.Int) (FillProfit, error) {
	inputDecimals, err := e.registry.DecimalsOf(inputSymbol)
	if err != nil {
		return FillProfit{}, fmt.Errorf("profitengine: input symbol: %w", err)
	}
	outputDecimals, err := e.registry.DecimalsOf(outputSymbol)
	if err != nil {
		return FillProfit{}, fmt.Errorf("profitengine: output symbol: %w", err)
	}

	// Step 1: normalize input to 18 decimals and price it.
	inputScaled, err := fixedpoint.ConvertDecimals(int(inputDecimals), 18, d.InputAmount)
	if err != nil {
		return FillProfit{}, err
	}
	inputPrice := e.prices.GetPrice(string(inputSymbol))
	inputUsd, err := fixedpoint.MulFrac(inputScaled, inputPrice, fixedpoint.FixedPoint)
	if err != nil {
		return FillProfit{}, err
	}

	// Step 2: effective output amount, normalized and priced.
	effectiveOutput := d.EffectiveOutputAmount()
	outputScaled, err := fixedpoint.ConvertDecimals(int(outputDecimals), 18, effectiveOutput)
	if err != nil {
		return FillProfit{}, err
	}
	outputPrice := e.prices.GetPrice(string(outputSymbol))
	outputUsd, err := fixedpoint.MulFrac(outputScaled, outputPrice, fixedpoint.FixedPoint)
	if err != nil {
		return FillProfit{}, err
	}

	// Step 3: total fee fraction.
	totalFeeFrac := big.NewInt(0)
	if inputUsd.Sign() > 0 {
		diff := new(big.Int).Sub(inputUsd, outputUsd)
		totalFeeFrac, err = fixedpoint.MulFrac(diff, fixedpoint.FixedPoint, inputUsd)
		if err != nil {
			return FillProfit{}, err
		}
	}

	// Step 4: LP fee in USD.
	lpFeeUsd := big.NewInt(0)
	if lpFeeFrac != nil && lpFeeFrac.Sign() > 0 {
		scaled, err := fixedpoint.MulFrac(inputScaled, lpFeeFrac, fixedpoint.FixedPoint)
		if err != nil {
			return FillProfit{}, err
		}
		lpFeeUsd, err = fixedpoint.MulFrac(scaled, inputPrice, fixedpoint.FixedPoint)
		if err != nil {
			return FillProfit{}, err
		}
	}

	// Step 5: gross relayer fee.
	grossRelayerFeeUsd := new(big.Int).Sub(new(big.Int).Sub(inputUsd, outputUsd), lpFeeUsd)
	if grossRelayerFeeUsd.Sign() < 0 {
		grossRelayerFeeUsd = big.NewInt(0)
	}
	grossRelayerFeeFrac := big.NewInt(0)
	if inputUsd.Sign() > 0 {
		grossRelayerFeeFrac, err = fixedpoint.MulFrac(grossRelayerFeeUsd, fixedpoint.FixedPoint, inputUsd)
		if err != nil {
			return FillProfit{}, err
		}
	}

	// Step 6: gas cost in USD. TokenGasCost is denominated in the destination
	// chain's native gas token, which is independent of the deposit's output token,
	// so it is priced against that chain's gas symbol rather than outputPrice.
	gasCost := e.gas.TotalGasCost(ctx, d)
	gasTokenDecimals := e.cfg.GasTokenDecimals[d.Destination]
	gasTokenPrice := e.prices.GetPrice(string(e.gasTokenSymbolFor(d.Destination)))
	gasCostUsd := big.NewInt(0)
	if !gasCost.IsMax() {
		gasTokenScale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(gasTokenDecimals)), nil)
		if gasTokenScale.Sign() > 0 {
			usdAtFull, err := fixedpoint.MulFrac(gasCost.TokenGasCost, gasTokenPrice, fixedpoint.FixedPoint)
			if err != nil {
				return FillProfit{}, err
			}
			gasCostUsd, err = fixedpoint.MulFrac(usdAtFull, fixedpoint.FixedPoint, gasTokenScale)
			if err != nil {
				return FillProfit{}, err
			}
		}
	}

	// Step 7: net relayer fee.
	netRelayerFeeUsd := new(big.Int).Sub(grossRelayerFeeUsd, gasCostUsd)
	netRelayerFeeFrac := big.NewInt(0)
	if outputUsd.Sign() > 0 {
		netRelayerFeeFrac, err = fixedpoint.MulFrac(netRelayerFeeUsd, fixedpoint.FixedPoint, outputUsd)
		if err != nil {
			return FillProfit{}, err
		}
	}

	// Step 8: profitability verdict.
	minFeeFrac, err := e.minFeeFracFor(ctx, outputSymbol, d.Origin, d.Destination)
	if err != nil {
		return FillProfit{}, err
	}

	profitable := inputPrice.Sign() > 0 && outputPrice.Sign() > 0 && outputUsd.Sign() > 0 && netRelayerFeeFrac.Cmp(minFeeFrac) >= 0
	if !gasCost.IsMax() && e.gas.IsTestnet(d.Destination) {
		// Testnet relaxation: simulation succeeded, so treat as profitable
		// regardless of computed economics (testnet prices are unreliable).
		profitable = true
	}

	padding, multiplier := e.gas.PaddingAndMultiplier(d.HasMessage())

	fp := FillProfit{
		InputUsd:            inputUsd,
		OutputUsd:           outputUsd,
		TotalFeeFrac:        totalFeeFrac,
		LpFeeUsd:            lpFeeUsd,
		GrossRelayerFeeUsd:  grossRelayerFeeUsd,
		GrossRelayerFeeFrac: grossRelayerFeeFrac,
		GasCostUsd:          gasCostUsd,
		GasPrice:            gasCost.GasPrice,
		GasPadding:          padding,
		GasMultiplier:       multiplier,
		NetRelayerFeeUsd:    netRelayerFeeUsd,
		NetRelayerFeeFrac:   netRelayerFeeFrac,
		Profitable:          profitable,
	}

	if !profitable {
		e.recordUnprofitable(d)
	}
	return fp, nil
}

// gasTokenSymbolFor resolves the price-feed symbol for chain's native gas token,
// falling back to GasTokenDefaultSymbol (or "ETH") when chain has no override.
func (e *Engine) gasTokenSymbolFor(chain tokenreg.ChainID) tokenreg.TokenSymbol {
	if sym, ok := e.cfg.GasTokenSymbol[chain]; ok {
		return sym
	}
	if e.cfg.GasTokenDefaultSymbol != "" {
		return e.cfg.GasTokenDefaultSymbol
	}
	return "ETH"
}

func (e *Engine) minFeeFracFor(ctx context.Context, symbol tokenreg.TokenSymbol, origin, destination tokenreg.ChainID) (*big.Int, error) {
	key := fmt.Sprintf("%s_%d_%d", symbol, origin, destination)
	e.feeCacheMu.Lock()
	if cached, ok := e.feeCache[key]; ok {
		e.feeCacheMu.Unlock()
		return cached, nil
	}
	e.feeCacheMu.Unlock()

	frac, err := e.minFees.MinRelayerFeeFrac(ctx, symbol, origin, destination, e.cfg.DefaultMinRelayerFeeFrac)
	if err != nil {
		return nil, err
	}
	e.feeCacheMu.Lock()
	e.feeCache[key] = frac
	e.feeCacheMu.Unlock()
	return frac, nil
}

func (e *Engine) recordUnprofitable(d deposit.Deposit) {
	e.unprofitableMu.Lock()
	defer e.unprofitableMu.Unlock()
	e.unprofitable[d.Origin] = append(e.unprofitable[d.Origin], d)
}

// UnprofitableDeposits returns the captured unprofitable deposits for origin.
func (e *Engine) UnprofitableDeposits(origin tokenreg.ChainID) []deposit.Deposit {
	e.unprofitableMu.Lock()
	defer e.unprofitableMu.Unlock()
	out := make([]deposit.Deposit, len(e.unprofitable[origin]))
	copy(out, e.unprofitable[origin])
	return out
}

// ClearUnprofitable discards the captured unprofitable deposits for origin.
func (e *Engine) ClearUnprofitable(origin tokenreg.ChainID) {
	e.unprofitableMu.Lock()
	defer e.unprofitableMu.Unlock()
	delete(e.unprofitable, origin)
}

// EnvMinFeeLookup implements MinFeeLookup via environment-variable lookup keyed
// first by MIN_RELAYER_FEE_PCT_<SYMBOL>_<src>_<dst>, then MIN_RELAYER_FEE_PCT_<SYMBOL>.
type EnvMinFeeLookup struct {
	Secrets secrets.Provider
}

func (l EnvMinFeeLookup) MinRelayerFeeFrac(ctx context.Context, symbol tokenreg.TokenSymbol, origin, destination tokenreg.ChainID, defaultFrac *big.Int) (*big.Int, error) {
	provider := l.Secrets
	if provider == nil {
		provider = secrets.NewEnv()
	}
	routeKey := fmt.Sprintf("MIN_RELAYER_FEE_PCT_%s_%d_%d", strings.ToUpper(string(symbol)), origin, destination)
	if v, err := provider.Get(ctx, routeKey); err == nil {
		return parsePctEnv(v)
	}
	symbolKey := fmt.Sprintf("MIN_RELAYER_FEE_PCT_%s", strings.ToUpper(string(symbol)))
	if v, err := provider.Get(ctx, symbolKey); err == nil {
		return parsePctEnv(v)
	}
	return defaultFrac, nil
}

// parsePctEnv parses a decimal percentage string (e.g. "0.05" for 5 basis... no,
// 0.05 = 5%) into an 18-decimal fixed-point fraction.
func parsePctEnv(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	wholeInt, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("%w: bad percentage %q", ErrInvalidConfig, s)
	}
	out, err := fixedpoint.ToFp(wholeInt, 0)
	if err != nil {
		return nil, err
	}
	if !hasFrac || frac == "" {
		return out, nil
	}
	if len(frac) > 18 {
		frac = frac[:18]
	}
	fracInt, ok := new(big.Int).SetString(frac, 10)
	if !ok {
		return nil, fmt.Errorf("%w: bad percentage %q", ErrInvalidConfig, s)
	}
	fracScaled, err := fixedpoint.ToFp(fracInt, len(frac))
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(out, fracScaled), nil
}
