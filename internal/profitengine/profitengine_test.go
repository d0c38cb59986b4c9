package profitengine

import (
	"context"
	"math/big"
	"testing"

	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/deposit"
	"github.com/xrelayer/relayer-core/internal/gasestimator"
	"github.com/xrelayer/relayer-core/internal/pricecache"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

type staticFeed struct {
	prices map[string]*big.Int
}

func (s staticFeed) Name() string { return "static" }
func (s staticFeed) GetPricesByAddress(_ context.Context, addrs []string) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int)
	for _, a := range addrs {
		if p, ok := s.prices[a]; ok {
			out[a] = p
		}
	}
	return out, nil
}

type staticSimulator struct {
	cost gasestimator.GasCost
}

func (s staticSimulator) SimulateFill(_ context.Context, _ deposit.Deposit, _ string) (gasestimator.GasCost, error) {
	return s.cost, nil
}

type fixedMinFee struct {
	frac *big.Int
}

func (f fixedMinFee) MinRelayerFeeFrac(_ context.Context, _ tokenreg.TokenSymbol, _, _ tokenreg.ChainID, _ *big.Int) (*big.Int, error) {
	return f.frac, nil
}

func scaledFp(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000000000000000000))
}

func setup(t *testing.T) (*Engine, deposit.Deposit) {
	t.Helper()
	usdcAddr, err := chainaddr.ParseEvmHex("0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("ParseEvmHex: %v", err)
	}

	reg := tokenreg.NewRegistry()
	reg.AddSymbol("USDC", 6, map[tokenreg.ChainID]chainaddr.Address{1: usdcAddr})

	prices, err := pricecache.New(pricecache.Config{
		Feeds:    []pricecache.Feed{staticFeed{prices: map[string]*big.Int{usdcAddr.Native(): scaledFp(1)}}},
		HubChain: 1,
	}, reg, nil)
	if err != nil {
		t.Fatalf("pricecache.New: %v", err)
	}
	if err := prices.Update(context.Background(), []string{usdcAddr.Native()}); err != nil {
		t.Fatalf("prices.Update: %v", err)
	}

	gas, err := gasestimator.New(gasestimator.Config{
		GasPadding:     scaledFp(1),
		GasMultiplier:  scaledFp(1),
		RelayerAddress: "0xrelayer",
	}, staticSimulator{cost: gasestimator.GasCost{
		NativeGasCost: big.NewInt(100000),
		TokenGasCost:  big.NewInt(500_000), // 0.5 of a 6dp gas token; "ETH" has no price here, so gas prices to $0
		GasPrice:      big.NewInt(1),
	}}, nil)
	if err != nil {
		t.Fatalf("gasestimator.New: %v", err)
	}
	gas.RefreshCache(context.Background(), []tokenreg.ChainID{10}, func(tokenreg.ChainID) deposit.Deposit { return deposit.Deposit{} })

	engine, err := New(Config{
		DefaultMinRelayerFeeFrac: big.NewInt(0),
		GasTokenDecimals:        map[tokenreg.ChainID]uint8{10: 6},
	}, prices, gas, fixedMinFee{frac: big.NewInt(0)}, reg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := deposit.Deposit{
		DepositID:    big.NewInt(1),
		Origin:       1,
		Destination:  10,
		InputAmount:  big.NewInt(100_000000),
		OutputAmount: big.NewInt(99_000000),
	}
	return engine, d
}

func TestCompute_SimpleProfitableFill(t *testing.T) {
	engine, d := setup(t)
	fp, err := engine.Compute(context.Background(), d, "USDC", "USDC", big.NewInt(0))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if fp.InputUsd.Cmp(scaledFp(100)) != 0 {
		t.Fatalf("inputUsd: got %s want %s", fp.InputUsd, scaledFp(100))
	}
	if fp.OutputUsd.Cmp(scaledFp(99)) != 0 {
		t.Fatalf("outputUsd: got %s want %s", fp.OutputUsd, scaledFp(99))
	}
	if !fp.Profitable {
		t.Fatalf("expected profitable fill with minFee=0, got netFeeFrac=%s", fp.NetRelayerFeeFrac)
	}
}

func TestCompute_UnprofitableWhenMinFeeTooHigh(t *testing.T) {
	usdcAddr, err := chainaddr.ParseEvmHex("0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("ParseEvmHex: %v", err)
	}
	reg := tokenreg.NewRegistry()
	reg.AddSymbol("USDC", 6, map[tokenreg.ChainID]chainaddr.Address{1: usdcAddr})

	prices, _ := pricecache.New(pricecache.Config{
		Feeds:    []pricecache.Feed{staticFeed{prices: map[string]*big.Int{usdcAddr.Native(): scaledFp(1)}}},
		HubChain: 1,
	}, reg, nil)
	_ = prices.Update(context.Background(), []string{usdcAddr.Native()})

	gas, _ := gasestimator.New(gasestimator.Config{
		GasPadding:     scaledFp(1),
		GasMultiplier:  scaledFp(1),
		RelayerAddress: "0xrelayer",
	}, staticSimulator{cost: gasestimator.GasCost{NativeGasCost: big.NewInt(1), TokenGasCost: big.NewInt(1), GasPrice: big.NewInt(1)}}, nil)
	gas.RefreshCache(context.Background(), []tokenreg.ChainID{10}, func(tokenreg.ChainID) deposit.Deposit { return deposit.Deposit{} })

	engine, err := New(Config{
		DefaultMinRelayerFeeFrac: big.NewInt(0),
		GasTokenDecimals:        map[tokenreg.ChainID]uint8{10: 6},
	}, prices, gas, fixedMinFee{frac: scaledFp(1)}, reg, nil) // demand 100% fee, impossible
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := deposit.Deposit{
		DepositID: big.NewInt(1), Origin: 1, Destination: 10,
		InputAmount: big.NewInt(100_000000), OutputAmount: big.NewInt(99_000000),
	}
	fp, err := engine.Compute(context.Background(), d, "USDC", "USDC", big.NewInt(0))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if fp.Profitable {
		t.Fatalf("expected unprofitable fill given 100%% min fee requirement")
	}
	got := engine.UnprofitableDeposits(1)
	if len(got) != 1 {
		t.Fatalf("expected 1 captured unprofitable deposit, got %d", len(got))
	}
}

func TestCompute_ZeroOutputAmountYieldsZeroNetFracAndUnprofitable(t *testing.T) {
	engine, d := setup(t)
	d.OutputAmount = big.NewInt(0)
	fp, err := engine.Compute(context.Background(), d, "USDC", "USDC", big.NewInt(0))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if fp.NetRelayerFeeFrac.Sign() != 0 {
		t.Fatalf("expected netRelayerFeeFrac=0 when outputUsd=0, got %s", fp.NetRelayerFeeFrac)
	}
	if fp.Profitable {
		t.Fatalf("expected unprofitable when outputAmount=0")
	}
}

func TestCompute_UpdatedOutputAmountSmallerIsUsed(t *testing.T) {
	engine, d := setup(t)
	d.UpdatedOutputAmount = big.NewInt(50_000000)
	fp, err := engine.Compute(context.Background(), d, "USDC", "USDC", big.NewInt(0))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if fp.OutputUsd.Cmp(scaledFp(50)) != 0 {
		t.Fatalf("expected smaller updatedOutputAmount to be used: got outputUsd=%s", fp.OutputUsd)
	}
}

func TestCompute_GasCostUsesGasTokenPriceNotOutputPrice(t *testing.T) {
	usdcAddr, err := chainaddr.ParseEvmHex("0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("ParseEvmHex: %v", err)
	}
	wethAddr, err := chainaddr.ParseEvmHex("0x2222222222222222222222222222222222222222")
	if err != nil {
		t.Fatalf("ParseEvmHex: %v", err)
	}

	reg := tokenreg.NewRegistry()
	reg.AddSymbol("USDC", 6, map[tokenreg.ChainID]chainaddr.Address{1: usdcAddr})
	reg.AddSymbol("WETH", 18, map[tokenreg.ChainID]chainaddr.Address{1: wethAddr})

	prices, err := pricecache.New(pricecache.Config{
		Feeds: []pricecache.Feed{staticFeed{prices: map[string]*big.Int{
			usdcAddr.Native(): scaledFp(1),
			wethAddr.Native(): scaledFp(2000), // ETH is 2000x USDC
		}}},
		HubChain: 1,
	}, reg, nil)
	if err != nil {
		t.Fatalf("pricecache.New: %v", err)
	}
	if err := prices.Update(context.Background(), []string{usdcAddr.Native(), wethAddr.Native()}); err != nil {
		t.Fatalf("prices.Update: %v", err)
	}

	gas, err := gasestimator.New(gasestimator.Config{
		GasPadding:     scaledFp(1),
		GasMultiplier:  scaledFp(1),
		RelayerAddress: "0xrelayer",
	}, staticSimulator{cost: gasestimator.GasCost{
		NativeGasCost: big.NewInt(1),
		TokenGasCost:  big.NewInt(1_000000000000000000), // 1 whole gas token
		GasPrice:      big.NewInt(1),
	}}, nil)
	if err != nil {
		t.Fatalf("gasestimator.New: %v", err)
	}
	gas.RefreshCache(context.Background(), []tokenreg.ChainID{10}, func(tokenreg.ChainID) deposit.Deposit { return deposit.Deposit{} })

	engine, err := New(Config{
		DefaultMinRelayerFeeFrac: big.NewInt(0),
		GasTokenDecimals:         map[tokenreg.ChainID]uint8{10: 18},
		GasTokenSymbol:           map[tokenreg.ChainID]tokenreg.TokenSymbol{10: "WETH"},
	}, prices, gas, fixedMinFee{frac: big.NewInt(0)}, reg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := deposit.Deposit{
		DepositID:    big.NewInt(1),
		Origin:       1,
		Destination:  10,
		InputAmount:  big.NewInt(100_000000),
		OutputAmount: big.NewInt(99_000000),
	}
	fp, err := engine.Compute(context.Background(), d, "USDC", "USDC", big.NewInt(0))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// 1 WETH of gas at $2000/WETH must price to $2000, not $1 (USDC's price).
	if fp.GasCostUsd.Cmp(scaledFp(2000)) != 0 {
		t.Fatalf("GasCostUsd: got %s want %s (gas token price, not output token price)", fp.GasCostUsd, scaledFp(2000))
	}
}

func TestClearUnprofitable(t *testing.T) {
	engine, d := setup(t)
	engine.recordUnprofitable(d)
	if len(engine.UnprofitableDeposits(d.Origin)) == 0 {
		t.Fatalf("expected recorded deposit")
	}
	engine.ClearUnprofitable(d.Origin)
	if len(engine.UnprofitableDeposits(d.Origin)) != 0 {
		t.Fatalf("expected cleared deposits after ClearUnprofitable")
	}
}
