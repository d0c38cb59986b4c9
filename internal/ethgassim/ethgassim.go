// Package ethgassim implements gasestimator.Simulator against a live EVM chain via
// go-ethereum's client interface, using eth_estimateGas against the destination
// chain's fill entrypoint.
package ethgassim

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/xrelayer/relayer-core/internal/deposit"
	"github.com/xrelayer/relayer-core/internal/gasestimator"
)

var ErrInvalidConfig = errors.New("ethgassim: invalid config")

// Backend is the subset of an EVM RPC client needed to simulate a fill.
type Backend interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// FillCalldataBuilder encodes a deposit into the destination SpokePool's fill
// calldata. Kept separate from Backend so the ABI encoding can be swapped per spoke
// pool version without touching the simulator.
type FillCalldataBuilder interface {
	BuildFillCalldata(d deposit.Deposit, relayer common.Address) ([]byte, error)
}

// GasTokenConverter converts a gas cost denominated in native wei into the
// destination chain's gas-token smallest unit. On most EVM chains the gas token is
// native ETH and this is the identity function; some spoke chains use a custom gas
// token and require a price-based conversion.
type GasTokenConverter interface {
	NativeToGasToken(chain uint64, nativeWei *big.Int) (*big.Int, error)
}

type Simulator struct {
	backends map[uint64]Backend
	spoke    map[uint64]common.Address
	calldata FillCalldataBuilder
	convert  GasTokenConverter
}

func New(backends map[uint64]Backend, spokePools map[uint64]common.Address, calldata FillCalldataBuilder, convert GasTokenConverter) (*Simulator, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no backends configured", ErrInvalidConfig)
	}
	if calldata == nil {
		return nil, fmt.Errorf("%w: nil calldata builder", ErrInvalidConfig)
	}
	if convert == nil {
		return nil, fmt.Errorf("%w: nil gas token converter", ErrInvalidConfig)
	}
	return &Simulator{backends: backends, spoke: spokePools, calldata: calldata, convert: convert}, nil
}

// SimulateFill implements gasestimator.Simulator.
func (s *Simulator) SimulateFill(ctx context.Context, d deposit.Deposit, relayer string) (gasestimator.GasCost, error) {
	chain := uint64(d.Destination)
	backend, ok := s.backends[chain]
	if !ok {
		return gasestimator.GasCost{}, fmt.Errorf("ethgassim: no backend for chain %d", chain)
	}
	spokePool, ok := s.spoke[chain]
	if !ok {
		return gasestimator.GasCost{}, fmt.Errorf("ethgassim: no spoke pool address for chain %d", chain)
	}

	relayerAddr := common.HexToAddress(relayer)
	calldata, err := s.calldata.BuildFillCalldata(d, relayerAddr)
	if err != nil {
		return gasestimator.GasCost{}, fmt.Errorf("ethgassim: build calldata: %w", err)
	}

	gasUsed, err := backend.EstimateGas(ctx, ethereum.CallMsg{
		From: relayerAddr,
		To:   &spokePool,
		Data: calldata,
	})
	if err != nil {
		return gasestimator.GasCost{}, fmt.Errorf("ethgassim: estimate gas: %w", err)
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return gasestimator.GasCost{}, fmt.Errorf("ethgassim: suggest gas price: %w", err)
	}

	nativeCost := new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), gasPrice)
	tokenCost, err := s.convert.NativeToGasToken(chain, nativeCost)
	if err != nil {
		return gasestimator.GasCost{}, fmt.Errorf("ethgassim: convert native to gas token: %w", err)
	}

	return gasestimator.GasCost{
		NativeGasCost: new(big.Int).SetUint64(gasUsed),
		TokenGasCost:  tokenCost,
		GasPrice:      gasPrice,
	}, nil
}

// IdentityConverter implements GasTokenConverter for chains whose gas token is
// native ETH: no conversion needed.
type IdentityConverter struct{}

func (IdentityConverter) NativeToGasToken(_ uint64, nativeWei *big.Int) (*big.Int, error) {
	return new(big.Int).Set(nativeWei), nil
}
