package config

import (
	"context"
	"fmt"
	"math/big"

	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/deposit"
	"github.com/xrelayer/relayer-core/internal/tokenconfig"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

// Resolver adapts the registries built by BuildRegistries into the narrow
// engine.TemplateResolver and engine.HubAddressSource collaborators, using one
// configured probe symbol (typically the most liquid stable, e.g. "USDC") to build
// gas-simulation templates and enumerate destination chains.
type Resolver struct {
	registry *tokenreg.Registry
	tokens   *tokenconfig.Registry
	hubChain tokenreg.ChainID
	probe    tokenreg.TokenSymbol

	// TemplateAmount is the input/output amount used in every synthetic
	// gas-simulation deposit, denominated in the probe token's smallest unit.
	TemplateAmount *big.Int
	// TemplateRecipient must differ from the gas estimator's simulated relayer
	// address; a self-fill is rejected by the protocol's fill entrypoint.
	TemplateRecipient chainaddr.Address
}

func NewResolver(registry *tokenreg.Registry, tokens *tokenconfig.Registry, hubChain tokenreg.ChainID, probe tokenreg.TokenSymbol, templateAmount *big.Int, templateRecipient chainaddr.Address) (*Resolver, error) {
	if registry == nil || tokens == nil {
		return nil, fmt.Errorf("config: nil registry")
	}
	if hubChain == 0 {
		return nil, fmt.Errorf("config: missing hub chain")
	}
	if _, _, err := registry.Resolve(probe); err != nil {
		return nil, fmt.Errorf("config: probe symbol: %w", err)
	}
	if templateAmount == nil || templateAmount.Sign() <= 0 {
		return nil, fmt.Errorf("config: template amount must be positive")
	}
	if templateRecipient.IsZero() {
		return nil, fmt.Errorf("config: missing template recipient")
	}
	return &Resolver{
		registry:          registry,
		tokens:            tokens,
		hubChain:          hubChain,
		probe:             probe,
		TemplateAmount:    templateAmount,
		TemplateRecipient: templateRecipient,
	}, nil
}

// DestinationChains lists every chain the probe token's balance config enables,
// which is exactly the set of chains the rebalance planner and gas estimator care
// about simulating.
func (r *Resolver) DestinationChains(_ context.Context) ([]tokenreg.ChainID, error) {
	l1, err := r.registry.AddressOn(r.probe, r.hubChain)
	if err != nil {
		return nil, err
	}
	return r.tokens.EnabledChains(l1.Native()), nil
}

// Template builds a synthetic probe-token deposit from the hub chain to chain, used
// only to measure a fill's gas cost; its amount and recipient are fixed sentinels.
func (r *Resolver) Template(chain tokenreg.ChainID) deposit.Deposit {
	inputToken, err := r.registry.AddressOn(r.probe, r.hubChain)
	if err != nil {
		return deposit.Deposit{}
	}
	outputToken, err := r.registry.AddressOn(r.probe, chain)
	if err != nil {
		return deposit.Deposit{}
	}
	return deposit.Deposit{
		Origin:       r.hubChain,
		Destination:  chain,
		InputToken:   inputToken,
		InputAmount:  r.TemplateAmount,
		OutputToken:  outputToken,
		OutputAmount: r.TemplateAmount,
		Recipient:    r.TemplateRecipient,
		Depositor:    r.TemplateRecipient,
	}
}

// HubAddresses lists the hub-chain native address of every registered symbol, the
// set pricecache.Cache.Update refreshes USD prices for.
func (r *Resolver) HubAddresses(_ context.Context) ([]string, error) {
	addrs := make([]string, 0, len(r.registry.Symbols))
	for _, entry := range r.registry.Symbols {
		if a, ok := entry.Addresses[r.hubChain]; ok {
			addrs = append(addrs, a.Native())
		}
	}
	return addrs, nil
}
