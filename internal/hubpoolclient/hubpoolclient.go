// Package hubpoolclient declares the narrow collaborator interfaces the repayment
// chain selector needs against the hub pool, config store, and bundle data, plus
// static test doubles.
package hubpoolclient

import (
	"context"
	"math/big"
	"sync"

	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

// TokenInfo is the HubPool's canonical record for a token address on a chain.
type TokenInfo struct {
	Symbol   tokenreg.TokenSymbol
	Decimals uint8
	Address  chainaddr.Address
}

// HubPoolClient exposes the HubPool's routing and accounting predicates.
type HubPoolClient interface {
	GetTokenInfoForAddress(ctx context.Context, token chainaddr.Address, chain tokenreg.ChainID) (TokenInfo, error)
	L2TokenHasPoolRebalanceRoute(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (bool, error)
	L2TokenEnabledForL1Token(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (bool, error)
	GetRunningBalanceBeforeBlockForChain(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID, block uint64) (*big.Int, error)
	GetLatestExecutedRootBundleContainingL1Token(ctx context.Context, l1Token chainaddr.Address) (RootBundle, error)
	AreTokensEquivalent(ctx context.Context, a, b chainaddr.Address, chain tokenreg.ChainID) (bool, error)
}

// RootBundle is the protocol's validated accounting checkpoint.
type RootBundle struct {
	EndBlockForChain map[tokenreg.ChainID]uint64
}

// ConfigStoreClient exposes the protocol's target-balance configuration.
type ConfigStoreClient interface {
	GetSpokeTargetBalancesForBlock(ctx context.Context, token chainaddr.Address, chain tokenreg.ChainID, block uint64) (*big.Int, error)
}

// BundleDataClient projects future refund and deposit flows so the repayment
// selector and rebalance planner can anticipate balances that have not yet
// materialized on-chain.
type BundleDataClient interface {
	GetPendingRefundsFromValidBundles(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error)
	GetNextBundleRefunds(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error)
	GetTotalRefund(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error)
	GetUpcomingDepositAmount(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error)
}

// StaticHubPoolClient is a HubPoolClient backed by in-memory maps.
type StaticHubPoolClient struct {
	mu              sync.Mutex
	tokenInfo       map[string]TokenInfo
	hasRoute        map[string]bool
	enabled         map[string]bool
	runningBalances map[string]*big.Int
	latestBundle    map[string]RootBundle
	equivalent      map[string]bool
}

func NewStaticHubPoolClient() *StaticHubPoolClient {
	return &StaticHubPoolClient{
		tokenInfo:       make(map[string]TokenInfo),
		hasRoute:        make(map[string]bool),
		enabled:         make(map[string]bool),
		runningBalances: make(map[string]*big.Int),
		latestBundle:    make(map[string]RootBundle),
		equivalent:      make(map[string]bool),
	}
}

func tokenChainKey(token chainaddr.Address, chain tokenreg.ChainID) string {
	return token.Native() + "/" + chainIDString(chain)
}

func chainIDString(chain tokenreg.ChainID) string {
	return new(big.Int).SetUint64(uint64(chain)).String()
}

func (c *StaticHubPoolClient) SetTokenInfo(token chainaddr.Address, chain tokenreg.ChainID, info TokenInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenInfo[tokenChainKey(token, chain)] = info
}

func (c *StaticHubPoolClient) SetHasPoolRebalanceRoute(l1Token chainaddr.Address, chain tokenreg.ChainID, has bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasRoute[tokenChainKey(l1Token, chain)] = has
}

func (c *StaticHubPoolClient) SetEnabled(l1Token chainaddr.Address, chain tokenreg.ChainID, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled[tokenChainKey(l1Token, chain)] = enabled
}

func (c *StaticHubPoolClient) SetRunningBalance(l1Token chainaddr.Address, chain tokenreg.ChainID, balance *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runningBalances[tokenChainKey(l1Token, chain)] = new(big.Int).Set(balance)
}

func (c *StaticHubPoolClient) SetLatestBundle(l1Token chainaddr.Address, bundle RootBundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latestBundle[l1Token.Native()] = bundle
}

func (c *StaticHubPoolClient) SetEquivalent(a, b chainaddr.Address, equivalent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.equivalent[a.Native()+"/"+b.Native()] = equivalent
	c.equivalent[b.Native()+"/"+a.Native()] = equivalent
}

func (c *StaticHubPoolClient) GetTokenInfoForAddress(_ context.Context, token chainaddr.Address, chain tokenreg.ChainID) (TokenInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenInfo[tokenChainKey(token, chain)], nil
}

func (c *StaticHubPoolClient) L2TokenHasPoolRebalanceRoute(_ context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasRoute[tokenChainKey(l1Token, chain)], nil
}

func (c *StaticHubPoolClient) L2TokenEnabledForL1Token(_ context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled[tokenChainKey(l1Token, chain)], nil
}

func (c *StaticHubPoolClient) GetRunningBalanceBeforeBlockForChain(_ context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID, _ uint64) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.runningBalances[tokenChainKey(l1Token, chain)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (c *StaticHubPoolClient) GetLatestExecutedRootBundleContainingL1Token(_ context.Context, l1Token chainaddr.Address) (RootBundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestBundle[l1Token.Native()], nil
}

func (c *StaticHubPoolClient) AreTokensEquivalent(_ context.Context, a, b chainaddr.Address, _ tokenreg.ChainID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.Eq(b) {
		return true, nil
	}
	return c.equivalent[a.Native()+"/"+b.Native()], nil
}

// StaticConfigStoreClient is a ConfigStoreClient backed by an in-memory map.
type StaticConfigStoreClient struct {
	mu      sync.Mutex
	targets map[string]*big.Int
}

func NewStaticConfigStoreClient() *StaticConfigStoreClient {
	return &StaticConfigStoreClient{targets: make(map[string]*big.Int)}
}

func (c *StaticConfigStoreClient) SetTarget(token chainaddr.Address, chain tokenreg.ChainID, v *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[tokenChainKey(token, chain)] = new(big.Int).Set(v)
}

func (c *StaticConfigStoreClient) GetSpokeTargetBalancesForBlock(_ context.Context, token chainaddr.Address, chain tokenreg.ChainID, _ uint64) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.targets[tokenChainKey(token, chain)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

// StaticBundleDataClient is a BundleDataClient backed by in-memory maps.
type StaticBundleDataClient struct {
	mu               sync.Mutex
	pendingRefunds   map[string]*big.Int
	nextBundle       map[string]*big.Int
	totalRefund      map[string]*big.Int
	upcomingDeposits map[string]*big.Int
}

func NewStaticBundleDataClient() *StaticBundleDataClient {
	return &StaticBundleDataClient{
		pendingRefunds:   make(map[string]*big.Int),
		nextBundle:       make(map[string]*big.Int),
		totalRefund:      make(map[string]*big.Int),
		upcomingDeposits: make(map[string]*big.Int),
	}
}

func (c *StaticBundleDataClient) SetPendingRefunds(l1Token chainaddr.Address, chain tokenreg.ChainID, v *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingRefunds[tokenChainKey(l1Token, chain)] = new(big.Int).Set(v)
}

func (c *StaticBundleDataClient) SetNextBundleRefunds(l1Token chainaddr.Address, chain tokenreg.ChainID, v *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextBundle[tokenChainKey(l1Token, chain)] = new(big.Int).Set(v)
}

func (c *StaticBundleDataClient) SetUpcomingDepositAmount(l1Token chainaddr.Address, chain tokenreg.ChainID, v *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upcomingDeposits[tokenChainKey(l1Token, chain)] = new(big.Int).Set(v)
}

func (c *StaticBundleDataClient) GetPendingRefundsFromValidBundles(_ context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.pendingRefunds[tokenChainKey(l1Token, chain)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (c *StaticBundleDataClient) GetNextBundleRefunds(_ context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.nextBundle[tokenChainKey(l1Token, chain)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (c *StaticBundleDataClient) GetTotalRefund(_ context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pendingRefunds[tokenChainKey(l1Token, chain)]
	next := c.nextBundle[tokenChainKey(l1Token, chain)]
	total := big.NewInt(0)
	if pending != nil {
		total.Add(total, pending)
	}
	if next != nil {
		total.Add(total, next)
	}
	return total, nil
}

func (c *StaticBundleDataClient) GetUpcomingDepositAmount(_ context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.upcomingDeposits[tokenChainKey(l1Token, chain)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}
