package hubpoolclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

// ContractCaller issues read-only contract calls. *ethclient.Client satisfies this.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const hubPoolABI = `[
	{"name":"l2TokenToInfo","type":"function","stateMutability":"view","inputs":[{"name":"l2Token","type":"address"},{"name":"chainId","type":"uint256"}],"outputs":[{"name":"symbol","type":"string"},{"name":"decimals","type":"uint8"},{"name":"l1Token","type":"address"}]},
	{"name":"poolRebalanceRoute","type":"function","stateMutability":"view","inputs":[{"name":"l1Token","type":"address"},{"name":"chainId","type":"uint256"}],"outputs":[{"name":"l2Token","type":"address"}]},
	{"name":"l2TokenEnabled","type":"function","stateMutability":"view","inputs":[{"name":"l1Token","type":"address"},{"name":"chainId","type":"uint256"}],"outputs":[{"name":"enabled","type":"bool"}]},
	{"name":"runningBalanceBeforeBlock","type":"function","stateMutability":"view","inputs":[{"name":"l1Token","type":"address"},{"name":"chainId","type":"uint256"},{"name":"blockNumber","type":"uint256"}],"outputs":[{"name":"balance","type":"int256"}]},
	{"name":"latestExecutedRootBundle","type":"function","stateMutability":"view","inputs":[{"name":"l1Token","type":"address"}],"outputs":[{"name":"chainIds","type":"uint256[]"},{"name":"endBlocks","type":"uint256[]"}]},
	{"name":"tokensEquivalent","type":"function","stateMutability":"view","inputs":[{"name":"a","type":"address"},{"name":"b","type":"address"},{"name":"chainId","type":"uint256"}],"outputs":[{"name":"equivalent","type":"bool"}]}
]`

const configStoreABI = `[
	{"name":"spokeTargetBalance","type":"function","stateMutability":"view","inputs":[{"name":"token","type":"address"},{"name":"chainId","type":"uint256"},{"name":"blockNumber","type":"uint256"}],"outputs":[{"name":"target","type":"uint256"}]}
]`

const bundleDataABI = `[
	{"name":"pendingRefunds","type":"function","stateMutability":"view","inputs":[{"name":"l1Token","type":"address"},{"name":"chainId","type":"uint256"}],"outputs":[{"name":"amount","type":"uint256"}]},
	{"name":"nextBundleRefunds","type":"function","stateMutability":"view","inputs":[{"name":"l1Token","type":"address"},{"name":"chainId","type":"uint256"}],"outputs":[{"name":"amount","type":"uint256"}]},
	{"name":"upcomingDepositAmount","type":"function","stateMutability":"view","inputs":[{"name":"l1Token","type":"address"},{"name":"chainId","type":"uint256"}],"outputs":[{"name":"amount","type":"uint256"}]}
]`

// RPCHubPoolClient implements HubPoolClient, ConfigStoreClient, and BundleDataClient
// by calling view functions on the hub pool, config store, and bundle data contracts
// over a ContractCaller. One struct satisfies all three narrow interfaces so callers
// wiring a single live chain only construct one value.
type RPCHubPoolClient struct {
	caller ContractCaller

	hubPool     common.Address
	configStore common.Address
	bundleData  common.Address

	hubPoolABI     gethabi.ABI
	configStoreABI gethabi.ABI
	bundleDataABI  gethabi.ABI
}

func NewRPCHubPoolClient(caller ContractCaller, hubPool, configStore, bundleData common.Address) (*RPCHubPoolClient, error) {
	if caller == nil {
		return nil, fmt.Errorf("hubpoolclient: nil contract caller")
	}
	hp, err := gethabi.JSON(strings.NewReader(hubPoolABI))
	if err != nil {
		return nil, fmt.Errorf("hubpoolclient: parse hub pool abi: %w", err)
	}
	cs, err := gethabi.JSON(strings.NewReader(configStoreABI))
	if err != nil {
		return nil, fmt.Errorf("hubpoolclient: parse config store abi: %w", err)
	}
	bd, err := gethabi.JSON(strings.NewReader(bundleDataABI))
	if err != nil {
		return nil, fmt.Errorf("hubpoolclient: parse bundle data abi: %w", err)
	}
	return &RPCHubPoolClient{
		caller:         caller,
		hubPool:        hubPool,
		configStore:    configStore,
		bundleData:     bundleData,
		hubPoolABI:     hp,
		configStoreABI: cs,
		bundleDataABI:  bd,
	}, nil
}

func (c *RPCHubPoolClient) call(ctx context.Context, to common.Address, abi gethabi.ABI, method string, out interface{}, args ...interface{}) error {
	data, err := abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("hubpoolclient: encode %s: %w", method, err)
	}
	raw, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("hubpoolclient: call %s: %w", method, err)
	}
	if out == nil {
		return nil
	}
	return abi.UnpackIntoInterface(out, method, raw)
}

func toCommon(a chainaddr.Address) common.Address {
	return common.HexToAddress(a.Native())
}

func chainIDArg(chain tokenreg.ChainID) *big.Int {
	return new(big.Int).SetUint64(uint64(chain))
}

func (c *RPCHubPoolClient) GetTokenInfoForAddress(ctx context.Context, token chainaddr.Address, chain tokenreg.ChainID) (TokenInfo, error) {
	var out struct {
		Symbol   string
		Decimals uint8
		L1Token  common.Address
	}
	if err := c.call(ctx, c.hubPool, c.hubPoolABI, "l2TokenToInfo", &out, toCommon(token), chainIDArg(chain)); err != nil {
		return TokenInfo{}, err
	}
	l1, err := chainaddr.ParseEvmHex(out.L1Token.Hex())
	if err != nil {
		return TokenInfo{}, fmt.Errorf("hubpoolclient: parse l1 token: %w", err)
	}
	return TokenInfo{Symbol: tokenreg.TokenSymbol(out.Symbol), Decimals: out.Decimals, Address: l1}, nil
}

func (c *RPCHubPoolClient) L2TokenHasPoolRebalanceRoute(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (bool, error) {
	var l2Token common.Address
	if err := c.call(ctx, c.hubPool, c.hubPoolABI, "poolRebalanceRoute", &l2Token, toCommon(l1Token), chainIDArg(chain)); err != nil {
		return false, err
	}
	return l2Token != (common.Address{}), nil
}

func (c *RPCHubPoolClient) L2TokenEnabledForL1Token(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (bool, error) {
	var enabled bool
	err := c.call(ctx, c.hubPool, c.hubPoolABI, "l2TokenEnabled", &enabled, toCommon(l1Token), chainIDArg(chain))
	return enabled, err
}

func (c *RPCHubPoolClient) GetRunningBalanceBeforeBlockForChain(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID, block uint64) (*big.Int, error) {
	var balance *big.Int
	err := c.call(ctx, c.hubPool, c.hubPoolABI, "runningBalanceBeforeBlock", &balance, toCommon(l1Token), chainIDArg(chain), new(big.Int).SetUint64(block))
	return balance, err
}

func (c *RPCHubPoolClient) GetLatestExecutedRootBundleContainingL1Token(ctx context.Context, l1Token chainaddr.Address) (RootBundle, error) {
	var out struct {
		ChainIds  []*big.Int
		EndBlocks []*big.Int
	}
	if err := c.call(ctx, c.hubPool, c.hubPoolABI, "latestExecutedRootBundle", &out, toCommon(l1Token)); err != nil {
		return RootBundle{}, err
	}
	bundle := RootBundle{EndBlockForChain: make(map[tokenreg.ChainID]uint64, len(out.ChainIds))}
	for i, chainID := range out.ChainIds {
		if i >= len(out.EndBlocks) {
			break
		}
		bundle.EndBlockForChain[tokenreg.ChainID(chainID.Uint64())] = out.EndBlocks[i].Uint64()
	}
	return bundle, nil
}

func (c *RPCHubPoolClient) AreTokensEquivalent(ctx context.Context, a, b chainaddr.Address, chain tokenreg.ChainID) (bool, error) {
	if a.Eq(b) {
		return true, nil
	}
	var equivalent bool
	err := c.call(ctx, c.hubPool, c.hubPoolABI, "tokensEquivalent", &equivalent, toCommon(a), toCommon(b), chainIDArg(chain))
	return equivalent, err
}

func (c *RPCHubPoolClient) GetSpokeTargetBalancesForBlock(ctx context.Context, token chainaddr.Address, chain tokenreg.ChainID, block uint64) (*big.Int, error) {
	var target *big.Int
	err := c.call(ctx, c.configStore, c.configStoreABI, "spokeTargetBalance", &target, toCommon(token), chainIDArg(chain), new(big.Int).SetUint64(block))
	return target, err
}

func (c *RPCHubPoolClient) GetPendingRefundsFromValidBundles(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error) {
	var amount *big.Int
	err := c.call(ctx, c.bundleData, c.bundleDataABI, "pendingRefunds", &amount, toCommon(l1Token), chainIDArg(chain))
	return amount, err
}

func (c *RPCHubPoolClient) GetNextBundleRefunds(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error) {
	var amount *big.Int
	err := c.call(ctx, c.bundleData, c.bundleDataABI, "nextBundleRefunds", &amount, toCommon(l1Token), chainIDArg(chain))
	return amount, err
}

func (c *RPCHubPoolClient) GetTotalRefund(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error) {
	pending, err := c.GetPendingRefundsFromValidBundles(ctx, l1Token, chain)
	if err != nil {
		return nil, err
	}
	next, err := c.GetNextBundleRefunds(ctx, l1Token, chain)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(pending, next), nil
}

func (c *RPCHubPoolClient) GetUpcomingDepositAmount(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error) {
	var amount *big.Int
	err := c.call(ctx, c.bundleData, c.bundleDataABI, "upcomingDepositAmount", &amount, toCommon(l1Token), chainIDArg(chain))
	return amount, err
}
