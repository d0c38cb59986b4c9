// Package evmbalance implements balanceclients.TokenBalanceClient against a live EVM
// chain: ERC-20 balanceOf for token balances and a configured shortfall source for
// outstanding fill commitments, with the package's own local-reservation bookkeeping
// layered on top so a single pass never re-reads the chain for its own decrements.
package evmbalance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

var ErrInvalidConfig = errors.New("evmbalance: invalid config")

const erc20BalanceABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// ContractCaller issues read-only contract calls; *ethclient.Client satisfies this.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ShortfallSource reports the outstanding fill-commitment requirement for a token on
// a chain, sourced outside balanceOf (e.g. from the decision engine's own bookkeeping
// of accepted-but-unsettled fills).
type ShortfallSource interface {
	ShortfallTotalRequirement(ctx context.Context, chain tokenreg.ChainID, token chainaddr.Address) (*big.Int, error)
}

// NoShortfall is a ShortfallSource that always reports zero, for deployments that do
// not track fill-commitment shortfalls out of band.
type NoShortfall struct{}

func (NoShortfall) ShortfallTotalRequirement(context.Context, tokenreg.ChainID, chainaddr.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

// Client is a balanceclients.TokenBalanceClient backed by ERC-20 balanceOf calls
// against one ContractCaller per chain, with a shortfall source and an in-memory
// local-reservation ledger layered on top.
type Client struct {
	relayer    common.Address
	callers    map[tokenreg.ChainID]ContractCaller
	shortfalls ShortfallSource
	abi        gethabi.ABI

	mu          sync.Mutex
	reservations map[string]*big.Int
}

// New builds a Client that queries balanceOf(relayer) against the given per-chain
// callers. shortfalls may be nil, in which case NoShortfall is used.
func New(relayer common.Address, callers map[tokenreg.ChainID]ContractCaller, shortfalls ShortfallSource) (*Client, error) {
	if len(callers) == 0 {
		return nil, fmt.Errorf("%w: no contract callers configured", ErrInvalidConfig)
	}
	if shortfalls == nil {
		shortfalls = NoShortfall{}
	}
	parsed, err := gethabi.JSON(strings.NewReader(erc20BalanceABI))
	if err != nil {
		return nil, fmt.Errorf("evmbalance: parse erc20 abi: %w", err)
	}
	return &Client{
		relayer:      relayer,
		callers:      callers,
		shortfalls:   shortfalls,
		abi:          parsed,
		reservations: make(map[string]*big.Int),
	}, nil
}

func key(chain tokenreg.ChainID, token chainaddr.Address) string {
	return fmt.Sprintf("%s/%d", token.Native(), chain)
}

// GetBalance returns balanceOf(relayer) on-chain, minus any amount already reserved
// against this (chain, token) pair by DecrementLocalBalance earlier in this pass.
func (c *Client) GetBalance(ctx context.Context, chain tokenreg.ChainID, token chainaddr.Address) (*big.Int, error) {
	caller, ok := c.callers[chain]
	if !ok {
		return nil, fmt.Errorf("evmbalance: no contract caller configured for chain %d", chain)
	}
	data, err := c.abi.Pack("balanceOf", c.relayer)
	if err != nil {
		return nil, fmt.Errorf("evmbalance: encode balanceOf: %w", err)
	}
	to := toCommon(token)
	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evmbalance: call balanceOf: %w", err)
	}
	var balance *big.Int
	if err := c.abi.UnpackIntoInterface(&balance, "balanceOf", raw); err != nil {
		return nil, fmt.Errorf("evmbalance: decode balanceOf: %w", err)
	}

	c.mu.Lock()
	reserved := c.reservations[key(chain, token)]
	c.mu.Unlock()
	if reserved != nil {
		balance = new(big.Int).Sub(balance, reserved)
	}
	return balance, nil
}

func (c *Client) GetShortfallTotalRequirement(ctx context.Context, chain tokenreg.ChainID, token chainaddr.Address) (*big.Int, error) {
	return c.shortfalls.ShortfallTotalRequirement(ctx, chain, token)
}

// DecrementLocalBalance reserves amount against the cached balance for (chain, token)
// without touching on-chain state, so later GetBalance calls in this pass see the
// reservation without re-querying the chain.
func (c *Client) DecrementLocalBalance(chain tokenreg.ChainID, token chainaddr.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(chain, token)
	cur, ok := c.reservations[k]
	if !ok {
		cur = big.NewInt(0)
	}
	c.reservations[k] = new(big.Int).Add(cur, amount)
}

// ResetReservations clears every local reservation, for starting a fresh rebalance
// pass.
func (c *Client) ResetReservations() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reservations = make(map[string]*big.Int)
}

func toCommon(a chainaddr.Address) common.Address {
	return common.HexToAddress(a.Native())
}
