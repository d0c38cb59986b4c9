// Package balanceclients declares the narrow collaborator interfaces the inventory
// manager needs for on-chain balances and cross-chain transfer tracking, plus static
// test doubles.
package balanceclients

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

// TokenBalanceClient reads on-chain balances and fill-commitment shortfalls, and
// mirrors local reservations against them.
type TokenBalanceClient interface {
	GetBalance(ctx context.Context, chain tokenreg.ChainID, token chainaddr.Address) (*big.Int, error)
	GetShortfallTotalRequirement(ctx context.Context, chain tokenreg.ChainID, token chainaddr.Address) (*big.Int, error)
	// DecrementLocalBalance reserves amount against the cached balance for (chain,
	// token) without touching on-chain state, so a single rebalance pass sees its
	// own prior reservations without re-reading the chain.
	DecrementLocalBalance(chain tokenreg.ChainID, token chainaddr.Address, amount *big.Int)
}

// CrossChainTransferStatus mirrors the protocol's CrossChainTransfer.status field.
type CrossChainTransferStatus uint8

const (
	TransferPending CrossChainTransferStatus = iota
	TransferFinalized
)

// CrossChainTransferClient tracks in-flight bridge transfers so the accountant can
// add pending inbound amounts to on-chain balances.
type CrossChainTransferClient interface {
	// GetOutstandingCrossChainTransferAmount sums pending transfers of l1Token
	// (optionally scoped to one l2Token, via the l2Token parameter's IsZero) for
	// relayer inbound to chain.
	GetOutstandingCrossChainTransferAmount(ctx context.Context, relayer chainaddr.Address, chain tokenreg.ChainID, l1Token chainaddr.Address, l2Token chainaddr.Address) (*big.Int, error)
	IncreaseOutstandingTransfer(ctx context.Context, relayer chainaddr.Address, chain tokenreg.ChainID, l1Token chainaddr.Address, l2Token chainaddr.Address, amount *big.Int) error
}

// StaticBalanceClient is a TokenBalanceClient backed by in-memory maps, for tests
// and dry-run tooling.
type StaticBalanceClient struct {
	mu         sync.Mutex
	balances   map[string]*big.Int
	shortfalls map[string]*big.Int
}

func NewStaticBalanceClient() *StaticBalanceClient {
	return &StaticBalanceClient{
		balances:   make(map[string]*big.Int),
		shortfalls: make(map[string]*big.Int),
	}
}

// SetBalance seeds the balance for (chain, token). Intended for test setup.
func (c *StaticBalanceClient) SetBalance(chain tokenreg.ChainID, token chainaddr.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[key(chain, token)] = new(big.Int).Set(amount)
}

func (c *StaticBalanceClient) SetShortfall(chain tokenreg.ChainID, token chainaddr.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shortfalls[key(chain, token)] = new(big.Int).Set(amount)
}

func key(chain tokenreg.ChainID, token chainaddr.Address) string {
	return fmt.Sprintf("%s/%d", token.Native(), chain)
}

func (c *StaticBalanceClient) GetBalance(_ context.Context, chain tokenreg.ChainID, token chainaddr.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.balances[key(chain, token)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (c *StaticBalanceClient) GetShortfallTotalRequirement(_ context.Context, chain tokenreg.ChainID, token chainaddr.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.shortfalls[key(chain, token)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (c *StaticBalanceClient) DecrementLocalBalance(chain tokenreg.ChainID, token chainaddr.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.balances[key(chain, token)]
	if !ok {
		cur = big.NewInt(0)
	}
	c.balances[key(chain, token)] = new(big.Int).Sub(cur, amount)
}

// StaticTransferClient is a CrossChainTransferClient backed by in-memory maps.
type StaticTransferClient struct {
	mu      sync.Mutex
	pending map[string]*big.Int
}

func NewStaticTransferClient() *StaticTransferClient {
	return &StaticTransferClient{pending: make(map[string]*big.Int)}
}

func transferKey(relayer chainaddr.Address, chain tokenreg.ChainID, l1Token, l2Token chainaddr.Address) string {
	l2 := "*"
	if !l2Token.IsZero() {
		l2 = l2Token.Native()
	}
	return relayer.Native() + "/" + key(chain, l1Token) + "/" + l2
}

func (c *StaticTransferClient) SetPending(relayer chainaddr.Address, chain tokenreg.ChainID, l1Token, l2Token chainaddr.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[transferKey(relayer, chain, l1Token, l2Token)] = new(big.Int).Set(amount)
}

func (c *StaticTransferClient) GetOutstandingCrossChainTransferAmount(_ context.Context, relayer chainaddr.Address, chain tokenreg.ChainID, l1Token chainaddr.Address, l2Token chainaddr.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.pending[transferKey(relayer, chain, l1Token, l2Token)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (c *StaticTransferClient) IncreaseOutstandingTransfer(_ context.Context, relayer chainaddr.Address, chain tokenreg.ChainID, l1Token chainaddr.Address, l2Token chainaddr.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := transferKey(relayer, chain, l1Token, l2Token)
	cur, ok := c.pending[k]
	if !ok {
		cur = big.NewInt(0)
	}
	c.pending[k] = new(big.Int).Add(cur, amount)
	return nil
}
