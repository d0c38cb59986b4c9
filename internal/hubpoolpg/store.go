// Package hubpoolpg caches validated root bundles and per-chain running balances in
// Postgres, so the repayment selector's running-balance and latest-bundle reads don't
// have to replay hub-chain history on every call.
package hubpoolpg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/hubpoolclient"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

var ErrInvalidConfig = errors.New("hubpoolpg: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("hubpoolpg: ensure schema: %w", err)
	}
	return nil
}

// RecordRunningBalance caches the hub pool's running balance for l1Token on chain as
// of block.
func (s *Store) RecordRunningBalance(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID, block uint64, balance *big.Int) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO running_balances (l1_token, chain_id, block, balance)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (l1_token, chain_id, block) DO UPDATE
		SET balance = EXCLUDED.balance, recorded_at = now()
	`, l1Token.Native(), int64(chain), int64(block), balance.String())
	if err != nil {
		return fmt.Errorf("hubpoolpg: record running balance: %w", err)
	}
	return nil
}

// GetRunningBalanceBeforeBlockForChain implements hubpoolclient.HubPoolClient: it
// returns the most recently cached running balance at or before block, or zero if
// none is cached yet.
func (s *Store) GetRunningBalanceBeforeBlockForChain(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID, block uint64) (*big.Int, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	var raw string
	err := s.pool.QueryRow(ctx, `
		SELECT balance FROM running_balances
		WHERE l1_token = $1 AND chain_id = $2 AND block <= $3
		ORDER BY block DESC
		LIMIT 1
	`, l1Token.Native(), int64(chain), int64(block)).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("hubpoolpg: get running balance: %w", err)
	}
	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("hubpoolpg: corrupt running balance %q", raw)
	}
	return balance, nil
}

// RecordRootBundle appends a newly executed root bundle's end-block checkpoints for
// l1Token to the cache.
func (s *Store) RecordRootBundle(ctx context.Context, l1Token chainaddr.Address, bundle hubpoolclient.RootBundle) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	encoded, err := json.Marshal(bundle.EndBlockForChain)
	if err != nil {
		return fmt.Errorf("hubpoolpg: encode end-block map: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO root_bundles (l1_token, end_block_for_chain) VALUES ($1,$2)
	`, l1Token.Native(), encoded)
	if err != nil {
		return fmt.Errorf("hubpoolpg: record root bundle: %w", err)
	}
	return nil
}

// GetLatestExecutedRootBundleContainingL1Token implements hubpoolclient.HubPoolClient:
// it returns the most recently recorded bundle for l1Token, or a zero-value bundle if
// none has ever been recorded.
func (s *Store) GetLatestExecutedRootBundleContainingL1Token(ctx context.Context, l1Token chainaddr.Address) (hubpoolclient.RootBundle, error) {
	if s == nil || s.pool == nil {
		return hubpoolclient.RootBundle{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	var encoded []byte
	err := s.pool.QueryRow(ctx, `
		SELECT end_block_for_chain FROM root_bundles
		WHERE l1_token = $1
		ORDER BY id DESC
		LIMIT 1
	`, l1Token.Native()).Scan(&encoded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return hubpoolclient.RootBundle{}, nil
		}
		return hubpoolclient.RootBundle{}, fmt.Errorf("hubpoolpg: get latest root bundle: %w", err)
	}
	var endBlocks map[tokenreg.ChainID]uint64
	if err := json.Unmarshal(encoded, &endBlocks); err != nil {
		return hubpoolclient.RootBundle{}, fmt.Errorf("hubpoolpg: decode end-block map: %w", err)
	}
	return hubpoolclient.RootBundle{EndBlockForChain: endBlocks}, nil
}

// CachedHubPoolClient implements hubpoolclient.HubPoolClient by serving
// GetRunningBalanceBeforeBlockForChain and GetLatestExecutedRootBundleContainingL1Token
// from the Postgres cache (writing through on every RPC-sourced read), and delegating
// every other method straight to the underlying client.
type CachedHubPoolClient struct {
	underlying hubpoolclient.HubPoolClient
	store      *Store
}

func NewCachedHubPoolClient(underlying hubpoolclient.HubPoolClient, store *Store) (*CachedHubPoolClient, error) {
	if underlying == nil {
		return nil, fmt.Errorf("%w: nil underlying client", ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	return &CachedHubPoolClient{underlying: underlying, store: store}, nil
}

func (c *CachedHubPoolClient) GetTokenInfoForAddress(ctx context.Context, token chainaddr.Address, chain tokenreg.ChainID) (hubpoolclient.TokenInfo, error) {
	return c.underlying.GetTokenInfoForAddress(ctx, token, chain)
}

func (c *CachedHubPoolClient) L2TokenHasPoolRebalanceRoute(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (bool, error) {
	return c.underlying.L2TokenHasPoolRebalanceRoute(ctx, l1Token, chain)
}

func (c *CachedHubPoolClient) L2TokenEnabledForL1Token(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID) (bool, error) {
	return c.underlying.L2TokenEnabledForL1Token(ctx, l1Token, chain)
}

func (c *CachedHubPoolClient) AreTokensEquivalent(ctx context.Context, a, b chainaddr.Address, chain tokenreg.ChainID) (bool, error) {
	return c.underlying.AreTokensEquivalent(ctx, a, b, chain)
}

func (c *CachedHubPoolClient) GetRunningBalanceBeforeBlockForChain(ctx context.Context, l1Token chainaddr.Address, chain tokenreg.ChainID, block uint64) (*big.Int, error) {
	cached, err := c.store.GetRunningBalanceBeforeBlockForChain(ctx, l1Token, chain, block)
	if err == nil && cached.Sign() > 0 {
		return cached, nil
	}
	fresh, err := c.underlying.GetRunningBalanceBeforeBlockForChain(ctx, l1Token, chain, block)
	if err != nil {
		return nil, err
	}
	if err := c.store.RecordRunningBalance(ctx, l1Token, chain, block, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (c *CachedHubPoolClient) GetLatestExecutedRootBundleContainingL1Token(ctx context.Context, l1Token chainaddr.Address) (hubpoolclient.RootBundle, error) {
	cached, err := c.store.GetLatestExecutedRootBundleContainingL1Token(ctx, l1Token)
	if err == nil && len(cached.EndBlockForChain) > 0 {
		return cached, nil
	}
	fresh, err := c.underlying.GetLatestExecutedRootBundleContainingL1Token(ctx, l1Token)
	if err != nil {
		return hubpoolclient.RootBundle{}, err
	}
	if err := c.store.RecordRootBundle(ctx, l1Token, fresh); err != nil {
		return hubpoolclient.RootBundle{}, err
	}
	return fresh, nil
}
