// Package pricecache maintains a symbol/address to USD-price mapping populated from
// an ordered list of price feeds with fallback.
package pricecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

var ErrInvalidConfig = errors.New("pricecache: invalid config")

// Feed is one price source, consulted in configured order. GetPricesByAddress
// returns a price only for addresses it has a defined value for; callers must not
// assume every requested address is present in the result.
type Feed interface {
	Name() string
	GetPricesByAddress(ctx context.Context, addrs []string) (map[string]*big.Int, error)
}

type Config struct {
	// Feeds are consulted in order; the first feed that yields a defined price for
	// an address wins.
	Feeds []Feed

	// HubChain is the chain whose token address is the canonical identity used to
	// resolve a bare symbol passed to GetPrice.
	HubChain tokenreg.ChainID
}

// Cache is a symbol->address->USD-price map, refreshed on Update and read via
// GetPrice. Reads and writes are safe for concurrent use.
type Cache struct {
	cfg Config
	reg *tokenreg.Registry

	log *slog.Logger

	mu     sync.RWMutex
	prices map[string]*big.Int // keyed by hub-chain address native form
}

func New(cfg Config, reg *tokenreg.Registry, log *slog.Logger) (*Cache, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: nil token registry", ErrInvalidConfig)
	}
	if len(cfg.Feeds) == 0 {
		return nil, fmt.Errorf("%w: at least one price feed is required", ErrInvalidConfig)
	}
	for i, f := range cfg.Feeds {
		if f == nil {
			return nil, fmt.Errorf("%w: nil feed at index %d", ErrInvalidConfig, i)
		}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Cache{
		cfg:    cfg,
		reg:    reg,
		log:    log,
		prices: make(map[string]*big.Int),
	}, nil
}

// Update refreshes prices for the union of hubAddrs. It consults feeds in order:
// the first feed that returns a defined price for an address wins that address. A
// feed error is logged and the next feed is tried; addresses left unresolved after
// all feeds keep their prior cached value (best-effort — a full feed outage never
// wipes the cache). Update reports the first hard error to the caller (so the
// orchestrating tick can decide) even though it kept serving stale data.
func (c *Cache) Update(ctx context.Context, hubAddrs []string) error {
	if c == nil {
		return fmt.Errorf("%w: nil cache", ErrInvalidConfig)
	}
	pending := make(map[string]struct{}, len(hubAddrs))
	for _, a := range hubAddrs {
		pending[a] = struct{}{}
	}

	resolved := make(map[string]*big.Int, len(hubAddrs))
	var firstErr error

	for _, feed := range c.cfg.Feeds {
		if len(pending) == 0 {
			break
		}
		want := make([]string, 0, len(pending))
		for a := range pending {
			want = append(want, a)
		}
		got, err := feed.GetPricesByAddress(ctx, want)
		if err != nil {
			c.log.Warn("pricecache: feed failed, trying next", "feed", feed.Name(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("pricecache: feed %s: %w", feed.Name(), err)
			}
			continue
		}
		for addr, price := range got {
			if price == nil || price.Sign() < 0 {
				continue
			}
			resolved[addr] = price
			delete(pending, addr)
		}
	}

	c.mu.Lock()
	for addr, price := range resolved {
		c.prices[addr] = price
	}
	c.mu.Unlock()

	if len(pending) > 0 {
		stale := make([]string, 0, len(pending))
		for a := range pending {
			stale = append(stale, a)
		}
		c.log.Warn("pricecache: some addresses unresolved after all feeds, keeping stale prices", "addresses", stale)
	}

	return firstErr
}

// GetPrice resolves identifier — a symbol (with TOKEN_EQUIVALENCE_REMAPPING applied
// as fallback) or a hub-chain address native form — to its cached USD price. Unknown
// tokens return zero with a warning, never an error.
func (c *Cache) GetPrice(identifier string) *big.Int {
	if c == nil {
		return big.NewInt(0)
	}
	addr := identifier
	if _, entry, err := c.reg.Resolve(tokenreg.TokenSymbol(identifier)); err == nil {
		if hub, ok := entry.Addresses[c.cfg.HubChain]; ok {
			addr = hub.Native()
		}
	}
	return c.GetPriceByAddress(addr)
}

// GetPriceByAddress resolves a raw hub-chain address native form directly, bypassing
// symbol resolution.
func (c *Cache) GetPriceByAddress(hubAddrNative string) *big.Int {
	c.mu.RLock()
	price, ok := c.prices[hubAddrNative]
	c.mu.RUnlock()
	if !ok {
		c.log.Warn("pricecache: unknown address, returning 0", "address", hubAddrNative)
		return big.NewInt(0)
	}
	return new(big.Int).Set(price)
}
