package pricecache

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

type fakeFeed struct {
	name   string
	prices map[string]*big.Int
	err    error
}

func (f *fakeFeed) Name() string { return f.name }

func (f *fakeFeed) GetPricesByAddress(_ context.Context, addrs []string) (map[string]*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*big.Int)
	for _, a := range addrs {
		if p, ok := f.prices[a]; ok {
			out[a] = p
		}
	}
	return out, nil
}

func registryWithUSDC(t *testing.T) (*tokenreg.Registry, chainaddr.Address) {
	t.Helper()
	addr, err := chainaddr.ParseEvmHex("0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("ParseEvmHex: %v", err)
	}
	reg := tokenreg.NewRegistry()
	reg.AddSymbol("USDC", 6, map[tokenreg.ChainID]chainaddr.Address{1: addr})
	return reg, addr
}

func TestUpdate_FirstFeedWins(t *testing.T) {
	reg, addr := registryWithUSDC(t)
	primary := &fakeFeed{name: "primary", prices: map[string]*big.Int{addr.Native(): big.NewInt(1_000000000000000000)}}
	secondary := &fakeFeed{name: "secondary", prices: map[string]*big.Int{addr.Native(): big.NewInt(2_000000000000000000)}}

	c, err := New(Config{Feeds: []Feed{primary, secondary}, HubChain: 1}, reg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Update(context.Background(), []string{addr.Native()}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got := c.GetPrice("USDC")
	if got.Cmp(big.NewInt(1_000000000000000000)) != 0 {
		t.Fatalf("expected primary feed's price to win, got %s", got)
	}
}

func TestUpdate_FallsBackOnFeedFailure(t *testing.T) {
	reg, addr := registryWithUSDC(t)
	primary := &fakeFeed{name: "primary", err: errors.New("boom")}
	secondary := &fakeFeed{name: "secondary", prices: map[string]*big.Int{addr.Native(): big.NewInt(1_500000000000000000)}}

	c, err := New(Config{Feeds: []Feed{primary, secondary}, HubChain: 1}, reg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Update(context.Background(), []string{addr.Native()}); err == nil {
		t.Fatalf("expected Update to surface the first feed's error")
	}
	got := c.GetPrice("USDC")
	if got.Cmp(big.NewInt(1_500000000000000000)) != 0 {
		t.Fatalf("expected fallback feed's price, got %s", got)
	}
}

func TestUpdate_KeepsStaleOnTotalFailure(t *testing.T) {
	reg, addr := registryWithUSDC(t)
	feed := &fakeFeed{name: "only", prices: map[string]*big.Int{addr.Native(): big.NewInt(1_000000000000000000)}}

	c, err := New(Config{Feeds: []Feed{feed}, HubChain: 1}, reg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Update(context.Background(), []string{addr.Native()}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	feed.prices = nil
	feed.err = errors.New("outage")
	if err := c.Update(context.Background(), []string{addr.Native()}); err == nil {
		t.Fatalf("expected error from failed update")
	}

	got := c.GetPrice("USDC")
	if got.Cmp(big.NewInt(1_000000000000000000)) != 0 {
		t.Fatalf("expected stale price preserved, got %s", got)
	}
}

func TestGetPrice_UnknownReturnsZero(t *testing.T) {
	reg, _ := registryWithUSDC(t)
	c, err := New(Config{Feeds: []Feed{&fakeFeed{name: "f"}}, HubChain: 1}, reg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.GetPrice("NOPE")
	if got.Sign() != 0 {
		t.Fatalf("expected 0 for unknown token, got %s", got)
	}
}

func TestNew_RequiresFeed(t *testing.T) {
	reg, _ := registryWithUSDC(t)
	if _, err := New(Config{}, reg, nil); err == nil {
		t.Fatalf("expected error with no feeds configured")
	}
}
