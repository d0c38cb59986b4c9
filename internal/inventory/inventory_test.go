package inventory

import (
	"context"
	"math/big"
	"testing"

	"github.com/xrelayer/relayer-core/internal/balanceclients"
	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/tokenconfig"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

func mustEvm(t *testing.T, s string) chainaddr.Address {
	t.Helper()
	addr, err := chainaddr.ParseEvmHex(s)
	if err != nil {
		t.Fatalf("ParseEvmHex: %v", err)
	}
	return addr
}

func setup(t *testing.T) (*Accountant, *balanceclients.StaticBalanceClient, chainaddr.Address, chainaddr.Address) {
	t.Helper()
	hubAddr := mustEvm(t, "0x1111111111111111111111111111111111111111")
	spokeAddr := mustEvm(t, "0x2222222222222222222222222222222222222222")
	relayer := mustEvm(t, "0x9999999999999999999999999999999999999999")

	reg := tokenreg.NewRegistry()
	reg.AddSymbol("USDC", 6, map[tokenreg.ChainID]chainaddr.Address{
		1:  hubAddr,
		10: spokeAddr,
	})

	tc := tokenconfig.NewRegistry()
	tc.Entries[hubAddr.Native()] = tokenconfig.L1Entry{
		Direct: tokenconfig.ChainMap{
			1:  {TargetPct: big.NewInt(0)},
			10: {TargetPct: big.NewInt(0)},
		},
	}

	balances := balanceclients.NewStaticBalanceClient()
	transfers := balanceclients.NewStaticTransferClient()

	acct, err := New(Config{HubChain: 1, Relayer: relayer}, reg, tc, balances, transfers, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return acct, balances, hubAddr, spokeAddr
}

func TestEffectiveBalance_SumsOnChainAndPending(t *testing.T) {
	acct, balances, hubAddr, spokeAddr := setup(t)
	balances.SetBalance(10, spokeAddr, big.NewInt(1000))

	got, err := acct.EffectiveBalance(context.Background(), "USDC", 10, chainaddr.Address{})
	if err != nil {
		t.Fatalf("EffectiveBalance: %v", err)
	}
	if got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("got %s want 1000", got)
	}
	_ = hubAddr
}

func TestCumulativeBalance_SumsAcrossEnabledChains(t *testing.T) {
	acct, balances, hubAddr, spokeAddr := setup(t)
	balances.SetBalance(1, hubAddr, big.NewInt(500))
	balances.SetBalance(10, spokeAddr, big.NewInt(1000))

	got, err := acct.CumulativeBalance(context.Background(), "USDC")
	if err != nil {
		t.Fatalf("CumulativeBalance: %v", err)
	}
	if got.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("got %s want 1500", got)
	}
}

func TestCurrentAllocationPct_ZeroCumulativeReturnsZero(t *testing.T) {
	acct, _, _, _ := setup(t)
	got, err := acct.CurrentAllocationPct(context.Background(), "USDC", 10, chainaddr.Address{})
	if err != nil {
		t.Fatalf("CurrentAllocationPct: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("expected 0 for zero cumulative balance, got %s", got)
	}
}

func TestEffectiveBalance_ConvertsSpokeDecimalsToHubDecimals(t *testing.T) {
	hubAddr := mustEvm(t, "0x1111111111111111111111111111111111111111")
	spokeAddr := mustEvm(t, "0x2222222222222222222222222222222222222222")
	relayer := mustEvm(t, "0x9999999999999999999999999999999999999999")

	reg := tokenreg.NewRegistry()
	// USDC has 6 decimals on the hub but is bridged with 18 decimals on chain 10.
	reg.AddSymbolWithChainDecimals("USDC", 6, map[tokenreg.ChainID]chainaddr.Address{
		1:  hubAddr,
		10: spokeAddr,
	}, map[tokenreg.ChainID]uint8{10: 18})

	tc := tokenconfig.NewRegistry()
	tc.Entries[hubAddr.Native()] = tokenconfig.L1Entry{
		Direct: tokenconfig.ChainMap{
			1:  {TargetPct: big.NewInt(0)},
			10: {TargetPct: big.NewInt(0)},
		},
	}

	balances := balanceclients.NewStaticBalanceClient()
	transfers := balanceclients.NewStaticTransferClient()
	acct, err := New(Config{HubChain: 1, Relayer: relayer}, reg, tc, balances, transfers, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 1 USDC at 18 decimals on the spoke; expect 1 USDC at 6 decimals on the hub.
	balances.SetBalance(10, spokeAddr, big.NewInt(1_000000000000000000))

	got, err := acct.EffectiveBalance(context.Background(), "USDC", 10, chainaddr.Address{})
	if err != nil {
		t.Fatalf("EffectiveBalance: %v", err)
	}
	if got.Cmp(big.NewInt(1_000000)) != 0 {
		t.Fatalf("got %s want 1000000 (6-decimal equivalent)", got)
	}
}

func TestCurrentAllocationPct_Basic(t *testing.T) {
	acct, balances, hubAddr, spokeAddr := setup(t)
	balances.SetBalance(1, hubAddr, big.NewInt(500))
	balances.SetBalance(10, spokeAddr, big.NewInt(500))

	got, err := acct.CurrentAllocationPct(context.Background(), "USDC", 10, chainaddr.Address{})
	if err != nil {
		t.Fatalf("CurrentAllocationPct: %v", err)
	}
	want := new(big.Int).Div(big.NewInt(1_000000000000000000), big.NewInt(2)) // 50%
	if got.Cmp(want) != 0 {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestDistributionSnapshot_SkipsZeroCumulativeTokens(t *testing.T) {
	acct, _, _, _ := setup(t)
	snap, err := acct.DistributionSnapshot(context.Background())
	if err != nil {
		t.Fatalf("DistributionSnapshot: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot for zero-balance token, got %v", snap)
	}
}

func TestDistributionSnapshot_IncludesFundedTokens(t *testing.T) {
	acct, balances, hubAddr, spokeAddr := setup(t)
	balances.SetBalance(1, hubAddr, big.NewInt(500))
	balances.SetBalance(10, spokeAddr, big.NewInt(500))

	snap, err := acct.DistributionSnapshot(context.Background())
	if err != nil {
		t.Fatalf("DistributionSnapshot: %v", err)
	}
	entries, ok := snap[hubAddr.Native()]
	if !ok {
		t.Fatalf("expected entries for hub token")
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 chain entries, got %d", len(entries))
	}
}
