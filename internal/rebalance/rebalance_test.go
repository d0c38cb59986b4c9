package rebalance

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/xrelayer/relayer-core/internal/balanceclients"
	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/inventory"
	"github.com/xrelayer/relayer-core/internal/leases"
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

type fakeAdapters struct {
	mu          sync.Mutex
	sent        []Action
	pendingL2   map[string]*big.Int
}

func newFakeAdapters() *fakeAdapters {
	return &fakeAdapters{pendingL2: make(map[string]*big.Int)}
}

func (f *fakeAdapters) SendTokenCrossChain(_ context.Context, l1Token chainaddr.Address, origin, destination tokenreg.ChainID, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, Action{Kind: ActionSendCrossChain, L1Token: l1Token.Native(), Origin: origin, Chain: destination, Amount: amount})
	return nil
}

func (f *fakeAdapters) WithdrawTokenFromL2(_ context.Context, l2Token chainaddr.Address, chain tokenreg.ChainID, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, Action{Kind: ActionWithdrawFromL2, L1Token: l2Token.Native(), Chain: chain, Amount: amount})
	return nil
}

func (f *fakeAdapters) GetL2PendingWithdrawalAmount(_ context.Context, l2Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.pendingL2[l2Token.Native()]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeAdapters) WrapNativeToken(_ context.Context, chain tokenreg.ChainID, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, Action{Kind: ActionWrapNative, Chain: chain, Amount: amount})
	return nil
}

func (f *fakeAdapters) UnwrapWrappedNativeToken(_ context.Context, chain tokenreg.ChainID, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, Action{Kind: ActionUnwrapNative, Chain: chain, Amount: amount})
	return nil
}

func (f *fakeAdapters) SetL1TokenApprovals(_ context.Context, l1Token chainaddr.Address, spenders []chainaddr.Address) error {
	return nil
}

type fixture struct {
	planner  *Planner
	adapters *fakeAdapters
	balances *balanceclients.StaticBalanceClient
	tokens   *tokenconfig.Registry
	hubAddr  chainaddr.Address
	spokeAddr chainaddr.Address
}

func setup(t *testing.T) *fixture {
	t.Helper()
	hubAddr := mustEvm(t, "0x1111111111111111111111111111111111111111")
	spokeAddr := mustEvm(t, "0x2222222222222222222222222222222222222222")
	relayer := mustEvm(t, "0x9999999999999999999999999999999999999999")

	registry := tokenreg.NewRegistry()
	registry.AddSymbol("USDC", 6, map[tokenreg.ChainID]chainaddr.Address{
		1:  hubAddr,
		10: spokeAddr,
	})

	tokens := tokenconfig.NewRegistry()
	tokens.Entries[hubAddr.Native()] = tokenconfig.L1Entry{
		Direct: tokenconfig.ChainMap{
			1:  {TargetPct: big.NewInt(0)},
			10: {TargetPct: big.NewInt(1_000000000000000000), ThresholdPct: big.NewInt(500000000000000000)},
		},
	}

	balances := balanceclients.NewStaticBalanceClient()
	transfers := balanceclients.NewStaticTransferClient()
	accountant, err := inventory.New(inventory.Config{HubChain: 1, Relayer: relayer}, registry, tokens, balances, transfers, nil)
	if err != nil {
		t.Fatalf("inventory.New: %v", err)
	}

	adapters := newFakeAdapters()
	leaseStore := leases.NewMemoryStore(nil)

	p, err := New(Config{HubChain: 1}, accountant, tokens, registry, adapters, leaseStore, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{planner: p, adapters: adapters, balances: balances, tokens: tokens, hubAddr: hubAddr, spokeAddr: spokeAddr}
}

func TestPlanL1ToL2Rebalances_PushesUnderfundedChain(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	// Seed hub balance generously and leave the spoke chain empty so it is
	// underfunded relative to its 100% target.
	fx.balances.SetBalance(1, fx.hubAddr, big.NewInt(1_000_000))

	actions, err := fx.planner.PlanL1ToL2Rebalances(ctx)
	if err != nil {
		t.Fatalf("PlanL1ToL2Rebalances: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("got %d actions, want 1: %+v", len(actions), actions)
	}
	if actions[0].Chain != 10 || actions[0].Kind != ActionSendCrossChain {
		t.Fatalf("unexpected action %+v", actions[0])
	}
}

func TestPlanExcessWithdrawals_RateLimitsRepeatCalls(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	// Flip target low and threshold low so the spoke chain is always "in excess".
	fx.tokens.Entries[fx.hubAddr.Native()].Direct[10] = tokenconfig.TokenBalanceConfig{
		TargetPct:            big.NewInt(0),
		ThresholdPct:         big.NewInt(0),
		WithdrawExcessPeriod: 3600,
	}
	fx.balances.SetBalance(10, fx.spokeAddr, big.NewInt(1_000_000))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := fx.planner.PlanExcessWithdrawals(ctx, now)
	if err != nil {
		t.Fatalf("PlanExcessWithdrawals: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected one withdrawal action, got %v", first)
	}

	second, err := fx.planner.PlanExcessWithdrawals(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("PlanExcessWithdrawals: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected rate limit to suppress repeat withdrawal, got %v", second)
	}
}

func TestExecute_AcquiresPerTokenLease(t *testing.T) {
	fx := setup(t)
	ctx := context.Background()

	actions := []Action{{Kind: ActionWrapNative, L1Token: fx.hubAddr.Native(), Chain: 10, Amount: big.NewInt(5)}}
	if err := fx.planner.Execute(ctx, "relayer-a", actions); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(fx.adapters.sent) != 1 {
		t.Fatalf("expected action to be submitted, got %v", fx.adapters.sent)
	}
}
