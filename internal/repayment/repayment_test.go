package repayment

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/xrelayer/relayer-core/internal/balanceclients"
	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/deposit"
	"github.com/xrelayer/relayer-core/internal/hubpoolclient"
	"github.com/xrelayer/relayer-core/internal/inventory"
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

type harness struct {
	hub         *hubpoolclient.StaticHubPoolClient
	configStore *hubpoolclient.StaticConfigStoreClient
	bundleData  *hubpoolclient.StaticBundleDataClient
	registry    *tokenreg.Registry
	tokens      *tokenconfig.Registry
	hubAddr     chainaddr.Address
	originAddr  chainaddr.Address
	destAddr    chainaddr.Address
}

func setup(t *testing.T, inventoryManagementEnabled bool) (*Selector, *harness) {
	t.Helper()
	hubAddr := mustEvm(t, "0x1111111111111111111111111111111111111111")
	originAddr := mustEvm(t, "0x2222222222222222222222222222222222222222")
	destAddr := mustEvm(t, "0x3333333333333333333333333333333333333333")
	relayer := mustEvm(t, "0x9999999999999999999999999999999999999999")

	registry := tokenreg.NewRegistry()
	registry.AddSymbol("USDC", 6, map[tokenreg.ChainID]chainaddr.Address{
		1:  hubAddr,
		10: originAddr,
		20: destAddr,
	})

	tokens := tokenconfig.NewRegistry()
	tokens.Entries[hubAddr.Native()] = tokenconfig.L1Entry{
		Direct: tokenconfig.ChainMap{
			10: {TargetPct: big.NewInt(1_000000000000000000)},
			20: {TargetPct: big.NewInt(1_000000000000000000)},
		},
	}

	hub := hubpoolclient.NewStaticHubPoolClient()
	configStore := hubpoolclient.NewStaticConfigStoreClient()
	bundleData := hubpoolclient.NewStaticBundleDataClient()

	balances := balanceclients.NewStaticBalanceClient()
	transfers := balanceclients.NewStaticTransferClient()
	accountant, err := inventory.New(inventory.Config{HubChain: 1, Relayer: relayer}, registry, tokens, balances, transfers, nil)
	if err != nil {
		t.Fatalf("inventory.New: %v", err)
	}

	sel, err := New(Config{
		HubChain:                   1,
		InventoryManagementEnabled: inventoryManagementEnabled,
	}, hub, configStore, bundleData, accountant, tokens, registry, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sel, &harness{hub: hub, configStore: configStore, bundleData: bundleData, registry: registry, tokens: tokens, hubAddr: hubAddr, originAddr: originAddr, destAddr: destAddr}
}

func baseDeposit(h *harness) deposit.Deposit {
	return deposit.Deposit{
		DepositID:    big.NewInt(1),
		Origin:       10,
		Destination:  20,
		InputToken:   h.originAddr,
		InputAmount:  big.NewInt(1000),
		OutputToken:  h.destAddr,
		OutputAmount: big.NewInt(990),
		Depositor:    mustEvmAddr(h.originAddr),
		Recipient:    mustEvmAddr(h.destAddr),
	}
}

func mustEvmAddr(a chainaddr.Address) chainaddr.Address { return a }

func TestSelectRepaymentChains_InvalidOutputToken_ReturnsEmpty(t *testing.T) {
	sel, h := setup(t, true)
	d := baseDeposit(h)
	d.OutputToken = mustEvm(t, "0x9999999999999999999999999999999999999998") // unregistered
	chains, err := sel.SelectRepaymentChains(context.Background(), d)
	if err != nil {
		t.Fatalf("SelectRepaymentChains: %v", err)
	}
	if len(chains) != 0 {
		t.Fatalf("expected empty result for unclassifiable output token, got %v", chains)
	}
}

func TestSelectRepaymentChains_InventoryManagementDisabled_DestinationValid(t *testing.T) {
	sel, h := setup(t, false)
	h.hub.SetEnabled(h.hubAddr, 20, true)
	d := baseDeposit(h)

	chains, err := sel.SelectRepaymentChains(context.Background(), d)
	if err != nil {
		t.Fatalf("SelectRepaymentChains: %v", err)
	}
	if len(chains) != 1 || chains[0] != 20 {
		t.Fatalf("got %v want [20]", chains)
	}
}

func TestSelectRepaymentChains_InventoryManagementDisabled_DestinationInvalid(t *testing.T) {
	sel, h := setup(t, false)
	// L2TokenEnabledForL1Token left unset -> false.
	d := baseDeposit(h)

	chains, err := sel.SelectRepaymentChains(context.Background(), d)
	if err != nil {
		t.Fatalf("SelectRepaymentChains: %v", err)
	}
	if len(chains) != 1 || chains[0] != 10 {
		t.Fatalf("got %v want [10]", chains)
	}
}

func TestSelectRepaymentChains_EquivalenceViolation_ReturnsError(t *testing.T) {
	sel, h := setup(t, true)
	d := baseDeposit(h)
	// Neither AreTokensEquivalent nor L2TokenHasPoolRebalanceRoute configured true.
	_, err := sel.SelectRepaymentChains(context.Background(), d)
	if !errors.Is(err, ErrInvalidRoute) {
		t.Fatalf("expected ErrInvalidRoute, got %v", err)
	}
}

func TestSelectRepaymentChains_ForcedOriginOnFastRebalanceChain(t *testing.T) {
	sel, h := setup(t, true)
	sel.cfg.FastRebalanceChains = map[tokenreg.ChainID]bool{10: true}
	h.hub.SetEquivalent(h.originAddr, h.destAddr, true)

	d := baseDeposit(h)
	d.FromLiteChain = true

	chains, err := sel.SelectRepaymentChains(context.Background(), d)
	if err != nil {
		t.Fatalf("SelectRepaymentChains: %v", err)
	}
	if len(chains) != 1 || chains[0] != 10 {
		t.Fatalf("got %v want [10]", chains)
	}
}

func TestSelectRepaymentChains_HappyPath_IncludesDestinationOriginAndHubFallback(t *testing.T) {
	sel, h := setup(t, true)
	h.hub.SetEquivalent(h.originAddr, h.destAddr, true)
	h.hub.SetEnabled(h.hubAddr, 20, true)

	d := baseDeposit(h)

	chains, err := sel.SelectRepaymentChains(context.Background(), d)
	if err != nil {
		t.Fatalf("SelectRepaymentChains: %v", err)
	}
	want := map[tokenreg.ChainID]bool{20: true, 10: true, 1: true}
	if len(chains) != len(want) {
		t.Fatalf("got %v want members of %v", chains, want)
	}
	for _, c := range chains {
		if !want[c] {
			t.Fatalf("unexpected chain %d in %v", c, chains)
		}
	}
}

func TestSelectRepaymentChains_ResetTick_ClearsMemoization(t *testing.T) {
	sel, h := setup(t, true)
	h.hub.SetEquivalent(h.originAddr, h.destAddr, true)
	h.hub.SetEnabled(h.hubAddr, 20, true)
	d := baseDeposit(h)

	if _, err := sel.SelectRepaymentChains(context.Background(), d); err != nil {
		t.Fatalf("SelectRepaymentChains: %v", err)
	}
	sel.ResetTick()
	if _, err := sel.SelectRepaymentChains(context.Background(), d); err != nil {
		t.Fatalf("SelectRepaymentChains after reset: %v", err)
	}
}
