package ethgassim

import (
	"context"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/xrelayer/relayer-core/internal/deposit"
)

type fakeBackend struct {
	gasUsed  uint64
	gasPrice *big.Int
	err      error
}

func (f *fakeBackend) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	return f.gasUsed, f.err
}

func (f *fakeBackend) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

type fakeCalldata struct{}

func (fakeCalldata) BuildFillCalldata(_ deposit.Deposit, _ common.Address) ([]byte, error) {
	return []byte{0xde, 0xad, 0xbe, 0xef}, nil
}

func TestSimulateFill_ComputesNativeAndTokenCost(t *testing.T) {
	spoke := common.HexToAddress("0x1111111111111111111111111111111111111111")
	sim, err := New(
		map[uint64]Backend{10: &fakeBackend{gasUsed: 100000, gasPrice: big.NewInt(1_000_000_000)}},
		map[uint64]common.Address{10: spoke},
		fakeCalldata{},
		IdentityConverter{},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := sim.SimulateFill(context.Background(), deposit.Deposit{Destination: 10}, "0x2222222222222222222222222222222222222222")
	if err != nil {
		t.Fatalf("SimulateFill: %v", err)
	}
	if got.NativeGasCost.Cmp(big.NewInt(100000)) != 0 {
		t.Fatalf("native gas cost: got %s", got.NativeGasCost)
	}
	want := new(big.Int).Mul(big.NewInt(100000), big.NewInt(1_000_000_000))
	if got.TokenGasCost.Cmp(want) != 0 {
		t.Fatalf("token gas cost: got %s want %s", got.TokenGasCost, want)
	}
}

func TestSimulateFill_UnknownChainErrors(t *testing.T) {
	sim, err := New(
		map[uint64]Backend{10: &fakeBackend{}},
		map[uint64]common.Address{10: common.Address{}},
		fakeCalldata{},
		IdentityConverter{},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := sim.SimulateFill(context.Background(), deposit.Deposit{Destination: 999}, "0xrelayer"); err == nil {
		t.Fatalf("expected error for unconfigured chain")
	}
}
