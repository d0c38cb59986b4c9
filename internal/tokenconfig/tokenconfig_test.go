package tokenconfig

import (
	"math/big"
	"testing"

	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

func pct(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	return v
}

func TestEffectiveOverageBuffer_DefaultsWhenNil(t *testing.T) {
	c := TokenBalanceConfig{TargetPct: pct("100000000000000000")}
	if c.EffectiveOverageBuffer().Cmp(DefaultTargetOverageBuffer) != 0 {
		t.Fatalf("expected default overage buffer")
	}
}

func TestEffectiveOverageBuffer_Override(t *testing.T) {
	custom := pct("2000000000000000000")
	c := TokenBalanceConfig{TargetPct: pct("100000000000000000"), TargetOverageBuffer: custom}
	if c.EffectiveOverageBuffer().Cmp(custom) != 0 {
		t.Fatalf("expected overridden overage buffer")
	}
}

func TestEffectiveTarget(t *testing.T) {
	// 30% target * 1.5 buffer = 45%
	c := TokenBalanceConfig{TargetPct: pct("300000000000000000")}
	got, err := c.EffectiveTarget()
	if err != nil {
		t.Fatalf("EffectiveTarget: %v", err)
	}
	want := pct("450000000000000000")
	if got.Cmp(want) != 0 {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestExcessWithdrawThresholdPct(t *testing.T) {
	// 30% * 1.5 * 0.95 = 42.75%
	c := TokenBalanceConfig{TargetPct: pct("300000000000000000")}
	got, err := c.ExcessWithdrawThresholdPct()
	if err != nil {
		t.Fatalf("ExcessWithdrawThresholdPct: %v", err)
	}
	want := pct("427500000000000000")
	if got.Cmp(want) != 0 {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestConfigFor_DirectMapping(t *testing.T) {
	r := NewRegistry()
	r.Entries["0xL1"] = L1Entry{Direct: ChainMap{1: {TargetPct: pct("100000000000000000")}}}

	cfg, ok := r.ConfigFor("0xL1", 1, "")
	if !ok {
		t.Fatalf("expected direct mapping to be found")
	}
	if cfg.TargetPct.Cmp(pct("100000000000000000")) != 0 {
		t.Fatalf("wrong target pct")
	}
}

func TestConfigFor_AliasMapping(t *testing.T) {
	r := NewRegistry()
	r.Entries["0xL1"] = L1Entry{
		Aliases: AliasMap{
			"0xAlias": ChainMap{10: {TargetPct: pct("200000000000000000")}},
		},
	}

	cfg, ok := r.ConfigFor("0xL1", 10, "0xAlias")
	if !ok {
		t.Fatalf("expected alias mapping to be found")
	}
	if cfg.TargetPct.Cmp(pct("200000000000000000")) != 0 {
		t.Fatalf("wrong target pct")
	}

	if _, ok := r.ConfigFor("0xL1", 10, "0xOtherAlias"); ok {
		t.Fatalf("mismatched alias must be disabled")
	}
}

func TestConfigFor_DisabledWhenNoMapping(t *testing.T) {
	r := NewRegistry()
	r.Entries["0xL1"] = L1Entry{Direct: ChainMap{1: {}}}

	if _, ok := r.ConfigFor("0xL1", 999, ""); ok {
		t.Fatalf("chain with no mapping must be disabled")
	}
	if _, ok := r.ConfigFor("0xUnknown", 1, ""); ok {
		t.Fatalf("unknown l1 token must be disabled")
	}
}

func TestEnabledChains_DedupesAcrossDirectAndAliases(t *testing.T) {
	r := NewRegistry()
	r.Entries["0xL1"] = L1Entry{
		Direct: ChainMap{1: {}, 10: {}},
		Aliases: AliasMap{
			"0xAlias": ChainMap{10: {}, 137: {}},
		},
	}

	chains := r.EnabledChains("0xL1")
	seen := make(map[tokenreg.ChainID]int)
	for _, c := range chains {
		seen[c]++
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct chains, got %d (%v)", len(seen), chains)
	}
	for c, n := range seen {
		if n != 1 {
			t.Fatalf("chain %d listed %d times, want deduped", c, n)
		}
	}
}

func TestWrapConfig_PerChainOverride(t *testing.T) {
	w := WrapConfig{
		WrapEtherThreshold: pct("1000000000000000000"),
		PerChainThreshold:  map[tokenreg.ChainID]*big.Int{10: pct("500000000000000000")},
	}
	if w.ThresholdFor(10).Cmp(pct("500000000000000000")) != 0 {
		t.Fatalf("expected per-chain override")
	}
	if w.ThresholdFor(1).Cmp(pct("1000000000000000000")) != 0 {
		t.Fatalf("expected global default")
	}
}

func TestIsEnabled(t *testing.T) {
	r := NewRegistry()
	if r.IsEnabled("0xL1") {
		t.Fatalf("empty registry should report disabled")
	}
	r.Entries["0xL1"] = L1Entry{Direct: ChainMap{1: {}}}
	if !r.IsEnabled("0xL1") {
		t.Fatalf("configured token should report enabled")
	}
}
