package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

const sampleTopology = `{
	"hubChain": 1,
	"symbols": [
		{"symbol": "usdc", "decimals": 6, "addresses": {"1": "0x1111111111111111111111111111111111111111", "10": "0x2222222222222222222222222222222222222222"}}
	],
	"equivalence": {"ETH": "WETH"},
	"balances": [
		{"l1Token": "0x1111111111111111111111111111111111111111", "chain": 10, "targetPct": "1000000000000000000", "thresholdPct": "500000000000000000", "withdrawExcessPeriod": 3600}
	],
	"wrap": {
		"wrapEtherThreshold": "2000000000000000000",
		"wrapEtherTarget": "1000000000000000000"
	}
}`

func TestLoadAndBuildRegistries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.json")
	if err := os.WriteFile(path, []byte(sampleTopology), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	top, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if top.HubChain != 1 {
		t.Fatalf("got hubChain %d want 1", top.HubChain)
	}

	registry, tokens, err := BuildRegistries(top)
	if err != nil {
		t.Fatalf("BuildRegistries: %v", err)
	}

	decimals, err := registry.DecimalsOf("USDC")
	if err != nil {
		t.Fatalf("DecimalsOf: %v", err)
	}
	if decimals != 6 {
		t.Fatalf("got decimals %d want 6", decimals)
	}

	addr, err := registry.AddressOn("USDC", 10)
	if err != nil {
		t.Fatalf("AddressOn: %v", err)
	}
	if addr.Native() != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("got address %s", addr.Native())
	}

	cfg, ok := tokens.ConfigFor("0x1111111111111111111111111111111111111111", 10, "")
	if !ok {
		t.Fatalf("expected balance config for chain 10")
	}
	if cfg.WithdrawExcessPeriod != 3600 {
		t.Fatalf("got withdrawExcessPeriod %d want 3600", cfg.WithdrawExcessPeriod)
	}

	if tokens.Wrap.ThresholdFor(tokenreg.ChainID(10)).String() != "2000000000000000000" {
		t.Fatalf("got wrap threshold %s", tokens.Wrap.ThresholdFor(10))
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/path.json"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
