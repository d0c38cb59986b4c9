// Command rebalance-planner runs the inventory rebalance planner on a fixed tick,
// logs every planned action, and executes them against live chains unless run in
// --dry-run mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/xrelayer/relayer-core/internal/balanceclients"
	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/config"
	"github.com/xrelayer/relayer-core/internal/eth"
	"github.com/xrelayer/relayer-core/internal/ethadapters"
	"github.com/xrelayer/relayer-core/internal/inventory"
	"github.com/xrelayer/relayer-core/internal/leases"
	"github.com/xrelayer/relayer-core/internal/rebalance"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

func main() {
	var (
		topologyPath = flag.String("topology-path", "", "path to token topology JSON file (required)")
		hubChainID   = flag.Uint64("hub-chain", 0, "hub chain id (required)")
		rpcURLs      = flag.String("rpc-urls", "", "comma-separated chainId=url pairs for every chain the planner touches (required)")

		spokePoolAddrs = flag.String("spoke-pool-addresses", "", "comma-separated chainId=address pairs for every spoke pool (required)")
		relayerKeyEnv  = flag.String("relayer-key-env", "RELAYER_PRIVATE_KEY", "env var containing the relayer's hex-encoded secp256k1 private key")

		minRebalanceAmounts = flag.String("min-rebalance-amounts", "", "comma-separated l1Token=amount pairs floor-ing dust rebalances")
		leaseTTL            = flag.Duration("lease-ttl", 2*time.Minute, "per-token rebalance execution lease ttl")

		nativeGasSymbol = flag.String("native-gas-symbol", "ETH", "registry symbol for the native gas token balance checks wrap/unwrap against")
		wrappedSymbol   = flag.String("wrapped-native-symbol", "WETH", "registry symbol for the wrapped form of --native-gas-symbol")

		tickInterval = flag.Duration("tick-interval", 5*time.Minute, "interval between rebalance planning ticks")
		dryRun       = flag.Bool("dry-run", true, "log planned actions without executing them")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *topologyPath == "" || *hubChainID == 0 || *rpcURLs == "" || *spokePoolAddrs == "" {
		fmt.Fprintln(os.Stderr, "error: --topology-path, --hub-chain, --rpc-urls, and --spoke-pool-addresses are required")
		os.Exit(2)
	}
	if *tickInterval <= 0 || *leaseTTL <= 0 {
		fmt.Fprintln(os.Stderr, "error: --tick-interval and --lease-ttl must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hubChain := tokenreg.ChainID(*hubChainID)

	top, err := config.Load(*topologyPath)
	if err != nil {
		log.Error("load topology", "err", err)
		os.Exit(2)
	}
	registry, tokens, err := config.BuildRegistries(top)
	if err != nil {
		log.Error("build registries", "err", err)
		os.Exit(2)
	}

	rpcAddrs, err := parseChainAddressMap(*rpcURLs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse --rpc-urls: %v\n", err)
		os.Exit(2)
	}
	clients := make(map[tokenreg.ChainID]*ethclient.Client, len(rpcAddrs))
	for chain, url := range rpcAddrs {
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			log.Error("dial rpc", "chain", chain, "err", err)
			os.Exit(2)
		}
		clients[chain] = c
		defer c.Close()
	}

	spokeAddrs, err := parseChainHexAddressMap(*spokePoolAddrs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse --spoke-pool-addresses: %v\n", err)
		os.Exit(2)
	}

	relayerKeyHex := os.Getenv(*relayerKeyEnv)
	if relayerKeyHex == "" {
		fmt.Fprintf(os.Stderr, "error: missing relayer private key in env %s\n", *relayerKeyEnv)
		os.Exit(2)
	}
	relayerKey, err := crypto.HexToECDSA(strings.TrimPrefix(relayerKeyHex, "0x"))
	if err != nil {
		log.Error("parse relayer private key", "err", err)
		os.Exit(2)
	}
	relayerAddr := crypto.PubkeyToAddress(relayerKey.PublicKey)

	relayers := make(map[tokenreg.ChainID]*eth.Relayer, len(clients))
	callers := make(map[tokenreg.ChainID]ethadapters.ContractCaller, len(clients))
	for chain, c := range clients {
		r, err := eth.NewRelayer(c, []eth.Signer{eth.NewLocalSigner(relayerKey)}, eth.RelayerConfig{
			ChainID:             new(big.Int).SetUint64(uint64(chain)),
			GasLimitMultiplier:  1.2,
			MinTipCap:           big.NewInt(1),
			ReceiptPollInterval: 2 * time.Second,
		})
		if err != nil {
			log.Error("init relayer", "chain", chain, "err", err)
			os.Exit(2)
		}
		relayers[chain] = r
		callers[chain] = c
	}

	bridges, err := ethadapters.NewRPCBridgeContracts(spokeAddrs, callers)
	if err != nil {
		log.Error("init bridge contracts", "err", err)
		os.Exit(2)
	}
	adapters, err := ethadapters.New(hubChain, relayers, bridges)
	if err != nil {
		log.Error("init adapter manager", "err", err)
		os.Exit(2)
	}

	relayerNative, err := chainaddr.ParseEvmHex(relayerAddr.Hex())
	if err != nil {
		log.Error("parse relayer address", "err", err)
		os.Exit(2)
	}
	accountant, err := inventory.New(inventory.Config{HubChain: hubChain, Relayer: relayerNative}, registry, tokens, balanceclients.NewStaticBalanceClient(), balanceclients.NewStaticTransferClient(), log)
	if err != nil {
		log.Error("init inventory accountant", "err", err)
		os.Exit(2)
	}

	minAmounts, err := parseMinRebalanceAmounts(*minRebalanceAmounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse --min-rebalance-amounts: %v\n", err)
		os.Exit(2)
	}
	planner, err := rebalance.New(rebalance.Config{HubChain: hubChain, MinRebalanceAmount: minAmounts, LeaseTTL: *leaseTTL}, accountant, tokens, registry, adapters, leases.NewMemoryStore(time.Now), log)
	if err != nil {
		log.Error("init rebalance planner", "err", err)
		os.Exit(2)
	}

	log.Info("rebalance-planner started", "hubChain", hubChain, "dryRun", *dryRun, "tickInterval", tickInterval.String())

	ticker := time.NewTicker(*tickInterval)
	defer ticker.Stop()

	runOnce := func() {
		now := time.Now()
		push, err := planner.PlanL1ToL2Rebalances(ctx)
		if err != nil {
			log.Error("plan l1->l2 rebalances", "err", err)
			return
		}
		excess, err := planner.PlanExcessWithdrawals(ctx, now)
		if err != nil {
			log.Error("plan excess withdrawals", "err", err)
			return
		}
		nativeBalances := make(map[tokenreg.ChainID]*big.Int, len(clients))
		for chain := range clients {
			if chain == hubChain {
				continue
			}
			bal, err := accountant.EffectiveBalance(ctx, tokenreg.TokenSymbol(*nativeGasSymbol), chain, chainaddr.Address{})
			if err != nil {
				log.Error("read native gas balance", "chain", chain, "err", err)
				continue
			}
			nativeBalances[chain] = bal
		}
		native, err := planner.PlanNativeTokenRebalances(ctx, nativeBalances, tokenreg.TokenSymbol(*wrappedSymbol))
		if err != nil {
			log.Error("plan native token rebalances", "err", err)
			return
		}
		actions := append(append(push, excess...), native...)
		for _, a := range actions {
			log.Info("planned action", "kind", a.Kind, "l1Token", a.L1Token, "origin", a.Origin, "chain", a.Chain, "amount", a.Amount)
		}
		if *dryRun || len(actions) == 0 {
			return
		}
		if err := planner.Execute(ctx, "rebalance-planner", actions); err != nil {
			log.Error("execute rebalance actions", "err", err)
		}
	}

	runOnce()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown", "reason", ctx.Err())
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

func parseMinRebalanceAmounts(s string) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int)
	for _, pair := range splitCommaList(s) {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("expected l1Token=amount, got %q", pair)
		}
		v, ok := new(big.Int).SetString(strings.TrimSpace(parts[1]), 10)
		if !ok {
			return nil, fmt.Errorf("bad amount %q", parts[1])
		}
		out[strings.TrimSpace(parts[0])] = v
	}
	return out, nil
}

func parseChainAddressMap(s string) (map[tokenreg.ChainID]string, error) {
	out := make(map[tokenreg.ChainID]string)
	for _, pair := range splitCommaList(s) {
		chain, v, err := splitChainPair(pair)
		if err != nil {
			return nil, err
		}
		out[chain] = v
	}
	return out, nil
}

func parseChainHexAddressMap(s string) (map[tokenreg.ChainID]common.Address, error) {
	out := make(map[tokenreg.ChainID]common.Address)
	for _, pair := range splitCommaList(s) {
		chain, v, err := splitChainPair(pair)
		if err != nil {
			return nil, err
		}
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("bad address %q for chain %d", v, chain)
		}
		out[chain] = common.HexToAddress(v)
	}
	return out, nil
}

func splitChainPair(pair string) (tokenreg.ChainID, string, error) {
	parts := strings.SplitN(pair, "=", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("expected chainId=value, got %q", pair)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("bad chain id %q: %w", parts[0], err)
	}
	return tokenreg.ChainID(id), strings.TrimSpace(parts[1]), nil
}

func splitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
