// Command adapter-service fronts a single chain's transaction relayer behind an
// HTTP API, so the decision engine and rebalance planner can dispatch sends without
// holding chain credentials themselves.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/xrelayer/relayer-core/internal/eth"
	"github.com/xrelayer/relayer-core/internal/eth/httpapi"
)

func main() {
	var (
		listenAddr   = flag.String("listen-addr", ":8080", "http listen address")
		rpcURL       = flag.String("rpc-url", "", "chain RPC url (required)")
		chainID      = flag.Uint64("chain-id", 0, "chain id (required)")
		signerKeyEnv = flag.String("signer-key-env", "RELAYER_PRIVATE_KEY", "env var containing the signer's hex-encoded secp256k1 private key")
		authTokenEnv = flag.String("auth-token-env", "ADAPTER_SERVICE_AUTH_TOKEN", "env var containing the bearer token required of callers; auth disabled if unset")

		gasLimitMultiplier     = flag.Float64("gas-limit-multiplier", 1.2, "multiplier applied to estimated gas limit")
		replaceAfter           = flag.Duration("replace-after", 0, "time a tx may sit pending before a fee-bumped replacement is sent; 0 disables replacement")
		maxReplacements        = flag.Int("max-replacements", 0, "maximum fee-bumped replacements per send; 0 disables replacement")
		replacementBumpPercent = flag.Int("replacement-bump-percent", 10, "percent fee bump applied per replacement")
		maxWaitSeconds         = flag.Int("max-wait-seconds", 300, "maximum per-request time to wait for a transaction to mine")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *rpcURL == "" || *chainID == 0 {
		fmt.Fprintln(os.Stderr, "error: --rpc-url and --chain-id are required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := ethclient.DialContext(ctx, *rpcURL)
	if err != nil {
		log.Error("dial rpc", "err", err)
		os.Exit(2)
	}
	defer client.Close()

	keyHex := os.Getenv(*signerKeyEnv)
	if keyHex == "" {
		fmt.Fprintf(os.Stderr, "error: missing signer private key in env %s\n", *signerKeyEnv)
		os.Exit(2)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		log.Error("parse signer private key", "err", err)
		os.Exit(2)
	}

	relayer, err := eth.NewRelayer(client, []eth.Signer{eth.NewLocalSigner(key)}, eth.RelayerConfig{
		ChainID:                new(big.Int).SetUint64(*chainID),
		GasLimitMultiplier:     *gasLimitMultiplier,
		MinTipCap:              big.NewInt(1),
		ReceiptPollInterval:    2 * time.Second,
		ReplaceAfter:           *replaceAfter,
		MaxReplacements:        *maxReplacements,
		ReplacementBumpPercent: *replacementBumpPercent,
		MinReplacementTipBump:  big.NewInt(1),
		MinReplacementFeeBump:  big.NewInt(1),
	})
	if err != nil {
		log.Error("init relayer", "err", err)
		os.Exit(2)
	}

	handler := httpapi.NewHandler(relayer, httpapi.Config{
		AuthToken:      os.Getenv(*authTokenEnv),
		MaxBodyBytes:   1 << 20,
		MaxWaitSeconds: *maxWaitSeconds,
	})

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("adapter-service started", "chainId", *chainID, "listenAddr", *listenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("serve", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
