// Command relayer-core consumes deposit events off a queue topic, evaluates each one
// through the profit and repayment decision pipeline, and publishes the resulting
// decision. It refreshes prices and gas costs on a fixed tick independent of the
// consume loop.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xrelayer/relayer-core/internal/balanceclients"
	"github.com/xrelayer/relayer-core/internal/blobstore"
	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/coingecko"
	"github.com/xrelayer/relayer-core/internal/config"
	"github.com/xrelayer/relayer-core/internal/deposit"
	"github.com/xrelayer/relayer-core/internal/engine"
	"github.com/xrelayer/relayer-core/internal/eth"
	"github.com/xrelayer/relayer-core/internal/ethadapters"
	"github.com/xrelayer/relayer-core/internal/ethgassim"
	"github.com/xrelayer/relayer-core/internal/evmbalance"
	"github.com/xrelayer/relayer-core/internal/gasestimator"
	"github.com/xrelayer/relayer-core/internal/hubpoolclient"
	"github.com/xrelayer/relayer-core/internal/hubpoolpg"
	"github.com/xrelayer/relayer-core/internal/inventory"
	"github.com/xrelayer/relayer-core/internal/leases"
	leasespg "github.com/xrelayer/relayer-core/internal/leases/postgres"
	"github.com/xrelayer/relayer-core/internal/pricecache"
	"github.com/xrelayer/relayer-core/internal/profitengine"
	"github.com/xrelayer/relayer-core/internal/queue"
	"github.com/xrelayer/relayer-core/internal/rebalance"
	"github.com/xrelayer/relayer-core/internal/repayment"
	"github.com/xrelayer/relayer-core/internal/secrets"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

type depositEventV1 struct {
	Version      string `json:"version"`
	DepositID    string `json:"depositId"`
	Origin       uint64 `json:"origin"`
	Destination  uint64 `json:"destination"`
	InputToken   string `json:"inputToken"`
	InputAmount  string `json:"inputAmount"`
	OutputToken  string `json:"outputToken"`
	OutputAmount string `json:"outputAmount"`
	InputSymbol  string `json:"inputSymbol"`
	OutputSymbol string `json:"outputSymbol"`
	Recipient    string `json:"recipient"`
	Depositor    string `json:"depositor"`
	FillDeadline int64  `json:"fillDeadline"`
}

type decisionV1 struct {
	Version         string   `json:"version"`
	DepositID       string   `json:"depositId"`
	Origin          uint64   `json:"origin"`
	Destination     uint64   `json:"destination"`
	State           string   `json:"state"`
	Reason          string   `json:"reason,omitempty"`
	RepaymentChains []uint64 `json:"repaymentChains,omitempty"`
}

func main() {
	var (
		topologyPath = flag.String("topology-path", "", "path to token topology JSON file (required)")
		hubChainID   = flag.Uint64("hub-chain", 0, "hub chain id (required)")
		rpcURLs      = flag.String("rpc-urls", "", "comma-separated chainId=url pairs for every chain the engine touches (required)")

		hubPoolAddr     = flag.String("hub-pool-address", "", "hub pool contract address (required)")
		configStoreAddr = flag.String("config-store-address", "", "config store contract address (required)")
		bundleDataAddr  = flag.String("bundle-data-address", "", "bundle data contract address (required)")
		spokePoolAddrs  = flag.String("spoke-pool-addresses", "", "comma-separated chainId=address pairs for every destination spoke pool (required)")

		relayerKeyEnv     = flag.String("relayer-key-env", "RELAYER_PRIVATE_KEY", "env var containing the relayer's hex-encoded secp256k1 private key")
		coingeckoPlatform = flag.String("coingecko-platform", "ethereum", "CoinGecko platform id for the hub chain's token contracts")

		probeSymbol    = flag.String("probe-symbol", "USDC", "token symbol used for gas-simulation templates")
		templateAmount = flag.String("template-amount", "1000000", "template deposit amount in the probe token's smallest unit")

		defaultMinRelayerFeeFrac = flag.String("default-min-relayer-fee-frac", "1000000000000000", "default minimum relayer fee fraction, 18-decimal fixed point (0.001 = 1000000000000000)")
		gasPadding               = flag.String("gas-padding", "1200000000000000000", "gas padding multiplier, 18-decimal fixed point")
		gasMultiplier            = flag.String("gas-multiplier", "1000000000000000000", "gas cost multiplier, 18-decimal fixed point")
		testnetChains            = flag.String("testnet-chains", "", "comma-separated chain ids treated as testnets")
		gasTokenDecimalsOverride = flag.String("gas-token-decimals", "", "comma-separated chainId=decimals pairs for chains whose native gas token isn't 18-decimal")
		gasTokenSymbolOverride   = flag.String("gas-token-symbol", "", "comma-separated chainId=SYMBOL pairs naming each chain's native gas token for pricing, e.g. 137=MATIC")
		gasTokenDefaultSymbol    = flag.String("gas-token-default-symbol", "ETH", "price-feed symbol for a chain's native gas token when not listed in --gas-token-symbol")

		fillSafetyMargin = flag.Duration("fill-safety-margin", 6*time.Hour, "minimum time-to-fill-deadline required to accept a fill")
		tickInterval     = flag.Duration("tick-interval", 30*time.Second, "interval between price/gas refresh ticks")

		queueDriver  = flag.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
		queueBrokers = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
		queueGroup   = flag.String("queue-group", "relayer-core", "queue consumer group")
		queueTopics  = flag.String("queue-topics", "deposits.event.v1", "comma-separated input queue topics")
		ackTimeout   = flag.Duration("queue-ack-timeout", 5*time.Second, "timeout for queue message acknowledgements")

		decisionsDriver = flag.String("decisions-driver", queue.DriverStdio, "decision output driver: kafka|stdio")
		decisionsTopic  = flag.String("decisions-topic", "relayer.decisions.v1", "decision output topic")

		archiveDriver = flag.String("archive-driver", "", "decision archive driver: s3|memory; unset disables archiving")
		archiveBucket = flag.String("archive-bucket", "", "s3 bucket for archived decisions (required when --archive-driver=s3)")
		archivePrefix = flag.String("archive-prefix", "decisions", "key prefix for archived decisions")

		useRPCBalances      = flag.Bool("rpc-balances", false, "read relayer token balances via ERC-20 balanceOf instead of the in-memory static client")
		runningBalancePgDSN = flag.String("running-balance-cache-dsn", "", "Postgres DSN for caching hub pool running balances and root bundles; unset keeps the hub pool client uncached")
		leasePgDSN          = flag.String("lease-dsn", "", "Postgres DSN for the rebalance planner's lease store; unset keeps the in-memory lease store (unsafe across multiple relayer-core replicas)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *topologyPath == "" || *hubChainID == 0 || *rpcURLs == "" || *hubPoolAddr == "" || *configStoreAddr == "" || *bundleDataAddr == "" || *spokePoolAddrs == "" {
		fmt.Fprintln(os.Stderr, "error: --topology-path, --hub-chain, --rpc-urls, --hub-pool-address, --config-store-address, --bundle-data-address, and --spoke-pool-addresses are required")
		os.Exit(2)
	}
	if !common.IsHexAddress(*hubPoolAddr) || !common.IsHexAddress(*configStoreAddr) || !common.IsHexAddress(*bundleDataAddr) {
		fmt.Fprintln(os.Stderr, "error: --hub-pool-address, --config-store-address, and --bundle-data-address must be valid hex addresses")
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
	hubClient, ok := clients[hubChain]
	if !ok {
		fmt.Fprintln(os.Stderr, "error: --rpc-urls must include the hub chain")
		os.Exit(2)
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
	}

	bridges, err := ethadapters.NewRPCBridgeContracts(spokeAddrs, contractCallers(clients))
	if err != nil {
		log.Error("init bridge contracts", "err", err)
		os.Exit(2)
	}
	adapters, err := ethadapters.New(hubChain, relayers, bridges)
	if err != nil {
		log.Error("init adapter manager", "err", err)
		os.Exit(2)
	}

	rpcHub, err := hubpoolclient.NewRPCHubPoolClient(hubClient, common.HexToAddress(*hubPoolAddr), common.HexToAddress(*configStoreAddr), common.HexToAddress(*bundleDataAddr))
	if err != nil {
		log.Error("init hub pool client", "err", err)
		os.Exit(2)
	}
	var hub hubpoolclient.HubPoolClient = rpcHub
	if *runningBalancePgDSN != "" {
		pgPool, err := pgxpool.New(ctx, *runningBalancePgDSN)
		if err != nil {
			log.Error("dial running balance cache", "err", err)
			os.Exit(2)
		}
		cacheStore, err := hubpoolpg.New(pgPool)
		if err != nil {
			log.Error("init running balance cache", "err", err)
			os.Exit(2)
		}
		if err := cacheStore.EnsureSchema(ctx); err != nil {
			log.Error("ensure running balance cache schema", "err", err)
			os.Exit(2)
		}
		hub, err = hubpoolpg.NewCachedHubPoolClient(hub, cacheStore)
		if err != nil {
			log.Error("init cached hub pool client", "err", err)
			os.Exit(2)
		}
	}

	if os.Getenv("COINGECKO_PRO_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "error: missing CoinGecko API key in env COINGECKO_PRO_API_KEY")
		os.Exit(2)
	}
	feed, err := coingecko.New(*coingeckoPlatform, secrets.NewEnv(), coingecko.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}))
	if err != nil {
		log.Error("init coingecko feed", "err", err)
		os.Exit(2)
	}
	prices, err := pricecache.New(pricecache.Config{Feeds: []pricecache.Feed{feed}, HubChain: hubChain}, registry, log)
	if err != nil {
		log.Error("init price cache", "err", err)
		os.Exit(2)
	}

	fillBuilder, err := ethadapters.NewFillCalldataBuilder()
	if err != nil {
		log.Error("init fill calldata builder", "err", err)
		os.Exit(2)
	}
	simBackends := make(map[uint64]ethgassim.Backend, len(clients))
	simSpokes := make(map[uint64]common.Address, len(spokeAddrs))
	for chain, c := range clients {
		simBackends[uint64(chain)] = c
	}
	for chain, addr := range spokeAddrs {
		simSpokes[uint64(chain)] = addr
	}
	simulator, err := ethgassim.New(simBackends, simSpokes, fillBuilder, ethgassim.IdentityConverter{})
	if err != nil {
		log.Error("init gas simulator", "err", err)
		os.Exit(2)
	}

	testnets, err := parseChainSet(*testnetChains)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse --testnet-chains: %v\n", err)
		os.Exit(2)
	}
	gas, err := gasestimator.New(gasestimator.Config{
		GasPadding:     mustFp(*gasPadding),
		GasMultiplier:  mustFp(*gasMultiplier),
		RelayerAddress: relayerAddr.Hex(),
		TestnetChains:  testnets,
	}, simulator, log)
	if err != nil {
		log.Error("init gas estimator", "err", err)
		os.Exit(2)
	}

	gasTokenDecimalsOverrides, err := parseChainUint8Map(*gasTokenDecimalsOverride)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse --gas-token-decimals: %v\n", err)
		os.Exit(2)
	}
	gasTokenDecimals := make(map[tokenreg.ChainID]uint8, len(clients))
	for chain := range clients {
		if d, ok := gasTokenDecimalsOverrides[chain]; ok {
			gasTokenDecimals[chain] = d
			continue
		}
		gasTokenDecimals[chain] = 18
	}
	gasTokenSymbols, err := parseChainSymbolMap(*gasTokenSymbolOverride)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse --gas-token-symbol: %v\n", err)
		os.Exit(2)
	}
	profit, err := profitengine.New(profitengine.Config{
		DefaultMinRelayerFeeFrac: mustFp(*defaultMinRelayerFeeFrac),
		TestnetChains:            testnets,
		GasTokenDecimals:         gasTokenDecimals,
		GasTokenSymbol:           gasTokenSymbols,
		GasTokenDefaultSymbol:    tokenreg.TokenSymbol(*gasTokenDefaultSymbol),
	}, prices, gas, envMinFeeLookup{}, registry, log)
	if err != nil {
		log.Error("init profit engine", "err", err)
		os.Exit(2)
	}

	var balances balanceclients.TokenBalanceClient = balanceclients.NewStaticBalanceClient()
	if *useRPCBalances {
		balances, err = evmbalance.New(relayerAddr, evmBalanceCallers(clients), nil)
		if err != nil {
			log.Error("init evm balance client", "err", err)
			os.Exit(2)
		}
	}
	accountant, err := inventory.New(inventory.Config{HubChain: hubChain, Relayer: mustEvmAddr(relayerAddr)}, registry, tokens, balances, balanceclients.NewStaticTransferClient(), log)
	if err != nil {
		log.Error("init inventory accountant", "err", err)
		os.Exit(2)
	}
	repayments, err := repayment.New(repayment.Config{HubChain: hubChain, InventoryManagementEnabled: true, PrioritizationEnabled: true}, hub, rpcHub, rpcHub, accountant, tokens, registry, log)
	if err != nil {
		log.Error("init repayment selector", "err", err)
		os.Exit(2)
	}
	var leaseStore leases.Store = leases.NewMemoryStore(nil)
	if *leasePgDSN != "" {
		leasePool, err := pgxpool.New(ctx, *leasePgDSN)
		if err != nil {
			log.Error("dial lease store", "err", err)
			os.Exit(2)
		}
		pgLeases, err := leasespg.New(leasePool)
		if err != nil {
			log.Error("init lease store", "err", err)
			os.Exit(2)
		}
		if err := pgLeases.EnsureSchema(ctx); err != nil {
			log.Error("ensure lease schema", "err", err)
			os.Exit(2)
		}
		leaseStore = pgLeases
	}
	rebalancer, err := rebalance.New(rebalance.Config{HubChain: hubChain, LeaseTTL: time.Minute}, accountant, tokens, registry, adapters, leaseStore, log)
	if err != nil {
		log.Error("init rebalance planner", "err", err)
		os.Exit(2)
	}

	resolver, err := config.NewResolver(registry, tokens, hubChain, tokenreg.NormalizeSymbol(*probeSymbol), mustFp(*templateAmount), mustEvmAddr(relayerAddr))
	if err != nil {
		log.Error("init template resolver", "err", err)
		os.Exit(2)
	}

	e, err := engine.New(engine.Config{HubChain: hubChain, FillSafetyMargin: *fillSafetyMargin}, prices, gas, profit, repayments, rebalancer, resolver, resolver, log)
	if err != nil {
		log.Error("init engine", "err", err)
		os.Exit(2)
	}

	consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
		Driver:  *queueDriver,
		Brokers: queue.SplitCommaList(*queueBrokers),
		Group:   *queueGroup,
		Topics:  queue.SplitCommaList(*queueTopics),
	})
	if err != nil {
		log.Error("init queue consumer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = consumer.Close() }()

	producer, err := queue.NewProducer(queue.ProducerConfig{Driver: *decisionsDriver, Brokers: queue.SplitCommaList(*queueBrokers)})
	if err != nil {
		log.Error("init queue producer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = producer.Close() }()

	var archive blobstore.Store
	if *archiveDriver != "" {
		archive, err = newArchiveStore(ctx, *archiveDriver, *archiveBucket, *archivePrefix)
		if err != nil {
			log.Error("init decision archive", "err", err)
			os.Exit(2)
		}
	}

	log.Info("relayer-core started", "hubChain", hubChain, "probeSymbol", *probeSymbol, "tickInterval", tickInterval.String())

	if err := e.Update(ctx); err != nil {
		log.Error("initial update", "err", err)
	}

	ticker := time.NewTicker(*tickInterval)
	defer ticker.Stop()
	msgCh := consumer.Messages()
	errCh := consumer.Errors()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown", "reason", ctx.Err())
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				log.Error("queue consume error", "err", err)
			}
		case <-ticker.C:
			if err := e.Update(ctx); err != nil {
				log.Error("update tick", "err", err)
			}
		case qmsg, ok := <-msgCh:
			if !ok {
				return
			}
			line := bytes.TrimSpace(qmsg.Value)
			if len(line) == 0 {
				ackMessage(qmsg, *ackTimeout, log)
				continue
			}
			var evt depositEventV1
			if err := json.Unmarshal(line, &evt); err != nil {
				log.Error("parse deposit event", "err", err)
				ackMessage(qmsg, *ackTimeout, log)
				continue
			}
			d, inputSym, outputSym, err := evt.toDeposit()
			if err != nil {
				log.Error("decode deposit event", "err", err)
				ackMessage(qmsg, *ackTimeout, log)
				continue
			}
			dec, err := e.EvaluateDeposit(ctx, d, inputSym, outputSym, nil)
			if err != nil {
				log.Error("evaluate deposit", "err", err, "depositId", evt.DepositID)
				ackMessage(qmsg, *ackTimeout, log)
				continue
			}
			if err := publishDecision(ctx, producer, *decisionsTopic, dec); err != nil {
				log.Error("publish decision", "err", err)
			}
			if archive != nil {
				if err := archiveDecision(ctx, archive, dec); err != nil {
					log.Error("archive decision", "err", err)
				}
			}
			ackMessage(qmsg, *ackTimeout, log)
		}
	}
}

func (evt depositEventV1) toDeposit() (deposit.Deposit, tokenreg.TokenSymbol, tokenreg.TokenSymbol, error) {
	depositID, ok := new(big.Int).SetString(evt.DepositID, 10)
	if !ok {
		return deposit.Deposit{}, "", "", fmt.Errorf("bad depositId %q", evt.DepositID)
	}
	inputAmount, ok := new(big.Int).SetString(evt.InputAmount, 10)
	if !ok {
		return deposit.Deposit{}, "", "", fmt.Errorf("bad inputAmount %q", evt.InputAmount)
	}
	outputAmount, ok := new(big.Int).SetString(evt.OutputAmount, 10)
	if !ok {
		return deposit.Deposit{}, "", "", fmt.Errorf("bad outputAmount %q", evt.OutputAmount)
	}
	inputToken, err := chainaddr.ParseEvmHex(evt.InputToken)
	if err != nil {
		return deposit.Deposit{}, "", "", fmt.Errorf("bad inputToken: %w", err)
	}
	outputToken, err := chainaddr.ParseEvmHex(evt.OutputToken)
	if err != nil {
		return deposit.Deposit{}, "", "", fmt.Errorf("bad outputToken: %w", err)
	}
	recipient, err := chainaddr.ParseEvmHex(evt.Recipient)
	if err != nil {
		return deposit.Deposit{}, "", "", fmt.Errorf("bad recipient: %w", err)
	}
	depositor, err := chainaddr.ParseEvmHex(evt.Depositor)
	if err != nil {
		return deposit.Deposit{}, "", "", fmt.Errorf("bad depositor: %w", err)
	}
	return deposit.Deposit{
		DepositID:    depositID,
		Origin:       tokenreg.ChainID(evt.Origin),
		Destination:  tokenreg.ChainID(evt.Destination),
		InputToken:   inputToken,
		InputAmount:  inputAmount,
		OutputToken:  outputToken,
		OutputAmount: outputAmount,
		Recipient:    recipient,
		Depositor:    depositor,
		FillDeadline: time.Unix(evt.FillDeadline, 0).UTC(),
	}, tokenreg.NormalizeSymbol(evt.InputSymbol), tokenreg.NormalizeSymbol(evt.OutputSymbol), nil
}

func newArchiveStore(ctx context.Context, driver, bucket, prefix string) (blobstore.Store, error) {
	if driver == blobstore.DriverMemory {
		return blobstore.New(blobstore.Config{Driver: blobstore.DriverMemory, Prefix: prefix})
	}
	if bucket == "" {
		return nil, fmt.Errorf("missing --archive-bucket")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return blobstore.New(blobstore.Config{
		Driver:   blobstore.DriverS3,
		Prefix:   prefix,
		Bucket:   bucket,
		S3Client: s3.NewFromConfig(awsCfg),
	})
}

func archiveDecision(ctx context.Context, store blobstore.Store, dec engine.Decision) error {
	payload, err := json.Marshal(decisionV1{
		Version:     "relayer.decision.v1",
		DepositID:   depositIDString(dec.Deposit.DepositID),
		Origin:      uint64(dec.Deposit.Origin),
		Destination: uint64(dec.Deposit.Destination),
		State:       string(dec.State),
		Reason:      dec.Reason,
	})
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	key := fmt.Sprintf("%s-%d-%d.json", depositIDString(dec.Deposit.DepositID), dec.Deposit.Origin, dec.Deposit.Destination)
	return store.Put(ctx, key, payload, blobstore.PutOptions{ContentType: "application/json"})
}

func publishDecision(ctx context.Context, producer queue.Producer, topic string, dec engine.Decision) error {
	out := decisionV1{
		Version:     "relayer.decision.v1",
		DepositID:   depositIDString(dec.Deposit.DepositID),
		Origin:      uint64(dec.Deposit.Origin),
		Destination: uint64(dec.Deposit.Destination),
		State:       string(dec.State),
		Reason:      dec.Reason,
	}
	for _, c := range dec.RepaymentChains {
		out.RepaymentChains = append(out.RepaymentChains, uint64(c))
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	return producer.Publish(ctx, topic, payload)
}

func depositIDString(id *big.Int) string {
	if id == nil {
		return "0"
	}
	return id.String()
}

func ackMessage(msg queue.Message, timeout time.Duration, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := msg.Ack(ctx); err != nil {
		log.Error("ack queue message", "topic", msg.Topic, "err", err)
	}
}

// envMinFeeLookup implements profitengine.MinFeeLookup by reading
// MIN_RELAYER_FEE_PCT_<SYMBOL>_<origin>_<destination>, then
// MIN_RELAYER_FEE_PCT_<SYMBOL>, falling back to the caller-supplied default.
type envMinFeeLookup struct{}

func (envMinFeeLookup) MinRelayerFeeFrac(_ context.Context, symbol tokenreg.TokenSymbol, origin, destination tokenreg.ChainID, defaultFrac *big.Int) (*big.Int, error) {
	route := fmt.Sprintf("MIN_RELAYER_FEE_PCT_%s_%d_%d", symbol, origin, destination)
	if v := os.Getenv(route); v != "" {
		return mustFp(v), nil
	}
	bySymbol := fmt.Sprintf("MIN_RELAYER_FEE_PCT_%s", symbol)
	if v := os.Getenv(bySymbol); v != "" {
		return mustFp(v), nil
	}
	return defaultFrac, nil
}

func mustFp(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		fmt.Fprintf(os.Stderr, "error: bad fixed-point literal %q\n", s)
		os.Exit(2)
	}
	return v
}

func mustEvmAddr(a common.Address) chainaddr.Address {
	addr, err := chainaddr.ParseEvmHex(a.Hex())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	return addr
}

func parseChainAddressMap(s string) (map[tokenreg.ChainID]string, error) {
	out := make(map[tokenreg.ChainID]string)
	for _, pair := range queue.SplitCommaList(s) {
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
	for _, pair := range queue.SplitCommaList(s) {
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

func parseChainSet(s string) (map[tokenreg.ChainID]bool, error) {
	out := make(map[tokenreg.ChainID]bool)
	for _, v := range queue.SplitCommaList(s) {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad chain id %q: %w", v, err)
		}
		out[tokenreg.ChainID(id)] = true
	}
	return out, nil
}

func parseChainUint8Map(s string) (map[tokenreg.ChainID]uint8, error) {
	out := make(map[tokenreg.ChainID]uint8)
	for _, pair := range queue.SplitCommaList(s) {
		chain, v, err := splitChainPair(pair)
		if err != nil {
			return nil, err
		}
		d, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("bad decimals %q for chain %d: %w", v, chain, err)
		}
		out[chain] = uint8(d)
	}
	return out, nil
}

func parseChainSymbolMap(s string) (map[tokenreg.ChainID]tokenreg.TokenSymbol, error) {
	out := make(map[tokenreg.ChainID]tokenreg.TokenSymbol)
	for _, pair := range queue.SplitCommaList(s) {
		chain, v, err := splitChainPair(pair)
		if err != nil {
			return nil, err
		}
		out[chain] = tokenreg.NormalizeSymbol(v)
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

func contractCallers(clients map[tokenreg.ChainID]*ethclient.Client) map[tokenreg.ChainID]ethadapters.ContractCaller {
	out := make(map[tokenreg.ChainID]ethadapters.ContractCaller, len(clients))
	for chain, c := range clients {
		out[chain] = c
	}
	return out
}

func evmBalanceCallers(clients map[tokenreg.ChainID]*ethclient.Client) map[tokenreg.ChainID]evmbalance.ContractCaller {
	out := make(map[tokenreg.ChainID]evmbalance.ContractCaller, len(clients))
	for chain, c := range clients {
		out[chain] = c
	}
	return out
}
