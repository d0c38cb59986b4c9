// Package ethadapters implements rebalance.AdapterManager by broadcasting real
// contract calls through eth.Relayer: the bridge contract's bridgeToken for
// cross-chain pushes and its withdrawal entry point, WETH deposit/withdraw for
// wrap/unwrap, and ERC20 approve for L1 token approvals.
package ethadapters

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethgethereum "github.com/ethereum/go-ethereum"
	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/deposit"
	"github.com/xrelayer/relayer-core/internal/eth"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

var ErrInvalidConfig = errors.New("ethadapters: invalid config")

const erc20AndWethABI = `[
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"deposit","type":"function","inputs":[],"outputs":[]},
	{"name":"withdraw","type":"function","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]}
]`

// BridgeContracts resolves the per-chain bridge contract a cross-chain send or
// withdrawal should be sent to.
type BridgeContracts interface {
	SpokePoolAddress(chain tokenreg.ChainID) (common.Address, bool)
	PendingWithdrawal(ctx context.Context, l2Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error)
}

const bridgeABI = `[
	{"name":"bridgeToken","type":"function","inputs":[{"name":"token","type":"address"},{"name":"destinationChainId","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"withdrawToken","type":"function","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"pendingWithdrawal","type":"function","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"amount","type":"uint256"}]}
]`

// ContractCaller issues read-only contract calls; *ethclient.Client satisfies this.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethgethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RPCBridgeContracts implements BridgeContracts against the configured spoke pool
// addresses, reading pending-withdrawal amounts with a view call per chain.
type RPCBridgeContracts struct {
	spokes  map[tokenreg.ChainID]common.Address
	callers map[tokenreg.ChainID]ContractCaller
	abi     gethabi.ABI
}

func NewRPCBridgeContracts(spokes map[tokenreg.ChainID]common.Address, callers map[tokenreg.ChainID]ContractCaller) (*RPCBridgeContracts, error) {
	if len(spokes) == 0 {
		return nil, fmt.Errorf("%w: no spoke pool addresses configured", ErrInvalidConfig)
	}
	if len(callers) == 0 {
		return nil, fmt.Errorf("%w: no contract callers configured", ErrInvalidConfig)
	}
	parsed, err := gethabi.JSON(strings.NewReader(bridgeABI))
	if err != nil {
		return nil, fmt.Errorf("ethadapters: parse bridge abi: %w", err)
	}
	return &RPCBridgeContracts{spokes: spokes, callers: callers, abi: parsed}, nil
}

func (r *RPCBridgeContracts) SpokePoolAddress(chain tokenreg.ChainID) (common.Address, bool) {
	a, ok := r.spokes[chain]
	return a, ok
}

func (r *RPCBridgeContracts) PendingWithdrawal(ctx context.Context, l2Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error) {
	spoke, ok := r.spokes[chain]
	if !ok {
		return nil, fmt.Errorf("ethadapters: no spoke pool configured for chain %d", chain)
	}
	caller, ok := r.callers[chain]
	if !ok {
		return nil, fmt.Errorf("ethadapters: no contract caller configured for chain %d", chain)
	}
	data, err := r.abi.Pack("pendingWithdrawal", toCommon(l2Token))
	if err != nil {
		return nil, fmt.Errorf("ethadapters: encode pendingWithdrawal: %w", err)
	}
	raw, err := caller.CallContract(ctx, ethgethereum.CallMsg{To: &spoke, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("ethadapters: call pendingWithdrawal: %w", err)
	}
	var amount *big.Int
	if err := r.abi.UnpackIntoInterface(&amount, "pendingWithdrawal", raw); err != nil {
		return nil, fmt.Errorf("ethadapters: decode pendingWithdrawal: %w", err)
	}
	return amount, nil
}

// Manager implements rebalance.AdapterManager by signing and broadcasting real
// transactions, one eth.Relayer per chain.
type Manager struct {
	hubChain  tokenreg.ChainID
	relayers  map[tokenreg.ChainID]*eth.Relayer
	bridges   BridgeContracts
	erc20ABI  gethabi.ABI
	bridgeABI gethabi.ABI
}

func New(hubChain tokenreg.ChainID, relayers map[tokenreg.ChainID]*eth.Relayer, bridges BridgeContracts) (*Manager, error) {
	if hubChain == 0 {
		return nil, fmt.Errorf("%w: missing hub chain", ErrInvalidConfig)
	}
	if len(relayers) == 0 {
		return nil, fmt.Errorf("%w: no relayers configured", ErrInvalidConfig)
	}
	if _, ok := relayers[hubChain]; !ok {
		return nil, fmt.Errorf("%w: no relayer configured for hub chain %d", ErrInvalidConfig, hubChain)
	}
	if bridges == nil {
		return nil, fmt.Errorf("%w: nil bridge contracts", ErrInvalidConfig)
	}
	erc20, err := gethabi.JSON(strings.NewReader(erc20AndWethABI))
	if err != nil {
		return nil, fmt.Errorf("ethadapters: parse erc20 abi: %w", err)
	}
	bridge, err := gethabi.JSON(strings.NewReader(bridgeABI))
	if err != nil {
		return nil, fmt.Errorf("ethadapters: parse bridge abi: %w", err)
	}
	return &Manager{hubChain: hubChain, relayers: relayers, bridges: bridges, erc20ABI: erc20, bridgeABI: bridge}, nil
}

func (m *Manager) relayerFor(chain tokenreg.ChainID) (*eth.Relayer, error) {
	r, ok := m.relayers[chain]
	if !ok {
		return nil, fmt.Errorf("ethadapters: no relayer configured for chain %d", chain)
	}
	return r, nil
}

func toCommon(a chainaddr.Address) common.Address {
	return common.HexToAddress(a.Native())
}

func (m *Manager) SendTokenCrossChain(ctx context.Context, l1Token chainaddr.Address, origin, destination tokenreg.ChainID, amount *big.Int) error {
	spoke, ok := m.bridges.SpokePoolAddress(origin)
	if !ok {
		return fmt.Errorf("ethadapters: no bridge contract configured for origin chain %d", origin)
	}
	data, err := m.bridgeABI.Pack("bridgeToken", toCommon(l1Token), big.NewInt(int64(destination)), amount)
	if err != nil {
		return fmt.Errorf("ethadapters: encode bridgeToken: %w", err)
	}
	relayer, err := m.relayerFor(origin)
	if err != nil {
		return err
	}
	_, err = relayer.SendAndWaitMined(ctx, eth.TxRequest{To: spoke, Data: data})
	return err
}

func (m *Manager) WithdrawTokenFromL2(ctx context.Context, l2Token chainaddr.Address, chain tokenreg.ChainID, amount *big.Int) error {
	spoke, ok := m.bridges.SpokePoolAddress(chain)
	if !ok {
		return fmt.Errorf("ethadapters: no bridge contract configured for chain %d", chain)
	}
	data, err := m.bridgeABI.Pack("withdrawToken", toCommon(l2Token), amount)
	if err != nil {
		return fmt.Errorf("ethadapters: encode withdrawToken: %w", err)
	}
	relayer, err := m.relayerFor(chain)
	if err != nil {
		return err
	}
	_, err = relayer.SendAndWaitMined(ctx, eth.TxRequest{To: spoke, Data: data})
	return err
}

func (m *Manager) GetL2PendingWithdrawalAmount(ctx context.Context, l2Token chainaddr.Address, chain tokenreg.ChainID) (*big.Int, error) {
	return m.bridges.PendingWithdrawal(ctx, l2Token, chain)
}

func (m *Manager) WrapNativeToken(ctx context.Context, chain tokenreg.ChainID, amount *big.Int) error {
	spoke, ok := m.bridges.SpokePoolAddress(chain)
	if !ok {
		return fmt.Errorf("ethadapters: no wrapped-native contract configured for chain %d", chain)
	}
	data, err := m.erc20ABI.Pack("deposit")
	if err != nil {
		return fmt.Errorf("ethadapters: encode deposit: %w", err)
	}
	relayer, err := m.relayerFor(chain)
	if err != nil {
		return err
	}
	_, err = relayer.SendAndWaitMined(ctx, eth.TxRequest{To: spoke, Data: data, Value: amount})
	return err
}

func (m *Manager) UnwrapWrappedNativeToken(ctx context.Context, chain tokenreg.ChainID, amount *big.Int) error {
	spoke, ok := m.bridges.SpokePoolAddress(chain)
	if !ok {
		return fmt.Errorf("ethadapters: no wrapped-native contract configured for chain %d", chain)
	}
	data, err := m.erc20ABI.Pack("withdraw", amount)
	if err != nil {
		return fmt.Errorf("ethadapters: encode withdraw: %w", err)
	}
	relayer, err := m.relayerFor(chain)
	if err != nil {
		return err
	}
	_, err = relayer.SendAndWaitMined(ctx, eth.TxRequest{To: spoke, Data: data})
	return err
}

const fillABI = `[
	{"name":"fillRelay","type":"function","inputs":[
		{"name":"depositId","type":"uint256"},
		{"name":"originChainId","type":"uint256"},
		{"name":"inputToken","type":"address"},
		{"name":"inputAmount","type":"uint256"},
		{"name":"outputToken","type":"address"},
		{"name":"outputAmount","type":"uint256"},
		{"name":"recipient","type":"address"},
		{"name":"message","type":"bytes"}
	],"outputs":[]}
]`

// FillCalldataBuilder encodes a deposit into a SpokePool fillRelay call, for use as
// ethgassim's FillCalldataBuilder during gas simulation.
type FillCalldataBuilder struct {
	abi gethabi.ABI
}

func NewFillCalldataBuilder() (FillCalldataBuilder, error) {
	parsed, err := gethabi.JSON(strings.NewReader(fillABI))
	if err != nil {
		return FillCalldataBuilder{}, fmt.Errorf("ethadapters: parse fill abi: %w", err)
	}
	return FillCalldataBuilder{abi: parsed}, nil
}

func (b FillCalldataBuilder) BuildFillCalldata(d deposit.Deposit, relayer common.Address) ([]byte, error) {
	depositID := d.DepositID
	if depositID == nil {
		depositID = big.NewInt(0)
	}
	return b.abi.Pack("fillRelay",
		depositID,
		big.NewInt(int64(d.Origin)),
		toCommon(d.InputToken),
		d.InputAmount,
		toCommon(d.OutputToken),
		d.EffectiveOutputAmount(),
		toCommon(d.Recipient),
		d.Message,
	)
}

// maxUint256 is the conventional "infinite" ERC20 approval amount.
func maxUint256() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return max.Sub(max, big.NewInt(1))
}

func (m *Manager) SetL1TokenApprovals(ctx context.Context, l1Token chainaddr.Address, spenders []chainaddr.Address) error {
	relayer, err := m.relayerFor(m.hubChain)
	if err != nil {
		return err
	}
	for _, spender := range spenders {
		data, err := m.erc20ABI.Pack("approve", toCommon(spender), maxUint256())
		if err != nil {
			return fmt.Errorf("ethadapters: encode approve: %w", err)
		}
		if _, err := relayer.SendAndWaitMined(ctx, eth.TxRequest{To: toCommon(l1Token), Data: data}); err != nil {
			return fmt.Errorf("ethadapters: approve %s: %w", spender.Native(), err)
		}
	}
	return nil
}
