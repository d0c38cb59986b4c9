// Package bridgematch reconciles fills observed on a destination chain against the
// root bundles that finalize their repayment on the hub chain: a time-translated,
// zero-value-filtered inner join keyed by each fill's opaque relay message hash.
package bridgematch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

var ErrInvalidConfig = errors.New("bridgematch: invalid config")

// MessageHash is the opaque, cross-chain-stable identifier of one relay: the hash the
// origin deposit and the destination fill both commit to.
type MessageHash [32]byte

// Fill is a relay observed on its destination chain.
type Fill struct {
	MessageHash  MessageHash
	Destination  tokenreg.ChainID
	OutputAmount *big.Int
	FilledAt     time.Time
	FilledBlock  uint64
}

// BundleInclusion is one root bundle's commitment to repay a fill, observed on the
// hub chain.
type BundleInclusion struct {
	MessageHash MessageHash
	HubBlock    uint64
}

// MatchedFill pairs a destination fill with its hub-chain finalization, with the hub
// block translated into the destination chain's block-time coordinate system.
type MatchedFill struct {
	Fill                Fill
	HubBlock            uint64
	DestinationAsOfTime time.Time
}

// BlockTimeTranslator converts between a chain's block numbers and wall-clock time, so
// a hub-chain block can be compared against a destination chain's block range.
type BlockTimeTranslator interface {
	BlockToTimestamp(ctx context.Context, chain tokenreg.ChainID, block uint64) (time.Time, error)
	LatestBlock(ctx context.Context, chain tokenreg.ChainID) (uint64, error)
}

// FillSource fetches destination-chain fills within an inclusive block range.
type FillSource interface {
	FillsInRange(ctx context.Context, chain tokenreg.ChainID, fromBlock, toBlock uint64) ([]Fill, error)
}

// BundleSource fetches hub-chain bundle inclusions within an inclusive block range.
type BundleSource interface {
	BundlesInRange(ctx context.Context, fromBlock, toBlock uint64) ([]BundleInclusion, error)
}

type Matcher struct {
	hubChain   tokenreg.ChainID
	translator BlockTimeTranslator
}

func New(hubChain tokenreg.ChainID, translator BlockTimeTranslator) (*Matcher, error) {
	if translator == nil {
		return nil, fmt.Errorf("%w: nil translator", ErrInvalidConfig)
	}
	if hubChain == 0 {
		return nil, fmt.Errorf("%w: missing hub chain", ErrInvalidConfig)
	}
	return &Matcher{hubChain: hubChain, translator: translator}, nil
}

// Match joins fills against bundle inclusions by message hash. Zero-value fills (no
// economic content, e.g. message-only relays with OutputAmount == 0) are dropped
// before the join so they never produce a spurious finalization record. A fill with no
// matching bundle inclusion, or vice versa, is simply absent from the result: finality
// for that fill has not yet occurred.
func (m *Matcher) Match(ctx context.Context, fills []Fill, bundles []BundleInclusion) ([]MatchedFill, error) {
	byHash := make(map[MessageHash]BundleInclusion, len(bundles))
	for _, b := range bundles {
		byHash[b.MessageHash] = b
	}

	var out []MatchedFill
	for _, f := range fills {
		if f.OutputAmount == nil || f.OutputAmount.Sign() == 0 {
			continue
		}
		bundle, ok := byHash[f.MessageHash]
		if !ok {
			continue
		}
		ts, err := m.translator.BlockToTimestamp(ctx, m.hubChain, bundle.HubBlock)
		if err != nil {
			return nil, fmt.Errorf("bridgematch: block to timestamp: %w", err)
		}
		out = append(out, MatchedFill{Fill: f, HubBlock: bundle.HubBlock, DestinationAsOfTime: ts})
	}
	return out, nil
}

// TranslateRange converts a destination-chain block range into the corresponding
// hub-chain block range: it looks up the wall-clock time at destFromBlock and
// destToBlock, then binary-searches the hub chain for the blocks whose own
// timestamps bracket that interval.
func (m *Matcher) TranslateRange(ctx context.Context, destination tokenreg.ChainID, destFromBlock, destToBlock uint64) (hubFromBlock, hubToBlock uint64, err error) {
	fromTs, err := m.translator.BlockToTimestamp(ctx, destination, destFromBlock)
	if err != nil {
		return 0, 0, fmt.Errorf("bridgematch: destination from-block timestamp: %w", err)
	}
	toTs, err := m.translator.BlockToTimestamp(ctx, destination, destToBlock)
	if err != nil {
		return 0, 0, fmt.Errorf("bridgematch: destination to-block timestamp: %w", err)
	}

	latest, err := m.translator.LatestBlock(ctx, m.hubChain)
	if err != nil {
		return 0, 0, fmt.Errorf("bridgematch: hub latest block: %w", err)
	}

	hubFromBlock, err = m.binarySearchAtOrAfter(ctx, fromTs, latest)
	if err != nil {
		return 0, 0, err
	}
	hubToBlock, err = m.binarySearchAtOrBefore(ctx, toTs, latest)
	if err != nil {
		return 0, 0, err
	}
	if hubToBlock < hubFromBlock {
		hubToBlock = hubFromBlock
	}
	return hubFromBlock, hubToBlock, nil
}

// binarySearchAtOrAfter returns the lowest hub-chain block in [0, latest] whose
// timestamp is >= ts.
func (m *Matcher) binarySearchAtOrAfter(ctx context.Context, ts time.Time, latest uint64) (uint64, error) {
	lo, hi := uint64(0), latest
	for lo < hi {
		mid := lo + (hi-lo)/2
		midTs, err := m.translator.BlockToTimestamp(ctx, m.hubChain, mid)
		if err != nil {
			return 0, fmt.Errorf("bridgematch: hub block %d timestamp: %w", mid, err)
		}
		if midTs.Before(ts) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// binarySearchAtOrBefore returns the highest hub-chain block in [0, latest] whose
// timestamp is <= ts.
func (m *Matcher) binarySearchAtOrBefore(ctx context.Context, ts time.Time, latest uint64) (uint64, error) {
	lo, hi := uint64(0), latest
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		midTs, err := m.translator.BlockToTimestamp(ctx, m.hubChain, mid)
		if err != nil {
			return 0, fmt.Errorf("bridgematch: hub block %d timestamp: %w", mid, err)
		}
		if midTs.After(ts) {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	return lo, nil
}

// MatchRange runs the full bridge-finalization pipeline for a destination-chain block
// range: it translates the range into the hub chain's coordinate system via
// TranslateRange, fetches fills and bundle inclusions scoped to their respective
// ranges, and inner-joins them by message hash via Match.
func (m *Matcher) MatchRange(ctx context.Context, destination tokenreg.ChainID, destFromBlock, destToBlock uint64, fills FillSource, bundles BundleSource) ([]MatchedFill, error) {
	hubFromBlock, hubToBlock, err := m.TranslateRange(ctx, destination, destFromBlock, destToBlock)
	if err != nil {
		return nil, err
	}
	destFills, err := fills.FillsInRange(ctx, destination, destFromBlock, destToBlock)
	if err != nil {
		return nil, fmt.Errorf("bridgematch: fetch fills: %w", err)
	}
	hubBundles, err := bundles.BundlesInRange(ctx, hubFromBlock, hubToBlock)
	if err != nil {
		return nil, fmt.Errorf("bridgematch: fetch bundle inclusions: %w", err)
	}
	return m.Match(ctx, destFills, hubBundles)
}
