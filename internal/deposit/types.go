// Package deposit defines the immutable cross-chain deposit record that the profit
// and repayment engines evaluate, along with its validation.
package deposit

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/xrelayer/relayer-core/internal/chainaddr"
	"github.com/xrelayer/relayer-core/internal/tokenreg"
)

var ErrInvalidDeposit = errors.New("deposit: invalid deposit")

// Deposit is the immutable record originated on one chain and destined to be filled
// on another.
type Deposit struct {
	DepositID   *big.Int
	Origin      tokenreg.ChainID
	Destination tokenreg.ChainID

	InputToken  chainaddr.Address
	InputAmount *big.Int

	OutputToken  chainaddr.Address
	OutputAmount *big.Int

	// UpdatedOutputAmount, when present, supersedes OutputAmount (speed-up or
	// slow-relay update). nil means "not present".
	UpdatedOutputAmount *big.Int

	Message []byte

	FillDeadline        time.Time
	ExclusivityDeadline time.Time
	ExclusiveRelayer    chainaddr.Address

	// FromLiteChain forces repayment on Origin.
	FromLiteChain bool
	// ToLiteChain alters repayment chain preference; see internal/repayment.
	ToLiteChain bool

	Depositor chainaddr.Address
	Recipient chainaddr.Address

	QuoteTimestamp time.Time
}

// EffectiveOutputAmount returns min(OutputAmount, UpdatedOutputAmount) when the
// latter is present, otherwise OutputAmount.
func (d Deposit) EffectiveOutputAmount() *big.Int {
	if d.UpdatedOutputAmount == nil {
		return d.OutputAmount
	}
	if d.UpdatedOutputAmount.Cmp(d.OutputAmount) < 0 {
		return d.UpdatedOutputAmount
	}
	return d.OutputAmount
}

// HasMessage reports whether the deposit carries an arbitrary-execution message.
// Messageless fills use cached gas costs (see internal/gasestimator); message-carrying
// fills require per-call simulation.
func (d Deposit) HasMessage() bool {
	return len(d.Message) > 0
}

// Validate performs the structural checks that do not require price or balance data:
// the unknown -> validated transition of the fill decision state machine. It does not
// check output-token equivalence; that is a routing concern owned by internal/repayment.
func (d Deposit) Validate() error {
	if d.DepositID == nil || d.DepositID.Sign() < 0 {
		return fmt.Errorf("%w: depositId must be non-negative", ErrInvalidDeposit)
	}
	if d.Origin == 0 || d.Destination == 0 {
		return fmt.Errorf("%w: origin and destination chain ids are required", ErrInvalidDeposit)
	}
	if d.Origin == d.Destination {
		return fmt.Errorf("%w: origin and destination must differ", ErrInvalidDeposit)
	}
	if d.InputToken.IsZero() || d.OutputToken.IsZero() {
		return fmt.Errorf("%w: inputToken and outputToken are required", ErrInvalidDeposit)
	}
	if d.InputAmount == nil || d.InputAmount.Sign() <= 0 {
		return fmt.Errorf("%w: inputAmount must be > 0", ErrInvalidDeposit)
	}
	if d.OutputAmount == nil || d.OutputAmount.Sign() < 0 {
		return fmt.Errorf("%w: outputAmount must be >= 0", ErrInvalidDeposit)
	}
	if d.UpdatedOutputAmount != nil && d.UpdatedOutputAmount.Sign() < 0 {
		return fmt.Errorf("%w: updatedOutputAmount must be >= 0 when present", ErrInvalidDeposit)
	}
	if d.Depositor.IsZero() || d.Recipient.IsZero() {
		return fmt.Errorf("%w: depositor and recipient are required", ErrInvalidDeposit)
	}
	return nil
}
